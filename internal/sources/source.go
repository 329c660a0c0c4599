// Package sources implements the source registry: the authoritative
// mapping between DAP source references and Source entities, the lazy
// construction of source-mapped sources, and location translation
// between compiled and original coordinates.
package sources

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/jsdap/jsdap/pkg/types"
)

// maxSourceReference is the largest reference DAP allows.
const maxSourceReference = 1<<31 - 1

// referenceProbeCap bounds the linear probe when allocating references.
// Exhausting it is a degenerate last-resort path, not expected in
// practice.
const referenceProbeCap = 100000

// ContentGetter lazily retrieves the text of a source.
type ContentGetter func(ctx context.Context) (string, error)

// Offset shifts script coordinates for sources embedded in a host
// document or wrapped in a runtime prologue. 0-based.
type Offset struct {
	Line   int
	Column int
}

// Source is a text artifact visible to the client: either a compiled
// script reported by the runtime or an original source materialized
// from a source map.
type Source struct {
	reference    int
	url          string
	absolutePath string
	sourceMapURL string
	scriptOffset Offset
	contentHash  string
	origin       string
	fromMap      bool

	getContent ContentGetter
	once       sync.Once
	content    string
	contentErr error
}

// Reference returns the allocated source reference.
func (s *Source) Reference() int { return s.reference }

// URL returns the source URL as reported by the runtime or declared by
// a map.
func (s *Source) URL() string { return s.url }

// AbsolutePath returns the resolved local path, empty when the source
// has no disk presence.
func (s *Source) AbsolutePath() string { return s.absolutePath }

// SourceMapURL returns the attached map URL, empty for unmapped and
// source-mapped sources.
func (s *Source) SourceMapURL() string { return s.sourceMapURL }

// FromMap reports whether this source was materialized from a map.
func (s *Source) FromMap() bool { return s.fromMap }

// ScriptOffset returns the inline-script offset.
func (s *Source) ScriptOffset() Offset { return s.scriptOffset }

// Content retrieves and memoizes the source text.
func (s *Source) Content(ctx context.Context) (string, error) {
	s.once.Do(func() {
		if s.getContent == nil {
			return
		}
		s.content, s.contentErr = s.getContent(ctx)
	})
	return s.content, s.contentErr
}

// Name returns a short display name for the source.
func (s *Source) Name() string {
	if s.absolutePath != "" {
		return path.Base(slashPath(s.absolutePath))
	}
	if u := s.url; u != "" {
		trimmed := strings.TrimSuffix(u, "/")
		if i := strings.LastIndexByte(trimmed, '/'); i >= 0 && i+1 < len(trimmed) {
			return trimmed[i+1:]
		}
		return u
	}
	return "<eval>"
}

// slashPath normalizes windows separators for display.
func slashPath(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// existsOnDisk reports whether the absolute path currently resolves to
// a regular file.
func (s *Source) existsOnDisk() bool {
	if s.absolutePath == "" {
		return false
	}
	info, err := os.Stat(s.absolutePath)
	return err == nil && info.Mode().IsRegular()
}

// Descriptor converts the source to its protocol form. A source that
// exists on disk is always normalized to reference 0 so the client
// reads the file directly.
func (s *Source) Descriptor() types.SourceDescriptor {
	d := types.SourceDescriptor{
		Name:   s.Name(),
		Path:   s.absolutePath,
		Origin: s.origin,
	}
	if d.Path == "" {
		d.Path = s.url
	}
	if !s.existsOnDisk() {
		d.SourceReference = s.reference
	}
	if s.fromMap {
		d.Origin = "source map"
	}
	return d
}

// UILocation is a 1-based position in a source.
type UILocation struct {
	Source *Source
	Line   int
	Column int
}

// PreferredUILocation is the deepest location reachable through loaded
// source maps, plus whether any mapping was applied.
type PreferredUILocation struct {
	UILocation
	IsMapped       bool
	UnmappedReason types.UnmappedReason
}

// hashReference derives the deterministic starting reference for a URL:
// the first 4 bytes of a SHA-256 digest as a signed 32-bit value,
// absolute. The same file reliably hashes to the same reference, which
// gives breakpoints a stable chance of surviving reloads.
func hashReference(url string) int {
	sum := sha256.Sum256([]byte(url))
	v := int64(int32(binary.BigEndian.Uint32(sum[:4])))
	if v < 0 {
		v = -v
	}
	v %= maxSourceReference
	if v == 0 {
		v = 1
	}
	return int(v)
}
