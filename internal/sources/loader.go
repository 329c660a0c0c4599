package sources

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Loader fetches source map payloads and source file contents. The
// registry never touches the network or disk directly so tests can
// substitute an in-memory implementation.
type Loader interface {
	// LoadSourceMap fetches the bytes of a map. The URL may be a data:
	// URI (inline map), a file path/URL, or an http(s) URL.
	LoadSourceMap(ctx context.Context, mapURL string) ([]byte, error)

	// LoadFile fetches the text of a source by URL or path.
	LoadFile(ctx context.Context, fileURL string) (string, error)
}

// FSLoader loads from disk and over HTTP.
type FSLoader struct {
	client *http.Client
}

// NewFSLoader creates a loader with a bounded HTTP client.
func NewFSLoader() *FSLoader {
	return &FSLoader{client: &http.Client{Timeout: 10 * time.Second}}
}

// LoadSourceMap implements Loader.
func (l *FSLoader) LoadSourceMap(ctx context.Context, mapURL string) ([]byte, error) {
	if strings.HasPrefix(mapURL, "data:") {
		return decodeDataURI(mapURL)
	}
	content, err := l.LoadFile(ctx, mapURL)
	if err != nil {
		return nil, err
	}
	return []byte(content), nil
}

// LoadFile implements Loader.
func (l *FSLoader) LoadFile(ctx context.Context, fileURL string) (string, error) {
	switch {
	case strings.HasPrefix(fileURL, "file://"):
		p, err := fileURLToPath(fileURL)
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return "", err
		}
		return string(data), nil

	case strings.HasPrefix(fileURL, "http://") || strings.HasPrefix(fileURL, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
		if err != nil {
			return "", err
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("GET %s: status %d", fileURL, resp.StatusCode)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", err
		}
		return string(data), nil

	default:
		// Treat anything else as a plain path.
		data, err := os.ReadFile(fileURL)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// decodeDataURI extracts the payload of a data: URI, base64 or percent
// encoded.
func decodeDataURI(uri string) ([]byte, error) {
	comma := strings.IndexByte(uri, ',')
	if comma < 0 {
		return nil, fmt.Errorf("malformed data URI")
	}
	meta, payload := uri[5:comma], uri[comma+1:]
	if strings.HasSuffix(meta, ";base64") {
		return base64.StdEncoding.DecodeString(payload)
	}
	decoded, err := url.QueryUnescape(payload)
	if err != nil {
		return nil, err
	}
	return []byte(decoded), nil
}

func fileURLToPath(fileURL string) (string, error) {
	u, err := url.Parse(fileURL)
	if err != nil {
		return "", err
	}
	p := u.Path
	// Windows drive letters arrive as /C:/...
	if len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.FromSlash(p), nil
}

// PathResolver translates between runtime URLs and workspace paths.
type PathResolver interface {
	// URLToAbsolutePath resolves a script or source URL to a local
	// path, empty when the URL has no disk presence.
	URLToAbsolutePath(sourceURL string) string

	// AbsolutePathToURL converts a local path to the URL form the
	// runtime uses for it.
	AbsolutePathToURL(path string) string
}

// LocalResolver resolves file URLs and bundler-style override patterns
// against a workspace root.
type LocalResolver struct {
	WorkspaceRoot string
	// PathOverrides rewrites URL prefixes, longest pattern first. A
	// trailing "*" in pattern and replacement carries the tail over:
	// "webpack:///./*" -> "<root>/*".
	PathOverrides map[string]string
}

// URLToAbsolutePath implements PathResolver.
func (r *LocalResolver) URLToAbsolutePath(sourceURL string) string {
	if sourceURL == "" {
		return ""
	}
	if strings.HasPrefix(sourceURL, "file://") {
		p, err := fileURLToPath(sourceURL)
		if err != nil {
			return ""
		}
		return p
	}

	// Query strings and fragments never change which file an http URL
	// names; strip them so cache-busted variants collapse to one path.
	if strings.HasPrefix(sourceURL, "http://") || strings.HasPrefix(sourceURL, "https://") {
		if i := strings.IndexAny(sourceURL, "?#"); i >= 0 {
			sourceURL = sourceURL[:i]
		}
	}

	for pattern, replacement := range r.PathOverrides {
		prefix, ok := strings.CutSuffix(pattern, "*")
		if !ok || !strings.HasPrefix(sourceURL, prefix) {
			continue
		}
		tail := strings.TrimPrefix(sourceURL, prefix)
		target := strings.ReplaceAll(replacement, "${workspaceRoot}", r.WorkspaceRoot)
		if head, ok := strings.CutSuffix(target, "*"); ok {
			target = head + tail
		}
		return filepath.Clean(target)
	}

	if filepath.IsAbs(sourceURL) {
		return filepath.Clean(sourceURL)
	}
	return ""
}

// AbsolutePathToURL implements PathResolver.
func (r *LocalResolver) AbsolutePathToURL(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}
