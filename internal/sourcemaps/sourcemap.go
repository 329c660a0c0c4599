// Package sourcemaps implements a source map v3 consumer with bias-aware
// bidirectional position lookup.
//
// Both flat and indexed ("sections") maps are supported. Positions are
// 0-based on both the generated and original side, matching the mappings
// encoding and the CDP coordinate space; callers working in 1-based UI
// coordinates convert at their boundary.
package sourcemaps

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
)

// Bias selects the tie-breaking rule when a requested position falls
// between two mapped entries.
type Bias int

const (
	// GreatestLowerBound returns the closest entry at or before the
	// requested position.
	GreatestLowerBound Bias = iota
	// LeastUpperBound returns the closest entry at or after the
	// requested position.
	LeastUpperBound
)

// Position is a resolved lookup result. An empty Source means the
// position did not map (the null sentinel: Line and Column are -1).
type Position struct {
	Source     string
	Line       int
	Column     int
	Name       string
	LastColumn int
}

// NullPosition is returned by lookups that found no mapping.
var NullPosition = Position{Line: -1, Column: -1, LastColumn: -1}

// mappingEntry is one decoded segment of the mappings field.
type mappingEntry struct {
	genLine int
	genCol  int
	srcIdx  int // -1 when the segment carries no source
	srcLine int
	srcCol  int
	nameIdx int // -1 when the segment carries no name
}

// SourceMap is a parsed, immutable source map.
type SourceMap struct {
	url        string
	file       string
	sourceRoot string
	sources    []string // as declared in the map
	resolved   []string // resolved against sourceRoot and the map URL
	contents   []*string
	names      []string

	// mappings holds only sourced segments, sorted by generated position.
	mappings []mappingEntry
	// reverse maps source index to mapping indices sorted by original position.
	reverse map[int][]int
}

// sourceMapJSON is the wire form, including indexed-map sections.
type sourceMapJSON struct {
	Version        int       `json:"version"`
	File           string    `json:"file"`
	SourceRoot     string    `json:"sourceRoot"`
	Sources        []string  `json:"sources"`
	SourcesContent []*string `json:"sourcesContent"`
	Names          []string  `json:"names"`
	Mappings       string    `json:"mappings"`
	Sections       []section `json:"sections"`
}

type section struct {
	Offset struct {
		Line   int `json:"line"`
		Column int `json:"column"`
	} `json:"offset"`
	Map *sourceMapJSON `json:"map"`
}

// Parse decodes a source map payload. mapURL is the URL the map was
// loaded from and anchors relative source paths.
func Parse(mapURL string, data []byte) (*SourceMap, error) {
	var raw sourceMapJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("malformed source map: %w", err)
	}
	if raw.Version != 3 && raw.Version != 0 {
		return nil, fmt.Errorf("unsupported source map version %d", raw.Version)
	}

	m := &SourceMap{
		url:     mapURL,
		file:    raw.File,
		reverse: make(map[int][]int),
	}

	if len(raw.Sections) > 0 {
		for _, sec := range raw.Sections {
			if sec.Map == nil {
				continue
			}
			if err := m.appendMap(sec.Map, sec.Offset.Line, sec.Offset.Column); err != nil {
				return nil, err
			}
		}
	} else {
		if err := m.appendMap(&raw, 0, 0); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(m.mappings, func(i, j int) bool {
		return lessGenerated(m.mappings[i], m.mappings[j])
	})
	m.buildReverse()
	return m, nil
}

// appendMap decodes one flat map into the combined mapping list,
// shifting generated positions by the section offset.
func (m *SourceMap) appendMap(raw *sourceMapJSON, lineOffset, colOffset int) error {
	srcBase := len(m.sources)
	nameBase := len(m.names)

	m.sourceRoot = raw.SourceRoot
	for i, src := range raw.Sources {
		m.sources = append(m.sources, src)
		m.resolved = append(m.resolved, resolveSourceURL(m.url, raw.SourceRoot, src))
		if i < len(raw.SourcesContent) {
			m.contents = append(m.contents, raw.SourcesContent[i])
		} else {
			m.contents = append(m.contents, nil)
		}
	}
	m.names = append(m.names, raw.Names...)

	genLine := lineOffset
	genCol := colOffset
	srcIdx, srcLine, srcCol, nameIdx := 0, 0, 0, 0

	pos := 0
	s := raw.Mappings
	for pos < len(s) {
		switch s[pos] {
		case ';':
			genLine++
			// The section column offset only shifts its first line.
			genCol = 0
			pos++
			continue
		case ',':
			pos++
			continue
		}

		var v int
		var err error
		v, pos, err = decodeVLQ(s, pos)
		if err != nil {
			return fmt.Errorf("bad mappings at offset %d: %w", pos, err)
		}
		genCol += v

		entry := mappingEntry{genLine: genLine, genCol: genCol, srcIdx: -1, nameIdx: -1}
		if pos < len(s) && s[pos] != ',' && s[pos] != ';' {
			v, pos, err = decodeVLQ(s, pos)
			if err != nil {
				return fmt.Errorf("bad mappings at offset %d: %w", pos, err)
			}
			srcIdx += v
			v, pos, err = decodeVLQ(s, pos)
			if err != nil {
				return fmt.Errorf("bad mappings at offset %d: %w", pos, err)
			}
			srcLine += v
			v, pos, err = decodeVLQ(s, pos)
			if err != nil {
				return fmt.Errorf("bad mappings at offset %d: %w", pos, err)
			}
			srcCol += v

			if srcIdx < 0 || srcIdx >= len(raw.Sources) {
				return fmt.Errorf("mapping references source %d of %d", srcIdx, len(raw.Sources))
			}
			entry.srcIdx = srcBase + srcIdx
			entry.srcLine = srcLine
			entry.srcCol = srcCol

			if pos < len(s) && s[pos] != ',' && s[pos] != ';' {
				v, pos, err = decodeVLQ(s, pos)
				if err != nil {
					return fmt.Errorf("bad mappings at offset %d: %w", pos, err)
				}
				nameIdx += v
				if nameIdx >= 0 && nameIdx < len(raw.Names) {
					entry.nameIdx = nameBase + nameIdx
				}
			}
		}

		// Unsourced segments cannot answer either lookup direction.
		if entry.srcIdx >= 0 {
			m.mappings = append(m.mappings, entry)
		}
	}
	return nil
}

func (m *SourceMap) buildReverse() {
	for i, e := range m.mappings {
		m.reverse[e.srcIdx] = append(m.reverse[e.srcIdx], i)
	}
	for idx, list := range m.reverse {
		sort.SliceStable(list, func(i, j int) bool {
			a, b := m.mappings[list[i]], m.mappings[list[j]]
			if a.srcLine != b.srcLine {
				return a.srcLine < b.srcLine
			}
			return a.srcCol < b.srcCol
		})
		m.reverse[idx] = list
	}
}

func lessGenerated(a, b mappingEntry) bool {
	if a.genLine != b.genLine {
		return a.genLine < b.genLine
	}
	return a.genCol < b.genCol
}

// URL returns the URL the map was loaded from.
func (m *SourceMap) URL() string { return m.url }

// Sources returns the resolved URLs of the declared original sources.
func (m *SourceMap) Sources() []string {
	return append([]string(nil), m.resolved...)
}

// DeclaredSources returns the source paths exactly as written in the map.
func (m *SourceMap) DeclaredSources() []string {
	return append([]string(nil), m.sources...)
}

// SourceContent returns embedded content for a source URL (declared or
// resolved form) and whether the map embeds any.
func (m *SourceMap) SourceContent(sourceURL string) (string, bool) {
	idx := m.sourceIndex(sourceURL)
	if idx < 0 || m.contents[idx] == nil {
		return "", false
	}
	return *m.contents[idx], true
}

func (m *SourceMap) sourceIndex(sourceURL string) int {
	for i := range m.sources {
		if m.sources[i] == sourceURL || m.resolved[i] == sourceURL {
			return i
		}
	}
	return -1
}

// OriginalPositionFor maps a generated position to an original one with
// an explicit bias. A miss returns NullPosition.
func (m *SourceMap) OriginalPositionFor(genLine, genCol int, bias Bias) Position {
	idx := m.searchGenerated(genLine, genCol, bias)
	if idx < 0 {
		return NullPosition
	}
	return m.positionAt(idx)
}

// MappedPosition applies the GLB-then-LUB rule: query with greatest-
// lower-bound bias first and retry with least-upper-bound on a miss, so
// positions on blank or comment lines resolve to the nearest preceding
// mapped statement, else the nearest following one.
func (m *SourceMap) MappedPosition(genLine, genCol int) Position {
	p := m.OriginalPositionFor(genLine, genCol, GreatestLowerBound)
	if p.Source == "" {
		p = m.OriginalPositionFor(genLine, genCol, LeastUpperBound)
	}
	return p
}

// GeneratedPositionFor maps an original position back into the compiled
// source, GLB bias with an LUB retry.
func (m *SourceMap) GeneratedPositionFor(sourceURL string, srcLine, srcCol int) Position {
	idx := m.sourceIndex(sourceURL)
	if idx < 0 {
		return NullPosition
	}
	list := m.reverse[idx]
	if len(list) == 0 {
		return NullPosition
	}

	// Leftmost reverse entry at or after the requested original position.
	at := sort.Search(len(list), func(i int) bool {
		e := m.mappings[list[i]]
		if e.srcLine != srcLine {
			return e.srcLine > srcLine
		}
		return e.srcCol >= srcCol
	})

	// Exact-or-after wins (a breakpoint on a blank original line should
	// land on the next statement); fall back to the last earlier entry.
	var e mappingEntry
	if at < len(list) {
		e = m.mappings[list[at]]
	} else {
		e = m.mappings[list[len(list)-1]]
	}

	return Position{
		Source:     m.resolved[idx],
		Line:       e.genLine,
		Column:     e.genCol,
		LastColumn: m.lastColumn(e),
	}
}

// searchGenerated finds the mapping index for a generated position under
// the given bias, or -1.
func (m *SourceMap) searchGenerated(genLine, genCol int, bias Bias) int {
	n := len(m.mappings)
	if n == 0 {
		return -1
	}

	// First entry at or after (genLine, genCol).
	at := sort.Search(n, func(i int) bool {
		e := m.mappings[i]
		if e.genLine != genLine {
			return e.genLine > genLine
		}
		return e.genCol >= genCol
	})

	switch bias {
	case LeastUpperBound:
		if at == n {
			return -1
		}
		return at
	default:
		if at < n && m.mappings[at].genLine == genLine && m.mappings[at].genCol == genCol {
			return at
		}
		if at == 0 {
			return -1
		}
		return at - 1
	}
}

func (m *SourceMap) positionAt(idx int) Position {
	e := m.mappings[idx]
	p := Position{
		Source:     m.resolved[e.srcIdx],
		Line:       e.srcLine,
		Column:     e.srcCol,
		LastColumn: m.lastColumn(e),
	}
	if e.nameIdx >= 0 {
		p.Name = m.names[e.nameIdx]
	}
	return p
}

// lastColumn reports the generated column where a mapping's span ends,
// -1 when the span runs to the end of the line.
func (m *SourceMap) lastColumn(e mappingEntry) int {
	idx := sort.Search(len(m.mappings), func(i int) bool {
		return lessGenerated(e, m.mappings[i])
	})
	if idx < len(m.mappings) && m.mappings[idx].genLine == e.genLine {
		return m.mappings[idx].genCol - 1
	}
	return -1
}

// resolveSourceURL resolves a declared source against the map's
// sourceRoot and its own URL.
func resolveSourceURL(mapURL, sourceRoot, src string) string {
	if sourceRoot != "" && !strings.HasSuffix(sourceRoot, "/") {
		sourceRoot += "/"
	}
	combined := src
	if sourceRoot != "" && !isAbsoluteURL(src) && !path.IsAbs(src) {
		combined = sourceRoot + src
	}

	if isAbsoluteURL(combined) {
		return combined
	}
	base, err := url.Parse(mapURL)
	if err != nil || base.Scheme == "" {
		// The map URL is a plain path; resolve lexically.
		if path.IsAbs(combined) {
			return combined
		}
		return path.Join(path.Dir(mapURL), combined)
	}
	ref, err := url.Parse(combined)
	if err != nil {
		return combined
	}
	return base.ResolveReference(ref).String()
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != ""
}
