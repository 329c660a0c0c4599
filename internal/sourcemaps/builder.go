package sourcemaps

import (
	"bytes"
	"encoding/json"
	"sort"
)

// MappingPair relates one generated position to one original position,
// 0-based on both sides.
type MappingPair struct {
	GenLine int
	GenCol  int
	SrcLine int
	SrcCol  int
}

// FromPairs builds a synthetic single-source map, as produced by the
// pretty printer. content, when non-empty, is embedded as the source's
// inline content.
func FromPairs(mapURL, sourceURL string, pairs []MappingPair, content string) *SourceMap {
	m := &SourceMap{
		url:      mapURL,
		sources:  []string{sourceURL},
		resolved: []string{sourceURL},
		reverse:  make(map[int][]int),
	}
	if content != "" {
		m.contents = []*string{&content}
	} else {
		m.contents = []*string{nil}
	}

	for _, p := range pairs {
		m.mappings = append(m.mappings, mappingEntry{
			genLine: p.GenLine,
			genCol:  p.GenCol,
			srcIdx:  0,
			srcLine: p.SrcLine,
			srcCol:  p.SrcCol,
			nameIdx: -1,
		})
	}
	sort.SliceStable(m.mappings, func(i, j int) bool {
		return lessGenerated(m.mappings[i], m.mappings[j])
	})
	m.buildReverse()
	return m
}

// MarshalJSON serializes the map back to source map v3 wire form.
func (m *SourceMap) MarshalJSON() ([]byte, error) {
	out := sourceMapJSON{
		Version:  3,
		File:     m.file,
		Sources:  m.sources,
		Names:    m.names,
		Mappings: m.encodeMappings(),
	}
	for _, c := range m.contents {
		out.SourcesContent = append(out.SourcesContent, c)
	}
	return json.Marshal(out)
}

// encodeMappings emits the VLQ mappings field from the decoded entries.
func (m *SourceMap) encodeMappings() string {
	var buf bytes.Buffer
	var scratch []byte

	line := 0
	prevGenCol := 0
	prevSrcIdx, prevSrcLine, prevSrcCol, prevNameIdx := 0, 0, 0, 0
	firstOnLine := true

	for _, e := range m.mappings {
		for line < e.genLine {
			buf.WriteByte(';')
			line++
			prevGenCol = 0
			firstOnLine = true
		}
		if !firstOnLine {
			buf.WriteByte(',')
		}
		firstOnLine = false

		scratch = encodeVLQ(scratch[:0], e.genCol-prevGenCol)
		prevGenCol = e.genCol
		scratch = encodeVLQ(scratch, e.srcIdx-prevSrcIdx)
		prevSrcIdx = e.srcIdx
		scratch = encodeVLQ(scratch, e.srcLine-prevSrcLine)
		prevSrcLine = e.srcLine
		scratch = encodeVLQ(scratch, e.srcCol-prevSrcCol)
		prevSrcCol = e.srcCol
		if e.nameIdx >= 0 {
			scratch = encodeVLQ(scratch, e.nameIdx-prevNameIdx)
			prevNameIdx = e.nameIdx
		}
		buf.Write(scratch)
	}
	return buf.String()
}
