package sourcemaps

import (
	"testing"
)

// TestDecodeVLQ verifies single-value decoding, including signs and
// continuation groups.
func TestDecodeVLQ(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"A", 0},
		{"C", 1},
		{"D", -1},
		{"I", 4},
		{"M", 6},
		{"gB", 16},  // continuation: 100000 000001
		{"hB", -16},
	}

	for _, tc := range cases {
		got, next, err := decodeVLQ(tc.in, 0)
		if err != nil {
			t.Fatalf("decodeVLQ(%q) failed: %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("decodeVLQ(%q) = %d, want %d", tc.in, got, tc.want)
		}
		if next != len(tc.in) {
			t.Errorf("decodeVLQ(%q) consumed %d bytes, want %d", tc.in, next, len(tc.in))
		}
	}
}

// TestEncodeVLQRoundTrip verifies encode/decode round trips across a
// range of values.
func TestEncodeVLQRoundTrip(t *testing.T) {
	for _, v := range []int{0, 1, -1, 15, 16, -16, 31, 32, 1024, -99999, 1 << 20} {
		enc := encodeVLQ(nil, v)
		got, next, err := decodeVLQ(string(enc), 0)
		if err != nil {
			t.Fatalf("decode(encode(%d)) failed: %v", v, err)
		}
		if got != v || next != len(enc) {
			t.Errorf("round trip of %d: got %d (consumed %d of %d)", v, got, next, len(enc))
		}
	}
}

const basicMap = `{
	"version": 3,
	"file": "out.js",
	"sourceRoot": "",
	"sources": ["a.ts"],
	"names": [],
	"mappings": "AAAA,IAAM;AACA;AACA"
}`

func parseBasic(t *testing.T) *SourceMap {
	t.Helper()
	m, err := Parse("http://localhost/out.js.map", []byte(basicMap))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return m
}

// TestParseResolvesSources verifies source URL resolution against the
// map URL.
func TestParseResolvesSources(t *testing.T) {
	m := parseBasic(t)

	sources := m.Sources()
	if len(sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(sources))
	}
	if sources[0] != "http://localhost/a.ts" {
		t.Errorf("expected resolved source http://localhost/a.ts, got %s", sources[0])
	}
}

// TestParseSourceRoot verifies that sourceRoot participates in resolution.
func TestParseSourceRoot(t *testing.T) {
	data := `{"version":3,"sourceRoot":"webpack:///src","sources":["a.ts"],"names":[],"mappings":"AAAA"}`
	m, err := Parse("http://localhost/out.js.map", []byte(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := m.Sources()[0]; got != "webpack:///src/a.ts" {
		t.Errorf("expected webpack:///src/a.ts, got %s", got)
	}
}

// TestOriginalPositionBias verifies GLB first, LUB retry.
func TestOriginalPositionBias(t *testing.T) {
	m := parseBasic(t)

	// Exact hit.
	p := m.OriginalPositionFor(0, 4, GreatestLowerBound)
	if p.Source == "" || p.Line != 0 || p.Column != 6 {
		t.Fatalf("exact lookup: got %+v", p)
	}

	// Between two entries on line 0: GLB snaps back to column 0.
	p = m.OriginalPositionFor(0, 2, GreatestLowerBound)
	if p.Source == "" || p.Line != 0 || p.Column != 0 {
		t.Fatalf("GLB lookup: got %+v", p)
	}

	// Before the first entry: GLB misses, LUB finds the first entry.
	p = m.OriginalPositionFor(-1, 0, GreatestLowerBound)
	if p.Source != "" {
		t.Fatalf("expected GLB miss before first entry, got %+v", p)
	}
	p = m.MappedPosition(-1, 0)
	if p.Source == "" || p.Line != 0 {
		t.Fatalf("MappedPosition LUB retry: got %+v", p)
	}

	// Past the last entry: GLB snaps to the last mapped statement.
	p = m.MappedPosition(10, 0)
	if p.Source == "" || p.Line != 2 {
		t.Fatalf("MappedPosition past end: got %+v", p)
	}
}

// TestGeneratedPositionRoundTrip verifies the §8 monotonicity property:
// mapping an original position to generated and back lands on the same
// source at the same or an earlier line.
func TestGeneratedPositionRoundTrip(t *testing.T) {
	m := parseBasic(t)

	orig := m.MappedPosition(1, 0)
	if orig.Source == "" {
		t.Fatal("MappedPosition(1,0) found no mapping")
	}

	gen := m.GeneratedPositionFor(orig.Source, orig.Line, orig.Column)
	if gen.Source == "" {
		t.Fatal("GeneratedPositionFor found no mapping")
	}

	back := m.MappedPosition(gen.Line, gen.Column)
	if back.Source != orig.Source {
		t.Errorf("round trip changed source: %s -> %s", orig.Source, back.Source)
	}
	if back.Line > orig.Line {
		t.Errorf("round trip moved original line forward: %d -> %d", orig.Line, back.Line)
	}
}

// TestGeneratedPositionBlankLine verifies that a breakpoint requested on
// an unmapped original line snaps to the next mapped statement.
func TestGeneratedPositionBlankLine(t *testing.T) {
	// a.ts line 1 exists; line 0 column 3 falls between entries.
	m := parseBasic(t)

	p := m.GeneratedPositionFor("http://localhost/a.ts", 0, 3)
	if p.Source == "" {
		t.Fatal("expected a generated position")
	}
	if p.Line != 0 || p.Column != 4 {
		t.Errorf("expected snap forward to gen(0,4), got gen(%d,%d)", p.Line, p.Column)
	}
}

// TestGeneratedPositionUnknownSource verifies the null sentinel for a
// source the map does not declare.
func TestGeneratedPositionUnknownSource(t *testing.T) {
	m := parseBasic(t)

	p := m.GeneratedPositionFor("http://localhost/other.ts", 0, 0)
	if p.Source != "" || p.Line != -1 {
		t.Errorf("expected NullPosition, got %+v", p)
	}
}

// TestIndexedMap verifies sectioned maps with offsets.
func TestIndexedMap(t *testing.T) {
	data := `{
		"version": 3,
		"sections": [
			{"offset": {"line": 0, "column": 0},
			 "map": {"version":3,"sources":["a.ts"],"names":[],"mappings":"AAAA"}},
			{"offset": {"line": 10, "column": 0},
			 "map": {"version":3,"sources":["b.ts"],"names":[],"mappings":"AAAA;AACA"}}
		]
	}`
	m, err := Parse("http://localhost/bundle.js.map", []byte(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if got := len(m.Sources()); got != 2 {
		t.Fatalf("expected 2 sources, got %d", got)
	}

	p := m.MappedPosition(0, 0)
	if p.Source != "http://localhost/a.ts" {
		t.Errorf("line 0 should map into a.ts, got %+v", p)
	}

	p = m.MappedPosition(11, 0)
	if p.Source != "http://localhost/b.ts" || p.Line != 1 {
		t.Errorf("line 11 should map into b.ts line 1, got %+v", p)
	}
}

// TestParseMalformed verifies the parse error path.
func TestParseMalformed(t *testing.T) {
	if _, err := Parse("m.map", []byte("{not json")); err == nil {
		t.Error("expected error for malformed JSON")
	}
	if _, err := Parse("m.map", []byte(`{"version":99,"mappings":""}`)); err == nil {
		t.Error("expected error for unsupported version")
	}
	if _, err := Parse("m.map", []byte(`{"version":3,"sources":["a"],"mappings":"AA!A"}`)); err == nil {
		t.Error("expected error for invalid VLQ characters")
	}
}

// TestSourceContent verifies embedded content retrieval.
func TestSourceContent(t *testing.T) {
	data := `{"version":3,"sources":["a.ts"],"sourcesContent":["let x = 1;"],"names":[],"mappings":"AAAA"}`
	m, err := Parse("http://localhost/out.js.map", []byte(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	content, ok := m.SourceContent("http://localhost/a.ts")
	if !ok || content != "let x = 1;" {
		t.Errorf("SourceContent = %q, %v", content, ok)
	}
	if _, ok := m.SourceContent("missing.ts"); ok {
		t.Error("expected no content for undeclared source")
	}
}

// TestFromPairsAndMarshal verifies synthetic map construction and the
// wire-form round trip.
func TestFromPairsAndMarshal(t *testing.T) {
	pairs := []MappingPair{
		{GenLine: 0, GenCol: 0, SrcLine: 0, SrcCol: 0},
		{GenLine: 1, GenCol: 2, SrcLine: 0, SrcCol: 10},
		{GenLine: 2, GenCol: 0, SrcLine: 0, SrcCol: 25},
	}
	m := FromPairs("pretty://out.js.map", "out.js", pairs, "minified")

	p := m.MappedPosition(1, 2)
	if p.Source != "out.js" || p.Column != 10 {
		t.Fatalf("synthetic lookup: got %+v", p)
	}

	data, err := m.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	back, err := Parse("pretty://out.js.map", data)
	if err != nil {
		t.Fatalf("re-Parse failed: %v", err)
	}
	q := back.MappedPosition(1, 2)
	if q.Source != p.Source || q.Line != p.Line || q.Column != p.Column {
		t.Errorf("wire round trip changed lookup: %+v vs %+v", p, q)
	}
	if content, ok := back.SourceContent("out.js"); !ok || content != "minified" {
		t.Errorf("wire round trip lost content: %q, %v", content, ok)
	}
}
