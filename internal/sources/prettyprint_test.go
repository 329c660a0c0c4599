package sources

import (
	"context"
	"strings"
	"testing"
)

const minified = "var a=1;function f(){return a}"

func TestCanPrettyPrint(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()

	long := strings.Repeat("x;", 150)
	minifiedSrc := r.AddSource(ctx, "http://localhost/min.js", staticContent(long), AddSourceOptions{})
	if !r.CanPrettyPrint(ctx, minifiedSrc) {
		t.Error("single long line should qualify as minified")
	}

	readable := r.AddSource(ctx, "http://localhost/readable.js", staticContent("var a = 1;\nvar b = 2;\n"), AddSourceOptions{})
	if r.CanPrettyPrint(ctx, readable) {
		t.Error("short multi-line source should not qualify")
	}
}

func TestPrettyPrintIdempotent(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()

	src := r.AddSource(ctx, "http://localhost/min.js", staticContent(minified), AddSourceOptions{})

	first, err := r.PrettyPrint(ctx, src)
	if err != nil {
		t.Fatalf("PrettyPrint failed: %v", err)
	}
	second, err := r.PrettyPrint(ctx, src)
	if err != nil {
		t.Fatalf("second PrettyPrint failed: %v", err)
	}
	if first != second {
		t.Error("repeated pretty print should return the existing result")
	}

	if !first.Source.FromMap() {
		t.Error("formatted source should be map-derived")
	}
	content, err := first.Source.Content(ctx)
	if err != nil {
		t.Fatalf("formatted content unavailable: %v", err)
	}
	if !strings.Contains(content, "\n") {
		t.Errorf("formatted content not reindented: %q", content)
	}
}

func TestPrettyPrintLocationRoundTrip(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()

	src := r.AddSource(ctx, "http://localhost/min.js", staticContent(minified), AddSourceOptions{})
	res, err := r.PrettyPrint(ctx, src)
	if err != nil {
		t.Fatalf("PrettyPrint failed: %v", err)
	}

	// "function" starts at minified column 9 (1-based) and lands on its
	// own formatted line.
	pref := r.PreferredUILocation(ctx, UILocation{Source: src, Line: 1, Column: 9})
	if !pref.IsMapped {
		t.Fatalf("expected mapped location, got reason %v", pref.UnmappedReason)
	}
	if pref.Source != res.Source {
		t.Errorf("mapped into %s, want the formatted source", pref.Source.URL())
	}
	if pref.Line <= 1 {
		t.Errorf("expected a later formatted line, got %d", pref.Line)
	}

	// And back out: the formatted line resolves to a minified position.
	sibs := r.CurrentSiblingUILocations(UILocation{Source: res.Source, Line: pref.Line, Column: pref.Column}, src)
	if len(sibs) == 0 {
		t.Fatal("no sibling location in the minified source")
	}
	if sibs[0].Line != 1 {
		t.Errorf("expected minified line 1, got %d", sibs[0].Line)
	}
}

func TestPrettyPrintSupersedesExistingMap(t *testing.T) {
	loader := newFakeLoader()
	loader.maps["http://localhost/min.js.map"] = []byte(twoLineMap)
	r := newTestRegistry(t, loader)
	ctx := context.Background()

	src := r.AddSource(ctx, "http://localhost/min.js", staticContent(minified), AddSourceOptions{SourceMapURL: "min.js.map"})
	waitForMap(t, r, src)
	if r.MappedSourceForURL("http://localhost/a.ts") == nil {
		t.Fatal("original map did not materialize")
	}

	if _, err := r.PrettyPrint(ctx, src); err != nil {
		t.Fatalf("PrettyPrint failed: %v", err)
	}

	if r.MappedSourceForURL("http://localhost/a.ts") != nil {
		t.Error("superseded map's sources should be destroyed")
	}
	if r.MappedSourceForURL("http://localhost/min.js-pretty.js") == nil {
		t.Error("formatted source not registered")
	}
	if md := r.MapForSource(src); md == nil || md.Map() == nil {
		t.Error("synthetic map not attached to the source")
	}
}

func TestFormatJSStructure(t *testing.T) {
	formatted, pairs := formatJS(minified)

	want := "var a=1;\nfunction f(){\n  return a\n}\n"
	if formatted != want {
		t.Errorf("formatJS output:\n%q\nwant:\n%q", formatted, want)
	}
	if len(pairs) == 0 {
		t.Fatal("no mapping pairs emitted")
	}
	for _, p := range pairs {
		if p.GenLine != 0 {
			t.Errorf("minified input is one line, pair claims generated line %d", p.GenLine)
		}
	}
}

func TestFormatJSLeavesStringsAlone(t *testing.T) {
	formatted, _ := formatJS(`var s="a;b{c}";`)
	if !strings.Contains(formatted, `"a;b{c}"`) {
		t.Errorf("string literal was reformatted: %q", formatted)
	}
}
