package sources

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeLoader serves maps and files from memory and counts loads.
type fakeLoader struct {
	mu    sync.Mutex
	maps  map[string][]byte
	files map[string]string
	loads map[string]int
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		maps:  make(map[string][]byte),
		files: make(map[string]string),
		loads: make(map[string]int),
	}
}

func (l *fakeLoader) LoadSourceMap(_ context.Context, mapURL string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads[mapURL]++
	data, ok := l.maps[mapURL]
	if !ok {
		return nil, fmt.Errorf("no such map: %s", mapURL)
	}
	return data, nil
}

func (l *fakeLoader) LoadFile(_ context.Context, fileURL string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	content, ok := l.files[fileURL]
	if !ok {
		return "", fmt.Errorf("no such file: %s", fileURL)
	}
	return content, nil
}

func (l *fakeLoader) loadCount(mapURL string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads[mapURL]
}

func newTestRegistry(t *testing.T, loader Loader) *Registry {
	t.Helper()
	if loader == nil {
		loader = newFakeLoader()
	}
	return NewRegistry(Options{
		Logger:         zap.NewNop(),
		Loader:         loader,
		SourceMaps:     true,
		ResolveTimeout: time.Second,
	})
}

func staticContent(s string) ContentGetter {
	return func(context.Context) (string, error) { return s, nil }
}

// waitForMap blocks until a compiled source's map finishes loading.
func waitForMap(t *testing.T, r *Registry, src *Source) {
	t.Helper()
	md := r.MapForSource(src)
	if md == nil {
		t.Fatal("source has no map data")
	}
	select {
	case <-md.Loaded():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for source map load")
	}
}

const twoLineMap = `{"version":3,"sources":["a.ts"],"names":[],"mappings":"AAAA;AACA"}`

// TestGetSourceReferenceInjective verifies that distinct live URLs never
// share a reference.
func TestGetSourceReferenceInjective(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()

	seen := make(map[int]string)
	for i := 0; i < 500; i++ {
		url := fmt.Sprintf("http://localhost/script-%d.js", i)
		src := r.AddSource(ctx, url, staticContent(""), AddSourceOptions{})
		if prev, dup := seen[src.Reference()]; dup {
			t.Fatalf("reference %d assigned to both %s and %s", src.Reference(), prev, url)
		}
		seen[src.Reference()] = url
	}
}

// TestGetSourceReferenceDeterministic verifies that the same URL hashes
// to the same reference across registries (stable across reloads).
func TestGetSourceReferenceDeterministic(t *testing.T) {
	r1 := newTestRegistry(t, nil)
	r2 := newTestRegistry(t, nil)

	const url = "http://localhost/app.js"
	if a, b := r1.GetSourceReference(url), r2.GetSourceReference(url); a != b {
		t.Errorf("reference not deterministic: %d vs %d", a, b)
	}
}

// TestSharedMapRefcount verifies the §refcount property: the map and its
// generated sources are destroyed exactly when the last referencing
// compiled source is removed.
func TestSharedMapRefcount(t *testing.T) {
	loader := newFakeLoader()
	loader.maps["http://localhost/out.js.map"] = []byte(twoLineMap)
	r := newTestRegistry(t, loader)
	ctx := context.Background()

	a := r.AddSource(ctx, "http://localhost/out.js", staticContent("x"), AddSourceOptions{SourceMapURL: "out.js.map"})
	waitForMap(t, r, a)
	b := r.AddSource(ctx, "http://localhost/out.js?v=2", staticContent("x"), AddSourceOptions{SourceMapURL: "http://localhost/out.js.map"})
	waitForMap(t, r, b)

	// One load, shared by both compiled sources.
	if n := loader.loadCount("http://localhost/out.js.map"); n != 1 {
		t.Errorf("expected 1 map load, got %d", n)
	}

	mapped := r.MappedSourceForURL("http://localhost/a.ts")
	if mapped == nil {
		t.Fatal("mapped source not materialized")
	}

	r.RemoveSource(a)
	if r.MappedSourceForURL("http://localhost/a.ts") == nil {
		t.Fatal("mapped source destroyed while a compiled source still references it")
	}
	if r.MapForSource(b) == nil {
		t.Fatal("map data destroyed while still referenced")
	}

	r.RemoveSource(b)
	if r.MappedSourceForURL("http://localhost/a.ts") != nil {
		t.Error("mapped source should be destroyed with its last referencer")
	}
	if r.SourceForReference(mapped.Reference()) != nil {
		t.Error("mapped source still registered by reference")
	}
}

// TestPreferredUILocation verifies the compiled->original walk.
func TestPreferredUILocation(t *testing.T) {
	loader := newFakeLoader()
	loader.maps["http://localhost/out.js.map"] = []byte(twoLineMap)
	r := newTestRegistry(t, loader)
	ctx := context.Background()

	compiled := r.AddSource(ctx, "http://localhost/out.js", staticContent("x"), AddSourceOptions{SourceMapURL: "out.js.map"})
	waitForMap(t, r, compiled)

	pref := r.PreferredUILocation(ctx, UILocation{Source: compiled, Line: 2, Column: 1})
	if !pref.IsMapped {
		t.Fatalf("expected mapped location, got reason %v", pref.UnmappedReason)
	}
	if pref.Source.URL() != "http://localhost/a.ts" || pref.Line != 2 {
		t.Errorf("expected a.ts:2, got %s:%d", pref.Source.URL(), pref.Line)
	}
}

// TestPreferredUILocationUnmapped verifies the unmapped-reason paths.
func TestPreferredUILocationUnmapped(t *testing.T) {
	loader := newFakeLoader() // no maps registered: load fails
	r := newTestRegistry(t, loader)
	ctx := context.Background()

	compiled := r.AddSource(ctx, "http://localhost/out.js", staticContent("x"), AddSourceOptions{SourceMapURL: "missing.map"})
	waitForMap(t, r, compiled)

	pref := r.PreferredUILocation(ctx, UILocation{Source: compiled, Line: 1, Column: 1})
	if pref.IsMapped {
		t.Fatal("expected unmapped result")
	}
	if pref.UnmappedReason == 0 {
		t.Error("expected an unmapped reason")
	}
	if pref.Source != compiled {
		t.Error("unmapped walk should return the starting location")
	}
}

// TestSiblingUILocations verifies the synchronous fan-out across two
// compiled sources sharing one original.
func TestSiblingUILocations(t *testing.T) {
	loader := newFakeLoader()
	loader.maps["http://localhost/one.js.map"] = []byte(twoLineMap)
	loader.maps["http://localhost/two.js.map"] = []byte(twoLineMap)
	r := newTestRegistry(t, loader)
	ctx := context.Background()

	one := r.AddSource(ctx, "http://localhost/one.js", staticContent("x"), AddSourceOptions{SourceMapURL: "one.js.map"})
	waitForMap(t, r, one)
	two := r.AddSource(ctx, "http://localhost/two.js", staticContent("x"), AddSourceOptions{SourceMapURL: "two.js.map"})
	waitForMap(t, r, two)

	// Both maps declare a.ts relative to the same host, so the mapped
	// source is shared.
	mapped := r.MappedSourceForURL("http://localhost/a.ts")
	if mapped == nil {
		t.Fatal("mapped source not materialized")
	}

	locs := r.CurrentSiblingUILocations(UILocation{Source: one, Line: 1, Column: 1}, nil)
	var sawOne, sawTwo, sawMapped bool
	for _, l := range locs {
		switch l.Source {
		case one:
			sawOne = true
		case two:
			sawTwo = true
		case mapped:
			sawMapped = true
		}
	}
	if !sawOne || !sawMapped || !sawTwo {
		t.Errorf("expected fan-out to one, mapped, two; got one=%v mapped=%v two=%v (%d locations)",
			sawOne, sawMapped, sawTwo, len(locs))
	}

	// Filtered to a single source.
	only := r.CurrentSiblingUILocations(UILocation{Source: one, Line: 1, Column: 1}, two)
	for _, l := range only {
		if l.Source != two {
			t.Errorf("filter leaked source %s", l.Source.URL())
		}
	}
	if len(only) == 0 {
		t.Error("expected at least one filtered location")
	}
}

// TestShorterURLWinsPath verifies canonical-path tie-breaking.
func TestShorterURLWinsPath(t *testing.T) {
	r := NewRegistry(Options{
		Logger: zap.NewNop(),
		Loader: newFakeLoader(),
		PathResolver: &LocalResolver{
			PathOverrides: map[string]string{"http://localhost/*": "/work/*"},
		},
		SourceMaps: true,
	})
	ctx := context.Background()

	long := r.AddSource(ctx, "http://localhost/app.js?version=123", staticContent(""), AddSourceOptions{})
	short := r.AddSource(ctx, "http://localhost/app.js", staticContent(""), AddSourceOptions{})
	if long.AbsolutePath() != short.AbsolutePath() {
		t.Fatalf("query variant resolved to a different path: %q vs %q", long.AbsolutePath(), short.AbsolutePath())
	}

	if s := r.SourceForPath("/work/app.js"); s != short {
		t.Errorf("expected the shorter URL to own the path, got %+v", s)
	}

	// A later, longer variant must not displace the canonical source.
	r.AddSource(ctx, "http://localhost/app.js?version=456", staticContent(""), AddSourceOptions{})
	if s := r.SourceForPath("/work/app.js"); s != short {
		t.Errorf("longer URL displaced the canonical source, got %+v", s)
	}
}

// TestEqualLengthURLKeepsIncumbentPath verifies that the path index is
// stable under ties: a later URL of the same length must not displace
// the source that already owns the path.
func TestEqualLengthURLKeepsIncumbentPath(t *testing.T) {
	r := NewRegistry(Options{
		Logger: zap.NewNop(),
		Loader: newFakeLoader(),
		PathResolver: &LocalResolver{
			PathOverrides: map[string]string{"http://localhost/*": "/work/*"},
		},
		SourceMaps: true,
	})
	ctx := context.Background()

	first := r.AddSource(ctx, "http://localhost/app.js?a=1", staticContent(""), AddSourceOptions{})
	second := r.AddSource(ctx, "http://localhost/app.js?b=2", staticContent(""), AddSourceOptions{})
	if first.AbsolutePath() != second.AbsolutePath() {
		t.Fatalf("variants resolved to different paths: %q vs %q", first.AbsolutePath(), second.AbsolutePath())
	}
	if s := r.SourceForPath(first.AbsolutePath()); s != first {
		t.Errorf("equal-length URL displaced the incumbent, got %+v", s)
	}
}

// TestWarnOnceOnBadMap verifies the once-per-map warning dedup.
func TestWarnOnceOnBadMap(t *testing.T) {
	loader := newFakeLoader()
	loader.maps["http://localhost/bad.js.map"] = []byte("{not json")

	var warnings []string
	var mu sync.Mutex
	r := NewRegistry(Options{
		Logger:     zap.NewNop(),
		Loader:     loader,
		SourceMaps: true,
		Warn: func(msg string) {
			mu.Lock()
			warnings = append(warnings, msg)
			mu.Unlock()
		},
	})
	ctx := context.Background()

	src := r.AddSource(ctx, "http://localhost/bad.js", staticContent("x"), AddSourceOptions{SourceMapURL: "bad.js.map"})
	waitForMap(t, r, src)

	// Repeated lookups against the broken map must not warn again.
	for i := 0; i < 3; i++ {
		r.PreferredUILocation(ctx, UILocation{Source: src, Line: 1, Column: 1})
	}

	mu.Lock()
	defer mu.Unlock()
	if len(warnings) != 1 {
		t.Errorf("expected exactly 1 warning, got %d: %v", len(warnings), warnings)
	}
}

// TestMappedSourceContentChain verifies the inline -> fetch -> compiled
// fallback chain.
func TestMappedSourceContentChain(t *testing.T) {
	inline := `{"version":3,"sources":["a.ts"],"sourcesContent":["original text"],"names":[],"mappings":"AAAA"}`
	loader := newFakeLoader()
	loader.maps["http://localhost/out.js.map"] = []byte(inline)
	r := newTestRegistry(t, loader)
	ctx := context.Background()

	compiled := r.AddSource(ctx, "http://localhost/out.js", staticContent("compiled text"), AddSourceOptions{SourceMapURL: "out.js.map"})
	waitForMap(t, r, compiled)

	mapped := r.MappedSourceForURL("http://localhost/a.ts")
	if mapped == nil {
		t.Fatal("mapped source not materialized")
	}
	content, err := mapped.Content(ctx)
	if err != nil {
		t.Fatalf("Content failed: %v", err)
	}
	if content != "original text" {
		t.Errorf("expected inline content, got %q", content)
	}
}

// TestMappedSourceContentFallback verifies falling back to the compiled
// source when neither inline content nor the file are available.
func TestMappedSourceContentFallback(t *testing.T) {
	loader := newFakeLoader()
	loader.maps["http://localhost/out.js.map"] = []byte(twoLineMap)
	r := newTestRegistry(t, loader)
	ctx := context.Background()

	compiled := r.AddSource(ctx, "http://localhost/out.js", staticContent("compiled text"), AddSourceOptions{SourceMapURL: "out.js.map"})
	waitForMap(t, r, compiled)

	mapped := r.MappedSourceForURL("http://localhost/a.ts")
	if mapped == nil {
		t.Fatal("mapped source not materialized")
	}
	content, err := mapped.Content(ctx)
	if err != nil {
		t.Fatalf("Content failed: %v", err)
	}
	if content != "compiled text" {
		t.Errorf("expected compiled fallback content, got %q", content)
	}
}
