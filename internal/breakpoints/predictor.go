// Package breakpoints owns the client breakpoint set: prediction of
// compiled locations before scripts load, per-breakpoint binding state
// against the CDP runtime, and condition compilation.
package breakpoints

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jsdap/jsdap/internal/sourcemaps"
	"github.com/jsdap/jsdap/internal/sources"
)

// nodePrologueColumns is the width of the module wrapper Node prepends
// to the first line of a CommonJS script. Generated columns on line 0
// shift by it. The wrapper size is a runtime constant; if the runtime
// ever changes it, predictions on line 1 silently misalign.
const nodePrologueColumns = 62

var sourceMappingURLRe = regexp.MustCompile(`(?m)^//[#@]\s*sourceMappingURL=(\S+)\s*$`)

// PredictedLocation is a compiled position a source breakpoint should
// bind to, 0-based in runtime coordinates.
type PredictedLocation struct {
	CompiledPath string
	MapURL       string
	Line         int
	Column       int
}

// PredictorOptions configures a Predictor.
type PredictorOptions struct {
	Logger   *zap.Logger
	Loader   sources.Loader
	Resolver sources.PathResolver
	// Cache, when non-nil, persists scan results across sessions.
	Cache *Cache
	// LongScan fires OnLongScan when a workspace scan exceeds it.
	LongScan   time.Duration
	OnLongScan func(root string)
	// ScanConcurrency bounds parallel file scanning, default 8.
	ScanConcurrency int
}

// Predictor pre-computes compiled locations for original-source
// breakpoints by scanning workspace scripts for source maps before the
// runtime has loaded them. CDP breakpoints must name a script URL, so
// without prediction a breakpoint in an original source cannot bind
// until its compiled script has parsed and its map has loaded.
type Predictor struct {
	logger   *zap.Logger
	loader   sources.Loader
	resolver sources.PathResolver
	cache    *Cache
	maps     *ristretto.Cache[string, *sourcemaps.SourceMap]
	watcher  *fsnotify.Watcher
	longScan time.Duration
	onLong   func(string)
	limit    int

	mu      sync.Mutex
	scanned map[string]bool
	// index maps absolute original source path to compiled candidates.
	index map[string][]candidate
	// byFile maps compiled path to the original paths it declares, for
	// invalidation when the file changes.
	byFile map[string][]string
}

type candidate struct {
	compiledPath string
	mapURL       string
}

// NewPredictor creates a predictor. The fsnotify watcher is best
// effort: when it cannot be created, entries simply stop being
// invalidated on file change.
func NewPredictor(opts PredictorOptions) (*Predictor, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Loader == nil {
		opts.Loader = sources.NewFSLoader()
	}
	if opts.Resolver == nil {
		opts.Resolver = &sources.LocalResolver{}
	}
	if opts.ScanConcurrency <= 0 {
		opts.ScanConcurrency = 8
	}

	maps, err := ristretto.NewCache(&ristretto.Config[string, *sourcemaps.SourceMap]{
		NumCounters: 10_000,
		MaxCost:     64 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	p := &Predictor{
		logger:   opts.Logger,
		loader:   opts.Loader,
		resolver: opts.Resolver,
		cache:    opts.Cache,
		maps:     maps,
		longScan: opts.LongScan,
		onLong:   opts.OnLongScan,
		limit:    opts.ScanConcurrency,
		scanned:  make(map[string]bool),
		index:    make(map[string][]candidate),
		byFile:   make(map[string][]string),
	}

	if w, err := fsnotify.NewWatcher(); err == nil {
		p.watcher = w
		go p.watchLoop()
	} else {
		opts.Logger.Warn("predictor file watcher unavailable", zap.Error(err))
	}
	return p, nil
}

// Close stops the watcher and releases the in-memory map cache.
func (p *Predictor) Close() error {
	var err error
	if p.watcher != nil {
		err = p.watcher.Close()
	}
	p.maps.Close()
	return err
}

// Scan walks a workspace root once and builds the reverse index from
// original source paths to compiled candidates. Repeated calls for an
// already-scanned root return immediately.
func (p *Predictor) Scan(ctx context.Context, root string) error {
	root = filepath.Clean(root)
	p.mu.Lock()
	if p.scanned[root] {
		p.mu.Unlock()
		return nil
	}
	p.scanned[root] = true
	p.mu.Unlock()

	if p.longScan > 0 && p.onLong != nil {
		timer := time.AfterFunc(p.longScan, func() { p.onLong(root) })
		defer timer.Stop()
	}
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)
	p.walk(ctx, g, root)
	err := g.Wait()

	if p.cache != nil {
		if serr := p.cache.Save(); serr != nil {
			p.logger.Warn("could not persist prediction cache", zap.Error(serr))
		}
	}
	p.logger.Debug("workspace scan finished",
		zap.String("root", root),
		zap.Duration("took", time.Since(start)))
	return err
}

// walk recurses through directories on the calling goroutine and fans
// file scans out to the group. node_modules is skipped unless the scan
// root itself lives inside one.
func (p *Predictor) walk(ctx context.Context, g *errgroup.Group, dir string) {
	if ctx.Err() != nil {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	if p.watcher != nil {
		_ = p.watcher.Add(dir)
	}

	for _, e := range entries {
		name := e.Name()
		full := filepath.Join(dir, name)
		if e.IsDir() {
			if name == "node_modules" || strings.HasPrefix(name, ".") {
				continue
			}
			p.walk(ctx, g, full)
			continue
		}
		if !isScriptFile(name) {
			continue
		}
		g.Go(func() error {
			// Per-candidate failures are swallowed: an unreadable file
			// is simply not predicted.
			p.scanFile(ctx, full)
			return nil
		})
	}
}

func isScriptFile(name string) bool {
	return strings.HasSuffix(name, ".js") ||
		strings.HasSuffix(name, ".mjs") ||
		strings.HasSuffix(name, ".cjs")
}

// scanFile records the source map metadata of one compiled script,
// consulting the persisted cache by mtime first.
func (p *Predictor) scanFile(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	mtime := info.ModTime().UnixNano()

	var entry cacheEntry
	hit := false
	if p.cache != nil {
		entry, hit = p.cache.Lookup(path, mtime)
	}
	if !hit {
		entry = p.readEntry(ctx, path, mtime)
		if p.cache != nil {
			p.cache.Store(path, entry)
		}
	}
	if entry.MapURL == "" || len(entry.Sources) == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.byFile[path] = entry.Sources
	for _, s := range entry.Sources {
		if hasCandidate(p.index[s], path) {
			continue
		}
		p.index[s] = append(p.index[s], candidate{compiledPath: path, mapURL: entry.MapURL})
	}
}

func hasCandidate(list []candidate, compiledPath string) bool {
	for _, c := range list {
		if c.compiledPath == compiledPath {
			return true
		}
	}
	return false
}

// readEntry sniffs a script for its sourceMappingURL comment and
// resolves the map's declared sources to absolute paths.
func (p *Predictor) readEntry(ctx context.Context, path string, mtime int64) cacheEntry {
	entry := cacheEntry{MTime: mtime}
	data, err := os.ReadFile(path)
	if err != nil {
		return entry
	}
	m := sourceMappingURLRe.FindSubmatch(data)
	if m == nil {
		return entry
	}
	entry.MapURL = resolveMapURL(path, string(m[1]))

	parsed := p.loadMap(ctx, entry.MapURL)
	if parsed == nil {
		return entry
	}
	for _, u := range parsed.Sources() {
		if abs := p.resolver.URLToAbsolutePath(u); abs != "" {
			entry.Sources = append(entry.Sources, abs)
		}
	}
	return entry
}

func resolveMapURL(scriptPath, ref string) string {
	if strings.HasPrefix(ref, "data:") {
		return ref
	}
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		return ref
	}
	if filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(filepath.Dir(scriptPath), ref)
}

// loadMap fetches and parses a map, memoized in the ristretto cache.
func (p *Predictor) loadMap(ctx context.Context, mapURL string) *sourcemaps.SourceMap {
	if m, ok := p.maps.Get(mapURL); ok {
		return m
	}
	data, err := p.loader.LoadSourceMap(ctx, mapURL)
	if err != nil {
		return nil
	}
	m, err := sourcemaps.Parse(mapURL, data)
	if err != nil {
		return nil
	}
	p.maps.Set(mapURL, m, int64(len(data)))
	return m
}

// PredictedLocations resolves a 1-based original-source position to the
// compiled locations breakpoints should be planted at. Unscanned paths
// and unmappable positions yield no predictions; the caller falls back
// to lazy binding on script parse.
func (p *Predictor) PredictedLocations(ctx context.Context, sourcePath string, line, col int) []PredictedLocation {
	p.mu.Lock()
	cands := append([]candidate(nil), p.index[filepath.Clean(sourcePath)]...)
	p.mu.Unlock()

	if col < 1 {
		col = 1
	}
	var out []PredictedLocation
	for _, c := range cands {
		m := p.loadMap(ctx, c.mapURL)
		if m == nil {
			continue
		}
		sourceURL := p.sourceURLForPath(m, sourcePath)
		if sourceURL == "" {
			continue
		}
		pos := m.GeneratedPositionFor(sourceURL, line-1, col-1)
		if pos.Source == "" {
			continue
		}
		genLine, genCol := pos.Line, pos.Column
		if genLine == 0 {
			genCol += nodePrologueColumns
		}
		out = append(out, PredictedLocation{
			CompiledPath: c.compiledPath,
			MapURL:       c.mapURL,
			Line:         genLine,
			Column:       genCol,
		})
	}
	return out
}

// sourceURLForPath finds the declared source URL of a map whose
// resolved absolute path matches the requested one.
func (p *Predictor) sourceURLForPath(m *sourcemaps.SourceMap, sourcePath string) string {
	want := filepath.Clean(sourcePath)
	for _, u := range m.Sources() {
		if p.resolver.URLToAbsolutePath(u) == want {
			return u
		}
	}
	return ""
}

// watchLoop drops index, cache and map entries for files that change
// between breakpoint requests.
func (p *Predictor) watchLoop() {
	for {
		select {
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) != 0 {
				p.invalidate(ev.Name)
			}
		case _, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (p *Predictor) invalidate(path string) {
	p.mu.Lock()
	srcs := p.byFile[path]
	delete(p.byFile, path)
	for _, s := range srcs {
		kept := p.index[s][:0]
		for _, c := range p.index[s] {
			if c.compiledPath != path {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			delete(p.index, s)
		} else {
			p.index[s] = kept
		}
	}
	p.mu.Unlock()

	if p.cache != nil {
		p.cache.Invalidate(path)
	}
	// The changed file may itself be a referenced map.
	p.maps.Del(path)
}
