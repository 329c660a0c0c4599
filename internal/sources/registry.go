package sources

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	jsdaperr "github.com/jsdap/jsdap/internal/errors"
	"github.com/jsdap/jsdap/internal/sourcemaps"
	"github.com/jsdap/jsdap/pkg/types"
)

// MapData is the shared per-map-URL state: the compiled sources
// referencing it, the parsed map once loading finishes, and a loaded
// gate other operations can await with a bounded timeout. There is at
// most one MapData per map URL; compiled sources referencing the same
// map share it.
type MapData struct {
	url      string
	compiled map[int]*Source
	loaded   chan struct{}
	m        *sourcemaps.SourceMap // nil while loading and after failure
}

// Loaded returns the completion gate; it is closed once loading has
// finished, successfully or not.
func (d *MapData) Loaded() <-chan struct{} { return d.loaded }

// Map returns the parsed map, nil while loading or after a failure.
// Only read after Loaded() is closed.
func (d *MapData) Map() *sourcemaps.SourceMap { return d.m }

// Options configures a Registry.
type Options struct {
	Logger         *zap.Logger
	Loader         Loader
	PathResolver   PathResolver
	SourceMaps     bool
	ResolveTimeout time.Duration
	// Warn surfaces one-time user-visible warnings (stderr output
	// events at the protocol boundary).
	Warn func(message string)
}

// Registry owns every Source and the compiled<->mapped relations. All
// of its maps are mutated only by the registry itself, under its own
// mutex; external components read through accessors.
type Registry struct {
	logger         *zap.Logger
	loader         Loader
	resolver       PathResolver
	enabled        bool
	resolveTimeout time.Duration
	warnCB         func(string)

	mu     sync.Mutex
	byRef  map[int]*Source
	byPath map[string]*Source
	maps   map[string]*MapData
	// mappedByURL keys source-mapped sources by their resolved URL so
	// compiled sources sharing an original share one instance.
	mappedByURL map[string]*Source

	// Relation tables, registry-owned so no entity holds a strong
	// reference cycle: compiled ref -> declared source key -> mapped
	// ref, and the inverse.
	mappedKeys   map[int]map[string]int
	compiledRefs map[int]map[int]string

	warned        map[string]struct{}
	prettyPrinted map[int]*PrettyPrintResult
	mapListeners  []func(compiled *Source)
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Loader == nil {
		opts.Loader = NewFSLoader()
	}
	if opts.PathResolver == nil {
		opts.PathResolver = &LocalResolver{}
	}
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = 2 * time.Second
	}
	if opts.Warn == nil {
		opts.Warn = func(string) {}
	}

	return &Registry{
		logger:         opts.Logger,
		loader:         opts.Loader,
		resolver:       opts.PathResolver,
		enabled:        opts.SourceMaps,
		resolveTimeout: opts.ResolveTimeout,
		warnCB:         opts.Warn,
		byRef:          make(map[int]*Source),
		byPath:         make(map[string]*Source),
		maps:           make(map[string]*MapData),
		mappedByURL:    make(map[string]*Source),
		mappedKeys:     make(map[int]map[string]int),
		compiledRefs:   make(map[int]map[int]string),
		warned:         make(map[string]struct{}),
		prettyPrinted:  make(map[int]*PrettyPrintResult),
	}
}

// OnSourceMapLoaded registers a callback fired after a compiled
// source's map finishes loading and its mapped sources exist. The
// breakpoint manager uses it to re-verify breakpoints set against
// unmapped locations.
func (r *Registry) OnSourceMapLoaded(fn func(compiled *Source)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mapListeners = append(r.mapListeners, fn)
}

// GetSourceReference returns the reference a URL would be assigned:
// deterministic hash start, then linear probe past live references,
// wrapping at DAP's maximum. Injective for sources alive at once.
func (r *Registry) GetSourceReference(url string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allocateReferenceLocked(url)
}

func (r *Registry) allocateReferenceLocked(url string) int {
	ref := hashReference(url)
	for i := 0; i < referenceProbeCap; i++ {
		if _, taken := r.byRef[ref]; !taken {
			return ref
		}
		ref++
		if ref > maxSourceReference {
			ref = 1
		}
	}
	// Degenerate: the probe space is effectively exhausted. Keep the
	// session alive on a best-effort reference.
	r.logger.Error("source reference probe exhausted",
		zap.String("url", url),
		zap.Error(jsdaperr.Wrap(jsdaperr.CodeReferenceExhausted, "probe cap hit", "", nil)))
	return ref
}

// AddSourceOptions carries the optional attributes of a new source.
type AddSourceOptions struct {
	SourceMapURL string
	ScriptOffset Offset
	ContentHash  string
	Origin       string
}

// AddSource registers a compiled source and, when it carries a source
// map URL, starts loading the map asynchronously. Concurrent additions
// referencing the same map share one load.
func (r *Registry) AddSource(ctx context.Context, sourceURL string, getContent ContentGetter, opts AddSourceOptions) *Source {
	r.mu.Lock()

	src := &Source{
		reference:    r.allocateReferenceLocked(sourceURL),
		url:          sourceURL,
		absolutePath: r.resolver.URLToAbsolutePath(sourceURL),
		sourceMapURL: opts.SourceMapURL,
		scriptOffset: opts.ScriptOffset,
		contentHash:  opts.ContentHash,
		origin:       opts.Origin,
		getContent:   getContent,
	}
	r.byRef[src.reference] = src
	r.registerPathLocked(src)

	var md *MapData
	var startLoad bool
	var listeners []func(*Source)
	if opts.SourceMapURL != "" && r.enabled {
		mapURL := resolveRelativeURL(sourceURL, opts.SourceMapURL)
		src.sourceMapURL = mapURL
		md = r.maps[mapURL]
		if md == nil {
			md = &MapData{
				url:      mapURL,
				compiled: make(map[int]*Source),
				loaded:   make(chan struct{}),
			}
			r.maps[mapURL] = md
			startLoad = true
		}
		md.compiled[src.reference] = src
		if !startLoad && md.m != nil {
			// Already loaded: attach synchronously. A map still loading
			// materializes every registered compiled source itself.
			r.materializeLocked(md, src)
			listeners = append([]func(*Source){}, r.mapListeners...)
		}
	}
	r.mu.Unlock()

	if startLoad {
		go r.loadSourceMap(ctx, md)
	}
	for _, fn := range listeners {
		fn(src)
	}

	r.logger.Debug("added source",
		zap.String("url", sourceURL),
		zap.Int("reference", src.reference),
		zap.String("sourceMapUrl", src.sourceMapURL))
	return src
}

// registerPathLocked indexes a source by absolute path. When two
// sources claim the same path the shorter URL wins: generators emit
// query-string variants of one logical path and the canonical one
// should represent it. On an equal-length tie the incumbent stays.
func (r *Registry) registerPathLocked(src *Source) {
	if src.absolutePath == "" {
		return
	}
	existing := r.byPath[src.absolutePath]
	if existing == nil || len(src.url) < len(existing.url) {
		r.byPath[src.absolutePath] = src
	}
}

// loadSourceMap fetches and parses one map, then materializes mapped
// sources for every compiled source referencing it.
func (r *Registry) loadSourceMap(ctx context.Context, md *MapData) {
	data, err := r.loader.LoadSourceMap(ctx, md.url)
	var parsed *sourcemaps.SourceMap
	if err == nil {
		parsed, err = sourcemaps.Parse(md.url, data)
	}
	if err != nil {
		r.warnOnce(md.url, jsdaperr.SourceMapFailed(md.url, err).Error())
	}

	r.mu.Lock()
	// Staleness check: the map may have been detached while loading.
	if r.maps[md.url] != md {
		r.mu.Unlock()
		close(md.loaded)
		return
	}
	md.m = parsed
	var compiled []*Source
	if parsed != nil {
		for _, c := range md.compiled {
			compiled = append(compiled, c)
			r.materializeLocked(md, c)
		}
	}
	listeners := append([]func(*Source){}, r.mapListeners...)
	r.mu.Unlock()
	// Mapped sources exist before the gate opens; waiters never observe
	// a loaded map without its sources.
	close(md.loaded)

	for _, c := range compiled {
		for _, fn := range listeners {
			fn(c)
		}
	}
}

// materializeLocked creates the mapped sources a loaded map declares
// for one compiled source.
func (r *Registry) materializeLocked(md *MapData, compiled *Source) {
	declared := md.m.DeclaredSources()
	resolved := md.m.Sources()
	for i, key := range declared {
		r.attachMappedSourceLocked(md, compiled, key, resolved[i])
	}
}

// attachMappedSourceLocked creates or reuses the SourceFromMap for one
// declared original source and records the relations.
func (r *Registry) attachMappedSourceLocked(md *MapData, compiled *Source, declaredKey, resolvedURL string) {
	mapped := r.mappedByURL[resolvedURL]
	if mapped == nil {
		mapped = &Source{
			reference:    r.allocateReferenceLocked(resolvedURL),
			url:          resolvedURL,
			absolutePath: r.resolver.URLToAbsolutePath(resolvedURL),
			fromMap:      true,
			getContent:   r.mappedContentGetter(md, compiled, declaredKey, resolvedURL),
		}
		r.byRef[mapped.reference] = mapped
		r.registerPathLocked(mapped)
		r.mappedByURL[resolvedURL] = mapped
	}

	if r.mappedKeys[compiled.reference] == nil {
		r.mappedKeys[compiled.reference] = make(map[string]int)
	}
	r.mappedKeys[compiled.reference][declaredKey] = mapped.reference

	if r.compiledRefs[mapped.reference] == nil {
		r.compiledRefs[mapped.reference] = make(map[int]string)
	}
	r.compiledRefs[mapped.reference][compiled.reference] = declaredKey
}

// mappedContentGetter builds the content chain for a mapped source:
// map-embedded inline content, then a fetch of the resolved URL, then
// the compiled source's own content as a last resort.
func (r *Registry) mappedContentGetter(md *MapData, compiled *Source, declaredKey, resolvedURL string) ContentGetter {
	return func(ctx context.Context) (string, error) {
		if md.m != nil {
			if content, ok := md.m.SourceContent(declaredKey); ok {
				return content, nil
			}
		}
		if content, err := r.loader.LoadFile(ctx, resolvedURL); err == nil {
			return content, nil
		}
		return compiled.Content(ctx)
	}
}

// RemoveSource deregisters a source. For compiled sources the owning
// map's reference count drops; the map and its generated sources are
// destroyed exactly when the last referencing compiled source goes.
func (r *Registry) RemoveSource(src *Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeSourceLocked(src)
}

func (r *Registry) removeSourceLocked(src *Source) {
	if r.byRef[src.reference] != src {
		return
	}
	delete(r.byRef, src.reference)
	delete(r.prettyPrinted, src.reference)
	if src.absolutePath != "" && r.byPath[src.absolutePath] == src {
		delete(r.byPath, src.absolutePath)
	}

	if src.fromMap {
		if r.mappedByURL[src.url] == src {
			delete(r.mappedByURL, src.url)
		}
		delete(r.compiledRefs, src.reference)
		return
	}

	r.detachCompiledLocked(src)
}

// detachCompiledLocked tears down a compiled source's map registration
// and relations, destroying mapped sources whose last referencer this
// was.
func (r *Registry) detachCompiledLocked(src *Source) {
	for _, mappedRef := range r.mappedKeys[src.reference] {
		if back := r.compiledRefs[mappedRef]; back != nil {
			delete(back, src.reference)
			if len(back) == 0 {
				if mapped := r.byRef[mappedRef]; mapped != nil {
					r.removeSourceLocked(mapped)
				} else {
					delete(r.compiledRefs, mappedRef)
				}
			}
		}
	}
	delete(r.mappedKeys, src.reference)

	if src.sourceMapURL != "" {
		if md := r.maps[src.sourceMapURL]; md != nil {
			delete(md.compiled, src.reference)
			if len(md.compiled) == 0 {
				delete(r.maps, src.sourceMapURL)
			}
		}
		src.sourceMapURL = ""
	}
}

// SourceForReference looks a source up by its reference.
func (r *Registry) SourceForReference(ref int) *Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byRef[ref]
}

// SourceForPath looks a source up by absolute path.
func (r *Registry) SourceForPath(path string) *Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byPath[path]
}

// AllSources snapshots every live source.
func (r *Registry) AllSources() []*Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Source, 0, len(r.byRef))
	for _, s := range r.byRef {
		out = append(out, s)
	}
	return out
}

// MapForSource returns the map data attached to a compiled source.
func (r *Registry) MapForSource(src *Source) *MapData {
	r.mu.Lock()
	defer r.mu.Unlock()
	if src.sourceMapURL == "" {
		return nil
	}
	return r.maps[src.sourceMapURL]
}

// MappedSourceForURL returns the source-mapped source for a resolved
// original URL, nil when none has been materialized.
func (r *Registry) MappedSourceForURL(url string) *Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mappedByURL[url]
}

// PreferredUILocation walks the mapped-source chain outward (compiled
// to original) as far as maps are loaded, bounded per hop by the
// resolve timeout, and reports the deepest location plus whether any
// mapping applied.
func (r *Registry) PreferredUILocation(ctx context.Context, loc UILocation) PreferredUILocation {
	cur := loc
	isMapped := false
	reason := types.UnmappedNone

	for depth := 0; depth < 32; depth++ {
		src := cur.Source
		if src == nil || src.sourceMapURL == "" {
			break
		}
		if !r.enabled {
			reason = types.UnmappedMapDisabled
			break
		}

		r.mu.Lock()
		md := r.maps[src.sourceMapURL]
		r.mu.Unlock()
		if md == nil {
			reason = types.UnmappedCannotMap
			break
		}

		if !r.awaitMap(ctx, md) || md.m == nil {
			reason = types.UnmappedCannotMap
			break
		}

		next, ok := r.mapHop(src, md, cur)
		if !ok {
			reason = types.UnmappedCannotMap
			break
		}
		cur = next
		isMapped = true
	}

	if isMapped {
		reason = types.UnmappedNone
	}
	return PreferredUILocation{UILocation: cur, IsMapped: isMapped, UnmappedReason: reason}
}

// awaitMap waits for a map's loaded gate, bounded by the resolve
// timeout so a slow or missing map degrades to the compiled location.
func (r *Registry) awaitMap(ctx context.Context, md *MapData) bool {
	select {
	case <-md.loaded:
		return true
	default:
	}
	timer := time.NewTimer(r.resolveTimeout)
	defer timer.Stop()
	select {
	case <-md.loaded:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// mapHop translates one UI location through one loaded map.
func (r *Registry) mapHop(src *Source, md *MapData, cur UILocation) (UILocation, bool) {
	genLine := cur.Line - 1 - src.scriptOffset.Line
	genCol := cur.Column - 1
	if genLine == 0 {
		genCol -= src.scriptOffset.Column
	}
	if genLine < 0 || genCol < 0 {
		return UILocation{}, false
	}

	pos := md.m.MappedPosition(genLine, genCol)
	if pos.Source == "" {
		return UILocation{}, false
	}

	r.mu.Lock()
	mapped := r.mappedByURL[pos.Source]
	r.mu.Unlock()
	if mapped == nil {
		return UILocation{}, false
	}
	return UILocation{Source: mapped, Line: pos.Line + 1, Column: pos.Column + 1}, true
}

// CurrentSiblingUILocations synchronously enumerates every UI location
// reachable from the given one: inward toward original sources and
// outward toward every compiled source sharing them. Maps still loading
// are skipped, never awaited. inSource, when non-nil, filters the
// result to one source.
func (r *Registry) CurrentSiblingUILocations(loc UILocation, inSource *Source) []UILocation {
	r.mu.Lock()
	defer r.mu.Unlock()

	type key struct {
		ref, line, col int
	}
	seen := make(map[key]struct{})
	var out []UILocation

	var visit func(UILocation)
	visit = func(l UILocation) {
		if l.Source == nil {
			return
		}
		k := key{l.Source.reference, l.Line, l.Column}
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		out = append(out, l)

		// Inward: through this source's own map, if loaded.
		if l.Source.sourceMapURL != "" && r.enabled {
			if md := r.maps[l.Source.sourceMapURL]; md != nil && mapIsLoaded(md) && md.m != nil {
				genLine := l.Line - 1 - l.Source.scriptOffset.Line
				genCol := l.Column - 1
				if genLine == 0 {
					genCol -= l.Source.scriptOffset.Column
				}
				if genLine >= 0 && genCol >= 0 {
					if pos := md.m.MappedPosition(genLine, genCol); pos.Source != "" {
						if mapped := r.mappedByURL[pos.Source]; mapped != nil {
							visit(UILocation{Source: mapped, Line: pos.Line + 1, Column: pos.Column + 1})
						}
					}
				}
			}
		}

		// Outward: into every compiled source sharing this original.
		if l.Source.fromMap {
			for compiledRef := range r.compiledRefs[l.Source.reference] {
				compiled := r.byRef[compiledRef]
				if compiled == nil || compiled.sourceMapURL == "" {
					continue
				}
				md := r.maps[compiled.sourceMapURL]
				if md == nil || !mapIsLoaded(md) || md.m == nil {
					continue
				}
				pos := md.m.GeneratedPositionFor(l.Source.url, l.Line-1, l.Column-1)
				if pos.Source == "" {
					continue
				}
				line := pos.Line + 1 + compiled.scriptOffset.Line
				col := pos.Column + 1
				if pos.Line == 0 {
					col += compiled.scriptOffset.Column
				}
				visit(UILocation{Source: compiled, Line: line, Column: col})
			}
		}
	}
	visit(loc)

	if inSource == nil {
		return out
	}
	filtered := out[:0]
	for _, l := range out {
		if l.Source == inSource {
			filtered = append(filtered, l)
		}
	}
	return filtered
}

func mapIsLoaded(md *MapData) bool {
	select {
	case <-md.loaded:
		return true
	default:
		return false
	}
}

// warnOnce surfaces one warning per map URL, deduplicated so lookup
// failures do not spam the client on every request.
func (r *Registry) warnOnce(key, message string) {
	r.mu.Lock()
	if _, done := r.warned[key]; done {
		r.mu.Unlock()
		return
	}
	r.warned[key] = struct{}{}
	r.mu.Unlock()
	r.logger.Warn(message)
	r.warnCB(message)
}

// resolveRelativeURL resolves a possibly-relative reference against the
// URL of the document that contained it.
func resolveRelativeURL(baseURL, ref string) string {
	if strings.HasPrefix(ref, "data:") {
		return ref
	}
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		return ref
	}
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(refURL).String()
}
