package breakpoints

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/jsdap/jsdap/internal/cdp"
	"github.com/jsdap/jsdap/internal/sources"
	"github.com/jsdap/jsdap/pkg/types"
)

// SourceSpec names the source a breakpoint request addresses: by path
// for on-disk sources, by reference for everything else. A script can
// be addressed either way, so breakpoints are indexed by both.
type SourceSpec struct {
	Path            string
	SourceReference int
}

func (s SourceSpec) key() string {
	if s.Path != "" {
		return "path:" + s.Path
	}
	return fmt.Sprintf("ref:%d", s.SourceReference)
}

// Request is one client-requested source breakpoint, 1-based.
type Request struct {
	Line         int
	Column       int
	Condition    string
	HitCondition string
	LogMessage   string
}

// Result reports one breakpoint back to the client.
type Result struct {
	ID       int
	Verified bool
	Line     int
	Column   int
	Message  string
}

// registration is one live CDP breakpoint behind a client breakpoint.
type registration struct {
	cdpID    string
	url      string
	line     int // 0-based generated
	col      int
	resolved []cdp.Location
}

// Breakpoint is one client breakpoint with its runtime bindings. With
// no acknowledged location it is Pending and reported unverified; the
// first resolved location makes it Applied. Staying Pending forever is
// not an error.
type Breakpoint struct {
	ID      int
	Source  SourceSpec
	Request Request

	key           string
	condition     string // compiled CDP condition
	invalid       bool   // condition failed syntax validation
	message       string
	registrations []registration
	verified      bool
	uiLine, uiCol int
}

func (b *Breakpoint) result() Result {
	line, col := b.Request.Line, b.Request.Column
	if b.verified && b.uiLine > 0 {
		line, col = b.uiLine, b.uiCol
	}
	return Result{ID: b.ID, Verified: b.verified, Line: line, Column: col, Message: b.message}
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Logger    *zap.Logger
	Registry  *sources.Registry
	Predictor *Predictor
	Resolver  sources.PathResolver
	// OnChanged fires when a breakpoint's verified state or location
	// changes after its setBreakpoints response was already sent.
	OnChanged func(Result)
}

// Manager owns the full breakpoint set and reconciles it against the
// live CDP session: authoritative per-source replace, prediction-backed
// immediate application, lazy binding on script parse, and
// re-verification when source maps finish loading.
type Manager struct {
	logger    *zap.Logger
	registry  *sources.Registry
	predictor *Predictor
	resolver  sources.PathResolver
	gate      *Gate
	onChanged func(Result)

	mu       sync.Mutex
	session  *cdp.Session
	bySource map[string]map[string]*Breakpoint
	byCDPID  map[string]*Breakpoint
	usedIDs  map[int]*Breakpoint
	scripts  map[string]string // scriptID -> url
	stats    types.BreakpointStatistics
}

// NewManager creates a manager. The launch gate starts open and shuts
// while a replace is being synced to the runtime.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Resolver == nil {
		opts.Resolver = &sources.LocalResolver{}
	}
	m := &Manager{
		logger:    opts.Logger,
		registry:  opts.Registry,
		predictor: opts.Predictor,
		resolver:  opts.Resolver,
		gate:      NewGate(true),
		onChanged: opts.OnChanged,
		bySource:  make(map[string]map[string]*Breakpoint),
		byCDPID:   make(map[string]*Breakpoint),
		usedIDs:   make(map[int]*Breakpoint),
		scripts:   make(map[string]string),
	}
	if m.registry != nil {
		m.registry.OnSourceMapLoaded(func(*sources.Source) {
			ctx := context.Background()
			m.reapplyPending(ctx)
			m.refreshVerified(ctx)
		})
	}
	return m
}

// LaunchGate returns the gate launch completion must wait on.
func (m *Manager) LaunchGate() *Gate { return m.gate }

// SetPredictor installs the predictor once the workspace root is known.
func (m *Manager) SetPredictor(p *Predictor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictor = p
}

// IDsForCDP translates the runtime breakpoint ids reported at a pause
// into client breakpoint ids, deduplicated.
func (m *Manager) IDsForCDP(cdpIDs []string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int
	seen := make(map[int]bool)
	for _, id := range cdpIDs {
		if bp := m.byCDPID[id]; bp != nil && !seen[bp.ID] {
			seen[bp.ID] = true
			out = append(out, bp.ID)
		}
	}
	return out
}

// Statistics returns the aggregate counters.
func (m *Manager) Statistics() types.BreakpointStatistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// ConnectSession attaches the manager to a live debugger session and
// syncs every held breakpoint to it.
func (m *Manager) ConnectSession(ctx context.Context, session *cdp.Session) {
	m.mu.Lock()
	m.session = session
	m.mu.Unlock()
	m.reapplyPending(ctx)
	m.gate.Open()
}

// SetBreakpoints replaces the full breakpoint set for one source.
// Breakpoints present in both the old and new set survive untouched, so
// re-sending an identical set is idempotent and does not re-bind.
// Removed breakpoints are torn down at the runtime before new ones are
// applied. Results are returned in request order.
func (m *Manager) SetBreakpoints(ctx context.Context, src SourceSpec, reqs []Request) []Result {
	m.gate.Shut()
	defer m.gate.Open()

	m.mu.Lock()
	skey := src.key()
	existing := m.bySource[skey]
	next := make(map[string]*Breakpoint, len(reqs))
	ordered := make([]*Breakpoint, 0, len(reqs))
	var added []*Breakpoint

	for _, req := range reqs {
		bkey := requestKey(src, req)
		if bp := next[bkey]; bp != nil {
			ordered = append(ordered, bp)
			continue
		}
		if bp := existing[bkey]; bp != nil {
			next[bkey] = bp
			delete(existing, bkey)
			ordered = append(ordered, bp)
			continue
		}

		bp := &Breakpoint{Source: src, Request: req, key: bkey}
		bp.ID = m.allocateIDLocked(bkey)
		m.usedIDs[bp.ID] = bp
		m.stats.Set++

		cond, err := compileCondition(bp.ID, req.Condition, req.HitCondition, req.LogMessage)
		if err != nil {
			bp.invalid = true
			bp.message = err.Error()
		} else {
			bp.condition = cond
		}
		next[bkey] = bp
		ordered = append(ordered, bp)
		added = append(added, bp)
	}

	// Leftovers in existing were dropped by the client.
	var removals []registration
	for _, bp := range existing {
		removals = append(removals, bp.registrations...)
		for _, reg := range bp.registrations {
			delete(m.byCDPID, reg.cdpID)
		}
		delete(m.usedIDs, bp.ID)
	}
	m.bySource[skey] = next
	session := m.session
	m.mu.Unlock()

	if session != nil {
		// Teardown strictly before apply, so a moved breakpoint is
		// never double-planted. Removals are independent of each other
		// and issued concurrently.
		var wg sync.WaitGroup
		for _, reg := range removals {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := session.RemoveBreakpoint(ctx, reg.cdpID); err != nil {
					m.logger.Debug("breakpoint removal failed",
						zap.String("cdpId", reg.cdpID), zap.Error(err))
				}
			}()
		}
		wg.Wait()
		m.apply(ctx, session, added)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	results := make([]Result, len(ordered))
	for i, bp := range ordered {
		results[i] = bp.result()
	}
	return results
}

// wireLocation is one (url, generated position) pair a breakpoint is
// planted at.
type wireLocation struct {
	url  string
	line int
	col  int
}

// apply plants the given breakpoints, fanning independent
// setBreakpointByUrl calls out concurrently.
func (m *Manager) apply(ctx context.Context, session *cdp.Session, bps []*Breakpoint) {
	type plan struct {
		bp  *Breakpoint
		loc wireLocation
	}
	m.mu.Lock()
	var plans []plan
	for _, bp := range bps {
		if bp.invalid {
			continue
		}
		for _, loc := range m.targetLocationsLocked(ctx, bp) {
			if bp.hasRegistration(loc) {
				continue
			}
			plans = append(plans, plan{bp: bp, loc: loc})
		}
	}
	m.mu.Unlock()

	type outcome struct {
		plan plan
		res  cdp.SetBreakpointByURLResult
		err  error
	}
	outcomes := make([]outcome, len(plans))
	var wg sync.WaitGroup
	for i, pl := range plans {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := session.SetBreakpointByURL(ctx, cdp.SetBreakpointByURLParams{
				URL:          pl.loc.url,
				LineNumber:   pl.loc.line,
				ColumnNumber: pl.loc.col,
				Condition:    pl.bp.condition,
			})
			outcomes[i] = outcome{plan: pl, res: res, err: err}
		}()
	}
	wg.Wait()

	m.mu.Lock()
	var changed []Result
	for _, o := range outcomes {
		bp := o.plan.bp
		if o.err != nil {
			m.logger.Debug("breakpoint apply failed",
				zap.String("url", o.plan.loc.url),
				zap.Int("line", o.plan.loc.line),
				zap.Error(o.err))
			continue
		}
		// Staleness: the breakpoint may have been replaced while the
		// call was in flight.
		if m.usedIDs[bp.ID] != bp {
			go func(id string) {
				_ = session.RemoveBreakpoint(context.Background(), id)
			}(o.res.BreakpointID)
			continue
		}
		bp.registrations = append(bp.registrations, registration{
			cdpID:    o.res.BreakpointID,
			url:      o.plan.loc.url,
			line:     o.plan.loc.line,
			col:      o.plan.loc.col,
			resolved: o.res.Locations,
		})
		m.byCDPID[o.res.BreakpointID] = bp
		if len(o.res.Locations) > 0 && !bp.verified {
			bp.verified = true
			m.stats.Verified++
			m.resolveUILocationLocked(ctx, bp, o.res.Locations[0])
			changed = append(changed, bp.result())
		}
	}
	cb := m.onChanged
	m.mu.Unlock()

	if cb != nil {
		for _, r := range changed {
			cb(r)
		}
	}
}

// targetLocationsLocked computes every wire location a breakpoint
// should be planted at: sibling compiled locations through loaded maps,
// predictor candidates, and the source's own URL as the lazy-binding
// fallback.
func (m *Manager) targetLocationsLocked(ctx context.Context, bp *Breakpoint) []wireLocation {
	var out []wireLocation
	seen := make(map[wireLocation]struct{})
	add := func(l wireLocation) {
		if l.url == "" || l.line < 0 || l.col < 0 {
			return
		}
		if _, dup := seen[l]; dup {
			return
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}

	col := bp.Request.Column
	if col < 1 {
		col = 1
	}

	var src *sources.Source
	if bp.Source.SourceReference > 0 {
		src = m.registry.SourceForReference(bp.Source.SourceReference)
	} else if bp.Source.Path != "" {
		src = m.registry.SourceForPath(bp.Source.Path)
	}
	if src != nil {
		ui := sources.UILocation{Source: src, Line: bp.Request.Line, Column: col}
		for _, l := range m.registry.CurrentSiblingUILocations(ui, nil) {
			if l.Source.FromMap() {
				continue
			}
			add(wireLocation{url: l.Source.URL(), line: l.Line - 1, col: l.Column - 1})
		}
	}

	if bp.Source.Path != "" {
		if m.predictor != nil {
			for _, p := range m.predictor.PredictedLocations(ctx, bp.Source.Path, bp.Request.Line, col) {
				add(wireLocation{
					url:  m.resolver.AbsolutePathToURL(p.CompiledPath),
					line: p.Line,
					col:  p.Column,
				})
			}
		}
		// By-URL registration against the path itself, so a script the
		// runtime loads later still binds without a round trip.
		add(wireLocation{
			url:  m.resolver.AbsolutePathToURL(bp.Source.Path),
			line: bp.Request.Line - 1,
			col:  col - 1,
		})
	}
	return out
}

func (b *Breakpoint) hasRegistration(loc wireLocation) bool {
	for _, reg := range b.registrations {
		if reg.url == loc.url && reg.line == loc.line && reg.col == loc.col {
			return true
		}
	}
	return false
}

// reapplyPending re-attempts application for every breakpoint that has
// no binding yet. Safe to call on any event; already-planted locations
// are skipped.
func (m *Manager) reapplyPending(ctx context.Context) {
	m.mu.Lock()
	session := m.session
	var pending []*Breakpoint
	for _, set := range m.bySource {
		for _, bp := range set {
			if !bp.invalid && !bp.verified {
				pending = append(pending, bp)
			}
		}
	}
	m.mu.Unlock()

	if session == nil || len(pending) == 0 {
		return
	}
	m.apply(ctx, session, pending)
}

// refreshVerified recomputes the UI location of already-verified
// breakpoints. A breakpoint verified before its source map was loaded
// reported the compiled location; once the map arrives the location may
// move into the original source, and the client must hear about it.
func (m *Manager) refreshVerified(ctx context.Context) {
	m.mu.Lock()
	var changed []Result
	for _, set := range m.bySource {
		for _, bp := range set {
			if !bp.verified {
				continue
			}
			loc, ok := lastResolved(bp)
			if !ok {
				continue
			}
			prevLine, prevCol := bp.uiLine, bp.uiCol
			m.resolveUILocationLocked(ctx, bp, loc)
			if bp.uiLine != prevLine || bp.uiCol != prevCol {
				changed = append(changed, bp.result())
			}
		}
	}
	cb := m.onChanged
	m.mu.Unlock()

	if cb != nil {
		for _, r := range changed {
			cb(r)
		}
	}
}

// lastResolved returns the most recent runtime location a breakpoint
// resolved at.
func lastResolved(bp *Breakpoint) (cdp.Location, bool) {
	for i := len(bp.registrations) - 1; i >= 0; i-- {
		if n := len(bp.registrations[i].resolved); n > 0 {
			return bp.registrations[i].resolved[n-1], true
		}
	}
	return cdp.Location{}, false
}

// OnScriptParsed records the script's URL and lazily binds pending
// breakpoints that can now resolve against it.
func (m *Manager) OnScriptParsed(ctx context.Context, scriptID, url string) {
	m.mu.Lock()
	m.scripts[scriptID] = url
	m.mu.Unlock()
	m.reapplyPending(ctx)
}

// OnBreakpointResolved marks the owning breakpoint Applied and reports
// its recomputed UI location to the client.
func (m *Manager) OnBreakpointResolved(ctx context.Context, ev cdp.BreakpointResolvedEvent) {
	m.mu.Lock()
	bp := m.byCDPID[ev.BreakpointID]
	if bp == nil {
		m.mu.Unlock()
		return
	}
	for i := range bp.registrations {
		if bp.registrations[i].cdpID == ev.BreakpointID {
			bp.registrations[i].resolved = append(bp.registrations[i].resolved, ev.Location)
		}
	}
	m.stats.Bound++
	if !bp.verified {
		bp.verified = true
		m.stats.Verified++
	}
	m.resolveUILocationLocked(ctx, bp, ev.Location)
	result := bp.result()
	cb := m.onChanged
	m.mu.Unlock()

	if cb != nil {
		cb(result)
	}
}

// resolveUILocationLocked recomputes a breakpoint's user-visible
// location from a resolved runtime location, through loaded maps.
func (m *Manager) resolveUILocationLocked(ctx context.Context, bp *Breakpoint, loc cdp.Location) {
	url := m.scripts[loc.ScriptID]
	if url == "" {
		return
	}
	var src *sources.Source
	for _, s := range m.registry.AllSources() {
		if s.URL() == url && !s.FromMap() {
			src = s
			break
		}
	}
	if src == nil {
		return
	}
	pref := m.registry.PreferredUILocation(ctx, sources.UILocation{
		Source: src,
		Line:   loc.LineNumber + 1,
		Column: loc.ColumnNumber + 1,
	})
	bp.uiLine, bp.uiCol = pref.Line, pref.Column
}

// requestKey is the identity of a breakpoint within its source: the
// request parameters themselves, so identical re-sends dedupe.
func requestKey(src SourceSpec, req Request) string {
	return fmt.Sprintf("%s|%d|%d|%s|%s|%s",
		src.key(), req.Line, req.Column, req.Condition, req.HitCondition, req.LogMessage)
}

// allocateIDLocked derives a deterministic breakpoint id from its key,
// probing past ids still in use.
func (m *Manager) allocateIDLocked(key string) int {
	sum := sha256.Sum256([]byte(key))
	v := int64(int32(binary.BigEndian.Uint32(sum[:4])))
	if v < 0 {
		v = -v
	}
	id := int(v%(1<<31-1)) + 1
	for m.usedIDs[id] != nil {
		id++
		if id >= 1<<31 {
			id = 1
		}
	}
	return id
}
