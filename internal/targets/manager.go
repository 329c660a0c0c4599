// Package targets maintains the attach/detach tree of CDP targets
// (pages, iframes, workers) and presents each attachable JS-executing
// target as a Thread.
package targets

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/jsdap/jsdap/internal/cdp"
	"github.com/jsdap/jsdap/pkg/types"
)

// Target is one CDP target and its position in the attach tree.
type Target struct {
	info      cdp.TargetInfo
	kind      types.TargetKind
	status    types.TargetStatus
	sessionID string
	parentID  string
	thread    *Thread
}

// Info returns the CDP target description.
func (t *Target) Info() cdp.TargetInfo { return t.info }

// Kind returns the target kind.
func (t *Target) Kind() types.TargetKind { return t.kind }

// Status returns the lifecycle state.
func (t *Target) Status() types.TargetStatus { return t.status }

// Thread returns the thread for an attached target, nil otherwise.
func (t *Target) Thread() *Thread { return t.thread }

// Options configures a Manager.
type Options struct {
	Logger *zap.Logger
	Conn   cdp.Connection
	// Configure runs against every newly attached session before the
	// target resumes: debugger enablement, breakpoint sync, async stack
	// depth, exception state.
	Configure func(ctx context.Context, session *cdp.Session, target *Target) error
	// OnThreadStarted and OnThreadExited feed DAP thread events.
	OnThreadStarted func(*Thread)
	OnThreadExited  func(*Thread)
}

// Manager owns the target tree for one CDP connection.
type Manager struct {
	logger    *zap.Logger
	conn      cdp.Connection
	root      *cdp.Session
	configure func(context.Context, *cdp.Session, *Target) error
	onStarted func(*Thread)
	onExited  func(*Thread)

	mu           sync.Mutex
	byTargetID   map[string]*Target
	bySessionID  map[string]*Target
	nextThreadID int
	unsubscribe  []func()
	closed       bool
}

// NewManager creates a manager over a connection's root session.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Configure == nil {
		opts.Configure = func(context.Context, *cdp.Session, *Target) error { return nil }
	}
	if opts.OnThreadStarted == nil {
		opts.OnThreadStarted = func(*Thread) {}
	}
	if opts.OnThreadExited == nil {
		opts.OnThreadExited = func(*Thread) {}
	}
	return &Manager{
		logger:      opts.Logger,
		conn:        opts.Conn,
		root:        cdp.NewSession(opts.Conn, ""),
		configure:   opts.Configure,
		onStarted:   opts.OnThreadStarted,
		onExited:    opts.OnThreadExited,
		byTargetID:  make(map[string]*Target),
		bySessionID: make(map[string]*Target),
	}
}

// Initialize subscribes to target lifecycle events and turns on
// auto-attach, so child targets (workers, iframes with their own
// process) arrive without explicit discovery round trips.
func (m *Manager) Initialize(ctx context.Context) error {
	offAttach := m.conn.On("Target.attachedToTarget", func(sessionID string, params json.RawMessage) {
		var ev cdp.AttachedToTargetEvent
		if err := json.Unmarshal(params, &ev); err != nil {
			m.logger.Warn("bad attachedToTarget payload", zap.Error(err))
			return
		}
		m.handleAttached(ctx, sessionID, ev)
	})
	offDetach := m.conn.On("Target.detachedFromTarget", func(_ string, params json.RawMessage) {
		var ev cdp.DetachedFromTargetEvent
		if err := json.Unmarshal(params, &ev); err != nil {
			return
		}
		m.handleDetached(ev)
	})

	m.mu.Lock()
	m.unsubscribe = append(m.unsubscribe, offAttach, offDetach)
	m.mu.Unlock()

	if err := m.root.SetAutoAttach(ctx, true); err != nil {
		return err
	}
	return m.root.SetDiscoverTargets(ctx, true)
}

// Threads snapshots the live threads, ordered by thread id.
func (m *Manager) Threads() []*Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Thread
	for _, t := range m.byTargetID {
		if t.thread != nil {
			out = append(out, t.thread)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].id > out[j].id; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// ThreadByID finds a live thread.
func (m *Manager) ThreadByID(id int) *Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.byTargetID {
		if t.thread != nil && t.thread.id == id {
			return t.thread
		}
	}
	return nil
}

// ThreadForSession finds the thread owning a CDP session.
func (m *Manager) ThreadForSession(sessionID string) *Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.bySessionID[sessionID]; t != nil {
		return t.thread
	}
	return nil
}

// handleAttached runs the Discovered -> Attaching -> Attached sequence
// for an auto-attached target.
func (m *Manager) handleAttached(ctx context.Context, parentSessionID string, ev cdp.AttachedToTargetEvent) {
	kind := kindOf(ev.TargetInfo.Type)
	if !kind.CanAttach() {
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	target := &Target{
		info:      ev.TargetInfo,
		kind:      kind,
		status:    types.TargetStatusAttaching,
		sessionID: ev.SessionID,
	}
	if parent := m.bySessionID[parentSessionID]; parent != nil {
		target.parentID = parent.info.TargetID
	}
	m.nextThreadID++
	threadID := m.nextThreadID
	m.byTargetID[ev.TargetInfo.TargetID] = target
	m.bySessionID[ev.SessionID] = target
	m.mu.Unlock()

	session := cdp.NewSession(m.conn, ev.SessionID)
	thread := newThread(threadID, threadName(target), kind, session)

	if err := session.DebuggerEnable(ctx); err != nil {
		m.logger.Warn("debugger enable failed",
			zap.String("targetId", ev.TargetInfo.TargetID), zap.Error(err))
	}
	if err := session.RuntimeEnable(ctx); err != nil {
		m.logger.Warn("runtime enable failed",
			zap.String("targetId", ev.TargetInfo.TargetID), zap.Error(err))
	}
	// Children of this target auto-attach through the same connection.
	if err := session.SetAutoAttach(ctx, true); err != nil {
		m.logger.Debug("child auto-attach unavailable",
			zap.String("targetId", ev.TargetInfo.TargetID), zap.Error(err))
	}
	if err := m.configure(ctx, session, target); err != nil {
		m.logger.Warn("target configuration failed",
			zap.String("targetId", ev.TargetInfo.TargetID), zap.Error(err))
	}
	if target.kind == types.TargetKindPage {
		m.refreshThreadName(ctx, session, thread)
	}

	m.mu.Lock()
	target.status = types.TargetStatusAttached
	target.thread = thread
	m.mu.Unlock()

	if ev.WaitingForDebugger {
		if err := session.RunIfWaitingForDebugger(ctx); err != nil {
			m.logger.Warn("could not release waiting target", zap.Error(err))
		}
	}

	m.logger.Info("target attached",
		zap.String("targetId", ev.TargetInfo.TargetID),
		zap.String("type", ev.TargetInfo.Type),
		zap.Int("threadId", threadID))
	m.onStarted(thread)
}

// handleDetached disposes the thread, re-parents children and closes
// the connection when the last target goes.
func (m *Manager) handleDetached(ev cdp.DetachedFromTargetEvent) {
	m.mu.Lock()
	target := m.bySessionID[ev.SessionID]
	if target == nil && ev.TargetID != "" {
		target = m.byTargetID[ev.TargetID]
	}
	if target == nil || target.status == types.TargetStatusDetached {
		m.mu.Unlock()
		return
	}
	target.status = types.TargetStatusDetached
	thread := target.thread
	target.thread = nil
	delete(m.bySessionID, target.sessionID)
	delete(m.byTargetID, target.info.TargetID)

	// Orphaned children hang off this target's parent instead.
	for _, child := range m.byTargetID {
		if child.parentID == target.info.TargetID {
			child.parentID = target.parentID
		}
	}
	last := len(m.byTargetID) == 0
	m.mu.Unlock()

	if thread != nil {
		thread.OnResumed()
		m.onExited(thread)
	}
	m.logger.Info("target detached",
		zap.String("targetId", target.info.TargetID),
		zap.Bool("last", last))

	if last {
		m.Close()
	}
}

// Close tears the manager down and closes the CDP connection. Detaching
// the last target ends the session naturally through the same path.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	unsub := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	for _, off := range unsub {
		off()
	}
	if err := m.conn.Close(); err != nil {
		m.logger.Debug("connection close failed", zap.Error(err))
	}
}

// refreshThreadName derives a human-meaningful name from the page's
// frame tree: the top frame for the main page, the frame URL for a
// nested iframe.
func (m *Manager) refreshThreadName(ctx context.Context, session *cdp.Session, thread *Thread) {
	if err := session.PageEnable(ctx); err != nil {
		return
	}
	tree, err := session.GetFrameTree(ctx)
	if err != nil {
		return
	}
	name := tree.Frame.Name
	if name == "" {
		name = tree.Frame.URL
	}
	if name == "" {
		return
	}
	thread.mu.Lock()
	thread.name = name
	thread.mu.Unlock()
}

// threadName builds the initial display name before any frame tree is
// available.
func threadName(t *Target) string {
	prefix := ""
	switch t.kind {
	case types.TargetKindWorker:
		prefix = "worker: "
	case types.TargetKindServiceWorker:
		prefix = "service worker: "
	case types.TargetKindIFrame:
		prefix = "iframe: "
	}
	name := t.info.Title
	if name == "" {
		name = t.info.URL
	}
	if name == "" {
		name = t.info.TargetID
	}
	return prefix + name
}

// kindOf maps a CDP target type string to the internal kind.
func kindOf(cdpType string) types.TargetKind {
	switch cdpType {
	case "page":
		return types.TargetKindPage
	case "iframe":
		return types.TargetKindIFrame
	case "worker":
		return types.TargetKindWorker
	case "service_worker":
		return types.TargetKindServiceWorker
	case "shared_worker":
		return types.TargetKindSharedWorker
	case "background_page":
		return types.TargetKindBackgroundPage
	case "node":
		return types.TargetKindNode
	case "browser":
		return types.TargetKindBrowser
	default:
		return types.TargetKind(cdpType)
	}
}
