package adapter

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/go-dap"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jsdap/jsdap/internal/breakpoints"
	"github.com/jsdap/jsdap/internal/cdp"
	"github.com/jsdap/jsdap/internal/config"
	jsdaperr "github.com/jsdap/jsdap/internal/errors"
	"github.com/jsdap/jsdap/internal/exceptions"
	"github.com/jsdap/jsdap/internal/sources"
	"github.com/jsdap/jsdap/internal/targets"
	"github.com/jsdap/jsdap/pkg/types"
)

// Dialer opens a CDP connection to a DevTools endpoint. Injectable so
// tests run against an in-memory connection.
type Dialer func(ctx context.Context, endpoint string, logger *zap.Logger) (cdp.Connection, error)

// frameStride spaces DAP frame ids: frameID = threadID*frameStride + index.
const frameStride = 1000

// exceptionState remembers the exception a thread paused on, for
// exceptionInfo requests while it stays paused.
type exceptionState struct {
	className   string
	description string
	uncaught    bool
}

// Session is one DAP debug session bridged to one CDP connection. All
// client requests are dispatched serially from the read loop; runtime
// events arrive on the CDP dispatch goroutine and meet them in the
// component mutexes.
type Session struct {
	logger *zap.Logger
	cfg    *config.Config
	id     string
	tr     *Transport
	dial   Dialer

	resolver *sources.LocalResolver
	registry *sources.Registry
	bps      *breakpoints.Manager
	exc      *exceptions.Service
	skip     *SkipFiles

	mu              sync.Mutex
	linesStartAt1   bool
	columnsStartAt1 bool
	conn            cdp.Connection
	targets         *targets.Manager
	predictor       *breakpoints.Predictor
	scriptSrc       map[string]*sources.Source // scriptID -> compiled source
	scriptIDs       map[string]string          // url -> scriptID
	stepping        map[int]bool               // threadID -> a step is in flight
	pausedExc       map[int]*exceptionState
	customBps       map[string]bool
	primarySet      bool
	terminated      bool
}

// NewSession builds the component graph for one debug session. The CDP
// side is not connected until launch or attach provides an endpoint.
func NewSession(logger *zap.Logger, cfg *config.Config, tr *Transport, dial Dialer) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Session{
		logger:    logger.With(zap.String("session", uuid.NewString()[:8])),
		cfg:       cfg,
		id:        uuid.NewString(),
		tr:        tr,
		dial:      dial,
		resolver:  &sources.LocalResolver{PathOverrides: cloneOverrides(cfg.SourceMaps.PathOverrides)},
		skip:      NewSkipFiles(cfg.SkipFiles),
		scriptSrc: make(map[string]*sources.Source),
		scriptIDs: make(map[string]string),
		stepping:  make(map[int]bool),
		pausedExc: make(map[int]*exceptionState),
		customBps: make(map[string]bool),
	}

	s.registry = sources.NewRegistry(sources.Options{
		Logger:         s.logger,
		PathResolver:   s.resolver,
		SourceMaps:     cfg.SourceMaps.Enabled,
		ResolveTimeout: cfg.SourceMaps.ResolveTimeout,
		Warn:           func(msg string) { s.output("stderr", msg+"\n") },
	})
	s.bps = breakpoints.NewManager(breakpoints.ManagerOptions{
		Logger:    s.logger,
		Registry:  s.registry,
		Resolver:  s.resolver,
		OnChanged: s.sendBreakpointChanged,
	})
	s.exc = exceptions.NewService(exceptions.Options{
		Logger: s.logger,
		Output: s.output,
		Skip:   s.skip,
	})
	return s
}

func cloneOverrides(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// --- outgoing messages ---

func (s *Session) send(msg dap.Message) {
	if err := s.tr.Send(msg); err != nil {
		s.logger.Warn("failed to send DAP message", zap.Error(err))
	}
}

func (s *Session) newEvent(name string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: s.tr.NextSeq(), Type: "event"},
		Event:           name,
	}
}

// output emits a DAP output event. The message should carry its own
// trailing newline.
func (s *Session) output(category, message string) {
	e := &dap.OutputEvent{Event: s.newEvent("output")}
	e.Body = dap.OutputEventBody{Category: category, Output: message}
	s.send(e)
}

func (s *Session) sendBreakpointChanged(r breakpoints.Result) {
	e := &dap.BreakpointEvent{Event: s.newEvent("breakpoint")}
	e.Body = dap.BreakpointEventBody{
		Reason: "changed",
		Breakpoint: dap.Breakpoint{
			Id:       r.ID,
			Verified: r.Verified,
			Line:     r.Line,
			Column:   r.Column,
			Message:  r.Message,
		},
	}
	s.send(e)
}

func (s *Session) sendLoadedSource(reason string, desc types.SourceDescriptor) {
	e := &dap.LoadedSourceEvent{Event: s.newEvent("loadedSource")}
	e.Body = dap.LoadedSourceEventBody{Reason: reason, Source: toDAPSource(desc)}
	s.send(e)
}

func (s *Session) sendTerminated() {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	s.mu.Unlock()
	e := &dap.TerminatedEvent{Event: s.newEvent("terminated")}
	s.send(e)
}

func toDAPSource(d types.SourceDescriptor) dap.Source {
	return dap.Source{
		Name:             d.Name,
		Path:             d.Path,
		SourceReference:  d.SourceReference,
		PresentationHint: d.PresentationHint,
		Origin:           d.Origin,
	}
}

// --- runtime connection ---

// launchArgs carries the endpoint and workspace shape from launch or
// attach requests; both accept the same fields.
type launchArgs struct {
	Address       string            `json:"address,omitempty"`
	WebSocketURL  string            `json:"webSocketUrl,omitempty"`
	WorkspaceRoot string            `json:"workspaceRoot,omitempty"`
	Cwd           string            `json:"cwd,omitempty"`
	PathOverrides map[string]string `json:"sourceMapPathOverrides,omitempty"`
	SkipFiles     []string          `json:"skipFiles,omitempty"`
}

// connect dials the runtime and brings up prediction, event routing and
// the target tree.
func (s *Session) connect(ctx context.Context, args launchArgs) error {
	endpoint := args.WebSocketURL
	if endpoint == "" {
		endpoint = args.Address
	}
	if endpoint == "" {
		return jsdaperr.MissingParameter("address", "a DevTools websocket endpoint to attach to")
	}

	root := args.WorkspaceRoot
	if root == "" {
		root = args.Cwd
	}
	s.resolver.WorkspaceRoot = root
	for pattern, replacement := range args.PathOverrides {
		s.resolver.PathOverrides[pattern] = replacement
	}
	s.skip.AddGlobs(args.SkipFiles)

	if s.cfg.Prediction.Enabled && root != "" {
		var cache *breakpoints.Cache
		if s.cfg.Prediction.CacheDir != "" {
			cache = breakpoints.OpenCache(s.cfg.Prediction.CacheDir, root)
		}
		pred, err := breakpoints.NewPredictor(breakpoints.PredictorOptions{
			Logger:   s.logger,
			Resolver: s.resolver,
			Cache:    cache,
			LongScan: s.cfg.Prediction.LongScanWarning,
			OnLongScan: func(dir string) {
				s.output("console", "Scanning "+dir+" for source maps is taking a while...\n")
			},
		})
		if err != nil {
			s.logger.Warn("breakpoint prediction unavailable", zap.Error(err))
		} else {
			if err := pred.Scan(ctx, root); err != nil {
				s.logger.Warn("workspace scan failed", zap.String("root", root), zap.Error(err))
			}
			s.mu.Lock()
			s.predictor = pred
			s.mu.Unlock()
			s.bps.SetPredictor(pred)
		}
	}

	conn, err := s.dial(ctx, endpoint, s.logger)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.subscribeRuntimeEvents(conn)

	mgr := targets.NewManager(targets.Options{
		Logger:          s.logger,
		Conn:            conn,
		Configure:       s.configureTarget,
		OnThreadStarted: s.onThreadStarted,
		OnThreadExited:  s.onThreadExited,
	})
	s.mu.Lock()
	s.targets = mgr
	s.mu.Unlock()

	if err := mgr.Initialize(ctx); err != nil {
		return err
	}

	// An abrupt socket drop never produces detach events; surface it as
	// session termination.
	if done, ok := conn.(interface{ Done() <-chan struct{} }); ok {
		go func() {
			<-done.Done()
			s.sendTerminated()
		}()
	}
	return nil
}

// configureTarget arms a freshly attached session before its target is
// released: stack depth, blackboxing, custom breakpoints, and for the
// first target the breakpoint and exception state sync.
func (s *Session) configureTarget(ctx context.Context, session *cdp.Session, t *targets.Target) error {
	if s.cfg.AsyncStackDepth > 0 {
		if err := session.SetAsyncCallStackDepth(ctx, s.cfg.AsyncStackDepth); err != nil {
			s.logger.Debug("async stack depth rejected", zap.Error(err))
		}
	}
	if patterns := s.skip.Patterns(); len(patterns) > 0 {
		if err := session.SetBlackboxPatterns(ctx, patterns); err != nil {
			s.logger.Debug("blackbox patterns rejected", zap.Error(err))
		}
	}
	if t.Kind().SupportsCustomBreakpoints() {
		s.mu.Lock()
		ids := make([]string, 0, len(s.customBps))
		for id, on := range s.customBps {
			if on {
				ids = append(ids, id)
			}
		}
		s.mu.Unlock()
		for _, id := range ids {
			s.applyCustomBreakpoint(ctx, session, id, true)
		}
	}

	s.mu.Lock()
	first := !s.primarySet
	s.primarySet = true
	s.mu.Unlock()
	if first {
		s.bps.ConnectSession(ctx, session)
		if err := s.exc.ConnectSession(ctx, session); err != nil {
			s.logger.Warn("exception state push failed", zap.Error(err))
		}
	}
	return nil
}

func (s *Session) onThreadStarted(t *targets.Thread) {
	e := &dap.ThreadEvent{Event: s.newEvent("thread")}
	e.Body = dap.ThreadEventBody{Reason: "started", ThreadId: t.ID()}
	s.send(e)
}

func (s *Session) onThreadExited(t *targets.Thread) {
	s.mu.Lock()
	delete(s.stepping, t.ID())
	delete(s.pausedExc, t.ID())
	mgr := s.targets
	s.mu.Unlock()

	e := &dap.ThreadEvent{Event: s.newEvent("thread")}
	e.Body = dap.ThreadEventBody{Reason: "exited", ThreadId: t.ID()}
	s.send(e)

	if mgr != nil && len(mgr.Threads()) == 0 {
		s.sendTerminated()
	}
}

// --- CDP event routing ---

func (s *Session) subscribeRuntimeEvents(conn cdp.Connection) {
	ctx := context.Background()

	conn.On("Debugger.scriptParsed", func(sessionID string, params json.RawMessage) {
		var ev cdp.ScriptParsedEvent
		if json.Unmarshal(params, &ev) != nil {
			return
		}
		s.handleScriptParsed(ctx, sessionID, ev)
	})
	conn.On("Debugger.paused", func(sessionID string, params json.RawMessage) {
		var ev cdp.PausedEvent
		if json.Unmarshal(params, &ev) != nil {
			return
		}
		s.handlePaused(ctx, sessionID, &ev)
	})
	conn.On("Debugger.resumed", func(sessionID string, params json.RawMessage) {
		s.handleResumed(sessionID)
	})
	conn.On("Debugger.breakpointResolved", func(_ string, params json.RawMessage) {
		var ev cdp.BreakpointResolvedEvent
		if json.Unmarshal(params, &ev) != nil {
			return
		}
		s.bps.OnBreakpointResolved(ctx, ev)
	})
	conn.On("Runtime.executionContextCreated", func(sessionID string, params json.RawMessage) {
		var ev cdp.ExecutionContextCreatedEvent
		if json.Unmarshal(params, &ev) != nil {
			return
		}
		if t := s.threadForSession(sessionID); t != nil {
			t.OnContextCreated(ev.Context)
		}
	})
	conn.On("Runtime.executionContextDestroyed", func(sessionID string, params json.RawMessage) {
		var ev cdp.ExecutionContextDestroyedEvent
		if json.Unmarshal(params, &ev) != nil {
			return
		}
		if t := s.threadForSession(sessionID); t != nil {
			t.OnContextDestroyed(ev.ExecutionContextID)
		}
	})
	conn.On("Runtime.consoleAPICalled", func(_ string, params json.RawMessage) {
		var ev struct {
			Type string             `json:"type"`
			Args []cdp.RemoteObject `json:"args"`
		}
		if json.Unmarshal(params, &ev) != nil {
			return
		}
		s.handleConsoleAPI(ev.Type, ev.Args)
	})
}

func (s *Session) threadForSession(sessionID string) *targets.Thread {
	s.mu.Lock()
	mgr := s.targets
	s.mu.Unlock()
	if mgr == nil {
		return nil
	}
	return mgr.ThreadForSession(sessionID)
}

func (s *Session) handleScriptParsed(ctx context.Context, sessionID string, ev cdp.ScriptParsedEvent) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	sess := cdp.NewSession(conn, sessionID)
	scriptID := ev.ScriptID
	getter := func(ctx context.Context) (string, error) {
		return sess.GetScriptSource(ctx, scriptID)
	}
	src := s.registry.AddSource(ctx, ev.URL, getter, sources.AddSourceOptions{
		SourceMapURL: ev.SourceMapURL,
		ScriptOffset: sources.Offset{Line: ev.StartLine, Column: ev.StartColumn},
		ContentHash:  ev.Hash,
	})

	s.mu.Lock()
	s.scriptSrc[ev.ScriptID] = src
	if ev.URL != "" {
		s.scriptIDs[ev.URL] = ev.ScriptID
	}
	s.mu.Unlock()

	s.bps.OnScriptParsed(ctx, ev.ScriptID, ev.URL)
	s.sendLoadedSource("new", src.Descriptor())
}

func (s *Session) handlePaused(ctx context.Context, sessionID string, ev *cdp.PausedEvent) {
	thread := s.threadForSession(sessionID)
	if thread == nil {
		return
	}

	isException := ev.Reason == "exception" || ev.Reason == "promiseRejection"
	if isException && !s.exc.ShouldPauseAt(ctx, thread.Session(), ev) {
		if err := thread.Session().Resume(ctx); err != nil {
			s.logger.Debug("transparent resume failed", zap.Error(err))
		}
		return
	}

	thread.OnPaused(ev)

	reason := "pause"
	var text string
	s.mu.Lock()
	wasStepping := s.stepping[thread.ID()]
	delete(s.stepping, thread.ID())
	switch {
	case isException:
		reason = "exception"
		var data struct {
			ClassName   string `json:"className"`
			Description string `json:"description"`
			Uncaught    bool   `json:"uncaught"`
		}
		if len(ev.Data) > 0 {
			_ = json.Unmarshal(ev.Data, &data)
		}
		s.pausedExc[thread.ID()] = &exceptionState{
			className:   data.ClassName,
			description: data.Description,
			uncaught:    data.Uncaught,
		}
		text = data.Description
	case len(ev.HitBreakpoints) > 0 || ev.Reason == "debuggerStatement":
		reason = "breakpoint"
	case wasStepping:
		reason = "step"
	}
	s.mu.Unlock()

	e := &dap.StoppedEvent{Event: s.newEvent("stopped")}
	e.Body = dap.StoppedEventBody{
		Reason:            reason,
		ThreadId:          thread.ID(),
		Text:              text,
		AllThreadsStopped: false,
		HitBreakpointIds:  s.bps.IDsForCDP(ev.HitBreakpoints),
	}
	s.send(e)
}

func (s *Session) handleResumed(sessionID string) {
	thread := s.threadForSession(sessionID)
	if thread == nil {
		return
	}
	thread.OnResumed()
	s.mu.Lock()
	delete(s.pausedExc, thread.ID())
	s.mu.Unlock()

	e := &dap.ContinuedEvent{Event: s.newEvent("continued")}
	e.Body = dap.ContinuedEventBody{ThreadId: thread.ID(), AllThreadsContinued: false}
	s.send(e)
}

func (s *Session) handleConsoleAPI(callType string, args []cdp.RemoteObject) {
	category := "stdout"
	switch callType {
	case "error", "assert":
		category = "stderr"
	case "warning":
		category = "console"
	}
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, targets.DescribeObject(a))
	}
	s.output(category, strings.Join(parts, " ")+"\n")
}

// --- custom breakpoint plumbing ---

// applyCustomBreakpoint toggles one DOM/event instrumentation
// breakpoint on a page-like session.
func (s *Session) applyCustomBreakpoint(ctx context.Context, session *cdp.Session, id string, enable bool) {
	var method string
	var params map[string]string
	if name, ok := strings.CutPrefix(id, "instrumentation:"); ok {
		method = "DOMDebugger.setInstrumentationBreakpoint"
		if !enable {
			method = "DOMDebugger.removeInstrumentationBreakpoint"
		}
		params = map[string]string{"eventName": name}
	} else if name, ok := strings.CutPrefix(id, "listener:"); ok {
		method = "DOMDebugger.setEventListenerBreakpoint"
		if !enable {
			method = "DOMDebugger.removeEventListenerBreakpoint"
		}
		params = map[string]string{"eventName": name}
	} else {
		s.logger.Debug("unknown custom breakpoint id", zap.String("id", id))
		return
	}
	if err := session.Call(ctx, method, params, nil); err != nil {
		s.logger.Debug("custom breakpoint toggle failed",
			zap.String("id", id), zap.Error(err))
	}
}

// lookupSource finds a live source by reference, path or URL.
func (s *Session) lookupSource(ref int, path string) *sources.Source {
	if ref > 0 {
		if src := s.registry.SourceForReference(ref); src != nil {
			return src
		}
	}
	if path == "" {
		return nil
	}
	if src := s.registry.SourceForPath(path); src != nil {
		return src
	}
	for _, src := range s.registry.AllSources() {
		if src.URL() == path {
			return src
		}
	}
	return nil
}

// Close tears the runtime side down. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	mgr := s.targets
	pred := s.predictor
	s.targets = nil
	s.predictor = nil
	s.mu.Unlock()

	if mgr != nil {
		mgr.Close()
	}
	if pred != nil {
		if err := pred.Close(); err != nil {
			s.logger.Debug("predictor close failed", zap.Error(err))
		}
	}
}
