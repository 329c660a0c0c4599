package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"sort"

	"github.com/google/go-dap"
	"go.uber.org/zap"

	"github.com/jsdap/jsdap/internal/breakpoints"
	"github.com/jsdap/jsdap/internal/cdp"
	jsdaperr "github.com/jsdap/jsdap/internal/errors"
	"github.com/jsdap/jsdap/internal/exceptions"
	"github.com/jsdap/jsdap/internal/sources"
	"github.com/jsdap/jsdap/internal/targets"
	"github.com/jsdap/jsdap/pkg/types"
)

// Dispatch routes one typed client request. Every handler is wrapped so
// a failure degrades that one request into an error response, never the
// session. Returns true when the session should end.
func (s *Session) Dispatch(ctx context.Context, msg dap.Message) (exit bool) {
	req, ok := msg.(dap.RequestMessage)
	if !ok {
		return false
	}
	r := req.GetRequest()

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("request handler panicked",
				zap.String("command", r.Command), zap.Any("panic", p))
			s.sendErrorResponse(r, fmt.Errorf("internal error handling %s: %v", r.Command, p))
		}
	}()

	switch req := msg.(type) {
	case *dap.InitializeRequest:
		s.onInitialize(req)
	case *dap.LaunchRequest:
		s.onLaunchOrAttach(ctx, r, req.Arguments)
	case *dap.AttachRequest:
		s.onLaunchOrAttach(ctx, r, req.Arguments)
	case *dap.SetBreakpointsRequest:
		s.onSetBreakpoints(ctx, req)
	case *dap.SetExceptionBreakpointsRequest:
		s.onSetExceptionBreakpoints(ctx, req)
	case *dap.ConfigurationDoneRequest:
		s.onConfigurationDone(ctx, r)
	case *dap.LoadedSourcesRequest:
		s.onLoadedSources(r)
	case *dap.SourceRequest:
		s.onSource(ctx, req)
	case *dap.ThreadsRequest:
		s.onThreads(r)
	case *dap.StackTraceRequest:
		s.onStackTrace(ctx, req)
	case *dap.ScopesRequest:
		s.onScopes(req)
	case *dap.VariablesRequest:
		s.onVariables(ctx, req)
	case *dap.SetVariableRequest:
		s.onSetVariable(ctx, req)
	case *dap.ContinueRequest:
		s.onContinue(ctx, req)
	case *dap.PauseRequest:
		s.onPause(ctx, req)
	case *dap.NextRequest:
		s.onStep(ctx, r, req.Arguments.ThreadId, stepOver)
	case *dap.StepInRequest:
		s.onStep(ctx, r, req.Arguments.ThreadId, stepInto)
	case *dap.StepOutRequest:
		s.onStep(ctx, r, req.Arguments.ThreadId, stepOut)
	case *dap.EvaluateRequest:
		s.onEvaluate(ctx, req)
	case *dap.ExceptionInfoRequest:
		s.onExceptionInfo(req)
	case *dap.BreakpointLocationsRequest:
		s.onBreakpointLocations(ctx, req)
	case *dap.TerminateRequest:
		s.onTerminate(r)
	case *dap.DisconnectRequest:
		s.onDisconnect(r)
		return true
	default:
		s.sendErrorResponse(r, jsdaperr.InvalidParameter("command", r.Command, "a supported request"))
	}
	return false
}

func (s *Session) newResponse(r *dap.Request) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: s.tr.NextSeq(), Type: "response"},
		RequestSeq:      r.Seq,
		Success:         true,
		Command:         r.Command,
	}
}

func (s *Session) sendErrorResponse(r *dap.Request, err error) {
	de := jsdaperr.FromError(err)
	resp := &dap.ErrorResponse{Response: s.newResponse(r)}
	resp.Success = false
	resp.Message = string(de.Code)
	resp.Body.Error = &dap.ErrorMessage{
		Id:       int(crc32.ChecksumIEEE([]byte(de.Code))) & 0x7fff,
		Format:   de.Error(),
		ShowUser: true,
	}
	s.send(resp)
	s.logger.Debug("request failed",
		zap.String("command", r.Command),
		zap.String("code", string(de.Code)),
		zap.Error(err))
}

// --- lifecycle ---

func (s *Session) onInitialize(req *dap.InitializeRequest) {
	s.mu.Lock()
	s.linesStartAt1 = req.Arguments.LinesStartAt1
	s.columnsStartAt1 = req.Arguments.ColumnsStartAt1
	s.mu.Unlock()

	resp := &dap.InitializeResponse{Response: s.newResponse(req.GetRequest())}
	resp.Body = dap.Capabilities{
		SupportsConfigurationDoneRequest:   true,
		SupportsConditionalBreakpoints:     true,
		SupportsHitConditionalBreakpoints:  true,
		SupportsLogPoints:                  true,
		SupportsSetVariable:                true,
		SupportsEvaluateForHovers:          true,
		SupportsExceptionInfoRequest:       true,
		SupportsExceptionFilterOptions:     true,
		SupportsLoadedSourcesRequest:       true,
		SupportsBreakpointLocationsRequest: true,
		SupportsTerminateRequest:           true,
		ExceptionBreakpointFilters: []dap.ExceptionBreakpointsFilter{
			{
				Filter:               "all",
				Label:                "Caught Exceptions",
				SupportsCondition:    true,
				ConditionDescription: `error.name === "MyError"`,
			},
			{
				Filter:            "uncaught",
				Label:             "Uncaught Exceptions",
				SupportsCondition: true,
			},
		},
	}
	s.send(resp)
}

func (s *Session) onLaunchOrAttach(ctx context.Context, r *dap.Request, raw []byte) {
	var args launchArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			s.sendErrorResponse(r, jsdaperr.InvalidParameter("arguments", string(raw), "a JSON launch configuration"))
			return
		}
	}
	if err := s.connect(ctx, args); err != nil {
		s.sendErrorResponse(r, err)
		return
	}
	resp := s.newResponse(r)
	s.send(&resp)
	// The client replies with its breakpoint configuration and a
	// configurationDone once it sees this.
	s.send(&dap.InitializedEvent{Event: s.newEvent("initialized")})
}

// onConfigurationDone completes once the initial breakpoint and
// exception state has been synced to the runtime, so a target released
// afterwards cannot run past a breakpoint that was still in flight.
func (s *Session) onConfigurationDone(ctx context.Context, r *dap.Request) {
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.ScriptPausedTimeout)
	defer cancel()
	if err := s.bps.LaunchGate().Wait(waitCtx); err != nil {
		s.logger.Warn("breakpoint sync incomplete at configurationDone", zap.Error(err))
	}
	if err := s.exc.LaunchGate().Wait(waitCtx); err != nil {
		s.logger.Warn("exception sync incomplete at configurationDone", zap.Error(err))
	}
	resp := s.newResponse(r)
	s.send(&resp)
}

func (s *Session) onTerminate(r *dap.Request) {
	resp := s.newResponse(r)
	s.send(&resp)
	s.Close()
	s.sendTerminated()
}

func (s *Session) onDisconnect(r *dap.Request) {
	s.Close()
	resp := s.newResponse(r)
	s.send(&resp)
}

// --- breakpoints ---

func (s *Session) onSetBreakpoints(ctx context.Context, req *dap.SetBreakpointsRequest) {
	args := req.Arguments
	spec := breakpoints.SourceSpec{
		Path:            args.Source.Path,
		SourceReference: args.Source.SourceReference,
	}
	reqs := make([]breakpoints.Request, len(args.Breakpoints))
	for i, b := range args.Breakpoints {
		reqs[i] = breakpoints.Request{
			Line:         s.inLine(b.Line),
			Condition:    b.Condition,
			HitCondition: b.HitCondition,
			LogMessage:   b.LogMessage,
		}
		if b.Column > 0 {
			reqs[i].Column = s.inCol(b.Column)
		}
	}

	results := s.bps.SetBreakpoints(ctx, spec, reqs)

	resp := &dap.SetBreakpointsResponse{Response: s.newResponse(req.GetRequest())}
	resp.Body.Breakpoints = make([]dap.Breakpoint, len(results))
	for i, res := range results {
		src := args.Source
		resp.Body.Breakpoints[i] = dap.Breakpoint{
			Id:       res.ID,
			Verified: res.Verified,
			Message:  res.Message,
			Source:   &src,
			Line:     s.outLine(res.Line),
		}
		if res.Column > 0 {
			resp.Body.Breakpoints[i].Column = s.outCol(res.Column)
		}
	}
	s.send(resp)
}

func (s *Session) onSetExceptionBreakpoints(ctx context.Context, req *dap.SetExceptionBreakpointsRequest) {
	var filters []exceptions.Filter
	for _, f := range req.Arguments.Filters {
		filters = append(filters, exceptions.Filter{ID: f})
	}
	for _, f := range req.Arguments.FilterOptions {
		filters = append(filters, exceptions.Filter{ID: f.FilterId, Condition: f.Condition})
	}
	if err := s.exc.SetExceptionBreakpoints(ctx, filters); err != nil {
		s.sendErrorResponse(req.GetRequest(), err)
		return
	}
	resp := &dap.SetExceptionBreakpointsResponse{Response: s.newResponse(req.GetRequest())}
	s.send(resp)
}

func (s *Session) onBreakpointLocations(ctx context.Context, req *dap.BreakpointLocationsRequest) {
	args := req.Arguments
	line := s.inLine(args.Line)
	endLine := line
	if args.EndLine > 0 {
		endLine = s.inLine(args.EndLine)
	}

	locs := s.possibleBreakpointLines(ctx, args.Source, line, endLine)
	if len(locs) == 0 {
		locs = []dap.BreakpointLocation{{Line: args.Line, Column: args.Column}}
	}
	resp := &dap.BreakpointLocationsResponse{Response: s.newResponse(req.GetRequest())}
	resp.Body.Breakpoints = locs
	s.send(resp)
}

// possibleBreakpointLines asks the runtime for valid break locations in
// a line range and translates them back into the requested source.
func (s *Session) possibleBreakpointLines(ctx context.Context, source dap.Source, line, endLine int) []dap.BreakpointLocation {
	src := s.lookupSource(source.SourceReference, source.Path)
	if src == nil {
		return nil
	}

	// Hop to a compiled sibling the runtime actually knows about.
	ui := sources.UILocation{Source: src, Line: line, Column: 1}
	var scriptID string
	var compiled *sources.Source
	for _, sib := range s.registry.CurrentSiblingUILocations(ui, nil) {
		if sib.Source.FromMap() {
			continue
		}
		s.mu.Lock()
		id := s.scriptIDs[sib.Source.URL()]
		s.mu.Unlock()
		if id != "" {
			scriptID, compiled = id, sib.Source
			ui = sib
			break
		}
	}
	if scriptID == "" {
		return nil
	}
	session := s.anySession()
	if session == nil {
		return nil
	}

	res, err := session.GetPossibleBreakpoints(ctx, cdp.GetPossibleBreakpointsParams{
		Start: cdp.Location{ScriptID: scriptID, LineNumber: ui.Line - 1},
		End:   &cdp.Location{ScriptID: scriptID, LineNumber: ui.Line - 1 + (endLine - line) + 1},
	})
	if err != nil {
		s.logger.Debug("getPossibleBreakpoints failed", zap.Error(err))
		return nil
	}

	var out []dap.BreakpointLocation
	seen := make(map[dap.BreakpointLocation]struct{})
	for _, bl := range res.Locations {
		pref := s.registry.PreferredUILocation(ctx, sources.UILocation{
			Source: compiled,
			Line:   bl.LineNumber + 1,
			Column: bl.ColumnNumber + 1,
		})
		if pref.Source != src || pref.Line < line || pref.Line > endLine {
			continue
		}
		loc := dap.BreakpointLocation{Line: s.outLine(pref.Line), Column: s.outCol(pref.Column)}
		if _, dup := seen[loc]; dup {
			continue
		}
		seen[loc] = struct{}{}
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].Column < out[j].Column
	})
	return out
}

// --- sources ---

func (s *Session) onLoadedSources(r *dap.Request) {
	all := s.registry.AllSources()
	srcs := make([]dap.Source, 0, len(all))
	for _, src := range all {
		srcs = append(srcs, toDAPSource(src.Descriptor()))
	}
	sort.Slice(srcs, func(i, j int) bool { return srcs[i].Name < srcs[j].Name })

	resp := &dap.LoadedSourcesResponse{Response: s.newResponse(r)}
	resp.Body.Sources = srcs
	s.send(resp)
}

func (s *Session) onSource(ctx context.Context, req *dap.SourceRequest) {
	ref := req.Arguments.SourceReference
	path := ""
	if req.Arguments.Source != nil {
		if ref == 0 {
			ref = req.Arguments.Source.SourceReference
		}
		path = req.Arguments.Source.Path
	}
	src := s.lookupSource(ref, path)
	if src == nil {
		s.sendErrorResponse(req.GetRequest(), jsdaperr.SourceNotFound(ref, path))
		return
	}
	content, err := src.Content(ctx)
	if err != nil {
		s.sendErrorResponse(req.GetRequest(), jsdaperr.SourceContentUnavailable(src.URL(), err))
		return
	}
	resp := &dap.SourceResponse{Response: s.newResponse(req.GetRequest())}
	resp.Body.Content = content
	resp.Body.MimeType = "text/javascript"
	s.send(resp)
}

// --- threads and stacks ---

func (s *Session) threadByID(id int) (*targets.Thread, error) {
	s.mu.Lock()
	mgr := s.targets
	s.mu.Unlock()
	if mgr == nil {
		return nil, jsdaperr.ThreadNotFound(id)
	}
	t := mgr.ThreadByID(id)
	if t == nil {
		return nil, jsdaperr.ThreadNotFound(id)
	}
	return t, nil
}

// anySession returns a live session for script-level queries that are
// not bound to one thread.
func (s *Session) anySession() *cdp.Session {
	s.mu.Lock()
	mgr := s.targets
	s.mu.Unlock()
	if mgr == nil {
		return nil
	}
	threads := mgr.Threads()
	if len(threads) == 0 {
		return nil
	}
	return threads[0].Session()
}

func (s *Session) onThreads(r *dap.Request) {
	resp := &dap.ThreadsResponse{Response: s.newResponse(r)}
	s.mu.Lock()
	mgr := s.targets
	s.mu.Unlock()
	if mgr != nil {
		for _, t := range mgr.Threads() {
			resp.Body.Threads = append(resp.Body.Threads, dap.Thread{Id: t.ID(), Name: t.Name()})
		}
	}
	if resp.Body.Threads == nil {
		resp.Body.Threads = []dap.Thread{}
	}
	s.send(resp)
}

func (s *Session) onStackTrace(ctx context.Context, req *dap.StackTraceRequest) {
	thread, err := s.threadByID(req.Arguments.ThreadId)
	if err != nil {
		s.sendErrorResponse(req.GetRequest(), err)
		return
	}
	paused := thread.Paused()
	if paused == nil {
		s.sendErrorResponse(req.GetRequest(), jsdaperr.ThreadNotPaused(thread.ID()))
		return
	}

	frames := paused.CallFrames
	start := req.Arguments.StartFrame
	levels := req.Arguments.Levels
	if levels <= 0 {
		levels = len(frames)
	}

	resp := &dap.StackTraceResponse{Response: s.newResponse(req.GetRequest())}
	resp.Body.TotalFrames = len(frames)
	for i := start; i < len(frames) && len(resp.Body.StackFrames) < levels; i++ {
		f := frames[i]
		name := f.FunctionName
		if name == "" {
			name = "<anonymous>"
		}
		desc, line, col := s.frameUILocation(ctx, f)
		sf := dap.StackFrame{
			Id:     thread.ID()*frameStride + i,
			Name:   name,
			Line:   s.outLine(line),
			Column: s.outCol(col),
		}
		src := toDAPSource(desc)
		sf.Source = &src
		if s.skip.IsSkipped(f.URL) {
			sf.PresentationHint = "subtle"
		}
		resp.Body.StackFrames = append(resp.Body.StackFrames, sf)
	}
	if resp.Body.StackFrames == nil {
		resp.Body.StackFrames = []dap.StackFrame{}
	}
	s.send(resp)
}

// frameUILocation maps one paused frame to its deepest user-visible
// location, degrading to the raw runtime position when the script is
// unknown or unmapped.
func (s *Session) frameUILocation(ctx context.Context, f cdp.DebuggerFrame) (types.SourceDescriptor, int, int) {
	s.mu.Lock()
	src := s.scriptSrc[f.Location.ScriptID]
	s.mu.Unlock()
	if src == nil {
		return types.SourceDescriptor{Name: f.URL, Path: f.URL},
			f.Location.LineNumber + 1, f.Location.ColumnNumber + 1
	}
	pref := s.registry.PreferredUILocation(ctx, sources.UILocation{
		Source: src,
		Line:   f.Location.LineNumber + 1,
		Column: f.Location.ColumnNumber + 1,
	})
	return pref.Source.Descriptor(), pref.Line, pref.Column
}

// --- scopes and variables ---

func (s *Session) onScopes(req *dap.ScopesRequest) {
	frameID := req.Arguments.FrameId
	thread, err := s.threadByID(frameID / frameStride)
	if err != nil {
		s.sendErrorResponse(req.GetRequest(), err)
		return
	}
	refs, err := thread.ScopeRefs(frameID % frameStride)
	if err != nil {
		s.sendErrorResponse(req.GetRequest(), err)
		return
	}
	resp := &dap.ScopesResponse{Response: s.newResponse(req.GetRequest())}
	resp.Body.Scopes = make([]dap.Scope, len(refs))
	for i, ref := range refs {
		resp.Body.Scopes[i] = dap.Scope{
			Name:               ref.Name,
			VariablesReference: ref.Ref,
			Expensive:          ref.Expensive,
		}
	}
	s.send(resp)
}

func (s *Session) onVariables(ctx context.Context, req *dap.VariablesRequest) {
	ref := req.Arguments.VariablesReference
	thread, err := s.threadByID(ref / 1_000_000)
	if err != nil {
		s.sendErrorResponse(req.GetRequest(), err)
		return
	}
	vars, err := thread.Variables(ctx, ref)
	if err != nil {
		s.sendErrorResponse(req.GetRequest(), err)
		return
	}
	resp := &dap.VariablesResponse{Response: s.newResponse(req.GetRequest())}
	resp.Body.Variables = make([]dap.Variable, len(vars))
	for i, v := range vars {
		resp.Body.Variables[i] = dap.Variable{
			Name:               v.Name,
			Value:              v.Value,
			Type:               v.Type,
			VariablesReference: v.Ref,
		}
	}
	s.send(resp)
}

func (s *Session) onSetVariable(ctx context.Context, req *dap.SetVariableRequest) {
	ref := req.Arguments.VariablesReference
	thread, err := s.threadByID(ref / 1_000_000)
	if err != nil {
		s.sendErrorResponse(req.GetRequest(), err)
		return
	}
	v, err := thread.SetVariable(ctx, ref, req.Arguments.Name, req.Arguments.Value)
	if err != nil {
		s.sendErrorResponse(req.GetRequest(), err)
		return
	}
	resp := &dap.SetVariableResponse{Response: s.newResponse(req.GetRequest())}
	resp.Body.Value = v.Value
	resp.Body.Type = v.Type
	resp.Body.VariablesReference = v.Ref
	s.send(resp)
}

// --- execution control ---

type stepKind int

const (
	stepOver stepKind = iota
	stepInto
	stepOut
)

func (s *Session) onContinue(ctx context.Context, req *dap.ContinueRequest) {
	thread, err := s.threadByID(req.Arguments.ThreadId)
	if err != nil {
		s.sendErrorResponse(req.GetRequest(), err)
		return
	}
	if err := thread.Session().Resume(ctx); err != nil {
		s.sendErrorResponse(req.GetRequest(), err)
		return
	}
	resp := &dap.ContinueResponse{Response: s.newResponse(req.GetRequest())}
	resp.Body.AllThreadsContinued = false
	s.send(resp)
}

func (s *Session) onPause(ctx context.Context, req *dap.PauseRequest) {
	thread, err := s.threadByID(req.Arguments.ThreadId)
	if err != nil {
		s.sendErrorResponse(req.GetRequest(), err)
		return
	}
	if err := thread.Session().Pause(ctx); err != nil {
		s.sendErrorResponse(req.GetRequest(), err)
		return
	}
	resp := s.newResponse(req.GetRequest())
	s.send(&resp)
}

func (s *Session) onStep(ctx context.Context, r *dap.Request, threadID int, kind stepKind) {
	thread, err := s.threadByID(threadID)
	if err != nil {
		s.sendErrorResponse(r, err)
		return
	}

	s.mu.Lock()
	s.stepping[thread.ID()] = true
	s.mu.Unlock()

	switch kind {
	case stepInto:
		err = thread.Session().StepInto(ctx)
	case stepOut:
		err = thread.Session().StepOut(ctx)
	default:
		err = thread.Session().StepOver(ctx)
	}
	if err != nil {
		s.mu.Lock()
		delete(s.stepping, thread.ID())
		s.mu.Unlock()
		s.sendErrorResponse(r, err)
		return
	}
	resp := s.newResponse(r)
	s.send(&resp)
}

// --- evaluation ---

func (s *Session) onEvaluate(ctx context.Context, req *dap.EvaluateRequest) {
	var thread *targets.Thread
	frameIndex := -1
	if req.Arguments.FrameId > 0 {
		t, err := s.threadByID(req.Arguments.FrameId / frameStride)
		if err != nil {
			s.sendErrorResponse(req.GetRequest(), err)
			return
		}
		thread = t
		frameIndex = req.Arguments.FrameId % frameStride
	} else {
		s.mu.Lock()
		mgr := s.targets
		s.mu.Unlock()
		if mgr != nil {
			for _, t := range mgr.Threads() {
				if thread == nil || t.Paused() != nil {
					thread = t
				}
				if t.Paused() != nil {
					break
				}
			}
		}
		if thread == nil {
			s.sendErrorResponse(req.GetRequest(), jsdaperr.ThreadNotFound(0))
			return
		}
	}

	res, err := thread.Evaluate(ctx, req.Arguments.Expression, frameIndex)
	if err != nil {
		s.sendErrorResponse(req.GetRequest(), err)
		return
	}
	if res.ExceptionDetails != nil {
		detail := res.ExceptionDetails.Text
		if res.ExceptionDetails.Exception != nil {
			detail = targets.DescribeObject(*res.ExceptionDetails.Exception)
		}
		s.sendErrorResponse(req.GetRequest(),
			jsdaperr.EvaluationFailed(req.Arguments.Expression, errors.New(detail)))
		return
	}

	resp := &dap.EvaluateResponse{Response: s.newResponse(req.GetRequest())}
	resp.Body.Result = targets.DescribeObject(res.Result)
	resp.Body.Type = res.Result.Type
	resp.Body.VariablesReference = thread.RefForObject(res.Result)
	s.send(resp)
}

func (s *Session) onExceptionInfo(req *dap.ExceptionInfoRequest) {
	s.mu.Lock()
	state := s.pausedExc[req.Arguments.ThreadId]
	s.mu.Unlock()
	if state == nil {
		s.sendErrorResponse(req.GetRequest(),
			jsdaperr.InvalidParameter("threadId", req.Arguments.ThreadId, "a thread paused on an exception"))
		return
	}

	breakMode := dap.ExceptionBreakMode("always")
	if state.uncaught {
		breakMode = "unhandled"
	}
	exceptionID := state.className
	if exceptionID == "" {
		exceptionID = "Error"
	}
	resp := &dap.ExceptionInfoResponse{Response: s.newResponse(req.GetRequest())}
	resp.Body.ExceptionId = exceptionID
	resp.Body.Description = state.description
	resp.Body.BreakMode = breakMode
	s.send(resp)
}

// --- coordinate bases ---

// The client declares its line/column base in initialize; internal
// operation is 1-based throughout.

func (s *Session) inLine(l int) int {
	if s.linesStartAt1 {
		return l
	}
	return l + 1
}

func (s *Session) outLine(l int) int {
	if s.linesStartAt1 {
		return l
	}
	return l - 1
}

func (s *Session) inCol(c int) int {
	if s.columnsStartAt1 {
		return c
	}
	return c + 1
}

func (s *Session) outCol(c int) int {
	if s.columnsStartAt1 {
		return c
	}
	return c - 1
}
