package cdp

import (
	"context"
	"encoding/json"
)

// Session is a view of a connection scoped to one attached target. The
// zero session id addresses the top-level (browser or Node main) target.
type Session struct {
	conn Connection
	id   string
}

// NewSession wraps a connection for the given CDP session id.
func NewSession(conn Connection, sessionID string) *Session {
	return &Session{conn: conn, id: sessionID}
}

// ID returns the CDP session id, empty for the root session.
func (s *Session) ID() string { return s.id }

// Call issues a raw command on this session.
func (s *Session) Call(ctx context.Context, method string, params, result interface{}) error {
	return s.conn.Call(ctx, s.id, method, params, result)
}

// On registers a handler for events arriving on this session only.
func (s *Session) On(method string, handler func(params json.RawMessage)) func() {
	return s.conn.On(method, func(sessionID string, params json.RawMessage) {
		if sessionID == s.id {
			handler(params)
		}
	})
}

// --- Debugger domain ---

// DebuggerEnable enables the Debugger domain.
func (s *Session) DebuggerEnable(ctx context.Context) error {
	return s.Call(ctx, "Debugger.enable", nil, nil)
}

// SetBreakpointByURL plants a breakpoint that survives reloads of
// matching scripts.
func (s *Session) SetBreakpointByURL(ctx context.Context, params SetBreakpointByURLParams) (SetBreakpointByURLResult, error) {
	var result SetBreakpointByURLResult
	err := s.Call(ctx, "Debugger.setBreakpointByUrl", params, &result)
	return result, err
}

// RemoveBreakpoint removes a breakpoint by its CDP id.
func (s *Session) RemoveBreakpoint(ctx context.Context, breakpointID string) error {
	return s.Call(ctx, "Debugger.removeBreakpoint", map[string]string{"breakpointId": breakpointID}, nil)
}

// SetPauseOnExceptions sets the exception pause state: none, all or uncaught.
func (s *Session) SetPauseOnExceptions(ctx context.Context, state string) error {
	return s.Call(ctx, "Debugger.setPauseOnExceptions", map[string]string{"state": state}, nil)
}

// SetAsyncCallStackDepth enables async stack collection.
func (s *Session) SetAsyncCallStackDepth(ctx context.Context, depth int) error {
	return s.Call(ctx, "Debugger.setAsyncCallStackDepth", map[string]int{"maxDepth": depth}, nil)
}

// SetBlackboxPatterns pushes skip-file patterns to the runtime.
func (s *Session) SetBlackboxPatterns(ctx context.Context, patterns []string) error {
	return s.Call(ctx, "Debugger.setBlackboxPatterns", map[string][]string{"patterns": patterns}, nil)
}

// GetScriptSource fetches the text of a parsed script.
func (s *Session) GetScriptSource(ctx context.Context, scriptID string) (string, error) {
	var result struct {
		ScriptSource string `json:"scriptSource"`
	}
	err := s.Call(ctx, "Debugger.getScriptSource", map[string]string{"scriptId": scriptID}, &result)
	return result.ScriptSource, err
}

// GetPossibleBreakpoints enumerates valid break locations in a range.
func (s *Session) GetPossibleBreakpoints(ctx context.Context, params GetPossibleBreakpointsParams) (GetPossibleBreakpointsResult, error) {
	var result GetPossibleBreakpointsResult
	err := s.Call(ctx, "Debugger.getPossibleBreakpoints", params, &result)
	return result, err
}

// EvaluateOnCallFrame evaluates an expression in a paused frame.
func (s *Session) EvaluateOnCallFrame(ctx context.Context, params EvaluateOnCallFrameParams) (EvaluateResult, error) {
	var result EvaluateResult
	err := s.Call(ctx, "Debugger.evaluateOnCallFrame", params, &result)
	return result, err
}

// SetVariableValue writes a scope variable in a paused frame.
func (s *Session) SetVariableValue(ctx context.Context, scopeNumber int, name string, value CallArgument, callFrameID string) error {
	params := map[string]interface{}{
		"scopeNumber":  scopeNumber,
		"variableName": name,
		"newValue":     value,
		"callFrameId":  callFrameID,
	}
	return s.Call(ctx, "Debugger.setVariableValue", params, nil)
}

// Resume resumes execution.
func (s *Session) Resume(ctx context.Context) error {
	return s.Call(ctx, "Debugger.resume", nil, nil)
}

// Pause interrupts execution at the next statement.
func (s *Session) Pause(ctx context.Context) error {
	return s.Call(ctx, "Debugger.pause", nil, nil)
}

// StepOver steps over the next statement.
func (s *Session) StepOver(ctx context.Context) error {
	return s.Call(ctx, "Debugger.stepOver", nil, nil)
}

// StepInto steps into the next call.
func (s *Session) StepInto(ctx context.Context) error {
	return s.Call(ctx, "Debugger.stepInto", nil, nil)
}

// StepOut steps out of the current frame.
func (s *Session) StepOut(ctx context.Context) error {
	return s.Call(ctx, "Debugger.stepOut", nil, nil)
}

// --- Runtime domain ---

// RuntimeEnable enables the Runtime domain.
func (s *Session) RuntimeEnable(ctx context.Context) error {
	return s.Call(ctx, "Runtime.enable", nil, nil)
}

// Evaluate evaluates an expression in an execution context.
func (s *Session) Evaluate(ctx context.Context, params EvaluateParams) (EvaluateResult, error) {
	var result EvaluateResult
	err := s.Call(ctx, "Runtime.evaluate", params, &result)
	return result, err
}

// CallFunctionOn calls a function with a bound receiver object.
func (s *Session) CallFunctionOn(ctx context.Context, params CallFunctionOnParams) (EvaluateResult, error) {
	var result EvaluateResult
	err := s.Call(ctx, "Runtime.callFunctionOn", params, &result)
	return result, err
}

// GetProperties enumerates the properties of a remote object.
func (s *Session) GetProperties(ctx context.Context, params GetPropertiesParams) (GetPropertiesResult, error) {
	var result GetPropertiesResult
	err := s.Call(ctx, "Runtime.getProperties", params, &result)
	return result, err
}

// RunIfWaitingForDebugger releases a target that blocked on startup.
func (s *Session) RunIfWaitingForDebugger(ctx context.Context) error {
	return s.Call(ctx, "Runtime.runIfWaitingForDebugger", nil, nil)
}

// --- Target domain ---

// SetAutoAttach asks the runtime to auto-attach child targets.
func (s *Session) SetAutoAttach(ctx context.Context, waitForDebuggerOnStart bool) error {
	params := map[string]interface{}{
		"autoAttach":             true,
		"waitForDebuggerOnStart": waitForDebuggerOnStart,
		"flatten":                true,
	}
	return s.Call(ctx, "Target.setAutoAttach", params, nil)
}

// AttachToTarget attaches to a discovered target, returning the new
// session id.
func (s *Session) AttachToTarget(ctx context.Context, targetID string) (string, error) {
	var result struct {
		SessionID string `json:"sessionId"`
	}
	params := map[string]interface{}{"targetId": targetID, "flatten": true}
	err := s.Call(ctx, "Target.attachToTarget", params, &result)
	return result.SessionID, err
}

// DetachFromTarget detaches an attached session.
func (s *Session) DetachFromTarget(ctx context.Context, sessionID string) error {
	return s.Call(ctx, "Target.detachFromTarget", map[string]string{"sessionId": sessionID}, nil)
}

// SetDiscoverTargets toggles Target.targetCreated/Destroyed events.
func (s *Session) SetDiscoverTargets(ctx context.Context, discover bool) error {
	return s.Call(ctx, "Target.setDiscoverTargets", map[string]bool{"discover": discover}, nil)
}

// --- Page domain ---

// PageEnable enables the Page domain.
func (s *Session) PageEnable(ctx context.Context) error {
	return s.Call(ctx, "Page.enable", nil, nil)
}

// GetFrameTree returns the frame tree of a page target.
func (s *Session) GetFrameTree(ctx context.Context) (FrameTree, error) {
	var result struct {
		FrameTree FrameTree `json:"frameTree"`
	}
	err := s.Call(ctx, "Page.getFrameTree", nil, &result)
	return result.FrameTree, err
}
