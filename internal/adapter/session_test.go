package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/google/go-dap"
	"go.uber.org/zap"

	"github.com/jsdap/jsdap/internal/cdp"
	"github.com/jsdap/jsdap/internal/cdp/cdptest"
	"github.com/jsdap/jsdap/internal/config"
)

// recordingConn captures everything the session writes so tests can
// decode the emitted DAP frames afterwards.
type recordingConn struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *recordingConn) Read(p []byte) (int, error) { return 0, io.EOF }

func (c *recordingConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *recordingConn) Close() error { return nil }

// frames returns the raw JSON payload of every written message.
func (c *recordingConn) frames(t *testing.T) []json.RawMessage {
	t.Helper()
	c.mu.Lock()
	data := append([]byte(nil), c.buf.Bytes()...)
	c.mu.Unlock()

	r := bufio.NewReader(bytes.NewReader(data))
	var out []json.RawMessage
	for {
		frame, err := dap.ReadBaseMessage(r)
		if err != nil {
			return out
		}
		out = append(out, json.RawMessage(frame))
	}
}

// messages decodes the typed DAP messages, skipping extension frames
// the protocol library does not know.
func (c *recordingConn) messages(t *testing.T) []dap.Message {
	t.Helper()
	var out []dap.Message
	for _, frame := range c.frames(t) {
		msg, err := dap.DecodeProtocolMessage(frame)
		if err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out
}

func newTestSession(t *testing.T) (*Session, *recordingConn, *cdptest.Fake) {
	t.Helper()
	fake := cdptest.NewFake()
	rwc := &recordingConn{}
	cfg := config.DefaultConfig()
	cfg.Prediction.Enabled = false

	dial := func(ctx context.Context, endpoint string, logger *zap.Logger) (cdp.Connection, error) {
		return fake, nil
	}
	s := NewSession(zap.NewNop(), cfg, NewTransport(rwc), dial)
	t.Cleanup(s.Close)
	return s, rwc, fake
}

func newRequest(seq int, command string) dap.Request {
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "request"},
		Command:         command,
	}
}

// initAndLaunch drives the session through initialize and launch.
func initAndLaunch(t *testing.T, s *Session) {
	t.Helper()
	ctx := context.Background()
	s.Dispatch(ctx, &dap.InitializeRequest{
		Request:   newRequest(1, "initialize"),
		Arguments: dap.InitializeRequestArguments{LinesStartAt1: true, ColumnsStartAt1: true},
	})
	s.Dispatch(ctx, &dap.LaunchRequest{
		Request:   newRequest(2, "launch"),
		Arguments: json.RawMessage(`{"webSocketUrl":"ws://127.0.0.1:9229/devtools"}`),
	})
}

func attachPage(fake *cdptest.Fake, sessionID, url string) {
	fake.Emit("Target.attachedToTarget", "", cdp.AttachedToTargetEvent{
		SessionID:  sessionID,
		TargetInfo: cdp.TargetInfo{TargetID: "target-" + sessionID, Type: "page", URL: url},
	})
}

func TestInitializeAdvertisesCapabilities(t *testing.T) {
	s, rwc, _ := newTestSession(t)
	s.Dispatch(context.Background(), &dap.InitializeRequest{
		Request:   newRequest(1, "initialize"),
		Arguments: dap.InitializeRequestArguments{LinesStartAt1: true, ColumnsStartAt1: true},
	})

	var resp *dap.InitializeResponse
	for _, msg := range rwc.messages(t) {
		if r, ok := msg.(*dap.InitializeResponse); ok {
			resp = r
		}
	}
	if resp == nil {
		t.Fatal("no initialize response emitted")
	}
	if !resp.Success {
		t.Fatalf("initialize failed: %s", resp.Message)
	}
	caps := resp.Body
	if !caps.SupportsConfigurationDoneRequest || !caps.SupportsConditionalBreakpoints ||
		!caps.SupportsLogPoints || !caps.SupportsExceptionInfoRequest {
		t.Fatalf("missing capabilities: %+v", caps)
	}
	if len(caps.ExceptionBreakpointFilters) != 2 {
		t.Fatalf("expected 2 exception filters, got %d", len(caps.ExceptionBreakpointFilters))
	}
	for _, f := range caps.ExceptionBreakpointFilters {
		if !f.SupportsCondition {
			t.Errorf("filter %q should support conditions", f.Filter)
		}
	}
}

func TestLaunchConnectsAndEmitsInitialized(t *testing.T) {
	s, rwc, fake := newTestSession(t)
	initAndLaunch(t, s)

	if len(fake.Calls("Target.setAutoAttach")) == 0 {
		t.Fatal("launch should turn on auto-attach")
	}

	var launched, initialized bool
	for _, msg := range rwc.messages(t) {
		switch m := msg.(type) {
		case *dap.LaunchResponse:
			launched = m.Success
		case *dap.InitializedEvent:
			initialized = true
		}
	}
	if !launched {
		t.Error("no successful launch response")
	}
	if !initialized {
		t.Error("no initialized event after launch")
	}
}

func TestLaunchWithoutEndpointFails(t *testing.T) {
	s, rwc, _ := newTestSession(t)
	s.Dispatch(context.Background(), &dap.LaunchRequest{
		Request:   newRequest(1, "launch"),
		Arguments: json.RawMessage(`{}`),
	})

	msgs := rwc.messages(t)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	resp, ok := msgs[0].(*dap.ErrorResponse)
	if !ok {
		t.Fatalf("expected error response, got %T", msgs[0])
	}
	if resp.Body.Error == nil || resp.Body.Error.Format == "" {
		t.Fatal("error response should carry a message")
	}
}

func TestAttachedTargetAppearsAsThread(t *testing.T) {
	s, rwc, fake := newTestSession(t)
	initAndLaunch(t, s)
	attachPage(fake, "s1", "http://localhost:3000/")

	s.Dispatch(context.Background(), &dap.ThreadsRequest{Request: newRequest(3, "threads")})

	var started bool
	var threads []dap.Thread
	for _, msg := range rwc.messages(t) {
		switch m := msg.(type) {
		case *dap.ThreadEvent:
			if m.Body.Reason == "started" {
				started = true
			}
		case *dap.ThreadsResponse:
			threads = m.Body.Threads
		}
	}
	if !started {
		t.Error("no thread started event")
	}
	if len(threads) != 1 {
		t.Fatalf("expected 1 thread, got %d", len(threads))
	}
	if threads[0].Name != "http://localhost:3000/" {
		t.Errorf("unexpected thread name %q", threads[0].Name)
	}
}

func TestPausedEmitsStoppedWithBreakpointReason(t *testing.T) {
	s, rwc, fake := newTestSession(t)
	initAndLaunch(t, s)
	attachPage(fake, "s1", "http://localhost:3000/")

	fake.Emit("Debugger.paused", "s1", cdp.PausedEvent{
		Reason: "other",
		CallFrames: []cdp.DebuggerFrame{{
			CallFrameID:  "cf0",
			FunctionName: "main",
			Location:     cdp.Location{ScriptID: "sc1", LineNumber: 4},
			URL:          "http://localhost:3000/app.js",
		}},
		HitBreakpoints: []string{"cdp-bp-1"},
	})

	var stopped *dap.StoppedEvent
	for _, msg := range rwc.messages(t) {
		if e, ok := msg.(*dap.StoppedEvent); ok {
			stopped = e
		}
	}
	if stopped == nil {
		t.Fatal("no stopped event")
	}
	if stopped.Body.Reason != "breakpoint" {
		t.Errorf("reason = %q, want breakpoint", stopped.Body.Reason)
	}
	if stopped.Body.ThreadId != 1 {
		t.Errorf("threadId = %d, want 1", stopped.Body.ThreadId)
	}
}

func TestStackTraceForPausedThread(t *testing.T) {
	s, rwc, fake := newTestSession(t)
	initAndLaunch(t, s)
	attachPage(fake, "s1", "http://localhost:3000/")

	fake.Emit("Debugger.paused", "s1", cdp.PausedEvent{
		Reason: "other",
		CallFrames: []cdp.DebuggerFrame{
			{
				CallFrameID:  "cf0",
				FunctionName: "inner",
				Location:     cdp.Location{ScriptID: "sc1", LineNumber: 9, ColumnNumber: 2},
				URL:          "http://localhost:3000/app.js",
			},
			{
				CallFrameID: "cf1",
				Location:    cdp.Location{ScriptID: "sc1", LineNumber: 20},
				URL:         "http://localhost:3000/app.js",
			},
		},
	})

	s.Dispatch(context.Background(), &dap.StackTraceRequest{
		Request:   newRequest(3, "stackTrace"),
		Arguments: dap.StackTraceArguments{ThreadId: 1},
	})

	var resp *dap.StackTraceResponse
	for _, msg := range rwc.messages(t) {
		if r, ok := msg.(*dap.StackTraceResponse); ok {
			resp = r
		}
	}
	if resp == nil {
		t.Fatal("no stackTrace response")
	}
	if resp.Body.TotalFrames != 2 || len(resp.Body.StackFrames) != 2 {
		t.Fatalf("expected 2 frames, got %+v", resp.Body)
	}
	top := resp.Body.StackFrames[0]
	if top.Id != 1*frameStride+0 {
		t.Errorf("frame id = %d", top.Id)
	}
	if top.Name != "inner" || top.Line != 10 || top.Column != 3 {
		t.Errorf("unexpected top frame %+v", top)
	}
	if resp.Body.StackFrames[1].Name != "<anonymous>" {
		t.Errorf("anonymous frame name = %q", resp.Body.StackFrames[1].Name)
	}
}

func TestStackTraceWhileRunningFails(t *testing.T) {
	s, rwc, fake := newTestSession(t)
	initAndLaunch(t, s)
	attachPage(fake, "s1", "http://localhost:3000/")

	s.Dispatch(context.Background(), &dap.StackTraceRequest{
		Request:   newRequest(3, "stackTrace"),
		Arguments: dap.StackTraceArguments{ThreadId: 1},
	})

	var errResp *dap.ErrorResponse
	for _, msg := range rwc.messages(t) {
		if r, ok := msg.(*dap.ErrorResponse); ok {
			errResp = r
		}
	}
	if errResp == nil {
		t.Fatal("expected error response for a running thread")
	}
}

func TestEvaluateOnFrame(t *testing.T) {
	s, rwc, fake := newTestSession(t)
	initAndLaunch(t, s)
	attachPage(fake, "s1", "http://localhost:3000/")

	fake.StubResult("Debugger.evaluateOnCallFrame", cdp.EvaluateResult{
		Result: cdp.RemoteObject{Type: "number", Value: json.RawMessage("42"), Description: "42"},
	})
	fake.Emit("Debugger.paused", "s1", cdp.PausedEvent{
		Reason: "other",
		CallFrames: []cdp.DebuggerFrame{{
			CallFrameID: "cf0",
			Location:    cdp.Location{ScriptID: "sc1", LineNumber: 1},
			URL:         "http://localhost:3000/app.js",
		}},
	})

	s.Dispatch(context.Background(), &dap.EvaluateRequest{
		Request:   newRequest(3, "evaluate"),
		Arguments: dap.EvaluateArguments{Expression: "a + b", FrameId: 1 * frameStride},
	})

	var resp *dap.EvaluateResponse
	for _, msg := range rwc.messages(t) {
		if r, ok := msg.(*dap.EvaluateResponse); ok {
			resp = r
		}
	}
	if resp == nil {
		t.Fatal("no evaluate response")
	}
	if resp.Body.Result != "42" || resp.Body.Type != "number" {
		t.Errorf("unexpected result %+v", resp.Body)
	}
	if resp.Body.VariablesReference != 0 {
		t.Errorf("scalar result should not be expandable, ref %d", resp.Body.VariablesReference)
	}
	calls := fake.Calls("Debugger.evaluateOnCallFrame")
	if len(calls) != 1 {
		t.Fatalf("expected 1 evaluate call, got %d", len(calls))
	}
}

func TestStepMarksStepReason(t *testing.T) {
	s, rwc, fake := newTestSession(t)
	initAndLaunch(t, s)
	attachPage(fake, "s1", "http://localhost:3000/")

	s.Dispatch(context.Background(), &dap.NextRequest{
		Request:   newRequest(3, "next"),
		Arguments: dap.NextArguments{ThreadId: 1},
	})
	if len(fake.Calls("Debugger.stepOver")) != 1 {
		t.Fatal("next should issue Debugger.stepOver")
	}

	fake.Emit("Debugger.paused", "s1", cdp.PausedEvent{
		Reason: "other",
		CallFrames: []cdp.DebuggerFrame{{
			CallFrameID: "cf0",
			Location:    cdp.Location{ScriptID: "sc1", LineNumber: 5},
			URL:         "http://localhost:3000/app.js",
		}},
	})

	var stopped *dap.StoppedEvent
	for _, msg := range rwc.messages(t) {
		if e, ok := msg.(*dap.StoppedEvent); ok {
			stopped = e
		}
	}
	if stopped == nil || stopped.Body.Reason != "step" {
		t.Fatalf("expected step stop, got %+v", stopped)
	}
}

func TestSetBreakpointsBeforeLaunch(t *testing.T) {
	s, rwc, _ := newTestSession(t)
	s.Dispatch(context.Background(), &dap.SetBreakpointsRequest{
		Request: newRequest(1, "setBreakpoints"),
		Arguments: dap.SetBreakpointsArguments{
			Source:      dap.Source{Path: "/work/src/app.ts"},
			Breakpoints: []dap.SourceBreakpoint{{Line: 10}, {Line: 20, Condition: "x > 1"}},
		},
	})

	var resp *dap.SetBreakpointsResponse
	for _, msg := range rwc.messages(t) {
		if r, ok := msg.(*dap.SetBreakpointsResponse); ok {
			resp = r
		}
	}
	if resp == nil {
		t.Fatal("no setBreakpoints response")
	}
	if len(resp.Body.Breakpoints) != 2 {
		t.Fatalf("expected 2 breakpoints, got %d", len(resp.Body.Breakpoints))
	}
	if resp.Body.Breakpoints[0].Id == 0 || resp.Body.Breakpoints[0].Id == resp.Body.Breakpoints[1].Id {
		t.Error("breakpoints need distinct nonzero ids")
	}
	for _, b := range resp.Body.Breakpoints {
		if b.Verified {
			t.Error("breakpoints cannot verify before a runtime is attached")
		}
	}
}

func TestDisconnectClosesRuntime(t *testing.T) {
	s, _, fake := newTestSession(t)
	initAndLaunch(t, s)
	attachPage(fake, "s1", "http://localhost:3000/")

	exit := s.Dispatch(context.Background(), &dap.DisconnectRequest{Request: newRequest(3, "disconnect")})
	if !exit {
		t.Fatal("disconnect should end the session loop")
	}
	if err := fake.Call(context.Background(), "", "Runtime.evaluate", nil, nil); err == nil {
		t.Fatal("CDP connection should be closed after disconnect")
	}
}

func TestScriptParsedEmitsLoadedSource(t *testing.T) {
	s, rwc, fake := newTestSession(t)
	initAndLaunch(t, s)
	attachPage(fake, "s1", "http://localhost:3000/")

	fake.Emit("Debugger.scriptParsed", "s1", cdp.ScriptParsedEvent{
		ScriptID: "sc1",
		URL:      "http://localhost:3000/app.js",
	})

	var loaded *dap.LoadedSourceEvent
	for _, msg := range rwc.messages(t) {
		if e, ok := msg.(*dap.LoadedSourceEvent); ok {
			loaded = e
		}
	}
	if loaded == nil {
		t.Fatal("no loadedSource event")
	}
	if loaded.Body.Reason != "new" {
		t.Errorf("reason = %q", loaded.Body.Reason)
	}
	if loaded.Body.Source.Name == "" {
		t.Error("loaded source needs a name")
	}
}

func TestToggleSkipFileStatus(t *testing.T) {
	s, rwc, fake := newTestSession(t)
	initAndLaunch(t, s)
	attachPage(fake, "s1", "http://localhost:3000/")

	req := &CustomRequest{
		Seq:       3,
		Command:   commandToggleSkipFileStatus,
		Arguments: json.RawMessage(`{"resource":"http://localhost:3000/vendor.js"}`),
	}
	s.HandleCustom(context.Background(), req)

	var body struct {
		Type    string `json:"type"`
		Command string `json:"command"`
		Success bool   `json:"success"`
		Body    struct {
			Skipped bool `json:"skipped"`
		} `json:"body"`
	}
	found := false
	for _, frame := range rwc.frames(t) {
		if json.Unmarshal(frame, &body) == nil &&
			body.Type == "response" && body.Command == commandToggleSkipFileStatus {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("no toggleSkipFileStatus response")
	}
	if !body.Success || !body.Body.Skipped {
		t.Fatalf("first toggle should skip the file: %+v", body)
	}
	if len(fake.Calls("Debugger.setBlackboxPatterns")) == 0 {
		t.Error("toggle should push blackbox patterns to live threads")
	}
	if !s.skip.IsSkipped("http://localhost:3000/vendor.js") {
		t.Error("skip state not recorded")
	}
}

func TestEnableCustomBreakpoints(t *testing.T) {
	s, _, fake := newTestSession(t)
	initAndLaunch(t, s)
	attachPage(fake, "s1", "http://localhost:3000/")

	s.HandleCustom(context.Background(), &CustomRequest{
		Seq:       3,
		Command:   commandEnableCustomBreakpoints,
		Arguments: json.RawMessage(`{"ids":["instrumentation:setTimeout","listener:click"]}`),
	})

	if len(fake.Calls("DOMDebugger.setInstrumentationBreakpoint")) != 1 {
		t.Error("instrumentation breakpoint not set")
	}
	if len(fake.Calls("DOMDebugger.setEventListenerBreakpoint")) != 1 {
		t.Error("event listener breakpoint not set")
	}

	s.HandleCustom(context.Background(), &CustomRequest{
		Seq:       4,
		Command:   commandDisableCustomBreakpoints,
		Arguments: json.RawMessage(`{"ids":["instrumentation:setTimeout"]}`),
	})
	if len(fake.Calls("DOMDebugger.removeInstrumentationBreakpoint")) != 1 {
		t.Error("instrumentation breakpoint not removed")
	}
}
