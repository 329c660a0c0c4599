package cdp_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jsdap/jsdap/internal/cdp"
	"github.com/jsdap/jsdap/internal/cdp/cdptest"
)

func TestSessionScopesCalls(t *testing.T) {
	fake := cdptest.NewFake()
	s := cdp.NewSession(fake, "sess-1")

	if err := s.DebuggerEnable(context.Background()); err != nil {
		t.Fatalf("DebuggerEnable: %v", err)
	}

	calls := fake.Calls("Debugger.enable")
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].SessionID != "sess-1" {
		t.Errorf("sessionID = %q", calls[0].SessionID)
	}
}

func TestSessionOnFiltersBySessionID(t *testing.T) {
	fake := cdptest.NewFake()
	s := cdp.NewSession(fake, "sess-1")

	var got []string
	off := s.On("Debugger.resumed", func(params json.RawMessage) {
		got = append(got, string(params))
	})
	defer off()

	fake.Emit("Debugger.resumed", "sess-1", map[string]string{"who": "mine"})
	fake.Emit("Debugger.resumed", "sess-2", map[string]string{"who": "other"})

	if len(got) != 1 {
		t.Fatalf("expected only own-session events, got %d", len(got))
	}
}

func TestSetBreakpointByURLParams(t *testing.T) {
	fake := cdptest.NewFake()
	fake.StubResult("Debugger.setBreakpointByUrl", cdp.SetBreakpointByURLResult{
		BreakpointID: "bp-1",
		Locations:    []cdp.Location{{ScriptID: "sc1", LineNumber: 9}},
	})
	s := cdp.NewSession(fake, "")

	res, err := s.SetBreakpointByURL(context.Background(), cdp.SetBreakpointByURLParams{
		URL:        "http://localhost/app.js",
		LineNumber: 9,
		Condition:  "x > 1",
	})
	if err != nil {
		t.Fatalf("SetBreakpointByURL: %v", err)
	}
	if res.BreakpointID != "bp-1" || len(res.Locations) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}

	var sent struct {
		URL        string `json:"url"`
		LineNumber int    `json:"lineNumber"`
		Condition  string `json:"condition"`
	}
	calls := fake.Calls("Debugger.setBreakpointByUrl")
	if err := json.Unmarshal(calls[0].Params, &sent); err != nil {
		t.Fatal(err)
	}
	if sent.URL != "http://localhost/app.js" || sent.LineNumber != 9 || sent.Condition != "x > 1" {
		t.Errorf("unexpected params %+v", sent)
	}
}

func TestGetScriptSource(t *testing.T) {
	fake := cdptest.NewFake()
	fake.StubResult("Debugger.getScriptSource", map[string]string{"scriptSource": "console.log(1)"})
	s := cdp.NewSession(fake, "")

	src, err := s.GetScriptSource(context.Background(), "sc1")
	if err != nil {
		t.Fatalf("GetScriptSource: %v", err)
	}
	if src != "console.log(1)" {
		t.Errorf("source = %q", src)
	}
}

func TestCallErrorPropagates(t *testing.T) {
	fake := cdptest.NewFake()
	want := errors.New("No such script")
	fake.StubError("Debugger.getScriptSource", want)
	s := cdp.NewSession(fake, "")

	if _, err := s.GetScriptSource(context.Background(), "missing"); !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestSetAutoAttachFlattens(t *testing.T) {
	fake := cdptest.NewFake()
	s := cdp.NewSession(fake, "")
	if err := s.SetAutoAttach(context.Background(), true); err != nil {
		t.Fatal(err)
	}

	var sent struct {
		AutoAttach             bool `json:"autoAttach"`
		WaitForDebuggerOnStart bool `json:"waitForDebuggerOnStart"`
		Flatten                bool `json:"flatten"`
	}
	calls := fake.Calls("Target.setAutoAttach")
	if err := json.Unmarshal(calls[0].Params, &sent); err != nil {
		t.Fatal(err)
	}
	if !sent.AutoAttach || !sent.WaitForDebuggerOnStart || !sent.Flatten {
		t.Errorf("unexpected params %+v", sent)
	}
}
