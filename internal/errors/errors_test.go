package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestErrorIncludesHint(t *testing.T) {
	err := ThreadNotFound(7)
	if err.Code != CodeThreadNotFound {
		t.Errorf("code = %s", err.Code)
	}
	msg := err.Error()
	if !strings.Contains(msg, "7") {
		t.Errorf("message should name the thread id: %q", msg)
	}
	if !strings.Contains(msg, "Hint:") {
		t.Errorf("message should carry the hint: %q", msg)
	}
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := stderrors.New("dial tcp: connection refused")
	err := CDPConnectFailed("ws://127.0.0.1:9229", cause)
	if !stderrors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
}

func TestWithDetails(t *testing.T) {
	err := InvalidParameter("line", -1, "a positive line number").WithDetails("source", "app.js")
	if err.Details["source"] != "app.js" {
		t.Errorf("details = %v", err.Details)
	}
}

func TestFromErrorPassthrough(t *testing.T) {
	orig := SourceNotFound(12, "")
	if got := FromError(orig); got != orig {
		t.Error("structured errors must pass through unchanged")
	}

	wrapped := Wrap(CodeBreakpointFailed, "boom", "", nil)
	if got := FromError(stderrors.Join(wrapped, stderrors.New("other"))); got != wrapped {
		t.Error("FromError should find a DebugError in a chain")
	}
}

func TestFromErrorGeneric(t *testing.T) {
	plain := stderrors.New("something broke")
	got := FromError(plain)
	if got.Code != CodeUnknown {
		t.Errorf("code = %s, want %s", got.Code, CodeUnknown)
	}
	if got.Message != "something broke" {
		t.Errorf("message = %q", got.Message)
	}
	if !stderrors.Is(got, plain) {
		t.Error("original error lost")
	}
}
