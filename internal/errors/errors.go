// Package errors provides structured error types for the jsdap adapter.
// These errors carry machine-readable codes plus hints that are surfaced
// to the DAP client as error responses or stderr-category output.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a category of error for programmatic handling
type ErrorCode string

const (
	// Connection errors
	CodeCDPConnectFailed ErrorCode = "CDP_CONNECT_FAILED"
	CodeCDPClosed        ErrorCode = "CDP_CLOSED"
	CodeCDPTimeout       ErrorCode = "CDP_TIMEOUT"
	CodeCDPProtocolError ErrorCode = "CDP_PROTOCOL_ERROR"

	// Target errors
	CodeTargetNotFound     ErrorCode = "TARGET_NOT_FOUND"
	CodeTargetAttachFailed ErrorCode = "TARGET_ATTACH_FAILED"
	CodeThreadNotFound     ErrorCode = "THREAD_NOT_FOUND"
	CodeThreadNotPaused    ErrorCode = "THREAD_NOT_PAUSED"

	// Source errors
	CodeSourceNotFound     ErrorCode = "SOURCE_NOT_FOUND"
	CodeSourceContent      ErrorCode = "SOURCE_CONTENT_UNAVAILABLE"
	CodeSourceMapFailed    ErrorCode = "SOURCE_MAP_FAILED"
	CodeReferenceExhausted ErrorCode = "SOURCE_REFERENCE_EXHAUSTED"
	CodePrettyPrintFailed  ErrorCode = "PRETTY_PRINT_FAILED"

	// Breakpoint errors
	CodeBreakpointFailed ErrorCode = "BREAKPOINT_FAILED"
	CodeInvalidCondition ErrorCode = "INVALID_CONDITION"

	// Evaluation errors
	CodeEvaluationFailed ErrorCode = "EVALUATION_FAILED"
	CodeFrameNotFound    ErrorCode = "FRAME_NOT_FOUND"
	CodeVariablesFailed  ErrorCode = "VARIABLES_FAILED"

	// Parameter errors
	CodeMissingParameter ErrorCode = "MISSING_PARAMETER"
	CodeInvalidParameter ErrorCode = "INVALID_PARAMETER"

	// Configuration errors
	CodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Catch-all
	CodeUnknown ErrorCode = "UNKNOWN_ERROR"
)

// DebugError is a structured error type carrying enough information for
// the protocol boundary to build a useful DAP error response.
type DebugError struct {
	// Code is a machine-readable error category
	Code ErrorCode `json:"code"`

	// Message is a human-readable description of what went wrong
	Message string `json:"message"`

	// Hint provides actionable guidance on how to fix the error
	Hint string `json:"hint,omitempty"`

	// Details contains additional context (e.g., the invalid value)
	Details map[string]interface{} `json:"details,omitempty"`

	// Cause is the underlying error, if any
	Cause error `json:"-"`
}

// Error implements the error interface
func (e *DebugError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Hint != "" {
		sb.WriteString(" | Hint: ")
		sb.WriteString(e.Hint)
	}

	return sb.String()
}

// Unwrap returns the underlying error for error chaining
func (e *DebugError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to the error
func (e *DebugError) WithDetails(key string, value interface{}) *DebugError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *DebugError) WithCause(err error) *DebugError {
	e.Cause = err
	return e
}

// --- Connection errors ---

// CDPConnectFailed creates an error for a failed DevTools connection
func CDPConnectFailed(endpoint string, err error) *DebugError {
	return &DebugError{
		Code:    CodeCDPConnectFailed,
		Message: fmt.Sprintf("failed to connect to DevTools endpoint %s: %v", endpoint, err),
		Hint:    "Ensure the target was started with an inspector port open (e.g. --remote-debugging-port or --inspect) and the endpoint URL is reachable.",
		Cause:   err,
		Details: map[string]interface{}{
			"endpoint": endpoint,
		},
	}
}

// CDPClosed creates an error for operations on a closed connection
func CDPClosed() *DebugError {
	return &DebugError{
		Code:    CodeCDPClosed,
		Message: "the DevTools connection is closed",
		Hint:    "The target exited or the websocket dropped. Start a new debug session.",
	}
}

// CDPTimeout creates an error for CDP command timeouts
func CDPTimeout(method string, err error) *DebugError {
	return &DebugError{
		Code:    CodeCDPTimeout,
		Message: fmt.Sprintf("%s timed out", method),
		Hint:    "The runtime did not answer in time. It may be blocked on a breakpoint in another session or busy executing.",
		Cause:   err,
		Details: map[string]interface{}{
			"method": method,
		},
	}
}

// --- Target / thread errors ---

// ThreadNotFound creates an error for an unknown DAP thread id
func ThreadNotFound(threadID int) *DebugError {
	return &DebugError{
		Code:    CodeThreadNotFound,
		Message: fmt.Sprintf("thread %d not found", threadID),
		Hint:    "The target backing this thread has detached. Request `threads` for the current list.",
		Details: map[string]interface{}{
			"threadId": threadID,
		},
	}
}

// ThreadNotPaused creates an error for stack/variable requests on a running thread
func ThreadNotPaused(threadID int) *DebugError {
	return &DebugError{
		Code:    CodeThreadNotPaused,
		Message: fmt.Sprintf("thread %d is not paused", threadID),
		Hint:    "Stack traces and variables are only available while paused. Use `pause` or wait for a breakpoint.",
		Details: map[string]interface{}{
			"threadId": threadID,
		},
	}
}

// TargetAttachFailed creates an error for a failed Target.attachToTarget
func TargetAttachFailed(targetID string, err error) *DebugError {
	return &DebugError{
		Code:    CodeTargetAttachFailed,
		Message: fmt.Sprintf("failed to attach to target %s: %v", targetID, err),
		Hint:    "The target may have been destroyed while attaching. It will be retried if it reappears.",
		Cause:   err,
		Details: map[string]interface{}{
			"targetId": targetID,
		},
	}
}

// --- Source errors ---

// SourceNotFound creates an error for an unknown source reference or path
func SourceNotFound(ref int, path string) *DebugError {
	return &DebugError{
		Code:    CodeSourceNotFound,
		Message: fmt.Sprintf("source not found (reference %d, path %q)", ref, path),
		Hint:    "The owning script may have been unloaded. Use `loadedSources` for the current set.",
		Details: map[string]interface{}{
			"sourceReference": ref,
			"path":            path,
		},
	}
}

// SourceContentUnavailable creates an error for content retrieval failures
func SourceContentUnavailable(url string, err error) *DebugError {
	return &DebugError{
		Code:    CodeSourceContent,
		Message: fmt.Sprintf("could not retrieve content for %s: %v", url, err),
		Hint:    "The script content is no longer available from the runtime and the file does not exist on disk.",
		Cause:   err,
		Details: map[string]interface{}{
			"url": url,
		},
	}
}

// SourceMapFailed creates an error for a source map that could not be loaded or parsed
func SourceMapFailed(mapURL string, err error) *DebugError {
	return &DebugError{
		Code:    CodeSourceMapFailed,
		Message: fmt.Sprintf("could not read source map %s: %v", mapURL, err),
		Hint:    "Breakpoints and stack traces will use compiled locations for this script.",
		Cause:   err,
		Details: map[string]interface{}{
			"sourceMapUrl": mapURL,
		},
	}
}

// PrettyPrintFailed creates an error for pretty-print failures
func PrettyPrintFailed(url string, err error) *DebugError {
	return &DebugError{
		Code:    CodePrettyPrintFailed,
		Message: fmt.Sprintf("could not pretty print %s: %v", url, err),
		Hint:    "The source content may be unavailable or not JavaScript.",
		Cause:   err,
		Details: map[string]interface{}{
			"url": url,
		},
	}
}

// --- Breakpoint errors ---

// BreakpointFailed creates an error for breakpoint application failures
func BreakpointFailed(path string, line int, reason string) *DebugError {
	return &DebugError{
		Code:    CodeBreakpointFailed,
		Message: fmt.Sprintf("could not set breakpoint at %s:%d", path, line),
		Hint:    fmt.Sprintf("Reason: %s. The breakpoint stays unverified and will bind when a matching script loads.", reason),
		Details: map[string]interface{}{
			"path":   path,
			"line":   line,
			"reason": reason,
		},
	}
}

// InvalidCondition creates an error for a condition that does not parse as JavaScript
func InvalidCondition(expression string, err error) *DebugError {
	return &DebugError{
		Code:    CodeInvalidCondition,
		Message: fmt.Sprintf("syntax error in condition %q: %v", expression, err),
		Hint:    "Fix the JavaScript expression. The previous pause-on-exception state is left in place.",
		Cause:   err,
		Details: map[string]interface{}{
			"expression": expression,
		},
	}
}

// --- Evaluation errors ---

// EvaluationFailed creates an error for expression evaluation failures
func EvaluationFailed(expression string, err error) *DebugError {
	return &DebugError{
		Code:    CodeEvaluationFailed,
		Message: fmt.Sprintf("failed to evaluate expression '%s': %v", expression, err),
		Hint:    "Check that the expression syntax is correct and referenced variables are in scope in the selected frame.",
		Cause:   err,
		Details: map[string]interface{}{
			"expression": expression,
		},
	}
}

// FrameNotFound creates an error for an unknown frame id
func FrameNotFound(frameID int) *DebugError {
	return &DebugError{
		Code:    CodeFrameNotFound,
		Message: fmt.Sprintf("stack frame %d not found", frameID),
		Hint:    "Frame ids are only valid while the thread stays paused. Re-request the stack trace.",
		Details: map[string]interface{}{
			"frameId": frameID,
		},
	}
}

// --- Parameter errors ---

// MissingParameter creates an error for missing required parameters
func MissingParameter(paramName, description string) *DebugError {
	return &DebugError{
		Code:    CodeMissingParameter,
		Message: fmt.Sprintf("required parameter '%s' is missing", paramName),
		Hint:    description,
		Details: map[string]interface{}{
			"parameter": paramName,
		},
	}
}

// InvalidParameter creates an error for invalid parameter values
func InvalidParameter(paramName string, value interface{}, expected string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidParameter,
		Message: fmt.Sprintf("invalid value for parameter '%s': %v", paramName, value),
		Hint:    fmt.Sprintf("Expected: %s", expected),
		Details: map[string]interface{}{
			"parameter": paramName,
			"value":     value,
			"expected":  expected,
		},
	}
}

// --- Helper for wrapping generic errors ---

// Wrap wraps a generic error with context
func Wrap(code ErrorCode, message string, hint string, err error) *DebugError {
	return &DebugError{
		Code:    code,
		Message: message,
		Hint:    hint,
		Cause:   err,
	}
}

// FromError creates a DebugError from a generic error, attempting to preserve any existing structure
func FromError(err error) *DebugError {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de
	}
	return &DebugError{
		Code:    CodeUnknown,
		Message: err.Error(),
		Cause:   err,
	}
}
