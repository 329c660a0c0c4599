// Package exceptions decides, per pause event, whether a caught or
// uncaught exception should actually stop the debugger: the CDP-level
// pause mode plus optional user conditions evaluated in-target, with
// skip-file awareness.
package exceptions

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/jsdap/jsdap/internal/breakpoints"
	"github.com/jsdap/jsdap/internal/cdp"
	jsdaperr "github.com/jsdap/jsdap/internal/errors"
	"github.com/jsdap/jsdap/pkg/types"
)

// internalScriptMarker tags scripts the adapter injects into the
// target; exceptions raised inside them are never user-relevant. A
// sourceURL comment places the marker at the tail of the reported URL,
// direct injection at the head, so both ends are checked.
const internalScriptMarker = "jsdap-internal://"

func isInternalScript(url string) bool {
	return strings.HasPrefix(url, internalScriptMarker) ||
		strings.HasSuffix(url, internalScriptMarker)
}

// Filter is one exception breakpoint filter from the client. Known ids
// are "all" and "uncaught"; unknown ids are ignored.
type Filter struct {
	ID        string
	Condition string
}

// State is the pause-on-exceptions configuration, replaced wholesale on
// every SetExceptionBreakpoints call.
type State struct {
	Mode types.PauseOnExceptionsMode
	// caught and uncaught are the OR-combined condition expressions for
	// each case; empty means "always pause" for that case.
	caught   string
	uncaught string
}

// SkipChecker reports whether a script URL is an active skip-file
// target. Skip patterns apply asynchronously relative to script parse,
// so a pause can legitimately arrive inside nominally-skipped code and
// must be rechecked here.
type SkipChecker interface {
	IsSkipped(url string) bool
}

// Options configures a Service.
type Options struct {
	Logger *zap.Logger
	// Output surfaces user-visible messages, stderr category.
	Output func(category, message string)
	Skip   SkipChecker
}

// Service owns the exception pause state for one debug session.
type Service struct {
	logger *zap.Logger
	output func(category, message string)
	skip   SkipChecker
	gate   *breakpoints.Gate

	mu      sync.Mutex
	session *cdp.Session
	state   State
}

// NewService creates a service with mode none.
func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Output == nil {
		opts.Output = func(string, string) {}
	}
	return &Service{
		logger: opts.Logger,
		output: opts.Output,
		skip:   opts.Skip,
		gate:   breakpoints.NewGate(true),
		state:  State{Mode: types.PauseOnExceptionsNone},
	}
}

// LaunchGate returns the gate launch completion must wait on, so the
// target cannot run past its first statement before the exception state
// is armed.
func (s *Service) LaunchGate() *breakpoints.Gate { return s.gate }

// State returns the current configuration.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConnectSession attaches the service to a live debugger session,
// pushes the held state and opens the launch gate.
func (s *Service) ConnectSession(ctx context.Context, session *cdp.Session) error {
	s.mu.Lock()
	s.session = session
	state := s.state
	s.mu.Unlock()
	defer s.gate.Open()

	return session.SetPauseOnExceptions(ctx, string(state.Mode))
}

// SetExceptionBreakpoints replaces the pause state from a filter list.
// An "all" filter takes precedence over "uncaught". A syntax error in
// any condition is reported as stderr output, the previous state stays
// in place and nothing is pushed to the runtime.
func (s *Service) SetExceptionBreakpoints(ctx context.Context, filters []Filter) error {
	mode := types.PauseOnExceptionsNone
	var caught, uncaught []string
	for _, f := range filters {
		switch f.ID {
		case "all":
			mode = types.PauseOnExceptionsAll
			if f.Condition != "" {
				caught = append(caught, "("+f.Condition+")")
			}
		case "uncaught":
			if mode != types.PauseOnExceptionsAll {
				mode = types.PauseOnExceptionsUncaught
			}
			if f.Condition != "" {
				uncaught = append(uncaught, "("+f.Condition+")")
			}
		}
	}

	next := State{
		Mode:     mode,
		caught:   strings.Join(caught, " || "),
		uncaught: strings.Join(uncaught, " || "),
	}
	for _, cond := range []string{next.caught, next.uncaught} {
		if cond == "" {
			continue
		}
		if _, err := goja.Compile("condition", conditionBody(cond), false); err != nil {
			derr := jsdaperr.InvalidCondition(cond, err)
			s.output("stderr", derr.Message)
			return derr
		}
	}

	s.mu.Lock()
	s.state = next
	session := s.session
	s.mu.Unlock()

	if session == nil {
		// Arm before launch completes.
		s.gate.Shut()
		return nil
	}
	return session.SetPauseOnExceptions(ctx, string(mode))
}

// conditionBody wraps a condition the way it ships to the target: a
// function body with the exception hoisted into scope as error.
func conditionBody(cond string) string {
	return "(function() { const error = this; return !!(" + cond + "); })"
}

// pausedData is the payload of an exception pause: the exception
// RemoteObject itself plus the runtime's uncaught flag.
type pausedData struct {
	cdp.RemoteObject
	Uncaught bool `json:"uncaught"`
}

// ShouldPauseAt decides whether an exception pause event should stop
// the debugger or be transparently resumed.
func (s *Service) ShouldPauseAt(ctx context.Context, session *cdp.Session, ev *cdp.PausedEvent) bool {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state.Mode == types.PauseOnExceptionsNone {
		return false
	}
	if ev.Reason != "exception" && ev.Reason != "promiseRejection" {
		return false
	}
	for _, frame := range ev.CallFrames {
		if isInternalScript(frame.URL) {
			return false
		}
	}

	var data pausedData
	if len(ev.Data) > 0 {
		_ = json.Unmarshal(ev.Data, &data)
	}
	if state.Mode == types.PauseOnExceptionsUncaught && !data.Uncaught {
		return false
	}

	// A caught exception inside a skipped file stays invisible; an
	// uncaught one must still surface somewhere.
	if !data.Uncaught && s.skip != nil && len(ev.CallFrames) > 0 && s.skip.IsSkipped(ev.CallFrames[0].URL) {
		return false
	}

	cond := state.caught
	if data.Uncaught {
		cond = state.uncaught
	}
	if cond == "" {
		return true
	}
	return s.evaluateCondition(ctx, session, ev, &data, cond)
}

// evaluateCondition runs the compiled condition in the target with the
// exception bound to error. Evaluation failures pause; losing a pause
// the user asked for is worse than one extra stop.
func (s *Service) evaluateCondition(ctx context.Context, session *cdp.Session, ev *cdp.PausedEvent, data *pausedData, cond string) bool {
	if data.ObjectID != "" {
		res, err := session.CallFunctionOn(ctx, cdp.CallFunctionOnParams{
			FunctionDeclaration: conditionBody(cond),
			ObjectID:            data.ObjectID,
			ReturnByValue:       true,
			Silent:              true,
		})
		if err != nil {
			s.logger.Debug("exception condition evaluation failed", zap.Error(err))
			return true
		}
		return conditionHolds(res)
	}

	if len(ev.CallFrames) == 0 {
		return true
	}
	res, err := session.EvaluateOnCallFrame(ctx, cdp.EvaluateOnCallFrameParams{
		CallFrameID:   ev.CallFrames[0].CallFrameID,
		Expression:    "!!(" + cond + ")",
		ReturnByValue: true,
		Silent:        true,
	})
	if err != nil {
		s.logger.Debug("exception condition evaluation failed", zap.Error(err))
		return true
	}
	return conditionHolds(res)
}

// conditionHolds interprets a condition evaluation result. Silent
// evaluation reports a thrown condition through exceptionDetails, not
// an error; a condition that threw did not answer the question, so it
// pauses like any other evaluation failure.
func conditionHolds(res cdp.EvaluateResult) bool {
	if res.ExceptionDetails != nil {
		return true
	}
	return string(res.Result.Value) == "true"
}
