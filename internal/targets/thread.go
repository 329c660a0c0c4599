package targets

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jsdap/jsdap/internal/cdp"
	jsdaperr "github.com/jsdap/jsdap/internal/errors"
	"github.com/jsdap/jsdap/pkg/types"
)

// Thread is the logical debuggable unit presented to the client: one
// attached JS-executing target. It owns the pause state, the live
// execution contexts and the variable reference store for the current
// pause.
type Thread struct {
	id      int
	name    string
	kind    types.TargetKind
	session *cdp.Session

	mu       sync.Mutex
	paused   *cdp.PausedEvent
	contexts map[int]cdp.ExecutionContextDescription
	varRefs  map[int]varEntry
	nextRef  int
}

// varEntry is one allocated variables reference: either a scope of a
// paused frame or a remote object being expanded.
type varEntry struct {
	object      cdp.RemoteObject
	callFrameID string
	scopeNumber int
	isScope     bool
}

func newThread(id int, name string, kind types.TargetKind, session *cdp.Session) *Thread {
	return &Thread{
		id:       id,
		name:     name,
		kind:     kind,
		session:  session,
		contexts: make(map[int]cdp.ExecutionContextDescription),
		varRefs:  make(map[int]varEntry),
	}
}

// ID returns the DAP thread id.
func (t *Thread) ID() int { return t.id }

// Name returns the human-meaningful thread name.
func (t *Thread) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

// Kind returns the target kind behind this thread.
func (t *Thread) Kind() types.TargetKind { return t.kind }

// Session returns the CDP session scoped to this thread's target.
func (t *Thread) Session() *cdp.Session { return t.session }

// Paused returns the current pause event, nil while running.
func (t *Thread) Paused() *cdp.PausedEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// OnPaused records a pause. Variable references from the previous pause
// are invalid and dropped.
func (t *Thread) OnPaused(ev *cdp.PausedEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = ev
	t.varRefs = make(map[int]varEntry)
}

// OnResumed clears the pause state and its variable references.
func (t *Thread) OnResumed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = nil
	t.varRefs = make(map[int]varEntry)
}

// OnContextCreated records a live execution context.
func (t *Thread) OnContextCreated(desc cdp.ExecutionContextDescription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.contexts[desc.ID] = desc
}

// OnContextDestroyed drops a destroyed execution context.
func (t *Thread) OnContextDestroyed(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.contexts, id)
}

// Frame returns the paused call frame at the given index.
func (t *Thread) Frame(index int) (*cdp.DebuggerFrame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paused == nil {
		return nil, jsdaperr.ThreadNotPaused(t.id)
	}
	if index < 0 || index >= len(t.paused.CallFrames) {
		return nil, jsdaperr.FrameNotFound(index)
	}
	frame := t.paused.CallFrames[index]
	return &frame, nil
}

// ScopeRefs allocates a variables reference for every scope of a paused
// frame, outermost last, matching the CDP scope chain order.
func (t *Thread) ScopeRefs(frameIndex int) ([]ScopeRef, error) {
	frame, err := t.Frame(frameIndex)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	refs := make([]ScopeRef, 0, len(frame.ScopeChain))
	for i, scope := range frame.ScopeChain {
		ref := t.allocRefLocked(varEntry{
			object:      scope.Object,
			callFrameID: frame.CallFrameID,
			scopeNumber: i,
			isScope:     true,
		})
		refs = append(refs, ScopeRef{
			Name:      scopeName(scope),
			Ref:       ref,
			Expensive: scope.Type == "global",
		})
	}
	return refs, nil
}

// ScopeRef is one scope of a paused frame with its allocated reference.
type ScopeRef struct {
	Name      string
	Ref       int
	Expensive bool
}

func scopeName(s cdp.Scope) string {
	if s.Name != "" {
		return s.Name
	}
	switch s.Type {
	case "local":
		return "Local"
	case "closure":
		return "Closure"
	case "global":
		return "Global"
	case "with":
		return "With"
	case "catch":
		return "Catch"
	case "block":
		return "Block"
	case "script":
		return "Script"
	default:
		return s.Type
	}
}

func (t *Thread) allocRefLocked(e varEntry) int {
	t.nextRef++
	ref := t.id*1_000_000 + t.nextRef
	t.varRefs[ref] = e
	return ref
}

// RefForObject allocates a variables reference for an expandable
// evaluation result. Returns 0 for values with no object identity.
func (t *Thread) RefForObject(obj cdp.RemoteObject) int {
	if obj.ObjectID == "" {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allocRefLocked(varEntry{object: obj})
}

// Variable is one named value under a variables reference.
type Variable struct {
	Name  string
	Value string
	Type  string
	Ref   int
}

// Variables expands a variables reference into its children via
// Runtime.getProperties, allocating references for expandable values.
func (t *Thread) Variables(ctx context.Context, ref int) ([]Variable, error) {
	t.mu.Lock()
	entry, ok := t.varRefs[ref]
	t.mu.Unlock()
	if !ok {
		return nil, jsdaperr.InvalidParameter("variablesReference", ref, "a reference from the current pause")
	}
	if entry.object.ObjectID == "" {
		return nil, nil
	}

	res, err := t.session.GetProperties(ctx, cdp.GetPropertiesParams{
		ObjectID:        entry.object.ObjectID,
		OwnProperties:   true,
		GeneratePreview: true,
	})
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Variable, 0, len(res.Result))
	for _, prop := range res.Result {
		if prop.Value == nil {
			continue
		}
		v := Variable{
			Name:  prop.Name,
			Value: DescribeObject(*prop.Value),
			Type:  prop.Value.Type,
		}
		if prop.Value.ObjectID != "" {
			v.Ref = t.allocRefLocked(varEntry{object: *prop.Value})
		}
		out = append(out, v)
	}
	return out, nil
}

// SetVariable writes a scope variable of the current pause and returns
// its new display value. Only scope references are writable targets.
func (t *Thread) SetVariable(ctx context.Context, ref int, name, value string) (Variable, error) {
	t.mu.Lock()
	entry, ok := t.varRefs[ref]
	t.mu.Unlock()
	if !ok || !entry.isScope {
		return Variable{}, jsdaperr.InvalidParameter("variablesReference", ref, "a scope reference from the current pause")
	}

	// Evaluate the new value in the frame so expressions work, then
	// write the result into the scope slot.
	res, err := t.session.EvaluateOnCallFrame(ctx, cdp.EvaluateOnCallFrameParams{
		CallFrameID: entry.callFrameID,
		Expression:  value,
		Silent:      true,
	})
	if err != nil {
		return Variable{}, err
	}
	if res.ExceptionDetails != nil {
		return Variable{}, jsdaperr.EvaluationFailed(value, fmt.Errorf("%s", res.ExceptionDetails.Text))
	}

	arg := cdp.CallArgument{
		Value:               res.Result.Value,
		UnserializableValue: res.Result.UnserializableValue,
		ObjectID:            res.Result.ObjectID,
	}
	if err := t.session.SetVariableValue(ctx, entry.scopeNumber, name, arg, entry.callFrameID); err != nil {
		return Variable{}, err
	}

	v := Variable{Name: name, Value: DescribeObject(res.Result), Type: res.Result.Type}
	if res.Result.ObjectID != "" {
		t.mu.Lock()
		v.Ref = t.allocRefLocked(varEntry{object: res.Result})
		t.mu.Unlock()
	}
	return v, nil
}

// Evaluate runs an expression: against the top paused frame when
// stopped, else against the default execution context.
func (t *Thread) Evaluate(ctx context.Context, expression string, frameIndex int) (cdp.EvaluateResult, error) {
	t.mu.Lock()
	paused := t.paused
	t.mu.Unlock()

	if paused != nil && frameIndex >= 0 && frameIndex < len(paused.CallFrames) {
		return t.session.EvaluateOnCallFrame(ctx, cdp.EvaluateOnCallFrameParams{
			CallFrameID:           paused.CallFrames[frameIndex].CallFrameID,
			Expression:            expression,
			IncludeCommandLineAPI: true,
		})
	}
	return t.session.Evaluate(ctx, cdp.EvaluateParams{
		Expression:            expression,
		IncludeCommandLineAPI: true,
	})
}

// DescribeObject renders a remote object for display.
func DescribeObject(o cdp.RemoteObject) string {
	if o.Description != "" {
		return o.Description
	}
	if o.UnserializableValue != "" {
		return o.UnserializableValue
	}
	if len(o.Value) > 0 {
		var v interface{}
		if json.Unmarshal(o.Value, &v) == nil {
			switch vv := v.(type) {
			case string:
				return vv
			default:
				return string(o.Value)
			}
		}
		return string(o.Value)
	}
	if o.Type == "undefined" {
		return "undefined"
	}
	return o.Type
}
