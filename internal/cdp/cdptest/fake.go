// Package cdptest provides an in-memory cdp.Connection for component
// tests: commands are recorded and answered from stubs, events are
// emitted synchronously.
package cdptest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jsdap/jsdap/internal/cdp"
)

// Call records one command issued through the fake.
type Call struct {
	SessionID string
	Method    string
	Params    json.RawMessage
}

// Fake is an in-memory cdp.Connection.
type Fake struct {
	mu       sync.Mutex
	calls    []Call
	stubs    map[string]func(params json.RawMessage) (interface{}, error)
	handlers map[string]map[int]cdp.EventHandler
	seq      int
	closed   bool
}

// NewFake creates an empty fake connection.
func NewFake() *Fake {
	return &Fake{
		stubs:    make(map[string]func(params json.RawMessage) (interface{}, error)),
		handlers: make(map[string]map[int]cdp.EventHandler),
	}
}

// Stub installs a reply function for a method. Methods without a stub
// succeed with an empty result.
func (f *Fake) Stub(method string, fn func(params json.RawMessage) (interface{}, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stubs[method] = fn
}

// StubResult installs a fixed reply value for a method.
func (f *Fake) StubResult(method string, result interface{}) {
	f.Stub(method, func(json.RawMessage) (interface{}, error) { return result, nil })
}

// StubError installs a fixed error for a method.
func (f *Fake) StubError(method string, err error) {
	f.Stub(method, func(json.RawMessage) (interface{}, error) { return nil, err })
}

// Call implements cdp.Connection.
func (f *Fake) Call(_ context.Context, sessionID, method string, params, result interface{}) error {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return err
		}
		raw = data
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return fmt.Errorf("connection closed")
	}
	f.calls = append(f.calls, Call{SessionID: sessionID, Method: method, Params: raw})
	stub := f.stubs[method]
	f.mu.Unlock()

	if stub == nil {
		return nil
	}
	value, err := stub(raw)
	if err != nil {
		return err
	}
	if result != nil && value != nil {
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, result)
	}
	return nil
}

// On implements cdp.Connection.
func (f *Fake) On(method string, handler cdp.EventHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	id := f.seq
	if f.handlers[method] == nil {
		f.handlers[method] = make(map[int]cdp.EventHandler)
	}
	f.handlers[method][id] = handler

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers[method], id)
	}
}

// Close implements cdp.Connection.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Emit delivers an event to all registered handlers, synchronously.
func (f *Fake) Emit(method, sessionID string, params interface{}) {
	data, err := json.Marshal(params)
	if err != nil {
		panic(fmt.Sprintf("cdptest: cannot marshal %s params: %v", method, err))
	}

	f.mu.Lock()
	var hs []cdp.EventHandler
	for _, h := range f.handlers[method] {
		hs = append(hs, h)
	}
	f.mu.Unlock()

	for _, h := range hs {
		h(sessionID, data)
	}
}

// Calls returns the recorded calls for a method, all methods when empty.
func (f *Fake) Calls(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()

	if method == "" {
		return append([]Call(nil), f.calls...)
	}
	var out []Call
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}
