package breakpoints

import (
	"context"
	"sync"
)

// Gate is an explicit open/closed barrier. Launch completion waits on
// it so the target cannot run past its first statement before the
// initial breakpoint set has been synced to the runtime.
type Gate struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewGate creates a gate in the given state.
func NewGate(open bool) *Gate {
	g := &Gate{ch: make(chan struct{})}
	if open {
		close(g.ch)
	}
	return g
}

// Open releases all current and future waiters.
func (g *Gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
	default:
		close(g.ch)
	}
}

// Shut resets the gate so new waiters block again.
func (g *Gate) Shut() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		g.ch = make(chan struct{})
	default:
	}
}

// Wait blocks until the gate opens or the context ends.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
