// Package cdp implements a client for the Chrome DevTools Protocol.
//
// CDP is a JSON message protocol spoken over a websocket to a browser,
// Node.js process, or worker. This package provides:
//   - Conn: id-matched command dispatch and event fan-out over one socket
//   - Session: a view of the connection scoped to one attached target
//   - Typed wrappers for the Debugger/Runtime/Target/Page surfaces the
//     adapter consumes
//
// The protocol is described at: https://chromedevtools.github.io/devtools-protocol/
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	jsdaperr "github.com/jsdap/jsdap/internal/errors"
)

// message is a raw CDP protocol frame. Commands carry ID+Method+Params,
// replies carry ID+Result/Error, events carry Method+Params.
type message struct {
	ID        int             `json:"id,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *protocolError  `json:"error,omitempty"`
}

// protocolError is the error object of a CDP reply.
type protocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *protocolError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("cdp error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}

// EventHandler receives a raw event payload. Handlers run on the
// connection's dispatch goroutine and must not block on Call.
type EventHandler func(sessionID string, params json.RawMessage)

// Connection is the command/event surface components depend on. It is
// satisfied by *Conn and by in-memory fakes in tests.
type Connection interface {
	Call(ctx context.Context, sessionID, method string, params, result interface{}) error
	On(method string, handler EventHandler) (unsubscribe func())
	Close() error
}

// Conn is a CDP connection over a websocket.
type Conn struct {
	ws     *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex
	seq     int

	mu         sync.Mutex
	pending    map[int]chan *message
	handlers   map[string]map[int]EventHandler
	handlerSeq int
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Dial connects to a DevTools websocket endpoint.
func Dial(ctx context.Context, endpoint string, logger *zap.Logger) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, jsdaperr.CDPConnectFailed(endpoint, err)
	}
	return newConn(ws, logger), nil
}

func newConn(ws *websocket.Conn, logger *zap.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:       ws,
		logger:   logger,
		pending:  make(map[int]chan *message),
		handlers: make(map[string]map[int]EventHandler),
		ctx:      ctx,
		cancel:   cancel,
	}

	c.wg.Add(1)
	go c.readLoop()

	return c
}

// readLoop continuously reads messages from the websocket
func (c *Conn) readLoop() {
	defer c.wg.Done()

	consecutiveErrors := 0
	const maxConsecutiveErrors = 5

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var msg message
		if err := c.ws.ReadJSON(&msg); err != nil {
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.shutdown()
				return
			}
			consecutiveErrors++
			c.logger.Warn("cdp transport error",
				zap.Int("attempt", consecutiveErrors),
				zap.Error(err))
			if consecutiveErrors >= maxConsecutiveErrors {
				c.logger.Error("cdp transport: too many consecutive errors, closing")
				c.shutdown()
				return
			}
			continue
		}

		consecutiveErrors = 0
		c.handleMessage(&msg)
	}
}

// handleMessage routes a frame to the pending command or event handlers
func (c *Conn) handleMessage(msg *message) {
	if msg.ID != 0 {
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		if ok {
			delete(c.pending, msg.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
		return
	}

	if msg.Method == "" {
		return
	}

	c.mu.Lock()
	var hs []EventHandler
	for _, h := range c.handlers[msg.Method] {
		hs = append(hs, h)
	}
	c.mu.Unlock()

	for _, h := range hs {
		h(msg.SessionID, msg.Params)
	}
}

// Call issues a command and decodes its reply into result (which may be
// nil when the caller does not care about the payload).
func (c *Conn) Call(ctx context.Context, sessionID, method string, params, result interface{}) error {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal %s params: %w", method, err)
		}
		raw = data
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return jsdaperr.CDPClosed()
	}
	ch := make(chan *message, 1)
	c.mu.Unlock()

	c.writeMu.Lock()
	c.seq++
	id := c.seq
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	err := c.ws.WriteJSON(&message{ID: id, SessionID: sessionID, Method: method, Params: raw})
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return jsdaperr.CDPTimeout(method, ctx.Err())
	case <-c.ctx.Done():
		return jsdaperr.CDPClosed()
	case reply, ok := <-ch:
		if !ok {
			return jsdaperr.CDPClosed()
		}
		if reply.Error != nil {
			return fmt.Errorf("%s: %w", method, reply.Error)
		}
		if result != nil && reply.Result != nil {
			if err := json.Unmarshal(reply.Result, result); err != nil {
				return fmt.Errorf("failed to decode %s result: %w", method, err)
			}
		}
		return nil
	}
}

// On registers an event handler for a method. The returned function
// removes the registration.
func (c *Conn) On(method string, handler EventHandler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlerSeq++
	id := c.handlerSeq
	if c.handlers[method] == nil {
		c.handlers[method] = make(map[int]EventHandler)
	}
	c.handlers[method][id] = handler

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[method], id)
	}
}

// shutdown releases pending callers after the socket is gone.
func (c *Conn) shutdown() {
	c.cancel()
	c.mu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.mu.Unlock()
}

// Close closes the connection
func (c *Conn) Close() error {
	c.shutdown()
	err := c.ws.Close()
	c.wg.Wait()
	return err
}

// Done is closed when the connection has shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}
