package adapter

import (
	"context"
	"errors"
	"io"
	"net"
	"os"

	"go.uber.org/zap"

	"github.com/jsdap/jsdap/internal/cdp"
	"github.com/jsdap/jsdap/internal/config"
)

// Server accepts DAP clients and runs one Session per connection.
type Server struct {
	logger *zap.Logger
	cfg    *config.Config
	dial   Dialer
}

func NewServer(logger *zap.Logger, cfg *config.Config) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Server{
		logger: logger,
		cfg:    cfg,
		dial: func(ctx context.Context, endpoint string, logger *zap.Logger) (cdp.Connection, error) {
			return cdp.Dial(ctx, endpoint, logger)
		},
	}
}

// SetDialer overrides how CDP connections are opened. Tests use this to
// run against an in-memory runtime.
func (s *Server) SetDialer(d Dialer) { s.dial = d }

// ServeConn runs the read/dispatch loop for one client until the client
// disconnects or the transport fails. Requests are handled serially on
// this goroutine; runtime events arrive on the CDP dispatch goroutine.
func (s *Server) ServeConn(ctx context.Context, rwc io.ReadWriteCloser) error {
	tr := NewTransport(rwc)
	defer tr.Close()

	session := NewSession(s.logger, s.cfg, tr, s.dial)
	defer session.Close()

	for {
		msg, custom, err := tr.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
		if custom != nil {
			session.HandleCustom(ctx, custom)
			continue
		}
		if session.Dispatch(ctx, msg) {
			return nil
		}
	}
}

// ServeStdio serves one session over stdin/stdout, the usual transport
// when an editor spawns the adapter.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.ServeConn(ctx, stdio{})
}

type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdio) Close() error                { return nil }

// ListenAndServe accepts TCP clients, one session per connection.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	s.logger.Info("listening for DAP clients", zap.String("addr", addr))

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go func(c net.Conn) {
			remote := c.RemoteAddr().String()
			s.logger.Info("client connected", zap.String("remote", remote))
			if err := s.ServeConn(ctx, c); err != nil {
				s.logger.Warn("session ended with error", zap.Error(err))
			}
			s.logger.Info("client disconnected", zap.String("remote", remote))
		}(conn)
	}
}
