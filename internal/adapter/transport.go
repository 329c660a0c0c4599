// Package adapter implements the client-facing Debug Adapter Protocol
// surface: the framed message transport, the request routing, and the
// debug session that wires the registry, breakpoint, exception and
// target components to a CDP runtime.
//
// The protocol is described at: https://microsoft.github.io/debug-adapter-protocol/
package adapter

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/go-dap"
)

// Transport frames DAP messages over a byte stream (stdio or TCP).
type Transport struct {
	conn   io.ReadWriteCloser
	reader *bufio.Reader
	writer *bufio.Writer

	writeMu sync.Mutex
	seqMu   sync.Mutex
	seq     int
}

// NewTransport wraps a stream in a DAP message transport.
func NewTransport(conn io.ReadWriteCloser) *Transport {
	return &Transport{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
	}
}

// NextSeq returns the next outgoing sequence number.
func (t *Transport) NextSeq() int {
	t.seqMu.Lock()
	defer t.seqMu.Unlock()
	t.seq++
	return t.seq
}

// Receive reads one message. Commands the protocol library does not
// know (the pretty-print / skip-file / custom-breakpoint extensions)
// are returned as a CustomRequest instead of an error, so they are
// sniffed from the raw frame before typed decoding.
func (t *Transport) Receive() (dap.Message, *CustomRequest, error) {
	data, err := dap.ReadBaseMessage(t.reader)
	if err != nil {
		return nil, nil, err
	}

	var probe struct {
		Seq       int             `json:"seq"`
		Type      string          `json:"type"`
		Command   string          `json:"command"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, nil, fmt.Errorf("malformed DAP frame: %w", err)
	}
	if probe.Type == "request" && customCommands[probe.Command] {
		return nil, &CustomRequest{
			Seq:       probe.Seq,
			Command:   probe.Command,
			Arguments: probe.Arguments,
		}, nil
	}

	msg, err := dap.DecodeProtocolMessage(data)
	if err != nil {
		// An unrecognized request command must not kill the session;
		// hand it over so the dispatcher can answer with an error.
		if probe.Type == "request" && probe.Command != "" {
			return nil, &CustomRequest{
				Seq:       probe.Seq,
				Command:   probe.Command,
				Arguments: probe.Arguments,
			}, nil
		}
		return nil, nil, err
	}
	return msg, nil, nil
}

// Send writes one message and flushes it.
func (t *Transport) Send(msg dap.Message) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := dap.WriteProtocolMessage(t.writer, msg); err != nil {
		return fmt.Errorf("failed to write DAP message: %w", err)
	}
	return t.writer.Flush()
}

// Close closes the underlying stream.
func (t *Transport) Close() error {
	return t.conn.Close()
}
