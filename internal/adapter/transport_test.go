package adapter

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/google/go-dap"
)

type bufConn struct {
	bytes.Buffer
}

func (b *bufConn) Close() error { return nil }

func frame(body string) string {
	return fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
}

func TestTransportDecodesStandardRequest(t *testing.T) {
	conn := &bufConn{}
	conn.WriteString(frame(`{"seq":1,"type":"request","command":"threads"}`))

	tr := NewTransport(conn)
	msg, custom, err := tr.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if custom != nil {
		t.Fatal("threads is not a custom command")
	}
	if _, ok := msg.(*dap.ThreadsRequest); !ok {
		t.Fatalf("decoded %T, want ThreadsRequest", msg)
	}
}

func TestTransportSniffsCustomCommand(t *testing.T) {
	conn := &bufConn{}
	conn.WriteString(frame(`{"seq":7,"type":"request","command":"toggleSkipFileStatus","arguments":{"resource":"a.js"}}`))

	tr := NewTransport(conn)
	msg, custom, err := tr.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if msg != nil {
		t.Fatalf("custom command decoded as %T", msg)
	}
	if custom == nil {
		t.Fatal("no custom request returned")
	}
	if custom.Seq != 7 || custom.Command != commandToggleSkipFileStatus {
		t.Errorf("unexpected custom request %+v", custom)
	}
	if string(custom.Arguments) != `{"resource":"a.js"}` {
		t.Errorf("arguments not preserved: %s", custom.Arguments)
	}
}

func TestTransportUnknownCommandSurvives(t *testing.T) {
	conn := &bufConn{}
	conn.WriteString(frame(`{"seq":9,"type":"request","command":"fancyNewThing"}`))

	tr := NewTransport(conn)
	msg, custom, err := tr.Receive()
	if err != nil {
		t.Fatalf("unknown commands must not fail the transport: %v", err)
	}
	if msg != nil {
		t.Fatalf("unexpected typed message %T", msg)
	}
	if custom == nil || custom.Command != "fancyNewThing" || custom.Seq != 9 {
		t.Fatalf("unexpected custom request %+v", custom)
	}
}

func TestTransportSendRoundTrip(t *testing.T) {
	conn := &bufConn{}
	tr := NewTransport(conn)

	ev := &dap.TerminatedEvent{Event: dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: tr.NextSeq(), Type: "event"},
		Event:           "terminated",
	}}
	if err := tr.Send(ev); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msg, custom, err := tr.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if custom != nil {
		t.Fatal("event misread as custom request")
	}
	if _, ok := msg.(*dap.TerminatedEvent); !ok {
		t.Fatalf("decoded %T, want TerminatedEvent", msg)
	}
}

func TestTransportEOF(t *testing.T) {
	tr := NewTransport(&bufConn{})
	if _, _, err := tr.Receive(); err != io.EOF {
		t.Fatalf("err = %v, want EOF", err)
	}
}

func TestTransportSeqMonotonic(t *testing.T) {
	tr := NewTransport(&bufConn{})
	if a, b := tr.NextSeq(), tr.NextSeq(); b != a+1 {
		t.Errorf("seq not monotonic: %d then %d", a, b)
	}
}
