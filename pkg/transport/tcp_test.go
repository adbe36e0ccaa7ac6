package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/backkem/msglayer/pkg/message"
)

func newLoopbackTCP(t *testing.T, config TCPConfig) *TCP {
	t.Helper()
	config.ListenAddr = "127.0.0.1:0"
	tr, err := NewTCP(config)
	if err != nil {
		t.Fatalf("NewTCP() error = %v", err)
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return tr
}

// attachPipe adopts one end of an in-memory stream as a connection from
// pipe:1:5540 and returns the other end.
func attachPipe(t *testing.T, tr *TCP) net.Conn {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { b.Close() })
	tr.AddConnection(&pipeStreamConn{
		Conn:   a,
		local:  PipeAddr{ID: 0, Port: DefaultPort},
		remote: PipeAddr{ID: 1, Port: DefaultPort},
	})
	return b
}

func TestNewTCP(t *testing.T) {
	if _, err := NewTCP(TCPConfig{}); err != ErrNoReceiver {
		t.Errorf("NewTCP() without receiver error = %v, want %v", err, ErrNoReceiver)
	}

	tr := newLoopbackTCP(t, TCPConfig{Receiver: discard, MaxMessageSize: 1 << 20})
	defer tr.Stop()
	if got := tr.MaxMessageSize(); got != message.MaxStreamMessageSize {
		t.Errorf("MaxMessageSize() = %d, want cap %d", got, message.MaxStreamMessageSize)
	}
}

func TestTCPStartStop(t *testing.T) {
	tr := newLoopbackTCP(t, TCPConfig{Receiver: discard})

	if err := tr.Start(); err != ErrAlreadyStarted {
		t.Errorf("second Start() error = %v, want %v", err, ErrAlreadyStarted)
	}
	if err := tr.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := tr.Stop(); err != ErrClosed {
		t.Errorf("second Stop() error = %v, want %v", err, ErrClosed)
	}
}

func TestTCPRoundtripReusesConnection(t *testing.T) {
	serverRx := make(chanReceiver, 4)
	clientRx := make(chanReceiver, 4)

	server := newLoopbackTCP(t, TCPConfig{Receiver: serverRx})
	defer server.Stop()
	client := newLoopbackTCP(t, TCPConfig{Receiver: clientRx})
	defer client.Stop()

	for _, payload := range [][]byte{[]byte("first"), []byte("second")} {
		if err := client.Send(payload, server.LocalAddr()); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	var from PeerAddress
	for _, want := range []string{"first", "second"} {
		msg := serverRx.next(t)
		if string(msg.data) != want {
			t.Errorf("data = %q, want %q", msg.data, want)
		}
		if msg.from.TransportType != TransportTypeTCP {
			t.Errorf("TransportType = %v, want TCP", msg.from.TransportType)
		}
		from = msg.from
	}

	if n := client.ConnectionCount(); n != 1 {
		t.Errorf("client ConnectionCount() = %d, want 1", n)
	}

	// The reply travels back over the accepted connection.
	reply := []byte("reply")
	if err := server.Send(reply, from.Addr); err != nil {
		t.Fatalf("reply Send() error = %v", err)
	}
	if msg := clientRx.next(t); !bytes.Equal(msg.data, reply) {
		t.Errorf("data = %q, want %q", msg.data, reply)
	}
	if n := server.ConnectionCount(); n != 1 {
		t.Errorf("server ConnectionCount() = %d, want 1", n)
	}
}

func TestTCPAddConnection(t *testing.T) {
	rx := make(chanReceiver, 1)
	tr := newLoopbackTCP(t, TCPConfig{Receiver: rx})
	defer tr.Stop()

	peer := attachPipe(t, tr)
	// Length prefix 3, little endian.
	go peer.Write([]byte{0x03, 0x00, 0x00, 0x00, 'a', 'b', 'c'})

	msg := rx.next(t)
	if string(msg.data) != "abc" {
		t.Errorf("data = %q, want %q", msg.data, "abc")
	}
	if msg.from.Addr.String() != "pipe:1:5540" {
		t.Errorf("from = %v, want pipe:1:5540", msg.from.Addr)
	}
}

func TestTCPSkipsOversizedFrames(t *testing.T) {
	rx := make(chanReceiver, 1)
	tr := newLoopbackTCP(t, TCPConfig{Receiver: rx, MaxMessageSize: 4})
	defer tr.Stop()

	peer := attachPipe(t, tr)
	go func() {
		w := message.NewStreamWriter(peer)
		w.Write([]byte("too long"))
		w.Write([]byte("ok"))
	}()

	if msg := rx.next(t); string(msg.data) != "ok" {
		t.Errorf("data = %q, want %q", msg.data, "ok")
	}
	waitStats(t, tr.Stats, func(s Stats) bool { return s.Oversized == 1 && s.Delivered == 1 })
	if n := tr.ConnectionCount(); n != 1 {
		t.Errorf("ConnectionCount() = %d, want the connection kept open", n)
	}
}

func TestTCPSendErrors(t *testing.T) {
	tr := newLoopbackTCP(t, TCPConfig{Receiver: discard, MaxMessageSize: 8})

	if err := tr.Send([]byte{1}, nil); err != ErrInvalidAddress {
		t.Errorf("Send(nil addr) error = %v, want %v", err, ErrInvalidAddress)
	}
	if err := tr.Send(make([]byte, 9), tr.LocalAddr()); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("Send(oversize) error = %v, want %v", err, ErrMessageTooLarge)
	}

	tr.Stop()
	if err := tr.Send([]byte{1}, tr.LocalAddr()); err != ErrClosed {
		t.Errorf("Send() after Stop error = %v, want %v", err, ErrClosed)
	}
}

func TestTCPDialTimeout(t *testing.T) {
	tr := newLoopbackTCP(t, TCPConfig{Receiver: discard, DialTimeout: 20 * time.Millisecond})
	defer tr.Stop()

	tr.dial = func(ctx context.Context, _ string) (net.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	start := time.Now()
	err := tr.Send([]byte{1}, &net.TCPAddr{IP: net.IPv4(192, 0, 2, 1), Port: DefaultPort})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Send() error = %v, want %v", err, context.DeadlineExceeded)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Send() took %v, want it bounded by the dial timeout", elapsed)
	}
	if n := tr.ConnectionCount(); n != 0 {
		t.Errorf("ConnectionCount() = %d, want 0", n)
	}
}
