package transport

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func readWithTimeout(t *testing.T, conn net.PacketConn) []byte {
	t.Helper()
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		buf := make([]byte, 1500)
		n, _, err := conn.ReadFrom(buf)
		ch <- result{buf[:n], err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("ReadFrom() error = %v", r.err)
		}
		return r.data
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for packet")
		return nil
	}
}

func TestPipeAutoProcess(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	c0, c1 := p.PacketConn(0, DefaultPort), p.PacketConn(1, DefaultPort)
	if _, err := c0.WriteTo([]byte("ping"), nil); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}
	if got := readWithTimeout(t, c1); !bytes.Equal(got, []byte("ping")) {
		t.Errorf("read = %q, want ping", got)
	}

	if _, err := c1.WriteTo([]byte("pong"), nil); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}
	if got := readWithTimeout(t, c0); !bytes.Equal(got, []byte("pong")) {
		t.Errorf("read = %q, want pong", got)
	}
}

func readAsync(conn net.PacketConn) <-chan []byte {
	ch := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 1500)
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			close(ch)
			return
		}
		ch <- buf[:n]
	}()
	return ch
}

func TestPipeManualProcess(t *testing.T) {
	p := NewManualPipe()
	defer p.Close()

	c0, c1 := p.PacketConn(0, DefaultPort), p.PacketConn(1, DefaultPort)
	got := readAsync(c1)
	time.Sleep(10 * time.Millisecond)

	c0.WriteTo([]byte("held"), nil)
	select {
	case <-got:
		t.Fatal("packet delivered before Process()")
	case <-time.After(50 * time.Millisecond):
	}

	if n := p.Process(); n != 1 {
		t.Errorf("Process() = %d, want 1", n)
	}
	select {
	case data := <-got:
		if string(data) != "held" {
			t.Errorf("read = %q, want held", data)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout after Process()")
	}
}

func TestPipeDropAll(t *testing.T) {
	p := NewPipe()
	defer p.Close()
	p.SetCondition(NetworkCondition{DropRate: 1})

	c0, c1 := p.PacketConn(0, DefaultPort), p.PacketConn(1, DefaultPort)
	got := readAsync(c1)

	n, err := c0.WriteTo([]byte("lost"), nil)
	if err != nil || n != 4 {
		t.Fatalf("WriteTo() = %d, %v; want 4, nil", n, err)
	}
	select {
	case data, ok := <-got:
		if ok {
			t.Fatalf("dropped packet delivered: %q", data)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPipeDuplicateAll(t *testing.T) {
	p := NewPipe()
	defer p.Close()
	p.SetCondition(NetworkCondition{DuplicateRate: 1})

	c0, c1 := p.PacketConn(0, DefaultPort), p.PacketConn(1, DefaultPort)
	c0.WriteTo([]byte("twice"), nil)
	for i := 0; i < 2; i++ {
		if got := readWithTimeout(t, c1); string(got) != "twice" {
			t.Errorf("copy %d = %q, want twice", i, got)
		}
	}
}

func TestPipePacketConnAddrs(t *testing.T) {
	p := NewManualPipe()
	defer p.Close()

	c1 := p.PacketConn(1, 6000)
	if got := c1.LocalAddr().String(); got != "pipe:1:6000" {
		t.Errorf("LocalAddr() = %s, want pipe:1:6000", got)
	}
	if got := c1.LocalAddr().Network(); got != "pipe" {
		t.Errorf("Network() = %s, want pipe", got)
	}
}

func TestPipeManagerPairUDP(t *testing.T) {
	rx := make(chanReceiver, 1)
	pair, err := NewPipeManagerPair(PipeManagerConfig{
		Receivers: [2]Receiver{discard, rx},
	})
	if err != nil {
		t.Fatalf("NewPipeManagerPair() error = %v", err)
	}
	defer pair.Close()

	if pair.Manager(0).TCP() != nil {
		t.Error("TCP() should be nil when TCP is not requested")
	}

	if err := pair.Manager(0).Send([]byte("udp"), pair.PeerAddress(1, TransportTypeUDP)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	msg := rx.next(t)
	if string(msg.data) != "udp" {
		t.Errorf("data = %q, want udp", msg.data)
	}
	if msg.from.Addr.String() != "pipe:0:5540" {
		t.Errorf("from = %v, want pipe:0:5540", msg.from.Addr)
	}
}

func TestPipeManagerPairTCP(t *testing.T) {
	rx := [2]chanReceiver{make(chanReceiver, 1), make(chanReceiver, 1)}
	pair, err := NewPipeManagerPair(PipeManagerConfig{
		TCP:       true,
		Receivers: [2]Receiver{rx[0], rx[1]},
	})
	if err != nil {
		t.Fatalf("NewPipeManagerPair() error = %v", err)
	}
	defer pair.Close()

	for from := range 2 {
		to := 1 - from
		if err := pair.Manager(from).Send([]byte("stream"), pair.PeerAddress(to, TransportTypeTCP)); err != nil {
			t.Fatalf("Send(%d->%d) error = %v", from, to, err)
		}
		msg := rx[to].next(t)
		if msg.from.TransportType != TransportTypeTCP {
			t.Errorf("TransportType = %v, want TCP", msg.from.TransportType)
		}
		if string(msg.data) != "stream" {
			t.Errorf("data = %q, want stream", msg.data)
		}
	}
}
