package transport

import (
	"bytes"
	"errors"
	"net"
	"testing"
)

func TestNewManager(t *testing.T) {
	if _, err := NewManager(ManagerConfig{UDPAddr: "127.0.0.1:0"}); err != ErrNoReceiver {
		t.Errorf("NewManager() without receiver error = %v, want %v", err, ErrNoReceiver)
	}
	if _, err := NewManager(ManagerConfig{Receiver: discard}); !errors.Is(err, ErrNotEnabled) {
		t.Errorf("NewManager() without transports error = %v, want %v", err, ErrNotEnabled)
	}

	tests := []struct {
		name    string
		config  ManagerConfig
		wantUDP bool
		wantTCP bool
	}{
		{"both", ManagerConfig{UDPAddr: "127.0.0.1:0", TCPAddr: "127.0.0.1:0"}, true, true},
		{"udp only", ManagerConfig{UDPAddr: "127.0.0.1:0"}, true, false},
		{"tcp only", ManagerConfig{TCPAddr: "127.0.0.1:0"}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.Receiver = discard
			m, err := NewManager(tt.config)
			if err != nil {
				t.Fatalf("NewManager() error = %v", err)
			}
			defer m.Stop()

			if (m.UDP() != nil) != tt.wantUDP {
				t.Errorf("UDP() present = %v, want %v", m.UDP() != nil, tt.wantUDP)
			}
			if (m.TCP() != nil) != tt.wantTCP {
				t.Errorf("TCP() present = %v, want %v", m.TCP() != nil, tt.wantTCP)
			}
			want := 0
			if tt.wantUDP {
				want++
			}
			if tt.wantTCP {
				want++
			}
			if got := len(m.LocalAddresses()); got != want {
				t.Errorf("LocalAddresses() len = %d, want %d", got, want)
			}
		})
	}
}

func TestManagerStartStop(t *testing.T) {
	m, err := NewManager(ManagerConfig{
		UDPAddr:        "127.0.0.1:0",
		TCPAddr:        "127.0.0.1:0",
		Receiver:       discard,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if err := m.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Start(); err != ErrAlreadyStarted {
		t.Errorf("second Start() error = %v, want %v", err, ErrAlreadyStarted)
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := m.Stop(); err != ErrClosed {
		t.Errorf("second Stop() error = %v, want %v", err, ErrClosed)
	}
}

func TestManagerSendUDP(t *testing.T) {
	rx := make(chanReceiver, 1)

	server, err := NewManager(ManagerConfig{
		UDPConn:  listenLoopback(t),
		Receiver: rx,
	})
	if err != nil {
		t.Fatalf("NewManager() server error = %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer server.Stop()

	client, err := NewManager(ManagerConfig{
		UDPConn:        listenLoopback(t),
		Receiver:       discard,
	})
	if err != nil {
		t.Fatalf("NewManager() client error = %v", err)
	}
	defer client.Stop()

	payload := []byte("via manager")
	if err := client.Send(payload, NewUDPPeerAddress(server.UDP().LocalAddr())); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if msg := rx.next(t); !bytes.Equal(msg.data, payload) {
		t.Errorf("data = %q, want %q", msg.data, payload)
	}
	waitStats(t, server.Stats, func(s Stats) bool { return s.Delivered == 1 })
}

func TestManagerPassesLimits(t *testing.T) {
	m, err := NewManager(ManagerConfig{
		UDPAddr:           "127.0.0.1:0",
		TCPAddr:           "127.0.0.1:0",
		Receiver:          discard,
		MaxUDPMessageSize: 512,
		MaxTCPMessageSize: 4096,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Stop()

	if got := m.UDP().MaxMessageSize(); got != 512 {
		t.Errorf("UDP MaxMessageSize() = %d, want 512", got)
	}
	if got := m.TCP().MaxMessageSize(); got != 4096 {
		t.Errorf("TCP MaxMessageSize() = %d, want 4096", got)
	}
	err = m.Send(make([]byte, 513), NewUDPPeerAddress(m.UDP().LocalAddr()))
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("Send(oversize udp) error = %v, want %v", err, ErrMessageTooLarge)
	}
}

func TestManagerSendErrors(t *testing.T) {
	m, err := NewManager(ManagerConfig{
		UDPAddr:        "127.0.0.1:0",
		Receiver:       discard,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if err := m.Send([]byte{1}, PeerAddress{}); err != ErrInvalidAddress {
		t.Errorf("Send(zero peer) error = %v, want %v", err, ErrInvalidAddress)
	}

	tcpPeer := NewTCPPeerAddress(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5540})
	if err := m.Send([]byte{1}, tcpPeer); !errors.Is(err, ErrNotEnabled) {
		t.Errorf("Send(tcp) on udp-only manager error = %v, want %v", err, ErrNotEnabled)
	}

	blePeer := PeerAddress{Addr: PipeAddr{}, TransportType: TransportTypeBLE}
	if err := m.Send([]byte{1}, blePeer); !errors.Is(err, ErrNotEnabled) {
		t.Errorf("Send(ble) error = %v, want %v", err, ErrNotEnabled)
	}

	m.Stop()
	if err := m.Send([]byte{1}, NewUDPPeerAddress(m.UDP().LocalAddr())); err != ErrClosed {
		t.Errorf("Send() after Stop error = %v, want %v", err, ErrClosed)
	}
}

func TestParsePeerAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    TransportType
		wantErr bool
	}{
		{"127.0.0.1:5540", TransportTypeUDP, false},
		{"udp://127.0.0.1:5540", TransportTypeUDP, false},
		{"tcp://[::1]:5540", TransportTypeTCP, false},
		{"tcp://no-port", TransportTypeUnknown, true},
	}
	for _, tt := range tests {
		got, err := ParsePeerAddress(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidAddress) {
				t.Errorf("ParsePeerAddress(%q) error = %v, want %v", tt.in, err, ErrInvalidAddress)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePeerAddress(%q) error = %v", tt.in, err)
			continue
		}
		if got.TransportType != tt.want || !got.IsValid() {
			t.Errorf("ParsePeerAddress(%q) = %v, want transport %v", tt.in, got, tt.want)
		}
	}
}

func TestPeerAddressEqual(t *testing.T) {
	a := NewUDPPeerAddress(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5540})
	b := NewUDPPeerAddress(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5540})
	c := NewTCPPeerAddress(&net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5540})

	if !a.Equal(b) {
		t.Error("equal UDP addresses compare unequal")
	}
	if a.Equal(c) {
		t.Error("UDP and TCP addresses compare equal")
	}
	if (PeerAddress{}).IsValid() {
		t.Error("zero PeerAddress is valid")
	}
}
