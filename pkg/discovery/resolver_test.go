package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/backkem/msglayer/pkg/session"
	"github.com/backkem/msglayer/pkg/transport"
)

func TestResolverLookup(t *testing.T) {
	mock := NewMockMDNSResolver()
	txt := TXT{
		Params:       session.Params{IdleInterval: 2 * time.Second, ActiveInterval: 400 * time.Millisecond},
		TCPSupported: true,
	}
	mock.RegisterService(ServiceUDP, MockEntry("other", 5541, net.ParseIP("10.0.0.9"), TXT{}))
	mock.RegisterService(ServiceUDP, MockEntry("node-a", 5540, net.ParseIP("fd00::5"), txt))

	r, err := NewResolver(ResolverConfig{MDNSResolver: mock})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}

	peer, err := r.Lookup(context.Background(), "node-a")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if peer.Port != 5540 || peer.Instance != "node-a" {
		t.Errorf("Lookup() = %+v", peer)
	}
	if peer.Params() != txt.Params {
		t.Errorf("Params() = %+v, want %+v", peer.Params(), txt.Params)
	}

	addrs := peer.Addresses()
	if len(addrs) != 2 {
		t.Fatalf("Addresses() len = %d, want 2", len(addrs))
	}
	if addrs[0].TransportType != transport.TransportTypeUDP || addrs[1].TransportType != transport.TransportTypeTCP {
		t.Errorf("Addresses() = %v, want UDP then TCP", addrs)
	}
	if addrs[0].Addr.String() != "[fd00::5]:5540" {
		t.Errorf("Addresses()[0] = %s, want [fd00::5]:5540", addrs[0].Addr)
	}

	if _, err := r.Lookup(context.Background(), "missing"); !errors.Is(err, ErrServiceNotFound) {
		t.Errorf("Lookup(missing) error = %v, want %v", err, ErrServiceNotFound)
	}
}

func TestResolverLookupBadTXT(t *testing.T) {
	mock := NewMockMDNSResolver()
	entry := MockEntry("node-b", 5540, net.ParseIP("10.0.0.2"), TXT{})
	entry.Text = []string{"SII=forever"}
	mock.RegisterService(ServiceUDP, entry)

	r, _ := NewResolver(ResolverConfig{MDNSResolver: mock})
	if _, err := r.Lookup(context.Background(), "node-b"); !errors.Is(err, ErrInvalidTXTRecord) {
		t.Errorf("Lookup() error = %v, want %v", err, ErrInvalidTXTRecord)
	}
}

func TestResolverBrowse(t *testing.T) {
	mock := NewMockMDNSResolver()
	mock.RegisterService(ServiceUDP, MockEntry("a", 5540, net.ParseIP("10.0.0.1"), TXT{}))
	bad := MockEntry("b", 5540, net.ParseIP("10.0.0.2"), TXT{})
	bad.Text = []string{"T=2"}
	mock.RegisterService(ServiceUDP, bad)
	mock.RegisterService(ServiceUDP, MockEntry("c", 5540, net.ParseIP("10.0.0.3"), TXT{TCPSupported: true}))

	r, _ := NewResolver(ResolverConfig{MDNSResolver: mock, BrowseTimeout: time.Second})

	var names []string
	for peer := range r.Browse(context.Background()) {
		names = append(names, peer.Instance)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "c" {
		t.Errorf("Browse() = %v, want [a c]", names)
	}
}
