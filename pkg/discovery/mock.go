package discovery

import (
	"context"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
)

// MockMDNSResolver answers Browse and Lookup from registered entries.
type MockMDNSResolver struct {
	mu       sync.RWMutex
	services map[string][]*zeroconf.ServiceEntry
}

// NewMockMDNSResolver returns an empty mock.
func NewMockMDNSResolver() *MockMDNSResolver {
	return &MockMDNSResolver{services: make(map[string][]*zeroconf.ServiceEntry)}
}

// RegisterService adds entry under service.
func (m *MockMDNSResolver) RegisterService(service string, entry *zeroconf.ServiceEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[service] = append(m.services[service], entry)
}

func (m *MockMDNSResolver) entries(service string) []*zeroconf.ServiceEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*zeroconf.ServiceEntry(nil), m.services[service]...)
}

func (m *MockMDNSResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	for _, entry := range m.entries(service) {
		select {
		case entries <- entry:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *MockMDNSResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	for _, entry := range m.entries(service) {
		if entry.Instance != instance {
			continue
		}
		select {
		case entries <- entry:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}
	return nil
}

// MockEntry builds a service entry as zeroconf would deliver it.
func MockEntry(instance string, port int, ip net.IP, txt TXT) *zeroconf.ServiceEntry {
	entry := zeroconf.NewServiceEntry(instance, ServiceUDP, DefaultDomain)
	entry.HostName = instance + ".local."
	entry.Port = port
	entry.Text = txt.Encode()
	if ip.To4() != nil {
		entry.AddrIPv4 = []net.IP{ip}
	} else {
		entry.AddrIPv6 = []net.IP{ip}
	}
	return entry
}

// MockServerFactory records registrations instead of announcing them.
type MockServerFactory struct {
	mu            sync.Mutex
	Registrations []MockRegistration
	Err           error
}

// MockRegistration is one recorded Register call.
type MockRegistration struct {
	Instance string
	Service  string
	Port     int
	Text     []string
	server   *mockServer
}

// Shutdown reports whether the registration was shut down.
func (r MockRegistration) Shutdown() bool {
	r.server.mu.Lock()
	defer r.server.mu.Unlock()
	return r.server.shutdown
}

type mockServer struct {
	mu       sync.Mutex
	shutdown bool
}

func (s *mockServer) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
}

func (f *MockServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	srv := &mockServer{}
	f.Registrations = append(f.Registrations, MockRegistration{
		Instance: instance,
		Service:  service,
		Port:     port,
		Text:     txt,
		server:   srv,
	})
	return srv, nil
}
