package discovery

import (
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// MDNSServer is a running registration.
type MDNSServer interface {
	Shutdown()
}

// MDNSServerFactory registers a service. Tests substitute a fake.
type MDNSServerFactory interface {
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

type zeroconfServerFactory struct{}

func (zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// AdvertiserConfig configures an Advertiser.
type AdvertiserConfig struct {
	// Port is the port published in the SRV record. Required.
	Port int

	// Interfaces limits the interfaces announced on. Nil means all.
	Interfaces []net.Interface

	// ServerFactory defaults to grandcat/zeroconf.
	ServerFactory MDNSServerFactory

	LoggerFactory logging.LoggerFactory
}

// Advertiser publishes instances of this node.
type Advertiser struct {
	config  AdvertiserConfig
	factory MDNSServerFactory
	log     logging.LeveledLogger

	mu        sync.Mutex
	instances map[string][]MDNSServer
	closed    bool
}

// NewAdvertiser validates config and returns an idle Advertiser.
func NewAdvertiser(config AdvertiserConfig) (*Advertiser, error) {
	if config.Port <= 0 || config.Port > 65535 {
		return nil, ErrInvalidPort
	}
	factory := config.ServerFactory
	if factory == nil {
		factory = zeroconfServerFactory{}
	}

	a := &Advertiser{
		config:    config,
		factory:   factory,
		instances: make(map[string][]MDNSServer),
	}
	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("discovery")
	}
	return a, nil
}

// Advertise registers instance under the UDP service type, and under the
// TCP service type as well when txt says TCP is supported.
func (a *Advertiser) Advertise(instance string, txt TXT) error {
	if err := txt.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	if _, ok := a.instances[instance]; ok {
		return ErrAlreadyAdvertising
	}

	services := []string{ServiceUDP}
	if txt.TCPSupported {
		services = append(services, ServiceTCP)
	}
	records := txt.Encode()

	var servers []MDNSServer
	for _, service := range services {
		srv, err := a.factory.Register(instance, service, DefaultDomain, a.config.Port, records, a.config.Interfaces)
		if err != nil {
			for _, s := range servers {
				s.Shutdown()
			}
			return fmt.Errorf("discovery: register %s: %w", service, err)
		}
		servers = append(servers, srv)
	}
	a.instances[instance] = servers

	if a.log != nil {
		a.log.Infof("advertising %s on port %d %v", instance, a.config.Port, records)
	}
	return nil
}

// Withdraw stops advertising instance.
func (a *Advertiser) Withdraw(instance string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	servers, ok := a.instances[instance]
	if !ok {
		return ErrNotAdvertising
	}
	for _, s := range servers {
		s.Shutdown()
	}
	delete(a.instances, instance)

	if a.log != nil {
		a.log.Infof("withdrew %s", instance)
	}
	return nil
}

// IsAdvertising reports whether instance is registered.
func (a *Advertiser) IsAdvertising(instance string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.instances[instance]
	return ok
}

// Close withdraws everything. Further Advertise calls fail with ErrClosed.
func (a *Advertiser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	for name, servers := range a.instances {
		for _, s := range servers {
			s.Shutdown()
		}
		delete(a.instances, name)
	}
	return nil
}
