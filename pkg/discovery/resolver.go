package discovery

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/backkem/msglayer/pkg/session"
	"github.com/backkem/msglayer/pkg/transport"
	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

const (
	DefaultBrowseTimeout = 10 * time.Second
	DefaultLookupTimeout = 5 * time.Second
)

// Peer is a resolved instance.
type Peer struct {
	Instance string
	HostName string
	Port     int

	// IPs are sorted by SortIPsByPreference.
	IPs []net.IP

	TXT TXT
}

// Params returns the peer's advertised retry timing.
func (p *Peer) Params() session.Params {
	return p.TXT.Params
}

// Addresses lists every way to reach the peer: UDP for each IP, then TCP
// for each IP when the peer advertises TCP support.
func (p *Peer) Addresses() []transport.PeerAddress {
	var addrs []transport.PeerAddress
	for _, ip := range p.IPs {
		addrs = append(addrs, transport.NewUDPPeerAddress(&net.UDPAddr{IP: ip, Port: p.Port}))
	}
	if p.TXT.TCPSupported {
		for _, ip := range p.IPs {
			addrs = append(addrs, transport.NewTCPPeerAddress(&net.TCPAddr{IP: ip, Port: p.Port}))
		}
	}
	return addrs
}

// MDNSResolver queries the network. Browse and Lookup send results to
// entries until ctx is done or no more results will come, then return.
// They never close entries.
type MDNSResolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
	Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

type zeroconfResolver struct {
	resolver *zeroconf.Resolver
}

func (z *zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	inner := make(chan *zeroconf.ServiceEntry)
	if err := z.resolver.Browse(ctx, service, domain, inner); err != nil {
		return err
	}
	return forward(ctx, inner, entries)
}

func (z *zeroconfResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	inner := make(chan *zeroconf.ServiceEntry)
	if err := z.resolver.Lookup(ctx, instance, service, domain, inner); err != nil {
		return err
	}
	return forward(ctx, inner, entries)
}

// forward copies from zeroconf's channel, which zeroconf closes itself
// once ctx is done.
func forward(ctx context.Context, in <-chan *zeroconf.ServiceEntry, out chan<- *zeroconf.ServiceEntry) error {
	for entry := range in {
		select {
		case out <- entry:
		case <-ctx.Done():
			for range in {
			}
			return ctx.Err()
		}
	}
	return nil
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// MDNSResolver defaults to grandcat/zeroconf on all interfaces.
	MDNSResolver MDNSResolver

	BrowseTimeout time.Duration
	LookupTimeout time.Duration

	LoggerFactory logging.LoggerFactory
}

// Resolver finds peers.
type Resolver struct {
	config   ResolverConfig
	resolver MDNSResolver
	log      logging.LeveledLogger
}

// NewResolver returns a Resolver. Without an injected MDNSResolver it opens
// a zeroconf client.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	resolver := config.MDNSResolver
	if resolver == nil {
		zr, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, err
		}
		resolver = &zeroconfResolver{resolver: zr}
	}
	if config.BrowseTimeout == 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}
	if config.LookupTimeout == 0 {
		config.LookupTimeout = DefaultLookupTimeout
	}

	r := &Resolver{config: config, resolver: resolver}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("discovery")
	}
	return r, nil
}

// Browse streams peers until ctx is done or the browse timeout expires.
// Entries with an unparseable TXT record are skipped.
func (r *Resolver) Browse(ctx context.Context) <-chan Peer {
	cancel := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, r.config.BrowseTimeout)
	}

	results := make(chan Peer)
	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		defer close(entries)
		err := r.resolver.Browse(ctx, ServiceUDP, DefaultDomain, entries)
		if err != nil && ctx.Err() == nil && r.log != nil {
			r.log.Warnf("browse: %v", err)
		}
	}()
	go func() {
		defer cancel()
		defer close(results)
		for entry := range entries {
			peer, err := r.toPeer(entry)
			if err != nil {
				continue
			}
			select {
			case results <- peer:
			case <-ctx.Done():
				for range entries {
				}
				return
			}
		}
	}()
	return results
}

// Lookup resolves a single instance by name.
func (r *Resolver) Lookup(ctx context.Context, instance string) (*Peer, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.LookupTimeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		defer close(entries)
		r.resolver.Lookup(ctx, instance, ServiceUDP, DefaultDomain, entries)
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return nil, ErrServiceNotFound
			}
			if entry == nil || entry.Instance != instance {
				continue
			}
			peer, err := r.toPeer(entry)
			if err != nil {
				return nil, err
			}
			cancel()
			for range entries {
			}
			return &peer, nil
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, ctx.Err()
		}
	}
}

func (r *Resolver) toPeer(entry *zeroconf.ServiceEntry) (Peer, error) {
	txt, err := DecodeTXT(ParseTXT(entry.Text))
	if err != nil {
		if r.log != nil {
			r.log.Debugf("ignoring %s: %v", entry.Instance, err)
		}
		return Peer{}, err
	}

	ips := make([]net.IP, 0, len(entry.AddrIPv6)+len(entry.AddrIPv4))
	ips = append(ips, entry.AddrIPv6...)
	ips = append(ips, entry.AddrIPv4...)

	return Peer{
		Instance: entry.Instance,
		HostName: entry.HostName,
		Port:     entry.Port,
		IPs:      SortIPsByPreference(ips),
		TXT:      txt,
	}, nil
}
