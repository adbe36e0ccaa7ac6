// Package node ties the session table, the exchange layer and the
// transports into one running endpoint.
//
// The session and exchange layers are single-threaded. A Node serializes
// access to them on one event loop (Run): inbound packets arrive through
// the bounded ingress queue, timers through a clock ticker, and other
// goroutines reach the core with Do.
package node

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/logging"
	"go.uber.org/multierr"

	"github.com/backkem/msglayer/pkg/discovery"
	"github.com/backkem/msglayer/pkg/exchange"
	"github.com/backkem/msglayer/pkg/message"
	"github.com/backkem/msglayer/pkg/metrics"
	"github.com/backkem/msglayer/pkg/session"
	"github.com/backkem/msglayer/pkg/transport"
)

type inbound struct {
	data []byte
	from transport.PeerAddress
}

// Node is a messaging endpoint.
type Node struct {
	config    Config
	clock     clock.Clock
	sessions  *session.Manager
	exchanges *exchange.Manager
	transport *transport.Manager
	sender    transport.Sender
	metrics   *metrics.Metrics
	log       logging.LeveledLogger

	advertiser *discovery.Advertiser

	ingress chan inbound
	calls   chan func()
	stopCh  chan struct{}

	mu       sync.Mutex
	state    State
	looping  bool
	loopDone chan struct{}
}

// New builds a node and its layers. Transports are bound but not started.
func New(config Config) (*Node, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	n := &Node{
		config:  config,
		clock:   config.Clock,
		metrics: config.Metrics,
		ingress: make(chan inbound, config.IngressQueueSize),
		calls:   make(chan func()),
		stopCh:  make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		n.log = config.LoggerFactory.NewLogger("node")
	}

	sessions, err := session.NewManager(config.Session)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	n.sessions = sessions

	n.sender = config.Sender
	if n.sender == nil {
		tm, err := transport.NewManager(transport.ManagerConfig{
			UDPAddr:           config.UDPAddr,
			TCPAddr:           config.TCPAddr,
			Receiver:          n,
			MaxUDPMessageSize: message.MaxUDPMessageSize,
			MaxTCPMessageSize: message.MaxStreamMessageSize,
			Metrics:           config.Metrics,
			LoggerFactory:     config.LoggerFactory,
		})
		if err != nil {
			return nil, err
		}
		n.transport = tm
		n.sender = tm
	}

	ec := config.Exchange
	ec.Sessions = sessions
	ec.Transport = n.sender
	exchanges, err := exchange.NewManager(ec)
	if err != nil {
		if n.transport != nil {
			n.transport.Stop()
		}
		return nil, fmt.Errorf("exchange: %w", err)
	}
	n.exchanges = exchanges
	return n, nil
}

// Start starts the transports and, if configured, DNS-SD advertisement.
// The event loop is started separately with Run.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.state.CanStart() {
		if n.state.IsRunning() {
			return ErrAlreadyStarted
		}
		return ErrStopped
	}

	if n.transport != nil {
		if err := n.transport.Start(); err != nil {
			return err
		}
	}
	if err := n.startAdvertising(); err != nil {
		if n.transport != nil {
			n.transport.Stop()
		}
		return err
	}

	n.state = StateRunning
	if n.log != nil {
		n.log.Info("node started")
	}
	return nil
}

func (n *Node) startAdvertising() error {
	adv := n.config.Advertise
	if adv.Instance == "" || n.transport == nil || n.transport.UDP() == nil {
		return nil
	}
	udp, ok := n.transport.UDP().LocalAddr().(*net.UDPAddr)
	if !ok {
		return fmt.Errorf("node: cannot advertise %v", n.transport.UDP().LocalAddr())
	}

	a, err := discovery.NewAdvertiser(discovery.AdvertiserConfig{
		Port:          udp.Port,
		ServerFactory: adv.ServerFactory,
		LoggerFactory: n.config.LoggerFactory,
	})
	if err != nil {
		return err
	}
	txt := discovery.TXT{Params: adv.Params, TCPSupported: n.transport.TCP() != nil}
	if err := a.Advertise(adv.Instance, txt); err != nil {
		return err
	}
	n.advertiser = a
	return nil
}

// Stop ends the event loop, aborts every exchange, evicts every session and
// stops the transports. All teardown errors are returned together.
func (n *Node) Stop() error {
	n.mu.Lock()
	if !n.state.CanStop() {
		n.mu.Unlock()
		return ErrStopped
	}
	n.state = StateStopping
	looping, done := n.looping, n.loopDone
	n.mu.Unlock()

	close(n.stopCh)
	if looping {
		<-done
	}

	n.exchanges.Shutdown()
	n.sessions.Shutdown()

	var err error
	if n.advertiser != nil {
		err = multierr.Append(err, n.advertiser.Close())
	}
	if n.transport != nil {
		if e := n.transport.Stop(); e != nil && e != transport.ErrClosed {
			err = multierr.Append(err, e)
		}
	}

	n.mu.Lock()
	n.state = StateStopped
	n.mu.Unlock()

	if n.log != nil {
		n.log.Info("node stopped")
	}
	return err
}

// State returns the lifecycle state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Run is the event loop. It returns when ctx is done or Stop is called.
func (n *Node) Run(ctx context.Context) error {
	n.mu.Lock()
	if n.state >= StateStopping {
		n.mu.Unlock()
		return ErrStopped
	}
	if n.looping {
		n.mu.Unlock()
		return ErrLoopRunning
	}
	n.looping = true
	n.loopDone = make(chan struct{})
	done := n.loopDone
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		n.looping = false
		close(done)
		n.mu.Unlock()
	}()

	ticker := n.clock.Ticker(n.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-n.stopCh:
			return nil
		case in := <-n.ingress:
			n.process(in)
		case fn := <-n.calls:
			fn()
		case <-ticker.C:
			n.Tick(n.clock.Now())
		}
	}
}

// Do runs fn on the event loop and waits for it to finish. It is the only
// safe way to touch sessions and exchanges from another goroutine while
// Run is active.
func (n *Node) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	call := func() {
		defer close(done)
		fn()
	}
	select {
	case n.calls <- call:
	case <-n.stopCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeliverBuffer queues a received packet for the event loop. It is safe
// for concurrent use. When the queue is full the packet is dropped and
// false is returned.
func (n *Node) DeliverBuffer(data []byte, from transport.PeerAddress) bool {
	select {
	case n.ingress <- inbound{data: data, from: from}:
		return true
	default:
		n.metrics.Dropped(metrics.DropIngressFull)
		if n.log != nil {
			n.log.Debugf("ingress full, dropped %d bytes from %s", len(data), from)
		}
		return false
	}
}

var _ transport.Receiver = (*Node)(nil)

func (n *Node) process(in inbound) {
	if err := n.OnMessageReceived(in.data, in.from); err != nil && n.log != nil {
		n.log.Tracef("dropped message from %s: %v", in.from, err)
	}
}

// OnMessageReceived processes one packet synchronously. Call it from the
// event loop, or directly when no loop runs.
func (n *Node) OnMessageReceived(data []byte, from transport.PeerAddress) error {
	return n.exchanges.OnMessageReceived(data, from)
}

// Tick runs due retransmissions and acknowledgements, then evicts idle
// sessions.
func (n *Node) Tick(now time.Time) {
	n.exchanges.Tick(now)
	n.sessions.Tick(now)
}

// SendMessage sends payload on ec.
func (n *Node) SendMessage(ec *exchange.ExchangeContext, protocolID message.ProtocolID, msgType uint8, payload []byte, needsAck bool) error {
	if ec == nil {
		return ErrNilExchange
	}
	return ec.Send(protocolID, msgType, payload, needsAck)
}

// OpenExchange starts an initiator exchange on s.
func (n *Node) OpenExchange(s *session.Session, h exchange.Handler) (*exchange.ExchangeContext, error) {
	return n.exchanges.NewExchange(s, h)
}

// RegisterUnsolicitedHandler routes peer-initiated exchanges opening with
// protocolID/msgType to h.
func (n *Node) RegisterUnsolicitedHandler(protocolID message.ProtocolID, msgType uint8, h exchange.Handler) error {
	return n.exchanges.RegisterUnsolicitedHandler(protocolID, msgType, h)
}

// RegisterUnsolicitedProtocolHandler routes every unclaimed message type of
// protocolID to h.
func (n *Node) RegisterUnsolicitedProtocolHandler(protocolID message.ProtocolID, h exchange.Handler) error {
	return n.exchanges.RegisterUnsolicitedProtocolHandler(protocolID, h)
}

// InstallSession adds a negotiated session.
func (n *Node) InstallSession(p session.InstallParams) (*session.Session, error) {
	return n.sessions.InstallSession(p)
}

// ExpireSessionsForPeer evicts every session with identity and returns how
// many were removed.
func (n *Node) ExpireSessionsForPeer(identity session.PeerIdentity) int {
	return n.sessions.ExpireSessionsForPeer(identity)
}

// CloseSession tells the peer the session is closing and evicts it.
func (n *Node) CloseSession(s *session.Session) error {
	return n.exchanges.CloseSession(s)
}

// Sessions returns the session manager. Loop-only.
func (n *Node) Sessions() *session.Manager { return n.sessions }

// Exchanges returns the exchange manager. Loop-only.
func (n *Node) Exchanges() *exchange.Manager { return n.exchanges }

// Transport returns the built-in transports, or nil when Config.Sender
// was set.
func (n *Node) Transport() *transport.Manager { return n.transport }
