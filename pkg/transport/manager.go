package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/pion/logging"
	"go.uber.org/multierr"

	"github.com/backkem/msglayer/pkg/metrics"
)

// Manager owns the UDP and TCP transports of a node and routes outbound
// messages by the peer's transport type. It implements Sender.
type Manager struct {
	udp  *UDP
	tcp  *TCP
	life *lifecycle
	log  logging.LeveledLogger
}

// ManagerConfig configures a transport Manager.
type ManagerConfig struct {
	// UDPAddr and TCPAddr are the listen addresses. An empty address
	// disables that transport unless a pre-built conn is supplied below.
	UDPAddr string
	TCPAddr string

	// Receiver takes inbound messages from every transport. Required.
	Receiver Receiver

	// MaxUDPMessageSize and MaxTCPMessageSize bound messages per
	// transport. They should match the codec limits of the sessions
	// carried over each. Zero uses the transport default.
	MaxUDPMessageSize int
	MaxTCPMessageSize int

	// DialTimeout bounds outbound TCP connection setup.
	// Default: DefaultDialTimeout
	DialTimeout time.Duration

	// Metrics records dropped inbound messages. Nil disables it.
	Metrics *metrics.Metrics

	// UDPConn and TCPListener override the listen addresses.
	UDPConn     net.PacketConn
	TCPListener net.Listener

	LoggerFactory logging.LoggerFactory
}

func (c ManagerConfig) udpEnabled() bool { return c.UDPAddr != "" || c.UDPConn != nil }
func (c ManagerConfig) tcpEnabled() bool { return c.TCPAddr != "" || c.TCPListener != nil }

// NewManager builds the configured transports. At least one must be enabled.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Receiver == nil {
		return nil, ErrNoReceiver
	}
	if !config.udpEnabled() && !config.tcpEnabled() {
		return nil, fmt.Errorf("%w: no transport configured", ErrNotEnabled)
	}

	m := &Manager{life: newLifecycle()}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("transport")
	}

	if config.udpEnabled() {
		udp, err := NewUDP(UDPConfig{
			Conn:           config.UDPConn,
			ListenAddr:     config.UDPAddr,
			Receiver:       config.Receiver,
			MaxMessageSize: config.MaxUDPMessageSize,
			Metrics:        config.Metrics,
			LoggerFactory:  config.LoggerFactory,
		})
		if err != nil {
			return nil, fmt.Errorf("udp: %w", err)
		}
		m.udp = udp
	}

	if config.tcpEnabled() {
		tcp, err := NewTCP(TCPConfig{
			Listener:       config.TCPListener,
			ListenAddr:     config.TCPAddr,
			Receiver:       config.Receiver,
			MaxMessageSize: config.MaxTCPMessageSize,
			DialTimeout:    config.DialTimeout,
			Metrics:        config.Metrics,
			LoggerFactory:  config.LoggerFactory,
		})
		if err != nil {
			if m.udp != nil {
				m.udp.Stop()
			}
			return nil, fmt.Errorf("tcp: %w", err)
		}
		m.tcp = tcp
	}
	return m, nil
}

// Start starts every enabled transport.
func (m *Manager) Start() error {
	if err := m.life.start(); err != nil {
		return err
	}

	if m.udp != nil {
		if err := m.udp.Start(); err != nil {
			return fmt.Errorf("udp: %w", err)
		}
	}
	if m.tcp != nil {
		if err := m.tcp.Start(); err != nil {
			return fmt.Errorf("tcp: %w", err)
		}
	}
	if m.log != nil {
		m.log.Debugf("transports started on %v", m.LocalAddresses())
	}
	return nil
}

// Stop stops every transport and returns all errors encountered.
func (m *Manager) Stop() error {
	if err := m.life.stop(); err != nil {
		return err
	}

	var err error
	if m.udp != nil {
		if e := m.udp.Stop(); e != nil && e != ErrClosed {
			err = multierr.Append(err, fmt.Errorf("udp: %w", e))
		}
	}
	if m.tcp != nil {
		if e := m.tcp.Stop(); e != nil && e != ErrClosed {
			err = multierr.Append(err, fmt.Errorf("tcp: %w", e))
		}
	}
	return err
}

// Send routes data to the transport named by peer.TransportType.
func (m *Manager) Send(data []byte, peer PeerAddress) error {
	if m.life.closed() {
		return ErrClosed
	}
	if !peer.IsValid() {
		return ErrInvalidAddress
	}

	switch peer.TransportType {
	case TransportTypeUDP:
		if m.udp == nil {
			return fmt.Errorf("%w: udp", ErrNotEnabled)
		}
		return m.udp.Send(data, peer.Addr)
	case TransportTypeTCP:
		if m.tcp == nil {
			return fmt.Errorf("%w: tcp", ErrNotEnabled)
		}
		return m.tcp.Send(data, peer.Addr)
	default:
		return fmt.Errorf("%w: %s", ErrNotEnabled, peer.TransportType)
	}
}

// LocalAddresses returns the bound address of each enabled transport.
func (m *Manager) LocalAddresses() []net.Addr {
	var addrs []net.Addr
	if m.udp != nil {
		addrs = append(addrs, m.udp.LocalAddr())
	}
	if m.tcp != nil {
		addrs = append(addrs, m.tcp.LocalAddr())
	}
	return addrs
}

// Stats sums the inbound counts of every transport.
func (m *Manager) Stats() Stats {
	var total Stats
	for _, st := range m.stats() {
		total.Delivered += st.Delivered
		total.Rejected += st.Rejected
		total.Oversized += st.Oversized
	}
	return total
}

func (m *Manager) stats() []Stats {
	var out []Stats
	if m.udp != nil {
		out = append(out, m.udp.Stats())
	}
	if m.tcp != nil {
		out = append(out, m.tcp.Stats())
	}
	return out
}

// UDP returns the UDP transport, or nil.
func (m *Manager) UDP() *UDP { return m.udp }

// TCP returns the TCP transport, or nil.
func (m *Manager) TCP() *TCP { return m.tcp }

var _ Sender = (*Manager)(nil)
