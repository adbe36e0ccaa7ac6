package exchange

import (
	"net"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/backkem/msglayer/pkg/crypto"
	"github.com/backkem/msglayer/pkg/session"
	"github.com/backkem/msglayer/pkg/transport"
)

// TestLink is an in-memory transport that queues what one side sends until
// TestPair.Flush delivers it.
type TestLink struct {
	// Queue holds sent messages not yet delivered.
	Queue [][]byte

	// Sent counts every Send call that did not fail.
	Sent int

	// Err, if set, fails every Send.
	Err error

	// Drop, if set, silently discards messages it returns true for.
	Drop func(data []byte) bool
}

// Send implements transport.Sender.
func (l *TestLink) Send(data []byte, _ transport.PeerAddress) error {
	if l.Err != nil {
		return l.Err
	}
	l.Sent++
	if l.Drop != nil && l.Drop(data) {
		return nil
	}
	l.Queue = append(l.Queue, append([]byte(nil), data...))
	return nil
}

// Take removes and returns the queued messages.
func (l *TestLink) Take() [][]byte {
	q := l.Queue
	l.Queue = nil
	return q
}

// TestPairConfig configures NewTestPair.
type TestPairConfig struct {
	// Reliability replaces the defaults of the pair's transport type.
	Reliability *ReliabilityConfig

	// TCP addresses the peers over TCP instead of UDP.
	TCP bool

	// MaxExchanges is passed to both managers.
	MaxExchanges int

	// Sessions configures both session managers. Clock is replaced by the
	// pair's clock.
	Sessions session.ManagerConfig
}

// TestPair is two nodes with an established session between them, driven
// by a shared mock clock. Nothing moves until Flush or Advance is called.
//
// Side 0 is the session initiator.
type TestPair struct {
	Clock    *clock.Mock
	Sessions [2]*session.Manager
	Managers [2]*Manager
	Session  [2]*session.Session
	Links    [2]*TestLink
	Addrs    [2]transport.PeerAddress
}

// NewTestPair creates a connected pair.
func NewTestPair(config TestPairConfig) (*TestPair, error) {
	p := &TestPair{Clock: clock.NewMock()}
	p.Clock.Set(time.Unix(1_700_000_000, 0))

	for i := range 2 {
		udp := &net.UDPAddr{IP: net.IPv4(127, 0, 0, byte(i+1)), Port: 5540}
		if config.TCP {
			p.Addrs[i] = transport.NewTCPPeerAddress(&net.TCPAddr{IP: udp.IP, Port: udp.Port})
		} else {
			p.Addrs[i] = transport.NewUDPPeerAddress(udp)
		}
	}

	keys, err := crypto.DeriveSessionKeys(crypto.SuiteChaCha20Poly1305, []byte("test pair secret"), nil)
	if err != nil {
		return nil, err
	}

	for i := range 2 {
		sc := config.Sessions
		sc.Clock = p.Clock
		sm, err := session.NewManager(sc)
		if err != nil {
			return nil, err
		}
		p.Sessions[i] = sm
		p.Links[i] = &TestLink{}

		mc := ManagerConfig{
			Sessions:     sm,
			Transport:    p.Links[i],
			MaxExchanges: config.MaxExchanges,
			Clock:        p.Clock,
		}
		if config.Reliability != nil {
			mc.Reliability = map[transport.TransportType]ReliabilityConfig{
				p.Addrs[0].TransportType: *config.Reliability,
			}
		}
		if p.Managers[i], err = NewManager(mc); err != nil {
			return nil, err
		}

		role := session.RoleInitiator
		if i == 1 {
			role = session.RoleResponder
		}
		s, err := sm.InstallSession(session.InstallParams{
			LocalSessionID: uint16(100 + i),
			PeerSessionID:  uint16(101 - i),
			Type:           session.TypeCASE,
			Role:           role,
			PeerAddress:    p.Addrs[1-i],
			Keys:           keys,
		})
		if err != nil {
			return nil, err
		}
		p.Session[i] = s
	}
	return p, nil
}

// Deliver hands data to side to as if side 1-to sent it.
func (p *TestPair) Deliver(to int, data []byte) error {
	return p.Managers[to].OnMessageReceived(data, p.Addrs[1-to])
}

// Flush delivers queued messages in both directions until neither side
// has anything left to send. It returns the number delivered.
func (p *TestPair) Flush() int {
	n := 0
	for len(p.Links[0].Queue)+len(p.Links[1].Queue) > 0 {
		for from := range 2 {
			for _, data := range p.Links[from].Take() {
				_ = p.Deliver(1-from, data)
				n++
			}
		}
	}
	return n
}

// Advance moves the clock forward by d and ticks both sides.
func (p *TestPair) Advance(d time.Duration) {
	p.Clock.Add(d)
	now := p.Clock.Now()
	for i := range 2 {
		p.Managers[i].Tick(now)
	}
}
