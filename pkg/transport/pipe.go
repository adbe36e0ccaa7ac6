package transport

import (
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/test"
	"go.uber.org/multierr"
)

// NetworkCondition makes a Pipe lossy. Rates are probabilities in [0, 1].
type NetworkCondition struct {
	DropRate      float64
	DuplicateRate float64
}

// Pipe is an in-memory datagram link between two endpoints, built on
// pion's test.Bridge. With auto-processing on, queued packets are
// delivered from a background goroutine; with it off, the test drives
// delivery through Tick and Process.
type Pipe struct {
	bridge *test.Bridge

	mu        sync.Mutex
	condition NetworkCondition
	rng       *rand.Rand
	auto      bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closed    bool
}

// NewPipe returns a pipe that delivers packets automatically.
func NewPipe() *Pipe {
	p := NewManualPipe()
	p.SetAutoProcess(true)
	return p
}

// NewManualPipe returns a pipe that delivers packets only on Tick or Process.
func NewManualPipe() *Pipe {
	return &Pipe{
		bridge: test.NewBridge(),
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
}

// SetAutoProcess starts or stops background delivery.
func (p *Pipe) SetAutoProcess(enabled bool) {
	p.mu.Lock()
	if p.closed || p.auto == enabled {
		p.mu.Unlock()
		return
	}
	p.auto = enabled
	if enabled {
		p.stopCh = make(chan struct{})
		p.wg.Add(1)
		go p.run(p.stopCh)
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pipe) run(stop <-chan struct{}) {
	defer p.wg.Done()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for p.bridge.Tick() > 0 {
			}
		}
	}
}

// SetCondition applies cond to packets written from now on.
func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.mu.Lock()
	p.condition = cond
	p.mu.Unlock()
}

// Tick delivers at most one queued packet in each direction.
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers every queued packet.
func (p *Pipe) Process() int {
	total := 0
	for {
		n := p.bridge.Tick()
		if n == 0 {
			return total
		}
		total += n
	}
}

// PacketConn returns endpoint id (0 or 1) as a net.PacketConn bound to
// PipeAddr{ID: id, Port: port}.
func (p *Pipe) PacketConn(id, port int) *PipePacketConn {
	conn := p.bridge.GetConn0()
	if id == 1 {
		conn = p.bridge.GetConn1()
	}
	return &PipePacketConn{
		conn:  conn,
		pipe:  p,
		local: PipeAddr{ID: id, Port: port},
		peer:  PipeAddr{ID: 1 - id, Port: port},
	}
}

// Close stops delivery and closes both endpoints.
func (p *Pipe) Close() error {
	p.SetAutoProcess(false)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	return multierr.Combine(p.bridge.GetConn0().Close(), p.bridge.GetConn1().Close())
}

// copies rolls the configured condition for one packet and returns how many
// times to write it.
func (p *Pipe) copies() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.condition.DropRate > 0 && p.rng.Float64() < p.condition.DropRate {
		return 0
	}
	if p.condition.DuplicateRate > 0 && p.rng.Float64() < p.condition.DuplicateRate {
		return 2
	}
	return 1
}

// PipeAddr is the net.Addr of a pipe endpoint.
type PipeAddr struct {
	ID   int
	Port int
}

// Network returns "pipe".
func (a PipeAddr) Network() string { return "pipe" }

func (a PipeAddr) String() string { return fmt.Sprintf("pipe:%d:%d", a.ID, a.Port) }

// PipePacketConn adapts a pipe endpoint to net.PacketConn. The pipe has a
// single peer, so WriteTo ignores its address argument.
type PipePacketConn struct {
	conn  net.Conn
	pipe  *Pipe
	local PipeAddr
	peer  PipeAddr
}

func (c *PipePacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	n, err := c.conn.Read(b)
	return n, c.peer, err
}

func (c *PipePacketConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	for i := c.pipe.copies(); i > 0; i-- {
		if _, err := c.conn.Write(b); err != nil {
			return 0, err
		}
	}
	return len(b), nil
}

func (c *PipePacketConn) Close() error                       { return c.conn.Close() }
func (c *PipePacketConn) LocalAddr() net.Addr                { return c.local }
func (c *PipePacketConn) SetDeadline(t time.Time) error      { return c.conn.SetDeadline(t) }
func (c *PipePacketConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *PipePacketConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

var _ net.PacketConn = (*PipePacketConn)(nil)

// pipeStreamConn gives a net.Pipe end pipe addresses so TCP can key
// connections by peer.
type pipeStreamConn struct {
	net.Conn
	local, remote PipeAddr
}

func (c *pipeStreamConn) LocalAddr() net.Addr  { return c.local }
func (c *pipeStreamConn) RemoteAddr() net.Addr { return c.remote }

// idleListener never accepts. It keeps a TCP transport from binding a real
// port when all its connections are adopted through AddConnection.
type idleListener struct {
	addr      net.Addr
	closeOnce sync.Once
	closed    chan struct{}
}

func newIdleListener(addr net.Addr) *idleListener {
	return &idleListener{addr: addr, closed: make(chan struct{})}
}

func (l *idleListener) Accept() (net.Conn, error) {
	<-l.closed
	return nil, net.ErrClosed
}

func (l *idleListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *idleListener) Addr() net.Addr { return l.addr }

// PipeManagerConfig configures a PipeManagerPair.
type PipeManagerConfig struct {
	// TCP adds an in-memory stream link next to the datagram pipe.
	TCP bool

	// Receivers take the inbound messages of manager 0 and 1.
	Receivers     [2]Receiver
	LoggerFactory logging.LoggerFactory
}

// PipeManagerPair is two started Managers joined by in-memory links.
type PipeManagerPair struct {
	managers [2]*Manager
	pipe     *Pipe
}

// NewPipeManagerPair builds and starts both managers.
func NewPipeManagerPair(config PipeManagerConfig) (*PipeManagerPair, error) {
	pair := &PipeManagerPair{pipe: NewPipe()}

	var streams [2]net.Conn
	if config.TCP {
		a, b := net.Pipe()
		streams[0] = &pipeStreamConn{Conn: a, local: PipeAddr{ID: 0, Port: DefaultPort}, remote: PipeAddr{ID: 1, Port: DefaultPort}}
		streams[1] = &pipeStreamConn{Conn: b, local: PipeAddr{ID: 1, Port: DefaultPort}, remote: PipeAddr{ID: 0, Port: DefaultPort}}
	}

	for i := 0; i < 2; i++ {
		cfg := ManagerConfig{
			Receiver:      config.Receivers[i],
			UDPConn:       pair.pipe.PacketConn(i, DefaultPort),
			LoggerFactory: config.LoggerFactory,
		}
		if config.TCP {
			cfg.TCPListener = newIdleListener(PipeAddr{ID: i, Port: DefaultPort})
		}
		mgr, err := NewManager(cfg)
		if err != nil {
			pair.Close()
			return nil, err
		}
		pair.managers[i] = mgr
		if config.TCP {
			mgr.TCP().AddConnection(streams[i])
		}
		if err := mgr.Start(); err != nil {
			pair.Close()
			return nil, err
		}
	}
	return pair, nil
}

// Manager returns manager id (0 or 1).
func (p *PipeManagerPair) Manager(id int) *Manager {
	return p.managers[id]
}

// PeerAddress returns the address manager id is reached at over tt.
func (p *PipeManagerPair) PeerAddress(id int, tt TransportType) PeerAddress {
	return PeerAddress{Addr: PipeAddr{ID: id, Port: DefaultPort}, TransportType: tt}
}

// Pipe returns the datagram link.
func (p *PipeManagerPair) Pipe() *Pipe {
	return p.pipe
}

// Close stops both managers and the pipe.
func (p *PipeManagerPair) Close() error {
	var err error
	for _, m := range p.managers {
		if m != nil {
			if e := m.Stop(); e != nil && e != ErrClosed {
				err = multierr.Append(err, e)
			}
		}
	}
	// The managers already closed the pipe ends; Close only stops delivery.
	p.pipe.Close()
	return err
}
