package transport

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/backkem/msglayer/pkg/message"
	"github.com/backkem/msglayer/pkg/metrics"
	"github.com/pion/logging"
)

// DefaultDialTimeout bounds connection setup on first send to a peer.
const DefaultDialTimeout = 5 * time.Second

// TCP carries length-prefixed messages over persistent connections. A
// connection is dialed on first send to a peer and reused in both
// directions until either side closes it.
type TCP struct {
	listener net.Listener
	in       *inbound
	life     *lifecycle
	wg       sync.WaitGroup
	log      logging.LeveledLogger
	dial     func(ctx context.Context, addr string) (net.Conn, error)
	timeout  time.Duration

	mu    sync.RWMutex
	conns map[string]*tcpConn
}

type tcpConn struct {
	conn   net.Conn
	peer   PeerAddress
	reader *message.StreamReader

	wmu    sync.Mutex
	writer *message.StreamWriter
}

// TCPConfig configures a TCP transport.
type TCPConfig struct {
	// Listener is used as-is when set.
	Listener net.Listener

	// ListenAddr is bound when Listener is nil. Empty means an ephemeral port.
	ListenAddr string

	// Receiver takes every framed message within MaxMessageSize. Required.
	Receiver Receiver

	// MaxMessageSize bounds frames in both directions. Larger inbound
	// frames are read past, counted and dropped without closing the
	// connection.
	// Default: message.MaxStreamMessageSize
	MaxMessageSize int

	// DialTimeout bounds connection setup. Sends run on the node's event
	// loop, so an unreachable peer must not stall it for long.
	// Default: DefaultDialTimeout
	DialTimeout time.Duration

	// Metrics records dropped frames. Nil disables it.
	Metrics *metrics.Metrics

	// LoggerFactory creates the "transport-tcp" logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// NewTCP binds the listener but does not start accepting.
func NewTCP(config TCPConfig) (*TCP, error) {
	if config.Receiver == nil {
		return nil, ErrNoReceiver
	}
	var dialer net.Dialer
	t := &TCP{
		listener: config.Listener,
		in: &inbound{
			receiver: config.Receiver,
			maxSize:  min(cmp.Or(config.MaxMessageSize, message.MaxStreamMessageSize), message.MaxStreamMessageSize),
			metrics:  config.Metrics,
		},
		life:    newLifecycle(),
		conns:   make(map[string]*tcpConn),
		timeout: cmp.Or(config.DialTimeout, DefaultDialTimeout),
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp", addr)
		},
	}
	if config.LoggerFactory != nil {
		t.log = config.LoggerFactory.NewLogger("transport-tcp")
	}
	if t.listener == nil {
		listener, err := net.Listen("tcp", cmp.Or(config.ListenAddr, ":0"))
		if err != nil {
			return nil, err
		}
		t.listener = listener
	}
	return t, nil
}

// Start launches the accept loop.
func (t *TCP) Start() error {
	if err := t.life.start(); err != nil {
		return err
	}
	if t.log != nil {
		t.log.Infof("listening on tcp %s, max %d bytes", t.listener.Addr(), t.in.maxSize)
	}
	t.wg.Add(1)
	go t.acceptLoop()
	return nil
}

// Stop closes the listener and every open connection, then waits for the
// connection goroutines to exit.
func (t *TCP) Stop() error {
	if err := t.life.stop(); err != nil {
		return err
	}
	err := t.listener.Close()

	t.mu.Lock()
	for _, tc := range t.conns {
		tc.conn.Close()
	}
	clear(t.conns)
	t.mu.Unlock()

	t.wg.Wait()
	if t.log != nil {
		st := t.in.stats()
		t.log.Infof("tcp transport stopped: %d delivered, %d rejected, %d oversized",
			st.Delivered, st.Rejected, st.Oversized)
	}
	return err
}

// Send writes data as one length-prefixed frame, dialing addr if no
// connection to it exists yet.
func (t *TCP) Send(data []byte, addr net.Addr) error {
	if t.life.closed() {
		return ErrClosed
	}
	if addr == nil {
		return ErrInvalidAddress
	}
	if len(data) > t.in.maxSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(data), t.in.maxSize)
	}

	tc, err := t.connFor(addr)
	if err != nil {
		return err
	}

	tc.wmu.Lock()
	_, err = tc.writer.Write(data)
	tc.wmu.Unlock()
	if err != nil {
		if t.log != nil {
			t.log.Warnf("write to %v: %v", tc.peer, err)
		}
		if !errors.Is(err, message.ErrMalformed) {
			// The next send redials.
			t.drop(tc)
		}
		return err
	}
	return nil
}

// LocalAddr returns the listening address.
func (t *TCP) LocalAddr() net.Addr { return t.listener.Addr() }

// MaxMessageSize returns the frame size limit.
func (t *TCP) MaxMessageSize() int { return t.in.maxSize }

// Stats returns the inbound frame counts.
func (t *TCP) Stats() Stats { return t.in.stats() }

// ConnectionCount returns the number of tracked connections.
func (t *TCP) ConnectionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

// AddConnection adopts an already established connection, keyed by its
// remote address. Used with in-memory pipes.
func (t *TCP) AddConnection(conn net.Conn) {
	if t.life.closed() {
		conn.Close()
		return
	}
	t.track(conn)
}

func (t *TCP) track(conn net.Conn) *tcpConn {
	tc := &tcpConn{
		conn:   conn,
		peer:   NewTCPPeerAddress(conn.RemoteAddr()),
		reader: message.NewStreamReaderSize(conn, t.in.maxSize),
		writer: message.NewStreamWriter(conn),
	}
	t.mu.Lock()
	t.conns[tc.peer.Key()] = tc
	t.mu.Unlock()

	t.wg.Add(1)
	go t.serve(tc)
	return tc
}

func (t *TCP) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.life.closed() || errors.Is(err, net.ErrClosed) {
				return
			}
			if t.log != nil {
				t.log.Warnf("accept: %v", err)
			}
			continue
		}
		t.AddConnection(conn)
	}
}

// serve reads frames until the connection fails. Oversized frames are
// skipped; any other read error ends the connection.
func (t *TCP) serve(tc *tcpConn) {
	defer t.wg.Done()
	defer t.drop(tc)

	for {
		data, err := tc.reader.Read()
		switch {
		case err == nil:
			t.in.deliver(data, tc.peer)
		case errors.Is(err, message.ErrMessageTooLong):
			t.in.dropOversized()
			if t.log != nil {
				t.log.Debugf("skipped oversized frame from %v", tc.peer)
			}
		default:
			if !errors.Is(err, io.EOF) && !t.life.closed() && t.log != nil {
				t.log.Debugf("connection %v closed: %v", tc.peer, err)
			}
			return
		}
	}
}

func (t *TCP) connFor(addr net.Addr) (*tcpConn, error) {
	key := NewTCPPeerAddress(addr).Key()

	t.mu.RLock()
	tc, ok := t.conns[key]
	t.mu.RUnlock()
	if ok {
		return tc, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	conn, err := t.dial(ctx, addr.String())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if t.log != nil {
		t.log.Debugf("dialed %s", addr)
	}

	t.mu.RLock()
	existing, ok := t.conns[key]
	t.mu.RUnlock()
	if ok {
		conn.Close()
		return existing, nil
	}
	return t.track(conn), nil
}

// drop closes tc and forgets it unless a newer connection replaced it.
func (t *TCP) drop(tc *tcpConn) {
	tc.conn.Close()
	key := tc.peer.Key()
	t.mu.Lock()
	if t.conns[key] == tc {
		delete(t.conns, key)
	}
	t.mu.Unlock()
}
