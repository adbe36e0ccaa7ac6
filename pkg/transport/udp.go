package transport

import (
	"bytes"
	"cmp"
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

// DefaultPort is the port a node listens on when none is configured.
const DefaultPort = 5540

// UDP carries one sealed message per datagram.
type UDP struct {
	conn net.PacketConn
	in   *inbound
	life *lifecycle
	wg   sync.WaitGroup
	log  logging.LeveledLogger
}

// UDPConfig configures a UDP transport.
type UDPConfig struct {
	// Conn is used as-is when set. Tests pass a PipePacketConn here.
	Conn net.PacketConn

	// ListenAddr is bound when Conn is nil. Empty means an ephemeral port.
	ListenAddr string

	// Receiver takes every datagram within MaxMessageSize. Required.
	Receiver Receiver

	// MaxMessageSize bounds datagrams in both directions. Larger inbound
	// datagrams are counted and dropped.
	// Default: message.MaxUDPMessageSize
	MaxMessageSize int

	// Metrics records dropped datagrams. Nil disables it.
	Metrics *metrics.Metrics

	// LoggerFactory creates the "transport-udp" logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// NewUDP binds the socket but does not start reading.
func NewUDP(config UDPConfig) (*UDP, error) {
	if config.Receiver == nil {
		return nil, ErrNoReceiver
	}
	u := &UDP{
		conn: config.Conn,
		in: &inbound{
			receiver: config.Receiver,
			maxSize:  cmp.Or(config.MaxMessageSize, message.MaxUDPMessageSize),
			metrics:  config.Metrics,
		},
		life: newLifecycle(),
	}
	if config.LoggerFactory != nil {
		u.log = config.LoggerFactory.NewLogger("transport-udp")
	}
	if u.conn == nil {
		conn, err := net.ListenPacket("udp", cmp.Or(config.ListenAddr, ":0"))
		if err != nil {
			return nil, err
		}
		u.conn = conn
	}
	return u, nil
}

// Start launches the read loop.
func (u *UDP) Start() error {
	if err := u.life.start(); err != nil {
		return err
	}
	if u.log != nil {
		u.log.Infof("listening on udp %s, max %d bytes", u.conn.LocalAddr(), u.in.maxSize)
	}
	u.wg.Add(1)
	go u.readLoop()
	return nil
}

// Stop closes the socket and waits for the read loop to exit.
func (u *UDP) Stop() error {
	if err := u.life.stop(); err != nil {
		return err
	}
	_ = u.conn.SetReadDeadline(time.Now())
	err := u.conn.Close()
	u.wg.Wait()
	if u.log != nil {
		st := u.in.stats()
		u.log.Infof("udp transport stopped: %d delivered, %d rejected, %d oversized",
			st.Delivered, st.Rejected, st.Oversized)
	}
	return err
}

// Send writes data as a single datagram.
func (u *UDP) Send(data []byte, addr net.Addr) error {
	if u.life.closed() {
		return ErrClosed
	}
	if addr == nil {
		return ErrInvalidAddress
	}
	if len(data) > u.in.maxSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(data), u.in.maxSize)
	}
	if _, err := u.conn.WriteTo(data, addr); err != nil {
		if u.log != nil {
			u.log.Warnf("write to %v: %v", addr, err)
		}
		return err
	}
	return nil
}

// LocalAddr returns the bound address.
func (u *UDP) LocalAddr() net.Addr { return u.conn.LocalAddr() }

// MaxMessageSize returns the datagram size limit.
func (u *UDP) MaxMessageSize() int { return u.in.maxSize }

// Stats returns the inbound datagram counts.
func (u *UDP) Stats() Stats { return u.in.stats() }

func (u *UDP) readLoop() {
	defer u.wg.Done()

	// One spare byte tells an exact fit from a truncated oversized read.
	buf := make([]byte, u.in.maxSize+1)
	for {
		n, addr, err := u.conn.ReadFrom(buf)
		if err != nil {
			if u.life.closed() || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
				return
			}
			if u.log != nil {
				u.log.Warnf("read: %v", err)
			}
			continue
		}
		if n == 0 {
			continue
		}
		if !u.in.fits(n) {
			if u.log != nil {
				u.log.Debugf("dropped oversized datagram from %v", addr)
			}
			continue
		}
		u.in.deliver(bytes.Clone(buf[:n]), NewUDPPeerAddress(addr))
	}
}
