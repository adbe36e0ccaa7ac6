package exchange

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/logging"

	"github.com/backkem/msglayer/pkg/message"
	"github.com/backkem/msglayer/pkg/metrics"
	"github.com/backkem/msglayer/pkg/securechannel"
	"github.com/backkem/msglayer/pkg/session"
	"github.com/backkem/msglayer/pkg/transport"
)

// Manager defaults.
const (
	DefaultMaxExchanges   = 64
	DefaultMaxRetransmits = 64
)

// ManagerConfig configures the exchange Manager.
type ManagerConfig struct {
	// Sessions opens inbound messages and reports evictions. Required.
	Sessions *session.Manager

	// Transport sends sealed messages. Required.
	Transport transport.Sender

	// Reliability overrides DefaultReliability per transport type.
	Reliability map[transport.TransportType]ReliabilityConfig

	// MaxExchanges is the exchange pool capacity.
	// Default: DefaultMaxExchanges
	MaxExchanges int

	// MaxRetransmits bounds the messages awaiting acknowledgement.
	// Default: DefaultMaxRetransmits
	MaxRetransmits int

	// Random drives backoff jitter. Default: DefaultRandomSource.
	Random RandomSource

	// Clock supplies send and receive times. Default: wall clock.
	Clock clock.Clock

	// Metrics records diagnostics. Nil disables them.
	Metrics *metrics.Metrics

	// LoggerFactory creates the "exchange" logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration.
func (c ManagerConfig) Validate() error {
	if c.Sessions == nil {
		return errors.New("exchange: session manager required")
	}
	if c.Transport == nil {
		return errors.New("exchange: transport required")
	}
	if c.MaxExchanges < 0 || c.MaxExchanges > 0xFFFF || c.MaxRetransmits < 0 {
		return errors.New("exchange: invalid capacity")
	}
	for t, rc := range c.Reliability {
		if err := rc.Validate(); err != nil {
			return fmt.Errorf("%s: %w", t, err)
		}
	}
	return nil
}

func (c *ManagerConfig) applyDefaults() {
	if c.MaxExchanges == 0 {
		c.MaxExchanges = DefaultMaxExchanges
	}
	if c.MaxRetransmits == 0 {
		c.MaxRetransmits = DefaultMaxRetransmits
	}
	if c.Random == nil {
		c.Random = DefaultRandomSource
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

type handlerKey struct {
	protocol message.ProtocolID
	msgType  uint8
}

// Manager owns every exchange of a node and runs the reliability protocol
// for them.
type Manager struct {
	config    ManagerConfig
	clock     clock.Clock
	sessions  *session.Manager
	transport transport.Sender
	metrics   *metrics.Metrics
	log       logging.LeveledLogger

	reliability map[transport.TransportType]ReliabilityConfig

	pool        *pool
	exchanges   map[exchangeKey]*ExchangeContext
	retransmits *retransmitTable
	acks        *ackTable

	unsolicited         map[handlerKey]Handler
	unsolicitedProtocol map[message.ProtocolID]Handler

	nextID uint16
}

// NewManager creates an exchange manager and subscribes it to session
// evictions.
func NewManager(config ManagerConfig) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	m := &Manager{
		config:              config,
		clock:               config.Clock,
		sessions:            config.Sessions,
		transport:           config.Transport,
		metrics:             config.Metrics,
		reliability:         make(map[transport.TransportType]ReliabilityConfig),
		pool:                newPool(config.MaxExchanges),
		exchanges:           make(map[exchangeKey]*ExchangeContext),
		retransmits:         newRetransmitTable(config.MaxRetransmits),
		acks:                newAckTable(),
		unsolicited:         make(map[handlerKey]Handler),
		unsolicitedProtocol: make(map[message.ProtocolID]Handler),
	}
	for _, t := range []transport.TransportType{transport.TransportTypeUDP, transport.TransportTypeTCP, transport.TransportTypeBLE} {
		m.reliability[t] = DefaultReliability(t)
	}
	for t, rc := range config.Reliability {
		m.reliability[t] = rc.WithDefaults()
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("exchange")
	}

	// The first ID is random so restarts do not reuse recent IDs.
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err == nil {
		m.nextID = binary.LittleEndian.Uint16(buf[:])
	}

	config.Sessions.AddEvictionObserver(m)
	return m, nil
}

// Reliability returns the reliability settings used towards s.
func (m *Manager) Reliability(s *session.Session) ReliabilityConfig {
	if rc, ok := m.reliability[s.PeerAddress().TransportType]; ok {
		return rc
	}
	return m.reliability[transport.TransportTypeUDP]
}

// RegisterUnsolicitedHandler routes new exchanges started with
// (protocol, msgType) to h.
func (m *Manager) RegisterUnsolicitedHandler(protocol message.ProtocolID, msgType uint8, h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	key := handlerKey{protocol, msgType}
	if _, exists := m.unsolicited[key]; exists {
		return ErrHandlerRegistered
	}
	m.unsolicited[key] = h
	return nil
}

// RegisterUnsolicitedProtocolHandler routes new exchanges of any message
// type of protocol to h, unless a handler for the exact type exists.
func (m *Manager) RegisterUnsolicitedProtocolHandler(protocol message.ProtocolID, h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	if _, exists := m.unsolicitedProtocol[protocol]; exists {
		return ErrHandlerRegistered
	}
	m.unsolicitedProtocol[protocol] = h
	return nil
}

// UnregisterUnsolicitedHandler removes the handler for (protocol, msgType).
func (m *Manager) UnregisterUnsolicitedHandler(protocol message.ProtocolID, msgType uint8) {
	delete(m.unsolicited, handlerKey{protocol, msgType})
}

// UnregisterUnsolicitedProtocolHandler removes the protocol handler.
func (m *Manager) UnregisterUnsolicitedProtocolHandler(protocol message.ProtocolID) {
	delete(m.unsolicitedProtocol, protocol)
}

func (m *Manager) unsolicitedHandler(protocol message.ProtocolID, msgType uint8) Handler {
	if h, ok := m.unsolicited[handlerKey{protocol, msgType}]; ok {
		return h
	}
	return m.unsolicitedProtocol[protocol]
}

// NewExchange opens an exchange on s as initiator.
func (m *Manager) NewExchange(s *session.Session, h Handler) (*ExchangeContext, error) {
	if s == nil {
		return nil, ErrNilSession
	}
	if h == nil {
		return nil, ErrNilHandler
	}
	if s.IsEvicted() {
		return nil, ErrSessionEvicted
	}
	if m.pool.inUse() >= len(m.pool.slots) {
		return nil, ErrNoExchangeAvailable
	}

	for range 1 << 16 {
		id := m.nextID
		m.nextID++
		if _, used := m.exchanges[exchangeKey{s, id, RoleInitiator}]; !used {
			return m.newExchange(s, id, RoleInitiator, h)
		}
	}
	return nil, ErrExchangeIDExhausted
}

func (m *Manager) newExchange(s *session.Session, id uint16, role Role, h Handler) (*ExchangeContext, error) {
	ec := &ExchangeContext{
		id:      id,
		role:    role,
		session: s,
		handler: h,
		manager: m,
		state:   StateOpen,
	}
	handle, ok := m.pool.alloc(ec)
	if !ok {
		return nil, ErrNoExchangeAvailable
	}
	ec.handle = handle
	m.exchanges[ec.key()] = ec
	m.metrics.ExchangeOpened()
	if m.log != nil {
		m.log.Debugf("opened %s", ec)
	}
	return ec, nil
}

// Lookup resolves a handle to its exchange, or nil once it has closed.
func (m *Manager) Lookup(h Handle) *ExchangeContext {
	return m.pool.get(h)
}

// ExchangeCount returns the number of open exchanges.
func (m *Manager) ExchangeCount() int {
	return m.pool.inUse()
}

// PendingRetransmits returns the number of messages awaiting an ack.
func (m *Manager) PendingRetransmits() int {
	return m.retransmits.count()
}

// PendingAcks returns the number of acks owed to peers.
func (m *Manager) PendingAcks() int {
	return m.acks.count()
}

// send implements ExchangeContext.Send.
func (m *Manager) send(ec *ExchangeContext, protocol message.ProtocolID, msgType uint8, payload []byte, needsAck bool) error {
	if ec.state == StateClosed {
		return ErrExchangeClosed
	}
	s := ec.session
	if s.IsEvicted() {
		return ErrSessionEvicted
	}

	rc := m.Reliability(s)
	if needsAck {
		switch {
		case s.IsGroup():
			return ErrReliableGroupMessage
		case rc.Disabled:
			needsAck = false
		case ec.retransmit != nil:
			return ErrPendingRetransmit
		case m.retransmits.isFull():
			return ErrRetransmitTableFull
		}
	}

	h := message.Header{
		Initiator:   ec.role == RoleInitiator,
		NeedsAck:    needsAck,
		ExchangeID:  ec.id,
		ProtocolID:  protocol,
		MessageType: msgType,
	}
	ackCounter, hasAck := m.acks.peek(ec)
	if hasAck {
		h.AckPresent = true
		h.AckCounter = ackCounter
	}

	buf, err := m.seal(s, &h, payload)
	if err != nil {
		return err
	}
	if hasAck {
		m.acks.remove(ec)
	}

	now := m.clock.Now()
	if needsAck {
		e := &retransmitEntry{
			ec:      ec,
			session: s,
			counter: h.MessageCounter,
			buf:     buf,
			config:  rc,
			backoff: NewBackoff(rc, m.config.Random),
			base:    m.baseInterval(s, rc, now),
		}
		e.schedule(now)
		m.retransmits.add(e)
		ec.retransmit = e
		ec.state = StateAwaitingAck
	}

	m.metrics.MessageSent()
	if err := m.transport.Send(buf, s.PeerAddress()); err != nil {
		if needsAck {
			// Retried at the next deadline.
			if m.log != nil {
				m.log.Debugf("send on %s failed, will retry: %v", ec, err)
			}
			return nil
		}
		return fmt.Errorf("exchange: send: %w", err)
	}
	return nil
}

// baseInterval picks the first retransmission delay: the peer's advertised
// timing if known, else the transport default.
func (m *Manager) baseInterval(s *session.Session, rc ReliabilityConfig, now time.Time) time.Duration {
	if p := s.Params(); !p.IsZero() {
		return p.RetryInterval(now, s.LastHeard())
	}
	return rc.BaseInterval
}

// seal seals through the session, evicting it when its counter runs out.
func (m *Manager) seal(s *session.Session, h *message.Header, payload []byte) ([]byte, error) {
	buf, err := s.Seal(h, payload)
	if errors.Is(err, session.ErrCounterExhausted) {
		m.sessions.Evict(s, session.ReasonCounterExhausted)
	}
	return buf, err
}

// sendStandaloneAck acknowledges counter on s outside of any payload.
func (m *Manager) sendStandaloneAck(s *session.Session, exchangeID uint16, role Role, counter uint32) {
	if s.IsEvicted() {
		return
	}
	h := message.Header{
		Initiator:   role == RoleInitiator,
		AckPresent:  true,
		AckCounter:  counter,
		ExchangeID:  exchangeID,
		ProtocolID:  securechannel.ProtocolID,
		MessageType: uint8(securechannel.OpcodeStandaloneAck),
	}
	buf, err := m.seal(s, &h, nil)
	if err != nil {
		if m.log != nil {
			m.log.Warnf("standalone ack on %s: %v", s, err)
		}
		return
	}
	m.metrics.StandaloneAck()
	if err := m.transport.Send(buf, s.PeerAddress()); err != nil && m.log != nil {
		m.log.Debugf("standalone ack on %s: %v", s, err)
	}
}

// flushAck sends the ack owed on ec, if any.
func (m *Manager) flushAck(ec *ExchangeContext) {
	counter, ok := m.acks.peek(ec)
	if !ok {
		return
	}
	m.acks.remove(ec)
	m.sendStandaloneAck(ec.session, ec.id, ec.role, counter)
}

// scheduleAck owes the peer an ack for counter on ec.
func (m *Manager) scheduleAck(ec *ExchangeContext, counter uint32, now time.Time) {
	deadline := now.Add(m.Reliability(ec.session).AckTimeout)
	if displaced, ok := m.acks.add(ec, counter, deadline); ok {
		m.sendStandaloneAck(ec.session, ec.id, ec.role, displaced)
	}
}

// onAck clears the retransmission acknowledged by counter.
func (m *Manager) onAck(s *session.Session, counter uint32) {
	e := m.retransmits.ack(s, counter)
	if e == nil {
		return
	}
	if e.ec.retransmit == e {
		e.ec.retransmit = nil
		if e.ec.state == StateAwaitingAck {
			e.ec.state = StateOpen
		}
	}
}

// OnMessageReceived opens, acknowledges and routes one message. It never
// fails an exchange because of what the peer sent: the returned error only
// says why the message was dropped, for diagnostics.
func (m *Manager) OnMessageReceived(data []byte, from transport.PeerAddress) error {
	in, err := m.sessions.Open(data, from)
	if err != nil {
		m.metrics.Dropped(dropReason(err))
		if m.log != nil {
			m.log.Tracef("dropped message from %s: %v", from, err)
		}
		return err
	}
	s := in.Session
	h := &in.Frame.Header
	reliable := h.NeedsAck && !s.IsGroup()

	switch in.Status {
	case message.CounterStale:
		m.metrics.Dropped(metrics.DropStale)
		return ErrStaleMessage
	case message.CounterDuplicate:
		// Our earlier ack may have been lost.
		m.metrics.Dropped(metrics.DropDuplicate)
		if reliable {
			m.sendStandaloneAck(s, h.ExchangeID, roleForInbound(h.Initiator), h.MessageCounter)
		}
		return ErrDuplicateMessage
	}

	// Every drop decision is made before Accept. An accepted counter
	// turns the peer's retransmission into a duplicate.
	var report *securechannel.StatusReport
	if securechannel.IsStatusReport(h.ProtocolID, h.MessageType) {
		if report, err = securechannel.DecodeStatusReport(in.Frame.Payload); err != nil {
			m.metrics.Dropped(metrics.DropMalformed)
			return err
		}
	}

	role := roleForInbound(h.Initiator)
	ec := m.exchanges[exchangeKey{s, h.ExchangeID, role}]
	if ec == nil && h.Initiator && !securechannel.IsStandaloneAck(h.ProtocolID, h.MessageType) &&
		(report == nil || !report.IsCloseSession()) {
		if handler := m.unsolicitedHandler(h.ProtocolID, h.MessageType); handler != nil {
			// Without a slot the counter stays unaccepted and unacked, so
			// the peer's retransmission is treated as new.
			if ec, err = m.newExchange(s, h.ExchangeID, RoleResponder, handler); err != nil {
				m.metrics.Dropped(metrics.DropOther)
				return err
			}
		}
	}

	now := m.clock.Now()
	in.Accept(now)
	m.metrics.MessageReceived()

	if h.AckPresent {
		m.onAck(s, h.AckCounter)
	}
	if securechannel.IsStandaloneAck(h.ProtocolID, h.MessageType) {
		return nil
	}
	if report != nil && report.IsCloseSession() {
		if m.log != nil {
			m.log.Infof("peer closed %s", s)
		}
		m.sessions.Evict(s, session.ReasonPeerClosed)
		return nil
	}
	if ec == nil {
		if reliable {
			m.sendStandaloneAck(s, h.ExchangeID, role, h.MessageCounter)
		}
		m.metrics.Dropped(metrics.DropUnexpected)
		return ErrUnexpectedMessage
	}

	if reliable {
		m.scheduleAck(ec, h.MessageCounter, now)
	}
	if report != nil && !report.IsSuccess() {
		m.closeExchange(ec, &securechannel.StatusError{Report: report})
		return nil
	}
	if ec.handler != nil {
		ec.handler.OnMessage(ec, h.ProtocolID, h.MessageType, in.Frame.Payload)
	}
	return nil
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, message.ErrAuthentication):
		return metrics.DropAuthentication
	case errors.Is(err, message.ErrUnknownSession):
		return metrics.DropUnknownSession
	case errors.Is(err, message.ErrMalformed):
		return metrics.DropMalformed
	default:
		return metrics.DropOther
	}
}

// Tick resends reliable messages whose deadline has passed, fails those
// out of retries and sends acks whose coalescing window has closed.
func (m *Manager) Tick(now time.Time) {
	for _, e := range m.retransmits.due(now) {
		// A close earlier in this loop may have removed it.
		if e.ec.retransmit != e {
			continue
		}
		if e.retries >= e.config.MaxRetries {
			m.retransmits.remove(e)
			e.ec.retransmit = nil
			if m.log != nil {
				m.log.Debugf("%s: no ack for counter %d after %d retries", e.ec, e.counter, e.retries)
			}
			m.closeExchange(e.ec, ErrRetransmitExhausted)
			continue
		}

		if err := message.SetRetransmitFlag(e.buf); err != nil {
			m.retransmits.remove(e)
			e.ec.retransmit = nil
			continue
		}
		e.retries++
		e.schedule(now)
		m.metrics.Retransmit()
		if err := m.transport.Send(e.buf, e.session.PeerAddress()); err != nil && m.log != nil {
			m.log.Debugf("retransmit on %s: %v", e.ec, err)
		}
	}

	for _, ec := range m.acks.due(now) {
		m.flushAck(ec)
	}
}

// NextDeadline returns the earliest retransmission or ack deadline.
func (m *Manager) NextDeadline() (time.Time, bool) {
	r, rok := m.retransmits.nextDeadline()
	a, aok := m.acks.nextDeadline()
	switch {
	case rok && aok:
		if a.Before(r) {
			return a, true
		}
		return r, true
	case rok:
		return r, true
	default:
		return a, aok
	}
}

// closeExchange moves ec to Closed and tells its handler once.
func (m *Manager) closeExchange(ec *ExchangeContext, reason error) {
	if ec.state == StateClosed {
		return
	}
	if ec.session.IsEvicted() {
		m.acks.remove(ec)
	} else {
		m.flushAck(ec)
	}
	if ec.retransmit != nil {
		m.retransmits.remove(ec.retransmit)
		ec.retransmit = nil
	}

	ec.state = StateClosed
	ec.reason = reason
	delete(m.exchanges, ec.key())
	m.pool.release(ec.handle)

	label := "ok"
	if reason != nil {
		label = closeLabel(reason)
	}
	m.metrics.ExchangeClosed(label)
	if m.log != nil {
		if reason != nil {
			m.log.Debugf("closed %s: %v", ec, reason)
		} else {
			m.log.Debugf("closed %s", ec)
		}
	}
	if ec.handler != nil {
		ec.handler.OnExchangeClosed(ec, reason)
	}
}

func closeLabel(reason error) string {
	switch {
	case errors.Is(reason, ErrRetransmitExhausted):
		return "retransmit_exhausted"
	case errors.Is(reason, ErrSessionEvicted):
		return "session_evicted"
	case errors.Is(reason, ErrAborted):
		return "aborted"
	default:
		if _, ok := securechannel.AsStatusError(reason); ok {
			return "status_report"
		}
		return "error"
	}
}

// SessionEvicted closes every exchange on s. It implements
// session.EvictionObserver.
func (m *Manager) SessionEvicted(s *session.Session, reason session.EvictReason) {
	m.metrics.SessionEvicted(reason.String())
	for _, ec := range m.pool.live() {
		if ec.session == s {
			m.closeExchange(ec, fmt.Errorf("%w: %s", ErrSessionEvicted, reason))
		}
	}
}

// CloseSession tells the peer that s is going away, then evicts it.
func (m *Manager) CloseSession(s *session.Session) error {
	if s.IsEvicted() {
		return ErrSessionEvicted
	}
	ec, err := m.NewExchange(s, HandlerFuncs{})
	if err != nil {
		m.sessions.Evict(s, session.ReasonClosed)
		return err
	}
	err = ec.Send(securechannel.ProtocolID, uint8(securechannel.OpcodeStatusReport), securechannel.CloseSession().Encode(), false)
	m.sessions.Evict(s, session.ReasonClosed)
	return err
}

// Shutdown aborts every exchange.
func (m *Manager) Shutdown() {
	for _, ec := range m.pool.live() {
		m.closeExchange(ec, ErrAborted)
	}
}
