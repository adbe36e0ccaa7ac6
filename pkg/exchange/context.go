package exchange

import (
	"fmt"

	"github.com/backkem/msglayer/pkg/message"
	"github.com/backkem/msglayer/pkg/session"
)

// Handler receives the messages and the end of one exchange.
type Handler interface {
	// OnMessage is called for every new message on the exchange, in the
	// order the messages were accepted. Duplicates are never delivered.
	OnMessage(ec *ExchangeContext, protocolID message.ProtocolID, msgType uint8, payload []byte)

	// OnExchangeClosed is called exactly once when the exchange closes.
	// reason is nil for a normal close, otherwise ErrRetransmitExhausted,
	// ErrSessionEvicted, ErrAborted or a *securechannel.StatusError.
	OnExchangeClosed(ec *ExchangeContext, reason error)
}

// HandlerFuncs adapts a pair of functions to Handler. Nil fields are
// ignored.
type HandlerFuncs struct {
	Message func(ec *ExchangeContext, protocolID message.ProtocolID, msgType uint8, payload []byte)
	Closed  func(ec *ExchangeContext, reason error)
}

// OnMessage calls f.Message.
func (f HandlerFuncs) OnMessage(ec *ExchangeContext, protocolID message.ProtocolID, msgType uint8, payload []byte) {
	if f.Message != nil {
		f.Message(ec, protocolID, msgType, payload)
	}
}

// OnExchangeClosed calls f.Closed.
func (f HandlerFuncs) OnExchangeClosed(ec *ExchangeContext, reason error) {
	if f.Closed != nil {
		f.Closed(ec, reason)
	}
}

// exchangeKey matches inbound messages to exchanges. The same ID may be in
// use twice on a session, once started by each side.
type exchangeKey struct {
	session *session.Session
	id      uint16
	role    Role
}

// ExchangeContext is one conversation on a session. It holds a non-owning
// reference to the session and is closed when the session is evicted.
type ExchangeContext struct {
	handle  Handle
	id      uint16
	role    Role
	session *session.Session
	handler Handler
	manager *Manager
	state   State

	retransmit *retransmitEntry
	reason     error
}

func (ec *ExchangeContext) key() exchangeKey {
	return exchangeKey{session: ec.session, id: ec.id, role: ec.role}
}

// ID returns the exchange ID chosen by the initiator.
func (ec *ExchangeContext) ID() uint16 { return ec.id }

// Role returns this node's role in the exchange.
func (ec *ExchangeContext) Role() Role { return ec.role }

// Session returns the session the exchange runs on.
func (ec *ExchangeContext) Session() *session.Session { return ec.session }

// Handle returns the pool handle of the exchange.
func (ec *ExchangeContext) Handle() Handle { return ec.handle }

// State returns the lifecycle state.
func (ec *ExchangeContext) State() State { return ec.state }

// IsClosed reports whether the exchange has closed.
func (ec *ExchangeContext) IsClosed() bool { return ec.state == StateClosed }

// CloseReason returns the reason the exchange closed with, nil for a
// normal close or an open exchange.
func (ec *ExchangeContext) CloseReason() error { return ec.reason }

// SetHandler replaces the handler.
func (ec *ExchangeContext) SetHandler(h Handler) { ec.handler = h }

// Send seals and sends a message on the exchange. With needsAck the
// message is retransmitted until acknowledged; failure to get an ack is
// reported through OnExchangeClosed, not here. An ack owed to the peer is
// carried along.
func (ec *ExchangeContext) Send(protocolID message.ProtocolID, msgType uint8, payload []byte, needsAck bool) error {
	return ec.manager.send(ec, protocolID, msgType, payload, needsAck)
}

// Close ends the exchange normally. A pending ack is flushed and a pending
// retransmission is cancelled. Closing twice is a no-op.
func (ec *ExchangeContext) Close() {
	ec.manager.closeExchange(ec, nil)
}

// Abort ends the exchange with ErrAborted.
func (ec *ExchangeContext) Abort() {
	ec.manager.closeExchange(ec, ErrAborted)
}

// String returns a short description for logs.
func (ec *ExchangeContext) String() string {
	return fmt.Sprintf("exchange %d (%s) on %s", ec.id, ec.role, ec.session)
}
