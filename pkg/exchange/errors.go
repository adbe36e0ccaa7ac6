package exchange

import "errors"

// Errors returned by the exchange package.
var (
	// ErrNoExchangeAvailable is returned when the exchange pool is full.
	ErrNoExchangeAvailable = errors.New("exchange: no exchange available")

	// ErrRetransmitTableFull is returned when a reliable send cannot be
	// tracked because too many messages are already awaiting an ack.
	ErrRetransmitTableFull = errors.New("exchange: retransmit table full")

	// ErrExchangeClosed is returned for operations on a closed exchange.
	ErrExchangeClosed = errors.New("exchange: exchange is closed")

	// ErrPendingRetransmit is returned for a reliable send while the
	// previous reliable message is still unacknowledged.
	ErrPendingRetransmit = errors.New("exchange: reliable message pending")

	// ErrReliableGroupMessage is returned when a reliable send is attempted
	// on a group session. Groups have no one to acknowledge.
	ErrReliableGroupMessage = errors.New("exchange: group messages cannot request acks")

	// ErrExchangeIDExhausted is returned when every exchange ID of a session
	// is in use.
	ErrExchangeIDExhausted = errors.New("exchange: no free exchange id on session")

	// ErrHandlerRegistered is returned when an unsolicited handler is
	// already registered for the same key.
	ErrHandlerRegistered = errors.New("exchange: unsolicited handler already registered")

	// ErrNilHandler is returned when a nil handler is supplied.
	ErrNilHandler = errors.New("exchange: nil handler")

	// ErrNilSession is returned when no session is supplied.
	ErrNilSession = errors.New("exchange: nil session")
)

// Close reasons passed to Handler.OnExchangeClosed. A normal close
// passes nil.
var (
	// ErrRetransmitExhausted means a reliable message was never
	// acknowledged.
	ErrRetransmitExhausted = errors.New("exchange: retransmissions exhausted")

	// ErrSessionEvicted means the exchange's session went away. The
	// session's EvictReason says why.
	ErrSessionEvicted = errors.New("exchange: session evicted")

	// ErrAborted means the application aborted the exchange or the
	// manager shut down.
	ErrAborted = errors.New("exchange: aborted")
)

// Reasons an inbound message is dropped, returned by
// Manager.OnMessageReceived for diagnostics.
var (
	// ErrUnexpectedMessage is returned for a message that matches no open
	// exchange and no unsolicited handler.
	ErrUnexpectedMessage = errors.New("exchange: unexpected message")

	// ErrDuplicateMessage is returned for a message whose counter was
	// already accepted. It has been acknowledged again if it asked for it.
	ErrDuplicateMessage = errors.New("exchange: duplicate message")

	// ErrStaleMessage is returned for a message whose counter is behind the
	// replay window.
	ErrStaleMessage = errors.New("exchange: stale message")
)
