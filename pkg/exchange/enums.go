// Package exchange multiplexes conversations over sessions and makes
// delivery reliable on lossy transports.
//
// An exchange is one request/response conversation on one session. Inbound
// messages are matched to open exchanges by (session, exchange ID, role);
// the first message of a new conversation is dispatched to a registered
// unsolicited handler, which gets a fresh responder-side exchange.
//
// Reliable messages are tracked in a retransmit table until the peer
// acknowledges them. Acknowledgements for inbound reliable messages ride on
// the next outbound message of the exchange, or are sent on their own once
// the coalescing window expires.
//
// The Manager is not safe for concurrent use. All calls, including Tick,
// must come from one goroutine.
package exchange

// Role says which side of an exchange this node is on. It is independent
// of the session role: either side of a session may start exchanges.
type Role uint8

const (
	RoleUnknown Role = iota

	// RoleInitiator sent the first message and chose the exchange ID. It
	// sets the initiator flag on everything it sends.
	RoleInitiator

	// RoleResponder answers an exchange the peer started.
	RoleResponder
)

// String returns a human-readable name for the role.
func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "Initiator"
	case RoleResponder:
		return "Responder"
	default:
		return "Unknown"
	}
}

// roleForInbound returns the local role of an exchange given the initiator
// flag of a received message.
func roleForInbound(initiatorFlag bool) Role {
	if initiatorFlag {
		return RoleResponder
	}
	return RoleInitiator
}

// State tracks the lifecycle of an exchange.
type State uint8

const (
	StateUnknown State = iota

	// StateOpen means the exchange may send.
	StateOpen

	// StateAwaitingAck means a reliable message is outstanding; another
	// reliable send is refused until it is acknowledged.
	StateAwaitingAck

	// StateClosed is terminal.
	StateClosed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "Open"
	case StateAwaitingAck:
		return "AwaitingAck"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}
