// Package session owns the security contexts messages are exchanged under.
//
// A Session holds the keys, the local message counter, the peer replay
// window and the peer address of one negotiated context. The Manager keeps
// the authoritative table of sessions, installs new ones on behalf of the
// handshake layer, opens inbound messages against them and evicts them on
// idle timeout, counter exhaustion, repeated authentication failures or
// explicit close. Eviction observers (the exchange layer) are told about
// every eviction so that no exchange outlives its session.
//
// Like the rest of the core, this package is not safe for concurrent use;
// all calls happen on the owner's event loop.
package session

import "fmt"

// Type identifies how a session was established.
type Type int

const (
	// TypeUnknown indicates an uninitialized or invalid session type.
	TypeUnknown Type = iota
	// TypeUnauthenticated carries handshake traffic in the clear.
	TypeUnauthenticated
	// TypePASE is a passcode-authenticated unicast session.
	TypePASE
	// TypeCASE is a certificate-authenticated unicast session.
	TypeCASE
	// TypeGroup is protected by a key shared by every group member.
	TypeGroup
)

// String returns a human-readable name for the session type.
func (t Type) String() string {
	switch t {
	case TypeUnauthenticated:
		return "Unauthenticated"
	case TypePASE:
		return "PASE"
	case TypeCASE:
		return "CASE"
	case TypeGroup:
		return "Group"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the session type is a defined value.
func (t Type) IsValid() bool {
	return t >= TypeUnauthenticated && t <= TypeGroup
}

// IsSecureUnicast reports whether the type is a keyed point-to-point session.
func (t Type) IsSecureUnicast() bool {
	return t == TypePASE || t == TypeCASE
}

// Role identifies which side initiated session establishment. It selects
// the send and receive keys.
type Role int

const (
	// RoleUnknown indicates an uninitialized or invalid role.
	RoleUnknown Role = iota
	// RoleInitiator sends with the I2R key and receives with the R2I key.
	RoleInitiator
	// RoleResponder sends with the R2I key and receives with the I2R key.
	RoleResponder
)

// String returns a human-readable name for the session role.
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

// IsValid returns true if the role is a defined value.
func (r Role) IsValid() bool {
	return r == RoleInitiator || r == RoleResponder
}

// EvictReason records why a session was removed.
type EvictReason int

const (
	// ReasonClosed is an explicit local close.
	ReasonClosed EvictReason = iota
	// ReasonIdleTimeout means no traffic for longer than the idle timeout.
	ReasonIdleTimeout
	// ReasonTransportError is escalated by the transport owner.
	ReasonTransportError
	// ReasonCounterExhausted means the send counter hit its rollover limit.
	ReasonCounterExhausted
	// ReasonAuthFailures means too many messages failed authentication.
	ReasonAuthFailures
	// ReasonPeerExpired means the handshake layer expired the peer.
	ReasonPeerExpired
	// ReasonPeerClosed means the peer asked to close the session.
	ReasonPeerClosed
	// ReasonCapacity means a bounded table dropped its least recent entry.
	ReasonCapacity
	// ReasonShutdown is used when the manager is torn down.
	ReasonShutdown
)

// String returns a human-readable name for the reason.
func (r EvictReason) String() string {
	switch r {
	case ReasonClosed:
		return "Closed"
	case ReasonIdleTimeout:
		return "IdleTimeout"
	case ReasonTransportError:
		return "TransportError"
	case ReasonCounterExhausted:
		return "CounterExhausted"
	case ReasonAuthFailures:
		return "AuthFailures"
	case ReasonPeerExpired:
		return "PeerExpired"
	case ReasonPeerClosed:
		return "PeerClosed"
	case ReasonCapacity:
		return "Capacity"
	case ReasonShutdown:
		return "Shutdown"
	default:
		return fmt.Sprintf("EvictReason(%d)", int(r))
	}
}
