package session

import (
	"errors"
	"fmt"

	"github.com/backkem/msglayer/pkg/message"
)

// Session package errors.
var (
	// ErrInvalidSessionType is returned when the session type is unknown.
	ErrInvalidSessionType = errors.New("session: invalid session type")

	// ErrInvalidRole is returned when the session role is not Initiator or Responder.
	ErrInvalidRole = errors.New("session: invalid session role")

	// ErrInvalidKey is returned when key material is missing or has the wrong size.
	ErrInvalidKey = errors.New("session: invalid key")

	// ErrInvalidSessionID is returned when a session ID is invalid (0 for secure sessions).
	ErrInvalidSessionID = errors.New("session: invalid session ID")

	// ErrInvalidAddress is returned when a unicast session has no usable peer address.
	ErrInvalidAddress = errors.New("session: invalid peer address")

	// ErrSessionNotFound is returned when a session lookup fails.
	ErrSessionNotFound = errors.New("session: session not found")

	// ErrSessionTableFull is returned when no more sessions can be added.
	ErrSessionTableFull = errors.New("session: session table full")

	// ErrSessionIDExhausted is returned when no more session IDs are available.
	ErrSessionIDExhausted = errors.New("session: session ID space exhausted")

	// ErrDuplicateSession is returned when adding a session with an existing ID.
	ErrDuplicateSession = errors.New("session: duplicate session ID")

	// ErrCounterExhausted is returned when the send counter has reached its
	// rollover limit. The session is evicted when this happens.
	ErrCounterExhausted = errors.New("session: message counter exhausted")

	// ErrSessionEvicted is returned when using a session that was evicted.
	ErrSessionEvicted = errors.New("session: session evicted")

	// ErrMissingEphemeralID is returned for unauthenticated messages that
	// name neither a source nor a destination node.
	ErrMissingEphemeralID = fmt.Errorf("%w: unauthenticated message without node ID", message.ErrMalformed)
)
