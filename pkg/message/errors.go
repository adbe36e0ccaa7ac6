package message

import (
	"errors"
	"fmt"
)

// Error classes. Every decode failure wraps ErrMalformed or
// ErrAuthentication, and every seal failure wraps ErrCrypto, so callers can
// classify with errors.Is without knowing the specific cause.
var (
	ErrMalformed      = errors.New("message: malformed message")
	ErrAuthentication = errors.New("message: authentication failed")
	ErrCrypto         = errors.New("message: crypto failure")
)

// Message layer errors.
var (
	// Header decoding errors
	ErrMessageTooShort     = fmt.Errorf("%w: data too short", ErrMalformed)
	ErrInvalidSessionType  = fmt.Errorf("%w: reserved session type", ErrMalformed)
	ErrReservedFlags       = fmt.Errorf("%w: reserved flag bits set", ErrMalformed)
	ErrMissingSourceNodeID = fmt.Errorf("%w: group message requires source node ID", ErrMalformed)
	ErrUnencryptedGroup    = fmt.Errorf("%w: group message must be encrypted", ErrMalformed)
	ErrUnencryptedSession  = fmt.Errorf("%w: unencrypted message names a secure session", ErrMalformed)
	ErrMissingTag          = fmt.Errorf("%w: encrypted message shorter than tag", ErrMalformed)

	// Stream errors
	ErrMessageTooLong      = fmt.Errorf("%w: exceeds maximum size", ErrMalformed)
	ErrInvalidLengthPrefix = fmt.Errorf("%w: invalid length prefix", ErrMalformed)
	ErrStreamReadFailed    = errors.New("message: failed to read from stream")

	// Security errors
	ErrInvalidKey     = fmt.Errorf("%w: invalid encryption key", ErrCrypto)
	ErrBufferTooSmall = fmt.Errorf("%w: message does not fit the buffer", ErrCrypto)
	ErrUnknownSession = errors.New("message: no session for message")

	// Counter errors
	ErrCounterExhausted = errors.New("message: message counter exhausted")
)

// Wire format constants.
const (
	// MinHeaderSize is the smallest possible header:
	// counter (4) + session id (2) + security flags (1) + message flags (1) +
	// exchange id (2) + protocol id (2) + message type (1).
	MinHeaderSize = 13

	// MaxUDPMessageSize is the largest datagram the codec emits by default
	// (IPv6 minimum MTU).
	MaxUDPMessageSize = 1280

	// MaxStreamMessageSize bounds a single length-prefixed stream message.
	MaxStreamMessageSize = 64 * 1024

	// NodeIDSize is the size of a 64-bit node id in bytes.
	NodeIDSize = 8

	// TCPLengthPrefixSize is the size of the stream length prefix.
	TCPLengthPrefixSize = 4
)

// Security flags bit positions.
const (
	secFlagSessionTypeMask uint8 = 0x03
	secFlagEncrypted       uint8 = 0x04
	secFlagSource          uint8 = 0x08
	secFlagDestination     uint8 = 0x10
	secFlagReserved        uint8 = 0xE0
)

// Message flags bit positions.
const (
	msgFlagInitiator      uint8 = 0x01
	msgFlagAck            uint8 = 0x02
	msgFlagNeedsAck       uint8 = 0x04
	msgFlagRetransmission uint8 = 0x08
	msgFlagVendor         uint8 = 0x10
	msgFlagReserved       uint8 = 0xE0
)

// Counter constants.
const (
	// CounterWindowSize is the width of the replay window.
	CounterWindowSize = 32

	// CounterInitMax is the largest random initial counter value (2^28).
	CounterInitMax = 1 << 28
)

// UnspecifiedNodeID marks an absent node identity.
const UnspecifiedNodeID uint64 = 0
