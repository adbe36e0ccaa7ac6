package transport

import "errors"

var (
	// ErrClosed is returned by any operation on a stopped transport.
	ErrClosed = errors.New("transport: closed")

	// ErrInvalidAddress is returned for a nil or unparseable peer address.
	ErrInvalidAddress = errors.New("transport: invalid address")

	// ErrNoReceiver is returned when a transport is built without a
	// Receiver.
	ErrNoReceiver = errors.New("transport: no receiver configured")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("transport: already started")

	// ErrNotEnabled is returned when sending over a transport type the
	// manager was not configured with.
	ErrNotEnabled = errors.New("transport: not enabled")

	// ErrMessageTooLarge is returned when a message exceeds the
	// transport's size limit.
	ErrMessageTooLarge = errors.New("transport: message too large")
)
