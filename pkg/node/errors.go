package node

import "errors"

var (
	// ErrAlreadyStarted is returned by Start on a running node.
	ErrAlreadyStarted = errors.New("node: already started")

	// ErrStopped is returned by any operation on a stopped node.
	ErrStopped = errors.New("node: stopped")

	// ErrLoopRunning is returned when Run is called while another Run is
	// active.
	ErrLoopRunning = errors.New("node: event loop already running")

	// ErrNilExchange is returned by SendMessage without an exchange.
	ErrNilExchange = errors.New("node: nil exchange")

	// ErrInvalidConfig wraps every Config validation failure.
	ErrInvalidConfig = errors.New("node: invalid configuration")
)
