package discovery

import "errors"

var (
	// ErrClosed is returned by operations on a closed Advertiser.
	ErrClosed = errors.New("discovery: closed")

	// ErrAlreadyAdvertising is returned when an instance name is already
	// registered by this Advertiser.
	ErrAlreadyAdvertising = errors.New("discovery: instance already advertised")

	// ErrNotAdvertising is returned when withdrawing an unknown instance.
	ErrNotAdvertising = errors.New("discovery: instance not advertised")

	// ErrInvalidPort is returned for ports outside 1-65535.
	ErrInvalidPort = errors.New("discovery: invalid port")

	// ErrServiceNotFound is returned when a lookup yields nothing.
	ErrServiceNotFound = errors.New("discovery: service not found")

	// ErrTimeout is returned when a lookup exceeds its deadline.
	ErrTimeout = errors.New("discovery: operation timed out")

	// ErrInvalidInstanceName is returned for a malformed instance name.
	ErrInvalidInstanceName = errors.New("discovery: invalid instance name")

	// ErrInvalidTXTRecord is returned for a TXT value that does not parse or
	// is out of range.
	ErrInvalidTXTRecord = errors.New("discovery: invalid TXT record")
)
