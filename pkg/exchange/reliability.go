package exchange

import (
	"errors"
	"time"

	"github.com/backkem/msglayer/pkg/transport"
)

// Reliability defaults.
const (
	DefaultMultiplier = 2.0
	DefaultAckTimeout = 200 * time.Millisecond

	DefaultUDPBaseInterval = 300 * time.Millisecond
	DefaultUDPMaxInterval  = 5 * time.Second
	DefaultUDPMaxRetries   = 4

	DefaultBLEBaseInterval = time.Second
	DefaultBLEMaxInterval  = 10 * time.Second
	DefaultBLEMaxRetries   = 3
)

// ErrInvalidReliability is returned by ReliabilityConfig.Validate.
var ErrInvalidReliability = errors.New("exchange: invalid reliability config")

// ReliabilityConfig controls retransmission on one transport type.
type ReliabilityConfig struct {
	// Disabled turns off retransmission and acknowledgement, for transports
	// that already deliver reliably. Reliable sends go out as plain sends.
	Disabled bool

	// BaseInterval is the delay before the first retransmission, used when
	// the peer has not advertised its own timing.
	BaseInterval time.Duration

	// MaxInterval caps the delay between retransmissions.
	MaxInterval time.Duration

	// MaxRetries is how many times a message is resent before the exchange
	// fails with ErrRetransmitExhausted.
	MaxRetries int

	// Multiplier scales the delay after each retransmission. It must be at
	// least 1. Default: 2.
	Multiplier float64

	// Jitter adds up to this fraction of random extra delay. Default: 0.
	Jitter float64

	// AckTimeout is how long an acknowledgement waits for an outbound
	// message to ride on before it is sent on its own.
	AckTimeout time.Duration
}

// DefaultReliability returns the defaults for a transport type.
func DefaultReliability(t transport.TransportType) ReliabilityConfig {
	switch t {
	case transport.TransportTypeTCP:
		return ReliabilityConfig{Disabled: true}
	case transport.TransportTypeBLE:
		return ReliabilityConfig{
			BaseInterval: DefaultBLEBaseInterval,
			MaxInterval:  DefaultBLEMaxInterval,
			MaxRetries:   DefaultBLEMaxRetries,
			Multiplier:   DefaultMultiplier,
			AckTimeout:   DefaultAckTimeout,
		}
	default:
		return ReliabilityConfig{
			BaseInterval: DefaultUDPBaseInterval,
			MaxInterval:  DefaultUDPMaxInterval,
			MaxRetries:   DefaultUDPMaxRetries,
			Multiplier:   DefaultMultiplier,
			AckTimeout:   DefaultAckTimeout,
		}
	}
}

// Validate checks for values that cannot be defaulted.
func (c ReliabilityConfig) Validate() error {
	if c.Disabled {
		return nil
	}
	if c.BaseInterval < 0 || c.MaxInterval < 0 || c.AckTimeout < 0 {
		return ErrInvalidReliability
	}
	if c.MaxRetries < 0 || c.Jitter < 0 {
		return ErrInvalidReliability
	}
	// Zero selects the default; below one the delays would shrink.
	if c.Multiplier < 0 || (c.Multiplier > 0 && c.Multiplier < 1) {
		return ErrInvalidReliability
	}
	if c.MaxInterval > 0 && c.MaxInterval < c.BaseInterval {
		return ErrInvalidReliability
	}
	return nil
}

// WithDefaults returns a copy with zero values replaced by the UDP
// defaults. MaxRetries of zero stays zero: the message is sent once and
// fails at its first deadline.
func (c ReliabilityConfig) WithDefaults() ReliabilityConfig {
	if c.Disabled {
		return c
	}
	if c.BaseInterval == 0 {
		c.BaseInterval = DefaultUDPBaseInterval
	}
	if c.MaxInterval == 0 {
		c.MaxInterval = max(DefaultUDPMaxInterval, c.BaseInterval)
	}
	if c.Multiplier == 0 {
		c.Multiplier = DefaultMultiplier
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	return c
}
