package session

import (
	"errors"
	"time"
)

// Reliability timing a peer can advertise for itself. A peer that sleeps
// between polls needs longer retransmission intervals while idle.
const (
	// DefaultIdleInterval is the retry base used while the peer is idle.
	DefaultIdleInterval = 500 * time.Millisecond

	// DefaultActiveInterval is the retry base used while the peer is active.
	DefaultActiveInterval = 300 * time.Millisecond

	// DefaultActiveThreshold is how long after the last received message the
	// peer still counts as active.
	DefaultActiveThreshold = 4000 * time.Millisecond

	MaxIdleInterval    = time.Hour
	MaxActiveInterval  = time.Hour
	MaxActiveThreshold = 65535 * time.Millisecond
)

// ErrInvalidParams is returned by Params.Validate.
var ErrInvalidParams = errors.New("session: reliability parameters out of range")

// Params holds the peer's advertised retransmission timing. The zero value
// means nothing was advertised and transport defaults apply.
type Params struct {
	IdleInterval    time.Duration
	ActiveInterval  time.Duration
	ActiveThreshold time.Duration
}

// DefaultParams returns the default peer timing.
func DefaultParams() Params {
	return Params{
		IdleInterval:    DefaultIdleInterval,
		ActiveInterval:  DefaultActiveInterval,
		ActiveThreshold: DefaultActiveThreshold,
	}
}

// IsZero reports whether no timing was advertised.
func (p Params) IsZero() bool {
	return p == Params{}
}

// Validate checks that every set field is within range.
func (p Params) Validate() error {
	if p.IdleInterval < 0 || p.IdleInterval > MaxIdleInterval {
		return ErrInvalidParams
	}
	if p.ActiveInterval < 0 || p.ActiveInterval > MaxActiveInterval {
		return ErrInvalidParams
	}
	if p.ActiveThreshold < 0 || p.ActiveThreshold > MaxActiveThreshold {
		return ErrInvalidParams
	}
	return nil
}

// WithDefaults returns a copy of the parameters with zero values replaced by defaults.
func (p Params) WithDefaults() Params {
	result := p
	if result.IdleInterval == 0 {
		result.IdleInterval = DefaultIdleInterval
	}
	if result.ActiveInterval == 0 {
		result.ActiveInterval = DefaultActiveInterval
	}
	if result.ActiveThreshold == 0 {
		result.ActiveThreshold = DefaultActiveThreshold
	}
	return result
}

// RetryInterval returns the base retransmission interval to use towards a
// peer last heard from at lastHeard.
func (p Params) RetryInterval(now, lastHeard time.Time) time.Duration {
	p = p.WithDefaults()
	if !lastHeard.IsZero() && now.Sub(lastHeard) < p.ActiveThreshold {
		return p.ActiveInterval
	}
	return p.IdleInterval
}
