package exchange

import (
	"math"
	"math/rand/v2"
	"time"
)

// RandomSource provides random values for jitter. Tests inject a fixed
// source.
type RandomSource interface {
	// Float64 returns a random float64 in [0.0, 1.0).
	Float64() float64
}

type defaultRandomSource struct{}

func (defaultRandomSource) Float64() float64 {
	return rand.Float64()
}

// DefaultRandomSource uses math/rand/v2.
var DefaultRandomSource RandomSource = defaultRandomSource{}

// Backoff computes retransmission delays:
//
//	delay(n) = min(base * multiplier^n, max) * (1 + jitter*random)
//
// where n is the number of retransmissions already made.
type Backoff struct {
	Multiplier  float64
	MaxInterval time.Duration
	Jitter      float64
	Random      RandomSource
}

// NewBackoff creates a Backoff from a reliability config. A nil random
// source uses DefaultRandomSource.
func NewBackoff(c ReliabilityConfig, random RandomSource) Backoff {
	if random == nil {
		random = DefaultRandomSource
	}
	return Backoff{
		Multiplier:  c.Multiplier,
		MaxInterval: c.MaxInterval,
		Jitter:      c.Jitter,
		Random:      random,
	}
}

// Interval returns the delay after the retries'th retransmission.
func (b Backoff) Interval(base time.Duration, retries int) time.Duration {
	d := float64(base) * math.Pow(b.Multiplier, float64(retries))
	if b.MaxInterval > 0 && d > float64(b.MaxInterval) {
		d = float64(b.MaxInterval)
	}
	if b.Jitter > 0 {
		d *= 1 + b.Jitter*b.Random.Float64()
	}
	return time.Duration(d)
}
