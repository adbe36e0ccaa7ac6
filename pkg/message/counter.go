package message

import (
	"crypto/rand"
	"encoding/binary"
	"math"
)

// MessageCounter allocates outgoing message counter values.
//
// A session counter never wraps: once the rollover limit has been handed out
// Next fails with ErrCounterExhausted and the session must be re-keyed.
// Group and unauthenticated counters are created with wrapping enabled.
type MessageCounter struct {
	value     uint32
	limit     uint32
	wrap      bool
	exhausted bool
}

// NewMessageCounter creates a session counter initialized to a random value
// in [1, 2^28].
func NewMessageCounter() *MessageCounter {
	return NewMessageCounterWithValue(randomCounterInit())
}

// NewMessageCounterWithValue creates a session counter with a specific
// initial value.
func NewMessageCounterWithValue(initial uint32) *MessageCounter {
	return &MessageCounter{
		value: initial,
		limit: math.MaxUint32,
	}
}

// NewWrappingCounter creates a counter that rolls over instead of
// exhausting, as used for group and unauthenticated traffic.
func NewWrappingCounter() *MessageCounter {
	c := NewMessageCounter()
	c.wrap = true
	return c
}

// SetRolloverLimit sets the last value Next may return.
func (c *MessageCounter) SetRolloverLimit(limit uint32) {
	c.limit = limit
	if !c.wrap && c.value > limit {
		c.exhausted = true
	}
}

// Next returns the next counter value.
func (c *MessageCounter) Next() (uint32, error) {
	if c.exhausted {
		return 0, ErrCounterExhausted
	}

	current := c.value
	if c.wrap {
		c.value++
		return current, nil
	}

	if current >= c.limit {
		c.exhausted = true
	} else {
		c.value++
	}
	return current, nil
}

// Current returns the value the next call to Next will return.
func (c *MessageCounter) Current() uint32 {
	return c.value
}

// IsExhausted reports whether the counter can no longer be used.
func (c *MessageCounter) IsExhausted() bool {
	return c.exhausted
}

// randomCounterInit returns a random value in [1, 2^28].
func randomCounterInit() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 1
	}
	return (binary.LittleEndian.Uint32(buf[:]) & (CounterInitMax - 1)) + 1
}

// CounterPolicy selects how a peer window treats counters far from its
// current maximum.
type CounterPolicy uint8

const (
	// PolicyStrict is used for unicast session keys: counters never wrap and
	// anything below the window is stale.
	PolicyStrict CounterPolicy = iota
	// PolicyRollover is used for group keys: counters compare with 32-bit
	// wrapping arithmetic.
	PolicyRollover
	// PolicyRelaxed is used for unencrypted traffic: a counter below the
	// window restarts the window, since the peer may have rebooted.
	PolicyRelaxed
)

// CounterStatus is the verdict of a peer window on a received counter.
type CounterStatus uint8

const (
	// CounterNew has not been seen and may be accepted.
	CounterNew CounterStatus = iota
	// CounterDuplicate lies in the window and was already accepted.
	CounterDuplicate
	// CounterStale lies below the window.
	CounterStale
)

// String returns a human-readable name for the status.
func (s CounterStatus) String() string {
	switch s {
	case CounterNew:
		return "New"
	case CounterDuplicate:
		return "Duplicate"
	case CounterStale:
		return "Stale"
	default:
		return "Unknown"
	}
}

// PeerCounter is the receive-side replay window: the largest accepted
// counter plus a bitmap of the CounterWindowSize values below it.
// Bit n of the bitmap covers max-n-1.
type PeerCounter struct {
	policy CounterPolicy
	max    uint32
	bitmap uint32
	synced bool
}

// NewPeerCounter creates an empty window that accepts any first counter.
func NewPeerCounter(policy CounterPolicy) *PeerCounter {
	return &PeerCounter{policy: policy}
}

// NewPeerCounterSynced creates a window that only accepts counters above
// max, for when the peer's current counter is already known.
func NewPeerCounterSynced(policy CounterPolicy, max uint32) *PeerCounter {
	return &PeerCounter{
		policy: policy,
		max:    max,
		bitmap: math.MaxUint32,
		synced: true,
	}
}

// distance classifies counter against the window maximum. ahead is true for
// counters above max; behind is the distance below max otherwise.
func (p *PeerCounter) distance(counter uint32) (ahead bool, behind uint32) {
	if p.policy == PolicyStrict {
		if counter > p.max {
			return true, 0
		}
		return false, p.max - counter
	}
	diff := int32(counter - p.max)
	if diff > 0 {
		return true, 0
	}
	return false, uint32(-int64(diff))
}

// Status reports what accepting counter would mean, without changing state.
func (p *PeerCounter) Status(counter uint32) CounterStatus {
	if !p.synced {
		return CounterNew
	}
	ahead, behind := p.distance(counter)
	switch {
	case ahead:
		return CounterNew
	case behind == 0:
		return CounterDuplicate
	case behind <= CounterWindowSize:
		if p.bitmap&(1<<(behind-1)) != 0 {
			return CounterDuplicate
		}
		return CounterNew
	case p.policy == PolicyRelaxed:
		return CounterNew
	default:
		return CounterStale
	}
}

// IsDuplicateOrStale reports whether counter must not be delivered.
func (p *PeerCounter) IsDuplicateOrStale(counter uint32) bool {
	return p.Status(counter) != CounterNew
}

// Accept records counter as received. It must only be called once the
// message carrying it has been authenticated. Counters that are not new are
// ignored.
func (p *PeerCounter) Accept(counter uint32) {
	if !p.synced {
		p.max = counter
		p.bitmap = 0
		p.synced = true
		return
	}
	if p.Status(counter) != CounterNew {
		return
	}

	ahead, behind := p.distance(counter)
	switch {
	case ahead:
		p.advance(counter)
	case behind <= CounterWindowSize:
		p.bitmap |= 1 << (behind - 1)
	default:
		// Relaxed policy: restart the window at the peer's new position.
		p.max = counter
		p.bitmap = 0
	}
}

// advance moves the window maximum forward to newMax.
func (p *PeerCounter) advance(newMax uint32) {
	shift := newMax - p.max
	if shift > CounterWindowSize {
		p.bitmap = 0
	} else {
		p.bitmap = (p.bitmap << shift) | (1 << (shift - 1))
	}
	p.max = newMax
}

// Max returns the largest accepted counter.
func (p *PeerCounter) Max() uint32 {
	return p.max
}

// Synced reports whether any counter has been accepted.
func (p *PeerCounter) Synced() bool {
	return p.synced
}
