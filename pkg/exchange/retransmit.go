package exchange

import (
	"slices"
	"time"

	"github.com/backkem/msglayer/pkg/session"
)

// retransmitKey identifies a sent reliable message. Acks name only the
// counter, which is unique per sending session.
type retransmitKey struct {
	session *session.Session
	counter uint32
}

// retransmitEntry is one sealed message awaiting acknowledgement.
type retransmitEntry struct {
	ec      *ExchangeContext
	session *session.Session
	counter uint32

	// buf is resent as is, with only the retransmission flag set.
	buf []byte

	config   ReliabilityConfig
	backoff  Backoff
	base     time.Duration
	retries  int
	deadline time.Time
}

// schedule sets the next deadline relative to now.
func (e *retransmitEntry) schedule(now time.Time) {
	e.deadline = now.Add(e.backoff.Interval(e.base, e.retries))
}

// retransmitTable is a fixed-capacity set of entries. There is at most one
// entry per exchange.
type retransmitTable struct {
	entries  map[retransmitKey]*retransmitEntry
	capacity int
}

func newRetransmitTable(capacity int) *retransmitTable {
	return &retransmitTable{
		entries:  make(map[retransmitKey]*retransmitEntry, capacity),
		capacity: capacity,
	}
}

func (t *retransmitTable) isFull() bool {
	return len(t.entries) >= t.capacity
}

func (t *retransmitTable) add(e *retransmitEntry) {
	t.entries[retransmitKey{e.session, e.counter}] = e
}

// ack removes and returns the entry for counter on s, if any.
func (t *retransmitTable) ack(s *session.Session, counter uint32) *retransmitEntry {
	key := retransmitKey{s, counter}
	e, ok := t.entries[key]
	if !ok {
		return nil
	}
	delete(t.entries, key)
	return e
}

func (t *retransmitTable) remove(e *retransmitEntry) {
	delete(t.entries, retransmitKey{e.session, e.counter})
}

// due returns the entries whose deadline is not after now, earliest first.
func (t *retransmitTable) due(now time.Time) []*retransmitEntry {
	var out []*retransmitEntry
	for _, e := range t.entries {
		if !e.deadline.After(now) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b *retransmitEntry) int {
		return a.deadline.Compare(b.deadline)
	})
	return out
}

// nextDeadline returns the earliest deadline.
func (t *retransmitTable) nextDeadline() (time.Time, bool) {
	var next time.Time
	for _, e := range t.entries {
		if next.IsZero() || e.deadline.Before(next) {
			next = e.deadline
		}
	}
	return next, !next.IsZero()
}

func (t *retransmitTable) count() int {
	return len(t.entries)
}
