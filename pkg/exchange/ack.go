package exchange

import (
	"slices"
	"time"
)

// pendingAck is an acknowledgement owed to the peer on one exchange.
type pendingAck struct {
	counter  uint32
	deadline time.Time
}

// ackTable holds at most one pending ack per exchange.
type ackTable struct {
	entries map[*ExchangeContext]pendingAck
}

func newAckTable() *ackTable {
	return &ackTable{entries: make(map[*ExchangeContext]pendingAck)}
}

// add records that counter must be acknowledged on ec by deadline. If an
// earlier ack was still pending it is returned and must be sent now.
func (t *ackTable) add(ec *ExchangeContext, counter uint32, deadline time.Time) (displaced uint32, ok bool) {
	if prev, exists := t.entries[ec]; exists && prev.counter != counter {
		displaced, ok = prev.counter, true
	}
	t.entries[ec] = pendingAck{counter: counter, deadline: deadline}
	return displaced, ok
}

func (t *ackTable) peek(ec *ExchangeContext) (uint32, bool) {
	a, ok := t.entries[ec]
	return a.counter, ok
}

func (t *ackTable) remove(ec *ExchangeContext) {
	delete(t.entries, ec)
}

// due returns the exchanges whose ack deadline is not after now, earliest
// first.
func (t *ackTable) due(now time.Time) []*ExchangeContext {
	var out []*ExchangeContext
	for ec, a := range t.entries {
		if !a.deadline.After(now) {
			out = append(out, ec)
		}
	}
	slices.SortFunc(out, func(a, b *ExchangeContext) int {
		return t.entries[a].deadline.Compare(t.entries[b].deadline)
	})
	return out
}

func (t *ackTable) nextDeadline() (time.Time, bool) {
	var next time.Time
	for _, a := range t.entries {
		if next.IsZero() || a.deadline.Before(next) {
			next = a.deadline
		}
	}
	return next, !next.IsZero()
}

func (t *ackTable) count() int {
	return len(t.entries)
}
