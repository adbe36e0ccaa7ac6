package transport

import (
	"sync/atomic"

	"github.com/backkem/msglayer/pkg/metrics"
)

// Receiver takes inbound messages from transport read goroutines. It must
// not block. A false return means the message was dropped, typically
// because the node's ingress queue is full. The receiver owns data.
type Receiver interface {
	DeliverBuffer(data []byte, from PeerAddress) bool
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(data []byte, from PeerAddress) bool

// DeliverBuffer calls f.
func (f ReceiverFunc) DeliverBuffer(data []byte, from PeerAddress) bool { return f(data, from) }

// Sender sends an encoded message to a peer.
type Sender interface {
	Send(data []byte, peer PeerAddress) error
}

// Stats counts inbound messages of one transport.
type Stats struct {
	// Delivered messages were accepted by the Receiver.
	Delivered uint64
	// Rejected messages were refused by the Receiver.
	Rejected uint64
	// Oversized messages exceeded the transport's size limit and never
	// reached the Receiver.
	Oversized uint64
}

// inbound feeds a Receiver and keeps the counts behind Stats.
type inbound struct {
	receiver Receiver
	maxSize  int
	metrics  *metrics.Metrics

	delivered, rejected, oversized atomic.Uint64
}

// fits reports whether an n-byte message is within the limit, counting it
// as oversized otherwise.
func (in *inbound) fits(n int) bool {
	if n <= in.maxSize {
		return true
	}
	in.dropOversized()
	return false
}

func (in *inbound) dropOversized() {
	in.oversized.Add(1)
	in.metrics.Dropped(metrics.DropOversized)
}

func (in *inbound) deliver(data []byte, from PeerAddress) {
	if in.receiver.DeliverBuffer(data, from) {
		in.delivered.Add(1)
	} else {
		in.rejected.Add(1)
	}
}

func (in *inbound) stats() Stats {
	return Stats{
		Delivered: in.delivered.Load(),
		Rejected:  in.rejected.Load(),
		Oversized: in.oversized.Load(),
	}
}
