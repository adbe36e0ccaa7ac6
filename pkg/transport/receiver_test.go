package transport

import (
	"testing"
	"time"
)

type received struct {
	data []byte
	from PeerAddress
}

// chanReceiver queues messages and refuses them once full.
type chanReceiver chan received

func (c chanReceiver) DeliverBuffer(data []byte, from PeerAddress) bool {
	select {
	case c <- received{data: data, from: from}:
		return true
	default:
		return false
	}
}

func (c chanReceiver) next(t *testing.T) received {
	t.Helper()
	select {
	case msg := <-c:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return received{}
	}
}

var discard = ReceiverFunc(func([]byte, PeerAddress) bool { return true })

// waitStats polls until cond holds for st's counts.
func waitStats(t *testing.T, st func() Stats, cond func(Stats) bool) Stats {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		s := st()
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("stats never reached the expected value, last %+v", s)
		}
		time.Sleep(time.Millisecond)
	}
}
