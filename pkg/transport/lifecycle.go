package transport

import "sync/atomic"

const (
	stateIdle int32 = iota
	stateRunning
	stateClosed
)

// lifecycle is the idle, running, closed progression shared by every
// transport. Closing is allowed from idle.
type lifecycle struct {
	state atomic.Int32
	done  chan struct{}
}

func newLifecycle() *lifecycle {
	return &lifecycle{done: make(chan struct{})}
}

func (l *lifecycle) start() error {
	if l.state.CompareAndSwap(stateIdle, stateRunning) {
		return nil
	}
	if l.closed() {
		return ErrClosed
	}
	return ErrAlreadyStarted
}

func (l *lifecycle) stop() error {
	if l.state.Swap(stateClosed) == stateClosed {
		return ErrClosed
	}
	close(l.done)
	return nil
}

func (l *lifecycle) closed() bool {
	return l.state.Load() == stateClosed
}
