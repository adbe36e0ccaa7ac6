package exchange

// Handle names an exchange slot. The generation changes each time the slot
// is reused, so a handle kept past Close resolves to nothing instead of to
// the slot's next occupant.
type Handle struct {
	Index      uint16
	Generation uint32
}

type slot struct {
	ec         *ExchangeContext
	generation uint32
}

// pool is a fixed-capacity set of exchange slots.
type pool struct {
	slots []slot
	free  []uint16
}

func newPool(capacity int) *pool {
	p := &pool{
		slots: make([]slot, capacity),
		free:  make([]uint16, 0, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		p.free = append(p.free, uint16(i))
	}
	return p
}

// alloc places ec in a free slot and returns its handle.
func (p *pool) alloc(ec *ExchangeContext) (Handle, bool) {
	if len(p.free) == 0 {
		return Handle{}, false
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	s := &p.slots[idx]
	s.generation++
	s.ec = ec
	return Handle{Index: idx, Generation: s.generation}, true
}

// release frees the slot named by h. Stale handles are ignored.
func (p *pool) release(h Handle) {
	if p.get(h) == nil {
		return
	}
	p.slots[h.Index].ec = nil
	p.free = append(p.free, h.Index)
}

// get resolves h, returning nil for stale or out-of-range handles.
func (p *pool) get(h Handle) *ExchangeContext {
	if int(h.Index) >= len(p.slots) {
		return nil
	}
	s := p.slots[h.Index]
	if s.ec == nil || s.generation != h.Generation {
		return nil
	}
	return s.ec
}

// live returns every allocated exchange in slot order.
func (p *pool) live() []*ExchangeContext {
	var out []*ExchangeContext
	for _, s := range p.slots {
		if s.ec != nil {
			out = append(out, s.ec)
		}
	}
	return out
}

func (p *pool) inUse() int {
	return len(p.slots) - len(p.free)
}
