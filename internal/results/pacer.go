package results

import "sync"

// Pacer is the pause-at-limit half of a driver. Embedding it gives a driver
// Extend and Cancel; the driver calls Wait before producing each row. The zero
// value is ready to use with no limit.
type Pacer struct {
	mu        sync.Mutex
	cond      *sync.Cond
	limit     int
	extended  bool
	cancelled bool
}

func (p *Pacer) lazyInit() {
	if p.cond == nil {
		p.cond = sync.NewCond(&p.mu)
	}
}

// Start sets the initial limit. A limit set by Extend or a cancellation that
// arrived before the submission is kept.
func (p *Pacer) Start(limit int) {
	p.mu.Lock()
	p.lazyInit()
	if !p.extended {
		p.limit = limit
	}
	p.mu.Unlock()
}

// Wait blocks while row i is beyond the limit. It returns false once the
// pacer has been cancelled.
func (p *Pacer) Wait(i int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lazyInit()
	for !p.cancelled && p.limit > 0 && i >= p.limit {
		p.cond.Wait()
	}
	return !p.cancelled
}

// Extend raises the limit; 0 lifts it.
func (p *Pacer) Extend(limit int) {
	p.mu.Lock()
	p.lazyInit()
	p.limit = limit
	p.extended = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Cancel releases any waiter and makes later Wait calls return false.
func (p *Pacer) Cancel() {
	p.mu.Lock()
	p.lazyInit()
	p.cancelled = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Cancelled reports whether Cancel has been called.
func (p *Pacer) Cancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}
