package engine

import "sync/atomic"

// Cell is a single-slot, latest-wins sample holder. Store replaces the
// current sample without waiting and Load never blocks a writer, so the
// measurement goroutine and the render loop share it without coordination.
type Cell struct {
	p atomic.Pointer[Sample]
}

// Store publishes s, discarding whatever sample was there before.
func (c *Cell) Store(s Sample) {
	c.p.Store(&s)
}

// Load returns the most recently published sample. ok is false until the
// first Store.
func (c *Cell) Load() (Sample, bool) {
	p := c.p.Load()
	if p == nil {
		return Sample{}, false
	}
	return *p, true
}
