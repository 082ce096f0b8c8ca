package pipeline

import (
	"sync/atomic"
)

// Metrics contains per-dispatcher counters.
type Metrics struct {
	Dispatched atomic.Uint64
	Dropped    atomic.Uint64
	Emitted    atomic.Uint64
	EmitErrors atomic.Uint64
}

// Reset resets all counters to zero.
func (m *Metrics) Reset() {
	m.Dispatched.Store(0)
	m.Dropped.Store(0)
	m.Emitted.Store(0)
	m.EmitErrors.Store(0)
}
