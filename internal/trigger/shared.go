package trigger

import (
	"sync"

	"firestige.xyz/ttlbridge/internal/core"
)

// Shared is the single mutex-guarded state object owned by a node: the
// handoff queue plus one pending-off slot per stream. Every method holds
// the lock only for the operation itself.
type Shared struct {
	mu      sync.Mutex
	queue   Queue
	pending map[core.StreamID]core.PendingOff
}

// NewShared creates an empty shared state.
func NewShared() *Shared {
	return &Shared{
		pending: make(map[core.StreamID]core.PendingOff),
	}
}

// Push appends msg to the queue.
func (s *Shared) Push(msg core.TriggerMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.Push(msg)
}

// Pop removes the queue head. It returns core.ErrEmptyQueue when empty.
func (s *Shared) Pop() (core.TriggerMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Pop()
}

// TryPop checks the count and pops under one acquisition.
func (s *Shared) TryPop() (core.TriggerMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.Count() == 0 {
		return core.TriggerMessage{}, false
	}
	msg, _ := s.queue.Pop()
	return msg, true
}

// Count returns the queue length.
func (s *Shared) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Count()
}

// Clear discards every queued message.
func (s *Shared) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.Clear()
}

// PendingOff returns the deferred off edge for a stream, if any.
func (s *Shared) PendingOff(id core.StreamID) (core.PendingOff, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	return p, ok
}

// SetPendingOff stores p for the stream, replacing any previous value.
func (s *Shared) SetPendingOff(id core.StreamID, p core.PendingOff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[id] = p
}

// TakePendingOffBefore removes and returns the stream's deferred off edge
// when it falls before sample end. A later edge stays in its slot.
func (s *Shared) TakePendingOffBefore(id core.StreamID, end int64) (core.PendingOff, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok || p.SampleNumber >= end {
		return core.PendingOff{}, false
	}
	delete(s.pending, id)
	return p, true
}

// PendingCount returns the number of occupied slots.
func (s *Shared) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Reset clears the queue and all pending slots. Called when a new
// acquisition begins.
func (s *Shared) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.Clear()
	clear(s.pending)
}
