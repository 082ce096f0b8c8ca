// Package trigger holds the handoff state shared between the network
// listener and the real-time cycle loop.
package trigger

import "firestige.xyz/ttlbridge/internal/core"

// Queue is a FIFO of trigger messages.
// Not safe for concurrent use; callers must synchronize (see Shared).
type Queue struct {
	items []core.TriggerMessage
	head  int
}

// Push appends msg to the tail.
func (q *Queue) Push(msg core.TriggerMessage) {
	q.items = append(q.items, msg)
}

// Pop removes and returns the head. It returns core.ErrEmptyQueue when empty.
func (q *Queue) Pop() (core.TriggerMessage, error) {
	if q.Count() == 0 {
		return core.TriggerMessage{}, core.ErrEmptyQueue
	}
	msg := q.items[q.head]
	q.items[q.head] = core.TriggerMessage{}
	q.head++
	if q.head == len(q.items) {
		// Drained: reuse the backing array.
		q.items = q.items[:0]
		q.head = 0
	}
	return msg, nil
}

// Count returns the number of queued messages.
func (q *Queue) Count() int {
	return len(q.items) - q.head
}

// Clear discards all entries.
func (q *Queue) Clear() {
	q.items = q.items[:0]
	q.head = 0
}
