// Package core defines core types with zero external dependencies.
package core

import "fmt"

// StreamID identifies an independently timed data stream.
type StreamID string

// TriggerMessage is one accepted trigger: a TTL line and the requested state.
// Construct it with NewTriggerMessage so a negative line can never be queued.
type TriggerMessage struct {
	line  int
	state bool
}

// NewTriggerMessage returns ErrInvalidTrigger when line is negative.
func NewTriggerMessage(line int, state bool) (TriggerMessage, error) {
	if line < 0 {
		return TriggerMessage{}, fmt.Errorf("%w: line %d", ErrInvalidTrigger, line)
	}
	return TriggerMessage{line: line, state: state}, nil
}

// Line returns the TTL line (always >= 0).
func (m TriggerMessage) Line() int { return m.line }

// State returns the requested line state.
func (m TriggerMessage) State() bool { return m.state }

func (m TriggerMessage) String() string {
	return fmt.Sprintf("line=%d state=%t", m.line, m.state)
}

// PulseEdge is a digital transition on one TTL line of one stream.
type PulseEdge struct {
	StreamID     StreamID `json:"stream"`
	SampleNumber int64    `json:"sample_number"` // absolute sample number
	Offset       int      `json:"offset"`        // relative to the start of the buffer it was emitted in
	Line         int      `json:"line"`
	Rising       bool     `json:"rising"`
}

// Kind returns "rising" or "falling".
func (e PulseEdge) Kind() string {
	if e.Rising {
		return EdgeRising
	}
	return EdgeFalling
}

// Edge kinds.
const (
	EdgeRising  = "rising"
	EdgeFalling = "falling"
)

// PendingOff is a falling edge scheduled beyond the buffer that created it.
type PendingOff struct {
	SampleNumber int64
	Line         int
}

// Setting ranges and defaults.
const (
	MinPort            = 1024
	MaxPort            = 49151
	MaxPulseDurationMs = 5000

	DefaultAddress    = "0.0.0.0"
	DefaultPort       = 27020
	DefaultPattern    = "/ttl"
	DefaultDurationMs = 50
)
