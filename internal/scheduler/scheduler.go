// Package scheduler turns queued triggers into sample-accurate pulse edges,
// one buffer at a time.
package scheduler

import (
	"math"

	"firestige.xyz/ttlbridge/internal/core"
	"firestige.xyz/ttlbridge/internal/trigger"
)

// Host is the buffer view for the current cycle.
type Host interface {
	Streams() []core.StreamID
	FirstSampleNumber(id core.StreamID) int64
	SampleCount(id core.StreamID) int
	SampleRate(id core.StreamID) float64
	AddEvent(edge core.PulseEdge, offset int)
}

// Params are the settings read once per cycle.
type Params struct {
	DurationMs int
	Enabled    bool
	Bound      bool
}

// CycleStats summarizes one Process call.
type CycleStats struct {
	Drained  int // trigger messages popped
	Rising   int
	Falling  int
	Deferred int // off edges stored for a later buffer
	Flushed  int // pending off edges emitted this cycle
}

// Edges returns the total number of edges emitted.
func (c CycleStats) Edges() int { return c.Rising + c.Falling }

// Scheduler drains the shared queue and places edges. It keeps no state of
// its own; deferred off edges live in the shared pending slots.
type Scheduler struct {
	state *trigger.Shared
}

// New creates a scheduler over state.
func New(state *trigger.Shared) *Scheduler {
	return &Scheduler{state: state}
}

// OffSamples converts a pulse duration to samples, rounding up so the
// pulse is never shorter than requested.
func OffSamples(durationMs int, sampleRate float64) int64 {
	return int64(math.Ceil(float64(durationMs) * sampleRate / 1000))
}

// Process runs one cycle. It is a no-op while disabled or unbound: the
// queue and pending slots are left untouched.
func (s *Scheduler) Process(h Host, p Params) CycleStats {
	var st CycleStats
	if !p.Enabled || !p.Bound {
		return st
	}

	streams := h.Streams()

	for _, id := range streams {
		start := h.FirstSampleNumber(id)
		pending, ok := s.state.TakePendingOffBefore(id, start+int64(h.SampleCount(id)))
		if !ok {
			continue
		}
		offset := max(int64(0), pending.SampleNumber-start)
		emit(h, id, start, int(offset), pending.Line, false)
		st.Falling++
		st.Flushed++
	}

	for {
		msg, ok := s.state.TryPop()
		if !ok {
			break
		}
		st.Drained++

		for _, id := range streams {
			start := h.FirstSampleNumber(id)

			if p.DurationMs <= 0 {
				emit(h, id, start, 0, msg.Line(), msg.State())
				if msg.State() {
					st.Rising++
				} else {
					st.Falling++
				}
				continue
			}

			// Timed pulses always begin with a rising edge.
			emit(h, id, start, 0, msg.Line(), true)
			st.Rising++

			off := OffSamples(p.DurationMs, h.SampleRate(id))
			if off < int64(h.SampleCount(id)) {
				emit(h, id, start, int(off), msg.Line(), false)
				st.Falling++
				continue
			}
			s.state.SetPendingOff(id, core.PendingOff{SampleNumber: start + off, Line: msg.Line()})
			st.Deferred++
		}
	}

	return st
}

func emit(h Host, id core.StreamID, start int64, offset, line int, rising bool) {
	h.AddEvent(core.PulseEdge{
		StreamID:     id,
		SampleNumber: start + int64(offset),
		Offset:       offset,
		Line:         line,
		Rising:       rising,
	}, offset)
}
