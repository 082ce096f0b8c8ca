// Package engine provides the periodic processing loop that hosts a node:
// it advances per-stream sample clocks one buffer at a time and forwards
// emitted edges to a dispatcher.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/ttlbridge/internal/core"
	"firestige.xyz/ttlbridge/internal/metrics"
	"firestige.xyz/ttlbridge/internal/scheduler"
)

// ErrRunning is returned by Start while the loop is already running.
var ErrRunning = errors.New("ttlbridge: engine already running")

// Processor runs one scheduling cycle per buffer.
type Processor interface {
	StartAcquisition()
	Process(h scheduler.Host) scheduler.CycleStats
}

// Dispatcher receives edges without blocking.
type Dispatcher interface {
	Dispatch(edge core.PulseEdge) bool
}

// StreamConfig describes one simulated data stream.
type StreamConfig struct {
	ID         core.StreamID
	SampleRate float64 // Hz
}

// Config contains engine configuration.
type Config struct {
	CyclePeriod time.Duration
	Streams     []StreamConfig
}

type stream struct {
	id   core.StreamID
	rate float64
	step *big.Rat // samples per cycle, exact

	first int64
	count int
}

// boundary returns floor(n * step), the first sample of cycle n.
func (s *stream) boundary(n int64) int64 {
	var r big.Rat
	r.SetInt64(n)
	r.Mul(&r, s.step)
	return new(big.Int).Quo(r.Num(), r.Denom()).Int64()
}

// Engine drives a Processor on a fixed period.
type Engine struct {
	period   time.Duration
	streams  []*stream
	ids      []core.StreamID
	proc     Processor
	dispatch Dispatcher

	// cycleMu serializes cycles from the loop and from Step.
	cycleMu sync.Mutex
	cycle   int64

	// mu guards the loop lifecycle.
	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	acquiring atomic.Bool

	cycles    atomic.Uint64
	edges     atomic.Uint64
	dropped   atomic.Uint64
	lastCycle atomic.Int64 // unix nanos
}

// New creates an engine. proc and dispatch must not be nil.
func New(cfg Config, proc Processor, dispatch Dispatcher) (*Engine, error) {
	if cfg.CyclePeriod <= 0 {
		return nil, fmt.Errorf("%w: cycle period must be positive", core.ErrConfigInvalid)
	}
	if len(cfg.Streams) == 0 {
		return nil, fmt.Errorf("%w: at least one stream is required", core.ErrConfigInvalid)
	}
	if proc == nil || dispatch == nil {
		return nil, fmt.Errorf("%w: processor and dispatcher are required", core.ErrConfigInvalid)
	}

	e := &Engine{
		period:   cfg.CyclePeriod,
		proc:     proc,
		dispatch: dispatch,
	}
	seen := make(map[core.StreamID]bool, len(cfg.Streams))
	for _, sc := range cfg.Streams {
		if sc.ID == "" || seen[sc.ID] {
			return nil, fmt.Errorf("%w: stream id %q empty or duplicated", core.ErrConfigInvalid, sc.ID)
		}
		if sc.SampleRate <= 0 {
			return nil, fmt.Errorf("%w: stream %q sample rate must be positive", core.ErrConfigInvalid, sc.ID)
		}
		seen[sc.ID] = true

		step := new(big.Rat).SetFloat64(sc.SampleRate)
		step.Mul(step, big.NewRat(cfg.CyclePeriod.Nanoseconds(), int64(time.Second)))
		e.streams = append(e.streams, &stream{id: sc.ID, rate: sc.SampleRate, step: step})
		e.ids = append(e.ids, sc.ID)
	}
	return e, nil
}

// Start clears the processor's acquisition state, resets sample numbering
// and runs the cycle loop until Stop or ctx is done.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done != nil {
		select {
		case <-e.done:
			// The parent context ended the previous loop.
			e.cancel()
		default:
			return ErrRunning
		}
	}

	e.cycleMu.Lock()
	e.cycle = 0
	e.proc.StartAcquisition()
	e.cycleMu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.acquiring.Store(true)

	go e.loop(loopCtx, e.done)

	slog.Info("acquisition started", "period", e.period, "streams", len(e.streams))
	return nil
}

// Stop ends the cycle loop and waits for it. No-op when not running.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done == nil {
		return
	}
	e.cancel()
	<-e.done
	e.cancel = nil
	e.done = nil
	slog.Info("acquisition stopped", "cycles", e.cycles.Load(), "edges", e.edges.Load())
}

// IsAcquiring reports whether the cycle loop is running.
func (e *Engine) IsAcquiring() bool {
	return e.acquiring.Load()
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer e.acquiring.Store(false)

	ticker := time.NewTicker(e.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Step()
		}
	}
}

// Step runs exactly one cycle synchronously.
func (e *Engine) Step() scheduler.CycleStats {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	for _, s := range e.streams {
		s.first = s.boundary(e.cycle)
		s.count = int(s.boundary(e.cycle+1) - s.first)
	}
	st := e.proc.Process(e)
	e.cycle++
	e.cycles.Add(1)
	e.lastCycle.Store(time.Now().UnixNano())
	return st
}

// Streams implements scheduler.Host.
func (e *Engine) Streams() []core.StreamID {
	return e.ids
}

func (e *Engine) find(id core.StreamID) *stream {
	for _, s := range e.streams {
		if s.id == id {
			return s
		}
	}
	return nil
}

// FirstSampleNumber implements scheduler.Host.
func (e *Engine) FirstSampleNumber(id core.StreamID) int64 {
	if s := e.find(id); s != nil {
		return s.first
	}
	return 0
}

// SampleCount implements scheduler.Host.
func (e *Engine) SampleCount(id core.StreamID) int {
	if s := e.find(id); s != nil {
		return s.count
	}
	return 0
}

// SampleRate implements scheduler.Host.
func (e *Engine) SampleRate(id core.StreamID) float64 {
	if s := e.find(id); s != nil {
		return s.rate
	}
	return 0
}

// AddEvent implements scheduler.Host. The edge is handed off without
// blocking; a full dispatcher drops it.
func (e *Engine) AddEvent(edge core.PulseEdge, offset int) {
	edge.Offset = offset
	e.edges.Add(1)
	metrics.EdgesTotal.WithLabelValues(string(edge.StreamID), edge.Kind()).Inc()
	if !e.dispatch.Dispatch(edge) {
		e.dropped.Add(1)
	}
}

// StreamStatus describes one stream's clock.
type StreamStatus struct {
	ID         core.StreamID `json:"id" yaml:"id"`
	SampleRate float64       `json:"sample_rate" yaml:"sample_rate"`
	NextSample int64         `json:"next_sample" yaml:"next_sample"`
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Acquiring   bool           `json:"acquiring" yaml:"acquiring"`
	CyclePeriod string         `json:"cycle_period" yaml:"cycle_period"`
	Cycles      uint64         `json:"cycles" yaml:"cycles"`
	Edges       uint64         `json:"edges" yaml:"edges"`
	Dropped     uint64         `json:"dropped" yaml:"dropped"`
	LastCycle   time.Time      `json:"last_cycle,omitzero" yaml:"last_cycle,omitempty"`
	Streams     []StreamStatus `json:"streams" yaml:"streams"`
}

// Stats returns engine statistics.
func (e *Engine) Stats() Stats {
	e.cycleMu.Lock()
	next := e.cycle
	streams := make([]StreamStatus, 0, len(e.streams))
	for _, s := range e.streams {
		streams = append(streams, StreamStatus{ID: s.id, SampleRate: s.rate, NextSample: s.boundary(next)})
	}
	e.cycleMu.Unlock()

	st := Stats{
		Acquiring:   e.acquiring.Load(),
		CyclePeriod: e.period.String(),
		Cycles:      e.cycles.Load(),
		Edges:       e.edges.Load(),
		Dropped:     e.dropped.Load(),
		Streams:     streams,
	}
	if ns := e.lastCycle.Load(); ns != 0 {
		st.LastCycle = time.Unix(0, ns)
	}
	return st
}
