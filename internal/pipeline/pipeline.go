// Package pipeline fans pulse edges out to sinks off the cycle path.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"firestige.xyz/ttlbridge/internal/core"
	"firestige.xyz/ttlbridge/internal/metrics"
	"firestige.xyz/ttlbridge/pkg/plugin"
)

// DefaultBufferSize is the edge channel capacity when none is configured.
const DefaultBufferSize = 4096

// Dispatcher hands edges from the cycle loop to a worker that emits them
// to every sink. Dispatch never blocks; a full buffer drops the edge.
type Dispatcher struct {
	nodeID  string
	sinks   []plugin.Sink
	metrics *Metrics
	now     func() time.Time

	// mu guards closed against concurrent Dispatch and Stop.
	mu      sync.RWMutex
	closed  bool
	started bool
	edges   chan core.PulseEdge

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config contains dispatcher configuration.
type Config struct {
	NodeID     string
	Sinks      []plugin.Sink
	BufferSize int // Edge channel buffer size
}

// New creates a dispatcher. Sinks must already be initialized.
func New(cfg Config) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		nodeID:  cfg.NodeID,
		sinks:   cfg.Sinks,
		metrics: &Metrics{},
		now:     time.Now,
		edges:   make(chan core.PulseEdge, cfg.BufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts every sink, then the emit worker. If a sink fails to
// start, the ones already started are stopped again.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return fmt.Errorf("dispatcher already started or stopped")
	}

	for i, s := range d.sinks {
		if err := s.Start(ctx); err != nil {
			for _, started := range d.sinks[:i] {
				if serr := started.Stop(ctx); serr != nil {
					slog.Warn("sink stop failed", "sink", started.Name(), "error", serr)
				}
			}
			return fmt.Errorf("failed to start sink %s: %w", s.Name(), err)
		}
	}

	d.started = true
	d.wg.Add(1)
	go d.emitLoop()

	slog.Info("dispatcher started", "node_id", d.nodeID, "sinks", len(d.sinks), "buffer", cap(d.edges))
	return nil
}

// Dispatch queues edge for emission. It reports false when the edge was
// dropped because the buffer is full or the dispatcher is stopped.
func (d *Dispatcher) Dispatch(edge core.PulseEdge) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop()
		return false
	}
	select {
	case d.edges <- edge:
		d.metrics.Dispatched.Add(1)
		return true
	default:
		d.drop()
		return false
	}
}

func (d *Dispatcher) drop() {
	d.metrics.Dropped.Add(1)
	metrics.EdgesDroppedTotal.Inc()
}

// Stop closes the input, emits what is still buffered, then flushes and
// stops every sink. Safe to call more than once.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	started := d.started
	close(d.edges)
	d.mu.Unlock()

	if !started {
		d.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// Abandon remaining edges; in-flight emits see a cancelled context.
		d.cancel()
		<-done
	}
	d.cancel()

	var firstErr error
	for _, s := range d.sinks {
		if err := s.Flush(ctx); err != nil {
			slog.Error("sink flush failed", "sink", s.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
		if err := s.Stop(ctx); err != nil {
			slog.Error("sink stop failed", "sink", s.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	slog.Info("dispatcher stopped", "node_id", d.nodeID,
		"dispatched", d.metrics.Dispatched.Load(),
		"dropped", d.metrics.Dropped.Load())
	return firstErr
}

func (d *Dispatcher) emitLoop() {
	defer d.wg.Done()
	for edge := range d.edges {
		if d.ctx.Err() != nil {
			d.drop()
			continue
		}
		d.emit(edge)
	}
}

func (d *Dispatcher) emit(edge core.PulseEdge) {
	out := core.NewOutputEdge(d.nodeID, d.now(), edge)
	for _, s := range d.sinks {
		if err := s.Emit(d.ctx, &out); err != nil {
			d.metrics.EmitErrors.Add(1)
			metrics.SinkErrorsTotal.WithLabelValues(s.Name()).Inc()
			slog.Error("sink emit failed", "sink", s.Name(), "stream", edge.StreamID, "error", err)
			continue
		}
	}
	d.metrics.Emitted.Add(1)
}

// Pending returns the number of buffered edges.
func (d *Dispatcher) Pending() int {
	return len(d.edges)
}

// Stats returns dispatcher statistics.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched: d.metrics.Dispatched.Load(),
		Dropped:    d.metrics.Dropped.Load(),
		Emitted:    d.metrics.Emitted.Load(),
		EmitErrors: d.metrics.EmitErrors.Load(),
		Sinks:      len(d.sinks),
	}
}

// Stats represents dispatcher statistics.
type Stats struct {
	Dispatched uint64 `json:"dispatched"`
	Dropped    uint64 `json:"dropped"`
	Emitted    uint64 `json:"emitted"`
	EmitErrors uint64 `json:"emit_errors"`
	Sinks      int    `json:"sinks"`
}
