// Package gpio implements the GPIO sink plugin.
// Drives one output line per TTL line: rising edges set it high, falling
// edges set it low. Only available on Linux (GPIO character device).
package gpio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"firestige.xyz/ttlbridge/internal/core"
	"firestige.xyz/ttlbridge/pkg/plugin"
)

const defaultChip = "gpiochip0"

// outputLine is one requested GPIO output.
type outputLine interface {
	SetValue(value int) error
	Close() error
}

// GPIOSink mirrors edges onto GPIO outputs.
type GPIOSink struct {
	name   string
	config Config

	mu    sync.Mutex
	lines map[int]outputLine // TTL line -> output
	chip  interface{ Close() error }

	// open requests the output lines; platform specific.
	open func(cfg Config) (map[int]outputLine, interface{ Close() error }, error)

	emittedCount atomic.Uint64
	skippedCount atomic.Uint64
}

// Config represents GPIO sink configuration.
type Config struct {
	Chip      string      `mapstructure:"chip"`       // optional, default gpiochip0
	Lines     map[int]int `mapstructure:"lines"`      // required, TTL line -> GPIO offset
	ActiveLow bool        `mapstructure:"active_low"` // optional, invert outputs
	Stream    string      `mapstructure:"stream"`     // optional, only mirror this stream
}

// NewGPIOSink creates a new GPIO sink.
func NewGPIOSink() plugin.Sink {
	return &GPIOSink{
		name: "gpio",
		open: openLines,
	}
}

// Name returns the plugin name.
func (s *GPIOSink) Name() string {
	return s.name
}

// Init initializes the sink with configuration.
func (s *GPIOSink) Init(cfg map[string]any) error {
	c := Config{Chip: defaultChip}
	if err := plugin.DecodeOptions(cfg, &c); err != nil {
		return err
	}
	if len(c.Lines) == 0 {
		return fmt.Errorf("lines is required")
	}
	seen := make(map[int]int, len(c.Lines))
	for ttl, offset := range c.Lines {
		if ttl < 0 || offset < 0 {
			return fmt.Errorf("invalid mapping %d -> %d", ttl, offset)
		}
		if other, dup := seen[offset]; dup {
			return fmt.Errorf("gpio offset %d mapped by ttl lines %d and %d", offset, other, ttl)
		}
		seen[offset] = ttl
	}
	s.config = c
	return nil
}

// Start requests the output lines, all driven low.
func (s *GPIOSink) Start(ctx context.Context) error {
	lines, chip, err := s.open(s.config)
	if err != nil {
		return fmt.Errorf("gpio sink start failed: %w", err)
	}
	s.mu.Lock()
	s.lines = lines
	s.chip = chip
	s.mu.Unlock()

	slog.Info("gpio sink started", "chip", s.config.Chip, "lines", len(lines), "active_low", s.config.ActiveLow)
	return nil
}

// Stop drives every line low and releases it.
func (s *GPIOSink) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for ttl, l := range s.lines {
		if err := l.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("reset ttl line %d: %w", ttl, err))
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ttl line %d: %w", ttl, err))
		}
	}
	s.lines = nil
	if s.chip != nil {
		if err := s.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		s.chip = nil
	}

	slog.Info("gpio sink stopped", "total_emitted", s.emittedCount.Load(), "total_skipped", s.skippedCount.Load())
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// Emit sets the output mapped to the edge's TTL line. Edges for unmapped
// lines or other streams are skipped.
func (s *GPIOSink) Emit(ctx context.Context, edge *core.OutputEdge) error {
	if edge == nil {
		return fmt.Errorf("nil edge")
	}
	if s.config.Stream != "" && string(edge.Edge.StreamID) != s.config.Stream {
		s.skippedCount.Add(1)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lines[edge.Edge.Line]
	if !ok {
		s.skippedCount.Add(1)
		return nil
	}

	value := 0
	if edge.Edge.Rising {
		value = 1
	}
	if err := l.SetValue(value); err != nil {
		return fmt.Errorf("set ttl line %d: %w", edge.Edge.Line, err)
	}
	s.emittedCount.Add(1)
	return nil
}

// Flush is a no-op; outputs are set synchronously.
func (s *GPIOSink) Flush(ctx context.Context) error {
	return nil
}
