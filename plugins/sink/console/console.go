// Package console implements the console debug sink.
// Writes one line per edge in human-readable or JSON form.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"firestige.xyz/ttlbridge/internal/core"
	"firestige.xyz/ttlbridge/pkg/plugin"
)

// ConsoleSink prints edges to stdout.
type ConsoleSink struct {
	name         string
	config       Config
	out          io.Writer
	emittedCount atomic.Uint64
}

// Config represents console sink configuration.
type Config struct {
	Format string `mapstructure:"format"` // "json" or "text", default "text"
}

// NewConsoleSink creates a new console sink.
func NewConsoleSink() plugin.Sink {
	return &ConsoleSink{
		name:   "console",
		config: Config{Format: "text"},
		out:    os.Stdout,
	}
}

// Name returns the plugin name.
func (s *ConsoleSink) Name() string {
	return s.name
}

// Init initializes the sink with configuration.
func (s *ConsoleSink) Init(cfg map[string]any) error {
	if err := plugin.DecodeOptions(cfg, &s.config); err != nil {
		return err
	}
	if s.config.Format != "json" && s.config.Format != "text" {
		return fmt.Errorf("invalid format %q, must be json or text", s.config.Format)
	}
	return nil
}

// Start starts the sink.
func (s *ConsoleSink) Start(ctx context.Context) error {
	slog.Info("console sink started", "format", s.config.Format)
	return nil
}

// Stop stops the sink.
func (s *ConsoleSink) Stop(ctx context.Context) error {
	slog.Info("console sink stopped", "total_emitted", s.emittedCount.Load())
	return nil
}

// Emit writes one edge.
func (s *ConsoleSink) Emit(ctx context.Context, edge *core.OutputEdge) error {
	if edge == nil {
		return fmt.Errorf("nil edge")
	}

	var err error
	if s.config.Format == "json" {
		err = json.NewEncoder(s.out).Encode(plugin.NewEdgeRecord(edge))
	} else {
		_, err = fmt.Fprintf(s.out, "[%s] stream=%s sample=%d offset=%d line=%d %s\n",
			edge.Timestamp.Format("15:04:05.000"),
			edge.Edge.StreamID,
			edge.Edge.SampleNumber,
			edge.Edge.Offset,
			edge.Edge.Line,
			edge.Edge.Kind(),
		)
	}
	if err != nil {
		return fmt.Errorf("console write failed: %w", err)
	}

	s.emittedCount.Add(1)
	return nil
}

// Flush is a no-op for console sink.
func (s *ConsoleSink) Flush(ctx context.Context) error {
	return nil
}
