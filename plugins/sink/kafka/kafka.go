// Package kafka implements the Kafka sink plugin.
// Sends edge records to a Kafka topic with batching and compression.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/ttlbridge/internal/core"
	"firestige.xyz/ttlbridge/pkg/plugin"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 10 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
)

// messageWriter is the subset of *kafka.Writer used by the sink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink sends edges to Kafka.
type KafkaSink struct {
	name   string
	writer messageWriter
	config Config

	// Statistics
	emittedCount atomic.Uint64
	errorCount   atomic.Uint64
}

// Config represents Kafka sink configuration.
type Config struct {
	Brokers      []string      `mapstructure:"brokers"`       // required
	Topic        string        `mapstructure:"topic"`         // required
	BatchSize    int           `mapstructure:"batch_size"`    // optional, default 100
	BatchTimeout time.Duration `mapstructure:"batch_timeout"` // optional, default 10ms
	Compression  string        `mapstructure:"compression"`   // optional: none|gzip|snappy|lz4|zstd, default snappy
	MaxAttempts  int           `mapstructure:"max_attempts"`  // optional, default 3
	Async        bool          `mapstructure:"async"`         // optional, fire-and-forget writes
}

// NewKafkaSink creates a new Kafka sink.
func NewKafkaSink() plugin.Sink {
	return &KafkaSink{
		name: "kafka",
	}
}

// Name returns the plugin name.
func (s *KafkaSink) Name() string {
	return s.name
}

// Init initializes the sink with configuration.
func (s *KafkaSink) Init(cfg map[string]any) error {
	if cfg == nil {
		return fmt.Errorf("kafka sink requires configuration")
	}

	c := Config{
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		Compression:  defaultCompression,
		MaxAttempts:  defaultMaxAttempts,
	}
	if err := plugin.DecodeOptions(cfg, &c); err != nil {
		return err
	}
	if len(c.Brokers) == 0 {
		return fmt.Errorf("brokers is required")
	}
	if c.Topic == "" {
		return fmt.Errorf("topic is required")
	}

	codec, err := compression(c.Compression)
	if err != nil {
		return err
	}

	s.config = c
	s.writer = &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        c.Topic,
		Balancer:     &kafka.Hash{}, // same stream and line always land on one partition
		BatchSize:    c.BatchSize,
		BatchTimeout: c.BatchTimeout,
		MaxAttempts:  c.MaxAttempts,
		Compression:  codec,
		Async:        c.Async,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			slog.Error("kafka writer error", "detail", fmt.Sprintf(msg, args...))
		}),
	}

	return nil
}

func compression(name string) (compress.Compression, error) {
	switch name {
	case "none", "":
		return 0, nil
	case "gzip":
		return compress.Gzip, nil
	case "snappy":
		return compress.Snappy, nil
	case "lz4":
		return compress.Lz4, nil
	case "zstd":
		return compress.Zstd, nil
	default:
		return 0, fmt.Errorf("invalid compression type: %s", name)
	}
}

// Start starts the sink.
func (s *KafkaSink) Start(ctx context.Context) error {
	slog.Info("kafka sink started",
		"brokers", s.config.Brokers,
		"topic", s.config.Topic,
		"batch_size", s.config.BatchSize,
		"batch_timeout", s.config.BatchTimeout,
		"compression", s.config.Compression,
	)
	return nil
}

// Stop closes the writer, flushing pending messages.
func (s *KafkaSink) Stop(ctx context.Context) error {
	if s.writer != nil {
		if err := s.writer.Close(); err != nil {
			slog.Error("error closing kafka writer", "error", err)
			return err
		}
	}

	slog.Info("kafka sink stopped",
		"total_emitted", s.emittedCount.Load(),
		"total_errors", s.errorCount.Load(),
	)
	return nil
}

// Emit sends one edge to Kafka.
func (s *KafkaSink) Emit(ctx context.Context, edge *core.OutputEdge) error {
	if edge == nil {
		return fmt.Errorf("nil edge")
	}

	msg, err := buildMessage(edge)
	if err != nil {
		s.errorCount.Add(1)
		return err
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.errorCount.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}

	s.emittedCount.Add(1)
	return nil
}

// buildMessage keys records by stream and line and copies labels into headers.
func buildMessage(edge *core.OutputEdge) (kafka.Message, error) {
	value, err := json.Marshal(plugin.NewEdgeRecord(edge))
	if err != nil {
		return kafka.Message{}, fmt.Errorf("serialize edge failed: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(string(edge.Edge.StreamID) + ":" + strconv.Itoa(edge.Edge.Line)),
		Value: value,
		Time:  edge.Timestamp,
	}
	if len(edge.Labels) > 0 {
		msg.Headers = make([]kafka.Header, 0, len(edge.Labels))
		for k, v := range edge.Labels {
			msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
		}
	}
	return msg, nil
}

// Flush is a no-op; kafka.Writer flushes on BatchSize/BatchTimeout and on Close.
func (s *KafkaSink) Flush(ctx context.Context) error {
	return nil
}
