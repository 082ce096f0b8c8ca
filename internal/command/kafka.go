package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"firestige.xyz/ttlbridge/internal/config"
	"firestige.xyz/ttlbridge/internal/metrics"
)

// Defaults for the Kafka command channel.
const (
	DefaultCommandTTL = 5 * time.Minute
	minFetchBackoff   = 500 * time.Millisecond
	maxFetchBackoff   = 30 * time.Second
)

// KafkaCommand is one bridge command published on the command topic.
//
//	{
//	  "version":    "v1",
//	  "target":     "rig-01",
//	  "command":    "stim_set",
//	  "timestamp":  "2026-03-01T10:30:00Z",
//	  "request_id": "req-abc-123",
//	  "payload":    {"enabled": false}
//	}
type KafkaCommand struct {
	Version   string          `json:"version"`
	Target    string          `json:"target"` // see Targets.Match
	Command   string          `json:"command"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

// Targets holds the names a bridge answers to on a shared command topic.
type Targets struct {
	NodeID   string
	Hostname string
}

// Match reports whether a command addressed to target reaches this bridge.
// An empty target and "*" address every bridge. A target may list several
// names separated by commas; hostnames compare case-insensitively.
func (t Targets) Match(target string) bool {
	target = strings.TrimSpace(target)
	if target == "" || target == "*" {
		return true
	}
	for name := range strings.SplitSeq(target, ",") {
		name = strings.TrimSpace(name)
		if name == "*" {
			return true
		}
		if name != "" && (name == t.NodeID || (t.Hostname != "" && strings.EqualFold(name, t.Hostname))) {
			return true
		}
	}
	return false
}

// verdict says what the consumer does with one message.
type verdict int

const (
	verdictRun verdict = iota
	verdictMalformed
	verdictElsewhere
	verdictStale
)

func (v verdict) String() string {
	switch v {
	case verdictRun:
		return "run"
	case verdictMalformed:
		return "malformed"
	case verdictElsewhere:
		return "elsewhere"
	case verdictStale:
		return "stale"
	}
	return "unknown"
}

// route decodes a message value and decides whether this bridge runs it.
func route(value []byte, targets Targets, ttl time.Duration, now time.Time) (KafkaCommand, verdict) {
	var kc KafkaCommand
	if err := json.Unmarshal(value, &kc); err != nil || kc.Command == "" {
		return kc, verdictMalformed
	}
	if !targets.Match(kc.Target) {
		return kc, verdictElsewhere
	}
	if !kc.Timestamp.IsZero() && now.Sub(kc.Timestamp) > ttl {
		return kc, verdictStale
	}
	return kc, verdictRun
}

// KafkaCommandConsumer runs bridge commands read from a Kafka topic. Every
// message is committed once handled, including the ones it skips.
type KafkaCommandConsumer struct {
	kc      config.KafkaCommandConfig
	targets Targets
	reader  messageReader
	handler *CommandHandler
	ttl     time.Duration
	now     func() time.Time
}

// messageReader is the subset of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// readerConfig validates kc and builds the consumer group reader settings.
func readerConfig(kc config.KafkaCommandConfig) (kafka.ReaderConfig, time.Duration, error) {
	switch {
	case len(kc.Brokers) == 0:
		return kafka.ReaderConfig{}, 0, errors.New("kafka commands: brokers is required")
	case kc.Topic == "":
		return kafka.ReaderConfig{}, 0, errors.New("kafka commands: topic is required")
	case kc.GroupID == "":
		return kafka.ReaderConfig{}, 0, errors.New("kafka commands: group_id is required")
	}

	ttl := DefaultCommandTTL
	if kc.CommandTTL != "" {
		d, err := time.ParseDuration(kc.CommandTTL)
		if err != nil || d <= 0 {
			return kafka.ReaderConfig{}, 0, fmt.Errorf("kafka commands: invalid command_ttl %q", kc.CommandTTL)
		}
		ttl = d
	}

	var start int64
	switch kc.AutoOffsetReset {
	case "", "latest":
		start = kafka.LastOffset
	case "earliest":
		start = kafka.FirstOffset
	default:
		return kafka.ReaderConfig{}, 0, fmt.Errorf("kafka commands: invalid auto_offset_reset %q", kc.AutoOffsetReset)
	}

	// commands are tiny and latency matters more than batching
	return kafka.ReaderConfig{
		Brokers:        kc.Brokers,
		Topic:          kc.Topic,
		GroupID:        kc.GroupID,
		StartOffset:    start,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0,
	}, ttl, nil
}

// NewKafkaCommandConsumer creates a consumer for the bridge named by targets.
func NewKafkaCommandConsumer(kc config.KafkaCommandConfig, targets Targets, handler *CommandHandler) (*KafkaCommandConsumer, error) {
	rc, ttl, err := readerConfig(kc)
	if err != nil {
		return nil, err
	}
	return &KafkaCommandConsumer{
		kc:      kc,
		targets: targets,
		reader:  kafka.NewReader(rc),
		handler: handler,
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// Start consumes until ctx is done. Fetch failures back off exponentially
// up to maxFetchBackoff.
func (c *KafkaCommandConsumer) Start(ctx context.Context) error {
	slog.Info("kafka command channel listening",
		"topic", c.kc.Topic,
		"group_id", c.kc.GroupID,
		"node_id", c.targets.NodeID,
		"hostname", c.targets.Hostname,
		"ttl", c.ttl,
	)

	backoff := minFetchBackoff
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("kafka command channel stopped", "reason", ctx.Err())
				return ctx.Err()
			}
			slog.Warn("kafka command fetch failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxFetchBackoff)
			continue
		}
		backoff = minFetchBackoff

		c.dispatch(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			slog.Warn("kafka command commit failed", "offset", msg.Offset, "error", err)
		}
	}
}

// dispatch routes one message and runs it when addressed here.
func (c *KafkaCommandConsumer) dispatch(ctx context.Context, msg kafka.Message) {
	kc, v := route(msg.Value, c.targets, c.ttl, c.now())
	log := slog.With("partition", msg.Partition, "offset", msg.Offset, "request_id", kc.RequestID)

	switch v {
	case verdictMalformed:
		countCommand(metrics.ChannelKafka, "", "bad_request")
		log.Warn("dropping malformed kafka command")
		return
	case verdictElsewhere:
		log.Debug("kafka command addressed to another bridge", "target", kc.Target)
		return
	case verdictStale:
		countCommand(metrics.ChannelKafka, kc.Command, "stale")
		log.Warn("dropping stale kafka command",
			"method", kc.Command,
			"issued", kc.Timestamp,
			"ttl", c.ttl,
		)
		return
	}

	resp := serve(ctx, c.handler, metrics.ChannelKafka, Command{
		Method: kc.Command,
		Params: kc.Payload,
		ID:     kc.RequestID,
	})
	if resp.Error != nil {
		log.Warn("kafka command rejected",
			"method", kc.Command,
			"code", resp.Error.Code,
			"message", resp.Error.Message,
		)
		return
	}
	log.Info("kafka command applied", "method", kc.Command)
}

// Stop closes the reader. Safe to call more than once.
func (c *KafkaCommandConsumer) Stop() error {
	reader := c.reader
	if reader == nil {
		return nil
	}
	c.reader = nil
	if err := reader.Close(); err != nil {
		return fmt.Errorf("close kafka command reader: %w", err)
	}
	return nil
}
