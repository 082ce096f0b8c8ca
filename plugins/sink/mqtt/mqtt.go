// Package mqtt implements the MQTT sink plugin.
// Publishes one JSON record per edge to <topic_prefix>/<stream>/<line>.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"firestige.xyz/ttlbridge/internal/core"
	"firestige.xyz/ttlbridge/pkg/plugin"
)

const (
	defaultTopicPrefix    = "ttlbridge/edges"
	defaultConnectTimeout = 5 * time.Second
	defaultPublishTimeout = 2 * time.Second
)

// publisher is the subset of paho.Client used by the sink.
type publisher interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes edges to an MQTT broker.
type MQTTSink struct {
	name      string
	config    Config
	client    publisher
	connected atomic.Bool

	// newClient is replaced in tests.
	newClient func(opts *paho.ClientOptions) publisher

	emittedCount atomic.Uint64
	errorCount   atomic.Uint64
}

// Config represents MQTT sink configuration.
type Config struct {
	Broker         string        `mapstructure:"broker"`          // required, e.g. tcp://localhost:1883
	ClientID       string        `mapstructure:"client_id"`       // optional, default ttlbridge-<uuid>
	TopicPrefix    string        `mapstructure:"topic_prefix"`    // optional, default ttlbridge/edges
	QoS            int           `mapstructure:"qos"`             // optional, 0..2
	Retained       bool          `mapstructure:"retained"`        // optional
	Username       string        `mapstructure:"username"`        // optional
	Password       string        `mapstructure:"password"`        // optional
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"` // optional, default 5s
	PublishTimeout time.Duration `mapstructure:"publish_timeout"` // optional, default 2s
}

// NewMQTTSink creates a new MQTT sink.
func NewMQTTSink() plugin.Sink {
	return &MQTTSink{
		name: "mqtt",
		newClient: func(opts *paho.ClientOptions) publisher {
			return paho.NewClient(opts)
		},
	}
}

// Name returns the plugin name.
func (s *MQTTSink) Name() string {
	return s.name
}

// Init initializes the sink with configuration.
func (s *MQTTSink) Init(cfg map[string]any) error {
	c := Config{
		TopicPrefix:    defaultTopicPrefix,
		ConnectTimeout: defaultConnectTimeout,
		PublishTimeout: defaultPublishTimeout,
	}
	if err := plugin.DecodeOptions(cfg, &c); err != nil {
		return err
	}
	if c.Broker == "" {
		return fmt.Errorf("broker is required")
	}
	if c.QoS < 0 || c.QoS > 2 {
		return fmt.Errorf("invalid qos %d, must be 0, 1 or 2", c.QoS)
	}
	if c.ClientID == "" {
		c.ClientID = "ttlbridge-" + uuid.NewString()
	}
	s.config = c
	return nil
}

// Start connects to the broker. The client reconnects on its own afterwards.
func (s *MQTTSink) Start(ctx context.Context) error {
	opts := paho.NewClientOptions().
		AddBroker(s.config.Broker).
		SetClientID(s.config.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetMaxReconnectInterval(30 * time.Second)
	if s.config.Username != "" {
		opts.SetUsername(s.config.Username)
		opts.SetPassword(s.config.Password)
	}

	opts.OnConnect = func(c paho.Client) {
		s.connected.Store(true)
		slog.Info("mqtt connection established", "broker", s.config.Broker, "client_id", s.config.ClientID)
	}
	opts.OnConnectionLost = func(c paho.Client, err error) {
		s.connected.Store(false)
		slog.Warn("mqtt connection lost, will auto-reconnect", "broker", s.config.Broker, "error", err)
	}

	s.client = s.newClient(opts)

	token := s.client.Connect()
	if !token.WaitTimeout(s.config.ConnectTimeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	s.connected.Store(true)

	slog.Info("mqtt sink started", "broker", s.config.Broker, "topic_prefix", s.config.TopicPrefix, "qos", s.config.QoS)
	return nil
}

// Stop disconnects from the broker.
func (s *MQTTSink) Stop(ctx context.Context) error {
	if s.client != nil {
		s.client.Disconnect(250)
	}
	s.connected.Store(false)
	slog.Info("mqtt sink stopped",
		"total_emitted", s.emittedCount.Load(),
		"total_errors", s.errorCount.Load(),
	)
	return nil
}

// Emit publishes one edge.
func (s *MQTTSink) Emit(ctx context.Context, edge *core.OutputEdge) error {
	if edge == nil {
		return fmt.Errorf("nil edge")
	}
	if s.client == nil || !s.connected.Load() {
		s.errorCount.Add(1)
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(plugin.NewEdgeRecord(edge))
	if err != nil {
		s.errorCount.Add(1)
		return fmt.Errorf("serialize edge failed: %w", err)
	}

	topic := s.Topic(edge.Edge)
	token := s.client.Publish(topic, byte(s.config.QoS), s.config.Retained, payload)
	if !token.WaitTimeout(s.config.PublishTimeout) {
		s.errorCount.Add(1)
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		s.errorCount.Add(1)
		return fmt.Errorf("publish failed: %w", err)
	}

	s.emittedCount.Add(1)
	return nil
}

// Topic returns the topic an edge is published to.
func (s *MQTTSink) Topic(e core.PulseEdge) string {
	return s.config.TopicPrefix + "/" + string(e.StreamID) + "/" + strconv.Itoa(e.Line)
}

// Flush is a no-op; publishes are acknowledged individually.
func (s *MQTTSink) Flush(ctx context.Context) error {
	return nil
}
