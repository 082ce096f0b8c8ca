// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"firestige.xyz/ttlbridge/internal/core"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `ttlbridge:` root key in YAML.
type GlobalConfig struct {
	Node    NodeConfig    `mapstructure:"node" yaml:"node"`
	Control ControlConfig `mapstructure:"control" yaml:"control"`
	OSC     OSCConfig     `mapstructure:"osc" yaml:"osc"`
	Pulse   PulseConfig   `mapstructure:"pulse" yaml:"pulse"`
	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
	Sinks   []SinkConfig  `mapstructure:"sinks" yaml:"sinks"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// ─── Node Identity ───

// NodeConfig contains node identification settings.
type NodeConfig struct {
	ID       string `mapstructure:"id" yaml:"id"`             // Empty = random UUID
	Hostname string `mapstructure:"hostname" yaml:"hostname"` // Empty = os.Hostname()
}

// ─── Control Plane ───

// ControlConfig contains control plane settings.
type ControlConfig struct {
	Socket  string             `mapstructure:"socket" yaml:"socket"`
	PIDFile string             `mapstructure:"pid_file" yaml:"pid_file"`
	Kafka   KafkaCommandConfig `mapstructure:"kafka" yaml:"kafka"`
}

// KafkaCommandConfig configures the optional remote command channel.
// Commands use the same method names as the local socket.
type KafkaCommandConfig struct {
	Enabled         bool     `mapstructure:"enabled" yaml:"enabled"`
	Brokers         []string `mapstructure:"brokers" yaml:"brokers"`
	Topic           string   `mapstructure:"topic" yaml:"topic"`
	GroupID         string   `mapstructure:"group_id" yaml:"group_id"`
	AutoOffsetReset string   `mapstructure:"auto_offset_reset" yaml:"auto_offset_reset"` // earliest / latest
	CommandTTL      string   `mapstructure:"command_ttl" yaml:"command_ttl"`             // stale command cutoff, e.g. "5m"
}

// ─── Trigger Input ───

// OSCConfig configures the trigger listener.
type OSCConfig struct {
	Address string `mapstructure:"address" yaml:"address"` // bind address
	Port    int    `mapstructure:"port" yaml:"port"`
	Pattern string `mapstructure:"pattern" yaml:"pattern"` // accepted OSC address, case-insensitive
	// Startup bind walks upward from Port while ports are busy.
	MaxPort     int `mapstructure:"max_port" yaml:"max_port"`
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"` // 0 = until MaxPort
}

// PulseConfig configures pulse generation.
type PulseConfig struct {
	DurationMs int  `mapstructure:"duration_ms" yaml:"duration_ms"` // 0 = pass literal state through
	Enabled    bool `mapstructure:"enabled" yaml:"enabled"`
}

// ─── Engine ───

// EngineConfig configures the cycle loop.
type EngineConfig struct {
	CyclePeriod    string         `mapstructure:"cycle_period" yaml:"cycle_period"` // e.g. "10ms"
	AutoStart      bool           `mapstructure:"auto_start" yaml:"auto_start"`
	DispatchBuffer int            `mapstructure:"dispatch_buffer" yaml:"dispatch_buffer"`
	Streams        []StreamConfig `mapstructure:"streams" yaml:"streams"`
}

// StreamConfig describes one data stream.
type StreamConfig struct {
	ID         string  `mapstructure:"id" yaml:"id"`
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// CyclePeriodDuration returns the parsed cycle period. Only valid after
// ValidateAndApplyDefaults.
func (e EngineConfig) CyclePeriodDuration() time.Duration {
	d, _ := time.ParseDuration(e.CyclePeriod)
	return d
}

// ─── Sinks ───

// SinkConfig selects a sink plugin by type; Options are passed to its Init.
type SinkConfig struct {
	Type    string         `mapstructure:"type" yaml:"type"`
	Options map[string]any `mapstructure:"options" yaml:"options,omitempty"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`   // MB
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"` // Days
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `ttlbridge: ...`.
type configRoot struct {
	TTLBridge GlobalConfig `mapstructure:"ttlbridge" yaml:"ttlbridge"`
}

// Load loads configuration from file.
// The YAML file uses `ttlbridge:` as root key; env vars use the TTLBRIDGE_ prefix
// (e.g., TTLBRIDGE_OSC_PORT).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Key "ttlbridge.osc.port" maps to env "TTLBRIDGE_OSC_PORT".
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.TTLBridge

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "ttlbridge." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Control defaults
	v.SetDefault("ttlbridge.control.pid_file", "/var/run/ttlbridge.pid")
	v.SetDefault("ttlbridge.control.socket", "/var/run/ttlbridge.sock")
	v.SetDefault("ttlbridge.control.kafka.enabled", false)
	v.SetDefault("ttlbridge.control.kafka.topic", "ttlbridge-commands")
	v.SetDefault("ttlbridge.control.kafka.auto_offset_reset", "latest")
	v.SetDefault("ttlbridge.control.kafka.command_ttl", "5m")

	// Trigger input defaults
	v.SetDefault("ttlbridge.osc.address", core.DefaultAddress)
	v.SetDefault("ttlbridge.osc.port", core.DefaultPort)
	v.SetDefault("ttlbridge.osc.pattern", core.DefaultPattern)
	v.SetDefault("ttlbridge.osc.max_port", core.MaxPort)
	v.SetDefault("ttlbridge.osc.max_attempts", 0)

	// Pulse defaults
	v.SetDefault("ttlbridge.pulse.duration_ms", core.DefaultDurationMs)
	v.SetDefault("ttlbridge.pulse.enabled", true)

	// Engine defaults
	v.SetDefault("ttlbridge.engine.cycle_period", "10ms")
	v.SetDefault("ttlbridge.engine.auto_start", true)
	v.SetDefault("ttlbridge.engine.dispatch_buffer", 4096)

	// Log defaults
	v.SetDefault("ttlbridge.log.level", "info")
	v.SetDefault("ttlbridge.log.format", "json")
	v.SetDefault("ttlbridge.log.outputs.file.enabled", false)
	v.SetDefault("ttlbridge.log.outputs.file.path", "/var/log/ttlbridge/ttlbridge.log")
	v.SetDefault("ttlbridge.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("ttlbridge.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("ttlbridge.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("ttlbridge.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("ttlbridge.metrics.enabled", true)
	v.SetDefault("ttlbridge.metrics.listen", ":9091")
	v.SetDefault("ttlbridge.metrics.path", "/metrics")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: invalid log format: %s (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}

	// ── Node identity ──
	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}
	if cfg.Node.ID == "" {
		cfg.Node.ID = uuid.NewString()
	}

	// ── Remote command channel ──
	if kc := cfg.Control.Kafka; kc.Enabled {
		if len(kc.Brokers) == 0 || kc.Topic == "" || kc.GroupID == "" {
			return fmt.Errorf("%w: control.kafka requires brokers, topic and group_id", core.ErrConfigInvalid)
		}
		if _, err := time.ParseDuration(kc.CommandTTL); err != nil {
			return fmt.Errorf("%w: control.kafka.command_ttl %q: %v", core.ErrConfigInvalid, kc.CommandTTL, err)
		}
	}

	// ── Trigger input ──
	if cfg.OSC.Port < core.MinPort || cfg.OSC.Port > core.MaxPort {
		return fmt.Errorf("%w: osc.port %d outside [%d, %d]", core.ErrConfigInvalid, cfg.OSC.Port, core.MinPort, core.MaxPort)
	}
	if cfg.OSC.MaxPort < cfg.OSC.Port || cfg.OSC.MaxPort > core.MaxPort {
		return fmt.Errorf("%w: osc.max_port %d outside [%d, %d]", core.ErrConfigInvalid, cfg.OSC.MaxPort, cfg.OSC.Port, core.MaxPort)
	}
	if cfg.OSC.MaxAttempts < 0 {
		return fmt.Errorf("%w: osc.max_attempts must not be negative", core.ErrConfigInvalid)
	}
	if !strings.HasPrefix(cfg.OSC.Pattern, "/") {
		return fmt.Errorf("%w: osc.pattern %q must start with '/'", core.ErrConfigInvalid, cfg.OSC.Pattern)
	}

	// ── Pulse ──
	if cfg.Pulse.DurationMs < 0 || cfg.Pulse.DurationMs > core.MaxPulseDurationMs {
		return fmt.Errorf("%w: pulse.duration_ms %d outside [0, %d]", core.ErrConfigInvalid, cfg.Pulse.DurationMs, core.MaxPulseDurationMs)
	}

	// ── Engine ──
	period, err := time.ParseDuration(cfg.Engine.CyclePeriod)
	if err != nil || period <= 0 {
		return fmt.Errorf("%w: engine.cycle_period %q is not a positive duration", core.ErrConfigInvalid, cfg.Engine.CyclePeriod)
	}
	if cfg.Engine.DispatchBuffer <= 0 {
		return fmt.Errorf("%w: engine.dispatch_buffer must be positive", core.ErrConfigInvalid)
	}
	if len(cfg.Engine.Streams) == 0 {
		cfg.Engine.Streams = []StreamConfig{{ID: "default", SampleRate: 30000}}
	}
	seen := make(map[string]bool, len(cfg.Engine.Streams))
	for i, s := range cfg.Engine.Streams {
		if s.ID == "" {
			return fmt.Errorf("%w: engine.streams[%d].id is required", core.ErrConfigInvalid, i)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate stream id %q", core.ErrConfigInvalid, s.ID)
		}
		seen[s.ID] = true
		if s.SampleRate <= 0 {
			return fmt.Errorf("%w: stream %q sample_rate must be positive", core.ErrConfigInvalid, s.ID)
		}
	}

	// ── Sinks ──
	for i, s := range cfg.Sinks {
		if s.Type == "" {
			return fmt.Errorf("%w: sinks[%d].type is required", core.ErrConfigInvalid, i)
		}
	}

	return nil
}

// Marshal renders cfg as YAML under the `ttlbridge:` root key.
func Marshal(cfg *GlobalConfig) ([]byte, error) {
	data, err := yaml.Marshal(configRoot{TTLBridge: *cfg})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
