package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/ttlbridge/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "ttlbridge:\n  node:\n    hostname: bench-01\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bench-01", cfg.Node.Hostname)
	assert.NotEmpty(t, cfg.Node.ID)
	assert.Equal(t, core.DefaultAddress, cfg.OSC.Address)
	assert.Equal(t, core.DefaultPort, cfg.OSC.Port)
	assert.Equal(t, core.DefaultPattern, cfg.OSC.Pattern)
	assert.Equal(t, core.MaxPort, cfg.OSC.MaxPort)
	assert.Equal(t, core.DefaultDurationMs, cfg.Pulse.DurationMs)
	assert.True(t, cfg.Pulse.Enabled)
	assert.Equal(t, 10*time.Millisecond, cfg.Engine.CyclePeriodDuration())
	assert.Equal(t, 4096, cfg.Engine.DispatchBuffer)
	require.Len(t, cfg.Engine.Streams, 1)
	assert.Equal(t, "default", cfg.Engine.Streams[0].ID)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":9091", cfg.Metrics.Listen)
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
ttlbridge:
  node:
    id: rig-a
    hostname: bench-01
  osc:
    port: 30000
    pattern: /Stim
  pulse:
    duration_ms: 0
    enabled: false
  engine:
    cycle_period: 5ms
    streams:
      - id: stream-a
        sample_rate: 30000
      - id: aux
        sample_rate: 2500
  sinks:
    - type: console
      options:
        format: text
  log:
    level: debug
    format: text
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "rig-a", cfg.Node.ID)
	assert.Equal(t, 30000, cfg.OSC.Port)
	assert.Equal(t, "/Stim", cfg.OSC.Pattern)
	assert.Equal(t, 0, cfg.Pulse.DurationMs)
	assert.False(t, cfg.Pulse.Enabled)
	assert.Equal(t, 5*time.Millisecond, cfg.Engine.CyclePeriodDuration())
	require.Len(t, cfg.Engine.Streams, 2)
	assert.Equal(t, 2500.0, cfg.Engine.Streams[1].SampleRate)
	require.Len(t, cfg.Sinks, 1)
	assert.Equal(t, "console", cfg.Sinks[0].Type)
	assert.Equal(t, "text", cfg.Sinks[0].Options["format"])
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, "ttlbridge:\n  osc:\n    port: 30000\n")
	t.Setenv("TTLBRIDGE_OSC_PORT", "31000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 31000, cfg.OSC.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"port below range", "ttlbridge:\n  osc:\n    port: 80\n"},
		{"port above range", "ttlbridge:\n  osc:\n    port: 50000\n"},
		{"pattern without slash", "ttlbridge:\n  osc:\n    pattern: ttl\n"},
		{"duration too long", "ttlbridge:\n  pulse:\n    duration_ms: 6000\n"},
		{"negative duration", "ttlbridge:\n  pulse:\n    duration_ms: -1\n"},
		{"bad cycle period", "ttlbridge:\n  engine:\n    cycle_period: soon\n"},
		{"bad log level", "ttlbridge:\n  log:\n    level: loud\n"},
		{"bad log format", "ttlbridge:\n  log:\n    format: xml\n"},
		{"stream without rate", "ttlbridge:\n  engine:\n    streams:\n      - id: a\n"},
		{"duplicate stream", "ttlbridge:\n  engine:\n    streams:\n      - {id: a, sample_rate: 1}\n      - {id: a, sample_rate: 1}\n"},
		{"sink without type", "ttlbridge:\n  sinks:\n    - options: {}\n"},
		{"kafka commands without brokers", "ttlbridge:\n  control:\n    kafka:\n      enabled: true\n      group_id: g\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestValidate_ErrorIsConfigInvalid(t *testing.T) {
	cfg := GlobalConfig{
		Log:    LogConfig{Level: "info", Format: "json"},
		Node:   NodeConfig{Hostname: "h"},
		OSC:    OSCConfig{Port: 10, MaxPort: core.MaxPort, Pattern: "/ttl"},
		Engine: EngineConfig{CyclePeriod: "10ms", DispatchBuffer: 1},
	}
	err := cfg.ValidateAndApplyDefaults()
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestMarshal_RoundTrip(t *testing.T) {
	path := writeConfig(t, "ttlbridge:\n  node:\n    id: rig-a\n    hostname: h\n  osc:\n    port: 30001\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	data, err := Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ttlbridge:")
	assert.Contains(t, string(data), "port: 30001")

	again, err := Load(writeConfig(t, string(data)))
	require.NoError(t, err)
	assert.Equal(t, cfg.OSC, again.OSC)
	assert.Equal(t, cfg.Node, again.Node)
}

func TestWatcher_FiresOnWrite(t *testing.T) {
	path := writeConfig(t, "ttlbridge: {}\n")

	var calls atomic.Int32
	w, err := NewWatcher(path, 20*time.Millisecond, func() { calls.Add(1) })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("ttlbridge:\n  osc:\n    port: 30000\n"), 0644))

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_IgnoresSiblings(t *testing.T) {
	path := writeConfig(t, "ttlbridge: {}\n")

	var calls atomic.Int32
	w, err := NewWatcher(path, 20*time.Millisecond, func() { calls.Add(1) })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.yml"), []byte("x"), 0644))
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestWatcher_CloseTwice(t *testing.T) {
	w, err := NewWatcher(writeConfig(t, "ttlbridge: {}\n"), 0, func() {})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
