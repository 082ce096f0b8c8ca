package plugin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/ttlbridge/internal/core"
)

type testOptions struct {
	Brokers []string      `mapstructure:"brokers"`
	Size    int           `mapstructure:"size"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retain  bool          `mapstructure:"retain"`
}

func TestDecodeOptions(t *testing.T) {
	var opts testOptions
	err := DecodeOptions(map[string]any{
		"brokers": []any{"a:9092", "b:9092"},
		"size":    "42",
		"timeout": "250ms",
		"retain":  1,
	}, &opts)

	require.NoError(t, err)
	assert.Equal(t, testOptions{
		Brokers: []string{"a:9092", "b:9092"},
		Size:    42,
		Timeout: 250 * time.Millisecond,
		Retain:  true,
	}, opts)
}

func TestDecodeOptionsRejectsUnknownKeys(t *testing.T) {
	var opts testOptions
	err := DecodeOptions(map[string]any{"sise": 1}, &opts)
	assert.Error(t, err)
}

func TestDecodeOptionsNil(t *testing.T) {
	opts := testOptions{Size: 7}
	require.NoError(t, DecodeOptions(nil, &opts))
	assert.Equal(t, 7, opts.Size)
}

func TestNewEdgeRecord(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	out := core.NewOutputEdge("rig", ts, core.PulseEdge{StreamID: "s0", SampleNumber: 1500, Offset: 500, Line: 2})

	rec := NewEdgeRecord(&out)

	assert.Equal(t, "rig", rec.NodeID)
	assert.Equal(t, int64(1700000000123), rec.Timestamp)
	assert.Equal(t, "s0", rec.Stream)
	assert.Equal(t, int64(1500), rec.SampleNumber)
	assert.Equal(t, 500, rec.Offset)
	assert.Equal(t, core.EdgeFalling, rec.Edge)
	assert.Equal(t, "2", rec.Labels[core.LabelLine])
}
