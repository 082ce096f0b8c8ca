package osc

import (
	"errors"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/ttlbridge/internal/core"
)

func encode(t *testing.T, p osc.Packet) []byte {
	t.Helper()
	data, err := p.MarshalBinary()
	require.NoError(t, err)
	return data
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name      string
		msg       *osc.Message
		wantLine  int
		wantState bool
		wantErr   error
	}{
		{"line and bool", osc.NewMessage("/ttl", int32(3), true), 3, true, nil},
		{"line and false", osc.NewMessage("/ttl", int32(2), false), 2, false, nil},
		{"state defaults true", osc.NewMessage("/ttl", int32(7)), 7, true, nil},
		{"int state zero", osc.NewMessage("/ttl", int32(1), int32(0)), 1, false, nil},
		{"int state nonzero", osc.NewMessage("/ttl", int32(1), int32(5)), 1, true, nil},
		{"int64 line", osc.NewMessage("/ttl", int64(4), int64(1)), 4, true, nil},
		{"case insensitive", osc.NewMessage("/TTL", int32(0)), 0, true, nil},
		{"mismatch", osc.NewMessage("/other", int32(1)), 0, false, ErrAddressMismatch},
		{"prefix is not a match", osc.NewMessage("/ttl/extra", int32(1)), 0, false, ErrAddressMismatch},
		{"no arguments", osc.NewMessage("/ttl"), 0, false, core.ErrInvalidTrigger},
		{"negative line", osc.NewMessage("/ttl", int32(-2), true), 0, false, core.ErrInvalidTrigger},
		{"float line", osc.NewMessage("/ttl", float32(1.5)), 0, false, core.ErrDecodeFailure},
		{"string state", osc.NewMessage("/ttl", int32(1), "on"), 0, false, core.ErrDecodeFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trig, err := Extract(tt.msg, "/ttl")
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLine, trig.Line())
			assert.Equal(t, tt.wantState, trig.State())
		})
	}
}

func TestDecodeMessage(t *testing.T) {
	msgs, err := Decode(encode(t, osc.NewMessage("/ttl", int32(1), true)))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "/ttl", msgs[0].Address)
}

func TestDecodeFlattensBundles(t *testing.T) {
	inner := osc.NewBundle(time.Now())
	require.NoError(t, inner.Append(osc.NewMessage("/ttl", int32(3))))

	outer := osc.NewBundle(time.Now())
	require.NoError(t, outer.Append(osc.NewMessage("/ttl", int32(1))))
	require.NoError(t, outer.Append(osc.NewMessage("/ttl", int32(2))))
	require.NoError(t, outer.Append(inner))

	outcomes, err := Parse(encode(t, outer), "/ttl")
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	for i, o := range outcomes {
		require.NoError(t, o.Err)
		assert.Equal(t, i+1, o.Trigger.Line())
	}
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x02, 0x03})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrDecodeFailure))
}

func TestParseMixedOutcomes(t *testing.T) {
	b := osc.NewBundle(time.Now())
	require.NoError(t, b.Append(osc.NewMessage("/ttl", int32(1))))
	require.NoError(t, b.Append(osc.NewMessage("/noise", int32(1))))
	require.NoError(t, b.Append(osc.NewMessage("/ttl", int32(-1))))

	outcomes, err := Parse(encode(t, b), "/ttl")
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.NoError(t, outcomes[0].Err)
	assert.ErrorIs(t, outcomes[1].Err, ErrAddressMismatch)
	assert.ErrorIs(t, outcomes[2].Err, core.ErrInvalidTrigger)
}

func TestNewTriggerMessageRoundTrip(t *testing.T) {
	outcomes, err := Parse(encode(t, NewTriggerMessage("/ttl", 6, false)), "/ttl")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, 6, outcomes[0].Trigger.Line())
	assert.False(t, outcomes[0].Trigger.State())
}
