package node

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/ttlbridge/internal/core"
	ttlosc "firestige.xyz/ttlbridge/internal/osc"
)

type acquiring struct{ on atomic.Bool }

func (a *acquiring) IsAcquiring() bool { return a.on.Load() }

type warnings struct {
	mu   sync.Mutex
	msgs []string
}

func (w *warnings) Notify(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msg)
}

func (w *warnings) list() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.msgs...)
}

type bufferHost struct {
	start  int64
	length int
	rate   float64
	events []core.PulseEdge
}

func (h *bufferHost) Streams() []core.StreamID { return []core.StreamID{"s0"} }
func (h *bufferHost) FirstSampleNumber(core.StreamID) int64 { return h.start }
func (h *bufferHost) SampleCount(core.StreamID) int { return h.length }
func (h *bufferHost) SampleRate(core.StreamID) float64 { return h.rate }
func (h *bufferHost) AddEvent(e core.PulseEdge, offset int) { h.events = append(h.events, e) }

func testSettings() Settings {
	s := DefaultSettings()
	s.Address = "127.0.0.1"
	s.Port = 40000
	return s
}

func newNode(t *testing.T, s Settings) (*Node, *acquiring, *warnings) {
	t.Helper()
	w := &warnings{}
	n, err := New(Config{Settings: s, Notifier: w, Retry: ttlosc.RetryPolicy{MaxAttempts: 200}})
	require.NoError(t, err)
	a := &acquiring{}
	n.SetAcquisitionStatus(a)
	t.Cleanup(n.Close)
	return n, a, w
}

func trig(t *testing.T, line int, state bool) core.TriggerMessage {
	t.Helper()
	m, err := core.NewTriggerMessage(line, state)
	require.NoError(t, err)
	return m
}

func send(t *testing.T, port int, m *osc.Message) {
	t.Helper()
	data, err := m.MarshalBinary()
	require.NoError(t, err)
	conn, err := net.Dial("udp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(data)
	require.NoError(t, err)
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"port too low", func(s *Settings) { s.Port = 80 }},
		{"port too high", func(s *Settings) { s.Port = 50000 }},
		{"duration negative", func(s *Settings) { s.DurationMs = -1 }},
		{"duration too long", func(s *Settings) { s.DurationMs = 5001 }},
		{"pattern without slash", func(s *Settings) { s.Pattern = "ttl" }},
		{"bad address", func(s *Settings) { s.Address = "not-an-ip" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			_, err := New(Config{Settings: s})
			assert.ErrorIs(t, err, core.ErrConfigInvalid)
		})
	}
}

func TestReceiveMessageGatedByAcquisition(t *testing.T) {
	n, acq, _ := newNode(t, testSettings())

	n.ReceiveMessage(trig(t, 1, true))
	assert.Equal(t, 0, n.Status().QueueDepth)

	acq.on.Store(true)
	n.ReceiveMessage(trig(t, 1, true))
	assert.Equal(t, 1, n.Status().QueueDepth)
}

func TestReceiveMessageWithoutStatusCollaborator(t *testing.T) {
	n, err := New(Config{Settings: testSettings()})
	require.NoError(t, err)
	n.ReceiveMessage(trig(t, 1, true))
	assert.Equal(t, 0, n.Status().QueueDepth)
}

func TestStartAcquisitionClearsState(t *testing.T) {
	n, acq, _ := newNode(t, testSettings())
	require.NoError(t, n.Open())
	acq.on.Store(true)

	n.ReceiveMessage(trig(t, 2, true))
	h := &bufferHost{length: 1000, rate: 30000}
	n.Process(h) // leaves a pending off at 1500
	n.ReceiveMessage(trig(t, 3, true))
	require.Equal(t, 1, n.Status().PendingOffs)
	require.Equal(t, 1, n.Status().QueueDepth)

	n.StartAcquisition()

	st := n.Status()
	assert.Equal(t, 0, st.QueueDepth)
	assert.Equal(t, 0, st.PendingOffs)
}

func TestProcessIsNoOpUntilBound(t *testing.T) {
	n, acq, _ := newNode(t, testSettings())
	acq.on.Store(true)
	n.ReceiveMessage(trig(t, 1, true))

	h := &bufferHost{length: 1000, rate: 30000}
	st := n.Process(h)
	assert.Zero(t, st.Drained)
	assert.Empty(t, h.events)
	assert.Equal(t, 1, n.Status().QueueDepth)

	require.NoError(t, n.Open())
	st = n.Process(h)
	assert.Equal(t, 1, st.Drained)
	assert.Len(t, h.events, 1)
}

func TestSetEnabledAndDuration(t *testing.T) {
	n, acq, _ := newNode(t, testSettings())
	require.NoError(t, n.Open())
	acq.on.Store(true)

	n.SetEnabled(false)
	n.ReceiveMessage(trig(t, 3, true))
	h := &bufferHost{length: 1000, rate: 30000}
	n.Process(h)
	assert.Empty(t, h.events)

	require.NoError(t, n.SetDuration(0))
	n.SetEnabled(true)
	n.Process(h)
	require.Len(t, h.events, 1)
	assert.Equal(t, core.PulseEdge{StreamID: "s0", Line: 3, Rising: true}, h.events[0])
	assert.Equal(t, 0, n.Status().PendingOffs)

	assert.ErrorIs(t, n.SetDuration(6000), core.ErrConfigInvalid)
	assert.Equal(t, 0, n.Settings().DurationMs)
}

func TestOpenPublishesEffectivePort(t *testing.T) {
	first, _, _ := newNode(t, testSettings())
	require.NoError(t, first.Open())
	busy := first.Settings().Port

	s := testSettings()
	s.Port = busy
	second, _, _ := newNode(t, s)
	require.NoError(t, second.Open())

	assert.Greater(t, second.Settings().Port, busy)
	assert.True(t, second.Status().Bound)
}

func TestSetPortFailureNotifies(t *testing.T) {
	first, _, _ := newNode(t, testSettings())
	require.NoError(t, first.Open())
	busy := first.Settings().Port

	s := testSettings()
	s.Port = busy + 1
	second, _, w := newNode(t, s)
	require.NoError(t, second.Open())

	err := second.SetPort(busy)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrBindFailure)

	st := second.Status()
	assert.False(t, st.Bound)
	assert.Equal(t, busy, st.Port)
	require.Len(t, w.list(), 1)
	assert.Contains(t, w.list()[0], strconv.Itoa(busy))
	assert.Equal(t, w.list()[0], st.LastWarning)
}

func TestSetPortValidatesRange(t *testing.T) {
	n, _, _ := newNode(t, testSettings())
	assert.ErrorIs(t, n.SetPort(1023), core.ErrConfigInvalid)
	assert.ErrorIs(t, n.SetPort(49152), core.ErrConfigInvalid)
}

func TestSetPatternRebuildsOnlyOnChange(t *testing.T) {
	n, _, _ := newNode(t, testSettings())
	require.NoError(t, n.Open())
	id := n.Status().ListenerID

	require.NoError(t, n.SetPattern("/TTL"))
	assert.Equal(t, id, n.Status().ListenerID)
	assert.Equal(t, "/ttl", n.Settings().Pattern)

	require.NoError(t, n.SetPattern("/stim"))
	assert.NotEqual(t, id, n.Status().ListenerID)
	assert.Equal(t, "/stim", n.Settings().Pattern)
	assert.True(t, n.Status().Bound)
}

func TestSetPortSameValueKeepsListener(t *testing.T) {
	n, _, _ := newNode(t, testSettings())
	require.NoError(t, n.Open())
	id := n.Status().ListenerID

	require.NoError(t, n.SetPort(n.Settings().Port))
	assert.Equal(t, id, n.Status().ListenerID)
}

func TestEndToEndOverUDP(t *testing.T) {
	s := testSettings()
	s.DurationMs = 50
	n, acq, _ := newNode(t, s)
	require.NoError(t, n.Open())
	acq.on.Store(true)

	send(t, n.Settings().Port, osc.NewMessage("/ttl", int32(2), false))
	require.Eventually(t, func() bool { return n.Status().QueueDepth == 1 }, 2*time.Second, 10*time.Millisecond)

	h := &bufferHost{length: 1000, rate: 30000}
	n.Process(h)
	require.Len(t, h.events, 1)
	assert.True(t, h.events[0].Rising)

	h.start += 1000
	h.events = nil
	n.Process(h)
	require.Len(t, h.events, 1)
	assert.Equal(t, 500, h.events[0].Offset)
	assert.False(t, h.events[0].Rising)
}

func TestCloseUnbinds(t *testing.T) {
	n, _, _ := newNode(t, testSettings())
	require.NoError(t, n.Open())
	port := n.Settings().Port

	n.Close()
	assert.False(t, n.Status().Bound)

	// Port is released.
	l, err := ttlosc.BindOnce("127.0.0.1", port, "/ttl", ttlosc.ReceiverFunc(func(core.TriggerMessage) {}))
	require.NoError(t, err)
	l.Stop()
}
