package osc

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/ttlbridge/internal/core"
)

type collector struct {
	mu   sync.Mutex
	msgs []core.TriggerMessage
}

func (c *collector) ReceiveMessage(m core.TriggerMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
}

func (c *collector) snapshot() []core.TriggerMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.TriggerMessage(nil), c.msgs...)
}

func sendRaw(t *testing.T, port int, data []byte) {
	t.Helper()
	conn, err := net.Dial("udp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(data)
	require.NoError(t, err)
}

func TestListenerReceivesTriggers(t *testing.T) {
	c := &collector{}
	l := NewListener("127.0.0.1", 0, "/ttl", c)
	require.True(t, l.IsBound())
	require.NoError(t, l.Err())
	assert.NotZero(t, l.Port())
	l.Start()
	defer l.Stop()

	sendRaw(t, l.Port(), encode(t, osc.NewMessage("/ttl", int32(2), false)))
	sendRaw(t, l.Port(), encode(t, osc.NewMessage("/other", int32(9))))
	sendRaw(t, l.Port(), []byte("not osc"))
	sendRaw(t, l.Port(), encode(t, osc.NewMessage("/ttl", int32(-1))))
	sendRaw(t, l.Port(), encode(t, osc.NewMessage("/TTL", int32(5))))

	require.Eventually(t, func() bool { return len(c.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	got := c.snapshot()
	assert.Equal(t, 2, got[0].Line())
	assert.False(t, got[0].State())
	assert.Equal(t, 5, got[1].Line())
	assert.True(t, got[1].State())
}

func TestListenerSurvivesPanickingReceiver(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	recv := ReceiverFunc(func(m core.TriggerMessage) {
		mu.Lock()
		calls++
		mu.Unlock()
		if m.Line() == 0 {
			panic("boom")
		}
	})

	l := NewListener("127.0.0.1", 0, "/ttl", recv)
	require.True(t, l.IsBound())
	l.Start()
	defer l.Stop()

	sendRaw(t, l.Port(), encode(t, osc.NewMessage("/ttl", int32(0))))
	sendRaw(t, l.Port(), encode(t, osc.NewMessage("/ttl", int32(1))))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestListenerStopIsIdempotent(t *testing.T) {
	l := NewListener("127.0.0.1", 0, "/ttl", &collector{})
	require.True(t, l.IsBound())
	l.Start()

	done := make(chan struct{})
	go func() {
		l.Stop()
		l.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	// The port is free again once Stop returns.
	again := NewListener("127.0.0.1", l.Port(), "/ttl", &collector{})
	assert.True(t, again.IsBound())
	again.Stop()
}

func TestListenerStopWithoutStart(t *testing.T) {
	l := NewListener("127.0.0.1", 0, "/ttl", &collector{})
	l.Stop()
	// Start after Stop must not launch a loop on the closed socket.
	l.Start()
	l.Stop()
}

func TestListenerBindFailure(t *testing.T) {
	holder := NewListener("127.0.0.1", 0, "/ttl", &collector{})
	require.True(t, holder.IsBound())
	defer holder.Stop()

	l := NewListener("127.0.0.1", holder.Port(), "/ttl", &collector{})
	assert.False(t, l.IsBound())
	require.Error(t, l.Err())
	assert.ErrorIs(t, l.Err(), core.ErrBindFailure)

	var be *core.BindError
	require.ErrorAs(t, l.Err(), &be)
	assert.Equal(t, holder.Port(), be.Port)

	l.Start()
	l.Stop()
}
