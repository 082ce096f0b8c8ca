package trigger

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/ttlbridge/internal/core"
)

func msg(t *testing.T, line int, state bool) core.TriggerMessage {
	t.Helper()
	m, err := core.NewTriggerMessage(line, state)
	require.NoError(t, err)
	return m
}

func TestQueueFIFO(t *testing.T) {
	var q Queue
	for i := 0; i < 5; i++ {
		q.Push(msg(t, i, i%2 == 0))
	}
	assert.Equal(t, 5, q.Count())

	for i := 0; i < 5; i++ {
		m, err := q.Pop()
		require.NoError(t, err)
		assert.Equal(t, i, m.Line())
		assert.Equal(t, i%2 == 0, m.State())
	}
	assert.Equal(t, 0, q.Count())
}

func TestQueuePopEmpty(t *testing.T) {
	var q Queue
	_, err := q.Pop()
	assert.True(t, errors.Is(err, core.ErrEmptyQueue))

	q.Push(msg(t, 1, true))
	_, err = q.Pop()
	require.NoError(t, err)
	_, err = q.Pop()
	assert.True(t, errors.Is(err, core.ErrEmptyQueue))
}

func TestQueueInterleaved(t *testing.T) {
	var q Queue
	next := 0
	want := 0
	for round := 0; round < 50; round++ {
		for i := 0; i < round%4+1; i++ {
			q.Push(msg(t, next, true))
			next++
		}
		for i := 0; i < round%3 && q.Count() > 0; i++ {
			m, err := q.Pop()
			require.NoError(t, err)
			assert.Equal(t, want, m.Line())
			want++
		}
	}
	for q.Count() > 0 {
		m, err := q.Pop()
		require.NoError(t, err)
		assert.Equal(t, want, m.Line())
		want++
	}
	assert.Equal(t, next, want)
}

func TestQueueClear(t *testing.T) {
	var q Queue
	q.Push(msg(t, 1, true))
	q.Push(msg(t, 2, true))
	q.Clear()
	assert.Equal(t, 0, q.Count())

	q.Push(msg(t, 7, false))
	m, err := q.Pop()
	require.NoError(t, err)
	assert.Equal(t, 7, m.Line())
}

func TestSharedConcurrentWriterKeepsOrder(t *testing.T) {
	s := NewShared()
	const total = 2000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			m, _ := core.NewTriggerMessage(i, true)
			s.Push(m)
		}
	}()

	got := make([]int, 0, total)
	for len(got) < total {
		if m, ok := s.TryPop(); ok {
			got = append(got, m.Line())
		}
	}
	wg.Wait()

	for i, line := range got {
		require.Equal(t, i, line)
	}
	_, ok := s.TryPop()
	assert.False(t, ok)
}

func TestSharedPendingOff(t *testing.T) {
	s := NewShared()

	_, ok := s.PendingOff("a")
	assert.False(t, ok)

	s.SetPendingOff("a", core.PendingOff{SampleNumber: 1500, Line: 2})
	s.SetPendingOff("a", core.PendingOff{SampleNumber: 1800, Line: 4})
	p, ok := s.PendingOff("a")
	require.True(t, ok)
	assert.Equal(t, core.PendingOff{SampleNumber: 1800, Line: 4}, p)
	assert.Equal(t, 1, s.PendingCount())

	_, ok = s.TakePendingOffBefore("a", 1800)
	assert.False(t, ok, "edge at the block end belongs to the next block")
	assert.Equal(t, 1, s.PendingCount())

	_, ok = s.TakePendingOffBefore("b", 1<<40)
	assert.False(t, ok)

	p, ok = s.TakePendingOffBefore("a", 1801)
	require.True(t, ok)
	assert.Equal(t, core.PendingOff{SampleNumber: 1800, Line: 4}, p)
	_, ok = s.PendingOff("a")
	assert.False(t, ok)
	assert.Zero(t, s.PendingCount())
}

func TestSharedTakePendingOffConcurrent(t *testing.T) {
	s := NewShared()
	s.SetPendingOff("a", core.PendingOff{SampleNumber: 10, Line: 1})

	var taken atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := s.TakePendingOffBefore("a", 100); ok {
				taken.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), taken.Load(), "one edge is delivered once")
}

func TestSharedReset(t *testing.T) {
	s := NewShared()
	s.Push(msg(t, 1, true))
	s.SetPendingOff("a", core.PendingOff{SampleNumber: 10, Line: 1})
	s.SetPendingOff("b", core.PendingOff{SampleNumber: 20, Line: 1})

	s.Reset()

	assert.Equal(t, 0, s.Count())
	assert.Equal(t, 0, s.PendingCount())
}
