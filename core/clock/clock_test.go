package clock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/flexsim/core/logger"
)

func manual(t *testing.T) *Clock {
	t.Helper()
	c := New(Options{Start: 1000, Increment: 60}, logger.Nop{})
	require.NoError(t, c.Start(context.Background()))
	return c
}

func TestTickOrderAndAdvance(t *testing.T) {
	c := manual(t)
	var got []string
	c.AddCallback(func(_ *Clock, ts int64) { got = append(got, "a") })
	c.AddCallback(func(_ *Clock, ts int64) { got = append(got, "b") })

	var seen []int64
	c.AddCallback(func(_ *Clock, ts int64) { seen = append(seen, ts) })

	c.Tick()
	c.Tick()
	assert.Equal(t, []string{"a", "b", "a", "b"}, got)
	assert.Equal(t, []int64{1000, 1060}, seen)
	assert.Equal(t, int64(1120), c.Timestamp())
}

func TestTickStoppedIsNoop(t *testing.T) {
	c := New(Options{Start: 10, Increment: 1}, nil)
	calls := 0
	c.AddCallback(func(*Clock, int64) { calls++ })
	c.Tick()
	assert.Zero(t, calls)
	assert.Equal(t, int64(10), c.Timestamp())
}

func TestDoubleStart(t *testing.T) {
	c := manual(t)
	err := c.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.True(t, c.Running())
}

func TestStopIdempotent(t *testing.T) {
	c := manual(t)
	c.Stop()
	c.Stop()
	assert.False(t, c.Running())
	require.NoError(t, c.Start(context.Background()))
}

func TestRemoveDuringIteration(t *testing.T) {
	c := manual(t)
	var order []int
	var second CallbackID
	c.AddCallback(func(cl *Clock, _ int64) {
		order = append(order, 1)
		cl.RemoveCallback(second)
	})
	second = c.AddCallback(func(*Clock, int64) { order = append(order, 2) })
	c.AddCallback(func(*Clock, int64) { order = append(order, 3) })

	c.Tick()
	c.Tick()
	assert.Equal(t, []int{1, 3, 1, 3}, order)
	assert.Equal(t, 2, c.Len())
}

func TestSelfRemoval(t *testing.T) {
	c := manual(t)
	calls := 0
	var id CallbackID
	id = c.AddCallback(func(cl *Clock, _ int64) {
		calls++
		cl.RemoveCallback(id)
	})
	c.Tick()
	c.Tick()
	assert.Equal(t, 1, calls)
}

func TestPanickingCallbackIsRecovered(t *testing.T) {
	c := manual(t)
	after := 0
	c.AddCallback(func(*Clock, int64) { panic("boom") })
	c.AddCallback(func(*Clock, int64) { after++ })
	assert.NotPanics(t, c.Tick)
	assert.Equal(t, 1, after)
	assert.Equal(t, int64(1060), c.Timestamp())
}

func TestTimerDrivesTicks(t *testing.T) {
	c := New(Options{Start: 0, Increment: 1, Interval: 5 * time.Millisecond}, nil)
	ticks := make(chan int64, 16)
	c.AddCallback(func(_ *Clock, ts int64) {
		select {
		case ticks <- ts:
		default:
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))

	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("no tick")
	}
	cancel()
	c.Wait()
	assert.False(t, c.Running())
}

func TestManualTickSerializedWithTimer(t *testing.T) {
	c := New(Options{Start: 0, Increment: 1, Interval: time.Millisecond}, nil)
	var inFlight, maxInFlight atomic.Int32
	var mu sync.Mutex
	seen := map[int64]int{}
	c.AddCallback(func(_ *Clock, ts int64) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		mu.Lock()
		seen[ts]++
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))
	for i := 0; i < 50; i++ {
		c.Tick()
	}
	c.Stop()
	c.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	mu.Lock()
	defer mu.Unlock()
	for ts, n := range seen {
		assert.Equal(t, 1, n, "timestamp %d delivered twice", ts)
	}
}

func TestCalendar(t *testing.T) {
	ts := time.Date(2024, time.July, 14, 13, 30, 0, 0, time.UTC).Unix()
	assert.Equal(t, Summer, SeasonOf(ts))
	assert.Equal(t, "2024-07-14T13:30:00Z", ISO(ts))
	assert.Equal(t, Winter, SeasonOf(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()))
	assert.Equal(t, "autumn", Autumn.String())

	c := New(Options{Start: 1, Increment: 900}, nil)
	assert.Equal(t, int64(5), c.TicksPerHour())
}
