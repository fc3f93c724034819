package refresh

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)

// every is a sub-second schedule; cron.Every rounds up to whole seconds.
type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

func TestCacheFailureKeepsData(t *testing.T) {
	c := NewCache[[]string]("x", "y")

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.False(t, snap[0].HasData)
	assert.False(t, c.HasError())

	c.Succeed("x", []string{"x1"}, t0)
	c.Succeed("y", []string{"y1"}, t0)
	c.Fail("x", errors.New("timeout"), t0.Add(time.Minute))

	x, ok := c.Get("x")
	require.True(t, ok)
	assert.Equal(t, []string{"x1"}, x.Data)
	assert.True(t, x.Failed())
	assert.Equal(t, t0, x.LastRefreshed)
	assert.Equal(t, t0.Add(time.Minute), x.LastAttempt)

	y, _ := c.Get("y")
	assert.Equal(t, []string{"y1"}, y.Data)
	assert.False(t, y.Failed())
	assert.True(t, c.HasError())

	c.Succeed("x", []string{"x2"}, t0.Add(2*time.Minute))
	assert.False(t, c.HasError())
	assert.Equal(t, []string{"x", "y"}, names(c.Snapshot()))
}

func names[T any](entries []Entry[T]) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func TestCacheUnknownName(t *testing.T) {
	c := NewCache[int]()
	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Fail("late", errors.New("boom"), t0)
	e, ok := c.Get("late")
	require.True(t, ok)
	assert.False(t, e.HasData)
	assert.Equal(t, []string{"late"}, names(c.Snapshot()))
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(10*time.Second), s.Next(t0))

	s, err = ParseSchedule("@every 10m", time.Second)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(10*time.Minute), s.Next(t0))

	_, err = ParseSchedule("not a schedule", time.Second)
	assert.Error(t, err)
}

func TestRunStopsOnStepError(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("bad query")

	err := Run(context.Background(), every(time.Millisecond), func(context.Context) error {
		if calls.Add(1) == 3 {
			return boom
		}
		return nil
	}, nil)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRunCancelDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, cron.Every(time.Hour), func(context.Context) error {
			calls.Add(1)
			return nil
		}, nil)
	}()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop while waiting")
	}
}

func TestRunTreatsCancellationAsClean(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	err := Run(ctx, cron.Every(time.Hour), func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	}, nil)
	assert.NoError(t, err)
}

func TestWorkerStop(t *testing.T) {
	w := StartWorker(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return errors.New("stopped")
	})

	assert.EqualError(t, w.Stop(), "stopped")
	assert.EqualError(t, w.Stop(), "stopped")

	select {
	case <-w.Done():
	default:
		t.Fatal("done not closed after Stop")
	}
}

func TestDebounced(t *testing.T) {
	now := t0
	d := NewDebounced[int](15*time.Second, func() time.Time { return now })

	builds := 0
	build := func(time.Time) int {
		builds++
		return builds
	}

	assert.Equal(t, 1, d.Get(build))
	now = now.Add(14 * time.Second)
	assert.Equal(t, 1, d.Get(build))
	now = now.Add(time.Second)
	assert.Equal(t, 2, d.Get(build))

}

func TestLimiterSleepsRemainder(t *testing.T) {
	now := t0
	var slept []time.Duration

	l := NewLimiter(time.Second)
	l.now = func() time.Time { return now }
	l.sleep = func(_ context.Context, d time.Duration) bool {
		slept = append(slept, d)
		now = now.Add(d)
		return true
	}

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx))
	assert.Empty(t, slept)

	now = now.Add(300 * time.Millisecond)
	require.NoError(t, l.Wait(ctx))
	assert.Equal(t, []time.Duration{700 * time.Millisecond}, slept)

	now = now.Add(2 * time.Second)
	require.NoError(t, l.Wait(ctx))
	assert.Len(t, slept, 1)
}

func TestLimiterCancelled(t *testing.T) {
	l := NewLimiter(time.Hour)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.Canceled)
}
