package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ParseSchedule parses a standard cron spec ("*/15 * * * *", "@every 10m",
// "@hourly"). An empty spec runs every fallback.
func ParseSchedule(spec string, fallback time.Duration) (cron.Schedule, error) {
	if spec == "" {
		return cron.Every(fallback), nil
	}
	s, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return s, nil
}

// Run calls step immediately and then at every activation of schedule
// until ctx is cancelled. Waiting is interruptible; a step already
// running is allowed to finish. A step error stops the loop and is
// returned, unless it is just the context being cancelled.
func Run(ctx context.Context, schedule cron.Schedule, step func(context.Context) error, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	for {
		if ctx.Err() != nil {
			return nil
		}

		started := now()
		if err := step(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		}

		next := schedule.Next(started)
		if !Sleep(ctx, next.Sub(now())) {
			return nil
		}
	}
}

// Sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Worker owns one background goroutine. The zero value is not usable;
// create one with StartWorker.
type Worker struct {
	cancel context.CancelFunc
	done   chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

// StartWorker runs fn on a new goroutine with a context derived from
// parent. fn's return value is available from Err once it exits.
func StartWorker(parent context.Context, fn func(ctx context.Context) error) *Worker {
	ctx, cancel := context.WithCancel(parent)
	w := &Worker{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(w.done)
		err := fn(ctx)
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
	}()
	return w
}

// Stop cancels the goroutine and waits for it to return. Safe to call
// more than once.
func (w *Worker) Stop() error {
	w.once.Do(w.cancel)
	<-w.done
	return w.Err()
}

// Done is closed when the goroutine has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}
