package refresh

import (
	"context"
	"sync"
	"time"
)

// Debounced holds a computed value for ttl before rebuilding it.
type Debounced[T any] struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	value T
	built time.Time
	valid bool
}

func NewDebounced[T any](ttl time.Duration, now func() time.Time) *Debounced[T] {
	if now == nil {
		now = time.Now
	}
	return &Debounced[T]{ttl: ttl, now: now}
}

// Get returns the cached value, calling build when it is older than ttl.
// build runs under the lock, so concurrent callers share one rebuild.
func (d *Debounced[T]) Get(build func(now time.Time) T) T {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if d.valid && now.Sub(d.built) < d.ttl && !now.Before(d.built) {
		return d.value
	}
	d.value = build(now)
	d.built = now
	d.valid = true
	return d.value
}

// Limiter enforces a minimum spacing between consecutive requests. It only
// looks at the time since the previous request; it is not a token bucket.
type Limiter struct {
	spacing time.Duration

	mu   sync.Mutex
	last time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewLimiter(spacing time.Duration) *Limiter {
	return &Limiter{spacing: spacing, now: time.Now, sleep: Sleep}
}

// Wait blocks until a request may be issued and records it as issued.
// Callers are serialized, which keeps the spacing between them.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.last.IsZero() {
		if wait := l.spacing - l.now().Sub(l.last); wait > 0 {
			if !l.sleep(ctx, wait) {
				return ctx.Err()
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.last = l.now()
	return nil
}
