// Package refresh holds the pieces shared by every fetcher: the per-source
// cache written by the background loop, the loop itself, a debounced view
// holder and a fixed-delay request limiter.
package refresh

import (
	"sync"
	"time"
)

// Entry is the cached state of one named sub-source (one calendar, one
// task list, one transit feed).
type Entry[T any] struct {
	Name string
	Data T
	// HasData is false until the first successful refresh.
	HasData bool

	LastRefreshed time.Time
	LastAttempt   time.Time
	Err           error
}

// Failed reports whether the latest refresh attempt failed.
func (e Entry[T]) Failed() bool {
	return e.Err != nil
}

// Cache is written by one background goroutine and read by any number of
// view builders. The lock is held only to copy or swap entries.
type Cache[T any] struct {
	mu      sync.Mutex
	names   []string
	entries map[string]Entry[T]
}

// NewCache creates empty entries for names, in that order.
func NewCache[T any](names ...string) *Cache[T] {
	c := &Cache[T]{entries: make(map[string]Entry[T], len(names))}
	for _, n := range names {
		c.add(n)
	}
	return c
}

func (c *Cache[T]) add(name string) {
	if _, ok := c.entries[name]; ok {
		return
	}
	c.names = append(c.names, name)
	c.entries[name] = Entry[T]{Name: name}
}

// Succeed replaces the data for name wholesale and clears its error.
func (c *Cache[T]) Succeed(name string, data T, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.add(name)
	c.entries[name] = Entry[T]{
		Name:          name,
		Data:          data,
		HasData:       true,
		LastRefreshed: at,
		LastAttempt:   at,
	}
}

// Fail records err for name. Previously cached data is kept.
func (c *Cache[T]) Fail(name string, err error, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.add(name)
	e := c.entries[name]
	e.Err = err
	e.LastAttempt = at
	c.entries[name] = e
}

func (c *Cache[T]) Get(name string) (Entry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[name]
	return e, ok
}

// Snapshot returns a copy of all entries in creation order. Data values
// are shared, so writers must replace rather than mutate them.
func (c *Cache[T]) Snapshot() []Entry[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry[T], 0, len(c.names))
	for _, n := range c.names {
		out = append(out, c.entries[n])
	}
	return out
}

// HasError is true if any entry's latest refresh failed.
func (c *Cache[T]) HasError() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if e.Failed() {
			return true
		}
	}
	return false
}
