package binanceclient

import (
	"sync"
	"time"
)

// ttlCache holds one value for a bounded time.
type ttlCache[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	value   T
	fetched time.Time
	valid   bool
	now     func() time.Time
}

func newTTLCache[T any](ttl time.Duration) *ttlCache[T] {
	return &ttlCache[T]{ttl: ttl, now: time.Now}
}

func (c *ttlCache[T]) get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid || c.ttl <= 0 || c.now().Sub(c.fetched) > c.ttl {
		var zero T
		return zero, false
	}
	return c.value, true
}

func (c *ttlCache[T]) set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value, c.fetched, c.valid = v, c.now(), true
}

func (c *ttlCache[T]) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
}
