// Package cache implements the adaptive-TTL memoizer the selector uses to
// bound how often it recomputes a queue's candidate set.
package cache

import (
	"sync"
	"time"
)

// TimedCache memoizes the last value computed for a given key, keyed on a
// caller-supplied comparable key (typically a hash of the inputs that
// would change the computed value). A cache hit requires both that the key
// matches the last call and that the adaptive TTL from that call has not
// elapsed yet.
//
// The TTL adapts to the wrapped function's own runtime: slow computations
// (large fleets, many queues) get cached longer, so overhead stays a
// roughly constant fraction of wall-clock time regardless of scale.
type TimedCache[K comparable, V any] struct {
	mu sync.Mutex

	initial    time.Duration
	max        time.Duration
	multiplier float64
	skip       bool
	now        func() time.Time

	hasValue  bool
	key       K
	value     V
	expiresAt time.Time
}

// Option configures a TimedCache.
type Option[K comparable, V any] func(*TimedCache[K, V])

// WithClock overrides the cache's time source, for tests.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *TimedCache[K, V]) { c.now = now }
}

// New builds a TimedCache with the given floor (initial), ceiling (max),
// and run-time multiplier. When skip is true the cache is bypassed: every
// Get recomputes, matching spec.md §4.8's skip_cache test knob.
func New[K comparable, V any](initial, max time.Duration, multiplier float64, skip bool, opts ...Option[K, V]) *TimedCache[K, V] {
	c := &TimedCache[K, V]{
		initial:    initial,
		max:        max,
		multiplier: multiplier,
		skip:       skip,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key if one is fresh, otherwise invokes
// compute, records its wall-clock runtime to set the next lifetime, and
// caches the result under key.
func (c *TimedCache[K, V]) Get(key K, compute func() (V, error)) (v V, fromCache bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.skip && c.hasValue && c.key == key && c.now().Before(c.expiresAt) {
		return c.value, true, nil
	}

	start := c.now()
	v, err = compute()
	if err != nil {
		var zero V
		return zero, false, err
	}
	runtime := c.now().Sub(start)

	ttl := time.Duration(float64(runtime) * c.multiplier)
	if ttl < c.initial {
		ttl = c.initial
	}
	if ttl > c.max {
		ttl = c.max
	}

	c.hasValue = true
	c.key = key
	c.value = v
	c.expiresAt = c.now().Add(ttl)
	return v, false, nil
}

// Invalidate forces the next Get to recompute regardless of TTL.
func (c *TimedCache[K, V]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasValue = false
}
