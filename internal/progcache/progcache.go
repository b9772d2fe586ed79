package progcache

import (
	"sync"
	"sync/atomic"
)

// Cache is a generic thread-safe cache for device objects keyed by
// structural identity, with soft-limit eviction. Creation races are
// resolved under the lock, so an expensive compile runs at most once per
// key even when many goroutines request it together.
//
// Cache must not be copied after creation (has mutex).
type Cache[K comparable, V any] struct {
	mu        sync.Mutex
	entries   map[K]*entry[V]
	softLimit int
	tick      int64 // Monotonic access counter
	onEvict   func(K, V)

	// Statistics (atomic for lock-free reads)
	hits   atomic.Uint64
	misses atomic.Uint64
}

// entry holds a cached value with its access time.
type entry[V any] struct {
	value V
	atime int64 // Access time (tick value)
}

// New creates a cache with the given soft limit. A softLimit of 0 means
// unlimited. onEvict, when non-nil, runs for each entry removed by
// eviction or Drain; use it to release GPU objects. It is called with
// the cache lock held, so keep it cheap and never re-enter the cache.
func New[K comparable, V any](softLimit int, onEvict func(K, V)) *Cache[K, V] {
	return &Cache[K, V]{
		entries:   make(map[K]*entry[V]),
		softLimit: softLimit,
		onEvict:   onEvict,
	}
}

// Get retrieves a value from the cache.
// Returns (value, true) if found, (zero, false) otherwise.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}

	c.tick++
	e.atime = c.tick
	c.hits.Add(1)
	return e.value, true
}

// Set stores a value, evicting oldest entries past the soft limit.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tick++
	c.entries[key] = &entry[V]{value: value, atime: c.tick}
	c.evictOverLimit()
}

// GetOrCreate returns the cached value for key, or builds it with create.
// create runs under the cache lock, so concurrent requests for the same
// key wait rather than compiling twice. A create error caches nothing
// and is returned to the caller.
func (c *Cache[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.tick++
		e.atime = c.tick
		c.hits.Add(1)
		return e.value, nil
	}

	c.misses.Add(1)
	value, err := create()
	if err != nil {
		var zero V
		return zero, err
	}

	c.tick++
	c.entries[key] = &entry[V]{value: value, atime: c.tick}
	c.evictOverLimit()
	return value, nil
}

// Delete removes an entry without invoking the eviction callback and
// returns it, so the caller can release the object on its own schedule.
func (c *Cache[K, V]) Delete(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	delete(c.entries, key)
	return e.value, true
}

// Drain removes every entry, invoking the eviction callback for each.
func (c *Cache[K, V]) Drain() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if c.onEvict != nil {
			c.onEvict(key, e.value)
		}
		delete(c.entries, key)
	}
	c.tick = 0
}

// Len returns the number of entries in the cache.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// SoftLimit returns the soft limit of the cache.
func (c *Cache[K, V]) SoftLimit() int {
	return c.softLimit
}

// Stats returns current cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Len:       c.Len(),
		SoftLimit: c.softLimit,
		Hits:      hits,
		Misses:    misses,
		HitRate:   hitRate,
	}
}

// evictOverLimit removes oldest entries until under the soft limit.
// Caller must hold c.mu.
func (c *Cache[K, V]) evictOverLimit() {
	if c.softLimit <= 0 || len(c.entries) <= c.softLimit {
		return
	}

	// Evict down to 75% of the limit so insert bursts do not thrash.
	targetSize := c.softLimit * 3 / 4
	if targetSize < 1 {
		targetSize = 1
	}
	toEvict := len(c.entries) - targetSize
	if toEvict <= 0 {
		return
	}

	type aged struct {
		key   K
		atime int64
	}
	all := make([]aged, 0, len(c.entries))
	for key, e := range c.entries {
		all = append(all, aged{key: key, atime: e.atime})
	}

	// Selection of the oldest entries; eviction batches are small.
	for i := 0; i < toEvict && i < len(all); i++ {
		minIdx := i
		for j := i + 1; j < len(all); j++ {
			if all[j].atime < all[minIdx].atime {
				minIdx = j
			}
		}
		if minIdx != i {
			all[i], all[minIdx] = all[minIdx], all[i]
		}
		if c.onEvict != nil {
			c.onEvict(all[i].key, c.entries[all[i].key].value)
		}
		delete(c.entries, all[i].key)
	}
}

// Stats contains cache statistics.
type Stats struct {
	// Len is the current number of entries.
	Len int
	// SoftLimit is the configured eviction threshold (0 = unlimited).
	SoftLimit int
	// Hits is the number of cache hits.
	Hits uint64
	// Misses is the number of cache misses.
	Misses uint64
	// HitRate is the cache hit rate, 0.0 to 1.0.
	HitRate float64
}
