package enrich

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache is a thread-safe, size-bounded LRU in front of an expensive fetch.
// Concurrent Gets for the same key within one process share a single
// in-flight fetch instead of fanning out duplicates. The cache is
// process-local: correctness never depends on a hit, only throughput does.
type Cache[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration // 0 means entries never expire
	now      func() time.Time
	entries  map[string]*list.Element
	order    *list.List
	flight   singleflight.Group
}

type cacheEntry[V any] struct {
	key     string
	value   V
	fetched time.Time
}

// CacheOption configures a Cache.
type CacheOption[V any] func(*Cache[V])

// WithTTL bounds entry staleness. Used for identity-style lookups where the
// upstream answer can legitimately change; catalog attributes don't need it.
func WithTTL[V any](ttl time.Duration) CacheOption[V] {
	return func(c *Cache[V]) { c.ttl = ttl }
}

// WithClock injects the time source. Used by tests.
func WithClock[V any](now func() time.Time) CacheOption[V] {
	return func(c *Cache[V]) { c.now = now }
}

// NewCache creates a cache holding at most capacity resolved values.
func NewCache[V any](capacity int, opts ...CacheOption[V]) *Cache[V] {
	c := &Cache[V]{
		capacity: capacity,
		now:      time.Now,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key, or runs fetch exactly once across
// all concurrent callers and caches the result. Errors are never cached.
func (c *Cache[V]) Get(ctx context.Context, key string, fetch func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	// The in-flight fetch is shared by every coalesced caller, so it must
	// not die with whichever caller happened to start it. The underlying
	// client's own timeout still bounds the detached request.
	fetchCtx := context.WithoutCancel(ctx)

	res, err, _ := c.flight.Do(key, func() (interface{}, error) {
		// Re-check under the flight: a concurrent caller may have already
		// populated the entry between our miss and this fetch.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		v, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		c.put(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Len returns the number of resolved entries currently held.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache[V]) lookup(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	entry := elem.Value.(*cacheEntry[V])
	if c.ttl > 0 && c.now().Sub(entry.fetched) > c.ttl {
		delete(c.entries, key)
		c.order.Remove(elem)
		var zero V
		return zero, false
	}
	c.order.MoveToFront(elem)
	return entry.value, true
}

func (c *Cache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry[V])
		entry.value = value
		entry.fetched = c.now()
		c.order.MoveToFront(elem)
		return
	}

	if c.capacity > 0 && c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			entry := oldest.Value.(*cacheEntry[V])
			delete(c.entries, entry.key)
			c.order.Remove(oldest)
		}
	}

	elem := c.order.PushFront(&cacheEntry[V]{key: key, value: value, fetched: c.now()})
	c.entries[key] = elem
}
