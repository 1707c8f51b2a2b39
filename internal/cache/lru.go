package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// LRUCache is an in-process cache with per-entry expiry and least recently
// used eviction. Counters live beside the entries and are bounded by the
// same capacity; expired counters are swept when the bound is reached.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List
	counters map[string]*counter
	now      func() time.Time

	hits, misses, evictions int64
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

type counter struct {
	n         int64
	expiresAt time.Time
}

// Stats is a point-in-time view of an LRUCache.
type Stats struct {
	Entries   int
	Counters  int
	Capacity  int
	Hits      int64
	Misses    int64
	Evictions int64
}

// NewLRUCache creates a cache holding at most capacity entries.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LRUCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		counters: make(map[string]*counter),
		now:      time.Now,
	}
}

// Get returns nil, nil for a missing or expired key.
func (c *LRUCache) Get(_ context.Context, tenantID, key string) ([]byte, error) {
	k, err := scopedKey(tenantID, key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.live(k)
	if e == nil {
		c.misses++
		return nil, nil
	}
	c.hits++
	c.order.MoveToFront(e)
	return e.Value.(*entry).value, nil
}

// Set stores value until ttl elapses.
func (c *LRUCache) Set(_ context.Context, tenantID, key string, value []byte, ttl time.Duration) error {
	k, err := scopedKey(tenantID, key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(k, value, ttl)
	return nil
}

// SetIfAbsent stores value only when no live entry exists for key.
func (c *LRUCache) SetIfAbsent(_ context.Context, tenantID, key string, value []byte, ttl time.Duration) (bool, error) {
	k, err := scopedKey(tenantID, key)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.live(k) != nil {
		return false, nil
	}
	c.put(k, value, ttl)
	return true, nil
}

// Delete removes key if present.
func (c *LRUCache) Delete(_ context.Context, tenantID, key string) error {
	k, err := scopedKey(tenantID, key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[k]; ok {
		c.remove(e)
	}
	return nil
}

// IncrementCounter counts calls within a fixed window that starts at the
// first increment after the previous window expired.
func (c *LRUCache) IncrementCounter(_ context.Context, tenantID, key string, window time.Duration) (int64, error) {
	k, err := scopedKey(tenantID, counterPrefix+key)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if ctr, ok := c.counters[k]; ok && now.Before(ctr.expiresAt) {
		ctr.n++
		return ctr.n, nil
	}

	if len(c.counters) >= c.capacity {
		c.sweepCounters(now)
	}
	c.counters[k] = &counter{n: 1, expiresAt: now.Add(window)}
	return 1, nil
}

// Ping always succeeds.
func (c *LRUCache) Ping(context.Context) error {
	return nil
}

// Close drops all entries and counters.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.counters = make(map[string]*counter)
	return nil
}

// Stats returns current sizes and lookup counts.
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   c.order.Len(),
		Counters:  len(c.counters),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// live returns the element for k, dropping it if expired. Caller holds mu.
func (c *LRUCache) live(k string) *list.Element {
	e, ok := c.entries[k]
	if !ok {
		return nil
	}
	if !c.now().Before(e.Value.(*entry).expiresAt) {
		c.remove(e)
		return nil
	}
	return e
}

// put inserts or replaces k and evicts down to capacity. Caller holds mu.
func (c *LRUCache) put(k string, value []byte, ttl time.Duration) {
	expiresAt := c.now().Add(ttl)
	if e, ok := c.entries[k]; ok {
		ent := e.Value.(*entry)
		ent.value = value
		ent.expiresAt = expiresAt
		c.order.MoveToFront(e)
		return
	}

	c.entries[k] = c.order.PushFront(&entry{key: k, value: value, expiresAt: expiresAt})
	for c.order.Len() > c.capacity {
		c.remove(c.order.Back())
		c.evictions++
	}
}

func (c *LRUCache) remove(e *list.Element) {
	c.order.Remove(e)
	delete(c.entries, e.Value.(*entry).key)
}

// sweepCounters drops expired counters. If every counter is still live the
// map is allowed to grow past capacity rather than reset an active window.
func (c *LRUCache) sweepCounters(now time.Time) {
	for k, ctr := range c.counters {
		if !now.Before(ctr.expiresAt) {
			delete(c.counters, k)
		}
	}
}
