// Package tilecache implements a fixed-capacity LRU of fixed-size pixel
// blocks: a mapping from block index to block buffer with
// insertion/access-order eviction once capacity is exceeded. The cache
// itself never performs I/O — Put returns the evicted (index, buffer)
// pairs in eviction order and leaves persisting or freeing them to the
// caller (internal/rastermgr).
package tilecache

import "github.com/hashicorp/golang-lru/v2/simplelru"

// Evicted is one (block index, buffer) pair displaced by a Put that
// exceeded capacity.
type Evicted[V any] struct {
	Index int
	Value V
}

// Cache is an LRU over block index -> value, generic over the value type;
// every cache in this module is a Cache[*rastermgr.Block] of float64
// buffers, scratch rasters included.
type Cache[V any] struct {
	lru     *simplelru.LRU[int, V]
	pending []Evicted[V] // collects evictions from the current Put call
}

// New returns a cache with the given fixed capacity. Capacity must be
// at least 1.
func New[V any](capacity int) *Cache[V] {
	c := &Cache[V]{}
	lru, err := simplelru.NewLRU[int, V](capacity, func(key int, value V) {
		c.pending = append(c.pending, Evicted[V]{Index: key, Value: value})
	})
	if err != nil {
		// Only returned for capacity < 1, which is a programmer error at
		// every call site in this module (rastermgr.Open substitutes
		// DefaultCacheCapacity for a capacity below 1 before constructing a Cache).
		panic(err)
	}
	c.lru = lru
	return c
}

// Exists reports whether index is currently cached, without affecting
// recency.
func (c *Cache[V]) Exists(index int) bool {
	return c.lru.Contains(index)
}

// Get retrieves the buffer for index, moving it to most-recently-used.
func (c *Cache[V]) Get(index int) (V, bool) {
	return c.lru.Get(index)
}

// Put inserts or updates the buffer for index, marking it
// most-recently-used, and returns any entries evicted as a result in
// eviction order.
func (c *Cache[V]) Put(index int, value V) []Evicted[V] {
	c.pending = c.pending[:0]
	c.lru.Add(index, value)
	out := make([]Evicted[V], len(c.pending))
	copy(out, c.pending)
	return out
}

// Len returns the number of entries currently cached.
func (c *Cache[V]) Len() int { return c.lru.Len() }

// Remove evicts index immediately (used when a block is deleted rather
// than flushed, e.g. scratch rasters that are discarded wholesale).
func (c *Cache[V]) Remove(index int) {
	c.lru.Remove(index)
}

// Purge evicts every entry, invoking the eviction callback for each so
// callers can flush/free them, and returns them in eviction order.
func (c *Cache[V]) Purge() []Evicted[V] {
	c.pending = c.pending[:0]
	c.lru.Purge()
	out := make([]Evicted[V], len(c.pending))
	copy(out, c.pending)
	return out
}
