// Package lru provides a fixed-capacity, mutex-guarded least-recently-used
// cache. It backs both the query-embedding cache and the answer cache used by
// the question answering pipeline.
//
// Keys are compared with ==; no normalisation is applied. A Get that hits
// promotes the entry to most-recently-used, and a Put that grows the cache
// past its capacity evicts exactly one entry, the least recently used.
package lru

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Cache is a generic LRU cache. The zero value is not usable; construct with
// [New]. Cache is safe for concurrent use.
type Cache[K comparable, V any] struct {
	// mu guards entries. Every read-promote and write-evict sequence holds it.
	mu sync.Mutex
	// entries is ordered oldest-first; the back of the map is the MRU entry.
	entries *orderedmap.OrderedMap[K, V]
	// capacity is the maximum number of entries retained.
	capacity int
}

// New constructs a Cache holding at most capacity entries.
// A capacity below 1 is raised to 1.
func New[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache[K, V]{
		entries:  orderedmap.New[K, V](),
		capacity: capacity,
	}
}

// Get returns the value stored under key and whether it was present.
// A hit marks the entry as most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.entries.Get(key)
	if !ok {
		return v, false
	}
	_ = c.entries.MoveToBack(key)
	return v, true
}

// Put stores value under key and marks it most recently used. When the
// insert grows the cache past capacity the least recently used entry is
// removed and its key returned with evicted=true.
func (c *Cache[K, V]) Put(key K, value V) (evictedKey K, evicted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, present := c.entries.Set(key, value); present {
		_ = c.entries.MoveToBack(key)
		return evictedKey, false
	}

	if c.entries.Len() <= c.capacity {
		return evictedKey, false
	}

	oldest := c.entries.Oldest()
	c.entries.Delete(oldest.Key)
	return oldest.Key, true
}

// Len returns the number of entries currently cached.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Cap returns the configured capacity.
func (c *Cache[K, V]) Cap() int { return c.capacity }

// Keys returns the cached keys ordered from least to most recently used.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, c.entries.Len())
	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Purge removes every entry.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = orderedmap.New[K, V]()
}
