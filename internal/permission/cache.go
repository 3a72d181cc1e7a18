// ABOUTME: Thread-safe TTL cache of feature access results
// ABOUTME: Expired entries read as absent; invalidation drops everything and bumps an epoch

package permission

import (
	"sync"
	"time"
)

// cacheEntry is one cached access decision.
type cacheEntry struct {
	result    bool
	fetchedAt time.Time
}

// cache holds decisions keyed by feature code. Entries older than ttl are
// treated as absent. The epoch lets writers detect an invalidation that
// happened while their lookup was in flight.
type cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	epoch   uint64
	ttl     time.Duration
	now     func() time.Time
}

func newCache(ttl time.Duration, now func() time.Time) *cache {
	return &cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     now,
	}
}

// get returns the cached result for code if present and fresh.
func (c *cache) get(code string) (result, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, found := c.entries[code]
	if !found || c.now().Sub(entry.fetchedAt) >= c.ttl {
		return false, false
	}
	return entry.result, true
}

// currentEpoch returns the epoch a lookup should carry back to put.
func (c *cache) currentEpoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// put stores results fetched under epoch. It reports false, storing nothing,
// when the cache was invalidated in the meantime.
func (c *cache) put(epoch uint64, results map[string]bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		return false
	}
	at := c.now()
	for code, result := range results {
		c.entries[code] = cacheEntry{result: result, fetchedAt: at}
	}
	c.pruneLocked(at)
	return true
}

// invalidate drops every entry.
func (c *cache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	c.epoch++
}

// pruneLocked removes expired entries so the map does not grow without bound.
func (c *cache) pruneLocked(at time.Time) {
	for code, entry := range c.entries {
		if at.Sub(entry.fetchedAt) >= c.ttl {
			delete(c.entries, code)
		}
	}
}

// len returns the number of fresh entries.
func (c *cache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	at := c.now()
	n := 0
	for _, entry := range c.entries {
		if at.Sub(entry.fetchedAt) < c.ttl {
			n++
		}
	}
	return n
}
