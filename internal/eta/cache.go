package eta

import (
	"sync"
	"time"
)

// Cache is a tiny in-memory TTL cache for ETA results. Entries only leave
// by expiry; the cache is advisory and losing it just forces recomputation.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	r  Result
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(tripID, driverID string, leg Leg) string {
	return tripID + ":" + driverID + ":" + string(leg)
}

func (c *Cache) Get(tripID, driverID string, leg Leg) (Result, bool) {
	k := keyFor(tripID, driverID, leg)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return Result{}, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return Result{}, false
	}
	return e.r, true
}

func (c *Cache) Set(tripID, driverID string, leg Leg, r Result) {
	k := keyFor(tripID, driverID, leg)
	c.mu.Lock()
	c.store[k] = cacheEntry{r: r, ts: time.Now()}
	c.mu.Unlock()
}
