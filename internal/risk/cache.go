package risk

import (
	"sync"
	"time"
)

// cache is a local, process-private map of recent Assessments keyed by
// request fingerprint. Spec §4.9 is explicit that this is a local
// short-TTL cache to survive brief outages, not a shared/remote cache —
// there is deliberately no external backing store here.
type cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	assessment *Assessment
	expiresAt  time.Time
}

func newCache(ttl time.Duration) *cache {
	return &cache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

func (c *cache) get(key string) (*Assessment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.assessment, true
}

func (c *cache) set(key string, assessment *Assessment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{assessment: assessment, expiresAt: time.Now().Add(c.ttl)}
}
