package tools

import (
	"sync"
	"time"
)

// MetricCacheTTL is how long CloudWatch/Datadog query results are reused.
const MetricCacheTTL = 5 * time.Minute

type cacheEntry struct {
	content   string
	fetchedAt time.Time
}

// MetricCache is a thread-safe in-memory cache for metric query results,
// keyed by (metric, time window). Expired entries are cleaned up lazily on
// Get — no background goroutine.
type MetricCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

// NewMetricCache creates a cache with the given TTL.
func NewMetricCache(ttl time.Duration) *MetricCache {
	if ttl <= 0 {
		ttl = MetricCacheTTL
	}
	return &MetricCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
	}
}

// Get returns cached content if present and not expired.
func (c *MetricCache) Get(key string) (string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return "", false
	}

	if time.Since(entry.fetchedAt) > c.ttl {
		// Expired — clean up lazily. Re-check under the write lock: a
		// concurrent Set may have replaced the entry with a fresh one.
		c.mu.Lock()
		if current, ok := c.entries[key]; ok && time.Since(current.fetchedAt) > c.ttl {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return "", false
	}

	return entry.content, true
}

// Set stores content with the current timestamp.
func (c *MetricCache) Set(key string, content string) {
	c.mu.Lock()
	c.entries[key] = &cacheEntry{
		content:   content,
		fetchedAt: time.Now(),
	}
	c.mu.Unlock()
}
