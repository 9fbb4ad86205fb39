package discovery

import (
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Cache holds resolved endpoints for a limited time. Only positive
// discoveries are stored; a URL without an endpoint is probed again on
// the next resolution.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[[blake2b.Size256]byte]cacheEntry
}

type cacheEntry struct {
	endpoint string
	expires  time.Time
}

// NewCache returns a Cache whose entries live for ttl.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[[blake2b.Size256]byte]cacheEntry),
	}
}

// Get returns the cached endpoint for target, if present and not expired.
func (c *Cache) Get(target string) (string, bool) {
	key := blake2b.Sum256([]byte(target))
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return "", false
	}
	return e.endpoint, true
}

// Set records endpoint for target. Concurrent writers for the same target
// overwrite each other; the last write wins.
func (c *Cache) Set(target, endpoint string) {
	key := blake2b.Sum256([]byte(target))
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{
		endpoint: endpoint,
		expires:  c.now().Add(c.ttl),
	}
}
