// Package cache holds buffered moov payloads so that running several
// extractions against the same file pays the locate-and-fetch cost once.
package cache

import (
	"sync"

	"mp4probe/internal/logger"
)

// defaultCapacity bounds how many movie payloads are kept. Entries are
// evicted in insertion order once the bound is hit.
const defaultCapacity = 4

// MoovCache is a thread-safe, bounded in-memory cache of moov payloads
// keyed by source identity (file path or URL).
type MoovCache struct {
	mutex    sync.RWMutex
	entries  map[string][]byte
	order    []string
	capacity int
	logger   logger.Logger
}

// New creates a MoovCache. A nil logger is replaced with a no-op one.
func New(log logger.Logger) *MoovCache {
	if log == nil {
		log = logger.Nop{}
	}
	return &MoovCache{
		entries:  make(map[string][]byte),
		capacity: defaultCapacity,
		logger:   log,
	}
}

// Get retrieves a cached moov payload.
func (c *MoovCache) Get(key string) ([]byte, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	data, found := c.entries[key]
	return data, found
}

// Set stores a moov payload, evicting the oldest entry when full. The
// payload is read-only after acquisition, so the cache stores it without
// copying.
func (c *MoovCache) Set(key string, data []byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.entries[key]; !exists {
		for len(c.order) >= c.capacity {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
			c.logger.Debugf("evicted cached moov for %s", oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = data
	c.logger.Debugf("cached moov for %s, size: %d bytes", key, len(data))
}
