package catalog

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"unison/pkg/models"
)

type cacheEntry struct {
	songs   []models.Song
	expires time.Time
}

// searchCache keeps search results for a fixed TTL. Any library change
// clears it.
type searchCache struct {
	mu    sync.RWMutex
	items map[string]cacheEntry
	ttl   time.Duration
	clock clock.Clock
}

func newSearchCache(ttl time.Duration, clk clock.Clock) *searchCache {
	return &searchCache{
		items: make(map[string]cacheEntry),
		ttl:   ttl,
		clock: clk,
	}
}

func (c *searchCache) get(key string) ([]models.Song, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.items[key]
	if !ok || c.clock.Now().After(entry.expires) {
		return nil, false
	}
	return entry.songs, true
}

func (c *searchCache) set(key string, songs []models.Song) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = cacheEntry{songs: songs, expires: c.clock.Now().Add(c.ttl)}
}

func (c *searchCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]cacheEntry)
}

// prune drops expired entries
func (c *searchCache) prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for key, entry := range c.items {
		if now.After(entry.expires) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

func (c *searchCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
