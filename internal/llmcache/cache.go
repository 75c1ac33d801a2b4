package llmcache

import (
	"container/list"
	"sync"
	"time"
)

const (
	// DefaultMaxSize is the default number of entries kept in memory
	DefaultMaxSize = 256
	// DefaultTTL is the default time-to-live for cache entries
	DefaultTTL = time.Hour
)

// CacheStats is a snapshot of cache performance
type CacheStats struct {
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	Evictions      int64   `json:"evictions"`
	Size           int     `json:"size"`
	MaxSize        int     `json:"max_size"`
	TotalSizeBytes int64   `json:"total_size_bytes"`
	HitRate        float64 `json:"hit_rate"`
}

func (s *CacheStats) updateHitRate() {
	total := s.Hits + s.Misses
	if total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
}

// LRUCache is a thread-safe in-memory LRU cache of completion results.
// Expired entries are dropped when read.
type LRUCache struct {
	maxSize int
	items   map[string]*list.Element
	order   *list.List // front is most recently used
	mu      sync.Mutex
	stats   CacheStats
}

// NewLRUCache creates a cache holding at most maxSize entries
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &LRUCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		stats:   CacheStats{MaxSize: maxSize},
	}
}

// Get returns the live entry for key
func (c *LRUCache) Get(key string) (*CachedResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		c.stats.updateHitRate()
		return nil, false
	}

	entry := elem.Value.(*CachedResponse)
	if entry.IsExpired() {
		c.removeElement(elem)
		c.stats.Misses++
		c.stats.updateHitRate()
		return nil, false
	}

	c.order.MoveToFront(elem)
	entry.RecordAccess()
	c.stats.Hits++
	c.stats.updateHitRate()
	return entry, true
}

// Put stores value under key, evicting the least recently used entry when full
func (c *LRUCache) Put(key string, value *CachedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value.Key = key
	if value.SizeBytes == 0 {
		value.SizeBytes = value.EstimateSize()
	}

	if elem, ok := c.items[key]; ok {
		old := elem.Value.(*CachedResponse)
		c.stats.TotalSizeBytes += value.SizeBytes - old.SizeBytes
		elem.Value = value
		c.order.MoveToFront(elem)
		return
	}

	for c.order.Len() >= c.maxSize {
		c.removeElement(c.order.Back())
		c.stats.Evictions++
	}

	c.items[key] = c.order.PushFront(value)
	c.stats.TotalSizeBytes += value.SizeBytes
}

// Delete removes key from the cache
func (c *LRUCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Clear removes every entry; statistics are kept
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.stats.TotalSizeBytes = 0
}

// CleanupExpired removes expired entries and returns how many were dropped
func (c *LRUCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*CachedResponse).IsExpired() {
			c.removeElement(elem)
			removed++
		}
		elem = next
	}
	return removed
}

// Size returns the number of entries
func (c *LRUCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the cache statistics
func (c *LRUCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Size = c.order.Len()
	return s
}

func (c *LRUCache) removeElement(elem *list.Element) {
	entry := c.order.Remove(elem).(*CachedResponse)
	delete(c.items, entry.Key)
	c.stats.TotalSizeBytes -= entry.SizeBytes
}
