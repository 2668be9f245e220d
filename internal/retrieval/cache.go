// Package retrieval implements the retrieval manager: cached semantic
// search, hybrid and context-aware search, reranking, and RAG generation.
package retrieval

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/loomworks/loom/internal/document"
)

// DefaultCacheSize bounds the retrieval cache when the caller passes 0.
const DefaultCacheSize = 100

type cacheEntry struct {
	results      []document.ScoredDocument
	topK         int // 0 means "all"
	lastAccessed time.Time
}

// Cache memoizes retrieval results keyed by normalized query and topK,
// evicting the least recently accessed entry at capacity.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	maxSize int

	hits   int64
	misses int64
}

// NewCache creates a retrieval cache.
func NewCache(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	return &Cache{
		entries: make(map[string]*cacheEntry),
		maxSize: maxSize,
	}
}

// cacheKey normalizes the query and encodes the requested size.
func cacheKey(query string, topK int) string {
	q := strings.ToLower(strings.TrimSpace(query))
	if topK <= 0 {
		return q + ":all"
	}
	return fmt.Sprintf("%s:%d", q, topK)
}

// Get returns cached results for the query. A request for fewer results
// than a cached entry holds is served by slicing; a request for more is a
// miss, never widened.
func (c *Cache) Get(query string, topK int) ([]document.ScoredDocument, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Exact key first, then any wider entry for the same query.
	for _, key := range []string{cacheKey(query, topK), cacheKey(query, 0)} {
		entry, ok := c.entries[key]
		if !ok {
			continue
		}
		if topK > 0 && entry.topK > 0 && entry.topK < topK {
			continue // cached entry is narrower than requested
		}
		entry.lastAccessed = time.Now()
		c.hits++

		results := entry.results
		if topK > 0 && len(results) > topK {
			results = results[:topK]
		}
		out := make([]document.ScoredDocument, len(results))
		copy(out, results)
		return out, true
	}
	c.misses++
	return nil, false
}

// Put stores a copy of the results so later mutation by the caller cannot
// corrupt the cache.
func (c *Cache) Put(query string, topK int, results []document.ScoredDocument) {
	cp := make([]document.ScoredDocument, len(results))
	copy(cp, results)

	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(query, topK)
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[key] = &cacheEntry{
		results:      cp,
		topK:         topK,
		lastAccessed: time.Now(),
	}
}

// evictOldest removes the least recently accessed entry. Caller holds the
// lock.
func (c *Cache) evictOldest() {
	var (
		oldestKey  string
		oldestTime time.Time
		first      = true
	)
	for key, entry := range c.entries {
		if first || entry.lastAccessed.Before(oldestTime) {
			oldestKey, oldestTime, first = key, entry.lastAccessed, false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
