package retrieval

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/document"
)

func scoredDocs(n int) []document.ScoredDocument {
	out := make([]document.ScoredDocument, n)
	for i := range out {
		out[i] = document.ScoredDocument{
			Document: document.Document{ID: fmt.Sprintf("d%d", i)},
			Score:    float64(n - i),
		}
	}
	return out
}

func TestCache_HitAndNormalization(t *testing.T) {
	c := NewCache(10)
	c.Put("  Hello World  ", 5, scoredDocs(5))

	// Key is case- and whitespace-insensitive.
	got, ok := c.Get("hello world", 5)
	require.True(t, ok)
	assert.Len(t, got, 5)

	_, ok = c.Get("different query", 5)
	assert.False(t, ok)
}

func TestCache_SliceSmallerNeverWiden(t *testing.T) {
	c := NewCache(10)
	c.Put("q", 5, scoredDocs(5))

	got, ok := c.Get("q", 3)
	require.True(t, ok, "smaller topK is served by slicing")
	assert.Len(t, got, 3)
	assert.Equal(t, "d0", got[0].Document.ID)

	_, ok = c.Get("q", 10)
	assert.False(t, ok, "larger topK must miss, never widen")
}

func TestCache_AllEntryServesAnyTopK(t *testing.T) {
	c := NewCache(10)
	c.Put("q", 0, scoredDocs(8)) // "all" entry

	got, ok := c.Get("q", 3)
	require.True(t, ok)
	assert.Len(t, got, 3)

	got, ok = c.Get("q", 0)
	require.True(t, ok)
	assert.Len(t, got, 8)
}

func TestCache_PutStoresCopy(t *testing.T) {
	c := NewCache(10)
	original := scoredDocs(2)
	c.Put("q", 2, original)

	original[0].Document.ID = "mutated"

	got, ok := c.Get("q", 2)
	require.True(t, ok)
	assert.Equal(t, "d0", got[0].Document.ID)
}

func TestCache_EvictsLeastRecentlyAccessed(t *testing.T) {
	c := NewCache(2)
	c.Put("a", 1, scoredDocs(1))
	c.Put("b", 1, scoredDocs(1))

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := c.Get("a", 1)
	require.True(t, ok)

	c.Put("c", 1, scoredDocs(1))
	assert.Equal(t, 2, c.Len())

	_, ok = c.Get("a", 1)
	assert.True(t, ok)
	_, ok = c.Get("b", 1)
	assert.False(t, ok)
}

func TestCache_Stats(t *testing.T) {
	c := NewCache(10)
	c.Put("q", 1, scoredDocs(1))
	c.Get("q", 1)
	c.Get("nope", 1)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	c.Clear()
	assert.Zero(t, c.Len())
}
