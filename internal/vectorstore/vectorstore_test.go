package vectorstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/document"
	"github.com/loomworks/loom/internal/embedding"
	"github.com/loomworks/loom/internal/errors"
)

// both returns one store per backend so contract tests cover them equally.
func both(t *testing.T) map[string]Store {
	t.Helper()
	mem, err := NewMemoryStore(3)
	require.NoError(t, err)
	hn, err := NewHNSWStore(3)
	require.NoError(t, err)
	return map[string]Store{"memory": mem, "hnsw": hn}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range both(t) {
		t.Run(name, func(t *testing.T) {
			vec := embedding.Vector{1, 0, 0}
			meta := map[string]any{"lang": "go"}
			require.NoError(t, s.StoreEmbedding(ctx, "a", vec, meta, ""))

			ok, err := s.Exists(ctx, "a", "")
			require.NoError(t, err)
			assert.True(t, ok)

			got, err := s.GetEmbedding(ctx, "a", "default")
			require.NoError(t, err)
			assert.Equal(t, vec, got.Vector)
			assert.Equal(t, "go", got.Metadata["lang"])

			_, err = s.GetEmbedding(ctx, "missing", "")
			assert.True(t, errors.IsNotFound(err))
		})
	}
}

func TestStore_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	for name, s := range both(t) {
		t.Run(name, func(t *testing.T) {
			err := s.StoreEmbedding(ctx, "a", embedding.Vector{1, 0}, nil, "")
			assert.True(t, errors.IsValidation(err))

			_, err = s.FindSimilar(ctx, embedding.Vector{1, 0}, 5, SearchOptions{Threshold: -1})
			assert.True(t, errors.IsValidation(err))
		})
	}
}

func TestStore_FindSimilarOrdering(t *testing.T) {
	ctx := context.Background()
	for name, s := range both(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.StoreEmbedding(ctx, "exact", embedding.Vector{1, 0, 0}, nil, ""))
			require.NoError(t, s.StoreEmbedding(ctx, "close", embedding.Vector{1, 0.2, 0}, nil, ""))
			require.NoError(t, s.StoreEmbedding(ctx, "far", embedding.Vector{0, 1, 0}, nil, ""))

			hits, err := s.FindSimilar(ctx, embedding.Vector{1, 0, 0}, 2, SearchOptions{Threshold: -1})
			require.NoError(t, err)
			require.Len(t, hits, 2)
			assert.Equal(t, "exact", hits[0].ID)
			assert.Equal(t, "close", hits[1].ID)
			assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
		})
	}
}

func TestStore_ThresholdAndFilters(t *testing.T) {
	ctx := context.Background()
	for name, s := range both(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.StoreEmbedding(ctx, "a", embedding.Vector{1, 0, 0}, map[string]any{"tier": "hot"}, ""))
			require.NoError(t, s.StoreEmbedding(ctx, "b", embedding.Vector{0.9, 0.1, 0}, map[string]any{"tier": "cold"}, ""))
			require.NoError(t, s.StoreEmbedding(ctx, "c", embedding.Vector{0, 1, 0}, map[string]any{"tier": "hot"}, ""))

			hits, err := s.FindSimilar(ctx, embedding.Vector{1, 0, 0}, 10, SearchOptions{
				Threshold: 0.5,
				Filters:   map[string]any{"tier": "hot"},
			})
			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.Equal(t, "a", hits[0].ID)
		})
	}
}

func TestStore_Namespaces(t *testing.T) {
	ctx := context.Background()
	for name, s := range both(t) {
		t.Run(name, func(t *testing.T) {
			// Namespaces are created on first write.
			require.NoError(t, s.StoreEmbedding(ctx, "a", embedding.Vector{1, 0, 0}, nil, "team-a"))
			require.NoError(t, s.StoreEmbedding(ctx, "a", embedding.Vector{0, 1, 0}, nil, "team-b"))

			names, err := s.ListNamespaces(ctx)
			require.NoError(t, err)
			assert.Contains(t, names, "default")
			assert.Contains(t, names, "team-a")
			assert.Contains(t, names, "team-b")

			hits, err := s.FindSimilar(ctx, embedding.Vector{1, 0, 0}, 10, SearchOptions{Namespace: "team-a", Threshold: -1})
			require.NoError(t, err)
			require.Len(t, hits, 1)

			require.NoError(t, s.DeleteNamespace(ctx, "team-a"))
			ok, err := s.Exists(ctx, "a", "team-a")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStore_BatchIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, s := range both(t) {
		t.Run(name, func(t *testing.T) {
			docs := []VectorDocument{
				{ID: "x", Vector: embedding.Vector{1, 0, 0}},
				{ID: "x", Vector: embedding.Vector{0, 1, 0}}, // same id replaces
			}
			require.NoError(t, s.StoreEmbeddingBatch(ctx, docs, ""))
			require.NoError(t, s.StoreEmbeddingBatch(ctx, docs, ""))

			got, err := s.GetEmbedding(ctx, "x", "")
			require.NoError(t, err)
			assert.Equal(t, embedding.Vector{0, 1, 0}, got.Vector)

			require.NoError(t, s.DeleteBatch(ctx, []string{"x", "x", "never"}, ""))
			ok, err := s.Exists(ctx, "x", "")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStore_UpsertDocumentRequiresEmbedding(t *testing.T) {
	ctx := context.Background()
	for name, s := range both(t) {
		t.Run(name, func(t *testing.T) {
			err := s.UpsertDocument(ctx, document.Document{ID: "d", Content: "text"}, "")
			assert.True(t, errors.IsValidation(err))
		})
	}
}

func TestStore_DocumentRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)
	for name, s := range both(t) {
		t.Run(name, func(t *testing.T) {
			doc := document.Document{
				ID:           "d1",
				Title:        "Title",
				Content:      "body text",
				Embedding:    embedding.Vector{1, 0, 0},
				Metadata:     map[string]any{"k": "v"},
				CollectionID: "col",
				UpdatedAt:    now,
			}
			require.NoError(t, s.UpsertDocument(ctx, doc, ""))

			got, err := s.GetDocument(ctx, "d1", "")
			require.NoError(t, err)
			assert.Equal(t, doc.Title, got.Title)
			assert.Equal(t, doc.Content, got.Content)
			assert.Equal(t, doc.CollectionID, got.CollectionID)
			assert.Equal(t, "v", got.Metadata["k"])
			assert.True(t, got.UpdatedAt.Equal(now))

			hits, err := s.FindSimilarDocuments(ctx, embedding.Vector{1, 0, 0}, 5, SearchOptions{Threshold: -1})
			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.Equal(t, "Title", hits[0].Document.Title)
		})
	}
}

func TestMemoryStore_Capacity(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryStore(2, WithCapacity(2))
	require.NoError(t, err)

	require.NoError(t, s.StoreEmbedding(ctx, "a", embedding.Vector{1, 0}, nil, ""))
	require.NoError(t, s.StoreEmbedding(ctx, "b", embedding.Vector{0, 1}, nil, "other"))

	// Replacing an existing id is fine at capacity.
	require.NoError(t, s.StoreEmbedding(ctx, "a", embedding.Vector{0, 1}, nil, ""))

	err = s.StoreEmbedding(ctx, "c", embedding.Vector{1, 1}, nil, "")
	require.Error(t, err)
	assert.Equal(t, errors.KindState, errors.KindOf(err))
}

func TestMemoryStore_SnapshotPersistence(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/vectors.json"

	s, err := NewMemoryStore(2, WithSnapshot(path))
	require.NoError(t, err)
	require.NoError(t, s.StoreEmbedding(ctx, "a", embedding.Vector{1, 0}, map[string]any{"k": "v"}, "ns"))

	s2, err := NewMemoryStore(2, WithSnapshot(path))
	require.NoError(t, err)

	got, err := s2.GetEmbedding(ctx, "a", "ns")
	require.NoError(t, err)
	assert.Equal(t, embedding.Vector{1, 0}, got.Vector)
	assert.Equal(t, "v", got.Metadata["k"])

	// Dimension mismatch on load is rejected.
	_, err = NewMemoryStore(5, WithSnapshot(path))
	assert.True(t, errors.IsValidation(err))
}

func TestMemoryStore_ZeroNormScoresZero(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryStore(2)
	require.NoError(t, err)

	require.NoError(t, s.StoreEmbedding(ctx, "zero", embedding.Vector{0, 0}, nil, ""))
	hits, err := s.FindSimilar(ctx, embedding.Vector{1, 0}, 5, SearchOptions{Threshold: -1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Zero(t, hits[0].Score)
}

func TestFactory(t *testing.T) {
	s, err := New(BackendMemory, 4)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = New(BackendHNSW, 4)
	require.NoError(t, err)
	assert.IsType(t, &HNSWStore{}, s)

	s, err = New("", 4)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s, "empty name selects the in-memory backend")

	_, err = New("bogus", 4)
	assert.True(t, errors.IsValidation(err))
}

func TestFactory_RegisterBackend(t *testing.T) {
	require.NoError(t, RegisterBackend("custom", func(dimension int) (Store, error) {
		return NewMemoryStore(dimension)
	}))
	defer UnregisterBackend("custom")

	assert.Equal(t, []string{"custom", BackendHNSW, BackendMemory}, Backends())

	s, err := New("custom", 4)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	err = RegisterBackend("custom", func(dimension int) (Store, error) {
		return NewMemoryStore(dimension)
	})
	require.Error(t, err, "duplicate registration is rejected")
}

func TestStore_ClosedRejectsWrites(t *testing.T) {
	ctx := context.Background()
	for name, s := range both(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Close())
			err := s.StoreEmbedding(ctx, "a", embedding.Vector{1, 0, 0}, nil, "")
			require.Error(t, err)
			assert.Equal(t, errors.KindState, errors.KindOf(err))
		})
	}
}
