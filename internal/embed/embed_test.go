package embed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/document"
	"github.com/loomworks/loom/internal/embedding"
	"github.com/loomworks/loom/internal/errors"
	"github.com/loomworks/loom/internal/llm"
)

func TestProviderEmbedder_Embed(t *testing.T) {
	p := llm.NewMockProvider("mock", 16)
	e := NewProviderEmbedder(p)

	vec, err := e.Embed(context.Background(), "some text")
	require.NoError(t, err)
	assert.Len(t, vec, 16)
}

func TestProviderEmbedder_EmptyText(t *testing.T) {
	e := NewProviderEmbedder(llm.NewMockProvider("mock", 16))
	_, err := e.Embed(context.Background(), "   ")
	assert.True(t, errors.IsValidation(err))
}

func TestProviderEmbedder_WrapsProviderError(t *testing.T) {
	p := llm.NewMockProvider("flaky", 16)
	p.EmbedFunc = func(ctx context.Context, text string) (embedding.Vector, error) {
		return nil, errors.NetworkError("connection refused", 0, nil)
	}
	e := NewProviderEmbedder(p)

	_, err := e.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, errors.KindProvider, errors.KindOf(err))
}

func TestProviderEmbedder_RetriesTransientFailures(t *testing.T) {
	p := llm.NewMockProvider("flaky", 16)
	p.EmbedFunc = func(ctx context.Context, text string) (embedding.Vector, error) {
		if p.EmbedCalls < 3 {
			return nil, errors.New(errors.ErrCodeRateLimited, "rate limit exceeded", nil)
		}
		return make(embedding.Vector, 16), nil
	}
	e := NewProviderEmbedder(p, WithRetry(errors.RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}))

	vec, err := e.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, vec, 16)
	assert.Equal(t, 3, p.EmbedCalls, "two rate-limited attempts, then success")
}

func TestCachedEmbedder_HitSkipsProvider(t *testing.T) {
	p := llm.NewMockProvider("mock", 16)
	e, err := NewCachedEmbedder(NewProviderEmbedder(p), 8)
	require.NoError(t, err)
	ctx := context.Background()

	v1, err := e.Embed(ctx, "repeated")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "repeated")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, p.EmbedCalls)

	hits, misses := e.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestCachedEmbedder_ReturnsCopies(t *testing.T) {
	e, err := NewCachedEmbedder(NewProviderEmbedder(llm.NewMockProvider("mock", 4)), 8)
	require.NoError(t, err)
	ctx := context.Background()

	v1, _ := e.Embed(ctx, "text")
	v1[0] = 99

	v2, _ := e.Embed(ctx, "text")
	assert.NotEqual(t, float32(99), v2[0], "cache entry must not alias caller slices")
}

func TestBatchProcessor_FillsMissingEmbeddings(t *testing.T) {
	p := llm.NewMockProvider("mock", 8)
	bp := NewBatchProcessor(NewProviderEmbedder(p), nil)

	existing := embedding.Vector{1, 0, 0, 0, 0, 0, 0, 0}
	docs := []document.Document{
		{ID: "a", Content: "alpha"},
		{ID: "b", Content: "beta", Embedding: existing},
		{ID: "c", Content: "gamma"},
	}

	out := bp.ProcessBatch(context.Background(), docs, 2)
	require.Len(t, out, 3)
	assert.NotEmpty(t, out[0].Embedding)
	assert.Equal(t, existing, out[1].Embedding, "existing embeddings pass through")
	assert.NotEmpty(t, out[2].Embedding)
	assert.Equal(t, 2, p.EmbedCalls, "only missing embeddings are requested")
}

func TestBatchProcessor_FailuresPreserveOriginals(t *testing.T) {
	p := llm.NewMockProvider("mock", 8)
	p.EmbedFunc = func(ctx context.Context, text string) (embedding.Vector, error) {
		if text == "bad" {
			return nil, errors.NetworkError("boom", 0, nil)
		}
		return make(embedding.Vector, 8), nil
	}
	bp := NewBatchProcessor(NewProviderEmbedder(p), nil)

	docs := []document.Document{
		{ID: "ok", Content: "good"},
		{ID: "fail", Content: "bad"},
	}
	out := bp.ProcessBatch(context.Background(), docs, 10)
	require.Len(t, out, 2, "no document is ever dropped")
	assert.NotEmpty(t, out[0].Embedding)
	assert.Empty(t, out[1].Embedding)
	assert.Equal(t, "fail", out[1].ID)
}

func TestBatchProcessor_ProcessCollection(t *testing.T) {
	ctx := context.Background()
	store := document.NewStore()

	col, err := store.CreateCollection(ctx, document.Collection{Name: "c"})
	require.NoError(t, err)

	pre := embedding.Vector{1, 0, 0, 0, 0, 0, 0, 0}
	_, err = store.AddDocument(ctx, document.Document{ID: "has", Content: "x", CollectionID: col.ID, Embedding: pre})
	require.NoError(t, err)
	_, err = store.AddDocument(ctx, document.Document{ID: "needs", Content: "y", CollectionID: col.ID})
	require.NoError(t, err)

	p := llm.NewMockProvider("mock", 8)
	bp := NewBatchProcessor(NewProviderEmbedder(p), nil)

	updated, err := bp.ProcessCollection(ctx, store, col.ID, 10, true)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)
	assert.Equal(t, 1, p.EmbedCalls)

	got, err := store.GetDocument(ctx, "needs")
	require.NoError(t, err)
	assert.Len(t, got.Embedding, 8)

	// Without skipExisting everything is re-embedded.
	updated, err = bp.ProcessCollection(ctx, store, col.ID, 10, false)
	require.NoError(t, err)
	assert.Equal(t, 2, updated)
	assert.Equal(t, 3, p.EmbedCalls, "both documents re-embedded")
}
