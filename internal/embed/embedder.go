// Package embed turns text into embeddings via an LLM provider, with an LRU
// cache and a lossless batch processor for document collections.
package embed

import (
	"context"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/loomworks/loom/internal/embedding"
	"github.com/loomworks/loom/internal/errors"
	"github.com/loomworks/loom/internal/llm"
)

// Embedder produces an embedding for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) (embedding.Vector, error)
}

// ProviderEmbedder adapts an llm.Provider to the Embedder interface.
// Provider failures are mapped into the error taxonomy; transient ones
// (rate limits, timeouts) are retried with backoff when a retry config is
// set.
type ProviderEmbedder struct {
	provider llm.Provider
	retry    errors.RetryConfig
}

// ProviderEmbedderOption configures a ProviderEmbedder.
type ProviderEmbedderOption func(*ProviderEmbedder)

// WithRetry enables backoff retries for transient provider failures.
func WithRetry(cfg errors.RetryConfig) ProviderEmbedderOption {
	return func(e *ProviderEmbedder) { e.retry = cfg }
}

// NewProviderEmbedder wraps a provider as an Embedder. Retries are off
// unless WithRetry is given.
func NewProviderEmbedder(p llm.Provider, opts ...ProviderEmbedderOption) *ProviderEmbedder {
	e := &ProviderEmbedder{provider: p}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Embed requests an embedding from the underlying provider.
func (e *ProviderEmbedder) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.ValidationError("text cannot be empty", "text")
	}
	var vec embedding.Vector
	err := errors.Retry(ctx, e.retry, func() error {
		v, err := e.provider.Embeddings(ctx, text)
		if err != nil {
			return errors.MapProviderError(e.provider.Name(), err)
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// CachedEmbedder memoizes embeddings by exact text in a bounded LRU.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, embedding.Vector]

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedEmbedder wraps an Embedder with an LRU cache of the given size.
func NewCachedEmbedder(inner Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, embedding.Vector](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector when present, delegating otherwise.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	if vec, ok := e.cache.Get(text); ok {
		e.hits.Add(1)
		out := make(embedding.Vector, len(vec))
		copy(out, vec)
		return out, nil
	}
	e.misses.Add(1)

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	stored := make(embedding.Vector, len(vec))
	copy(stored, vec)
	e.cache.Add(text, stored)
	return vec, nil
}

// Stats returns cache hit and miss counts.
func (e *CachedEmbedder) Stats() (hits, misses int64) {
	return e.hits.Load(), e.misses.Load()
}

// Verify interface implementations.
var (
	_ Embedder = (*ProviderEmbedder)(nil)
	_ Embedder = (*CachedEmbedder)(nil)
)
