package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loomworks/loom/internal/document"
	"github.com/loomworks/loom/internal/embed"
	"github.com/loomworks/loom/internal/errors"
	"github.com/loomworks/loom/internal/keyword"
	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/internal/vectorstore"
)

const (
	expansionTemperature = 0.3
	maxPreviousQueries   = 5
	defaultHybridBoost   = 0.5
)

// RetrieveOptions narrow a retrieval. MinScore < 0 disables the score
// threshold; Namespace and Filters only apply to a vector-store backend.
type RetrieveOptions struct {
	TopK      int
	MinScore  float64
	Namespace string
	Filters   map[string]any
	UseCache  bool
}

// Stats is a snapshot of manager counters.
type Stats struct {
	Searches    int64
	CacheHits   int64
	CacheMisses int64
	CacheSize   int
}

// Manager coordinates embedding, search backends, reranking, and answer
// generation. It searches a document store by default and a vector store
// when one is configured.
type Manager struct {
	embedder embed.Embedder
	provider llm.Provider

	docs    *document.Store
	vectors vectorstore.Store
	kw      *keyword.Index

	cache  *Cache
	logger *slog.Logger

	searches atomic.Int64

	mu     sync.Mutex
	closed bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDocumentStore sets the document-store backend.
func WithDocumentStore(s *document.Store) ManagerOption {
	return func(m *Manager) { m.docs = s }
}

// WithVectorStore sets the vector-store backend. The keyword index is
// optional; without it, hybrid search over this backend skips the keyword
// phase.
func WithVectorStore(s vectorstore.Store, kw *keyword.Index) ManagerOption {
	return func(m *Manager) {
		m.vectors = s
		m.kw = kw
	}
}

// WithProvider sets the LLM provider used for query expansion, LLM
// reranking, and answer generation.
func WithProvider(p llm.Provider) ManagerOption {
	return func(m *Manager) { m.provider = p }
}

// WithCacheSize overrides the retrieval cache capacity.
func WithCacheSize(n int) ManagerOption {
	return func(m *Manager) { m.cache = NewCache(n) }
}

// WithManagerLogger sets the manager's logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a retrieval manager. An embedder is required; at least
// one backend must be configured before retrieval.
func NewManager(embedder embed.Embedder, opts ...ManagerOption) (*Manager, error) {
	if embedder == nil {
		return nil, errors.ValidationError("embedder cannot be nil", "embedder")
	}
	m := &Manager{
		embedder: embedder,
		cache:    NewCache(DefaultCacheSize),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.docs == nil && m.vectors == nil {
		return nil, errors.ValidationError("at least one search backend is required", "backend")
	}
	return m, nil
}

// AddDocument embeds the document if needed and indexes it in every
// configured backend. The stored copy is returned.
func (m *Manager) AddDocument(ctx context.Context, doc document.Document) (document.Document, error) {
	if len(doc.Embedding) == 0 {
		text := doc.Content
		if text == "" {
			text = doc.Title
		}
		vec, err := m.embedder.Embed(ctx, text)
		if err != nil {
			return document.Document{}, err
		}
		doc.Embedding = vec
	}

	stored := doc
	if m.docs != nil {
		var err error
		stored, err = m.docs.AddDocument(ctx, doc)
		if err != nil {
			return document.Document{}, err
		}
	}
	if m.vectors != nil {
		if stored.ID == "" {
			stored.ID = document.NewID()
		}
		if err := m.vectors.UpsertDocument(ctx, stored, ""); err != nil {
			return document.Document{}, err
		}
	}
	if m.kw != nil {
		if err := m.kw.Add(ctx, stored); err != nil {
			return document.Document{}, err
		}
	}

	m.cache.Clear() // indexed content changed; cached results are stale
	return stored, nil
}

// AddDocuments adds documents one at a time, stopping at the first error.
func (m *Manager) AddDocuments(ctx context.Context, docs []document.Document) ([]document.Document, error) {
	out := make([]document.Document, 0, len(docs))
	for _, doc := range docs {
		stored, err := m.AddDocument(ctx, doc)
		if err != nil {
			return out, err
		}
		out = append(out, stored)
	}
	return out, nil
}

// DeleteDocument removes a document from every backend.
func (m *Manager) DeleteDocument(ctx context.Context, id string) error {
	if m.docs != nil {
		if err := m.docs.DeleteDocument(ctx, id); err != nil {
			return err
		}
	}
	if m.vectors != nil {
		if err := m.vectors.Delete(ctx, id, ""); err != nil {
			return err
		}
	}
	if m.kw != nil {
		if err := m.kw.Delete(ctx, id); err != nil {
			return err
		}
	}
	m.cache.Clear()
	return nil
}

// DeleteDocuments removes documents, stopping at the first error.
func (m *Manager) DeleteDocuments(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := m.DeleteDocument(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// RetrieveRelevant embeds the query and returns the closest documents from
// the configured backend, consulting the cache when requested.
func (m *Manager) RetrieveRelevant(ctx context.Context, query string, opts RetrieveOptions) ([]document.ScoredDocument, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.ValidationError("query cannot be empty", "query")
	}
	if opts.UseCache {
		if results, ok := m.cache.Get(query, opts.TopK); ok {
			return results, nil
		}
	}
	m.searches.Add(1)

	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	var results []document.ScoredDocument
	if m.vectors != nil {
		results, err = m.vectors.FindSimilarDocuments(ctx, vec, opts.TopK, vectorstore.SearchOptions{
			Namespace: opts.Namespace,
			Threshold: opts.MinScore,
			Filters:   opts.Filters,
		})
	} else {
		results, err = m.docs.FindSimilar(ctx, vec, opts.TopK, opts.MinScore)
	}
	if err != nil {
		return nil, err
	}

	if opts.UseCache {
		m.cache.Put(query, opts.TopK, results)
	}
	return results, nil
}

// HybridSearch runs semantic and keyword searches in parallel and merges
// them. Duplicates gain keywordScore * boost on top of their semantic
// score; keyword-only hits enter with keywordScore * (1 - boost).
func (m *Manager) HybridSearch(ctx context.Context, query string, nSem, nKw, nFinal int, boost float64, opts RetrieveOptions) ([]document.ScoredDocument, error) {
	if boost < 0 || boost > 1 {
		return nil, errors.ValidationError("boost must be in [0, 1]", "boost")
	}

	var (
		semantic []document.ScoredDocument
		keywords []document.ScoredDocument
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		semOpts := opts
		semOpts.TopK = nSem
		semOpts.UseCache = false
		var err error
		semantic, err = m.RetrieveRelevant(gctx, query, semOpts)
		return err
	})
	g.Go(func() error {
		var err error
		keywords, err = m.keywordSearch(gctx, query, nKw)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]document.ScoredDocument, len(semantic)+len(keywords))
	order := make([]string, 0, len(semantic)+len(keywords))
	for _, s := range semantic {
		merged[s.Document.ID] = s
		order = append(order, s.Document.ID)
	}
	for _, k := range keywords {
		if existing, ok := merged[k.Document.ID]; ok {
			existing.Score += k.Score * boost
			merged[k.Document.ID] = existing
		} else {
			merged[k.Document.ID] = document.ScoredDocument{
				Document: k.Document,
				Score:    k.Score * (1 - boost),
			}
			order = append(order, k.Document.ID)
		}
	}

	out := make([]document.ScoredDocument, 0, len(order))
	for _, id := range order {
		out = append(out, merged[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return truncate(out, nFinal), nil
}

// keywordSearch dispatches to the backend's native keyword search. A vector
// backend without a keyword index skips the phase entirely.
func (m *Manager) keywordSearch(ctx context.Context, query string, limit int) ([]document.ScoredDocument, error) {
	if m.vectors != nil {
		if m.kw == nil {
			return nil, nil
		}
		hits, err := m.kw.Search(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		out := make([]document.ScoredDocument, 0, len(hits))
		for _, h := range hits {
			doc, err := m.vectors.GetDocument(ctx, h.DocID, "")
			if err != nil {
				continue // indexed but since deleted from the vector store
			}
			out = append(out, document.ScoredDocument{Document: doc, Score: h.Score})
		}
		return out, nil
	}
	return m.docs.SearchByContent(ctx, query, limit), nil
}

// ContextAwareSearch expands the query using recent conversation history
// before searching. Without history, or when expansion fails, it falls back
// to a plain retrieval of the original query.
func (m *Manager) ContextAwareSearch(ctx context.Context, query string, prevQueries []string, opts RetrieveOptions) ([]document.ScoredDocument, error) {
	if len(prevQueries) == 0 || m.provider == nil {
		return m.RetrieveRelevant(ctx, query, opts)
	}
	if len(prevQueries) > maxPreviousQueries {
		prevQueries = prevQueries[len(prevQueries)-maxPreviousQueries:]
	}

	resp, err := m.provider.Complete(ctx, llm.CompletionRequest{
		Prompt:      buildExpansionPrompt(query, prevQueries),
		Temperature: expansionTemperature,
	})
	if err != nil {
		m.logger.Warn("query expansion failed, using original query", "error", err)
		return m.RetrieveRelevant(ctx, query, opts)
	}

	expanded := strings.TrimSpace(resp.Text)
	if expanded == "" {
		expanded = query
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = 10
	}
	return m.HybridSearch(ctx, expanded, topK, topK, topK, defaultHybridBoost, opts)
}

// Rerank reorders candidates by relevance to the query. The lightweight
// algorithm scores locally with BM25; otherwise the configured provider is
// asked for an ordering.
func (m *Manager) Rerank(ctx context.Context, query string, candidates []document.ScoredDocument, topK int, lightweight bool) []document.ScoredDocument {
	if lightweight || m.provider == nil {
		return rerankLightweight(query, candidates, topK)
	}
	return rerankLLM(ctx, m.provider, query, candidates, topK)
}

// TimeWeightedRetrieval blends recency into relevance: candidates are
// over-fetched, then scored by recencyScore*w + indexScore*(1-w), where
// indexScore preserves the original relevance ordering.
func (m *Manager) TimeWeightedRetrieval(ctx context.Context, query string, topK int, recencyWeight float64, freshnessWindow time.Duration, opts RetrieveOptions) ([]document.ScoredDocument, error) {
	if recencyWeight < 0 || recencyWeight > 1 {
		return nil, errors.ValidationError("recency weight must be in [0, 1]", "recencyWeight")
	}
	if topK <= 0 {
		topK = 10
	}

	fetch := opts
	fetch.TopK = 2 * topK
	fetch.UseCache = false
	candidates, err := m.RetrieveRelevant(ctx, query, fetch)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return candidates, nil
	}

	now := time.Now()
	n := len(candidates)
	rescored := make([]document.ScoredDocument, n)
	for i, c := range candidates {
		recency := 0.0
		if !c.Document.UpdatedAt.IsZero() && freshnessWindow > 0 {
			age := now.Sub(c.Document.UpdatedAt)
			if r := 1 - float64(age)/float64(freshnessWindow); r > 0 {
				recency = r
			}
		}
		indexScore := 1 - float64(i)/float64(n)
		rescored[i] = document.ScoredDocument{
			Document: c.Document,
			Score:    recency*recencyWeight + indexScore*(1-recencyWeight),
		}
	}
	sort.SliceStable(rescored, func(i, j int) bool { return rescored[i].Score > rescored[j].Score })
	return truncate(rescored, topK), nil
}

// MultiCollectionSearch fans out one similarity search per collection
// concurrently and concatenates the hits, optionally reranking the union.
// Requires a document-store backend.
func (m *Manager) MultiCollectionSearch(ctx context.Context, query string, collectionIDs []string, topK int, rerank bool) ([]document.ScoredDocument, error) {
	if m.docs == nil {
		return nil, errors.StateError("multi-collection search requires a document store")
	}
	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	m.searches.Add(1)

	results := make([][]document.ScoredDocument, len(collectionIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, colID := range collectionIDs {
		i, colID := i, colID
		g.Go(func() error {
			hits, err := m.docs.FindSimilarInCollection(gctx, colID, vec, topK, -1)
			if err != nil {
				return err
			}
			results[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []document.ScoredDocument
	for _, hits := range results {
		out = append(out, hits...)
	}
	if rerank {
		return rerankLightweight(query, out, topK), nil
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return truncate(out, topK), nil
}

// RetrieveAndRerank over-fetches candidates and reranks them down to topK.
func (m *Manager) RetrieveAndRerank(ctx context.Context, query string, topK int, lightweight bool, opts RetrieveOptions) ([]document.ScoredDocument, error) {
	if topK <= 0 {
		topK = 10
	}
	fetch := opts
	fetch.TopK = 2 * topK
	candidates, err := m.RetrieveRelevant(ctx, query, fetch)
	if err != nil {
		return nil, err
	}
	return m.Rerank(ctx, query, candidates, topK, lightweight), nil
}

// RetrieveAndGenerate answers the query from retrieved context. Zero
// retrieved documents fall back to an uncontexted prompt; provider failures
// yield a fixed apology instead of an error.
func (m *Manager) RetrieveAndGenerate(ctx context.Context, query string, topK int, opts RetrieveOptions) (string, []document.ScoredDocument, error) {
	if m.provider == nil {
		return "", nil, errors.StateError("answer generation requires an LLM provider")
	}
	fetch := opts
	fetch.TopK = topK
	sources, err := m.RetrieveRelevant(ctx, query, fetch)
	if err != nil {
		return "", nil, err
	}

	resp, err := m.provider.Complete(ctx, llm.CompletionRequest{
		Prompt: buildRAGPrompt(query, sources),
	})
	if err != nil {
		m.logger.Warn("answer generation failed", "error", err)
		return generationFallback, sources, nil
	}
	return resp.Text, sources, nil
}

// MultiChunkAnswer retrieves chunk documents, regroups them by parent in
// chunk order, and generates an answer over the merged passages.
func (m *Manager) MultiChunkAnswer(ctx context.Context, query string, topK int, opts RetrieveOptions) (string, []document.ScoredDocument, error) {
	if m.provider == nil {
		return "", nil, errors.StateError("answer generation requires an LLM provider")
	}
	if topK <= 0 {
		topK = 5
	}
	fetch := opts
	fetch.TopK = 2 * topK
	chunks, err := m.RetrieveRelevant(ctx, query, fetch)
	if err != nil {
		return "", nil, err
	}

	merged := mergeChunks(chunks)
	merged = truncate(merged, topK)

	resp, err := m.provider.Complete(ctx, llm.CompletionRequest{
		Prompt: buildRAGPrompt(query, merged),
	})
	if err != nil {
		m.logger.Warn("answer generation failed", "error", err)
		return generationFallback, merged, nil
	}
	return resp.Text, merged, nil
}

// mergeChunks folds chunk documents sharing a parent into one document per
// parent, content joined in chunk-index order, keeping the best score.
// Non-chunk documents pass through unchanged.
func mergeChunks(chunks []document.ScoredDocument) []document.ScoredDocument {
	type group struct {
		docs  []document.ScoredDocument
		score float64
	}
	groups := make(map[string]*group)
	var order []string

	keyFor := func(d document.ScoredDocument) string {
		if parent, ok := d.Document.Metadata["parent_document_id"].(string); ok && parent != "" {
			return parent
		}
		return d.Document.ID
	}

	for _, c := range chunks {
		key := keyFor(c)
		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
			order = append(order, key)
		}
		g.docs = append(g.docs, c)
		if c.Score > g.score {
			g.score = c.Score
		}
	}

	out := make([]document.ScoredDocument, 0, len(order))
	for _, key := range order {
		g := groups[key]
		sort.SliceStable(g.docs, func(i, j int) bool {
			return chunkIndex(g.docs[i]) < chunkIndex(g.docs[j])
		})
		merged := g.docs[0].Document
		if len(g.docs) > 1 {
			parts := make([]string, 0, len(g.docs))
			for _, d := range g.docs {
				parts = append(parts, d.Document.Content)
			}
			merged.Content = strings.Join(parts, "\n")
		}
		out = append(out, document.ScoredDocument{Document: merged, Score: g.score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func chunkIndex(d document.ScoredDocument) int {
	switch v := d.Document.Metadata["chunk_index"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// ClearCache drops all cached retrieval results.
func (m *Manager) ClearCache() {
	m.cache.Clear()
}

// GetStats returns a snapshot of manager counters.
func (m *Manager) GetStats() Stats {
	hits, misses := m.cache.Stats()
	return Stats{
		Searches:    m.searches.Load(),
		CacheHits:   hits,
		CacheMisses: misses,
		CacheSize:   m.cache.Len(),
	}
}

// Close shuts the manager down. Backends are owned by the caller and are
// not closed here.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cache.Clear()
	return nil
}
