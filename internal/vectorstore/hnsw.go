package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"github.com/loomworks/loom/internal/document"
	"github.com/loomworks/loom/internal/embedding"
	"github.com/loomworks/loom/internal/errors"
)

// HNSWStore is a vector store backed by one HNSW graph per namespace.
// Approximate search replaces the exhaustive scan of MemoryStore, trading
// exact recall for sublinear lookups on large namespaces.
type HNSWStore struct {
	mu sync.RWMutex

	dimension int
	m         int
	efSearch  int

	namespaces map[string]*hnswNamespace
	closed     bool
}

// hnswNamespace couples a graph with its id mappings and metadata.
// Deletions are lazy: the node stays in the graph but loses its mapping,
// which avoids known issues removing the last graph node.
type hnswNamespace struct {
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	records map[string]VectorDocument
	nextKey uint64
}

// HNSWOption configures an HNSWStore.
type HNSWOption func(*HNSWStore)

// WithHNSWParams overrides graph construction parameters.
func WithHNSWParams(m, efSearch int) HNSWOption {
	return func(s *HNSWStore) {
		s.m = m
		s.efSearch = efSearch
	}
}

// NewHNSWStore creates an HNSW-backed store for vectors of the given
// dimension.
func NewHNSWStore(dimension int, opts ...HNSWOption) (*HNSWStore, error) {
	if dimension <= 0 {
		return nil, errors.ValidationError("dimension must be positive", "dimension")
	}
	s := &HNSWStore{
		dimension:  dimension,
		m:          16,
		efSearch:   20,
		namespaces: make(map[string]*hnswNamespace),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.namespaces[DefaultNamespace] = s.newNamespace()
	return s, nil
}

func (s *HNSWStore) newNamespace() *hnswNamespace {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = s.m
	graph.EfSearch = s.efSearch
	return &hnswNamespace{
		graph:   graph,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		records: make(map[string]VectorDocument),
	}
}

// StoreEmbedding stores or replaces one embedding.
func (s *HNSWStore) StoreEmbedding(ctx context.Context, id string, vec embedding.Vector, metadata map[string]any, namespace string) error {
	return s.StoreEmbeddingBatch(ctx, []VectorDocument{{ID: id, Vector: vec, Metadata: metadata}}, namespace)
}

// StoreEmbeddingBatch inserts embeddings; an existing id is replaced.
func (s *HNSWStore) StoreEmbeddingBatch(ctx context.Context, docs []VectorDocument, namespace string) error {
	ns := normalizeNamespace(namespace)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.StateError("vector store is closed")
	}

	bucket, ok := s.namespaces[ns]
	if !ok {
		bucket = s.newNamespace()
		s.namespaces[ns] = bucket
	}

	for _, doc := range docs {
		if doc.ID == "" {
			return errors.ValidationError("embedding id cannot be empty", "id")
		}
		if len(doc.Vector) != s.dimension {
			return errors.ValidationError(
				fmt.Sprintf("dimension mismatch: store holds %d, got %d", s.dimension, len(doc.Vector)), "vector")
		}

		if oldKey, exists := bucket.idMap[doc.ID]; exists {
			delete(bucket.keyMap, oldKey) // lazy delete: orphan the old node
			delete(bucket.idMap, doc.ID)
		}
		key := bucket.nextKey
		bucket.nextKey++

		vec := make(embedding.Vector, len(doc.Vector))
		copy(vec, doc.Vector)
		bucket.graph.Add(hnsw.MakeNode(key, vec))
		bucket.idMap[doc.ID] = key
		bucket.keyMap[key] = doc.ID
		bucket.records[doc.ID] = VectorDocument{ID: doc.ID, Vector: vec, Metadata: cloneMeta(doc.Metadata)}
	}
	return nil
}

// FindSimilar runs an approximate nearest-neighbor search. Metadata filters
// and thresholds are applied after the graph search, so heavily filtered
// namespaces may return fewer than limit hits.
func (s *HNSWStore) FindSimilar(ctx context.Context, query embedding.Vector, limit int, opts SearchOptions) ([]ScoredEmbedding, error) {
	if len(query) != s.dimension {
		return nil, errors.ValidationError(
			fmt.Sprintf("dimension mismatch: store holds %d, got %d", s.dimension, len(query)), "query")
	}
	ns := normalizeNamespace(opts.Namespace)
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket, ok := s.namespaces[ns]
	if !ok || bucket.graph.Len() == 0 {
		return []ScoredEmbedding{}, nil
	}

	// Over-fetch to compensate for orphaned nodes and post-filters.
	k := limit * 2
	if k < limit {
		k = limit
	}
	nodes := bucket.graph.Search(query, k)

	hits := make([]ScoredEmbedding, 0, len(nodes))
	for _, node := range nodes {
		id, ok := bucket.keyMap[node.Key]
		if !ok {
			continue // lazily deleted
		}
		rec := bucket.records[id]
		if opts.Filters != nil && !matchesFilters(rec.Metadata, opts.Filters) {
			continue
		}
		score := 1 - float64(hnsw.CosineDistance(query, node.Value))
		if opts.Threshold >= 0 && score < opts.Threshold {
			continue
		}
		hits = append(hits, ScoredEmbedding{
			ID:       id,
			Vector:   rec.Vector,
			Metadata: cloneMeta(rec.Metadata),
			Score:    score,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Delete removes one embedding lazily.
func (s *HNSWStore) Delete(ctx context.Context, id string, namespace string) error {
	return s.DeleteBatch(ctx, []string{id}, namespace)
}

// DeleteBatch removes embeddings lazily and idempotently.
func (s *HNSWStore) DeleteBatch(ctx context.Context, ids []string, namespace string) error {
	ns := normalizeNamespace(namespace)

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.namespaces[ns]
	if !ok {
		return nil
	}
	for _, id := range ids {
		if key, exists := bucket.idMap[id]; exists {
			delete(bucket.keyMap, key)
			delete(bucket.idMap, id)
			delete(bucket.records, id)
		}
	}
	return nil
}

// Exists reports whether an id is present.
func (s *HNSWStore) Exists(ctx context.Context, id string, namespace string) (bool, error) {
	ns := normalizeNamespace(namespace)
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket, ok := s.namespaces[ns]
	if !ok {
		return false, nil
	}
	_, exists := bucket.idMap[id]
	return exists, nil
}

// GetEmbedding returns a copy of the stored record.
func (s *HNSWStore) GetEmbedding(ctx context.Context, id string, namespace string) (VectorDocument, error) {
	ns := normalizeNamespace(namespace)
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket, ok := s.namespaces[ns]
	if ok {
		if rec, exists := bucket.records[id]; exists {
			vec := make(embedding.Vector, len(rec.Vector))
			copy(vec, rec.Vector)
			return VectorDocument{ID: rec.ID, Vector: vec, Metadata: cloneMeta(rec.Metadata)}, nil
		}
	}
	return VectorDocument{}, errors.NotFoundError("embedding", id)
}

// CreateNamespace registers an empty namespace.
func (s *HNSWStore) CreateNamespace(ctx context.Context, namespace string) error {
	ns := normalizeNamespace(namespace)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[ns]; !ok {
		s.namespaces[ns] = s.newNamespace()
	}
	return nil
}

// DeleteNamespace drops a namespace and its graph.
func (s *HNSWStore) DeleteNamespace(ctx context.Context, namespace string) error {
	ns := normalizeNamespace(namespace)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.namespaces, ns)
	return nil
}

// ListNamespaces returns all namespace names, sorted.
func (s *HNSWStore) ListNamespaces(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.namespaces))
	for ns := range s.namespaces {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out, nil
}

// UpsertDocument stores a document's embedding and fields.
func (s *HNSWStore) UpsertDocument(ctx context.Context, doc document.Document, namespace string) error {
	vd, err := docToVector(doc)
	if err != nil {
		return err
	}
	return s.StoreEmbeddingBatch(ctx, []VectorDocument{vd}, namespace)
}

// UpsertDocumentBatch stores documents idempotently by id.
func (s *HNSWStore) UpsertDocumentBatch(ctx context.Context, docs []document.Document, namespace string) error {
	vds := make([]VectorDocument, 0, len(docs))
	for _, doc := range docs {
		vd, err := docToVector(doc)
		if err != nil {
			return err
		}
		vds = append(vds, vd)
	}
	return s.StoreEmbeddingBatch(ctx, vds, namespace)
}

// GetDocument reconstructs a stored document.
func (s *HNSWStore) GetDocument(ctx context.Context, id string, namespace string) (document.Document, error) {
	vd, err := s.GetEmbedding(ctx, id, namespace)
	if err != nil {
		return document.Document{}, err
	}
	return vectorToDoc(vd), nil
}

// FindSimilarDocuments is FindSimilar with document reconstruction.
func (s *HNSWStore) FindSimilarDocuments(ctx context.Context, query embedding.Vector, limit int, opts SearchOptions) ([]document.ScoredDocument, error) {
	hits, err := s.FindSimilar(ctx, query, limit, opts)
	if err != nil {
		return nil, err
	}
	out := make([]document.ScoredDocument, 0, len(hits))
	for _, h := range hits {
		out = append(out, document.ScoredDocument{
			Document: vectorToDoc(VectorDocument{ID: h.ID, Vector: h.Vector, Metadata: h.Metadata}),
			Score:    h.Score,
		})
	}
	return out, nil
}

// Close marks the store closed.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Verify interface implementation.
var _ Store = (*HNSWStore)(nil)
