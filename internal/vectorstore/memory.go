package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"

	"github.com/loomworks/loom/internal/document"
	"github.com/loomworks/loom/internal/embedding"
	"github.com/loomworks/loom/internal/errors"
)

const snapshotVersion = "1.0"

// snapshot is the JSON persistence format for the in-memory store.
type snapshot struct {
	Version    string                               `json:"version"`
	Dimension  int                                  `json:"dimension"`
	Namespaces map[string]map[string]snapshotEntry  `json:"namespaces"`
}

type snapshotEntry struct {
	Vector   embedding.Vector `json:"vector"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// MemoryStore is the reference in-memory vector store. It keeps a norm cache
// for cheap cosine scoring and can persist a JSON snapshot on every
// mutation, guarded by a file lock against concurrent processes.
type MemoryStore struct {
	mu sync.RWMutex

	dimension  int
	capacity   int // 0 = unbounded, counted across all namespaces
	namespaces map[string]map[string]VectorDocument
	norms      map[string]float64 // "ns/id" -> precomputed vector norm
	count      int

	snapshotPath string
	lock         *flock.Flock
	logger       *slog.Logger
	closed       bool
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithCapacity bounds the total number of stored embeddings.
func WithCapacity(n int) MemoryOption {
	return func(s *MemoryStore) { s.capacity = n }
}

// WithSnapshot persists a JSON snapshot to path on every mutation and loads
// it on initialization.
func WithSnapshot(path string) MemoryOption {
	return func(s *MemoryStore) {
		s.snapshotPath = path
		s.lock = flock.New(path + ".lock")
	}
}

// WithMemoryLogger sets the store's logger.
func WithMemoryLogger(l *slog.Logger) MemoryOption {
	return func(s *MemoryStore) { s.logger = l }
}

// NewMemoryStore creates an in-memory vector store for vectors of the given
// dimension.
func NewMemoryStore(dimension int, opts ...MemoryOption) (*MemoryStore, error) {
	if dimension <= 0 {
		return nil, errors.ValidationError("dimension must be positive", "dimension")
	}
	s := &MemoryStore{
		dimension:  dimension,
		namespaces: map[string]map[string]VectorDocument{DefaultNamespace: {}},
		norms:      make(map[string]float64),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.snapshotPath != "" {
		if err := s.loadSnapshot(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func normKey(ns, id string) string { return ns + "/" + id }

// StoreEmbedding stores or replaces one embedding.
func (s *MemoryStore) StoreEmbedding(ctx context.Context, id string, vec embedding.Vector, metadata map[string]any, namespace string) error {
	return s.StoreEmbeddingBatch(ctx, []VectorDocument{{ID: id, Vector: vec, Metadata: metadata}}, namespace)
}

// StoreEmbeddingBatch stores embeddings idempotently by id: an existing id
// is replaced, never double-counted.
func (s *MemoryStore) StoreEmbeddingBatch(ctx context.Context, docs []VectorDocument, namespace string) error {
	ns := normalizeNamespace(namespace)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.StateError("vector store is closed")
	}
	bucket, ok := s.namespaces[ns]
	if !ok {
		bucket = make(map[string]VectorDocument)
		s.namespaces[ns] = bucket
	}

	for _, doc := range docs {
		if doc.ID == "" {
			s.mu.Unlock()
			return errors.ValidationError("embedding id cannot be empty", "id")
		}
		if len(doc.Vector) != s.dimension {
			s.mu.Unlock()
			return errors.ValidationError(
				fmt.Sprintf("dimension mismatch: store holds %d, got %d", s.dimension, len(doc.Vector)), "vector")
		}
		_, exists := bucket[doc.ID]
		if !exists && s.capacity > 0 && s.count >= s.capacity {
			s.mu.Unlock()
			return errors.CapacityError(fmt.Sprintf("vector store capacity %d exceeded", s.capacity))
		}

		vec := make(embedding.Vector, len(doc.Vector))
		copy(vec, doc.Vector)
		stored := VectorDocument{ID: doc.ID, Vector: vec, Metadata: cloneMeta(doc.Metadata)}
		bucket[doc.ID] = stored
		s.norms[normKey(ns, doc.ID)] = vec.Norm()
		if !exists {
			s.count++
		}
	}
	s.mu.Unlock()

	return s.writeSnapshot()
}

// FindSimilar scores every embedding in the namespace against the query
// using cached norms, applies metadata equality filters and the optional
// threshold, and returns the top hits by descending score.
func (s *MemoryStore) FindSimilar(ctx context.Context, query embedding.Vector, limit int, opts SearchOptions) ([]ScoredEmbedding, error) {
	if len(query) != s.dimension {
		return nil, errors.ValidationError(
			fmt.Sprintf("dimension mismatch: store holds %d, got %d", s.dimension, len(query)), "query")
	}
	ns := normalizeNamespace(opts.Namespace)
	qNorm := query.Norm()

	s.mu.RLock()
	bucket := s.namespaces[ns]
	hits := make([]ScoredEmbedding, 0, len(bucket))
	for id, doc := range bucket {
		if opts.Filters != nil && !matchesFilters(doc.Metadata, opts.Filters) {
			continue
		}
		score := cosineWithNorms(query, doc.Vector, qNorm, s.norms[normKey(ns, id)])
		if opts.Threshold >= 0 && score < opts.Threshold {
			continue
		}
		hits = append(hits, ScoredEmbedding{
			ID:       id,
			Vector:   doc.Vector,
			Metadata: cloneMeta(doc.Metadata),
			Score:    score,
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func cosineWithNorms(a, b embedding.Vector, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb)
}

// Delete removes one embedding. Unknown ids are a no-op.
func (s *MemoryStore) Delete(ctx context.Context, id string, namespace string) error {
	return s.DeleteBatch(ctx, []string{id}, namespace)
}

// DeleteBatch removes embeddings idempotently.
func (s *MemoryStore) DeleteBatch(ctx context.Context, ids []string, namespace string) error {
	ns := normalizeNamespace(namespace)

	s.mu.Lock()
	bucket := s.namespaces[ns]
	for _, id := range ids {
		if _, ok := bucket[id]; ok {
			delete(bucket, id)
			delete(s.norms, normKey(ns, id))
			s.count--
		}
	}
	s.mu.Unlock()

	return s.writeSnapshot()
}

// Exists reports whether an id is present in the namespace.
func (s *MemoryStore) Exists(ctx context.Context, id string, namespace string) (bool, error) {
	ns := normalizeNamespace(namespace)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.namespaces[ns][id]
	return ok, nil
}

// GetEmbedding returns a copy of the stored record.
func (s *MemoryStore) GetEmbedding(ctx context.Context, id string, namespace string) (VectorDocument, error) {
	ns := normalizeNamespace(namespace)
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.namespaces[ns][id]
	if !ok {
		return VectorDocument{}, errors.NotFoundError("embedding", id)
	}
	vec := make(embedding.Vector, len(doc.Vector))
	copy(vec, doc.Vector)
	return VectorDocument{ID: doc.ID, Vector: vec, Metadata: cloneMeta(doc.Metadata)}, nil
}

// CreateNamespace registers an empty namespace. Existing namespaces are a
// no-op.
func (s *MemoryStore) CreateNamespace(ctx context.Context, namespace string) error {
	ns := normalizeNamespace(namespace)
	s.mu.Lock()
	if _, ok := s.namespaces[ns]; !ok {
		s.namespaces[ns] = make(map[string]VectorDocument)
	}
	s.mu.Unlock()
	return s.writeSnapshot()
}

// DeleteNamespace removes a namespace and everything in it.
func (s *MemoryStore) DeleteNamespace(ctx context.Context, namespace string) error {
	ns := normalizeNamespace(namespace)
	s.mu.Lock()
	if bucket, ok := s.namespaces[ns]; ok {
		for id := range bucket {
			delete(s.norms, normKey(ns, id))
			s.count--
		}
		delete(s.namespaces, ns)
	}
	s.mu.Unlock()
	return s.writeSnapshot()
}

// ListNamespaces returns all namespace names, sorted.
func (s *MemoryStore) ListNamespaces(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.namespaces))
	for ns := range s.namespaces {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out, nil
}

// UpsertDocument stores a document's embedding and fields. The document
// must carry an embedding.
func (s *MemoryStore) UpsertDocument(ctx context.Context, doc document.Document, namespace string) error {
	vd, err := docToVector(doc)
	if err != nil {
		return err
	}
	return s.StoreEmbeddingBatch(ctx, []VectorDocument{vd}, namespace)
}

// UpsertDocumentBatch stores documents idempotently by id.
func (s *MemoryStore) UpsertDocumentBatch(ctx context.Context, docs []document.Document, namespace string) error {
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
func (s *MemoryStore) GetDocument(ctx context.Context, id string, namespace string) (document.Document, error) {
	vd, err := s.GetEmbedding(ctx, id, namespace)
	if err != nil {
		return document.Document{}, err
	}
	return vectorToDoc(vd), nil
}

// FindSimilarDocuments is FindSimilar with document reconstruction.
func (s *MemoryStore) FindSimilarDocuments(ctx context.Context, query embedding.Vector, limit int, opts SearchOptions) ([]document.ScoredDocument, error) {
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

// Count returns the total number of stored embeddings.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Close marks the store closed. Further writes fail.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// loadSnapshot restores state from the snapshot file, if present.
func (s *MemoryStore) loadSnapshot() error {
	data, err := os.ReadFile(s.snapshotPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Dimension != 0 && snap.Dimension != s.dimension {
		return errors.ValidationError(
			fmt.Sprintf("snapshot dimension %d does not match store dimension %d", snap.Dimension, s.dimension), "dimension")
	}

	for ns, entries := range snap.Namespaces {
		bucket := make(map[string]VectorDocument, len(entries))
		for id, e := range entries {
			bucket[id] = VectorDocument{ID: id, Vector: e.Vector, Metadata: e.Metadata}
			s.norms[normKey(ns, id)] = e.Vector.Norm()
			s.count++
		}
		s.namespaces[ns] = bucket
	}
	s.logger.Info("vector store snapshot loaded",
		"path", s.snapshotPath, "embeddings", s.count)
	return nil
}

// writeSnapshot persists the full state atomically under the file lock.
func (s *MemoryStore) writeSnapshot() error {
	if s.snapshotPath == "" {
		return nil
	}

	s.mu.RLock()
	snap := snapshot{
		Version:    snapshotVersion,
		Dimension:  s.dimension,
		Namespaces: make(map[string]map[string]snapshotEntry, len(s.namespaces)),
	}
	for ns, bucket := range s.namespaces {
		entries := make(map[string]snapshotEntry, len(bucket))
		for id, doc := range bucket {
			entries[id] = snapshotEntry{Vector: doc.Vector, Metadata: doc.Metadata}
		}
		snap.Namespaces[ns] = entries
	}
	s.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("acquire snapshot lock: %w", err)
	}
	defer s.lock.Unlock()

	tmp := s.snapshotPath + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.snapshotPath), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func cloneMeta(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Verify interface implementation.
var _ Store = (*MemoryStore)(nil)
