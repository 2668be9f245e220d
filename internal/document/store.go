package document

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loomworks/loom/internal/embedding"
	"github.com/loomworks/loom/internal/errors"
	"github.com/loomworks/loom/internal/storage"
)

// Storage key prefixes.
const (
	docKeyPrefix = "document_"
	colKeyPrefix = "collection_"
)

// Keyword search weights.
const (
	scoreExactTitle    = 100.0
	scoreTitleContains = 50.0
	scoreContentMatch  = 25.0
	scoreExtraMatch    = 5.0
)

// Store is an in-memory document store with optional write-through
// persistence. All reads return copies; all mutations replace whole records.
type Store struct {
	mu sync.RWMutex

	documents   map[string]Document
	collections map[string]Collection
	order       []string // insertion order, for stable similarity ties

	persist storage.Storage // nil when running purely in memory
	logger  *slog.Logger
	closed  bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPersistence enables write-through persistence to the given backend.
func WithPersistence(s storage.Storage) StoreOption {
	return func(st *Store) { st.persist = s }
}

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(st *Store) { st.logger = l }
}

// NewStore creates an empty document store.
func NewStore(opts ...StoreOption) *Store {
	st := &Store{
		documents:   make(map[string]Document),
		collections: make(map[string]Collection),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// Load restores documents and collections from the persistence backend.
func (s *Store) Load(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}

	docKeys, err := s.persist.ListKeys(ctx, docKeyPrefix)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range docKeys {
		var doc Document
		if err := s.persist.LoadObject(ctx, key, &doc); err != nil {
			s.logger.Warn("skipping unreadable document", "key", key, "error", err)
			continue
		}
		s.documents[doc.ID] = doc
		s.order = append(s.order, doc.ID)
	}

	colKeys, err := s.persist.ListKeys(ctx, colKeyPrefix)
	if err != nil {
		return err
	}
	for _, key := range colKeys {
		var col Collection
		if err := s.persist.LoadObject(ctx, key, &col); err != nil {
			s.logger.Warn("skipping unreadable collection", "key", key, "error", err)
			continue
		}
		s.collections[col.ID] = col
	}

	s.logger.Info("document store loaded",
		"documents", len(s.documents), "collections", len(s.collections))
	return nil
}

// AddDocument stores a document, generating an id if absent, and returns the
// stored copy.
func (s *Store) AddDocument(ctx context.Context, doc Document) (Document, error) {
	if doc.Content == "" && doc.Title == "" {
		return Document{}, errors.ValidationError("document must have a title or content", "document")
	}
	if doc.ID == "" {
		doc.ID = NewID()
	}
	doc.UpdatedAt = time.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Document{}, errors.StateError("document store is closed")
	}
	if _, exists := s.documents[doc.ID]; !exists {
		s.order = append(s.order, doc.ID)
	}
	stored := doc.clone()
	s.documents[doc.ID] = stored
	s.mu.Unlock()

	if err := s.persistDocument(ctx, stored); err != nil {
		return Document{}, err
	}
	return stored.clone(), nil
}

// GetDocument returns a copy of the document with the given id.
func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return Document{}, errors.NotFoundError("document", id)
	}
	return doc.clone(), nil
}

// UpdateDocument replaces an existing document. The id must already exist.
func (s *Store) UpdateDocument(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == "" {
		return Document{}, errors.ValidationError("document id cannot be empty", "id")
	}

	s.mu.Lock()
	if _, ok := s.documents[doc.ID]; !ok {
		s.mu.Unlock()
		return Document{}, errors.NotFoundError("document", doc.ID)
	}
	doc.UpdatedAt = time.Now()
	stored := doc.clone()
	s.documents[doc.ID] = stored
	s.mu.Unlock()

	if err := s.persistDocument(ctx, stored); err != nil {
		return Document{}, err
	}
	return stored.clone(), nil
}

// DeleteDocument removes a document. Unknown ids are a no-op.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.documents[id]; ok {
		delete(s.documents, id)
		for i, oid := range s.order {
			if oid == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if s.persist != nil {
		return s.persist.Delete(ctx, docKeyPrefix+id)
	}
	return nil
}

// ListDocuments returns copies of all documents in insertion order.
func (s *Store) ListDocuments(ctx context.Context) []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Document, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.documents[id].clone())
	}
	return out
}

// CreateCollection stores a collection, generating an id if absent.
func (s *Store) CreateCollection(ctx context.Context, col Collection) (Collection, error) {
	if col.Name == "" {
		return Collection{}, errors.ValidationError("collection name cannot be empty", "name")
	}
	if col.ID == "" {
		col.ID = NewCollectionID()
	}

	s.mu.Lock()
	stored := col.clone()
	s.collections[col.ID] = stored
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.SaveObject(ctx, colKeyPrefix+stored.ID, stored); err != nil {
			return Collection{}, err
		}
	}
	return stored.clone(), nil
}

// GetCollection returns a copy of the collection with the given id.
func (s *Store) GetCollection(ctx context.Context, id string) (Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[id]
	if !ok {
		return Collection{}, errors.NotFoundError("collection", id)
	}
	return col.clone(), nil
}

// DeleteCollection removes a collection. Documents referencing it are
// untouched.
func (s *Store) DeleteCollection(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.collections, id)
	s.mu.Unlock()

	if s.persist != nil {
		return s.persist.Delete(ctx, colKeyPrefix+id)
	}
	return nil
}

// GetDocumentsInCollection returns copies of all documents referencing the
// collection, in insertion order.
func (s *Store) GetDocumentsInCollection(ctx context.Context, collectionID string) []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Document
	for _, id := range s.order {
		if doc := s.documents[id]; doc.CollectionID == collectionID {
			out = append(out, doc.clone())
		}
	}
	return out
}

// DeleteDocumentsInCollection removes every document referencing the
// collection and returns how many were removed.
func (s *Store) DeleteDocumentsInCollection(ctx context.Context, collectionID string) (int, error) {
	s.mu.Lock()
	var removed []string
	for id, doc := range s.documents {
		if doc.CollectionID == collectionID {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		delete(s.documents, id)
	}
	if len(removed) > 0 {
		kept := s.order[:0]
		for _, id := range s.order {
			if _, ok := s.documents[id]; ok {
				kept = append(kept, id)
			}
		}
		s.order = kept
	}
	s.mu.Unlock()

	if s.persist != nil {
		for _, id := range removed {
			if err := s.persist.Delete(ctx, docKeyPrefix+id); err != nil {
				return len(removed), err
			}
		}
	}
	return len(removed), nil
}

// FindSimilar ranks all embedded documents by cosine similarity to the query.
// minScore < 0 disables the threshold. Ties keep insertion order.
func (s *Store) FindSimilar(ctx context.Context, query embedding.Vector, limit int, minScore float64) ([]ScoredDocument, error) {
	return s.findSimilar(ctx, query, limit, minScore, "")
}

// FindSimilarInCollection is FindSimilar restricted to one collection.
func (s *Store) FindSimilarInCollection(ctx context.Context, collectionID string, query embedding.Vector, limit int, minScore float64) ([]ScoredDocument, error) {
	return s.findSimilar(ctx, query, limit, minScore, collectionID)
}

func (s *Store) findSimilar(ctx context.Context, query embedding.Vector, limit int, minScore float64, collectionID string) ([]ScoredDocument, error) {
	if len(query) == 0 {
		return nil, errors.ValidationError("query embedding cannot be empty", "query")
	}

	s.mu.RLock()
	scored := make([]ScoredDocument, 0, len(s.order))
	for _, id := range s.order {
		doc := s.documents[id]
		if len(doc.Embedding) == 0 {
			continue
		}
		if collectionID != "" && doc.CollectionID != collectionID {
			continue
		}
		score, err := embedding.Cosine(query, doc.Embedding)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		if minScore >= 0 && score < minScore {
			continue
		}
		scored = append(scored, ScoredDocument{Document: doc.clone(), Score: score})
	}
	s.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// SearchByContent scores documents by keyword match against the query:
// exact title match, title substring, content substring, and repeated
// content occurrences each contribute a fixed weight. Zero-score documents
// are dropped.
func (s *Store) SearchByContent(ctx context.Context, query string, limit int) []ScoredDocument {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	s.mu.RLock()
	var scored []ScoredDocument
	for _, id := range s.order {
		doc := s.documents[id]
		score := keywordScore(doc, q)
		if score > 0 {
			scored = append(scored, ScoredDocument{Document: doc.clone(), Score: score})
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func keywordScore(doc Document, query string) float64 {
	title := strings.ToLower(doc.Title)
	content := strings.ToLower(doc.Content)

	var score float64
	switch {
	case title == query:
		score += scoreExactTitle
	case strings.Contains(title, query):
		score += scoreTitleContains
	}
	if n := strings.Count(content, query); n > 0 {
		score += scoreContentMatch
		score += float64(n-1) * scoreExtraMatch
	}
	return score
}

// Count returns the number of stored documents.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents)
}

// Close marks the store closed. Further writes fail with a state error.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) persistDocument(ctx context.Context, doc Document) error {
	if s.persist == nil {
		return nil
	}
	return s.persist.SaveObject(ctx, docKeyPrefix+doc.ID, doc)
}
