// Package keyword provides a BM25 keyword index over documents, used as the
// keyword phase of hybrid retrieval when the vector backend has no native
// keyword search.
package keyword

import (
	"context"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/loomworks/loom/internal/document"
	"github.com/loomworks/loom/internal/errors"
)

// indexedDocument is the shape handed to bleve for analysis.
type indexedDocument struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Result is one keyword hit. Score is an unbounded BM25 weight and must not
// be compared with cosine scores.
type Result struct {
	DocID string
	Score float64
}

// Index is an in-memory BM25 index over document title and content.
type Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	closed bool
}

// NewIndex creates an in-memory keyword index.
func NewIndex() (*Index, error) {
	mapping := bleve.NewIndexMapping()
	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, errors.InternalError("cannot create keyword index", err)
	}
	return &Index{index: idx}, nil
}

// Add indexes documents by id. Re-adding an id replaces the previous entry.
func (x *Index) Add(ctx context.Context, docs ...document.Document) error {
	if len(docs) == 0 {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return errors.StateError("keyword index is closed")
	}

	batch := x.index.NewBatch()
	for _, doc := range docs {
		if doc.ID == "" {
			return errors.ValidationError("document id cannot be empty", "id")
		}
		entry := indexedDocument{Title: doc.Title, Content: doc.Content}
		if err := batch.Index(doc.ID, entry); err != nil {
			return errors.InternalError("cannot index document "+doc.ID, err)
		}
	}
	if err := x.index.Batch(batch); err != nil {
		return errors.InternalError("cannot execute index batch", err)
	}
	return nil
}

// Delete removes documents by id. Unknown ids are a no-op.
func (x *Index) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return errors.StateError("keyword index is closed")
	}

	batch := x.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := x.index.Batch(batch); err != nil {
		return errors.InternalError("cannot execute delete batch", err)
	}
	return nil
}

// Search returns up to limit BM25-scored hits for the query. An empty query
// returns no hits.
func (x *Index) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return []Result{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return nil, errors.StateError("keyword index is closed")
	}

	match := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequest(match)
	req.Size = limit

	res, err := x.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, errors.InternalError("keyword search failed", err)
	}

	out := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, Result{DocID: hit.ID, Score: hit.Score})
	}
	return out, nil
}

// Count returns the number of indexed documents.
func (x *Index) Count() (uint64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return 0, errors.StateError("keyword index is closed")
	}
	return x.index.DocCount()
}

// Close releases the index.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	return x.index.Close()
}
