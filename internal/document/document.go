// Package document implements the document and collection model with an
// in-memory store supporting similarity and keyword search.
package document

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/embedding"
)

// Document is an immutable content record. Mutations go through the store,
// which produces new instances rather than editing in place.
type Document struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Content      string           `json:"content"`
	Embedding    embedding.Vector `json:"embedding,omitempty"`
	Metadata     map[string]any   `json:"metadata,omitempty"`
	CollectionID string           `json:"collection_id,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Collection groups documents by reference. Collections do not own their
// documents; deleting a collection leaves its documents in place.
type Collection struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ScoredDocument pairs a document with a search score. Score semantics
// depend on the search that produced it (cosine vs keyword weight), so
// scores from different searches are not comparable.
type ScoredDocument struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// NewID generates a document id of the form doc_<epoch-ms>_<rand>.
func NewID() string {
	return fmt.Sprintf("doc_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// NewCollectionID generates a collection id.
func NewCollectionID() string {
	return fmt.Sprintf("col_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// clone returns a deep-enough copy: metadata map and embedding are copied so
// callers cannot alias store state.
func (d Document) clone() Document {
	cp := d
	if d.Embedding != nil {
		cp.Embedding = make(embedding.Vector, len(d.Embedding))
		copy(cp.Embedding, d.Embedding)
	}
	if d.Metadata != nil {
		cp.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

func (c Collection) clone() Collection {
	cp := c
	if c.Metadata != nil {
		cp.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}
