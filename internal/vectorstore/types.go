// Package vectorstore defines the namespace-scoped vector store contract
// with in-memory and HNSW-backed implementations.
package vectorstore

import (
	"context"

	"github.com/loomworks/loom/internal/document"
	"github.com/loomworks/loom/internal/embedding"
)

// DefaultNamespace is used when the caller passes an empty namespace.
const DefaultNamespace = "default"

// VectorDocument is an embedding with its metadata inside a namespace.
type VectorDocument struct {
	ID       string           `json:"id"`
	Vector   embedding.Vector `json:"vector"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// ScoredEmbedding is a search hit: the stored record plus a score whose
// semantics depend on the backend (cosine for in-memory, certainty for
// remote backends).
type ScoredEmbedding struct {
	ID       string           `json:"id"`
	Vector   embedding.Vector `json:"vector,omitempty"`
	Metadata map[string]any   `json:"metadata,omitempty"`
	Score    float64          `json:"score"`
}

// SearchOptions narrow a similarity search.
type SearchOptions struct {
	Namespace string
	// Threshold drops hits scoring below it when >= 0. Negative disables.
	Threshold float64
	// Filters are metadata equality constraints.
	Filters map[string]any
}

// Store is the namespace-scoped vector store contract. Implementations
// default an empty namespace to "default" and create namespaces on first
// write. Batch operations are idempotent by id.
type Store interface {
	StoreEmbedding(ctx context.Context, id string, vec embedding.Vector, metadata map[string]any, namespace string) error
	StoreEmbeddingBatch(ctx context.Context, docs []VectorDocument, namespace string) error
	FindSimilar(ctx context.Context, query embedding.Vector, limit int, opts SearchOptions) ([]ScoredEmbedding, error)

	Delete(ctx context.Context, id string, namespace string) error
	DeleteBatch(ctx context.Context, ids []string, namespace string) error
	Exists(ctx context.Context, id string, namespace string) (bool, error)
	GetEmbedding(ctx context.Context, id string, namespace string) (VectorDocument, error)

	CreateNamespace(ctx context.Context, namespace string) error
	DeleteNamespace(ctx context.Context, namespace string) error
	ListNamespaces(ctx context.Context) ([]string, error)

	// Document-level helpers layered on the embedding operations.
	UpsertDocument(ctx context.Context, doc document.Document, namespace string) error
	UpsertDocumentBatch(ctx context.Context, docs []document.Document, namespace string) error
	GetDocument(ctx context.Context, id string, namespace string) (document.Document, error)
	FindSimilarDocuments(ctx context.Context, query embedding.Vector, limit int, opts SearchOptions) ([]document.ScoredDocument, error)

	Close() error
}

func normalizeNamespace(ns string) string {
	if ns == "" {
		return DefaultNamespace
	}
	return ns
}

// matchesFilters reports whether metadata satisfies every equality filter.
func matchesFilters(metadata map[string]any, filters map[string]any) bool {
	for k, want := range filters {
		got, ok := metadata[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}
