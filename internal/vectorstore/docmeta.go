package vectorstore

import (
	"time"

	"github.com/loomworks/loom/internal/document"
	"github.com/loomworks/loom/internal/errors"
)

// Reserved metadata keys used to round-trip document fields through the
// embedding layer.
const (
	metaTitle      = "_title"
	metaContent    = "_content"
	metaCollection = "_collection_id"
	metaUpdatedAt  = "_updated_at"
)

// docToVector flattens a document into a VectorDocument. The document must
// carry an embedding.
func docToVector(doc document.Document) (VectorDocument, error) {
	if len(doc.Embedding) == 0 {
		return VectorDocument{}, errors.ValidationError("document has no embedding", "embedding")
	}
	meta := make(map[string]any, len(doc.Metadata)+4)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	meta[metaTitle] = doc.Title
	meta[metaContent] = doc.Content
	if doc.CollectionID != "" {
		meta[metaCollection] = doc.CollectionID
	}
	if !doc.UpdatedAt.IsZero() {
		meta[metaUpdatedAt] = doc.UpdatedAt.Format(time.RFC3339Nano)
	}
	return VectorDocument{ID: doc.ID, Vector: doc.Embedding, Metadata: meta}, nil
}

// vectorToDoc reconstructs a document from a stored VectorDocument.
func vectorToDoc(vd VectorDocument) document.Document {
	doc := document.Document{ID: vd.ID, Embedding: vd.Vector}
	meta := make(map[string]any)
	for k, v := range vd.Metadata {
		switch k {
		case metaTitle:
			doc.Title, _ = v.(string)
		case metaContent:
			doc.Content, _ = v.(string)
		case metaCollection:
			doc.CollectionID, _ = v.(string)
		case metaUpdatedAt:
			if s, ok := v.(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
					doc.UpdatedAt = t
				}
			}
		default:
			meta[k] = v
		}
	}
	if len(meta) > 0 {
		doc.Metadata = meta
	}
	return doc
}
