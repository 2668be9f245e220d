package embed

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/loomworks/loom/internal/document"
)

// DefaultBatchSize is the window size used when the caller passes 0.
const DefaultBatchSize = 10

// BatchProcessor embeds documents in concurrent windows without ever
// dropping an input: documents that already carry embeddings pass through,
// and documents whose embedding request fails are returned untouched.
type BatchProcessor struct {
	embedder Embedder
	logger   *slog.Logger
}

// NewBatchProcessor creates a batch processor over the given embedder.
func NewBatchProcessor(embedder Embedder, logger *slog.Logger) *BatchProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchProcessor{embedder: embedder, logger: logger}
}

// ProcessBatch embeds documents in windows of batchSize. Each window runs
// its embedding requests concurrently. The output keeps input order and
// always has the same length as the input.
func (p *BatchProcessor) ProcessBatch(ctx context.Context, docs []document.Document, batchSize int) []document.Document {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	out := make([]document.Document, len(docs))
	copy(out, docs)

	for start := 0; start < len(out); start += batchSize {
		end := start + batchSize
		if end > len(out) {
			end = len(out)
		}
		p.processWindow(ctx, out[start:end])
	}
	return out
}

// processWindow fills in embeddings for the window's documents in place.
// Documents that already have embeddings are skipped. A per-document failure
// is logged and the document keeps its empty embedding.
func (p *BatchProcessor) processWindow(ctx context.Context, window []document.Document) {
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for i := range window {
		if len(window[i].Embedding) > 0 {
			continue
		}
		i := i
		g.Go(func() error {
			text := window[i].Content
			if text == "" {
				text = window[i].Title
			}
			vec, err := p.embedder.Embed(gctx, text)
			if err != nil {
				p.logger.Warn("embedding failed, document kept without embedding",
					"document_id", window[i].ID, "error", err)
				return nil // per-document failures never abort the window
			}
			mu.Lock()
			window[i].Embedding = vec
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.logger.Warn("batch window aborted, originals preserved", "error", err)
	}
}

// ProcessCollection embeds documents in a collection and writes the results
// back to the store. With skipExisting, documents already carrying an
// embedding are left alone. Returns how many documents were updated.
func (p *BatchProcessor) ProcessCollection(ctx context.Context, store *document.Store, collectionID string, batchSize int, skipExisting bool) (int, error) {
	docs := store.GetDocumentsInCollection(ctx, collectionID)

	var pending []document.Document
	for _, doc := range docs {
		if len(doc.Embedding) > 0 {
			if skipExisting {
				continue
			}
			doc.Embedding = nil // re-embed on request
		}
		pending = append(pending, doc)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	processed := p.ProcessBatch(ctx, pending, batchSize)

	updated := 0
	for _, doc := range processed {
		if len(doc.Embedding) == 0 {
			continue // embedding failed, nothing to write back
		}
		if _, err := store.UpdateDocument(ctx, doc); err != nil {
			return updated, err
		}
		updated++
	}

	p.logger.Info("collection embedding complete",
		"collection_id", collectionID, "candidates", len(pending), "updated", updated)
	return updated, nil
}
