package retrieval

import (
	"fmt"
	"strings"
	"time"

	"github.com/loomworks/loom/internal/document"
)

// generationFallback is returned when the provider fails during answer
// generation.
const generationFallback = "I'm sorry, I was unable to generate an answer. Please try again."

// buildContext formats retrieved documents into numbered context blocks.
func buildContext(docs []document.ScoredDocument) string {
	blocks := make([]string, 0, len(docs))
	for i, d := range docs {
		var b strings.Builder
		fmt.Fprintf(&b, "[Document %d]\n", i+1)
		fmt.Fprintf(&b, "Title: %s\n", d.Document.Title)
		fmt.Fprintf(&b, "Content: %s", d.Document.Content)
		if !d.Document.UpdatedAt.IsZero() {
			fmt.Fprintf(&b, "\nLast Updated: %s", d.Document.UpdatedAt.Format(time.RFC3339))
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

// buildRAGPrompt wraps the context blocks in the grounded-answer template.
func buildRAGPrompt(query string, docs []document.ScoredDocument) string {
	if len(docs) == 0 {
		return fmt.Sprintf(
			"Answer the following question. If you do not know the answer, say so.\n\nQuestion: %s", query)
	}
	return fmt.Sprintf(
		"Answer the question using only the context below. Cite sources as [Document X]. If the context is insufficient to answer, say so instead of guessing.\n\nContext:\n%s\n\nQuestion: %s",
		buildContext(docs), query)
}

// buildExpansionPrompt asks the model to rewrite a query using recent
// conversation context.
func buildExpansionPrompt(query string, prevQueries []string) string {
	return fmt.Sprintf(
		"Given the previous queries in this conversation, rewrite the new query as a single self-contained search query. Reply with only the rewritten query.\n\nPrevious queries:\n- %s\n\nNew query: %s",
		strings.Join(prevQueries, "\n- "), query)
}
