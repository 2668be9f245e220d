package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/loomworks/loom/internal/document"
	"github.com/loomworks/loom/internal/llm"
)

// BM25 parameters for the lightweight reranker.
const (
	bm25K1 = 1.5
	bm25B  = 0.75

	titleBonus     = 2.0
	recencyWindow  = 30 // days
	minTokenLength = 3

	llmRerankContentLimit = 500
)

// stopwords excluded from lightweight rerank tokenization.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "her": {}, "was": {}, "one": {},
	"our": {}, "out": {}, "has": {}, "have": {}, "this": {}, "that": {},
	"with": {}, "from": {}, "they": {}, "will": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "their": {}, "would": {}, "there": {},
	"been": {}, "were": {}, "into": {}, "about": {}, "than": {},
}

func tokenizeQuery(query string) []string {
	var out []string
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]{}")
		if len(tok) < minTokenLength {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// rerankLightweight scores candidates with BM25 over the candidate set plus
// a title bonus and a small recency bonus, and returns the top topK.
func rerankLightweight(query string, candidates []document.ScoredDocument, topK int) []document.ScoredDocument {
	terms := tokenizeQuery(query)
	if len(terms) == 0 || len(candidates) == 0 {
		return truncate(candidates, topK)
	}

	n := len(candidates)
	contents := make([]string, n)
	lengths := make([]int, n)
	var totalLen int
	for i, c := range candidates {
		contents[i] = strings.ToLower(c.Document.Content)
		lengths[i] = len(strings.Fields(contents[i]))
		totalLen += lengths[i]
	}
	avgLen := float64(totalLen) / float64(n)
	if avgLen == 0 {
		avgLen = 1
	}

	// Document frequency per term over the candidate set.
	df := make(map[string]int, len(terms))
	for _, term := range terms {
		for _, content := range contents {
			if strings.Contains(content, term) {
				df[term]++
			}
		}
	}

	now := time.Now()
	rescored := make([]document.ScoredDocument, n)
	for i, c := range candidates {
		var score float64
		title := strings.ToLower(c.Document.Title)
		for _, term := range terms {
			tf := float64(strings.Count(contents[i], term))
			if tf > 0 && df[term] > 0 {
				idf := math.Log(float64(n) / float64(df[term]))
				dl := float64(lengths[i])
				score += idf * tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*dl/avgLen))
			}
			if strings.Contains(title, term) {
				score += titleBonus
			}
		}
		if !c.Document.UpdatedAt.IsZero() {
			ageDays := now.Sub(c.Document.UpdatedAt).Hours() / 24
			if ageDays >= 0 && ageDays < recencyWindow {
				score += (recencyWindow - ageDays) / 5
			}
		}
		rescored[i] = document.ScoredDocument{Document: c.Document, Score: score}
	}

	sort.SliceStable(rescored, func(i, j int) bool { return rescored[i].Score > rescored[j].Score })
	return truncate(rescored, topK)
}

// rerankLLM asks the model for an ordering of the candidates. The model's
// answer is parsed defensively: indices are clamped, deduplicated, and any
// missing candidates are backfilled in original order. A completely
// unparseable answer falls back to the original order.
func rerankLLM(ctx context.Context, provider llm.Provider, query string, candidates []document.ScoredDocument, topK int) []document.ScoredDocument {
	if len(candidates) == 0 || provider == nil {
		return truncate(candidates, topK)
	}

	var b strings.Builder
	for i, c := range candidates {
		content := c.Document.Content
		if len(content) > llmRerankContentLimit {
			content = content[:llmRerankContentLimit]
		}
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, c.Document.Title, content)
	}

	prompt := fmt.Sprintf(
		"Rank the following documents by relevance to the query.\n\nQuery: %s\n\nDocuments:\n%s\nReply with only the document numbers in order of relevance, comma-separated (for example: 2,1,3).",
		query, b.String())

	resp, err := provider.Complete(ctx, llm.CompletionRequest{Prompt: prompt, Temperature: 0})
	if err != nil {
		return truncate(candidates, topK)
	}

	order := parseRankOrder(resp.Text, len(candidates))
	out := make([]document.ScoredDocument, 0, len(candidates))
	for _, idx := range order {
		out = append(out, candidates[idx])
	}
	return truncate(out, topK)
}

// parseRankOrder extracts a permutation of [0, n) from the model's reply:
// digits parsed, clamped to [1, n], deduplicated preserving order, missing
// indices backfilled.
func parseRankOrder(text string, n int) []int {
	seen := make(map[int]bool, n)
	var order []int

	for _, field := range strings.FieldsFunc(text, func(r rune) bool {
		return r < '0' || r > '9'
	}) {
		v, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		if v < 1 {
			v = 1
		}
		if v > n {
			v = n
		}
		idx := v - 1
		if !seen[idx] {
			seen[idx] = true
			order = append(order, idx)
		}
	}
	for i := 0; i < n; i++ {
		if !seen[i] {
			order = append(order, i)
		}
	}
	return order
}

func truncate(docs []document.ScoredDocument, topK int) []document.ScoredDocument {
	if topK > 0 && len(docs) > topK {
		return docs[:topK]
	}
	return docs
}
