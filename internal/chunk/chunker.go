// Package chunk splits documents into overlapping segments sized for
// embedding, with language-aware size adjustment.
package chunk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loomworks/loom/internal/document"
	"github.com/loomworks/loom/internal/errors"
)

// Default chunking parameters.
const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200

	detectSampleLen = 500
)

// charsPerToken approximates how many characters one model token covers per
// language. Denser scripts carry more information per character, so their
// effective chunk size shrinks.
var charsPerToken = map[string]float64{
	"en": 4.0,
	"ko": 2.5,
	"ja": 1.5,
	"zh": 1.5,
	"th": 3.0,
}

// Options control a chunking run. Zero values fall back to defaults.
type Options struct {
	ChunkSize        int
	Overlap          int
	PreserveMetadata bool
	// Language overrides detection when set ("en", "ko", "ja", "zh", "th").
	Language string
}

// Chunker splits document content into chunk documents.
type Chunker struct {
	logger *slog.Logger
}

// New creates a Chunker.
func New(logger *slog.Logger) *Chunker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunker{logger: logger}
}

// Chunk splits a document into chunk documents. Each chunk carries metadata
// identifying its index, the total count, the parent document, and the
// detected language. Documents shorter than the adjusted chunk size are
// returned unchanged as a single-element slice.
func (c *Chunker) Chunk(ctx context.Context, doc document.Document, opts Options) ([]document.Document, error) {
	size := opts.ChunkSize
	if size == 0 {
		size = DefaultChunkSize
	}
	overlap := opts.Overlap
	if overlap == 0 && opts.ChunkSize == 0 {
		overlap = DefaultOverlap
	}
	if size <= 0 {
		return nil, errors.ValidationError("chunk size must be positive", "chunkSize")
	}
	if overlap < 0 || overlap >= size {
		return nil, errors.ValidationError("overlap must be non-negative and smaller than chunk size", "overlap")
	}

	lang := opts.Language
	if lang == "" {
		lang = DetectLanguage(doc.Content)
	}
	cpt, ok := charsPerToken[lang]
	if !ok {
		lang, cpt = "en", charsPerToken["en"]
	}

	adjusted := int(float64(size) * 4.0 / cpt)
	if adjusted < 1 {
		adjusted = 1
	}
	adjustedOverlap := int(float64(overlap) * 4.0 / cpt)

	runes := []rune(doc.Content)
	if len(runes) <= adjusted {
		return []document.Document{doc}, nil
	}

	segments := segment(doc.Content, lang, adjusted)
	pieces := assemble(segments, adjusted, adjustedOverlap)

	chunks := make([]document.Document, 0, len(pieces))
	for i, text := range pieces {
		meta := make(map[string]any)
		if opts.PreserveMetadata {
			for k, v := range doc.Metadata {
				meta[k] = v
			}
		}
		meta["chunk_index"] = i
		meta["total_chunks"] = len(pieces)
		meta["parent_document_id"] = doc.ID
		meta["language"] = lang

		chunks = append(chunks, document.Document{
			ID:           fmt.Sprintf("%s_chunk_%d", doc.ID, i),
			Title:        doc.Title,
			Content:      text,
			Metadata:     meta,
			CollectionID: doc.CollectionID,
			UpdatedAt:    doc.UpdatedAt,
		})
	}

	c.logger.Debug("chunked document",
		"document_id", doc.ID, "language", lang,
		"chunks", len(chunks), "adjusted_size", adjusted)
	return chunks, nil
}

// ChunkBatch chunks each document independently. A failure on one document
// is logged and that document is passed through unchanged, so no input is
// ever dropped.
func (c *Chunker) ChunkBatch(ctx context.Context, docs []document.Document, opts Options) []document.Document {
	var out []document.Document
	for _, doc := range docs {
		chunks, err := c.Chunk(ctx, doc, opts)
		if err != nil {
			c.logger.Warn("chunking failed, keeping original document",
				"document_id", doc.ID, "error", err)
			out = append(out, doc)
			continue
		}
		out = append(out, chunks...)
	}
	return out
}

// DetectLanguage inspects up to the first 500 characters of text and returns
// a language code based on Unicode script ranges, defaulting to "en".
func DetectLanguage(text string) string {
	runes := []rune(text)
	if len(runes) > detectSampleLen {
		runes = runes[:detectSampleLen]
	}
	for _, r := range runes {
		switch {
		case r >= 0xAC00 && r <= 0xD7A3, // Hangul syllables
			r >= 0x1100 && r <= 0x11FF: // Hangul jamo
			return "ko"
		case r >= 0x3040 && r <= 0x30FF: // hiragana + katakana
			return "ja"
		case r >= 0x4E00 && r <= 0x9FFF: // CJK unified ideographs
			return "zh"
		case r >= 0x0E00 && r <= 0x0E7F: // Thai
			return "th"
		}
	}
	return "en"
}

// isWindowed reports whether a language uses fixed-character windows instead
// of word segmentation.
func isWindowed(lang string) bool {
	switch lang {
	case "ko", "ja", "zh", "th":
		return true
	}
	return false
}

// terminalPunct are sentence-ending characters across supported scripts.
var terminalPunct = []rune{'.', '!', '?', '。', '！', '？', '…'}

func isTerminal(r rune) bool {
	for _, p := range terminalPunct {
		if r == p {
			return true
		}
	}
	return false
}

// segment breaks content into pieces no larger than adjusted, choosing the
// strategy by language: fixed windows for scripts without word boundaries,
// otherwise paragraphs, then sentences, then words.
func segment(content, lang string, adjusted int) []string {
	if isWindowed(lang) {
		window := adjusted / 10
		if window < 1 {
			window = 1
		}
		return fixedWindows(content, window)
	}

	paragraphs := splitNonEmpty(content, "\n\n")
	if fitsAll(paragraphs, adjusted) && len(paragraphs) > 1 {
		return paragraphs
	}

	sentences := splitSentences(content)
	if fitsAll(sentences, adjusted) && len(sentences) > 1 {
		return sentences
	}

	return strings.Fields(content)
}

func fitsAll(parts []string, limit int) bool {
	for _, p := range parts {
		if len([]rune(p)) > limit {
			return false
		}
	}
	return len(parts) > 0
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// splitSentences breaks on terminal punctuation followed by whitespace.
func splitSentences(s string) []string {
	var (
		out []string
		cur strings.Builder
	)
	runes := []rune(s)
	for i, r := range runes {
		cur.WriteRune(r)
		if isTerminal(r) {
			atEnd := i == len(runes)-1
			followedBySpace := !atEnd && (runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t')
			if atEnd || followedBySpace {
				if t := strings.TrimSpace(cur.String()); t != "" {
					out = append(out, t)
				}
				cur.Reset()
			}
		}
	}
	if t := strings.TrimSpace(cur.String()); t != "" {
		out = append(out, t)
	}
	return out
}

func fixedWindows(s string, window int) []string {
	runes := []rune(s)
	var out []string
	for i := 0; i < len(runes); i += window {
		end := i + window
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// assemble greedily packs segments into chunks of at most adjusted
// characters. When a segment would overflow the current chunk, the chunk is
// emitted and the next one is seeded with its trailing overlap characters.
func assemble(segments []string, adjusted, overlap int) []string {
	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)

	// Chunks are trimmed segments joined by single spaces, so the only
	// leading whitespace is an overlap seed's, which must be kept verbatim:
	// the tail of each chunk reappears unmodified at the head of the next.
	emit := func() {
		text := cur.String()
		if text != "" {
			chunks = append(chunks, text)
		}
		cur.Reset()
		curLen = 0
		if overlap > 0 && text != "" {
			runes := []rune(text)
			start := len(runes) - overlap
			if start < 0 {
				start = 0
			}
			cur.WriteString(string(runes[start:]))
			curLen = len(runes) - start
		}
	}

	for _, seg := range segments {
		segLen := len([]rune(seg))
		if curLen > 0 && curLen+segLen+1 > adjusted {
			emit()
		}
		if curLen > 0 {
			cur.WriteString(" ")
			curLen++
		}
		cur.WriteString(seg)
		curLen += segLen
	}
	if text := cur.String(); text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
