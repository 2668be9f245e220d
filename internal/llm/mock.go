package llm

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/loomworks/loom/internal/embedding"
)

// MockProvider is a deterministic in-process provider for tests and offline
// development. Embeddings are hash-derived from token features, so the same
// text always produces the same unit-length vector and related texts overlap.
type MockProvider struct {
	name string
	dims int

	mu        sync.Mutex
	responses []string
	index     int

	// CompleteFunc overrides completion behavior when set.
	CompleteFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	// EmbedFunc overrides embedding behavior when set.
	EmbedFunc func(ctx context.Context, text string) (embedding.Vector, error)

	// Call counters for assertions.
	CompleteCalls int
	EmbedCalls    int

	closed      bool
	initialized bool
}

// NewMockProvider creates a mock provider with the given embedding dimension.
func NewMockProvider(name string, dims int) *MockProvider {
	if dims <= 0 {
		dims = 64
	}
	return &MockProvider{name: name, dims: dims}
}

// QueueResponse appends a canned completion response.
// Responses are consumed in FIFO order; when exhausted, the last one repeats.
func (m *MockProvider) QueueResponse(text string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, text)
	return m
}

// Name returns the provider identifier.
func (m *MockProvider) Name() string {
	return m.name
}

// Complete returns the next queued response, or an echo of the prompt tail.
func (m *MockProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.CompleteCalls++
	fn := m.CompleteFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var text string
	switch {
	case len(m.responses) == 0:
		text = "mock response"
	case m.index < len(m.responses):
		text = m.responses[m.index]
		m.index++
	default:
		text = m.responses[len(m.responses)-1]
	}

	return &CompletionResponse{
		Text:     text,
		Metadata: map[string]any{"provider": m.name, "mock": true},
	}, nil
}

// StreamComplete streams the completion word by word.
func (m *MockProvider) StreamComplete(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	resp, err := m.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		words := strings.Fields(resp.Text)
		for i, w := range words {
			select {
			case <-ctx.Done():
				return
			case ch <- StreamChunk{Text: w, Done: i == len(words)-1}:
			}
		}
		if len(words) == 0 {
			ch <- StreamChunk{Done: true}
		}
	}()
	return ch, nil
}

// Embeddings returns a deterministic unit-length vector derived from text.
func (m *MockProvider) Embeddings(ctx context.Context, text string) (embedding.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.EmbedCalls++
	fn := m.EmbedFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	return hashEmbed(text, m.dims), nil
}

// Initialize marks the provider as configured.
func (m *MockProvider) Initialize(ctx context.Context, config map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = true
	return nil
}

// Close releases resources.
func (m *MockProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// hashEmbed buckets token hashes into dims accumulator slots and normalizes.
// Shared tokens between texts yield overlapping features, which is enough
// structure for similarity-dependent tests.
func hashEmbed(text string, dims int) embedding.Vector {
	acc := make([]float64, dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		idx := int(sum) % dims
		if idx < 0 {
			idx += dims
		}
		sign := 1.0
		if sum&1 == 1 {
			sign = -1.0
		}
		acc[idx] += sign
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	out := make(embedding.Vector, dims)
	if norm == 0 {
		out[0] = 1 // empty text maps to a fixed axis
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range acc {
		out[i] = float32(v / norm)
	}
	return out
}

// Verify interface implementation.
var _ Provider = (*MockProvider)(nil)
