// Package llm defines the contract Loom consumes from remote LLM providers
// and a process-wide provider registry. Concrete HTTP wire formats live
// behind this interface and are out of scope for the core.
package llm

import (
	"context"

	"github.com/loomworks/loom/internal/embedding"
)

// CompletionRequest describes a single completion call.
type CompletionRequest struct {
	Prompt      string
	Temperature float64
	MaxTokens   int
	Metadata    map[string]any
}

// CompletionResponse is the provider's answer to a completion request.
type CompletionResponse struct {
	Text     string
	Metadata map[string]any
}

// StreamChunk is one element of a streaming completion.
// The sequence is finite and not restartable.
type StreamChunk struct {
	Text     string
	Done     bool
	Metadata map[string]any
}

// Provider is the consumed LLM provider contract.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai").
	Name() string

	// Complete issues a completion request.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// StreamComplete issues a streaming completion. The returned channel is
	// closed after the final chunk (Done=true) is delivered.
	StreamComplete(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)

	// Embeddings generates an embedding vector for the given text.
	Embeddings(ctx context.Context, text string) (embedding.Vector, error)

	// Initialize prepares the provider with its configuration.
	Initialize(ctx context.Context, config map[string]any) error

	// Close releases resources.
	Close() error
}
