// Package mcpclient defines the MCP client contract consumed by the
// capability manager, health monitor, and batch layer, with an adapter for
// the official Go SDK and a scripted test double.
package mcpclient

import (
	"context"
)

// Tool describes a remotely callable tool.
type Tool struct {
	Name        string
	Description string
}

// Prompt describes a remotely renderable prompt template.
type Prompt struct {
	Name        string
	Description string
}

// Resource describes remotely readable content.
type Resource struct {
	URI      string
	Name     string
	MIMEType string
}

// ToolResult is the outcome of a tool call. Content holds each text block
// of the response.
type ToolResult struct {
	Content []string
	IsError bool
}

// Client is the minimal MCP client surface used across the library.
type Client interface {
	// ID identifies the client for routing, auth, and health bookkeeping.
	ID() string

	ListTools(ctx context.Context) ([]Tool, error)
	ListPrompts(ctx context.Context) ([]Prompt, error)
	ListResources(ctx context.Context) ([]Resource, error)

	CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error)
	CallPrompt(ctx context.Context, name string, args map[string]string) (string, error)
	ReadResource(ctx context.Context, uri string) (string, error)

	Close() error
}

// BatchCaller is an optional capability: clients implementing it accept a
// pre-encoded JSON-RPC batch payload.
type BatchCaller interface {
	SendBatch(ctx context.Context, payload []byte) ([]byte, error)
}
