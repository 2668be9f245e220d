package mcpclient

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/loomworks/loom/internal/errors"
)

// SDKClient adapts an official go-sdk client session to the Client
// interface.
type SDKClient struct {
	id      string
	session *mcp.ClientSession
}

// NewSDKClient wraps a connected session.
func NewSDKClient(id string, session *mcp.ClientSession) *SDKClient {
	return &SDKClient{id: id, session: session}
}

// ID returns the client identifier.
func (c *SDKClient) ID() string {
	return c.id
}

// ListTools returns the server's tools.
func (c *SDKClient) ListTools(ctx context.Context) ([]Tool, error) {
	res, err := c.session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, errors.New(errors.ErrCodeNetwork, "list tools failed for "+c.id, err)
	}
	out := make([]Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		out = append(out, Tool{Name: t.Name, Description: t.Description})
	}
	return out, nil
}

// ListPrompts returns the server's prompt templates.
func (c *SDKClient) ListPrompts(ctx context.Context) ([]Prompt, error) {
	res, err := c.session.ListPrompts(ctx, &mcp.ListPromptsParams{})
	if err != nil {
		return nil, errors.New(errors.ErrCodeNetwork, "list prompts failed for "+c.id, err)
	}
	out := make([]Prompt, 0, len(res.Prompts))
	for _, p := range res.Prompts {
		out = append(out, Prompt{Name: p.Name, Description: p.Description})
	}
	return out, nil
}

// ListResources returns the server's resources.
func (c *SDKClient) ListResources(ctx context.Context) ([]Resource, error) {
	res, err := c.session.ListResources(ctx, &mcp.ListResourcesParams{})
	if err != nil {
		return nil, errors.New(errors.ErrCodeNetwork, "list resources failed for "+c.id, err)
	}
	out := make([]Resource, 0, len(res.Resources))
	for _, r := range res.Resources {
		out = append(out, Resource{URI: r.URI, Name: r.Name, MIMEType: r.MIMEType})
	}
	return out, nil
}

// CallTool invokes a tool and flattens its text content blocks.
func (c *SDKClient) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	res, err := c.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, errors.New(errors.ErrCodeNetwork, "tool call failed for "+c.id, err)
	}
	out := &ToolResult{IsError: res.IsError}
	for _, content := range res.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			out.Content = append(out.Content, text.Text)
		}
	}
	return out, nil
}

// CallPrompt renders a prompt template and joins its message texts.
func (c *SDKClient) CallPrompt(ctx context.Context, name string, args map[string]string) (string, error) {
	res, err := c.session.GetPrompt(ctx, &mcp.GetPromptParams{Name: name, Arguments: args})
	if err != nil {
		return "", errors.New(errors.ErrCodeNetwork, "prompt call failed for "+c.id, err)
	}
	var parts []string
	for _, msg := range res.Messages {
		if text, ok := msg.Content.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// ReadResource reads a resource and joins its text contents.
func (c *SDKClient) ReadResource(ctx context.Context, uri string) (string, error) {
	res, err := c.session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
	if err != nil {
		return "", errors.New(errors.ErrCodeNetwork, "resource read failed for "+c.id, err)
	}
	var parts []string
	for _, content := range res.Contents {
		if content.Text != "" {
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// Close terminates the session.
func (c *SDKClient) Close() error {
	return c.session.Close()
}

// Verify interface implementation.
var _ Client = (*SDKClient)(nil)
