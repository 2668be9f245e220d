package mcpclient

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/loomworks/loom/internal/errors"
)

// MockClient is a scripted Client for tests. Populate the slices for the
// list calls and the maps for the invocation calls; set the Fail* flags or
// the *Func overrides to inject behavior. All counters are safe for
// concurrent use.
type MockClient struct {
	ClientID string

	Tools     []Tool
	Prompts   []Prompt
	Resources []Resource

	// ToolResults maps tool name to a canned result. Unmapped names
	// return an empty result unless CallToolFunc is set.
	ToolResults     map[string]*ToolResult
	PromptResults   map[string]string
	ResourceResults map[string]string

	CallToolFunc  func(ctx context.Context, name string, args map[string]any) (*ToolResult, error)
	ListToolsFunc func(ctx context.Context) ([]Tool, error)

	FailListTools     bool
	FailListPrompts   bool
	FailListResources bool
	FailCallTool      bool

	ListToolsCalls atomic.Int64
	CallToolCalls  atomic.Int64

	mu        sync.Mutex
	closed    bool
	validator any
}

// NewMockClient creates a mock with the given identifier.
func NewMockClient(id string) *MockClient {
	return &MockClient{ClientID: id}
}

func (m *MockClient) ID() string {
	return m.ClientID
}

func (m *MockClient) ListTools(ctx context.Context) ([]Tool, error) {
	m.ListToolsCalls.Add(1)
	if m.ListToolsFunc != nil {
		return m.ListToolsFunc(ctx)
	}
	if m.FailListTools {
		return nil, errors.NetworkError("list tools failed", 0, nil)
	}
	return append([]Tool(nil), m.Tools...), nil
}

func (m *MockClient) ListPrompts(ctx context.Context) ([]Prompt, error) {
	if m.FailListPrompts {
		return nil, errors.NetworkError("list prompts failed", 0, nil)
	}
	return append([]Prompt(nil), m.Prompts...), nil
}

func (m *MockClient) ListResources(ctx context.Context) ([]Resource, error) {
	if m.FailListResources {
		return nil, errors.NetworkError("list resources failed", 0, nil)
	}
	return append([]Resource(nil), m.Resources...), nil
}

func (m *MockClient) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	m.CallToolCalls.Add(1)
	if m.CallToolFunc != nil {
		return m.CallToolFunc(ctx, name, args)
	}
	if m.FailCallTool {
		return nil, errors.NetworkError("tool call failed", 0, nil)
	}
	if r, ok := m.ToolResults[name]; ok {
		return r, nil
	}
	return &ToolResult{}, nil
}

func (m *MockClient) CallPrompt(ctx context.Context, name string, args map[string]string) (string, error) {
	if r, ok := m.PromptResults[name]; ok {
		return r, nil
	}
	return "", errors.NotFoundError("prompt", name)
}

func (m *MockClient) ReadResource(ctx context.Context, uri string) (string, error) {
	if r, ok := m.ResourceResults[uri]; ok {
		return r, nil
	}
	return "", errors.NotFoundError("resource", uri)
}

// EnableAuthentication records the validator, satisfying the auth
// adapter's capability probe.
func (m *MockClient) EnableAuthentication(validator any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validator = validator
	return nil
}

// Validator returns whatever EnableAuthentication stored.
func (m *MockClient) Validator() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validator
}

func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (m *MockClient) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ Client = (*MockClient)(nil)
