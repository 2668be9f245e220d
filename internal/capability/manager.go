// Package capability discovers what each MCP client can do, tracks
// capability state, and broadcasts changes over an event stream.
package capability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loomworks/loom/internal/errors"
	"github.com/loomworks/loom/internal/mcpclient"
)

// Protocol revisions accepted by UpdateCapabilities.
var supportedVersions = []string{"2025-03-26"}

const eventBufferSize = 64

// EventType classifies a capability change.
type EventType string

const (
	EventEnabled  EventType = "enabled"
	EventDisabled EventType = "disabled"
	EventUpdated  EventType = "updated"
)

// Capability is one discovered or configured ability of a client. Type
// mirrors the capability family (tools, prompts, resources,
// protocol_versioning); Version is the protocol revision it was negotiated
// under.
type Capability struct {
	Name          string
	Type          string
	Version       string
	Enabled       bool
	Configuration map[string]any
	LastUpdated   time.Time
}

// Event records a capability change for subscribers.
type Event struct {
	Type           EventType
	ClientID       string
	CapabilityName string
	Data           map[string]any
	Timestamp      time.Time
}

// UpdateRequest asks for configuration changes across a client's
// capabilities.
type UpdateRequest struct {
	RequestID string
	ClientID  string
	Version   string
	// Updates maps capability name to configuration entries to merge.
	Updates map[string]map[string]any
}

// UpdateRecord is one applied update kept in history.
type UpdateRecord struct {
	RequestID string
	ClientID  string
	Version   string
	Updates   map[string]map[string]any
	AppliedAt time.Time
}

// Statistics summarizes tracked capabilities.
type Statistics struct {
	TotalClients      int
	TotalCapabilities int
	ByName            map[string]int
	Enabled           int
	Disabled          int
}

// Manager tracks per-client capabilities.
type Manager struct {
	mu           sync.Mutex
	clients      map[string]mcpclient.Client
	capabilities map[string]map[string]*Capability
	history      []UpdateRecord
	events       chan Event
	requestSeq   atomic.Int64
	logger       *slog.Logger
	closed       bool
}

// NewManager creates an empty capability manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		clients:      make(map[string]mcpclient.Client),
		capabilities: make(map[string]map[string]*Capability),
		events:       make(chan Event, eventBufferSize),
		logger:       logger,
	}
}

// Events is the capability change stream. Events are dropped rather than
// blocking the emitter when no consumer keeps up.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// RegisterClient probes the client's tools, prompts, and resources and
// records its capabilities. Individual probe failures are non-fatal; the
// corresponding capability is simply absent.
func (m *Manager) RegisterClient(ctx context.Context, client mcpclient.Client) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.StateError("capability manager is closed")
	}
	m.clients[client.ID()] = client
	m.mu.Unlock()

	return m.probe(ctx, client)
}

func (m *Manager) probe(ctx context.Context, client mcpclient.Client) error {
	clientID := client.ID()

	var (
		wg            sync.WaitGroup
		toolCount     = -1
		promptCount   = -1
		resourceCount = -1
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		if tools, err := client.ListTools(ctx); err == nil {
			toolCount = len(tools)
		} else {
			m.logger.Warn("tool probe failed", "client_id", clientID, "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if prompts, err := client.ListPrompts(ctx); err == nil {
			promptCount = len(prompts)
		} else {
			m.logger.Warn("prompt probe failed", "client_id", clientID, "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if resources, err := client.ListResources(ctx); err == nil {
			resourceCount = len(resources)
		} else {
			m.logger.Warn("resource probe failed", "client_id", clientID, "error", err)
		}
	}()
	wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	discovered := func(name string, config map[string]any) *Capability {
		return &Capability{
			Name:          name,
			Type:          name,
			Version:       supportedVersions[len(supportedVersions)-1],
			Enabled:       true,
			Configuration: config,
			LastUpdated:   now,
		}
	}
	caps := make(map[string]*Capability)
	if toolCount >= 0 {
		caps["tools"] = discovered("tools", map[string]any{"tool_count": toolCount})
	}
	if promptCount >= 0 {
		caps["prompts"] = discovered("prompts", map[string]any{"prompt_count": promptCount})
	}
	if resourceCount >= 0 {
		caps["resources"] = discovered("resources", map[string]any{"resource_count": resourceCount})
	}
	caps["protocol_versioning"] = discovered("protocol_versioning",
		map[string]any{"supported_versions": append([]string(nil), supportedVersions...)})
	m.capabilities[clientID] = caps
	for name, c := range caps {
		m.emitLocked(Event{
			Type:           EventEnabled,
			ClientID:       clientID,
			CapabilityName: name,
			Data:           copyConfig(c.Configuration),
			Timestamp:      time.Now(),
		})
	}
	return nil
}

// UnregisterClient forgets a client and its capabilities.
func (m *Manager) UnregisterClient(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, clientID)
	delete(m.capabilities, clientID)
}

// UpdateCapabilities validates and applies a capability update, appends it
// to history, and emits updated events.
func (m *Manager) UpdateCapabilities(req UpdateRequest) error {
	if req.Version != "" && !versionSupported(req.Version) {
		return errors.ValidationError("Unsupported capability version: "+req.Version, "version")
	}
	for capName, config := range req.Updates {
		if raw, ok := config["max_batch_size"]; ok {
			size, ok := asInt(raw)
			if !ok || size < 1 || size > 100 {
				return errors.ValidationError(
					fmt.Sprintf("Invalid max_batch_size for %s: %v", capName, raw), "max_batch_size")
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	caps, ok := m.capabilities[req.ClientID]
	if !ok {
		return errors.NotFoundError("client", req.ClientID)
	}

	if req.RequestID == "" {
		req.RequestID = m.generateRequestIDLocked()
	}
	for capName, config := range req.Updates {
		target, ok := caps[capName]
		if !ok {
			target = &Capability{Name: capName, Type: capName, Enabled: true, Configuration: make(map[string]any)}
			caps[capName] = target
		}
		if target.Configuration == nil {
			target.Configuration = make(map[string]any)
		}
		for k, v := range config {
			target.Configuration[k] = v
		}
		if req.Version != "" {
			target.Version = req.Version
		}
		target.LastUpdated = time.Now()
		m.emitLocked(Event{
			Type:           EventUpdated,
			ClientID:       req.ClientID,
			CapabilityName: capName,
			Data:           copyConfig(config),
			Timestamp:      time.Now(),
		})
	}
	m.history = append(m.history, UpdateRecord{
		RequestID: req.RequestID,
		ClientID:  req.ClientID,
		Version:   req.Version,
		Updates:   req.Updates,
		AppliedAt: time.Now(),
	})
	return nil
}

// EnableCapability marks a capability enabled and emits an event.
func (m *Manager) EnableCapability(clientID, name string) error {
	return m.setEnabled(clientID, name, true)
}

// DisableCapability marks a capability disabled and emits an event.
func (m *Manager) DisableCapability(clientID, name string) error {
	return m.setEnabled(clientID, name, false)
}

func (m *Manager) setEnabled(clientID, name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	caps, ok := m.capabilities[clientID]
	if !ok {
		return errors.NotFoundError("client", clientID)
	}
	c, ok := caps[name]
	if !ok {
		return errors.NotFoundError("capability", name)
	}
	if c.Enabled == enabled {
		return nil
	}
	c.Enabled = enabled
	c.LastUpdated = time.Now()
	eventType := EventEnabled
	if !enabled {
		eventType = EventDisabled
	}
	m.emitLocked(Event{
		Type:           eventType,
		ClientID:       clientID,
		CapabilityName: name,
		Timestamp:      time.Now(),
	})
	return nil
}

// RefreshAllCapabilities re-probes every registered client.
func (m *Manager) RefreshAllCapabilities(ctx context.Context) error {
	m.mu.Lock()
	clients := make([]mcpclient.Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	for _, client := range clients {
		if err := m.probe(ctx, client); err != nil {
			return err
		}
	}
	return nil
}

// GetCapabilities returns a snapshot of one client's capabilities.
func (m *Manager) GetCapabilities(clientID string) ([]Capability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	caps, ok := m.capabilities[clientID]
	if !ok {
		return nil, errors.NotFoundError("client", clientID)
	}
	return snapshotCaps(caps), nil
}

// GetAllCapabilities returns a snapshot of every client's capabilities.
func (m *Manager) GetAllCapabilities() map[string][]Capability {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]Capability, len(m.capabilities))
	for clientID, caps := range m.capabilities {
		out[clientID] = snapshotCaps(caps)
	}
	return out
}

// GetStatistics counts capabilities by name and enabled state.
func (m *Manager) GetStatistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Statistics{
		TotalClients: len(m.capabilities),
		ByName:       make(map[string]int),
	}
	for _, caps := range m.capabilities {
		for name, c := range caps {
			stats.TotalCapabilities++
			stats.ByName[name]++
			if c.Enabled {
				stats.Enabled++
			} else {
				stats.Disabled++
			}
		}
	}
	return stats
}

// UpdateHistory returns a copy of the applied update records in order.
func (m *Manager) UpdateHistory() []UpdateRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]UpdateRecord(nil), m.history...)
}

// GenerateRequestID returns a monotonic request identifier.
func (m *Manager) GenerateRequestID() string {
	return m.generateRequestIDLocked()
}

func (m *Manager) generateRequestIDLocked() string {
	return fmt.Sprintf("cap_%d", m.requestSeq.Add(1))
}

// Close stops the manager and closes the event stream.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.events)
	return nil
}

func (m *Manager) emitLocked(event Event) {
	if m.closed {
		return
	}
	select {
	case m.events <- event:
	default:
		m.logger.Warn("capability event dropped",
			"client_id", event.ClientID,
			"capability", event.CapabilityName,
			"type", event.Type)
	}
}

func versionSupported(version string) bool {
	for _, v := range supportedVersions {
		if v == version {
			return true
		}
	}
	return false
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

func copyConfig(config map[string]any) map[string]any {
	if config == nil {
		return nil
	}
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = v
	}
	return out
}

func snapshotCaps(caps map[string]*Capability) []Capability {
	out := make([]Capability, 0, len(caps))
	for _, c := range caps {
		copied := *c
		copied.Configuration = copyConfig(c.Configuration)
		out = append(out, copied)
	}
	return out
}
