// Package health probes registered MCP clients and aggregates their status
// into an overall report, with bounded per-client history.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/loomworks/loom/internal/mcpclient"
)

// historyLimit bounds the per-client health history.
const historyLimit = 100

// systemComponent names the synthetic component carrying process metrics.
const systemComponent = "system"

// Status is a component health level.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// statusRank orders statuses by severity; the overall report takes the
// worst component.
func statusRank(s Status) int {
	switch s {
	case StatusUnhealthy:
		return 3
	case StatusDegraded:
		return 2
	case StatusHealthy:
		return 1
	default:
		return 0
	}
}

// Config controls probing behavior.
type Config struct {
	// Timeout bounds one probe attempt.
	Timeout time.Duration
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
	// IncludeSystemMetrics adds a synthetic "system" component.
	IncludeSystemMetrics bool
	// ExcludeComponents lists client ids reported as unknown without
	// probing.
	ExcludeComponents []string
	// CheckAuthentication degrades clients lacking valid auth.
	CheckAuthentication bool
}

// DefaultConfig returns a conservative probing configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:    5 * time.Second,
		MaxRetries: 2,
		RetryDelay: 100 * time.Millisecond,
	}
}

// AuthChecker reports whether a client holds valid authentication.
type AuthChecker interface {
	HasValidAuth(clientID string) bool
}

// ComponentHealth is the probe result for one component.
type ComponentHealth struct {
	ClientID       string
	Status         Status
	ResponseTimeMs int64
	Error          string
	Details        map[string]any
	CheckedAt      time.Time
}

// Report aggregates component health into an overall status.
type Report struct {
	Overall    Status
	Components map[string]ComponentHealth
	CheckedAt  time.Time
}

// Monitor probes MCP clients.
type Monitor struct {
	mu        sync.Mutex
	config    Config
	clients   map[string]mcpclient.Client
	history   map[string][]ComponentHealth
	auth      AuthChecker
	logger    *slog.Logger
	startedAt time.Time
	excluded  map[string]struct{}
}

// NewMonitor creates a monitor with the config. auth may be nil when
// CheckAuthentication is off.
func NewMonitor(config Config, auth AuthChecker, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0 // probing always makes at least one attempt
	}
	excluded := make(map[string]struct{}, len(config.ExcludeComponents))
	for _, id := range config.ExcludeComponents {
		excluded[id] = struct{}{}
	}
	return &Monitor{
		config:    config,
		clients:   make(map[string]mcpclient.Client),
		history:   make(map[string][]ComponentHealth),
		auth:      auth,
		logger:    logger,
		startedAt: time.Now(),
		excluded:  excluded,
	}
}

// RegisterClient adds a client to the probe set.
func (m *Monitor) RegisterClient(client mcpclient.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[client.ID()] = client
}

// UnregisterClient removes a client and its history.
func (m *Monitor) UnregisterClient(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, clientID)
	delete(m.history, clientID)
}

// PerformHealthCheck probes the named clients, or every registered client
// when clientIDs is empty, and returns the aggregated report.
func (m *Monitor) PerformHealthCheck(ctx context.Context, clientIDs ...string) Report {
	m.mu.Lock()
	targets := make(map[string]mcpclient.Client)
	if len(clientIDs) == 0 {
		for id, c := range m.clients {
			targets[id] = c
		}
	} else {
		for _, id := range clientIDs {
			targets[id] = m.clients[id]
		}
	}
	m.mu.Unlock()

	report := Report{
		Components: make(map[string]ComponentHealth, len(targets)),
		CheckedAt:  time.Now(),
	}

	var wg sync.WaitGroup
	results := make(chan ComponentHealth, len(targets))
	for id, client := range targets {
		id, client := id, client
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- m.checkOne(ctx, id, client)
		}()
	}
	wg.Wait()
	close(results)

	for health := range results {
		report.Components[health.ClientID] = health
		m.recordHistory(health)
	}

	if m.config.IncludeSystemMetrics {
		report.Components[systemComponent] = m.systemHealth(report)
	}

	report.Overall = overallStatus(report.Components)
	return report
}

func (m *Monitor) checkOne(ctx context.Context, clientID string, client mcpclient.Client) ComponentHealth {
	health := ComponentHealth{
		ClientID:  clientID,
		Status:    StatusUnknown,
		CheckedAt: time.Now(),
	}

	if _, ok := m.excluded[clientID]; ok {
		health.Details = map[string]any{"reason": "excluded from health checks"}
		return health
	}
	if client == nil {
		health.Status = StatusUnhealthy
		health.Error = "client not registered"
		return health
	}

	attempts := 1 + m.config.MaxRetries
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && m.config.RetryDelay > 0 {
			select {
			case <-time.After(m.config.RetryDelay):
			case <-ctx.Done():
				health.Status = StatusUnhealthy
				health.Error = ctx.Err().Error()
				return health
			}
		}

		probeCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
		start := time.Now()
		tools, err := client.ListTools(probeCtx)
		cancel()
		if err != nil {
			lastErr = err
			m.logger.Debug("health probe attempt failed",
				"client_id", clientID, "attempt", attempt+1, "error", err)
			continue
		}

		health.ResponseTimeMs = time.Since(start).Milliseconds()
		health.Status = StatusHealthy
		health.Details = map[string]any{"tool_count": len(tools)}
		if m.config.CheckAuthentication && m.auth != nil && !m.auth.HasValidAuth(clientID) {
			health.Status = StatusDegraded
			health.Details["auth"] = "missing or expired"
		}
		return health
	}

	health.Status = StatusUnhealthy
	health.Error = lastErr.Error()
	return health
}

func (m *Monitor) systemHealth(report Report) ComponentHealth {
	healthy := 0
	for _, c := range report.Components {
		if c.Status == StatusHealthy {
			healthy++
		}
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.Lock()
	registered := len(m.clients)
	m.mu.Unlock()

	return ComponentHealth{
		ClientID: systemComponent,
		Status:   StatusHealthy,
		Details: map[string]any{
			"registered_clients": registered,
			"healthy_clients":    healthy,
			"memory_usage":       fmt.Sprintf("%d MB", memStats.Alloc/1024/1024),
			"uptime":             time.Since(m.startedAt).String(),
		},
		CheckedAt: time.Now(),
	}
}

// History returns a copy of the recorded checks for a client, oldest
// first.
func (m *Monitor) History(clientID string) []ComponentHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ComponentHealth(nil), m.history[clientID]...)
}

func (m *Monitor) recordHistory(health ComponentHealth) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := append(m.history[health.ClientID], health)
	if len(entries) > historyLimit {
		entries = entries[len(entries)-historyLimit:]
	}
	m.history[health.ClientID] = entries
}

func overallStatus(components map[string]ComponentHealth) Status {
	overall := StatusUnknown
	for _, c := range components {
		if statusRank(c.Status) > statusRank(overall) {
			overall = c.Status
		}
	}
	return overall
}
