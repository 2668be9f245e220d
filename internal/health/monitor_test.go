package health

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/errors"
	"github.com/loomworks/loom/internal/mcpclient"
)

func quickConfig() Config {
	return Config{
		Timeout:    time.Second,
		MaxRetries: 1,
		RetryDelay: 10 * time.Millisecond,
	}
}

func TestMonitor_HealthyClient(t *testing.T) {
	m := NewMonitor(quickConfig(), nil, nil)
	client := mcpclient.NewMockClient("svc")
	client.Tools = []mcpclient.Tool{{Name: "search"}}
	m.RegisterClient(client)

	report := m.PerformHealthCheck(context.Background())
	require.Contains(t, report.Components, "svc")
	component := report.Components["svc"]
	assert.Equal(t, StatusHealthy, component.Status)
	assert.Equal(t, 1, component.Details["tool_count"])
	assert.Equal(t, StatusHealthy, report.Overall)
}

func TestMonitor_RetriesThenSucceeds(t *testing.T) {
	m := NewMonitor(Config{Timeout: time.Second, MaxRetries: 2, RetryDelay: 5 * time.Millisecond}, nil, nil)
	client := mcpclient.NewMockClient("flaky")
	var calls atomic.Int64
	client.ListToolsFunc = func(ctx context.Context) ([]mcpclient.Tool, error) {
		if calls.Add(1) < 3 {
			return nil, errors.NetworkError("transient", 0, nil)
		}
		return []mcpclient.Tool{{Name: "ok"}}, nil
	}
	m.RegisterClient(client)

	report := m.PerformHealthCheck(context.Background())
	assert.Equal(t, StatusHealthy, report.Components["flaky"].Status)
	assert.EqualValues(t, 3, calls.Load())
}

func TestMonitor_ExhaustedRetriesAreUnhealthy(t *testing.T) {
	m := NewMonitor(quickConfig(), nil, nil)
	client := mcpclient.NewMockClient("dead")
	client.FailListTools = true
	m.RegisterClient(client)

	report := m.PerformHealthCheck(context.Background())
	component := report.Components["dead"]
	assert.Equal(t, StatusUnhealthy, component.Status)
	assert.NotEmpty(t, component.Error)
	assert.Equal(t, StatusUnhealthy, report.Overall)
	assert.EqualValues(t, 2, client.ListToolsCalls.Load(), "one attempt plus one retry")
}

func TestMonitor_OverallIsWorstComponent(t *testing.T) {
	m := NewMonitor(quickConfig(), nil, nil)
	good := mcpclient.NewMockClient("good")
	bad := mcpclient.NewMockClient("bad")
	bad.FailListTools = true
	m.RegisterClient(good)
	m.RegisterClient(bad)

	report := m.PerformHealthCheck(context.Background())
	assert.Equal(t, StatusHealthy, report.Components["good"].Status)
	assert.Equal(t, StatusUnhealthy, report.Components["bad"].Status)
	assert.Equal(t, StatusUnhealthy, report.Overall)
}

func TestMonitor_ExcludedComponentIsUnknown(t *testing.T) {
	config := quickConfig()
	config.ExcludeComponents = []string{"ignored"}
	m := NewMonitor(config, nil, nil)
	client := mcpclient.NewMockClient("ignored")
	m.RegisterClient(client)

	report := m.PerformHealthCheck(context.Background())
	component := report.Components["ignored"]
	assert.Equal(t, StatusUnknown, component.Status)
	assert.Equal(t, "excluded from health checks", component.Details["reason"])
	assert.Zero(t, client.ListToolsCalls.Load(), "excluded clients are never probed")
	assert.Equal(t, StatusUnknown, report.Overall)
}

type staticAuth struct{ valid bool }

func (s staticAuth) HasValidAuth(string) bool { return s.valid }

func TestMonitor_AuthCheckDegrades(t *testing.T) {
	config := quickConfig()
	config.CheckAuthentication = true
	m := NewMonitor(config, staticAuth{valid: false}, nil)
	m.RegisterClient(mcpclient.NewMockClient("svc"))

	report := m.PerformHealthCheck(context.Background())
	component := report.Components["svc"]
	assert.Equal(t, StatusDegraded, component.Status)
	assert.Equal(t, "missing or expired", component.Details["auth"])
	assert.Equal(t, StatusDegraded, report.Overall)
}

func TestMonitor_SystemMetricsComponent(t *testing.T) {
	config := quickConfig()
	config.IncludeSystemMetrics = true
	m := NewMonitor(config, nil, nil)
	m.RegisterClient(mcpclient.NewMockClient("svc"))

	report := m.PerformHealthCheck(context.Background())
	system, ok := report.Components["system"]
	require.True(t, ok)
	assert.Equal(t, StatusHealthy, system.Status)
	assert.Equal(t, 1, system.Details["registered_clients"])
	assert.Equal(t, 1, system.Details["healthy_clients"])
	assert.Contains(t, system.Details, "memory_usage")
	assert.Contains(t, system.Details, "uptime")
}

func TestMonitor_SelectedClientsOnly(t *testing.T) {
	m := NewMonitor(quickConfig(), nil, nil)
	m.RegisterClient(mcpclient.NewMockClient("a"))
	m.RegisterClient(mcpclient.NewMockClient("b"))

	report := m.PerformHealthCheck(context.Background(), "a")
	assert.Contains(t, report.Components, "a")
	assert.NotContains(t, report.Components, "b")
}

func TestMonitor_UnregisteredSelectionIsUnhealthy(t *testing.T) {
	m := NewMonitor(quickConfig(), nil, nil)
	report := m.PerformHealthCheck(context.Background(), "ghost")
	component := report.Components["ghost"]
	assert.Equal(t, StatusUnhealthy, component.Status)
	assert.Equal(t, "client not registered", component.Error)
}

func TestMonitor_NegativeMaxRetriesStillProbesOnce(t *testing.T) {
	m := NewMonitor(Config{Timeout: time.Second, MaxRetries: -5}, nil, nil)
	good := mcpclient.NewMockClient("good")
	bad := mcpclient.NewMockClient("bad")
	bad.FailListTools = true
	m.RegisterClient(good)
	m.RegisterClient(bad)

	report := m.PerformHealthCheck(context.Background())
	assert.Equal(t, StatusHealthy, report.Components["good"].Status)

	component := report.Components["bad"]
	assert.Equal(t, StatusUnhealthy, component.Status)
	assert.NotEmpty(t, component.Error)
	assert.EqualValues(t, 1, bad.ListToolsCalls.Load())
}

func TestMonitor_HistoryIsBounded(t *testing.T) {
	m := NewMonitor(Config{Timeout: time.Second}, nil, nil)
	m.RegisterClient(mcpclient.NewMockClient("svc"))

	for i := 0; i < historyLimit+10; i++ {
		m.PerformHealthCheck(context.Background())
	}
	history := m.History("svc")
	assert.Len(t, history, historyLimit)
	assert.Equal(t, StatusHealthy, history[len(history)-1].Status)
}

func TestMonitor_UnregisterDropsHistory(t *testing.T) {
	m := NewMonitor(quickConfig(), nil, nil)
	m.RegisterClient(mcpclient.NewMockClient("svc"))
	m.PerformHealthCheck(context.Background())
	m.UnregisterClient("svc")

	assert.Empty(t, m.History("svc"))
	report := m.PerformHealthCheck(context.Background())
	assert.Empty(t, report.Components)
	assert.Equal(t, StatusUnknown, report.Overall)
}
