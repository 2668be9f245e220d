package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 100, cfg.Retrieval.CacheMaxSize)
	assert.Equal(t, 20, cfg.Batch.MaxBatchSize)
	assert.True(t, cfg.Batch.PreserveOrder)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 1000, cfg.Chunker.DefaultChunkSize)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loom.yaml")
	content := `
version: 1
retrieval:
  cache_max_size: 50
batch:
  max_batch_size: 10
  batch_timeout: 100ms
breaker:
  failure_threshold: 3
auth:
  scopes: [mcp:tools]
  auto_refresh: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Retrieval.CacheMaxSize)
	assert.Equal(t, 10, cfg.Batch.MaxBatchSize)
	assert.Equal(t, "100ms", cfg.Batch.BatchTimeout)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, []string{"mcp:tools"}, cfg.Auth.Scopes)
	assert.False(t, cfg.Auth.AutoRefresh)

	// Absent fields keep defaults.
	assert.Equal(t, "30s", cfg.Batch.RequestTimeout)
	assert.Equal(t, 2, cfg.Health.MaxRetries)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/loom.yaml")
	assert.Error(t, err)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero cache", func(c *Config) { c.Retrieval.CacheMaxSize = 0 }},
		{"zero batch size", func(c *Config) { c.Batch.MaxBatchSize = 0 }},
		{"bad duration", func(c *Config) { c.Batch.BatchTimeout = "soon" }},
		{"overlap >= size", func(c *Config) { c.Chunker.DefaultChunkOverlap = 1000 }},
		{"negative retries", func(c *Config) { c.Health.MaxRetries = -1 }},
		{"zero half-open successes", func(c *Config) { c.Breaker.HalfOpenSuccessThreshold = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 50*time.Millisecond, ParseDuration("50ms", time.Second))
	assert.Equal(t, time.Second, ParseDuration("", time.Second))
	assert.Equal(t, time.Second, ParseDuration("junk", time.Second))
}
