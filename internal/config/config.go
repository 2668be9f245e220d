// Package config loads and validates the Loom configuration.
// Duration fields are strings in Go duration syntax ("50ms", "30s"),
// parsed at wiring time with ParseDuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loomworks/loom/internal/errors"
)

// Config is the complete Loom configuration.
type Config struct {
	Version   int           `yaml:"version"`
	Logging   LoggingConfig `yaml:"logging"`
	Retrieval Retrieval     `yaml:"retrieval"`
	Batch     Batch         `yaml:"batch"`
	Health    Health        `yaml:"health"`
	Auth      Auth          `yaml:"auth"`
	Breaker   Breaker       `yaml:"breaker"`
	Chunker   Chunker       `yaml:"chunker"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Retrieval configures the retrieval manager.
type Retrieval struct {
	// CacheMaxSize caps the LRU result cache entry count.
	CacheMaxSize int `yaml:"cache_max_size"`
}

// Batch configures the JSON-RPC batch request manager.
type Batch struct {
	MaxBatchSize   int    `yaml:"max_batch_size"`
	BatchTimeout   string `yaml:"batch_timeout"`
	RequestTimeout string `yaml:"request_timeout"`
	PreserveOrder  bool   `yaml:"preserve_order"`
}

// Health configures the health monitor.
type Health struct {
	Timeout              string   `yaml:"timeout"`
	MaxRetries           int      `yaml:"max_retries"`
	RetryDelay           string   `yaml:"retry_delay"`
	IncludeSystemMetrics bool     `yaml:"include_system_metrics"`
	ExcludeComponents    []string `yaml:"exclude_components"`
	CheckAuthentication  bool     `yaml:"check_authentication"`
}

// Auth configures the MCP auth adapter.
type Auth struct {
	Scopes      []string `yaml:"scopes"`
	AutoRefresh bool     `yaml:"auto_refresh"`
}

// Breaker configures circuit breakers.
type Breaker struct {
	FailureThreshold         int    `yaml:"failure_threshold"`
	ResetTimeout             string `yaml:"reset_timeout"`
	HalfOpenTimeout          string `yaml:"half_open_timeout"`
	HalfOpenSuccessThreshold int    `yaml:"half_open_success_threshold"`
}

// Chunker configures the document chunker defaults.
type Chunker struct {
	DefaultChunkSize    int `yaml:"default_chunk_size"`
	DefaultChunkOverlap int `yaml:"default_chunk_overlap"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Version: 1,
		Logging: LoggingConfig{Level: "info", Format: "auto"},
		Retrieval: Retrieval{
			CacheMaxSize: 100,
		},
		Batch: Batch{
			MaxBatchSize:   20,
			BatchTimeout:   "50ms",
			RequestTimeout: "30s",
			PreserveOrder:  true,
		},
		Health: Health{
			Timeout:              "5s",
			MaxRetries:           2,
			RetryDelay:           "1s",
			IncludeSystemMetrics: true,
			CheckAuthentication:  false,
		},
		Auth: Auth{
			Scopes:      []string{"mcp:tools", "mcp:resources"},
			AutoRefresh: true,
		},
		Breaker: Breaker{
			FailureThreshold:         5,
			ResetTimeout:             "30s",
			HalfOpenTimeout:          "30s",
			HalfOpenSuccessThreshold: 1,
		},
		Chunker: Chunker{
			DefaultChunkSize:    1000,
			DefaultChunkOverlap: 200,
		},
	}
}

// Load reads a YAML configuration file, applying defaults for absent fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err)
	}

	cfg := New()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and duration syntax.
func (c *Config) Validate() error {
	if c.Retrieval.CacheMaxSize <= 0 {
		return errors.ValidationError("retrieval.cache_max_size must be positive", "cache_max_size")
	}
	if c.Batch.MaxBatchSize <= 0 {
		return errors.ValidationError("batch.max_batch_size must be positive", "max_batch_size")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return errors.ValidationError("breaker.failure_threshold must be positive", "failure_threshold")
	}
	if c.Breaker.HalfOpenSuccessThreshold <= 0 {
		return errors.ValidationError("breaker.half_open_success_threshold must be positive", "half_open_success_threshold")
	}
	if c.Chunker.DefaultChunkSize <= 0 {
		return errors.ValidationError("chunker.default_chunk_size must be positive", "default_chunk_size")
	}
	if c.Chunker.DefaultChunkOverlap >= c.Chunker.DefaultChunkSize {
		return errors.ValidationError("chunker.default_chunk_overlap must be smaller than chunk size", "default_chunk_overlap")
	}
	if c.Health.MaxRetries < 0 {
		return errors.ValidationError("health.max_retries cannot be negative", "max_retries")
	}

	for field, value := range map[string]string{
		"batch.batch_timeout":            c.Batch.BatchTimeout,
		"batch.request_timeout":          c.Batch.RequestTimeout,
		"health.timeout":                 c.Health.Timeout,
		"health.retry_delay":             c.Health.RetryDelay,
		"breaker.reset_timeout":          c.Breaker.ResetTimeout,
		"breaker.half_open_timeout":      c.Breaker.HalfOpenTimeout,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return errors.ValidationError(
				fmt.Sprintf("%s: invalid duration %q", field, value), field)
		}
	}
	return nil
}

// ParseDuration parses a duration field that has already passed Validate.
// Falls back to def on empty or malformed input.
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
