package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the importer
type Config struct {
	API    APIConfig    `yaml:"api"`
	Flow   FlowConfig   `yaml:"flow"`
	Batch  BatchConfig  `yaml:"batch"`
	Retry  RetryConfig  `yaml:"retry"`
	Export ExportConfig `yaml:"export"`
}

// APIConfig holds remote workspace API configuration
type APIConfig struct {
	BaseURL                 string `yaml:"base_url"`
	Username                string `yaml:"username"`
	Password                string `yaml:"password"`
	TimeoutSeconds          int    `yaml:"timeout_seconds"`
	TokenLifetimeSeconds    int    `yaml:"token_lifetime_seconds"`
	RefreshThresholdSeconds int    `yaml:"refresh_threshold_seconds"`
}

// Timeout returns the configured HTTP timeout as a duration
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TokenLifetime returns the fallback token lifetime used when the
// server omits one from the login response
func (c APIConfig) TokenLifetime() time.Duration {
	return time.Duration(c.TokenLifetimeSeconds) * time.Second
}

// RefreshThreshold returns the remaining-lifetime window below which
// the session is considered expiring
func (c APIConfig) RefreshThreshold() time.Duration {
	return time.Duration(c.RefreshThresholdSeconds) * time.Second
}

// FlowConfig identifies the target workflow in the remote workspace.
// FlowID and StatusID are required; every listing and insert is scoped
// to them.
type FlowConfig struct {
	FlowID       int `yaml:"flow_id"`
	StatusID     int `yaml:"status_id"`
	StatusFlowID int `yaml:"status_flow_id"`
	CurrentUser  int `yaml:"current_user"`
}

// BatchConfig holds batch tuning knobs for one import run
type BatchConfig struct {
	ChunkSize          int    `yaml:"chunk_size"`
	InterBatchDelayMS  int    `yaml:"inter_batch_delay_ms"`
	InterRecordDelayMS int    `yaml:"inter_record_delay_ms"`
	MaxConcurrent      int    `yaml:"max_concurrent"`
	VerifyAfterInsert  bool   `yaml:"verify_after_insert"`
	VerifySettleMS     int    `yaml:"verify_settle_ms"`
	StopOnFailure      bool   `yaml:"stop_on_failure"`
	SnapshotEvery      int    `yaml:"snapshot_every"`
	HeaderMode         string `yaml:"header_mode"` // "auto", "present" or "absent"
	Diagnostics        bool   `yaml:"diagnostics"`
}

// InterBatchDelay returns the pause applied between chunks
func (c BatchConfig) InterBatchDelay() time.Duration {
	return time.Duration(c.InterBatchDelayMS) * time.Millisecond
}

// InterRecordDelay returns the pause applied after each uploaded record
func (c BatchConfig) InterRecordDelay() time.Duration {
	return time.Duration(c.InterRecordDelayMS) * time.Millisecond
}

// VerifySettle returns the pause before a post-insert verification query
func (c BatchConfig) VerifySettle() time.Duration {
	return time.Duration(c.VerifySettleMS) * time.Millisecond
}

// RetryConfig holds retry and backoff configuration for remote calls
type RetryConfig struct {
	MaxRetries       int    `yaml:"max_retries"`
	BackoffStrategy  string `yaml:"backoff_strategy"` // "linear" or "exponential"
	BaseDelayMS      int    `yaml:"base_delay_ms"`
	MaxDelayMS       int    `yaml:"max_delay_ms"`
	RateLimitFloorMS int    `yaml:"rate_limit_floor_ms"`
}

// BaseDelay returns the base backoff delay as a duration
func (c RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

// MaxDelay returns the backoff cap as a duration
func (c RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMS) * time.Millisecond
}

// RateLimitFloor returns the minimum wait after a rate-limited response
func (c RetryConfig) RateLimitFloor() time.Duration {
	return time.Duration(c.RateLimitFloorMS) * time.Millisecond
}

// ExportConfig holds output artifact configuration
type ExportConfig struct {
	Dir    string `yaml:"dir"`
	Format string `yaml:"format"` // "csv", "xlsx" or "json"
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.API.TimeoutSeconds == 0 {
		cfg.API.TimeoutSeconds = 60
	}
	if cfg.API.TokenLifetimeSeconds == 0 {
		cfg.API.TokenLifetimeSeconds = 3600
	}
	if cfg.API.RefreshThresholdSeconds == 0 {
		cfg.API.RefreshThresholdSeconds = 1200
	}
	if cfg.Flow.CurrentUser == 0 {
		cfg.Flow.CurrentUser = 1
	}
	if cfg.Batch.ChunkSize == 0 {
		cfg.Batch.ChunkSize = 25
	}
	if cfg.Batch.InterBatchDelayMS == 0 {
		cfg.Batch.InterBatchDelayMS = 3000
	}
	if cfg.Batch.InterRecordDelayMS == 0 {
		cfg.Batch.InterRecordDelayMS = 1000
	}
	if cfg.Batch.MaxConcurrent == 0 {
		cfg.Batch.MaxConcurrent = 1
	}
	if cfg.Batch.VerifySettleMS == 0 {
		cfg.Batch.VerifySettleMS = 1000
	}
	if cfg.Batch.SnapshotEvery == 0 {
		cfg.Batch.SnapshotEvery = 10
	}
	if cfg.Batch.HeaderMode == "" {
		cfg.Batch.HeaderMode = "auto"
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Retry.BackoffStrategy == "" {
		cfg.Retry.BackoffStrategy = "linear"
	}
	if cfg.Retry.BaseDelayMS == 0 {
		cfg.Retry.BaseDelayMS = 2000
	}
	if cfg.Retry.MaxDelayMS == 0 {
		cfg.Retry.MaxDelayMS = 30000
	}
	if cfg.Retry.RateLimitFloorMS == 0 {
		cfg.Retry.RateLimitFloorMS = 5000
	}
	if cfg.Export.Dir == "" {
		cfg.Export.Dir = "."
	}
	if cfg.Export.Format == "" {
		cfg.Export.Format = "csv"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env
// vars, so credentials can live in .env locally and in real env vars in
// CI or on a server.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables if present
	if baseURL := os.Getenv("FLOWSMA_BASE_URL"); baseURL != "" {
		cfg.API.BaseURL = baseURL
	}
	if username := os.Getenv("FLOWSMA_USERNAME"); username != "" {
		cfg.API.Username = username
	}
	if password := os.Getenv("FLOWSMA_PASSWORD"); password != "" {
		cfg.API.Password = password
	}
	if v := os.Getenv("FLOWSMA_FLOW_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			cfg.Flow.FlowID = id
		}
	}
	if v := os.Getenv("FLOWSMA_STATUS_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			cfg.Flow.StatusID = id
		}
	}
	if v := os.Getenv("FLOWSMA_STATUS_FLOW_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			cfg.Flow.StatusFlowID = id
		}
	}
	if v := os.Getenv("IMPORT_EXPORT_DIR"); v != "" {
		cfg.Export.Dir = v
	}

	return cfg, nil
}

// ErrMissingConfig indicates a required setting is absent. Validation
// failures are fatal before any remote call is made.
var ErrMissingConfig = errors.New("missing required configuration")

// Validate checks that every setting required before the first remote
// call is present
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("%w: api.base_url", ErrMissingConfig)
	}
	if c.API.Username == "" || c.API.Password == "" {
		return fmt.Errorf("%w: api.username and api.password", ErrMissingConfig)
	}
	if c.Flow.FlowID == 0 || c.Flow.StatusID == 0 {
		return fmt.Errorf("%w: flow.flow_id and flow.status_id", ErrMissingConfig)
	}
	switch c.Retry.BackoffStrategy {
	case "linear", "exponential":
	default:
		return fmt.Errorf("invalid retry.backoff_strategy %q (want linear or exponential)", c.Retry.BackoffStrategy)
	}
	switch c.Batch.HeaderMode {
	case "auto", "present", "absent":
	default:
		return fmt.Errorf("invalid batch.header_mode %q (want auto, present or absent)", c.Batch.HeaderMode)
	}
	return nil
}
