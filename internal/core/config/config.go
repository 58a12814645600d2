package config

import (
	"time"

	"github.com/vietddude/crawlguard/internal/core/domain"
	redisclient "github.com/vietddude/crawlguard/internal/infra/redis"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Backoff  BackoffConfig  `yaml:"backoff"`
	Health   HealthConfig   `yaml:"health"`
	Redis    RedisConfig    `yaml:"redis"`
	Browser  BrowserConfig  `yaml:"browser"`
	Policies PoliciesConfig `yaml:"policies"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// FetchConfig holds executor defaults.
type FetchConfig struct {
	MaxRetries       *int          `yaml:"max_retries"` // nil = default, 0 = no retries
	Timeout          time.Duration `yaml:"timeout"`
	AdmissionTimeout time.Duration `yaml:"admission_timeout"`
	// BrowserFallback routes every call through the browser transport.
	// Strategies may switch to the browser whenever it is enabled.
	BrowserFallback bool `yaml:"browser_fallback"`
}

// BackoffConfig holds wait computation settings.
type BackoffConfig struct {
	Base   time.Duration `yaml:"base"`
	Jitter *bool         `yaml:"jitter"`
}

// HealthConfig holds blacklist thresholds and history bounds.
type HealthConfig struct {
	Window                      time.Duration `yaml:"window"`
	Retention                   time.Duration `yaml:"retention"`
	HistoryLimit                int           `yaml:"history_limit"`
	ConsecutiveFailureThreshold int           `yaml:"consecutive_failure_threshold"`
	BotDetectionMinEvents       int           `yaml:"bot_detection_min_events"`
	BotDetectionRatio           float64       `yaml:"bot_detection_ratio"`
	PermanentBlockThreshold     int           `yaml:"permanent_block_threshold"` // 0 = disabled
	SweepInterval               time.Duration `yaml:"sweep_interval"`
}

// RedisConfig enables the Redis telemetry sink when URL is set.
type RedisConfig struct {
	redisclient.Config `yaml:",inline"`
	SnapshotInterval   time.Duration `yaml:"snapshot_interval"`
}

// BrowserConfig holds headless browser settings.
type BrowserConfig struct {
	Enabled     bool          `yaml:"enabled"`
	ControlURL  string        `yaml:"control_url"`
	Bin         string        `yaml:"bin"`
	Headless    *bool         `yaml:"headless"`
	PageTimeout time.Duration `yaml:"page_timeout"`
}

// PoliciesConfig holds the default site policy and explicit site entries.
type PoliciesConfig struct {
	Default domain.SitePolicy   `yaml:"default"`
	Sites   []domain.SitePolicy `yaml:"sites"`
}
