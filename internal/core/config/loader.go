package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Default returns a configuration with every default applied.
func Default() *AppConfig {
	cfg := &AppConfig{}
	applyDefaults(cfg)
	return cfg
}

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Fetch.MaxRetries == nil {
		n := 3
		cfg.Fetch.MaxRetries = &n
	}
	if cfg.Fetch.Timeout == 0 {
		cfg.Fetch.Timeout = 30 * time.Second
	}
	if cfg.Fetch.AdmissionTimeout == 0 {
		cfg.Fetch.AdmissionTimeout = 2 * time.Minute
	}

	if cfg.Backoff.Base == 0 {
		cfg.Backoff.Base = time.Second
	}
	if cfg.Backoff.Jitter == nil {
		on := true
		cfg.Backoff.Jitter = &on
	}

	h := &cfg.Health
	if h.Window == 0 {
		h.Window = 24 * time.Hour
	}
	if h.Retention == 0 {
		h.Retention = 7 * 24 * time.Hour
	}
	if h.HistoryLimit == 0 {
		h.HistoryLimit = 1000
	}
	if h.ConsecutiveFailureThreshold == 0 {
		h.ConsecutiveFailureThreshold = 10
	}
	if h.BotDetectionMinEvents == 0 {
		h.BotDetectionMinEvents = 5
	}
	if h.BotDetectionRatio == 0 {
		h.BotDetectionRatio = 0.8
	}
	if h.SweepInterval == 0 {
		h.SweepInterval = time.Hour
	}

	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "crawlguard"
	}
	if cfg.Redis.SnapshotInterval == 0 {
		cfg.Redis.SnapshotInterval = 30 * time.Second
	}
	if cfg.Redis.StreamMaxLen == 0 {
		cfg.Redis.StreamMaxLen = 10000
	}

	if cfg.Browser.Headless == nil {
		on := true
		cfg.Browser.Headless = &on
	}
	if cfg.Browser.PageTimeout == 0 {
		cfg.Browser.PageTimeout = 60 * time.Second
	}
}

// Validate rejects impossible values.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Fetch.MaxRetries != nil && *c.Fetch.MaxRetries < 0 {
		errs = append(errs, errors.New("fetch.max_retries must not be negative"))
	}
	if c.Fetch.Timeout < 0 || c.Fetch.AdmissionTimeout < 0 {
		errs = append(errs, errors.New("fetch timeouts must not be negative"))
	}
	if c.Fetch.BrowserFallback && !c.Browser.Enabled {
		errs = append(errs, errors.New("fetch.browser_fallback requires browser.enabled"))
	}
	if c.Health.BotDetectionRatio <= 0 || c.Health.BotDetectionRatio > 1 {
		errs = append(errs, fmt.Errorf("health.bot_detection_ratio %v must be in (0,1]", c.Health.BotDetectionRatio))
	}
	if c.Health.PermanentBlockThreshold < 0 {
		errs = append(errs, errors.New("health.permanent_block_threshold must not be negative"))
	}
	if t := c.Health.PermanentBlockThreshold; t > 0 && t <= c.Health.ConsecutiveFailureThreshold {
		errs = append(errs, errors.New("health.permanent_block_threshold must exceed consecutive_failure_threshold"))
	}

	errs = append(errs, validatePolicy("policies.default", c.Policies.Default.MinDelay, c.Policies.Default.MaxDelay, c.Policies.Default.MaxConcurrency))
	for i, s := range c.Policies.Sites {
		name := fmt.Sprintf("policies.sites[%d]", i)
		if s.Domain == "" {
			errs = append(errs, fmt.Errorf("%s: domain is required", name))
		}
		errs = append(errs, validatePolicy(name, s.MinDelay, s.MaxDelay, s.MaxConcurrency))
	}

	return errors.Join(errs...)
}

func validatePolicy(name string, minDelay, maxDelay time.Duration, concurrency int) error {
	switch {
	case concurrency < 0:
		return fmt.Errorf("%s: max_concurrency must not be negative", name)
	case minDelay < 0:
		return fmt.Errorf("%s: min_delay must not be negative", name)
	case maxDelay != 0 && maxDelay < minDelay:
		return fmt.Errorf("%s: max_delay %v is below min_delay %v", name, maxDelay, minDelay)
	}
	return nil
}
