package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad_EnvSubstitution(t *testing.T) {
	t.Setenv("TEST_REDIS_URL", "redis://localhost:6380/1")

	cfg, err := Load(writeConfig(t, `
redis:
  url: ${TEST_REDIS_URL}
  key_prefix: crawl
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Redis.URL != "redis://localhost:6380/1" {
		t.Errorf("Expected URL redis://localhost:6380/1, got %s", cfg.Redis.URL)
	}
	if cfg.Redis.KeyPrefix != "crawl" {
		t.Errorf("KeyPrefix = %q", cfg.Redis.KeyPrefix)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if *cfg.Fetch.MaxRetries != 3 || cfg.Fetch.Timeout != 30*time.Second {
		t.Errorf("fetch defaults = %+v", cfg.Fetch)
	}
	if cfg.Health.ConsecutiveFailureThreshold != 10 || cfg.Health.BotDetectionMinEvents != 5 ||
		cfg.Health.BotDetectionRatio != 0.8 || cfg.Health.HistoryLimit != 1000 {
		t.Errorf("health defaults = %+v", cfg.Health)
	}
	if cfg.Health.Retention != 168*time.Hour || cfg.Health.SweepInterval != time.Hour {
		t.Errorf("health durations = %+v", cfg.Health)
	}
	if !*cfg.Backoff.Jitter || !*cfg.Browser.Headless {
		t.Error("boolean defaults not applied")
	}
}

func TestLoad_PoliciesAndZeroRetries(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
fetch:
  max_retries: 0
  timeout: 5s
backoff:
  jitter: false
policies:
  default:
    max_concurrency: 3
    min_delay: 1s
    max_delay: 3s
  sites:
    - domain: x.example
      max_concurrency: 1
      min_delay: 2s
      max_delay: 2s
      user_agents: ["ua-1", "ua-2"]
      headers:
        Accept-Language: fr
      proxies: ["http://proxy.local:3128"]
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if *cfg.Fetch.MaxRetries != 0 {
		t.Errorf("MaxRetries = %d, want explicit 0", *cfg.Fetch.MaxRetries)
	}
	if cfg.Fetch.Timeout != 5*time.Second || *cfg.Backoff.Jitter {
		t.Errorf("fetch/backoff = %+v %+v", cfg.Fetch, cfg.Backoff)
	}
	if len(cfg.Policies.Sites) != 1 {
		t.Fatalf("sites = %d", len(cfg.Policies.Sites))
	}
	site := cfg.Policies.Sites[0]
	if site.Domain != "x.example" || site.MinDelay != 2*time.Second || len(site.UserAgents) != 2 ||
		site.ExtraHeaders["Accept-Language"] != "fr" || len(site.Proxies) != 1 {
		t.Errorf("site = %+v", site)
	}
	if cfg.Policies.Default.MaxDelay != 3*time.Second {
		t.Errorf("default = %+v", cfg.Policies.Default)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"negative retries", "fetch:\n  max_retries: -1\n", "max_retries"},
		{"ratio", "health:\n  bot_detection_ratio: 1.5\n", "bot_detection_ratio"},
		{"delays", "policies:\n  default:\n    min_delay: 3s\n    max_delay: 1s\n", "max_delay"},
		{"site domain", "policies:\n  sites:\n    - max_concurrency: 1\n", "domain is required"},
		{"permanent threshold", "health:\n  permanent_block_threshold: 5\n", "permanent_block_threshold"},
		{"browser fallback", "fetch:\n  browser_fallback: true\n", "browser.enabled"},
		{"bad yaml", "server: [", "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}
