package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/crawlguard/internal/core/clock/clocktest"
	"github.com/vietddude/crawlguard/internal/core/domain"
	"github.com/vietddude/crawlguard/internal/resilience/fetch"
	"github.com/vietddude/crawlguard/internal/resilience/health"
	"github.com/vietddude/crawlguard/internal/resilience/policy"
	"github.com/vietddude/crawlguard/internal/resilience/strategy"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	clk := clocktest.New(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))

	hcfg := health.DefaultConfig()
	hcfg.ConsecutiveFailureThreshold = 2
	scfg := strategy.DefaultConfig()
	scfg.Jitter = false
	scfg.Clock = clk

	transport := domain.TransportFunc(func(_ context.Context, req domain.Request) (*domain.Response, error) {
		status := http.StatusOK
		switch {
		case strings.HasSuffix(req.URL, "/missing"):
			status = http.StatusNotFound
		case strings.HasSuffix(req.URL, "/broken"):
			status = http.StatusInternalServerError
		}
		return &domain.Response{Status: status, URL: req.URL, Body: []byte("hello")}, nil
	})

	exec, err := fetch.New(fetch.Deps{
		Transport:  transport,
		Policies:   policy.New(domain.SitePolicy{MaxConcurrency: 2}),
		Health:     health.NewTracker(hcfg, clk),
		Strategies: strategy.NewCatalog(scfg),
		Clock:      clk,
	}, fetch.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("fetch.New: %v", err)
	}

	srv := httptest.NewServer(NewServer(exec, 0, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestServer_FetchAndInspect(t *testing.T) {
	srv := newTestServer(t)

	var ok FetchResult
	if code := do(t, "POST", srv.URL+"/fetch", `{"url":"http://shop.example/item"}`, &ok); code != http.StatusOK {
		t.Fatalf("fetch code = %d", code)
	}
	if ok.Status != 200 || ok.Bytes != 5 {
		t.Errorf("result = %+v", ok)
	}

	var gone FetchResult
	if code := do(t, "POST", srv.URL+"/fetch", `{"url":"http://shop.example/missing"}`, &gone); code != http.StatusNotFound {
		t.Errorf("missing code = %d", code)
	}
	if gone.Kind != domain.KindNotFound || gone.Attempts != 1 {
		t.Errorf("missing result = %+v", gone)
	}

	var report DomainReport
	if code := do(t, "GET", srv.URL+"/domains/shop.example", "", &report); code != http.StatusOK {
		t.Fatalf("domain code = %d", code)
	}
	if report.Domain != "shop.example" || report.TotalErrors != 1 || report.Pacing.Dispatched != 2 {
		t.Errorf("report = %+v", report)
	}

	var list []domain.DomainAnalysis
	do(t, "GET", srv.URL+"/domains", "", &list)
	if len(list) != 1 {
		t.Errorf("domains = %d, want 1", len(list))
	}

	if code := do(t, "GET", srv.URL+"/domains/unknown.example", "", nil); code != http.StatusNotFound {
		t.Errorf("unknown domain code = %d", code)
	}
}

func TestServer_BlacklistLifecycle(t *testing.T) {
	srv := newTestServer(t)

	for range 2 {
		var res FetchResult
		if code := do(t, "POST", srv.URL+"/fetch", `{"url":"http://down.example/broken"}`, &res); code != http.StatusBadGateway {
			t.Fatalf("broken code = %d", code)
		}
		if res.Kind != domain.KindServerError {
			t.Errorf("kind = %s", res.Kind)
		}
	}

	var h HealthReport
	do(t, "GET", srv.URL+"/health", "", &h)
	if h.Status != StatusDegraded || len(h.Blacklisted) != 1 || h.Blacklisted[0] != "down.example" {
		t.Errorf("health = %+v", h)
	}

	var blocked FetchResult
	if code := do(t, "POST", srv.URL+"/fetch", `{"url":"http://down.example/page"}`, &blocked); code != http.StatusServiceUnavailable {
		t.Errorf("blocked code = %d", code)
	}
	if blocked.Attempts != 0 {
		t.Errorf("blocked attempts = %d", blocked.Attempts)
	}

	var cleared map[string]any
	do(t, "DELETE", srv.URL+"/domains/down.example/blacklist", "", &cleared)
	if cleared["cleared"] != true {
		t.Errorf("clear = %v", cleared)
	}

	do(t, "GET", srv.URL+"/health", "", &h)
	if h.Status != StatusHealthy {
		t.Errorf("health after clear = %+v", h)
	}

	var m domain.RecoveryMetrics
	do(t, "GET", srv.URL+"/recovery", "", &m)
	if m.TotalErrors != 2 {
		t.Errorf("total errors = %d, want 2", m.TotalErrors)
	}
}

func TestServer_Strategies(t *testing.T) {
	srv := newTestServer(t)

	var stats []strategy.Stats
	if code := do(t, "GET", srv.URL+"/strategies", "", &stats); code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if len(stats) != len(strategy.Seeds()) {
		t.Errorf("strategies = %d", len(stats))
	}
	if stats[0].ID != strategy.IDRateLimit {
		t.Errorf("first = %s, want highest priority", stats[0].ID)
	}
}

func TestServer_BadFetchRequests(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"missing url", `{}`},
		{"invalid url", `{"url":"::nope"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := do(t, "POST", srv.URL+"/fetch", tt.body, nil); code != http.StatusBadRequest {
				t.Errorf("code = %d, want 400", code)
			}
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("code = %d", resp.StatusCode)
	}
}
