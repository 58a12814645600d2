// Package monitor serves the operational HTTP surface of the engine.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/crawlguard/internal/core/domain"
	"github.com/vietddude/crawlguard/internal/resilience/fetch"
	"github.com/vietddude/crawlguard/internal/resilience/pacing"
)

// Status is the aggregate engine status.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
)

// HealthReport is the /health response.
type HealthReport struct {
	Status      Status   `json:"status"`
	Domains     int      `json:"domains"`
	Blacklisted []string `json:"blacklisted"`
}

// DomainReport is the /domains/{domain} response.
type DomainReport struct {
	domain.DomainAnalysis
	Pacing pacing.Stats `json:"pacing"`
}

// FetchRequest is the POST /fetch body.
type FetchRequest struct {
	URL        string `json:"url"`
	MaxRetries *int   `json:"max_retries,omitempty"`
	Fallback   bool   `json:"fallback,omitempty"`
}

// FetchResult is the POST /fetch response.
type FetchResult struct {
	URL      string           `json:"url"`
	Status   int              `json:"status,omitempty"`
	Bytes    int              `json:"bytes,omitempty"`
	Latency  time.Duration    `json:"latency,omitempty"`
	Error    string           `json:"error,omitempty"`
	Kind     domain.ErrorKind `json:"kind,omitempty"`
	Attempts int              `json:"attempts,omitempty"`
}

// Server provides HTTP endpoints for the engine.
type Server struct {
	exec   *fetch.Executor
	server *http.Server
	logger *slog.Logger
}

// NewServer creates a new monitor server.
func NewServer(exec *fetch.Executor, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{exec: exec, logger: logger}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /domains", s.handleDomains)
	mux.HandleFunc("GET /domains/{domain}", s.handleDomain)
	mux.HandleFunc("DELETE /domains/{domain}/blacklist", s.handleClear)
	mux.HandleFunc("GET /strategies", s.handleStrategies)
	mux.HandleFunc("GET /recovery", s.handleRecovery)
	mux.HandleFunc("POST /fetch", s.handleFetch)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	tracker := s.exec.Health()
	report := HealthReport{
		Status:      StatusHealthy,
		Domains:     len(tracker.Domains()),
		Blacklisted: tracker.Blacklisted(),
	}
	if len(report.Blacklisted) > 0 {
		report.Status = StatusDegraded
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDomains(w http.ResponseWriter, _ *http.Request) {
	domains := s.exec.Health().Domains()
	out := make([]domain.DomainAnalysis, 0, len(domains))
	for _, d := range domains {
		out = append(out, s.exec.DomainAnalysis(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDomain(w http.ResponseWriter, r *http.Request) {
	d := domain.NormalizeDomain(r.PathValue("domain"))
	if _, ok := s.exec.Health().Snapshot(d); !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("domain %q has no history", d))
		return
	}
	writeJSON(w, http.StatusOK, DomainReport{
		DomainAnalysis: s.exec.DomainAnalysis(d),
		Pacing:         s.exec.Pacing().Stats(d),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	d := domain.NormalizeDomain(r.PathValue("domain"))
	cleared := s.exec.ClearBlacklist(d)
	writeJSON(w, http.StatusOK, map[string]any{"domain": d, "cleared": cleared})
}

func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.exec.Strategies().Strategies())
}

func (s *Server) handleRecovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.exec.Metrics())
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req FetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}

	var opts []fetch.Option
	if req.MaxRetries != nil {
		opts = append(opts, fetch.WithMaxRetries(*req.MaxRetries))
	}
	if req.Fallback {
		opts = append(opts, fetch.WithFallback())
	}

	resp, err := s.exec.Fetch(r.Context(), req.URL, opts...)
	if err != nil {
		code, result := fetchFailure(req.URL, err)
		s.logger.Debug("Fetch via monitor failed", "url", req.URL, "error", err)
		writeJSON(w, code, result)
		return
	}
	writeJSON(w, http.StatusOK, FetchResult{
		URL:     resp.URL,
		Status:  resp.Status,
		Bytes:   len(resp.Body),
		Latency: resp.Latency,
	})
}

func fetchFailure(url string, err error) (int, FetchResult) {
	result := FetchResult{URL: url, Error: err.Error()}
	var fe *fetch.Error
	if !errors.As(err, &fe) {
		return http.StatusBadRequest, result
	}
	result.Kind = fe.Kind()
	result.Attempts = fe.Attempts
	switch {
	case errors.Is(err, fetch.ErrBlacklisted):
		return http.StatusServiceUnavailable, result
	case errors.Is(err, fetch.ErrNotFound):
		return http.StatusNotFound, result
	default:
		return http.StatusBadGateway, result
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
