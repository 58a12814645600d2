// Package transport holds the interchangeable request performers used by the
// fetch executor: a plain HTTP client and a headless browser.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/vietddude/crawlguard/internal/core/domain"
)

// DefaultMaxBody caps how much of a response body is read.
const DefaultMaxBody = 10 << 20

// HTTP performs GET requests with net/http. One client is kept per proxy.
type HTTP struct {
	maxBody int64

	mu      sync.Mutex
	clients map[string]*http.Client // proxy URL ("" = direct) -> client
}

// HTTPOption configures an HTTP transport.
type HTTPOption func(*HTTP)

// WithMaxBody sets the body read limit in bytes.
func WithMaxBody(n int64) HTTPOption {
	return func(t *HTTP) {
		if n > 0 {
			t.maxBody = n
		}
	}
}

// NewHTTP creates an HTTP transport.
func NewHTTP(opts ...HTTPOption) *HTTP {
	t := &HTTP{
		maxBody: DefaultMaxBody,
		clients: make(map[string]*http.Client),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Do performs req. Non-2xx statuses are returned as responses, not errors.
func (t *HTTP) Do(ctx context.Context, req domain.Request) (*domain.Response, error) {
	client, err := t.client(req.Proxy)
	if err != nil {
		return nil, err
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if req.Headers != nil {
		hreq.Header = req.Headers.Clone()
	}
	if req.UserAgent != "" && hreq.Header.Get("User-Agent") == "" {
		hreq.Header.Set("User-Agent", req.UserAgent)
	}

	start := time.Now()
	resp, err := client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &domain.Response{
		Status:  resp.StatusCode,
		Body:    body,
		Headers: resp.Header,
		URL:     resp.Request.URL.String(),
		Latency: time.Since(start),
	}, nil
}

func (t *HTTP) client(proxy string) (*http.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.clients[proxy]; ok {
		return c, nil
	}

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy url %q", proxy)
		}
		tr.Proxy = http.ProxyURL(u)
	}

	c := &http.Client{Transport: tr}
	t.clients[proxy] = c
	return c, nil
}

// CloseIdleConnections releases pooled connections of every client.
func (t *HTTP) CloseIdleConnections() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.clients {
		c.CloseIdleConnections()
	}
}
