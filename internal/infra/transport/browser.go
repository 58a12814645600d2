package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/vietddude/crawlguard/internal/core/domain"
)

// BrowserConfig configures the headless browser transport.
type BrowserConfig struct {
	// ControlURL connects to an already running browser when set.
	ControlURL string
	// Bin is the browser binary; empty downloads the default one.
	Bin         string
	Headless    bool
	PageTimeout time.Duration
}

// docWait bounds how long Do waits for the main document's response event
// once the page has loaded.
const docWait = 2 * time.Second

type docResponse struct {
	status     int
	retryAfter string
}

// awaitDocument returns the main document's response if it arrives within
// wait.
func awaitDocument(ctx context.Context, docCh <-chan docResponse, wait time.Duration) (docResponse, bool) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case dr := <-docCh:
		return dr, true
	case <-timer.C:
	case <-ctx.Done():
	}
	// The event may have landed together with the deadline.
	select {
	case dr := <-docCh:
		return dr, true
	default:
		return docResponse{}, false
	}
}

// Browser loads pages in a stealth headless browser. The browser is started
// lazily on the first request.
type Browser struct {
	cfg    BrowserConfig
	logger *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
}

// NewBrowser creates a browser transport.
func NewBrowser(cfg BrowserConfig, logger *slog.Logger) *Browser {
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Browser{cfg: cfg, logger: logger}
}

// Do navigates to req.URL and returns the rendered HTML with the status of
// the main document.
func (b *Browser) Do(ctx context.Context, req domain.Request) (*domain.Response, error) {
	browser, err := b.connect()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.PageTimeout)
	defer cancel()

	page, err := stealth.Page(browser)
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	defer func() { _ = page.Close() }()
	page = page.Context(ctx)

	if req.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: req.UserAgent}); err != nil {
			return nil, fmt.Errorf("browser: set user agent: %w", err)
		}
	}
	if extra := headerPairs(req.Headers); len(extra) > 0 {
		if _, err := page.SetExtraHeaders(extra); err != nil {
			return nil, fmt.Errorf("browser: set headers: %w", err)
		}
	}

	docCh := make(chan docResponse, 1)
	wait := page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument {
			return false
		}
		dr := docResponse{status: e.Response.Status}
		if v, ok := e.Response.Headers["Retry-After"]; ok {
			dr.retryAfter = v.String()
		}
		docCh <- dr
		return true
	})
	go wait()

	start := time.Now()
	if err := page.Navigate(req.URL); err != nil {
		return nil, fmt.Errorf("browser: navigate %s: %w", req.URL, err)
	}
	if err := page.WaitLoad(); err != nil {
		b.logger.Warn("browser: wait load failed", "url", req.URL, "error", err)
	}

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("browser: read html: %w", err)
	}

	resp := &domain.Response{
		Status:  http.StatusOK,
		Body:    []byte(html),
		Headers: http.Header{},
		URL:     req.URL,
		Latency: time.Since(start),
	}
	if dr, ok := awaitDocument(ctx, docCh, docWait); ok {
		resp.Status = dr.status
		if dr.retryAfter != "" {
			resp.Headers.Set("Retry-After", dr.retryAfter)
		}
	} else {
		b.logger.Debug("browser: no document response seen", "url", req.URL)
	}
	if info, err := page.Info(); err == nil && info.URL != "" {
		resp.URL = info.URL
	}
	return resp, nil
}

func (b *Browser) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	controlURL := b.cfg.ControlURL
	if controlURL == "" {
		bin := b.cfg.Bin
		if bin == "" {
			b.logger.Info("No browser binary configured, downloading default")
			path, err := launcher.NewBrowser().Get()
			if err != nil {
				return nil, fmt.Errorf("browser: download: %w", err)
			}
			bin = path
		}
		u, err := launcher.New().
			Headless(b.cfg.Headless).
			Bin(bin).
			NoSandbox(true).
			Set("disable-dev-shm-usage", "true").
			Set("disable-gpu", "true").
			Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		controlURL = u
	}

	// Not bound to ctx: the browser outlives the request that started it.
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	b.browser = browser
	b.logger.Info("Browser transport connected")
	return browser, nil
}

// Close shuts the browser down if it was started.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	return err
}

// headerPairs flattens headers into rod's key/value list, leaving out the
// user agent which is set through the emulation override.
func headerPairs(h http.Header) []string {
	var out []string
	for k, vs := range h {
		if http.CanonicalHeaderKey(k) == "User-Agent" || len(vs) == 0 {
			continue
		}
		out = append(out, k, vs[0])
	}
	return out
}
