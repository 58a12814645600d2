package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/vietddude/crawlguard/internal/core/domain"
)

func TestHeaderPairs(t *testing.T) {
	h := http.Header{}
	h.Set("User-Agent", "ua")
	h.Set("Accept", "text/html")

	got := headerPairs(h)
	if len(got) != 2 || got[0] != "Accept" || got[1] != "text/html" {
		t.Errorf("headerPairs = %v", got)
	}
}

func TestAwaitDocument(t *testing.T) {
	ctx := context.Background()

	// A response event that trails the load event is still picked up.
	docCh := make(chan docResponse, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		docCh <- docResponse{status: http.StatusTooManyRequests, retryAfter: "5"}
	}()
	dr, ok := awaitDocument(ctx, docCh, time.Second)
	if !ok || dr.status != http.StatusTooManyRequests || dr.retryAfter != "5" {
		t.Errorf("awaitDocument = %+v, %v; want 429 with Retry-After", dr, ok)
	}

	start := time.Now()
	if _, ok := awaitDocument(ctx, make(chan docResponse), 20*time.Millisecond); ok {
		t.Error("awaitDocument reported a response that never came")
	}
	if time.Since(start) > time.Second {
		t.Error("awaitDocument ignored its wait bound")
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, ok := awaitDocument(cctx, make(chan docResponse), time.Minute); ok {
		t.Error("awaitDocument reported a response after cancellation")
	}
}

func TestBrowser_Do(t *testing.T) {
	if os.Getenv("CRAWLGUARD_BROWSER_TESTS") != "1" {
		t.Skip("set CRAWLGUARD_BROWSER_TESTS=1 to run browser tests")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("<html><body><h1>recipe</h1></body></html>"))
	}))
	defer srv.Close()

	b := NewBrowser(BrowserConfig{Headless: true, PageTimeout: 30 * time.Second}, nil)
	defer b.Close()

	resp, err := b.Do(context.Background(), domain.Request{URL: srv.URL, UserAgent: "crawlguard-test"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.Status != 200 {
		t.Errorf("Status = %d", resp.Status)
	}

	resp, err = b.Do(context.Background(), domain.Request{URL: srv.URL + "/missing"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.Status != 404 {
		t.Errorf("Status = %d, want 404", resp.Status)
	}
}
