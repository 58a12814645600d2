package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFetchCommand(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("hello"))
	}))
	defer origin.Close()

	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	content := `
logging:
  level: error
fetch:
  max_retries: 0
policies:
  default:
    max_concurrency: 2
    min_delay: 1ms
    max_delay: 1ms
`
	if err := os.WriteFile(cfgFile, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"fetch", "--config", cfgFile, origin.URL + "/ok", origin.URL + "/gone"})
	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "1 of 2 fetches failed") {
		t.Errorf("err = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) < 3 {
		t.Fatalf("output too short:\n%s", out.String())
	}
	if !strings.HasPrefix(lines[0], "URL") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "/ok") || !strings.Contains(lines[1], "200") {
		t.Errorf("ok row = %q", lines[1])
	}
	if !strings.Contains(lines[2], "/gone") || !strings.Contains(lines[2], "404") || !strings.Contains(lines[2], "not found") {
		t.Errorf("gone row = %q", lines[2])
	}
	if !strings.Contains(out.String(), "DOMAIN") || !strings.Contains(out.String(), "127.0.0.1") {
		t.Errorf("missing analysis:\n%s", out.String())
	}
}
