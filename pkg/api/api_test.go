// pkg/api/api_test.go
package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

func articleServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Library Facade</title></head>
			<body><article><h1>Library Facade</h1><p>` +
			strings.Repeat("Readable article body text. ", 40) + `</p></article></body></html>`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_FetchEndToEnd(t *testing.T) {
	srv := articleServer(t)

	client, err := New(&Config{AllowPrivateHosts: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer client.Close()

	result, err := client.Fetch(context.Background(), srv.URL+"/article", nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if result.Content.Title != "Library Facade" {
		t.Errorf("title = %q", result.Content.Title)
	}
	if result.Tier != "intelligence" {
		t.Errorf("tier = %q", result.Tier)
	}
	if len(result.TierAttempts) != 1 {
		t.Errorf("attempts = %d", len(result.TierAttempts))
	}

	stats := client.Stats()
	if stats.System.Count != 1 {
		t.Errorf("system sample count = %d, want 1", stats.System.Count)
	}
}

func TestClient_PersistsAcrossInstances(t *testing.T) {
	srv := articleServer(t)
	dataDir := filepath.Join(t.TempDir(), "data")

	client, err := New(&Config{AllowPrivateHosts: true, DataDir: dataDir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := client.Fetch(context.Background(), srv.URL+"/p"+string(rune('a'+i)), &FetchOptions{
			Freshness: "realtime",
		}); err != nil {
			t.Fatalf("Fetch: %v", err)
		}
	}
	client.Close() // snapshots handlers.json et al.

	reopened, err := New(&Config{AllowPrivateHosts: true, DataDir: dataDir})
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	defer reopened.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	if h, _ := reopened.Core().Registry.FindHandler("http://" + host + "/next"); h == nil {
		t.Error("promoted handler should survive a restart")
	}
}

func TestClient_InvalidURL(t *testing.T) {
	client, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer client.Close()

	if _, err := client.Fetch(context.Background(), "http://127.0.0.1/secret", nil); err == nil {
		t.Error("SSRF guard should reject loopback targets by default")
	}
}
