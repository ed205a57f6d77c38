// internal/strategy/lightweight_test.go
package strategy

import (
	"context"
	"net/http"
	"strings"
	"testing"
)

func TestLightweight_MetaRefresh(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><meta http-equiv="refresh" content="0; url=/landed"></head><body></body></html>`))
	})
	mux.HandleFunc("/landed", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Landed</title></head><body><article><p>` +
			strings.Repeat("Destination content. ", 40) + `</p></article></body></html>`))
	})
	srv := serve(t, mux.ServeHTTP)

	s := NewLightweightStrategy(nil, nil)
	result, err := s.Execute(context.Background(), srv.URL+"/start", Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !strings.HasSuffix(result.FinalURL, "/landed") {
		t.Errorf("final URL = %q, want /landed", result.FinalURL)
	}
	if result.ExtractionStrategy != extractionMetaRefresh {
		t.Errorf("extraction strategy = %q, want %q", result.ExtractionStrategy, extractionMetaRefresh)
	}
	if result.Content.Title != "Landed" {
		t.Errorf("title = %q", result.Content.Title)
	}
}

func TestLightweight_NextDataHydration(t *testing.T) {
	longText := strings.Repeat("Server side rendered words for the reader. ", 10)
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Thin Shell</title></head><body>
			<div id="__next">Short.</div>
			<script id="__NEXT_DATA__" type="application/json">
				{"buildId": "abc123", "props": {"pageProps": {"article": {"body": "` + longText + `"}}}}
			</script>
		</body></html>`))
	})

	s := NewLightweightStrategy(nil, nil)
	result, err := s.Execute(context.Background(), srv.URL, Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if result.ExtractionStrategy != extractionNextHydrated {
		t.Errorf("extraction strategy = %q, want %q", result.ExtractionStrategy, extractionNextHydrated)
	}
	if !strings.Contains(result.Content.Text, "Server side rendered") {
		t.Error("hydrated text missing")
	}
	if _, ok := result.Content.Structured["next_data"]; !ok {
		t.Error("next_data should be exposed as structured content")
	}

	// The build id yields a discovered data route.
	foundRoute := false
	for _, api := range result.DiscoveredAPIs {
		if strings.Contains(api.URL, "/_next/data/abc123") {
			foundRoute = true
		}
	}
	if !foundRoute {
		t.Errorf("next data route not discovered: %+v", result.DiscoveredAPIs)
	}
}

func TestLightweight_StateGlobalHydration(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><div id="app"></div>
			<script>window.__INITIAL_STATE__ = {"post": {"content": "` +
			strings.Repeat("Hydratable state content here. ", 10) + `"}};</script>
		</body></html>`))
	})

	s := NewLightweightStrategy(nil, nil)
	result, err := s.Execute(context.Background(), srv.URL, Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if result.ExtractionStrategy != extractionStateHydrated {
		t.Errorf("extraction strategy = %q, want %q", result.ExtractionStrategy, extractionStateHydrated)
	}
	if !strings.Contains(result.Content.Text, "Hydratable state content") {
		t.Error("state-hydrated text missing")
	}
}

func TestLightweight_BrowserOnlyRequestsUpgrade(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>
			<script>window.location.replace("/challenge?cf_chl_tk=x");</script>
		</body></html>`))
	})

	s := NewLightweightStrategy(nil, nil)
	_, err := s.Execute(context.Background(), srv.URL, Options{})
	if err == nil {
		t.Fatal("expected upgrade error")
	}
	if !NeedsUpgrade(err) {
		t.Errorf("error should carry the upgrade signal, got %v", err)
	}
}

func TestFindStateAssignment(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "simple object",
			body: `window.__INITIAL_STATE__ = {"a": 1};`,
			want: `{"a": 1}`,
		},
		{
			name: "nested braces and strings",
			body: `window.__INITIAL_STATE__={"a":{"b":"}"},"c":[1]} ;rest();`,
			want: `{"a":{"b":"}"},"c":[1]}`,
		},
		{
			name: "missing",
			body: `var other = 1;`,
			want: "",
		},
		{
			name: "unbalanced",
			body: `window.__INITIAL_STATE__ = {"a": 1`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findStateAssignment(tt.body, "__INITIAL_STATE__"); got != tt.want {
				t.Errorf("findStateAssignment = %q, want %q", got, tt.want)
			}
		})
	}
}
