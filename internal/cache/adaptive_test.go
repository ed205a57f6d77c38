// internal/cache/adaptive_test.go
package cache

import (
	"fmt"
	"testing"
	"time"
)

func newTestCache(capacity int) *AdaptiveCache {
	return New(&Config{
		Capacity: capacity,
		BaseTTL:  10 * time.Minute,
		MinTTL:   30 * time.Second,
		MaxTTL:   24 * time.Hour,
	}, nil)
}

func TestCategorizeDomain(t *testing.T) {
	tests := []struct {
		host string
		want DomainCategory
	}{
		{"whitehouse.gov", CategoryStaticGov},
		{"data.cdc.gov", CategoryStaticGov},
		{"service.gov.uk", CategoryStaticGov},
		{"mit.edu", CategoryStaticEdu},
		{"cs.stanford.edu", CategoryStaticEdu},
		{"en.wikipedia.org", CategoryStaticWiki},
		{"wiki.archlinux.org", CategoryStaticWiki},
		{"docs.python.org", CategoryStaticDocs},
		{"developer.mozilla.org", CategoryStaticDocs},
		{"twitter.com", CategoryDynamicSocial},
		{"www.reddit.com", CategoryDynamicSocial},
		{"www.nytimes.com", CategoryDynamicNews},
		{"news.ycombinator.com", CategoryDynamicNews},
		{"www.amazon.com", CategoryDynamicCommerce},
		{"store.steampowered.com", CategoryDynamicCommerce},
		{"example.org", CategoryStaticDefault},
		{"example.com", CategoryDefault},
		{"", CategoryDefault},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if got := CategorizeDomain(tt.host); got != tt.want {
				t.Errorf("CategorizeDomain(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}

func TestTTLMultipliers(t *testing.T) {
	tests := []struct {
		category DomainCategory
		want     float64
	}{
		{CategoryStaticGov, 4.0},
		{CategoryStaticDocs, 3.0},
		{CategoryStaticEdu, 3.0},
		{CategoryStaticWiki, 2.0},
		{CategoryStaticDefault, 2.0},
		{CategoryDynamicSocial, 0.25},
		{CategoryDynamicNews, 0.5},
		{CategoryDynamicCommerce, 0.75},
		{CategoryDefault, 1.0},
	}

	for _, tt := range tests {
		if got := TTLMultiplier(tt.category); got != tt.want {
			t.Errorf("TTLMultiplier(%s) = %v, want %v", tt.category, got, tt.want)
		}
	}
}

func TestComputeTTL_DomainMultiplier(t *testing.T) {
	c := newTestCache(100)

	ttl, category, multiplier, respected := c.ComputeTTL("https://whitehouse.gov/briefing", SetOptions{Freshness: FreshnessAny})
	if category != CategoryStaticGov {
		t.Fatalf("category = %v, want %v", category, CategoryStaticGov)
	}
	if multiplier != 4.0 {
		t.Fatalf("multiplier = %v, want 4.0", multiplier)
	}
	if want := 40 * time.Minute; ttl != want {
		t.Errorf("ttl = %v, want %v", ttl, want)
	}
	if respected {
		t.Error("respected_headers should be false without Cache-Control")
	}
}

func TestComputeTTL_RealtimeClampsToMin(t *testing.T) {
	c := newTestCache(100)

	// Realtime wins over both the domain multiplier and Cache-Control.
	urls := []string{
		"https://whitehouse.gov/live",
		"https://example.com/feed",
	}
	for _, u := range urls {
		ttl, _, _, _ := c.ComputeTTL(u, SetOptions{Freshness: FreshnessRealtime, CacheControl: "max-age=3600"})
		if ttl != 30*time.Second {
			t.Errorf("realtime ttl for %s = %v, want %v", u, ttl, 30*time.Second)
		}
	}
}

func TestComputeTTL_CachedDoubles(t *testing.T) {
	c := newTestCache(100)

	ttl, _, _, _ := c.ComputeTTL("https://example.com/page", SetOptions{Freshness: FreshnessCached})
	if want := 20 * time.Minute; ttl != want {
		t.Errorf("cached ttl = %v, want %v", ttl, want)
	}
}

func TestComputeTTL_CacheControlOverridesMultiplier(t *testing.T) {
	c := newTestCache(100)

	// Seed scenario: whitehouse.gov (multiplier 4.0) with max-age=300 stores
	// 300s, not base*4.
	entry := c.Set("https://whitehouse.gov/briefing-room", "content", SetOptions{
		Freshness:    FreshnessAny,
		CacheControl: "max-age=300",
	})
	if want := 300 * time.Second; entry.StoredTTL != want {
		t.Errorf("stored ttl = %v, want %v", entry.StoredTTL, want)
	}
	if !entry.RespectedHeaders {
		t.Error("respected_headers should be true")
	}

	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{"no-store clamps to min", "no-store", 30 * time.Second},
		{"no-cache clamps to min", "no-cache, private", 30 * time.Second},
		{"max-age below min clamps up", "max-age=1", 30 * time.Second},
		{"s-maxage wins over max-age", "max-age=60, s-maxage=120", 120 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ttl, _, _, respected := c.ComputeTTL("https://whitehouse.gov/x", SetOptions{
				Freshness:    FreshnessAny,
				CacheControl: tt.header,
			})
			if ttl != tt.want {
				t.Errorf("ttl = %v, want %v", ttl, tt.want)
			}
			if !respected {
				t.Error("respected_headers should be true")
			}
		})
	}
}

func TestCache_GetSetAndExpiry(t *testing.T) {
	c := New(&Config{Capacity: 10, BaseTTL: 10 * time.Minute, MinTTL: 10 * time.Millisecond, MaxTTL: time.Hour}, nil)

	c.Set("https://example.com/a", "value-a", SetOptions{})
	if got, ok := c.Get("https://example.com/a", nil); !ok || got != "value-a" {
		t.Fatalf("Get = (%v, %v), want (value-a, true)", got, ok)
	}

	// Realtime entries take the minimum TTL; after it passes they must be
	// invisible to readers even though the eviction loop has not run.
	c.Set("https://example.com/b", "value-b", SetOptions{Freshness: FreshnessRealtime})
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("https://example.com/b", nil); ok {
		t.Error("expired entry returned to reader")
	}
	if c.Len() == 0 {
		t.Error("expired entry should remain until Cleanup")
	}
	if removed := c.Cleanup(); removed != 1 {
		t.Errorf("Cleanup removed %d entries, want 1", removed)
	}
}

func TestCache_LRUEviction(t *testing.T) {
	// Single shard (capacity < shard count) keeps eviction order observable.
	c := newTestCache(3)

	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("https://example.com/%d", i), i, SetOptions{})
	}
	// Touch entry 0 so entry 1 becomes least recently used.
	if _, ok := c.Get("https://example.com/0", nil); !ok {
		t.Fatal("entry 0 missing")
	}
	c.Set("https://example.com/3", 3, SetOptions{})

	if _, ok := c.Get("https://example.com/1", nil); ok {
		t.Error("least recently used entry survived eviction")
	}
	if _, ok := c.Get("https://example.com/0", nil); !ok {
		t.Error("recently used entry was evicted")
	}
	if got := c.GetStats().Evictions; got != 1 {
		t.Errorf("evictions = %d, want 1", got)
	}
}

func TestCache_KeyIncludesSortedParams(t *testing.T) {
	c := newTestCache(100)

	c.Set("https://example.com/search", "with-params", SetOptions{
		Params: map[string]string{"q": "go", "page": "2"},
	})

	if _, ok := c.Get("https://example.com/search", nil); ok {
		t.Error("param-less lookup should miss")
	}
	if got, ok := c.Get("https://example.com/search", map[string]string{"page": "2", "q": "go"}); !ok || got != "with-params" {
		t.Errorf("param order should not matter: got (%v, %v)", got, ok)
	}
}

func TestCache_ClearDomain(t *testing.T) {
	c := newTestCache(100)

	c.Set("https://example.com/a", 1, SetOptions{})
	c.Set("https://sub.example.com/b", 2, SetOptions{})
	c.Set("https://other.org/c", 3, SetOptions{})

	if removed := c.ClearDomain("example.com"); removed != 2 {
		t.Errorf("ClearDomain removed %d, want 2", removed)
	}
	if _, ok := c.Get("https://other.org/c", nil); !ok {
		t.Error("unrelated domain entry was removed")
	}
}

func TestCache_ContentChangeTracking(t *testing.T) {
	c := newTestCache(100)
	u := "https://example.com/article"

	if !c.HasContentChanged(u, "<html>v1</html>") {
		t.Error("absent entry should count as changed")
	}
	c.SetContent(u, "<html>v1</html>", SetOptions{})

	if c.HasContentChanged(u, "<html>v1</html>") {
		t.Error("identical content reported as changed")
	}
	if !c.HasContentChanged(u, "<html>v2</html>") {
		t.Error("different content not reported as changed")
	}

	// 3 checks, 2 changes.
	if got, want := c.ChangeRate(u), 2.0/3.0; got < want-0.001 || got > want+0.001 {
		t.Errorf("ChangeRate = %v, want ~%v", got, want)
	}
}
