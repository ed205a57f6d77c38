// internal/knowledge/store_test.go
package knowledge

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPattern(endpoint string, confidence Confidence) *LearnedApiPattern {
	return &LearnedApiPattern{
		TemplateType:     TemplateRESTResource,
		EndpointTemplate: endpoint,
		Method:           "GET",
		Confidence:       confidence,
		ResponseFormat:   "json",
	}
}

func TestBase_LearnAndMerge(t *testing.T) {
	b := NewBase("", nil)

	b.Learn("example.com", []*LearnedApiPattern{newPattern("/api/articles/{id}", ConfidenceLow)})
	dk, ok := b.Get("example.com")
	require.True(t, ok)
	require.Len(t, dk.Patterns, 1)

	// Same key, higher confidence replaces.
	higher := newPattern("/api/articles/{id}", ConfidenceHigh)
	higher.CanBypass = true
	b.Learn("example.com", []*LearnedApiPattern{higher})

	dk, _ = b.Get("example.com")
	require.Len(t, dk.Patterns, 1)
	assert.Equal(t, ConfidenceHigh, dk.Patterns[0].Confidence)
	assert.True(t, dk.Patterns[0].CanBypass)

	// Same key, lower confidence does not replace.
	b.Learn("example.com", []*LearnedApiPattern{newPattern("/api/articles/{id}", ConfidenceLow)})
	dk, _ = b.Get("example.com")
	require.Len(t, dk.Patterns, 1)
	assert.Equal(t, ConfidenceHigh, dk.Patterns[0].Confidence)

	// Different key appends.
	b.Learn("example.com", []*LearnedApiPattern{newPattern("/api/search", ConfidenceMedium)})
	dk, _ = b.Get("example.com")
	assert.Len(t, dk.Patterns, 2)
}

func TestBase_GetBypassablePatterns(t *testing.T) {
	b := NewBase("", nil)

	bypassable := newPattern("/api/items", ConfidenceHigh)
	bypassable.CanBypass = true
	highButForbidden := newPattern("/api/secure", ConfidenceHigh)
	lowButAllowed := newPattern("/api/flaky", ConfidenceLow)
	lowButAllowed.CanBypass = true

	b.Learn("example.com", []*LearnedApiPattern{bypassable, highButForbidden, lowButAllowed})

	got := b.GetBypassablePatterns("example.com")
	require.Len(t, got, 1)
	assert.Equal(t, "/api/items", got[0].EndpointTemplate)

	assert.Empty(t, b.GetBypassablePatterns("unknown.com"))
}

func TestBase_FindPattern(t *testing.T) {
	b := NewBase("", nil)
	b.Learn("example.com", []*LearnedApiPattern{
		newPattern("/api/articles", ConfidenceMedium),
		newPattern("/api/articles/comments", ConfidenceMedium),
		newPattern("https://example.com/api/products", ConfidenceMedium),
	})

	tests := []struct {
		name string
		url  string
		want string
	}{
		{"exact path", "https://example.com/api/articles", "/api/articles"},
		{"exact from full-URL template", "https://example.com/api/products", "https://example.com/api/products"},
		{"longest prefix", "https://example.com/api/articles/comments/42", "/api/articles/comments"},
		{"shorter prefix", "https://example.com/api/articles/42", "/api/articles"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := b.FindPattern(tt.url)
			require.NotNil(t, p)
			assert.Equal(t, tt.want, p.EndpointTemplate)
		})
	}

	assert.Nil(t, b.FindPattern("https://other.com/api/articles"))
	assert.Nil(t, b.FindPattern("https://example.com/unrelated"))
}

func TestBase_UpdateSuccessRate(t *testing.T) {
	b := NewBase("", nil)

	p := newPattern("/api/items", ConfidenceHigh)
	b.Learn("example.com", []*LearnedApiPattern{p})

	// Additive increase caps at 1.0.
	b.UpdateSuccessRate("example.com", "/api/items", true)
	dk, _ := b.Get("example.com")
	assert.Equal(t, 1.0, dk.SuccessRate)
	assert.Equal(t, int64(1), dk.Patterns[0].Successes)

	// Multiplicative decrease on failures; enough of them demote the
	// pattern from high to medium once its rate drops below 0.6.
	for i := 0; i < 2; i++ {
		b.UpdateSuccessRate("example.com", "/api/items", false)
	}
	dk, _ = b.Get("example.com")
	assert.InDelta(t, 0.49, dk.SuccessRate, 0.001)
	assert.Equal(t, ConfidenceMedium, dk.Patterns[0].Confidence)
}

func TestBase_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge-base.json")

	b := NewBase(path, nil)
	p := newPattern("/api/articles/{id}", ConfidenceHigh)
	p.CanBypass = true
	p.Mapping = ContentMapping{TitlePath: "article.title", BodyPath: "article.body"}
	b.Learn("example.com", []*LearnedApiPattern{p})
	b.UpdateSuccessRate("example.com", "/api/articles/{id}", true)
	require.NoError(t, b.Save())

	reloaded := NewBase(path, nil)
	require.NoError(t, reloaded.Load())

	dk, ok := reloaded.Get("example.com")
	require.True(t, ok)
	require.Len(t, dk.Patterns, 1)
	assert.Equal(t, "/api/articles/{id}", dk.Patterns[0].EndpointTemplate)
	assert.Equal(t, ConfidenceHigh, dk.Patterns[0].Confidence)
	assert.Equal(t, int64(1), dk.Patterns[0].Successes)
	assert.Equal(t, int64(1), dk.UsageCount)

	// The reloaded base must answer FindPattern identically.
	require.NotNil(t, reloaded.FindPattern("https://example.com/api/articles/7"))
}

func TestBase_LoadMissingFileIsFine(t *testing.T) {
	b := NewBase(filepath.Join(t.TempDir(), "absent.json"), nil)
	assert.NoError(t, b.Load())
}
