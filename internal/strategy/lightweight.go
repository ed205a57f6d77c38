// internal/strategy/lightweight.go

package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/valpere/FetchPilot/internal/extract"
	"github.com/valpere/FetchPilot/internal/utils"
)

// Extraction tags specific to the lightweight tier.
const (
	extractionNextHydrated  = "lightweight/nextjs-hydrated"
	extractionStateHydrated = "lightweight/state-hydrated"
	extractionMetaRefresh   = "lightweight/meta-refresh"
)

// maxMetaRefreshHops bounds meta-refresh chains.
const maxMetaRefreshHops = 3

var metaRefreshURL = regexp.MustCompile(`(?i)url\s*=\s*['"]?([^'">]+)`)

// Embedded-state globals frameworks leave in the page, in probe order.
var stateGlobals = []string{
	"__INITIAL_STATE__",
	"__PRELOADED_STATE__",
	"__APOLLO_STATE__",
	"__NUXT__",
}

// Signals that only a real browser will produce usable content.
var browserOnlyMarkers = []string{
	"document.addEventListener('DOMContentLoaded'",
	"window.location.replace(",
	"cf-browser-verification",
	"_cf_chl_opt",
}

// LightweightStrategy is the middle tier: still plain HTTP, but it follows
// meta refreshes and hydrates content from embedded framework state instead
// of giving up on shell pages. It requests an upgrade when only a real
// browser can produce the content.
type LightweightStrategy struct {
	uaPool *UserAgentPool
	logger utils.Logger
}

// NewLightweightStrategy creates the lightweight tier.
func NewLightweightStrategy(uaPool *UserAgentPool, logger utils.Logger) *LightweightStrategy {
	if uaPool == nil {
		uaPool = NewUserAgentPool(nil)
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &LightweightStrategy{uaPool: uaPool, logger: logger}
}

// Name returns the tier tag.
func (s *LightweightStrategy) Name() string { return NameLightweight }

// Execute fetches the page, following meta refreshes, and extracts content
// with embedded-state hydration.
func (s *LightweightStrategy) Execute(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	currentURL := rawURL
	var resp *http.Response
	var body string
	var err error

	for hop := 0; ; hop++ {
		resp, body, err = fetchURL(ctx, currentURL, opts, s.uaPool)
		if err != nil {
			return nil, err
		}
		next := metaRefreshTarget(body)
		if next == "" || hop >= maxMetaRefreshHops {
			break
		}
		resolved, err := resp.Request.URL.Parse(next)
		if err != nil {
			break
		}
		currentURL = resolved.String()
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	result := &Result{
		HTML:       body,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Content:    extract.FromDocument(doc),
	}
	if opts.CaptureNetwork {
		result.NetworkRequests = []NetworkRequest{{
			URL:         result.FinalURL,
			Method:      http.MethodGet,
			ContentType: resp.Header.Get("Content-Type"),
		}}
	}
	result.DiscoveredAPIs = discoverAPIs(doc, body)

	result.ExtractionStrategy = extractionHTML
	if currentURL != rawURL {
		result.ExtractionStrategy = extractionMetaRefresh
	}

	// Thin pages get a hydration pass from embedded framework state before
	// we consider escalating.
	if len(result.Content.Text) < 500 {
		if hydrated, tag := hydrateFromState(doc, body, result.Content); hydrated {
			result.ExtractionStrategy = tag
		}
	}

	if len(result.Content.Text) < 200 {
		for _, marker := range browserOnlyMarkers {
			if strings.Contains(body, marker) {
				return nil, &UpgradeError{Reason: "page requires script execution"}
			}
		}
	}
	return result, nil
}

// metaRefreshTarget extracts the URL of a meta refresh, if the page has one.
func metaRefreshTarget(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}
	content, ok := doc.Find(`meta[http-equiv]`).FilterFunction(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr("http-equiv")
		return strings.EqualFold(v, "refresh")
	}).Attr("content")
	if !ok {
		return ""
	}
	m := metaRefreshURL.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// hydrateFromState pulls text out of Next.js data or window state globals
// when static extraction came up thin.
func hydrateFromState(doc *goquery.Document, body string, content *extract.Content) (bool, string) {
	if next := doc.Find("script#__NEXT_DATA__"); next.Length() > 0 {
		var decoded map[string]interface{}
		if err := json.Unmarshal([]byte(next.Text()), &decoded); err == nil {
			if content.Structured == nil {
				content.Structured = make(map[string]interface{})
			}
			content.Structured["next_data"] = decoded
			if text := collectStrings(decoded, 0); len(text) > len(content.Text) {
				content.Text = text
			}
			return true, extractionNextHydrated
		}
	}

	for _, name := range stateGlobals {
		payload := findStateAssignment(body, name)
		if payload == "" {
			continue
		}
		var decoded map[string]interface{}
		if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
			continue
		}
		if content.Structured == nil {
			content.Structured = make(map[string]interface{})
		}
		content.Structured["state"] = decoded
		if text := collectStrings(decoded, 0); len(text) > len(content.Text) {
			content.Text = text
		}
		return true, extractionStateHydrated
	}
	return false, ""
}

// findStateAssignment finds `window.NAME = {...}` and returns the JSON
// object literal, relying on brace balance rather than a full JS parse.
func findStateAssignment(body, name string) string {
	idx := strings.Index(body, name)
	if idx < 0 {
		return ""
	}
	rest := body[idx:]
	eq := strings.IndexByte(rest, '=')
	if eq < 0 {
		return ""
	}
	rest = strings.TrimSpace(rest[eq+1:])
	if len(rest) == 0 || rest[0] != '{' {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i, c := range []byte(rest) {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return rest[:i+1]
			}
		}
	}
	return ""
}

// collectStrings gathers human-readable strings from decoded JSON, depth
// bounded, joined with spaces.
func collectStrings(v interface{}, depth int) string {
	if depth > 6 {
		return ""
	}
	switch value := v.(type) {
	case string:
		if len(value) >= 20 && !strings.HasPrefix(value, "http") && !strings.HasPrefix(value, "/") {
			return value
		}
	case map[string]interface{}:
		var parts []string
		for _, child := range value {
			if s := collectStrings(child, depth+1); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	case []interface{}:
		var parts []string
		for _, child := range value {
			if s := collectStrings(child, depth+1); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}
