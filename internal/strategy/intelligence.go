// internal/strategy/intelligence.go

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

// Extraction strategy tags reported by the HTTP tiers.
const (
	extractionHTML     = "html"
	extractionJSONLD   = "jsonld"
	extractionNextData = "nextjs-data"
	extractionShopify  = "shopify-html"
	extractionRESTAPI  = "rest-api"
)

// apiCallPattern spots API-looking URLs referenced in page scripts.
var apiCallPattern = regexp.MustCompile(`["'](https?://[^"']+?/(?:api|graphql)[^"']*|/(?:api|graphql)[^"'\s]*)["']`)

// jsShellRoots mark client-rendered application shells.
var jsShellRoots = []string{"#root", "#app", "#__nuxt", "[data-reactroot]", "[ng-app]", "[ng-version]"}

// IntelligenceStrategy is the cheapest tier: one HTTP request plus static
// extraction. It understands embedded state (Next.js data, JSON-LD) and
// reports an upgrade when the page is only an application shell.
type IntelligenceStrategy struct {
	uaPool *UserAgentPool
	logger utils.Logger
}

// NewIntelligenceStrategy creates the intelligence tier.
func NewIntelligenceStrategy(uaPool *UserAgentPool, logger utils.Logger) *IntelligenceStrategy {
	if uaPool == nil {
		uaPool = NewUserAgentPool(nil)
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &IntelligenceStrategy{uaPool: uaPool, logger: logger}
}

// Name returns the tier tag.
func (s *IntelligenceStrategy) Name() string { return NameIntelligence }

// Execute performs the HTTP fetch and static extraction.
func (s *IntelligenceStrategy) Execute(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	resp, body, err := fetchURL(ctx, rawURL, opts, s.uaPool)
	if err != nil {
		return nil, err
	}

	result := &Result{
		HTML:       body,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
	}
	if opts.CaptureNetwork {
		result.NetworkRequests = []NetworkRequest{{
			URL:         result.FinalURL,
			Method:      http.MethodGet,
			ContentType: resp.Header.Get("Content-Type"),
		}}
	}

	// JSON endpoints are already the API; wrap them without HTML parsing.
	if isJSONResponse(resp.Header.Get("Content-Type")) {
		result.ExtractionStrategy = extractionRESTAPI
		result.Content = contentFromJSON(body)
		result.DiscoveredAPIs = append(result.DiscoveredAPIs, DiscoveredAPI{
			URL: result.FinalURL, Method: http.MethodGet, ResponseFormat: "json", Source: "direct",
		})
		return result, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	result.Content = extract.FromDocument(doc)
	result.ExtractionStrategy = classifyExtraction(doc, body, result.Content)
	result.DiscoveredAPIs = discoverAPIs(doc, body)

	if shell, reason := looksLikeAppShell(doc, result.Content); shell {
		return nil, &UpgradeError{Reason: reason}
	}
	return result, nil
}

// fetchURL performs the request shared by the HTTP tiers and surfaces non-2xx
// responses as HTTPError.
func fetchURL(ctx context.Context, rawURL string, opts Options, uaPool *UserAgentPool) (*http.Response, string, error) {
	client, err := newHTTPClient(opts.ProxyURL, opts.Timeout)
	if err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	applyHeaders(req, opts, uaPool)

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, "", err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Headers:    resp.Header,
			Body:       body,
		}
	}
	return resp, body, nil
}

// contentFromJSON shapes a JSON response into content without guessing at
// the document's meaning.
func contentFromJSON(body string) *extract.Content {
	content := &extract.Content{Text: body, Markdown: "```json\n" + body + "\n```"}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(body), &decoded); err == nil {
		content.Structured = map[string]interface{}{"json": decoded}
		for _, key := range []string{"title", "name", "headline"} {
			if v, ok := decoded[key].(string); ok {
				content.Title = v
				break
			}
		}
	}
	return content
}

// classifyExtraction tags how the content was obtained, from the most
// specific site shape down to plain HTML.
func classifyExtraction(doc *goquery.Document, body string, content *extract.Content) string {
	if doc.Find("script#__NEXT_DATA__").Length() > 0 {
		return extractionNextData
	}
	if strings.Contains(body, "cdn.shopify.com") || strings.Contains(body, "Shopify.theme") {
		return extractionShopify
	}
	if content.Structured != nil {
		if _, ok := content.Structured["jsonld"]; ok {
			return extractionJSONLD
		}
	}
	return extractionHTML
}

// discoverAPIs collects API endpoints referenced by the page: Next.js data
// routes and API-looking URLs inside scripts.
func discoverAPIs(doc *goquery.Document, body string) []DiscoveredAPI {
	var apis []DiscoveredAPI
	seen := make(map[string]struct{})
	add := func(u, source string) {
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		apis = append(apis, DiscoveredAPI{URL: u, Method: http.MethodGet, ResponseFormat: "json", Source: source})
	}

	if next := doc.Find("script#__NEXT_DATA__"); next.Length() > 0 {
		var payload struct {
			BuildID string `json:"buildId"`
		}
		if err := json.Unmarshal([]byte(next.Text()), &payload); err == nil && payload.BuildID != "" {
			add("/_next/data/"+payload.BuildID, "next-data")
		}
	}

	for _, match := range apiCallPattern.FindAllStringSubmatch(body, 20) {
		add(match[1], "script-reference")
	}

	return apis
}

// looksLikeAppShell detects client-rendered shells: almost no text plus a
// framework mount point.
func looksLikeAppShell(doc *goquery.Document, content *extract.Content) (bool, string) {
	if len(content.Text) >= 200 {
		return false, ""
	}
	for _, sel := range jsShellRoots {
		if doc.Find(sel).Length() > 0 {
			return true, fmt.Sprintf("client-rendered shell (%s with %d chars of text)", sel, len(content.Text))
		}
	}
	return false, ""
}
