// internal/handlers/analyze.go

package handlers

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Initial confidence bounds for rules built from observations.
const (
	ruleBaseConfidence = 0.7
	ruleMaxConfidence  = 0.8
)

var numericSegment = regexp.MustCompile(`^\d+$`)

// strategyTemplates maps extraction strategy tags to handler templates.
// Matching is by substring so tier-specific tags like "lightweight/nextjs"
// still resolve.
var strategyTemplates = []struct {
	marker   string
	template string
}{
	{"shopify", TemplateShopifyLike},
	{"nextjs", TemplateNextJSSSR},
	{"next-data", TemplateNextJSSSR},
	{"graphql", TemplateGraphQL},
	{"rest", TemplateRESTAPI},
	{"api", TemplateRESTAPI},
	{"jsonld", TemplateStructuredData},
	{"structured", TemplateStructuredData},
	{"opengraph", TemplateStructuredData},
}

// buildHandler analyses a domain's observations into a handler: the dominant
// strategy becomes the template, recurring selectors and JSON paths become
// rules, and observed API URLs are normalised into patterns.
func buildHandler(domain string, observations []*Observation) *LearnedSiteHandler {
	now := time.Now()
	handler := &LearnedSiteHandler{
		Domain:    domain,
		Template:  dominantTemplate(observations),
		CreatedAt: now,
		UpdatedAt: now,
	}

	total := 0
	selectorFreq := make(map[string]int)
	jsonPathFreq := make(map[string]int)
	apiFreq := make(map[string]int)
	for _, obs := range observations {
		weight := obs.SeenCount
		if weight < 1 {
			weight = 1
		}
		total += weight
		for _, s := range obs.Selectors {
			selectorFreq[s] += weight
		}
		for _, p := range obs.JSONPaths {
			jsonPathFreq[p] += weight
		}
		for _, call := range obs.APICalls {
			apiFreq[normalizeAPIURL(call)] += weight
		}
	}

	handler.Rules = append(handler.Rules,
		rulesFromFrequency("selector", selectorFreq, total)...)
	handler.Rules = append(handler.Rules,
		rulesFromFrequency("json_path", jsonPathFreq, total)...)

	patterns := make([]ApiPattern, 0, len(apiFreq))
	for pattern, count := range apiFreq {
		patterns = append(patterns, ApiPattern{URLPattern: pattern, Method: "GET", Count: count})
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Count != patterns[j].Count {
			return patterns[i].Count > patterns[j].Count
		}
		return patterns[i].URLPattern < patterns[j].URLPattern
	})
	handler.APIPatterns = patterns

	return handler
}

// dominantTemplate picks the template for the most frequent strategy tag.
func dominantTemplate(observations []*Observation) string {
	counts := make(map[string]int)
	for _, obs := range observations {
		weight := obs.SeenCount
		if weight < 1 {
			weight = 1
		}
		counts[obs.Strategy] += weight
	}

	dominant, best := "", 0
	for strategy, count := range counts {
		if count > best || (count == best && strategy < dominant) {
			dominant, best = strategy, count
		}
	}

	lower := strings.ToLower(dominant)
	for _, m := range strategyTemplates {
		if strings.Contains(lower, m.marker) {
			return m.template
		}
	}
	return TemplateHTMLScrape
}

// rulesFromFrequency turns value frequencies into confidence-scored rules,
// most frequent first. Confidence scales linearly from the base to the cap.
func rulesFromFrequency(kind string, freq map[string]int, total int) []ExtractionRule {
	if total == 0 {
		return nil
	}
	rules := make([]ExtractionRule, 0, len(freq))
	for value, count := range freq {
		share := float64(count) / float64(total)
		confidence := ruleBaseConfidence + (ruleMaxConfidence-ruleBaseConfidence)*share
		if confidence > ruleMaxConfidence {
			confidence = ruleMaxConfidence
		}
		rules = append(rules, ExtractionRule{Kind: kind, Value: value, Confidence: confidence})
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Confidence != rules[j].Confidence {
			return rules[i].Confidence > rules[j].Confidence
		}
		return rules[i].Value < rules[j].Value
	})
	return rules
}

// normalizeAPIURL collapses numeric path segments to {id} so per-resource
// URLs merge into one pattern.
func normalizeAPIURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	segments := strings.Split(u.EscapedPath(), "/")
	for i, seg := range segments {
		if numericSegment.MatchString(seg) {
			segments[i] = "{id}"
		}
	}
	// The path is appended after String so the {id} braces stay unescaped.
	u.Path, u.RawPath = "", ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String() + strings.Join(segments, "/")
}
