// internal/fetch/types.go

// Package fetch is the orchestration core: it cascades fetch strategies from
// cheap to expensive under caller budgets, routes through the proxy layer,
// validates results, and feeds every outcome back into the learners.
package fetch

import (
	"fmt"
	"time"

	"github.com/valpere/FetchPilot/internal/cache"
	"github.com/valpere/FetchPilot/internal/extract"
	"github.com/valpere/FetchPilot/internal/proxy"
	"github.com/valpere/FetchPilot/internal/strategy"
)

// RenderTier orders fetch strategies by cost: intelligence < lightweight <
// browser.
type RenderTier int

const (
	TierIntelligence RenderTier = iota
	TierLightweight
	TierBrowser
)

// String returns the tier name.
func (t RenderTier) String() string {
	switch t {
	case TierIntelligence:
		return strategy.NameIntelligence
	case TierLightweight:
		return strategy.NameLightweight
	case TierBrowser:
		return strategy.NameBrowser
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseRenderTier normalises a tier name or alias.
func ParseRenderTier(s string) (RenderTier, error) {
	switch s {
	case "intelligence", "http", "static", "cheap":
		return TierIntelligence, nil
	case "lightweight", "light", "renderer":
		return TierLightweight, nil
	case "browser", "chrome", "full", "playwright":
		return TierBrowser, nil
	default:
		return TierIntelligence, fmt.Errorf("unknown render tier: %q", s)
	}
}

// Request is one fetch invocation's inputs.
type Request struct {
	URL string

	// ForceTier pins the starting tier; empty uses learned preference.
	ForceTier string

	// MaxCostTier caps escalation; empty allows every supported tier.
	MaxCostTier string

	// MaxLatency bounds the whole cascade, zero means no budget.
	MaxLatency time.Duration

	// Freshness is the caller's cache requirement.
	Freshness cache.Freshness

	// MinContentLength overrides the validation floor; zero uses the default.
	MinContentLength int

	Plan      proxy.Plan
	SessionID string
	Country   string

	// CaptureNetwork asks the tiers to record traffic for API discovery and
	// pagination analysis.
	CaptureNetwork bool

	// PaginatedFlow marks the request as part of a known paginated browse,
	// feeding its captured traffic to pagination discovery.
	PaginatedFlow bool
}

// ValidationResult explains why content passed or failed validation.
type ValidationResult struct {
	Valid           bool   `json:"valid"`
	Reason          string `json:"reason,omitempty"`
	TextLength      int    `json:"text_length"`
	SemanticMarkers int    `json:"semantic_markers"`
	IncompleteHit   string `json:"incomplete_hit,omitempty"`
}

// TierAttempt records one strategy invocation inside a fetch.
type TierAttempt struct {
	Tier       string            `json:"tier"`
	Duration   time.Duration     `json:"duration"`
	Error      string            `json:"error,omitempty"`
	Kind       ErrorKind         `json:"kind,omitempty"`
	Validation *ValidationResult `json:"validation,omitempty"`
	ProxyID    string            `json:"proxy_id,omitempty"`
}

// Result is the immutable outcome of a successful fetch.
type Result struct {
	URL      string          `json:"url"`
	FinalURL string          `json:"final_url"`
	Content  extract.Content `json:"content"`

	Tier               string `json:"tier"`
	ExtractionStrategy string `json:"extraction_strategy,omitempty"`
	FellBack           bool   `json:"fell_back"`
	Cached             bool   `json:"cached"`

	// cacheControl is the response's Cache-Control header, consulted when
	// the result is stored.
	cacheControl string

	TierAttempts    []TierAttempt             `json:"tier_attempts"`
	NetworkRequests []strategy.NetworkRequest `json:"network_requests,omitempty"`
	DiscoveredAPIs  []strategy.DiscoveredAPI  `json:"discovered_apis,omitempty"`

	FetchedAt time.Time `json:"fetched_at"`
}

// DomainPreference is the learned starting tier for a domain.
type DomainPreference struct {
	Domain        string     `json:"domain"`
	Preferred     RenderTier `json:"preferred_tier"`
	SuccessCount  int64      `json:"success_count"`
	FailureCount  int64      `json:"failure_count"`
	LastUsed      time.Time  `json:"last_used"`
	AvgResponseMs float64    `json:"avg_response_ms"`
}

// preferenceMinSuccesses is how many successes a preference needs before it
// steers start-tier selection.
const preferenceMinSuccesses = 3
