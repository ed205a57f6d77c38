// internal/handlers/types.go

// Package handlers accumulates per-domain extraction observations and
// promotes them into learned site handlers with quirks.
package handlers

import (
	"time"
)

// Handler templates, from the most specific site shape to plain scraping.
const (
	TemplateShopifyLike    = "shopify-like"
	TemplateNextJSSSR      = "nextjs-ssr"
	TemplateGraphQL        = "graphql"
	TemplateRESTAPI        = "rest-api"
	TemplateStructuredData = "structured-data"
	TemplateHTMLScrape     = "html-scrape"
)

// Observation is one successful extraction's worth of evidence.
type Observation struct {
	ID        string        `json:"id"`
	URL       string        `json:"url"`
	Domain    string        `json:"domain"`
	Strategy  string        `json:"strategy"` // extraction strategy tag reported by the tier
	Selectors []string      `json:"selectors,omitempty"`
	JSONPaths []string      `json:"json_paths,omitempty"`
	APICalls  []string      `json:"api_calls,omitempty"`
	Duration  time.Duration `json:"duration"`
	FirstSeen time.Time     `json:"first_seen"`
	LastSeen  time.Time     `json:"last_seen"`
	SeenCount int           `json:"seen_count"`
}

// ExtractionRule is a selector or JSON path that worked, with confidence.
type ExtractionRule struct {
	Kind       string  `json:"kind"` // selector or json_path
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// ApiPattern is a normalised API URL observed for a domain.
type ApiPattern struct {
	URLPattern string `json:"url_pattern"` // numeric segments collapsed to {id}
	Method     string `json:"method"`
	Count      int    `json:"count"`
}

// LearnedSiteHandler is the promoted per-domain extraction template.
type LearnedSiteHandler struct {
	Domain      string           `json:"domain"`
	Template    string           `json:"template"`
	Rules       []ExtractionRule `json:"rules,omitempty"`
	APIPatterns []ApiPattern     `json:"api_patterns,omitempty"`

	Promoted  bool  `json:"promoted"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	LastUsed  time.Time `json:"last_used,omitempty"`
}

// SuccessRate is the handler's post-promotion success rate; 1.0 when unused.
func (h *LearnedSiteHandler) SuccessRate() float64 {
	total := h.Successes + h.Failures
	if total == 0 {
		return 1.0
	}
	return float64(h.Successes) / float64(total)
}

// RateLimitQuirk is a learned per-domain request budget.
type RateLimitQuirk struct {
	RequestsPerSec float64       `json:"requests_per_sec,omitempty"`
	Cooldown       time.Duration `json:"cooldown,omitempty"`
}

// StealthQuirk records that a domain needs stealth and why.
type StealthQuirk struct {
	Required bool   `json:"required"`
	Reason   string `json:"reason,omitempty"`
}

// AntiBotQuirk names the protection system seen on a domain.
type AntiBotQuirk struct {
	Type       string    `json:"type,omitempty"`
	DetectedAt time.Time `json:"detected_at,omitempty"`
}

// SiteQuirks is everything site-specific learned from failures.
type SiteQuirks struct {
	Domain            string            `json:"domain"`
	RequiredHeaders   map[string]string `json:"required_headers,omitempty"`
	ForbiddenHeaders  []string          `json:"forbidden_headers,omitempty"`
	PreferredUA       string            `json:"preferred_user_agent,omitempty"`
	Stealth           StealthQuirk      `json:"stealth"`
	RateLimit         RateLimitQuirk    `json:"rate_limit"`
	AuthType          string            `json:"auth_type,omitempty"`
	AntiBot           AntiBotQuirk      `json:"anti_bot"`
	SelectorOverrides map[string]string `json:"selector_overrides,omitempty"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Config tunes the registry.
type Config struct {
	MinObservations    int           `yaml:"min_observations" json:"min_observations"`
	PromotionThreshold float64       `yaml:"promotion_threshold" json:"promotion_threshold"`
	DemotionThreshold  float64       `yaml:"demotion_threshold" json:"demotion_threshold"`
	HandlerTTL         time.Duration `yaml:"handler_ttl" json:"handler_ttl"`
	MaxObservations    int           `yaml:"max_observations" json:"max_observations"`
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() *Config {
	return &Config{
		MinObservations:    3,
		PromotionThreshold: 0.8,
		DemotionThreshold:  0.3,
		HandlerTTL:         30 * 24 * time.Hour,
		MaxObservations:    100,
	}
}
