// internal/proxy/risk.go

package proxy

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// RiskLevel buckets a domain by how aggressively it defends itself.
type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskExtreme RiskLevel = "extreme"
)

// DomainRisk is the classification result for a domain.
type DomainRisk struct {
	Domain          string    `json:"domain"`
	Level           RiskLevel `json:"level"`
	RecommendedTier Tier      `json:"recommended_tier"`
	Successes       int64     `json:"successes"`
	Failures        int64     `json:"failures"`
	Protection      string    `json:"protection,omitempty"`
	ClassifiedAt    time.Time `json:"classified_at"`
}

// RiskConfig tunes the classifier.
type RiskConfig struct {
	CacheTTL       time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	EnableLearning bool          `yaml:"enable_learning" json:"enable_learning"`
}

// DefaultRiskConfig returns the default classifier configuration.
func DefaultRiskConfig() *RiskConfig {
	return &RiskConfig{
		CacheTTL:       time.Hour,
		EnableLearning: true,
	}
}

// domainRiskState is the mutable evidence for one domain.
type domainRiskState struct {
	successes     int64
	failures      int64
	blockedStreak float64 // decays on success
	captchaSeen   bool
	protection    string

	cached   *DomainRisk
	cachedAt time.Time
}

// protectionSignature pairs a body marker with the vendor it identifies.
type protectionSignature struct {
	marker string
	vendor string
}

var bodySignatures = []protectionSignature{
	{"cf-browser-verification", "cloudflare"},
	{"checking your browser before accessing", "cloudflare"},
	{"just a moment...", "cloudflare"},
	{"_incapsula_resource", "incapsula"},
	{"perimeterx", "perimeterx"},
	{"px-captcha", "perimeterx"},
	{"datadome", "datadome"},
	{"akamai bot manager", "akamai"},
	{"distil_r_captcha", "distil"},
	{"g-recaptcha", "recaptcha"},
	{"h-captcha", "hcaptcha"},
}

// RiskClassifier scores domains into risk levels from observed outcomes and
// protection-system fingerprints. Classifications are cached per domain.
type RiskClassifier struct {
	config *RiskConfig

	mu      sync.Mutex
	domains map[string]*domainRiskState
}

// NewRiskClassifier creates a classifier with the given configuration.
func NewRiskClassifier(config *RiskConfig) *RiskClassifier {
	if config == nil {
		config = DefaultRiskConfig()
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = time.Hour
	}
	return &RiskClassifier{
		config:  config,
		domains: make(map[string]*domainRiskState),
	}
}

func (c *RiskClassifier) state(domain string) *domainRiskState {
	s, ok := c.domains[domain]
	if !ok {
		s = &domainRiskState{}
		c.domains[domain] = s
	}
	return s
}

// Classify returns the domain's risk level and recommended starting proxy
// tier, computing a fresh classification when the cached one has expired.
func (c *RiskClassifier) Classify(domain string) DomainRisk {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.state(domain)
	if s.cached != nil && time.Since(s.cachedAt) < c.config.CacheTTL {
		return *s.cached
	}

	risk := c.classifyLocked(domain, s)
	s.cached = &risk
	s.cachedAt = time.Now()
	return risk
}

// classifyLocked scores the accumulated evidence. Caller holds c.mu.
func (c *RiskClassifier) classifyLocked(domain string, s *domainRiskState) DomainRisk {
	score := 0.0

	if s.protection != "" {
		score += 40
	}
	if s.captchaSeen {
		score += 25
	}
	total := s.successes + s.failures
	if total > 0 {
		score += float64(s.failures) / float64(total) * 20
	}
	score += s.blockedStreak * 10
	if score > 100 {
		score = 100
	}

	level := RiskLow
	tier := TierDatacenter
	switch {
	case score >= 70:
		level, tier = RiskExtreme, TierMobile
	case score >= 45:
		level, tier = RiskHigh, TierResidential
	case score >= 20:
		level, tier = RiskMedium, TierDatacenter
	}

	return DomainRisk{
		Domain:          domain,
		Level:           level,
		RecommendedTier: tier,
		Successes:       s.successes,
		Failures:        s.failures,
		Protection:      s.protection,
		ClassifiedAt:    time.Now(),
	}
}

// DetectProtectionFromResponse inspects headers and body for anti-bot vendor
// fingerprints and records any hit against the domain. Returns the detected
// vendor, or empty.
func (c *RiskClassifier) DetectProtectionFromResponse(domain string, headers http.Header, body string) string {
	vendor := detectProtection(headers, body)
	if vendor == "" || !c.config.EnableLearning {
		return vendor
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.state(domain)
	s.protection = vendor
	if vendor == "recaptcha" || vendor == "hcaptcha" || strings.Contains(strings.ToLower(body), "captcha") {
		s.captchaSeen = true
	}
	s.cached = nil // force reclassification
	return vendor
}

func detectProtection(headers http.Header, body string) string {
	if headers != nil {
		if headers.Get("cf-ray") != "" || headers.Get("cf-cache-status") != "" {
			return "cloudflare"
		}
		server := strings.ToLower(headers.Get("Server"))
		switch {
		case strings.Contains(server, "cloudflare"):
			return "cloudflare"
		case strings.Contains(server, "akamai"):
			return "akamai"
		}
		if headers.Get("x-datadome") != "" || headers.Get("x-dd-b") != "" {
			return "datadome"
		}
		if headers.Get("x-px") != "" {
			return "perimeterx"
		}
	}

	lower := strings.ToLower(body)
	for _, sig := range bodySignatures {
		if strings.Contains(lower, sig.marker) {
			return sig.vendor
		}
	}
	return ""
}

// RecordSuccess lowers the domain's risk gradually.
func (c *RiskClassifier) RecordSuccess(domain string) {
	if !c.config.EnableLearning {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.state(domain)
	s.successes++
	if s.blockedStreak > 0 {
		s.blockedStreak *= 0.5
		if s.blockedStreak < 0.1 {
			s.blockedStreak = 0
		}
	}
}

// RecordFailure raises the domain's risk; blocked failures weigh more.
func (c *RiskClassifier) RecordFailure(domain string, wasBlocked bool) {
	if !c.config.EnableLearning {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.state(domain)
	s.failures++
	if wasBlocked {
		s.blockedStreak++
		s.cached = nil
	}
}

// RecommendedDelay suggests a pre-request delay for the domain's risk level.
func (c *RiskClassifier) RecommendedDelay(domain string) time.Duration {
	switch c.Classify(domain).Level {
	case RiskExtreme:
		return 5 * time.Second
	case RiskHigh:
		return 2 * time.Second
	case RiskMedium:
		return 500 * time.Millisecond
	default:
		return 0
	}
}

// Reset clears all learned state. Intended for administrative use.
func (c *RiskClassifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.domains = make(map[string]*domainRiskState)
}
