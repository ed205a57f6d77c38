// internal/fetch/fetcher.go

package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/valpere/FetchPilot/internal/cache"
	"github.com/valpere/FetchPilot/internal/handlers"
	"github.com/valpere/FetchPilot/internal/knowledge"
	"github.com/valpere/FetchPilot/internal/perf"
	"github.com/valpere/FetchPilot/internal/proxy"
	"github.com/valpere/FetchPilot/internal/strategy"
	"github.com/valpere/FetchPilot/internal/utils"
)

// Config tunes the tiered fetcher.
type Config struct {
	MinContentLength int           `yaml:"min_content_length" json:"min_content_length"`
	GlobalTimeout    time.Duration `yaml:"global_timeout" json:"global_timeout"`

	IntelligenceTimeout time.Duration `yaml:"intelligence_timeout" json:"intelligence_timeout"`
	LightweightTimeout  time.Duration `yaml:"lightweight_timeout" json:"lightweight_timeout"`
	BrowserTimeout      time.Duration `yaml:"browser_timeout" json:"browser_timeout"`

	// RequireProxy turns a missing proxy configuration into a NO_PROXY error
	// instead of a direct fetch.
	RequireProxy bool `yaml:"require_proxy" json:"require_proxy"`

	// AllowPrivateHosts disables the SSRF guard. Test environments only.
	AllowPrivateHosts bool `yaml:"allow_private_hosts" json:"allow_private_hosts"`

	// DefaultRatePerSec applies to domains with no learned rate limit;
	// non-positive disables default limiting.
	DefaultRatePerSec float64 `yaml:"default_rate_per_sec" json:"default_rate_per_sec"`
	RateBurst         int     `yaml:"rate_burst" json:"rate_burst"`

	// BrowserRequiredDomains start at the browser tier when no tier is forced
	// and no learned preference applies.
	BrowserRequiredDomains []string `yaml:"browser_required_domains" json:"browser_required_domains"`
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() *Config {
	return &Config{
		MinContentLength:    DefaultMinContentLength,
		GlobalTimeout:       2 * time.Minute,
		IntelligenceTimeout: 15 * time.Second,
		LightweightTimeout:  20 * time.Second,
		BrowserTimeout:      60 * time.Second,
	}
}

// MetricsSink receives fetch pipeline events. All methods must be safe for
// concurrent use; a nil sink disables metrics.
type MetricsSink interface {
	ObserveFetch(tier string, success, cached bool, duration time.Duration)
	ObserveFallback(fromTier, toTier string)
	ObserveProxySelection(tier string, reason string)
	ObserveProxyError(code string)
}

// Fetcher cascades registered strategies from cheap to expensive, enforcing
// the caller's cost and latency budgets and learning from every attempt.
type Fetcher struct {
	config     *Config
	strategies map[RenderTier]strategy.Strategy

	proxies    *proxy.Manager
	prefs      *PreferenceStore
	cache      *cache.AdaptiveCache
	knowledge  *knowledge.Base
	pagination *knowledge.Discovery
	registry   *handlers.Registry
	perf       *perf.Tracker
	limiter    *DomainRateLimiter

	metrics MetricsSink
	logger  utils.Logger
}

// NewFetcher wires a fetcher. Nil collaborators degrade gracefully: learning
// is skipped where its component is absent.
func NewFetcher(config *Config, proxies *proxy.Manager, prefs *PreferenceStore,
	adaptiveCache *cache.AdaptiveCache, kb *knowledge.Base, pagination *knowledge.Discovery,
	registry *handlers.Registry, tracker *perf.Tracker, logger utils.Logger) *Fetcher {

	if config == nil {
		config = DefaultConfig()
	}
	if config.MinContentLength <= 0 {
		config.MinContentLength = DefaultMinContentLength
	}
	if prefs == nil {
		prefs = NewPreferenceStore(0)
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	return &Fetcher{
		config:     config,
		strategies: make(map[RenderTier]strategy.Strategy),
		proxies:    proxies,
		prefs:      prefs,
		cache:      adaptiveCache,
		knowledge:  kb,
		pagination: pagination,
		registry:   registry,
		perf:       tracker,
		limiter:    NewDomainRateLimiter(config.DefaultRatePerSec, config.RateBurst),
		logger:     logger,
	}
}

// Register installs a strategy for a tier. Tiers without a strategy are
// dropped from cascade order.
func (f *Fetcher) Register(tier RenderTier, s strategy.Strategy) {
	f.strategies[tier] = s
}

// SetMetrics installs an optional metrics sink.
func (f *Fetcher) SetMetrics(sink MetricsSink) { f.metrics = sink }

// Preferences exposes the preference store.
func (f *Fetcher) Preferences() *PreferenceStore { return f.prefs }

// RateLimiter exposes the per-domain limiter.
func (f *Fetcher) RateLimiter() *DomainRateLimiter { return f.limiter }

// Fetch runs the tier cascade for one URL.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if !f.config.AllowPrivateHosts {
		if err := ValidateURL(req.URL); err != nil {
			e := newError(KindURLUnsafe, err.Error())
			e.Cause = err
			return nil, e
		}
	}
	domain := utils.Hostname(req.URL)
	if domain == "" {
		return nil, newError(KindURLUnsafe, "URL has no host")
	}

	deadline := utils.MinDuration(f.config.GlobalTimeout, req.MaxLatency)
	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	if req.Freshness != cache.FreshnessRealtime && f.cache != nil {
		if v, ok := f.cache.Get(req.URL, nil); ok {
			if cached, ok := v.(*Result); ok {
				copied := *cached
				copied.Cached = true
				if f.metrics != nil {
					f.metrics.ObserveFetch(copied.Tier, true, true, time.Since(start))
				}
				return &copied, nil
			}
		}
	}

	order, skipped, err := f.tierOrder(req, domain)
	if err != nil {
		return nil, err
	}

	var attempts []TierAttempt
	lastKind := KindTierTransport
	lastMsg := "no tiers attempted"

	for i, tier := range order {
		if req.MaxLatency > 0 && time.Since(start) >= req.MaxLatency {
			e := newError(KindBudgetLatency,
				fmt.Sprintf("latency budget %v exhausted after %d attempts", req.MaxLatency, len(attempts)))
			e.TierAttempts = attempts
			e.TiersSkipped = skipped
			return nil, e
		}
		if ctx.Err() != nil {
			return nil, f.cancelled(ctx, attempts)
		}
		if i > 0 && f.metrics != nil {
			f.metrics.ObserveFallback(order[i-1].String(), tier.String())
		}

		if err := f.limiter.Acquire(ctx, domain); err != nil {
			return nil, f.cancelled(ctx, attempts)
		}

		sel, selErr := f.selectProxy(req, domain)
		if selErr != nil {
			selErr.TierAttempts = attempts
			return nil, selErr
		}

		attempt, result := f.attempt(ctx, tier, req, domain, sel)
		attempts = append(attempts, *attempt)

		if result != nil {
			result.TierAttempts = attempts
			result.FellBack = len(attempts) > 1
			f.finishSuccess(req, domain, tier, sel, result, attempt.Duration)
			if f.metrics != nil {
				f.metrics.ObserveFetch(tier.String(), true, false, time.Since(start))
			}
			return result, nil
		}

		if attempt.Kind == KindCancelled {
			return nil, f.cancelled(ctx, attempts[:len(attempts)-1])
		}
		lastKind = attempt.Kind
		lastMsg = attempt.Error
	}

	if f.metrics != nil && len(order) > 0 {
		f.metrics.ObserveFetch(order[len(order)-1].String(), false, false, time.Since(start))
	}
	e := newError(lastKind, lastMsg)
	e.TierAttempts = attempts
	e.TiersSkipped = skipped
	return nil, e
}

// cancelled builds the cancellation error. Aborted attempts are not recorded
// to learners so they do not bias them.
func (f *Fetcher) cancelled(ctx context.Context, attempts []TierAttempt) *Error {
	msg := "fetch cancelled"
	if err := ctx.Err(); err != nil {
		msg = err.Error()
	}
	e := newError(KindCancelled, msg)
	e.TierAttempts = attempts
	return e
}

// tierOrder computes the cascade: the start tier plus every more expensive
// escalation up to the cost budget, dropping unsupported tiers. When the
// budget excludes everything supported, the cheapest available tier runs
// anyway and the clamp is logged.
func (f *Fetcher) tierOrder(req Request, domain string) ([]RenderTier, []string, *Error) {
	startTier, err := f.startTier(req, domain)
	if err != nil {
		return nil, nil, err
	}

	maxCost := TierBrowser
	if req.MaxCostTier != "" {
		parsed, perr := ParseRenderTier(req.MaxCostTier)
		if perr != nil {
			e := newError(KindBudgetCost, perr.Error())
			return nil, nil, e
		}
		maxCost = parsed
	}

	var order []RenderTier
	var skipped []string
	for tier := startTier; tier <= TierBrowser; tier++ {
		if _, supported := f.strategies[tier]; !supported {
			continue
		}
		if tier > maxCost {
			skipped = append(skipped, tier.String())
			continue
		}
		order = append(order, tier)
	}

	if len(order) == 0 {
		cheapest, ok := f.cheapestSupported()
		if !ok {
			return nil, nil, newError(KindBudgetCost, "no fetch strategies registered")
		}
		f.logger.Warnf("cost budget %q excludes all supported tiers for %s; using %s",
			req.MaxCostTier, domain, cheapest)
		order = []RenderTier{cheapest}
	}
	return order, skipped, nil
}

func (f *Fetcher) cheapestSupported() (RenderTier, bool) {
	for tier := TierIntelligence; tier <= TierBrowser; tier++ {
		if _, ok := f.strategies[tier]; ok {
			return tier, true
		}
	}
	return TierIntelligence, false
}

// startTier resolves the cascade's first tier: forced tier, learned
// preference, browser-required list, then the cheapest default.
func (f *Fetcher) startTier(req Request, domain string) (RenderTier, *Error) {
	if req.ForceTier != "" {
		tier, err := ParseRenderTier(req.ForceTier)
		if err != nil {
			return TierIntelligence, newError(KindBudgetCost, err.Error())
		}
		return tier, nil
	}
	if tier, ok := f.prefs.PreferredTier(domain); ok {
		return tier, nil
	}
	for _, required := range f.config.BrowserRequiredDomains {
		if utils.IsSubdomainOf(domain, required) {
			return TierBrowser, nil
		}
	}
	return TierIntelligence, nil
}

// selectProxy picks a proxy when pools are configured; direct fetches are
// allowed unless the config demands a proxy.
func (f *Fetcher) selectProxy(req Request, domain string) (*proxy.Selection, *Error) {
	if f.proxies == nil || !f.proxies.HasPools() {
		if f.config.RequireProxy {
			return nil, newError(KindNoProxy, "no proxy pools configured")
		}
		return nil, nil
	}

	sel, serr := f.proxies.Select(proxy.Request{
		Domain:    domain,
		Plan:      req.Plan,
		SessionID: req.SessionID,
		Country:   req.Country,
	})
	if serr != nil {
		if f.metrics != nil {
			f.metrics.ObserveProxyError(serr.Code)
		}
		kind := KindProxyExhausted
		if serr.Code == proxy.ErrCodeNoProxyConfigured {
			if !f.config.RequireProxy {
				return nil, nil
			}
			kind = KindNoProxy
		}
		e := newError(kind, serr.Message)
		e.RetryAfter = serr.RetryAfter
		e.Recommendation = serr.Recommendation
		return nil, e
	}
	if f.metrics != nil {
		f.metrics.ObserveProxySelection(sel.Tier.String(), string(sel.Reason))
	}
	return sel, nil
}

// attempt runs one tier and returns the attempt record, plus the result when
// it produced valid content.
func (f *Fetcher) attempt(ctx context.Context, tier RenderTier, req Request, domain string, sel *proxy.Selection) (*TierAttempt, *Result) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.tierTimeout(tier))
	defer cancel()

	opts := f.buildOptions(tier, req, domain, sel)
	started := time.Now()
	res, err := f.strategies[tier].Execute(attemptCtx, req.URL, opts)
	duration := time.Since(started)

	attempt := &TierAttempt{Tier: tier.String(), Duration: duration}
	if sel != nil {
		attempt.ProxyID = sel.Endpoint.ID
	}

	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			attempt.Kind = KindCancelled
			attempt.Error = ctx.Err().Error()
			return attempt, nil
		}
		attempt.Kind, attempt.Error = f.classifyFailure(err)
		f.recordFailure(req, domain, tier, sel, err, attempt, duration)
		return attempt, nil
	}

	validation := ValidateContent(res.HTML, res.Content, f.minLength(req))
	attempt.Validation = validation
	if !validation.Valid {
		attempt.Kind = kindForValidation(validation)
		attempt.Error = validation.Reason
		f.recordFailure(req, domain, tier, sel, nil, attempt, duration)
		return attempt, nil
	}

	built := &Result{
		URL:                req.URL,
		FinalURL:           res.FinalURL,
		Content:            *res.Content,
		Tier:               tier.String(),
		ExtractionStrategy: res.ExtractionStrategy,
		NetworkRequests:    res.NetworkRequests,
		DiscoveredAPIs:     res.DiscoveredAPIs,
		FetchedAt:          time.Now(),
	}
	if res.Headers != nil {
		built.cacheControl = res.Headers.Get("Cache-Control")
	}
	return attempt, built
}

func (f *Fetcher) minLength(req Request) int {
	if req.MinContentLength > 0 {
		return req.MinContentLength
	}
	return f.config.MinContentLength
}

func (f *Fetcher) tierTimeout(tier RenderTier) time.Duration {
	switch tier {
	case TierBrowser:
		if f.config.BrowserTimeout > 0 {
			return f.config.BrowserTimeout
		}
		return 60 * time.Second
	case TierLightweight:
		if f.config.LightweightTimeout > 0 {
			return f.config.LightweightTimeout
		}
		return 20 * time.Second
	default:
		if f.config.IntelligenceTimeout > 0 {
			return f.config.IntelligenceTimeout
		}
		return 15 * time.Second
	}
}

// buildOptions shapes strategy options from learned quirks and the selection.
func (f *Fetcher) buildOptions(tier RenderTier, req Request, domain string, sel *proxy.Selection) strategy.Options {
	opts := strategy.Options{
		Timeout:        f.tierTimeout(tier),
		CaptureNetwork: req.CaptureNetwork || req.PaginatedFlow,
	}
	if sel != nil {
		opts.ProxyURL = sel.Endpoint.URL
	}
	if f.registry != nil {
		if q, ok := f.registry.Quirks(domain); ok {
			opts.Headers = q.RequiredHeaders
			opts.ForbiddenHeaders = q.ForbiddenHeaders
			opts.UserAgent = q.PreferredUA
			opts.Stealth = q.Stealth.Required
			if q.RateLimit.RequestsPerSec > 0 {
				f.limiter.SetDomainRate(domain, q.RateLimit.RequestsPerSec)
			}
		}
	}
	return opts
}

// classifyFailure maps a strategy error onto the taxonomy.
func (f *Fetcher) classifyFailure(err error) (ErrorKind, string) {
	if strategy.NeedsUpgrade(err) {
		return KindTierValidationIncomplete, err.Error()
	}

	var httpErr *strategy.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusForbidden,
			httpErr.StatusCode == http.StatusTooManyRequests,
			httpErr.StatusCode == http.StatusServiceUnavailable && looksBlocked(httpErr.Body):
			return KindTierBlocked, err.Error()
		default:
			return KindTierTransport, err.Error()
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTierTransport, "tier timeout: " + err.Error()
	}
	return KindTierTransport, err.Error()
}

func looksBlocked(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "cloudflare") || strings.Contains(lower, "captcha") ||
		strings.Contains(lower, "just a moment")
}

// failureReason maps an attempt to the proxy health taxonomy.
func failureReason(kind ErrorKind, err error) proxy.FailureReason {
	if kind == KindTierBlocked {
		var httpErr *strategy.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
			return proxy.FailureRateLimited
		}
		return proxy.FailureBlocked
	}
	if err == nil {
		return proxy.FailureTransport
	}
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(msg, "timeout"):
		return proxy.FailureTimeout
	case strings.Contains(msg, "no such host") || strings.Contains(msg, "dns"):
		return proxy.FailureDNS
	case strings.Contains(msg, "connection refused"):
		return proxy.FailureRefused
	case strings.Contains(msg, "tls") || strings.Contains(msg, "certificate"):
		return proxy.FailureSSL
	case strings.Contains(msg, "status 4"):
		return proxy.FailureClient
	case strings.Contains(msg, "status 5"):
		return proxy.FailureServer
	default:
		return proxy.FailureTransport
	}
}

// recordFailure feeds one failed attempt to every learner.
func (f *Fetcher) recordFailure(req Request, domain string, tier RenderTier, sel *proxy.Selection, err error, attempt *TierAttempt, duration time.Duration) {
	blocked := attempt.Kind == KindTierBlocked

	if sel != nil && f.proxies != nil {
		f.proxies.Health().RecordFailure(sel.Endpoint.ID, domain, failureReason(attempt.Kind, err))
	}
	if f.proxies != nil {
		f.proxies.Classifier().RecordFailure(domain, blocked)
		var httpErr *strategy.HTTPError
		if errors.As(err, &httpErr) {
			f.proxies.Classifier().DetectProtectionFromResponse(domain, httpErr.Headers, httpErr.Body)
		}
	}
	if f.registry != nil {
		var httpErr *strategy.HTTPError
		if errors.As(err, &httpErr) {
			f.registry.RecordFailure(req.URL, httpErr.StatusCode, httpErr.Headers, httpErr.Body)
			if q, ok := f.registry.Quirks(domain); ok && q.RateLimit.RequestsPerSec > 0 {
				f.limiter.SetDomainRate(domain, q.RateLimit.RequestsPerSec)
			}
		}
		f.registry.RecordOutcome(domain, false)
	}
	f.prefs.RecordFailure(domain)
	if f.perf != nil {
		f.perf.Record(domain, tier.String(), false, perf.Timing{Total: duration, Network: duration})
	}
}

// finishSuccess feeds a valid result to every learner and the cache.
func (f *Fetcher) finishSuccess(req Request, domain string, tier RenderTier, sel *proxy.Selection, result *Result, duration time.Duration) {
	if sel != nil && f.proxies != nil {
		f.proxies.Health().RecordSuccess(sel.Endpoint.ID, domain, duration)
	}
	if f.proxies != nil {
		f.proxies.Classifier().RecordSuccess(domain)
	}
	f.prefs.RecordSuccess(domain, tier, duration)
	if f.perf != nil {
		f.perf.Record(domain, tier.String(), true, perf.Timing{Total: duration, Network: duration})
	}

	if f.knowledge != nil && len(result.DiscoveredAPIs) > 0 {
		f.knowledge.Learn(domain, patternsFromDiscovered(result.DiscoveredAPIs))
	}

	if f.registry != nil {
		strategyTag := result.ExtractionStrategy
		if strategyTag == "" {
			strategyTag = result.Tier
		}
		obs := handlers.Observation{
			URL:      req.URL,
			Domain:   domain,
			Strategy: strategyTag,
			Duration: duration,
		}
		for _, api := range result.DiscoveredAPIs {
			obs.APICalls = append(obs.APICalls, api.URL)
		}
		f.registry.RecordObservation(obs)
		f.registry.RecordOutcome(domain, true)
	}

	if f.pagination != nil && req.PaginatedFlow && len(result.NetworkRequests) > 0 {
		analysis := f.pagination.Analyze(knowledge.AnalysisContext{
			PageURLs: []string{req.URL},
			Requests: capturedFromNetwork(result.NetworkRequests),
		})
		if analysis.Detected {
			f.logger.Infof("learned pagination pattern for %s (%s=%s)",
				domain, analysis.Pattern.Param.Type, analysis.Pattern.Param.Name)
		}
	}

	if f.cache != nil && req.Freshness != cache.FreshnessRealtime {
		stored := *result
		f.cache.SetValueWithContent(req.URL, &stored, result.Content.Text, cache.SetOptions{
			Freshness:    req.Freshness,
			CacheControl: result.cacheControl,
		})
	}
}

// patternsFromDiscovered converts discovered APIs into low-confidence
// knowledge base entries.
func patternsFromDiscovered(apis []strategy.DiscoveredAPI) []*knowledge.LearnedApiPattern {
	patterns := make([]*knowledge.LearnedApiPattern, 0, len(apis))
	for _, api := range apis {
		patterns = append(patterns, &knowledge.LearnedApiPattern{
			TemplateType:     knowledge.TemplateRESTResource,
			EndpointTemplate: api.URL,
			Method:           api.Method,
			ResponseFormat:   api.ResponseFormat,
			Confidence:       knowledge.ConfidenceLow,
		})
	}
	return patterns
}

// capturedFromNetwork converts strategy captures for pagination analysis.
func capturedFromNetwork(reqs []strategy.NetworkRequest) []knowledge.CapturedRequest {
	out := make([]knowledge.CapturedRequest, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, knowledge.CapturedRequest{
			URL:          r.URL,
			Method:       r.Method,
			ContentType:  r.ContentType,
			ResponseBody: r.ResponseBody,
		})
	}
	return out
}
