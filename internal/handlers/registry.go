// internal/handlers/registry.go

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/valpere/FetchPilot/internal/utils"
)

// storeVersion is the on-disk format version of handlers.json.
const storeVersion = 1

// Registry accumulates observations per domain and promotes them into
// learned site handlers. Failures feed the per-domain quirks instead.
type Registry struct {
	config *Config

	mu           sync.Mutex
	handlers     map[string]*LearnedSiteHandler
	quirks       map[string]*SiteQuirks
	observations map[string][]*Observation

	path   string
	logger utils.Logger
}

// NewRegistry creates a handler registry. A non-empty path enables Load/Save
// of handlers.json.
func NewRegistry(config *Config, path string, logger utils.Logger) *Registry {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MinObservations <= 0 {
		config.MinObservations = 3
	}
	if config.PromotionThreshold <= 0 {
		config.PromotionThreshold = 0.8
	}
	if config.DemotionThreshold <= 0 {
		config.DemotionThreshold = 0.3
	}
	if config.HandlerTTL <= 0 {
		config.HandlerTTL = 30 * 24 * time.Hour
	}
	if config.MaxObservations <= 0 {
		config.MaxObservations = 100
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Registry{
		config:       config,
		handlers:     make(map[string]*LearnedSiteHandler),
		quirks:       make(map[string]*SiteQuirks),
		observations: make(map[string][]*Observation),
		path:         path,
		logger:       logger,
	}
}

// observationKey identifies an observation for de-duplication: same URL,
// strategy, and selector set means the same evidence.
func observationKey(obs *Observation) string {
	selectors := append([]string(nil), obs.Selectors...)
	sort.Strings(selectors)
	return obs.URL + "|" + obs.Strategy + "|" + strings.Join(selectors, ",")
}

// RecordObservation adds one extraction's evidence for a domain. A duplicate
// of retained evidence refreshes its last-seen time and bumps its SeenCount
// without adding a new observation. Crossing the observation minimum creates
// the domain's handler.
func (r *Registry) RecordObservation(obs Observation) {
	if obs.Domain == "" {
		obs.Domain = utils.Hostname(obs.URL)
	}
	if obs.Domain == "" {
		return
	}
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	key := observationKey(&obs)
	list := r.observations[obs.Domain]
	for _, existing := range list {
		if observationKey(existing) == key {
			existing.LastSeen = now
			existing.SeenCount++
			return
		}
	}

	obs.ID = uuid.NewString()
	obs.FirstSeen = now
	obs.LastSeen = now
	obs.SeenCount = 1
	list = append(list, &obs)
	if len(list) > r.config.MaxObservations {
		list = list[len(list)-r.config.MaxObservations:]
	}
	r.observations[obs.Domain] = list

	if _, exists := r.handlers[obs.Domain]; !exists && len(list) >= r.config.MinObservations {
		handler := buildHandler(obs.Domain, list)
		handler.Promoted = true
		r.handlers[obs.Domain] = handler
		r.logger.Infof("promoted handler for %s (template %s, %d rules)",
			obs.Domain, handler.Template, len(handler.Rules))
	}
}

// RecordFailure learns quirks from a failed fetch: 403 demands stealth, 429
// lowers the learned rate limit (honouring Retry-After), and anti-bot
// signatures in the body are remembered.
func (r *Registry) RecordFailure(rawURL string, statusCode int, headers http.Header, body string) {
	domain := utils.Hostname(rawURL)
	if domain == "" {
		return
	}
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	q := r.quirksLocked(domain)
	q.UpdatedAt = now

	switch statusCode {
	case http.StatusForbidden:
		q.Stealth = StealthQuirk{Required: true, Reason: fmt.Sprintf("403 on %s", rawURL)}
	case http.StatusTooManyRequests:
		if q.RateLimit.RequestsPerSec == 0 {
			q.RateLimit.RequestsPerSec = 0.5
		} else {
			q.RateLimit.RequestsPerSec /= 2
		}
		if headers != nil {
			if retryAfter := parseRetryAfter(headers.Get("Retry-After")); retryAfter > q.RateLimit.Cooldown {
				q.RateLimit.Cooldown = retryAfter
			}
		}
	}

	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "cloudflare") || strings.Contains(lower, "cf-browser-verification"):
		q.AntiBot = AntiBotQuirk{Type: "cloudflare", DetectedAt: now}
	case strings.Contains(lower, "datadome"):
		q.AntiBot = AntiBotQuirk{Type: "datadome", DetectedAt: now}
	case strings.Contains(lower, "perimeterx") || strings.Contains(lower, "px-captcha"):
		q.AntiBot = AntiBotQuirk{Type: "perimeterx", DetectedAt: now}
	}
}

// parseRetryAfter handles the delta-seconds form of Retry-After.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func (r *Registry) quirksLocked(domain string) *SiteQuirks {
	q, ok := r.quirks[domain]
	if !ok {
		q = &SiteQuirks{Domain: domain}
		r.quirks[domain] = q
	}
	return q
}

// FindHandler resolves a URL to its domain's promoted handler and a
// confidence score, or nil when no usable handler exists. Idle handlers past
// the TTL stop shortcutting selection.
func (r *Registry) FindHandler(rawURL string) (*LearnedSiteHandler, float64) {
	domain := utils.Hostname(rawURL)
	if domain == "" {
		return nil, 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handlers[domain]
	if !ok || !h.Promoted {
		return nil, 0
	}

	idleSince := h.LastUsed
	if idleSince.IsZero() {
		idleSince = h.UpdatedAt
	}
	if time.Since(idleSince) > r.config.HandlerTTL {
		return nil, 0
	}

	h.LastUsed = time.Now()
	return h, r.handlerConfidenceLocked(h)
}

// handlerConfidenceLocked scores a handler: outcome window when available,
// otherwise the average initial rule confidence.
func (r *Registry) handlerConfidenceLocked(h *LearnedSiteHandler) float64 {
	if h.Successes+h.Failures > 0 {
		return h.SuccessRate()
	}
	if len(h.Rules) == 0 {
		return ruleBaseConfidence
	}
	sum := 0.0
	for _, rule := range h.Rules {
		sum += rule.Confidence
	}
	return sum / float64(len(h.Rules))
}

// RecordOutcome feeds a fetch outcome through the domain's handler window.
// Dropping below the demotion threshold un-promotes the handler and starts a
// fresh window; while demoted, a window that is still below the demotion
// threshold is discarded the same way. Recovering past the promotion
// threshold re-promotes it.
func (r *Registry) RecordOutcome(domain string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handlers[domain]
	if !ok {
		return
	}
	if success {
		h.Successes++
	} else {
		h.Failures++
	}
	h.UpdatedAt = time.Now()

	total := h.Successes + h.Failures
	if int(total) < r.config.MinObservations {
		return
	}

	rate := h.SuccessRate()
	if h.Promoted && rate < r.config.DemotionThreshold {
		h.Promoted = false
		h.Successes, h.Failures = 0, 0
		r.logger.Warnf("demoted handler for %s (success rate %.2f)", domain, rate)
	} else if !h.Promoted && rate >= r.config.PromotionThreshold {
		h.Promoted = true
		r.logger.Infof("re-promoted handler for %s (success rate %.2f)", domain, rate)
	} else if !h.Promoted && rate < r.config.DemotionThreshold {
		h.Successes, h.Failures = 0, 0
	}
}

// Quirks returns a copy of a domain's quirks.
func (r *Registry) Quirks(domain string) (SiteQuirks, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.quirks[domain]
	if !ok {
		return SiteQuirks{}, false
	}
	return *q, true
}

// SetQuirk applies a manual quirk override.
func (r *Registry) SetQuirk(domain string, update func(*SiteQuirks)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q := r.quirksLocked(domain)
	update(q)
	q.UpdatedAt = time.Now()
}

// ObservationCount returns how many distinct observations a domain has.
func (r *Registry) ObservationCount(domain string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observations[domain])
}

// Handler returns a copy of a domain's handler regardless of promotion.
func (r *Registry) Handler(domain string) (LearnedSiteHandler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handlers[domain]
	if !ok {
		return LearnedSiteHandler{}, false
	}
	return *h, true
}

// registryFile is the on-disk shape of handlers.json.
type registryFile struct {
	Version      int                   `json:"version"`
	Handlers     []*LearnedSiteHandler `json:"handlers"`
	LearnedSites []string              `json:"learnedSites"`
	Quirks       []*SiteQuirks         `json:"quirks"`
	Observations []*Observation        `json:"observations"`
}

// Save snapshots the registry atomically with deterministic ordering.
func (r *Registry) Save() error {
	if r.path == "" {
		return nil
	}

	r.mu.Lock()
	file := registryFile{Version: storeVersion}
	for domain, h := range r.handlers {
		file.Handlers = append(file.Handlers, h)
		file.LearnedSites = append(file.LearnedSites, domain)
	}
	for _, q := range r.quirks {
		file.Quirks = append(file.Quirks, q)
	}
	for _, list := range r.observations {
		file.Observations = append(file.Observations, list...)
	}
	sort.Slice(file.Handlers, func(i, j int) bool { return file.Handlers[i].Domain < file.Handlers[j].Domain })
	sort.Strings(file.LearnedSites)
	sort.Slice(file.Quirks, func(i, j int) bool { return file.Quirks[i].Domain < file.Quirks[j].Domain })
	sort.Slice(file.Observations, func(i, j int) bool { return file.Observations[i].ID < file.Observations[j].ID })
	data, err := json.MarshalIndent(&file, "", "  ")
	r.mu.Unlock()
	if err != nil {
		return utils.WrapError(err, utils.ErrCodePersistenceIO, "failed to encode handler registry")
	}

	if err := utils.WriteFileAtomic(r.path, data, 0o644); err != nil {
		return utils.WrapError(err, utils.ErrCodePersistenceIO, "failed to write handler registry")
	}
	return nil
}

// Load replaces in-memory state from handlers.json.
func (r *Registry) Load() error {
	if r.path == "" {
		return nil
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return utils.WrapError(err, utils.ErrCodePersistenceIO, "failed to read handler registry")
	}

	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return utils.WrapError(err, utils.ErrCodePersistenceIO, "failed to decode handler registry")
	}
	if file.Version != storeVersion {
		return utils.NewError(utils.ErrCodePersistenceIO,
			fmt.Sprintf("unsupported handler registry version %d", file.Version))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[string]*LearnedSiteHandler, len(file.Handlers))
	for _, h := range file.Handlers {
		r.handlers[h.Domain] = h
	}
	r.quirks = make(map[string]*SiteQuirks, len(file.Quirks))
	for _, q := range file.Quirks {
		r.quirks[q.Domain] = q
	}
	r.observations = make(map[string][]*Observation)
	for _, obs := range file.Observations {
		r.observations[obs.Domain] = append(r.observations[obs.Domain], obs)
	}
	return nil
}
