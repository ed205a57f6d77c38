// internal/proxy/health.go

package proxy

import (
	"sync"
	"time"
)

// outcome is one slot in a proxy's sliding window.
type outcome struct {
	success bool
	latency time.Duration
}

// proxyHealth tracks one endpoint's sliding outcome window plus cooldown and
// per-domain block state.
type proxyHealth struct {
	proxyID string
	poolID  string
	tier    Tier

	window []outcome
	next   int

	cooldownUntil  time.Time
	cooldownReason string
	recentCooldown int // cooldowns inside the growth window, drives exponential backoff
	lastCooldownAt time.Time

	blockedDomains  map[string]struct{}
	consecByDomain  map[string]int
	consecAnyDomain int
	totalSuccesses  int64
	totalFailures   int64
}

func (h *proxyHealth) record(o outcome, windowSize int) {
	if len(h.window) < windowSize {
		h.window = append(h.window, o)
		return
	}
	h.window[h.next] = o
	h.next = (h.next + 1) % len(h.window)
}

func (h *proxyHealth) successRate() float64 {
	if len(h.window) == 0 {
		return 1.0 // no evidence yet counts as healthy
	}
	successes := 0
	for _, o := range h.window {
		if o.success {
			successes++
		}
	}
	return float64(successes) / float64(len(h.window))
}

func (h *proxyHealth) avgLatency() time.Duration {
	var total time.Duration
	count := 0
	for _, o := range h.window {
		if o.success {
			total += o.latency
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / time.Duration(count)
}

// stickyEntry pins a session to a proxy until its TTL passes.
type stickyEntry struct {
	proxyID   string
	expiresAt time.Time
}

// HealthSnapshot is an exported view of one proxy's health state.
type HealthSnapshot struct {
	ProxyID        string        `json:"proxy_id"`
	PoolID         string        `json:"pool_id"`
	Tier           string        `json:"tier"`
	SuccessRate    float64       `json:"success_rate"`
	AvgLatency     time.Duration `json:"avg_latency"`
	WindowSize     int           `json:"window_size"`
	InCooldown     bool          `json:"in_cooldown"`
	CooldownUntil  time.Time     `json:"cooldown_until,omitempty"`
	CooldownReason string        `json:"cooldown_reason,omitempty"`
	BlockedDomains []string      `json:"blocked_domains,omitempty"`
	TotalSuccesses int64         `json:"total_successes"`
	TotalFailures  int64         `json:"total_failures"`
}

// HealthTracker keeps a sliding outcome window per proxy, applies the
// consecutive-block policy, and owns the sticky session map.
//
// Block policy: three consecutive blocked results for the same (proxy, domain)
// add the domain to the proxy's block set; three consecutive blocked results
// that each start a new streak for their domain (so spanning three domains)
// put the proxy into a cooldown that doubles per recent cooldown (base 5m,
// capped at 1h). Repeated blocks on one domain alone never start a cooldown.
type HealthTracker struct {
	config *HealthConfig

	mu      sync.RWMutex
	proxies map[string]*proxyHealth

	stickyMu sync.Mutex
	sticky   map[string]*stickyEntry
}

// NewHealthTracker creates a tracker with the given configuration.
func NewHealthTracker(config *HealthConfig) *HealthTracker {
	if config == nil {
		config = DefaultHealthConfig()
	}
	if config.WindowSize <= 0 {
		config.WindowSize = 100
	}
	if config.BlockThreshold <= 0 || config.BlockThreshold >= 1 {
		config.BlockThreshold = 0.3
	}
	if config.CooldownBase <= 0 {
		config.CooldownBase = 5 * time.Minute
	}
	if config.CooldownMax < config.CooldownBase {
		config.CooldownMax = time.Hour
	}
	if config.ConsecutiveHits <= 0 {
		config.ConsecutiveHits = 3
	}
	if config.StickyTTL <= 0 {
		config.StickyTTL = 10 * time.Minute
	}
	return &HealthTracker{
		config:  config,
		proxies: make(map[string]*proxyHealth),
		sticky:  make(map[string]*stickyEntry),
	}
}

// Initialize registers a proxy with a zeroed window. Re-initializing an
// existing proxy resets its state.
func (t *HealthTracker) Initialize(proxyID, poolID string, tier Tier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.proxies[proxyID] = &proxyHealth{
		proxyID:        proxyID,
		poolID:         poolID,
		tier:           tier,
		blockedDomains: make(map[string]struct{}),
		consecByDomain: make(map[string]int),
	}
}

// Remove drops a proxy from tracking.
func (t *HealthTracker) Remove(proxyID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.proxies, proxyID)
}

func (t *HealthTracker) get(proxyID string) *proxyHealth {
	h, ok := t.proxies[proxyID]
	if !ok {
		h = &proxyHealth{
			proxyID:        proxyID,
			blockedDomains: make(map[string]struct{}),
			consecByDomain: make(map[string]int),
		}
		t.proxies[proxyID] = h
	}
	return h
}

// RecordSuccess records a successful use of the proxy against a domain.
func (t *HealthTracker) RecordSuccess(proxyID, domain string, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.get(proxyID)
	h.record(outcome{success: true, latency: latency}, t.config.WindowSize)
	h.totalSuccesses++
	h.consecAnyDomain = 0
	delete(h.consecByDomain, domain)
}

// RecordFailure records a failed use of the proxy against a domain and
// applies the consecutive-block policy.
func (t *HealthTracker) RecordFailure(proxyID, domain string, reason FailureReason) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.get(proxyID)
	h.record(outcome{success: false}, t.config.WindowSize)
	h.totalFailures++

	if reason != FailureBlocked && reason != FailureCaptcha {
		h.consecAnyDomain = 0
		delete(h.consecByDomain, domain)
		return
	}

	if h.consecByDomain[domain] == 0 {
		h.consecAnyDomain++
	}
	h.consecByDomain[domain]++

	if h.consecByDomain[domain] >= t.config.ConsecutiveHits {
		h.blockedDomains[domain] = struct{}{}
		delete(h.consecByDomain, domain)
	}
	if h.consecAnyDomain >= t.config.ConsecutiveHits {
		t.startCooldownLocked(h, string(reason))
		h.consecAnyDomain = 0
	}
}

// startCooldownLocked puts a proxy into cooldown, doubling the duration per
// cooldown seen within the growth window. Caller holds t.mu.
func (t *HealthTracker) startCooldownLocked(h *proxyHealth, reason string) {
	now := time.Now()

	// Cooldowns older than the cap window no longer escalate the multiplier.
	if !h.lastCooldownAt.IsZero() && now.Sub(h.lastCooldownAt) > t.config.CooldownMax {
		h.recentCooldown = 0
	}

	duration := t.config.CooldownBase
	for i := 0; i < h.recentCooldown; i++ {
		duration *= 2
		if duration >= t.config.CooldownMax {
			duration = t.config.CooldownMax
			break
		}
	}

	h.cooldownUntil = now.Add(duration)
	h.cooldownReason = reason
	h.recentCooldown++
	h.lastCooldownAt = now
}

// ForceCooldown puts a proxy into cooldown for the given number of minutes.
func (t *HealthTracker) ForceCooldown(proxyID, reason string, minutes int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.get(proxyID)
	h.cooldownUntil = time.Now().Add(time.Duration(minutes) * time.Minute)
	h.cooldownReason = reason
	h.recentCooldown++
	h.lastCooldownAt = time.Now()
}

// ClearCooldown lifts a proxy's cooldown immediately.
func (t *HealthTracker) ClearCooldown(proxyID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.get(proxyID)
	h.cooldownUntil = time.Time{}
	h.cooldownReason = ""
}

// IsHealthy reports whether the proxy's window success rate meets the
// threshold and it is not in cooldown.
func (t *HealthTracker) IsHealthy(proxyID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.proxies[proxyID]
	if !ok {
		return true // unknown proxies have no evidence against them
	}
	return h.successRate() >= 1.0-t.config.BlockThreshold && !time.Now().Before(h.cooldownUntil)
}

// IsHealthyForDomain additionally checks the proxy's per-domain block set.
func (t *HealthTracker) IsHealthyForDomain(proxyID, domain string) bool {
	t.mu.RLock()
	h, ok := t.proxies[proxyID]
	if ok {
		if _, blocked := h.blockedDomains[domain]; blocked {
			t.mu.RUnlock()
			return false
		}
	}
	t.mu.RUnlock()
	return t.IsHealthy(proxyID)
}

// IsBlockedForDomain reports whether the domain is in the proxy's block set.
func (t *HealthTracker) IsBlockedForDomain(proxyID, domain string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.proxies[proxyID]
	if !ok {
		return false
	}
	_, blocked := h.blockedDomains[domain]
	return blocked
}

// SuccessRate returns the proxy's window success rate (1.0 when unknown).
func (t *HealthTracker) SuccessRate(proxyID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.proxies[proxyID]
	if !ok {
		return 1.0
	}
	return h.successRate()
}

// Snapshot returns an exported view of one proxy's state.
func (t *HealthTracker) Snapshot(proxyID string) (HealthSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.proxies[proxyID]
	if !ok {
		return HealthSnapshot{}, false
	}

	blocked := make([]string, 0, len(h.blockedDomains))
	for d := range h.blockedDomains {
		blocked = append(blocked, d)
	}

	return HealthSnapshot{
		ProxyID:        h.proxyID,
		PoolID:         h.poolID,
		Tier:           h.tier.String(),
		SuccessRate:    h.successRate(),
		AvgLatency:     h.avgLatency(),
		WindowSize:     len(h.window),
		InCooldown:     time.Now().Before(h.cooldownUntil),
		CooldownUntil:  h.cooldownUntil,
		CooldownReason: h.cooldownReason,
		BlockedDomains: blocked,
		TotalSuccesses: h.totalSuccesses,
		TotalFailures:  h.totalFailures,
	}, true
}

// SetStickyProxy pins a session to a proxy for the sticky TTL.
func (t *HealthTracker) SetStickyProxy(sessionID, proxyID string) {
	if sessionID == "" {
		return
	}
	t.stickyMu.Lock()
	defer t.stickyMu.Unlock()
	t.sticky[sessionID] = &stickyEntry{
		proxyID:   proxyID,
		expiresAt: time.Now().Add(t.config.StickyTTL),
	}
}

// GetStickyProxy resolves a session to its pinned proxy, if the pin is alive.
func (t *HealthTracker) GetStickyProxy(sessionID string) (string, bool) {
	if sessionID == "" {
		return "", false
	}
	t.stickyMu.Lock()
	defer t.stickyMu.Unlock()

	entry, ok := t.sticky[sessionID]
	if !ok {
		return "", false
	}
	if time.Now().After(entry.expiresAt) {
		delete(t.sticky, sessionID)
		return "", false
	}
	return entry.proxyID, true
}

// ClearSticky drops a session pin.
func (t *HealthTracker) ClearSticky(sessionID string) {
	t.stickyMu.Lock()
	defer t.stickyMu.Unlock()
	delete(t.sticky, sessionID)
}
