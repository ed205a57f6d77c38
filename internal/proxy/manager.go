// Package proxy implements the proxy layer: per-endpoint health tracking with
// cooldowns and sticky sessions, domain risk classification, and a tiered
// pool manager with pluggable rotation strategies.
package proxy

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valpere/FetchPilot/internal/utils"
)

// Selection error codes.
const (
	ErrCodeNoProxyConfigured = "NO_PROXY_CONFIGURED"
	ErrCodeProxyExhausted    = "PROXY_EXHAUSTED"
)

// Machine-readable recommendations attached to selection errors.
const (
	RecommendUpgradePlan = "upgrade_plan"
	RecommendRetryAfter  = "retry_after_ms"
)

// SelectionError reports why no proxy could be selected.
type SelectionError struct {
	Code           string        `json:"code"`
	Message        string        `json:"message"`
	AttemptedTiers []string      `json:"attempted_tiers"`
	Recommendation string        `json:"recommendation,omitempty"`
	RetryAfter     time.Duration `json:"retry_after,omitempty"`
}

// Error implements the error interface.
func (e *SelectionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// pool is the runtime state for one registered pool.
type pool struct {
	id        string
	name      string
	tier      Tier
	rotation  RotationStrategy
	enabled   bool
	endpoints []*Endpoint

	rrCounter atomic.Uint64
	usage     map[string]*atomic.Int64 // endpoint id -> usage count
}

// Manager owns the pool registry and picks endpoints for requests. Pool
// mutation takes the write lock; selection takes the read lock, with rotation
// and usage counters updated atomically.
type Manager struct {
	mu    sync.RWMutex
	pools []*pool // registration order

	health     *HealthTracker
	classifier *RiskClassifier
	logger     utils.Logger
}

// NewManager creates a manager wired to a health tracker and risk classifier.
func NewManager(health *HealthTracker, classifier *RiskClassifier, logger utils.Logger) *Manager {
	if health == nil {
		health = NewHealthTracker(nil)
	}
	if classifier == nil {
		classifier = NewRiskClassifier(nil)
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Manager{
		health:     health,
		classifier: classifier,
		logger:     logger,
	}
}

// Health exposes the tracker for outcome recording by the fetcher.
func (m *Manager) Health() *HealthTracker { return m.health }

// Classifier exposes the risk classifier.
func (m *Manager) Classifier() *RiskClassifier { return m.classifier }

// AddPool registers a pool. Endpoint URLs are validated up front and each
// endpoint is initialized in the health tracker.
func (m *Manager) AddPool(cfg PoolConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("pool id is required")
	}
	tier, err := ParseTier(cfg.Tier)
	if err != nil {
		return err
	}
	if len(cfg.Endpoints) == 0 {
		return fmt.Errorf("pool %s has no endpoints", cfg.ID)
	}

	rotation := cfg.Rotation
	switch rotation {
	case RotationRoundRobin, RotationRandom, RotationLeastUsed, RotationHealthiest:
	case "":
		rotation = RotationRoundRobin
	default:
		return fmt.Errorf("pool %s: unknown rotation strategy %q", cfg.ID, rotation)
	}

	p := &pool{
		id:       cfg.ID,
		name:     cfg.Name,
		tier:     tier,
		rotation: rotation,
		enabled:  cfg.Enabled == nil || *cfg.Enabled,
		usage:    make(map[string]*atomic.Int64),
	}

	for i := range cfg.Endpoints {
		ep := cfg.Endpoints[i]
		if ep.ID == "" {
			ep.ID = fmt.Sprintf("%s-%d", cfg.ID, i)
		}
		ep.PoolID = cfg.ID
		if _, err := ep.ParseURL(); err != nil {
			return err
		}
		p.endpoints = append(p.endpoints, &ep)
		p.usage[ep.ID] = &atomic.Int64{}
		m.health.Initialize(ep.ID, cfg.ID, tier)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.pools {
		if existing.id == cfg.ID {
			return fmt.Errorf("pool %s already registered", cfg.ID)
		}
	}
	m.pools = append(m.pools, p)
	m.logger.Infof("registered proxy pool %s (%s, %d endpoints, %s rotation)",
		cfg.ID, tier, len(p.endpoints), rotation)
	return nil
}

// RemovePool unregisters a pool and drops its endpoints from health tracking.
func (m *Manager) RemovePool(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, p := range m.pools {
		if p.id == id {
			for _, ep := range p.endpoints {
				m.health.Remove(ep.ID)
			}
			m.pools = append(m.pools[:i], m.pools[i+1:]...)
			return true
		}
	}
	return false
}

// SetPoolEnabled flips a pool's enabled flag.
func (m *Manager) SetPoolEnabled(id string, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.pools {
		if p.id == id {
			p.enabled = enabled
			return true
		}
	}
	return false
}

// HasPools reports whether any enabled pool with endpoints exists.
func (m *Manager) HasPools() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.pools {
		if p.enabled && len(p.endpoints) > 0 {
			return true
		}
	}
	return false
}

// Select picks a proxy for the request: sticky session first, then the target
// tier (hint or classifier recommendation, clipped to the plan), escalating
// tier by tier until an endpoint healthy for the domain is found.
func (m *Manager) Select(req Request) (*Selection, *SelectionError) {
	maxTier := req.Plan.MaxTier()

	// Sticky sessions short-circuit tier logic while the pin stays healthy.
	if req.SessionID != "" {
		if proxyID, ok := m.health.GetStickyProxy(req.SessionID); ok {
			if sel := m.findEndpoint(proxyID); sel != nil && m.health.IsHealthyForDomain(proxyID, req.Domain) {
				sel.Reason = ReasonStickySession
				m.recordUse(sel)
				m.health.SetStickyProxy(req.SessionID, proxyID)
				return sel, nil
			}
			m.health.ClearSticky(req.SessionID)
		}
	}

	target := m.classifier.Classify(req.Domain).RecommendedTier
	if req.TierHint != nil {
		target = *req.TierHint
	}
	if target > maxTier {
		target = maxTier
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	attempted := make([]string, 0, 3)
	sawPool := false
	for tier := target; tier <= maxTier; tier++ {
		attempted = append(attempted, tier.String())
		for _, p := range m.pools {
			if !p.enabled || p.tier != tier {
				continue
			}
			sawPool = true
			if ep := m.pickFromPool(p, req); ep != nil {
				reason := ReasonOptimalTier
				if tier != target {
					reason = EscalatedFrom(target)
				}
				sel := &Selection{Endpoint: ep, Tier: tier, PoolID: p.id, Reason: reason}
				if counter, ok := p.usage[ep.ID]; ok {
					counter.Add(1)
				}
				if req.SessionID != "" {
					m.health.SetStickyProxy(req.SessionID, ep.ID)
				}
				return sel, nil
			}
		}
	}

	if !sawPool {
		return nil, &SelectionError{
			Code:           ErrCodeNoProxyConfigured,
			Message:        fmt.Sprintf("no proxy pool configured for tiers %v", attempted),
			AttemptedTiers: attempted,
			Recommendation: m.upgradeRecommendation(maxTier),
		}
	}

	return nil, &SelectionError{
		Code:           ErrCodeProxyExhausted,
		Message:        fmt.Sprintf("all proxies blocked or cooling down for %s", req.Domain),
		AttemptedTiers: attempted,
		Recommendation: m.upgradeRecommendation(maxTier),
		RetryAfter:     m.health.config.CooldownBase,
	}
}

// upgradeRecommendation suggests a plan upgrade when tiers exist beyond the
// plan ceiling, otherwise a retry. Caller holds at least the read lock.
func (m *Manager) upgradeRecommendation(maxTier Tier) string {
	for _, p := range m.pools {
		if p.enabled && p.tier > maxTier {
			return RecommendUpgradePlan
		}
	}
	return RecommendRetryAfter
}

// SelectFallback retries selection after a proxy failure: same tier excluding
// the failing endpoint, then one tier up when the plan permits.
func (m *Manager) SelectFallback(failedProxyID, domain string, plan Plan) (*Selection, *SelectionError) {
	failed := m.findEndpoint(failedProxyID)
	if failed == nil {
		return m.Select(Request{Domain: domain, Plan: plan})
	}

	m.mu.RLock()
	sameTier := m.pickExcluding(failed.Tier, domain, failedProxyID)
	m.mu.RUnlock()
	if sameTier != nil {
		m.recordUse(sameTier)
		return sameTier, nil
	}

	next := failed.Tier + 1
	if next > plan.MaxTier() {
		m.mu.RLock()
		recommendation := m.upgradeRecommendation(plan.MaxTier())
		m.mu.RUnlock()
		return nil, &SelectionError{
			Code:           ErrCodeProxyExhausted,
			Message:        fmt.Sprintf("no fallback proxy available for %s", domain),
			AttemptedTiers: []string{failed.Tier.String()},
			Recommendation: recommendation,
			RetryAfter:     m.health.config.CooldownBase,
		}
	}
	hint := next
	return m.Select(Request{Domain: domain, Plan: plan, TierHint: &hint})
}

// pickExcluding picks a healthy endpoint at a tier, skipping one id. Caller
// holds the read lock.
func (m *Manager) pickExcluding(tier Tier, domain, excludeID string) *Selection {
	for _, p := range m.pools {
		if !p.enabled || p.tier != tier {
			continue
		}
		candidates := make([]*Endpoint, 0, len(p.endpoints))
		for _, ep := range p.endpoints {
			if ep.ID != excludeID && m.health.IsHealthyForDomain(ep.ID, domain) {
				candidates = append(candidates, ep)
			}
		}
		if ep := p.rotate(candidates, m.health); ep != nil {
			return &Selection{Endpoint: ep, Tier: tier, PoolID: p.id, Reason: ReasonOptimalTier}
		}
	}
	return nil
}

// pickFromPool filters a pool's endpoints by health and country, then applies
// the pool's rotation strategy. Caller holds the read lock.
func (m *Manager) pickFromPool(p *pool, req Request) *Endpoint {
	candidates := make([]*Endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		if req.Country != "" && ep.Country != "" && ep.Country != req.Country {
			continue
		}
		if m.health.IsHealthyForDomain(ep.ID, req.Domain) {
			candidates = append(candidates, ep)
		}
	}
	return p.rotate(candidates, m.health)
}

// rotate applies the pool's rotation strategy to the candidate list.
func (p *pool) rotate(candidates []*Endpoint, health *HealthTracker) *Endpoint {
	if len(candidates) == 0 {
		return nil
	}

	switch p.rotation {
	case RotationRandom:
		return candidates[rand.Intn(len(candidates))]

	case RotationLeastUsed:
		best := candidates[0]
		bestUsage := p.usageOf(best.ID)
		for _, ep := range candidates[1:] {
			if u := p.usageOf(ep.ID); u < bestUsage {
				best, bestUsage = ep, u
			}
		}
		return best

	case RotationHealthiest:
		best := candidates[0]
		bestRate := health.SuccessRate(best.ID)
		for _, ep := range candidates[1:] {
			if rate := health.SuccessRate(ep.ID); rate > bestRate {
				best, bestRate = ep, rate
			}
		}
		return best

	default: // round robin
		idx := p.rrCounter.Add(1) - 1
		return candidates[int(idx)%len(candidates)]
	}
}

func (p *pool) usageOf(endpointID string) int64 {
	if counter, ok := p.usage[endpointID]; ok {
		return counter.Load()
	}
	return 0
}

// recordUse bumps the usage counter for the chosen endpoint.
func (m *Manager) recordUse(sel *Selection) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.pools {
		if p.id == sel.PoolID {
			if counter, ok := p.usage[sel.Endpoint.ID]; ok {
				counter.Add(1)
			}
			return
		}
	}
}

// findEndpoint locates an endpoint by id across pools.
func (m *Manager) findEndpoint(proxyID string) *Selection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.pools {
		for _, ep := range p.endpoints {
			if ep.ID == proxyID {
				return &Selection{Endpoint: ep, Tier: p.tier, PoolID: p.id}
			}
		}
	}
	return nil
}

// PoolStats summarises one pool for monitoring.
type PoolStats struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Tier      string           `json:"tier"`
	Rotation  RotationStrategy `json:"rotation"`
	Enabled   bool             `json:"enabled"`
	Endpoints []HealthSnapshot `json:"endpoints"`
	Usage     map[string]int64 `json:"usage"`
}

// GetStats returns per-pool statistics including endpoint health snapshots.
func (m *Manager) GetStats() []PoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]PoolStats, 0, len(m.pools))
	for _, p := range m.pools {
		ps := PoolStats{
			ID:       p.id,
			Name:     p.name,
			Tier:     p.tier.String(),
			Rotation: p.rotation,
			Enabled:  p.enabled,
			Usage:    make(map[string]int64, len(p.endpoints)),
		}
		for _, ep := range p.endpoints {
			if snap, ok := m.health.Snapshot(ep.ID); ok {
				ps.Endpoints = append(ps.Endpoints, snap)
			}
			ps.Usage[ep.ID] = p.usageOf(ep.ID)
		}
		stats = append(stats, ps)
	}
	return stats
}
