// internal/knowledge/store.go

package knowledge

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/valpere/FetchPilot/internal/utils"
)

// storeVersion is the on-disk format version of knowledge-base.json.
const storeVersion = 1

// Success-rate adaptation: additive increase, multiplicative decrease.
const (
	rateIncrease   = 0.05
	rateDecrease   = 0.7
	demotionCutoff = 0.6
	initialRate    = 1.0
)

// DomainKnowledge aggregates everything learned about one domain's APIs.
type DomainKnowledge struct {
	Patterns    []*LearnedApiPattern `json:"patterns"`
	UsageCount  int64                `json:"usageCount"`
	SuccessRate float64              `json:"successRate"`
	LastUsed    time.Time            `json:"lastUsed"`
}

// Base is the persistent store of learned API patterns keyed by domain.
type Base struct {
	mu      sync.RWMutex
	domains map[string]*DomainKnowledge
	path    string // snapshot file; empty disables persistence
	logger  utils.Logger
}

// NewBase creates a knowledge base. A non-empty path enables Load/Save.
func NewBase(path string, logger utils.Logger) *Base {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Base{
		domains: make(map[string]*DomainKnowledge),
		path:    path,
		logger:  logger,
	}
}

// Learn merges new patterns into the domain's knowledge. Patterns collide on
// (endpoint template, method); the colliding pattern with higher confidence
// wins, with evidence counters carried over.
func (b *Base) Learn(domain string, patterns []*LearnedApiPattern) {
	if len(patterns) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	dk, ok := b.domains[domain]
	if !ok {
		dk = &DomainKnowledge{SuccessRate: initialRate}
		b.domains[domain] = dk
	}

	now := time.Now()
	for _, incoming := range patterns {
		if incoming.EndpointTemplate == "" {
			continue
		}
		if incoming.Method == "" {
			incoming.Method = "GET"
		}
		if incoming.Confidence == "" {
			incoming.Confidence = ConfidenceLow
		}
		if err := incoming.Mapping.Compile(); err != nil {
			b.logger.Warnf("skipping pattern with bad content mapping for %s: %v", domain, err)
			continue
		}

		replaced := false
		for i, existing := range dk.Patterns {
			if existing.key() != incoming.key() {
				continue
			}
			if confidenceRank(incoming.Confidence) > confidenceRank(existing.Confidence) {
				incoming.Successes += existing.Successes
				incoming.Failures += existing.Failures
				incoming.CreatedAt = existing.CreatedAt
				incoming.UpdatedAt = now
				incoming.DomainsSeen = mergeDomains(existing.DomainsSeen, incoming.DomainsSeen)
				dk.Patterns[i] = incoming
			} else {
				existing.UpdatedAt = now
				existing.DomainsSeen = mergeDomains(existing.DomainsSeen, incoming.DomainsSeen)
			}
			replaced = true
			break
		}
		if !replaced {
			if incoming.CreatedAt.IsZero() {
				incoming.CreatedAt = now
			}
			incoming.UpdatedAt = now
			dk.Patterns = append(dk.Patterns, incoming)
		}
	}
}

func mergeDomains(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, d := range list {
			if _, ok := seen[d]; !ok {
				seen[d] = struct{}{}
				out = append(out, d)
			}
		}
	}
	return out
}

// GetBypassablePatterns returns patterns trusted enough for a direct API call:
// high confidence and explicitly bypassable.
func (b *Base) GetBypassablePatterns(domain string) []*LearnedApiPattern {
	b.mu.RLock()
	defer b.mu.RUnlock()

	dk, ok := b.domains[domain]
	if !ok {
		return nil
	}
	var out []*LearnedApiPattern
	for _, p := range dk.Patterns {
		if p.Confidence == ConfidenceHigh && p.CanBypass {
			out = append(out, p)
		}
	}
	return out
}

// FindPattern resolves a URL to a learned pattern: exact path match first,
// then the longest matching endpoint-template prefix. A template is compared
// only up to its first {placeholder}, so "/api/articles/{id}" covers
// "/api/articles/7".
func (b *Base) FindPattern(rawURL string) *LearnedApiPattern {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	domain := strings.ToLower(u.Hostname())

	b.mu.RLock()
	defer b.mu.RUnlock()

	dk, ok := b.domains[domain]
	if !ok {
		return nil
	}

	path := u.EscapedPath()
	var best *LearnedApiPattern
	bestLen := -1
	for _, p := range dk.Patterns {
		tmplPath := templatePath(p.EndpointTemplate)
		if tmplPath == "" {
			continue
		}
		if tmplPath == path {
			return p
		}
		prefix := tmplPath
		for _, open := range []string{"{", "%7B"} {
			if i := strings.Index(prefix, open); i >= 0 {
				prefix = prefix[:i]
			}
		}
		if strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")) && len(tmplPath) > bestLen {
			best, bestLen = p, len(tmplPath)
		}
	}
	return best
}

// templatePath extracts the path component of an endpoint template, which may
// be a full URL or a bare path.
func templatePath(template string) string {
	if strings.HasPrefix(template, "http://") || strings.HasPrefix(template, "https://") {
		u, err := url.Parse(template)
		if err != nil {
			return ""
		}
		return u.EscapedPath()
	}
	return template
}

// UpdateSuccessRate feeds one direct-API outcome back into the pattern and
// the domain aggregate. Additive increase on success, multiplicative decrease
// on failure; high-confidence patterns demote to medium below the cutoff.
func (b *Base) UpdateSuccessRate(domain, endpoint string, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dk, ok := b.domains[domain]
	if !ok {
		return
	}
	dk.UsageCount++
	dk.LastUsed = time.Now()

	if success {
		dk.SuccessRate += rateIncrease
		if dk.SuccessRate > 1.0 {
			dk.SuccessRate = 1.0
		}
	} else {
		dk.SuccessRate *= rateDecrease
	}

	for _, p := range dk.Patterns {
		if p.EndpointTemplate != endpoint {
			continue
		}
		if success {
			p.Successes++
		} else {
			p.Failures++
		}
		p.UpdatedAt = time.Now()
		if p.Confidence == ConfidenceHigh && p.SuccessRate() < demotionCutoff {
			p.Confidence = ConfidenceMedium
		}
		return
	}
}

// Domains returns the known domain names.
func (b *Base) Domains() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.domains))
	for d := range b.domains {
		out = append(out, d)
	}
	return out
}

// Get returns a copy of a domain's knowledge for inspection.
func (b *Base) Get(domain string) (DomainKnowledge, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	dk, ok := b.domains[domain]
	if !ok {
		return DomainKnowledge{}, false
	}
	copied := *dk
	copied.Patterns = append([]*LearnedApiPattern(nil), dk.Patterns...)
	return copied, true
}

// storeFile is the on-disk shape of knowledge-base.json.
type storeFile struct {
	Version int                         `json:"version"`
	Domains map[string]*DomainKnowledge `json:"domains"`
}

// Save snapshots the store to its JSON file atomically.
func (b *Base) Save() error {
	if b.path == "" {
		return nil
	}

	b.mu.RLock()
	file := storeFile{Version: storeVersion, Domains: b.domains}
	data, err := json.MarshalIndent(&file, "", "  ")
	b.mu.RUnlock()
	if err != nil {
		return utils.WrapError(err, utils.ErrCodePersistenceIO, "failed to encode knowledge base")
	}

	if err := utils.WriteFileAtomic(b.path, data, 0o644); err != nil {
		return utils.WrapError(err, utils.ErrCodePersistenceIO, "failed to write knowledge base")
	}
	return nil
}

// Load replaces in-memory state from the JSON snapshot. A missing file is not
// an error.
func (b *Base) Load() error {
	if b.path == "" {
		return nil
	}

	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return utils.WrapError(err, utils.ErrCodePersistenceIO, "failed to read knowledge base")
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return utils.WrapError(err, utils.ErrCodePersistenceIO, "failed to decode knowledge base")
	}
	if file.Version != storeVersion {
		return utils.NewError(utils.ErrCodePersistenceIO,
			fmt.Sprintf("unsupported knowledge base version %d", file.Version))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.domains = file.Domains
	if b.domains == nil {
		b.domains = make(map[string]*DomainKnowledge)
	}
	for _, dk := range b.domains {
		for _, p := range dk.Patterns {
			if err := p.Mapping.Compile(); err != nil {
				b.logger.Warnf("pattern %s has bad content mapping: %v", p.EndpointTemplate, err)
			}
		}
	}
	return nil
}
