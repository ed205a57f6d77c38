// Package cache implements the adaptive response cache: a fixed-capacity LRU
// whose entry TTLs scale with the domain category, the caller's freshness
// requirement, and any explicit Cache-Control directives on the response.
package cache

import (
	"container/list"
	"hash/fnv"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valpere/FetchPilot/internal/utils"
)

// Freshness expresses how fresh a caller needs the content to be.
type Freshness string

const (
	FreshnessRealtime Freshness = "realtime"
	FreshnessCached   Freshness = "cached"
	FreshnessAny      Freshness = "any"
)

// Default TTL bounds. All are overridable through Config.
const (
	DefaultBaseTTL  = 15 * time.Minute
	DefaultMinTTL   = 30 * time.Second
	DefaultMaxTTL   = 24 * time.Hour
	DefaultCapacity = 10000
	defaultShards   = 16
)

// Config configures the adaptive cache.
type Config struct {
	Capacity int           `yaml:"capacity" json:"capacity"`
	BaseTTL  time.Duration `yaml:"base_ttl" json:"base_ttl"`
	MinTTL   time.Duration `yaml:"min_ttl" json:"min_ttl"`
	MaxTTL   time.Duration `yaml:"max_ttl" json:"max_ttl"`
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() *Config {
	return &Config{
		Capacity: DefaultCapacity,
		BaseTTL:  DefaultBaseTTL,
		MinTTL:   DefaultMinTTL,
		MaxTTL:   DefaultMaxTTL,
	}
}

// Entry is a cached value plus the TTL bookkeeping that produced it.
type Entry struct {
	Key              string         `json:"key"`
	Value            interface{}    `json:"-"`
	ExpiresAt        time.Time      `json:"expires_at"`
	StoredTTL        time.Duration  `json:"stored_ttl"`
	Category         DomainCategory `json:"domain_category"`
	Multiplier       float64        `json:"ttl_multiplier"`
	ContentHash      string         `json:"content_hash,omitempty"`
	RespectedHeaders bool           `json:"respected_headers"`
}

// SetOptions carries the inputs to TTL computation for one Set call.
type SetOptions struct {
	Freshness    Freshness
	CacheControl string            // raw Cache-Control header value, if any
	Params       map[string]string // request params folded into the key
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Size      int   `json:"size"`
	Capacity  int   `json:"capacity"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Expired   int64 `json:"expired"`
}

type cacheShard struct {
	mu       sync.Mutex
	order    *list.List // front = most recently used
	items    map[string]*list.Element
	capacity int
}

type changeStat struct {
	checks  int64
	changes int64
}

// AdaptiveCache is a sharded LRU keyed by URL (plus sorted params). Expired
// entries are invisible to Get but remain until Cleanup or LRU eviction.
type AdaptiveCache struct {
	config *Config
	shards []*cacheShard

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	expired   atomic.Int64

	changeMu sync.Mutex
	changes  map[string]*changeStat

	logger utils.Logger
}

// New creates an adaptive cache with the given configuration.
func New(config *Config, logger utils.Logger) *AdaptiveCache {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	if config.BaseTTL <= 0 {
		config.BaseTTL = DefaultBaseTTL
	}
	if config.MinTTL <= 0 {
		config.MinTTL = DefaultMinTTL
	}
	if config.MaxTTL < config.MinTTL {
		config.MaxTTL = DefaultMaxTTL
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	shardCount := defaultShards
	if config.Capacity < shardCount {
		shardCount = 1
	}
	perShard := config.Capacity / shardCount
	if perShard < 1 {
		perShard = 1
	}

	shards := make([]*cacheShard, shardCount)
	for i := range shards {
		shards[i] = &cacheShard{
			order:    list.New(),
			items:    make(map[string]*list.Element),
			capacity: perShard,
		}
	}

	return &AdaptiveCache{
		config:  config,
		shards:  shards,
		changes: make(map[string]*changeStat),
		logger:  logger,
	}
}

// CacheKey builds the canonical key for a URL and optional request params.
// Params are appended sorted by name so equivalent requests collide.
func CacheKey(rawURL string, params map[string]string) string {
	if len(params) == 0 {
		return rawURL
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(rawURL)
	b.WriteString("|")
	for i, name := range names {
		if i > 0 {
			b.WriteString("&")
		}
		b.WriteString(name)
		b.WriteString("=")
		b.WriteString(params[name])
	}
	return b.String()
}

func (c *AdaptiveCache) shardFor(key string) *cacheShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[int(h.Sum32())%len(c.shards)]
}

// Get returns the cached value for the key. Expired entries are never
// returned; they count as misses and stay behind for the eviction loop.
func (c *AdaptiveCache) Get(rawURL string, params map[string]string) (interface{}, bool) {
	key := CacheKey(rawURL, params)
	shard := c.shardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	elem, ok := shard.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	entry := elem.Value.(*Entry)
	if time.Now().After(entry.ExpiresAt) {
		c.misses.Add(1)
		return nil, false
	}
	shard.order.MoveToFront(elem)
	c.hits.Add(1)
	return entry.Value, true
}

// GetEntry returns the full entry (TTL metadata included) for inspection.
func (c *AdaptiveCache) GetEntry(rawURL string, params map[string]string) (*Entry, bool) {
	key := CacheKey(rawURL, params)
	shard := c.shardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	elem, ok := shard.items[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*Entry)
	if time.Now().After(entry.ExpiresAt) {
		return nil, false
	}
	copied := *entry
	return &copied, true
}

// Set stores a value under the URL key with an adaptively computed TTL.
func (c *AdaptiveCache) Set(rawURL string, value interface{}, opts SetOptions) *Entry {
	return c.setInternal(rawURL, value, "", opts)
}

// SetContent stores page content and records its hash for change detection.
func (c *AdaptiveCache) SetContent(rawURL string, html string, opts SetOptions) *Entry {
	return c.setInternal(rawURL, html, utils.ContentHash([]byte(html)), opts)
}

// SetValueWithContent stores an arbitrary value while recording the page
// hash that produced it, so change detection keeps working.
func (c *AdaptiveCache) SetValueWithContent(rawURL string, value interface{}, html string, opts SetOptions) *Entry {
	return c.setInternal(rawURL, value, utils.ContentHash([]byte(html)), opts)
}

func (c *AdaptiveCache) setInternal(rawURL string, value interface{}, contentHash string, opts SetOptions) *Entry {
	key := CacheKey(rawURL, opts.Params)
	ttl, category, multiplier, respected := c.ComputeTTL(rawURL, opts)

	entry := &Entry{
		Key:              key,
		Value:            value,
		ExpiresAt:        time.Now().Add(ttl),
		StoredTTL:        ttl,
		Category:         category,
		Multiplier:       multiplier,
		ContentHash:      contentHash,
		RespectedHeaders: respected,
	}

	shard := c.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if elem, ok := shard.items[key]; ok {
		elem.Value = entry
		shard.order.MoveToFront(elem)
		return entry
	}

	shard.items[key] = shard.order.PushFront(entry)
	for shard.order.Len() > shard.capacity {
		oldest := shard.order.Back()
		if oldest == nil {
			break
		}
		evicted := oldest.Value.(*Entry)
		shard.order.Remove(oldest)
		delete(shard.items, evicted.Key)
		c.evictions.Add(1)
	}
	return entry
}

// ComputeTTL derives the entry TTL from domain category, freshness hint, and
// Cache-Control. Realtime callers always get the minimum TTL; explicit
// Cache-Control otherwise overrides the domain multiplier.
func (c *AdaptiveCache) ComputeTTL(rawURL string, opts SetOptions) (time.Duration, DomainCategory, float64, bool) {
	host := utils.Hostname(rawURL)
	category := CategorizeDomain(host)
	multiplier := TTLMultiplier(category)

	if opts.Freshness == FreshnessRealtime {
		return c.config.MinTTL, category, multiplier, false
	}

	if opts.CacheControl != "" {
		cc := ParseCacheControl(opts.CacheControl)
		if cc.NoStore() {
			return c.config.MinTTL, category, multiplier, true
		}
		if secs, ok := cc.MaxAgeSeconds(); ok {
			ttl := utils.ClampDuration(time.Duration(secs)*time.Second, c.config.MinTTL, c.config.MaxTTL)
			return ttl, category, multiplier, true
		}
	}

	ttl := time.Duration(float64(c.config.BaseTTL) * multiplier)
	if opts.Freshness == FreshnessCached {
		ttl *= 2
	}
	ttl = utils.ClampDuration(ttl, c.config.MinTTL, c.config.MaxTTL)
	return ttl, category, multiplier, false
}

// HasContentChanged reports whether new content differs from the stored hash.
// Absent entries count as changed. Every call feeds the volatility tracker.
func (c *AdaptiveCache) HasContentChanged(rawURL string, newHTML string) bool {
	key := CacheKey(rawURL, nil)
	shard := c.shardFor(key)

	shard.mu.Lock()
	var oldHash string
	if elem, ok := shard.items[key]; ok {
		oldHash = elem.Value.(*Entry).ContentHash
	}
	shard.mu.Unlock()

	changed := oldHash == "" || oldHash != utils.ContentHash([]byte(newHTML))
	c.recordChangeCheck(key, changed)
	return changed
}

func (c *AdaptiveCache) recordChangeCheck(key string, changed bool) {
	c.changeMu.Lock()
	defer c.changeMu.Unlock()

	stat, ok := c.changes[key]
	if !ok {
		if len(c.changes) >= c.config.Capacity {
			return
		}
		stat = &changeStat{}
		c.changes[key] = stat
	}
	stat.checks++
	if changed {
		stat.changes++
	}
}

// ChangeRate returns the observed change rate for a URL in [0,1], or 0 when
// the URL has never been checked.
func (c *AdaptiveCache) ChangeRate(rawURL string) float64 {
	key := CacheKey(rawURL, nil)
	c.changeMu.Lock()
	defer c.changeMu.Unlock()

	stat, ok := c.changes[key]
	if !ok || stat.checks == 0 {
		return 0
	}
	return float64(stat.changes) / float64(stat.checks)
}

// Cleanup removes all expired entries and returns how many were dropped.
func (c *AdaptiveCache) Cleanup() int {
	now := time.Now()
	removed := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		for elem := shard.order.Back(); elem != nil; {
			prev := elem.Prev()
			entry := elem.Value.(*Entry)
			if now.After(entry.ExpiresAt) {
				shard.order.Remove(elem)
				delete(shard.items, entry.Key)
				removed++
			}
			elem = prev
		}
		shard.mu.Unlock()
	}
	if removed > 0 {
		c.expired.Add(int64(removed))
	}
	return removed
}

// ClearDomain removes entries whose hostname equals the domain or is one of
// its subdomains. Returns the number of removed entries.
func (c *AdaptiveCache) ClearDomain(domain string) int {
	removed := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		for elem := shard.order.Back(); elem != nil; {
			prev := elem.Prev()
			entry := elem.Value.(*Entry)
			host := hostOfKey(entry.Key)
			if host != "" && utils.IsSubdomainOf(host, domain) {
				shard.order.Remove(elem)
				delete(shard.items, entry.Key)
				removed++
			}
			elem = prev
		}
		shard.mu.Unlock()
	}
	return removed
}

// Len returns the number of entries currently held, expired ones included.
func (c *AdaptiveCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		total += shard.order.Len()
		shard.mu.Unlock()
	}
	return total
}

// GetStats returns a snapshot of cache counters.
func (c *AdaptiveCache) GetStats() Stats {
	return Stats{
		Size:      c.Len(),
		Capacity:  c.config.Capacity,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
	}
}

// hostOfKey recovers the hostname from a cache key (URL, optionally followed
// by the "|" params suffix).
func hostOfKey(key string) string {
	if i := strings.IndexByte(key, '|'); i >= 0 {
		key = key[:i]
	}
	u, err := url.Parse(key)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
