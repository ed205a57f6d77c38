// internal/fetch/core.go

package fetch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/valpere/FetchPilot/internal/cache"
	"github.com/valpere/FetchPilot/internal/handlers"
	"github.com/valpere/FetchPilot/internal/knowledge"
	"github.com/valpere/FetchPilot/internal/perf"
	"github.com/valpere/FetchPilot/internal/proxy"
	"github.com/valpere/FetchPilot/internal/strategy"
	"github.com/valpere/FetchPilot/internal/utils"
)

// Persisted store filenames under the data directory.
const (
	knowledgeFile  = "knowledge-base.json"
	paginationFile = "pagination-patterns.json"
	handlersFile   = "handlers.json"
)

// CoreConfig aggregates every component's configuration.
type CoreConfig struct {
	// DataDir holds the JSON snapshot stores; empty disables persistence.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// SnapshotInterval drives the periodic persistence loop; zero disables it.
	SnapshotInterval time.Duration `yaml:"snapshot_interval" json:"snapshot_interval"`

	// EnableBrowser registers the browser tier backed by headless Chrome.
	EnableBrowser bool `yaml:"enable_browser" json:"enable_browser"`
	Headless      bool `yaml:"headless" json:"headless"`

	Fetcher    *Config                          `yaml:"fetcher" json:"fetcher"`
	Cache      *cache.Config                    `yaml:"cache" json:"cache"`
	Health     *proxy.HealthConfig              `yaml:"proxy_health" json:"proxy_health"`
	Risk       *proxy.RiskConfig                `yaml:"risk" json:"risk"`
	Registry   *handlers.Config                 `yaml:"handlers" json:"handlers"`
	PerfWindow int                              `yaml:"perf_window" json:"perf_window"`
	Pools      []proxy.PoolConfig               `yaml:"proxy_pools" json:"proxy_pools"`
	Presets    []knowledge.PaginationApiPattern `yaml:"pagination_presets" json:"pagination_presets"`
}

// DefaultCoreConfig returns a core configuration with every default filled.
func DefaultCoreConfig() *CoreConfig {
	return &CoreConfig{
		SnapshotInterval: 5 * time.Minute,
		Headless:         true,
		Fetcher:          DefaultConfig(),
		Cache:            cache.DefaultConfig(),
		Health:           proxy.DefaultHealthConfig(),
		Risk:             proxy.DefaultRiskConfig(),
		Registry:         handlers.DefaultConfig(),
		PerfWindow:       perf.DefaultWindowSize,
	}
}

// Core owns every engine component. Tests build a fresh Core per case
// instead of sharing process globals.
type Core struct {
	Proxies    *proxy.Manager
	Cache      *cache.AdaptiveCache
	Knowledge  *knowledge.Base
	Pagination *knowledge.Discovery
	Registry   *handlers.Registry
	Perf       *perf.Tracker
	Fetcher    *Fetcher

	logger utils.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCore wires the engine from configuration, loading persisted stores and
// registering the fetch strategies in tier order.
func NewCore(cfg *CoreConfig, logger utils.Logger) (*Core, error) {
	if cfg == nil {
		cfg = DefaultCoreConfig()
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	var kbPath, pagPath, handlersPath string
	if cfg.DataDir != "" {
		kbPath = filepath.Join(cfg.DataDir, knowledgeFile)
		pagPath = filepath.Join(cfg.DataDir, paginationFile)
		handlersPath = filepath.Join(cfg.DataDir, handlersFile)
	}

	health := proxy.NewHealthTracker(cfg.Health)
	classifier := proxy.NewRiskClassifier(cfg.Risk)
	manager := proxy.NewManager(health, classifier, logger)
	for _, pool := range cfg.Pools {
		if err := manager.AddPool(pool); err != nil {
			return nil, err
		}
	}

	core := &Core{
		Proxies:    manager,
		Cache:      cache.New(cfg.Cache, logger),
		Knowledge:  knowledge.NewBase(kbPath, logger),
		Pagination: knowledge.NewDiscovery(pagPath, logger),
		Registry:   handlers.NewRegistry(cfg.Registry, handlersPath, logger),
		Perf:       perf.NewTracker(cfg.PerfWindow),
		logger:     logger,
		stopCh:     make(chan struct{}),
	}

	// Persisted learning carries across restarts; a corrupt store logs and
	// starts fresh rather than blocking startup.
	if err := core.Knowledge.Load(); err != nil {
		logger.Warnf("knowledge base load failed: %v", err)
	}
	if err := core.Pagination.Load(); err != nil {
		logger.Warnf("pagination pattern load failed: %v", err)
	}
	if err := core.Registry.Load(); err != nil {
		logger.Warnf("handler registry load failed: %v", err)
	}

	for i := range cfg.Presets {
		preset := cfg.Presets[i]
		core.Pagination.AddPreset(&preset)
	}

	core.Fetcher = NewFetcher(cfg.Fetcher, manager, NewPreferenceStore(0),
		core.Cache, core.Knowledge, core.Pagination, core.Registry, core.Perf, logger)

	uaPool := strategy.NewUserAgentPool(nil)
	core.Fetcher.Register(TierIntelligence, strategy.NewIntelligenceStrategy(uaPool, logger))
	core.Fetcher.Register(TierLightweight, strategy.NewLightweightStrategy(uaPool, logger))
	if cfg.EnableBrowser {
		driver := strategy.NewChromedpDriver(cfg.Headless, logger)
		core.Fetcher.Register(TierBrowser, strategy.NewBrowserStrategy(driver, logger))
	}

	if cfg.SnapshotInterval > 0 && cfg.DataDir != "" {
		core.wg.Add(1)
		go core.snapshotLoop(cfg.SnapshotInterval)
	}

	return core, nil
}

// Fetch runs one fetch through the tiered pipeline.
func (c *Core) Fetch(ctx context.Context, req Request) (*Result, error) {
	return c.Fetcher.Fetch(ctx, req)
}

// RegisterBrowserDriver installs a custom browser driver as the top tier.
func (c *Core) RegisterBrowserDriver(driver strategy.Driver) {
	c.Fetcher.Register(TierBrowser, strategy.NewBrowserStrategy(driver, c.logger))
}

// snapshotLoop periodically persists the learned stores.
func (c *Core) snapshotLoop(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Snapshot()
		case <-c.stopCh:
			return
		}
	}
}

// Snapshot persists every learned store, retrying each write once. Failures
// are logged and the engine continues in memory.
func (c *Core) Snapshot() {
	saveWithRetry := func(name string, save func() error) {
		err := save()
		if err != nil {
			err = save()
		}
		if err != nil {
			c.logger.Errorf("snapshot of %s failed: %v", name, err)
		}
	}
	saveWithRetry("knowledge base", c.Knowledge.Save)
	saveWithRetry("pagination patterns", c.Pagination.Save)
	saveWithRetry("handler registry", c.Registry.Save)
}

// Cleanup evicts expired cache entries.
func (c *Core) Cleanup() int {
	return c.Cache.Cleanup()
}

// Close stops background work and takes a final snapshot.
func (c *Core) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	c.Snapshot()
}

// Stats is the aggregated view served by the status endpoint.
type Stats struct {
	Cache       cache.Stats       `json:"cache"`
	Pools       []proxy.PoolStats `json:"proxy_pools"`
	System      perf.Percentiles  `json:"system_latency"`
	FastDomains []perf.DomainRank `json:"fastest_domains"`
	SlowDomains []perf.DomainRank `json:"slowest_domains"`
	Knowledge   []string          `json:"knowledge_domains"`
}

// GetStats returns a point-in-time aggregate of component statistics.
func (c *Core) GetStats() Stats {
	return Stats{
		Cache:       c.Cache.GetStats(),
		Pools:       c.Proxies.GetStats(),
		System:      c.Perf.SystemStats(),
		FastDomains: c.Perf.FastestDomains(5),
		SlowDomains: c.Perf.SlowestDomains(5),
		Knowledge:   c.Knowledge.Domains(),
	}
}
