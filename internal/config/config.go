// internal/config/config.go

// Package config loads engine configuration from YAML with environment
// variable overrides. Environment reads happen once, at load time.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/valpere/FetchPilot/internal/fetch"
	"github.com/valpere/FetchPilot/internal/knowledge"
	"github.com/valpere/FetchPilot/internal/proxy"
)

// Duration decodes YAML durations given as Go duration strings ("90s",
// "5m") or raw nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	return fmt.Errorf("invalid duration value")
}

// Std converts to time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the resolved engine configuration.
type Config struct {
	Name    string
	Version string

	Core *fetch.CoreConfig

	Monitoring MonitoringConfig
	Journal    JournalConfig
	Verbose    bool
}

// MonitoringConfig controls the health/metrics HTTP endpoint.
type MonitoringConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	ListenAddress string `yaml:"listen_address" json:"listen_address"`
}

// JournalConfig controls the optional SQLite outcome journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	MaxRows int    `yaml:"max_rows" json:"max_rows"`
}

// fileConfig is the YAML file shape. Durations are strings, optional
// numerics are pointers so zero values stay distinguishable from absent.
type fileConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Core struct {
		DataDir          string   `yaml:"data_dir"`
		SnapshotInterval Duration `yaml:"snapshot_interval"`
		EnableBrowser    bool     `yaml:"enable_browser"`
		Headless         *bool    `yaml:"headless"`

		Fetcher struct {
			MinContentLength       int      `yaml:"min_content_length"`
			GlobalTimeout          Duration `yaml:"global_timeout"`
			IntelligenceTimeout    Duration `yaml:"intelligence_timeout"`
			LightweightTimeout     Duration `yaml:"lightweight_timeout"`
			BrowserTimeout         Duration `yaml:"browser_timeout"`
			RequireProxy           bool     `yaml:"require_proxy"`
			DefaultRatePerSec      float64  `yaml:"default_rate_per_sec"`
			RateBurst              int      `yaml:"rate_burst"`
			BrowserRequiredDomains []string `yaml:"browser_required_domains"`
		} `yaml:"fetcher"`

		Cache struct {
			Capacity int      `yaml:"capacity"`
			BaseTTL  Duration `yaml:"base_ttl"`
			MinTTL   Duration `yaml:"min_ttl"`
			MaxTTL   Duration `yaml:"max_ttl"`
		} `yaml:"cache"`

		Health struct {
			WindowSize      int      `yaml:"window_size"`
			BlockThreshold  *float64 `yaml:"block_threshold"`
			CooldownBase    Duration `yaml:"cooldown_base"`
			CooldownMax     Duration `yaml:"cooldown_max"`
			StickyTTL       Duration `yaml:"sticky_ttl"`
			ConsecutiveHits int      `yaml:"consecutive_hits"`
		} `yaml:"proxy_health"`

		Risk struct {
			CacheTTL       Duration `yaml:"cache_ttl"`
			EnableLearning *bool    `yaml:"enable_learning"`
		} `yaml:"risk"`

		Handlers struct {
			MinObservations    int      `yaml:"min_observations"`
			PromotionThreshold float64  `yaml:"promotion_threshold"`
			DemotionThreshold  float64  `yaml:"demotion_threshold"`
			HandlerTTL         Duration `yaml:"handler_ttl"`
			MaxObservations    int      `yaml:"max_observations"`
		} `yaml:"handlers"`

		PerfWindow int                              `yaml:"perf_window"`
		Pools      []proxy.PoolConfig               `yaml:"proxy_pools"`
		Presets    []knowledge.PaginationApiPattern `yaml:"pagination_presets"`
	} `yaml:"core"`

	Monitoring MonitoringConfig `yaml:"monitoring"`
	Journal    JournalConfig    `yaml:"journal"`
	Verbose    bool             `yaml:"verbose"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Name:    "fetchpilot",
		Version: "1",
		Core:    fetch.DefaultCoreConfig(),
		Monitoring: MonitoringConfig{
			ListenAddress: ":9090",
		},
		Journal: JournalConfig{
			Path:    "fetchpilot-journal.db",
			MaxRows: 100000,
		},
	}
}

// Load reads a YAML file, applies defaults, environment overrides, and
// validation. An empty path yields the default configuration with
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		var file fileConfig
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		applyFile(cfg, &file)
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFile merges the parsed file onto the defaults; absent values keep the
// default.
func applyFile(cfg *Config, file *fileConfig) {
	if file.Name != "" {
		cfg.Name = file.Name
	}
	if file.Version != "" {
		cfg.Version = file.Version
	}
	cfg.Verbose = cfg.Verbose || file.Verbose
	if file.Monitoring.ListenAddress != "" {
		cfg.Monitoring.ListenAddress = file.Monitoring.ListenAddress
	}
	cfg.Monitoring.Enabled = cfg.Monitoring.Enabled || file.Monitoring.Enabled
	if file.Journal.Path != "" {
		cfg.Journal.Path = file.Journal.Path
	}
	if file.Journal.MaxRows > 0 {
		cfg.Journal.MaxRows = file.Journal.MaxRows
	}
	cfg.Journal.Enabled = cfg.Journal.Enabled || file.Journal.Enabled

	core := cfg.Core
	fc := &file.Core
	if fc.DataDir != "" {
		core.DataDir = fc.DataDir
	}
	if fc.SnapshotInterval > 0 {
		core.SnapshotInterval = fc.SnapshotInterval.Std()
	}
	core.EnableBrowser = core.EnableBrowser || fc.EnableBrowser
	if fc.Headless != nil {
		core.Headless = *fc.Headless
	}

	f := core.Fetcher
	if fc.Fetcher.MinContentLength != 0 {
		f.MinContentLength = fc.Fetcher.MinContentLength
	}
	if fc.Fetcher.GlobalTimeout > 0 {
		f.GlobalTimeout = fc.Fetcher.GlobalTimeout.Std()
	}
	if fc.Fetcher.IntelligenceTimeout > 0 {
		f.IntelligenceTimeout = fc.Fetcher.IntelligenceTimeout.Std()
	}
	if fc.Fetcher.LightweightTimeout > 0 {
		f.LightweightTimeout = fc.Fetcher.LightweightTimeout.Std()
	}
	if fc.Fetcher.BrowserTimeout > 0 {
		f.BrowserTimeout = fc.Fetcher.BrowserTimeout.Std()
	}
	f.RequireProxy = f.RequireProxy || fc.Fetcher.RequireProxy
	if fc.Fetcher.DefaultRatePerSec > 0 {
		f.DefaultRatePerSec = fc.Fetcher.DefaultRatePerSec
	}
	if fc.Fetcher.RateBurst > 0 {
		f.RateBurst = fc.Fetcher.RateBurst
	}
	if len(fc.Fetcher.BrowserRequiredDomains) > 0 {
		f.BrowserRequiredDomains = fc.Fetcher.BrowserRequiredDomains
	}

	if fc.Cache.Capacity != 0 {
		core.Cache.Capacity = fc.Cache.Capacity
	}
	if fc.Cache.BaseTTL > 0 {
		core.Cache.BaseTTL = fc.Cache.BaseTTL.Std()
	}
	if fc.Cache.MinTTL > 0 {
		core.Cache.MinTTL = fc.Cache.MinTTL.Std()
	}
	if fc.Cache.MaxTTL > 0 {
		core.Cache.MaxTTL = fc.Cache.MaxTTL.Std()
	}

	if fc.Health.WindowSize > 0 {
		core.Health.WindowSize = fc.Health.WindowSize
	}
	if fc.Health.BlockThreshold != nil {
		core.Health.BlockThreshold = *fc.Health.BlockThreshold
	}
	if fc.Health.CooldownBase > 0 {
		core.Health.CooldownBase = fc.Health.CooldownBase.Std()
	}
	if fc.Health.CooldownMax > 0 {
		core.Health.CooldownMax = fc.Health.CooldownMax.Std()
	}
	if fc.Health.StickyTTL > 0 {
		core.Health.StickyTTL = fc.Health.StickyTTL.Std()
	}
	if fc.Health.ConsecutiveHits > 0 {
		core.Health.ConsecutiveHits = fc.Health.ConsecutiveHits
	}

	if fc.Risk.CacheTTL > 0 {
		core.Risk.CacheTTL = fc.Risk.CacheTTL.Std()
	}
	if fc.Risk.EnableLearning != nil {
		core.Risk.EnableLearning = *fc.Risk.EnableLearning
	}

	if fc.Handlers.MinObservations > 0 {
		core.Registry.MinObservations = fc.Handlers.MinObservations
	}
	if fc.Handlers.PromotionThreshold > 0 {
		core.Registry.PromotionThreshold = fc.Handlers.PromotionThreshold
	}
	if fc.Handlers.DemotionThreshold > 0 {
		core.Registry.DemotionThreshold = fc.Handlers.DemotionThreshold
	}
	if fc.Handlers.HandlerTTL > 0 {
		core.Registry.HandlerTTL = fc.Handlers.HandlerTTL.Std()
	}
	if fc.Handlers.MaxObservations > 0 {
		core.Registry.MaxObservations = fc.Handlers.MaxObservations
	}

	if fc.PerfWindow > 0 {
		core.PerfWindow = fc.PerfWindow
	}
	core.Pools = append(core.Pools, fc.Pools...)
	core.Presets = append(core.Presets, fc.Presets...)
}

// applyEnv overrides configuration from FETCHPILOT_* and proxy environment
// variables. Absent proxy variables mean no pool of that tier.
func applyEnv(cfg *Config) {
	if v := os.Getenv("FETCHPILOT_DATA_DIR"); v != "" {
		cfg.Core.DataDir = v
	}
	if v := os.Getenv("FETCHPILOT_ENABLE_BROWSER"); v != "" {
		cfg.Core.EnableBrowser = isTruthy(v)
	}
	if v := os.Getenv("FETCHPILOT_VERBOSE"); v != "" {
		cfg.Verbose = isTruthy(v)
	}
	if v := os.Getenv("FETCHPILOT_MIN_CONTENT_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Core.Fetcher.MinContentLength = n
		}
	}
	if v := os.Getenv("FETCHPILOT_RISK_CACHE_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Core.Risk.CacheTTL = time.Duration(n) * time.Minute
		}
	}
	if v := os.Getenv("FETCHPILOT_COOLDOWN_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Core.Health.CooldownMax = time.Duration(n) * time.Minute
		}
	}
	if v := os.Getenv("FETCHPILOT_HEALTH_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Core.Health.WindowSize = n
		}
	}

	for _, tier := range []string{"datacenter", "residential", "mobile"} {
		envName := "PROXY_" + strings.ToUpper(tier) + "_URLS"
		raw := os.Getenv(envName)
		if raw == "" {
			continue
		}
		pool := proxy.PoolConfig{
			ID:       "env-" + tier,
			Name:     "env " + tier + " pool",
			Tier:     tier,
			Rotation: proxy.RotationRoundRobin,
		}
		country := os.Getenv("PROXY_" + strings.ToUpper(tier) + "_COUNTRY")
		for i, u := range strings.Split(raw, ",") {
			u = strings.TrimSpace(u)
			if u == "" {
				continue
			}
			pool.Endpoints = append(pool.Endpoints, proxy.Endpoint{
				ID:          fmt.Sprintf("env-%s-%d", tier, i),
				URL:         u,
				Country:     country,
				Residential: tier != "datacenter",
			})
		}
		if len(pool.Endpoints) > 0 {
			cfg.Core.Pools = append(cfg.Core.Pools, pool)
		}
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Validate checks the configuration for contradictions before the core
// starts.
func Validate(cfg *Config) error {
	if cfg.Core == nil {
		return fmt.Errorf("core configuration is required")
	}

	f := cfg.Core.Fetcher
	if f.MinContentLength < 0 {
		return fmt.Errorf("min_content_length must not be negative")
	}
	if f.GlobalTimeout < 0 {
		return fmt.Errorf("global_timeout must not be negative")
	}

	c := cfg.Core.Cache
	if c.MinTTL > 0 && c.MaxTTL > 0 && c.MinTTL > c.MaxTTL {
		return fmt.Errorf("cache min_ttl %v exceeds max_ttl %v", c.MinTTL, c.MaxTTL)
	}
	if c.Capacity < 0 {
		return fmt.Errorf("cache capacity must not be negative")
	}

	h := cfg.Core.Health
	if h.BlockThreshold < 0 || h.BlockThreshold >= 1 {
		return fmt.Errorf("block_threshold must be in [0, 1), got %v", h.BlockThreshold)
	}

	r := cfg.Core.Registry
	if r.PromotionThreshold <= r.DemotionThreshold {
		return fmt.Errorf("promotion_threshold %v must exceed demotion_threshold %v",
			r.PromotionThreshold, r.DemotionThreshold)
	}

	seen := make(map[string]struct{})
	for _, pool := range cfg.Core.Pools {
		if pool.ID == "" {
			return fmt.Errorf("proxy pool without id")
		}
		if _, dup := seen[pool.ID]; dup {
			return fmt.Errorf("duplicate proxy pool id %q", pool.ID)
		}
		seen[pool.ID] = struct{}{}
		if _, err := proxy.ParseTier(pool.Tier); err != nil {
			return err
		}
		for i := range pool.Endpoints {
			if _, err := pool.Endpoints[i].ParseURL(); err != nil {
				return err
			}
		}
	}

	if cfg.Journal.Enabled && cfg.Journal.Path == "" {
		return fmt.Errorf("journal enabled but no path configured")
	}
	return nil
}
