// Package api is the embeddable surface of FetchPilot: a Client wrapping the
// engine core with plain option and result types.
package api

import (
	"context"
	"time"

	"github.com/valpere/FetchPilot/internal/cache"
	"github.com/valpere/FetchPilot/internal/fetch"
	"github.com/valpere/FetchPilot/internal/proxy"
	"github.com/valpere/FetchPilot/internal/utils"
)

// Client is a configured engine instance. Clients are safe for concurrent
// use; create one per data directory.
type Client struct {
	core   *fetch.Core
	logger utils.Logger
}

// New creates a client. A nil config uses defaults with no persistence.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	logger := utils.NewLogger()
	if cfg.Verbose {
		logger = utils.NewDevelopmentLogger()
	}

	coreCfg := fetch.DefaultCoreConfig()
	coreCfg.DataDir = cfg.DataDir
	coreCfg.EnableBrowser = cfg.EnableBrowser
	if cfg.SnapshotInterval > 0 {
		coreCfg.SnapshotInterval = cfg.SnapshotInterval
	}
	if cfg.MinContentLength > 0 {
		coreCfg.Fetcher.MinContentLength = cfg.MinContentLength
	}
	coreCfg.Fetcher.RequireProxy = cfg.RequireProxy
	coreCfg.Fetcher.AllowPrivateHosts = cfg.AllowPrivateHosts

	for _, pool := range cfg.ProxyPools {
		coreCfg.Pools = append(coreCfg.Pools, pool)
	}

	core, err := fetch.NewCore(coreCfg, logger)
	if err != nil {
		return nil, err
	}
	return &Client{core: core, logger: logger}, nil
}

// Fetch retrieves one URL through the tiered pipeline.
func (c *Client) Fetch(ctx context.Context, url string, opts *FetchOptions) (*fetch.Result, error) {
	if opts == nil {
		opts = &FetchOptions{}
	}
	return c.core.Fetch(ctx, fetch.Request{
		URL:              url,
		ForceTier:        opts.ForceTier,
		MaxCostTier:      opts.MaxCostTier,
		MaxLatency:       opts.MaxLatency,
		Freshness:        cache.Freshness(opts.Freshness),
		MinContentLength: opts.MinContentLength,
		Plan:             proxy.Plan(opts.Plan),
		SessionID:        opts.SessionID,
		Country:          opts.Country,
		CaptureNetwork:   opts.CaptureNetwork,
		PaginatedFlow:    opts.PaginatedFlow,
	})
}

// Core exposes the underlying engine for advanced wiring (custom browser
// drivers, direct component access).
func (c *Client) Core() *fetch.Core { return c.core }

// Stats returns aggregated engine statistics.
func (c *Client) Stats() fetch.Stats { return c.core.GetStats() }

// Close flushes learned state and stops background work.
func (c *Client) Close() { c.core.Close() }

// Config configures a Client.
type Config struct {
	// DataDir persists learned stores; empty keeps everything in memory.
	DataDir string

	// EnableBrowser registers the headless-Chrome tier.
	EnableBrowser bool

	// RequireProxy refuses direct fetches when no pool is configured.
	RequireProxy bool

	// AllowPrivateHosts disables the SSRF guard. Test environments only.
	AllowPrivateHosts bool

	// MinContentLength overrides the validation floor.
	MinContentLength int

	// SnapshotInterval overrides the persistence cadence.
	SnapshotInterval time.Duration

	// ProxyPools registers pools at startup.
	ProxyPools []proxy.PoolConfig

	// Verbose switches to the development logger.
	Verbose bool
}

// FetchOptions are the per-call knobs.
type FetchOptions struct {
	ForceTier        string
	MaxCostTier      string
	MaxLatency       time.Duration
	Freshness        string // realtime, cached, any
	MinContentLength int
	Plan             string // free, pro, enterprise
	SessionID        string
	Country          string
	CaptureNetwork   bool
	PaginatedFlow    bool
}
