// internal/strategy/browser.go

package strategy

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/valpere/FetchPilot/internal/extract"
	"github.com/valpere/FetchPilot/internal/utils"
)

// BrowseOptions is the narrow surface the core hands a browser driver.
type BrowseOptions struct {
	WaitFor        string
	Timeout        time.Duration
	CaptureNetwork bool
	Proxy          string
	UserAgent      string
	SessionProfile string
}

// BrowseResult is what a driver returns; the core never touches the DOM.
type BrowseResult struct {
	HTML     string
	FinalURL string
	Network  []NetworkRequest
}

// Driver abstracts the real browser so the core stays testable without one.
type Driver interface {
	Browse(ctx context.Context, url string, opts BrowseOptions) (*BrowseResult, error)
}

// defaultBrowseTimeout applies when the caller sets none.
const defaultBrowseTimeout = 60 * time.Second

// waitSettle gives client rendering a moment after load before capture.
const waitSettle = 2 * time.Second

// ChromedpDriver drives headless Chrome through chromedp.
type ChromedpDriver struct {
	headless bool
	logger   utils.Logger
}

// NewChromedpDriver creates a chromedp-backed driver.
func NewChromedpDriver(headless bool, logger utils.Logger) *ChromedpDriver {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &ChromedpDriver{headless: headless, logger: logger}
}

// Browse navigates to a URL in a fresh browser context and captures the
// rendered HTML plus, optionally, the JSON network traffic.
func (d *ChromedpDriver) Browse(ctx context.Context, rawURL string, opts BrowseOptions) (*BrowseResult, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.NoSandbox,
	)
	if !d.headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if opts.Proxy != "" {
		// Chrome takes host:port only; credentialed proxies are expected to
		// be IP-allowlisted for the browser tier.
		allocOpts = append(allocOpts, chromedp.ProxyServer(stripProxyCredentials(opts.Proxy)))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.SessionProfile != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.SessionProfile))
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultBrowseTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	var (
		capMu     sync.Mutex
		captured  []NetworkRequest
		jsonIDs   []network.RequestID
		idToIndex = make(map[network.RequestID]int)
	)
	if opts.CaptureNetwork {
		chromedp.ListenTarget(taskCtx, func(ev interface{}) {
			resp, ok := ev.(*network.EventResponseReceived)
			if !ok {
				return
			}
			capMu.Lock()
			defer capMu.Unlock()
			idToIndex[resp.RequestID] = len(captured)
			captured = append(captured, NetworkRequest{
				URL:         resp.Response.URL,
				Method:      "GET",
				ContentType: resp.Response.MimeType,
			})
			if strings.Contains(resp.Response.MimeType, "json") && len(jsonIDs) < 50 {
				jsonIDs = append(jsonIDs, resp.RequestID)
			}
		})
	}

	tasks := []chromedp.Action{
		network.Enable(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body"),
	}
	if opts.WaitFor != "" {
		tasks = append(tasks, chromedp.WaitVisible(opts.WaitFor))
	}
	tasks = append(tasks, chromedp.Sleep(waitSettle))

	var html, finalURL string
	tasks = append(tasks,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html),
	)

	if err := chromedp.Run(taskCtx, tasks...); err != nil {
		return nil, fmt.Errorf("browser navigation failed: %w", err)
	}

	// Fetch response bodies for the JSON traffic so the pagination learner
	// has something to analyse.
	for _, id := range jsonIDs {
		var body []byte
		err := chromedp.Run(taskCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			body, err = network.GetResponseBody(id).Do(ctx)
			return err
		}))
		if err != nil {
			continue
		}
		capMu.Lock()
		if idx, ok := idToIndex[id]; ok {
			captured[idx].ResponseBody = string(body)
		}
		capMu.Unlock()
	}

	capMu.Lock()
	defer capMu.Unlock()
	return &BrowseResult{HTML: html, FinalURL: finalURL, Network: captured}, nil
}

func stripProxyCredentials(proxyURL string) string {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return proxyURL
	}
	u.User = nil
	return u.String()
}

// BrowserStrategy is the most expensive tier: full rendering through a
// Driver, then the same extraction pipeline as the HTTP tiers.
type BrowserStrategy struct {
	driver Driver
	logger utils.Logger
}

// NewBrowserStrategy wraps a driver as a fetch strategy.
func NewBrowserStrategy(driver Driver, logger utils.Logger) *BrowserStrategy {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &BrowserStrategy{driver: driver, logger: logger}
}

// Name returns the tier tag.
func (s *BrowserStrategy) Name() string { return NameBrowser }

// Execute renders the page through the driver and extracts content.
func (s *BrowserStrategy) Execute(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	if s.driver == nil {
		return nil, fmt.Errorf("no browser driver configured")
	}

	browsed, err := s.driver.Browse(ctx, rawURL, BrowseOptions{
		WaitFor:        opts.WaitFor,
		Timeout:        opts.Timeout,
		CaptureNetwork: opts.CaptureNetwork,
		Proxy:          opts.ProxyURL,
		UserAgent:      opts.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	content, err := extract.FromHTML(browsed.HTML)
	if err != nil {
		return nil, err
	}

	finalURL := browsed.FinalURL
	if finalURL == "" {
		finalURL = rawURL
	}

	result := &Result{
		HTML:               browsed.HTML,
		Content:            content,
		FinalURL:           finalURL,
		StatusCode:         200,
		NetworkRequests:    browsed.Network,
		ExtractionStrategy: NameBrowser,
	}
	for _, req := range browsed.Network {
		if strings.Contains(req.ContentType, "json") {
			result.DiscoveredAPIs = append(result.DiscoveredAPIs, DiscoveredAPI{
				URL: req.URL, Method: req.Method, ResponseFormat: "json", Source: "network-capture",
			})
		}
	}
	return result, nil
}
