// Package strategy provides the three fetch strategies the tiered fetcher
// cascades through: intelligence (plain HTTP + extraction), lightweight
// (HTTP + embedded-state rendering), and browser (real browser via a driver).
package strategy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/valpere/FetchPilot/internal/extract"
)

// Strategy names double as tier tags in results and metrics.
const (
	NameIntelligence = "intelligence"
	NameLightweight  = "lightweight"
	NameBrowser      = "browser"
)

// Options carries per-invocation knobs into a strategy.
type Options struct {
	Timeout          time.Duration
	ProxyURL         string            // http[s]://[user:pass@]host:port, empty for direct
	UserAgent        string            // overrides rotation when set
	Headers          map[string]string // required headers from quirks
	ForbiddenHeaders []string          // headers that must not be sent
	WaitFor          string            // browser tier: selector to await
	Stealth          bool              // quirk-driven stealth shaping
	CaptureNetwork   bool
}

// NetworkRequest is one request observed while producing the result.
type NetworkRequest struct {
	URL          string `json:"url"`
	Method       string `json:"method"`
	ContentType  string `json:"content_type,omitempty"`
	ResponseBody string `json:"response_body,omitempty"`
}

// DiscoveredAPI is an API endpoint spotted during the fetch that could serve
// future requests at a cheaper tier.
type DiscoveredAPI struct {
	URL            string `json:"url"`
	Method         string `json:"method"`
	ResponseFormat string `json:"response_format,omitempty"`
	Source         string `json:"source,omitempty"` // how it was spotted
}

// Result is what a strategy returns on success.
type Result struct {
	HTML               string
	Content            *extract.Content
	FinalURL           string
	StatusCode         int
	Headers            http.Header
	NetworkRequests    []NetworkRequest
	DiscoveredAPIs     []DiscoveredAPI
	ExtractionStrategy string
}

// Strategy is the narrow surface the fetcher invokes per tier.
type Strategy interface {
	// Name returns the tier tag.
	Name() string

	// Execute fetches and extracts one URL. Errors may carry the upgrade
	// signal to request a more capable tier.
	Execute(ctx context.Context, url string, opts Options) (*Result, error)
}

// UpgradeError signals that the strategy understood the page but cannot
// render it; the fetcher should escalate to a more capable tier.
type UpgradeError struct {
	Reason string
}

// Error implements the error interface.
func (e *UpgradeError) Error() string {
	return fmt.Sprintf("upgrade required: %s", e.Reason)
}

// NeedsUpgrade reports whether an error carries the upgrade signal.
func NeedsUpgrade(err error) bool {
	var ue *UpgradeError
	return errors.As(err, &ue)
}

// HTTPError is a non-2xx response surfaced as an error, keeping the status
// and response around for risk and quirk learning.
type HTTPError struct {
	StatusCode int
	Status     string
	Headers    http.Header
	Body       string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %s", e.Status)
}
