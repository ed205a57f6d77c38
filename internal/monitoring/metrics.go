// internal/monitoring/metrics.go
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsManager holds the Prometheus metrics for the fetch pipeline. It
// implements the fetcher's metrics sink.
type MetricsManager struct {
	fetchesTotal    *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	tierFallbacks   *prometheus.CounterVec
	cacheHits       prometheus.Counter
	proxySelections *prometheus.CounterVec
	proxyErrors     *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetricsManager creates and registers the pipeline metrics on a private
// registry, so tests can build as many managers as they like.
func NewMetricsManager(namespace string) *MetricsManager {
	if namespace == "" {
		namespace = "fetchpilot"
	}
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &MetricsManager{
		registry: registry,
		fetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Fetches by tier and outcome",
		}, []string{"tier", "outcome"}),
		fetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "End-to-end fetch duration by tier",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"tier"}),
		tierFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_fallbacks_total",
			Help:      "Escalations between tiers",
		}, []string{"from", "to"}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Fetches served from the adaptive cache",
		}),
		proxySelections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_selections_total",
			Help:      "Proxy selections by tier and reason",
		}, []string{"tier", "reason"}),
		proxyErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_errors_total",
			Help:      "Proxy selection failures by code",
		}, []string{"code"}),
	}
}

// Registry exposes the private registry for the HTTP handler.
func (m *MetricsManager) Registry() *prometheus.Registry { return m.registry }

// ObserveFetch records one completed fetch.
func (m *MetricsManager) ObserveFetch(tier string, success, cached bool, duration time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.fetchesTotal.WithLabelValues(tier, outcome).Inc()
	m.fetchDuration.WithLabelValues(tier).Observe(duration.Seconds())
	if cached {
		m.cacheHits.Inc()
	}
}

// ObserveFallback records a tier escalation.
func (m *MetricsManager) ObserveFallback(fromTier, toTier string) {
	m.tierFallbacks.WithLabelValues(fromTier, toTier).Inc()
}

// ObserveProxySelection records a successful proxy pick.
func (m *MetricsManager) ObserveProxySelection(tier string, reason string) {
	m.proxySelections.WithLabelValues(tier, reason).Inc()
}

// ObserveProxyError records a failed proxy selection.
func (m *MetricsManager) ObserveProxyError(code string) {
	m.proxyErrors.WithLabelValues(code).Inc()
}
