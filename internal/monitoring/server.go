// internal/monitoring/server.go

// Package monitoring exposes Prometheus metrics and component status over a
// small HTTP endpoint.
package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/valpere/FetchPilot/internal/utils"
)

// StatusSource provides the aggregate stats served on /statusz.
type StatusSource interface {
	GetStats() interface{}
}

// Server is the health/metrics HTTP endpoint.
type Server struct {
	httpServer *http.Server
	logger     utils.Logger
}

// NewServer builds the endpoint: /healthz, /metrics, /statusz.
func NewServer(addr string, metrics *MetricsManager, status StatusSource, logger utils.Logger) *Server {
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	if metrics != nil {
		router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	}

	if status != nil {
		router.HandleFunc("/statusz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(status.GetStats()); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}).Methods(http.MethodGet)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in the background until Stop.
func (s *Server) Start() {
	go func() {
		s.logger.Infof("monitoring endpoint listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("monitoring endpoint failed: %v", err)
		}
	}()
}

// Stop shuts the endpoint down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }
