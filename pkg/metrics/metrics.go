// Package metrics exposes the Prometheus counters and histograms both
// processes publish on their /metrics endpoint.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	ScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleet_autopilot_scan_duration_seconds",
		Help:    "Duration of a single service health scan.",
		Buckets: prometheus.DefBuckets,
	}, []string{"service"})

	AnomaliesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_autopilot_anomalies_detected_total",
		Help: "Count of anomalies detected per service.",
	}, []string{"service", "status"})

	ActionsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_autopilot_actions_executed_total",
		Help: "Count of remediation actions executed, by action type and outcome.",
	}, []string{"action", "outcome"})

	RecommendationConfidence = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleet_autopilot_recommendation_confidence",
		Help:    "Confidence score of Reasoner recommendations.",
		Buckets: []float64{0.1, 0.3, 0.5, 0.7, 0.9, 1.0},
	}, []string{"action"})
)

// Server exposes /metrics on its own port, independent of a component's
// main HTTP surface, the way the teacher separates operational endpoints
// from the service API.
type Server struct {
	httpServer *http.Server
	log        *zap.Logger
}

// NewServer builds a metrics server bound to addr (e.g. ":9090").
func NewServer(addr string, log *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: mux},
		log:        log,
	}
}

// StartAsync starts the metrics server in a background goroutine.
func (s *Server) StartAsync() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("metrics server stopped unexpectedly", zap.Error(err))
		}
	}()
}

// Shutdown gracefully stops the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ObserveScanDuration records how long a single-service scan took.
func ObserveScanDuration(service string, d time.Duration) {
	ScanDuration.WithLabelValues(service).Observe(d.Seconds())
}
