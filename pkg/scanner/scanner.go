// Package scanner implements the Health Scanner (spec §4.1): it reduces
// four independent telemetry signals per (service, region) target into
// a ServiceHealth verdict, and never fails the overall scan even when a
// signal is unreachable.
package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fleetops/autopilot/internal/config"
	"github.com/fleetops/autopilot/pkg/domain"
	"github.com/fleetops/autopilot/pkg/logging"
	"github.com/fleetops/autopilot/pkg/telemetry"
)

// Scanner evaluates one target at a time; callers fan out across
// targets (the Supervisor does this with an errgroup of its own).
type Scanner struct {
	telemetry telemetry.Client
	breaker   *gobreaker.CircuitBreaker
	log       *zap.Logger
}

// New builds a Scanner wrapping telemetry behind a circuit breaker so a
// degraded telemetry backend can't cascade into every scan blocking on
// timeouts (grounded on the teacher's gobreaker usage around external
// model/store calls).
func New(telemetryClient telemetry.Client, log *zap.Logger) *Scanner {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "telemetry",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Scanner{telemetry: telemetryClient, breaker: cb, log: log}
}

// Scan evaluates a single target. It never returns an error: any
// transport failure collapses the target into StatusUnknown with
// HasAnomaly=false, per spec §4.1's never-fail contract — a telemetry
// outage must not stall the scan loop or be mistaken for an incident.
func (s *Scanner) Scan(ctx context.Context, target config.ServiceTarget, window time.Duration, defaults config.Thresholds) domain.ServiceHealth {
	thresholds := target.Thresholds(defaults)

	var requestCount, errorCount int64
	var p95 *float64
	var logs []domain.LogSample

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		v, err := s.guarded(gctx, func(ctx context.Context) (interface{}, error) {
			return s.telemetry.RequestCount(ctx, target.Name, target.Region, window)
		})
		if err != nil {
			return err
		}
		requestCount = v.(int64)
		return nil
	})
	g.Go(func() error {
		v, err := s.guarded(gctx, func(ctx context.Context) (interface{}, error) {
			return s.telemetry.ErrorCount(ctx, target.Name, target.Region, window)
		})
		if err != nil {
			return err
		}
		errorCount = v.(int64)
		return nil
	})
	g.Go(func() error {
		v, err := s.guarded(gctx, func(ctx context.Context) (interface{}, error) {
			return s.telemetry.P95LatencyMS(ctx, target.Name, target.Region, window)
		})
		if err != nil {
			return err
		}
		p95, _ = v.(*float64)
		return nil
	})
	g.Go(func() error {
		v, err := s.guarded(gctx, func(ctx context.Context) (interface{}, error) {
			return s.telemetry.ErrorLogs(ctx, target.Name, target.Region, window, 50)
		})
		if err != nil {
			return err
		}
		logs, _ = v.([]domain.LogSample)
		return nil
	})

	if err := g.Wait(); err != nil {
		s.log.Warn("telemetry scan degraded, reporting unknown health",
			logging.PlatformFields("scan", target.Name, target.Region).Error(err).ToLogrus())
		return domain.ServiceHealth{
			Service: target.Name,
			Region:  target.Region,
			Status:  domain.StatusUnknown,
		}
	}

	metrics := domain.NewHealthMetrics(requestCount, errorCount, p95, time.Now().UTC())
	status, summary := classify(metrics, thresholds)

	return domain.ServiceHealth{
		Service:        target.Name,
		Region:         target.Region,
		Status:         status,
		Metrics:        metrics,
		LogSamples:     logs,
		HasAnomaly:     status == domain.StatusDegraded || status == domain.StatusUnhealthy,
		AnomalySummary: summary,
	}
}

// guarded runs fn through the circuit breaker; an open breaker returns
// its own error without ever invoking fn.
func (s *Scanner) guarded(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	return s.breaker.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
}

// classify applies spec §4.1's violation-count rule: too few requests to
// trust the signal is HEALTHY; otherwise zero violations is HEALTHY, one
// is DEGRADED, and two or more is UNHEALTHY.
func classify(m domain.HealthMetrics, t config.Thresholds) (domain.HealthStatus, string) {
	if m.RequestCount < int64(t.MinRequestCount) {
		return domain.StatusHealthy, ""
	}

	violations := 0
	var reasons []string

	if m.ErrorRate > t.ErrorThresholdPct {
		violations++
		reasons = append(reasons, fmt.Sprintf("error rate %.2f%% exceeds threshold %.2f%%", m.ErrorRate, t.ErrorThresholdPct))
	}
	if m.P95LatencyMS != nil && *m.P95LatencyMS > t.LatencyP95ThresholdMS {
		violations++
		reasons = append(reasons, fmt.Sprintf("latency p95 %.0fms exceeds threshold %.0fms", *m.P95LatencyMS, t.LatencyP95ThresholdMS))
	}

	switch violations {
	case 0:
		return domain.StatusHealthy, ""
	case 1:
		return domain.StatusDegraded, reasons[0]
	default:
		summary := reasons[0]
		for _, r := range reasons[1:] {
			summary += "; " + r
		}
		return domain.StatusUnhealthy, summary
	}
}
