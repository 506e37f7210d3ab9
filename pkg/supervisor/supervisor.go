// Package supervisor implements the Supervisor loop (spec §4.3): it fans
// scans out across configured targets, invokes the Reasoner for
// anomalies, persists incidents, and publishes ActionEnvelopes past the
// policy gate.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fleetops/autopilot/internal/config"
	"github.com/fleetops/autopilot/pkg/domain"
	"github.com/fleetops/autopilot/pkg/logging"
	"github.com/fleetops/autopilot/pkg/metrics"
)

// Scanner is the Health Scanner's contract as seen by the Supervisor.
type Scanner interface {
	Scan(ctx context.Context, target config.ServiceTarget, window time.Duration, defaults config.Thresholds) domain.ServiceHealth
}

// Reasoner is the Reasoner's contract as seen by the Supervisor.
type Reasoner interface {
	Recommend(ctx context.Context, health domain.ServiceHealth) domain.Recommendation
}

// IncidentStore is the subset of pkg/store the Supervisor needs.
type IncidentStore interface {
	CreateIncident(ctx context.Context, incident domain.Incident) (domain.Incident, error)
	Transition(ctx context.Context, id string, to domain.IncidentStatus, mutate func(*domain.Incident)) (domain.Incident, error)
	Get(ctx context.Context, id string) (domain.Incident, error)
	List(ctx context.Context, limit int, status *domain.IncidentStatus) ([]domain.Incident, error)
}

// Dispatcher is the bus publisher's contract as seen by the Supervisor.
type Dispatcher interface {
	Publish(ctx context.Context, envelope domain.ActionEnvelope) (string, error)
}

// PolicyGate is the publish-time guardrail's contract.
type PolicyGate interface {
	Allow(ctx context.Context, rec domain.Recommendation) (bool, string, error)
}

// Supervisor orchestrates one scan_all() cycle.
type Supervisor struct {
	cfg        *config.Config
	scanner    Scanner
	reasoner   Reasoner
	store      IncidentStore
	dispatcher Dispatcher
	policy     PolicyGate
	log        *zap.Logger
	concurrency int

	mu          sync.RWMutex
	lastDetails []domain.ServiceHealth
}

// New builds a Supervisor. concurrency <= 0 defaults to the number of
// configured targets (spec §4.3's "default = length of target list").
func New(cfg *config.Config, scanner Scanner, reasoner Reasoner, store IncidentStore, dispatcher Dispatcher, policy PolicyGate, concurrency int, log *zap.Logger) *Supervisor {
	if concurrency <= 0 {
		concurrency = len(cfg.Targets)
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Supervisor{
		cfg: cfg, scanner: scanner, reasoner: reasoner, store: store,
		dispatcher: dispatcher, policy: policy, concurrency: concurrency, log: log,
	}
}

// ScanAll implements the §4.3 contract: scan every configured target
// concurrently, invoke the Reasoner for anomalies, persist and publish,
// and return aggregate counts. A failure scanning or reasoning about one
// service never halts another; per-incident failures are logged, not
// raised.
func (s *Supervisor) ScanAll(ctx context.Context) domain.ScanReport {
	scanID := fmt.Sprintf("scan_%d", time.Now().UTC().Unix())

	details := make([]domain.ServiceHealth, len(s.cfg.Targets))
	g, gctx := errgroup.WithContext(context.Background())
	sem := make(chan struct{}, s.concurrency)

	for i, target := range s.cfg.Targets {
		i, target := i, target
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			health := s.scanner.Scan(gctx, target, s.cfg.ScanWindow(), s.cfg.Thresholds)
			metrics.ObserveScanDuration(target.Name, time.Since(start))
			details[i] = health
			return nil
		})
	}
	_ = g.Wait()

	anomalies := 0
	actions := 0
	for _, health := range details {
		if !health.HasAnomaly {
			continue
		}
		anomalies++
		metrics.AnomaliesDetected.WithLabelValues(health.Service, string(health.Status)).Inc()

		if s.handleAnomaly(context.Background(), health) {
			actions++
		}
	}

	s.mu.Lock()
	s.lastDetails = details
	s.mu.Unlock()

	return domain.ScanReport{
		ScanID:    scanID,
		Scanned:   len(details),
		Anomalies: anomalies,
		Actions:   actions,
		Details:   details,
	}
}

// handleAnomaly invokes the Reasoner, persists the incident, and
// publishes the envelope past the policy gate, per §4.3 step 3. It
// returns whether an action was published.
func (s *Supervisor) handleAnomaly(ctx context.Context, health domain.ServiceHealth) bool {
	rec := s.reasoner.Recommend(ctx, health)

	id := fmt.Sprintf("inc_%s_%d", health.Service, time.Now().UTC().Unix())
	incident := domain.Incident{
		ID:             id,
		Service:        health.Service,
		Region:         health.Region,
		Status:         domain.IncidentDetected,
		DetectedAt:     time.Now().UTC(),
		Metrics:        health.Metrics,
		LogSamples:     health.LogSamples,
		AnomalySummary: health.AnomalySummary,
		Recommendation: &rec,
	}

	if _, err := s.store.CreateIncident(ctx, incident); err != nil {
		s.log.Error("failed to persist detected incident",
			logging.NewFields().Component("supervisor").Operation("create_incident").
				Incident(id).Error(err).ToLogrus())
		return false
	}

	if rec.Action == domain.ActionNone {
		return false
	}

	if s.policy != nil {
		allowed, reason, err := s.policy.Allow(ctx, rec)
		if err != nil {
			s.log.Warn("policy evaluation failed, withholding publish",
				logging.NewFields().Component("supervisor").Operation("policy_gate").Incident(id).Error(err).ToLogrus())
			return false
		}
		if !allowed {
			s.log.Info("recommendation withheld by publish policy",
				logging.NewFields().Component("supervisor").Operation("policy_gate").
					Incident(id).Custom("reason", reason).ToLogrus())
			return false
		}
	}

	envelope := domain.ActionEnvelope{
		IncidentID:     id,
		Service:        health.Service,
		Region:         health.Region,
		Action:         rec.Action,
		TargetRevision: rec.TargetRevision,
		ScaleParams:    rec.ScaleParams,
		Reason:         rec.Reasoning,
		Confidence:     rec.Confidence,
		CreatedAt:      time.Now().UTC(),
	}

	if _, err := s.dispatcher.Publish(ctx, envelope); err != nil {
		s.log.Error("failed to publish action envelope",
			logging.NewFields().Component("supervisor").Operation("publish").Incident(id).Error(err).ToLogrus())
		return false
	}

	if _, err := s.store.Transition(ctx, id, domain.IncidentActionPending, nil); err != nil {
		s.log.Error("failed to transition incident to ACTION_PENDING",
			logging.NewFields().Component("supervisor").Operation("transition").Incident(id).Error(err).ToLogrus())
	}

	metrics.ActionsExecuted.WithLabelValues(string(rec.Action), "published").Inc()
	return true
}

// LastServicesStatus returns the per-target details of the most recently
// completed scan, for GET /services/status.
func (s *Supervisor) LastServicesStatus() []domain.ServiceHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastDetails
}
