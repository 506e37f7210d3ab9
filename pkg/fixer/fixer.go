// Package fixer implements the Fixer consumer (spec §4.5): it pulls
// ActionEnvelopes off the bus (or accepts them directly over HTTP),
// executes the recommended mutation, and writes the incident's terminal
// state.
package fixer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fleetops/autopilot/pkg/domain"
	"github.com/fleetops/autopilot/pkg/logging"
)

// IncidentStore is the subset of pkg/store the Fixer needs.
type IncidentStore interface {
	Get(ctx context.Context, id string) (domain.Incident, error)
	CreateIncident(ctx context.Context, incident domain.Incident) (domain.Incident, error)
	Transition(ctx context.Context, id string, to domain.IncidentStatus, mutate func(*domain.Incident)) (domain.Incident, error)
	RecordAction(ctx context.Context, audit domain.ActionAudit) error
}

// Executor is the Platform executor's contract as seen by the Fixer.
type Executor interface {
	Rollback(ctx context.Context, service, region, targetRevision string, percentage int64) (domain.ActionResult, error)
	UpdateScaling(ctx context.Context, service, region string, min, max *int) (domain.ActionResult, error)
}

// Notifier is the best-effort operator notification surface.
type Notifier interface {
	NotifyFailed(ctx context.Context, incident domain.Incident)
}

// Processor executes one ActionEnvelope end to end and is shared by the
// bus consumer loop and the manual HTTP endpoint.
type Processor struct {
	store    IncidentStore
	executor Executor
	notifier Notifier
	log      *zap.Logger
}

// New builds a Processor.
func New(store IncidentStore, executor Executor, notifier Notifier, log *zap.Logger) *Processor {
	return &Processor{store: store, executor: executor, notifier: notifier, log: log}
}

// Process implements the §4.5 envelope-handling contract: enter
// REMEDIATING (stubbing the incident if missing), execute, and write the
// terminal state. Store writes after the platform mutation are
// best-effort and never mask a successful mutation.
func (p *Processor) Process(ctx context.Context, envelope domain.ActionEnvelope) {
	now := time.Now().UTC()

	incident, err := p.store.Get(ctx, envelope.IncidentID)
	if err != nil {
		incident = domain.Incident{
			ID:         envelope.IncidentID,
			Service:    envelope.Service,
			Region:     envelope.Region,
			Status:     domain.IncidentActionPending,
			DetectedAt: now,
		}
		if _, createErr := p.store.CreateIncident(ctx, incident); createErr != nil {
			p.log.Error("failed to stub missing incident",
				logging.NewFields().Component("fixer").Operation("process").
					Incident(envelope.IncidentID).Error(createErr).ToLogrus())
		}
	}

	remediating, err := p.store.Transition(ctx, envelope.IncidentID, domain.IncidentRemediating, func(i *domain.Incident) {
		i.RemediationStartedAt = &now
	})
	if err != nil {
		p.log.Warn("failed to transition incident to REMEDIATING, proceeding with execution anyway",
			logging.NewFields().Component("fixer").Operation("transition").Incident(envelope.IncidentID).Error(err).ToLogrus())
		remediating = incident
	}

	result, execErr := p.execute(ctx, envelope)

	if execErr != nil {
		p.writeFailed(ctx, remediating, execErr.Error())
		return
	}

	p.writeResolved(ctx, remediating, result)
}

func (p *Processor) execute(ctx context.Context, envelope domain.ActionEnvelope) (domain.ActionResult, error) {
	switch envelope.Action {
	case domain.ActionRollback:
		return p.executor.Rollback(ctx, envelope.Service, envelope.Region, envelope.TargetRevision, 100)
	case domain.ActionScaleUp, domain.ActionScaleDown:
		var min, max *int
		if envelope.ScaleParams != nil {
			min = &envelope.ScaleParams.Min
			max = &envelope.ScaleParams.Max
		}
		return p.executor.UpdateScaling(ctx, envelope.Service, envelope.Region, min, max)
	default:
		return domain.ActionResult{}, unsupportedActionError(envelope.Action)
	}
}

func (p *Processor) writeResolved(ctx context.Context, incident domain.Incident, result domain.ActionResult) {
	now := time.Now().UTC()

	updated, err := p.store.Transition(ctx, incident.ID, domain.IncidentResolved, func(i *domain.Incident) {
		i.ResolvedAt = &now
		i.ActionResult = &result
		if i.DetectedAt.IsZero() {
			i.DetectedAt = incident.DetectedAt
		}
		if !i.DetectedAt.IsZero() {
			mttr := now.Sub(i.DetectedAt).Seconds()
			i.MTTRSeconds = &mttr
		}
	})
	if err != nil {
		p.log.Error("failed to write RESOLVED state (platform mutation already succeeded)",
			logging.NewFields().Component("fixer").Operation("write_resolved").Incident(incident.ID).Error(err).ToLogrus())
		updated = incident
	}

	audit := domain.ActionAudit{
		IncidentID: incident.ID,
		ExecutedAt: now,
		Success:    true,
		OldTraffic: result.OldTraffic, NewTraffic: result.NewTraffic,
		OldMinScale: result.OldMinScale, OldMaxScale: result.OldMaxScale,
		NewMinScale: result.NewMinScale, NewMaxScale: result.NewMaxScale,
	}
	if updated.Recommendation != nil {
		audit.Action = updated.Recommendation.Action
	}
	if err := p.store.RecordAction(ctx, audit); err != nil {
		p.log.Warn("failed to record action audit (platform mutation already succeeded)",
			logging.NewFields().Component("fixer").Operation("record_action").Incident(incident.ID).Error(err).ToLogrus())
	}
}

func (p *Processor) writeFailed(ctx context.Context, incident domain.Incident, errMsg string) {
	now := time.Now().UTC()

	if _, err := p.store.Transition(ctx, incident.ID, domain.IncidentFailed, func(i *domain.Incident) {
		i.ResolvedAt = &now
		i.ErrorMessage = errMsg
	}); err != nil {
		p.log.Error("failed to write FAILED state",
			logging.NewFields().Component("fixer").Operation("write_failed").Incident(incident.ID).Error(err).ToLogrus())
	}

	failed, err := p.store.Get(ctx, incident.ID)
	if err != nil {
		failed = incident
		failed.ErrorMessage = errMsg
	}
	if p.notifier != nil {
		p.notifier.NotifyFailed(ctx, failed)
	}
}

type unsupportedAction struct{ action domain.Action }

func (e unsupportedAction) Error() string {
	return "unsupported action: " + string(e.action)
}

func unsupportedActionError(action domain.Action) error {
	return unsupportedAction{action: action}
}
