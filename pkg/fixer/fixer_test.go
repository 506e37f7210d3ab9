package fixer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fleetops/autopilot/internal/apperrors"
	"github.com/fleetops/autopilot/pkg/domain"
)

type fakeStore struct {
	incidents map[string]domain.Incident
	audits    []domain.ActionAudit
}

func newFakeStore() *fakeStore {
	return &fakeStore{incidents: map[string]domain.Incident{}}
}

func (f *fakeStore) Get(ctx context.Context, id string) (domain.Incident, error) {
	incident, ok := f.incidents[id]
	if !ok {
		return domain.Incident{}, apperrors.NewNotFoundError("incident not found")
	}
	return incident, nil
}

func (f *fakeStore) CreateIncident(ctx context.Context, incident domain.Incident) (domain.Incident, error) {
	f.incidents[incident.ID] = incident
	return incident, nil
}

func (f *fakeStore) Transition(ctx context.Context, id string, to domain.IncidentStatus, mutate func(*domain.Incident)) (domain.Incident, error) {
	incident := f.incidents[id]
	incident.ID = id
	incident.Status = to
	if mutate != nil {
		mutate(&incident)
	}
	f.incidents[id] = incident
	return incident, nil
}

func (f *fakeStore) RecordAction(ctx context.Context, audit domain.ActionAudit) error {
	f.audits = append(f.audits, audit)
	return nil
}

type fakeExecutor struct {
	rollbackResult domain.ActionResult
	rollbackErr    error
	scaleResult    domain.ActionResult
	scaleErr       error
}

func (f *fakeExecutor) Rollback(ctx context.Context, service, region, targetRevision string, percentage int64) (domain.ActionResult, error) {
	return f.rollbackResult, f.rollbackErr
}

func (f *fakeExecutor) UpdateScaling(ctx context.Context, service, region string, min, max *int) (domain.ActionResult, error) {
	return f.scaleResult, f.scaleErr
}

type fakeNotifier struct {
	notified []domain.Incident
}

func (f *fakeNotifier) NotifyFailed(ctx context.Context, incident domain.Incident) {
	f.notified = append(f.notified, incident)
}

func TestProcess_StubsMissingIncidentAndResolves(t *testing.T) {
	store := newFakeStore()
	executor := &fakeExecutor{rollbackResult: domain.ActionResult{Success: true, OperationID: "op-1"}}
	notifier := &fakeNotifier{}
	p := New(store, executor, notifier, zap.NewNop())

	envelope := domain.ActionEnvelope{
		IncidentID:     "inc_checkout_1700000000",
		Service:        "checkout",
		Region:         "us-central1",
		Action:         domain.ActionRollback,
		TargetRevision: "checkout-00041-xyz",
		CreatedAt:      time.Now().UTC(),
	}

	p.Process(context.Background(), envelope)

	incident := store.incidents[envelope.IncidentID]
	assert.Equal(t, domain.IncidentResolved, incident.Status)
	require.NotNil(t, incident.MTTRSeconds)
	assert.GreaterOrEqual(t, *incident.MTTRSeconds, 0.0)
	require.Len(t, store.audits, 1)
	assert.True(t, store.audits[0].Success)
	assert.Empty(t, notifier.notified)
}

func TestProcess_ExecutorFailureWritesFailedAndNotifies(t *testing.T) {
	store := newFakeStore()
	store.incidents["inc_checkout_1700000000"] = domain.Incident{ID: "inc_checkout_1700000000", DetectedAt: time.Now().UTC()}
	executor := &fakeExecutor{rollbackErr: errors.New("revision not found")}
	notifier := &fakeNotifier{}
	p := New(store, executor, notifier, zap.NewNop())

	envelope := domain.ActionEnvelope{
		IncidentID:     "inc_checkout_1700000000",
		Service:        "checkout",
		Region:         "us-central1",
		Action:         domain.ActionRollback,
		TargetRevision: "checkout-00041-xyz",
	}

	p.Process(context.Background(), envelope)

	incident := store.incidents[envelope.IncidentID]
	assert.Equal(t, domain.IncidentFailed, incident.Status)
	assert.NotEmpty(t, incident.ErrorMessage)
	require.Len(t, notifier.notified, 1)
}

func TestProcess_ScalingDispatchesToUpdateScaling(t *testing.T) {
	store := newFakeStore()
	executor := &fakeExecutor{scaleResult: domain.ActionResult{Success: true}}
	p := New(store, executor, &fakeNotifier{}, zap.NewNop())

	envelope := domain.ActionEnvelope{
		IncidentID:  "inc_checkout_1700000000",
		Service:     "checkout",
		Region:      "us-central1",
		Action:      domain.ActionScaleUp,
		ScaleParams: &domain.ScaleParams{Min: 1, Max: 10},
	}

	p.Process(context.Background(), envelope)

	incident := store.incidents[envelope.IncidentID]
	assert.Equal(t, domain.IncidentResolved, incident.Status)
}
