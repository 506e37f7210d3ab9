// Package executor implements the Platform executor (spec §4.6): the
// only component that mutates the managed service's control plane. Both
// supported mutations are idempotent read-modify-write operations guarded
// by safety clamps and a dry-run switch.
package executor

import (
	"context"
	"fmt"
	"time"

	run "google.golang.org/api/run/v2"

	"github.com/sony/gobreaker"

	"github.com/fleetops/autopilot/internal/apperrors"
	"github.com/fleetops/autopilot/internal/config"
	"github.com/fleetops/autopilot/pkg/domain"
)

const operationPollDeadline = 5 * time.Minute
const operationPollInterval = 5 * time.Second

// Executor applies ROLLBACK and UPDATE_SCALING mutations against Cloud
// Run. DryRun short-circuits both before any control-plane write.
type Executor struct {
	client    *run.Service
	projectID string
	bounds    config.ExecutorBounds
	dryRun    bool
	breaker   *gobreaker.CircuitBreaker
}

// New builds an Executor against an existing Cloud Run Admin API client.
func New(client *run.Service, projectID string, bounds config.ExecutorBounds, dryRun bool) *Executor {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "executor-control-plane",
		MaxRequests: 2,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &Executor{client: client, projectID: projectID, bounds: bounds, dryRun: dryRun, breaker: cb}
}

func (e *Executor) serviceName(service, region string) string {
	return fmt.Sprintf("projects/%s/locations/%s/services/%s", e.projectID, region, service)
}

// Rollback implements spec §4.6's ROLLBACK(service, region, target_revision,
// percentage=100).
func (e *Executor) Rollback(ctx context.Context, service, region, targetRevision string, percentage int64) (domain.ActionResult, error) {
	name := e.serviceName(service, region)

	svc, err := e.getService(ctx, name)
	if err != nil {
		return domain.ActionResult{}, err
	}

	exists, err := e.revisionExists(ctx, name, targetRevision)
	if err != nil {
		return domain.ActionResult{}, err
	}
	if !exists {
		return domain.ActionResult{}, apperrors.Newf(apperrors.ErrorTypeInvalidArgument,
			"revision %s is not listed among %s's revisions", targetRevision, service)
	}

	oldTraffic := trafficSplitOf(svc)
	if percentage == 0 {
		percentage = 100
	}

	if e.dryRun {
		newTraffic := domain.TrafficSplit{targetRevision: int(percentage)}
		return dryRunResult(oldTraffic, newTraffic), nil
	}

	svc.Traffic = []*run.GoogleCloudRunV2TrafficTarget{
		{
			Type:     "TRAFFIC_TARGET_ALLOCATION_TYPE_REVISION",
			Revision: targetRevision,
			Percent:  percentage,
		},
	}

	op, err := e.submitUpdate(ctx, name, svc, "traffic")
	if err != nil {
		return domain.ActionResult{}, err
	}

	opID, err := e.waitForOperation(ctx, op)
	if err != nil {
		return domain.ActionResult{}, err
	}

	return domain.ActionResult{
		Success:     true,
		OperationID: opID,
		OldTraffic:  oldTraffic,
		NewTraffic:  domain.TrafficSplit{targetRevision: int(percentage)},
	}, nil
}

// UpdateScaling implements spec §4.6's UPDATE_SCALING(service, region, min?,
// max?), applying safety clamps before any write.
func (e *Executor) UpdateScaling(ctx context.Context, service, region string, min, max *int) (domain.ActionResult, error) {
	name := e.serviceName(service, region)

	svc, err := e.getService(ctx, name)
	if err != nil {
		return domain.ActionResult{}, err
	}

	oldMin, oldMax := currentScaling(svc)

	effectiveMin := oldMin
	if min != nil {
		effectiveMin = clamp(*min, e.bounds.MinInstancesFloor, e.bounds.MinInstancesCeiling)
	}
	effectiveMax := oldMax
	if max != nil {
		effectiveMax = clamp(*max, e.bounds.MaxInstancesFloor, e.bounds.MaxInstancesCeiling)
	}
	if effectiveMin > effectiveMax {
		return domain.ActionResult{}, apperrors.Newf(apperrors.ErrorTypeInvalidArgument,
			"effective min %d exceeds effective max %d for %s", effectiveMin, effectiveMax, service)
	}

	if e.dryRun {
		return dryRunScalingResult(oldMin, oldMax, effectiveMin, effectiveMax), nil
	}

	applyScaling(svc, effectiveMin, effectiveMax)

	op, err := e.submitUpdate(ctx, name, svc, "template.scaling")
	if err != nil {
		return domain.ActionResult{}, err
	}

	opID, err := e.waitForOperation(ctx, op)
	if err != nil {
		return domain.ActionResult{}, err
	}

	return domain.ActionResult{
		Success:     true,
		OperationID: opID,
		OldMinScale: intPtr(oldMin),
		OldMaxScale: intPtr(oldMax),
		NewMinScale: intPtr(effectiveMin),
		NewMaxScale: intPtr(effectiveMax),
	}, nil
}

func (e *Executor) getService(ctx context.Context, name string) (*run.GoogleCloudRunV2Service, error) {
	result, err := e.breaker.Execute(func() (interface{}, error) {
		return e.client.Projects.Locations.Services.Get(name).Context(ctx).Do()
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNotFound, fmt.Sprintf("service %s not found", name))
	}
	return result.(*run.GoogleCloudRunV2Service), nil
}

func (e *Executor) submitUpdate(ctx context.Context, name string, svc *run.GoogleCloudRunV2Service, fieldMask string) (*run.GoogleLongrunningOperation, error) {
	call := e.client.Projects.Locations.Services.Patch(name, svc).UpdateMask(fieldMask).Context(ctx)
	result, err := e.breaker.Execute(func() (interface{}, error) {
		return call.Do()
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "submitting control-plane update")
	}
	return result.(*run.GoogleLongrunningOperation), nil
}

// waitForOperation polls at a fixed interval until the operation completes or
// the 5-minute deadline elapses, matching the original's
// `cloud_run_manager.py` operation polling loop shape (spec's
// supplemented-features note).
func (e *Executor) waitForOperation(ctx context.Context, op *run.GoogleLongrunningOperation) (string, error) {
	if op.Done {
		return op.Name, nil
	}

	deadline := time.Now().Add(operationPollDeadline)
	ticker := time.NewTicker(operationPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return op.Name, apperrors.Wrap(ctx.Err(), apperrors.ErrorTypeTimeout, "operation polling cancelled")
		case <-ticker.C:
			if time.Now().After(deadline) {
				return op.Name, apperrors.Newf(apperrors.ErrorTypeTimeout,
					"operation %s did not complete within %s", op.Name, operationPollDeadline)
			}
			refreshed, err := e.client.Projects.Locations.Operations.Get(op.Name).Context(ctx).Do()
			if err != nil {
				return op.Name, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "polling operation status")
			}
			if refreshed.Done {
				if refreshed.Error != nil {
					return op.Name, apperrors.Newf(apperrors.ErrorTypeInternal,
						"operation %s failed: %s", op.Name, refreshed.Error.Message)
				}
				return op.Name, nil
			}
		}
	}
}

// revisionExists lists the service's revisions and reports whether
// targetRevision is among them.
func (e *Executor) revisionExists(ctx context.Context, serviceName, revision string) (bool, error) {
	resp, err := e.client.Projects.Locations.Revisions.List(serviceName).Context(ctx).Do()
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "listing revisions")
	}
	for _, r := range resp.Revisions {
		if lastSegment(r.Name) == revision {
			return true, nil
		}
	}
	return false, nil
}

func lastSegment(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

func trafficSplitOf(svc *run.GoogleCloudRunV2Service) domain.TrafficSplit {
	split := make(domain.TrafficSplit)
	for _, t := range svc.Traffic {
		if t.Revision != "" {
			split[t.Revision] = int(t.Percent)
		}
	}
	return split
}

func currentScaling(svc *run.GoogleCloudRunV2Service) (min, max int) {
	if svc.Template == nil || svc.Template.Scaling == nil {
		return 0, 100
	}
	return int(svc.Template.Scaling.MinInstanceCount), int(svc.Template.Scaling.MaxInstanceCount)
}

func applyScaling(svc *run.GoogleCloudRunV2Service, min, max int) {
	if svc.Template == nil {
		svc.Template = &run.GoogleCloudRunV2RevisionTemplate{}
	}
	if svc.Template.Scaling == nil {
		svc.Template.Scaling = &run.GoogleCloudRunV2RevisionScaling{}
	}
	svc.Template.Scaling.MinInstanceCount = int64(min)
	svc.Template.Scaling.MaxInstanceCount = int64(max)
}

func clamp(v, floor, ceiling int) int {
	if v < floor {
		return floor
	}
	if v > ceiling {
		return ceiling
	}
	return v
}

func dryRunResult(old, updated domain.TrafficSplit) domain.ActionResult {
	return domain.ActionResult{Success: true, DryRun: true, OldTraffic: old, NewTraffic: updated}
}

func dryRunScalingResult(oldMin, oldMax, newMin, newMax int) domain.ActionResult {
	return domain.ActionResult{
		Success: true, DryRun: true,
		OldMinScale: intPtr(oldMin), OldMaxScale: intPtr(oldMax),
		NewMinScale: intPtr(newMin), NewMaxScale: intPtr(newMax),
	}
}

func intPtr(v int) *int { return &v }
