package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/autopilot/pkg/domain"
)

func TestAllow_HighConfidenceScaleUp(t *testing.T) {
	gate, err := NewGate(context.Background())
	require.NoError(t, err)

	allowed, _, err := gate.Allow(context.Background(), domain.Recommendation{Action: domain.ActionScaleUp, Confidence: 0.9})

	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestAllow_LowConfidenceStillPublishes(t *testing.T) {
	gate, err := NewGate(context.Background())
	require.NoError(t, err)

	allowed, _, err := gate.Allow(context.Background(), domain.Recommendation{Action: domain.ActionScaleUp, Confidence: 0.2})

	require.NoError(t, err)
	assert.True(t, allowed, "spec requires publish whenever the action is not NONE, regardless of confidence")
}

func TestAllow_RejectsNoneAction(t *testing.T) {
	gate, err := NewGate(context.Background())
	require.NoError(t, err)

	allowed, _, err := gate.Allow(context.Background(), domain.Recommendation{Action: domain.ActionNone, Confidence: 1.0})

	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestAllow_RejectsRollbackWithoutTargetRevision(t *testing.T) {
	gate, err := NewGate(context.Background())
	require.NoError(t, err)

	allowed, reason, err := gate.Allow(context.Background(), domain.Recommendation{Action: domain.ActionRollback, Confidence: 0.9, TargetRevision: ""})

	require.NoError(t, err)
	assert.False(t, allowed)
	assert.NotEmpty(t, reason)
}
