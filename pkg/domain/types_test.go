package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHealthMetrics_ErrorRateInvariant(t *testing.T) {
	m := NewHealthMetrics(500, 2, nil, time.Now())
	assert.Equal(t, int64(500), m.RequestCount)
	assert.Equal(t, int64(2), m.ErrorCount)
	assert.InDelta(t, 0.4, m.ErrorRate, 0.01)
}

func TestNewHealthMetrics_ZeroRequests(t *testing.T) {
	m := NewHealthMetrics(0, 0, nil, time.Now())
	assert.Equal(t, 0.0, m.ErrorRate)
}

func TestNewHealthMetrics_RoundsToTwoDecimals(t *testing.T) {
	m := NewHealthMetrics(3, 1, nil, time.Now())
	// 100*1/3 = 33.333...
	assert.Equal(t, 33.33, m.ErrorRate)
}

func TestTruncateLogMessage(t *testing.T) {
	short := "boom"
	assert.Equal(t, short, TruncateLogMessage(short))

	long := make([]byte, 600)
	for i := range long {
		long[i] = 'a'
	}
	truncated := TruncateLogMessage(string(long))
	assert.Len(t, truncated, 500)
}

func TestCapLogSamples(t *testing.T) {
	samples := make([]LogSample, 60)
	capped := CapLogSamples(samples)
	assert.Len(t, capped, 50)

	few := make([]LogSample, 3)
	assert.Len(t, CapLogSamples(few), 3)
}

func TestRecommendationValid_Rollback(t *testing.T) {
	r := Recommendation{Action: ActionRollback, Confidence: 0.8, TargetRevision: "rev-1"}
	assert.True(t, r.Valid())

	noRevision := Recommendation{Action: ActionRollback, Confidence: 0.8}
	assert.False(t, noRevision.Valid())
}

func TestRecommendationValid_Scale(t *testing.T) {
	r := Recommendation{Action: ActionScaleUp, Confidence: 0.6, ScaleParams: &ScaleParams{Min: 1, Max: 5}}
	assert.True(t, r.Valid())

	noParams := Recommendation{Action: ActionScaleUp, Confidence: 0.6}
	assert.False(t, noParams.Valid())

	inverted := Recommendation{Action: ActionScaleDown, Confidence: 0.6, ScaleParams: &ScaleParams{Min: 5, Max: 1}}
	assert.False(t, inverted.Valid())
}

func TestRecommendationValid_ConfidenceRange(t *testing.T) {
	tooHigh := Recommendation{Action: ActionNone, Confidence: 1.5}
	assert.False(t, tooHigh.Valid())

	tooLow := Recommendation{Action: ActionNone, Confidence: -0.1}
	assert.False(t, tooLow.Valid())

	ok := Recommendation{Action: ActionNone, Confidence: 0}
	assert.True(t, ok.Valid())
}

func TestActionEnvelope_JSONRoundTrip(t *testing.T) {
	original := ActionEnvelope{
		IncidentID:     "inc_checkout_1700000000",
		Service:        "checkout",
		Region:         "us-central1",
		Action:         ActionScaleUp,
		ScaleParams:    &ScaleParams{Min: 1, Max: 10},
		Reason:         "sustained 15% error rate",
		Confidence:     0.87,
		CreatedAt:      time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC),
	}

	raw, err := json.Marshal(original)
	require.NoError(t, err)

	var roundTripped ActionEnvelope
	require.NoError(t, json.Unmarshal(raw, &roundTripped))

	assert.Equal(t, original, roundTripped)
}

func TestActionEnvelope_JSONRoundTrip_Rollback(t *testing.T) {
	original := ActionEnvelope{
		IncidentID:     "inc_checkout_1700000000",
		Service:        "checkout",
		Region:         "us-central1",
		Action:         ActionRollback,
		TargetRevision: "checkout-00042-abc",
		Reason:         "rollback to previous stable",
		Confidence:     0.95,
		CreatedAt:      time.Now().UTC(),
	}

	raw, err := json.Marshal(original)
	require.NoError(t, err)

	var roundTripped ActionEnvelope
	require.NoError(t, json.Unmarshal(raw, &roundTripped))

	assert.Equal(t, original, roundTripped)
}
