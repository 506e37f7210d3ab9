package reasoner

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fleetops/autopilot/pkg/domain"
	"github.com/fleetops/autopilot/pkg/logging"
)

// rawRecommendation is the shape the model is instructed to emit (spec
// §4.2's model-call contract).
type rawRecommendation struct {
	Action             string  `json:"action"`
	Confidence         float64 `json:"confidence"`
	Reasoning          string  `json:"reasoning"`
	RiskAssessment     string  `json:"risk_assessment"`
	ExpectedImpact     string  `json:"expected_impact"`
	RootCauseHypothesis string `json:"root_cause_hypothesis"`
}

// Reasoner turns a health assessment into a typed Recommendation. It is a
// total function per spec §4.2: no input or transport failure ever
// propagates to the caller as an error.
type Reasoner struct {
	model   ModelClient
	facts   PlatformFactsProvider
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

// New builds a Reasoner. facts may be nil, in which case the prompt's
// platform-fact lines are left empty and ROLLBACK recommendations always
// downgrade to NONE (no previous-stable revision can be derived).
func New(model ModelClient, facts PlatformFactsProvider, log *zap.Logger) *Reasoner {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "reasoner-model",
		MaxRequests: 2,
		Interval:    30 * time.Second,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &Reasoner{model: model, facts: facts, breaker: cb, log: log}
}

// safeDefault is the NONE recommendation returned on any failure (spec
// §4.2's "Reasoner never raises; it returns NONE").
func safeDefault(reason string) domain.Recommendation {
	return domain.Recommendation{
		Action:     domain.ActionNone,
		Confidence: 0,
		Reasoning:  reason,
	}
}

// Recommend implements the §4.2 contract: prompt assembly, model call,
// parsing, and the ROLLBACK/previous-stable-revision injection rule.
func (r *Reasoner) Recommend(ctx context.Context, health domain.ServiceHealth) domain.Recommendation {
	var facts PlatformFacts
	if r.facts != nil {
		f, err := r.facts.Fetch(ctx, health.Service, health.Region)
		if err != nil {
			r.log.Warn("platform facts fetch failed, proceeding without them",
				logging.PlatformFields("recommend", health.Service, health.Region).Error(err).ToLogrus())
		} else {
			facts = f
		}
	}

	prompt := buildPrompt(health, facts)

	raw, err := r.breaker.Execute(func() (interface{}, error) {
		return r.model.Generate(ctx, prompt)
	})
	if err != nil {
		r.log.Warn("reasoner model call failed",
			logging.AIFields("recommend", "").Error(err).ToLogrus())
		return safeDefault("model call failed: " + err.Error())
	}

	text, _ := raw.(string)
	return parseRecommendation(text, facts)
}

// parseRecommendation implements spec §4.2's parsing steps 1-5.
func parseRecommendation(text string, facts PlatformFacts) domain.Recommendation {
	stripped := stripFencedBlock(text)

	var parsed rawRecommendation
	if err := json.Unmarshal([]byte(stripped), &parsed); err != nil {
		return safeDefault("failed to parse model response: " + err.Error())
	}

	action := coerceAction(parsed.Action)

	rec := domain.Recommendation{
		Action:         action,
		Confidence:     clampConfidence(parsed.Confidence),
		Reasoning:      parsed.Reasoning,
		Risk:           parsed.RiskAssessment,
		ExpectedImpact: parsed.ExpectedImpact,
	}

	if action == domain.ActionRollback {
		if facts.PreviousStable == "" {
			rec.Action = domain.ActionNone
			rec.Confidence = 0
			rec.TargetRevision = ""
		} else {
			rec.TargetRevision = facts.PreviousStable
		}
	}

	return rec
}

// stripFencedBlock removes a leading/trailing ```[lang]\n ... \n``` fence
// if present, leaving the raw JSON body.
func stripFencedBlock(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	if nl := strings.IndexByte(trimmed, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(trimmed[:nl])
		if firstLine == "" || !strings.ContainsAny(firstLine, "{}") {
			trimmed = trimmed[nl+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func coerceAction(raw string) domain.Action {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	switch domain.Action(upper) {
	case domain.ActionRollback, domain.ActionScaleUp, domain.ActionScaleDown, domain.ActionRedeploy, domain.ActionNone:
		return domain.Action(upper)
	default:
		return domain.ActionNone
	}
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
