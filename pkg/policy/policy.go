// Package policy is the Supervisor's publish-time guardrail: every
// non-NONE recommendation is published unless it is genuinely unsafe to
// execute (e.g. a ROLLBACK with no resolvable target revision), expressed
// in Rego so operators can change the gate without a code change.
package policy

import (
	"context"
	"embed"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/fleetops/autopilot/pkg/domain"
)

//go:embed rego/publish.rego
var policyFS embed.FS

// Gate evaluates whether a Recommendation may be published.
type Gate struct {
	query rego.PreparedEvalQuery
}

// NewGate compiles the embedded publish policy once at startup.
func NewGate(ctx context.Context) (*Gate, error) {
	module, err := policyFS.ReadFile("rego/publish.rego")
	if err != nil {
		return nil, fmt.Errorf("reading embedded policy: %w", err)
	}

	query, err := rego.New(
		rego.Query("data.fleetautopilot.publish"),
		rego.Module("publish.rego", string(module)),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("preparing policy query: %w", err)
	}

	return &Gate{query: query}, nil
}

// Allow reports whether rec may be published, and if not, why.
func (g *Gate) Allow(ctx context.Context, rec domain.Recommendation) (bool, string, error) {
	input := map[string]interface{}{
		"action":          string(rec.Action),
		"confidence":      rec.Confidence,
		"target_revision": rec.TargetRevision,
	}

	results, err := g.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, "", fmt.Errorf("evaluating publish policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, "policy produced no result", nil
	}

	decision, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return false, "policy result had an unexpected shape", nil
	}

	allowed, _ := decision["allow"].(bool)
	reason, _ := decision["deny_reason"].(string)
	if !allowed && reason == "" {
		reason = "recommendation did not satisfy the publish policy"
	}
	return allowed, reason, nil
}
