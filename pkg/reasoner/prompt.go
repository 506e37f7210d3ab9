package reasoner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fleetops/autopilot/pkg/domain"
)

var allowedActions = []domain.Action{
	domain.ActionRollback,
	domain.ActionScaleUp,
	domain.ActionScaleDown,
	domain.ActionRedeploy,
	domain.ActionNone,
}

const maxErrorLogsInPrompt = 5

// buildPrompt assembles the Reasoner's prompt deterministically from
// health, the top-5 error logs, the allowed action set, and platform
// facts (spec §4.2). Determinism matters: identical inputs must produce
// an identical prompt so model calls are reproducible in tests.
func buildPrompt(health domain.ServiceHealth, facts PlatformFacts) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Service: %s (region: %s)\n", health.Service, health.Region)
	fmt.Fprintf(&b, "Status: %s\n", health.Status)
	fmt.Fprintf(&b, "Metrics: request_count=%d error_count=%d error_rate=%.2f%%",
		health.Metrics.RequestCount, health.Metrics.ErrorCount, health.Metrics.ErrorRate)
	if health.Metrics.P95LatencyMS != nil {
		fmt.Fprintf(&b, " p95_latency_ms=%.0f", *health.Metrics.P95LatencyMS)
	}
	b.WriteString("\n")
	if health.AnomalySummary != "" {
		fmt.Fprintf(&b, "Anomaly summary: %s\n", health.AnomalySummary)
	}

	b.WriteString("Top error logs:\n")
	logs := health.LogSamples
	if len(logs) > maxErrorLogsInPrompt {
		logs = logs[:maxErrorLogsInPrompt]
	}
	if len(logs) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, l := range logs {
		fmt.Fprintf(&b, "  [%s] %s\n", l.Severity, l.Message)
	}

	fmt.Fprintf(&b, "Current revision: %s\n", facts.CurrentRevision)
	fmt.Fprintf(&b, "Traffic split: %s\n", formatSplit(facts.TrafficSplit))
	fmt.Fprintf(&b, "Available revisions: %s\n", strings.Join(facts.AvailableRevisions, ", "))
	fmt.Fprintf(&b, "Previous stable revision: %s\n", facts.PreviousStable)

	names := make([]string, len(allowedActions))
	for i, a := range allowedActions {
		names[i] = string(a)
	}
	fmt.Fprintf(&b, "Allowed actions: %s\n", strings.Join(names, ", "))

	b.WriteString("Respond with a strict JSON object with fields " +
		"{action, confidence, reasoning, risk_assessment, expected_impact, root_cause_hypothesis}. " +
		"No prose outside the JSON object.\n")

	return b.String()
}

func formatSplit(split domain.TrafficSplit) string {
	if len(split) == 0 {
		return "(none)"
	}
	revs := make([]string, 0, len(split))
	for rev := range split {
		revs = append(revs, rev)
	}
	sort.Strings(revs)

	parts := make([]string, 0, len(revs))
	for _, rev := range revs {
		parts = append(parts, fmt.Sprintf("%s=%d%%", rev, split[rev]))
	}
	return strings.Join(parts, ", ")
}
