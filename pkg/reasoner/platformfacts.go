package reasoner

import (
	"context"
	"fmt"
	"sort"

	run "google.golang.org/api/run/v2"

	"github.com/fleetops/autopilot/pkg/domain"
)

const maxAvailableRevisions = 10

// PlatformFacts is the platform state the prompt folds in alongside the
// health assessment: current revision, traffic split, the bounded list of
// available revisions, and the derived previous-stable revision (spec
// §4.2; grounded on the original's `gemini_reasoner.py` platform-facts
// fetch, made explicit here instead of implicit in the prompt builder).
type PlatformFacts struct {
	CurrentRevision    string
	TrafficSplit       domain.TrafficSplit
	AvailableRevisions []string
	PreviousStable     string
}

// PlatformFactsProvider fetches the platform facts a recommendation needs
// without the Reasoner depending on the Executor package directly.
type PlatformFactsProvider interface {
	Fetch(ctx context.Context, service, region string) (PlatformFacts, error)
}

// RunPlatformFacts implements PlatformFactsProvider against the same Cloud
// Run Admin API client the Executor uses, performing only read calls.
type RunPlatformFacts struct {
	client    *run.Service
	projectID string
}

// NewRunPlatformFacts builds a PlatformFactsProvider over an existing
// Cloud Run Admin API client.
func NewRunPlatformFacts(client *run.Service, projectID string) *RunPlatformFacts {
	return &RunPlatformFacts{client: client, projectID: projectID}
}

func (p *RunPlatformFacts) Fetch(ctx context.Context, service, region string) (PlatformFacts, error) {
	name := fmt.Sprintf("projects/%s/locations/%s/services/%s", p.projectID, region, service)

	svc, err := p.client.Projects.Locations.Services.Get(name).Context(ctx).Do()
	if err != nil {
		return PlatformFacts{}, fmt.Errorf("fetching service %s: %w", name, err)
	}

	split := make(domain.TrafficSplit)
	for _, t := range svc.Traffic {
		if t.Revision != "" {
			split[t.Revision] = int(t.Percent)
		}
	}

	revisions, err := listRevisionNames(ctx, p.client, name)
	if err != nil {
		return PlatformFacts{}, fmt.Errorf("listing revisions for %s: %w", name, err)
	}
	if len(revisions) > maxAvailableRevisions {
		revisions = revisions[:maxAvailableRevisions]
	}

	current := ""
	if svc.LatestReadyRevision != "" {
		current = lastSegment(svc.LatestReadyRevision)
	}

	return PlatformFacts{
		CurrentRevision:    current,
		TrafficSplit:       split,
		AvailableRevisions: revisions,
		PreviousStable:     derivePreviousStable(current, split, revisions),
	}, nil
}

func listRevisionNames(ctx context.Context, client *run.Service, serviceName string) ([]string, error) {
	resp, err := client.Projects.Locations.Revisions.List(serviceName).Context(ctx).Do()
	if err != nil {
		return nil, err
	}

	type revEntry struct {
		name string
		ts   string
	}
	entries := make([]revEntry, 0, len(resp.Revisions))
	for _, r := range resp.Revisions {
		entries = append(entries, revEntry{name: lastSegment(r.Name), ts: r.CreateTime})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ts > entries[j].ts })

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.name)
	}
	return names, nil
}

// derivePreviousStable implements spec §4.2's derivation rule: the
// most-recent revision receiving non-zero traffic that is not the
// current/latest one, else the second entry of the chronologically-sorted
// revision list when one exists.
func derivePreviousStable(current string, split domain.TrafficSplit, chronological []string) string {
	for _, rev := range chronological {
		if rev == current {
			continue
		}
		if pct, ok := split[rev]; ok && pct > 0 {
			return rev
		}
	}
	if len(chronological) >= 2 {
		return chronological[1]
	}
	return ""
}

func lastSegment(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
