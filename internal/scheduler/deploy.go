package scheduler

import (
	"context"
	"sort"

	"github.com/warpmetrics/coder/internal/ledger"
)

// DeployOverlaps maps a repo to the other repos it shares a deploy surface
// with (e.g. a shared library, a shared migration). Symmetric in effect:
// ComputeDeployBatch treats an edge in either direction as an overlap.
type DeployOverlaps map[string][]string

// ComputeDeployBatch returns the repos that must deploy together with
// trigger: the fixed point of repeatedly adding any candidate overlapping a
// repo already in the batch. Kept a pure function, independent of the
// scheduler's live wiring, per §4.7's call-out that the deploy context
// provider should be a thin wrapper around an easily unit-testable
// computation rather than embedding the fixed-point walk inline.
func ComputeDeployBatch(trigger string, candidates []string, overlaps DeployOverlaps) []string {
	batch := map[string]bool{trigger: true}
	for changed := true; changed; {
		changed = false
		for _, candidate := range candidates {
			if batch[candidate] {
				continue
			}
			for member := range batch {
				if overlaps.connects(member, candidate) {
					batch[candidate] = true
					changed = true
					break
				}
			}
		}
	}

	out := make([]string, 0, len(batch))
	for repo := range batch {
		out = append(out, repo)
	}
	sort.Strings(out)
	return out
}

func (o DeployOverlaps) connects(a, b string) bool {
	for _, d := range o[a] {
		if d == b {
			return true
		}
	}
	for _, d := range o[b] {
		if d == a {
			return true
		}
	}
	return false
}

// CandidatesFunc returns the repos currently eligible to be folded into a
// deploy batch — e.g. every other open run sitting in AwaitingDeploy.
type CandidatesFunc func(ctx context.Context) ([]string, error)

// NewDeployContextProvider builds the "deploy" context provider: it resolves
// the batch a run's merge should carry through deploy/release, via
// ComputeDeployBatch over the live candidate set and the configured overlap
// graph, and hands it to the run_deploy executor as ic.Extra["deployBatch"].
func NewDeployContextProvider(overlaps DeployOverlaps, candidates CandidatesFunc) ContextProviderFunc {
	return func(ctx context.Context, run ledger.OpenIssueRun) (map[string]any, error) {
		cands, err := candidates(ctx)
		if err != nil {
			return nil, err
		}
		batch := ComputeDeployBatch(run.Repo, cands, overlaps)
		return map[string]any{"deployBatch": batch}, nil
	}
}
