// Package ledger is a typed client for the append-only telemetry service
// that is this daemon's durable state store (§4.4). State is reconstructed
// by querying the same event log it writes to — there is no local
// persistence.
package ledger

import "github.com/warpmetrics/coder/internal/graph"

// RunRecord is one `run` event: the creation of an Issue Run.
type RunRecord struct {
	ID      string         `json:"id"`
	IssueID string         `json:"issueId"`
	Repo    string         `json:"repo"`
	Title   string         `json:"title"`
	Opts    map[string]any `json:"opts,omitempty"`
}

// GroupRecord is one `group` event: the creation of a Phase Group, linked
// to its parent Issue Run.
type GroupRecord struct {
	ID          string `json:"id"`
	ParentRunID string `json:"parentRunId"`
	Label       string `json:"label"`
}

// OutcomeRecord is one append-only `outcome` event.
type OutcomeRecord struct {
	ID          string            `json:"id"`
	ContainerID string            `json:"containerId"`
	Name        graph.OutcomeName `json:"name"`
	Opts        map[string]any    `json:"opts,omitempty"`
}

// ActRecord is one append-only `act` event, emitted from an outcome.
type ActRecord struct {
	ID        string         `json:"id"`
	OutcomeID string         `json:"outcomeId"`
	Name      graph.ActName  `json:"name"`
	Opts      map[string]any `json:"opts,omitempty"`
}

// LinkRecord ties a group to its parent run explicitly (in addition to
// GroupRecord.ParentRunID) so the ledger's query surface can resolve a
// run's full groups map without a second query per group.
type LinkRecord struct {
	GroupID string `json:"groupId"`
	RunID   string `json:"runId"`
}

// PipelineRunRecord is one `pipelineRun` event: a telemetry-only execution
// trace for a single non-waiting executor invocation, linked back to the act
// that triggered it (refActId) so a later `outcome` batched on its id reads
// as "this step's result" in the ledger's query surface.
type PipelineRunRecord struct {
	ID       string `json:"id"`
	RefActID string `json:"refActId"`
}

// OpenIssueRun is one row of the findOpenIssueRuns() query surface (§4.4).
type OpenIssueRun struct {
	ID              string
	IssueID         string
	Repo            string
	Title           string
	LatestOutcome   graph.OutcomeName
	LatestOutcomeID string // id of the LatestOutcome event
	PendingAct      *PendingAct
	Groups          map[string]string // phase-group label -> group id
}

// PendingAct is the most recently emitted act on a container with no
// subsequent outcome on its emitted branch.
type PendingAct struct {
	ID   string
	Name graph.ActName
	Opts map[string]any
}

// batch accumulates queued events for a single atomic /events POST. Not
// safe for concurrent use — callers create one per processRun invocation
// (§5's "per-call, not shared across goroutines" resource note).
type batch struct {
	Runs         []RunRecord         `json:"runs,omitempty"`
	Groups       []GroupRecord       `json:"groups,omitempty"`
	Links        []LinkRecord        `json:"links,omitempty"`
	Outcomes     []OutcomeRecord     `json:"outcomes,omitempty"`
	Acts         []ActRecord         `json:"acts,omitempty"`
	PipelineRuns []PipelineRunRecord `json:"pipelineRuns,omitempty"`
}

func (b *batch) empty() bool {
	return len(b.Runs) == 0 && len(b.Groups) == 0 && len(b.Links) == 0 &&
		len(b.Outcomes) == 0 && len(b.Acts) == 0 && len(b.PipelineRuns) == 0
}
