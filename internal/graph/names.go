// Package graph compiles a declarative workflow document into the typed
// graph the scheduler drives, and derives the static structures (reachable
// acts, retry targets, transition edges) used by the rest of the daemon.
package graph

// ActName identifies a node in the workflow graph — the "verb" emitted from
// an outcome. String-typed (not iota) so acts round-trip through the TOML
// and YAML graph documents and the ledger's JSON wire protocol without a
// translation table.
type ActName string

// Shipped act names. A custom graph may declare others; these are the ones
// the builtin executors and the default graph document use.
const (
	ActBuild       ActName = "Build"
	ActImplement   ActName = "Implement"
	ActAwaitReply  ActName = "AwaitReply"
	ActReview      ActName = "Review"
	ActEvaluate    ActName = "Evaluate"
	ActRevise      ActName = "Revise"
	ActMerge       ActName = "Merge"
	ActDeploy      ActName = "Deploy"
	ActAwaitDeploy ActName = "AwaitDeploy"
	ActRunDeploy   ActName = "RunDeploy"
	ActRelease     ActName = "Release"
	ActPublish     ActName = "Publish"
)

// OutcomeName identifies an append-only event recorded against a container
// (issue run, phase group, or pipeline run).
type OutcomeName string

// Shipped outcome names.
const (
	OutcomePrCreated             OutcomeName = "PrCreated"
	OutcomeFixesApplied          OutcomeName = "FixesApplied"
	OutcomeMerged                OutcomeName = "Merged"
	OutcomeNeedsClarification    OutcomeName = "NeedsClarification"
	OutcomeClarified             OutcomeName = "Clarified"
	OutcomeImplementationFailed  OutcomeName = "ImplementationFailed"
	OutcomeMaxRetries            OutcomeName = "MaxRetries"
	OutcomeStarted               OutcomeName = "Started"
	OutcomeResumed               OutcomeName = "Resumed"
	OutcomeRetried               OutcomeName = "Retried" // reserved, unused by the shipped graph — see SPEC_FULL.md §9
	OutcomeAborted               OutcomeName = "Aborted"
	OutcomeApproved              OutcomeName = "Approved"
	OutcomeChangesRequested      OutcomeName = "ChangesRequested"
	OutcomePaused                OutcomeName = "Paused"
	OutcomeBuilding              OutcomeName = "Building"
	OutcomeReviewing             OutcomeName = "Reviewing"
	OutcomeAwaitingDeploy        OutcomeName = "AwaitingDeploy"
	OutcomeDeployed              OutcomeName = "Deployed"
	OutcomeReleased              OutcomeName = "Released"
	OutcomeManualRelease         OutcomeName = "ManualRelease"
	OutcomeReleaseFailed         OutcomeName = "RELEASE_FAILED"
	OutcomeMergeFailed           OutcomeName = "MergeFailed"

	// OutcomeStep is recorded on a pipeline run's own container, not an issue
	// run or group, as step-level telemetry: {step: executorName, success,
	// costUsd, error?}. It never appears in the States Table and carries no
	// board-sync semantics — purely a trace record for ledger consumers.
	OutcomeStep OutcomeName = "Step"
)

// Classification tags an outcome name with its broad disposition, published
// to the ledger once at startup so downstream consumers (dashboards,
// retry-target derivation) can group outcomes without a name-by-name switch.
type Classification string

const (
	ClassificationSuccess Classification = "success"
	ClassificationNeutral  Classification = "neutral"
	ClassificationFailure Classification = "failure"
)

// Classifications is the shipped outcome → classification table. Custom
// graphs may introduce new outcome names; those default to
// ClassificationNeutral unless added here.
var Classifications = map[OutcomeName]Classification{
	OutcomeStarted:              ClassificationNeutral,
	OutcomeResumed:              ClassificationNeutral,
	OutcomeRetried:              ClassificationNeutral,
	OutcomeAborted:              ClassificationFailure,
	OutcomePrCreated:            ClassificationSuccess,
	OutcomeFixesApplied:         ClassificationSuccess,
	OutcomeMerged:               ClassificationSuccess,
	OutcomeNeedsClarification:   ClassificationNeutral,
	OutcomeClarified:            ClassificationNeutral,
	OutcomeImplementationFailed: ClassificationFailure,
	OutcomeMaxRetries:           ClassificationFailure,
	OutcomeApproved:             ClassificationSuccess,
	OutcomeChangesRequested:     ClassificationNeutral,
	OutcomePaused:               ClassificationNeutral,
	OutcomeBuilding:             ClassificationNeutral,
	OutcomeReviewing:            ClassificationNeutral,
	OutcomeAwaitingDeploy:       ClassificationNeutral,
	OutcomeDeployed:             ClassificationSuccess,
	OutcomeReleased:             ClassificationSuccess,
	OutcomeManualRelease:        ClassificationSuccess,
	OutcomeReleaseFailed:        ClassificationFailure,
	OutcomeMergeFailed:          ClassificationFailure,
}

// ClassificationOf returns the registered classification for name, defaulting
// to ClassificationNeutral when the name is not in the table (e.g. a custom
// graph introduced it without registering a classification explicitly).
func ClassificationOf(name OutcomeName) Classification {
	if c, ok := Classifications[name]; ok {
		return c
	}
	return ClassificationNeutral
}

// BoardColumn is a symbolic board column that an outcome may map to via the
// States Table.
type BoardColumn string

const (
	ColumnTodo           BoardColumn = "todo"
	ColumnInProgress     BoardColumn = "inProgress"
	ColumnInReview       BoardColumn = "inReview"
	ColumnReadyForDeploy BoardColumn = "readyForDeploy"
	ColumnDeploy         BoardColumn = "deploy"
	ColumnBlocked        BoardColumn = "blocked"
	ColumnAborted        BoardColumn = "aborted"
	ColumnWaiting        BoardColumn = "waiting"
	ColumnDone           BoardColumn = "done"
)

// NoneExecutor is the sentinel executor reference marking a phase-group node
// (a node with no registered implementation — its only job is to create a
// sub-container and auto-transition via its "created" result).
const NoneExecutor = "none"

// IssueContainer is the reserved `in` value meaning "record on the issue run
// itself" rather than a phase-group sub-container.
const IssueContainer = "Issue"

// CreatedResultType is the single result-type key a phase-group node must
// declare.
const CreatedResultType = "created"

// WaitingResultType marks an executor as waiting-capable: its declared
// result types include this tag, and a result of this type is a no-op.
const WaitingResultType = "waiting"
