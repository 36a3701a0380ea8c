// Package builtin adapts the scheduler's shipped work-act executors to the
// executor.Executor contract. Each type wraps the runtime dependency it
// needs (Runner, Orchestrator, Engine, ...) as a struct field following the
// teacher's nil-dependency-injection idiom in workflow/handlers.go: a
// zero-value executor is safe to register, and Invoke returns a descriptive
// error result instead of panicking when its dependency hasn't been wired
// yet (e.g. during registry construction at startup, before config load).
package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/warpmetrics/coder/internal/executor"
	"github.com/warpmetrics/coder/internal/loop"
	"github.com/warpmetrics/coder/internal/review"
)

// askMarkerFile is the workdir-relative path a clarification question is
// written to, per the clarification-request workdir layout (§6).
const askMarkerFile = ".warp-coder-ask"

// readAskMarker reads the clarification question left by the implement
// loop at the root of workDir, if any.
func readAskMarker(workDir string) (string, error) {
	b, err := os.ReadFile(filepath.Join(workDir, askMarkerFile))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// Result-type tags shared across builtin executors.
const (
	TypeSuccess          = "success"
	TypeFailure          = "failure"
	TypeError            = "error"
	TypeWaiting          = "waiting"
	TypeAskUser          = "ask_user"
	TypeReplied          = "replied"
	TypeApproved         = "approved"
	TypeChangesRequested = "changes_requested"
	TypeMaxTurns         = "max_turns"
)

func errResult(err error) (executor.Result, error) {
	return executor.Result{Type: TypeError, Error: err.Error()}, nil
}

// -----------------------------------------------------------------------
// Implement
// -----------------------------------------------------------------------

// Implement runs the implementation loop for the issue's current phase and,
// on success, creates the PR for review. Grounded on workflow.ImplementHandler
// (the loop.Runner invocation) composed with workflow.PRHandler (PR creation)
// since the graph model folds "implement, then open a PR" into a single
// work-act rather than two separate steps.
type Implement struct {
	Runner    *loop.Runner
	Creator   *review.PRCreator
	RunConfig loop.RunConfig
}

func (e *Implement) Name() string { return "implement" }

func (e *Implement) ResultTypes() []string {
	return []string{TypeSuccess, TypeFailure, TypeAskUser, TypeMaxTurns, TypeError}
}

func (e *Implement) Invoke(run *executor.Run, ic *executor.InvokeContext) (executor.Result, error) {
	if e.Runner == nil {
		return errResult(fmt.Errorf("implement: runner not configured"))
	}

	cfg := e.RunConfig
	if cfg.AgentName == "" {
		cfg.AgentName = "claude"
	}

	if err := e.Runner.Run(ic.Context, cfg); err != nil {
		if workDir, _ := ic.Extra["workDir"].(string); workDir != "" {
			if question, askErr := readAskMarker(workDir); askErr == nil {
				return executor.Result{Type: TypeAskUser, Question: question}, nil
			}
		}
		return executor.Result{Type: TypeFailure, Error: err.Error()}, nil
	}

	if e.Creator == nil {
		return executor.Result{Type: TypeSuccess}, nil
	}

	if err := e.Creator.CheckPrerequisites(ic.Context, "main"); err != nil {
		return executor.Result{Type: TypeFailure, Error: err.Error()}, nil
	}
	if err := e.Creator.EnsureBranchPushed(ic.Context); err != nil {
		return executor.Result{Type: TypeFailure, Error: err.Error()}, nil
	}

	res, err := e.Creator.Create(ic.Context, review.PRCreateOpts{
		Title: run.Title,
		Body:  "Automated PR by WarpCoder",
	})
	if err != nil {
		return executor.Result{Type: TypeFailure, Error: err.Error()}, nil
	}

	return executor.Result{
		Type: TypeSuccess,
		PRs:  []executor.PRRef{{Repo: run.Repo, Number: res.Number}},
	}, nil
}

// -----------------------------------------------------------------------
// AwaitReply
// -----------------------------------------------------------------------

// AwaitReply is the waiting-capable work-act polled while a clarification
// question is outstanding. It reads issue comments looking for a
// non-bot reply authored after the clarification marker (§6's
// "<!-- warp-coder:question -->"). Unlike the teacher (which has no waiting
// concept — every step either finishes or fails), this executor is new,
// grounded on spec.md §4.7's Issues-client comment semantics.
type AwaitReply struct {
	Issues executor.IssuesClient
}

func (e *AwaitReply) Name() string { return "await_reply" }

func (e *AwaitReply) ResultTypes() []string { return []string{TypeWaiting, TypeReplied, TypeError} }

const clarificationMarker = "<!-- warp-coder:question -->"

func (e *AwaitReply) Invoke(run *executor.Run, ic *executor.InvokeContext) (executor.Result, error) {
	if e.Issues == nil {
		return errResult(fmt.Errorf("await_reply: issues client not configured"))
	}

	comments, err := e.Issues.GetIssueComments(ic.Context, run.IssueID)
	if err != nil {
		return executor.Result{Type: TypeError, Error: err.Error()}, nil
	}

	sawMarker := false
	for _, c := range comments {
		if sawMarker {
			// Any comment after the marker that doesn't itself re-post the
			// marker is treated as the human's reply.
			return executor.Result{Type: TypeReplied}, nil
		}
		if containsMarker(c) {
			sawMarker = true
		}
	}
	return executor.Result{Type: TypeWaiting}, nil
}

func containsMarker(comment string) bool {
	return strings.Contains(comment, clarificationMarker)
}

// -----------------------------------------------------------------------
// Review
// -----------------------------------------------------------------------

// Review runs the multi-agent parallel code review orchestrator, grounded
// directly on workflow.ReviewHandler.
type Review struct {
	Orchestrator *review.ReviewOrchestrator
	BaseBranch   string
	Agents       []string
	Mode         review.ReviewMode
}

func (e *Review) Name() string { return "review" }

func (e *Review) ResultTypes() []string { return []string{TypeSuccess, TypeFailure, TypeError} }

func (e *Review) Invoke(run *executor.Run, ic *executor.InvokeContext) (executor.Result, error) {
	if e.Orchestrator == nil {
		return errResult(fmt.Errorf("review: orchestrator not configured"))
	}

	base := e.BaseBranch
	if base == "" {
		base = "main"
	}
	mode := e.Mode
	if mode == "" {
		mode = review.ReviewModeAll
	}

	result, err := e.Orchestrator.Run(ic.Context, review.ReviewOpts{
		Agents:     e.Agents,
		BaseBranch: base,
		Mode:       mode,
	})
	if err != nil {
		return executor.Result{Type: TypeFailure, Error: err.Error()}, nil
	}

	opts := map[string]any{}
	if result.Consolidated != nil {
		opts["verdict"] = string(result.Consolidated.Verdict)
		opts["findingsCount"] = len(result.Consolidated.Findings)
	}
	return executor.Result{Type: TypeSuccess, OutcomeOpts: opts}, nil
}

// -----------------------------------------------------------------------
// Evaluate
// -----------------------------------------------------------------------

// Evaluate inspects the PR's current review state via the code-host adapter
// and classifies it as approved or changes-requested, grounded on
// workflow.CheckReviewHandler's verdict-mapping logic, generalized from
// reading workflow-state metadata to querying the code-host adapter
// directly (this package has no shared mutable state between acts; every
// executor invocation is self-contained).
type Evaluate struct {
	PRs executor.CodeHostClient
}

func (e *Evaluate) Name() string { return "evaluate" }

func (e *Evaluate) ResultTypes() []string {
	return []string{TypeApproved, TypeChangesRequested, TypeWaiting, TypeError}
}

func (e *Evaluate) Invoke(run *executor.Run, ic *executor.InvokeContext) (executor.Result, error) {
	if e.PRs == nil {
		return errResult(fmt.Errorf("evaluate: code-host client not configured"))
	}

	prNumber, ok := ic.ActOpts["prNumber"].(int)
	if !ok {
		return executor.Result{Type: TypeError, Error: "evaluate: no prNumber in act opts"}, nil
	}

	state, err := e.PRs.GetPRState(ic.Context, prNumber)
	if err != nil {
		return executor.Result{Type: TypeError, Error: err.Error()}, nil
	}

	switch state {
	case "APPROVED":
		return executor.Result{Type: TypeApproved}, nil
	case "CHANGES_REQUESTED":
		return executor.Result{Type: TypeChangesRequested}, nil
	default:
		return executor.Result{Type: TypeWaiting}, nil
	}
}

// -----------------------------------------------------------------------
// Revise
// -----------------------------------------------------------------------

// Revise runs the iterative fix-verify cycle, grounded directly on
// workflow.FixHandler.
type Revise struct {
	Engine       *review.FixEngine
	ReviewReport string
	BaseBranch   string
	MaxCycles    int
}

func (e *Revise) Name() string { return "revise" }

func (e *Revise) ResultTypes() []string { return []string{TypeSuccess, TypeFailure, TypeError} }

func (e *Revise) Invoke(run *executor.Run, ic *executor.InvokeContext) (executor.Result, error) {
	if e.Engine == nil {
		return errResult(fmt.Errorf("revise: fix engine not configured"))
	}

	base := e.BaseBranch
	if base == "" {
		base = "main"
	}

	report, err := e.Engine.Fix(ic.Context, review.FixOpts{
		Findings:     []*review.Finding{},
		ReviewReport: e.ReviewReport,
		BaseBranch:   base,
		MaxCycles:    e.MaxCycles,
	})
	if err != nil {
		return executor.Result{Type: TypeFailure, Error: err.Error()}, nil
	}

	return executor.Result{
		Type:        TypeSuccess,
		OutcomeOpts: map[string]any{"fixesApplied": report.FixesApplied},
	}, nil
}

// -----------------------------------------------------------------------
// Merge
// -----------------------------------------------------------------------

// Merge squash-merges the PR and deletes its branch via the code-host
// adapter. No teacher equivalent exists (the teacher never merges PRs
// itself); grounded on the extended internal/review/pr.go's MergePR,
// which this executor calls through the codehost.Client contract.
type Merge struct {
	PRs executor.CodeHostClient
}

func (e *Merge) Name() string { return "merge" }

func (e *Merge) ResultTypes() []string { return []string{TypeSuccess, TypeFailure, TypeError} }

func (e *Merge) Invoke(run *executor.Run, ic *executor.InvokeContext) (executor.Result, error) {
	if e.PRs == nil {
		return errResult(fmt.Errorf("merge: code-host client not configured"))
	}

	prNumber, ok := ic.ActOpts["prNumber"].(int)
	if !ok {
		return executor.Result{Type: TypeError, Error: "merge: no prNumber in act opts"}, nil
	}

	if err := e.PRs.MergePR(ic.Context, prNumber); err != nil {
		return executor.Result{Type: TypeFailure, Error: err.Error()}, nil
	}
	return executor.Result{Type: TypeSuccess}, nil
}

// -----------------------------------------------------------------------
// AwaitDeploy / RunDeploy / Release / Publish
// -----------------------------------------------------------------------

// AwaitDeploy is the waiting-capable work-act polled while a deploy batch is
// in flight, grounded on the same board-scan idiom as AwaitReply.
type AwaitDeploy struct {
	Board interface {
		ScanDone(ctx context.Context) ([]string, error)
	}
}

func (e *AwaitDeploy) Name() string { return "await_deploy" }

func (e *AwaitDeploy) ResultTypes() []string { return []string{TypeWaiting, TypeSuccess, TypeError} }

func (e *AwaitDeploy) Invoke(run *executor.Run, ic *executor.InvokeContext) (executor.Result, error) {
	if e.Board == nil {
		return errResult(fmt.Errorf("await_deploy: board not configured"))
	}
	done, err := e.Board.ScanDone(ic.Context)
	if err != nil {
		return executor.Result{Type: TypeError, Error: err.Error()}, nil
	}
	for _, id := range done {
		if id == run.IssueID {
			return executor.Result{Type: TypeSuccess}, nil
		}
	}
	return executor.Result{Type: TypeWaiting}, nil
}

// RunDeploy runs the onMerged hook, passing the sibling issues sharing a
// deploy batch (ic.Extra["deployBatch"], injected via the "deploy" context
// provider per §4.7) as DEPLOY_BATCH; the onBeforeMerge hook is not run.
// deployStepTimeout bounds the whole act.
const deployStepTimeout = 10 * time.Minute

type HookRunner interface {
	Run(ctx context.Context, name string, env map[string]string) error
}

type RunDeploy struct {
	Hooks HookRunner
}

func (e *RunDeploy) Name() string { return "run_deploy" }

func (e *RunDeploy) ResultTypes() []string { return []string{TypeSuccess, TypeFailure, TypeError} }

func (e *RunDeploy) Invoke(run *executor.Run, ic *executor.InvokeContext) (executor.Result, error) {
	if e.Hooks == nil {
		return executor.Result{Type: TypeSuccess}, nil
	}

	ctx, cancel := context.WithTimeout(ic.Context, deployStepTimeout)
	defer cancel()

	batch, _ := ic.Extra["deployBatch"].([]string)
	env := map[string]string{
		"ISSUE_NUMBER": run.IssueID,
		"REPO":         run.Repo,
	}
	if len(batch) > 0 {
		env["DEPLOY_BATCH"] = fmt.Sprintf("%v", batch)
	}

	if err := e.Hooks.Run(ctx, "onMerged", env); err != nil {
		return executor.Result{Type: TypeFailure, Error: err.Error()}, nil
	}
	return executor.Result{Type: TypeSuccess}, nil
}

// Release queries the changelog provider and returns the generated notes in
// OutcomeOpts["notes"]; it does not publish a release itself. A nil
// Changelog yields success with no notes.
type Release struct {
	Changelog interface {
		Generate(ctx context.Context, repo string) (string, error)
	}
}

func (e *Release) Name() string { return "release" }

func (e *Release) ResultTypes() []string { return []string{TypeSuccess, TypeFailure, TypeError} }

func (e *Release) Invoke(run *executor.Run, ic *executor.InvokeContext) (executor.Result, error) {
	if e.Changelog == nil {
		return executor.Result{Type: TypeSuccess}, nil
	}
	notes, err := e.Changelog.Generate(ic.Context, run.Repo)
	if err != nil {
		return executor.Result{Type: TypeFailure, Error: err.Error()}, nil
	}
	return executor.Result{Type: TypeSuccess, OutcomeOpts: map[string]any{"notes": notes}}, nil
}

// Publish is the final work-act in the default graph; it notifies the
// operator that the issue has shipped.
type Publish struct {
	Notify executor.NotifyClient
}

func (e *Publish) Name() string { return "publish" }

func (e *Publish) ResultTypes() []string { return []string{TypeSuccess, TypeError} }

func (e *Publish) Invoke(run *executor.Run, ic *executor.InvokeContext) (executor.Result, error) {
	if e.Notify == nil {
		return executor.Result{Type: TypeSuccess}, nil
	}
	if err := e.Notify.Comment(ic.Context, run.IssueID, fmt.Sprintf("Released %s.", run.Title)); err != nil {
		if ic.Clients.Log != nil {
			ic.Clients.Log.Warn("publish: notify failed", "issue", run.IssueID, "error", err)
		}
	}
	return executor.Result{Type: TypeSuccess}, nil
}
