package scheduler

import (
	"context"
	"fmt"

	"github.com/warpmetrics/coder/internal/board"
	"github.com/warpmetrics/coder/internal/executor"
	"github.com/warpmetrics/coder/internal/graph"
	"github.com/warpmetrics/coder/internal/ledger"
)

// maxAutoAdvance bounds the number of phase-group/executor hops processRun
// will chain through within a single poll cycle before giving up and
// deferring the rest to the next poll. A real graph never needs more than a
// handful; this is a backstop against a malformed custom graph's self-loop.
const maxAutoAdvance = 25

// partitionByPendingAct splits open runs with a pending act into a waiting
// set (phase-group auto-transitions and waiting-capable executors, advanced
// inline) and a work set (genuine executor invocations, advanced through the
// worker pool), per §4.6 step 6.
func (s *Scheduler) partitionByPendingAct(byIssue map[string]*ledger.OpenIssueRun) (waiting, work []*ledger.OpenIssueRun) {
	for _, run := range byIssue {
		if run.PendingAct == nil {
			continue
		}
		node, ok := s.Graph.Node(run.PendingAct.Name)
		if !ok {
			s.log().Error("scheduler: pending act references unknown node", "issue", run.IssueID, "act", run.PendingAct.Name)
			continue
		}
		if node.IsPhaseGroup() {
			waiting = append(waiting, run)
			continue
		}
		exec, err := s.Registry.Get(node.Executor)
		if err != nil {
			s.log().Error("scheduler: pending act references unregistered executor", "issue", run.IssueID, "executor", node.Executor, "error", err)
			continue
		}
		if executor.IsWaitingCapable(exec) {
			waiting = append(waiting, run)
			continue
		}
		work = append(work, run)
	}
	return waiting, work
}

// startWorkRun acquires a worker-pool slot for run and, once one is free,
// advances it in its own goroutine. If the pool is full, run is simply
// skipped this cycle — it remains pending and will be reconsidered at the
// next poll.
func (s *Scheduler) startWorkRun(ctx context.Context, run *ledger.OpenIssueRun) {
	if !s.markInFlight(run.IssueID) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.clearInFlight(run.IssueID)
		s.processRun(ctx, run)
	}()
}

// processRun advances run as far as it can go right now: it resolves the
// current pending act's node, either auto-transitions a phase-group node or
// invokes the node's executor, commits the resulting outcome/act atomically,
// fires the board sync and registered effect, and repeats for the newly
// pending act — stopping once there is no new pending act or the new act is
// the same as the one just processed (§4.6 step 8's continue-or-stop rule).
func (s *Scheduler) processRun(ctx context.Context, run *ledger.OpenIssueRun) {
	current := run.PendingAct
	for hop := 0; current != nil && hop < maxAutoAdvance; hop++ {
		node, ok := s.Graph.Node(current.Name)
		if !ok {
			s.log().Error("scheduler: pending act references unknown node", "issue", run.IssueID, "act", current.Name)
			return
		}

		var next *ledger.PendingAct
		var err error
		if node.IsPhaseGroup() {
			next, err = s.advancePhaseGroup(ctx, run, node)
		} else {
			next, err = s.advanceWorkAct(ctx, run, node, current)
		}
		if err != nil {
			s.log().Error("scheduler: advance run failed", "issue", run.IssueID, "act", current.Name, "error", err)
			return
		}

		if next == nil || next.Name == current.Name {
			return
		}
		current = next
	}
	if current != nil {
		s.log().Warn("scheduler: hit auto-advance cap, deferring remainder to next poll", "issue", run.IssueID, "act", current.Name)
	}
}

// advancePhaseGroup creates the sub-container for a phase-group node and
// follows its single "created" edge (§4.2's phase-group contract).
func (s *Scheduler) advancePhaseGroup(ctx context.Context, run *ledger.OpenIssueRun, node *graph.Node) (*ledger.PendingAct, error) {
	batch := s.Ledger.NewBatch(nil)
	groupID, err := batch.Group(run.ID, node.Label)
	if err != nil {
		return nil, fmt.Errorf("build group: %w", err)
	}
	run.Groups[node.Label] = groupID

	edges := node.Results[graph.CreatedResultType]
	if len(edges) == 0 {
		return nil, fmt.Errorf("phase group %q declares no %q edge", node.Label, graph.CreatedResultType)
	}

	var next *ledger.PendingAct
	for _, edge := range edges {
		container := s.resolveContainer(edge.In, run, groupID, node.Label)
		outcomeID, err := batch.Outcome(container, edge.Name, nil)
		if err != nil {
			return nil, fmt.Errorf("build outcome: %w", err)
		}
		if container != run.ID {
			if _, err := batch.Outcome(run.ID, edge.Name, nil); err != nil {
				return nil, fmt.Errorf("mirror outcome onto issue run: %w", err)
			}
		}
		if edge.HasNext {
			actID, err := batch.Act(outcomeID, edge.Next, nil)
			if err != nil {
				return nil, fmt.Errorf("build act: %w", err)
			}
			next = &ledger.PendingAct{ID: actID, Name: edge.Next}
		}
		s.runEdgeSideEffects(ctx, run, edge.Name)
	}

	if err := batch.Flush(ctx); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}
	run.LatestOutcome = edges[0].Name
	return next, nil
}

// advanceWorkAct invokes the executor registered for node, commits its
// result's edges, and returns the newly pending act (if any).
func (s *Scheduler) advanceWorkAct(ctx context.Context, run *ledger.OpenIssueRun, node *graph.Node, act *ledger.PendingAct) (*ledger.PendingAct, error) {
	exec, err := s.Registry.Get(node.Executor)
	if err != nil {
		return nil, fmt.Errorf("resolve executor %q: %w", node.Executor, err)
	}

	extra := map[string]any{}
	if provider, ok := s.ContextProviders[node.Executor]; ok {
		ctxVal, err := provider(ctx, *run)
		if err != nil {
			s.log().Error("scheduler: context provider failed", "executor", node.Executor, "issue", run.IssueID, "error", err)
		} else {
			extra = ctxVal
		}
	}

	canWait := executor.IsWaitingCapable(exec)

	batch := s.Ledger.NewBatch(nil)
	var pipelineRunID string
	if !canWait {
		id, err := batch.PipelineRun(act.ID)
		if err != nil {
			return nil, fmt.Errorf("build pipeline run: %w", err)
		}
		pipelineRunID = id
	}

	ic := &executor.InvokeContext{
		Context:       ctx,
		PipelineRunID: pipelineRunID,
		ActOpts:       act.Opts,
		Extra:         extra,
		Clients:       s.Clients,
	}
	execRun := &executor.Run{
		ID:            run.ID,
		IssueID:       run.IssueID,
		Repo:          run.Repo,
		Title:         run.Title,
		LatestOutcome: run.LatestOutcome,
		Groups:        run.Groups,
	}

	result, invokeErr := exec.Invoke(execRun, ic)
	if invokeErr != nil {
		result = executor.Result{Type: "error", Error: invokeErr.Error()}
	}

	if pipelineRunID == "" && result.Type != graph.WaitingResultType {
		id, err := batch.PipelineRun(act.ID)
		if err != nil {
			return nil, fmt.Errorf("build deferred pipeline run: %w", err)
		}
		pipelineRunID = id
	}
	if pipelineRunID != "" {
		stepOpts := map[string]any{
			"step":    node.Executor,
			"success": result.Type != "error",
		}
		if result.CostUSD != nil {
			stepOpts["costUsd"] = *result.CostUSD
		}
		if result.Error != "" {
			stepOpts["error"] = result.Error
		}
		if _, err := batch.Outcome(pipelineRunID, graph.OutcomeStep, stepOpts); err != nil {
			return nil, fmt.Errorf("build step outcome: %w", err)
		}
	}

	if result.Type == graph.WaitingResultType {
		if err := batch.Flush(ctx); err != nil {
			return nil, fmt.Errorf("flush: %w", err)
		}
		return nil, nil
	}

	declared, _ := s.Analysis.ResultTypesByExecutor[node.Executor]
	if declared != nil && !declared[result.Type] {
		return nil, fmt.Errorf("executor %q returned undeclared result type %q (graph violation)", node.Executor, result.Type)
	}

	edges, ok := node.Results[result.Type]
	if !ok || len(edges) == 0 {
		return nil, fmt.Errorf("node %q declares no edge for result type %q (graph violation)", node.Name, result.Type)
	}

	var next *ledger.PendingAct
	for _, edge := range edges {
		container := s.resolveContainer(edge.In, run, "", "")
		outcomeID, err := batch.Outcome(container, edge.Name, result.OutcomeOpts)
		if err != nil {
			return nil, fmt.Errorf("build outcome: %w", err)
		}
		if container != run.ID {
			if _, err := batch.Outcome(run.ID, edge.Name, result.OutcomeOpts); err != nil {
				return nil, fmt.Errorf("mirror outcome onto issue run: %w", err)
			}
		}
		if edge.HasNext {
			actID, err := batch.Act(outcomeID, edge.Next, result.NextActOpts)
			if err != nil {
				return nil, fmt.Errorf("build act: %w", err)
			}
			next = &ledger.PendingAct{ID: actID, Name: edge.Next, Opts: result.NextActOpts}
		}
		s.runEdgeSideEffects(ctx, run, edge.Name)
	}

	if err := batch.Flush(ctx); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}
	run.LatestOutcome = edges[0].Name

	if fn, ok := s.Effects[node.Executor+":"+result.Type]; ok {
		go func() {
			if err := fn(context.Background(), run, result); err != nil {
				s.log().Error("scheduler: effect failed", "key", node.Executor+":"+result.Type, "issue", run.IssueID, "error", err)
			}
		}()
	}

	return next, nil
}

// resolveContainer resolves an edge's `in` label to a container id: the
// issue run itself (empty or the reserved IssueContainer sentinel), the
// group just created this hop (matching label), or a group created in an
// earlier hop and carried in run.Groups.
func (s *Scheduler) resolveContainer(in string, run *ledger.OpenIssueRun, freshGroupID, freshGroupLabel string) string {
	if in == "" || in == graph.IssueContainer {
		return run.ID
	}
	if freshGroupLabel != "" && in == freshGroupLabel {
		return freshGroupID
	}
	if gid, ok := run.Groups[in]; ok {
		return gid
	}
	s.log().Warn("scheduler: edge references unresolved container label, defaulting to issue run", "issue", run.IssueID, "label", in)
	return run.ID
}

// runEdgeSideEffects fires the board sync for the column the just-recorded
// outcome maps to, if any. Fire-and-forget: failures are logged, never
// propagated into run advancement (§4.6 step 7).
func (s *Scheduler) runEdgeSideEffects(ctx context.Context, run *ledger.OpenIssueRun, outcome graph.OutcomeName) {
	col, ok := s.Graph.States[outcome]
	if !ok {
		return
	}
	item, ok := s.boardItem(run.IssueID)
	if !ok {
		return
	}
	s.syncBoard(ctx, item, col)
}

// syncBoard moves item to col in its own goroutine; failures are logged,
// never propagated into run advancement (§4.6 step 7).
func (s *Scheduler) syncBoard(ctx context.Context, item board.Item, col graph.BoardColumn) {
	if s.Board == nil {
		return
	}
	go func() {
		if err := s.Board.SyncState(context.Background(), item, col); err != nil {
			s.log().Error("scheduler: board sync failed", "issue", item.IssueID, "column", col, "error", err)
		}
	}()
	_ = ctx
}
