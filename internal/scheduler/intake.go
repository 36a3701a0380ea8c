package scheduler

import (
	"context"
	"fmt"

	"github.com/warpmetrics/coder/internal/graph"
	"github.com/warpmetrics/coder/internal/ledger"
)

// intake scans the board's initial column for issues with no open run and
// starts one for each, per §4.6 step 2: a single event batch recording the
// new Issue Run, its Started outcome, and the graph's initial act.
func (s *Scheduler) intake(ctx context.Context, byIssue map[string]*ledger.OpenIssueRun) error {
	if s.Board == nil {
		return nil
	}
	issues, err := s.Board.ScanNewIssues(ctx)
	if err != nil {
		return fmt.Errorf("scan new issues: %w", err)
	}

	var flushErr error
	for _, issue := range issues {
		if _, exists := byIssue[issue.IssueID]; exists {
			continue
		}

		batch := s.Ledger.NewBatch(nil)
		runID, err := batch.Run(issue.IssueID, issue.Repo, issue.Title, nil)
		if err != nil {
			s.log().Error("scheduler: build intake run id", "issue", issue.IssueID, "error", err)
			continue
		}
		outcomeID, err := batch.Outcome(runID, graph.OutcomeStarted, nil)
		if err != nil {
			s.log().Error("scheduler: build intake outcome id", "issue", issue.IssueID, "error", err)
			continue
		}
		if _, err := batch.Act(outcomeID, s.Graph.InitialAct, nil); err != nil {
			s.log().Error("scheduler: build intake act id", "issue", issue.IssueID, "error", err)
			continue
		}

		if err := batch.Flush(ctx); err != nil {
			s.log().Error("scheduler: flush intake batch", "issue", issue.IssueID, "error", err)
			flushErr = err
			continue
		}
		s.log().Info("scheduler: started run", "issue", issue.IssueID, "repo", issue.Repo)
	}
	return flushErr
}

// scanTerminalColumns closes out runs whose board card has been moved to
// Aborted or Done (manual release) since the last poll, per §4.6 step 4.
// Closed issue ids are removed from byIssue so the rest of this cycle does
// not try to advance them.
func (s *Scheduler) scanTerminalColumns(ctx context.Context, byIssue map[string]*ledger.OpenIssueRun) {
	if s.Board == nil {
		return
	}

	if aborted, err := s.Board.ScanAborted(ctx); err != nil {
		s.log().Error("scheduler: scan aborted column", "error", err)
	} else {
		s.closeRuns(ctx, byIssue, aborted, graph.OutcomeAborted)
	}

	if done, err := s.Board.ScanDone(ctx); err != nil {
		s.log().Error("scheduler: scan done column", "error", err)
	} else {
		s.closeRuns(ctx, byIssue, done, graph.OutcomeManualRelease)
	}
}

func (s *Scheduler) closeRuns(ctx context.Context, byIssue map[string]*ledger.OpenIssueRun, issueIDs []string, outcome graph.OutcomeName) {
	for _, issueID := range issueIDs {
		run, ok := byIssue[issueID]
		if !ok {
			continue
		}
		batch := s.Ledger.NewBatch(nil)
		if _, err := batch.Outcome(run.ID, outcome, nil); err != nil {
			s.log().Error("scheduler: build terminal outcome", "issue", issueID, "error", err)
			continue
		}
		if err := batch.Flush(ctx); err != nil {
			s.log().Error("scheduler: flush terminal outcome", "issue", issueID, "outcome", outcome, "error", err)
			continue
		}
		delete(byIssue, issueID)
	}
}

// retryFromBlocked re-emits the retry target act for any run an operator has
// moved out of the Blocked column back onto the board, per §4.6 step 5: it
// records a Resumed outcome on the run (or on its phase group, when the
// target act belongs to one) and emits the retry act from that outcome. A
// run only has a retry target when its latest outcome is a registered
// failure-classified terminal outcome (graph.Analysis.RetryTargets).
func (s *Scheduler) retryFromBlocked(ctx context.Context, byIssue map[string]*ledger.OpenIssueRun) {
	if s.Board == nil || s.Analysis == nil {
		return
	}
	blocked, err := s.Board.ScanBlocked(ctx)
	if err != nil {
		s.log().Error("scheduler: scan blocked column", "error", err)
		return
	}

	blockedSet := make(map[string]bool, len(blocked))
	for _, id := range blocked {
		blockedSet[id] = true
	}

	for issueID, run := range byIssue {
		if blockedSet[issueID] || run.PendingAct != nil {
			continue
		}
		target, ok := s.Analysis.RetryTargets[run.LatestOutcome]
		if !ok {
			continue
		}

		container := run.ID
		if target.GroupLabel != "" {
			if gid, ok := run.Groups[target.GroupLabel]; ok {
				container = gid
			}
		}

		batch := s.Ledger.NewBatch(nil)
		outcomeID, err := batch.Outcome(container, graph.OutcomeResumed, nil)
		if err != nil {
			s.log().Error("scheduler: build resumed outcome", "issue", issueID, "error", err)
			continue
		}
		if _, err := batch.Act(outcomeID, target.ActName, nil); err != nil {
			s.log().Error("scheduler: build retry act", "issue", issueID, "error", err)
			continue
		}
		if err := batch.Flush(ctx); err != nil {
			s.log().Error("scheduler: flush retry act", "issue", issueID, "error", err)
			continue
		}
		s.log().Info("scheduler: retried run", "issue", issueID, "act", target.ActName)

		if item, ok := s.boardItem(issueID); ok && target.BoardState != "" {
			s.syncBoard(ctx, item, target.BoardState)
		}
	}
}
