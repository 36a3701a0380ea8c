// Package board defines the contract-only board adapter (§4.7): the
// project-tracking system that is the source of truth for operator intent
// (which column a card sits in) but never for run state (that lives in the
// ledger). Concrete providers (github.go, linear.go) satisfy Adapter.
package board

import (
	"context"

	"github.com/warpmetrics/coder/internal/graph"
)

// Issue is one board card discovered in the initial column during intake.
type Issue struct {
	IssueID string
	Repo    string
	Title   string
}

// Item is a cached handle to a board card, attached to an open run once per
// poll cycle (§4.6 step 3) so later column syncs don't need a fresh query.
type Item struct {
	IssueID string
	Handle  any // provider-specific (e.g. a GitHub Projects v2 item node id)
}

// Adapter is the scheduler's view of the project-tracking board. Every
// method is scoped to the configured repos/project; ScanAborted/ScanDone/
// ScanBlocked read well-known terminal columns the scheduler never writes
// to directly (only SyncState writes).
type Adapter interface {
	// ScanNewIssues returns issues currently in the initial ("todo") column.
	ScanNewIssues(ctx context.Context) ([]Issue, error)

	// GetAllItems returns the full cached snapshot of board items, indexed
	// by the caller; refreshed once per poll cycle.
	GetAllItems(ctx context.Context) ([]Item, error)

	// ScanAborted returns issue ids currently in the Aborted column.
	ScanAborted(ctx context.Context) ([]string, error)

	// ScanDone returns issue ids currently in the Done (manual-release)
	// column.
	ScanDone(ctx context.Context) ([]string, error)

	// ScanBlocked returns issue ids currently in the Blocked column.
	ScanBlocked(ctx context.Context) ([]string, error)

	// SyncState moves item to the board column corresponding to col.
	// Fire-and-forget from the scheduler's perspective: failures are
	// logged, never propagated into run advancement.
	SyncState(ctx context.Context, item Item, col graph.BoardColumn) error
}
