// Package notify defines the contract-only notify adapter (§4.7): the
// side channel executors use to surface a question or error to a human,
// distinct from the board (column) and ledger (history) adapters.
package notify

import "context"

// CommentOpts is a single notification posted against an issue.
type CommentOpts struct {
	// Body is the Markdown comment body.
	Body string

	// Marker is an HTML-comment tag (e.g. "<!-- warp-coder:question -->")
	// prefixed onto Body so a later poll can recognize and avoid
	// re-posting the same notification.
	Marker string
}

// Client posts operator-facing notifications for a run.
type Client interface {
	// Comment posts opts against issueID. Implementations are expected to
	// be idempotent with respect to Marker where the underlying system
	// supports searching prior comments; where it doesn't, duplicate
	// markers are the caller's (scheduler's) responsibility to avoid.
	Comment(ctx context.Context, issueID string, opts CommentOpts) error
}
