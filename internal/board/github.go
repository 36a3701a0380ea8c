package board

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v55/github"

	"github.com/warpmetrics/coder/internal/graph"
)

// GitHubBoard implements Adapter against GitHub issues using label-as-column
// convention (board.columns in config maps a symbolic column to a label
// name, e.g. column "todo" -> label "status:todo"), grounded on
// devdashboard's go-github client-wiring idiom (a single *github.Client
// reused across calls, repo identified as owner/name pairs).
type GitHubBoard struct {
	client  *github.Client
	owner   string
	repos   []string
	columns map[graph.BoardColumn]string // symbolic column -> label name
}

// NewGitHubBoard constructs a GitHubBoard. client is expected to already
// carry an oauth2-authenticated transport (see buildEngineDeps in
// internal/cli/engine_build.go, which uses golang.org/x/oauth2.StaticTokenSource with
// WARP_CODER_GITHUB_TOKEN).
func NewGitHubBoard(client *github.Client, owner string, repos []string, columns map[graph.BoardColumn]string) *GitHubBoard {
	return &GitHubBoard{client: client, owner: owner, repos: repos, columns: columns}
}

func (b *GitHubBoard) labelFor(col graph.BoardColumn) string {
	if l, ok := b.columns[col]; ok {
		return l
	}
	return "status:" + string(col)
}

func (b *GitHubBoard) issuesWithLabel(ctx context.Context, label string) ([]*github.Issue, error) {
	var all []*github.Issue
	for _, repo := range b.repos {
		opts := &github.IssueListByRepoOptions{
			Labels: []string{label},
			State:  "open",
			ListOptions: github.ListOptions{PerPage: 100},
		}
		for {
			issues, resp, err := b.client.Issues.ListByRepo(ctx, b.owner, repo, opts)
			if err != nil {
				return nil, fmt.Errorf("board: list %s/%s issues with label %q: %w", b.owner, repo, label, err)
			}
			all = append(all, issues...)
			if resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}
	}
	return all, nil
}

func (b *GitHubBoard) ScanNewIssues(ctx context.Context) ([]Issue, error) {
	raw, err := b.issuesWithLabel(ctx, b.labelFor(graph.ColumnTodo))
	if err != nil {
		return nil, err
	}
	out := make([]Issue, 0, len(raw))
	for _, gi := range raw {
		if gi.IsPullRequest() {
			continue
		}
		repo := ""
		if gi.Repository != nil {
			repo = gi.Repository.GetName()
		}
		out = append(out, Issue{
			IssueID: fmt.Sprintf("%d", gi.GetNumber()),
			Repo:    strings.TrimPrefix(repo, b.owner+"/"),
			Title:   gi.GetTitle(),
		})
	}
	return out, nil
}

func (b *GitHubBoard) GetAllItems(ctx context.Context) ([]Item, error) {
	var items []Item
	for _, repo := range b.repos {
		opts := &github.IssueListByRepoOptions{State: "open", ListOptions: github.ListOptions{PerPage: 100}}
		for {
			issues, resp, err := b.client.Issues.ListByRepo(ctx, b.owner, repo, opts)
			if err != nil {
				return nil, fmt.Errorf("board: list %s/%s issues: %w", b.owner, repo, err)
			}
			for _, gi := range issues {
				if gi.IsPullRequest() {
					continue
				}
				items = append(items, Item{
					IssueID: fmt.Sprintf("%d", gi.GetNumber()),
					Handle:  struct{ Repo string }{Repo: repo},
				})
			}
			if resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}
	}
	return items, nil
}

func (b *GitHubBoard) scanColumn(ctx context.Context, col graph.BoardColumn) ([]string, error) {
	raw, err := b.issuesWithLabel(ctx, b.labelFor(col))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(raw))
	for _, gi := range raw {
		ids = append(ids, fmt.Sprintf("%d", gi.GetNumber()))
	}
	return ids, nil
}

func (b *GitHubBoard) ScanAborted(ctx context.Context) ([]string, error) { return b.scanColumn(ctx, graph.ColumnAborted) }
func (b *GitHubBoard) ScanDone(ctx context.Context) ([]string, error)    { return b.scanColumn(ctx, graph.ColumnDone) }
func (b *GitHubBoard) ScanBlocked(ctx context.Context) ([]string, error) { return b.scanColumn(ctx, graph.ColumnBlocked) }

// SyncState replaces the issue's column label with the one matching col.
// Best-effort: the scheduler treats this as fire-and-forget.
func (b *GitHubBoard) SyncState(ctx context.Context, item Item, col graph.BoardColumn) error {
	repoHolder, ok := item.Handle.(struct{ Repo string })
	if !ok {
		return fmt.Errorf("board: item %s has no repo handle", item.IssueID)
	}
	var num int
	if _, err := fmt.Sscanf(item.IssueID, "%d", &num); err != nil {
		return fmt.Errorf("board: invalid issue id %q: %w", item.IssueID, err)
	}

	for want := range b.columns {
		label := b.labelFor(want)
		if want == col {
			continue
		}
		_, _ = b.client.Issues.RemoveLabelForIssue(ctx, b.owner, repoHolder.Repo, num, label)
	}
	_, _, err := b.client.Issues.AddLabelsToIssue(ctx, b.owner, repoHolder.Repo, num, []string{b.labelFor(col)})
	if err != nil {
		return fmt.Errorf("board: sync issue %s to column %q: %w", item.IssueID, col, err)
	}
	return nil
}
