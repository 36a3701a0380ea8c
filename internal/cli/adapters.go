package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/go-github/v55/github"

	"github.com/warpmetrics/coder/internal/agent"
	"github.com/warpmetrics/coder/internal/codehost"
	"github.com/warpmetrics/coder/internal/executor"
	"github.com/warpmetrics/coder/internal/ledger"
	"github.com/warpmetrics/coder/internal/notify"
	"github.com/warpmetrics/coder/internal/review"
)

// This file composes the concrete adapter packages (codehost, notify,
// go-github, internal/agent, internal/ledger) into the narrow interfaces
// internal/executor declares, per SPEC_FULL.md §4.7's "contract-only
// adapter, composed at the root" boundary. None of these types are
// exported beyond the cli package -- they exist only to be constructed
// once in buildEngineDeps and handed to the scheduler as executor.Clients.

// -----------------------------------------------------------------------
// Code host
// -----------------------------------------------------------------------

// PRCreateOpts is the opts value executor.CodeHostClient.CreatePR expects,
// type-asserted out of the `any` parameter the narrow interface declares.
type PRCreateOpts struct {
	Title      string
	Body       string
	BaseBranch string
	Draft      bool
}

// codeHostAdapter satisfies executor.CodeHostClient by composing a
// codehost.Client (PR lifecycle/review-decision queries) with a
// review.PRCreator (PR creation, which lives in internal/review since it
// also drives the CheckPrerequisites/EnsureBranchPushed preamble the
// Implement executor calls directly).
//
// GetPRState is deliberately wired to the code host's GetReviewDecision,
// not its GetPRState: executor.CodeHostClient's GetPRState is consumed by
// builtin.Evaluate, which switches on "APPROVED"/"CHANGES_REQUESTED" --
// review-decision values, not the OPEN/CLOSED/MERGED lifecycle state
// codehost.Client.GetPRState reports.
type codeHostAdapter struct {
	client  codehost.Client
	creator *review.PRCreator
}

func newCodeHostAdapter(client codehost.Client, creator *review.PRCreator) *codeHostAdapter {
	return &codeHostAdapter{client: client, creator: creator}
}

func (a *codeHostAdapter) CreatePR(ctx context.Context, opts any) (executor.PRRef, error) {
	po, ok := opts.(PRCreateOpts)
	if !ok {
		return executor.PRRef{}, fmt.Errorf("codehost adapter: CreatePR expects cli.PRCreateOpts, got %T", opts)
	}
	res, err := a.creator.Create(ctx, review.PRCreateOpts{
		Title:      po.Title,
		Body:       po.Body,
		BaseBranch: po.BaseBranch,
		Draft:      po.Draft,
	})
	if err != nil {
		return executor.PRRef{}, err
	}
	return executor.PRRef{Number: res.Number}, nil
}

func (a *codeHostAdapter) SubmitReview(ctx context.Context, prNumber int, event, body string) error {
	return a.client.SubmitReview(ctx, prNumber, codehost.ReviewEvent(event), body)
}

func (a *codeHostAdapter) MergePR(ctx context.Context, prNumber int) error {
	return a.client.MergePR(ctx, prNumber)
}

func (a *codeHostAdapter) GetPRState(ctx context.Context, prNumber int) (string, error) {
	return a.client.GetReviewDecision(ctx, prNumber)
}

// -----------------------------------------------------------------------
// Issues
// -----------------------------------------------------------------------

// githubIssuesAdapter satisfies executor.IssuesClient against the GitHub
// issues API, grounded on the same go-github client-wiring idiom as
// internal/board.GitHubBoard and internal/codehost.GitHubAPIClient.
type githubIssuesAdapter struct {
	client *github.Client
	owner  string
	repo   string
}

func newGitHubIssuesAdapter(client *github.Client, owner, repo string) *githubIssuesAdapter {
	return &githubIssuesAdapter{client: client, owner: owner, repo: repo}
}

func (a *githubIssuesAdapter) GetIssueBody(ctx context.Context, issueID string) (string, error) {
	num, err := strconv.Atoi(issueID)
	if err != nil {
		return "", fmt.Errorf("issues adapter: invalid issue id %q: %w", issueID, err)
	}
	issue, _, err := a.client.Issues.Get(ctx, a.owner, a.repo, num)
	if err != nil {
		return "", fmt.Errorf("issues adapter: get issue %s: %w", issueID, err)
	}
	return issue.GetBody(), nil
}

func (a *githubIssuesAdapter) GetIssueComments(ctx context.Context, issueID string) ([]string, error) {
	num, err := strconv.Atoi(issueID)
	if err != nil {
		return nil, fmt.Errorf("issues adapter: invalid issue id %q: %w", issueID, err)
	}
	var bodies []string
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		comments, resp, err := a.client.Issues.ListComments(ctx, a.owner, a.repo, num, opts)
		if err != nil {
			return nil, fmt.Errorf("issues adapter: list comments on %s: %w", issueID, err)
		}
		for _, c := range comments {
			bodies = append(bodies, c.GetBody())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return bodies, nil
}

// -----------------------------------------------------------------------
// Notify
// -----------------------------------------------------------------------

// notifyAdapter narrows a notify.Client (GitHubClient or TelegramClient) to
// executor.NotifyClient's bare-string-body Comment signature, attaching no
// marker -- callers wanting a marker (e.g. the clarification-question
// effect) prefix it onto body themselves before calling Comment.
type notifyAdapter struct {
	client notify.Client
	marker string
}

func newNotifyAdapter(client notify.Client, marker string) *notifyAdapter {
	return &notifyAdapter{client: client, marker: marker}
}

func (a *notifyAdapter) Comment(ctx context.Context, issueID, body string) error {
	return a.client.Comment(ctx, issueID, notify.CommentOpts{Body: body, Marker: a.marker})
}

// -----------------------------------------------------------------------
// Coder
// -----------------------------------------------------------------------

// coderOpts is the opts value executor.CoderClient.Run/OneShot expect.
type coderOpts struct {
	WorkDir string
	Model   string
}

// coderAdapter satisfies executor.CoderClient against an agent.Agent
// (normally the claude adapter), translating its RunResult/RunOpts shape
// into the executor package's narrower Trace/string contract. Session
// resumption and retry backoff stay inside internal/loop.Runner, which
// uses the agent.Agent interface directly for the Implement work-act;
// this adapter exists for executors (none shipped yet, but declared in
// the contract per §4.7) that need a bare coder call outside the loop.
type coderAdapter struct {
	agent agent.Agent
}

func newCoderAdapter(a agent.Agent) *coderAdapter {
	return &coderAdapter{agent: a}
}

const oneShotTimeout = 60 * time.Second

func (a *coderAdapter) Run(ctx context.Context, prompt string, opts any) (*executor.Trace, string, error) {
	return a.invoke(ctx, prompt, opts, a.agent.Run)
}

func (a *coderAdapter) OneShot(ctx context.Context, prompt string, opts any) (*executor.Trace, string, error) {
	ctx, cancel := context.WithTimeout(ctx, oneShotTimeout)
	defer cancel()
	return a.invoke(ctx, prompt, opts, a.agent.Run)
}

func (a *coderAdapter) invoke(
	ctx context.Context,
	prompt string,
	opts any,
	run func(context.Context, agent.RunOpts) (*agent.RunResult, error),
) (*executor.Trace, string, error) {
	co, _ := opts.(coderOpts)
	result, err := run(ctx, agent.RunOpts{
		Prompt:  prompt,
		Model:   co.Model,
		WorkDir: co.WorkDir,
	})
	if err != nil {
		return nil, "", err
	}
	trace := &executor.Trace{
		DurationMS: result.Duration.Milliseconds(),
		ExitCode:   result.ExitCode,
	}
	return trace, result.Stdout, nil
}

// -----------------------------------------------------------------------
// Ledger
// -----------------------------------------------------------------------

// ledgerAdapter narrows *ledger.Client to executor.LedgerClient's
// any-slice FindOpenIssueRuns signature, used by executors that need to
// cross-reference sibling runs (none shipped yet; declared per §4.7's
// "deploy" context provider, which calls ledger.Client.FindOpenIssueRuns
// directly rather than through this narrow adapter).
type ledgerAdapter struct {
	client *ledger.Client
}

func newLedgerAdapter(client *ledger.Client) *ledgerAdapter {
	return &ledgerAdapter{client: client}
}

func (a *ledgerAdapter) FindOpenIssueRuns(ctx context.Context) ([]any, error) {
	runs, err := a.client.FindOpenIssueRuns(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(runs))
	for i, r := range runs {
		out[i] = r
	}
	return out, nil
}

// -----------------------------------------------------------------------
// Changelog
// -----------------------------------------------------------------------

// changelogAdapter satisfies builtin.Release's anonymous Changelog
// interface (Generate(ctx, repo) (string, error)) over go-github's
// repository-comparison API: it diffs the latest two tags and renders
// their commit subjects as a flat changelog, grounded on devdashboard's
// go-github wiring -- no new dependency introduced, per SPEC_FULL.md
// §4.7.
type changelogAdapter struct {
	client *github.Client
	owner  string
}

func newChangelogAdapter(client *github.Client, owner string) *changelogAdapter {
	return &changelogAdapter{client: client, owner: owner}
}

func (a *changelogAdapter) Generate(ctx context.Context, repo string) (string, error) {
	tags, _, err := a.client.Repositories.ListTags(ctx, a.owner, repo, &github.ListOptions{PerPage: 2})
	if err != nil {
		return "", fmt.Errorf("changelog: list tags for %s: %w", repo, err)
	}
	if len(tags) < 2 {
		return "Initial release.", nil
	}

	comparison, _, err := a.client.Repositories.CompareCommits(ctx, a.owner, repo, tags[1].GetName(), tags[0].GetName(), nil)
	if err != nil {
		return "", fmt.Errorf("changelog: compare %s..%s for %s: %w", tags[1].GetName(), tags[0].GetName(), repo, err)
	}

	notes := fmt.Sprintf("Changes since %s:\n", tags[1].GetName())
	for _, c := range comparison.Commits {
		notes += fmt.Sprintf("- %s\n", firstLine(c.GetCommit().GetMessage()))
	}
	return notes, nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
