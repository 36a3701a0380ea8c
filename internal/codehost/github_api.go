package codehost

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/go-github/v55/github"
)

// GitHubAPIClient adapts google/go-github directly to the Client contract,
// as an alternative to the gh-CLI-backed GHClient for deployments that
// prefer a direct API token over a locally installed gh binary. Grounded
// on devdashboard's go-github client-wiring idiom, same as internal/board's
// GitHubBoard.
type GitHubAPIClient struct {
	client *github.Client
	owner  string
	repo   string

	mu    sync.Mutex
	cache map[int]*PRState
}

// NewGitHubAPIClient constructs a GitHubAPIClient. client is expected to
// carry an oauth2-authenticated transport (WARP_CODER_GITHUB_TOKEN).
func NewGitHubAPIClient(client *github.Client, owner, repo string) *GitHubAPIClient {
	return &GitHubAPIClient{client: client, owner: owner, repo: repo, cache: make(map[int]*PRState)}
}

func (c *GitHubAPIClient) FindOpenPR(ctx context.Context, branchPattern string) (*PRState, error) {
	prs, _, err := c.client.PullRequests.List(ctx, c.owner, c.repo, &github.PullRequestListOptions{
		State: "open",
		Head:  c.owner + ":" + branchPattern,
	})
	if err != nil {
		return nil, fmt.Errorf("codehost: list open prs for %s: %w", branchPattern, err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return toState(prs[0]), nil
}

func (c *GitHubAPIClient) GetPRState(ctx context.Context, prNumber int) (*PRState, error) {
	c.mu.Lock()
	if cached, ok := c.cache[prNumber]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	pr, _, err := c.client.PullRequests.Get(ctx, c.owner, c.repo, prNumber)
	if err != nil {
		return nil, fmt.Errorf("codehost: get pr %d: %w", prNumber, err)
	}
	out := toState(pr)

	c.mu.Lock()
	c.cache[prNumber] = out
	c.mu.Unlock()
	return out, nil
}

// GetReviewDecision reduces the PR's review list to an aggregate decision
// the same way GitHub's branch-protection check does: the most recent
// review per reviewer wins, and a single outstanding REQUEST_CHANGES beats
// any number of approvals.
func (c *GitHubAPIClient) GetReviewDecision(ctx context.Context, prNumber int) (string, error) {
	latest := make(map[int64]string)
	opts := &github.ListOptions{PerPage: 100}
	for {
		reviews, resp, err := c.client.PullRequests.ListReviews(ctx, c.owner, c.repo, prNumber, opts)
		if err != nil {
			return "", fmt.Errorf("codehost: list reviews for pr %d: %w", prNumber, err)
		}
		for _, rv := range reviews {
			state := rv.GetState()
			if state == "COMMENTED" || state == "DISMISSED" {
				continue
			}
			latest[rv.GetUser().GetID()] = state
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	if len(latest) == 0 {
		return "REVIEW_REQUIRED", nil
	}
	approved := false
	for _, state := range latest {
		if state == "CHANGES_REQUESTED" {
			return "CHANGES_REQUESTED", nil
		}
		if state == "APPROVED" {
			approved = true
		}
	}
	if approved {
		return "APPROVED", nil
	}
	return "REVIEW_REQUIRED", nil
}

func (c *GitHubAPIClient) GetPRFiles(ctx context.Context, prNumber int) ([]string, error) {
	var paths []string
	opts := &github.ListOptions{PerPage: 100}
	for {
		files, resp, err := c.client.PullRequests.ListFiles(ctx, c.owner, c.repo, prNumber, opts)
		if err != nil {
			return nil, fmt.Errorf("codehost: list files for pr %d: %w", prNumber, err)
		}
		for _, f := range files {
			paths = append(paths, f.GetFilename())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return paths, nil
}

func (c *GitHubAPIClient) GetPRCommits(ctx context.Context, prNumber int) ([]string, error) {
	var shas []string
	opts := &github.ListOptions{PerPage: 100}
	for {
		commits, resp, err := c.client.PullRequests.ListCommits(ctx, c.owner, c.repo, prNumber, opts)
		if err != nil {
			return nil, fmt.Errorf("codehost: list commits for pr %d: %w", prNumber, err)
		}
		for _, cm := range commits {
			shas = append(shas, cm.GetSHA())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return shas, nil
}

func (c *GitHubAPIClient) GetPRBranch(ctx context.Context, prNumber int) (string, error) {
	s, err := c.GetPRState(ctx, prNumber)
	if err != nil {
		return "", err
	}
	return s.Branch, nil
}

func (c *GitHubAPIClient) SubmitReview(ctx context.Context, prNumber int, event ReviewEvent, body string) error {
	_, _, err := c.client.PullRequests.CreateReview(ctx, c.owner, c.repo, prNumber, &github.PullRequestReviewRequest{
		Body:  github.String(body),
		Event: github.String(string(event)),
	})
	if err != nil {
		return fmt.Errorf("codehost: submit review for pr %d: %w", prNumber, err)
	}
	return nil
}

func (c *GitHubAPIClient) MergePR(ctx context.Context, prNumber int) error {
	_, _, err := c.client.PullRequests.Merge(ctx, c.owner, c.repo, prNumber, "", &github.PullRequestOptions{
		MergeMethod: "squash",
	})
	if err != nil {
		return fmt.Errorf("codehost: merge pr %d: %w", prNumber, err)
	}
	return nil
}

func (c *GitHubAPIClient) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[int]*PRState)
}

func toState(pr *github.PullRequest) *PRState {
	state := pr.GetState()
	if pr.GetMerged() {
		state = "MERGED"
	} else if state == "open" {
		state = "OPEN"
	} else if state == "closed" {
		state = "CLOSED"
	}
	return &PRState{
		Number: pr.GetNumber(),
		State:  state,
		Branch: pr.GetHead().GetRef(),
	}
}
