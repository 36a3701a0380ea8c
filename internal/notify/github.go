package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/go-github/v55/github"
)

// GitHubClient posts notifications as issue comments, grounded on
// devdashboard's go-github client-wiring idiom (single *github.Client,
// owner/repo pair) already used by internal/board.GitHubBoard and
// internal/codehost.GitHubAPIClient.
type GitHubClient struct {
	client *github.Client
	owner  string
	repo   string
}

// NewGitHubClient constructs a GitHubClient. client is expected to carry
// an oauth2-authenticated transport (WARP_CODER_GITHUB_TOKEN).
func NewGitHubClient(client *github.Client, owner, repo string) *GitHubClient {
	return &GitHubClient{client: client, owner: owner, repo: repo}
}

func (g *GitHubClient) Comment(ctx context.Context, issueID string, opts CommentOpts) error {
	num, err := strconv.Atoi(issueID)
	if err != nil {
		return fmt.Errorf("notify: invalid issue id %q: %w", issueID, err)
	}

	body := opts.Body
	if opts.Marker != "" {
		body = opts.Marker + "\n" + body
	}

	_, _, err = g.client.Issues.CreateComment(ctx, g.owner, g.repo, num, &github.IssueComment{
		Body: github.String(body),
	})
	if err != nil {
		return fmt.Errorf("notify: comment on issue %s: %w", issueID, err)
	}
	return nil
}
