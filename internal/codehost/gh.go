package codehost

import (
	"context"
	"sync"

	"github.com/warpmetrics/coder/internal/review"
)

// GHClient adapts review.PRCreator (gh-CLI-backed) to the Client contract,
// adding a per-poll-cycle state cache keyed by PR number so a single poll
// cycle never re-shells out to gh for the same PR twice.
type GHClient struct {
	pc *review.PRCreator

	mu    sync.Mutex
	cache map[int]*PRState
}

// NewGHClient wraps an existing review.PRCreator.
func NewGHClient(pc *review.PRCreator) *GHClient {
	return &GHClient{pc: pc, cache: make(map[int]*PRState)}
}

func (g *GHClient) FindOpenPR(ctx context.Context, branchPattern string) (*PRState, error) {
	s, err := g.pc.FindOpenPR(ctx, branchPattern)
	if err != nil || s == nil {
		return nil, err
	}
	return fromReview(s), nil
}

func (g *GHClient) GetPRState(ctx context.Context, prNumber int) (*PRState, error) {
	g.mu.Lock()
	if cached, ok := g.cache[prNumber]; ok {
		g.mu.Unlock()
		return cached, nil
	}
	g.mu.Unlock()

	s, err := g.pc.GetPRState(ctx, prNumber)
	if err != nil {
		return nil, err
	}
	out := fromReview(s)

	g.mu.Lock()
	g.cache[prNumber] = out
	g.mu.Unlock()
	return out, nil
}

func (g *GHClient) GetReviewDecision(ctx context.Context, prNumber int) (string, error) {
	return g.pc.GetReviewDecision(ctx, prNumber)
}

func (g *GHClient) GetPRFiles(ctx context.Context, prNumber int) ([]string, error) {
	return g.pc.GetPRFiles(ctx, prNumber)
}

func (g *GHClient) GetPRCommits(ctx context.Context, prNumber int) ([]string, error) {
	return g.pc.GetPRCommits(ctx, prNumber)
}

func (g *GHClient) GetPRBranch(ctx context.Context, prNumber int) (string, error) {
	return g.pc.GetPRBranch(ctx, prNumber)
}

func (g *GHClient) SubmitReview(ctx context.Context, prNumber int, event ReviewEvent, body string) error {
	return g.pc.SubmitReview(ctx, prNumber, string(event), body)
}

func (g *GHClient) MergePR(ctx context.Context, prNumber int) error {
	return g.pc.MergePR(ctx, prNumber)
}

func (g *GHClient) ClearCache() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache = make(map[int]*PRState)
}

func fromReview(s *review.PRState) *PRState {
	return &PRState{Number: s.Number, State: s.State, Branch: s.Branch}
}
