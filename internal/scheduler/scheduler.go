// Package scheduler owns the poll loop, the in-flight work-act map, and
// processRun — the 8-step per-issue advancement loop described in §4.6.
// Grounded on the ultra-engineer polling daemon's ticker-driven Run/poll
// structure (internal/orchestrator/polling.go in the retrieval pack),
// generalized from a fixed issue-tracker poll to a graph-driven one.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"github.com/warpmetrics/coder/internal/board"
	"github.com/warpmetrics/coder/internal/executor"
	"github.com/warpmetrics/coder/internal/graph"
	"github.com/warpmetrics/coder/internal/ledger"
)

// ContextProviderFunc returns extra invocation context for the named
// executor, computed once per processRun step before the executor is
// invoked (§4.7's "context providers").
type ContextProviderFunc func(ctx context.Context, run ledger.OpenIssueRun) (map[string]any, error)

// EffectFunc is a best-effort side effect triggered by a specific
// "<executorName>:<resultType>" key after a result's edges have been
// committed. Failures are logged, never propagated (§4.6 step 7).
type EffectFunc func(ctx context.Context, run *ledger.OpenIssueRun, result executor.Result) error

// Config bundles the scheduler's tunables, mirroring §6's config table.
type Config struct {
	PollInterval time.Duration
	Concurrency  int
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
}

// Scheduler drives the poll loop against the ledger and board, advancing
// every open issue run through the compiled workflow graph.
type Scheduler struct {
	Ledger   *ledger.Client
	Board    board.Adapter
	Graph    *graph.Graph
	Analysis *graph.Analysis
	Registry *executor.Registry
	Clients  executor.Clients

	ContextProviders map[string]ContextProviderFunc
	Effects          map[string]EffectFunc

	Config Config
	Logger *log.Logger

	mu          sync.Mutex
	inFlight    map[string]struct{}
	sem         *semaphore.Weighted
	cachedItems map[string]board.Item
	wg          sync.WaitGroup

	runningMu sync.Mutex
	running   bool
	wakeCh    chan struct{}
}

// New constructs a Scheduler. Callers must set the adapter fields before
// calling Watch; a nil Board, Ledger, or Registry is a configuration error
// surfaced the first time the poll loop needs them.
func New(cfg Config, logger *log.Logger) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		Config:      cfg,
		Logger:      logger,
		inFlight:    make(map[string]struct{}),
		sem:         semaphore.NewWeighted(int64(cfg.Concurrency)),
		cachedItems: make(map[string]board.Item),
		wakeCh:      make(chan struct{}, 1),
	}
}

// Watch runs the poll loop until ctx is cancelled or the first shutdown
// signal is received, then waits for in-flight work-acts, per §4.6's
// shutdown semantics; a second signal exits the process with status 1.
// Returns nil on clean shutdown.
func (s *Scheduler) Watch(ctx context.Context) error {
	s.runningMu.Lock()
	s.running = true
	s.runningMu.Unlock()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	firstSignal := make(chan struct{})
	var closeOnce sync.Once
	go func() {
		sigCount := 0
		for range sigCh {
			sigCount++
			if sigCount == 1 {
				s.stopRunning()
				closeOnce.Do(func() { close(firstSignal) })
				continue
			}
			if s.Logger != nil {
				s.Logger.Warn("scheduler: second shutdown signal, forcing exit")
			}
			os.Exit(1)
		}
	}()

	s.log().Info("scheduler: starting poll loop", "pollInterval", s.Config.PollInterval, "concurrency", s.Config.Concurrency)

	for s.isRunning() {
		if err := s.poll(ctx); err != nil {
			s.log().Error("scheduler: poll cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.stopRunning()
		case <-firstSignal:
		case <-s.wakeCh:
		case <-time.After(s.Config.PollInterval):
		}
	}

	s.log().Info("scheduler: shutdown requested, waiting for in-flight work")
	s.waitForInFlight()
	s.log().Info("scheduler: shutdown complete")
	return nil
}

func (s *Scheduler) isRunning() bool {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	return s.running
}

func (s *Scheduler) stopRunning() {
	s.runningMu.Lock()
	s.running = false
	s.runningMu.Unlock()
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// waitForInFlight awaits every in-flight work-act task handle without
// cancelling them — executors must finish their current subprocess/HTTP
// call per §4.6.
func (s *Scheduler) waitForInFlight() {
	s.wg.Wait()
}

func (s *Scheduler) log() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

// markInFlight/clearInFlight track the issue ids currently occupying a
// worker-pool slot. The concurrency cap itself (max Config.Concurrency
// work-acts running at once, per §5) is enforced by sem; inFlight exists
// on top of it purely to dedup a run that is somehow still being advanced
// when the next poll cycle sees it again.
func (s *Scheduler) markInFlight(issueID string) bool {
	s.mu.Lock()
	if _, ok := s.inFlight[issueID]; ok {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	if !s.sem.TryAcquire(1) {
		return false
	}

	s.mu.Lock()
	s.inFlight[issueID] = struct{}{}
	s.mu.Unlock()
	return true
}

func (s *Scheduler) clearInFlight(issueID string) {
	s.mu.Lock()
	delete(s.inFlight, issueID)
	s.mu.Unlock()
	s.sem.Release(1)
}

func (s *Scheduler) inFlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// Step runs a single poll cycle and waits for whatever work it starts to
// finish before returning, for the "debug" command's one-act-at-a-time
// stepper (§4.10). Unlike Watch, it does not loop, install signal handlers,
// or respect PollInterval.
func (s *Scheduler) Step(ctx context.Context) error {
	if err := s.poll(ctx); err != nil {
		return err
	}
	s.waitForInFlight()
	return nil
}

// poll runs one iteration of the §4.6 poll cycle: load open runs, intake
// new board issues, attach board items, scan terminal columns, retry
// blocked runs, then partition the remaining pending acts into a waiting
// set (advanced inline) and a work set (advanced through the worker pool).
func (s *Scheduler) poll(ctx context.Context) error {
	runs, err := s.Ledger.FindOpenIssueRuns(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: load open runs: %w", err)
	}

	byIssue := make(map[string]*ledger.OpenIssueRun, len(runs))
	for i := range runs {
		byIssue[runs[i].IssueID] = &runs[i]
	}

	if err := s.intake(ctx, byIssue); err != nil {
		s.log().Error("scheduler: intake failed", "error", err)
	}

	s.attachBoardItems(ctx, byIssue)
	s.scanTerminalColumns(ctx, byIssue)
	s.retryFromBlocked(ctx, byIssue)

	waiting, work := s.partitionByPendingAct(byIssue)

	waitCap := s.Config.Concurrency * 5
	if waitCap < 10 {
		waitCap = 10
	}
	if len(waiting) > waitCap {
		s.log().Warn("scheduler: waiting-act set exceeds per-cycle cap, deferring remainder", "waiting", len(waiting), "cap", waitCap)
		waiting = waiting[:waitCap]
	}

	for _, run := range waiting {
		s.processRun(ctx, run)
	}

	for _, run := range work {
		s.startWorkRun(ctx, run)
	}

	return nil
}

// attachBoardItems queries the board's full item list once per cycle and
// caches the matching item per issue id (§4.6 step 3) for use by board
// sync.
func (s *Scheduler) attachBoardItems(ctx context.Context, byIssue map[string]*ledger.OpenIssueRun) {
	if s.Board == nil {
		return
	}
	items, err := s.Board.GetAllItems(ctx)
	if err != nil {
		s.log().Error("scheduler: get all board items", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cachedItems = make(map[string]board.Item, len(items))
	for _, it := range items {
		if _, ok := byIssue[it.IssueID]; ok {
			s.cachedItems[it.IssueID] = it
		}
	}
}

func (s *Scheduler) boardItem(issueID string) (board.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.cachedItems[issueID]
	return it, ok
}
