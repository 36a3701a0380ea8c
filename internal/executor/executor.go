// Package executor defines the tagged-result contract every workflow step
// implements (§4.5) and the registry mapping executor names to
// implementations, adapted from the workflow engine's StepHandler/Registry
// pair.
package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warpmetrics/coder/internal/graph"
)

// ErrNotFound is returned by Get when no executor is registered under the
// requested name.
var ErrNotFound = fmt.Errorf("executor: not found")

// Result is the typed, tagged value every executor invocation produces, per
// §4.5. Type must be one of the executor's declared ResultTypes(); the
// scheduler enforces this and halts advancement (GraphViolation) if it is
// not.
type Result struct {
	Type string

	CostUSD *float64
	Trace   *Trace

	// OutcomeOpts is attached to every outcome this result produces.
	OutcomeOpts map[string]any
	// NextActOpts is set as opts on the act this result emits, if any.
	NextActOpts map[string]any

	// Result-specific fields. Not every executor populates every field;
	// callers switch on Type to know which are meaningful.
	Error         string
	Question      string
	SessionID     string
	PRs           []PRRef
	BatchedIssues []string
}

// PRRef identifies a pull request created or touched by an executor.
type PRRef struct {
	Repo   string
	Number int
}

// Trace is an execution trace record attached to a Result for ledger
// telemetry (pipeline run cost/duration/status).
type Trace struct {
	DurationMS int64
	ExitCode   int
	SessionID  string
}

// Run is the read-only issue-run state an executor consumes. It is a
// narrowed view of the ledger's projection — executors must never mutate it
// directly (§4.5); all mutation happens via the scheduler committing the
// Result's edges to the ledger.
type Run struct {
	ID           string
	IssueID      string
	Repo         string
	Title        string
	LatestOutcome graph.OutcomeName
	Groups       map[string]string // phase-group label -> group id
}

// InvokeContext bundles the adapter clients and per-invocation context an
// executor receives, per §4.5's `{config, clients, context}` triple.
type InvokeContext struct {
	Context context.Context

	PipelineRunID string
	ActOpts       map[string]any
	Extra         map[string]any

	Clients Clients
}

// Clients is the adapter bundle an executor may call into. Every field is
// an interface so executors can be unit tested against fakes; nil fields
// are tolerated by builtin executors, which return a descriptive `error`
// result rather than panicking — the same nil-dependency-injection idiom
// the teacher's handlers.go uses so executors can be registered before
// their runtime dependencies are wired.
type Clients struct {
	Git    GitClient
	PRs    CodeHostClient
	Issues IssuesClient
	Notify NotifyClient
	Coder  CoderClient
	Warp   LedgerClient
	Log    Logger
}

// Logger is the minimal logging surface executors need; satisfied by
// *log.Logger (charmbracelet/log).
type Logger interface {
	Debug(msg interface{}, kv ...interface{})
	Info(msg interface{}, kv ...interface{})
	Warn(msg interface{}, kv ...interface{})
	Error(msg interface{}, kv ...interface{})
}

// GitClient, CodeHostClient, IssuesClient, NotifyClient, CoderClient, and
// LedgerClient are declared minimally here (the subset executors actually
// call) to avoid an import cycle with the concrete adapter packages,
// matching the contract-only adapter boundary of §4.7. Concrete adapters
// (internal/git, internal/codehost, internal/board, internal/notify,
// internal/agent, internal/ledger) satisfy these structurally.
type GitClient interface {
	CurrentBranch(ctx context.Context) (string, error)
	CreateBranch(ctx context.Context, name string) error
	Push(ctx context.Context, branch string, forceWithLease bool) error
}

type CodeHostClient interface {
	CreatePR(ctx context.Context, opts any) (PRRef, error)
	SubmitReview(ctx context.Context, prNumber int, event, body string) error
	MergePR(ctx context.Context, prNumber int) error
	GetPRState(ctx context.Context, prNumber int) (string, error)
}

type IssuesClient interface {
	GetIssueBody(ctx context.Context, issueID string) (string, error)
	GetIssueComments(ctx context.Context, issueID string) ([]string, error)
}

type NotifyClient interface {
	Comment(ctx context.Context, issueID, body string) error
}

type CoderClient interface {
	Run(ctx context.Context, prompt string, opts any) (*Trace, string, error)
	OneShot(ctx context.Context, prompt string, opts any) (*Trace, string, error)
}

type LedgerClient interface {
	FindOpenIssueRuns(ctx context.Context) ([]any, error)
}

// Executor is a named function with declared ResultTypes, consuming a Run
// and InvokeContext and producing a Result, per §4.5.
type Executor interface {
	// Name returns the executor's registered name (used as actExecutor's
	// value and as the effect-lookup key `"<name>:<resultType>"`).
	Name() string

	// ResultTypes returns the full set of result-type tags this executor
	// may return. Used for static validation (graph nodes using this
	// executor must declare exactly this set) and to determine
	// waiting-capability (contains "waiting").
	ResultTypes() []string

	// Invoke runs the executor. The returned Result.Type must be one of
	// ResultTypes(); the scheduler enforces this.
	Invoke(run *Run, ic *InvokeContext) (Result, error)
}

// IsWaitingCapable reports whether e declares the "waiting" result type.
func IsWaitingCapable(e Executor) bool {
	for _, rt := range e.ResultTypes() {
		if rt == graph.WaitingResultType {
			return true
		}
	}
	return false
}

// Registry maps executor names to implementations. Safe for concurrent use:
// the scheduler's worker-pool goroutines only call Get/Has/List, never
// Register, after startup, but the mutex keeps the contract honest.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds e under e.Name(). Panics on a nil executor, an empty name,
// or a duplicate registration — mirroring the workflow engine's registry,
// since these are all programmer errors caught at startup, not runtime
// conditions to recover from.
func (r *Registry) Register(e Executor) {
	if e == nil {
		panic("executor: cannot register nil executor")
	}
	name := e.Name()
	if name == "" {
		panic("executor: cannot register executor with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[name]; exists {
		panic(fmt.Sprintf("executor: duplicate registration for %q", name))
	}
	r.executors[name] = e
}

// Get returns the executor registered under name, or ErrNotFound.
func (r *Registry) Get(name string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[name]
	if !ok {
		return nil, fmt.Errorf("executor %q: %w", name, ErrNotFound)
	}
	return e, nil
}

// MustGet is like Get but panics on error; used at startup wiring where a
// missing executor is a configuration bug.
func (r *Registry) MustGet(name string) Executor {
	e, err := r.Get(name)
	if err != nil {
		panic(err)
	}
	return e
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[name]
	return ok
}

// List returns all registered executor names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResultTypes implements graph.ResultTypesProvider so the graph validator
// can cross-check declared result types without importing this package's
// Executor interface directly.
func (r *Registry) ResultTypes(name string) ([]string, bool) {
	e, err := r.Get(name)
	if err != nil {
		return nil, false
	}
	return e.ResultTypes(), true
}
