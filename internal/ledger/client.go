package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/warpmetrics/coder/internal/graph"
)

// httpTimeout is the bounded timeout for every ledger HTTP call, per §5's
// documented constants table.
const httpTimeout = 15 * time.Second

// ErrLedgerUnavailable is returned for network errors and 5xx responses —
// the TransientExternal taxonomy kind (§7): the scheduler logs and retries
// the enclosing step at the next poll.
var ErrLedgerUnavailable = fmt.Errorf("ledger unavailable")

// ErrLedgerRejected is returned for 4xx responses — the PermanentExternal
// kind: the request itself is malformed or not authorized and retrying
// unchanged will not help.
var ErrLedgerRejected = fmt.Errorf("ledger rejected request")

// Client is a typed client for the ledger's wire protocol (§4.4/§6): one
// POST /v1/events endpoint accepting a base64-encoded JSON batch envelope,
// plus query endpoints for open runs and classification registration.
// Transport is stdlib net/http — no generic HTTP client library in the
// retrieval pack fits a bespoke outbound REST client better than the
// standard library (see DESIGN.md).
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *log.Logger
}

// New constructs a Client. token is the bearer token from
// WARP_CODER_WARPMETRICS_KEY. With an empty token, requests are sent
// without an Authorization header; neither New nor buildEngineDeps checks
// for an empty token, warns, or skips ledger wiring.
func New(baseURL, token string, logger *log.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: httpTimeout,
		},
		logger: logger,
	}
}

// Batch accumulates queued run/group/outcome/act events for one atomic
// commit, per §4.4's batching contract. Not safe for concurrent use.
type Batch struct {
	client *Client
	data   batch
	now    func() time.Time
}

// NewBatch starts a new batch. nowFn overrides the clock for deterministic
// tests; pass nil to use time.Now.
func (c *Client) NewBatch(nowFn func() time.Time) *Batch {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Batch{client: c, now: nowFn}
}

// Run queues the creation of a new Issue Run and returns its client-generated
// id.
func (b *Batch) Run(issueID, repo, title string, opts map[string]any) (string, error) {
	id, err := newID("run", b.now())
	if err != nil {
		return "", err
	}
	b.data.Runs = append(b.data.Runs, RunRecord{ID: id, IssueID: issueID, Repo: repo, Title: title, Opts: opts})
	return id, nil
}

// Group queues the creation of a Phase Group under parentRunID.
func (b *Batch) Group(parentRunID, label string) (string, error) {
	id, err := newID("grp", b.now())
	if err != nil {
		return "", err
	}
	b.data.Groups = append(b.data.Groups, GroupRecord{ID: id, ParentRunID: parentRunID, Label: label})
	b.data.Links = append(b.data.Links, LinkRecord{GroupID: id, RunID: parentRunID})
	return id, nil
}

// Outcome queues an outcome event on containerID (an issue run, group, or
// pipeline run id).
func (b *Batch) Outcome(containerID string, name graph.OutcomeName, opts map[string]any) (string, error) {
	id, err := newID("out", b.now())
	if err != nil {
		return "", err
	}
	b.data.Outcomes = append(b.data.Outcomes, OutcomeRecord{ID: id, ContainerID: containerID, Name: name, Opts: opts})
	return id, nil
}

// PipelineRun queues the creation of a pipeline run linked to refActID, per
// §4.6's "start a pipeline run (new run + link to refActId)" step. Returns
// the client-generated pipeline run id, used as the container for the
// step-telemetry outcome recorded once the executor returns.
func (b *Batch) PipelineRun(refActID string) (string, error) {
	id, err := newID("pr", b.now())
	if err != nil {
		return "", err
	}
	b.data.PipelineRuns = append(b.data.PipelineRuns, PipelineRunRecord{ID: id, RefActID: refActID})
	return id, nil
}

// Act queues an act event emitted from outcomeID.
func (b *Batch) Act(outcomeID string, name graph.ActName, opts map[string]any) (string, error) {
	id, err := newID("act", b.now())
	if err != nil {
		return "", err
	}
	b.data.Acts = append(b.data.Acts, ActRecord{ID: id, OutcomeID: outcomeID, Name: name, Opts: opts})
	return id, nil
}

// Empty reports whether the batch has nothing queued.
func (b *Batch) Empty() bool {
	return b.data.empty()
}

// eventsEnvelope is the wire shape of a POST /v1/events body: `{d:
// base64(json(batch))}`, per §6.
type eventsEnvelope struct {
	D string `json:"d"`
}

// Flush POSTs the entire accumulated batch as one atomic unit to
// /v1/events. The ledger accepts all events or none; any HTTP failure is
// classified into ErrLedgerUnavailable or ErrLedgerRejected and wrapped
// with context, per §4.4's failure model.
func (b *Batch) Flush(ctx context.Context) error {
	if b.data.empty() {
		return nil
	}

	raw, err := json.Marshal(b.data)
	if err != nil {
		return fmt.Errorf("ledger: marshal batch: %w", err)
	}
	envelope, err := json.Marshal(eventsEnvelope{D: base64.StdEncoding.EncodeToString(raw)})
	if err != nil {
		return fmt.Errorf("ledger: marshal envelope: %w", err)
	}

	return b.client.post(ctx, "/v1/events", envelope)
}

func (c *Client) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ledger: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLedgerUnavailable, path, err)
	}
	defer resp.Body.Close()

	return c.classifyStatus(resp, path)
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLedgerUnavailable, path, err)
	}
	defer resp.Body.Close()

	if err := c.classifyStatus(resp, path); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) put(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ledger: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLedgerUnavailable, path, err)
	}
	defer resp.Body.Close()

	return c.classifyStatus(resp, path)
}

func (c *Client) classifyStatus(resp *http.Response, path string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s: status %d", ErrLedgerUnavailable, path, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: %s: status %d", ErrLedgerRejected, path, resp.StatusCode)
	default:
		return nil
	}
}

// RegisterClassifications idempotently PUTs each outcome name's
// classification, per §4.1/§4.4. Called once at startup.
func (c *Client) RegisterClassifications(ctx context.Context, classifications map[graph.OutcomeName]graph.Classification) error {
	for name, class := range classifications {
		body, err := json.Marshal(map[string]string{"classification": string(class)})
		if err != nil {
			return fmt.Errorf("ledger: marshal classification for %q: %w", name, err)
		}
		if err := c.put(ctx, "/v1/outcomes/classifications/"+string(name), body); err != nil {
			return fmt.Errorf("ledger: register classification %q: %w", name, err)
		}
	}
	return nil
}

// openRunsResponse is the wire shape of GET /v1/runs?label=issue.
type openRunsResponse struct {
	Runs []struct {
		ID            string            `json:"id"`
		IssueID       string            `json:"issueId"`
		Repo          string            `json:"repo"`
		Title         string            `json:"title"`
		LatestOutcome   graph.OutcomeName `json:"latestOutcome"`
		LatestOutcomeID string            `json:"latestOutcomeId"`
		PendingAct      *struct {
			ID   string         `json:"id"`
			Name graph.ActName  `json:"name"`
			Opts map[string]any `json:"opts"`
		} `json:"pendingAct"`
		Groups map[string]string `json:"groups"`
	} `json:"runs"`
}

// FindOpenIssueRuns returns every not-yet-terminal issue run, per §4.4's
// query surface. The ledger resolves pendingAct/groups server-side (one
// query of open issue-labelled runs, then per-run resolution of the most
// recent outcome and its act); the client does not re-derive this.
func (c *Client) FindOpenIssueRuns(ctx context.Context) ([]OpenIssueRun, error) {
	raw, err := c.get(ctx, "/v1/runs?label=issue")
	if err != nil {
		return nil, err
	}

	var resp openRunsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("ledger: decode open runs: %w", err)
	}

	out := make([]OpenIssueRun, 0, len(resp.Runs))
	for _, r := range resp.Runs {
		run := OpenIssueRun{
			ID:              r.ID,
			IssueID:         r.IssueID,
			Repo:            r.Repo,
			Title:           r.Title,
			LatestOutcome:   r.LatestOutcome,
			LatestOutcomeID: r.LatestOutcomeID,
			Groups:          r.Groups,
		}
		if r.PendingAct != nil {
			run.PendingAct = &PendingAct{ID: r.PendingAct.ID, Name: r.PendingAct.Name, Opts: r.PendingAct.Opts}
		}
		out = append(out, run)
	}
	return out, nil
}
