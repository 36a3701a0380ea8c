package board

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/warpmetrics/coder/internal/graph"
)

const linearAPIURL = "https://api.linear.app/graphql"
const linearTimeout = 15 * time.Second

// LinearBoard implements Adapter against Linear's GraphQL API, grounded on
// eve's HTTP client idiom (a single *http.Client with a fixed timeout, POST
// with a bearer-style API key header) generalized from a REST client to a
// GraphQL POST body — Linear has no official Go SDK in the retrieval pack,
// so this is a thin bespoke client over net/http rather than a generated
// one, matching the ledger client's justification.
type LinearBoard struct {
	httpClient *http.Client
	apiKey     string
	teamID     string
	columns    map[graph.BoardColumn]string // symbolic column -> Linear workflow-state name
}

// NewLinearBoard constructs a LinearBoard authenticated with apiKey
// (WARP_CODER_LINEAR_KEY).
func NewLinearBoard(apiKey, teamID string, columns map[graph.BoardColumn]string) *LinearBoard {
	return &LinearBoard{
		httpClient: &http.Client{Timeout: linearTimeout},
		apiKey:     apiKey,
		teamID:     teamID,
		columns:    columns,
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

func (l *LinearBoard) query(ctx context.Context, q string, vars map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: q, Variables: vars})
	if err != nil {
		return fmt.Errorf("board: marshal linear query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, linearAPIURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("board: build linear request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", l.apiKey)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("board: linear request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("board: read linear response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("board: linear returned status %d: %s", resp.StatusCode, string(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("board: decode linear response: %w", err)
	}
	return nil
}

type linearIssuesResponse struct {
	Data struct {
		Issues struct {
			Nodes []struct {
				Identifier string `json:"identifier"`
				Title      string `json:"title"`
				State      struct {
					Name string `json:"name"`
				} `json:"state"`
			} `json:"nodes"`
		} `json:"issues"`
	} `json:"data"`
}

func (l *LinearBoard) issuesInState(ctx context.Context, stateName string) ([]Issue, error) {
	const q = `query($teamId: String!, $state: String!) {
		issues(filter: { team: { id: { eq: $teamId } }, state: { name: { eq: $state } } }) {
			nodes { identifier title state { name } }
		}
	}`
	var resp linearIssuesResponse
	if err := l.query(ctx, q, map[string]any{"teamId": l.teamID, "state": stateName}, &resp); err != nil {
		return nil, err
	}
	out := make([]Issue, 0, len(resp.Data.Issues.Nodes))
	for _, n := range resp.Data.Issues.Nodes {
		out = append(out, Issue{IssueID: n.Identifier, Title: n.Title})
	}
	return out, nil
}

func (l *LinearBoard) stateNameFor(col graph.BoardColumn) string {
	if n, ok := l.columns[col]; ok {
		return n
	}
	return string(col)
}

func (l *LinearBoard) ScanNewIssues(ctx context.Context) ([]Issue, error) {
	return l.issuesInState(ctx, l.stateNameFor(graph.ColumnTodo))
}

func (l *LinearBoard) GetAllItems(ctx context.Context) ([]Item, error) {
	const q = `query($teamId: String!) {
		issues(filter: { team: { id: { eq: $teamId } } }) { nodes { identifier } }
	}`
	var resp struct {
		Data struct {
			Issues struct {
				Nodes []struct {
					Identifier string `json:"identifier"`
				} `json:"nodes"`
			} `json:"issues"`
		} `json:"data"`
	}
	if err := l.query(ctx, q, map[string]any{"teamId": l.teamID}, &resp); err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(resp.Data.Issues.Nodes))
	for _, n := range resp.Data.Issues.Nodes {
		items = append(items, Item{IssueID: n.Identifier})
	}
	return items, nil
}

func (l *LinearBoard) idsInState(ctx context.Context, col graph.BoardColumn) ([]string, error) {
	issues, err := l.issuesInState(ctx, l.stateNameFor(col))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(issues))
	for _, i := range issues {
		ids = append(ids, i.IssueID)
	}
	return ids, nil
}

func (l *LinearBoard) ScanAborted(ctx context.Context) ([]string, error) { return l.idsInState(ctx, graph.ColumnAborted) }
func (l *LinearBoard) ScanDone(ctx context.Context) ([]string, error)    { return l.idsInState(ctx, graph.ColumnDone) }
func (l *LinearBoard) ScanBlocked(ctx context.Context) ([]string, error) { return l.idsInState(ctx, graph.ColumnBlocked) }

// SyncState moves an issue to the workflow state matching col. Linear
// identifies workflow states by id, not name, in its mutation API; a real
// deployment would resolve the state id once per team and cache it — this
// adapter accepts the resolved id via columns directly (config stores
// Linear state ids, not display names, under board.columns for this
// provider).
func (l *LinearBoard) SyncState(ctx context.Context, item Item, col graph.BoardColumn) error {
	const m = `mutation($issueId: String!, $stateId: String!) {
		issueUpdate(id: $issueId, input: { stateId: $stateId }) { success }
	}`
	var resp struct {
		Data struct {
			IssueUpdate struct {
				Success bool `json:"success"`
			} `json:"issueUpdate"`
		} `json:"data"`
	}
	stateID := l.stateNameFor(col)
	if err := l.query(ctx, m, map[string]any{"issueId": item.IssueID, "stateId": stateID}, &resp); err != nil {
		return err
	}
	if !resp.Data.IssueUpdate.Success {
		return fmt.Errorf("board: linear issueUpdate for %s did not report success", item.IssueID)
	}
	return nil
}
