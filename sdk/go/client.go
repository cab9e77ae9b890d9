package verdictsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Verdict HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Risk is one identified risk on a decision.
type Risk struct {
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Mitigation  string `json:"mitigation,omitempty"`
}

// Decision represents the API decision model (partial).
type Decision struct {
	ID           string   `json:"id"`
	ProjectID    string   `json:"project_id"`
	Title        string   `json:"title"`
	Type         string   `json:"type"`
	Importance   string   `json:"importance"`
	Status       string   `json:"status"`
	Rationale    string   `json:"rationale,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
	Risks        []Risk   `json:"risks,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	ApprovedBy   string   `json:"approved_by,omitempty"`
	SupersededBy string   `json:"superseded_by,omitempty"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

// Assessment is the policy verdict for one decision.
type Assessment struct {
	DecisionID           string `json:"decision_id"`
	RiskLevel            string `json:"risk_level"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
	AutoExecutable       bool   `json:"auto_executable"`
	Reason               string `json:"reason,omitempty"`
}

// ExecutionItem is the per-decision outcome of an auto-execution attempt.
type ExecutionItem struct {
	DecisionID string `json:"decision_id"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason,omitempty"`
}

// BatchResult summarizes an auto-execution sweep.
type BatchResult struct {
	Executed  int             `json:"executed"`
	Skipped   int             `json:"skipped"`
	Failed    int             `json:"failed"`
	Remaining int             `json:"remaining"`
	Items     []ExecutionItem `json:"items"`
}

// PhaseCheck reports whether a project may advance to its next phase.
type PhaseCheck struct {
	ShouldTransition bool   `json:"should_transition"`
	CurrentPhase     string `json:"current_phase"`
	NextPhase        string `json:"next_phase,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// Project represents the API project model.
type Project struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Phase  string `json:"phase"`
	Status string `json:"status"`
}

// ActionItem represents a unit of outstanding work.
type ActionItem struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedDecisions wraps decision listings with cursors.
type PaginatedDecisions struct {
	Items      []Decision `json:"items"`
	NextCursor string     `json:"next_cursor"`
}

// PaginatedEvents wraps event listings with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// ProposeOptions carries the optional decision fields.
type ProposeOptions struct {
	Description  string
	Importance   string
	Rationale    string
	Alternatives []string
	Risks        []Risk
	Tags         []string
}

// ProposeDecision creates a proposed decision.
func (c *Client) ProposeDecision(ctx context.Context, title, decisionType string, opts *ProposeOptions) (Decision, error) {
	body := map[string]any{
		"title": title,
		"type":  decisionType,
	}
	if opts != nil {
		if opts.Description != "" {
			body["description"] = opts.Description
		}
		if opts.Importance != "" {
			body["importance"] = opts.Importance
		}
		if opts.Rationale != "" {
			body["rationale"] = opts.Rationale
		}
		if len(opts.Alternatives) > 0 {
			body["alternatives"] = opts.Alternatives
		}
		if len(opts.Risks) > 0 {
			body["risks"] = opts.Risks
		}
		if len(opts.Tags) > 0 {
			body["tags"] = opts.Tags
		}
	}
	var resp Decision
	err := c.do(ctx, http.MethodPost, c.projectPath("decisions"), body, &resp)
	return resp, err
}

// GetDecision fetches a decision by id.
func (c *Client) GetDecision(ctx context.Context, id string) (Decision, error) {
	var resp Decision
	endpoint := c.projectPath(fmt.Sprintf("decisions/%s", url.PathEscape(id)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Decisions returns a decision listing, optionally filtered by status.
func (c *Client) Decisions(ctx context.Context, status string, limit int) ([]Decision, error) {
	page, err := c.DecisionsPage(ctx, status, limit, "")
	return page.Items, err
}

// DecisionsPage returns a paginated decision listing.
func (c *Client) DecisionsPage(ctx context.Context, status string, limit int, cursor string) (PaginatedDecisions, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.projectPath("decisions")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedDecisions
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Assessment returns the policy verdict for a decision.
func (c *Client) Assessment(ctx context.Context, id string) (Assessment, error) {
	var resp Assessment
	endpoint := c.projectPath(fmt.Sprintf("decisions/%s/assessment", url.PathEscape(id)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ApproveDecision approves a proposed decision.
func (c *Client) ApproveDecision(ctx context.Context, id string) (Decision, error) {
	return c.decisionAction(ctx, id, "approve", nil)
}

// RejectDecision rejects a proposed decision.
func (c *Client) RejectDecision(ctx context.Context, id string) (Decision, error) {
	return c.decisionAction(ctx, id, "reject", nil)
}

// ImplementDecision marks an approved decision implemented.
func (c *Client) ImplementDecision(ctx context.Context, id string) (Decision, error) {
	return c.decisionAction(ctx, id, "implement", nil)
}

// SupersedeDecision supersedes a decision with another.
func (c *Client) SupersedeDecision(ctx context.Context, id, supersededBy string) (Decision, error) {
	return c.decisionAction(ctx, id, "supersede", map[string]any{"superseded_by": supersededBy})
}

// ExecuteDecision runs the auto-execution policy against a single decision.
func (c *Client) ExecuteDecision(ctx context.Context, id string) (ExecutionItem, error) {
	var resp ExecutionItem
	endpoint := c.projectPath(fmt.Sprintf("decisions/%s/execute", url.PathEscape(id)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// RunAutoExecution sweeps proposed decisions through the policy.
func (c *Client) RunAutoExecution(ctx context.Context) (BatchResult, error) {
	body := map[string]any{}
	if c.ProjectID != "" {
		body["project_id"] = c.ProjectID
	}
	var resp BatchResult
	err := c.do(ctx, http.MethodPost, "v0/auto-execution/run", body, &resp)
	return resp, err
}

// PhaseCheck reports whether the project can move to its next phase.
func (c *Client) PhaseCheck(ctx context.Context) (PhaseCheck, error) {
	var resp PhaseCheck
	endpoint := fmt.Sprintf("v0/projects/%s/phase-check", url.PathEscape(c.ProjectID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AdvancePhase advances the project when the check passes.
func (c *Client) AdvancePhase(ctx context.Context) (Project, error) {
	var resp Project
	endpoint := fmt.Sprintf("v0/projects/%s/phase-advance", url.PathEscape(c.ProjectID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// CreateActionItem records an action item on the project.
func (c *Client) CreateActionItem(ctx context.Context, title, description string) (ActionItem, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
	}
	var resp ActionItem
	err := c.do(ctx, http.MethodPost, c.projectPath("action-items"), body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if c.ProjectID != "" {
		q.Set("project_id", c.ProjectID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v0/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) decisionAction(ctx context.Context, id, action string, body any) (Decision, error) {
	var resp Decision
	endpoint := c.projectPath(fmt.Sprintf("decisions/%s/%s", url.PathEscape(id), action))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
