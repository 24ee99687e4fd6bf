package stratlinesdk

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

// Client is a minimal Stratline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/api",
		Timeout:  10 * time.Second,
	}
}

// Strategy represents the API strategy model (partial).
type Strategy struct {
	ID           string `json:"id"`
	OrgID        string `json:"org_id"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	DisplayOrder int    `json:"display_order"`
}

// Tactic represents a project under a strategy.
type Tactic struct {
	ID         string `json:"id"`
	StrategyID string `json:"strategy_id"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	Progress   int    `json:"progress"`
	IsArchived bool   `json:"is_archived"`
}

// Outcome represents an action item.
type Outcome struct {
	ID         string  `json:"id"`
	StrategyID string  `json:"strategy_id"`
	TacticID   *string `json:"tactic_id,omitempty"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	AssigneeID *string `json:"assignee_id,omitempty"`
	DueDate    *string `json:"due_date,omitempty"`
	IsArchived bool    `json:"is_archived"`
}

// Dependency represents a resolved depends-on edge.
type Dependency struct {
	ID          string `json:"id"`
	SourceType  string `json:"source_type"`
	SourceID    string `json:"source_id"`
	SourceTitle string `json:"source_title"`
	TargetType  string `json:"target_type"`
	TargetID    string `json:"target_id"`
	TargetTitle string `json:"target_title"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	OrgID      string         `json:"org_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// User represents the API user model (partial).
type User struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// LoginResult carries the bearer token and the authenticated user.
type LoginResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// APIError wraps non-2xx responses, decoding the error envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login authenticates and stores the bearer token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	body := map[string]any{"email": email, "password": password}
	var resp LoginResult
	if err := c.do(ctx, http.MethodPost, "users/login", body, &resp); err != nil {
		return LoginResult{}, err
	}
	c.BearerToken = resp.Token
	return resp, nil
}

// CreateStrategy creates a strategy.
func (c *Client) CreateStrategy(ctx context.Context, title, description string) (Strategy, error) {
	body := map[string]any{"title": title}
	if description != "" {
		body["description"] = description
	}
	var resp Strategy
	err := c.do(ctx, http.MethodPost, "strategies", body, &resp)
	return resp, err
}

// GetStrategy fetches a strategy with its current derived progress.
func (c *Client) GetStrategy(ctx context.Context, id string) (Strategy, error) {
	var resp Strategy
	err := c.do(ctx, http.MethodGet, "strategies/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListStrategies lists strategies, optionally including archived ones.
func (c *Client) ListStrategies(ctx context.Context, includeArchived bool) ([]Strategy, error) {
	endpoint := "strategies"
	if includeArchived {
		endpoint += "?include_archived=true"
	}
	var resp []Strategy
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CompleteStrategy moves an active strategy to Completed.
func (c *Client) CompleteStrategy(ctx context.Context, id string) (Strategy, error) {
	var resp Strategy
	err := c.do(ctx, http.MethodPost, "strategies/"+url.PathEscape(id)+"/complete", nil, &resp)
	return resp, err
}

// ArchiveStrategy archives a completed strategy and its whole subtree.
func (c *Client) ArchiveStrategy(ctx context.Context, id string) (Strategy, error) {
	var resp Strategy
	err := c.do(ctx, http.MethodPost, "strategies/"+url.PathEscape(id)+"/archive", nil, &resp)
	return resp, err
}

// ReorderStrategies applies display orders for the given strategy ids.
func (c *Client) ReorderStrategies(ctx context.Context, orders map[string]int) error {
	items := make([]map[string]any, 0, len(orders))
	for id, order := range orders {
		items = append(items, map[string]any{"id": id, "display_order": order})
	}
	return c.do(ctx, http.MethodPost, "strategies/reorder", map[string]any{"items": items}, nil)
}

// CreateTactic creates a tactic under a strategy.
func (c *Client) CreateTactic(ctx context.Context, strategyID, title string) (Tactic, error) {
	body := map[string]any{"strategy_id": strategyID, "title": title}
	var resp Tactic
	err := c.do(ctx, http.MethodPost, "tactics", body, &resp)
	return resp, err
}

// UpdateTacticStatus sets a tactic's status and returns it with fresh progress.
func (c *Client) UpdateTacticStatus(ctx context.Context, id, status string) (Tactic, error) {
	var resp Tactic
	err := c.do(ctx, http.MethodPatch, "tactics/"+url.PathEscape(id), map[string]any{"status": status}, &resp)
	return resp, err
}

// CreateOutcome creates an outcome; tacticID may be empty for a
// strategy-level outcome.
func (c *Client) CreateOutcome(ctx context.Context, strategyID, tacticID, title string) (Outcome, error) {
	body := map[string]any{"strategy_id": strategyID, "title": title}
	if tacticID != "" {
		body["tactic_id"] = tacticID
	}
	var resp Outcome
	err := c.do(ctx, http.MethodPost, "outcomes", body, &resp)
	return resp, err
}

// UpdateOutcomeStatus sets an outcome's status, triggering the rollup chain
// server-side.
func (c *Client) UpdateOutcomeStatus(ctx context.Context, id, status string) (Outcome, error) {
	var resp Outcome
	err := c.do(ctx, http.MethodPatch, "outcomes/"+url.PathEscape(id), map[string]any{"status": status}, &resp)
	return resp, err
}

// AddDependency records a depends-on edge. Types are "project" or "action".
func (c *Client) AddDependency(ctx context.Context, sourceType, sourceID, targetType, targetID string) (Dependency, error) {
	body := map[string]any{
		"source_type": sourceType,
		"source_id":   sourceID,
		"target_type": targetType,
		"target_id":   targetID,
	}
	var resp Dependency
	err := c.do(ctx, http.MethodPost, "dependencies", body, &resp)
	return resp, err
}

// DependenciesOf lists what the given entity depends on.
func (c *Client) DependenciesOf(ctx context.Context, entityType, entityID string) ([]Dependency, error) {
	endpoint := fmt.Sprintf("dependencies?source_type=%s&source_id=%s", url.QueryEscape(entityType), url.QueryEscape(entityID))
	var resp []Dependency
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Dependents lists what depends on the given entity.
func (c *Client) Dependents(ctx context.Context, entityType, entityID string) ([]Dependency, error) {
	endpoint := fmt.Sprintf("dependencies?target_type=%s&target_id=%s", url.QueryEscape(entityType), url.QueryEscape(entityID))
	var resp []Dependency
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RemoveDependency deletes an edge by id.
func (c *Client) RemoveDependency(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "dependencies/"+url.PathEscape(id), nil, nil)
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
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
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	basePath := c.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(basePath, "/")
}
