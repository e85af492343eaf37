// Package client is a typed HTTP client for the Switchboard API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Switchboard/internal/scoring"
	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

// APIError is a non-2xx reply from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("switchboard: %d %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type Client struct {
	baseURL    string
	token      string
	agentID    string
	httpClient *http.Client
}

type Option func(*Client)

// WithToken sets the admin bearer token.
func WithToken(token string) Option { return func(c *Client) { c.token = token } }

// WithAgent sets the X-Agent-ID sent with task reports.
func WithAgent(id string) Option { return func(c *Client) { c.agentID = id } }

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/v1"+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.agentID != "" {
		req.Header.Set("X-Agent-ID", c.agentID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

type TaskQuery struct {
	ProjectID string
	Agent     string
	Status    string
	Limit     int
}

func (q TaskQuery) encode() string {
	v := url.Values{}
	if q.ProjectID != "" {
		v.Set("project_id", q.ProjectID)
	}
	if q.Agent != "" {
		v.Set("agent", q.Agent)
	}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	if q.Limit > 0 {
		v.Set("limit", fmt.Sprint(q.Limit))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

type NewTask struct {
	ProjectID            string   `json:"project_id"`
	Title                string   `json:"title"`
	Description          string   `json:"description,omitempty"`
	TaskType             string   `json:"task_type,omitempty"`
	Priority             int      `json:"priority,omitempty"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	Resources            []string `json:"resources,omitempty"`
	DependsOn            []string `json:"depends_on,omitempty"`
}

func (c *Client) Tasks(ctx context.Context, q TaskQuery) ([]store.Task, error) {
	var out []store.Task
	err := c.do(ctx, http.MethodGet, "/tasks"+q.encode(), nil, &out)
	return out, err
}

func (c *Client) Task(ctx context.Context, id uuid.UUID) (store.Task, error) {
	var out store.Task
	err := c.do(ctx, http.MethodGet, "/tasks/"+id.String(), nil, &out)
	return out, err
}

func (c *Client) CreateTask(ctx context.Context, t NewTask) (store.Task, error) {
	var out store.Task
	err := c.do(ctx, http.MethodPost, "/tasks", t, &out)
	return out, err
}

func (c *Client) Ready(ctx context.Context, projectID string) ([]store.Task, error) {
	var out []store.Task
	err := c.do(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID)+"/ready", nil, &out)
	return out, err
}

func (c *Client) Assign(ctx context.Context, id uuid.UUID, agentID string) (store.Task, error) {
	var out store.Task
	err := c.do(ctx, http.MethodPost, "/tasks/"+id.String()+"/assign", map[string]string{"agent_id": agentID}, &out)
	return out, err
}

func (c *Client) Reopen(ctx context.Context, id uuid.UUID) (store.Task, error) {
	var out store.Task
	err := c.do(ctx, http.MethodPost, "/tasks/"+id.String()+"/reopen", nil, &out)
	return out, err
}

func (c *Client) Candidates(ctx context.Context, id uuid.UUID) ([]scoring.CandidateScore, error) {
	var out []scoring.CandidateScore
	err := c.do(ctx, http.MethodGet, "/tasks/"+id.String()+"/candidates", nil, &out)
	return out, err
}

func (c *Client) AddDependency(ctx context.Context, parent, child uuid.UUID, kind store.DependencyKind) (store.TaskDependency, error) {
	var out store.TaskDependency
	err := c.do(ctx, http.MethodPost, "/dependencies", map[string]string{
		"parent_id": parent.String(),
		"child_id":  child.String(),
		"kind":      string(kind),
	}, &out)
	return out, err
}

func (c *Client) Conflicts(ctx context.Context, status string) ([]store.Conflict, error) {
	path := "/conflicts"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out []store.Conflict
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

type Decision struct {
	UserID       string `json:"user_id"`
	DecisionType string `json:"decision_type"`
	Reasoning    string `json:"reasoning,omitempty"`
}

type DecisionResult struct {
	Conflict store.Conflict      `json:"conflict"`
	Decision store.HumanDecision `json:"decision"`
	Tasks    []store.Task        `json:"tasks"`
	Warning  string              `json:"warning,omitempty"`
}

func (c *Client) Decide(ctx context.Context, conflictID uuid.UUID, d Decision) (DecisionResult, error) {
	var out DecisionResult
	err := c.do(ctx, http.MethodPost, "/conflicts/"+conflictID.String()+"/decisions", d, &out)
	return out, err
}

func (c *Client) Events(ctx context.Context, aggregateID string, limit int) ([]store.DomainEvent, error) {
	v := url.Values{}
	if aggregateID != "" {
		v.Set("aggregate_id", aggregateID)
	}
	if limit > 0 {
		v.Set("limit", fmt.Sprint(limit))
	}
	path := "/events"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var out []store.DomainEvent
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Deliveries lists publish log rows in any of the given statuses.
func (c *Client) Deliveries(ctx context.Context, statuses ...string) ([]store.EventPublishLog, error) {
	path := "/deliveries"
	if len(statuses) > 0 {
		path += "?status=" + url.QueryEscape(strings.Join(statuses, ","))
	}
	var out []store.EventPublishLog
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) Requeue(ctx context.Context, logID uuid.UUID) (store.EventPublishLog, error) {
	var out store.EventPublishLog
	err := c.do(ctx, http.MethodPost, "/deliveries/"+logID.String()+"/requeue", nil, &out)
	return out, err
}

// Agent is an agent profile with its track record as the API reports it.
type Agent struct {
	store.AgentProfile
	Metrics            *store.AgentPerformanceMetrics `json:"metrics,omitempty"`
	OverallPerformance float64                        `json:"overall_performance"`
	ActiveTasks        int                            `json:"active_tasks"`
}

func (c *Client) Agents(ctx context.Context) ([]Agent, error) {
	var out []Agent
	err := c.do(ctx, http.MethodGet, "/agents", nil, &out)
	return out, err
}
