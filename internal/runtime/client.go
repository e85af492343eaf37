// Package runtime talks to the agent runtime that executes assigned tasks.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

type AgentState struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Status        string `json:"status"` // ready, busy, sleeping, degraded, stopped
	Skills        string `json:"skills"` // "go:8, sql:6"
	MaxConcurrent int    `json:"max_concurrent"`
}

// Accepting reports whether the runtime will take new work for the agent.
func (s AgentState) Accepting() bool {
	return s.Status == "ready" || s.Status == "busy" || s.Status == "sleeping"
}

// Assignment is what an agent receives when it wins a task.
type Assignment struct {
	Task   store.Task `json:"task"`
	Agent  string     `json:"agent_id"`
	Prompt string     `json:"prompt"`
}

type Client interface {
	Dispatch(ctx context.Context, a Assignment) error
	ListAgents(ctx context.Context) ([]AgentState, error)
}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) doReq(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("runtime %s %s: %d %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func (c *HTTPClient) Dispatch(ctx context.Context, a Assignment) error {
	_, err := c.doReq(ctx, http.MethodPost, "/admin/agents/"+a.Agent+"/tasks", a)
	return err
}

func (c *HTTPClient) ListAgents(ctx context.Context) ([]AgentState, error) {
	data, err := c.doReq(ctx, http.MethodGet, "/admin/agents", nil)
	if err != nil {
		return nil, err
	}
	var agents []AgentState
	if err := json.Unmarshal(data, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// ParseSkills reads a "name:level" list. Names are lowercased; a name without
// a level counts as level 5; levels are clamped to [0,10].
func ParseSkills(content string) map[string]float64 {
	skills := make(map[string]float64)
	for _, part := range strings.Split(content, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, levelStr, hasLevel := strings.Cut(part, ":")
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		level := 5.0
		if hasLevel {
			v, err := strconv.ParseFloat(strings.TrimSpace(levelStr), 64)
			if err != nil {
				continue
			}
			level = min(max(v, 0), 10)
		}
		skills[name] = level
	}
	return skills
}

// Profile converts runtime state into the profile used for matching.
func (s AgentState) Profile(now time.Time) store.AgentProfile {
	name := s.Name
	if name == "" {
		name = s.ID
	}
	return store.AgentProfile{
		ID:            s.ID,
		Name:          name,
		Skills:        ParseSkills(s.Skills),
		MaxConcurrent: s.MaxConcurrent,
		Available:     s.Accepting(),
		UpdatedAt:     now,
	}
}
