package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Switchboard/internal/config"
	"github.com/MikeSquared-Agency/Switchboard/internal/conflict"
	"github.com/MikeSquared-Agency/Switchboard/internal/eventlog"
	"github.com/MikeSquared-Agency/Switchboard/internal/metrics"
	"github.com/MikeSquared-Agency/Switchboard/internal/orchestrator"
	"github.com/MikeSquared-Agency/Switchboard/internal/scoring"
	"github.com/MikeSquared-Agency/Switchboard/internal/store"
	"github.com/MikeSquared-Agency/Switchboard/internal/taskgraph"
)

const testToken = "admin-token"

type testServer struct {
	handler http.Handler
	store   *store.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg, err := config.Load("")
	require.NoError(t, err)

	s := store.NewMemoryStore()
	events := eventlog.New(s, eventlog.NewRegistry(), eventlog.DefaultOptions(), logger)
	ledger := conflict.NewLedger(s, events, logger)
	scorer := scoring.NewScorer(scoring.DefaultConfig(), logger)
	orch := orchestrator.New(orchestrator.Deps{
		Store:  s,
		Graphs: taskgraph.NewGraphs(s, logger),
		Ledger: ledger,
		Events: events,
		Scorer: scorer,
	}, cfg, logger)

	h := NewRouter(Services{
		Store:        s,
		Orchestrator: orch,
		Ledger:       ledger,
		Events:       events,
		Scorer:       scorer,
	}, testToken, logger)
	return &testServer{handler: h, store: s}
}

type call struct {
	method string
	path   string
	body   interface{}
	agent  string
	admin  bool
}

func (ts *testServer) do(t *testing.T, c call) (int, map[string]interface{}) {
	t.Helper()
	code, raw := ts.raw(t, c)
	var out map[string]interface{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return code, out
}

func (ts *testServer) list(t *testing.T, c call) (int, []map[string]interface{}) {
	t.Helper()
	code, raw := ts.raw(t, c)
	var out []map[string]interface{}
	if code == http.StatusOK {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return code, out
}

func (ts *testServer) raw(t *testing.T, c call) (int, []byte) {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		b, err := json.Marshal(c.body)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	req.Header.Set("Content-Type", "application/json")
	if c.agent != "" {
		req.Header.Set("X-Agent-ID", c.agent)
	}
	if c.admin {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w.Code, w.Body.Bytes()
}

func (ts *testServer) createTask(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	code, out := ts.do(t, call{method: "POST", path: "/api/v1/tasks", body: body})
	require.Equal(t, http.StatusCreated, code, out)
	return out["task_id"].(string)
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.EventAppended("TaskCreated")
	h := NewMetricsRouter(reg)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `switchboard_events_appended_total{event_type="TaskCreated"} 1`)
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	code, _ := ts.do(t, call{method: "PUT", path: "/api/v1/agents/ana", body: map[string]interface{}{
		"skills": map[string]float64{"go": 8},
	}})
	assert.Equal(t, http.StatusUnauthorized, code, "agent registration is admin only")
	code, _ = ts.do(t, call{method: "PUT", path: "/api/v1/agents/ana", admin: true, body: map[string]interface{}{
		"skills": map[string]float64{"go": 8},
	}})
	require.Equal(t, http.StatusOK, code)

	first := ts.createTask(t, map[string]interface{}{
		"project_id": "p1", "title": "schema", "required_capabilities": []string{"go"},
	})
	second := ts.createTask(t, map[string]interface{}{
		"project_id": "p1", "title": "queries", "depends_on": []string{first},
	})

	code, ready := ts.list(t, call{method: "GET", path: "/api/v1/projects/p1/ready"})
	require.Equal(t, http.StatusOK, code)
	require.Len(t, ready, 1)
	assert.Equal(t, first, ready[0]["task_id"])

	code, edges := ts.do(t, call{method: "GET", path: "/api/v1/tasks/" + second + "/dependencies"})
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, edges["incoming"], 1)
	assert.Equal(t, []interface{}{first}, edges["blockers"])

	code, ranked := ts.list(t, call{method: "GET", path: "/api/v1/tasks/" + first + "/candidates"})
	require.Equal(t, http.StatusOK, code)
	require.Len(t, ranked, 1)
	assert.Equal(t, "ana", ranked[0]["agent_id"])

	code, task := ts.do(t, call{method: "POST", path: "/api/v1/tasks/" + first + "/assign", admin: true,
		body: map[string]string{"agent_id": "ana"}})
	require.Equal(t, http.StatusOK, code, task)
	assert.Equal(t, "assigned", task["status"])

	code, _ = ts.do(t, call{method: "POST", path: "/api/v1/tasks/" + first + "/start"})
	assert.Equal(t, http.StatusUnauthorized, code, "reports need an agent id")

	code, _ = ts.do(t, call{method: "POST", path: "/api/v1/tasks/" + first + "/start", agent: "ben"})
	assert.Equal(t, http.StatusConflict, code, "only the assignee may report")

	code, task = ts.do(t, call{method: "POST", path: "/api/v1/tasks/" + first + "/complete", agent: "ana",
		body: map[string]interface{}{"code_quality": 8, "skill_deltas": map[string]float64{"go": 1}}})
	require.Equal(t, http.StatusOK, code, task)
	assert.Equal(t, "completed", task["status"])

	code, ready = ts.list(t, call{method: "GET", path: "/api/v1/projects/p1/ready"})
	require.Equal(t, http.StatusOK, code)
	require.Len(t, ready, 1)
	assert.Equal(t, second, ready[0]["task_id"])

	code, agent := ts.do(t, call{method: "GET", path: "/api/v1/agents/ana", admin: true})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), agent["metrics"].(map[string]interface{})["tasks_completed"])
	assert.Equal(t, float64(9), agent["skills"].(map[string]interface{})["go"])

	code, hist := ts.list(t, call{method: "GET", path: "/api/v1/agents/ana/history", admin: true})
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, hist, 1)
}

func TestCreateTaskErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"missing title", map[string]string{"project_id": "p1"}, http.StatusBadRequest},
		{"bad dependency id", map[string]interface{}{"project_id": "p1", "title": "t", "depends_on": []string{"nope"}}, http.StatusBadRequest},
		{"unknown dependency", map[string]interface{}{"project_id": "p1", "title": "t", "depends_on": []string{"7d4f6a3e-0c1b-4a8e-9f2d-1b2c3d4e5f60"}}, http.StatusNotFound},
		{"not json", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := ts.do(t, call{method: "POST", path: "/api/v1/tasks", body: tt.body})
			assert.Equal(t, tt.want, code)
		})
	}

	code, _ := ts.do(t, call{method: "GET", path: "/api/v1/tasks/7d4f6a3e-0c1b-4a8e-9f2d-1b2c3d4e5f60"})
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = ts.do(t, call{method: "GET", path: "/api/v1/tasks/not-a-uuid"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestDependencyCycleIsRejected(t *testing.T) {
	ts := newTestServer(t)
	a := ts.createTask(t, map[string]interface{}{"project_id": "p1", "title": "a"})
	b := ts.createTask(t, map[string]interface{}{"project_id": "p1", "title": "b", "depends_on": []string{a}})

	code, out := ts.do(t, call{method: "POST", path: "/api/v1/dependencies",
		body: map[string]string{"parent_id": b, "child_id": a}})
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, out["error"], "cycle")
	assert.NotEmpty(t, out["cycle"])

	code, _ = ts.do(t, call{method: "POST", path: "/api/v1/dependencies",
		body: map[string]string{"parent_id": a, "child_id": b, "kind": "sometimes"}})
	assert.Equal(t, http.StatusBadRequest, code)

	code, dep := ts.do(t, call{method: "POST", path: "/api/v1/dependencies",
		body: map[string]string{"parent_id": a, "child_id": b, "kind": "soft"}})
	require.Equal(t, http.StatusCreated, code)

	code, _ = ts.do(t, call{method: "DELETE", path: "/api/v1/projects/p1/dependencies/" + dep["id"].(string), admin: true})
	assert.Equal(t, http.StatusOK, code)
	code, _ = ts.do(t, call{method: "DELETE", path: "/api/v1/projects/p1/dependencies/" + dep["id"].(string), admin: true})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestConflictDecisionFlow(t *testing.T) {
	ts := newTestServer(t)
	task := ts.createTask(t, map[string]interface{}{"project_id": "p1", "title": "merge"})

	code, c := ts.do(t, call{method: "POST", path: "/api/v1/conflicts", body: map[string]interface{}{
		"project_id": "p1", "conflict_type": "git_merge", "severity": "high",
		"title": "main diverged", "affected_tasks": []string{task},
	}})
	require.Equal(t, http.StatusCreated, code, c)
	assert.Equal(t, "escalated", c["status"])
	id := c["id"].(string)

	code, _ = ts.do(t, call{method: "POST", path: "/api/v1/conflicts", body: map[string]interface{}{
		"conflict_type": "weather", "severity": "high", "title": "x",
	}})
	assert.Equal(t, http.StatusBadRequest, code)

	code, list := ts.list(t, call{method: "GET", path: "/api/v1/conflicts?status=escalated&task_id=" + task})
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, list, 1)

	decision := map[string]interface{}{"user_id": "ops", "decision_type": "approve", "reasoning": "rebased"}
	code, _ = ts.do(t, call{method: "POST", path: "/api/v1/conflicts/" + id + "/decisions", body: decision})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, res := ts.do(t, call{method: "POST", path: "/api/v1/conflicts/" + id + "/decisions", admin: true, body: decision})
	require.Equal(t, http.StatusCreated, code, res)
	assert.Equal(t, "resolved", res["conflict"].(map[string]interface{})["status"])
	decisionID := res["decision"].(map[string]interface{})["id"].(string)

	code, _ = ts.do(t, call{method: "POST", path: "/api/v1/conflicts/" + id + "/ignore", admin: true})
	assert.Equal(t, http.StatusConflict, code, "resolved is terminal")

	code, d := ts.do(t, call{method: "PATCH", path: "/api/v1/decisions/" + decisionID, admin: true,
		body: map[string]string{"reasoning": "rebased onto main"}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "rebased onto main", d["reasoning"])

	code, ds := ts.list(t, call{method: "GET", path: "/api/v1/conflicts/" + id + "/decisions"})
	require.Equal(t, http.StatusOK, code)
	require.Len(t, ds, 1)
	assert.Equal(t, "rebased onto main", ds[0]["reasoning"])
}

func TestEventsAppendWithExpectedVersion(t *testing.T) {
	ts := newTestServer(t)
	evt := func(expected int) map[string]interface{} {
		return map[string]interface{}{
			"event_type": "BuildFinished", "aggregate_type": "build", "aggregate_id": "b-1",
			"payload": map[string]string{"result": "green"}, "expected_version": expected,
		}
	}

	code, out := ts.do(t, call{method: "POST", path: "/api/v1/events", body: evt(0)})
	require.Equal(t, http.StatusCreated, code, out)
	assert.Equal(t, float64(1), out["version"])
	eventID := out["id"].(string)

	code, out = ts.do(t, call{method: "POST", path: "/api/v1/events", body: evt(0)})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, float64(1), out["current_version"])

	code, _ = ts.do(t, call{method: "POST", path: "/api/v1/events", body: map[string]string{"event_type": "X"}})
	assert.Equal(t, http.StatusBadRequest, code)

	code, list := ts.list(t, call{method: "GET", path: "/api/v1/events?aggregate_id=b-1"})
	require.Equal(t, http.StatusOK, code)
	require.Len(t, list, 1)
	assert.Equal(t, true, list[0]["processed"], "no subscribers means processed at once")

	code, rows := ts.list(t, call{method: "GET", path: "/api/v1/events/" + eventID + "/deliveries"})
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, rows)

	code, _ = ts.do(t, call{method: "POST", path: "/api/v1/deliveries/7d4f6a3e-0c1b-4a8e-9f2d-1b2c3d4e5f60/requeue", admin: true})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRequeueFailedDelivery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := store.NewMemoryStore()
	reg := eventlog.NewRegistry()
	require.NoError(t, reg.Register(eventlog.NewLocalSubscriber("audit", func(context.Context, store.DomainEvent) error {
		return io.ErrUnexpectedEOF
	})))
	opts := eventlog.DefaultOptions()
	opts.MaxAttempts = 1
	events := eventlog.New(s, reg, opts, logger)
	h := NewRouter(Services{Store: s, Events: events}, "", logger)

	_, err := events.Publish(context.Background(), &store.DomainEvent{
		EventType: "Ping", AggregateType: "probe", AggregateID: "p-1",
	}, eventlog.AnyVersion)
	require.NoError(t, err)
	_, err = events.Sweep(context.Background())
	require.ErrorIs(t, err, eventlog.ErrDeliveryExhausted)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/deliveries?status=failed", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var rows []store.EventPublishLog
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.True(t, strings.Contains(rows[0].Error, "unexpected EOF"))

	path := "/api/v1/deliveries/" + rows[0].ID.String() + "/requeue"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", path, nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", path, nil))
	assert.Equal(t, http.StatusConflict, w.Code, "a pending row cannot be requeued")
}
