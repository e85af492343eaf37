package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Switchboard/internal/orchestrator"
	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

type TasksHandler struct {
	store store.Store
	orch  *orchestrator.Orchestrator
}

func NewTasksHandler(s store.Store, o *orchestrator.Orchestrator) *TasksHandler {
	return &TasksHandler{store: s, orch: o}
}

type CreateTaskRequest struct {
	ProjectID            string   `json:"project_id"`
	ParentTaskID         string   `json:"parent_task_id,omitempty"`
	SessionID            string   `json:"session_id,omitempty"`
	Title                string   `json:"title"`
	Description          string   `json:"description,omitempty"`
	TaskType             string   `json:"task_type,omitempty"`
	Priority             int      `json:"priority,omitempty"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	AcceptanceCriteria   []string `json:"acceptance_criteria,omitempty"`
	EstimatedEffort      float64  `json:"estimated_effort,omitempty"`
	Resources            []string `json:"resources,omitempty"`
	DependsOn            []string `json:"depends_on,omitempty"`
}

func (h *TasksHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ProjectID == "" || req.Title == "" {
		badRequest(w, "project_id and title required")
		return
	}

	task := &store.Task{
		ProjectID:            req.ProjectID,
		SessionID:            req.SessionID,
		Title:                req.Title,
		Description:          req.Description,
		TaskType:             req.TaskType,
		Priority:             max(req.Priority, 0),
		RequiredCapabilities: req.RequiredCapabilities,
		AcceptanceCriteria:   req.AcceptanceCriteria,
		EstimatedEffort:      req.EstimatedEffort,
		Resources:            req.Resources,
	}
	if task.TaskType == "" {
		task.TaskType = "general"
	}
	if req.ParentTaskID != "" {
		pid, ok := parseID(w, req.ParentTaskID, "parent_task_id")
		if !ok {
			return
		}
		task.ParentTaskID = &pid
	}
	deps := make([]uuid.UUID, 0, len(req.DependsOn))
	for _, s := range req.DependsOn {
		id, ok := parseID(w, s, "depends_on entry")
		if !ok {
			return
		}
		deps = append(deps, id)
	}

	created, err := h.orch.CreateTask(r.Context(), task, deps)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *TasksHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TaskFilter{
		ProjectID: q.Get("project_id"),
		Agent:     q.Get("agent"),
	}
	if s := q.Get("status"); s != "" {
		status := store.TaskStatus(s)
		filter.Status = &status
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	tasks, err := h.store.ListTasks(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*store.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *TasksHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "task id")
	if !ok {
		return
	}
	task, err := h.orch.Task(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TasksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "task id")
	if !ok {
		return
	}
	removed, err := h.orch.RemoveTask(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, removed)
}

func (h *TasksHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "task id")
	if !ok {
		return
	}
	task, err := h.orch.Reopen(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type AssignRequest struct {
	AgentID string `json:"agent_id"`
}

// Assign hands a ready task to a named agent.
// POST /api/v1/tasks/{id}/assign
func (h *TasksHandler) Assign(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "task id")
	if !ok {
		return
	}
	var req AssignRequest
	if !decode(w, r, &req) {
		return
	}
	if req.AgentID == "" {
		badRequest(w, "agent_id required")
		return
	}
	task, err := h.orch.Assign(r.Context(), id, req.AgentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// Candidates returns every agent ranked for the task with the factor breakdown.
// GET /api/v1/tasks/{id}/candidates
func (h *TasksHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "task id")
	if !ok {
		return
	}
	ranked, err := h.orch.Candidates(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ranked)
}

func (h *TasksHandler) Ready(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.orch.Ready(r.Context(), chi.URLParam(r, "project"))
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []store.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

type ReportRequest struct {
	Error       string             `json:"error,omitempty"`
	CodeQuality *float64           `json:"code_quality,omitempty"`
	SkillDeltas map[string]float64 `json:"skill_deltas,omitempty"`
}

func (h *TasksHandler) report(w http.ResponseWriter, r *http.Request) (orchestrator.Report, bool) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "task id")
	if !ok {
		return orchestrator.Report{}, false
	}
	var req ReportRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return orchestrator.Report{}, false
	}
	return orchestrator.Report{
		TaskID:      id,
		AgentID:     agentID(r),
		Error:       req.Error,
		CodeQuality: req.CodeQuality,
		SkillDeltas: req.SkillDeltas,
	}, true
}

func (h *TasksHandler) Start(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.report(w, r)
	if !ok {
		return
	}
	task, err := h.orch.Started(r.Context(), rep)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TasksHandler) Complete(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.report(w, r)
	if !ok {
		return
	}
	if rep.CodeQuality != nil && (*rep.CodeQuality < 0 || *rep.CodeQuality > 10) {
		badRequest(w, "code_quality must be between 0 and 10")
		return
	}
	h.finish(w, r, rep, h.orch.Complete)
}

func (h *TasksHandler) Fail(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.report(w, r)
	if !ok {
		return
	}
	h.finish(w, r, rep, h.orch.Fail)
}

// finish answers 200 once the task reached its terminal status, even if the
// history bookkeeping behind it failed.
func (h *TasksHandler) finish(w http.ResponseWriter, r *http.Request, rep orchestrator.Report,
	fn func(ctx context.Context, rep orchestrator.Report) (store.Task, error)) {
	task, err := fn(r.Context(), rep)
	if task.ID == uuid.Nil {
		writeError(w, err)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"task": task, "warning": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, task)
}
