package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Switchboard/internal/conflict"
	"github.com/MikeSquared-Agency/Switchboard/internal/orchestrator"
	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

type ConflictsHandler struct {
	orch   *orchestrator.Orchestrator
	ledger *conflict.Ledger
}

func NewConflictsHandler(o *orchestrator.Orchestrator, l *conflict.Ledger) *ConflictsHandler {
	return &ConflictsHandler{orch: o, ledger: l}
}

type RaiseConflictRequest struct {
	ProjectID      string   `json:"project_id"`
	ConflictType   string   `json:"conflict_type"`
	Severity       string   `json:"severity"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	AffectedTasks  []string `json:"affected_tasks,omitempty"`
	AffectedAgents []string `json:"affected_agents,omitempty"`
}

// Raise records a conflict reported from outside, e.g. a git merge failure.
// POST /api/v1/conflicts
func (h *ConflictsHandler) Raise(w http.ResponseWriter, r *http.Request) {
	var req RaiseConflictRequest
	if !decode(w, r, &req) {
		return
	}
	c := &store.Conflict{
		ProjectID:      req.ProjectID,
		Type:           store.ConflictType(req.ConflictType),
		Severity:       store.Severity(req.Severity),
		Title:          req.Title,
		Description:    req.Description,
		AffectedAgents: req.AffectedAgents,
	}
	for _, s := range req.AffectedTasks {
		id, ok := parseID(w, s, "affected_tasks entry")
		if !ok {
			return
		}
		c.AffectedTasks = append(c.AffectedTasks, id)
	}

	raised, err := h.orch.RaiseConflict(r.Context(), c)
	if raised.ID == uuid.Nil {
		writeError(w, err)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusCreated, map[string]interface{}{"conflict": raised, "warning": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, raised)
}

func (h *ConflictsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ConflictFilter{ProjectID: q.Get("project_id")}
	if s := q.Get("status"); s != "" {
		status := store.ConflictStatus(s)
		filter.Status = &status
	}
	if s := q.Get("task_id"); s != "" {
		id, ok := parseID(w, s, "task_id")
		if !ok {
			return
		}
		filter.TaskID = &id
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	cs, err := h.ledger.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if cs == nil {
		cs = []*store.Conflict{}
	}
	writeJSON(w, http.StatusOK, cs)
}

func (h *ConflictsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "conflict id")
	if !ok {
		return
	}
	c, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type IgnoreRequest struct {
	Note string `json:"note,omitempty"`
}

func (h *ConflictsHandler) Ignore(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "conflict id")
	if !ok {
		return
	}
	var req IgnoreRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	c, err := h.ledger.Ignore(r.Context(), id, req.Note)
	h.respond(w, c, err)
}

type AssignHumanRequest struct {
	UserID string `json:"user_id"`
}

func (h *ConflictsHandler) Assign(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "conflict id")
	if !ok {
		return
	}
	var req AssignHumanRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.ledger.AssignHuman(r.Context(), id, req.UserID)
	h.respond(w, c, err)
}

// respond writes a ledger transition result. A change that was stored but
// not emitted is still a success.
func (h *ConflictsHandler) respond(w http.ResponseWriter, c store.Conflict, err error) {
	if err != nil && !errors.Is(err, conflict.ErrEmitFailed) {
		writeError(w, err)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"conflict": c, "warning": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type DecisionRequest struct {
	UserID           string                 `json:"user_id"`
	DecisionType     string                 `json:"decision_type"`
	Payload          map[string]interface{} `json:"payload,omitempty"`
	Reasoning        string                 `json:"reasoning,omitempty"`
	AffectedEntities []string               `json:"affected_entities,omitempty"`
	FollowUpActions  []store.FollowUpAction `json:"follow_up_actions,omitempty"`
}

// Decide records a human decision and applies its follow-up actions.
// POST /api/v1/conflicts/{id}/decisions
func (h *ConflictsHandler) Decide(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "conflict id")
	if !ok {
		return
	}
	var req DecisionRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.orch.RecordDecision(r.Context(), id, &store.HumanDecision{
		UserID:           req.UserID,
		DecisionType:     store.DecisionType(req.DecisionType),
		Payload:          req.Payload,
		Reasoning:        req.Reasoning,
		AffectedEntities: req.AffectedEntities,
		FollowUpActions:  req.FollowUpActions,
	})
	if res.Decision.ID == uuid.Nil {
		writeError(w, err)
		return
	}
	body := map[string]interface{}{
		"conflict": res.Conflict,
		"decision": res.Decision,
		"tasks":    res.Tasks,
	}
	if err != nil {
		body["warning"] = err.Error()
	}
	writeJSON(w, http.StatusCreated, body)
}

func (h *ConflictsHandler) Decisions(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "conflict id")
	if !ok {
		return
	}
	ds, err := h.ledger.Decisions(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if ds == nil {
		ds = []*store.HumanDecision{}
	}
	writeJSON(w, http.StatusOK, ds)
}

type AnnotateRequest struct {
	Reasoning string `json:"reasoning"`
}

// Annotate replaces the reasoning of a recorded decision.
// PATCH /api/v1/decisions/{id}
func (h *ConflictsHandler) Annotate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "decision id")
	if !ok {
		return
	}
	var req AnnotateRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := h.ledger.AnnotateDecision(r.Context(), id, req.Reasoning)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
