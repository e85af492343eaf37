package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/Switchboard/internal/orchestrator"
	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

type DependenciesHandler struct {
	orch *orchestrator.Orchestrator
}

func NewDependenciesHandler(o *orchestrator.Orchestrator) *DependenciesHandler {
	return &DependenciesHandler{orch: o}
}

type CreateDependencyRequest struct {
	ParentID string `json:"parent_id"`
	ChildID  string `json:"child_id"`
	Kind     string `json:"kind,omitempty"`
}

// Create handles POST /api/v1/dependencies
func (h *DependenciesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateDependencyRequest
	if !decode(w, r, &req) {
		return
	}
	parent, ok := parseID(w, req.ParentID, "parent_id")
	if !ok {
		return
	}
	child, ok := parseID(w, req.ChildID, "child_id")
	if !ok {
		return
	}
	kind := store.DependencyKind(req.Kind)
	if kind == "" {
		kind = store.DependencyBlocking
	}

	dep, err := h.orch.AddDependency(r.Context(), parent, child, kind)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dep)
}

// Delete handles DELETE /api/v1/projects/{project}/dependencies/{id}
func (h *DependenciesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}
	if err := h.orch.RemoveDependency(r.Context(), chi.URLParam(r, "project"), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ListForTask handles GET /api/v1/tasks/{id}/dependencies
func (h *DependenciesHandler) ListForTask(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}
	edges, err := h.orch.Dependencies(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if edges.Incoming == nil {
		edges.Incoming = []store.TaskDependency{}
	}
	if edges.Outgoing == nil {
		edges.Outgoing = []store.TaskDependency{}
	}
	writeJSON(w, http.StatusOK, edges)
}
