package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/Switchboard/internal/orchestrator"
	"github.com/MikeSquared-Agency/Switchboard/internal/scoring"
	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

type AgentsHandler struct {
	store  store.Store
	orch   *orchestrator.Orchestrator
	scorer *scoring.Scorer
}

func NewAgentsHandler(s store.Store, o *orchestrator.Orchestrator, sc *scoring.Scorer) *AgentsHandler {
	return &AgentsHandler{store: s, orch: o, scorer: sc}
}

type AgentInfo struct {
	store.AgentProfile
	Metrics            *store.AgentPerformanceMetrics `json:"metrics,omitempty"`
	OverallPerformance float64                        `json:"overall_performance"`
	ActiveTasks        int                            `json:"active_tasks"`
}

func (h *AgentsHandler) List(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.store.ListAgentProfiles(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	infos := make([]AgentInfo, 0, len(profiles))
	for _, p := range profiles {
		info, err := h.info(r, p)
		if err != nil {
			writeError(w, err)
			return
		}
		infos = append(infos, info)
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *AgentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetAgentProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if p == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	info, err := h.info(r, p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *AgentsHandler) info(r *http.Request, p *store.AgentProfile) (AgentInfo, error) {
	m, err := h.store.GetAgentMetrics(r.Context(), p.ID)
	if err != nil {
		return AgentInfo{}, err
	}
	tasks, err := h.store.ListTasks(r.Context(), store.TaskFilter{Agent: p.ID})
	if err != nil {
		return AgentInfo{}, err
	}
	active := 0
	for _, t := range tasks {
		if t.Status == store.StatusAssigned || t.Status == store.StatusInProgress {
			active++
		}
	}
	return AgentInfo{
		AgentProfile:       *p,
		Metrics:            m,
		OverallPerformance: h.scorer.OverallPerformance(m),
		ActiveTasks:        active,
	}, nil
}

type UpsertAgentRequest struct {
	Name          string             `json:"name,omitempty"`
	Skills        map[string]float64 `json:"skills"`
	MaxConcurrent int                `json:"max_concurrent,omitempty"`
	Available     *bool              `json:"available,omitempty"`
}

// Upsert registers an agent or replaces its profile.
// PUT /api/v1/agents/{id}
func (h *AgentsHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req UpsertAgentRequest
	if !decode(w, r, &req) {
		return
	}
	for name, level := range req.Skills {
		if level < 0 || level > 10 {
			badRequest(w, "skill "+name+" must be between 0 and 10")
			return
		}
	}
	p := &store.AgentProfile{
		ID:            chi.URLParam(r, "id"),
		Name:          req.Name,
		Skills:        req.Skills,
		MaxConcurrent: max(req.MaxConcurrent, 0),
		Available:     req.Available == nil || *req.Available,
	}
	if err := h.orch.UpsertAgent(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// History lists an agent's recent work, newest first.
// GET /api/v1/agents/{id}/history
func (h *AgentsHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	hist, err := h.store.ListWorkHistory(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if hist == nil {
		hist = []*store.AgentWorkHistory{}
	}
	writeJSON(w, http.StatusOK, hist)
}

// Stopped handles an agent leaving: its unstarted work is requeued.
// POST /api/v1/agents/{id}/stopped
func (h *AgentsHandler) Stopped(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.orch.HandleAgentStopped(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "agent": id})
}
