package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Switchboard/internal/conflict"
	"github.com/MikeSquared-Agency/Switchboard/internal/eventlog"
	"github.com/MikeSquared-Agency/Switchboard/internal/orchestrator"
	"github.com/MikeSquared-Agency/Switchboard/internal/taskgraph"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, taskgraph.ErrTaskNotFound),
		errors.Is(err, taskgraph.ErrDependencyNotFound),
		errors.Is(err, conflict.ErrConflictNotFound),
		errors.Is(err, conflict.ErrDecisionNotFound),
		errors.Is(err, eventlog.ErrUnknownEvent),
		errors.Is(err, eventlog.ErrPublishLogNotFound):
		return http.StatusNotFound
	case errors.Is(err, taskgraph.ErrCycleDetected),
		errors.Is(err, taskgraph.ErrInvalidTransition),
		errors.Is(err, taskgraph.ErrReparentNotAllowed),
		errors.Is(err, conflict.ErrIllegalConflictTransition),
		errors.Is(err, eventlog.ErrVersionConflict),
		errors.Is(err, eventlog.ErrNotRequeueable),
		errors.Is(err, orchestrator.ErrNotAssignee):
		return http.StatusConflict
	case errors.Is(err, taskgraph.ErrInvalidDependency),
		errors.Is(err, taskgraph.ErrAgentRequired),
		errors.Is(err, conflict.ErrInvalidConflict),
		errors.Is(err, conflict.ErrInvalidDecision),
		errors.Is(err, eventlog.ErrInvalidEvent),
		errors.Is(err, orchestrator.ErrInvalidTask),
		errors.Is(err, orchestrator.ErrNoCandidate),
		errors.Is(err, orchestrator.ErrUnknownAction):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	body := map[string]interface{}{"error": err.Error()}
	var cycle *taskgraph.CycleError
	if errors.As(err, &cycle) {
		body["cycle"] = cycle.Path
	}
	var version *eventlog.VersionConflictError
	if errors.As(err, &version) {
		body["current_version"] = version.Current
	}
	writeJSON(w, statusFor(err), body)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid request body")
		return false
	}
	return true
}

func parseID(w http.ResponseWriter, raw, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		badRequest(w, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
