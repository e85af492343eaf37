package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Switchboard/internal/eventlog"
	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

type EventsHandler struct {
	log *eventlog.Log
}

func NewEventsHandler(l *eventlog.Log) *EventsHandler {
	return &EventsHandler{log: l}
}

type AppendEventRequest struct {
	EventType     string                 `json:"event_type"`
	AggregateType string                 `json:"aggregate_type"`
	AggregateID   string                 `json:"aggregate_id"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	UserID        string                 `json:"user_id,omitempty"`
	SessionID     string                 `json:"session_id,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	// ExpectedVersion enables the optimistic concurrency check when set.
	ExpectedVersion *int `json:"expected_version,omitempty"`
}

// Append publishes an externally produced event to the log and its subscribers.
// POST /api/v1/events
func (h *EventsHandler) Append(w http.ResponseWriter, r *http.Request) {
	var req AppendEventRequest
	if !decode(w, r, &req) {
		return
	}
	expected := eventlog.AnyVersion
	if req.ExpectedVersion != nil {
		if *req.ExpectedVersion < 0 {
			badRequest(w, "expected_version must not be negative")
			return
		}
		expected = *req.ExpectedVersion
	}
	evt, err := h.log.Publish(r.Context(), &store.DomainEvent{
		EventType:     req.EventType,
		AggregateType: req.AggregateType,
		AggregateID:   req.AggregateID,
		Payload:       req.Payload,
		UserID:        req.UserID,
		SessionID:     req.SessionID,
		CorrelationID: req.CorrelationID,
	}, expected)
	if evt.ID == uuid.Nil {
		writeError(w, err)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusCreated, map[string]interface{}{"event": evt, "warning": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, evt)
}

func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.EventFilter{
		AggregateID:   q.Get("aggregate_id"),
		AggregateType: q.Get("aggregate_type"),
		EventType:     q.Get("event_type"),
	}
	if s := q.Get("processed"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			badRequest(w, "invalid processed")
			return
		}
		filter.Processed = &b
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	evts, err := h.log.Events(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if evts == nil {
		evts = []*store.DomainEvent{}
	}
	writeJSON(w, http.StatusOK, evts)
}

func (h *EventsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "event id")
	if !ok {
		return
	}
	evt, err := h.log.Event(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evt)
}

// Deliveries lists publish log rows, for one event or filtered by status.
// GET /api/v1/events/{id}/deliveries, GET /api/v1/deliveries?status=failed
func (h *EventsHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	var filter store.PublishLogFilter
	if raw := chi.URLParam(r, "id"); raw != "" {
		id, ok := parseID(w, raw, "event id")
		if !ok {
			return
		}
		if _, err := h.log.Event(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		filter.EventID = &id
	}
	if s := r.URL.Query().Get("status"); s != "" {
		for _, st := range strings.Split(s, ",") {
			filter.Statuses = append(filter.Statuses, store.DeliveryStatus(strings.TrimSpace(st)))
		}
	}
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))

	rows, err := h.log.PublishLogs(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []*store.EventPublishLog{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// Requeue resets a failed delivery for the next sweep.
// POST /api/v1/deliveries/{id}/requeue
func (h *EventsHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "delivery id")
	if !ok {
		return
	}
	row, err := h.log.Requeue(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}
