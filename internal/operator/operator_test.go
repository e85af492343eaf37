package operator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Switchboard/internal/conflict"
	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

func escalatedEvent(c store.Conflict) store.DomainEvent {
	return store.DomainEvent{
		ID:            uuid.New(),
		EventType:     conflict.EventEscalated,
		AggregateType: conflict.AggregateType,
		AggregateID:   c.ID.String(),
		Payload:       conflict.Payload(c),
		OccurredAt:    time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC),
	}
}

func TestNotifierForwardsEscalation(t *testing.T) {
	task := uuid.New()
	c := store.Conflict{
		ID:             uuid.New(),
		ProjectID:      "apollo",
		Type:           store.ConflictResource,
		Severity:       store.SeverityCritical,
		Status:         store.ConflictEscalated,
		Title:          "both tasks edit go.mod",
		AffectedTasks:  []uuid.UUID{task},
		AffectedAgents: []string{"lily", "rowan"},
	}

	var got Escalation
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, conflict.EventEscalated, r.Header.Get("X-Switchboard-Event"))
		assert.Equal(t, "pager", r.Header.Get("X-Switchboard-Secret"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "pager", time.Second)
	resp, err := n.Deliver(context.Background(), escalatedEvent(c))
	require.NoError(t, err)
	assert.Equal(t, c.ID.String(), resp["conflict_id"])

	assert.Equal(t, c.ID.String(), got.ConflictID)
	assert.Equal(t, "critical", got.Severity)
	assert.Equal(t, []string{task.String()}, got.AffectedTasks)
	assert.Equal(t, []string{"lily", "rowan"}, got.AffectedAgents)
	assert.Equal(t, "/api/v1/conflicts/"+c.ID.String()+"/decisions", got.DecisionPath)
	assert.Equal(t, "2026-05-04T09:30:00Z", got.EscalatedAt)
}

func TestNotifierSkipsOtherEvents(t *testing.T) {
	n := NewNotifier("http://127.0.0.1:0", "", time.Second)
	resp, err := n.Deliver(context.Background(), store.DomainEvent{EventType: conflict.EventResolved})
	require.NoError(t, err)
	assert.Equal(t, conflict.EventResolved, resp["skipped"])
}

func TestNotifierFailureIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := store.Conflict{ID: uuid.New(), Type: store.ConflictTimeline, Severity: store.SeverityHigh, Title: "late"}
	_, err := NewNotifier(srv.URL, "", time.Second).Deliver(context.Background(), escalatedEvent(c))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestFromEventDecodedPayload(t *testing.T) {
	// Payloads read back from Postgres arrive as JSON-decoded values.
	evt := store.DomainEvent{Payload: map[string]interface{}{
		"conflict_id":     "c-1",
		"affected_tasks":  []interface{}{"t-1", "t-2"},
		"affected_agents": nil,
	}}
	esc := FromEvent(evt)
	assert.Equal(t, []string{"t-1", "t-2"}, esc.AffectedTasks)
	assert.Equal(t, []string{}, esc.AffectedAgents)
}
