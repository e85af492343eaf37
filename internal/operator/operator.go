// Package operator hands escalated conflicts to the human operator's endpoint.
// Decisions come back through the API.
package operator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MikeSquared-Agency/Switchboard/internal/conflict"
	"github.com/MikeSquared-Agency/Switchboard/internal/store"
	"github.com/MikeSquared-Agency/Switchboard/internal/webhook"
)

const SubscriberID = "operator"

// Escalation is the body the operator endpoint receives.
type Escalation struct {
	ConflictID     string   `json:"conflict_id"`
	ProjectID      string   `json:"project_id"`
	ConflictType   string   `json:"conflict_type"`
	Severity       string   `json:"severity"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	AffectedTasks  []string `json:"affected_tasks"`
	AffectedAgents []string `json:"affected_agents"`
	Note           string   `json:"resolution_note,omitempty"`
	DecisionPath   string   `json:"decision_path"`
	EscalatedAt    string   `json:"escalated_at"`
}

type Notifier struct {
	url    string
	secret string
	client *http.Client
}

func NewNotifier(url, secret string, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{url: url, secret: secret, client: &http.Client{Timeout: timeout}}
}

func (n *Notifier) ID() string   { return SubscriberID }
func (n *Notifier) Type() string { return "operator" }

// Deliver forwards ConflictEscalated events and acknowledges anything else untouched.
func (n *Notifier) Deliver(ctx context.Context, evt store.DomainEvent) (map[string]interface{}, error) {
	if evt.EventType != conflict.EventEscalated {
		return map[string]interface{}{"skipped": evt.EventType}, nil
	}
	esc := FromEvent(evt)
	if esc.ConflictID == "" {
		return nil, fmt.Errorf("escalation event %s has no conflict_id", evt.ID)
	}
	status, err := webhook.Post(ctx, n.client, n.url, webhook.Headers(evt, n.secret), esc)
	if err != nil {
		return nil, fmt.Errorf("notify operator of %s: %w", esc.ConflictID, err)
	}
	return map[string]interface{}{"status": status, "conflict_id": esc.ConflictID}, nil
}

// FromEvent reads an escalation out of a conflict event payload.
func FromEvent(evt store.DomainEvent) Escalation {
	p := evt.Payload
	id := str(p["conflict_id"])
	return Escalation{
		ConflictID:     id,
		ProjectID:      str(p["project_id"]),
		ConflictType:   str(p["conflict_type"]),
		Severity:       str(p["severity"]),
		Title:          str(p["title"]),
		Description:    str(p["description"]),
		AffectedTasks:  strs(p["affected_tasks"]),
		AffectedAgents: strs(p["affected_agents"]),
		Note:           str(p["resolution_note"]),
		DecisionPath:   "/api/v1/conflicts/" + id + "/decisions",
		EscalatedAt:    evt.OccurredAt.UTC().Format(time.RFC3339),
	}
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

// strs accepts both in-process []string and JSON-decoded []interface{} payloads.
func strs(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, x := range vv {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}
