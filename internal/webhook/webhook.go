// Package webhook delivers domain events to HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

const defaultTimeout = 10 * time.Second

type Config struct {
	Name    string
	URL     string
	Secret  string
	Timeout time.Duration
}

type event struct {
	ID            string                 `json:"id"`
	Type          string                 `json:"type"`
	AggregateType string                 `json:"aggregate_type"`
	AggregateID   string                 `json:"aggregate_id"`
	Version       int                    `json:"version"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	UserID        string                 `json:"user_id,omitempty"`
	OccurredAt    string                 `json:"occurred_at"`
	Payload       map[string]interface{} `json:"payload"`
}

// Subscriber posts every routed event as JSON. Any non-2xx reply is a failed attempt.
type Subscriber struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Subscriber {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Subscriber{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (s *Subscriber) ID() string   { return "webhook:" + s.cfg.Name }
func (s *Subscriber) Type() string { return "webhook" }

func (s *Subscriber) Deliver(ctx context.Context, evt store.DomainEvent) (map[string]interface{}, error) {
	payload := evt.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	body := event{
		ID:            evt.ID.String(),
		Type:          evt.EventType,
		AggregateType: evt.AggregateType,
		AggregateID:   evt.AggregateID,
		Version:       evt.Version,
		CorrelationID: evt.CorrelationID,
		UserID:        evt.UserID,
		OccurredAt:    evt.OccurredAt.UTC().Format(time.RFC3339Nano),
		Payload:       payload,
	}
	status, err := Post(ctx, s.client, s.cfg.URL, Headers(evt, s.cfg.Secret), body)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": status}, nil
}

// Headers are the delivery headers every Switchboard webhook request carries.
func Headers(evt store.DomainEvent, secret string) map[string]string {
	h := map[string]string{
		"X-Switchboard-Event":    evt.EventType,
		"X-Switchboard-Delivery": evt.ID.String(),
	}
	if strings.TrimSpace(secret) != "" {
		h["X-Switchboard-Secret"] = secret
	}
	return h
}

// Post sends body as JSON and returns the response status. Non-2xx replies
// are errors carrying an excerpt of the response body.
func Post(ctx context.Context, client *http.Client, url string, headers map[string]string, body interface{}) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return res.StatusCode, fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(excerpt)))
	}
	return res.StatusCode, nil
}
