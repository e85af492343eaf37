package hermes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

const EventSubscriberID = "hermes"

// EventSubscriber mirrors domain events onto the JetStream stream. A delivery
// succeeds once the stream acknowledges the message; the event id is the
// message id so retried deliveries are deduplicated by the stream.
type EventSubscriber struct {
	pub StreamPublisher
}

func NewEventSubscriber(pub StreamPublisher) *EventSubscriber {
	return &EventSubscriber{pub: pub}
}

func (s *EventSubscriber) ID() string   { return EventSubscriberID }
func (s *EventSubscriber) Type() string { return "nats" }

func (s *EventSubscriber) Deliver(ctx context.Context, evt store.DomainEvent) (map[string]interface{}, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	subject := SubjectEvent(evt.AggregateType, evt.EventType)
	if err := s.pub.PublishAcked(ctx, subject, data, evt.ID.String()); err != nil {
		return nil, fmt.Errorf("publish %s: %w", subject, err)
	}
	return map[string]interface{}{"subject": subject}, nil
}
