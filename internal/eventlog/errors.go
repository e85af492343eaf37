package eventlog

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrVersionConflict      = errors.New("version conflict")
	ErrUnknownEvent         = errors.New("unknown event")
	ErrUnknownSubscriber    = errors.New("unknown subscriber")
	ErrDeliveryExhausted    = errors.New("delivery attempts exhausted")
	ErrInvalidEvent         = errors.New("invalid event")
	ErrPublishLogNotFound   = errors.New("publish log not found")
	ErrNotRequeueable       = errors.New("only failed deliveries can be requeued")
	ErrSubscriberRegistered = errors.New("subscriber already registered")
)

type VersionConflictError struct {
	AggregateID string
	Expected    int
	Current     int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("%s: aggregate %s expected version %d, current %d",
		ErrVersionConflict, e.AggregateID, e.Expected, e.Current)
}

func (e *VersionConflictError) Unwrap() error { return ErrVersionConflict }

// DeliveryExhaustedError marks a publish log row frozen in failed. Only Requeue
// moves it again.
type DeliveryExhaustedError struct {
	LogID        uuid.UUID
	EventID      uuid.UUID
	SubscriberID string
	Attempts     int
	LastError    string
}

func (e *DeliveryExhaustedError) Error() string {
	return fmt.Sprintf("%s: event %s subscriber %s after %d attempts: %s",
		ErrDeliveryExhausted, e.EventID, e.SubscriberID, e.Attempts, e.LastError)
}

func (e *DeliveryExhaustedError) Unwrap() error { return ErrDeliveryExhausted }
