// Package eventlog is the append-only domain event store and its
// at-least-once delivery to registered subscribers.
package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Switchboard/internal/lock"
	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

// AnyVersion skips the optimistic concurrency check on Append.
const AnyVersion = -1

type Options struct {
	Workers        int
	BatchSize      int
	MaxAttempts    int
	AttemptTimeout time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

func DefaultOptions() Options {
	return Options{
		Workers:        4,
		BatchSize:      100,
		MaxAttempts:    5,
		AttemptTimeout: 10 * time.Second,
		BackoffBase:    2 * time.Second,
		BackoffMax:     5 * time.Minute,
	}
}

// Observer receives delivery outcomes, typically to feed metrics.
type Observer interface {
	EventAppended(eventType string)
	DeliveryAttempted(subscriberType string, ok bool, elapsed time.Duration)
	DeliveryExhausted(subscriberType string)
}

type nopObserver struct{}

func (nopObserver) EventAppended(string)                          {}
func (nopObserver) DeliveryAttempted(string, bool, time.Duration) {}
func (nopObserver) DeliveryExhausted(string)                      {}

type Log struct {
	store    store.Store
	registry *Registry
	opts     Options
	logger   *slog.Logger
	observer Observer

	aggregates *lock.MutexMap // version assignment per aggregate id
	events     *lock.MutexMap // processing bookkeeping per event id
	rows       *lock.MutexMap // one delivery attempt at a time per publish log row

	now func() time.Time
}

func New(s store.Store, registry *Registry, opts Options, logger *slog.Logger) *Log {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = def.AttemptTimeout
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = def.BackoffBase
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}
	return &Log{
		store:      s,
		registry:   registry,
		opts:       opts,
		logger:     logger,
		observer:   nopObserver{},
		aggregates: lock.NewMutexMap(),
		events:     lock.NewMutexMap(),
		rows:       lock.NewMutexMap(),
		now:        time.Now,
	}
}

func (l *Log) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	l.observer = o
}

func (l *Log) Registry() *Registry { return l.registry }

// Append stores evt as the next version of its aggregate. When expectedVersion
// is not AnyVersion it must equal the aggregate's current version.
func (l *Log) Append(ctx context.Context, evt *store.DomainEvent, expectedVersion int) (store.DomainEvent, error) {
	if evt.EventType == "" || evt.AggregateType == "" || evt.AggregateID == "" {
		return store.DomainEvent{}, fmt.Errorf("%w: event_type, aggregate_type and aggregate_id are required", ErrInvalidEvent)
	}

	l.aggregates.Lock(evt.AggregateID)
	defer l.aggregates.Unlock(evt.AggregateID)

	current, err := l.store.MaxEventVersion(ctx, evt.AggregateID)
	if err != nil {
		return store.DomainEvent{}, fmt.Errorf("read version of %s: %w", evt.AggregateID, err)
	}
	if expectedVersion != AnyVersion && expectedVersion != current {
		return store.DomainEvent{}, &VersionConflictError{AggregateID: evt.AggregateID, Expected: expectedVersion, Current: current}
	}

	appended := *evt
	appended.ID = uuid.Nil
	appended.Version = current + 1
	appended.OccurredAt = l.now()
	appended.Processed = false
	appended.ProcessingAttempts = 0
	appended.LastError = ""
	if err := l.store.CreateDomainEvent(ctx, &appended); err != nil {
		return store.DomainEvent{}, fmt.Errorf("append event: %w", err)
	}
	l.observer.EventAppended(appended.EventType)
	return appended, nil
}

// Dispatch creates one pending publish log row per subscriber. Subscribers
// that already have a row for the event are skipped. An event dispatched to
// nobody is processed immediately; creating rows for a processed event marks
// it unprocessed again.
func (l *Log) Dispatch(ctx context.Context, eventID uuid.UUID, subscriberIDs []string) ([]store.EventPublishLog, error) {
	evt, err := l.store.GetDomainEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if evt == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, eventID)
	}
	subs := make([]Subscriber, 0, len(subscriberIDs))
	for _, id := range subscriberIDs {
		sub, ok := l.registry.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSubscriber, id)
		}
		subs = append(subs, sub)
	}

	l.events.Lock(eventID.String())
	defer l.events.Unlock(eventID.String())

	existing, err := l.store.ListPublishLogs(ctx, store.PublishLogFilter{EventID: &eventID})
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(existing))
	for _, row := range existing {
		have[row.SubscriberID] = true
	}

	now := l.now()
	var created []store.EventPublishLog
	for _, sub := range subs {
		if have[sub.ID()] {
			continue
		}
		have[sub.ID()] = true
		row := &store.EventPublishLog{
			EventID:        eventID,
			SubscriberType: sub.Type(),
			SubscriberID:   sub.ID(),
			Status:         store.DeliveryPending,
			MaxAttempts:    l.opts.MaxAttempts,
			NextAttemptAt:  now,
			CreatedAt:      now,
		}
		if err := l.store.CreatePublishLog(ctx, row); err != nil {
			return created, fmt.Errorf("create publish log for %s: %w", sub.ID(), err)
		}
		created = append(created, *row)
	}

	// New rows reopen an event that an earlier empty dispatch marked processed.
	processed := len(have) == 0 || (evt.Processed && len(created) == 0)
	if processed != evt.Processed {
		evt.Processed = processed
		if err := l.store.UpdateDomainEvent(ctx, evt); err != nil {
			return nil, err
		}
	}
	return created, nil
}

// Publish appends the event and dispatches it to every subscriber routed for its type.
func (l *Log) Publish(ctx context.Context, evt *store.DomainEvent, expectedVersion int) (store.DomainEvent, error) {
	appended, err := l.Append(ctx, evt, expectedVersion)
	if err != nil {
		return store.DomainEvent{}, err
	}
	if _, err := l.Dispatch(ctx, appended.ID, l.registry.Route(appended.EventType)); err != nil {
		return appended, err
	}
	return appended, nil
}

// Emit publishes without a version expectation.
func (l *Log) Emit(ctx context.Context, evt *store.DomainEvent) error {
	_, err := l.Publish(ctx, evt, AnyVersion)
	return err
}

// MarkProcessed flips the event to processed once every dispatched row is
// delivered, and reports whether it is processed.
func (l *Log) MarkProcessed(ctx context.Context, eventID uuid.UUID) (bool, error) {
	l.events.Lock(eventID.String())
	defer l.events.Unlock(eventID.String())
	return l.markProcessedLocked(ctx, eventID)
}

func (l *Log) markProcessedLocked(ctx context.Context, eventID uuid.UUID) (bool, error) {
	evt, err := l.store.GetDomainEvent(ctx, eventID)
	if err != nil {
		return false, err
	}
	if evt == nil {
		return false, fmt.Errorf("%w: %s", ErrUnknownEvent, eventID)
	}
	if evt.Processed {
		return true, nil
	}
	rows, err := l.store.ListPublishLogs(ctx, store.PublishLogFilter{EventID: &eventID})
	if err != nil {
		return false, err
	}
	for _, row := range rows {
		if row.Status != store.DeliveryDelivered {
			return false, nil
		}
	}
	evt.Processed = true
	if err := l.store.UpdateDomainEvent(ctx, evt); err != nil {
		return false, err
	}
	l.logger.Debug("event processed", "event_id", eventID, "event_type", evt.EventType, "subscribers", len(rows))
	return true, nil
}

// Requeue resets a failed row so the next sweep delivers it again.
func (l *Log) Requeue(ctx context.Context, logID uuid.UUID) (store.EventPublishLog, error) {
	l.rows.Lock(logID.String())
	defer l.rows.Unlock(logID.String())

	row, err := l.store.GetPublishLog(ctx, logID)
	if err != nil {
		return store.EventPublishLog{}, err
	}
	if row == nil {
		return store.EventPublishLog{}, fmt.Errorf("%w: %s", ErrPublishLogNotFound, logID)
	}
	if row.Status != store.DeliveryFailed {
		return store.EventPublishLog{}, fmt.Errorf("%w: row %s is %s", ErrNotRequeueable, logID, row.Status)
	}
	row.Status = store.DeliveryPending
	row.Attempts = 0
	row.Error = ""
	row.FailedAt = nil
	row.NextAttemptAt = l.now()
	if err := l.store.UpdatePublishLog(ctx, row); err != nil {
		return store.EventPublishLog{}, err
	}
	l.logger.Info("delivery requeued", "log_id", logID, "event_id", row.EventID, "subscriber_id", row.SubscriberID)
	return *row, nil
}

func (l *Log) Event(ctx context.Context, id uuid.UUID) (store.DomainEvent, error) {
	evt, err := l.store.GetDomainEvent(ctx, id)
	if err != nil {
		return store.DomainEvent{}, err
	}
	if evt == nil {
		return store.DomainEvent{}, fmt.Errorf("%w: %s", ErrUnknownEvent, id)
	}
	return *evt, nil
}

func (l *Log) Events(ctx context.Context, filter store.EventFilter) ([]*store.DomainEvent, error) {
	return l.store.ListDomainEvents(ctx, filter)
}

func (l *Log) PublishLogs(ctx context.Context, filter store.PublishLogFilter) ([]*store.EventPublishLog, error) {
	return l.store.ListPublishLogs(ctx, filter)
}
