package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

type SweepResult struct {
	Attempted int
	Delivered int
	Retrying  int
	Exhausted int
	Processed int
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeDelivered
	outcomeRetrying
	outcomeExhausted
)

// Backoff returns the wait before the next attempt after the given number of
// failed attempts: base doubled per failure, capped at max.
func Backoff(attempts int, base, max time.Duration) time.Duration {
	if attempts <= 1 {
		return min(base, max)
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	return d
}

// Sweep attempts every due delivery once, at most opts.Workers at a time.
// Rows that run out of attempts are reported as *DeliveryExhaustedError joined
// into the returned error; they never stop the rest of the sweep.
func (l *Log) Sweep(ctx context.Context) (SweepResult, error) {
	candidates, err := l.dueRows(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list due deliveries: %w", err)
	}

	var (
		mu     sync.Mutex
		result SweepResult
		errs   []error
	)
	g := new(errgroup.Group)
	g.SetLimit(l.opts.Workers)
	for _, row := range candidates {
		g.Go(func() error {
			out, processed, err := l.deliver(ctx, row.ID)

			mu.Lock()
			defer mu.Unlock()
			switch out {
			case outcomeDelivered:
				result.Attempted++
				result.Delivered++
			case outcomeRetrying:
				result.Attempted++
				result.Retrying++
			case outcomeExhausted:
				result.Attempted++
				result.Exhausted++
			}
			if processed {
				result.Processed++
			}
			if err != nil {
				errs = append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return result, errors.Join(errs...)
}

// dueRows lists pending rows whose backoff has elapsed, plus rows stuck in
// sent for longer than an attempt could take.
func (l *Log) dueRows(ctx context.Context) ([]*store.EventPublishLog, error) {
	rows, err := l.store.ListPublishLogs(ctx, store.PublishLogFilter{
		Statuses: []store.DeliveryStatus{store.DeliveryPending, store.DeliverySent},
	})
	if err != nil {
		return nil, err
	}
	now := l.now()
	var due []*store.EventPublishLog
	for _, row := range rows {
		if l.isDue(row, now) {
			due = append(due, row)
		}
		if len(due) >= l.opts.BatchSize {
			break
		}
	}
	return due, nil
}

func (l *Log) isDue(row *store.EventPublishLog, now time.Time) bool {
	switch row.Status {
	case store.DeliveryPending:
		return !row.NextAttemptAt.After(now)
	case store.DeliverySent:
		return row.SentAt != nil && now.Sub(*row.SentAt) > 2*l.opts.AttemptTimeout
	}
	return false
}

// deliver makes one attempt on a row and records the outcome. The row is
// re-read under its lock so concurrent sweeps never double count an attempt.
func (l *Log) deliver(ctx context.Context, logID uuid.UUID) (outcome, bool, error) {
	key := logID.String()
	l.rows.Lock(key)
	defer l.rows.Unlock(key)

	row, err := l.store.GetPublishLog(ctx, logID)
	if err != nil {
		return outcomeSkipped, false, err
	}
	if row == nil || !l.isDue(row, l.now()) || row.Attempts >= row.MaxAttempts {
		return outcomeSkipped, false, nil
	}

	sentAt := l.now()
	row.Status = store.DeliverySent
	row.SentAt = &sentAt
	if err := l.store.UpdatePublishLog(ctx, row); err != nil {
		return outcomeSkipped, false, fmt.Errorf("mark sent %s: %w", row.ID, err)
	}

	respData, attemptErr := l.attempt(ctx, row)
	elapsed := l.now().Sub(sentAt)

	if attemptErr != nil && ctx.Err() != nil {
		// Shutdown, not a subscriber failure: hand the row back untouched.
		row.Status = store.DeliveryPending
		row.SentAt = nil
		if err := l.store.UpdatePublishLog(context.WithoutCancel(ctx), row); err != nil {
			return outcomeSkipped, false, err
		}
		return outcomeSkipped, false, ctx.Err()
	}

	l.observer.DeliveryAttempted(row.SubscriberType, attemptErr == nil, elapsed)
	now := l.now()
	var out outcome
	var reported error
	if attemptErr == nil {
		out = outcomeDelivered
		row.Status = store.DeliveryDelivered
		row.DeliveredAt = &now
		row.ResponseData = respData
		row.Error = ""
	} else {
		row.Attempts++
		row.Error = attemptErr.Error()
		if row.Attempts >= row.MaxAttempts {
			out = outcomeExhausted
			row.Status = store.DeliveryFailed
			row.FailedAt = &now
			reported = &DeliveryExhaustedError{
				LogID:        row.ID,
				EventID:      row.EventID,
				SubscriberID: row.SubscriberID,
				Attempts:     row.Attempts,
				LastError:    row.Error,
			}
			l.observer.DeliveryExhausted(row.SubscriberType)
			l.logger.Error("delivery exhausted",
				"log_id", row.ID, "event_id", row.EventID, "subscriber_id", row.SubscriberID,
				"attempts", row.Attempts, "error", attemptErr)
		} else {
			out = outcomeRetrying
			row.Status = store.DeliveryPending
			row.NextAttemptAt = now.Add(Backoff(row.Attempts, l.opts.BackoffBase, l.opts.BackoffMax))
			l.logger.Warn("delivery failed, will retry",
				"log_id", row.ID, "event_id", row.EventID, "subscriber_id", row.SubscriberID,
				"attempt", row.Attempts, "max_attempts", row.MaxAttempts,
				"next_attempt_at", row.NextAttemptAt, "error", attemptErr)
		}
	}
	if err := l.store.UpdatePublishLog(ctx, row); err != nil {
		return outcomeSkipped, false, fmt.Errorf("record delivery %s: %w", row.ID, err)
	}

	processed, err := l.recordAttempt(ctx, row, attemptErr)
	if err != nil {
		return out, false, errors.Join(reported, err)
	}
	return out, processed, reported
}

func (l *Log) attempt(ctx context.Context, row *store.EventPublishLog) (map[string]interface{}, error) {
	sub, ok := l.registry.Lookup(row.SubscriberID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSubscriber, row.SubscriberID)
	}
	evt, err := l.store.GetDomainEvent(ctx, row.EventID)
	if err != nil {
		return nil, err
	}
	if evt == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, row.EventID)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, l.opts.AttemptTimeout)
	defer cancel()

	type reply struct {
		resp map[string]interface{}
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		resp, err := sub.Deliver(attemptCtx, *evt)
		done <- reply{resp, err}
	}()
	select {
	case r := <-done:
		return r.resp, r.err
	case <-attemptCtx.Done():
		return nil, fmt.Errorf("subscriber %s: %w", row.SubscriberID, attemptCtx.Err())
	}
}

// recordAttempt updates the event's processing bookkeeping and flips it to
// processed when this was the last outstanding delivery.
func (l *Log) recordAttempt(ctx context.Context, row *store.EventPublishLog, attemptErr error) (bool, error) {
	key := row.EventID.String()
	l.events.Lock(key)
	defer l.events.Unlock(key)

	evt, err := l.store.GetDomainEvent(ctx, row.EventID)
	if err != nil || evt == nil {
		return false, err
	}
	evt.ProcessingAttempts++
	if attemptErr != nil {
		evt.LastError = fmt.Sprintf("%s: %s", row.SubscriberID, attemptErr)
	}
	if err := l.store.UpdateDomainEvent(ctx, evt); err != nil {
		return false, err
	}
	if attemptErr != nil {
		return false, nil
	}
	wasProcessed := evt.Processed
	processed, err := l.markProcessedLocked(ctx, row.EventID)
	return processed && !wasProcessed, err
}
