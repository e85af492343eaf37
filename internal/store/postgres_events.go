package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const eventColumns = `id, event_type, aggregate_type, aggregate_id, payload, version,
	user_id, session_id, correlation_id,
	occurred_at, processed, processing_attempts, last_error`

func (s *PostgresStore) CreateDomainEvent(ctx context.Context, e *DomainEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	payloadJSON, _ := json.Marshal(e.Payload)
	return s.pool.QueryRow(ctx, `
		INSERT INTO domain_events (id, event_type, aggregate_type, aggregate_id, payload, version,
			user_id, session_id, correlation_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, now()))
		RETURNING occurred_at`,
		e.ID, e.EventType, e.AggregateType, e.AggregateID, payloadJSON, e.Version,
		nullString(e.UserID), nullString(e.SessionID), nullString(e.CorrelationID), nullTime(e.OccurredAt),
	).Scan(&e.OccurredAt)
}

func (s *PostgresStore) GetDomainEvent(ctx context.Context, id uuid.UUID) (*DomainEvent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM domain_events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return e, nil
}

// UpdateDomainEvent persists processing bookkeeping only; the event body is immutable.
func (s *PostgresStore) UpdateDomainEvent(ctx context.Context, e *DomainEvent) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE domain_events SET processed = $2, processing_attempts = $3, last_error = $4
		WHERE id = $1`,
		e.ID, e.Processed, e.ProcessingAttempts, nullString(e.LastError))
	if err != nil {
		return fmt.Errorf("update event %s: %w", e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update event %s: not found", e.ID)
	}
	return nil
}

func (s *PostgresStore) ListDomainEvents(ctx context.Context, filter EventFilter) ([]*DomainEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM domain_events WHERE 1=1`
	args := []interface{}{}
	n := 0

	if filter.AggregateID != "" {
		n++
		query += fmt.Sprintf(" AND aggregate_id = $%d", n)
		args = append(args, filter.AggregateID)
	}
	if filter.AggregateType != "" {
		n++
		query += fmt.Sprintf(" AND aggregate_type = $%d", n)
		args = append(args, filter.AggregateType)
	}
	if filter.EventType != "" {
		n++
		query += fmt.Sprintf(" AND event_type = $%d", n)
		args = append(args, filter.EventType)
	}
	if filter.Processed != nil {
		n++
		query += fmt.Sprintf(" AND processed = $%d", n)
		args = append(args, *filter.Processed)
	}
	query += " ORDER BY occurred_at ASC, version ASC"
	if filter.Limit > 0 {
		n++
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*DomainEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MaxEventVersion(ctx context.Context, aggregateID string) (int, error) {
	var v int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM domain_events WHERE aggregate_id = $1`, aggregateID,
	).Scan(&v)
	return v, err
}

func scanEvent(row pgx.Row) (*DomainEvent, error) {
	e := &DomainEvent{}
	var payloadJSON []byte
	var userID, sessionID, correlationID, lastError sql.NullString
	if err := row.Scan(
		&e.ID, &e.EventType, &e.AggregateType, &e.AggregateID, &payloadJSON, &e.Version,
		&userID, &sessionID, &correlationID,
		&e.OccurredAt, &e.Processed, &e.ProcessingAttempts, &lastError,
	); err != nil {
		return nil, err
	}
	e.UserID = userID.String
	e.SessionID = sessionID.String
	e.CorrelationID = correlationID.String
	e.LastError = lastError.String
	if payloadJSON != nil {
		_ = json.Unmarshal(payloadJSON, &e.Payload)
	}
	return e, nil
}

// --- Publish log ---

const publishLogColumns = `id, event_id, subscriber_type, subscriber_id, status, attempts, max_attempts,
	response_data, error, next_attempt_at, sent_at, delivered_at, failed_at, created_at`

func (s *PostgresStore) CreatePublishLog(ctx context.Context, l *EventPublishLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	responseJSON, _ := json.Marshal(l.ResponseData)
	return s.pool.QueryRow(ctx, `
		INSERT INTO event_publish_log (id, event_id, subscriber_type, subscriber_id, status,
			attempts, max_attempts, response_data, error, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`,
		l.ID, l.EventID, l.SubscriberType, l.SubscriberID, l.Status,
		l.Attempts, l.MaxAttempts, responseJSON, nullString(l.Error), l.NextAttemptAt,
	).Scan(&l.CreatedAt)
}

func (s *PostgresStore) GetPublishLog(ctx context.Context, id uuid.UUID) (*EventPublishLog, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+publishLogColumns+` FROM event_publish_log WHERE id = $1`, id)
	l, err := scanPublishLog(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get publish log %s: %w", id, err)
	}
	return l, nil
}

func (s *PostgresStore) UpdatePublishLog(ctx context.Context, l *EventPublishLog) error {
	responseJSON, _ := json.Marshal(l.ResponseData)
	tag, err := s.pool.Exec(ctx, `
		UPDATE event_publish_log SET
			status = $2, attempts = $3, response_data = $4, error = $5,
			next_attempt_at = $6, sent_at = $7, delivered_at = $8, failed_at = $9
		WHERE id = $1`,
		l.ID, l.Status, l.Attempts, responseJSON, nullString(l.Error),
		l.NextAttemptAt, l.SentAt, l.DeliveredAt, l.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("update publish log %s: %w", l.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update publish log %s: not found", l.ID)
	}
	return nil
}

func (s *PostgresStore) ListPublishLogs(ctx context.Context, filter PublishLogFilter) ([]*EventPublishLog, error) {
	query := `SELECT ` + publishLogColumns + ` FROM event_publish_log WHERE 1=1`
	args := []interface{}{}
	n := 0

	if filter.EventID != nil {
		n++
		query += fmt.Sprintf(" AND event_id = $%d", n)
		args = append(args, *filter.EventID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		n++
		query += fmt.Sprintf(" AND status = ANY($%d)", n)
		args = append(args, statuses)
	}
	query += " ORDER BY created_at ASC, subscriber_id ASC"
	if filter.Limit > 0 {
		n++
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list publish logs: %w", err)
	}
	defer rows.Close()

	var out []*EventPublishLog
	for rows.Next() {
		l, err := scanPublishLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanPublishLog(row pgx.Row) (*EventPublishLog, error) {
	l := &EventPublishLog{}
	var responseJSON []byte
	var errMsg sql.NullString
	if err := row.Scan(
		&l.ID, &l.EventID, &l.SubscriberType, &l.SubscriberID, &l.Status, &l.Attempts, &l.MaxAttempts,
		&responseJSON, &errMsg, &l.NextAttemptAt, &l.SentAt, &l.DeliveredAt, &l.FailedAt, &l.CreatedAt,
	); err != nil {
		return nil, err
	}
	l.Error = errMsg.String
	if responseJSON != nil {
		_ = json.Unmarshal(responseJSON, &l.ResponseData)
	}
	return l, nil
}
