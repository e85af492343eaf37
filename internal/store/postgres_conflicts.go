package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const conflictColumns = `id, project_id, conflict_type, severity, title, description,
	affected_tasks, affected_agents,
	status, escalated_to_human, assigned_user_id, resolution_strategy, resolution_note, auto_resolved,
	detected_at, escalated_at, resolved_at, updated_at`

func (s *PostgresStore) CreateConflict(ctx context.Context, c *Conflict) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO conflicts (id, project_id, conflict_type, severity, title, description,
			affected_tasks, affected_agents,
			status, escalated_to_human, assigned_user_id, resolution_strategy, resolution_note, auto_resolved,
			detected_at, escalated_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING updated_at`,
		c.ID, c.ProjectID, c.Type, c.Severity, c.Title, nullString(c.Description),
		nonNilIDs(c.AffectedTasks), nonNil(c.AffectedAgents),
		c.Status, c.EscalatedToHuman, nullString(c.AssignedUserID), nullString(c.ResolutionStrategy),
		nullString(c.ResolutionNote), c.AutoResolved,
		c.DetectedAt, c.EscalatedAt, c.ResolvedAt,
	).Scan(&c.UpdatedAt)
}

func (s *PostgresStore) GetConflict(ctx context.Context, id uuid.UUID) (*Conflict, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conflictColumns+` FROM conflicts WHERE id = $1`, id)
	c, err := scanConflict(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conflict %s: %w", id, err)
	}
	return c, nil
}

func (s *PostgresStore) UpdateConflict(ctx context.Context, c *Conflict) error {
	return updateConflict(ctx, s.pool, c)
}

func updateConflict(ctx context.Context, q querier, c *Conflict) error {
	tag, err := q.Exec(ctx, `
		UPDATE conflicts SET
			severity = $2, title = $3, description = $4,
			affected_tasks = $5, affected_agents = $6,
			status = $7, escalated_to_human = $8, assigned_user_id = $9,
			resolution_strategy = $10, resolution_note = $11, auto_resolved = $12,
			escalated_at = $13, resolved_at = $14, updated_at = now()
		WHERE id = $1`,
		c.ID, c.Severity, c.Title, nullString(c.Description),
		nonNilIDs(c.AffectedTasks), nonNil(c.AffectedAgents),
		c.Status, c.EscalatedToHuman, nullString(c.AssignedUserID),
		nullString(c.ResolutionStrategy), nullString(c.ResolutionNote), c.AutoResolved,
		c.EscalatedAt, c.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("update conflict %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update conflict %s: not found", c.ID)
	}
	return nil
}

func (s *PostgresStore) ListConflicts(ctx context.Context, filter ConflictFilter) ([]*Conflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts WHERE 1=1`
	args := []interface{}{}
	n := 0

	if filter.ProjectID != "" {
		n++
		query += fmt.Sprintf(" AND project_id = $%d", n)
		args = append(args, filter.ProjectID)
	}
	if filter.Status != nil {
		n++
		query += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, string(*filter.Status))
	}
	if filter.TaskID != nil {
		n++
		query += fmt.Sprintf(" AND $%d = ANY(affected_tasks)", n)
		args = append(args, *filter.TaskID)
	}
	query += " ORDER BY detected_at ASC"
	if filter.Limit > 0 {
		n++
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var out []*Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanConflict(row pgx.Row) (*Conflict, error) {
	c := &Conflict{}
	var description, assignedUser, strategy, note sql.NullString
	err := row.Scan(
		&c.ID, &c.ProjectID, &c.Type, &c.Severity, &c.Title, &description,
		&c.AffectedTasks, &c.AffectedAgents,
		&c.Status, &c.EscalatedToHuman, &assignedUser, &strategy, &note, &c.AutoResolved,
		&c.DetectedAt, &c.EscalatedAt, &c.ResolvedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Description = description.String
	c.AssignedUserID = assignedUser.String
	c.ResolutionStrategy = strategy.String
	c.ResolutionNote = note.String
	return c, nil
}

// --- Human decisions ---

const decisionColumns = `id, conflict_id, user_id, decision_type, payload, reasoning,
	affected_entities, follow_up_actions, created_at`

// RecordDecision updates the conflict and inserts the decision in one transaction.
func (s *PostgresStore) RecordDecision(ctx context.Context, c *Conflict, d *HumanDecision) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := updateConflict(ctx, tx, c); err != nil {
		return err
	}
	if err := createDecision(ctx, tx, d); err != nil {
		return fmt.Errorf("create decision: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit decision: %w", err)
	}
	return nil
}

func createDecision(ctx context.Context, q querier, d *HumanDecision) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	payloadJSON, _ := json.Marshal(d.Payload)
	actionsJSON, _ := json.Marshal(d.FollowUpActions)
	return q.QueryRow(ctx, `
		INSERT INTO human_decisions (id, conflict_id, user_id, decision_type, payload, reasoning,
			affected_entities, follow_up_actions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		d.ID, d.ConflictID, d.UserID, d.DecisionType, payloadJSON, nullString(d.Reasoning),
		nonNil(d.AffectedEntities), actionsJSON,
	).Scan(&d.CreatedAt)
}

func (s *PostgresStore) GetHumanDecision(ctx context.Context, id uuid.UUID) (*HumanDecision, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+decisionColumns+` FROM human_decisions WHERE id = $1`, id)
	d, err := scanDecision(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get decision %s: %w", id, err)
	}
	return d, nil
}

func (s *PostgresStore) UpdateDecisionReasoning(ctx context.Context, id uuid.UUID, reasoning string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE human_decisions SET reasoning = $2 WHERE id = $1`, id, reasoning)
	if err != nil {
		return fmt.Errorf("update decision %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update decision %s: not found", id)
	}
	return nil
}

func (s *PostgresStore) ListHumanDecisions(ctx context.Context, conflictID uuid.UUID) ([]*HumanDecision, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+decisionColumns+` FROM human_decisions
		WHERE conflict_id = $1 ORDER BY created_at ASC`, conflictID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []*HumanDecision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDecision(row pgx.Row) (*HumanDecision, error) {
	d := &HumanDecision{}
	var reasoning sql.NullString
	var payloadJSON, actionsJSON []byte
	if err := row.Scan(&d.ID, &d.ConflictID, &d.UserID, &d.DecisionType, &payloadJSON, &reasoning,
		&d.AffectedEntities, &actionsJSON, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.Reasoning = reasoning.String
	if payloadJSON != nil {
		_ = json.Unmarshal(payloadJSON, &d.Payload)
	}
	if actionsJSON != nil {
		_ = json.Unmarshal(actionsJSON, &d.FollowUpActions)
	}
	return d, nil
}

func nonNilIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
