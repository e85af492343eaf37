package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ Store = (*PostgresStore)(nil)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Migrate applies the embedded migrations that are newer than the recorded schema version.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	files, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	type migration struct {
		version int
		name    string
	}
	var migrations []migration
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		var v int
		if _, err := fmt.Sscanf(f.Name(), "%d_", &v); err != nil {
			return fmt.Errorf("invalid migration filename %s: %w", f.Name(), err)
		}
		migrations = append(migrations, migration{version: v, name: f.Name()})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].version < migrations[j].version })

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	var current int
	err = tx.QueryRow(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema_version: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		body, err := migrationsFS.ReadFile("migrations/" + m.name)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec(ctx, `UPDATE schema_version SET version = $1`, m.version); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
		current = m.version
	}
	return tx.Commit(ctx)
}

const taskColumns = `task_id, project_id, parent_task_id, session_id,
	title, description, task_type, priority,
	required_capabilities, acceptance_criteria, estimated_effort, resources,
	status, assigned_agent, error,
	created_at, assigned_at, started_at, completed_at, updated_at`

func (s *PostgresStore) CreateTask(ctx context.Context, task *Task) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO tasks (task_id, project_id, parent_task_id, session_id,
			title, description, task_type, priority,
			required_capabilities, acceptance_criteria, estimated_effort, resources,
			status, assigned_agent, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, COALESCE($16, now()))
		RETURNING created_at, updated_at`,
		task.ID, task.ProjectID, task.ParentTaskID, nullString(task.SessionID),
		task.Title, nullString(task.Description), task.TaskType, task.Priority,
		nonNil(task.RequiredCapabilities), nonNil(task.AcceptanceCriteria), task.EstimatedEffort, nonNil(task.Resources),
		task.Status, nullString(task.AssignedAgent), nullString(task.Error), nullTime(task.CreatedAt),
	).Scan(&task.CreatedAt, &task.UpdatedAt)
}

func (s *PostgresStore) GetTask(ctx context.Context, id uuid.UUID) (*Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
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
	if filter.Agent != "" {
		n++
		query += fmt.Sprintf(" AND assigned_agent = $%d", n)
		args = append(args, filter.Agent)
	}

	query += " ORDER BY priority DESC, created_at ASC"

	if filter.Limit > 0 {
		n++
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		n++
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) UpdateTask(ctx context.Context, task *Task) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET
			parent_task_id = $2, session_id = $3,
			title = $4, description = $5, task_type = $6, priority = $7,
			required_capabilities = $8, acceptance_criteria = $9, estimated_effort = $10, resources = $11,
			status = $12, assigned_agent = $13, error = $14,
			assigned_at = $15, started_at = $16, completed_at = $17,
			updated_at = now()
		WHERE task_id = $1`,
		task.ID, task.ParentTaskID, nullString(task.SessionID),
		task.Title, nullString(task.Description), task.TaskType, task.Priority,
		nonNil(task.RequiredCapabilities), nonNil(task.AcceptanceCriteria), task.EstimatedEffort, nonNil(task.Resources),
		task.Status, nullString(task.AssignedAgent), nullString(task.Error),
		task.AssignedAt, task.StartedAt, task.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update task %s: %w", task.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update task %s: not found", task.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE task_id = $1`, id)
	return err
}

func (s *PostgresStore) CreateDependency(ctx context.Context, dep *TaskDependency) error {
	if dep.ID == uuid.Nil {
		dep.ID = uuid.New()
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO task_dependencies (id, project_id, parent_id, child_id, kind)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		dep.ID, dep.ProjectID, dep.ParentID, dep.ChildID, dep.Kind,
	).Scan(&dep.CreatedAt)
}

func (s *PostgresStore) DeleteDependency(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM task_dependencies WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) DeleteDependenciesForTask(ctx context.Context, taskID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM task_dependencies WHERE parent_id = $1 OR child_id = $1`, taskID)
	return err
}

func (s *PostgresStore) ListDependencies(ctx context.Context, projectID string) ([]*TaskDependency, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, parent_id, child_id, kind, created_at
		FROM task_dependencies
		WHERE ($1 = '' OR project_id = $1)
		ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	defer rows.Close()

	var deps []*TaskDependency
	for rows.Next() {
		d := &TaskDependency{}
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.ParentID, &d.ChildID, &d.Kind, &d.CreatedAt); err != nil {
			return nil, err
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

func scanTask(row pgx.Row) (*Task, error) {
	t := &Task{}
	var sessionID, description, assignedAgent, taskError sql.NullString
	err := row.Scan(
		&t.ID, &t.ProjectID, &t.ParentTaskID, &sessionID,
		&t.Title, &description, &t.TaskType, &t.Priority,
		&t.RequiredCapabilities, &t.AcceptanceCriteria, &t.EstimatedEffort, &t.Resources,
		&t.Status, &assignedAgent, &taskError,
		&t.CreatedAt, &t.AssignedAt, &t.StartedAt, &t.CompletedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.SessionID = sessionID.String
	t.Description = description.String
	t.AssignedAgent = assignedAgent.String
	t.Error = taskError.String
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t interface{ IsZero() bool }) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
