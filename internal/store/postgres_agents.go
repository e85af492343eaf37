package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *PostgresStore) UpsertAgentProfile(ctx context.Context, p *AgentProfile) error {
	skillsJSON, _ := json.Marshal(p.Skills)
	return s.pool.QueryRow(ctx, `
		INSERT INTO agent_profiles (agent_id, name, skills, max_concurrent, available)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (agent_id) DO UPDATE SET
			name = EXCLUDED.name, skills = EXCLUDED.skills,
			max_concurrent = EXCLUDED.max_concurrent, available = EXCLUDED.available,
			updated_at = now()
		RETURNING updated_at`,
		p.ID, p.Name, skillsJSON, p.MaxConcurrent, p.Available,
	).Scan(&p.UpdatedAt)
}

func (s *PostgresStore) GetAgentProfile(ctx context.Context, id string) (*AgentProfile, error) {
	p := &AgentProfile{}
	var skillsJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT agent_id, name, skills, max_concurrent, available, updated_at
		FROM agent_profiles WHERE agent_id = $1`, id,
	).Scan(&p.ID, &p.Name, &skillsJSON, &p.MaxConcurrent, &p.Available, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent profile %s: %w", id, err)
	}
	_ = json.Unmarshal(skillsJSON, &p.Skills)
	return p, nil
}

func (s *PostgresStore) ListAgentProfiles(ctx context.Context) ([]*AgentProfile, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT agent_id, name, skills, max_concurrent, available, updated_at
		FROM agent_profiles ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list agent profiles: %w", err)
	}
	defer rows.Close()

	var out []*AgentProfile
	for rows.Next() {
		p := &AgentProfile{}
		var skillsJSON []byte
		if err := rows.Scan(&p.ID, &p.Name, &skillsJSON, &p.MaxConcurrent, &p.Available, &p.UpdatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(skillsJSON, &p.Skills)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetAgentMetrics(ctx context.Context, agentID string) (*AgentPerformanceMetrics, error) {
	m := &AgentPerformanceMetrics{}
	var deltasJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT agent_id, tasks_completed, tasks_successful, timed_tasks, avg_completion_seconds,
			quality_reviews, avg_code_quality, skill_improvements, skill_deltas, updated_at
		FROM agent_performance_metrics WHERE agent_id = $1`, agentID,
	).Scan(&m.AgentID, &m.TasksCompleted, &m.TasksSuccessful, &m.TimedTasks, &m.AvgCompletionSeconds,
		&m.QualityReviews, &m.AvgCodeQuality, &m.SkillImprovements, &deltasJSON, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent metrics %s: %w", agentID, err)
	}
	if deltasJSON != nil {
		_ = json.Unmarshal(deltasJSON, &m.SkillDeltas)
	}
	return m, nil
}

func (s *PostgresStore) UpsertAgentMetrics(ctx context.Context, m *AgentPerformanceMetrics) error {
	deltasJSON, _ := json.Marshal(m.SkillDeltas)
	return s.pool.QueryRow(ctx, `
		INSERT INTO agent_performance_metrics (agent_id, tasks_completed, tasks_successful,
			timed_tasks, avg_completion_seconds, quality_reviews, avg_code_quality,
			skill_improvements, skill_deltas)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (agent_id) DO UPDATE SET
			tasks_completed = EXCLUDED.tasks_completed,
			tasks_successful = EXCLUDED.tasks_successful,
			timed_tasks = EXCLUDED.timed_tasks,
			avg_completion_seconds = EXCLUDED.avg_completion_seconds,
			quality_reviews = EXCLUDED.quality_reviews,
			avg_code_quality = EXCLUDED.avg_code_quality,
			skill_improvements = EXCLUDED.skill_improvements,
			skill_deltas = EXCLUDED.skill_deltas,
			updated_at = now()
		RETURNING updated_at`,
		m.AgentID, m.TasksCompleted, m.TasksSuccessful,
		m.TimedTasks, m.AvgCompletionSeconds, m.QualityReviews, m.AvgCodeQuality,
		m.SkillImprovements, deltasJSON,
	).Scan(&m.UpdatedAt)
}

func (s *PostgresStore) CreateWorkHistory(ctx context.Context, h *AgentWorkHistory) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	deltasJSON, _ := json.Marshal(h.SkillDeltas)
	return s.pool.QueryRow(ctx, `
		INSERT INTO agent_work_history (id, agent_id, task_id, success, duration_seconds, code_quality, skill_deltas)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING recorded_at`,
		h.ID, h.AgentID, h.TaskID, h.Success, h.DurationSeconds, h.CodeQuality, deltasJSON,
	).Scan(&h.RecordedAt)
}

func (s *PostgresStore) ListWorkHistory(ctx context.Context, agentID string, limit int) ([]*AgentWorkHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, agent_id, task_id, success, duration_seconds, code_quality, skill_deltas, recorded_at
		FROM agent_work_history WHERE agent_id = $1
		ORDER BY recorded_at DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list work history: %w", err)
	}
	defer rows.Close()

	var out []*AgentWorkHistory
	for rows.Next() {
		h := &AgentWorkHistory{}
		var deltasJSON []byte
		if err := rows.Scan(&h.ID, &h.AgentID, &h.TaskID, &h.Success, &h.DurationSeconds,
			&h.CodeQuality, &deltasJSON, &h.RecordedAt); err != nil {
			return nil, err
		}
		if deltasJSON != nil {
			_ = json.Unmarshal(deltasJSON, &h.SkillDeltas)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
