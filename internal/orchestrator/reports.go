package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Switchboard/internal/scoring"
	"github.com/MikeSquared-Agency/Switchboard/internal/store"
	"github.com/MikeSquared-Agency/Switchboard/internal/taskgraph"
)

// Report is what an agent sends back about a task.
type Report struct {
	TaskID      uuid.UUID          `json:"task_id"`
	AgentID     string             `json:"agent_id"`
	Error       string             `json:"error,omitempty"`
	CodeQuality *float64           `json:"code_quality,omitempty"`
	SkillDeltas map[string]float64 `json:"skill_deltas,omitempty"`
}

// locateFor finds the task's graph and checks the reporting agent holds it.
func (o *Orchestrator) locateFor(ctx context.Context, r Report) (*taskgraph.Graph, store.Task, error) {
	g, err := o.graphs.Locate(ctx, r.TaskID)
	if err != nil {
		return nil, store.Task{}, err
	}
	t, err := g.Task(r.TaskID)
	if err != nil {
		return nil, store.Task{}, err
	}
	if r.AgentID != "" && t.AssignedAgent != r.AgentID {
		return nil, store.Task{}, fmt.Errorf("%w: %s holds %s, not %s", ErrNotAssignee, t.AssignedAgent, r.TaskID, r.AgentID)
	}
	return g, t, nil
}

// Started records that the agent picked the task up.
func (o *Orchestrator) Started(ctx context.Context, r Report) (store.Task, error) {
	g, _, err := o.locateFor(ctx, r)
	if err != nil {
		return store.Task{}, err
	}
	t, err := g.MarkStatus(ctx, r.TaskID, store.StatusInProgress)
	if err != nil {
		return store.Task{}, err
	}
	_ = o.emitTask(ctx, EventTaskStarted, t, nil)
	return t, nil
}

// Complete finishes a task and feeds the outcome into the agent's history.
// A report for a task that was never started starts it first.
func (o *Orchestrator) Complete(ctx context.Context, r Report) (store.Task, error) {
	return o.finish(ctx, r, true)
}

// Fail marks a task failed and records the failure against the agent.
func (o *Orchestrator) Fail(ctx context.Context, r Report) (store.Task, error) {
	return o.finish(ctx, r, false)
}

func (o *Orchestrator) finish(ctx context.Context, r Report, success bool) (store.Task, error) {
	g, t, err := o.locateFor(ctx, r)
	if err != nil {
		return store.Task{}, err
	}
	if t.Status == store.StatusAssigned {
		if t, err = g.MarkStatus(ctx, r.TaskID, store.StatusInProgress); err != nil {
			return store.Task{}, err
		}
		_ = o.emitTask(ctx, EventTaskStarted, t, nil)
	}

	eventType := EventTaskCompleted
	if success {
		t, err = g.MarkStatus(ctx, r.TaskID, store.StatusCompleted)
	} else {
		eventType = EventTaskFailed
		reason := r.Error
		if reason == "" {
			reason = "agent reported failure"
		}
		t, err = g.MarkFailed(ctx, r.TaskID, reason)
	}
	if err != nil {
		return store.Task{}, err
	}

	herr := o.recordHistory(ctx, t, r, success)
	if herr != nil {
		o.logger.Error("failed to record work history", "task_id", t.ID, "agent_id", t.AssignedAgent, "error", herr)
	}
	o.logger.Info("task finished", "task_id", t.ID, "agent_id", t.AssignedAgent, "status", t.Status)
	eerr := o.emitTask(ctx, eventType, t, nil)
	if success {
		o.Kick()
	}
	return t, errors.Join(herr, eerr)
}

// recordHistory appends a work history row and folds it into the agent's
// rolling metrics and skill profile.
func (o *Orchestrator) recordHistory(ctx context.Context, t store.Task, r Report, success bool) error {
	agentID := t.AssignedAgent
	if agentID == "" {
		return nil
	}
	end := o.now()
	if t.CompletedAt != nil {
		end = *t.CompletedAt
	}
	start := end
	switch {
	case t.StartedAt != nil:
		start = *t.StartedAt
	case t.AssignedAt != nil:
		start = *t.AssignedAt
	}

	h := &store.AgentWorkHistory{
		AgentID:         agentID,
		TaskID:          t.ID,
		Success:         success,
		DurationSeconds: end.Sub(start).Seconds(),
		CodeQuality:     r.CodeQuality,
		SkillDeltas:     r.SkillDeltas,
		RecordedAt:      end,
	}

	o.agents.Lock(agentID)
	defer o.agents.Unlock(agentID)

	if err := o.store.CreateWorkHistory(ctx, h); err != nil {
		return fmt.Errorf("create work history: %w", err)
	}
	current, err := o.store.GetAgentMetrics(ctx, agentID)
	if err != nil {
		return err
	}
	base := store.AgentPerformanceMetrics{AgentID: agentID}
	if current != nil {
		base = *current
	}
	next := scoring.ApplyWorkHistory(base, *h)
	next.UpdatedAt = end
	if err := o.store.UpsertAgentMetrics(ctx, &next); err != nil {
		return fmt.Errorf("update metrics: %w", err)
	}

	if len(r.SkillDeltas) == 0 {
		return nil
	}
	p, err := o.store.GetAgentProfile(ctx, agentID)
	if err != nil || p == nil {
		return err
	}
	p.Skills = scoring.ApplySkillDeltas(p.Skills, r.SkillDeltas)
	p.UpdatedAt = end
	return o.store.UpsertAgentProfile(ctx, p)
}

// release returns an assigned task to the queue.
func (o *Orchestrator) release(ctx context.Context, id uuid.UUID, reason string) (store.Task, error) {
	g, err := o.graphs.Locate(ctx, id)
	if err != nil {
		return store.Task{}, err
	}
	t, err := g.Release(ctx, id)
	if err != nil {
		return store.Task{}, err
	}
	_ = o.emitTask(ctx, EventTaskReleased, t, map[string]interface{}{"reason": reason})
	o.Kick()
	return t, nil
}

// HandleAgentStopped marks the agent unavailable, returns its unstarted tasks
// to the queue and fails the ones it was working on.
func (o *Orchestrator) HandleAgentStopped(ctx context.Context, agentID string) error {
	var errs []error
	if p, err := o.store.GetAgentProfile(ctx, agentID); err != nil {
		errs = append(errs, err)
	} else if p != nil && p.Available {
		p.Available = false
		p.UpdatedAt = o.now()
		errs = append(errs, o.store.UpsertAgentProfile(ctx, p))
	}

	tasks, err := o.store.ListTasks(ctx, store.TaskFilter{Agent: agentID})
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, t := range tasks {
		switch t.Status {
		case store.StatusAssigned:
			_, err = o.release(ctx, t.ID, "agent_stopped")
		case store.StatusInProgress:
			_, err = o.Fail(ctx, Report{TaskID: t.ID, AgentID: agentID, Error: "agent stopped"})
		default:
			continue
		}
		if err != nil {
			o.logger.Error("failed to reset task for stopped agent", "task_id", t.ID, "agent_id", agentID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SyncAgents refreshes agent profiles from the runtime. Skills reported by the
// runtime replace stored ones; an empty skill list keeps what was learned.
func (o *Orchestrator) SyncAgents(ctx context.Context) error {
	states, err := o.runtime.ListAgents(ctx)
	if err != nil {
		return err
	}
	now := o.now()
	var errs []error
	for _, s := range states {
		if s.ID == "" {
			continue
		}
		next := s.Profile(now)
		prev, err := o.store.GetAgentProfile(ctx, s.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prev != nil && len(next.Skills) == 0 {
			next.Skills = prev.Skills
		}
		if err := o.store.UpsertAgentProfile(ctx, &next); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UpsertAgent registers or updates an agent profile directly.
func (o *Orchestrator) UpsertAgent(ctx context.Context, p *store.AgentProfile) error {
	if p.ID == "" {
		return fmt.Errorf("%w: agent id is required", ErrInvalidTask)
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	p.UpdatedAt = o.now()
	if err := o.store.UpsertAgentProfile(ctx, p); err != nil {
		return err
	}
	o.Kick()
	return nil
}
