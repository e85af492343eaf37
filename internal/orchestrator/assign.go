package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Switchboard/internal/runtime"
	"github.com/MikeSquared-Agency/Switchboard/internal/scoring"
	"github.com/MikeSquared-Agency/Switchboard/internal/store"
	"github.com/MikeSquared-Agency/Switchboard/internal/taskgraph"
)

// AssignReady runs one assignment pass over every project and returns how
// many tasks were handed to an agent.
func (o *Orchestrator) AssignReady(ctx context.Context) (int, error) {
	projects, err := o.graphs.Projects(ctx)
	if err != nil {
		return 0, fmt.Errorf("list projects: %w", err)
	}
	view, err := o.snapshot(ctx)
	if err != nil {
		return 0, err
	}

	assigned := 0
	var errs []error
	for _, pid := range projects {
		g, err := o.graphs.Get(ctx, pid)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ready := 0
		for t := range g.ReadyTasks() {
			if ctx.Err() != nil {
				return assigned, ctx.Err()
			}
			ready++
			ok, err := o.assignOne(ctx, g, t, view)
			if err != nil {
				o.logger.Warn("failed to assign task", "task_id", t.ID, "error", err)
				errs = append(errs, err)
			}
			if ok {
				assigned++
			}
		}
		o.observer.ReadyTasks(pid, ready)
	}
	return assigned, errors.Join(errs...)
}

// snapshot gathers the eligible agents and current load for one pass.
func (o *Orchestrator) snapshot(ctx context.Context) (*View, error) {
	pool, err := o.candidatePool(ctx, true)
	if err != nil {
		return nil, err
	}
	active, err := o.activeTasks(ctx)
	if err != nil {
		return nil, err
	}
	v := &View{Active: active, Agents: pool, load: make(map[string]int)}
	for _, t := range active {
		v.load[t.AssignedAgent]++
	}
	return v, nil
}

// candidatePool pairs each agent profile with its metrics. With eligibleOnly,
// unavailable agents are left out.
func (o *Orchestrator) candidatePool(ctx context.Context, eligibleOnly bool) ([]scoring.Candidate, error) {
	profiles, err := o.store.ListAgentProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	pool := make([]scoring.Candidate, 0, len(profiles))
	for _, p := range profiles {
		if eligibleOnly && !p.Available {
			continue
		}
		m, err := o.store.GetAgentMetrics(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("metrics for %s: %w", p.ID, err)
		}
		pool = append(pool, scoring.Candidate{Profile: *p, Metrics: m})
	}
	return pool, nil
}

func (o *Orchestrator) activeTasks(ctx context.Context) ([]store.Task, error) {
	all, err := o.store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	var active []store.Task
	for _, t := range all {
		if t.Status == store.StatusAssigned || t.Status == store.StatusInProgress {
			active = append(active, *t)
		}
	}
	return active, nil
}

func (o *Orchestrator) capacity(p store.AgentProfile) int {
	if p.MaxConcurrent > 0 {
		return p.MaxConcurrent
	}
	return o.cfg.Orchestration.MaxConcurrentPerAgent
}

func (o *Orchestrator) assignOne(ctx context.Context, g *taskgraph.Graph, t store.Task, view *View) (bool, error) {
	hold, err := o.detect(ctx, t, view)
	if err != nil {
		return false, err
	}
	if hold {
		o.observer.TaskAssigned("held")
		o.logger.Debug("task held by open conflict", "task_id", t.ID)
		return false, nil
	}

	for cs := range o.scorer.RankCandidates(t, view.Agents) {
		if len(t.RequiredCapabilities) > 0 && cs.Match == 0 {
			break
		}
		p, _ := view.profile(cs.AgentID)
		if view.load[cs.AgentID] >= o.capacity(p) {
			continue
		}
		return o.assignTo(ctx, g, t, cs, view)
	}
	o.observer.TaskAssigned("unmatched")
	o.logger.Debug("no eligible agent", "task_id", t.ID, "capabilities", t.RequiredCapabilities)
	return false, nil
}

func (o *Orchestrator) assignTo(ctx context.Context, g *taskgraph.Graph, t store.Task, cs scoring.CandidateScore, view *View) (bool, error) {
	assigned, err := g.Assign(ctx, t.ID, cs.AgentID)
	if err != nil {
		if errors.Is(err, taskgraph.ErrInvalidTransition) {
			// Taken or blocked since the ready snapshot.
			return false, nil
		}
		return false, err
	}

	if o.runtime != nil {
		a := runtime.Assignment{Task: assigned, Agent: cs.AgentID, Prompt: BuildPrompt(assigned, cs)}
		if err := o.runtime.Dispatch(ctx, a); err != nil {
			o.observer.TaskAssigned("dispatch_failed")
			o.logger.Warn("dispatch failed, releasing task", "task_id", t.ID, "agent_id", cs.AgentID, "error", err)
			released, rerr := g.Release(ctx, t.ID)
			if rerr == nil {
				_ = o.emitTask(ctx, EventTaskReleased, released, map[string]interface{}{"reason": "dispatch_failed"})
			}
			return false, errors.Join(fmt.Errorf("dispatch task %s to %s: %w", t.ID, cs.AgentID, err), rerr)
		}
	}

	if view != nil {
		view.load[cs.AgentID]++
		view.Active = append(view.Active, assigned)
	}
	o.observer.TaskAssigned("assigned")
	o.logger.Info("task assigned", "task_id", assigned.ID, "agent_id", cs.AgentID,
		"match", cs.Match, "performance", cs.Performance)
	_ = o.emitTask(ctx, EventTaskAssigned, assigned, map[string]interface{}{
		"match_score": cs.Match,
		"performance": cs.Performance,
	})
	return true, nil
}

// Assign hands a task to a named agent, bypassing ranking and conflict
// detection. The task must be ready.
func (o *Orchestrator) Assign(ctx context.Context, taskID uuid.UUID, agentID string) (store.Task, error) {
	g, err := o.graphs.Locate(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	t, err := g.Task(taskID)
	if err != nil {
		return store.Task{}, err
	}
	p, err := o.store.GetAgentProfile(ctx, agentID)
	if err != nil {
		return store.Task{}, err
	}
	if p == nil {
		return store.Task{}, fmt.Errorf("%w: unknown agent %s", ErrNoCandidate, agentID)
	}
	m, err := o.store.GetAgentMetrics(ctx, agentID)
	if err != nil {
		return store.Task{}, err
	}
	cs := o.scorer.Explain(t, scoring.Candidate{Profile: *p, Metrics: m})

	if t.Status != store.StatusPending {
		return store.Task{}, &taskgraph.TransitionError{TaskID: taskID, From: t.Status, To: store.StatusAssigned}
	}
	ok, err := o.assignTo(ctx, g, t, cs, nil)
	if err != nil {
		return store.Task{}, err
	}
	if !ok {
		return store.Task{}, fmt.Errorf("%w: task %s is not ready", taskgraph.ErrInvalidTransition, taskID)
	}
	return g.Task(taskID)
}
