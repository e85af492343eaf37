package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Switchboard/internal/scoring"
	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

// CreateTask adds a pending task to its project's graph, with a blocking edge
// from each task in dependsOn.
func (o *Orchestrator) CreateTask(ctx context.Context, task *store.Task, dependsOn []uuid.UUID) (store.Task, error) {
	if task.ProjectID == "" || task.Title == "" {
		return store.Task{}, fmt.Errorf("%w: project_id and title are required", ErrInvalidTask)
	}
	g, err := o.graphs.Get(ctx, task.ProjectID)
	if err != nil {
		return store.Task{}, err
	}
	created, _, err := g.AddTaskWithDependencies(ctx, task, dependsOn)
	if err != nil {
		return store.Task{}, err
	}

	o.logger.Info("task created", "task_id", created.ID, "project_id", created.ProjectID, "depends_on", len(dependsOn))
	_ = o.emitTask(ctx, EventTaskCreated, created, nil)
	o.Kick()
	return created, nil
}

func (o *Orchestrator) Task(ctx context.Context, id uuid.UUID) (store.Task, error) {
	g, err := o.graphs.Locate(ctx, id)
	if err != nil {
		return store.Task{}, err
	}
	return g.Task(id)
}

// AddDependency links two tasks of the same project.
func (o *Orchestrator) AddDependency(ctx context.Context, parent, child uuid.UUID, kind store.DependencyKind) (store.TaskDependency, error) {
	g, err := o.graphs.Locate(ctx, child)
	if err != nil {
		return store.TaskDependency{}, err
	}
	dep, err := g.AddDependency(ctx, parent, child, kind)
	if err != nil {
		return store.TaskDependency{}, err
	}
	_ = o.events.Emit(ctx, &store.DomainEvent{
		EventType:     EventDependencyAdded,
		AggregateType: AggregateTask,
		AggregateID:   child.String(),
		Payload: map[string]interface{}{
			"dependency_id": dep.ID.String(),
			"parent_id":     parent.String(),
			"child_id":      child.String(),
			"kind":          string(kind),
		},
	})
	return dep, nil
}

func (o *Orchestrator) RemoveDependency(ctx context.Context, projectID string, id uuid.UUID) error {
	g, err := o.graphs.Get(ctx, projectID)
	if err != nil {
		return err
	}
	if err := g.RemoveDependency(ctx, id); err != nil {
		return err
	}
	_ = o.events.Emit(ctx, &store.DomainEvent{
		EventType:     EventDependencyRemoved,
		AggregateType: "project",
		AggregateID:   projectID,
		Payload:       map[string]interface{}{"dependency_id": id.String()},
	})
	o.Kick()
	return nil
}

// RemoveTask deletes a task and every edge touching it.
func (o *Orchestrator) RemoveTask(ctx context.Context, id uuid.UUID) (store.Task, error) {
	g, err := o.graphs.Locate(ctx, id)
	if err != nil {
		return store.Task{}, err
	}
	removed, err := g.RemoveTask(ctx, id)
	if err != nil {
		return store.Task{}, err
	}
	_ = o.emitTask(ctx, EventTaskRemoved, removed, nil)
	o.Kick()
	return removed, nil
}

// Reopen is the operator action returning a failed task to pending.
func (o *Orchestrator) Reopen(ctx context.Context, id uuid.UUID) (store.Task, error) {
	g, err := o.graphs.Locate(ctx, id)
	if err != nil {
		return store.Task{}, err
	}
	t, err := g.Reopen(ctx, id)
	if err != nil {
		return store.Task{}, err
	}
	_ = o.emitTask(ctx, EventTaskReopened, t, nil)
	o.Kick()
	return t, nil
}

// Ready lists the tasks of a project that can be assigned now.
func (o *Orchestrator) Ready(ctx context.Context, projectID string) ([]store.Task, error) {
	g, err := o.graphs.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var out []store.Task
	for t := range g.ReadyTasks() {
		out = append(out, t)
	}
	return out, nil
}

// Candidates ranks every known agent for a task, eligible or not.
func (o *Orchestrator) Candidates(ctx context.Context, id uuid.UUID) ([]scoring.CandidateScore, error) {
	t, err := o.Task(ctx, id)
	if err != nil {
		return nil, err
	}
	pool, err := o.candidatePool(ctx, false)
	if err != nil {
		return nil, err
	}
	var out []scoring.CandidateScore
	for cs := range o.scorer.RankCandidates(t, pool) {
		out = append(out, cs)
	}
	return out, nil
}

// TaskEdges is a task's place in its graph.
type TaskEdges struct {
	Incoming []store.TaskDependency `json:"incoming"`
	Outgoing []store.TaskDependency `json:"outgoing"`
	Blockers []uuid.UUID            `json:"blockers"`
}

func (o *Orchestrator) Dependencies(ctx context.Context, id uuid.UUID) (TaskEdges, error) {
	g, err := o.graphs.Locate(ctx, id)
	if err != nil {
		return TaskEdges{}, err
	}
	in, out, err := g.Dependencies(id)
	if err != nil {
		return TaskEdges{}, err
	}
	blockers, err := g.Blockers(id)
	if err != nil {
		return TaskEdges{}, err
	}
	return TaskEdges{Incoming: in, Outgoing: out, Blockers: blockers}, nil
}
