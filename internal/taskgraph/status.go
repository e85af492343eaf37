package taskgraph

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

// transitions is the forward lifecycle. pending -> assigned is reachable only
// through Assign; the two paths back to pending are Release and Reopen.
var transitions = map[store.TaskStatus][]store.TaskStatus{
	store.StatusPending:    {store.StatusAssigned},
	store.StatusAssigned:   {store.StatusInProgress},
	store.StatusInProgress: {store.StatusCompleted, store.StatusFailed},
}

func canTransition(from, to store.TaskStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// MarkStatus moves a task along the lifecycle. Entering assigned requires an
// agent, so it is rejected here in favour of Assign.
func (g *Graph) MarkStatus(ctx context.Context, id uuid.UUID, to store.TaskStatus) (store.Task, error) {
	return g.transition(ctx, id, to, "")
}

// MarkFailed moves an in-progress task to failed and records the reason.
func (g *Graph) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (store.Task, error) {
	return g.transition(ctx, id, store.StatusFailed, reason)
}

func (g *Graph) transition(ctx context.Context, id uuid.UUID, to store.TaskStatus, reason string) (store.Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[id]
	if !ok {
		return store.Task{}, notFound(id)
	}
	if !canTransition(t.Status, to) {
		return store.Task{}, &TransitionError{TaskID: id, From: t.Status, To: to}
	}
	if to == store.StatusAssigned {
		return store.Task{}, fmt.Errorf("%w: use Assign for task %s", ErrAgentRequired, id)
	}

	next := *t
	next.Status = to
	now := g.now()
	switch to {
	case store.StatusInProgress:
		next.StartedAt = &now
	case store.StatusCompleted:
		next.CompletedAt = &now
		next.Error = ""
	case store.StatusFailed:
		next.CompletedAt = &now
		next.Error = reason
	}
	return g.save(ctx, &next)
}

// Assign binds a pending task to an agent.
func (g *Graph) Assign(ctx context.Context, id uuid.UUID, agentID string) (store.Task, error) {
	if agentID == "" {
		return store.Task{}, ErrAgentRequired
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[id]
	if !ok {
		return store.Task{}, notFound(id)
	}
	if t.Status != store.StatusPending {
		return store.Task{}, &TransitionError{TaskID: id, From: t.Status, To: store.StatusAssigned}
	}
	if !g.unblocked(id) {
		return store.Task{}, fmt.Errorf("%w: task %s has incomplete blocking dependencies", ErrInvalidTransition, id)
	}

	now := g.now()
	next := *t
	next.Status = store.StatusAssigned
	next.AssignedAgent = agentID
	next.AssignedAt = &now
	return g.save(ctx, &next)
}

// Release returns an assigned task to pending, for when the agent never started it.
func (g *Graph) Release(ctx context.Context, id uuid.UUID) (store.Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[id]
	if !ok {
		return store.Task{}, notFound(id)
	}
	if t.Status != store.StatusAssigned {
		return store.Task{}, &TransitionError{TaskID: id, From: t.Status, To: store.StatusPending}
	}
	next := *t
	next.Status = store.StatusPending
	next.AssignedAgent = ""
	next.AssignedAt = nil
	return g.save(ctx, &next)
}

// Reopen is the operator action that puts a failed task back to pending.
func (g *Graph) Reopen(ctx context.Context, id uuid.UUID) (store.Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[id]
	if !ok {
		return store.Task{}, notFound(id)
	}
	if t.Status != store.StatusFailed {
		return store.Task{}, &TransitionError{TaskID: id, From: t.Status, To: store.StatusPending}
	}
	next := *t
	next.Status = store.StatusPending
	next.AssignedAgent = ""
	next.Error = ""
	next.AssignedAt, next.StartedAt, next.CompletedAt = nil, nil, nil
	return g.save(ctx, &next)
}
