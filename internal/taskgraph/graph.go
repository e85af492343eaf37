// Package taskgraph holds the per-project task dependency graph: an arena of
// tasks indexed by id plus adjacency lists of dependency edges.
package taskgraph

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

// Graph is the task graph of a single project. Every mutation is serialized
// on one mutex; reads take snapshots under the same mutex.
type Graph struct {
	projectID string
	store     store.Store
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	tasks map[uuid.UUID]*store.Task
	deps  map[uuid.UUID]*store.TaskDependency
	out   map[uuid.UUID][]uuid.UUID // task -> outgoing dependency ids
	in    map[uuid.UUID][]uuid.UUID // task -> incoming dependency ids
}

func New(projectID string, s store.Store, logger *slog.Logger) *Graph {
	return &Graph{
		projectID: projectID,
		store:     s,
		logger:    logger,
		now:       time.Now,
		tasks:     make(map[uuid.UUID]*store.Task),
		deps:      make(map[uuid.UUID]*store.TaskDependency),
		out:       make(map[uuid.UUID][]uuid.UUID),
		in:        make(map[uuid.UUID][]uuid.UUID),
	}
}

func (g *Graph) ProjectID() string { return g.projectID }

// Load replaces the in-memory graph with the project's persisted tasks and edges.
func (g *Graph) Load(ctx context.Context) error {
	tasks, err := g.store.ListTasks(ctx, store.TaskFilter{ProjectID: g.projectID})
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	deps, err := g.store.ListDependencies(ctx, g.projectID)
	if err != nil {
		return fmt.Errorf("load dependencies: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.tasks = make(map[uuid.UUID]*store.Task, len(tasks))
	g.deps = make(map[uuid.UUID]*store.TaskDependency, len(deps))
	g.out = make(map[uuid.UUID][]uuid.UUID)
	g.in = make(map[uuid.UUID][]uuid.UUID)
	for _, t := range tasks {
		g.tasks[t.ID] = t
	}
	for _, d := range deps {
		g.link(d)
	}
	g.logger.Debug("task graph loaded", "project_id", g.projectID, "tasks", len(tasks), "dependencies", len(deps))
	return nil
}

// AddTask inserts a new pending task into the graph.
func (g *Graph) AddTask(ctx context.Context, task *store.Task) (store.Task, error) {
	t, _, err := g.AddTaskWithDependencies(ctx, task, nil)
	return t, err
}

// AddTaskWithDependencies inserts a new pending task together with a blocking
// edge from each parent. The task becomes visible only with all of its edges;
// if any write fails the rows already written are removed and the graph is
// left unchanged.
func (g *Graph) AddTaskWithDependencies(ctx context.Context, task *store.Task, parents []uuid.UUID) (store.Task, []store.TaskDependency, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t := *task
	t.ProjectID = g.projectID
	t.Status = store.StatusPending
	t.AssignedAgent = ""
	t.AssignedAt, t.StartedAt, t.CompletedAt = nil, nil, nil
	if t.CreatedAt.IsZero() {
		t.CreatedAt = g.now()
	}
	if t.ParentTaskID != nil {
		if _, ok := g.tasks[*t.ParentTaskID]; !ok {
			return store.Task{}, nil, notFound(*t.ParentTaskID)
		}
	}
	seen := make(map[uuid.UUID]bool, len(parents))
	unique := make([]uuid.UUID, 0, len(parents))
	for _, p := range parents {
		if _, ok := g.tasks[p]; !ok {
			return store.Task{}, nil, notFound(p)
		}
		if !seen[p] {
			seen[p] = true
			unique = append(unique, p)
		}
	}

	if err := g.store.CreateTask(ctx, &t); err != nil {
		return store.Task{}, nil, fmt.Errorf("create task: %w", err)
	}
	// The new task has no outgoing edges, so none of these can close a cycle.
	deps := make([]*store.TaskDependency, 0, len(unique))
	for _, p := range unique {
		dep := &store.TaskDependency{
			ProjectID: g.projectID,
			ParentID:  p,
			ChildID:   t.ID,
			Kind:      store.DependencyBlocking,
			CreatedAt: g.now(),
		}
		if err := g.store.CreateDependency(ctx, dep); err != nil {
			g.discard(ctx, t.ID)
			return store.Task{}, nil, fmt.Errorf("create dependency on %s: %w", p, err)
		}
		deps = append(deps, dep)
	}

	g.tasks[t.ID] = &t
	out := make([]store.TaskDependency, len(deps))
	for i, dep := range deps {
		g.link(dep)
		out[i] = *dep
	}
	return t, out, nil
}

// discard removes the rows of a task that never made it into the arena.
func (g *Graph) discard(ctx context.Context, id uuid.UUID) {
	if err := g.store.DeleteDependenciesForTask(ctx, id); err != nil {
		g.logger.Error("failed to discard dependencies", "task_id", id, "error", err)
	}
	if err := g.store.DeleteTask(ctx, id); err != nil {
		g.logger.Error("failed to discard task", "task_id", id, "error", err)
	}
}

func (g *Graph) Task(id uuid.UUID) (store.Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[id]
	if !ok {
		return store.Task{}, notFound(id)
	}
	return *t, nil
}

// Tasks returns a snapshot of every task in the graph ordered by scheduling preference.
func (g *Graph) Tasks() []store.Task {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]store.Task, 0, len(g.tasks))
	for _, t := range g.tasks {
		out = append(out, *t)
	}
	sortTasks(out)
	return out
}

// Reparent moves a pending task under a new parent, or detaches it when parent is nil.
func (g *Graph) Reparent(ctx context.Context, id uuid.UUID, parent *uuid.UUID) (store.Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[id]
	if !ok {
		return store.Task{}, notFound(id)
	}
	if t.Status != store.StatusPending {
		return store.Task{}, fmt.Errorf("%w: task %s is %s", ErrReparentNotAllowed, id, t.Status)
	}
	if parent != nil {
		if _, ok := g.tasks[*parent]; !ok {
			return store.Task{}, notFound(*parent)
		}
		// The parent relation is a tree; walking up from the new parent must not reach the task.
		for cur := parent; cur != nil; {
			if *cur == id {
				return store.Task{}, fmt.Errorf("%w: task %s is an ancestor of %s", ErrCycleDetected, id, *parent)
			}
			next, ok := g.tasks[*cur]
			if !ok {
				break
			}
			cur = next.ParentTaskID
		}
	}

	next := *t
	if parent != nil {
		p := *parent
		next.ParentTaskID = &p
	} else {
		next.ParentTaskID = nil
	}
	return g.save(ctx, &next)
}

// AddDependency inserts the edge parent -> child. Gating edges (blocking and
// resource) are rejected with a *CycleError when child already reaches parent
// through gating edges. Soft edges are always accepted.
func (g *Graph) AddDependency(ctx context.Context, parent, child uuid.UUID, kind store.DependencyKind) (store.TaskDependency, error) {
	if !kind.Valid() {
		return store.TaskDependency{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidDependency, kind)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.tasks[parent]; !ok {
		return store.TaskDependency{}, notFound(parent)
	}
	if _, ok := g.tasks[child]; !ok {
		return store.TaskDependency{}, notFound(child)
	}
	for _, depID := range g.out[parent] {
		if d := g.deps[depID]; d.ChildID == child && d.Kind == kind {
			return *d, nil
		}
	}

	if kind.Gates() {
		if path := g.reach(child, parent, make(map[uuid.UUID]bool)); path != nil {
			g.logger.Info("dependency rejected",
				"project_id", g.projectID, "parent", parent, "child", child, "kind", kind)
			return store.TaskDependency{}, &CycleError{Parent: parent, Child: child, Path: path}
		}
	}

	dep := &store.TaskDependency{
		ProjectID: g.projectID,
		ParentID:  parent,
		ChildID:   child,
		Kind:      kind,
		CreatedAt: g.now(),
	}
	if err := g.store.CreateDependency(ctx, dep); err != nil {
		return store.TaskDependency{}, fmt.Errorf("create dependency: %w", err)
	}
	g.link(dep)
	return *dep, nil
}

// reach returns the gating path from -> ... -> target, or nil if target is unreachable.
func (g *Graph) reach(from, target uuid.UUID, seen map[uuid.UUID]bool) []uuid.UUID {
	if from == target {
		return []uuid.UUID{from}
	}
	if seen[from] {
		return nil
	}
	seen[from] = true
	for _, depID := range g.out[from] {
		d := g.deps[depID]
		if !d.Kind.Gates() {
			continue
		}
		if path := g.reach(d.ChildID, target, seen); path != nil {
			return append([]uuid.UUID{from}, path...)
		}
	}
	return nil
}

func (g *Graph) RemoveDependency(ctx context.Context, id uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.deps[id]; !ok {
		return fmt.Errorf("%w: %s", ErrDependencyNotFound, id)
	}
	if err := g.store.DeleteDependency(ctx, id); err != nil {
		return fmt.Errorf("delete dependency: %w", err)
	}
	g.unlink(id)
	return nil
}

// Dependencies returns the incoming and outgoing edges of a task.
func (g *Graph) Dependencies(id uuid.UUID) (incoming, outgoing []store.TaskDependency, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.tasks[id]; !ok {
		return nil, nil, notFound(id)
	}
	for _, depID := range g.in[id] {
		incoming = append(incoming, *g.deps[depID])
	}
	for _, depID := range g.out[id] {
		outgoing = append(outgoing, *g.deps[depID])
	}
	return incoming, outgoing, nil
}

// ReadyTasks yields pending tasks whose gating predecessors have all completed,
// by priority descending then creation time ascending. Each range over the
// sequence takes a fresh snapshot.
func (g *Graph) ReadyTasks() iter.Seq[store.Task] {
	return func(yield func(store.Task) bool) {
		for _, t := range g.readySnapshot() {
			if !yield(t) {
				return
			}
		}
	}
}

func (g *Graph) readySnapshot() []store.Task {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ready []store.Task
	for id, t := range g.tasks {
		if t.Status == store.StatusPending && g.unblocked(id) {
			ready = append(ready, *t)
		}
	}
	sortTasks(ready)
	return ready
}

func (g *Graph) unblocked(id uuid.UUID) bool {
	for _, depID := range g.in[id] {
		d := g.deps[depID]
		if !d.Kind.Gates() {
			continue
		}
		if p, ok := g.tasks[d.ParentID]; ok && p.Status != store.StatusCompleted {
			return false
		}
	}
	return true
}

// Blockers returns the ids of gating predecessors that have not completed.
func (g *Graph) Blockers(id uuid.UUID) ([]uuid.UUID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.tasks[id]; !ok {
		return nil, notFound(id)
	}
	var out []uuid.UUID
	for _, depID := range g.in[id] {
		d := g.deps[depID]
		if !d.Kind.Gates() {
			continue
		}
		if p, ok := g.tasks[d.ParentID]; ok && p.Status != store.StatusCompleted {
			out = append(out, p.ID)
		}
	}
	return out, nil
}

func (g *Graph) RemoveTask(ctx context.Context, id uuid.UUID) (store.Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[id]
	if !ok {
		return store.Task{}, notFound(id)
	}

	for _, sub := range g.tasks {
		if sub.ParentTaskID == nil || *sub.ParentTaskID != id {
			continue
		}
		detached := *sub
		detached.ParentTaskID = nil
		if _, err := g.save(ctx, &detached); err != nil {
			return store.Task{}, err
		}
	}
	if err := g.store.DeleteDependenciesForTask(ctx, id); err != nil {
		return store.Task{}, fmt.Errorf("delete dependencies of %s: %w", id, err)
	}
	for _, depID := range append(append([]uuid.UUID{}, g.in[id]...), g.out[id]...) {
		g.unlink(depID)
	}
	if err := g.store.DeleteTask(ctx, id); err != nil {
		return store.Task{}, fmt.Errorf("delete task %s: %w", id, err)
	}
	removed := *t
	delete(g.tasks, id)
	delete(g.in, id)
	delete(g.out, id)
	return removed, nil
}

func (g *Graph) link(d *store.TaskDependency) {
	g.deps[d.ID] = d
	g.out[d.ParentID] = append(g.out[d.ParentID], d.ID)
	g.in[d.ChildID] = append(g.in[d.ChildID], d.ID)
}

func (g *Graph) unlink(id uuid.UUID) {
	d, ok := g.deps[id]
	if !ok {
		return
	}
	delete(g.deps, id)
	g.out[d.ParentID] = without(g.out[d.ParentID], id)
	g.in[d.ChildID] = without(g.in[d.ChildID], id)
}

// save persists the task and, only on success, replaces the arena entry.
// Callers hold g.mu.
func (g *Graph) save(ctx context.Context, t *store.Task) (store.Task, error) {
	if err := g.store.UpdateTask(ctx, t); err != nil {
		return store.Task{}, fmt.Errorf("update task %s: %w", t.ID, err)
	}
	g.tasks[t.ID] = t
	return *t, nil
}

func without(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func sortTasks(tasks []store.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID.String() < tasks[j].ID.String()
	})
}
