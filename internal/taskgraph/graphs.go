package taskgraph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

// Graphs hands out one Graph per project, loading it from the store on first use.
type Graphs struct {
	store  store.Store
	logger *slog.Logger

	mu     sync.Mutex
	graphs map[string]*Graph
}

func NewGraphs(s store.Store, logger *slog.Logger) *Graphs {
	return &Graphs{store: s, logger: logger, graphs: make(map[string]*Graph)}
}

func (gs *Graphs) Get(ctx context.Context, projectID string) (*Graph, error) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if g, ok := gs.graphs[projectID]; ok {
		return g, nil
	}
	g := New(projectID, gs.store, gs.logger)
	if err := g.Load(ctx); err != nil {
		return nil, fmt.Errorf("load project %s: %w", projectID, err)
	}
	gs.graphs[projectID] = g
	return g, nil
}

// Locate returns the graph that owns a task.
func (gs *Graphs) Locate(ctx context.Context, taskID uuid.UUID) (*Graph, error) {
	t, err := gs.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, notFound(taskID)
	}
	return gs.Get(ctx, t.ProjectID)
}

// Projects lists the ids of every project with tasks, persisted or loaded.
func (gs *Graphs) Projects(ctx context.Context) ([]string, error) {
	tasks, err := gs.store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, t := range tasks {
		seen[t.ProjectID] = true
	}
	gs.mu.Lock()
	for id := range gs.graphs {
		seen[id] = true
	}
	gs.mu.Unlock()

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
