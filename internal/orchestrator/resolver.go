package orchestrator

import (
	"context"
	"fmt"

	"github.com/MikeSquared-Agency/Switchboard/internal/conflict"
	"github.com/MikeSquared-Agency/Switchboard/internal/store"
	"github.com/MikeSquared-Agency/Switchboard/internal/taskgraph"
)

// DeferResolver settles resource conflicts inside one project by making the
// waiting task (the first affected task) depend on every holder through a
// resource edge. Anything else is escalated.
type DeferResolver struct {
	graphs *taskgraph.Graphs
}

func NewDeferResolver(graphs *taskgraph.Graphs) *DeferResolver {
	return &DeferResolver{graphs: graphs}
}

func (r *DeferResolver) Resolve(ctx context.Context, c store.Conflict) (conflict.Resolution, error) {
	if c.Type != store.ConflictResource {
		return conflict.Resolution{}, fmt.Errorf("%w: %s conflicts need a human", conflict.ErrUnresolvable, c.Type)
	}
	if len(c.AffectedTasks) < 2 {
		return conflict.Resolution{}, fmt.Errorf("%w: nothing to order", conflict.ErrUnresolvable)
	}
	waiting := c.AffectedTasks[0]
	g, err := r.graphs.Locate(ctx, waiting)
	if err != nil {
		return conflict.Resolution{}, err
	}
	for _, holder := range c.AffectedTasks[1:] {
		if _, err := g.AddDependency(ctx, holder, waiting, store.DependencyResource); err != nil {
			return conflict.Resolution{}, fmt.Errorf("order %s after %s: %w", waiting, holder, err)
		}
	}
	return conflict.Resolution{
		Strategy: "serialize",
		Note:     fmt.Sprintf("task %s waits for %d holder(s)", waiting, len(c.AffectedTasks)-1),
	}, nil
}
