package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Switchboard/internal/conflict"
	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

// Follow-up actions a human decision may carry.
const (
	ActionReopenTask  = "reopen_task"
	ActionRemoveTask  = "remove_task"
	ActionReleaseTask = "release_task"
)

// RaiseConflict records a conflict and, when its severity allows, tries the
// automatic resolver straight away.
func (o *Orchestrator) RaiseConflict(ctx context.Context, c *store.Conflict) (store.Conflict, error) {
	raised, err := o.ledger.Raise(ctx, c)
	if raised.ID == uuid.Nil {
		return store.Conflict{}, err
	}
	if err != nil {
		o.logger.Warn("conflict raised with emit failure", "conflict_id", raised.ID, "error", err)
	}
	o.observer.ConflictRaised(string(raised.Type), string(raised.Severity))

	if !conflict.AutoResolvable(raised.Severity) || o.resolver == nil {
		return raised, err
	}
	resolved, rerr := o.ledger.AttemptAutoResolve(ctx, raised.ID, o.resolver)
	if resolved.ID == uuid.Nil {
		return raised, errors.Join(err, rerr)
	}
	if resolved.Status == store.ConflictResolved {
		// Resolution may have reordered tasks.
		o.Kick()
	}
	return resolved, errors.Join(err, rerr)
}

// DecisionResult is a recorded decision plus the outcome of its follow-ups.
type DecisionResult struct {
	conflict.Outcome
	Tasks []store.Task `json:"tasks,omitempty"`
}

// RecordDecision records a human decision and applies its follow-up actions
// to the task graph. Follow-ups run only once the decision and the conflict
// change are both stored; their failures are joined into the returned error.
func (o *Orchestrator) RecordDecision(ctx context.Context, conflictID uuid.UUID, d *store.HumanDecision) (DecisionResult, error) {
	for _, a := range d.FollowUpActions {
		switch a.Action {
		case ActionReopenTask, ActionRemoveTask, ActionReleaseTask:
		default:
			return DecisionResult{}, fmt.Errorf("%w: %q", ErrUnknownAction, a.Action)
		}
	}

	out, err := o.ledger.RecordHumanDecision(ctx, conflictID, d)
	if out.Decision.ID == uuid.Nil || (err != nil && !errors.Is(err, conflict.ErrEmitFailed)) {
		return DecisionResult{}, err
	}
	res := DecisionResult{Outcome: out}
	errs := []error{err}
	for _, a := range out.Decision.FollowUpActions {
		t, ferr := o.followUp(ctx, a)
		if ferr != nil {
			o.logger.Warn("follow-up action failed", "conflict_id", conflictID, "action", a.Action, "task_id", a.TaskID, "error", ferr)
			errs = append(errs, fmt.Errorf("%s %s: %w", a.Action, a.TaskID, ferr))
			continue
		}
		res.Tasks = append(res.Tasks, t)
	}
	return res, errors.Join(errs...)
}

func (o *Orchestrator) followUp(ctx context.Context, a store.FollowUpAction) (store.Task, error) {
	switch a.Action {
	case ActionReopenTask:
		return o.Reopen(ctx, a.TaskID)
	case ActionRemoveTask:
		return o.RemoveTask(ctx, a.TaskID)
	case ActionReleaseTask:
		return o.release(ctx, a.TaskID, "operator_decision")
	}
	return store.Task{}, fmt.Errorf("%w: %q", ErrUnknownAction, a.Action)
}
