package taskgraph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

var (
	ErrCycleDetected      = errors.New("cycle detected")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrTaskNotFound       = errors.New("task not found")
	ErrDependencyNotFound = errors.New("dependency not found")
	ErrInvalidDependency  = errors.New("invalid dependency")
	ErrAgentRequired      = errors.New("assignment requires an agent")
	ErrReparentNotAllowed = errors.New("task can only be reparented while pending")
)

// CycleError reports the gating path that the rejected edge would have closed.
// Path runs from Child back to Parent.
type CycleError struct {
	Parent uuid.UUID
	Child  uuid.UUID
	Path   []uuid.UUID
}

func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Path)+1)
	parts = append(parts, e.Parent.String())
	for _, id := range e.Path {
		parts = append(parts, id.String())
	}
	return fmt.Sprintf("%s: %s", ErrCycleDetected, strings.Join(parts, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }

type TransitionError struct {
	TaskID uuid.UUID
	From   store.TaskStatus
	To     store.TaskStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: task %s %s -> %s", ErrInvalidTransition, e.TaskID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func notFound(id uuid.UUID) error {
	return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
}
