package conflict

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

var (
	ErrConflictNotFound          = errors.New("conflict not found")
	ErrIllegalConflictTransition = errors.New("illegal conflict transition")
	ErrDecisionNotFound          = errors.New("decision not found")
	ErrInvalidConflict           = errors.New("invalid conflict")
	ErrInvalidDecision           = errors.New("invalid decision")
	// ErrEmitFailed marks a change that was persisted but whose event was not.
	ErrEmitFailed = errors.New("conflict event not emitted")
	// ErrUnresolvable is returned by a Resolver that declines a conflict.
	ErrUnresolvable = errors.New("conflict cannot be resolved automatically")
)

type TransitionError struct {
	ConflictID uuid.UUID
	From       store.ConflictStatus
	To         store.ConflictStatus
	Op         string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s on conflict %s (%s -> %s)", ErrIllegalConflictTransition, e.Op, e.ConflictID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalConflictTransition }
