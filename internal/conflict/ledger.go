// Package conflict tracks contention between tasks and agents from detection
// through automatic or human resolution.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Switchboard/internal/lock"
	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

const AggregateType = "conflict"

// Event types emitted on every conflict change.
const (
	EventDetected         = "ConflictDetected"
	EventAnalyzing        = "ConflictAnalyzing"
	EventEscalated        = "ConflictEscalated"
	EventResolving        = "ConflictResolving"
	EventResolved         = "ConflictResolved"
	EventIgnored          = "ConflictIgnored"
	EventAssigned         = "ConflictAssigned"
	EventDecisionRecorded = "HumanDecisionRecorded"
)

// Emitter appends a domain event and schedules its delivery.
type Emitter interface {
	Emit(ctx context.Context, evt *store.DomainEvent) error
}

var transitions = map[store.ConflictStatus][]store.ConflictStatus{
	store.ConflictDetected:  {store.ConflictAnalyzing, store.ConflictEscalated, store.ConflictIgnored},
	store.ConflictAnalyzing: {store.ConflictEscalated, store.ConflictResolving, store.ConflictResolved, store.ConflictIgnored},
	store.ConflictEscalated: {store.ConflictResolving, store.ConflictResolved, store.ConflictIgnored},
	store.ConflictResolving: {store.ConflictResolved, store.ConflictIgnored},
}

func allowed(from, to store.ConflictStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Ledger owns conflicts and human decisions. Changes to one conflict are
// serialized; different conflicts proceed in parallel. Events are emitted
// after the conflict's lock is released, in the order the changes were
// persisted.
type Ledger struct {
	store    store.Store
	emitter  Emitter
	logger   *slog.Logger
	locks    *lock.MutexMap // state changes per conflict id
	emitting *lock.MutexMap // event emission per conflict id
	now      func() time.Time
}

func NewLedger(s store.Store, emitter Emitter, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:    s,
		emitter:  emitter,
		logger:   logger,
		locks:    lock.NewMutexMap(),
		emitting: lock.NewMutexMap(),
		now:      time.Now,
	}
}

// Raise records a newly detected conflict. High and critical conflicts go
// straight to escalated; low and medium stay detected and are eligible for
// automatic resolution.
func (l *Ledger) Raise(ctx context.Context, c *store.Conflict) (store.Conflict, error) {
	if err := validate(c); err != nil {
		return store.Conflict{}, err
	}

	raised := *c
	if raised.ID == uuid.Nil {
		raised.ID = uuid.New()
	}
	raised.Status = store.ConflictDetected
	raised.DetectedAt = l.now()
	raised.EscalatedToHuman = false
	raised.AutoResolved = false
	raised.EscalatedAt, raised.ResolvedAt = nil, nil

	emits := []string{EventDetected}
	if !AutoResolvable(raised.Severity) {
		raised.Status = store.ConflictEscalated
		raised.EscalatedToHuman = true
		at := raised.DetectedAt
		raised.EscalatedAt = &at
		emits = append(emits, EventEscalated)
	}

	key := raised.ID.String()
	l.emitting.Lock(key)
	defer l.emitting.Unlock(key)

	if err := l.store.CreateConflict(ctx, &raised); err != nil {
		return store.Conflict{}, fmt.Errorf("create conflict: %w", err)
	}
	l.logger.Info("conflict raised",
		"conflict_id", raised.ID, "type", raised.Type, "severity", raised.Severity, "status", raised.Status)

	return raised, l.emit(ctx, raised, emits...)
}

// AutoResolvable reports whether conflicts of this severity may be settled without a human.
func AutoResolvable(s store.Severity) bool {
	return s == store.SeverityLow || s == store.SeverityMedium
}

func (l *Ledger) BeginAnalysis(ctx context.Context, id uuid.UUID) (store.Conflict, error) {
	return l.transition(ctx, id, "begin_analysis", func(c *store.Conflict) (string, error) {
		if err := l.move(c, store.ConflictAnalyzing, "begin_analysis"); err != nil {
			return "", err
		}
		return EventAnalyzing, nil
	})
}

// AttemptAutoResolve runs resolver against a detected or analyzing conflict.
// The conflict passes through analyzing; a successful resolution ends in
// resolved with auto_resolved set, any resolver error ends in escalated.
func (l *Ledger) AttemptAutoResolve(ctx context.Context, id uuid.UUID, resolver Resolver) (store.Conflict, error) {
	snapshot, err := l.transition(ctx, id, "attempt_auto_resolve", func(c *store.Conflict) (string, error) {
		switch c.Status {
		case store.ConflictAnalyzing:
			return "", nil
		case store.ConflictDetected:
			c.Status = store.ConflictAnalyzing
			return EventAnalyzing, nil
		}
		return "", &TransitionError{ConflictID: c.ID, From: c.Status, To: store.ConflictAnalyzing, Op: "attempt_auto_resolve"}
	})
	if err != nil {
		return snapshot, err
	}

	res, resolveErr := resolver.Resolve(ctx, snapshot)

	return l.transition(ctx, id, "attempt_auto_resolve", func(c *store.Conflict) (string, error) {
		if c.Status != store.ConflictAnalyzing {
			return "", &TransitionError{ConflictID: c.ID, From: c.Status, To: store.ConflictResolved, Op: "attempt_auto_resolve"}
		}
		now := l.now()
		if resolveErr != nil {
			c.Status = store.ConflictEscalated
			c.EscalatedToHuman = true
			c.EscalatedAt = &now
			c.ResolutionNote = resolveErr.Error()
			l.logger.Info("auto resolution failed, escalating", "conflict_id", c.ID, "error", resolveErr)
			return EventEscalated, nil
		}
		c.Status = store.ConflictResolved
		c.AutoResolved = true
		c.ResolutionStrategy = res.Strategy
		c.ResolutionNote = res.Note
		c.ResolvedAt = &now
		return EventResolved, nil
	})
}

// Outcome is the result of recording a human decision.
type Outcome struct {
	Conflict store.Conflict
	Decision store.HumanDecision
}

// RecordHumanDecision appends a decision to an escalated or resolving conflict.
// approve resolves it, reject and modify move it to resolving, escalate leaves
// the status as is.
func (l *Ledger) RecordHumanDecision(ctx context.Context, id uuid.UUID, d *store.HumanDecision) (Outcome, error) {
	if d.UserID == "" {
		return Outcome{}, fmt.Errorf("%w: user_id is required", ErrInvalidDecision)
	}
	switch d.DecisionType {
	case store.DecisionApprove, store.DecisionReject, store.DecisionModify, store.DecisionEscalate:
	default:
		return Outcome{}, fmt.Errorf("%w: unknown decision type %q", ErrInvalidDecision, d.DecisionType)
	}

	var decision store.HumanDecision
	save := func(ctx context.Context, c *store.Conflict) error {
		return l.store.RecordDecision(ctx, c, &decision)
	}
	c, err := l.apply(ctx, id, "record_human_decision", func(c *store.Conflict) (string, error) {
		if c.Status != store.ConflictEscalated && c.Status != store.ConflictResolving {
			return "", &TransitionError{ConflictID: c.ID, From: c.Status, To: decisionTarget(c.Status, d.DecisionType), Op: "record_human_decision"}
		}

		decision = *d
		decision.ID = uuid.Nil
		decision.ConflictID = c.ID
		decision.CreatedAt = time.Time{}

		if c.AssignedUserID == "" {
			c.AssignedUserID = decision.UserID
		}
		switch decision.DecisionType {
		case store.DecisionApprove:
			now := l.now()
			c.Status = store.ConflictResolved
			c.ResolvedAt = &now
			if c.ResolutionStrategy == "" {
				c.ResolutionStrategy = "human_approved"
			}
			if decision.Reasoning != "" {
				c.ResolutionNote = decision.Reasoning
			}
			return EventResolved, nil
		case store.DecisionReject, store.DecisionModify:
			if c.Status == store.ConflictResolving {
				return EventDecisionRecorded, nil
			}
			c.Status = store.ConflictResolving
			return EventResolving, nil
		}
		return EventDecisionRecorded, nil
	}, save)

	out := Outcome{Conflict: c}
	if err == nil || errors.Is(err, ErrEmitFailed) {
		out.Decision = decision
	}
	return out, err
}

func decisionTarget(from store.ConflictStatus, t store.DecisionType) store.ConflictStatus {
	switch t {
	case store.DecisionApprove:
		return store.ConflictResolved
	case store.DecisionReject, store.DecisionModify:
		return store.ConflictResolving
	}
	return from
}

// AssignHuman routes a conflict to a specific operator.
func (l *Ledger) AssignHuman(ctx context.Context, id uuid.UUID, userID string) (store.Conflict, error) {
	if userID == "" {
		return store.Conflict{}, fmt.Errorf("%w: user_id is required", ErrInvalidDecision)
	}
	return l.transition(ctx, id, "assign_human", func(c *store.Conflict) (string, error) {
		if c.Status.Terminal() {
			return "", &TransitionError{ConflictID: c.ID, From: c.Status, To: c.Status, Op: "assign_human"}
		}
		c.AssignedUserID = userID
		return EventAssigned, nil
	})
}

func (l *Ledger) Ignore(ctx context.Context, id uuid.UUID, note string) (store.Conflict, error) {
	return l.transition(ctx, id, "ignore", func(c *store.Conflict) (string, error) {
		if err := l.move(c, store.ConflictIgnored, "ignore"); err != nil {
			return "", err
		}
		now := l.now()
		c.ResolvedAt = &now
		if note != "" {
			c.ResolutionNote = note
		}
		return EventIgnored, nil
	})
}

// AnnotateDecision replaces a decision's reasoning, its only mutable field.
func (l *Ledger) AnnotateDecision(ctx context.Context, decisionID uuid.UUID, reasoning string) (store.HumanDecision, error) {
	d, err := l.store.GetHumanDecision(ctx, decisionID)
	if err != nil {
		return store.HumanDecision{}, err
	}
	if d == nil {
		return store.HumanDecision{}, fmt.Errorf("%w: %s", ErrDecisionNotFound, decisionID)
	}
	if err := l.store.UpdateDecisionReasoning(ctx, decisionID, reasoning); err != nil {
		return store.HumanDecision{}, err
	}
	d.Reasoning = reasoning
	return *d, nil
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (store.Conflict, error) {
	c, err := l.store.GetConflict(ctx, id)
	if err != nil {
		return store.Conflict{}, err
	}
	if c == nil {
		return store.Conflict{}, fmt.Errorf("%w: %s", ErrConflictNotFound, id)
	}
	return *c, nil
}

func (l *Ledger) List(ctx context.Context, filter store.ConflictFilter) ([]*store.Conflict, error) {
	return l.store.ListConflicts(ctx, filter)
}

func (l *Ledger) Decisions(ctx context.Context, id uuid.UUID) ([]*store.HumanDecision, error) {
	if _, err := l.Get(ctx, id); err != nil {
		return nil, err
	}
	return l.store.ListHumanDecisions(ctx, id)
}

// OpenForTask returns the unsettled conflicts of the given type that name the task.
func (l *Ledger) OpenForTask(ctx context.Context, taskID uuid.UUID, t store.ConflictType) ([]store.Conflict, error) {
	all, err := l.store.ListConflicts(ctx, store.ConflictFilter{TaskID: &taskID})
	if err != nil {
		return nil, err
	}
	var out []store.Conflict
	for _, c := range all {
		if !c.Status.Terminal() && (t == "" || c.Type == t) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (l *Ledger) move(c *store.Conflict, to store.ConflictStatus, op string) error {
	if !allowed(c.Status, to) {
		return &TransitionError{ConflictID: c.ID, From: c.Status, To: to, Op: op}
	}
	c.Status = to
	return nil
}

// transition loads the conflict under its lock, applies mutate, persists the
// result and then emits the event mutate named. An empty event name means
// nothing changed.
func (l *Ledger) transition(ctx context.Context, id uuid.UUID, op string, mutate func(c *store.Conflict) (string, error)) (store.Conflict, error) {
	return l.apply(ctx, id, op, mutate, l.store.UpdateConflict)
}

// apply is transition with a caller-supplied write. The emission lock is taken
// before the state lock is released, so events leave in persistence order.
func (l *Ledger) apply(ctx context.Context, id uuid.UUID, op string, mutate func(c *store.Conflict) (string, error), save func(context.Context, *store.Conflict) error) (store.Conflict, error) {
	key := id.String()
	l.locks.Lock(key)

	current, err := l.store.GetConflict(ctx, id)
	if err != nil {
		l.locks.Unlock(key)
		return store.Conflict{}, err
	}
	if current == nil {
		l.locks.Unlock(key)
		return store.Conflict{}, fmt.Errorf("%w: %s", ErrConflictNotFound, id)
	}

	next := *current
	event, err := mutate(&next)
	if err != nil {
		l.locks.Unlock(key)
		var te *TransitionError
		if errors.As(err, &te) {
			l.logger.Warn("illegal conflict transition", "conflict_id", id, "op", op, "from", te.From, "to", te.To)
		}
		return *current, err
	}
	if event == "" {
		l.locks.Unlock(key)
		return next, nil
	}
	if err := save(ctx, &next); err != nil {
		l.locks.Unlock(key)
		return *current, fmt.Errorf("update conflict: %w", err)
	}
	l.emitting.Lock(key)
	l.locks.Unlock(key)
	defer l.emitting.Unlock(key)

	if next.Status != current.Status {
		l.logger.Info("conflict transitioned", "conflict_id", id, "op", op, "from", current.Status, "to", next.Status)
	}
	return next, l.emit(ctx, next, event)
}

func (l *Ledger) emit(ctx context.Context, c store.Conflict, eventTypes ...string) error {
	var errs []error
	for _, et := range eventTypes {
		evt := &store.DomainEvent{
			EventType:     et,
			AggregateType: AggregateType,
			AggregateID:   c.ID.String(),
			UserID:        c.AssignedUserID,
			Payload:       Payload(c),
		}
		if err := l.emitter.Emit(ctx, evt); err != nil {
			l.logger.Error("failed to emit conflict event", "conflict_id", c.ID, "event_type", et, "error", err)
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrEmitFailed, et, err))
		}
	}
	return errors.Join(errs...)
}

// Payload is the event body describing a conflict to subscribers.
func Payload(c store.Conflict) map[string]interface{} {
	tasks := make([]string, len(c.AffectedTasks))
	for i, id := range c.AffectedTasks {
		tasks[i] = id.String()
	}
	p := map[string]interface{}{
		"conflict_id":        c.ID.String(),
		"project_id":         c.ProjectID,
		"conflict_type":      string(c.Type),
		"severity":           string(c.Severity),
		"status":             string(c.Status),
		"title":              c.Title,
		"description":        c.Description,
		"affected_tasks":     tasks,
		"affected_agents":    c.AffectedAgents,
		"escalated_to_human": c.EscalatedToHuman,
		"auto_resolved":      c.AutoResolved,
	}
	if c.AssignedUserID != "" {
		p["assigned_user_id"] = c.AssignedUserID
	}
	if c.ResolutionStrategy != "" {
		p["resolution_strategy"] = c.ResolutionStrategy
	}
	if c.ResolutionNote != "" {
		p["resolution_note"] = c.ResolutionNote
	}
	return p
}

func validate(c *store.Conflict) error {
	switch c.Type {
	case store.ConflictGitMerge, store.ConflictResource, store.ConflictTaskDependency,
		store.ConflictCapability, store.ConflictTimeline:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidConflict, c.Type)
	}
	switch c.Severity {
	case store.SeverityLow, store.SeverityMedium, store.SeverityHigh, store.SeverityCritical:
	default:
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidConflict, c.Severity)
	}
	if c.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidConflict)
	}
	return nil
}
