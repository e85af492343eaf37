// Package orchestrator wires the task graphs, conflict ledger, event log and
// scorer together: it assigns ready tasks to agents, applies their reports and
// raises conflicts it detects along the way.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/Switchboard/internal/config"
	"github.com/MikeSquared-Agency/Switchboard/internal/conflict"
	"github.com/MikeSquared-Agency/Switchboard/internal/eventlog"
	"github.com/MikeSquared-Agency/Switchboard/internal/hermes"
	"github.com/MikeSquared-Agency/Switchboard/internal/lock"
	"github.com/MikeSquared-Agency/Switchboard/internal/runtime"
	"github.com/MikeSquared-Agency/Switchboard/internal/scoring"
	"github.com/MikeSquared-Agency/Switchboard/internal/store"
	"github.com/MikeSquared-Agency/Switchboard/internal/taskgraph"
)

var (
	ErrInvalidTask   = errors.New("invalid task")
	ErrNotAssignee   = errors.New("agent is not assigned to the task")
	ErrNoCandidate   = errors.New("no eligible agent")
	ErrUnknownAction = errors.New("unknown follow-up action")
)

// Observer receives orchestration outcomes, typically to feed metrics.
type Observer interface {
	TaskAssigned(outcome string)
	ConflictRaised(conflictType, severity string)
	ReadyTasks(projectID string, n int)
}

type nopObserver struct{}

func (nopObserver) TaskAssigned(string)           {}
func (nopObserver) ConflictRaised(string, string) {}
func (nopObserver) ReadyTasks(string, int)        {}

// Deps are the collaborators an Orchestrator is built from. Hermes and
// Runtime may be nil.
type Deps struct {
	Store    store.Store
	Graphs   *taskgraph.Graphs
	Ledger   *conflict.Ledger
	Events   *eventlog.Log
	Scorer   *scoring.Scorer
	Runtime  runtime.Client
	Hermes   hermes.Client
	Observer Observer
}

type Orchestrator struct {
	store    store.Store
	graphs   *taskgraph.Graphs
	ledger   *conflict.Ledger
	events   *eventlog.Log
	scorer   *scoring.Scorer
	runtime  runtime.Client
	hermes   hermes.Client
	observer Observer
	cfg      *config.Config
	logger   *slog.Logger

	detectors []Detector
	resolver  conflict.Resolver
	agents    *lock.MutexMap // serializes metrics updates per agent
	now       func() time.Time

	kick     chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(d Deps, cfg *config.Config, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		store:    d.Store,
		graphs:   d.Graphs,
		ledger:   d.Ledger,
		events:   d.Events,
		scorer:   d.Scorer,
		runtime:  d.Runtime,
		hermes:   d.Hermes,
		observer: d.Observer,
		cfg:      cfg,
		logger:   logger,
		agents:   lock.NewMutexMap(),
		now:      time.Now,
		kick:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}
	if cfg.Orchestration.DetectConflicts {
		o.detectors = []Detector{ResourceOverlapDetector{}, CapabilityGapDetector{}}
	}
	o.resolver = NewDeferResolver(d.Graphs)
	return o
}

// SetDetectors replaces the conflict detectors run before each assignment.
func (o *Orchestrator) SetDetectors(ds ...Detector) { o.detectors = ds }

// SetResolver replaces the automatic resolution strategy for low and medium conflicts.
func (o *Orchestrator) SetResolver(r conflict.Resolver) { o.resolver = r }

func (o *Orchestrator) Start(ctx context.Context) {
	o.wg.Add(2)
	go o.assignmentLoop(ctx)
	go o.deliveryLoop(ctx)
}

func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
	o.wg.Wait()
}

// Kick asks the assignment loop for an early pass.
func (o *Orchestrator) Kick() {
	select {
	case o.kick <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) assignmentLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tick(ctx)
		case <-o.kick:
			o.tick(ctx)
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context) {
	if o.runtime != nil {
		if err := o.SyncAgents(ctx); err != nil {
			o.logger.Warn("failed to sync agents", "error", err)
		}
	}
	n, err := o.AssignReady(ctx)
	if err != nil {
		o.logger.Error("assignment pass failed", "error", err)
	}
	if n > 0 {
		o.logger.Info("assignment pass", "assigned", n)
	}
}

func (o *Orchestrator) deliveryLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweep(ctx)
		}
	}
}

func (o *Orchestrator) sweep(ctx context.Context) {
	res, err := o.events.Sweep(ctx)
	if res.Attempted > 0 {
		o.logger.Debug("delivery sweep", "attempted", res.Attempted, "delivered", res.Delivered,
			"retrying", res.Retrying, "exhausted", res.Exhausted, "processed", res.Processed)
	}
	if err == nil {
		return
	}
	var exhausted *eventlog.DeliveryExhaustedError
	if errors.As(err, &exhausted) {
		// Each exhausted row is already logged by the event log; the row stays
		// failed for an operator to requeue.
		o.logger.Warn("deliveries exhausted", "count", res.Exhausted)
		return
	}
	if ctx.Err() == nil {
		o.logger.Error("delivery sweep failed", "error", err)
	}
}
