package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Switchboard/internal/config"
	"github.com/MikeSquared-Agency/Switchboard/internal/conflict"
	"github.com/MikeSquared-Agency/Switchboard/internal/eventlog"
	"github.com/MikeSquared-Agency/Switchboard/internal/hermes"
	"github.com/MikeSquared-Agency/Switchboard/internal/runtime"
	"github.com/MikeSquared-Agency/Switchboard/internal/scoring"
	"github.com/MikeSquared-Agency/Switchboard/internal/store"
	"github.com/MikeSquared-Agency/Switchboard/internal/taskgraph"
)

type fakeRuntime struct {
	mu         sync.Mutex
	dispatched []runtime.Assignment
	refuse     map[string]error
	agents     []runtime.AgentState
}

func (r *fakeRuntime) Dispatch(_ context.Context, a runtime.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.refuse[a.Agent]; err != nil {
		return err
	}
	r.dispatched = append(r.dispatched, a)
	return nil
}

func (r *fakeRuntime) ListAgents(context.Context) ([]runtime.AgentState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agents, nil
}

func (r *fakeRuntime) Dispatched() []runtime.Assignment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runtime.Assignment(nil), r.dispatched...)
}

type fakeHermes struct {
	mu       sync.Mutex
	handlers map[string]func(string, []byte)
}

func (h *fakeHermes) Publish(string, interface{}) error { return nil }

func (h *fakeHermes) Subscribe(subject string, handler func(string, []byte)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.handlers == nil {
		h.handlers = make(map[string]func(string, []byte))
	}
	h.handlers[subject] = handler
	return nil
}

func (h *fakeHermes) Close() {}

func (h *fakeHermes) deliver(pattern, subject, data string) {
	h.mu.Lock()
	fn := h.handlers[pattern]
	h.mu.Unlock()
	fn(subject, []byte(data))
}

type harness struct {
	orch    *Orchestrator
	store   *store.MemoryStore
	ledger  *conflict.Ledger
	events  *eventlog.Log
	runtime *fakeRuntime
	hermes  *fakeHermes
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, func(m *store.MemoryStore) store.Store { return m })
}

// newHarnessWith lets a test put a wrapper in front of the memory store.
func newHarnessWith(t *testing.T, wrap func(*store.MemoryStore) store.Store) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Orchestration.MaxConcurrentPerAgent = 3
	cfg.Orchestration.DetectConflicts = true

	mem := store.NewMemoryStore()
	s := wrap(mem)
	events := eventlog.New(s, eventlog.NewRegistry(), eventlog.DefaultOptions(), logger)
	ledger := conflict.NewLedger(s, events, logger)
	rt := &fakeRuntime{refuse: make(map[string]error)}
	h := &fakeHermes{}
	o := New(Deps{
		Store:   s,
		Graphs:  taskgraph.NewGraphs(s, logger),
		Ledger:  ledger,
		Events:  events,
		Scorer:  scoring.NewScorer(scoring.DefaultConfig(), logger),
		Runtime: rt,
		Hermes:  h,
	}, cfg, logger)
	return &harness{orch: o, store: mem, ledger: ledger, events: events, runtime: rt, hermes: h}
}

func (h *harness) agent(t *testing.T, id string, maxConcurrent int, skills map[string]float64) {
	t.Helper()
	require.NoError(t, h.orch.UpsertAgent(context.Background(), &store.AgentProfile{
		ID: id, Skills: skills, MaxConcurrent: maxConcurrent, Available: true,
	}))
}

func (h *harness) task(t *testing.T, task store.Task, dependsOn ...uuid.UUID) store.Task {
	t.Helper()
	created, err := h.orch.CreateTask(context.Background(), &task, dependsOn)
	require.NoError(t, err)
	return created
}

func (h *harness) get(t *testing.T, id uuid.UUID) store.Task {
	t.Helper()
	task, err := h.orch.Task(context.Background(), id)
	require.NoError(t, err)
	return task
}

func (h *harness) eventTypes(t *testing.T, aggregateID string) []string {
	t.Helper()
	evts, err := h.events.Events(context.Background(), store.EventFilter{AggregateID: aggregateID})
	require.NoError(t, err)
	var out []string
	for _, e := range evts {
		out = append(out, e.EventType)
	}
	return out
}

func (h *harness) conflictsFor(t *testing.T, taskID uuid.UUID) []*store.Conflict {
	t.Helper()
	cs, err := h.ledger.List(context.Background(), store.ConflictFilter{TaskID: &taskID})
	require.NoError(t, err)
	return cs
}

func TestCreateTaskValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.CreateTask(ctx, &store.Task{Title: "no project"}, nil)
	assert.ErrorIs(t, err, ErrInvalidTask)

	_, err = h.orch.CreateTask(ctx, &store.Task{ProjectID: "p1", Title: "dangling"}, []uuid.UUID{uuid.New()})
	assert.ErrorIs(t, err, taskgraph.ErrTaskNotFound)

	created := h.task(t, store.Task{ProjectID: "p1", Title: "first"})
	assert.Equal(t, store.StatusPending, created.Status)
	assert.Equal(t, []string{EventTaskCreated}, h.eventTypes(t, created.ID.String()))
}

func TestAssignReadyPicksBestMatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.agent(t, "ana", 0, map[string]float64{"go": 9})
	h.agent(t, "ben", 0, map[string]float64{"go": 4})
	task := h.task(t, store.Task{ProjectID: "p1", Title: "Write parser", RequiredCapabilities: []string{"go"}})

	n, err := h.orch.AssignReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := h.get(t, task.ID)
	assert.Equal(t, store.StatusAssigned, got.Status)
	assert.Equal(t, "ana", got.AssignedAgent)
	require.NotNil(t, got.AssignedAt)

	sent := h.runtime.Dispatched()
	require.Len(t, sent, 1)
	assert.Equal(t, "ana", sent[0].Agent)
	assert.Contains(t, sent[0].Prompt, "Write parser")
	assert.Contains(t, h.eventTypes(t, task.ID.String()), EventTaskAssigned)
}

func TestAssignReadyRespectsCapacity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.agent(t, "ana", 1, map[string]float64{"go": 9})
	h.agent(t, "ben", 1, map[string]float64{"go": 4})
	a := h.task(t, store.Task{ProjectID: "p1", Title: "a", Priority: 2, RequiredCapabilities: []string{"go"}})
	b := h.task(t, store.Task{ProjectID: "p1", Title: "b", Priority: 1, RequiredCapabilities: []string{"go"}})
	c := h.task(t, store.Task{ProjectID: "p1", Title: "c", RequiredCapabilities: []string{"go"}})

	n, err := h.orch.AssignReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "ana", h.get(t, a.ID).AssignedAgent)
	assert.Equal(t, "ben", h.get(t, b.ID).AssignedAgent)
	assert.Equal(t, store.StatusPending, h.get(t, c.ID).Status)
}

func TestAssignReadySkipsUnmatchedAgents(t *testing.T) {
	h := newHarness(t)
	h.agent(t, "ana", 0, map[string]float64{"python": 9})
	task := h.task(t, store.Task{ProjectID: "p1", Title: "rust port", RequiredCapabilities: []string{"rust"}})

	n, err := h.orch.AssignReady(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, store.StatusPending, h.get(t, task.ID).Status)
}

func TestDispatchFailureReleasesTask(t *testing.T) {
	h := newHarness(t)
	h.agent(t, "ana", 0, map[string]float64{"go": 9})
	h.runtime.refuse["ana"] = errors.New("agent unreachable")
	task := h.task(t, store.Task{ProjectID: "p1", Title: "t", RequiredCapabilities: []string{"go"}})

	n, err := h.orch.AssignReady(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent unreachable")
	assert.Zero(t, n)

	got := h.get(t, task.ID)
	assert.Equal(t, store.StatusPending, got.Status)
	assert.Empty(t, got.AssignedAgent)
	assert.Contains(t, h.eventTypes(t, task.ID.String()), EventTaskReleased)
	assert.NotContains(t, h.eventTypes(t, task.ID.String()), EventTaskAssigned)
}

func TestManualAssign(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.agent(t, "ben", 0, map[string]float64{"go": 1})
	first := h.task(t, store.Task{ProjectID: "p1", Title: "first"})
	second := h.task(t, store.Task{ProjectID: "p1", Title: "second"}, first.ID)

	got, err := h.orch.Assign(ctx, first.ID, "ben")
	require.NoError(t, err)
	assert.Equal(t, "ben", got.AssignedAgent)

	_, err = h.orch.Assign(ctx, second.ID, "ben")
	assert.ErrorIs(t, err, taskgraph.ErrInvalidTransition, "blocked task")

	_, err = h.orch.Assign(ctx, first.ID, "nobody")
	assert.ErrorIs(t, err, ErrNoCandidate)
}

func TestCompleteUpdatesHistoryAndUnblocksDependents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.agent(t, "ana", 0, map[string]float64{"go": 9})
	first := h.task(t, store.Task{ProjectID: "p1", Title: "schema", RequiredCapabilities: []string{"go"}})
	second := h.task(t, store.Task{ProjectID: "p1", Title: "queries", RequiredCapabilities: []string{"go"}}, first.ID)

	n, err := h.orch.AssignReady(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, store.StatusPending, h.get(t, second.ID).Status)

	quality := 8.0
	done, err := h.orch.Complete(ctx, Report{
		TaskID: first.ID, AgentID: "ana", CodeQuality: &quality,
		SkillDeltas: map[string]float64{"go": 0.5},
	})
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, done.Status)
	require.NotNil(t, done.StartedAt, "completing an assigned task starts it first")
	assert.Equal(t, []string{EventTaskCreated, EventTaskAssigned, EventTaskStarted, EventTaskCompleted},
		h.eventTypes(t, first.ID.String()))

	m, err := h.store.GetAgentMetrics(ctx, "ana")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 1, m.TasksCompleted)
	assert.Equal(t, 1, m.TasksSuccessful)
	assert.Equal(t, 1, m.QualityReviews)
	assert.InDelta(t, 8, m.AvgCodeQuality, 1e-9)

	hist, err := h.store.ListWorkHistory(ctx, "ana", 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.True(t, hist[0].Success)

	p, err := h.store.GetAgentProfile(ctx, "ana")
	require.NoError(t, err)
	assert.InDelta(t, 9.5, p.Skills["go"], 1e-9)

	n, err = h.orch.AssignReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, store.StatusAssigned, h.get(t, second.ID).Status)
}

func TestFailRecordsUnsuccessfulHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.agent(t, "ana", 0, map[string]float64{"go": 9})
	task := h.task(t, store.Task{ProjectID: "p1", Title: "t", RequiredCapabilities: []string{"go"}})
	_, err := h.orch.AssignReady(ctx)
	require.NoError(t, err)

	_, err = h.orch.Started(ctx, Report{TaskID: task.ID, AgentID: "ben"})
	assert.ErrorIs(t, err, ErrNotAssignee)

	started, err := h.orch.Started(ctx, Report{TaskID: task.ID, AgentID: "ana"})
	require.NoError(t, err)
	assert.Equal(t, store.StatusInProgress, started.Status)

	failed, err := h.orch.Fail(ctx, Report{TaskID: task.ID, AgentID: "ana", Error: "tests red"})
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, failed.Status)
	assert.Equal(t, "tests red", failed.Error)

	m, err := h.store.GetAgentMetrics(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, 1, m.TasksCompleted)
	assert.Zero(t, m.TasksSuccessful)

	_, err = h.orch.Complete(ctx, Report{TaskID: task.ID, AgentID: "ana"})
	assert.ErrorIs(t, err, taskgraph.ErrInvalidTransition)

	reopened, err := h.orch.Reopen(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, reopened.Status)
	assert.Empty(t, reopened.Error)
}

func TestResourceOverlapInProjectIsSerialized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.agent(t, "ana", 0, map[string]float64{"go": 9})
	h.agent(t, "ben", 0, map[string]float64{"go": 8})
	holder := h.task(t, store.Task{ProjectID: "p1", Title: "edit router", Priority: 5, Resources: []string{"api/router.go"}})
	waiting := h.task(t, store.Task{ProjectID: "p1", Title: "add route", Resources: []string{"api/router.go", "api/tasks.go"}})

	n, err := h.orch.AssignReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, store.StatusAssigned, h.get(t, holder.ID).Status)
	assert.Equal(t, store.StatusPending, h.get(t, waiting.ID).Status)

	cs := h.conflictsFor(t, waiting.ID)
	require.Len(t, cs, 1)
	c := cs[0]
	assert.Equal(t, store.ConflictResource, c.Type)
	assert.Equal(t, store.SeverityMedium, c.Severity)
	assert.Equal(t, store.ConflictResolved, c.Status)
	assert.True(t, c.AutoResolved)
	assert.Equal(t, "serialize", c.ResolutionStrategy)
	assert.Equal(t, []uuid.UUID{waiting.ID, holder.ID}, c.AffectedTasks)

	ready, err := h.orch.Ready(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, ready, "resource edge gates the waiting task")

	_, err = h.orch.Complete(ctx, Report{TaskID: holder.ID, AgentID: h.get(t, holder.ID).AssignedAgent})
	require.NoError(t, err)
	n, err = h.orch.AssignReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, store.StatusAssigned, h.get(t, waiting.ID).Status)
	assert.Len(t, h.conflictsFor(t, waiting.ID), 1, "no new conflict once the holder is done")
}

func TestResourceOverlapAcrossProjectsEscalates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.agent(t, "ana", 0, map[string]float64{"go": 9})
	h.agent(t, "ben", 0, map[string]float64{"go": 8})
	holder := h.task(t, store.Task{ProjectID: "alpha", Title: "migrate", Resources: []string{"db/shared"}})
	_, err := h.orch.AssignReady(ctx)
	require.NoError(t, err)

	waiting := h.task(t, store.Task{ProjectID: "beta", Title: "backfill", Resources: []string{"db/shared"}})
	for range 2 {
		n, err := h.orch.AssignReady(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	assert.Equal(t, store.StatusPending, h.get(t, waiting.ID).Status)

	cs := h.conflictsFor(t, waiting.ID)
	require.Len(t, cs, 1, "the same finding is raised once")
	c := cs[0]
	assert.Equal(t, store.SeverityHigh, c.Severity)
	assert.Equal(t, store.ConflictEscalated, c.Status)
	assert.True(t, c.EscalatedToHuman)
	assert.Equal(t, []string{h.get(t, holder.ID).AssignedAgent}, c.AffectedAgents)

	res, err := h.orch.RecordDecision(ctx, c.ID, &store.HumanDecision{
		UserID: "ops", DecisionType: store.DecisionApprove, Reasoning: "different tables",
	})
	require.NoError(t, err)
	assert.Equal(t, store.ConflictResolved, res.Conflict.Status)

	n, err := h.orch.AssignReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, store.StatusAssigned, h.get(t, waiting.ID).Status)
}

func TestCapabilityGapIsRaisedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.agent(t, "ana", 0, map[string]float64{"go": 9})
	task := h.task(t, store.Task{ProjectID: "p1", Title: "ios app", RequiredCapabilities: []string{"swift"}})

	for range 3 {
		_, err := h.orch.AssignReady(ctx)
		require.NoError(t, err)
	}
	cs := h.conflictsFor(t, task.ID)
	require.Len(t, cs, 1)
	assert.Equal(t, store.ConflictCapability, cs[0].Type)
	assert.Equal(t, store.ConflictEscalated, cs[0].Status)

	// A capable agent joining picks the task up while the conflict is still open.
	h.agent(t, "kit", 0, map[string]float64{"swift": 7})
	n, err := h.orch.AssignReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "kit", h.get(t, task.ID).AssignedAgent)
}

func TestDetectionDisabled(t *testing.T) {
	h := newHarness(t)
	h.orch.SetDetectors()
	h.agent(t, "ana", 0, map[string]float64{"go": 9})
	h.task(t, store.Task{ProjectID: "p1", Title: "a", Resources: []string{"x"}})
	h.task(t, store.Task{ProjectID: "p1", Title: "b", Resources: []string{"x"}})

	n, err := h.orch.AssignReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	all, err := h.ledger.List(context.Background(), store.ConflictFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRecordDecisionFollowUps(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.agent(t, "ana", 0, map[string]float64{"go": 9})
	failed := h.task(t, store.Task{ProjectID: "p1", Title: "flaky"})
	_, err := h.orch.Assign(ctx, failed.ID, "ana")
	require.NoError(t, err)
	_, err = h.orch.Fail(ctx, Report{TaskID: failed.ID, AgentID: "ana", Error: "boom"})
	require.NoError(t, err)
	obsolete := h.task(t, store.Task{ProjectID: "p1", Title: "obsolete"})

	c, err := h.orch.RaiseConflict(ctx, &store.Conflict{
		ProjectID: "p1", Type: store.ConflictTimeline, Severity: store.SeverityCritical,
		Title: "release slipping", AffectedTasks: []uuid.UUID{failed.ID, obsolete.ID},
	})
	require.NoError(t, err)
	require.Equal(t, store.ConflictEscalated, c.Status)

	_, err = h.orch.RecordDecision(ctx, c.ID, &store.HumanDecision{
		UserID: "ops", DecisionType: store.DecisionApprove,
		FollowUpActions: []store.FollowUpAction{{Action: "rewrite_history", TaskID: failed.ID}},
	})
	assert.ErrorIs(t, err, ErrUnknownAction)
	got, err := h.ledger.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ConflictEscalated, got.Status, "rejected before anything is recorded")

	res, err := h.orch.RecordDecision(ctx, c.ID, &store.HumanDecision{
		UserID: "ops", DecisionType: store.DecisionApprove,
		FollowUpActions: []store.FollowUpAction{
			{Action: ActionReopenTask, TaskID: failed.ID},
			{Action: ActionRemoveTask, TaskID: obsolete.ID},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, store.ConflictResolved, res.Conflict.Status)
	require.Len(t, res.Tasks, 2)
	assert.Equal(t, store.StatusPending, h.get(t, failed.ID).Status)
	_, err = h.orch.Task(ctx, obsolete.ID)
	assert.ErrorIs(t, err, taskgraph.ErrTaskNotFound)
}

func TestRecordDecisionFollowUpFailureIsReported(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pending := h.task(t, store.Task{ProjectID: "p1", Title: "never failed"})
	c, err := h.orch.RaiseConflict(ctx, &store.Conflict{
		ProjectID: "p1", Type: store.ConflictGitMerge, Severity: store.SeverityHigh,
		Title: "merge clash", AffectedTasks: []uuid.UUID{pending.ID},
	})
	require.NoError(t, err)

	res, err := h.orch.RecordDecision(ctx, c.ID, &store.HumanDecision{
		UserID: "ops", DecisionType: store.DecisionReject,
		FollowUpActions: []store.FollowUpAction{{Action: ActionReopenTask, TaskID: pending.ID}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, taskgraph.ErrInvalidTransition)
	assert.Equal(t, store.ConflictResolving, res.Conflict.Status, "decision stands")
	assert.NotEqual(t, uuid.Nil, res.Decision.ID)
}

type decisionWriteFails struct {
	*store.MemoryStore
}

func (decisionWriteFails) RecordDecision(context.Context, *store.Conflict, *store.HumanDecision) error {
	return errors.New("db down")
}

func TestRecordDecisionSkipsFollowUpsWhenNotStored(t *testing.T) {
	h := newHarnessWith(t, func(m *store.MemoryStore) store.Store { return decisionWriteFails{m} })
	ctx := context.Background()
	doomed := h.task(t, store.Task{ProjectID: "p1", Title: "maybe obsolete"})
	c, err := h.orch.RaiseConflict(ctx, &store.Conflict{
		ProjectID: "p1", Type: store.ConflictTimeline, Severity: store.SeverityCritical,
		Title: "scope cut", AffectedTasks: []uuid.UUID{doomed.ID},
	})
	require.NoError(t, err)

	res, err := h.orch.RecordDecision(ctx, c.ID, &store.HumanDecision{
		UserID: "ops", DecisionType: store.DecisionApprove,
		FollowUpActions: []store.FollowUpAction{{Action: ActionRemoveTask, TaskID: doomed.ID}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Equal(t, uuid.Nil, res.Decision.ID)
	assert.Empty(t, res.Tasks)

	assert.Equal(t, store.StatusPending, h.get(t, doomed.ID).Status, "follow-up did not run")
	got, err := h.ledger.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ConflictEscalated, got.Status)
	decisions, err := h.ledger.Decisions(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, decisions)
}

func TestRaiseConflictAutoResolveFailureEscalates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task := h.task(t, store.Task{ProjectID: "p1", Title: "t"})

	c, err := h.orch.RaiseConflict(ctx, &store.Conflict{
		ProjectID: "p1", Type: store.ConflictTaskDependency, Severity: store.SeverityLow,
		Title: "stale input", AffectedTasks: []uuid.UUID{task.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, store.ConflictEscalated, c.Status)
	assert.True(t, c.EscalatedToHuman)
	assert.Contains(t, c.ResolutionNote, "need a human")
}

func TestHandleAgentStopped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.agent(t, "ana", 0, map[string]float64{"go": 9})
	queued := h.task(t, store.Task{ProjectID: "p1", Title: "queued", Priority: 2})
	running := h.task(t, store.Task{ProjectID: "p1", Title: "running", Priority: 1})
	n, err := h.orch.AssignReady(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	_, err = h.orch.Started(ctx, Report{TaskID: running.ID, AgentID: "ana"})
	require.NoError(t, err)

	require.NoError(t, h.orch.HandleAgentStopped(ctx, "ana"))

	q := h.get(t, queued.ID)
	assert.Equal(t, store.StatusPending, q.Status)
	assert.Empty(t, q.AssignedAgent)
	r := h.get(t, running.ID)
	assert.Equal(t, store.StatusFailed, r.Status)
	assert.Equal(t, "agent stopped", r.Error)

	p, err := h.store.GetAgentProfile(ctx, "ana")
	require.NoError(t, err)
	assert.False(t, p.Available)

	n, err = h.orch.AssignReady(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "stopped agent gets no new work")
}

func TestSyncAgentsKeepsLearnedSkills(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.agent(t, "ana", 0, map[string]float64{"go": 9.5})
	h.runtime.agents = []runtime.AgentState{
		{ID: "ana", Status: "ready"},
		{ID: "ben", Name: "Ben", Status: "sleeping", Skills: "python:7, sql", MaxConcurrent: 2},
		{ID: "cal", Status: "stopped", Skills: "go:3"},
	}

	require.NoError(t, h.orch.SyncAgents(ctx))

	ana, err := h.store.GetAgentProfile(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"go": 9.5}, ana.Skills)
	assert.True(t, ana.Available)

	ben, err := h.store.GetAgentProfile(ctx, "ben")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"python": 7, "sql": 5}, ben.Skills)
	assert.Equal(t, 2, ben.MaxConcurrent)

	cal, err := h.store.GetAgentProfile(ctx, "cal")
	require.NoError(t, err)
	assert.False(t, cal.Available)
}

func TestCandidatesIncludesUnavailableAgents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.agent(t, "ana", 0, map[string]float64{"go": 9})
	require.NoError(t, h.orch.UpsertAgent(ctx, &store.AgentProfile{ID: "off", Skills: map[string]float64{"go": 10}}))
	task := h.task(t, store.Task{ProjectID: "p1", Title: "t", RequiredCapabilities: []string{"go"}})

	cs, err := h.orch.Candidates(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, "off", cs[0].AgentID)
	assert.Equal(t, "ana", cs[1].AgentID)
}

func TestSubscriptionsDriveTaskLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.orch.SetupSubscriptions()
	h.agent(t, "ana", 0, map[string]float64{"go": 9})

	h.hermes.deliver(hermes.SubjectTaskRequest, hermes.SubjectTaskRequest,
		`{"project_id":"p1","title":"from nats","required_capabilities":["go"],"priority":-3}`)
	tasks, err := h.store.ListTasks(ctx, store.TaskFilter{ProjectID: "p1"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	id := tasks[0].ID
	assert.Zero(t, tasks[0].Priority)

	_, err = h.orch.AssignReady(ctx)
	require.NoError(t, err)

	h.hermes.deliver(hermes.SubjectTaskStarted, hermes.SubjectTaskStartedFor(id.String()), `{"agent_id":"ana"}`)
	assert.Equal(t, store.StatusInProgress, h.get(t, id).Status)

	h.hermes.deliver(hermes.SubjectTaskComplete, hermes.SubjectTaskCompletedFor(id.String()),
		`{"agent_id":"ana","code_quality":9}`)
	assert.Equal(t, store.StatusCompleted, h.get(t, id).Status)

	h.hermes.deliver(hermes.SubjectTaskRequest, hermes.SubjectTaskRequest,
		`{"project_id":"p1","title":"bad dep","depends_on":["not-a-uuid"]}`)
	tasks, err = h.store.ListTasks(ctx, store.TaskFilter{ProjectID: "p1"})
	require.NoError(t, err)
	assert.Len(t, tasks, 1, "malformed requests are dropped")
}

func TestBuildPrompt(t *testing.T) {
	task := store.Task{
		ID: uuid.New(), ProjectID: "p1", Title: "Add retries", Description: "  Wrap the client.  ",
		TaskType: "feature", Priority: 3,
		AcceptanceCriteria: []string{"retries 3 times"}, Resources: []string{"client.go"},
	}
	out := BuildPrompt(task, scoring.CandidateScore{AgentID: "ana", Match: 0.9, Performance: 7.3})

	for _, want := range []string{
		"# Add retries", "Project: p1", "Type: feature", "Priority: 3", "\nWrap the client.\n",
		"## Acceptance criteria\n- retries 3 times", "## Resources\n- client.go",
		"Assigned to ana (match 0.90, performance 7.3)", "switchboard.task." + task.ID.String(),
	} {
		assert.Contains(t, out, want)
	}
	assert.False(t, strings.Contains(out, "Required capabilities"))
}
