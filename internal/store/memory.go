package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store. Every read and write copies the record so
// callers never share memory with the store.
type MemoryStore struct {
	mu sync.RWMutex

	tasks     map[uuid.UUID]*Task
	deps      map[uuid.UUID]*TaskDependency
	conflicts map[uuid.UUID]*Conflict
	decisions map[uuid.UUID]*HumanDecision
	events    map[uuid.UUID]*DomainEvent
	logs      map[uuid.UUID]*EventPublishLog
	profiles  map[string]*AgentProfile
	metrics   map[string]*AgentPerformanceMetrics
	history   []*AgentWorkHistory

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:     make(map[uuid.UUID]*Task),
		deps:      make(map[uuid.UUID]*TaskDependency),
		conflicts: make(map[uuid.UUID]*Conflict),
		decisions: make(map[uuid.UUID]*HumanDecision),
		events:    make(map[uuid.UUID]*DomainEvent),
		logs:      make(map[uuid.UUID]*EventPublishLog),
		profiles:  make(map[string]*AgentProfile),
		metrics:   make(map[string]*AgentPerformanceMetrics),
		now:       time.Now,
	}
}

func (s *MemoryStore) Close() error { return nil }

// --- Tasks ---

func (s *MemoryStore) CreateTask(_ context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if _, ok := s.tasks[task.ID]; ok {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	now := s.now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id uuid.UUID) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	return cloneTask(t), nil
}

func (s *MemoryStore) ListTasks(_ context.Context, filter TaskFilter) ([]*Task, error) {
	s.mu.RLock()
	var out []*Task
	for _, t := range s.tasks {
		if filter.ProjectID != "" && t.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		if filter.Agent != "" && t.AssignedAgent != filter.Agent {
			continue
		}
		out = append(out, cloneTask(t))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return page(out, filter.Offset, filter.Limit), nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return fmt.Errorf("update task %s: not found", task.ID)
	}
	task.UpdatedAt = s.now()
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

// --- Dependencies ---

func (s *MemoryStore) CreateDependency(_ context.Context, dep *TaskDependency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dep.ID == uuid.Nil {
		dep.ID = uuid.New()
	}
	if dep.CreatedAt.IsZero() {
		dep.CreatedAt = s.now()
	}
	d := *dep
	s.deps[dep.ID] = &d
	return nil
}

func (s *MemoryStore) DeleteDependency(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deps, id)
	return nil
}

func (s *MemoryStore) DeleteDependenciesForTask(_ context.Context, taskID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, d := range s.deps {
		if d.ParentID == taskID || d.ChildID == taskID {
			delete(s.deps, id)
		}
	}
	return nil
}

func (s *MemoryStore) ListDependencies(_ context.Context, projectID string) ([]*TaskDependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*TaskDependency
	for _, d := range s.deps {
		if projectID != "" && d.ProjectID != projectID {
			continue
		}
		c := *d
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- Conflicts ---

func (s *MemoryStore) CreateConflict(_ context.Context, c *Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.UpdatedAt = s.now()
	s.conflicts[c.ID] = cloneConflict(c)
	return nil
}

func (s *MemoryStore) GetConflict(_ context.Context, id uuid.UUID) (*Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conflicts[id]
	if !ok {
		return nil, nil
	}
	return cloneConflict(c), nil
}

func (s *MemoryStore) UpdateConflict(_ context.Context, c *Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conflicts[c.ID]; !ok {
		return fmt.Errorf("update conflict %s: not found", c.ID)
	}
	c.UpdatedAt = s.now()
	s.conflicts[c.ID] = cloneConflict(c)
	return nil
}

func (s *MemoryStore) ListConflicts(_ context.Context, filter ConflictFilter) ([]*Conflict, error) {
	s.mu.RLock()
	var out []*Conflict
	for _, c := range s.conflicts {
		if filter.ProjectID != "" && c.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		if filter.TaskID != nil && !slices.Contains(c.AffectedTasks, *filter.TaskID) {
			continue
		}
		out = append(out, cloneConflict(c))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return page(out, 0, filter.Limit), nil
}

// --- Human decisions ---

func (s *MemoryStore) RecordDecision(_ context.Context, c *Conflict, d *HumanDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conflicts[c.ID]; !ok {
		return fmt.Errorf("update conflict %s: not found", c.ID)
	}
	now := s.now()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	c.UpdatedAt = now
	s.conflicts[c.ID] = cloneConflict(c)
	s.decisions[d.ID] = cloneDecision(d)
	return nil
}

func (s *MemoryStore) GetHumanDecision(_ context.Context, id uuid.UUID) (*HumanDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[id]
	if !ok {
		return nil, nil
	}
	return cloneDecision(d), nil
}

func (s *MemoryStore) UpdateDecisionReasoning(_ context.Context, id uuid.UUID, reasoning string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[id]
	if !ok {
		return fmt.Errorf("update decision %s: not found", id)
	}
	d.Reasoning = reasoning
	return nil
}

func (s *MemoryStore) ListHumanDecisions(_ context.Context, conflictID uuid.UUID) ([]*HumanDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*HumanDecision
	for _, d := range s.decisions {
		if d.ConflictID == conflictID {
			out = append(out, cloneDecision(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- Domain events ---

func (s *MemoryStore) CreateDomainEvent(_ context.Context, e *DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	for _, existing := range s.events {
		if existing.AggregateID == e.AggregateID && existing.Version == e.Version {
			return fmt.Errorf("event version %d for aggregate %s already exists", e.Version, e.AggregateID)
		}
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.now()
	}
	s.events[e.ID] = cloneEvent(e)
	return nil
}

func (s *MemoryStore) GetDomainEvent(_ context.Context, id uuid.UUID) (*DomainEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, nil
	}
	return cloneEvent(e), nil
}

func (s *MemoryStore) UpdateDomainEvent(_ context.Context, e *DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.events[e.ID]
	if !ok {
		return fmt.Errorf("update event %s: not found", e.ID)
	}
	// Only processing bookkeeping is mutable.
	cur.Processed = e.Processed
	cur.ProcessingAttempts = e.ProcessingAttempts
	cur.LastError = e.LastError
	return nil
}

func (s *MemoryStore) ListDomainEvents(_ context.Context, filter EventFilter) ([]*DomainEvent, error) {
	s.mu.RLock()
	var out []*DomainEvent
	for _, e := range s.events {
		if filter.AggregateID != "" && e.AggregateID != filter.AggregateID {
			continue
		}
		if filter.AggregateType != "" && e.AggregateType != filter.AggregateType {
			continue
		}
		if filter.EventType != "" && e.EventType != filter.EventType {
			continue
		}
		if filter.Processed != nil && e.Processed != *filter.Processed {
			continue
		}
		out = append(out, cloneEvent(e))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].Version < out[j].Version
	})
	return page(out, 0, filter.Limit), nil
}

func (s *MemoryStore) MaxEventVersion(_ context.Context, aggregateID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := 0
	for _, e := range s.events {
		if e.AggregateID == aggregateID && e.Version > max {
			max = e.Version
		}
	}
	return max, nil
}

// --- Publish log ---

func (s *MemoryStore) CreatePublishLog(_ context.Context, l *EventPublishLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	for _, existing := range s.logs {
		if existing.EventID == l.EventID && existing.SubscriberID == l.SubscriberID {
			return fmt.Errorf("publish log for event %s subscriber %s already exists", l.EventID, l.SubscriberID)
		}
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}
	s.logs[l.ID] = cloneLog(l)
	return nil
}

func (s *MemoryStore) GetPublishLog(_ context.Context, id uuid.UUID) (*EventPublishLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.logs[id]
	if !ok {
		return nil, nil
	}
	return cloneLog(l), nil
}

func (s *MemoryStore) UpdatePublishLog(_ context.Context, l *EventPublishLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.logs[l.ID]; !ok {
		return fmt.Errorf("update publish log %s: not found", l.ID)
	}
	s.logs[l.ID] = cloneLog(l)
	return nil
}

func (s *MemoryStore) ListPublishLogs(_ context.Context, filter PublishLogFilter) ([]*EventPublishLog, error) {
	s.mu.RLock()
	var out []*EventPublishLog
	for _, l := range s.logs {
		if filter.EventID != nil && l.EventID != *filter.EventID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, l.Status) {
			continue
		}
		out = append(out, cloneLog(l))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].SubscriberID < out[j].SubscriberID
	})
	return page(out, 0, filter.Limit), nil
}

// --- Agents ---

func (s *MemoryStore) UpsertAgentProfile(_ context.Context, p *AgentProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.UpdatedAt = s.now()
	c := *p
	c.Skills = maps.Clone(p.Skills)
	s.profiles[p.ID] = &c
	return nil
}

func (s *MemoryStore) GetAgentProfile(_ context.Context, id string) (*AgentProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, nil
	}
	c := *p
	c.Skills = maps.Clone(p.Skills)
	return &c, nil
}

func (s *MemoryStore) ListAgentProfiles(_ context.Context) ([]*AgentProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AgentProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		c := *p
		c.Skills = maps.Clone(p.Skills)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetAgentMetrics(_ context.Context, agentID string) (*AgentPerformanceMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metrics[agentID]
	if !ok {
		return nil, nil
	}
	c := *m
	c.SkillDeltas = maps.Clone(m.SkillDeltas)
	return &c, nil
}

func (s *MemoryStore) UpsertAgentMetrics(_ context.Context, m *AgentPerformanceMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.UpdatedAt = s.now()
	c := *m
	c.SkillDeltas = maps.Clone(m.SkillDeltas)
	s.metrics[m.AgentID] = &c
	return nil
}

func (s *MemoryStore) CreateWorkHistory(_ context.Context, h *AgentWorkHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	if h.RecordedAt.IsZero() {
		h.RecordedAt = s.now()
	}
	c := *h
	c.SkillDeltas = maps.Clone(h.SkillDeltas)
	s.history = append(s.history, &c)
	return nil
}

func (s *MemoryStore) ListWorkHistory(_ context.Context, agentID string, limit int) ([]*AgentWorkHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*AgentWorkHistory
	// newest first
	for i := len(s.history) - 1; i >= 0; i-- {
		h := s.history[i]
		if h.AgentID != agentID {
			continue
		}
		c := *h
		c.SkillDeltas = maps.Clone(h.SkillDeltas)
		out = append(out, &c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func cloneTask(t *Task) *Task {
	c := *t
	c.RequiredCapabilities = slices.Clone(t.RequiredCapabilities)
	c.AcceptanceCriteria = slices.Clone(t.AcceptanceCriteria)
	c.Resources = slices.Clone(t.Resources)
	if t.ParentTaskID != nil {
		p := *t.ParentTaskID
		c.ParentTaskID = &p
	}
	c.AssignedAt = cloneTime(t.AssignedAt)
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	return &c
}

func cloneConflict(c *Conflict) *Conflict {
	out := *c
	out.AffectedTasks = slices.Clone(c.AffectedTasks)
	out.AffectedAgents = slices.Clone(c.AffectedAgents)
	out.EscalatedAt = cloneTime(c.EscalatedAt)
	out.ResolvedAt = cloneTime(c.ResolvedAt)
	return &out
}

func cloneDecision(d *HumanDecision) *HumanDecision {
	out := *d
	out.Payload = maps.Clone(d.Payload)
	out.AffectedEntities = slices.Clone(d.AffectedEntities)
	out.FollowUpActions = slices.Clone(d.FollowUpActions)
	return &out
}

func cloneEvent(e *DomainEvent) *DomainEvent {
	out := *e
	out.Payload = maps.Clone(e.Payload)
	return &out
}

func cloneLog(l *EventPublishLog) *EventPublishLog {
	out := *l
	out.ResponseData = maps.Clone(l.ResponseData)
	out.SentAt = cloneTime(l.SentAt)
	out.DeliveredAt = cloneTime(l.DeliveredAt)
	out.FailedAt = cloneTime(l.FailedAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
