package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusAssigned   TaskStatus = "assigned"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// HasAgent reports whether a task in this status must carry an assigned agent.
func (s TaskStatus) HasAgent() bool {
	switch s {
	case StatusAssigned, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

type Task struct {
	ID           uuid.UUID  `json:"task_id"`
	ProjectID    string     `json:"project_id"`
	ParentTaskID *uuid.UUID `json:"parent_task_id,omitempty"`
	SessionID    string     `json:"session_id,omitempty"`

	Title                string   `json:"title"`
	Description          string   `json:"description,omitempty"`
	TaskType             string   `json:"task_type"`
	Priority             int      `json:"priority"`
	RequiredCapabilities []string `json:"required_capabilities"`
	AcceptanceCriteria   []string `json:"acceptance_criteria,omitempty"`
	EstimatedEffort      float64  `json:"estimated_effort"`
	// Resources are the files or shared resources the task expects to touch.
	Resources []string `json:"resources,omitempty"`

	// State
	Status        TaskStatus `json:"status"`
	AssignedAgent string     `json:"assigned_agent,omitempty"`
	Error         string     `json:"error,omitempty"`

	// Timestamps
	CreatedAt   time.Time  `json:"created_at"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type TaskFilter struct {
	ProjectID string
	Status    *TaskStatus
	Agent     string
	Limit     int
	Offset    int
}

type DependencyKind string

const (
	DependencyBlocking DependencyKind = "blocking"
	DependencySoft     DependencyKind = "soft"
	DependencyResource DependencyKind = "resource"
)

// Gates reports whether edges of this kind must be satisfied before the child can run.
func (k DependencyKind) Gates() bool {
	return k == DependencyBlocking || k == DependencyResource
}

func (k DependencyKind) Valid() bool {
	switch k {
	case DependencyBlocking, DependencySoft, DependencyResource:
		return true
	}
	return false
}

type TaskDependency struct {
	ID        uuid.UUID      `json:"id"`
	ProjectID string         `json:"project_id"`
	ParentID  uuid.UUID      `json:"parent_id"`
	ChildID   uuid.UUID      `json:"child_id"`
	Kind      DependencyKind `json:"kind"`
	CreatedAt time.Time      `json:"created_at"`
}

// --- Conflicts ---

type ConflictType string

const (
	ConflictGitMerge       ConflictType = "git_merge"
	ConflictResource       ConflictType = "resource"
	ConflictTaskDependency ConflictType = "task_dependency"
	ConflictCapability     ConflictType = "capability"
	ConflictTimeline       ConflictType = "timeline"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type ConflictStatus string

const (
	ConflictDetected  ConflictStatus = "detected"
	ConflictAnalyzing ConflictStatus = "analyzing"
	ConflictEscalated ConflictStatus = "escalated"
	ConflictResolving ConflictStatus = "resolving"
	ConflictResolved  ConflictStatus = "resolved"
	ConflictIgnored   ConflictStatus = "ignored"
)

// Terminal reports whether no further transition is possible.
func (s ConflictStatus) Terminal() bool {
	return s == ConflictResolved || s == ConflictIgnored
}

type Conflict struct {
	ID          uuid.UUID    `json:"id"`
	ProjectID   string       `json:"project_id"`
	Type        ConflictType `json:"conflict_type"`
	Severity    Severity     `json:"severity"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`

	AffectedTasks  []uuid.UUID `json:"affected_tasks"`
	AffectedAgents []string    `json:"affected_agents"`

	Status             ConflictStatus `json:"status"`
	EscalatedToHuman   bool           `json:"escalated_to_human"`
	AssignedUserID     string         `json:"assigned_user_id,omitempty"`
	ResolutionStrategy string         `json:"resolution_strategy,omitempty"`
	ResolutionNote     string         `json:"resolution_note,omitempty"`
	AutoResolved       bool           `json:"auto_resolved"`

	DetectedAt  time.Time  `json:"detected_at"`
	EscalatedAt *time.Time `json:"escalated_at,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type ConflictFilter struct {
	ProjectID string
	Status    *ConflictStatus
	TaskID    *uuid.UUID
	Limit     int
}

type DecisionType string

const (
	DecisionApprove  DecisionType = "approve"
	DecisionReject   DecisionType = "reject"
	DecisionModify   DecisionType = "modify"
	DecisionEscalate DecisionType = "escalate"
)

// FollowUpAction is a graph change requested alongside a human decision.
type FollowUpAction struct {
	Action string    `json:"action"`
	TaskID uuid.UUID `json:"task_id"`
}

type HumanDecision struct {
	ID               uuid.UUID              `json:"id"`
	ConflictID       uuid.UUID              `json:"conflict_id"`
	UserID           string                 `json:"user_id"`
	DecisionType     DecisionType           `json:"decision_type"`
	Payload          map[string]interface{} `json:"payload,omitempty"`
	Reasoning        string                 `json:"reasoning,omitempty"`
	AffectedEntities []string               `json:"affected_entities,omitempty"`
	FollowUpActions  []FollowUpAction       `json:"follow_up_actions,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// --- Events ---

type DomainEvent struct {
	ID            uuid.UUID              `json:"id"`
	EventType     string                 `json:"event_type"`
	AggregateType string                 `json:"aggregate_type"`
	AggregateID   string                 `json:"aggregate_id"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Version       int                    `json:"version"`

	UserID        string `json:"user_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`

	OccurredAt         time.Time `json:"occurred_at"`
	Processed          bool      `json:"processed"`
	ProcessingAttempts int       `json:"processing_attempts"`
	LastError          string    `json:"last_error,omitempty"`
}

type EventFilter struct {
	AggregateID   string
	AggregateType string
	EventType     string
	Processed     *bool
	Limit         int
}

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

type EventPublishLog struct {
	ID             uuid.UUID      `json:"id"`
	EventID        uuid.UUID      `json:"event_id"`
	SubscriberType string         `json:"subscriber_type"`
	SubscriberID   string         `json:"subscriber_id"`
	Status         DeliveryStatus `json:"status"`
	Attempts       int            `json:"attempts"`
	MaxAttempts    int            `json:"max_attempts"`

	ResponseData map[string]interface{} `json:"response_data,omitempty"`
	Error        string                 `json:"error,omitempty"`

	NextAttemptAt time.Time  `json:"next_attempt_at"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
	FailedAt      *time.Time `json:"failed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type PublishLogFilter struct {
	EventID  *uuid.UUID
	Statuses []DeliveryStatus
	Limit    int
}

// --- Agents ---

type AgentProfile struct {
	ID            string             `json:"agent_id"`
	Name          string             `json:"name"`
	Skills        map[string]float64 `json:"skills"`
	MaxConcurrent int                `json:"max_concurrent"`
	Available     bool               `json:"available"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

type AgentPerformanceMetrics struct {
	AgentID              string             `json:"agent_id"`
	TasksCompleted       int                `json:"tasks_completed"`
	TasksSuccessful      int                `json:"tasks_successful"`
	TimedTasks           int                `json:"timed_tasks"`
	AvgCompletionSeconds float64            `json:"avg_completion_seconds"`
	QualityReviews       int                `json:"quality_reviews"`
	AvgCodeQuality       float64            `json:"avg_code_quality"`
	SkillImprovements    int                `json:"skill_improvements"`
	SkillDeltas          map[string]float64 `json:"skill_deltas,omitempty"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

type AgentWorkHistory struct {
	ID              uuid.UUID          `json:"id"`
	AgentID         string             `json:"agent_id"`
	TaskID          uuid.UUID          `json:"task_id"`
	Success         bool               `json:"success"`
	DurationSeconds float64            `json:"duration_seconds"`
	CodeQuality     *float64           `json:"code_quality,omitempty"`
	SkillDeltas     map[string]float64 `json:"skill_deltas,omitempty"`
	RecordedAt      time.Time          `json:"recorded_at"`
}

// Store is the persistence collaborator. Getters return nil, nil when the
// record does not exist.
type Store interface {
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error)
	UpdateTask(ctx context.Context, task *Task) error
	DeleteTask(ctx context.Context, id uuid.UUID) error

	CreateDependency(ctx context.Context, dep *TaskDependency) error
	DeleteDependency(ctx context.Context, id uuid.UUID) error
	DeleteDependenciesForTask(ctx context.Context, taskID uuid.UUID) error
	ListDependencies(ctx context.Context, projectID string) ([]*TaskDependency, error)

	CreateConflict(ctx context.Context, c *Conflict) error
	GetConflict(ctx context.Context, id uuid.UUID) (*Conflict, error)
	UpdateConflict(ctx context.Context, c *Conflict) error
	ListConflicts(ctx context.Context, filter ConflictFilter) ([]*Conflict, error)

	GetHumanDecision(ctx context.Context, id uuid.UUID) (*HumanDecision, error)
	UpdateDecisionReasoning(ctx context.Context, id uuid.UUID, reasoning string) error
	ListHumanDecisions(ctx context.Context, conflictID uuid.UUID) ([]*HumanDecision, error)
	// RecordDecision updates the conflict and inserts the decision atomically.
	RecordDecision(ctx context.Context, c *Conflict, d *HumanDecision) error

	CreateDomainEvent(ctx context.Context, e *DomainEvent) error
	GetDomainEvent(ctx context.Context, id uuid.UUID) (*DomainEvent, error)
	UpdateDomainEvent(ctx context.Context, e *DomainEvent) error
	ListDomainEvents(ctx context.Context, filter EventFilter) ([]*DomainEvent, error)
	MaxEventVersion(ctx context.Context, aggregateID string) (int, error)

	CreatePublishLog(ctx context.Context, l *EventPublishLog) error
	GetPublishLog(ctx context.Context, id uuid.UUID) (*EventPublishLog, error)
	UpdatePublishLog(ctx context.Context, l *EventPublishLog) error
	ListPublishLogs(ctx context.Context, filter PublishLogFilter) ([]*EventPublishLog, error)

	UpsertAgentProfile(ctx context.Context, p *AgentProfile) error
	GetAgentProfile(ctx context.Context, id string) (*AgentProfile, error)
	ListAgentProfiles(ctx context.Context) ([]*AgentProfile, error)

	GetAgentMetrics(ctx context.Context, agentID string) (*AgentPerformanceMetrics, error)
	UpsertAgentMetrics(ctx context.Context, m *AgentPerformanceMetrics) error
	CreateWorkHistory(ctx context.Context, h *AgentWorkHistory) error
	ListWorkHistory(ctx context.Context, agentID string, limit int) ([]*AgentWorkHistory, error)

	Close() error
}
