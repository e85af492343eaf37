package orchestrator

import (
	"context"

	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

const AggregateTask = "task"

const (
	EventTaskCreated       = "TaskCreated"
	EventTaskAssigned      = "TaskAssigned"
	EventTaskStarted       = "TaskStarted"
	EventTaskCompleted     = "TaskCompleted"
	EventTaskFailed        = "TaskFailed"
	EventTaskReleased      = "TaskReleased"
	EventTaskReopened      = "TaskReopened"
	EventTaskRemoved       = "TaskRemoved"
	EventDependencyAdded   = "DependencyAdded"
	EventDependencyRemoved = "DependencyRemoved"
)

func taskPayload(t store.Task) map[string]interface{} {
	p := map[string]interface{}{
		"task_id":               t.ID.String(),
		"project_id":            t.ProjectID,
		"title":                 t.Title,
		"task_type":             t.TaskType,
		"priority":              t.Priority,
		"status":                string(t.Status),
		"required_capabilities": t.RequiredCapabilities,
	}
	if t.AssignedAgent != "" {
		p["assigned_agent"] = t.AssignedAgent
	}
	if t.ParentTaskID != nil {
		p["parent_task_id"] = t.ParentTaskID.String()
	}
	if t.Error != "" {
		p["error"] = t.Error
	}
	return p
}

// emitTask publishes a task event. Failures are returned so callers can
// report them; the task change itself has already been persisted.
func (o *Orchestrator) emitTask(ctx context.Context, eventType string, t store.Task, extra map[string]interface{}) error {
	payload := taskPayload(t)
	for k, v := range extra {
		payload[k] = v
	}
	err := o.events.Emit(ctx, &store.DomainEvent{
		EventType:     eventType,
		AggregateType: AggregateTask,
		AggregateID:   t.ID.String(),
		SessionID:     t.SessionID,
		Payload:       payload,
	})
	if err != nil {
		o.logger.Error("failed to emit task event", "task_id", t.ID, "event_type", eventType, "error", err)
	}
	return err
}
