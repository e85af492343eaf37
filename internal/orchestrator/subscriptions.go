package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Switchboard/internal/hermes"
	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

// SetupSubscriptions registers the NATS subjects agents and callers report on.
func (o *Orchestrator) SetupSubscriptions() {
	if o.hermes == nil {
		return
	}

	// Task requests via NATS
	o.subscribe(hermes.SubjectTaskRequest, func(ctx context.Context, _ string, data []byte) {
		var req hermes.TaskRequestEvent
		if err := json.Unmarshal(data, &req); err != nil {
			o.logger.Warn("invalid task request event", "error", err)
			return
		}
		task, deps, err := taskFromRequest(req)
		if err != nil {
			o.logger.Warn("invalid task request event", "error", err)
			return
		}
		if _, err := o.CreateTask(ctx, task, deps); err != nil {
			o.logger.Error("failed to create task from NATS request", "error", err)
		}
	})

	o.subscribe(hermes.SubjectTaskStarted, func(ctx context.Context, subject string, data []byte) {
		var evt hermes.TaskStartedEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return
		}
		r, ok := o.report(subject, evt.TaskID, evt.AgentID)
		if !ok {
			return
		}
		if _, err := o.Started(ctx, r); err != nil {
			o.logger.Warn("failed to record task start", "task_id", r.TaskID, "error", err)
		}
	})

	o.subscribe(hermes.SubjectTaskComplete, func(ctx context.Context, subject string, data []byte) {
		var evt hermes.TaskCompletedEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return
		}
		r, ok := o.report(subject, evt.TaskID, evt.AgentID)
		if !ok {
			return
		}
		r.CodeQuality = evt.CodeQuality
		r.SkillDeltas = evt.SkillDeltas
		if _, err := o.Complete(ctx, r); err != nil {
			o.logger.Warn("failed to record task completion", "task_id", r.TaskID, "error", err)
		}
	})

	o.subscribe(hermes.SubjectTaskFailed, func(ctx context.Context, subject string, data []byte) {
		var evt hermes.TaskFailedEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return
		}
		r, ok := o.report(subject, evt.TaskID, evt.AgentID)
		if !ok {
			return
		}
		r.Error = evt.Error
		if _, err := o.Fail(ctx, r); err != nil {
			o.logger.Warn("failed to record task failure", "task_id", r.TaskID, "error", err)
		}
	})

	o.subscribe(hermes.SubjectAgentStopped, func(ctx context.Context, subject string, _ []byte) {
		agentID := hermes.SubjectToken(subject, 2)
		if agentID == "" {
			return
		}
		o.logger.Info("agent stopped, resetting its tasks", "agent_id", agentID)
		if err := o.HandleAgentStopped(ctx, agentID); err != nil {
			o.logger.Error("failed to handle stopped agent", "agent_id", agentID, "error", err)
		}
	})
}

func (o *Orchestrator) subscribe(subject string, handle func(ctx context.Context, subject string, data []byte)) {
	err := o.hermes.Subscribe(subject, func(subj string, data []byte) {
		handle(context.Background(), subj, data)
	})
	if err != nil {
		o.logger.Error("failed to subscribe", "subject", subject, "error", err)
	}
}

// report builds a Report from a task subject, preferring the id in the body.
func (o *Orchestrator) report(subject, taskID, agentID string) (Report, bool) {
	if taskID == "" {
		taskID = hermes.SubjectToken(subject, 2)
	}
	id, err := uuid.Parse(taskID)
	if err != nil {
		o.logger.Warn("task report with invalid id", "subject", subject, "task_id", taskID)
		return Report{}, false
	}
	return Report{TaskID: id, AgentID: agentID}, true
}

func taskFromRequest(req hermes.TaskRequestEvent) (*store.Task, []uuid.UUID, error) {
	task := &store.Task{
		ProjectID:            req.ProjectID,
		SessionID:            req.SessionID,
		Title:                req.Title,
		Description:          req.Description,
		TaskType:             req.TaskType,
		Priority:             max(req.Priority, 0),
		RequiredCapabilities: req.RequiredCapabilities,
		AcceptanceCriteria:   req.AcceptanceCriteria,
		EstimatedEffort:      req.EstimatedEffort,
		Resources:            req.Resources,
	}
	if req.ParentTaskID != "" {
		pid, err := uuid.Parse(req.ParentTaskID)
		if err != nil {
			return nil, nil, err
		}
		task.ParentTaskID = &pid
	}
	deps := make([]uuid.UUID, 0, len(req.DependsOn))
	for _, s := range req.DependsOn {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, nil, err
		}
		deps = append(deps, id)
	}
	return task, deps, nil
}
