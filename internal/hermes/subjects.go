package hermes

import "strings"

const (
	SubjectTaskRequest  = "switchboard.task.request"
	SubjectTaskStarted  = "switchboard.task.*.started"
	SubjectTaskComplete = "switchboard.task.*.completed"
	SubjectTaskFailed   = "switchboard.task.*.failed"
	SubjectAgentStopped = "switchboard.agent.*.stopped"

	StreamName   = "SWITCHBOARD_EVENTS"
	StreamMaxAge = "720h" // 30 days
)

// SubjectEvent is where a domain event is published, e.g.
// switchboard.events.conflict.ConflictEscalated.
func SubjectEvent(aggregateType, eventType string) string {
	return "switchboard.events." + token(aggregateType) + "." + token(eventType)
}

func SubjectTaskStartedFor(taskID string) string   { return "switchboard.task." + taskID + ".started" }
func SubjectTaskCompletedFor(taskID string) string { return "switchboard.task." + taskID + ".completed" }
func SubjectTaskFailedFor(taskID string) string    { return "switchboard.task." + taskID + ".failed" }
func SubjectAgentStoppedFor(agentID string) string { return "switchboard.agent." + agentID + ".stopped" }

// SubjectToken returns the token at index i of a dotted subject, or "".
func SubjectToken(subject string, i int) string {
	parts := strings.Split(subject, ".")
	if i < 0 || i >= len(parts) {
		return ""
	}
	return parts[i]
}

// token keeps a value from adding subject levels or wildcards.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}
