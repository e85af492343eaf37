package hermes

// TaskRequestEvent asks Switchboard to add a task to a project graph.
type TaskRequestEvent struct {
	ProjectID            string   `json:"project_id"`
	ParentTaskID         string   `json:"parent_task_id,omitempty"`
	SessionID            string   `json:"session_id,omitempty"`
	Title                string   `json:"title"`
	Description          string   `json:"description,omitempty"`
	TaskType             string   `json:"task_type,omitempty"`
	Priority             int      `json:"priority,omitempty"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	AcceptanceCriteria   []string `json:"acceptance_criteria,omitempty"`
	EstimatedEffort      float64  `json:"estimated_effort,omitempty"`
	Resources            []string `json:"resources,omitempty"`
	// DependsOn lists blocking predecessors by task id.
	DependsOn []string `json:"depends_on,omitempty"`
}

type TaskStartedEvent struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
}

type TaskCompletedEvent struct {
	TaskID      string             `json:"task_id"`
	AgentID     string             `json:"agent_id"`
	CodeQuality *float64           `json:"code_quality,omitempty"`
	SkillDeltas map[string]float64 `json:"skill_deltas,omitempty"`
}

type TaskFailedEvent struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
	Error   string `json:"error"`
}
