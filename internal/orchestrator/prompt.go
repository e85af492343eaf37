package orchestrator

import (
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/Switchboard/internal/scoring"
	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

// BuildPrompt renders the instructions dispatched with an assignment.
func BuildPrompt(t store.Task, cs scoring.CandidateScore) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", t.Title)
	fmt.Fprintf(&b, "Task: %s\nProject: %s\n", t.ID, t.ProjectID)
	if t.TaskType != "" {
		fmt.Fprintf(&b, "Type: %s\n", t.TaskType)
	}
	if t.Priority > 0 {
		fmt.Fprintf(&b, "Priority: %d\n", t.Priority)
	}
	if t.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", strings.TrimSpace(t.Description))
	}
	writeList(&b, "Acceptance criteria", t.AcceptanceCriteria)
	writeList(&b, "Resources", t.Resources)
	writeList(&b, "Required capabilities", t.RequiredCapabilities)
	fmt.Fprintf(&b, "\nAssigned to %s (match %.2f, performance %.1f).\n", cs.AgentID, cs.Match, cs.Performance)
	fmt.Fprintf(&b, "Report progress on switchboard.task.%s.started, .completed or .failed.\n", t.ID)
	return b.String()
}

func writeList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n", heading)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
}
