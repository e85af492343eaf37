package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Switchboard/internal/scoring"
	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

// View is the cluster state a detector inspects during one assignment pass.
type View struct {
	Active []store.Task        // assigned or in progress, every project
	Agents []scoring.Candidate // available agents

	load map[string]int
}

func (v *View) profile(agentID string) (store.AgentProfile, bool) {
	for _, c := range v.Agents {
		if c.Profile.ID == agentID {
			return c.Profile, true
		}
	}
	return store.AgentProfile{}, false
}

// Detector proposes conflicts for a ready task before it is assigned.
type Detector interface {
	Name() string
	Detect(task store.Task, view *View) []store.Conflict
}

// ResourceOverlapDetector flags ready tasks that claim a resource an active
// task already holds. Overlap inside one project is medium severity and can be
// settled by ordering the tasks; overlap across projects is high.
type ResourceOverlapDetector struct{}

func (ResourceOverlapDetector) Name() string { return "resource_overlap" }

func (ResourceOverlapDetector) Detect(task store.Task, view *View) []store.Conflict {
	if len(task.Resources) == 0 {
		return nil
	}
	want := make(map[string]bool, len(task.Resources))
	for _, r := range task.Resources {
		want[r] = true
	}

	type group struct {
		holders   []store.Task
		resources map[string]bool
	}
	var same, cross group
	for _, a := range view.Active {
		if a.ID == task.ID {
			continue
		}
		var shared []string
		for _, r := range a.Resources {
			if want[r] {
				shared = append(shared, r)
			}
		}
		if len(shared) == 0 {
			continue
		}
		g := &same
		if a.ProjectID != task.ProjectID {
			g = &cross
		}
		g.holders = append(g.holders, a)
		if g.resources == nil {
			g.resources = make(map[string]bool)
		}
		for _, r := range shared {
			g.resources[r] = true
		}
	}

	var out []store.Conflict
	for _, g := range []struct {
		group
		sev store.Severity
	}{{same, store.SeverityMedium}, {cross, store.SeverityHigh}} {
		if len(g.holders) == 0 {
			continue
		}
		resources := make([]string, 0, len(g.resources))
		for r := range g.resources {
			resources = append(resources, r)
		}
		sort.Strings(resources)

		tasks := []uuid.UUID{task.ID}
		var agents []string
		for _, h := range g.holders {
			tasks = append(tasks, h.ID)
			if h.AssignedAgent != "" && !slices.Contains(agents, h.AssignedAgent) {
				agents = append(agents, h.AssignedAgent)
			}
		}
		sort.Strings(agents)
		out = append(out, store.Conflict{
			ProjectID:      task.ProjectID,
			Type:           store.ConflictResource,
			Severity:       g.sev,
			Title:          fmt.Sprintf("%q overlaps %d active task(s)", task.Title, len(g.holders)),
			Description:    "shared resources: " + strings.Join(resources, ", "),
			AffectedTasks:  tasks,
			AffectedAgents: agents,
		})
	}
	return out
}

// CapabilityGapDetector flags tasks none of the available agents can match at
// all. It stays quiet while no agent is available.
type CapabilityGapDetector struct{}

func (CapabilityGapDetector) Name() string { return "capability_gap" }

func (CapabilityGapDetector) Detect(task store.Task, view *View) []store.Conflict {
	if len(task.RequiredCapabilities) == 0 || len(view.Agents) == 0 {
		return nil
	}
	for _, c := range view.Agents {
		if scoring.MatchScore(c.Profile.Skills, task.RequiredCapabilities) > 0 {
			return nil
		}
	}
	return []store.Conflict{{
		ProjectID:     task.ProjectID,
		Type:          store.ConflictCapability,
		Severity:      store.SeverityHigh,
		Title:         fmt.Sprintf("no available agent can work on %q", task.Title),
		Description:   "required capabilities: " + strings.Join(task.RequiredCapabilities, ", "),
		AffectedTasks: []uuid.UUID{task.ID},
	}}
}

// detect runs the detectors for a task and raises what they find, once per
// distinct finding. It reports whether the task must wait.
func (o *Orchestrator) detect(ctx context.Context, t store.Task, view *View) (bool, error) {
	if len(o.detectors) == 0 {
		return false, nil
	}
	existing, err := o.ledger.List(ctx, store.ConflictFilter{TaskID: &t.ID})
	if err != nil {
		return false, fmt.Errorf("list conflicts for %s: %w", t.ID, err)
	}

	hold := false
	for _, d := range o.detectors {
		for _, found := range d.Detect(t, view) {
			if prior := sameFinding(existing, found); prior != nil {
				hold = hold || (holds(found) && !prior.Status.Terminal())
				continue
			}
			raised, err := o.RaiseConflict(ctx, &found)
			if err != nil && raised.ID == uuid.Nil {
				return hold, err
			}
			existing = append(existing, &raised)
			hold = hold || (holds(found) && !raised.Status.Terminal())
			o.logger.Info("conflict detected", "detector", d.Name(), "task_id", t.ID,
				"conflict_id", raised.ID, "status", raised.Status)
		}
	}
	return hold, nil
}

// holds reports whether an open conflict of this kind keeps the task waiting.
func holds(c store.Conflict) bool {
	return c.Type != store.ConflictCapability
}

func sameFinding(existing []*store.Conflict, c store.Conflict) *store.Conflict {
	key := findingKey(c)
	for _, e := range existing {
		if e.Type == c.Type && findingKey(*e) == key {
			return e
		}
	}
	return nil
}

func findingKey(c store.Conflict) string {
	ids := make([]string, len(c.AffectedTasks))
	for i, id := range c.AffectedTasks {
		ids[i] = id.String()
	}
	sort.Strings(ids)
	return string(c.Type) + ":" + strings.Join(ids, ",")
}
