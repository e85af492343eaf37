package scoring

import (
	"maps"

	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

// ApplyWorkHistory folds one finished task into an agent's rolling metrics
// and returns the updated snapshot. The input is not modified. Each average
// is taken over the tasks that reported that measurement.
func ApplyWorkHistory(m store.AgentPerformanceMetrics, h store.AgentWorkHistory) store.AgentPerformanceMetrics {
	out := m
	out.AgentID = h.AgentID
	out.TasksCompleted++
	if h.Success {
		out.TasksSuccessful++
	}
	if h.DurationSeconds > 0 {
		out.TimedTasks++
		out.AvgCompletionSeconds = runningMean(m.AvgCompletionSeconds, m.TimedTasks, h.DurationSeconds)
	}
	if h.CodeQuality != nil {
		out.QualityReviews++
		out.AvgCodeQuality = runningMean(m.AvgCodeQuality, m.QualityReviews, clamp(*h.CodeQuality, 0, 10))
	}

	out.SkillDeltas = maps.Clone(m.SkillDeltas)
	for skill, delta := range h.SkillDeltas {
		if out.SkillDeltas == nil {
			out.SkillDeltas = make(map[string]float64)
		}
		out.SkillDeltas[skill] += delta
		if delta > 0 {
			out.SkillImprovements++
		}
	}
	return out
}

func runningMean(mean float64, n int, v float64) float64 {
	if n <= 0 {
		return v
	}
	return (mean*float64(n) + v) / float64(n+1)
}

// ApplySkillDeltas raises or lowers profile skill levels, keeping them on the 0-10 scale.
func ApplySkillDeltas(skills map[string]float64, deltas map[string]float64) map[string]float64 {
	out := maps.Clone(skills)
	if out == nil {
		out = make(map[string]float64)
	}
	for skill, delta := range deltas {
		out[skill] = clamp(out[skill]+delta, 0, MaxSkillLevel)
	}
	return out
}
