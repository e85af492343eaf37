package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

// MaxSkillLevel is the top of the proficiency scale used in skill profiles.
const MaxSkillLevel = 10.0

// neutral is the score a factor takes when the agent has no history for it.
const neutral = 0.5

// FactorResult captures one factor's contribution to an agent's performance.
type FactorResult struct {
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
	Weight    float64 `json:"weight"`
	Weighted  float64 `json:"weighted"`
	Available bool    `json:"available"`
	Reason    string  `json:"reason"`
}

// MatchScore is the weighted overlap of a skill profile with the required
// capabilities: each present capability contributes level/10, missing ones
// contribute nothing, and the sum is divided by the number required.
// Capability names compare case-insensitively. A task that requires nothing
// matches every agent fully.
func MatchScore(skills map[string]float64, required []string) float64 {
	levels := make(map[string]float64, len(skills))
	for name, level := range skills {
		levels[strings.ToLower(strings.TrimSpace(name))] = level
	}

	seen := make(map[string]bool, len(required))
	var sum float64
	for _, req := range required {
		key := strings.ToLower(strings.TrimSpace(req))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		sum += clamp(levels[key], 0, MaxSkillLevel) / MaxSkillLevel
	}
	if len(seen) == 0 {
		return 1.0
	}
	return sum / float64(len(seen))
}

// --- Individual factor calculators ---

func SuccessRateFactor(m *store.AgentPerformanceMetrics) FactorResult {
	if m == nil || m.TasksCompleted == 0 {
		return FactorResult{Name: "success_rate", Score: neutral, Reason: "no completed tasks"}
	}
	rate := clamp(float64(m.TasksSuccessful)/float64(m.TasksCompleted), 0, 1)
	return FactorResult{
		Name: "success_rate", Score: rate, Available: true,
		Reason: fmt.Sprintf("%d of %d succeeded", m.TasksSuccessful, m.TasksCompleted),
	}
}

// CodeQualityFactor normalises the 0-10 average review score.
func CodeQualityFactor(m *store.AgentPerformanceMetrics) FactorResult {
	if m == nil || m.QualityReviews == 0 {
		return FactorResult{Name: "code_quality", Score: neutral, Reason: "no quality reviews"}
	}
	return FactorResult{
		Name: "code_quality", Score: clamp(m.AvgCodeQuality/10, 0, 1), Available: true,
		Reason: fmt.Sprintf("average quality %.1f", m.AvgCodeQuality),
	}
}

// EfficiencyFactor compares average completion time against the baseline.
// Finishing at or under the baseline scores 1.0.
func EfficiencyFactor(m *store.AgentPerformanceMetrics, baselineSeconds float64) FactorResult {
	if m == nil || m.TimedTasks == 0 || m.AvgCompletionSeconds <= 0 || baselineSeconds <= 0 {
		return FactorResult{Name: "efficiency", Score: neutral, Reason: "no completion times"}
	}
	ratio := math.Min(baselineSeconds/m.AvgCompletionSeconds, 1)
	return FactorResult{
		Name: "efficiency", Score: ratio, Available: true,
		Reason: fmt.Sprintf("average %.0fs against baseline %.0fs", m.AvgCompletionSeconds, baselineSeconds),
	}
}

// SkillGrowthFactor rewards recorded skill improvements up to limit.
func SkillGrowthFactor(m *store.AgentPerformanceMetrics, limit int) FactorResult {
	if m == nil || limit <= 0 {
		return FactorResult{Name: "skill_growth", Score: neutral, Reason: "no growth data"}
	}
	n := min(max(m.SkillImprovements, 0), limit)
	return FactorResult{
		Name: "skill_growth", Score: float64(n) / float64(limit), Available: true,
		Reason: fmt.Sprintf("%d improvements (cap %d)", m.SkillImprovements, limit),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
