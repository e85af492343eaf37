package scoring

import (
	"iter"
	"log/slog"
	"sort"

	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

// Candidate is a value snapshot of one agent considered for a task.
type Candidate struct {
	Profile store.AgentProfile
	// Metrics is nil for agents without any recorded work.
	Metrics *store.AgentPerformanceMetrics
}

// CandidateScore is the scoring output for a single agent–task pair.
type CandidateScore struct {
	AgentID     string         `json:"agent_id"`
	Match       float64        `json:"match_score"`
	Performance float64        `json:"overall_performance"`
	Factors     []FactorResult `json:"factors"`
}

type Config struct {
	Weights WeightSet
	// BaselineSeconds is the completion time that earns full efficiency.
	BaselineSeconds float64
	// SkillImprovementCap bounds how many improvements count towards growth.
	SkillImprovementCap int
}

func DefaultConfig() Config {
	return Config{
		Weights:             DefaultWeights(),
		BaselineSeconds:     3600,
		SkillImprovementCap: 10,
	}
}

// Scorer ranks agents for tasks from their skill profiles and track record.
type Scorer struct {
	cfg    Config
	logger *slog.Logger
}

func NewScorer(cfg Config, logger *slog.Logger) *Scorer {
	return &Scorer{cfg: cfg, logger: logger}
}

// OverallPerformance is the weighted composite of the performance factors on a 0-10 scale.
func (s *Scorer) OverallPerformance(m *store.AgentPerformanceMetrics) float64 {
	_, total := s.performanceFactors(m)
	return total
}

func (s *Scorer) performanceFactors(m *store.AgentPerformanceMetrics) ([]FactorResult, float64) {
	factors := []FactorResult{
		SuccessRateFactor(m),
		CodeQualityFactor(m),
		EfficiencyFactor(m, s.cfg.BaselineSeconds),
		SkillGrowthFactor(m, s.cfg.SkillImprovementCap),
	}
	weights := []float64{
		s.cfg.Weights.SuccessRate,
		s.cfg.Weights.CodeQuality,
		s.cfg.Weights.Efficiency,
		s.cfg.Weights.SkillGrowth,
	}

	var total float64
	for i := range factors {
		factors[i].Weight = weights[i]
		factors[i].Weighted = factors[i].Score * weights[i] * 10
		total += factors[i].Weighted
	}
	return factors, clamp(total, 0, 10)
}

// Explain scores one candidate against a task, with the factor breakdown.
func (s *Scorer) Explain(task store.Task, c Candidate) CandidateScore {
	factors, perf := s.performanceFactors(c.Metrics)
	return CandidateScore{
		AgentID:     c.Profile.ID,
		Match:       MatchScore(c.Profile.Skills, task.RequiredCapabilities),
		Performance: perf,
		Factors:     factors,
	}
}

// RankCandidates yields candidates by match score descending, then overall
// performance descending, then agent id. Scoring happens when the sequence
// is ranged over, and every range starts from the top.
func (s *Scorer) RankCandidates(task store.Task, candidates []Candidate) iter.Seq[CandidateScore] {
	return func(yield func(CandidateScore) bool) {
		scored := make([]CandidateScore, len(candidates))
		for i, c := range candidates {
			scored[i] = s.Explain(task, c)
		}
		sort.Slice(scored, func(i, j int) bool {
			a, b := scored[i], scored[j]
			if a.Match != b.Match {
				return a.Match > b.Match
			}
			if a.Performance != b.Performance {
				return a.Performance > b.Performance
			}
			return a.AgentID < b.AgentID
		})
		s.logger.Debug("candidates ranked", "task_id", task.ID, "candidates", len(scored))
		for _, cs := range scored {
			if !yield(cs) {
				return
			}
		}
	}
}
