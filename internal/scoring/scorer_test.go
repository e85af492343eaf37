package scoring

import (
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func float64Ptr(v float64) *float64 { return &v }

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestDefaultWeightsSumToOne(t *testing.T) {
	w := DefaultWeights()
	if err := w.Validate(); err != nil {
		t.Errorf("default weights invalid: %v", err)
	}
	if w.SuccessRate != 0.4 || w.CodeQuality != 0.3 || w.Efficiency != 0.2 || w.SkillGrowth != 0.1 {
		t.Errorf("unexpected default weights: %+v", w)
	}
}

func TestWeightSetValidate(t *testing.T) {
	if err := (WeightSet{SuccessRate: 0.5, CodeQuality: 0.5, Efficiency: 0.5}).Validate(); err == nil {
		t.Error("expected error for weights summing to 1.5")
	}
	if err := (WeightSet{SuccessRate: 1.2, CodeQuality: -0.2}).Validate(); err == nil {
		t.Error("expected error for negative weight")
	}
}

func TestMatchScore(t *testing.T) {
	tests := []struct {
		name     string
		skills   map[string]float64
		required []string
		want     float64
	}{
		{"none present", map[string]float64{"python": 9}, []string{"go", "sql"}, 0},
		{"empty profile", nil, []string{"go"}, 0},
		{"one of two at max", map[string]float64{"go": 10}, []string{"go", "sql"}, 0.5},
		{"both partial", map[string]float64{"go": 8, "sql": 4}, []string{"go", "sql"}, 0.6},
		{"all at max", map[string]float64{"go": 10, "sql": 10}, []string{"go", "sql"}, 1},
		{"case insensitive", map[string]float64{"Go": 5}, []string{"go"}, 0.5},
		{"duplicate requirement counted once", map[string]float64{"go": 10}, []string{"go", "GO", "sql"}, 0.5},
		{"level clamped", map[string]float64{"go": 14}, []string{"go"}, 1},
		{"nothing required", map[string]float64{}, nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchScore(tt.skills, tt.required); !approx(got, tt.want) {
				t.Errorf("MatchScore = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestMatchScoreStrictlyIncreasing(t *testing.T) {
	required := []string{"go", "sql", "k8s"}
	profiles := []map[string]float64{
		{},
		{"go": 3},
		{"go": 6},
		{"go": 6, "sql": 2},
		{"go": 6, "sql": 2, "k8s": 1},
		{"go": 10, "sql": 10, "k8s": 10},
	}
	prev := -1.0
	for i, p := range profiles {
		got := MatchScore(p, required)
		if got <= prev {
			t.Fatalf("profile %d scored %f, not above previous %f", i, got, prev)
		}
		prev = got
	}
}

func TestOverallPerformance(t *testing.T) {
	s := NewScorer(DefaultConfig(), discardLogger())

	t.Run("no history is neutral", func(t *testing.T) {
		if got := s.OverallPerformance(nil); !approx(got, 5) {
			t.Errorf("expected 5, got %f", got)
		}
	})

	t.Run("perfect record", func(t *testing.T) {
		m := &store.AgentPerformanceMetrics{
			TasksCompleted: 20, TasksSuccessful: 20,
			TimedTasks: 20, AvgCompletionSeconds: 1200,
			QualityReviews: 20, AvgCodeQuality: 10, SkillImprovements: 50,
		}
		if got := s.OverallPerformance(m); !approx(got, 10) {
			t.Errorf("expected 10, got %f", got)
		}
	})

	t.Run("weighted composite", func(t *testing.T) {
		m := &store.AgentPerformanceMetrics{
			TasksCompleted: 10, TasksSuccessful: 5, // 0.5
			QualityReviews:       4,
			AvgCodeQuality:       8, // 0.8
			TimedTasks:           10,
			AvgCompletionSeconds: 7200, // baseline 3600 -> 0.5
			SkillImprovements:    2,    // 2/10 -> 0.2
		}
		want := 10 * (0.4*0.5 + 0.3*0.8 + 0.2*0.5 + 0.1*0.2)
		if got := s.OverallPerformance(m); !approx(got, want) {
			t.Errorf("expected %f, got %f", want, got)
		}
	})

	t.Run("clamped to range", func(t *testing.T) {
		heavy := NewScorer(Config{
			Weights:             WeightSet{SuccessRate: 2},
			BaselineSeconds:     3600,
			SkillImprovementCap: 10,
		}, discardLogger())
		m := &store.AgentPerformanceMetrics{TasksCompleted: 1, TasksSuccessful: 1}
		if got := heavy.OverallPerformance(m); got != 10 {
			t.Errorf("expected clamp to 10, got %f", got)
		}
	})
}

func TestRankCandidates(t *testing.T) {
	s := NewScorer(DefaultConfig(), discardLogger())
	task := store.Task{RequiredCapabilities: []string{"go", "sql"}}

	strong := &store.AgentPerformanceMetrics{TasksCompleted: 10, TasksSuccessful: 10, QualityReviews: 10, AvgCodeQuality: 9}
	weak := &store.AgentPerformanceMetrics{TasksCompleted: 10, TasksSuccessful: 2, QualityReviews: 10, AvgCodeQuality: 3}

	candidates := []Candidate{
		{Profile: store.AgentProfile{ID: "zed", Skills: map[string]float64{"go": 8, "sql": 8}}, Metrics: weak},
		{Profile: store.AgentProfile{ID: "amy", Skills: map[string]float64{"go": 8, "sql": 8}}, Metrics: weak},
		{Profile: store.AgentProfile{ID: "bob", Skills: map[string]float64{"go": 8, "sql": 8}}, Metrics: strong},
		{Profile: store.AgentProfile{ID: "top", Skills: map[string]float64{"go": 10, "sql": 10}}, Metrics: weak},
		{Profile: store.AgentProfile{ID: "none", Skills: map[string]float64{"rust": 10}}, Metrics: strong},
	}

	seq := s.RankCandidates(task, candidates)
	var order []string
	for cs := range seq {
		order = append(order, cs.AgentID)
	}
	want := []string{"top", "bob", "amy", "zed", "none"}
	if len(order) != len(want) {
		t.Fatalf("expected %d candidates, got %v", len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}

	// Restartable: a second range yields the same sequence, and can stop early.
	var first string
	for cs := range seq {
		first = cs.AgentID
		break
	}
	if first != "top" {
		t.Errorf("expected restart to begin at top, got %s", first)
	}
}

func TestExplain(t *testing.T) {
	s := NewScorer(DefaultConfig(), discardLogger())
	cs := s.Explain(store.Task{RequiredCapabilities: []string{"go"}}, Candidate{
		Profile: store.AgentProfile{ID: "lily", Skills: map[string]float64{"go": 7}},
	})
	if cs.AgentID != "lily" || !approx(cs.Match, 0.7) {
		t.Errorf("unexpected score: %+v", cs)
	}
	if len(cs.Factors) != 4 {
		t.Fatalf("expected 4 factors, got %d", len(cs.Factors))
	}
	for _, f := range cs.Factors {
		if f.Available {
			t.Errorf("factor %s should be unavailable without metrics", f.Name)
		}
	}
}

func TestApplyWorkHistory(t *testing.T) {
	m := store.AgentPerformanceMetrics{AgentID: "lily"}

	m = ApplyWorkHistory(m, store.AgentWorkHistory{
		AgentID: "lily", Success: true, DurationSeconds: 100, CodeQuality: float64Ptr(8),
		SkillDeltas: map[string]float64{"go": 0.5},
	})
	m = ApplyWorkHistory(m, store.AgentWorkHistory{
		AgentID: "lily", Success: false, DurationSeconds: 300, CodeQuality: float64Ptr(4),
		SkillDeltas: map[string]float64{"go": -0.2, "sql": 1},
	})

	if m.TasksCompleted != 2 || m.TasksSuccessful != 1 {
		t.Errorf("unexpected counts: %+v", m)
	}
	if !approx(m.AvgCompletionSeconds, 200) {
		t.Errorf("expected avg 200s, got %f", m.AvgCompletionSeconds)
	}
	if !approx(m.AvgCodeQuality, 6) {
		t.Errorf("expected avg quality 6, got %f", m.AvgCodeQuality)
	}
	if m.SkillImprovements != 2 {
		t.Errorf("expected 2 improvements, got %d", m.SkillImprovements)
	}
	if !approx(m.SkillDeltas["go"], 0.3) || !approx(m.SkillDeltas["sql"], 1) {
		t.Errorf("unexpected deltas: %v", m.SkillDeltas)
	}
}

func TestApplyWorkHistoryAveragesOnlyReportedMeasurements(t *testing.T) {
	var m store.AgentPerformanceMetrics
	for range 5 {
		m = ApplyWorkHistory(m, store.AgentWorkHistory{AgentID: "lily", Success: true})
	}
	m = ApplyWorkHistory(m, store.AgentWorkHistory{AgentID: "lily", Success: true, CodeQuality: float64Ptr(10)})
	m = ApplyWorkHistory(m, store.AgentWorkHistory{AgentID: "lily", Success: true, CodeQuality: float64Ptr(2), DurationSeconds: 600})
	m = ApplyWorkHistory(m, store.AgentWorkHistory{AgentID: "lily", Success: true, DurationSeconds: 1800})

	if m.TasksCompleted != 8 || m.QualityReviews != 2 || m.TimedTasks != 2 {
		t.Errorf("unexpected counts: %+v", m)
	}
	if !approx(m.AvgCodeQuality, 6) {
		t.Errorf("expected mean of reviews 6, got %f", m.AvgCodeQuality)
	}
	if !approx(m.AvgCompletionSeconds, 1200) {
		t.Errorf("expected mean of timed tasks 1200s, got %f", m.AvgCompletionSeconds)
	}
}

func TestCodeQualityFactorCountsZeroReviews(t *testing.T) {
	f := CodeQualityFactor(&store.AgentPerformanceMetrics{TasksCompleted: 3})
	if f.Available || !approx(f.Score, neutral) {
		t.Errorf("expected neutral without reviews, got %+v", f)
	}
	f = CodeQualityFactor(&store.AgentPerformanceMetrics{TasksCompleted: 3, QualityReviews: 1})
	if !f.Available || f.Score != 0 {
		t.Errorf("expected a reviewed zero to count, got %+v", f)
	}
}

func TestApplyWorkHistoryDoesNotMutateInput(t *testing.T) {
	m := store.AgentPerformanceMetrics{SkillDeltas: map[string]float64{"go": 1}}
	_ = ApplyWorkHistory(m, store.AgentWorkHistory{SkillDeltas: map[string]float64{"go": 1}})
	if m.SkillDeltas["go"] != 1 || m.TasksCompleted != 0 {
		t.Errorf("input mutated: %+v", m)
	}
}

func TestApplySkillDeltas(t *testing.T) {
	got := ApplySkillDeltas(map[string]float64{"go": 9.5, "sql": 0.2}, map[string]float64{"go": 1, "sql": -1, "k8s": 2})
	if got["go"] != 10 || got["sql"] != 0 || got["k8s"] != 2 {
		t.Errorf("unexpected skills: %v", got)
	}
}
