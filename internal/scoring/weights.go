package scoring

import (
	"fmt"
	"math"
)

// WeightSet defines the relative importance of each performance factor.
// All weights must sum to 1.0 (±0.001 tolerance).
type WeightSet struct {
	SuccessRate float64 `yaml:"success_rate"`
	CodeQuality float64 `yaml:"code_quality"`
	Efficiency  float64 `yaml:"efficiency"`
	SkillGrowth float64 `yaml:"skill_growth"`
}

func DefaultWeights() WeightSet {
	return WeightSet{
		SuccessRate: 0.4,
		CodeQuality: 0.3,
		Efficiency:  0.2,
		SkillGrowth: 0.1,
	}
}

// Sum returns the total of all weights.
func (w WeightSet) Sum() float64 {
	return w.SuccessRate + w.CodeQuality + w.Efficiency + w.SkillGrowth
}

// Validate checks that weights sum to 1.0 and none are negative.
func (w WeightSet) Validate() error {
	if math.Abs(w.Sum()-1.0) > 0.001 {
		return fmt.Errorf("weights sum to %.4f, must sum to 1.0", w.Sum())
	}
	for _, v := range []float64{w.SuccessRate, w.CodeQuality, w.Efficiency, w.SkillGrowth} {
		if v < 0 {
			return fmt.Errorf("negative weight: %f", v)
		}
	}
	return nil
}
