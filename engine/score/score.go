// Package score computes combo priorities and selects the combos that get
// live enrichment.
package score

import (
	"fmt"
	"math"
	"time"

	"github.com/combolab/combo-engine/engine/domain"
)

// Weights are the tunable factor weights. They must sum to 1.0.
type Weights struct {
	Tier       float64 `yaml:"tier" json:"tier"`
	Popularity float64 `yaml:"popularity" json:"popularity"`
	Length     float64 `yaml:"length" json:"length"`
	Trend      float64 `yaml:"trend" json:"trend"`
	Recency    float64 `yaml:"recency" json:"recency"`
}

// DefaultWeights favour tier and popularity.
var DefaultWeights = Weights{Tier: 0.35, Popularity: 0.30, Length: 0.15, Trend: 0.10, Recency: 0.10}

const weightTolerance = 1e-6

// Validate checks that weights are non-negative and sum to 1.0.
func (w Weights) Validate() error {
	for _, v := range []float64{w.Tier, w.Popularity, w.Length, w.Trend, w.Recency} {
		if v < 0 || math.IsNaN(v) {
			return domain.NewValidationError("weights", fmt.Sprintf("%+v", w), domain.ErrInvalidWeights)
		}
	}
	if sum := w.Tier + w.Popularity + w.Length + w.Trend + w.Recency; math.Abs(sum-1) > weightTolerance {
		return domain.NewValidationError("weights", fmt.Sprintf("sum=%g", sum), domain.ErrInvalidWeights)
	}
	return nil
}

// Recency parameters: full credit inside FreshFor, then exponential decay.
const (
	FreshFor        = 24 * time.Hour
	RecencyHalfLife = 7 * 24 * time.Hour
)

// Signals are the non-combo inputs of a score.
type Signals struct {
	// Trend is a caller-supplied momentum signal in [0,1].
	Trend float64
	// LastSeen is when the combo last had live data. Zero means never.
	LastSeen time.Time
}

// Scorer computes PriorityScores. It is safe for concurrent use.
type Scorer struct {
	w   Weights
	now func() time.Time
}

// NewScorer creates a Scorer after validating w.
func NewScorer(w Weights) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{w: w, now: time.Now}, nil
}

// Weights returns the scorer's weights.
func (s *Scorer) Weights() Weights { return s.w }

// Score computes the priority of c given its tier and popularity record.
func (s *Scorer) Score(c domain.Combo, tier domain.Tier, pop domain.PopularityRecord, sig Signals) domain.PriorityScore {
	comp := domain.PriorityComponents{
		TierWeight:  tier.Strength(),
		Popularity:  clamp01(float64(pop.PopularityScore) / 100),
		LengthPrior: domain.LengthPrior(c.WordCount),
		Trend:       clamp01(sig.Trend),
		Recency:     s.recency(sig.LastSeen),
	}
	v := s.w.Tier*comp.TierWeight +
		s.w.Popularity*comp.Popularity +
		s.w.Length*comp.LengthPrior +
		s.w.Trend*comp.Trend +
		s.w.Recency*comp.Recency
	return domain.PriorityScore{Value: math.Min(100, math.Max(0, 100*v)), Components: comp}
}

func (s *Scorer) recency(lastSeen time.Time) float64 {
	if lastSeen.IsZero() {
		return 0
	}
	age := s.now().Sub(lastSeen)
	if age <= FreshFor {
		return 1
	}
	return math.Exp2(-float64(age-FreshFor) / float64(RecencyHalfLife))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
