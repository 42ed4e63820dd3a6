// Package scoring assigns discovered trade loops a composite quality score
// and produces the deterministic ranking returned to callers.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/tradeloop/tradeloop/pkg/trade"
)

const (
	// idealLoopLength is the participant count at and below which a loop
	// scores full efficiency. Two- and three-party loops settle fastest.
	idealLoopLength = 3

	// lengthDecay controls how quickly very long loops are discounted on
	// top of the efficiency component.
	lengthDecay = 0.2

	// demandCap is the wanter count at which an asset's demand component
	// saturates.
	demandCap = 10

	weightTolerance = 1e-9
)

// Weights are the components of the composite score. They must sum to 1.
type Weights struct {
	Efficiency    float64
	Fairness      float64
	Demand        float64
	LengthPenalty float64
}

// DefaultWeights returns the production weighting.
func DefaultWeights() Weights {
	return Weights{
		Efficiency:    0.3,
		Fairness:      0.3,
		Demand:        0.2,
		LengthPenalty: 0.2,
	}
}

// Verify checks that every weight is non-negative and the weights sum to 1.
func (w Weights) Verify() error {
	for name, v := range map[string]float64{
		"efficiency":    w.Efficiency,
		"fairness":      w.Fairness,
		"demand":        w.Demand,
		"lengthPenalty": w.LengthPenalty,
	} {
		if v < 0 {
			return fmt.Errorf("scoring weight %s must be non-negative, got %v", name, v)
		}
	}

	sum := w.Efficiency + w.Fairness + w.Demand + w.LengthPenalty
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("scoring weights must sum to 1, got %v", sum)
	}
	return nil
}

// ValueSource supplies per-asset value estimates. Zero means unpriced;
// valuation is an opaque external input, never computed here.
type ValueSource interface {
	AssetValue(assetID string) float64
}

// DemandSource reports how many distinct parties want an asset.
type DemandSource interface {
	WanterCount(assetID string) int
}

// Scorer computes composite loop scores.
type Scorer struct {
	weights Weights
	values  ValueSource
	demand  DemandSource
}

func NewScorer(weights Weights, values ValueSource, demand DemandSource) (*Scorer, error) {
	if err := weights.Verify(); err != nil {
		return nil, err
	}
	return &Scorer{weights: weights, values: values, demand: demand}, nil
}

// Efficiency maps a participant count into (0,1], favoring shorter loops.
func Efficiency(participants int) float64 {
	if participants <= idealLoopLength {
		return 1.0
	}
	return float64(idealLoopLength) / float64(participants)
}

// LengthPenalty further discounts very long loops beyond the efficiency
// component's hyperbolic falloff.
func LengthPenalty(participants int) float64 {
	if participants <= idealLoopLength {
		return 1.0
	}
	return math.Exp(-lengthDecay * float64(participants-idealLoopLength))
}

// Score fills in the loop's Efficiency and Score fields.
func (s *Scorer) Score(loop *trade.Loop) {
	n := len(loop.Steps)

	efficiency := Efficiency(n)
	fairness := s.fairness(loop)
	demand := s.demandScore(loop)
	lengthPenalty := LengthPenalty(n)

	loop.Efficiency = efficiency
	loop.Score = s.weights.Efficiency*efficiency +
		s.weights.Fairness*fairness +
		s.weights.Demand*demand +
		s.weights.LengthPenalty*lengthPenalty
}

// fairness measures how evenly estimated value is distributed across
// participants: 1 for a perfectly even split, approaching 0 as the spread
// grows. With no pricing data at all the component stays at the uniform
// prior of 1 rather than penalizing the loop.
func (s *Scorer) fairness(loop *trade.Loop) float64 {
	received := make([]float64, 0, len(loop.Steps))
	total := 0.0
	for _, step := range loop.Steps {
		v := 0.0
		for _, assetID := range step.AssetIDs {
			v += s.values.AssetValue(assetID)
		}
		received = append(received, v)
		total += v
	}

	if total == 0 {
		return 1.0
	}

	mean := stat.Mean(received, nil)
	if mean == 0 {
		return 1.0
	}
	cv := stat.StdDev(received, nil) / mean
	return 1.0 / (1.0 + cv)
}

// demandScore averages, over the loop's assets, how close each asset's
// distinct-wanter count is to the saturation cap.
func (s *Scorer) demandScore(loop *trade.Loop) float64 {
	assetIDs := loop.AssetIDs()
	if len(assetIDs) == 0 {
		return 0
	}

	sum := 0.0
	for _, id := range assetIDs {
		wanters := s.demand.WanterCount(id)
		if wanters > demandCap {
			wanters = demandCap
		}
		sum += float64(wanters) / demandCap
	}
	return sum / float64(len(assetIDs))
}

// Rank orders loops for callers: score descending, ties broken by raw
// efficiency, then discovery time, then canonical id. The ordering is total
// and stable so repeated runs over the same graph return the same list.
func Rank(loops []*trade.Loop) {
	sort.SliceStable(loops, func(i, j int) bool {
		if loops[i].Score != loops[j].Score {
			return loops[i].Score > loops[j].Score
		}
		if loops[i].Efficiency != loops[j].Efficiency {
			return loops[i].Efficiency > loops[j].Efficiency
		}
		if !loops[i].CreatedAt.Equal(loops[j].CreatedAt) {
			return loops[i].CreatedAt.Before(loops[j].CreatedAt)
		}
		return loops[i].CanonicalID < loops[j].CanonicalID
	})
}
