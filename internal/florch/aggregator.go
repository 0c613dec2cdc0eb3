package florch

import (
	"fmt"
	"math"
	"strings"

	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/model"
	"gonum.org/v1/gonum/floats"
)

type Aggregator interface {
	Combine(results []model.ParameterVector, weights []float64) (model.ParameterVector, error)
}

// Weighting selects the per-client aggregation weights.
type Weighting string

const (
	WeightingUniform  Weighting = "uniform"
	WeightingExamples Weighting = "examples"
)

func ParseWeighting(s string) (Weighting, error) {
	switch w := Weighting(strings.ToLower(strings.TrimSpace(s))); w {
	case "", WeightingUniform:
		return WeightingUniform, nil
	case WeightingExamples:
		return WeightingExamples, nil
	default:
		return "", fmt.Errorf("unknown weighting %q: %w", s, model.ErrConfiguration)
	}
}

// WeightsFor returns the weights to pass to Combine; nil means uniform.
func WeightsFor(results []model.LocalResult, weighting Weighting) []float64 {
	if weighting != WeightingExamples {
		return nil
	}
	weights := make([]float64, len(results))
	for i, result := range results {
		weights[i] = float64(result.NumExamples)
	}
	return weights
}

// FedAvgAggregator computes the (weighted) arithmetic mean per parameter.
type FedAvgAggregator struct{}

func NewFedAvgAggregator() *FedAvgAggregator {
	return &FedAvgAggregator{}
}

// Combine averages results. The mean is accumulated as offsets from the first
// result, so N identical inputs come back bit-for-bit.
func (agg *FedAvgAggregator) Combine(results []model.ParameterVector, weights []float64) (model.ParameterVector, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("no local results to combine: %w", model.ErrAggregation)
	}

	ref := results[0]
	for c := 1; c < len(results); c++ {
		if err := ref.CheckShape(results[c]); err != nil {
			return nil, fmt.Errorf("local result %d: %w", c, err)
		}
	}

	if weights == nil {
		weights = make([]float64, len(results))
		for c := range weights {
			weights[c] = 1
		}
	}
	total, err := weightTotal(weights, len(results))
	if err != nil {
		return nil, err
	}

	offsets := ref.ZerosLike()
	for c, result := range results {
		if weights[c] == 0 || c == 0 {
			continue
		}
		for l := range offsets {
			diff := make([]float64, len(ref[l].Data))
			floats.SubTo(diff, result[l].Data, ref[l].Data)
			floats.AddScaled(offsets[l].Data, weights[c], diff)
		}
	}

	aggregated := ref.Clone()
	for l := range aggregated {
		for i, offset := range offsets[l].Data {
			aggregated[l].Data[i] += offset / total
		}
	}

	return aggregated, nil
}

func weightTotal(weights []float64, n int) (float64, error) {
	if len(weights) != n {
		return 0, fmt.Errorf("got %d weights for %d results: %w", len(weights), n, model.ErrAggregation)
	}
	total := 0.0
	for c, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return 0, fmt.Errorf("weight %d is %v: %w", c, w, model.ErrAggregation)
		}
		total += w
	}
	if !(total > 0) || math.IsInf(total, 0) {
		return 0, fmt.Errorf("weights sum to %v: %w", total, model.ErrAggregation)
	}
	return total, nil
}
