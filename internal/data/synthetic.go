// Package data generates the synthetic regression task and splits it between simulated clients.
package data

import (
	"fmt"
	"math/rand"

	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/linreg"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/model"
)

// Dataset holds examples in row form; Y[i] is the label of X[i].
type Dataset struct {
	X [][]float64
	Y []float64
}

func (ds Dataset) Len() int {
	return len(ds.Y)
}

type GenerateOptions struct {
	Samples      int
	Features     int
	Noise        float64
	TestFraction float64
	Seed         int64
}

// Synthetic is a generated task together with the parameters that produced it.
type Synthetic struct {
	Train       Dataset
	Test        Dataset
	TrueWeights []float64
	TrueBias    float64
}

// Generate draws y = x.w + b + noise*e with x, e ~ N(0, 1) and w, b ~ U(-1, 1).
// The first TestFraction of the samples is held out.
func Generate(opts GenerateOptions) (*Synthetic, error) {
	if opts.Samples < 1 || opts.Features < 1 {
		return nil, fmt.Errorf("samples and features must be >= 1, got %d and %d: %w",
			opts.Samples, opts.Features, model.ErrConfiguration)
	}
	if opts.TestFraction < 0 || opts.TestFraction >= 1 {
		return nil, fmt.Errorf("test fraction must be in [0, 1), got %v: %w", opts.TestFraction, model.ErrConfiguration)
	}
	if opts.Noise < 0 {
		return nil, fmt.Errorf("noise must be >= 0, got %v: %w", opts.Noise, model.ErrConfiguration)
	}

	rng := rand.New(rand.NewSource(opts.Seed))

	weights := make([]float64, opts.Features)
	for i := range weights {
		weights[i] = 2*rng.Float64() - 1
	}
	bias := 2*rng.Float64() - 1

	all := Dataset{
		X: make([][]float64, opts.Samples),
		Y: make([]float64, opts.Samples),
	}
	for i := range all.X {
		x := make([]float64, opts.Features)
		y := bias
		for j := range x {
			x[j] = rng.NormFloat64()
			y += x[j] * weights[j]
		}
		all.X[i] = x
		all.Y[i] = y + opts.Noise*rng.NormFloat64()
	}

	nTest := int(float64(opts.Samples) * opts.TestFraction)
	return &Synthetic{
		Train:       Dataset{X: all.X[nTest:], Y: all.Y[nTest:]},
		Test:        Dataset{X: all.X[:nTest], Y: all.Y[:nTest]},
		TrueWeights: weights,
		TrueBias:    bias,
	}, nil
}

// Batches cuts ds into consecutive batches of at most batchSize examples.
func Batches(ds Dataset, batchSize int) ([]model.Batch, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be >= 1, got %d: %w", batchSize, model.ErrConfiguration)
	}
	batches := []model.Batch{}
	for start := 0; start < ds.Len(); start += batchSize {
		end := min(start+batchSize, ds.Len())
		batches = append(batches, linreg.Batch{X: ds.X[start:end], Y: ds.Y[start:end]})
	}
	return batches, nil
}
