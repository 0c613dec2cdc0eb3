// Package linreg is a small training backend for the simulator: multivariate
// linear regression with mean squared error, differentiated by hand.
package linreg

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/model"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Batch is a slice of labelled examples; X[i] has one value per feature.
type Batch struct {
	X [][]float64
	Y []float64
}

func (b Batch) Len() int {
	return len(b.Y)
}

// Model produces [weights(features), bias(1)] parameter vectors.
type Model struct {
	Features  int
	Seed      int64
	InitScale float64
}

func New(features int, seed int64, initScale float64) (*Model, error) {
	if features < 1 {
		return nil, fmt.Errorf("features must be >= 1, got %d: %w", features, model.ErrConfiguration)
	}
	return &Model{Features: features, Seed: seed, InitScale: initScale}, nil
}

func (m *Model) template() model.ParameterVector {
	return model.ParameterVector{
		model.NewTensor(m.Features),
		model.NewTensor(1),
	}
}

// Create draws weights uniformly from [-InitScale, InitScale]; the bias starts at zero.
func (m *Model) Create() (model.ParameterVector, error) {
	weights := m.template()
	if m.InitScale != 0 {
		rng := rand.New(rand.NewSource(m.Seed))
		for i := range weights[0].Data {
			weights[0].Data[i] = (2*rng.Float64() - 1) * m.InitScale
		}
	}
	return weights, nil
}

// Gradient returns the batch MSE and its gradient with respect to weights and bias.
func (m *Model) Gradient(weights model.ParameterVector, batch model.Batch) (float64, model.ParameterVector, error) {
	b, err := m.checkBatch(batch)
	if err != nil {
		return 0, nil, err
	}
	if err := m.template().CheckShape(weights); err != nil {
		return 0, nil, err
	}

	grad := m.template()
	n := b.Len()
	if n == 0 {
		return 0, grad, nil
	}

	loss := 0.0
	for i, x := range b.X {
		residual := predict(weights, x) - b.Y[i]
		loss += residual * residual
		floats.AddScaled(grad[0].Data, 2*residual/float64(n), x)
		grad[1].Data[0] += 2 * residual / float64(n)
	}

	return loss / float64(n), grad, nil
}

// Evaluate scores weights on held-out batches: mse (the returned loss), mae and, when defined, r2.
func (m *Model) Evaluate(weights model.ParameterVector, heldOut []model.Batch) (float64, map[string]float64, error) {
	if err := m.template().CheckShape(weights); err != nil {
		return 0, nil, err
	}

	var estimates, values []float64
	for _, batch := range heldOut {
		b, err := m.checkBatch(batch)
		if err != nil {
			return 0, nil, err
		}
		for i, x := range b.X {
			estimates = append(estimates, predict(weights, x))
			values = append(values, b.Y[i])
		}
	}
	if len(values) == 0 {
		return 0, nil, fmt.Errorf("no held-out examples: %w", model.ErrConfiguration)
	}

	residuals := make([]float64, len(values))
	floats.SubTo(residuals, estimates, values)
	mse := floats.Dot(residuals, residuals) / float64(len(residuals))
	mae := floats.Norm(residuals, 1) / float64(len(residuals))

	metrics := map[string]float64{
		"mse": mse,
		"mae": mae,
	}
	if r2 := stat.RSquaredFrom(estimates, values, nil); !math.IsNaN(r2) && !math.IsInf(r2, 0) {
		metrics["r2"] = r2
	}

	return mse, metrics, nil
}

func (m *Model) checkBatch(batch model.Batch) (Batch, error) {
	b, ok := batch.(Batch)
	if !ok {
		return Batch{}, fmt.Errorf("linreg: unsupported batch type %T: %w", batch, model.ErrConfiguration)
	}
	if len(b.X) != len(b.Y) {
		return Batch{}, fmt.Errorf("linreg: %d inputs for %d labels: %w", len(b.X), len(b.Y), model.ErrShapeMismatch)
	}
	for i, x := range b.X {
		if len(x) != m.Features {
			return Batch{}, fmt.Errorf("linreg: example %d has %d features, want %d: %w", i, len(x), m.Features, model.ErrShapeMismatch)
		}
	}
	return b, nil
}

func predict(weights model.ParameterVector, x []float64) float64 {
	return floats.Dot(weights[0].Data, x) + weights[1].Data[0]
}
