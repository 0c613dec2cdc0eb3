package performance

import (
	"math"
)

const LogarithmicRegression_PredictionType = "log-reg"

// PerformancePrediction extrapolates the global loss curve over rounds.
type PerformancePrediction struct {
	regressionFunctionLosses Regression
}

// NewPerformancePrediction fits losses[i] as the loss after round i+1+offset.
func NewPerformancePrediction(losses []float64, predictionType string, offset int) (*PerformancePrediction, error) {
	xs, ys := prepareXAndY(losses, offset)

	switch predictionType {
	case LogarithmicRegression_PredictionType, "":
		regression, err := NewLogarithmicRegression(xs, ys)
		if err != nil {
			return nil, err
		}
		return &PerformancePrediction{regressionFunctionLosses: regression}, nil
	default:
		return nil, &UnknownPredictionTypeError{PredictionType: predictionType}
	}
}

func (pp *PerformancePrediction) PredictLoss(round int) float64 {
	return pp.regressionFunctionLosses.PredictY(float64(round))
}

// PredictRoundForLoss returns the first round expected to reach loss, or
// false when the fitted curve never gets there.
func (pp *PerformancePrediction) PredictRoundForLoss(loss float64) (int, bool) {
	x := pp.regressionFunctionLosses.PredictX(loss)
	if math.IsNaN(x) || math.IsInf(x, 0) || x > math.MaxInt32 {
		return 0, false
	}
	if x < 0 {
		x = 0
	}
	// a rising curve only "reaches" lower losses in the past
	if pp.PredictLoss(int(math.Ceil(x))+1) > pp.PredictLoss(int(math.Ceil(x))) {
		return 0, false
	}
	return int(math.Ceil(x)), true
}

func (pp *PerformancePrediction) PrintPrediction() string {
	return pp.regressionFunctionLosses.PrintFunction()
}

type UnknownPredictionTypeError struct {
	PredictionType string
}

func (e *UnknownPredictionTypeError) Error() string {
	return "unknown prediction type: " + e.PredictionType
}

func prepareXAndY(values []float64, offset int) ([]float64, []float64) {
	xs := make([]float64, len(values))
	ys := make([]float64, len(values))

	for i, value := range values {
		xs[i] = float64(i + 1 + offset)
		ys[i] = value
	}

	return xs, ys
}
