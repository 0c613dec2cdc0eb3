package florch

import (
	"fmt"
	"math"

	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/model"
	"github.com/hashicorp/go-hclog"
)

// ClientTrainer runs plain mini-batch SGD on one client's partition.
type ClientTrainer struct {
	epochs       int
	learningRate float64
	gradientFn   GradientFunc
	logger       hclog.Logger
}

func NewClientTrainer(epochs int, learningRate float64, gradientFn GradientFunc, logger hclog.Logger) (*ClientTrainer, error) {
	if epochs < 0 {
		return nil, fmt.Errorf("epochs must be >= 0, got %d: %w", epochs, model.ErrConfiguration)
	}
	if !(learningRate > 0) || math.IsInf(learningRate, 0) {
		return nil, fmt.Errorf("learning rate must be a positive number, got %v: %w", learningRate, model.ErrConfiguration)
	}
	if gradientFn == nil {
		return nil, fmt.Errorf("gradient function is required: %w", model.ErrConfiguration)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &ClientTrainer{
		epochs:       epochs,
		learningRate: learningRate,
		gradientFn:   gradientFn,
		logger:       logger.Named("trainer"),
	}, nil
}

func (trainer *ClientTrainer) Epochs() int {
	return trainer.epochs
}

// TrainLocal trains a private copy of global on ds. global is never written to,
// so concurrent calls for different clients may share the same input.
func (trainer *ClientTrainer) TrainLocal(global model.ParameterVector, ds model.ClientDataset) (model.LocalResult, error) {
	local := global.Clone()
	result := model.LocalResult{
		ClientID:    ds.ClientID,
		NumExamples: ds.NumExamples(),
	}

	for epoch := 1; epoch <= trainer.epochs; epoch++ {
		lossSum := 0.0
		for b, batch := range ds.Batches {
			loss, err := trainer.step(local, batch)
			if err != nil {
				return model.LocalResult{}, fmt.Errorf("epoch %d batch %d: %w", epoch, b, err)
			}
			lossSum += loss
		}

		if len(ds.Batches) > 0 {
			result.Loss = lossSum / float64(len(ds.Batches))
		}
		trainer.logger.Trace("epoch done", "client", ds.ClientID, "epoch", epoch, "loss", result.Loss)
	}

	result.Weights = local
	return result, nil
}

// step applies one SGD update to local in place and returns the batch loss.
func (trainer *ClientTrainer) step(local model.ParameterVector, batch model.Batch) (float64, error) {
	loss, grad, err := trainer.gradientFn(local, batch)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, fmt.Errorf("loss is %v: %w", loss, model.ErrNumeric)
	}
	if err := local.CheckShape(grad); err != nil {
		return 0, fmt.Errorf("gradient: %w", err)
	}
	if err := grad.CheckFinite(); err != nil {
		return 0, fmt.Errorf("gradient: %w", err)
	}

	local.AddScaled(-trainer.learningRate, grad)

	if err := local.CheckFinite(); err != nil {
		return 0, fmt.Errorf("weights diverged: %w", err)
	}
	return loss, nil
}
