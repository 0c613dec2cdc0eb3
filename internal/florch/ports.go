package florch

import "github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/model"

// GradientFunc computes the loss of weights on one batch and its gradient,
// aligned layer by layer with weights.
type GradientFunc func(weights model.ParameterVector, batch model.Batch) (float64, model.ParameterVector, error)

// ModelFactory is the training backend: it fixes the parameter shapes for the
// lifetime of a run and knows how to differentiate the loss.
type ModelFactory interface {
	Create() (model.ParameterVector, error)
	Gradient(weights model.ParameterVector, batch model.Batch) (float64, model.ParameterVector, error)
}

// DatasetPartitioner splits raw training data into one dataset per client.
type DatasetPartitioner[D any] interface {
	Partition(data D, clientsNum int, batchSize int) ([]model.ClientDataset, error)
}

// Evaluator scores global weights on held-out data. It is called by the
// driver after each round, never by the coordinator.
type Evaluator interface {
	Evaluate(weights model.ParameterVector, heldOut []model.Batch) (float64, map[string]float64, error)
}

// CheckpointSaver persists a completed global state.
type CheckpointSaver interface {
	Save(state model.GlobalModelState) error
}
