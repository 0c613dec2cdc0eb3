package florch

import (
	"errors"

	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/model"
)

// stubBatch carries the gradient the stub backend should report for it.
type stubBatch struct {
	id   int
	n    int
	grad []float64
	loss float64
}

func (b stubBatch) Len() int {
	return b.n
}

func vec(values ...float64) model.ParameterVector {
	return model.ParameterVector{{Shape: []int{len(values)}, Data: append([]float64(nil), values...)}}
}

// stubGradient returns each batch's fixed gradient, shaped like the single-layer weights.
func stubGradient(weights model.ParameterVector, batch model.Batch) (float64, model.ParameterVector, error) {
	b, ok := batch.(stubBatch)
	if !ok {
		return 0, nil, errors.New("unexpected batch type")
	}
	loss := b.loss
	if loss == 0 {
		loss = 1
	}
	return loss, vec(b.grad...), nil
}

type stubFactory struct {
	initial model.ParameterVector
	err     error
}

func (f stubFactory) Create() (model.ParameterVector, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.initial.Clone(), nil
}

func (f stubFactory) Gradient(weights model.ParameterVector, batch model.Batch) (float64, model.ParameterVector, error) {
	return stubGradient(weights, batch)
}

func dataset(id string, batches ...stubBatch) model.ClientDataset {
	ds := model.ClientDataset{ClientID: id}
	for _, b := range batches {
		ds.Batches = append(ds.Batches, b)
	}
	return ds
}
