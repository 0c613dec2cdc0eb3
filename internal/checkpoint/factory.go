package checkpoint

import (
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/model"
)

// Backend creates fresh models and differentiates their loss.
type Backend interface {
	Create() (model.ParameterVector, error)
	Gradient(weights model.ParameterVector, batch model.Batch) (float64, model.ParameterVector, error)
}

// Factory warm-starts a run: Create returns the checkpointed weights instead of
// a fresh initialization. Gradients come from Backend.
type Factory struct {
	Store   *Store
	Backend Backend
}

func NewFactory(path string, backend Backend) *Factory {
	return &Factory{Store: NewStore(path), Backend: backend}
}

func (f *Factory) Create() (model.ParameterVector, error) {
	template, err := f.Backend.Create()
	if err != nil {
		return nil, err
	}
	state, err := f.Store.LoadMatching(template)
	if err != nil {
		return nil, err
	}
	return state.Weights, nil
}

func (f *Factory) Gradient(weights model.ParameterVector, batch model.Batch) (float64, model.ParameterVector, error) {
	return f.Backend.Gradient(weights, batch)
}
