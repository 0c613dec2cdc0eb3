// Package checkpoint persists global model states as TOML documents.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/model"
	"github.com/pelletier/go-toml/v2"
)

const formatVersion = 1

var ErrUnsupportedVersion = errors.New("unsupported checkpoint version")

type document struct {
	Version int            `toml:"version"`
	Round   int            `toml:"round"`
	SavedAt time.Time      `toml:"saved_at"`
	Weights []model.Tensor `toml:"weights"`
}

// Store reads and writes a single checkpoint file. Writes replace the file
// atomically, so a reader never sees a partial state.
type Store struct {
	Path string
}

func NewStore(path string) *Store {
	return &Store{Path: path}
}

func (s *Store) Save(state model.GlobalModelState) error {
	if err := state.Weights.Validate(); err != nil {
		return fmt.Errorf("checkpoint round %d: %w", state.Round, err)
	}

	content, err := toml.Marshal(document{
		Version: formatVersion,
		Round:   state.Round,
		SavedAt: time.Now().UTC(),
		Weights: state.Weights,
	})
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), s.Path)
}

func (s *Store) Load() (model.GlobalModelState, error) {
	content, err := os.ReadFile(s.Path)
	if err != nil {
		return model.GlobalModelState{}, err
	}

	var doc document
	if err := toml.Unmarshal(content, &doc); err != nil {
		return model.GlobalModelState{}, fmt.Errorf("decode checkpoint %s: %w", s.Path, err)
	}
	if doc.Version != formatVersion {
		return model.GlobalModelState{}, fmt.Errorf("%s has version %d: %w", s.Path, doc.Version, ErrUnsupportedVersion)
	}
	if doc.Round < 0 {
		return model.GlobalModelState{}, fmt.Errorf("%s has negative round %d: %w", s.Path, doc.Round, model.ErrConfiguration)
	}

	weights := model.ParameterVector(doc.Weights)
	if err := weights.Validate(); err != nil {
		return model.GlobalModelState{}, fmt.Errorf("checkpoint %s: %w", s.Path, err)
	}
	if err := weights.CheckFinite(); err != nil {
		return model.GlobalModelState{}, fmt.Errorf("checkpoint %s: %w", s.Path, err)
	}

	return model.GlobalModelState{Round: doc.Round, Weights: weights}, nil
}

// LoadMatching loads the checkpoint and requires its weights to have template's structure.
func (s *Store) LoadMatching(template model.ParameterVector) (model.GlobalModelState, error) {
	state, err := s.Load()
	if err != nil {
		return model.GlobalModelState{}, err
	}
	if err := template.CheckShape(state.Weights); err != nil {
		return model.GlobalModelState{}, fmt.Errorf("checkpoint %s does not fit the model: %w", s.Path, err)
	}
	return state, nil
}
