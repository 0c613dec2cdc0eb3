package flconfig

import (
	"fmt"
	"math"
	"time"

	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/florch"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/florch/cost"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/model"
)

// FlConfiguration is everything a simulation run is parameterised by.
type FlConfiguration struct {
	Epochs       int     `mapstructure:"epochs" json:"epochs"`
	Rounds       int     `mapstructure:"rounds" json:"rounds"`
	BatchSize    int     `mapstructure:"batch_size" json:"batchSize"`
	LearningRate float64 `mapstructure:"learning_rate" json:"learningRate"`
	ClientsNum   int     `mapstructure:"clients_num" json:"clientsNum"`
	Weighting    string  `mapstructure:"weighting" json:"weighting"`
	Parallelism  int     `mapstructure:"parallelism" json:"parallelism"`
	Seed         int64   `mapstructure:"seed" json:"seed"`

	MaxRetries   int           `mapstructure:"max_retries" json:"maxRetries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" json:"retryBackoff"`

	Dataset     DatasetConfig          `mapstructure:"dataset" json:"dataset"`
	Cost        cost.CostConfiguration `mapstructure:"cost" json:"costConfiguration"`
	Convergence ConvergenceConfig      `mapstructure:"convergence" json:"convergence"`
	Output      OutputConfig           `mapstructure:"output" json:"output"`
}

type DatasetConfig struct {
	Samples      int     `mapstructure:"samples" json:"samples"`
	Features     int     `mapstructure:"features" json:"features"`
	Noise        float64 `mapstructure:"noise" json:"noise"`
	TestFraction float64 `mapstructure:"test_fraction" json:"testFraction"`
}

type ConvergenceConfig struct {
	Enabled   bool    `mapstructure:"enabled" json:"enabled"`
	Threshold float64 `mapstructure:"threshold" json:"threshold"`
	Patience  int     `mapstructure:"patience" json:"patience"`
	Window    int     `mapstructure:"window" json:"window"`
}

type OutputConfig struct {
	ResultsFile    string `mapstructure:"results_file" json:"resultsFile"`
	CheckpointFile string `mapstructure:"checkpoint_file" json:"checkpointFile"`
}

// Defaults mirrors the reference MNIST experiment hyperparameters.
func Defaults() FlConfiguration {
	return FlConfiguration{
		Epochs:       5,
		Rounds:       10,
		BatchSize:    32,
		LearningRate: 0.02,
		ClientsNum:   6,
		Weighting:    "uniform",
		Parallelism:  1,
		Seed:         1,
		MaxRetries:   0,
		RetryBackoff: 100 * time.Millisecond,
		Dataset: DatasetConfig{
			Samples:      6000,
			Features:     8,
			Noise:        0.1,
			TestFraction: 0.2,
		},
		Cost: cost.CostConfiguration{
			CostType: cost.None_CostType,
			Source:   cost.COMMUNICATION,
			UnitCost: 1,
		},
		Convergence: ConvergenceConfig{
			Enabled:   false,
			Threshold: 1e-4,
			Patience:  3,
			Window:    2,
		},
	}
}

// Validate reports the first invalid setting, wrapped in model.ErrConfiguration.
func (config *FlConfiguration) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), model.ErrConfiguration)
	}

	switch {
	case config.Epochs < 0:
		return invalid("epochs must be >= 0, got %d", config.Epochs)
	case config.Rounds < 0:
		return invalid("rounds must be >= 0, got %d", config.Rounds)
	case config.BatchSize < 1:
		return invalid("batch size must be >= 1, got %d", config.BatchSize)
	case !(config.LearningRate > 0) || math.IsInf(config.LearningRate, 0):
		return invalid("learning rate must be positive, got %v", config.LearningRate)
	case config.ClientsNum < 1:
		return invalid("clients num must be >= 1, got %d", config.ClientsNum)
	case config.Parallelism < 0:
		return invalid("parallelism must be >= 0, got %d", config.Parallelism)
	case config.MaxRetries < 0:
		return invalid("max retries must be >= 0, got %d", config.MaxRetries)
	case config.Dataset.Features < 1:
		return invalid("dataset features must be >= 1, got %d", config.Dataset.Features)
	case config.Dataset.Samples < config.ClientsNum:
		return invalid("dataset has %d samples for %d clients", config.Dataset.Samples, config.ClientsNum)
	case config.Dataset.Noise < 0:
		return invalid("dataset noise must be >= 0, got %v", config.Dataset.Noise)
	case config.Dataset.TestFraction < 0 || config.Dataset.TestFraction >= 1:
		return invalid("test fraction must be in [0, 1), got %v", config.Dataset.TestFraction)
	case config.Convergence.Enabled && (config.Convergence.Patience < 1 || config.Convergence.Window < 1):
		return invalid("convergence patience and window must be >= 1")
	}

	if _, err := florch.ParseWeighting(config.Weighting); err != nil {
		return err
	}
	if err := config.Cost.Validate(); err != nil {
		return invalid("cost: %v", err)
	}
	return nil
}
