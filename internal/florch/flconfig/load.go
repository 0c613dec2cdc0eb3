package flconfig

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const EnvPrefix = "FEDAVG"

// Load layers defaults, the optional config file at path and FEDAVG_* env
// vars (FEDAVG_DATASET_SAMPLES for dataset.samples) into a validated configuration.
func Load(v *viper.Viper, path string) (*FlConfiguration, error) {
	setDefaults(v, Defaults())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	config := &FlConfiguration{}
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(config, decodeHook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func setDefaults(v *viper.Viper, d FlConfiguration) {
	v.SetDefault("epochs", d.Epochs)
	v.SetDefault("rounds", d.Rounds)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("learning_rate", d.LearningRate)
	v.SetDefault("clients_num", d.ClientsNum)
	v.SetDefault("weighting", d.Weighting)
	v.SetDefault("parallelism", d.Parallelism)
	v.SetDefault("seed", d.Seed)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("retry_backoff", d.RetryBackoff.String())

	v.SetDefault("dataset.samples", d.Dataset.Samples)
	v.SetDefault("dataset.features", d.Dataset.Features)
	v.SetDefault("dataset.noise", d.Dataset.Noise)
	v.SetDefault("dataset.test_fraction", d.Dataset.TestFraction)

	v.SetDefault("cost.type", d.Cost.CostType)
	v.SetDefault("cost.source", d.Cost.Source.String())
	v.SetDefault("cost.budget", d.Cost.Budget)
	v.SetDefault("cost.target_loss", d.Cost.TargetLoss)
	v.SetDefault("cost.unit_cost", d.Cost.UnitCost)

	v.SetDefault("convergence.enabled", d.Convergence.Enabled)
	v.SetDefault("convergence.threshold", d.Convergence.Threshold)
	v.SetDefault("convergence.patience", d.Convergence.Patience)
	v.SetDefault("convergence.window", d.Convergence.Window)

	v.SetDefault("output.results_file", d.Output.ResultsFile)
	v.SetDefault("output.checkpoint_file", d.Output.CheckpointFile)
}
