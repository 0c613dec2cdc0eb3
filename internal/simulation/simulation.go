// Package simulation assembles a complete in-process federated run from a configuration.
package simulation

import (
	"fmt"

	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/checkpoint"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/data"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/executor"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/florch"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/florch/flconfig"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/linreg"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/model"
	"github.com/hashicorp/go-hclog"
)

const initScale = 0.1

// Options select where the first global state comes from. Both are checkpoint paths.
type Options struct {
	// InitFrom warm-starts round 0 with checkpointed weights.
	InitFrom string
	// ResumeFrom continues the round count of a checkpointed run.
	ResumeFrom string
}

type Simulation struct {
	Config    *flconfig.FlConfiguration
	Task      *data.Synthetic
	Utilities []data.ClientUtility
	Runner    *florch.Runner
	Initial   model.GlobalModelState
}

func New(config *flconfig.FlConfiguration, options Options, eventBus *events.EventBus, logger hclog.Logger) (*Simulation, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if options.InitFrom != "" && options.ResumeFrom != "" {
		return nil, fmt.Errorf("init and resume checkpoints are exclusive: %w", model.ErrConfiguration)
	}

	task, err := data.Generate(data.GenerateOptions{
		Samples:      config.Dataset.Samples,
		Features:     config.Dataset.Features,
		Noise:        config.Dataset.Noise,
		TestFraction: config.Dataset.TestFraction,
		Seed:         config.Seed,
	})
	if err != nil {
		return nil, err
	}

	datasets, err := data.NewPartitioner(config.Seed, true).Partition(task.Train, config.ClientsNum, config.BatchSize)
	if err != nil {
		return nil, err
	}
	utilities := data.CalculateClientUtilities(datasets)
	for _, utility := range utilities {
		logger.Debug("client data", "client", utility.ClientID, "size_score", utility.DatasetSizeScore,
			"distribution_score", utility.DataDistributionScore)
	}
	heldOut, err := data.Batches(task.Test, config.BatchSize)
	if err != nil {
		return nil, err
	}

	backend, err := linreg.New(config.Dataset.Features, config.Seed, initScale)
	if err != nil {
		return nil, err
	}
	var factory florch.ModelFactory = backend
	if options.InitFrom != "" {
		factory = checkpoint.NewFactory(options.InitFrom, backend)
	}

	trainer, err := florch.NewClientTrainer(config.Epochs, config.LearningRate, factory.Gradient, logger)
	if err != nil {
		return nil, err
	}
	exec, err := executor.New(config.Parallelism)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, model.ErrConfiguration)
	}
	weighting, err := florch.ParseWeighting(config.Weighting)
	if err != nil {
		return nil, err
	}

	coordinator, err := florch.NewCoordinator(factory, trainer, florch.NewFedAvgAggregator(), exec, weighting, eventBus, logger)
	if err != nil {
		return nil, err
	}

	var initial model.GlobalModelState
	if options.ResumeFrom != "" {
		template, err := backend.Create()
		if err != nil {
			return nil, err
		}
		initial, err = checkpoint.NewStore(options.ResumeFrom).LoadMatching(template)
		if err != nil {
			return nil, err
		}
		logger.Info(fmt.Sprintf("Resuming from round %d", initial.Round), "checkpoint", options.ResumeFrom)
	} else {
		initial, err = coordinator.Initialize()
		if err != nil {
			return nil, err
		}
	}

	var checkpoints florch.CheckpointSaver
	if config.Output.CheckpointFile != "" {
		checkpoints = checkpoint.NewStore(config.Output.CheckpointFile)
	}

	resultsFile := config.Output.ResultsFile
	if resultsFile == common.RESULTS_FILE_AUTO {
		resultsFile, err = common.GetResultsFileName(common.RESULTS_DIR)
		if err != nil {
			return nil, err
		}
	}

	runner, err := florch.NewRunner(coordinator, backend, datasets, heldOut, checkpoints, florch.RunnerOptions{
		Rounds:       config.Rounds,
		MaxRetries:   config.MaxRetries,
		RetryBackoff: config.RetryBackoff,
		Cost:         config.Cost,
		Convergence: florch.ConvergenceOptions{
			Enabled:   config.Convergence.Enabled,
			Threshold: config.Convergence.Threshold,
			Patience:  config.Convergence.Patience,
			Window:    config.Convergence.Window,
		},
		ResultsFile: resultsFile,
	}, eventBus, logger)
	if err != nil {
		return nil, err
	}

	logger.Info(fmt.Sprintf("Simulation ready: %d clients, %d train / %d test examples, executor %v, weighting %s",
		len(datasets), task.Train.Len(), task.Test.Len(), exec, weighting))

	return &Simulation{
		Config:    config,
		Task:      task,
		Utilities: utilities,
		Runner:    runner,
		Initial:   initial,
	}, nil
}
