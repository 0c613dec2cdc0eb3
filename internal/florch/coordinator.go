package florch

import (
	"fmt"
	"time"

	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/executor"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/model"
	"github.com/hashicorp/go-hclog"
)

// Phase is the step of the round protocol a coordinator is in.
type Phase string

const (
	PhaseInit        Phase = "INIT"
	PhaseRoundActive Phase = "ROUND_ACTIVE"
	PhaseAggregating Phase = "AGGREGATING"
)

// Coordinator drives broadcast, local training, the barrier and aggregation.
// It keeps no state between rounds: everything a round needs arrives in the
// GlobalModelState passed to Next.
type Coordinator struct {
	factory    ModelFactory
	trainer    *ClientTrainer
	aggregator Aggregator
	executor   executor.Executor
	weighting  Weighting
	eventBus   *events.EventBus
	logger     hclog.Logger
}

func NewCoordinator(factory ModelFactory, trainer *ClientTrainer, aggregator Aggregator, exec executor.Executor,
	weighting Weighting, eventBus *events.EventBus, logger hclog.Logger) (*Coordinator, error) {
	if factory == nil || trainer == nil || aggregator == nil {
		return nil, fmt.Errorf("model factory, trainer and aggregator are required: %w", model.ErrConfiguration)
	}
	if exec == nil {
		exec = executor.Sequential{}
	}
	if weighting == "" {
		weighting = WeightingUniform
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Coordinator{
		factory:    factory,
		trainer:    trainer,
		aggregator: aggregator,
		executor:   exec,
		weighting:  weighting,
		eventBus:   eventBus,
		logger:     logger.Named("coordinator"),
	}, nil
}

// Initialize builds round 0 from a fresh parameter vector.
func (coord *Coordinator) Initialize() (model.GlobalModelState, error) {
	weights, err := coord.factory.Create()
	if err != nil {
		return model.GlobalModelState{}, fmt.Errorf("create initial model: %w", err)
	}
	if err := weights.Validate(); err != nil {
		return model.GlobalModelState{}, fmt.Errorf("initial model: %w", err)
	}
	if err := weights.CheckFinite(); err != nil {
		return model.GlobalModelState{}, fmt.Errorf("initial model: %w", err)
	}

	coord.logger.Info("global model initialized", "layers", len(weights), "params", weights.NumParams())

	return model.GlobalModelState{Round: 0, Weights: weights.Clone()}, nil
}

// Next runs one full round. On error the returned state is the zero value and
// state itself is untouched, so it remains the last valid one.
func (coord *Coordinator) Next(state model.GlobalModelState, datasets []model.ClientDataset) (model.GlobalModelState, error) {
	round := state.Round + 1
	start := time.Now()

	if len(datasets) == 0 {
		return coord.fail(PhaseInit, round, "", fmt.Errorf("no client datasets: %w", model.ErrConfiguration))
	}
	if err := state.Weights.Validate(); err != nil {
		return coord.fail(PhaseInit, round, "", fmt.Errorf("global weights: %w", err))
	}

	clientIDs := make([]string, len(datasets))
	for i, ds := range datasets {
		clientIDs[i] = ds.ClientID
		if clientIDs[i] == "" {
			clientIDs[i] = common.GetClientId(i)
		}
	}

	coord.logger.Debug("round started", "round", round, "clients", len(datasets), "executor", fmt.Sprint(coord.executor))
	coord.eventBus.Publish(events.New(events.RoundStartedEventType, events.RoundStartedEvent{
		Round:   round,
		Clients: len(datasets),
	}))

	// TrainLocal deep-copies the global weights, which is each client's broadcast copy.
	results := make([]model.LocalResult, len(datasets))
	failures := make([]error, len(datasets))
	runErr := coord.executor.Run(len(datasets), func(i int) error {
		result, err := coord.trainer.TrainLocal(state.Weights, datasets[i])
		if err != nil {
			failures[i] = err
			return fmt.Errorf("client %s: %w", clientIDs[i], err)
		}
		result.ClientID = clientIDs[i]
		results[i] = result
		return nil
	})
	if runErr != nil {
		if countErrors(failures) > 1 {
			coord.logger.Warn("several clients failed", "round", round, "error", runErr)
		}
		// report the lowest failing index so the error does not depend on the executor
		for i, err := range failures {
			if err != nil {
				return coord.fail(PhaseRoundActive, round, clientIDs[i], err)
			}
		}
		return coord.fail(PhaseRoundActive, round, "", runErr)
	}

	locals := make([]model.ParameterVector, len(results))
	lossSum := 0.0
	for i, result := range results {
		locals[i] = result.Weights
		lossSum += result.Loss
		if coord.logger.IsDebug() {
			difference, _ := state.Weights.L2Distance(result.Weights)
			coord.logger.Debug("client trained", "round", round, "client", result.ClientID,
				"examples", result.NumExamples, "loss", result.Loss, "model_difference", difference)
		}
	}

	aggregated, err := coord.aggregator.Combine(locals, WeightsFor(results, coord.weighting))
	if err != nil {
		return coord.fail(PhaseAggregating, round, "", err)
	}
	if err := state.Weights.CheckShape(aggregated); err != nil {
		return coord.fail(PhaseAggregating, round, "", fmt.Errorf("aggregated weights: %w", err))
	}
	if err := aggregated.CheckFinite(); err != nil {
		return coord.fail(PhaseAggregating, round, "", fmt.Errorf("aggregated weights: %w", err))
	}

	duration := time.Since(start)
	coord.logger.Info("round finished", "round", round, "clients", len(datasets),
		"mean_client_loss", lossSum/float64(len(results)), "duration", duration)
	coord.eventBus.Publish(events.New(events.RoundFinishedEventType, events.RoundFinishedEvent{
		Round:    round,
		Clients:  len(datasets),
		Duration: duration,
	}))

	return model.GlobalModelState{Round: round, Weights: aggregated}, nil
}

func (coord *Coordinator) fail(phase Phase, round int, clientID string, err error) (model.GlobalModelState, error) {
	roundErr := &model.RoundError{Round: round, ClientID: clientID, Err: err}

	coord.logger.Error("round failed", "round", round, "phase", phase, "client", clientID,
		"kind", model.Kind(err), "error", err)
	coord.eventBus.Publish(events.New(events.RoundFailedEventType, events.RoundFailedEvent{
		Round:    round,
		ClientID: clientID,
		Phase:    string(phase),
		Kind:     model.Kind(err),
		Err:      err,
	}))

	return model.GlobalModelState{}, roundErr
}

func countErrors(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}
