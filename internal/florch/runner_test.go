package florch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/florch/cost"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// firstWeightEvaluator scores a model by its first parameter.
type firstWeightEvaluator struct {
	heldOutSizes []int
}

func (e *firstWeightEvaluator) Evaluate(weights model.ParameterVector, heldOut []model.Batch) (float64, map[string]float64, error) {
	e.heldOutSizes = append(e.heldOutSizes, len(heldOut))
	w := weights[0].Data[0]
	return w, map[string]float64{"w0": w}, nil
}

type recordingSaver struct {
	rounds []int
	err    error
}

func (s *recordingSaver) Save(state model.GlobalModelState) error {
	if s.err != nil {
		return s.err
	}
	s.rounds = append(s.rounds, state.Round)
	return nil
}

func newRunner(t *testing.T, gradientFn GradientFunc, grad []float64, options RunnerOptions, saver CheckpointSaver,
	bus *events.EventBus) (*Runner, *firstWeightEvaluator, model.GlobalModelState) {
	t.Helper()

	trainer := newTrainer(t, 1, 0.1, gradientFn)
	coord, err := NewCoordinator(stubFactory{initial: vec(1)}, trainer, NewFedAvgAggregator(), nil, "", bus, nil)
	require.NoError(t, err)
	state, err := coord.Initialize()
	require.NoError(t, err)

	evaluator := &firstWeightEvaluator{}
	datasets := []model.ClientDataset{dataset("a", stubBatch{n: 4, grad: grad})}
	heldOut := []model.Batch{stubBatch{n: 2}, stubBatch{n: 2}}

	runner, err := NewRunner(coord, evaluator, datasets, heldOut, saver, options, bus, nil)
	require.NoError(t, err)
	return runner, evaluator, state
}

func TestRunCompletesAllRounds(t *testing.T) {
	t.Parallel()

	bus := events.NewEventBus()
	finished := make(chan events.Event, 1)
	bus.Subscribe(events.FlFinishedEventType, finished)

	resultsFile := filepath.Join(t.TempDir(), "results.csv")
	saver := &recordingSaver{}
	runner, evaluator, initial := newRunner(t, stubGradient, []float64{1},
		RunnerOptions{Rounds: 3, ResultsFile: resultsFile, Cost: cost.CostConfiguration{Source: cost.COMMUNICATION}}, saver, bus)

	reports, state, err := runner.Run(context.Background(), initial)
	require.NoError(t, err)

	require.Len(t, reports, 3)
	for i, report := range reports {
		assert.Equal(t, i+1, report.Round)
		assert.Equal(t, 1, report.Attempts)
		assert.Equal(t, float64(2*(i+1)), report.Cost, "one client sends and receives one parameter per round")
		assert.Equal(t, report.Loss, report.Metrics["w0"])
	}
	assert.Equal(t, 0.9, reports[0].Loss)
	assert.Equal(t, 3, state.Round)
	assert.InDelta(t, 0.7, state.Weights[0].Data[0], 1e-12)
	assert.Equal(t, 1.0, initial.Weights[0].Data[0], "initial state must not change")

	assert.Equal(t, []int{1, 2, 3}, saver.rounds)
	assert.Equal(t, []int{2, 2, 2}, evaluator.heldOutSizes)

	progress := runner.Progress()
	assert.True(t, progress.Done)
	assert.Equal(t, StopRoundsCompleted, progress.StopReason)
	assert.Equal(t, 6.0, progress.CurrentCost)

	require.Len(t, finished, 1)
	event := (<-finished).Data.(events.FlFinishedEvent)
	assert.Equal(t, 3, event.Rounds)
	assert.Equal(t, int32(0), event.ExitCode)

	content, err := os.ReadFile(resultsFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "round,loss,w0,cost", lines[0])
	assert.Equal(t, "1,0.9,0.9,2", lines[1])
}

func TestRunWithZeroRounds(t *testing.T) {
	t.Parallel()

	runner, _, initial := newRunner(t, stubGradient, []float64{1}, RunnerOptions{}, nil, nil)

	reports, state, err := runner.Run(context.Background(), initial)
	require.NoError(t, err)
	assert.Empty(t, reports)
	assert.Equal(t, initial, state)
}

func TestRunStopsBeforeExceedingBudget(t *testing.T) {
	t.Parallel()

	options := RunnerOptions{
		Rounds: 10,
		Cost:   cost.CostConfiguration{CostType: cost.TotalBudget_CostType, Source: cost.COMMUNICATION, Budget: 5},
	}
	runner, _, initial := newRunner(t, stubGradient, []float64{1}, options, nil, nil)

	reports, state, err := runner.Run(context.Background(), initial)
	require.NoError(t, err)

	assert.Len(t, reports, 2)
	assert.Equal(t, 2, state.Round)
	assert.Equal(t, StopBudgetExceeded, runner.Progress().StopReason)
	assert.LessOrEqual(t, runner.Progress().CurrentCost, 5.0)
}

func TestRunStopsAtTargetLoss(t *testing.T) {
	t.Parallel()

	options := RunnerOptions{
		Rounds: 10,
		Cost:   cost.CostConfiguration{CostType: cost.CostMinimization_CostType, TargetLoss: 0.85},
	}
	runner, _, initial := newRunner(t, stubGradient, []float64{1}, options, nil, nil)

	reports, _, err := runner.Run(context.Background(), initial)
	require.NoError(t, err)

	assert.Len(t, reports, 2)
	assert.Equal(t, StopTargetReached, runner.Progress().StopReason)
}

func TestRunStopsOnConvergence(t *testing.T) {
	t.Parallel()

	options := RunnerOptions{
		Rounds:      10,
		Convergence: ConvergenceOptions{Enabled: true, Threshold: 1e-9, Patience: 1, Window: 1},
	}
	runner, _, initial := newRunner(t, stubGradient, []float64{0}, options, nil, nil)

	reports, _, err := runner.Run(context.Background(), initial)
	require.NoError(t, err)

	assert.Len(t, reports, 2)
	assert.Equal(t, StopConverged, runner.Progress().StopReason)
}

func TestRunRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	flaky := func(weights model.ParameterVector, batch model.Batch) (float64, model.ParameterVector, error) {
		if calls.Add(1) == 1 {
			return 0, nil, model.ErrNumeric
		}
		return stubGradient(weights, batch)
	}
	runner, _, initial := newRunner(t, flaky, []float64{1}, RunnerOptions{Rounds: 2, MaxRetries: 1}, nil, nil)

	reports, state, err := runner.Run(context.Background(), initial)
	require.NoError(t, err)

	require.Len(t, reports, 2)
	assert.Equal(t, 2, reports[0].Attempts)
	assert.Equal(t, 1, reports[1].Attempts)
	assert.Equal(t, 2, state.Round)
}

func TestRunKeepsLastValidStateOnFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	failSecondRound := func(weights model.ParameterVector, batch model.Batch) (float64, model.ParameterVector, error) {
		if calls.Add(1) > 1 {
			return 0, nil, model.ErrNumeric
		}
		return stubGradient(weights, batch)
	}

	bus := events.NewEventBus()
	finished := make(chan events.Event, 1)
	bus.Subscribe(events.FlFinishedEventType, finished)

	runner, _, initial := newRunner(t, failSecondRound, []float64{1}, RunnerOptions{Rounds: 5}, nil, bus)

	reports, state, err := runner.Run(context.Background(), initial)
	require.Error(t, err)

	var roundErr *model.RoundError
	require.ErrorAs(t, err, &roundErr)
	assert.Equal(t, 2, roundErr.Round)
	assert.Equal(t, "a", roundErr.ClientID)
	assert.ErrorIs(t, err, model.ErrNumeric)

	assert.Len(t, reports, 1)
	assert.Equal(t, 1, state.Round)
	assert.Equal(t, 0.9, state.Weights[0].Data[0])
	assert.Equal(t, StopFailed, runner.Progress().StopReason)

	event := (<-finished).Data.(events.FlFinishedEvent)
	assert.Equal(t, int32(1), event.ExitCode)
	assert.Contains(t, event.ExitMessage, "round 2")
}

func TestRunChargesEveryAttempt(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	flaky := func(weights model.ParameterVector, batch model.Batch) (float64, model.ParameterVector, error) {
		if calls.Add(1) == 1 {
			return 0, nil, model.ErrNumeric
		}
		return stubGradient(weights, batch)
	}
	options := RunnerOptions{Rounds: 2, MaxRetries: 1, Cost: cost.CostConfiguration{Source: cost.COMMUNICATION}}
	runner, _, initial := newRunner(t, flaky, []float64{1}, options, nil, nil)

	reports, _, err := runner.Run(context.Background(), initial)
	require.NoError(t, err)

	require.Len(t, reports, 2)
	assert.Equal(t, 4.0, reports[0].Cost)
	assert.Equal(t, 6.0, reports[1].Cost)
	assert.Equal(t, 6.0, runner.Progress().CurrentCost)
}

func TestRunStopsRetryingWhenBudgetIsSpent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	failing := func(weights model.ParameterVector, batch model.Batch) (float64, model.ParameterVector, error) {
		calls.Add(1)
		return 0, nil, model.ErrNumeric
	}
	options := RunnerOptions{
		Rounds:     3,
		MaxRetries: 5,
		Cost:       cost.CostConfiguration{CostType: cost.TotalBudget_CostType, Source: cost.COMMUNICATION, Budget: 5},
	}
	runner, _, initial := newRunner(t, failing, []float64{1}, options, nil, nil)

	reports, state, err := runner.Run(context.Background(), initial)
	assert.ErrorIs(t, err, model.ErrNumeric)
	assert.Empty(t, reports)
	assert.Equal(t, 0, state.Round)
	assert.Equal(t, int32(2), calls.Load(), "a third attempt would cost 6 of a budget of 5")
	assert.Equal(t, 4.0, runner.Progress().CurrentCost)
}

// failingEvaluator fails from the given call on.
type failingEvaluator struct {
	failFrom int
	calls    int
}

func (e *failingEvaluator) Evaluate(weights model.ParameterVector, heldOut []model.Batch) (float64, map[string]float64, error) {
	e.calls++
	if e.calls >= e.failFrom {
		return 0, nil, errors.New("held-out set unreadable")
	}
	return weights[0].Data[0], nil, nil
}

func TestRunKeepsReportedStateWhenEvaluationFails(t *testing.T) {
	t.Parallel()

	trainer := newTrainer(t, 1, 0.1, stubGradient)
	coord, err := NewCoordinator(stubFactory{initial: vec(1)}, trainer, NewFedAvgAggregator(), nil, "", nil, nil)
	require.NoError(t, err)
	initial, err := coord.Initialize()
	require.NoError(t, err)

	saver := &recordingSaver{}
	resultsFile := filepath.Join(t.TempDir(), "results.csv")
	datasets := []model.ClientDataset{dataset("a", stubBatch{n: 4, grad: []float64{1}})}
	runner, err := NewRunner(coord, &failingEvaluator{failFrom: 2}, datasets, nil, saver,
		RunnerOptions{Rounds: 3, ResultsFile: resultsFile}, nil, nil)
	require.NoError(t, err)

	reports, state, err := runner.Run(context.Background(), initial)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evaluate round 2")

	require.Len(t, reports, 1)
	assert.Equal(t, 1, state.Round)
	assert.Equal(t, 0.9, state.Weights[0].Data[0])
	assert.Equal(t, reports[0].Round, runner.Progress().State.Round)
	assert.Equal(t, []int{1}, saver.rounds)
	assert.Equal(t, StopFailed, runner.Progress().StopReason)

	content, err := os.ReadFile(resultsFile)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(content)), "\n"), 2)
}

func TestRunDoesNotRetryPermanentFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	wrongShape := func(weights model.ParameterVector, batch model.Batch) (float64, model.ParameterVector, error) {
		calls.Add(1)
		return 1, vec(1, 2), nil
	}
	runner, _, initial := newRunner(t, wrongShape, nil, RunnerOptions{Rounds: 1, MaxRetries: 3}, nil, nil)

	_, _, err := runner.Run(context.Background(), initial)
	assert.ErrorIs(t, err, model.ErrShapeMismatch)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunHonorsCancellationBetweenRounds(t *testing.T) {
	t.Parallel()

	runner, _, initial := newRunner(t, stubGradient, []float64{1}, RunnerOptions{Rounds: 5}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reports, state, err := runner.Run(ctx, initial)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, reports)
	assert.Equal(t, initial, state)
	assert.Equal(t, StopCancelled, runner.Progress().StopReason)
}

func TestRunFailsWhenCheckpointCannotBeSaved(t *testing.T) {
	t.Parallel()

	saveErr := errors.New("disk full")
	runner, _, initial := newRunner(t, stubGradient, []float64{1}, RunnerOptions{Rounds: 3}, &recordingSaver{err: saveErr}, nil)

	reports, state, err := runner.Run(context.Background(), initial)
	assert.ErrorIs(t, err, saveErr)
	assert.Len(t, reports, 1)
	assert.Equal(t, 1, state.Round)
}

func TestRunnerEvaluatesOnTrainingDataWithoutHeldOut(t *testing.T) {
	t.Parallel()

	trainer := newTrainer(t, 1, 0.1, stubGradient)
	coord, err := NewCoordinator(stubFactory{initial: vec(1)}, trainer, NewFedAvgAggregator(), nil, "", nil, nil)
	require.NoError(t, err)
	state, err := coord.Initialize()
	require.NoError(t, err)

	evaluator := &firstWeightEvaluator{}
	datasets := []model.ClientDataset{
		dataset("a", stubBatch{n: 1, grad: []float64{1}}, stubBatch{n: 1, grad: []float64{1}}),
		dataset("b", stubBatch{n: 1, grad: []float64{1}}),
	}
	runner, err := NewRunner(coord, evaluator, datasets, nil, nil, RunnerOptions{Rounds: 1}, nil, nil)
	require.NoError(t, err)

	_, _, err = runner.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, evaluator.heldOutSizes)
}

func TestNewRunnerValidatesOptions(t *testing.T) {
	t.Parallel()

	trainer := newTrainer(t, 1, 0.1, stubGradient)
	coord, err := NewCoordinator(stubFactory{initial: vec(1)}, trainer, NewFedAvgAggregator(), nil, "", nil, nil)
	require.NoError(t, err)

	testCases := []struct {
		name    string
		options RunnerOptions
	}{
		{name: "negative rounds", options: RunnerOptions{Rounds: -1}},
		{name: "negative retries", options: RunnerOptions{MaxRetries: -1}},
		{name: "budget without limit", options: RunnerOptions{Cost: cost.CostConfiguration{CostType: cost.TotalBudget_CostType}}},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewRunner(coord, &firstWeightEvaluator{}, nil, nil, nil, tc.options, nil, nil)
			assert.ErrorIs(t, err, model.ErrConfiguration)
		})
	}

	_, err = NewRunner(nil, nil, nil, nil, nil, RunnerOptions{}, nil, nil)
	assert.ErrorIs(t, err, model.ErrConfiguration)
}
