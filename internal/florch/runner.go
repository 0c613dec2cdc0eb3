package florch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/florch/cost"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/florch/performance"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/model"
	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
)

type StopReason string

const (
	StopRoundsCompleted StopReason = "rounds completed"
	StopBudgetExceeded  StopReason = "budget exceeded"
	StopTargetReached   StopReason = "target loss reached"
	StopConverged       StopReason = "loss converged"
	StopCancelled       StopReason = "cancelled"
	StopFailed          StopReason = "round failed"
)

type ConvergenceOptions struct {
	Enabled   bool
	Threshold float64
	Patience  int
	Window    int
}

type RunnerOptions struct {
	Rounds       int
	MaxRetries   int
	RetryBackoff time.Duration
	Cost         cost.CostConfiguration
	Convergence  ConvergenceOptions
	ResultsFile  string
}

// RoundReport describes one completed round. Cost is cumulative.
type RoundReport struct {
	Round    int                `json:"round"`
	Loss     float64            `json:"loss"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
	Cost     float64            `json:"cost"`
	Duration time.Duration      `json:"duration"`
	Attempts int                `json:"attempts"`
}

type FlProgress struct {
	State       model.GlobalModelState
	Reports     []RoundReport
	CurrentCost float64
	StopReason  StopReason
	Done        bool
}

// Runner is the outer loop around a Coordinator: it repeats rounds, retries
// failed ones, evaluates and records every new global state and decides when
// to stop.
type Runner struct {
	coordinator *Coordinator
	evaluator   Evaluator
	datasets    []model.ClientDataset
	heldOut     []model.Batch
	checkpoints CheckpointSaver
	options     RunnerOptions
	eventBus    *events.EventBus
	logger      hclog.Logger

	mu       sync.Mutex
	progress FlProgress
	losses   []float64
	columns  []string
}

// NewRunner wires a run. When heldOut is empty the global model is scored on
// the union of the client datasets. checkpoints may be nil.
func NewRunner(coordinator *Coordinator, evaluator Evaluator, datasets []model.ClientDataset, heldOut []model.Batch,
	checkpoints CheckpointSaver, options RunnerOptions, eventBus *events.EventBus, logger hclog.Logger) (*Runner, error) {
	if coordinator == nil || evaluator == nil {
		return nil, fmt.Errorf("coordinator and evaluator are required: %w", model.ErrConfiguration)
	}
	if options.Rounds < 0 {
		return nil, fmt.Errorf("rounds must be >= 0, got %d: %w", options.Rounds, model.ErrConfiguration)
	}
	if options.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must be >= 0, got %d: %w", options.MaxRetries, model.ErrConfiguration)
	}
	if err := options.Cost.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, model.ErrConfiguration)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	if len(heldOut) == 0 {
		for _, ds := range datasets {
			heldOut = append(heldOut, ds.Batches...)
		}
	}

	return &Runner{
		coordinator: coordinator,
		evaluator:   evaluator,
		datasets:    datasets,
		heldOut:     heldOut,
		checkpoints: checkpoints,
		options:     options,
		eventBus:    eventBus,
		logger:      logger.Named("runner"),
	}, nil
}

// Run executes up to Rounds rounds starting from state. It returns the reports
// of the completed rounds and the last valid state, also when it fails or ctx
// is cancelled. ctx is only checked between rounds.
func (runner *Runner) Run(ctx context.Context, state model.GlobalModelState) ([]RoundReport, model.GlobalModelState, error) {
	runner.Reset(state)

	var err error
	for done := false; !done; {
		if ctxErr := ctx.Err(); ctxErr != nil {
			runner.stop(StopCancelled)
			err = ctxErr
			break
		}
		done, err = runner.Step(ctx)
		if err != nil {
			break
		}
	}

	runner.Finish(err)

	progress := runner.Progress()
	return progress.Reports, progress.State, err
}

// Reset starts a new run from state.
func (runner *Runner) Reset(state model.GlobalModelState) {
	runner.mu.Lock()
	defer runner.mu.Unlock()

	runner.progress = FlProgress{State: state, Reports: []RoundReport{}}
	runner.losses = nil
	runner.columns = nil
}

// Step runs the next round and reports whether the run is over.
func (runner *Runner) Step(ctx context.Context) (bool, error) {
	runner.mu.Lock()
	state := runner.progress.State
	spent := runner.progress.CurrentCost
	completed := len(runner.progress.Reports)
	done := runner.progress.Done
	runner.mu.Unlock()

	if done {
		return true, nil
	}
	if completed >= runner.options.Rounds {
		runner.stop(StopRoundsCompleted)
		return true, nil
	}

	roundCost := cost.GetGlobalRoundCost(runner.options.Cost.Source, state.Weights.NumParams(),
		runner.clientExamples(), runner.coordinator.trainer.Epochs(), runner.options.Cost.UnitCost)
	if !runner.options.Cost.CanAfford(spent, roundCost) {
		runner.logger.Info(fmt.Sprintf("Budget exceeded! Total cost: %.2f, next round would cost %.2f", spent, roundCost))
		runner.stop(StopBudgetExceeded)
		return true, nil
	}

	start := time.Now()
	next, attempts, err := runner.nextWithRetries(ctx, state, spent, roundCost)
	// every attempt trained every client, so every attempt is charged
	spent += roundCost * float64(attempts)
	if err != nil {
		runner.commit(state, nil, spent)
		runner.stop(StopFailed)
		return true, err
	}

	// an unevaluated round is not committed; the last reported state stays current
	loss, metrics, err := runner.evaluator.Evaluate(next.Weights, runner.heldOut)
	if err != nil {
		runner.commit(state, nil, spent)
		runner.stop(StopFailed)
		return true, fmt.Errorf("evaluate round %d: %w", next.Round, err)
	}

	report := RoundReport{
		Round:    next.Round,
		Loss:     loss,
		Metrics:  metrics,
		Cost:     spent,
		Duration: time.Since(start),
		Attempts: attempts,
	}
	runner.commit(next, &report, report.Cost)
	runner.logger.Info("global model evaluated", "round", report.Round, "loss", report.Loss, "cost", report.Cost)

	if err := runner.record(report); err != nil {
		runner.logger.Error("failed to write results", "error", err)
	}
	if runner.checkpoints != nil {
		if err := runner.checkpoints.Save(next); err != nil {
			runner.stop(StopFailed)
			return true, fmt.Errorf("checkpoint round %d: %w", next.Round, err)
		}
	}

	runner.logPrediction()

	if runner.options.Cost.TargetReached(loss) {
		runner.logger.Info(fmt.Sprintf("Target loss reached! Total cost: %.2f, final loss: %.4f", report.Cost, loss))
		runner.stop(StopTargetReached)
		return true, nil
	}
	if runner.converged() {
		runner.logger.Info("Loss has converged!", "round", report.Round)
		runner.stop(StopConverged)
		return true, nil
	}
	if len(runner.Progress().Reports) >= runner.options.Rounds {
		runner.stop(StopRoundsCompleted)
		return true, nil
	}

	return false, nil
}

// Finish publishes FlFinished for the current progress; err is the error that ended the run, if any.
func (runner *Runner) Finish(err error) {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		runner.stop(StopCancelled)
	case err != nil:
		runner.stop(StopFailed)
	}
	progress := runner.Progress()

	exitCode := int32(0)
	exitMessage := string(progress.StopReason)
	if err != nil {
		exitCode = 1
		exitMessage = err.Error()
		var roundErr *model.RoundError
		if errors.As(err, &roundErr) {
			exitMessage = fmt.Sprintf("%s in round %d: %v", model.Kind(err), roundErr.Round, roundErr.Err)
		}
	}

	runner.logger.Info("FL finished", "rounds", len(progress.Reports), "reason", progress.StopReason,
		"cost", progress.CurrentCost)
	runner.eventBus.Publish(events.New(events.FlFinishedEventType, events.FlFinishedEvent{
		Rounds:      len(progress.Reports),
		ExitCode:    exitCode,
		ExitMessage: exitMessage,
	}))
}

// Progress returns a snapshot that is safe to read while the run continues.
func (runner *Runner) Progress() FlProgress {
	runner.mu.Lock()
	defer runner.mu.Unlock()

	progress := runner.progress
	progress.Reports = append([]RoundReport(nil), runner.progress.Reports...)
	return progress
}

// nextWithRetries runs the round until it succeeds, fails permanently, runs out of
// retries or the budget cannot pay for another attempt.
func (runner *Runner) nextWithRetries(ctx context.Context, state model.GlobalModelState,
	spent, roundCost float64) (model.GlobalModelState, int, error) {
	var next model.GlobalModelState
	var lastErr error
	attempts := 0

	operation := func() error {
		if attempts > 0 && !runner.options.Cost.CanAfford(spent+roundCost*float64(attempts), roundCost) {
			runner.logger.Warn("budget cannot pay for another attempt", "round", state.Round+1, "attempts", attempts)
			return backoff.Permanent(lastErr)
		}
		attempts++
		var err error
		next, err = runner.coordinator.Next(state, runner.datasets)
		lastErr = err
		if err != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		runner.logger.Warn("round failed, retrying", "round", state.Round+1, "attempt", attempts,
			"wait", wait, "error", err)
	}

	var policy backoff.BackOff = &backoff.ZeroBackOff{}
	if runner.options.RetryBackoff > 0 {
		exponential := backoff.NewExponentialBackOff()
		exponential.InitialInterval = runner.options.RetryBackoff
		exponential.MaxElapsedTime = 0
		policy = exponential
	}
	policy = backoff.WithContext(backoff.WithMaxRetries(policy, uint64(runner.options.MaxRetries)), ctx)

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return model.GlobalModelState{}, attempts, err
	}
	return next, attempts, nil
}

// isRetryable is false for failures that would repeat identically on every attempt.
func isRetryable(err error) bool {
	return !errors.Is(err, model.ErrConfiguration) && !errors.Is(err, model.ErrShapeMismatch)
}

func (runner *Runner) commit(state model.GlobalModelState, report *RoundReport, currentCost float64) {
	runner.mu.Lock()
	defer runner.mu.Unlock()

	runner.progress.State = state
	runner.progress.CurrentCost = currentCost
	if report != nil {
		runner.progress.Reports = append(runner.progress.Reports, *report)
		runner.losses = append(runner.losses, report.Loss)
	}
}

func (runner *Runner) stop(reason StopReason) {
	runner.mu.Lock()
	defer runner.mu.Unlock()

	if !runner.progress.Done {
		runner.progress.Done = true
		runner.progress.StopReason = reason
	}
}

func (runner *Runner) clientExamples() []int {
	examples := make([]int, len(runner.datasets))
	for i, ds := range runner.datasets {
		examples[i] = ds.NumExamples()
	}
	return examples
}

// record appends report to the results file as round,loss,<metrics>,cost.
// Metric columns are fixed by the first report.
func (runner *Runner) record(report RoundReport) error {
	if runner.options.ResultsFile == "" {
		return nil
	}

	if runner.columns == nil {
		runner.columns = make([]string, 0, len(report.Metrics))
		for name := range report.Metrics {
			runner.columns = append(runner.columns, name)
		}
		sort.Strings(runner.columns)
	}

	header := append(append([]string{"round", "loss"}, runner.columns...), "cost")
	record := []string{strconv.Itoa(report.Round), formatFloat(report.Loss)}
	for _, name := range runner.columns {
		value, ok := report.Metrics[name]
		if !ok {
			record = append(record, "")
			continue
		}
		record = append(record, formatFloat(value))
	}
	record = append(record, formatFloat(report.Cost))

	return common.AppendCsvRecord(runner.options.ResultsFile, header, record)
}

func (runner *Runner) converged() bool {
	convergence := runner.options.Convergence
	if !convergence.Enabled {
		return false
	}
	return common.HasConverged(runner.losses, convergence.Threshold, convergence.Patience, convergence.Window)
}

func (runner *Runner) logPrediction() {
	if len(runner.losses) < 2 {
		return
	}

	offset := runner.progress.State.Round - len(runner.losses)
	pp, err := performance.NewPerformancePrediction(runner.losses, performance.LogarithmicRegression_PredictionType, offset)
	if err != nil {
		runner.logger.Debug("loss curve cannot be fitted yet", "error", err)
		return
	}
	runner.logger.Debug(fmt.Sprintf("Predicted loss function: %s", pp.PrintPrediction()))

	if runner.options.Cost.CostType == cost.CostMinimization_CostType {
		if round, ok := pp.PredictRoundForLoss(runner.options.Cost.TargetLoss); ok {
			runner.logger.Info(fmt.Sprintf("Target loss %.4f predicted in round %d", runner.options.Cost.TargetLoss, round))
		} else {
			runner.logger.Info(fmt.Sprintf("Target loss %.4f is not predicted to be reached", runner.options.Cost.TargetLoss))
		}
		return
	}

	lastRound := offset + runner.options.Rounds
	runner.logger.Info(fmt.Sprintf("Predicted loss after round %d: %.4f", lastRound, pp.PredictLoss(lastRound)))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
