package server

import (
	"context"
	"errors"
	"sync"

	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/simulation"
	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
)

// flRun is one simulation owned by the control plane.
type flRun struct {
	id        string
	sim       *simulation.Simulation
	ctx       context.Context
	cancel    context.CancelFunc
	scheduler *cron.Cron
	logger    hclog.Logger

	mu     sync.Mutex
	state  string
	err    error
	once   sync.Once
	doneCh chan struct{}
}

func newFlRun(id string, sim *simulation.Simulation, logger hclog.Logger) *flRun {
	ctx, cancel := context.WithCancel(context.Background())
	return &flRun{
		id:     id,
		sim:    sim,
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("run", id),
		state:  common.RUN_STATE_RUNNING,
		doneCh: make(chan struct{}),
	}
}

// startBackToBack runs every round as soon as the previous one finished.
func (run *flRun) startBackToBack() {
	go func() {
		_, _, err := run.sim.Runner.Run(run.ctx, run.sim.Initial)
		run.settle(err)
	}()
}

// startScheduled triggers one round per schedule tick. A tick that arrives
// while a round is still running is skipped.
func (run *flRun) startScheduled(schedule string) error {
	cronLogger := cron.PrintfLogger(run.logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}))
	run.scheduler = cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger)), cron.WithLogger(cronLogger))

	run.sim.Runner.Reset(run.sim.Initial)
	_, err := run.scheduler.AddFunc(schedule, func() {
		if err := run.ctx.Err(); err != nil {
			run.finish(err)
			return
		}
		done, err := run.sim.Runner.Step(run.ctx)
		if done || err != nil {
			run.finish(err)
		}
	})
	if err != nil {
		return err
	}

	run.logger.Info("Rounds scheduled", "schedule", schedule)
	run.scheduler.Start()
	return nil
}

// stop cancels the run. A round in progress completes first.
func (run *flRun) stop() {
	run.cancel()
	if run.scheduler != nil {
		stopped := run.scheduler.Stop()
		go func() {
			<-stopped.Done()
			run.finish(context.Canceled)
		}()
	}
}

// finish ends a scheduled run; Runner.Run publishes the outcome itself for back-to-back runs.
func (run *flRun) finish(err error) {
	run.once.Do(func() {
		if run.scheduler != nil {
			run.scheduler.Stop()
		}
		run.sim.Runner.Finish(err)
		run.complete(err)
	})
}

func (run *flRun) settle(err error) {
	run.once.Do(func() {
		run.complete(err)
	})
}

func (run *flRun) complete(err error) {
	run.mu.Lock()
	switch {
	case err == nil:
		run.state = common.RUN_STATE_FINISHED
	case errors.Is(err, context.Canceled):
		run.state = common.RUN_STATE_STOPPED
	default:
		run.state = common.RUN_STATE_FAILED
		run.err = err
	}
	run.mu.Unlock()

	run.cancel()
	close(run.doneCh)
	run.logger.Info("Run ended", "state", run.state)
}

func (run *flRun) status() RunStatus {
	progress := run.sim.Runner.Progress()

	run.mu.Lock()
	defer run.mu.Unlock()

	status := RunStatus{
		RunId:       run.id,
		State:       run.state,
		Round:       progress.State.Round,
		CurrentCost: progress.CurrentCost,
		StopReason:  string(progress.StopReason),
		Reports:     progress.Reports,
	}
	if len(progress.Reports) > 0 {
		loss := progress.Reports[len(progress.Reports)-1].Loss
		status.Loss = &loss
	}
	if run.err != nil {
		status.Error = run.err.Error()
	}
	return status
}

func (run *flRun) done() <-chan struct{} {
	return run.doneCh
}
