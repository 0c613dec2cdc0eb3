package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/florch"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/model"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/simulation"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// simulateFlags maps config keys to the flags that override them.
var simulateFlags = map[string]string{
	"rounds":                 "rounds",
	"epochs":                 "epochs",
	"clients_num":            "clients",
	"batch_size":             "batch-size",
	"learning_rate":          "lr",
	"weighting":              "weighting",
	"parallelism":            "parallelism",
	"seed":                   "seed",
	"max_retries":            "max-retries",
	"dataset.samples":        "samples",
	"dataset.features":       "features",
	"output.results_file":    "results",
	"output.checkpoint_file": "checkpoint",
}

func newSimulateCmd(rootOpts *rootOptions) *cobra.Command {
	var resume, initFrom string

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a FedAvg simulation on a synthetic regression task",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, closer, err := newLogger(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closer.Close()

			config, err := loadConfig(rootOpts, cmd.Flags(), simulateFlags)
			if err != nil {
				return err
			}

			eventBus := events.NewEventBus()
			failures := make(chan events.Event, 16)
			eventBus.Subscribe(events.RoundFailedEventType, failures)
			printed := make(chan struct{})
			go printRoundFailures(failures, printed)
			defer func() {
				eventBus.Unsubscribe(events.RoundFailedEventType, failures)
				close(failures)
				<-printed
			}()

			sim, err := simulation.New(config, simulation.Options{InitFrom: initFrom, ResumeFrom: resume}, eventBus, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reports, state, runErr := sim.Runner.Run(ctx, sim.Initial)
			if err := renderReports(cmd.OutOrStdout(), reports); err != nil {
				return err
			}

			progress := sim.Runner.Progress()
			var roundErr *model.RoundError
			switch {
			case errors.As(runErr, &roundErr):
				pterm.Error.Printfln("Round %d failed (%s) at client %q: %v", roundErr.Round, model.Kind(runErr),
					roundErr.ClientID, roundErr.Err)
			case errors.Is(runErr, context.Canceled):
				pterm.Warning.Printfln("Interrupted after round %d", state.Round)
			case runErr != nil:
				pterm.Error.Printfln("Simulation failed: %v", runErr)
			default:
				pterm.Success.Printfln("Finished at round %d (%s), total cost %.2f", state.Round, progress.StopReason,
					progress.CurrentCost)
			}

			return runErr
		},
	}

	flags := simulateCmd.Flags()
	flags.Int("rounds", 10, "number of federated rounds")
	flags.Int("epochs", 5, "local epochs per round")
	flags.Int("clients", 6, "number of simulated clients")
	flags.Int("batch-size", 32, "local mini-batch size")
	flags.Float64("lr", 0.02, "client learning rate")
	flags.String("weighting", "uniform", "aggregation weighting (uniform or examples)")
	flags.Int("parallelism", 1, "client training goroutines (1 sequential, 0 one per client)")
	flags.Int64("seed", 1, "seed for data generation, partitioning and initialization")
	flags.Int("max-retries", 0, "retries of a failed round")
	flags.Int("samples", 6000, "synthetic examples to generate")
	flags.Int("features", 8, "features per synthetic example")
	flags.String("results", "", `append per-round results to this CSV file ("auto" for a timestamped file)`)
	flags.String("checkpoint", "", "save the global model to this file after every round")
	flags.StringVar(&resume, "resume", "", "continue from the round stored in this checkpoint")
	flags.StringVar(&initFrom, "init-from", "", "start round 0 from the weights in this checkpoint")

	return simulateCmd
}

func renderReports(w io.Writer, reports []florch.RoundReport) error {
	if len(reports) == 0 {
		return nil
	}

	metricNames := []string{}
	for name := range reports[0].Metrics {
		if name != "mse" {
			metricNames = append(metricNames, name)
		}
	}
	sort.Strings(metricNames)

	header := append(append([]string{"Round", "Loss"}, metricNames...), "Cost", "Attempts", "Duration")
	data := pterm.TableData{header}
	for _, report := range reports {
		row := []string{strconv.Itoa(report.Round), fmt.Sprintf("%.6f", report.Loss)}
		for _, name := range metricNames {
			row = append(row, fmt.Sprintf("%.4f", report.Metrics[name]))
		}
		row = append(row, fmt.Sprintf("%.0f", report.Cost), strconv.Itoa(report.Attempts), report.Duration.String())
		data = append(data, row)
	}

	return pterm.DefaultTable.WithHasHeader().WithBoxed().WithWriter(w).WithData(data).Render()
}

func printRoundFailures(failures <-chan events.Event, done chan<- struct{}) {
	defer close(done)
	for event := range failures {
		failed, ok := event.Data.(events.RoundFailedEvent)
		if !ok {
			continue
		}
		pterm.Warning.Printfln("Round %d failed during %s (%s): %v", failed.Round, failed.Phase, failed.Kind, failed.Err)
	}
}
