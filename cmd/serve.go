package cmd

import (
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd(rootOpts *rootOptions) *cobra.Command {
	var (
		port    int
		dataDir string
	)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP control plane for simulation runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, closer, err := newLogger(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closer.Close()

			eventBus := events.NewEventBus()
			handler := server.NewHandler(logger, eventBus, dataDir)
			defer handler.StopAll()

			return server.StartHttpServer(cmd.Context(), logger, server.NewRouter(handler), port)
		},
	}

	serveCmd.Flags().IntVarP(&port, "port", "p", 8080, "listen port")
	serveCmd.Flags().StringVar(&dataDir, "data-dir", "", "directory for results and checkpoint files named in requests; empty rejects file paths")

	return serveCmd
}
