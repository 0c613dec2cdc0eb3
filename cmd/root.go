// Package cmd holds the fedavg command line.
package cmd

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
	logLevel   string
	logFile    string
}

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "fedavg",
		Short:         "Federated Averaging simulator",
		Long:          "fedavg simulates Federated Averaging: a server broadcasts a global model, simulated clients train it locally with SGD and the server averages their weights each round.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (toml, yaml or json)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "INFO", "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "also append logs to this file")

	rootCmd.AddCommand(
		newVersionCmd(),
		newSimulateCmd(opts),
		newServeCmd(opts),
	)

	return rootCmd
}
