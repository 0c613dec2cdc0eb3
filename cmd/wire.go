package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/AIoTwin-Adaptive-FL-Orch/fedavg-sim/internal/florch/flconfig"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newLogger builds the root logger; with a log file it writes to stderr and the file.
func newLogger(opts *rootOptions, stderr io.Writer) (hclog.Logger, io.Closer, error) {
	output := stderr
	var closer io.Closer = nopCloser{}

	if opts.logFile != "" {
		if err := os.MkdirAll(filepath.Dir(opts.logFile), 0o755); err != nil {
			return nil, nil, err
		}
		logFile, err := os.OpenFile(opts.logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		output = io.MultiWriter(stderr, logFile)
		closer = logFile
	}

	level := hclog.LevelFromString(opts.logLevel)
	if level == hclog.NoLevel {
		return nil, nil, fmt.Errorf("unknown log level %q", opts.logLevel)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "fedavg",
		Level:  level,
		Output: output,
	})
	return logger, closer, nil
}

// loadConfig layers defaults, the config file, FEDAVG_* env vars and the flags bound in bindings.
func loadConfig(opts *rootOptions, flags *pflag.FlagSet, bindings map[string]string) (*flconfig.FlConfiguration, error) {
	v := viper.New()
	for key, flag := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return nil, err
		}
	}
	return flconfig.Load(v, opts.configFile)
}
