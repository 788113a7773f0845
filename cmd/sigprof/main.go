// Package main provides the sigprof binary, which runs demo workloads on the
// embedded VM under the sampling profiler.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Set by -ldflags at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "sigprof",
		Short:         "sigprof - signal-driven sampling profiler for managed threads",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (trace, debug, info, warn, error)")

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
		logger.SetLevel(level)
		return nil
	}

	rootCmd.AddCommand(newRecordCmd(logger))
	rootCmd.AddCommand(newSweepCmd(logger))
	rootCmd.AddCommand(newBenchCmd(logger))
	rootCmd.AddCommand(newWorkloadsCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("sigprof version %s\n", Version)
			cmd.Printf("Git commit: %s\n", GitCommit)
			cmd.Printf("Go version: %s\n", runtime.Version())
		},
	}
}
