package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/danpilch/sigprof/pkg/benchmark"
	"github.com/danpilch/sigprof/pkg/workload"
)

func newBenchCmd(logger *logrus.Logger) *cobra.Command {
	opts := benchmark.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark the sample capture path",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Logger = logger
			results, overhead := benchmark.Run(opts)
			benchmark.RenderResults(cmd.OutOrStdout(), results, overhead)
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.Iterations, "iterations", opts.Iterations, "Timed iterations per stage")
	cmd.Flags().IntVar(&opts.Warmup, "warmup", opts.Warmup, "Untimed warmup iterations per stage")
	cmd.Flags().IntVar(&opts.Depth, "depth", opts.Depth, "Managed call depth of the sampled thread")
	return cmd
}

func newWorkloadsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workloads",
		Short: "List the demo workloads",
		Run: func(cmd *cobra.Command, args []string) {
			workload.RenderCatalog(cmd.OutOrStdout())
		},
	}
}
