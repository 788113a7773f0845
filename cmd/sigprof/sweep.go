package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/danpilch/sigprof/pkg/config"
	"github.com/danpilch/sigprof/pkg/host"
	"github.com/danpilch/sigprof/pkg/profile"
	"github.com/danpilch/sigprof/pkg/scheduler"
	"github.com/danpilch/sigprof/pkg/serializer"
	"github.com/danpilch/sigprof/pkg/vm"
	"github.com/danpilch/sigprof/pkg/workload"
)

type sweepOptions struct {
	workloads  []string
	duration   time.Duration
	intervalMS int
	timeMode   string
	format     string
	dir        string
}

func newSweepCmd(logger *logrus.Logger) *cobra.Command {
	o := &sweepOptions{}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Profile each workload on its own, one session per workload",
		Long: `Run the workloads one after another on a shared VM. Each run gets a fresh
session that samples only that workload's thread, and its profile is written
to DIR/sigprof-<workload>.<ext> as soon as the run ends.

Examples:
  # Separate wall-clock profiles of every workload
  sigprof sweep --time-mode wall --dir profiles

  # Folded stacks for two workloads
  sigprof sweep -w tak,fib --format folded
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, o, logger)
		},
	}
	cmd.Flags().StringSliceVarP(&o.workloads, "workload", "w", workload.Names(), "Workloads to profile, one session each")
	cmd.Flags().DurationVarP(&o.duration, "duration", "d", 500*time.Millisecond, "How long each workload is profiled")
	cmd.Flags().IntVar(&o.intervalMS, "interval-ms", int(config.DefaultInterval/time.Millisecond), "Sampling interval in milliseconds")
	cmd.Flags().StringVar(&o.timeMode, "time-mode", config.CPUTime.String(), "Time basis of the interval (cpu, wall)")
	cmd.Flags().StringVarP(&o.format, "format", "f", "pprof", "Profile format (pprof, folded, svg, json)")
	cmd.Flags().StringVar(&o.dir, "dir", ".", "Directory the profiles are written to")
	return cmd
}

func runSweep(cmd *cobra.Command, o *sweepOptions, logger *logrus.Logger) error {
	machine := vm.New(logger)
	ser, err := serializer.ForFormat(o.format, machine)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	for _, name := range o.workloads {
		if err := sweepOne(cmd, o, logger, machine, ser, name); err != nil {
			return fmt.Errorf("workload %s: %w", name, err)
		}
	}
	return nil
}

func sweepOne(cmd *cobra.Command, o *sweepOptions, logger *logrus.Logger, machine *vm.VM, ser serializer.Serializer, name string) error {
	ctx, stop := context.WithCancel(cmd.Context())
	th, err := workload.Spawn(ctx, machine, name)
	if err != nil {
		stop()
		return err
	}
	defer func() {
		stop()
		th.Join()
		machine.GC()
	}()

	path := filepath.Join(o.dir, fmt.Sprintf("sigprof-%s.%s", name, extension(o.format)))
	w := &scheduler.Wrapper{
		Host:    machine,
		Options: scheduler.Options{Logger: logger, Serializer: ser},
		Args: config.Args{
			config.KeyIntervalMS: o.intervalMS,
			config.KeyTimeMode:   o.timeMode,
			config.KeyThreads:    []host.Handle{th.Handle()},
		},
		Callback: func(data []byte, p *profile.Profile) error {
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("failed to write profile: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d samples, wrote %d bytes to %s\n",
				name, len(p.Samples), len(data), path)
			return nil
		},
	}
	return w.Run(func() error {
		select {
		case <-ctx.Done():
		case <-time.After(o.duration):
		}
		return nil
	})
}
