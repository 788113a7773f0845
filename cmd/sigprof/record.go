package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/danpilch/sigprof/pkg/baseline"
	"github.com/danpilch/sigprof/pkg/config"
	"github.com/danpilch/sigprof/pkg/crosscheck"
	"github.com/danpilch/sigprof/pkg/debug"
	"github.com/danpilch/sigprof/pkg/host"
	"github.com/danpilch/sigprof/pkg/output"
	"github.com/danpilch/sigprof/pkg/scheduler"
	"github.com/danpilch/sigprof/pkg/serializer"
	"github.com/danpilch/sigprof/pkg/vm"
	"github.com/danpilch/sigprof/pkg/workload"
)

type recordOptions struct {
	workloads       []string
	duration        time.Duration
	intervalMS      int
	timeMode        string
	trackNewThreads bool
	configFile      string

	format  string
	out     string
	summary string
	top     int
	dump    int
	timing  bool
	verify  bool

	gcEvery       time.Duration
	flushInterval time.Duration
	bufferSize    int
	pprofAddr     string

	saveBaseline string
	baseline     string
	baselineDir  string
}

func addSessionFlags(fs *pflag.FlagSet, o *recordOptions) {
	fs.StringSliceVarP(&o.workloads, "workload", "w", []string{"tak"}, "Workloads to run, one thread each")
	fs.DurationVarP(&o.duration, "duration", "d", 2*time.Second, "How long to profile")
	fs.IntVar(&o.intervalMS, "interval-ms", int(config.DefaultInterval/time.Millisecond), "Sampling interval in milliseconds")
	fs.StringVar(&o.timeMode, "time-mode", config.CPUTime.String(), "Time basis of the interval (cpu, wall)")
	fs.BoolVar(&o.trackNewThreads, "track-new-threads", false, "Also sample threads started after profiling begins")
	fs.StringVarP(&o.configFile, "config", "c", "", "YAML file with session arguments")
	fs.DurationVar(&o.flushInterval, "flush-interval", scheduler.DefaultFlushInterval, "Staging buffer flush period")
	fs.IntVar(&o.bufferSize, "buffer-size", 0, "Staging buffer capacity in samples (0 = default)")
}

func addOutputFlags(fs *pflag.FlagSet, o *recordOptions) {
	fs.StringVarP(&o.format, "format", "f", "pprof", "Profile format (pprof, folded, svg, json)")
	fs.StringVarP(&o.out, "output", "o", "", "Profile output file (default sigprof.<ext>, - for stdout)")
	fs.StringVar(&o.summary, "summary", "table", "Summary format printed to stderr (table, json, tsv, none)")
	fs.IntVar(&o.top, "top", 10, "Frames listed in the summary")
	fs.IntVar(&o.dump, "dump", 0, "Dump the first N raw samples")
	fs.BoolVar(&o.timing, "timing", false, "Report serializer timing")
	fs.BoolVar(&o.verify, "verify", false, "Check sample invariants and counters after stopping")
	fs.DurationVar(&o.gcEvery, "gc-every", 0, "Run a VM garbage collection at this period while profiling")
	fs.StringVar(&o.pprofAddr, "pprof-addr", "", "Serve the profiler's own pprof endpoints at this address")
	fs.StringVar(&o.saveBaseline, "save-baseline", "", "Save the frame shares of this run under NAME")
	fs.StringVar(&o.baseline, "baseline", "", "Compare frame shares against the saved baseline NAME")
	fs.StringVar(&o.baselineDir, "baseline-dir", "", "Baseline directory (default ~/.sigprof/baselines)")
}

func newRecordCmd(logger *logrus.Logger) *cobra.Command {
	o := &recordOptions{}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Profile demo workloads running on the embedded VM",
		Long: `Run one or more workloads on managed VM threads and sample them with
per-thread interval timers.

Examples:
  # CPU-time profile of the Takeuchi workload, written as pprof
  sigprof record --workload tak --duration 2s

  # Wall-clock flame graph of a sleeping and a busy thread
  sigprof record -w sleeper,mandelbrot --time-mode wall --format svg -o wall.svg

  # Sample threads spawned after start while the collector runs
  sigprof record -w spawner --track-new-threads --gc-every 100ms
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd, o, logger)
		},
	}
	addSessionFlags(cmd.Flags(), o)
	addOutputFlags(cmd.Flags(), o)
	return cmd
}

func runRecord(cmd *cobra.Command, o *recordOptions, logger *logrus.Logger) error {
	machine := vm.New(logger)
	ser, err := serializer.ForFormat(o.format, machine)
	if err != nil {
		return err
	}
	timed := debug.NewTimedSerializer(o.format, ser)

	var summaryFormat output.Format
	if o.summary != "none" {
		if summaryFormat, err = output.ParseFormat(o.summary); err != nil {
			return err
		}
	}

	if o.pprofAddr != "" {
		stop, err := debug.StartPprofServer(o.pprofAddr, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	workCtx, stopWork := context.WithCancel(context.Background())

	threads := make([]*vm.Thread, 0, len(o.workloads))
	defer func() {
		stopWork()
		for _, t := range threads {
			t.Join()
		}
	}()
	for _, name := range o.workloads {
		t, err := workload.Spawn(workCtx, machine, name)
		if err != nil {
			return err
		}
		threads = append(threads, t)
	}

	args, err := sessionArgs(cmd.Flags(), o, threads)
	if err != nil {
		return err
	}

	sched := scheduler.New(machine, scheduler.Options{
		Logger:         logger,
		Serializer:     timed,
		FlushInterval:  o.flushInterval,
		BufferCapacity: o.bufferSize,
	})
	session := machine.Wrap("sigprof.session", sched)
	defer func() {
		machine.Release(session)
		machine.GC()
	}()

	if err := sched.Initialize(args); err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}

	gcDone := make(chan struct{})
	gcCtx, stopGC := context.WithCancel(ctx)
	go runCollector(gcCtx, machine, o.gcEvery, gcDone)

	select {
	case <-ctx.Done():
		logger.Info("Interrupted, stopping early")
	case <-time.After(o.duration):
	}
	stopGC()
	<-gcDone

	data, err := sched.Stop()
	if errors.Is(err, scheduler.ErrRecorderBusy) {
		return fmt.Errorf("profile not written, a sample was being recorded at stop: %w", err)
	}
	if err != nil {
		return err
	}

	if err := writeProfile(cmd, o, data); err != nil {
		return err
	}

	p := sched.Profile()
	stderr := cmd.ErrOrStderr()
	if o.dump > 0 {
		debug.DumpSamples(stderr, p, machine, o.dump)
	}
	sum := output.Summarize(p, sched.Stats(), output.SummaryOptions{Resolver: machine, Top: o.top})
	if o.summary != "none" {
		f := output.NewFormatter(summaryFormat, stderr)
		f.SetShowTimeline(true)
		if err := f.Render(sum); err != nil {
			return err
		}
	}
	if o.baseline != "" {
		base, err := baseline.Load(o.baseline, o.baselineDir)
		if err != nil {
			return err
		}
		baseline.RenderComparison(stderr, base, baseline.Compare(base, sum))
	}
	if o.saveBaseline != "" {
		b := baseline.New(o.saveBaseline, sum)
		b.Metadata = map[string]string{"workloads": strings.Join(o.workloads, ",")}
		if err := b.Save(o.baselineDir); err != nil {
			return err
		}
	}
	if o.timing {
		debug.TimingReport(stderr, []debug.SerializerTiming{timed.Timing})
	}
	if o.verify {
		return verify(stderr, sched, o.summary == "json")
	}
	return nil
}

func verify(w io.Writer, sched *scheduler.Scheduler, asJSON bool) error {
	cfg := sched.Configuration()
	var targets []host.Handle
	if !cfg.TrackNewThreads() {
		targets = cfg.TargetThreads()
	}
	agreements, sanity := crosscheck.Run(sched.Profile(), sched.Stats(), targets)
	if asJSON {
		if err := crosscheck.ReportJSON(w, agreements, sanity); err != nil {
			return err
		}
	} else {
		crosscheck.Report(w, agreements, sanity)
	}
	for _, s := range sanity {
		if !s.Passed {
			return fmt.Errorf("profile verification failed: %s", s.Check)
		}
	}
	return nil
}

// sessionArgs merges the config file with explicitly set flags. Flags win.
// Without a thread list the spawned workload threads are targeted.
func sessionArgs(fs *pflag.FlagSet, o *recordOptions, threads []*vm.Thread) (config.Args, error) {
	args := config.Args{}
	if o.configFile != "" {
		loaded, err := config.LoadFile(o.configFile)
		if err != nil {
			return nil, err
		}
		args = loaded
	}

	if fs.Changed("interval-ms") || args[config.KeyIntervalMS] == nil {
		args[config.KeyIntervalMS] = o.intervalMS
	}
	if fs.Changed("time-mode") || args[config.KeyTimeMode] == nil {
		args[config.KeyTimeMode] = o.timeMode
	}
	if fs.Changed("track-new-threads") || args[config.KeyTrackNewThreads] == nil {
		args[config.KeyTrackNewThreads] = o.trackNewThreads
	}
	if _, ok := args[config.KeyThreads]; !ok {
		handles := make([]host.Handle, len(threads))
		for i, t := range threads {
			handles[i] = t.Handle()
		}
		args[config.KeyThreads] = handles
	}
	return args, nil
}

func runCollector(ctx context.Context, machine *vm.VM, every time.Duration, done chan struct{}) {
	defer close(done)
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			machine.GC()
		}
	}
}

func writeProfile(cmd *cobra.Command, o *recordOptions, data []byte) error {
	path := o.out
	if path == "" {
		path = "sigprof." + extension(o.format)
	}
	var w io.Writer
	if path == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
		defer fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d bytes to %s\n", len(data), path)
	}
	_, err := w.Write(data)
	return err
}

func extension(format string) string {
	switch format = strings.ToLower(format); format {
	case "pprof", "":
		return "pb.gz"
	case "folded":
		return "folded"
	case "svg":
		return "svg"
	default:
		return format
	}
}
