// Package benchmark measures the cost of the sample capture path.
package benchmark

import (
	"fmt"
	"io"
	"math"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/danpilch/sigprof/pkg/backtrace"
	"github.com/danpilch/sigprof/pkg/host"
	"github.com/danpilch/sigprof/pkg/recorder"
	"github.com/danpilch/sigprof/pkg/sample"
	"github.com/danpilch/sigprof/pkg/vm"
)

// Options configures a benchmark run.
type Options struct {
	Iterations int
	Warmup     int
	// Depth is the managed call depth of the sampled thread.
	Depth  int
	Logger *logrus.Logger
}

// DefaultOptions returns sensible benchmark defaults.
func DefaultOptions() Options {
	return Options{
		Iterations: 1000,
		Warmup:     50,
		Depth:      64,
	}
}

// Result holds the latency distribution of one capture stage.
type Result struct {
	Stage     string
	Latencies []time.Duration
	P50       time.Duration
	P95       time.Duration
	P99       time.Duration
	StdDev    time.Duration
}

// Overhead holds allocation counters accumulated during the run.
type Overhead struct {
	AllocBytes uint64
	AllocCount uint64
	GCPauses   uint32
}

var (
	bmTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	bmHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	bmDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type stage struct {
	name string
	fn   func()
}

// Run parks a managed thread at opts.Depth and times each capture stage
// against it.
func Run(opts Options) ([]Result, Overhead) {
	if opts.Iterations <= 0 {
		opts.Iterations = DefaultOptions().Iterations
	}
	if opts.Depth <= 0 {
		opts.Depth = DefaultOptions().Depth
	}

	machine := vm.New(opts.Logger)
	method := machine.DefineMethod("bench_recurse", "benchmark.rb")
	parked := make(chan struct{})
	release := make(chan struct{})

	var recurse func(t *vm.Thread, n int)
	recurse = func(t *vm.Thread, n int) {
		if n == 0 {
			close(parked)
			<-release
			return
		}
		t.Call(method, int32(n), func() { recurse(t, n-1) })
	}
	th := machine.Spawn("bench", func(t *vm.Thread) { recurse(t, opts.Depth) })
	<-parked
	defer func() {
		close(release)
		th.Join()
	}()

	bt := backtrace.NewState(nil, opts.Logger)
	rec := recorder.New(machine, recorder.Options{
		Capacity: opts.Iterations + opts.Warmup + 1,
		Logger:   opts.Logger,
	})
	var dst sample.Sample
	frames := make([]host.Handle, sample.MaxManagedDepth)
	lines := make([]int32, sample.MaxManagedDepth)
	pcs := make([]uintptr, backtrace.MaxDepth)

	stages := []stage{
		{"introspect", func() { machine.ThreadFrames(th.Handle(), 0, sample.MaxManagedDepth, frames, lines) }},
		{"native_walk", func() { bt.Fill(pcs) }},
		{"capture", func() { sample.CaptureInto(&dst, th.Handle(), bt, machine) }},
		{"record_flush", func() {
			_ = rec.TryRecord(th.Handle())
			_, _ = rec.TryFlush()
		}},
	}

	var before runtime.MemStats
	runtime.ReadMemStats(&before)

	results := make([]Result, 0, len(stages))
	for _, st := range stages {
		results = append(results, measure(st, opts))
	}

	var after runtime.MemStats
	runtime.ReadMemStats(&after)
	return results, Overhead{
		AllocBytes: after.TotalAlloc - before.TotalAlloc,
		AllocCount: after.Mallocs - before.Mallocs,
		GCPauses:   after.NumGC - before.NumGC,
	}
}

func measure(st stage, opts Options) Result {
	for i := 0; i < opts.Warmup; i++ {
		st.fn()
	}

	latencies := make([]time.Duration, opts.Iterations)
	for i := range latencies {
		start := time.Now()
		st.fn()
		latencies[i] = time.Since(start)
	}

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})
	return Result{
		Stage:     st.name,
		Latencies: latencies,
		P50:       percentile(latencies, 0.50),
		P95:       percentile(latencies, 0.95),
		P99:       percentile(latencies, 0.99),
		StdDev:    time.Duration(stddev(latencies)),
	}
}

// RenderResults outputs styled benchmark results.
func RenderResults(w io.Writer, results []Result, overhead Overhead) {
	fmt.Fprintln(w, bmTitle.Render("Capture Benchmark Results"))
	fmt.Fprintln(w, bmDim.Render(strings.Repeat("═", 70)))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s %s %s %s\n",
		bmHeader.Render("STAGE              "),
		bmHeader.Render("P50        "),
		bmHeader.Render("P95        "),
		bmHeader.Render("P99        "),
		bmHeader.Render("STDDEV     "))
	fmt.Fprintln(w, "  "+bmDim.Render(strings.Repeat("─", 70)))

	for _, r := range results {
		fmt.Fprintf(w, "  %-20s %-12v %-12v %-12v %v\n",
			r.Stage, r.P50, r.P95, r.P99, r.StdDev)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, bmTitle.Render("Allocation Overhead"))
	fmt.Fprintln(w, bmDim.Render(strings.Repeat("─", 40)))
	fmt.Fprintf(w, "  Memory allocated: %s\n", lipgloss.NewStyle().Bold(true).Render(formatBytes(overhead.AllocBytes)))
	fmt.Fprintf(w, "  Allocations:      %s\n", lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("%d", overhead.AllocCount)))
	fmt.Fprintf(w, "  GC pauses:        %s\n", lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("%d", overhead.GCPauses)))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func stddev(values []time.Duration) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum, sumSq float64
	for _, d := range values {
		v := float64(d)
		sum += v
		sumSq += v * v
	}
	n := float64(len(values))
	mean := sum / n
	variance := (sumSq / n) - (mean * mean)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
