package output

import (
	"sort"
	"time"

	"github.com/danpilch/sigprof/pkg/host"
	"github.com/danpilch/sigprof/pkg/profile"
	"github.com/danpilch/sigprof/pkg/recorder"
)

// Summary condenses a completed profile for display.
type Summary struct {
	SessionID string          `json:"session_id"`
	TimeMode  string          `json:"time_mode"`
	Interval  time.Duration   `json:"interval_ns"`
	Duration  time.Duration   `json:"duration_ns"`
	Samples   int             `json:"samples"`
	Threads   []ThreadSummary `json:"threads"`
	TopFrames []FrameCount    `json:"top_frames"`
	Stats     recorder.Stats  `json:"stats"`
	Score     int             `json:"capture_score"`
}

// ThreadSummary is the per-thread share of samples.
type ThreadSummary struct {
	ID       uint64    `json:"id"`
	Name     string    `json:"name"`
	Samples  int       `json:"samples"`
	Percent  float64   `json:"percent"`
	Timeline []float64 `json:"timeline"`
}

// FrameCount counts how often a frame was the leaf (Self) or anywhere on the
// stack (Total).
type FrameCount struct {
	Name  string `json:"name"`
	File  string `json:"file,omitempty"`
	Self  int    `json:"self"`
	Total int    `json:"total"`
}

// SummaryOptions controls Summarize.
type SummaryOptions struct {
	Resolver host.FrameResolver
	Top      int
	Buckets  int
}

// Summarize builds a Summary of p. st is attached as reported.
func Summarize(p *profile.Profile, st recorder.Stats, opts SummaryOptions) Summary {
	if opts.Top <= 0 {
		opts.Top = 10
	}
	sum := Summary{
		SessionID: p.SessionID,
		TimeMode:  p.TimeMode.String(),
		Interval:  p.Interval,
		Duration:  p.Duration,
		Samples:   len(p.Samples),
		Threads:   []ThreadSummary{},
		TopFrames: []FrameCount{},
		Stats:     st,
		Score:     CaptureScore(st),
	}

	for _, t := range p.Threads() {
		n := p.SamplesFor(t)
		ts := ThreadSummary{
			ID:       uint64(t),
			Name:     host.DescribeThread(opts.Resolver, t),
			Samples:  n,
			Timeline: Timeline(p, t, opts.Buckets),
		}
		if sum.Samples > 0 {
			ts.Percent = float64(n) / float64(sum.Samples) * 100
		}
		sum.Threads = append(sum.Threads, ts)
	}
	sort.SliceStable(sum.Threads, func(i, j int) bool {
		return sum.Threads[i].Samples > sum.Threads[j].Samples
	})

	counts := make(map[host.Handle]*FrameCount)
	var order []host.Handle
	seen := make(map[host.Handle]struct{})
	for i := range p.Samples {
		frames, _ := p.Samples[i].Managed()
		clear(seen)
		for j, f := range frames {
			fc, ok := counts[f]
			if !ok {
				name, file := host.DescribeFrame(opts.Resolver, f)
				fc = &FrameCount{Name: name, File: file}
				counts[f] = fc
				order = append(order, f)
			}
			if j == 0 {
				fc.Self++
			}
			// Recursive frames count once per sample.
			if _, dup := seen[f]; !dup {
				seen[f] = struct{}{}
				fc.Total++
			}
		}
	}
	for _, f := range order {
		sum.TopFrames = append(sum.TopFrames, *counts[f])
	}
	sort.SliceStable(sum.TopFrames, func(i, j int) bool {
		a, b := sum.TopFrames[i], sum.TopFrames[j]
		if a.Self != b.Self {
			return a.Self > b.Self
		}
		return a.Total > b.Total
	})
	if len(sum.TopFrames) > opts.Top {
		sum.TopFrames = sum.TopFrames[:opts.Top]
	}
	return sum
}
