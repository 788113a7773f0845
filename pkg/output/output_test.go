package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpilch/sigprof/pkg/config"
	"github.com/danpilch/sigprof/pkg/host"
	"github.com/danpilch/sigprof/pkg/profile"
	"github.com/danpilch/sigprof/pkg/recorder"
	"github.com/danpilch/sigprof/pkg/sample"
)

type names map[host.Handle]string

func (n names) FrameInfo(frame host.Handle) (string, string, bool) {
	name, ok := n[frame]
	return name, "lib.rb", ok
}

func (n names) ThreadName(thread host.Handle) string { return n[thread] }

var resolver = names{1: "main", 2: "worker", 10: "loop", 11: "step", 12: "fib"}

func summaryProfile() *profile.Profile {
	start := time.Now()
	p := profile.New(start, 10*time.Millisecond, config.WallTime)
	p.Duration = 100 * time.Millisecond

	add := func(thread host.Handle, offset time.Duration, frames ...host.Handle) {
		var s sample.Sample
		s.Thread = thread
		s.Timestamp = start.Add(offset)
		s.LineCount = int32(len(frames))
		copy(s.Frames[:], frames)
		p.Samples = append(p.Samples, s)
	}
	add(1, 5*time.Millisecond, 11, 10)
	add(2, 15*time.Millisecond, 12, 12, 12)
	add(2, 55*time.Millisecond, 12, 12)
	add(2, 95*time.Millisecond, 10)
	return p
}

func TestSummarize(t *testing.T) {
	st := recorder.Stats{Recorded: 4, Flushed: 4}
	sum := Summarize(summaryProfile(), st, SummaryOptions{Resolver: resolver, Buckets: 10})

	assert.Equal(t, "wall", sum.TimeMode)
	assert.Equal(t, 4, sum.Samples)
	assert.Equal(t, 100, sum.Score)

	require.Len(t, sum.Threads, 2)
	assert.Equal(t, "worker", sum.Threads[0].Name)
	assert.Equal(t, 3, sum.Threads[0].Samples)
	assert.InDelta(t, 75.0, sum.Threads[0].Percent, 0.001)
	assert.Equal(t, []float64{0, 1, 0, 0, 0, 1, 0, 0, 0, 1}, sum.Threads[0].Timeline)

	require.Len(t, sum.TopFrames, 3)
	assert.Equal(t, FrameCount{Name: "fib", File: "lib.rb", Self: 2, Total: 2}, sum.TopFrames[0])
	assert.Equal(t, FrameCount{Name: "loop", File: "lib.rb", Self: 1, Total: 2}, sum.TopFrames[1])
	assert.Equal(t, FrameCount{Name: "step", File: "lib.rb", Self: 1, Total: 1}, sum.TopFrames[2])

	top := Summarize(summaryProfile(), st, SummaryOptions{Resolver: resolver, Top: 1})
	assert.Len(t, top.TopFrames, 1)
}

func TestCaptureScore(t *testing.T) {
	tests := []struct {
		name  string
		stats recorder.Stats
		want  int
		label string
	}{
		{"no attempts", recorder.Stats{}, 100, "Healthy"},
		{"clean", recorder.Stats{Recorded: 50}, 100, "Healthy"},
		{"some contention", recorder.Stats{Recorded: 80, DroppedContended: 10, DroppedFull: 10}, 80, "Degraded"},
		{"mostly lost", recorder.Stats{Recorded: 1, DroppedCollecting: 3}, 25, "Lossy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CaptureScore(tt.stats)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.label, ScoreLabel(got))
		})
	}
}

func TestSparkline(t *testing.T) {
	assert.Equal(t, "", Sparkline(nil))
	assert.Equal(t, "▁▁▁", Sparkline([]float64{2, 2, 2}))
	assert.Equal(t, "▁█", Sparkline([]float64{0, 10}))
	assert.Equal(t, 5, len([]rune(Sparkline([]float64{1, 2, 3, 4, 5}))))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatTable, f)

	f, err = ParseFormat("TSV")
	require.NoError(t, err)
	assert.Equal(t, FormatTSV, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestFormatterRender(t *testing.T) {
	sum := Summarize(summaryProfile(), recorder.Stats{Recorded: 4, DroppedFull: 1}, SummaryOptions{Resolver: resolver})

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		f := NewFormatter(FormatTable, &buf)
		f.SetShowTimeline(true)
		require.NoError(t, f.Render(sum))
		out := buf.String()
		assert.Contains(t, out, "Profile Summary")
		assert.Contains(t, out, "worker")
		assert.Contains(t, out, "Top Frames")
		assert.Contains(t, out, "1 buffer full")
		assert.Contains(t, out, "80/100 (Degraded)")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewFormatter(FormatJSON, &buf).Render(sum))
		var decoded Summary
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, sum.SessionID, decoded.SessionID)
		assert.Equal(t, sum.TopFrames, decoded.TopFrames)
	})

	t.Run("tsv", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewFormatter(FormatTSV, &buf).Render(sum))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 1+2+3)
		assert.Equal(t, "thread\t2\tworker\t3\t\t\t", lines[1])
		assert.True(t, strings.HasPrefix(lines[3], "frame\t\tfib\t\t2\t2\t"))
	})
}
