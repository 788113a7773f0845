package output

import (
	"strings"

	"github.com/danpilch/sigprof/pkg/host"
	"github.com/danpilch/sigprof/pkg/profile"
)

// sparkline block characters from lowest to highest
var sparkBlocks = []rune{
	'\u2581', // ▁
	'\u2582', // ▂
	'\u2583', // ▃
	'\u2584', // ▄
	'\u2585', // ▅
	'\u2586', // ▆
	'\u2587', // ▇
	'\u2588', // █
}

// Timeline splits the profile duration into buckets and counts the samples
// of thread that fall in each.
func Timeline(p *profile.Profile, thread host.Handle, buckets int) []float64 {
	if buckets < 1 {
		buckets = 20
	}
	out := make([]float64, buckets)
	span := p.Duration
	if span <= 0 {
		return out
	}
	for i := range p.Samples {
		s := &p.Samples[i]
		if s.Thread != thread {
			continue
		}
		idx := int(int64(s.Timestamp.Sub(p.StartTimestamp)) * int64(buckets) / int64(span))
		if idx < 0 {
			idx = 0
		}
		if idx >= buckets {
			idx = buckets - 1
		}
		out[idx]++
	}
	return out
}

// Sparkline renders values as a row of block characters scaled between their
// minimum and maximum.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}

	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	var b strings.Builder
	rng := max - min
	for _, v := range values {
		idx := 0
		if rng > 0 {
			idx = int((v - min) / rng * float64(len(sparkBlocks)-1))
		}
		if idx >= len(sparkBlocks) {
			idx = len(sparkBlocks) - 1
		}
		if idx < 0 {
			idx = 0
		}
		b.WriteRune(sparkBlocks[idx])
	}
	return b.String()
}
