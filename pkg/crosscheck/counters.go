package crosscheck

import (
	"fmt"

	"github.com/danpilch/sigprof/pkg/config"
	"github.com/danpilch/sigprof/pkg/host"
	"github.com/danpilch/sigprof/pkg/profile"
	"github.com/danpilch/sigprof/pkg/recorder"
)

// Wall timers drift and threads start late, so the per-thread rate only
// flags large gaps.
var wallRate = Tolerance{Suspect: 25, Conflict: 50}

// CrossCheckCounters compares the sample count of p with the recorder's own
// counters. After a completed session all of them agree. In wall mode each
// thread's observed sampling rate is also compared with the configured one.
func CrossCheckCounters(p *profile.Profile, st recorder.Stats) []Agreement {
	results := []Agreement{
		exact.Compare("Samples", []Counter{
			{Name: "profile", Count: float64(len(p.Samples))},
			{Name: "flushed", Count: float64(st.Flushed)},
			{Name: "recorded", Count: float64(st.Recorded - uint64(st.Buffered))},
		}),
	}

	if p.TimeMode != config.WallTime || p.Interval <= 0 || p.Duration <= 0 {
		return results
	}
	counters := []Counter{{Name: "configured", Count: float64(p.Duration) / float64(p.Interval)}}
	for _, t := range p.Threads() {
		counters = append(counters, Counter{
			Name:  fmt.Sprintf("thread-%d", uint64(t)),
			Count: float64(p.SamplesFor(t)),
		})
	}
	return append(results, wallRate.Compare("Wall samples per thread", counters))
}

// Run performs every check on a completed session.
func Run(p *profile.Profile, st recorder.Stats, targets []host.Handle) ([]Agreement, []SanityResult) {
	return CrossCheckCounters(p, st), RunSanityChecks(p, targets)
}
