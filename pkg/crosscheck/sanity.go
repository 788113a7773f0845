package crosscheck

import (
	"fmt"

	"github.com/danpilch/sigprof/pkg/host"
	"github.com/danpilch/sigprof/pkg/profile"
	"github.com/danpilch/sigprof/pkg/sample"
)

// SanityResult holds the outcome of one invariant check.
type SanityResult struct {
	Check   string `json:"check"`
	Passed  bool   `json:"passed"`
	Details string `json:"details"`
}

func result(check string, failures int, total int, firstFailure string) SanityResult {
	if failures == 0 {
		return SanityResult{Check: check, Passed: true, Details: fmt.Sprintf("%d samples ok", total)}
	}
	return SanityResult{
		Check:   check,
		Passed:  false,
		Details: fmt.Sprintf("%d of %d samples violate it, first: %s", failures, total, firstFailure),
	}
}

// RunSanityChecks validates the structural invariants of every sample in p.
// When targets is non-nil, every sampled thread must be one of them.
func RunSanityChecks(p *profile.Profile, targets []host.Handle) []SanityResult {
	type check struct {
		name     string
		fn       func(i int, s *sample.Sample) string
		failures int
		first    string
	}

	lastSeen := make(map[host.Handle]int)
	target := make(map[host.Handle]bool, len(targets))
	for _, t := range targets {
		target[t] = true
	}

	checks := []*check{
		{name: "native depth <= 1000", fn: func(i int, s *sample.Sample) string {
			if s.NativePCs[0] > sample.MaxNativeDepth {
				return fmt.Sprintf("#%d has %d", i, s.NativePCs[0])
			}
			return ""
		}},
		{name: "line count <= 500", fn: func(i int, s *sample.Sample) string {
			if s.LineCount < 0 || s.LineCount > sample.MaxManagedDepth {
				return fmt.Sprintf("#%d has %d", i, s.LineCount)
			}
			return ""
		}},
		{name: "frames past line count are nil", fn: func(i int, s *sample.Sample) string {
			for j := int(s.LineCount); j < sample.MaxManagedDepth; j++ {
				if s.Frames[j] != host.Nil {
					return fmt.Sprintf("#%d slot %d", i, j)
				}
			}
			return ""
		}},
		{name: "per-thread timestamps non-decreasing", fn: func(i int, s *sample.Sample) string {
			prev, ok := lastSeen[s.Thread]
			lastSeen[s.Thread] = i
			if ok && s.Timestamp.Before(p.Samples[prev].Timestamp) {
				return fmt.Sprintf("#%d before #%d", i, prev)
			}
			return ""
		}},
		{name: "timestamps within session", fn: func(i int, s *sample.Sample) string {
			if s.Timestamp.Before(p.StartTimestamp) {
				return fmt.Sprintf("#%d before start", i)
			}
			return ""
		}},
	}
	if targets != nil {
		checks = append(checks, &check{name: "sampled threads are targets", fn: func(i int, s *sample.Sample) string {
			if !target[s.Thread] {
				return fmt.Sprintf("#%d thread %d", i, s.Thread)
			}
			return ""
		}})
	}

	for i := range p.Samples {
		s := &p.Samples[i]
		for _, c := range checks {
			if msg := c.fn(i, s); msg != "" {
				if c.failures == 0 {
					c.first = msg
				}
				c.failures++
			}
		}
	}

	results := make([]SanityResult, 0, len(checks))
	for _, c := range checks {
		results = append(results, result(c.name, c.failures, len(p.Samples), c.first))
	}
	return results
}
