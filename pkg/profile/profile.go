// Package profile holds the accumulated result of a profiling session.
package profile

import (
	"time"

	"github.com/google/uuid"

	"github.com/danpilch/sigprof/pkg/config"
	"github.com/danpilch/sigprof/pkg/host"
	"github.com/danpilch/sigprof/pkg/sample"
)

// Profile is the ordered accumulation of samples for one session. Samples
// are in flush order.
type Profile struct {
	SessionID      string
	StartTimestamp time.Time
	Duration       time.Duration
	Interval       time.Duration
	TimeMode       config.TimeMode
	Samples        []sample.Sample
}

// New starts an empty profile at now.
func New(now time.Time, interval time.Duration, mode config.TimeMode) *Profile {
	return &Profile{
		SessionID:      uuid.New().String(),
		StartTimestamp: now,
		Interval:       interval,
		TimeMode:       mode,
	}
}

// Threads returns the distinct threads in first-seen order.
func (p *Profile) Threads() []host.Handle {
	seen := make(map[host.Handle]struct{})
	var out []host.Handle
	for i := range p.Samples {
		t := p.Samples[i].Thread
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// SamplesFor returns the number of samples taken of thread.
func (p *Profile) SamplesFor(thread host.Handle) int {
	n := 0
	for i := range p.Samples {
		if p.Samples[i].Thread == thread {
			n++
		}
	}
	return n
}
