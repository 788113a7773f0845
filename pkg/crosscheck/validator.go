// Package crosscheck validates a completed profile: structural invariants of
// every sample, and agreement between independent sample counters.
package crosscheck

import (
	"math"
	"slices"
)

// Status grades how closely a set of sample counters agree.
type Status string

const (
	StatusValid    Status = "valid"
	StatusSuspect  Status = "suspect"
	StatusConflict Status = "conflict"
)

// Counter is one independent count of the same quantity, such as the
// samples in the profile or the samples the recorder reports as flushed.
type Counter struct {
	Name  string  `json:"name"`
	Count float64 `json:"count"`
}

// Agreement is the outcome of comparing counters that should match.
// Spread is the largest distance of any counter from the median, as a
// percentage of the median.
type Agreement struct {
	Check    string    `json:"check"`
	Counters []Counter `json:"counters"`
	Median   float64   `json:"median"`
	Spread   float64   `json:"spread_pct"`
	Status   Status    `json:"status"`
}

// Tolerance holds the spread percentages at which counters stop agreeing.
type Tolerance struct {
	Suspect  float64
	Conflict float64
}

// exact is used for counters that describe the same samples and must match.
var exact = Tolerance{Suspect: 5, Conflict: 20}

// Compare grades the counters of one check against their median.
func (t Tolerance) Compare(check string, counters []Counter) Agreement {
	a := Agreement{Check: check, Counters: counters, Status: StatusValid}
	if len(counters) == 0 {
		return a
	}
	a.Median = median(counters)
	a.Spread = spread(counters, a.Median)
	switch {
	case a.Spread >= t.Conflict:
		a.Status = StatusConflict
	case a.Spread >= t.Suspect:
		a.Status = StatusSuspect
	}
	return a
}

func median(counters []Counter) float64 {
	counts := make([]float64, len(counters))
	for i, c := range counters {
		counts[i] = c.Count
	}
	slices.Sort(counts)
	mid := len(counts) / 2
	if len(counts)%2 == 0 {
		return (counts[mid-1] + counts[mid]) / 2
	}
	return counts[mid]
}

// spread is 100 when the median is zero and any counter is not.
func spread(counters []Counter, median float64) float64 {
	var worst float64
	for _, c := range counters {
		if median == 0 {
			if c.Count != 0 {
				return 100
			}
			continue
		}
		worst = max(worst, math.Abs(c.Count-median)/median*100)
	}
	return worst
}
