package debug

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/danpilch/sigprof/pkg/profile"
)

var (
	debugTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	debugHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	debugDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Serializer matches scheduler.Serializer.
type Serializer interface {
	Serialize(p *profile.Profile) ([]byte, error)
}

// SerializerTiming records one Serialize call.
type SerializerTiming struct {
	Name     string
	Duration time.Duration
	Bytes    int
}

// TimedSerializer wraps a Serializer to record how long encoding took.
type TimedSerializer struct {
	name   string
	inner  Serializer
	Timing SerializerTiming
}

// NewTimedSerializer wraps s with timing instrumentation.
func NewTimedSerializer(name string, s Serializer) *TimedSerializer {
	return &TimedSerializer{
		name:  name,
		inner: s,
	}
}

// Serialize runs the wrapped serializer and records duration and size.
func (t *TimedSerializer) Serialize(p *profile.Profile) ([]byte, error) {
	start := time.Now()
	out, err := t.inner.Serialize(p)
	t.Timing = SerializerTiming{
		Name:     t.name,
		Duration: time.Since(start),
		Bytes:    len(out),
	}
	return out, err
}

// TimingReport prints a styled timing summary.
func TimingReport(w io.Writer, timings []SerializerTiming) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, debugTitle.Render("Serializer Timing Report"))
	fmt.Fprintln(w, debugDim.Render(strings.Repeat("═", 50)))
	fmt.Fprintf(w, "  %s  %s  %s\n",
		debugHeader.Render("SERIALIZER         "),
		debugHeader.Render("DURATION    "),
		debugHeader.Render("BYTES     "))
	fmt.Fprintln(w, "  "+debugDim.Render(strings.Repeat("─", 50)))

	var total time.Duration
	for _, t := range timings {
		fmt.Fprintf(w, "  %-20s %-13v %d\n", t.Name, t.Duration, t.Bytes)
		total += t.Duration
	}
	fmt.Fprintln(w, "  "+debugDim.Render(strings.Repeat("─", 50)))
	fmt.Fprintf(w, "  %-20s %v\n",
		lipgloss.NewStyle().Bold(true).Render("TOTAL"), total)
}
