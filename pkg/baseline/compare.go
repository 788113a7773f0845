package baseline

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/danpilch/sigprof/pkg/output"
)

// Severity indicates the magnitude of a drift.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityMajor    Severity = "major"
	SeverityRegress  Severity = "regression"
)

// Comparison holds the drift of one frame's self share. Deltas are in
// percentage points.
type Comparison struct {
	Frame       string
	BaselinePct float64
	CurrentPct  float64
	Delta       float64
	Severity    Severity
}

var (
	blTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	blHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	blDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	blOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	blWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	blErr    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	blMinor  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
)

// Compare matches frames by name. Frames present on only one side compare
// against zero.
func Compare(base *Baseline, current output.Summary) []Comparison {
	cur := make(map[string]FrameShare)
	for _, fs := range shares(current) {
		cur[fs.Name] = fs
	}

	var comparisons []Comparison
	seen := make(map[string]bool)
	for _, b := range base.Frames {
		seen[b.Name] = true
		c := cur[b.Name]
		comparisons = append(comparisons, newComparison(b.Name, b.SelfPct, c.SelfPct))
	}
	for _, fs := range shares(current) {
		if !seen[fs.Name] {
			comparisons = append(comparisons, newComparison(fs.Name, 0, fs.SelfPct))
		}
	}
	return comparisons
}

func newComparison(name string, base, cur float64) Comparison {
	delta := cur - base
	return Comparison{
		Frame:       name,
		BaselinePct: base,
		CurrentPct:  cur,
		Delta:       delta,
		Severity:    classifySeverity(delta),
	}
}

func classifySeverity(delta float64) Severity {
	absDelta := math.Abs(delta)
	if absDelta < 2 {
		return SeverityNone
	}
	if absDelta < 5 {
		return SeverityMinor
	}
	if absDelta < 10 {
		return SeverityModerate
	}
	if delta > 0 {
		return SeverityRegress
	}
	return SeverityMajor
}

// RenderComparison outputs a styled comparison table.
func RenderComparison(w io.Writer, base *Baseline, comparisons []Comparison) {
	fmt.Fprintln(w, blTitle.Render("Baseline Comparison"))
	fmt.Fprintln(w, blDim.Render(strings.Repeat("═", 80)))
	fmt.Fprintf(w, "Comparing against %s (from %s, %d samples)\n\n",
		lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("%q", base.Name)),
		blDim.Render(base.Timestamp.Format("2006-01-02 15:04:05")),
		base.Samples)

	fmt.Fprintf(w, "  %s %s %s %s %s\n",
		blHeader.Render("FRAME                   "),
		blHeader.Render("BASELINE  "),
		blHeader.Render("CURRENT   "),
		blHeader.Render("DELTA    "),
		blHeader.Render("SEVERITY  "))
	fmt.Fprintln(w, "  "+blDim.Render(strings.Repeat("─", 80)))

	regressions := 0
	for _, c := range comparisons {
		var sevStr string
		switch c.Severity {
		case SeverityRegress:
			sevStr = blErr.Render("REGRESSION")
			regressions++
		case SeverityMajor:
			sevStr = blErr.Render("MAJOR")
			regressions++
		case SeverityModerate:
			sevStr = blWarn.Render("moderate")
		case SeverityMinor:
			sevStr = blMinor.Render("minor")
		default:
			sevStr = blOK.Render("none")
		}

		fmt.Fprintf(w, "  %-26s %-10.1f %-10.1f %-9s %s\n",
			c.Frame, c.BaselinePct, c.CurrentPct, fmt.Sprintf("%+.1f", c.Delta), sevStr)
	}

	fmt.Fprintln(w)
	if regressions > 0 {
		fmt.Fprintf(w, "  %s\n", blErr.Render(fmt.Sprintf("%d frames shifted significantly.", regressions)))
	} else {
		fmt.Fprintf(w, "  %s\n", blOK.Render("No significant shifts detected."))
	}
}
