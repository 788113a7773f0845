// Package output renders summaries of completed profiles.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Format represents the output format type.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatTSV   Format = "tsv"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatTable, FormatJSON, FormatTSV:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unknown summary format %q", s)
	}
}

// Formatter handles output formatting.
type Formatter struct {
	format       Format
	writer       io.Writer
	showTimeline bool
}

// NewFormatter creates a new formatter.
func NewFormatter(format Format, writer io.Writer) *Formatter {
	return &Formatter{
		format: format,
		writer: writer,
	}
}

// SetShowTimeline adds a per-thread sample density column to the table.
func (f *Formatter) SetShowTimeline(show bool) {
	f.showTimeline = show
}

// Render outputs the summary in the configured format.
func (f *Formatter) Render(sum Summary) error {
	switch f.format {
	case FormatJSON:
		return f.renderJSON(sum)
	case FormatTSV:
		return f.renderTSV(sum)
	default:
		return f.renderTable(sum)
	}
}

func (f *Formatter) renderJSON(sum Summary) error {
	enc := json.NewEncoder(f.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)
	cellStyle  = lipgloss.NewStyle().Padding(0, 1)
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			MarginBottom(1)
	dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	scoreStyles = map[string]lipgloss.Style{
		"Healthy":  lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true), // Green
		"Degraded": lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true), // Yellow
		"Lossy":    lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),  // Red
	}
)

func newTable(headers []string, rows [][]string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
}

func (f *Formatter) renderTable(sum Summary) error {
	fmt.Fprintln(f.writer, titleStyle.Render("Profile Summary"))
	fmt.Fprintln(f.writer, strings.Repeat("═", 60))
	fmt.Fprintf(f.writer, "Session:  %s\n", sum.SessionID)
	fmt.Fprintf(f.writer, "Mode:     %s, interval %v, duration %v\n", sum.TimeMode, sum.Interval, sum.Duration)
	fmt.Fprintf(f.writer, "Samples:  %d\n", sum.Samples)
	fmt.Fprintln(f.writer)

	headers := []string{"THREAD", "NAME", "SAMPLES", "SHARE"}
	if f.showTimeline {
		headers = append(headers, "TIMELINE")
	}
	rows := make([][]string, len(sum.Threads))
	for i, t := range sum.Threads {
		row := []string{
			fmt.Sprintf("%d", t.ID),
			t.Name,
			fmt.Sprintf("%d", t.Samples),
			fmt.Sprintf("%.1f%%", t.Percent),
		}
		if f.showTimeline {
			row = append(row, Sparkline(t.Timeline))
		}
		rows[i] = row
	}
	fmt.Fprintln(f.writer, newTable(headers, rows))
	fmt.Fprintln(f.writer)

	if len(sum.TopFrames) > 0 {
		fmt.Fprintln(f.writer, titleStyle.Render("Top Frames"))
		frameRows := make([][]string, len(sum.TopFrames))
		for i, fc := range sum.TopFrames {
			frameRows[i] = []string{
				fc.Name,
				fmt.Sprintf("%d", fc.Self),
				fmt.Sprintf("%d", fc.Total),
				dimStyle.Render(fc.File),
			}
		}
		fmt.Fprintln(f.writer, newTable([]string{"FRAME", "SELF", "TOTAL", "FILE"}, frameRows))
		fmt.Fprintln(f.writer)
	}

	f.renderStats(sum)
	return nil
}

func (f *Formatter) renderStats(sum Summary) {
	st := sum.Stats
	var parts []string
	if st.DroppedContended > 0 {
		parts = append(parts, fmt.Sprintf("%d contended", st.DroppedContended))
	}
	if st.DroppedFull > 0 {
		parts = append(parts, fmt.Sprintf("%d buffer full", st.DroppedFull))
	}
	if st.DroppedCollecting > 0 {
		parts = append(parts, fmt.Sprintf("%d during GC", st.DroppedCollecting))
	}

	label := ScoreLabel(sum.Score)
	style := scoreStyles[label]
	if len(parts) == 0 {
		fmt.Fprintln(f.writer, style.Render("No samples dropped"))
	} else {
		fmt.Fprintf(f.writer, "Dropped: %s\n", strings.Join(parts, ", "))
	}
	fmt.Fprintf(f.writer, "Capture Score: %s\n", style.Render(fmt.Sprintf("%d/100 (%s)", sum.Score, label)))
}

func (f *Formatter) renderTSV(sum Summary) error {
	fmt.Fprintln(f.writer, "KIND\tID\tNAME\tSAMPLES\tSELF\tTOTAL\tFILE")
	for _, t := range sum.Threads {
		fmt.Fprintf(f.writer, "thread\t%d\t%s\t%d\t\t\t\n", t.ID, t.Name, t.Samples)
	}
	for _, fc := range sum.TopFrames {
		fmt.Fprintf(f.writer, "frame\t\t%s\t\t%d\t%d\t%s\n", fc.Name, fc.Self, fc.Total, fc.File)
	}
	return nil
}
