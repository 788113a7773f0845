package crosscheck

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	validStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	suspectStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	conflictStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	passStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Report outputs counter cross-checks and sanity checks as a styled table.
func Report(w io.Writer, agreements []Agreement, sanity []SanityResult) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Cross-Check Validation Report"))
	fmt.Fprintln(w, dimStyle.Render(strings.Repeat("═", 60)))

	if len(agreements) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render("Counter Cross-Checks"))
		fmt.Fprintf(w, "  %-25s %-12s %-12s %-10s %s\n",
			headerStyle.Render("CHECK"), headerStyle.Render("MEDIAN"),
			headerStyle.Render("SPREAD"), headerStyle.Render("STATUS"),
			headerStyle.Render("COUNTERS"))
		fmt.Fprintln(w, "  "+dimStyle.Render(strings.Repeat("─", 80)))

		for _, a := range agreements {
			counts := make([]string, len(a.Counters))
			for i, c := range a.Counters {
				counts[i] = fmt.Sprintf("%s=%.1f", c.Name, c.Count)
			}
			var statusStr string
			switch a.Status {
			case StatusConflict:
				statusStr = conflictStyle.Render("CONFLICT")
			case StatusSuspect:
				statusStr = suspectStyle.Render("SUSPECT")
			default:
				statusStr = validStyle.Render("VALID")
			}
			fmt.Fprintf(w, "  %-25s %-12.1f %-12.1f%% %-10s %s\n",
				a.Check, a.Median, a.Spread, statusStr,
				dimStyle.Render(strings.Join(counts, ", ")))
		}
	}

	if len(sanity) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render("Sanity Checks"))
		failed := 0
		for _, s := range sanity {
			var icon string
			if s.Passed {
				icon = passStyle.Render("PASS")
			} else {
				icon = failStyle.Render("FAIL")
				failed++
			}
			fmt.Fprintf(w, "  [%s] %-40s %s\n", icon, s.Check, dimStyle.Render(s.Details))
		}
		fmt.Fprintln(w)
		if failed == 0 {
			fmt.Fprintf(w, "  %s\n", passStyle.Render(fmt.Sprintf("All %d sanity checks passed.", len(sanity))))
		} else {
			fmt.Fprintf(w, "  %s\n", failStyle.Render(fmt.Sprintf("%d of %d sanity checks failed.", failed, len(sanity))))
		}
	}
}

// ReportJSON writes the checks as one indented JSON document.
func ReportJSON(w io.Writer, agreements []Agreement, sanity []SanityResult) error {
	output := struct {
		Counters []Agreement    `json:"counters"`
		Sanity   []SanityResult `json:"sanity"`
	}{
		Counters: agreements,
		Sanity:   sanity,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}
