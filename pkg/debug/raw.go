package debug

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/danpilch/sigprof/pkg/host"
	"github.com/danpilch/sigprof/pkg/profile"
)

// DumpSamples writes the first limit samples of p with every managed frame
// resolved. A limit of zero dumps all samples.
func DumpSamples(w io.Writer, p *profile.Profile, resolver host.FrameResolver, limit int) {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	header := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	fmt.Fprintln(w)
	fmt.Fprintln(w, title.Render("Raw Sample Dump"))
	fmt.Fprintln(w, dim.Render(strings.Repeat("═", 85)))

	n := len(p.Samples)
	if limit > 0 && limit < n {
		n = limit
	}
	for i := 0; i < n; i++ {
		s := &p.Samples[i]
		fmt.Fprintf(w, "  %s %s %s\n",
			header.Render(fmt.Sprintf("#%-5d", i)),
			header.Render(fmt.Sprintf("%-20s", host.DescribeThread(resolver, s.Thread))),
			header.Render(fmt.Sprintf("+%-12v", s.Timestamp.Sub(p.StartTimestamp))))

		frames, lines := s.Managed()
		for j := range frames {
			name, file := host.DescribeFrame(resolver, frames[j])
			fmt.Fprintf(w, "    %-40s %s\n", name, dim.Render(fmt.Sprintf("%s:%d", file, lines[j])))
		}
		fmt.Fprintln(w, "    "+dim.Render(fmt.Sprintf("%d native frames", s.NativeDepth())))
	}
	if n < len(p.Samples) {
		fmt.Fprintln(w, dim.Render(fmt.Sprintf("  ... %d more", len(p.Samples)-n)))
	}
}
