package flamegraph

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/danpilch/sigprof/pkg/profile"
)

// ErrNoSamples is returned when there is nothing to draw.
var ErrNoSamples = errors.New("flamegraph: no samples")

const (
	frameHeight  = 16
	fontSize     = 12
	headerHeight = 40
	margin       = 10
)

// SVGOptions configures the flame graph SVG output.
type SVGOptions struct {
	Title       string
	Width       int
	Height      int
	ColorScheme string // "hot", "cold", "mem"
}

// DefaultSVGOptions returns sensible defaults.
func DefaultSVGOptions() SVGOptions {
	return SVGOptions{
		Title:       "Flame Graph",
		Width:       1200,
		ColorScheme: "hot",
	}
}

type node struct {
	name     string
	value    int
	children map[string]*node
}

func newNode(name string) *node {
	return &node{name: name, children: make(map[string]*node)}
}

func buildTree(stacks map[string]int) *node {
	root := newNode("all")
	for stack, count := range stacks {
		n := root
		for _, name := range strings.Split(stack, ";") {
			child, ok := n.children[name]
			if !ok {
				child = newNode(name)
				n.children[name] = child
			}
			child.value += count
			n = child
		}
		root.value += count
	}
	return root
}

func (n *node) depth() int {
	max := 0
	for _, c := range n.children {
		if d := c.depth() + 1; d > max {
			max = d
		}
	}
	return max
}

// GenerateSVG renders folded stacks read from collapsed.
func GenerateSVG(collapsed io.Reader, w io.Writer, opts SVGOptions) error {
	stacks, err := ParseFolded(collapsed)
	if err != nil {
		return err
	}
	return RenderSVG(stacks, w, opts)
}

// RenderSVG draws stacks as an SVG flame graph.
func RenderSVG(stacks map[string]int, w io.Writer, opts SVGOptions) error {
	if opts.Width == 0 {
		opts.Width = 1200
	}
	root := buildTree(stacks)
	if root.value == 0 {
		return ErrNoSamples
	}
	if opts.Height == 0 {
		opts.Height = (root.depth()+2)*frameHeight + headerHeight + 20
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, `<?xml version="1.0" standalone="no"?>
<!DOCTYPE svg PUBLIC "-//W3C//DTD SVG 1.1//EN" "http://www.w3.org/Graphics/SVG/1.1/DTD/svg1.1.dtd">
<svg version="1.1" width="%d" height="%d" xmlns="http://www.w3.org/2000/svg">
<style>
  .func:hover { stroke:black; stroke-width:0.5; cursor:pointer; }
  text { font-family: monospace; font-size: %dpx; }
</style>
<rect x="0" y="0" width="%d" height="%d" fill="white"/>
<text x="%d" y="20" text-anchor="middle" style="font-size:16px; font-weight:bold;">%s</text>
<text x="%d" y="35" text-anchor="middle" style="font-size:12px; fill:#666;">(%d samples)</text>
`,
		opts.Width, opts.Height, fontSize,
		opts.Width, opts.Height,
		opts.Width/2, html.EscapeString(opts.Title),
		opts.Width/2, root.value)

	r := &renderer{w: bw, total: root.value, baseY: opts.Height - 20, scheme: opts.ColorScheme}
	r.frame(root, margin, opts.Width-2*margin, 0)

	fmt.Fprintln(bw, "</svg>")
	return bw.Flush()
}

type renderer struct {
	w      io.Writer
	total  int
	baseY  int
	scheme string
}

func (r *renderer) frame(n *node, x, width, depth int) {
	if width < 1 || n.value == 0 {
		return
	}
	y := r.baseY - depth*frameHeight
	red, green, blue := frameColor(n.name, depth, r.scheme)

	fmt.Fprintf(r.w, `<g class="func">
<rect x="%d" y="%d" width="%d" height="%d" fill="rgb(%d,%d,%d)" rx="1"/>
`, x, y-frameHeight, width, frameHeight-1, red, green, blue)

	if label := fitLabel(n.name, width); label != "" {
		fmt.Fprintf(r.w, `<text x="%d" y="%d" fill="black">%s</text>
`, x+2, y-4, html.EscapeString(label))
	}
	fmt.Fprintf(r.w, `<title>%s (%d samples, %.1f%%)</title>
</g>
`, html.EscapeString(n.name), n.value, float64(n.value)/float64(r.total)*100)

	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	childX := x
	for _, name := range names {
		child := n.children[name]
		childWidth := int(float64(width) * float64(child.value) / float64(n.value))
		if childWidth < 1 {
			childWidth = 1
		}
		r.frame(child, childX, childWidth, depth+1)
		childX += childWidth
	}
}

func fitLabel(name string, width int) string {
	if width <= 40 {
		return ""
	}
	maxChars := (width - 4) / 7
	if len(name) <= maxChars {
		return name
	}
	if maxChars > 3 {
		return name[:maxChars-2] + ".."
	}
	return ""
}

// frameColor varies the hue by function name so the same function keeps its
// color across depths.
func frameColor(name string, depth int, scheme string) (int, int, int) {
	v := int(xxh3.HashString(name)%64) + depth*7
	switch scheme {
	case "cold":
		return 30, 50 + (v*3)%150, 150 + (v*2)%100
	case "mem":
		return 30, 190 + v%60, 30
	default: // "hot"
		return 200 + v%55, 50 + (v*5)%150, 30
	}
}

// SVG serializes a profile as an SVG flame graph.
type SVG struct {
	Options    Options
	SVGOptions SVGOptions
}

// Serialize implements scheduler.Serializer.
func (s *SVG) Serialize(p *profile.Profile) ([]byte, error) {
	opts := s.SVGOptions
	if opts.Title == "" {
		opts.Title = fmt.Sprintf("%s profile (%v interval)", p.TimeMode, p.Interval)
	}
	var buf bytes.Buffer
	if err := RenderSVG(Collapse(p, s.Options), &buf, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
