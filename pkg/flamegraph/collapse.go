// Package flamegraph renders profiles as folded stacks and SVG flame graphs.
package flamegraph

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/danpilch/sigprof/pkg/host"
	"github.com/danpilch/sigprof/pkg/profile"
)

// Options controls how frames are labelled.
type Options struct {
	Resolver host.FrameResolver
	// ThreadRoots puts the thread name at the bottom of every stack.
	ThreadRoots bool
	// Lines appends ":line" to every managed frame.
	Lines bool
	// Native adds the captured program counters above the managed frames.
	Native bool
}

// Collapse folds the samples of p into "root;...;leaf" keys with counts.
func Collapse(p *profile.Profile, opts Options) map[string]int {
	stacks := make(map[string]int)
	var parts []string

	for i := range p.Samples {
		s := &p.Samples[i]
		parts = parts[:0]
		if opts.ThreadRoots {
			parts = append(parts, sanitize(host.DescribeThread(opts.Resolver, s.Thread)))
		}

		// Samples are leaf first; folded stacks are root first.
		frames, lines := s.Managed()
		for j := len(frames) - 1; j >= 0; j-- {
			name, _ := host.DescribeFrame(opts.Resolver, frames[j])
			if opts.Lines {
				name = name + ":" + strconv.Itoa(int(lines[j]))
			}
			parts = append(parts, sanitize(name))
		}
		if opts.Native {
			pcs := s.Native()
			for j := len(pcs) - 1; j >= 0; j-- {
				parts = append(parts, fmt.Sprintf("[0x%x]", pcs[j]))
			}
		}

		if len(parts) == 0 {
			parts = append(parts, "[idle]")
		}
		stacks[strings.Join(parts, ";")]++
	}
	return stacks
}

// ParseFolded reads "stack count" lines. Lines without a count are ignored.
func ParseFolded(r io.Reader) (map[string]int, error) {
	stacks := make(map[string]int)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		idx := strings.LastIndexByte(line, ' ')
		if idx <= 0 {
			continue
		}
		count, err := strconv.Atoi(line[idx+1:])
		if err != nil {
			continue
		}
		if count <= 0 {
			count = 1
		}
		stacks[line[:idx]] += count
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read folded stacks: %w", err)
	}
	return stacks, nil
}

// WriteFolded writes stacks sorted by key.
func WriteFolded(w io.Writer, stacks map[string]int) error {
	keys := make([]string, 0, len(stacks))
	for k := range stacks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bw := bufio.NewWriter(w)
	for _, k := range keys {
		if _, err := fmt.Fprintf(bw, "%s %d\n", k, stacks[k]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Folded serializes a profile in folded stack format.
type Folded struct {
	Options Options
}

// Serialize implements scheduler.Serializer.
func (f *Folded) Serialize(p *profile.Profile) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteFolded(&buf, Collapse(p, f.Options)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Frame names end up between separators, so ';' is replaced and newlines
// are dropped.
func sanitize(name string) string {
	return strings.NewReplacer(";", ":", "\n", " ", "\r", "").Replace(name)
}
