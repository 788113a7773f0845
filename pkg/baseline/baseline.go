// Package baseline saves profile summaries and detects drift in where time
// is spent.
package baseline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/danpilch/sigprof/pkg/output"
)

// FrameShare is the percentage of samples with a frame on the stack.
type FrameShare struct {
	Name    string  `json:"name"`
	SelfPct float64 `json:"self_pct"`
	Percent float64 `json:"percent"`
}

// Baseline is a saved summary of one profile.
type Baseline struct {
	Name      string            `json:"name"`
	Timestamp time.Time         `json:"timestamp"`
	Hostname  string            `json:"hostname"`
	TimeMode  string            `json:"time_mode"`
	Samples   int               `json:"samples"`
	Frames    []FrameShare      `json:"frames"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// DefaultDir returns the default baseline storage directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sigprof/baselines"
	}
	return filepath.Join(home, ".sigprof", "baselines")
}

// Save writes a baseline to a JSON file.
func (b *Baseline) Save(dir string) error {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create baseline directory: %w", err)
	}

	path := filepath.Join(dir, b.Name+".json")
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal baseline: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("cannot write baseline: %w", err)
	}
	return nil
}

// Load reads a baseline from a JSON file.
func Load(name, dir string) (*Baseline, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	path := filepath.Join(dir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read baseline %q: %w", name, err)
	}

	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("cannot parse baseline: %w", err)
	}
	return &b, nil
}

// List returns all saved baseline names.
func List(dir string) ([]string, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name()[:len(e.Name())-5])
		}
	}
	return names, nil
}

// New creates a baseline from a profile summary. Frames with the same name
// are merged.
func New(name string, sum output.Summary) *Baseline {
	hostname, _ := os.Hostname()
	b := &Baseline{
		Name:      name,
		Timestamp: time.Now(),
		Hostname:  hostname,
		TimeMode:  sum.TimeMode,
		Samples:   sum.Samples,
		Frames:    shares(sum),
	}
	return b
}

func shares(sum output.Summary) []FrameShare {
	byName := make(map[string]*FrameShare)
	for _, fc := range sum.TopFrames {
		fs, ok := byName[fc.Name]
		if !ok {
			fs = &FrameShare{Name: fc.Name}
			byName[fc.Name] = fs
		}
		if sum.Samples > 0 {
			fs.SelfPct += float64(fc.Self) / float64(sum.Samples) * 100
			fs.Percent += float64(fc.Total) / float64(sum.Samples) * 100
		}
	}
	out := make([]FrameShare, 0, len(byName))
	for _, fs := range byName {
		out = append(out, *fs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
