// Package config builds the immutable configuration of a profiling session.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/danpilch/sigprof/pkg/host"
)

// DefaultInterval is used when interval_ms is omitted or invalid.
const DefaultInterval = 49 * time.Millisecond

// Recognized argument keys.
const (
	KeyIntervalMS      = "interval_ms"
	KeyThreads         = "threads"
	KeyTimeMode        = "time_mode"
	KeyTrackNewThreads = "track_new_threads"
)

// TimeMode selects the time basis of the sampling interval.
type TimeMode int

const (
	CPUTime TimeMode = iota
	WallTime
)

// String returns the argument spelling of the mode.
func (m TimeMode) String() string {
	switch m {
	case CPUTime:
		return "cpu"
	case WallTime:
		return "wall"
	default:
		return fmt.Sprintf("TimeMode(%d)", int(m))
	}
}

// ParseTimeMode accepts exactly "cpu" or "wall".
func ParseTimeMode(s string) (TimeMode, error) {
	switch s {
	case "cpu":
		return CPUTime, nil
	case "wall":
		return WallTime, nil
	}
	return 0, &ConfigurationError{
		Key:    KeyTimeMode,
		Value:  s,
		Reason: "Invalid time mode. Valid values are 'cpu' and 'wall'.",
	}
}

// ConfigurationError reports a rejected argument.
type ConfigurationError struct {
	Key    string
	Value  any
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s=%v: %s", e.Key, e.Value, e.Reason)
}

// Args is the generic key/value argument set a session is created from.
type Args map[string]any

// Configuration holds the session parameters. It is never mutated after New.
type Configuration struct {
	interval        time.Duration
	targetThreads   []host.Handle
	timeMode        TimeMode
	trackNewThreads bool
}

// New validates args and builds a Configuration. When threads is omitted the
// live threads reported by lister are used.
func New(args Args, lister host.ThreadLister, logger *logrus.Logger) (*Configuration, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	for key := range args {
		switch key {
		case KeyIntervalMS, KeyThreads, KeyTimeMode, KeyTrackNewThreads:
		default:
			return nil, &ConfigurationError{Key: key, Value: args[key], Reason: "unknown keyword"}
		}
	}

	cfg := &Configuration{
		interval: DefaultInterval,
		timeMode: CPUTime,
	}

	if raw, ok := args[KeyIntervalMS]; ok {
		ms, ok := intervalMillis(raw)
		if !ok {
			logger.WithField(KeyIntervalMS, raw).Warnf(
				"Specified interval (%v) is not valid. Using default value (49ms).", raw)
		} else {
			cfg.interval = time.Duration(ms) * time.Millisecond
		}
	}

	if raw, ok := args[KeyThreads]; ok {
		threads, err := threadList(raw)
		if err != nil {
			return nil, err
		}
		cfg.targetThreads = threads
	} else if lister != nil {
		cfg.targetThreads = lister.Threads()
	}
	cfg.targetThreads = dedupe(cfg.targetThreads)

	if raw, ok := args[KeyTimeMode]; ok {
		mode, err := ParseTimeMode(fmt.Sprint(raw))
		if err != nil {
			return nil, err
		}
		cfg.timeMode = mode
	}

	if raw, ok := args[KeyTrackNewThreads]; ok {
		cfg.trackNewThreads = truthy(raw)
	}

	return cfg, nil
}

// Interval returns the sampling period.
func (c *Configuration) Interval() time.Duration { return c.interval }

// TargetThreads returns a copy of the monitored thread set.
func (c *Configuration) TargetThreads() []host.Handle {
	out := make([]host.Handle, len(c.targetThreads))
	copy(out, c.targetThreads)
	return out
}

// TimeMode returns the time basis of the interval.
func (c *Configuration) TimeMode() TimeMode { return c.timeMode }

// TrackNewThreads reports whether threads created after start are sampled.
func (c *Configuration) TrackNewThreads() bool { return c.trackNewThreads }

// Args reports the effective configuration using the argument keys.
func (c *Configuration) Args() Args {
	return Args{
		KeyIntervalMS:      c.interval.Milliseconds(),
		KeyThreads:         c.TargetThreads(),
		KeyTimeMode:        c.timeMode.String(),
		KeyTrackNewThreads: c.trackNewThreads,
	}
}

// LoadFile reads arguments from a YAML document. Thread handles are given as
// integers.
func LoadFile(path string) (Args, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	args := make(Args, len(raw))
	for k, v := range raw {
		args[k] = v
	}
	return args, nil
}

func intervalMillis(raw any) (int64, bool) {
	var ms int64
	switch v := raw.(type) {
	case int:
		ms = int64(v)
	case int32:
		ms = int64(v)
	case int64:
		ms = v
	case uint:
		if uint64(v) > math.MaxInt64 {
			return 0, false
		}
		ms = int64(v)
	case uint32:
		ms = int64(v)
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		ms = int64(v)
	case float64:
		if v != math.Trunc(v) || v > math.MaxInt64 {
			return 0, false
		}
		ms = int64(v)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		ms = n
	default:
		return 0, false
	}
	if ms <= 0 || ms > int64(math.MaxInt64/time.Millisecond) {
		return 0, false
	}
	return ms, true
}

func threadList(raw any) ([]host.Handle, error) {
	switch v := raw.(type) {
	case []host.Handle:
		out := make([]host.Handle, len(v))
		copy(out, v)
		return out, nil
	case []any:
		out := make([]host.Handle, 0, len(v))
		for _, item := range v {
			h, ok := toHandle(item)
			if !ok {
				return nil, &ConfigurationError{Key: KeyThreads, Value: item, Reason: "not a thread handle"}
			}
			out = append(out, h)
		}
		return out, nil
	}
	return nil, &ConfigurationError{Key: KeyThreads, Value: raw, Reason: "expected a list of threads"}
}

func toHandle(v any) (host.Handle, bool) {
	switch h := v.(type) {
	case host.Handle:
		return h, h != host.Nil
	case int:
		return host.Handle(h), h > 0
	case int64:
		return host.Handle(h), h > 0
	case uint64:
		return host.Handle(h), h > 0
	}
	return host.Nil, false
}

func dedupe(threads []host.Handle) []host.Handle {
	if len(threads) == 0 {
		return threads
	}
	seen := make(map[host.Handle]struct{}, len(threads))
	out := make([]host.Handle, 0, len(threads))
	for _, t := range threads {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func truthy(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	}
	return true
}
