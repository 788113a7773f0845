package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpilch/sigprof/pkg/host"
)

type fakeLister []host.Handle

func (f fakeLister) Threads() []host.Handle { return f }

func TestNew(t *testing.T) {
	lister := fakeLister{1, 2, 3}

	tests := []struct {
		name         string
		args         Args
		wantInterval time.Duration
		wantThreads  []host.Handle
		wantMode     TimeMode
		wantTrack    bool
		wantWarning  bool
	}{
		{
			name:         "defaults",
			args:         Args{},
			wantInterval: 49 * time.Millisecond,
			wantThreads:  []host.Handle{1, 2, 3},
			wantMode:     CPUTime,
		},
		{
			name:         "all keys",
			args:         Args{KeyIntervalMS: 10, KeyThreads: []host.Handle{7}, KeyTimeMode: "wall", KeyTrackNewThreads: true},
			wantInterval: 10 * time.Millisecond,
			wantThreads:  []host.Handle{7},
			wantMode:     WallTime,
			wantTrack:    true,
		},
		{
			name:         "zero interval falls back",
			args:         Args{KeyIntervalMS: 0},
			wantInterval: DefaultInterval,
			wantThreads:  []host.Handle{1, 2, 3},
			wantWarning:  true,
		},
		{
			name:         "negative interval falls back",
			args:         Args{KeyIntervalMS: -5},
			wantInterval: DefaultInterval,
			wantThreads:  []host.Handle{1, 2, 3},
			wantWarning:  true,
		},
		{
			name:         "non-numeric interval falls back",
			args:         Args{KeyIntervalMS: "fast"},
			wantInterval: DefaultInterval,
			wantThreads:  []host.Handle{1, 2, 3},
			wantWarning:  true,
		},
		{
			name:         "numeric string interval",
			args:         Args{KeyIntervalMS: "25"},
			wantInterval: 25 * time.Millisecond,
			wantThreads:  []host.Handle{1, 2, 3},
		},
		{
			name:         "integral float interval",
			args:         Args{KeyIntervalMS: 5.0},
			wantInterval: 5 * time.Millisecond,
			wantThreads:  []host.Handle{1, 2, 3},
		},
		{
			name:         "duplicate threads collapse",
			args:         Args{KeyThreads: []any{4, 4, int64(5)}},
			wantInterval: DefaultInterval,
			wantThreads:  []host.Handle{4, 5},
		},
		{
			name:         "track_new_threads truthiness",
			args:         Args{KeyTrackNewThreads: "yes"},
			wantInterval: DefaultInterval,
			wantThreads:  []host.Handle{1, 2, 3},
			wantTrack:    true,
		},
		{
			name:         "track_new_threads nil is false",
			args:         Args{KeyTrackNewThreads: nil},
			wantInterval: DefaultInterval,
			wantThreads:  []host.Handle{1, 2, 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, hook := test.NewNullLogger()
			cfg, err := New(tt.args, lister, logger)
			require.NoError(t, err)

			assert.Equal(t, tt.wantInterval, cfg.Interval())
			assert.Equal(t, tt.wantThreads, cfg.TargetThreads())
			assert.Equal(t, tt.wantMode, cfg.TimeMode())
			assert.Equal(t, tt.wantTrack, cfg.TrackNewThreads())

			if tt.wantWarning {
				require.NotNil(t, hook.LastEntry())
				assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
				assert.Contains(t, hook.LastEntry().Message, "Using default value (49ms)")
			} else {
				assert.Empty(t, hook.AllEntries())
			}
		})
	}
}

func TestNewRejects(t *testing.T) {
	tests := []struct {
		name    string
		args    Args
		wantKey string
	}{
		{"invalid time mode", Args{KeyTimeMode: "invalid"}, KeyTimeMode},
		{"unknown key", Args{"frequency": 99}, "frequency"},
		{"threads not a list", Args{KeyThreads: "main"}, KeyThreads},
		{"thread not a handle", Args{KeyThreads: []any{"main"}}, KeyThreads},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.args, fakeLister{1}, nil)
			require.Error(t, err)

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.wantKey, cfgErr.Key)
		})
	}
}

func TestInvalidTimeModeMessage(t *testing.T) {
	_, err := New(Args{KeyTimeMode: "invalid"}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Valid values are 'cpu' and 'wall'.")
}

func TestTargetThreadsIsACopy(t *testing.T) {
	cfg, err := New(Args{KeyThreads: []host.Handle{1, 2}}, nil, nil)
	require.NoError(t, err)

	threads := cfg.TargetThreads()
	threads[0] = 99
	assert.Equal(t, []host.Handle{1, 2}, cfg.TargetThreads())
}

func TestArgsRoundTrip(t *testing.T) {
	cfg, err := New(Args{KeyIntervalMS: 10, KeyThreads: []host.Handle{3}, KeyTimeMode: "wall"}, nil, nil)
	require.NoError(t, err)

	again, err := New(cfg.Args(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interval_ms: 10\ntime_mode: wall\nthreads: [3, 5]\ntrack_new_threads: true\n"), 0o644))

	args, err := LoadFile(path)
	require.NoError(t, err)

	cfg, err := New(args, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, cfg.Interval())
	assert.Equal(t, WallTime, cfg.TimeMode())
	assert.Equal(t, []host.Handle{3, 5}, cfg.TargetThreads())
	assert.True(t, cfg.TrackNewThreads())
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
