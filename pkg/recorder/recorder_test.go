package recorder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpilch/sigprof/pkg/config"
	"github.com/danpilch/sigprof/pkg/host"
	"github.com/danpilch/sigprof/pkg/ringbuffer"
)

// stacks maps threads to a fixed leaf-first frame list.
type stacks map[host.Handle][]host.Handle

func (s stacks) ThreadFrames(thread host.Handle, start, limit int, frames []host.Handle, lines []int32) int {
	w := 0
	for i := start; i < len(s[thread]) && w < limit && w < len(frames); i++ {
		frames[w] = s[thread][i]
		lines[w] = int32(i + 1)
		w++
	}
	return w
}

func newTestRecorder(in host.Introspector, capacity int) *Recorder {
	return New(in, Options{Capacity: capacity, Interval: 10 * time.Millisecond, TimeMode: config.WallTime})
}

func collect(t *testing.T, r *Recorder) map[host.Handle]bool {
	t.Helper()
	seen := make(map[host.Handle]bool)
	require.NoError(t, r.MarkRetained(func(h host.Handle) { seen[h] = true }))
	return seen
}

func TestRecordFlushFinish(t *testing.T) {
	r := newTestRecorder(stacks{1: {100, 101}}, 4)

	require.NoError(t, r.TryRecord(1))
	require.NoError(t, r.TryRecord(1))
	assert.Equal(t, 2, r.Stats().Buffered)

	n, err := r.TryFlush()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, r.TryRecord(1))
	p, err := r.TryFinish(time.Now())
	require.NoError(t, err)

	require.Len(t, p.Samples, 3)
	assert.Equal(t, config.WallTime, p.TimeMode)
	assert.Equal(t, 10*time.Millisecond, p.Interval)
	assert.NotEmpty(t, p.SessionID)
	assert.Positive(t, p.Duration)
	for _, s := range p.Samples {
		frames, _ := s.Managed()
		assert.Equal(t, []host.Handle{100, 101}, frames)
		assert.False(t, s.Timestamp.Before(p.StartTimestamp))
	}

	st := r.Stats()
	assert.Equal(t, uint64(3), st.Recorded)
	assert.Equal(t, uint64(3), st.Flushed)
	assert.Zero(t, st.Buffered)
}

func TestMarkReportsBufferedFrames(t *testing.T) {
	const frameF host.Handle = 500
	r := newTestRecorder(stacks{1: {frameF}}, 4)

	require.NoError(t, r.TryRecord(1))

	seen := collect(t, r)
	assert.True(t, seen[frameF], "buffered frame must be reported")
	assert.True(t, seen[1], "sampled thread must be reported")
}

func TestFlushAddsToRetainedSet(t *testing.T) {
	r := newTestRecorder(stacks{1: {10, 11}, 2: {20}}, 4)

	require.NoError(t, r.TryRecord(1))
	require.NoError(t, r.TryRecord(2))
	_, err := r.TryFlush()
	require.NoError(t, err)

	seen := collect(t, r)
	for _, h := range []host.Handle{1, 2, 10, 11, 20} {
		assert.True(t, seen[h], "handle %d", h)
	}
	assert.Len(t, seen, 5)
}

func TestFullBufferDropsSample(t *testing.T) {
	r := newTestRecorder(stacks{1: {10}}, 1)

	require.NoError(t, r.TryRecord(1))
	assert.ErrorIs(t, r.TryRecord(1), ringbuffer.ErrFull)
	assert.Equal(t, uint64(1), r.Stats().DroppedFull)
}

func TestContention(t *testing.T) {
	r := newTestRecorder(stacks{1: {10}}, 4)

	t.Run("writer holds lock", func(t *testing.T) {
		r.mu.Lock()
		defer r.mu.Unlock()

		assert.ErrorIs(t, r.TryRecord(1), ErrContended)
		_, err := r.TryFlush()
		assert.ErrorIs(t, err, ErrContended)
		_, err = r.TryFinish(time.Now())
		assert.ErrorIs(t, err, ErrContended)
		assert.ErrorIs(t, r.MarkRetained(func(host.Handle) {}), ErrContended)
	})

	t.Run("marker holds lock", func(t *testing.T) {
		r.mu.RLock()
		defer r.mu.RUnlock()

		assert.ErrorIs(t, r.TryRecord(1), ErrContended)
		assert.NoError(t, r.MarkRetained(func(host.Handle) {}))
	})

	assert.Equal(t, uint64(2), r.Stats().DroppedContended)
	assert.NoError(t, r.TryRecord(1))
}

func TestNoteCollecting(t *testing.T) {
	r := newTestRecorder(nil, 1)
	r.NoteCollecting()
	r.NoteCollecting()
	assert.Equal(t, uint64(2), r.Stats().DroppedCollecting)
}

func TestMemSizeGrowsWithProfile(t *testing.T) {
	r := newTestRecorder(stacks{1: {10}}, 2)
	empty := r.MemSize()

	for i := 0; i < 4; i++ {
		require.NoError(t, r.TryRecord(1))
		_, err := r.TryFlush()
		require.NoError(t, err)
	}
	assert.Greater(t, r.MemSize(), empty)
}

func TestTryRecordDoesNotAllocate(t *testing.T) {
	r := newTestRecorder(stacks{1: {10, 11, 12}}, 256)

	allocs := testing.AllocsPerRun(100, func() {
		_ = r.TryRecord(1)
	})
	assert.Zero(t, allocs)
	assert.Equal(t, uint64(101), r.Stats().Recorded)
}
