package ringbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpilch/sigprof/pkg/host"
	"github.com/danpilch/sigprof/pkg/sample"
)

func sampleOf(thread host.Handle) *sample.Sample {
	s := &sample.Sample{Thread: thread, LineCount: 1}
	s.Frames[0] = thread * 10
	return s
}

func TestCapacityTwoScenario(t *testing.T) {
	rb := New(2)
	a, b, c := sampleOf(1), sampleOf(2), sampleOf(3)

	require.NoError(t, rb.Push(a))
	require.NoError(t, rb.Push(b))
	assert.ErrorIs(t, rb.Push(c), ErrFull)
	assert.Equal(t, 2, rb.Len())

	got, ok := rb.Pop()
	require.True(t, ok)
	assert.Equal(t, host.Handle(1), got.Thread)

	got, ok = rb.Pop()
	require.True(t, ok)
	assert.Equal(t, host.Handle(2), got.Thread)

	_, ok = rb.Pop()
	assert.False(t, ok)
}

func TestFIFOAcrossWraparound(t *testing.T) {
	rb := New(3)
	var popped []host.Handle

	next := host.Handle(1)
	for round := 0; round < 5; round++ {
		for rb.Len() < rb.Cap() {
			require.NoError(t, rb.Push(sampleOf(next)))
			next++
		}
		s, ok := rb.Pop()
		require.True(t, ok)
		popped = append(popped, s.Thread)
	}
	for {
		s, ok := rb.Pop()
		if !ok {
			break
		}
		popped = append(popped, s.Thread)
	}

	require.Len(t, popped, int(next-1))
	for i, h := range popped {
		assert.Equal(t, host.Handle(i+1), h)
	}
}

func TestFullPushLeavesContentsUnchanged(t *testing.T) {
	rb := New(2)
	require.NoError(t, rb.Push(sampleOf(1)))
	require.NoError(t, rb.Push(sampleOf(2)))

	var before []host.Handle
	rb.Each(func(s *sample.Sample) { before = append(before, s.Thread) })

	require.ErrorIs(t, rb.Push(sampleOf(3)), ErrFull)

	var after []host.Handle
	rb.Each(func(s *sample.Sample) { after = append(after, s.Thread) })
	assert.Equal(t, before, after)
	assert.Equal(t, []host.Handle{1, 2}, after)
}

func TestPushCopiesSample(t *testing.T) {
	rb := New(1)
	s := sampleOf(1)
	require.NoError(t, rb.Push(s))
	s.Thread = 42

	got, ok := rb.Pop()
	require.True(t, ok)
	assert.Equal(t, host.Handle(1), got.Thread)
	assert.Equal(t, host.Handle(10), got.Frames[0])
}

func TestDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Cap())
	assert.Equal(t, 320, New(-1).Cap())
}

func TestEmpty(t *testing.T) {
	rb := New(4)
	_, ok := rb.Pop()
	assert.False(t, ok)
	assert.Equal(t, 0, rb.Len())

	visited := 0
	rb.Each(func(*sample.Sample) { visited++ })
	assert.Zero(t, visited)
}

func TestPushPopDoNotAllocate(t *testing.T) {
	rb := New(4)
	s := sampleOf(3)

	allocs := testing.AllocsPerRun(100, func() {
		_ = rb.Push(s)
		got, _ := rb.Pop()
		s.Thread = got.Thread
	})
	assert.Zero(t, allocs)
	assert.Zero(t, rb.Len())
}
