package sample

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpilch/sigprof/pkg/backtrace"
	"github.com/danpilch/sigprof/pkg/host"
)

// stack reports depth frames numbered depth..1 leaf first, with line = frame.
type stack struct {
	depth    int
	overhang int
}

func (s stack) ThreadFrames(thread host.Handle, start, limit int, frames []host.Handle, lines []int32) int {
	w := 0
	for i := start; i < s.depth && w < limit && w < len(frames); i++ {
		frames[w] = host.Handle(s.depth - i)
		lines[w] = int32(s.depth - i)
		w++
	}
	return w + s.overhang
}

type pcs struct{ n int }

func (p pcs) Simple(_ int, dst []uintptr) (int, error) {
	w := 0
	for ; w < p.n && w < len(dst); w++ {
		dst[w] = uintptr(0x400000 + w)
	}
	return w, nil
}

func TestCaptureShallowStack(t *testing.T) {
	before := time.Now()
	s := Capture(7, backtrace.NewState(pcs{n: 3}, nil), stack{depth: 4})

	assert.Equal(t, host.Handle(7), s.Thread)
	assert.False(t, s.Timestamp.Before(before))
	assert.Equal(t, int32(4), s.LineCount)
	assert.Equal(t, 3, s.NativeDepth())
	assert.Equal(t, []uintptr{0x400000, 0x400001, 0x400002}, s.Native())

	frames, lines := s.Managed()
	assert.Equal(t, []host.Handle{4, 3, 2, 1}, frames)
	assert.Equal(t, []int32{4, 3, 2, 1}, lines)
	for i := 4; i < MaxManagedDepth; i++ {
		require.Equal(t, host.Nil, s.Frames[i], "slot %d", i)
	}
}

func TestCaptureClampsDeepStacks(t *testing.T) {
	s := Capture(1, backtrace.NewState(pcs{n: 5000}, nil), stack{depth: 2500})

	assert.Equal(t, int32(MaxManagedDepth), s.LineCount)
	assert.Equal(t, uintptr(MaxNativeDepth), s.NativePCs[0])
	assert.Equal(t, host.Handle(2500), s.Frames[0])
	assert.Equal(t, host.Handle(2001), s.Frames[MaxManagedDepth-1])
}

func TestCaptureClampsOverreportingHost(t *testing.T) {
	s := Capture(1, nil, stack{depth: 10, overhang: 5000})
	assert.Equal(t, int32(MaxManagedDepth), s.LineCount)
	assert.Zero(t, s.NativeDepth())
}

func TestCaptureIntoClearsPreviousFrames(t *testing.T) {
	var s Sample
	CaptureInto(&s, 1, nil, stack{depth: 20})
	CaptureInto(&s, 2, nil, stack{depth: 3})

	assert.Equal(t, int32(3), s.LineCount)
	for i := 3; i < MaxManagedDepth; i++ {
		require.Equal(t, host.Nil, s.Frames[i])
		require.Zero(t, s.Lines[i])
	}
}

func TestCaptureWithoutIntrospector(t *testing.T) {
	s := Capture(3, nil, nil)
	assert.Zero(t, s.LineCount)
	assert.Zero(t, s.NativeDepth())
}

func TestReferences(t *testing.T) {
	s := Capture(9, nil, stack{depth: 3})

	var seen []host.Handle
	s.References(func(h host.Handle) { seen = append(seen, h) })
	assert.Equal(t, []host.Handle{9, 3, 2, 1}, seen)
}

func TestCaptureIntoDoesNotAllocate(t *testing.T) {
	var in host.Introspector = stack{depth: 40}
	bt := backtrace.NewState(nil, nil)
	dst := new(Sample)

	allocs := testing.AllocsPerRun(100, func() {
		CaptureInto(dst, 7, bt, in)
	})
	assert.Zero(t, allocs)
	assert.Equal(t, int32(40), dst.LineCount)
	assert.Positive(t, dst.NativeDepth())
}
