// Package sample captures one stack snapshot of a managed thread.
package sample

import (
	"time"

	"github.com/danpilch/sigprof/pkg/backtrace"
	"github.com/danpilch/sigprof/pkg/host"
)

const (
	// MaxManagedDepth is the number of managed frames kept per sample.
	MaxManagedDepth = 500
	// MaxNativeDepth is the number of native program counters kept per sample.
	MaxNativeDepth = backtrace.MaxDepth
	// introspectionLimit is the frame cap requested from the host. The host
	// never writes past the destination array.
	introspectionLimit = 2000
)

// Sample is one timestamped stack snapshot. It is a value type and is not
// modified after capture.
type Sample struct {
	Thread    host.Handle
	Timestamp time.Time
	LineCount int32
	// Frames holds managed frames leaf first. Entries at index >= LineCount
	// are host.Nil.
	Frames [MaxManagedDepth]host.Handle
	Lines  [MaxManagedDepth]int32
	// NativePCs[0] is the number of captured program counters, stored in
	// NativePCs[1:NativePCs[0]+1].
	NativePCs [MaxNativeDepth + 1]uintptr
}

// Capture takes a snapshot of thread into a new Sample. The native stack is
// walked only when bt is non-nil. The signal handler uses CaptureInto instead.
func Capture(thread host.Handle, bt *backtrace.State, in host.Introspector) Sample {
	var s Sample
	CaptureInto(&s, thread, bt, in)
	return s
}

// CaptureInto overwrites dst with a snapshot of thread.
//
// CaptureInto runs inside the signal handler and does not allocate. The
// host's ThreadFrames is not proven async-signal-safe; that risk is accepted.
func CaptureInto(dst *Sample, thread host.Handle, bt *backtrace.State, in host.Introspector) {
	dst.NativePCs[0] = 0
	if bt != nil {
		dst.NativePCs[0] = uintptr(bt.Fill(dst.NativePCs[1:]))
	}

	dst.Thread = thread
	dst.Timestamp = time.Now()

	n := 0
	if in != nil {
		n = in.ThreadFrames(thread, 0, introspectionLimit, dst.Frames[:], dst.Lines[:])
	}
	if n < 0 {
		n = 0
	}
	if n > MaxManagedDepth {
		n = MaxManagedDepth
	}
	dst.LineCount = int32(n)
	for i := n; i < MaxManagedDepth; i++ {
		dst.Frames[i] = host.Nil
		dst.Lines[i] = 0
	}
}

// NativeDepth returns the number of captured native program counters.
func (s *Sample) NativeDepth() int {
	return int(s.NativePCs[0])
}

// Native returns the captured native program counters, leaf first.
func (s *Sample) Native() []uintptr {
	return s.NativePCs[1 : s.NativePCs[0]+1]
}

// Managed returns the captured managed frames and line numbers, leaf first.
func (s *Sample) Managed() ([]host.Handle, []int32) {
	return s.Frames[:s.LineCount], s.Lines[:s.LineCount]
}

// References calls visit for the thread and every managed frame up to the
// first host.Nil.
func (s *Sample) References(visit func(host.Handle)) {
	visit(s.Thread)
	for _, f := range s.Frames {
		if f == host.Nil {
			break
		}
		visit(f)
	}
}
