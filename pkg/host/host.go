// Package host defines the capabilities the profiler consumes from the
// managed runtime it is embedded in.
//
// The profiler never looks inside host objects. Threads, frames and every
// other object are opaque Handles; the embedding layer decides what they are.
package host

import (
	"fmt"
	"time"
)

// Handle is an opaque reference to a host object.
type Handle uint64

// Nil is the zero sentinel. Frame arrays are terminated by it.
const Nil Handle = 0

// ThreadLister enumerates live threads.
type ThreadLister interface {
	Threads() []Handle
}

// Introspector reads the managed call stack of a thread.
type Introspector interface {
	// ThreadFrames writes up to limit frames of thread, leaf first, starting
	// at depth start. It never writes more than len(frames) entries and
	// returns the number written.
	ThreadFrames(thread Handle, start, limit int, frames []Handle, lines []int32) int
}

// TimerSpec describes a repeating per-thread interval timer.
type TimerSpec struct {
	Period time.Duration
	// CPUTime selects the CPU time consumed by the thread as the time basis
	// instead of wall-clock time.
	CPUTime bool
	Signal  int
	// Value is delivered with every signal in SignalInfo.Value.
	Value int
}

// Timer is an armed interval timer.
type Timer interface {
	// Disarm stops the timer. No signal is delivered after Disarm returns.
	Disarm()
}

// TimerAPI arms timers bound to a specific thread.
type TimerAPI interface {
	ArmTimer(thread Handle, spec TimerSpec) (Timer, error)
}

// SignalInfo is the payload delivered to a signal handler.
type SignalInfo struct {
	Signo  int
	Value  int
	Thread Handle
}

// SignalAPI registers process-wide signal handlers. HasHandler reports
// whether a handler is currently installed for sig; an embedder may remove
// handlers at any time.
type SignalAPI interface {
	InstallHandler(sig int, handler func(*SignalInfo)) error
	HasHandler(sig int) bool
}

// ThreadObserver reports threads created after a session started.
type ThreadObserver interface {
	OnThreadStart(fn func(thread Handle)) (cancel func())
}

// World gates access against a collector pause. TryPin never blocks; it
// fails while a collection is in progress.
type World interface {
	TryPin() bool
	Unpin()
}

// Data is a native object owned by the host's collector. MarkRetained is
// called during every collection while the object is reachable, and Free
// once it has been swept.
type Data interface {
	MarkRetained(mark func(Handle))
	MemSize() int
	Free()
}

// Rooter wraps native objects so the host's collector keeps them, and what
// they retain, alive until Release.
type Rooter interface {
	Wrap(name string, d Data) Handle
	Release(h Handle)
}

// FrameResolver names frames and threads for serializers.
type FrameResolver interface {
	FrameInfo(frame Handle) (name, file string, ok bool)
	ThreadName(thread Handle) string
}

// Host is everything the sampling engine needs from the runtime.
type Host interface {
	ThreadLister
	Introspector
	TimerAPI
	SignalAPI
	ThreadObserver
	World
}

// DescribeFrame names frame through r, falling back to its handle.
func DescribeFrame(r FrameResolver, frame Handle) (name, file string) {
	if r != nil {
		if name, file, ok := r.FrameInfo(frame); ok {
			return name, file
		}
	}
	return fmt.Sprintf("0x%x", uint64(frame)), ""
}

// DescribeThread names thread through r, falling back to its handle.
func DescribeThread(r FrameResolver, thread Handle) string {
	if r != nil {
		return r.ThreadName(thread)
	}
	return fmt.Sprintf("thread-%d", thread)
}
