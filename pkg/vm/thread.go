package vm

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danpilch/sigprof/pkg/host"
)

type frame struct {
	method host.Handle
	line   int32
}

// Thread is a managed thread. Each runs on its own goroutine locked to an OS
// thread so its CPU clock can be read.
type Thread struct {
	vm     *VM
	handle host.Handle
	name   string

	mu    sync.Mutex
	stack []frame // root first

	tid  atomic.Int64
	done chan struct{}
}

// Spawn starts fn on a new managed thread. Thread-start observers are
// notified once the thread is running.
func (v *VM) Spawn(name string, fn func(t *Thread)) *Thread {
	t := &Thread{
		vm:   v,
		name: name,
		done: make(chan struct{}),
	}

	v.mu.Lock()
	t.handle = v.alloc(&object{kind: KindThread, name: name})
	v.threads[t.handle] = t
	observers := make([]func(host.Handle), 0, len(v.observers))
	for _, fn := range v.observers {
		observers = append(observers, fn)
	}
	v.mu.Unlock()

	ready := make(chan struct{})
	go func() {
		runtime.LockOSThread()
		t.tid.Store(int64(currentTID()))
		close(ready)

		defer func() {
			v.mu.Lock()
			delete(v.threads, t.handle)
			v.mu.Unlock()
			close(t.done)
		}()
		fn(t)
	}()
	<-ready

	for _, fn := range observers {
		fn(t.handle)
	}
	return t
}

// Handle returns the thread's object handle.
func (t *Thread) Handle() host.Handle { return t.handle }

// Name returns the thread name.
func (t *Thread) Name() string { return t.name }

// Done is closed when the thread has exited.
func (t *Thread) Done() <-chan struct{} { return t.done }

// Join waits for the thread to exit.
func (t *Thread) Join() { <-t.done }

// Call runs fn with method pushed on the thread's call stack. It must only
// be called from the thread's own goroutine.
func (t *Thread) Call(method host.Handle, line int32, fn func()) {
	t.mu.Lock()
	t.stack = append(t.stack, frame{method: method, line: line})
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.stack = t.stack[:len(t.stack)-1]
		t.mu.Unlock()
	}()
	fn()
}

// Line updates the current line of the innermost frame.
func (t *Thread) Line(line int32) {
	t.mu.Lock()
	if n := len(t.stack); n > 0 {
		t.stack[n-1].line = line
	}
	t.mu.Unlock()
}

// Depth returns the current call depth.
func (t *Thread) Depth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.stack)
}

// CPUTime returns the CPU time consumed by the thread. Platforms without
// per-thread clocks report process CPU time.
func (t *Thread) CPUTime() time.Duration {
	d, err := threadCPUTime(int(t.tid.Load()))
	if err != nil {
		return 0
	}
	return d
}

func (t *Thread) frames(start, limit int, frames []host.Handle, lines []int32) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := 0
	for i := start; i < len(t.stack) && w < limit && w < len(frames) && w < len(lines); i++ {
		f := t.stack[len(t.stack)-1-i]
		frames[w] = f.method
		lines[w] = f.line
		w++
	}
	return w
}

func (t *Thread) each(fn func(host.Handle)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range t.stack {
		fn(f.method)
	}
}
