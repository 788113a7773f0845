// Package vm is a small managed runtime the profiler is embedded in. It
// supplies every host capability: threads with managed call stacks, stack
// introspection, per-thread interval timers, signal delivery, and a
// stop-the-world mark/sweep collector that asks embedded data objects which
// references they retain.
package vm

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danpilch/sigprof/pkg/host"
)

// ErrNoSuchThread is returned for handles that do not name a live thread.
var ErrNoSuchThread = errors.New("vm: no such thread")

// Kind classifies heap objects.
type Kind int

const (
	KindThread Kind = iota + 1
	KindMethod
	KindData
)

// Data is a native object wrapped by the VM.
type Data = host.Data

type object struct {
	kind Kind
	name string
	file string
	data Data
}

// GCStats describes one collection.
type GCStats struct {
	Marked int
	Swept  int
	Pause  time.Duration
}

var (
	_ host.Host          = (*VM)(nil)
	_ host.FrameResolver = (*VM)(nil)
)

// VM implements host.Host and host.FrameResolver.
type VM struct {
	logger *logrus.Logger
	next   atomic.Uint64

	// world is write-locked for the duration of a collection. Signal
	// handlers and the flusher pin it with TryRLock.
	world sync.RWMutex

	mu        sync.RWMutex
	objects   map[host.Handle]*object
	threads   map[host.Handle]*Thread
	methods   map[host.Handle]struct{}
	dataRoots map[host.Handle]struct{}
	observers map[int]func(host.Handle)
	observerN int

	sigMu    sync.RWMutex
	handlers map[int]func(*host.SignalInfo)

	collections atomic.Uint64
}

// New creates an empty VM.
func New(logger *logrus.Logger) *VM {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &VM{
		logger:    logger,
		objects:   make(map[host.Handle]*object),
		threads:   make(map[host.Handle]*Thread),
		methods:   make(map[host.Handle]struct{}),
		dataRoots: make(map[host.Handle]struct{}),
		observers: make(map[int]func(host.Handle)),
		handlers:  make(map[int]func(*host.SignalInfo)),
	}
}

func (v *VM) alloc(obj *object) host.Handle {
	h := host.Handle(v.next.Add(1))
	v.objects[h] = obj
	return h
}

// DefineMethod creates a method entry. It stays reachable until
// UndefineMethod.
func (v *VM) DefineMethod(name, file string) host.Handle {
	v.mu.Lock()
	defer v.mu.Unlock()

	h := v.alloc(&object{kind: KindMethod, name: name, file: file})
	v.methods[h] = struct{}{}
	return h
}

// UndefineMethod drops the method table's reference. The entry is freed by
// the next collection unless something else retains it.
func (v *VM) UndefineMethod(h host.Handle) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.methods, h)
}

// Wrap registers d as a heap object and roots it until Release.
func (v *VM) Wrap(name string, d Data) host.Handle {
	v.mu.Lock()
	defer v.mu.Unlock()

	h := v.alloc(&object{kind: KindData, name: name, data: d})
	v.dataRoots[h] = struct{}{}
	return h
}

// Release drops the root of a wrapped object.
func (v *VM) Release(h host.Handle) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.dataRoots, h)
}

// Alive reports whether h has not been swept.
func (v *VM) Alive(h host.Handle) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.objects[h]
	return ok
}

// ObjectCount returns the number of live heap objects.
func (v *VM) ObjectCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.objects)
}

// Collections returns the number of completed collections.
func (v *VM) Collections() uint64 {
	return v.collections.Load()
}

// MemSize reports the size a wrapped object claims.
func (v *VM) MemSize(h host.Handle) int {
	v.mu.RLock()
	obj, ok := v.objects[h]
	v.mu.RUnlock()
	if !ok || obj.data == nil {
		return 0
	}
	return obj.data.MemSize()
}

// FrameInfo implements host.FrameResolver.
func (v *VM) FrameInfo(frame host.Handle) (name, file string, ok bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	obj, found := v.objects[frame]
	if !found || obj.kind != KindMethod {
		return "", "", false
	}
	return obj.name, obj.file, true
}

// ThreadName implements host.FrameResolver.
func (v *VM) ThreadName(thread host.Handle) string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if obj, ok := v.objects[thread]; ok && obj.kind == KindThread && obj.name != "" {
		return obj.name
	}
	return fmt.Sprintf("thread-%d", thread)
}

// Threads implements host.ThreadLister.
func (v *VM) Threads() []host.Handle {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]host.Handle, 0, len(v.threads))
	for h := range v.threads {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Thread returns the live thread behind h.
func (v *VM) Thread(h host.Handle) (*Thread, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	t, ok := v.threads[h]
	return t, ok
}

// ThreadFrames implements host.Introspector. A thread that has exited has no
// frames.
func (v *VM) ThreadFrames(thread host.Handle, start, limit int, frames []host.Handle, lines []int32) int {
	t, ok := v.Thread(thread)
	if !ok {
		return 0
	}
	return t.frames(start, limit, frames, lines)
}

// OnThreadStart implements host.ThreadObserver.
func (v *VM) OnThreadStart(fn func(host.Handle)) (cancel func()) {
	v.mu.Lock()
	id := v.observerN
	v.observerN++
	v.observers[id] = fn
	v.mu.Unlock()

	return func() {
		v.mu.Lock()
		delete(v.observers, id)
		v.mu.Unlock()
	}
}

// TryPin implements host.World.
func (v *VM) TryPin() bool {
	return v.world.TryRLock()
}

// Unpin implements host.World.
func (v *VM) Unpin() {
	v.world.RUnlock()
}

// GC runs a stop-the-world collection. Roots are live threads and their
// frames, defined methods, and rooted wrapped objects; every wrapped object
// reachable in this pass is asked for the references it retains. Swept
// wrapped objects are freed after the world restarts.
func (v *VM) GC() GCStats {
	start := time.Now()

	v.world.Lock()
	v.mu.Lock()

	marked := make(map[host.Handle]struct{}, len(v.objects))
	mark := func(h host.Handle) {
		if _, ok := v.objects[h]; ok {
			marked[h] = struct{}{}
		}
	}

	for h := range v.methods {
		mark(h)
	}
	for h, t := range v.threads {
		mark(h)
		t.each(mark)
	}
	for h := range v.dataRoots {
		mark(h)
	}
	for h := range v.dataRoots {
		if obj, ok := v.objects[h]; ok && obj.data != nil {
			obj.data.MarkRetained(mark)
		}
	}

	var freed []Data
	swept := 0
	for h, obj := range v.objects {
		if _, ok := marked[h]; ok {
			continue
		}
		delete(v.objects, h)
		swept++
		if obj.data != nil {
			freed = append(freed, obj.data)
		}
	}

	v.mu.Unlock()
	v.world.Unlock()

	for _, d := range freed {
		d.Free()
	}

	v.collections.Add(1)
	st := GCStats{Marked: len(marked), Swept: swept, Pause: time.Since(start)}
	v.logger.WithFields(logrus.Fields{
		"marked": st.Marked,
		"swept":  st.Swept,
		"pause":  st.Pause,
	}).Debug("Garbage collection finished")
	return st
}
