package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/danpilch/sigprof/pkg/host"
	"github.com/danpilch/sigprof/pkg/recorder"
)

// handlerArgs is what a timer's integer payload resolves to inside the signal
// handler.
type handlerArgs struct {
	recorder *recorder.Recorder
	thread   host.Handle
	world    host.World
	logger   *logrus.Logger
}

// registry maps small integer handles to handlerArgs. Lookups are a single
// atomic load and an index, so the handler never takes a lock. Writers copy
// the table.
type registry struct {
	mu    sync.Mutex
	table atomic.Pointer[[]*handlerArgs]
	free  []int
}

// handlers is the process-wide table every signal payload is resolved
// against. It lives as long as the process.
var handlers = newRegistry()

func newRegistry() *registry {
	r := &registry{}
	// Slot 0 stays empty so a zero payload never resolves.
	empty := make([]*handlerArgs, 1)
	r.table.Store(&empty)
	return r
}

func (r *registry) register(args *handlerArgs) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.table.Load()
	next := make([]*handlerArgs, len(old), len(old)+1)
	copy(next, old)

	var id int
	if n := len(r.free); n > 0 {
		id = r.free[n-1]
		r.free = r.free[:n-1]
		next[id] = args
	} else {
		id = len(next)
		next = append(next, args)
	}
	r.table.Store(&next)
	return id
}

func (r *registry) release(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.table.Load()
	if id <= 0 || id >= len(old) || old[id] == nil {
		return
	}
	next := make([]*handlerArgs, len(old))
	copy(next, old)
	next[id] = nil
	r.table.Store(&next)
	r.free = append(r.free, id)
}

func (r *registry) lookup(id int) *handlerArgs {
	table := *r.table.Load()
	if id <= 0 || id >= len(table) {
		return nil
	}
	return table[id]
}

// sessionPayload registers handler arguments for one session's recorder.
type sessionPayload struct {
	reg      *registry
	recorder *recorder.Recorder
	world    host.World
	logger   *logrus.Logger
}

func (p *sessionPayload) Register(thread host.Handle) int {
	return p.reg.register(&handlerArgs{
		recorder: p.recorder,
		thread:   thread,
		world:    p.world,
		logger:   p.logger,
	})
}

func (p *sessionPayload) Release(id int) {
	p.reg.release(id)
}
