// Package recorder owns the staging buffer, the accumulated profile and the
// set of host references the profile keeps alive. All access goes through a
// single reader/writer lock, and every acquisition is a non-blocking try.
package recorder

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/sirupsen/logrus"

	"github.com/danpilch/sigprof/pkg/backtrace"
	"github.com/danpilch/sigprof/pkg/config"
	"github.com/danpilch/sigprof/pkg/host"
	"github.com/danpilch/sigprof/pkg/profile"
	"github.com/danpilch/sigprof/pkg/ringbuffer"
	"github.com/danpilch/sigprof/pkg/sample"
)

// ErrContended is returned when the lock is held elsewhere.
var ErrContended = errors.New("recorder: lock contended")

// Options configures a Recorder.
type Options struct {
	Capacity int
	Unwinder backtrace.Unwinder
	Logger   *logrus.Logger
	Interval time.Duration
	TimeMode config.TimeMode
}

// Stats counts what happened to captured samples.
type Stats struct {
	Recorded          uint64
	Flushed           uint64
	DroppedContended  uint64
	DroppedFull       uint64
	DroppedCollecting uint64 // dropped during a collector pause
	Buffered          int
}

// Recorder is the single point of serialization for a session.
type Recorder struct {
	mu           sync.RWMutex
	profile      *profile.Profile
	buffer       *ringbuffer.RingBuffer
	backtrace    *backtrace.State
	introspector host.Introspector
	retained     map[host.Handle]struct{}
	scratch      sample.Sample
	logger       *logrus.Logger

	recorded  atomic.Uint64
	flushed   atomic.Uint64
	contended atomic.Uint64
	full      atomic.Uint64
	pauses    atomic.Uint64
}

// New creates a recorder and starts its profile clock.
func New(in host.Introspector, opts Options) *Recorder {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetLevel(logrus.WarnLevel)
	}
	if opts.Capacity <= 0 {
		opts.Capacity = ringbuffer.DefaultCapacity
	}
	if opts.Interval <= 0 {
		opts.Interval = config.DefaultInterval
	}

	return &Recorder{
		profile:      profile.New(time.Now(), opts.Interval, opts.TimeMode),
		buffer:       ringbuffer.New(opts.Capacity),
		backtrace:    backtrace.NewState(opts.Unwinder, opts.Logger),
		introspector: in,
		retained:     make(map[host.Handle]struct{}),
		logger:       opts.Logger,
	}
}

// TryRecord captures a sample of thread into the staging buffer. It makes a
// single attempt at the exclusive lock and never waits.
func (r *Recorder) TryRecord(thread host.Handle) error {
	if !r.mu.TryLock() {
		r.contended.Add(1)
		return ErrContended
	}
	defer r.mu.Unlock()

	sample.CaptureInto(&r.scratch, thread, r.backtrace, r.introspector)
	if err := r.buffer.Push(&r.scratch); err != nil {
		r.full.Add(1)
		return err
	}
	r.recorded.Add(1)
	return nil
}

// TryFlush drains the staging buffer into the profile if the exclusive lock
// is free. It returns the number of samples moved.
func (r *Recorder) TryFlush() (int, error) {
	if !r.mu.TryLock() {
		return 0, ErrContended
	}
	defer r.mu.Unlock()
	return r.flushLocked(), nil
}

// flushLocked must be called with the exclusive lock held.
func (r *Recorder) flushLocked() int {
	n := 0
	for {
		s, ok := r.buffer.Pop()
		if !ok {
			break
		}
		s.References(func(h host.Handle) {
			r.retained[h] = struct{}{}
		})
		r.profile.Samples = append(r.profile.Samples, s)
		n++
	}
	if n > 0 {
		r.flushed.Add(uint64(n))
		r.logger.WithField("samples", n).Trace("Flushed temporary sample buffer")
	}
	return n
}

// MarkRetained reports every reference the recorder keeps alive: the retained
// set and everything still sitting in the staging buffer. It runs inside a
// collector pause, so it does not wait for the lock; ErrContended means some
// references could not be reported.
func (r *Recorder) MarkRetained(visit func(host.Handle)) error {
	if !r.mu.TryRLock() {
		return ErrContended
	}
	defer r.mu.RUnlock()

	for h := range r.retained {
		visit(h)
	}
	r.buffer.Each(func(s *sample.Sample) {
		s.References(visit)
	})
	return nil
}

// TryFinish performs the final flush and returns the completed profile.
func (r *Recorder) TryFinish(now time.Time) (*profile.Profile, error) {
	if !r.mu.TryLock() {
		return nil, ErrContended
	}
	defer r.mu.Unlock()

	r.flushLocked()
	r.profile.Duration = now.Sub(r.profile.StartTimestamp)
	return r.profile, nil
}

// NoteCollecting records a sample dropped during a collector pause.
func (r *Recorder) NoteCollecting() {
	r.pauses.Add(1)
}

// Stats returns sample counters. Buffered is only filled in when the read
// lock is free.
func (r *Recorder) Stats() Stats {
	st := Stats{
		Recorded:          r.recorded.Load(),
		Flushed:           r.flushed.Load(),
		DroppedContended:  r.contended.Load(),
		DroppedFull:       r.full.Load(),
		DroppedCollecting: r.pauses.Load(),
	}
	if r.mu.TryRLock() {
		st.Buffered = r.buffer.Len()
		r.mu.RUnlock()
	}
	return st
}

// MemSize approximates the memory held by the recorder in bytes.
func (r *Recorder) MemSize() int {
	sampleSize := int(unsafe.Sizeof(sample.Sample{}))
	size := int(unsafe.Sizeof(*r)) + r.buffer.Cap()*sampleSize
	if r.mu.TryRLock() {
		size += cap(r.profile.Samples) * sampleSize
		size += len(r.retained) * int(unsafe.Sizeof(host.Nil)) * 2
		r.mu.RUnlock()
	}
	return size
}
