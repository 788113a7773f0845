// Package scheduler runs a profiling session: it owns the session lifecycle,
// the process-wide signal handler, and the background flusher.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/sirupsen/logrus"

	"github.com/danpilch/sigprof/pkg/backtrace"
	"github.com/danpilch/sigprof/pkg/config"
	"github.com/danpilch/sigprof/pkg/host"
	"github.com/danpilch/sigprof/pkg/profile"
	"github.com/danpilch/sigprof/pkg/recorder"
	"github.com/danpilch/sigprof/pkg/timer"
)

// DefaultFlushInterval is the period of the background flusher.
const DefaultFlushInterval = 500 * time.Millisecond

// Lifecycle errors.
var (
	ErrNotConfigured   = errors.New("scheduler: start() called before initialize()")
	ErrAlreadyStarted  = errors.New("scheduler: already started")
	ErrSessionFinished = errors.New("scheduler: session already stopped")
	ErrNotStarted      = errors.New("scheduler: stop() called before start()")
	ErrRecorderBusy    = errors.New("scheduler: failed to acquire profile lock")
)

// State is the session lifecycle state.
type State int

const (
	Uninitialized State = iota
	Configured
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Configured:
		return "configured"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Serializer encodes a completed profile.
type Serializer interface {
	Serialize(p *profile.Profile) ([]byte, error)
}

// Options configures a Scheduler.
type Options struct {
	Logger *logrus.Logger
	// Serializer encodes the profile returned by Stop. When nil Stop returns
	// no output and the profile is available from Profile.
	Serializer     Serializer
	FlushInterval  time.Duration
	BufferCapacity int
	Unwinder       backtrace.Unwinder
}

// Scheduler is one one-shot profiling session.
type Scheduler struct {
	host   host.Host
	opts   Options
	logger *logrus.Logger

	mu          sync.Mutex
	state       State
	cfg         *config.Configuration
	installer   *timer.Installer
	cancel      context.CancelFunc
	flusherDone chan struct{}
	profile     *profile.Profile

	// recorder is read by the collector hook without taking mu.
	recorder atomic.Pointer[recorder.Recorder]
}

// New creates an uninitialized scheduler bound to h.
func New(h host.Host, opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetLevel(logrus.WarnLevel)
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	return &Scheduler{
		host:   h,
		opts:   opts,
		logger: opts.Logger,
	}
}

// Initialize parses args into the session configuration.
func (s *Scheduler) Initialize(args config.Args) error {
	cfg, err := config.New(args, s.host, s.logger)
	if err != nil {
		return err
	}
	return s.InitializeWith(cfg)
}

// InitializeWith sets an already built configuration.
func (s *Scheduler) InitializeWith(cfg *config.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Running:
		return ErrAlreadyStarted
	case Stopped:
		return ErrSessionFinished
	}
	s.cfg = cfg
	s.state = Configured
	return nil
}

// Start begins sampling.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Uninitialized:
		return ErrNotConfigured
	case Running:
		return ErrAlreadyStarted
	case Stopped:
		return ErrSessionFinished
	}

	rec := recorder.New(s.host, recorder.Options{
		Capacity: s.opts.BufferCapacity,
		Unwinder: s.opts.Unwinder,
		Logger:   s.logger,
		Interval: s.cfg.Interval(),
		TimeMode: s.cfg.TimeMode(),
	})
	s.recorder.Store(rec)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.flusherDone = make(chan struct{})
	go s.runFlusher(ctx, rec, s.flusherDone)

	if err := installSignalHandler(s.host, s.logger); err != nil {
		s.teardown()
		s.recorder.Store(nil)
		return err
	}

	s.installer = timer.New(s.host, s.cfg, &sessionPayload{
		reg:      handlers,
		recorder: rec,
		world:    s.host,
		logger:   s.logger,
	}, s.logger)
	if err := s.installer.Install(); err != nil {
		s.teardown()
		s.recorder.Store(nil)
		s.installer = nil
		return fmt.Errorf("failed to install timers: %w", err)
	}

	s.state = Running
	s.logger.WithFields(logrus.Fields{
		"interval":          s.cfg.Interval(),
		"time_mode":         s.cfg.TimeMode(),
		"threads":           len(s.cfg.TargetThreads()),
		"track_new_threads": s.cfg.TrackNewThreads(),
	}).Info("Profiling started")
	return nil
}

// Stop finishes the session and returns the serialized profile. Timers and
// the flusher are shut down first, then the final flush makes a single
// attempt at the recorder lock; on failure ErrRecorderBusy is returned and
// Stop may be called again.
//
// Calling Stop before Start is fatal.
func (s *Scheduler) Stop() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Uninitialized, Configured:
		s.logger.Fatal("stop() called before start()")
		return nil, ErrNotStarted
	case Stopped:
		return nil, ErrSessionFinished
	}

	s.teardown()

	rec := s.recorder.Load()
	if !s.host.TryPin() {
		s.logger.Error("stop: Garbage collection in progress. Failed to acquire profile lock.")
		return nil, ErrRecorderBusy
	}
	p, err := rec.TryFinish(time.Now())
	s.host.Unpin()
	if err != nil {
		s.logger.WithError(err).Error("stop: Failed to acquire profile lock.")
		return nil, ErrRecorderBusy
	}

	s.profile = p
	s.state = Stopped

	st := rec.Stats()
	s.logger.WithFields(logrus.Fields{
		"samples":            len(p.Samples),
		"dropped_contended":  st.DroppedContended,
		"dropped_full":       st.DroppedFull,
		"dropped_collecting": st.DroppedCollecting,
		"duration":           p.Duration,
	}).Info("Profiling stopped")

	if s.opts.Serializer == nil {
		return nil, nil
	}
	out, err := s.opts.Serializer.Serialize(p)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize profile: %w", err)
	}
	return out, nil
}

// teardown disarms timers and joins the flusher. Callers hold mu.
func (s *Scheduler) teardown() {
	if s.installer != nil {
		s.installer.Uninstall()
	}
	if s.cancel != nil {
		s.cancel()
		<-s.flusherDone
		s.cancel = nil
	}
}

func (s *Scheduler) runFlusher(ctx context.Context, rec *recorder.Recorder, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flushTick(rec)
		}
	}
}

func (s *Scheduler) flushTick(rec *recorder.Recorder) {
	s.logger.Trace("Flushing temporary sample buffer")
	if !s.host.TryPin() {
		s.logger.Debug("flusher: Garbage collection in progress")
		return
	}
	defer s.host.Unpin()

	if _, err := rec.TryFlush(); err != nil {
		s.logger.Debug("flusher: Failed to acquire profile lock")
	}
}

// MarkRetained reports every reference the session keeps alive. It is called
// by the host collector during a pause. Failing to read the recorder there
// would let the collector free objects the profile still references, so it
// is fatal.
func (s *Scheduler) MarkRetained(visit func(host.Handle)) {
	rec := s.recorder.Load()
	if rec == nil {
		return
	}
	if err := rec.MarkRetained(visit); err != nil {
		s.logger.WithError(err).Fatal("dmark: Failed to acquire profile lock.")
	}
}

// MemSize approximates the memory held by the session in bytes.
func (s *Scheduler) MemSize() int {
	size := int(unsafe.Sizeof(*s))
	if rec := s.recorder.Load(); rec != nil {
		size += rec.MemSize()
	}
	return size
}

// Free releases the session: timers are disarmed, the flusher is joined and
// the recorder is dropped.
func (s *Scheduler) Free() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardown()
	s.recorder.Store(nil)
	s.state = Stopped
}

// State returns the lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Configuration returns the session configuration, or nil before Initialize.
func (s *Scheduler) Configuration() *config.Configuration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Profile returns the completed profile after a successful Stop.
func (s *Scheduler) Profile() *profile.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// Stats returns the recorder counters of the current session.
func (s *Scheduler) Stats() recorder.Stats {
	if rec := s.recorder.Load(); rec != nil {
		return rec.Stats()
	}
	return recorder.Stats{}
}
