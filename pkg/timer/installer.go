// Package timer arms one repeating profiling timer per monitored thread.
package timer

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/danpilch/sigprof/pkg/config"
	"github.com/danpilch/sigprof/pkg/host"
)

// Host is the subset of host capabilities the installer needs.
type Host interface {
	host.TimerAPI
	host.ThreadObserver
}

// Payload hands out the integer context handle carried by each timer's
// signal, and takes it back when the timer is disarmed.
type Payload interface {
	Register(thread host.Handle) int
	Release(id int)
}

// Signal returns the profiling signal used for mode: SIGPROF for CPU time,
// SIGALRM for wall-clock time.
func Signal(mode config.TimeMode) int {
	if mode == config.WallTime {
		return int(unix.SIGALRM)
	}
	return int(unix.SIGPROF)
}

type armed struct {
	timer   host.Timer
	payload int
}

// Installer owns the timers of one session.
type Installer struct {
	host    Host
	cfg     *config.Configuration
	payload Payload
	logger  *logrus.Logger

	mu        sync.Mutex
	timers    map[host.Handle]armed
	unobserve func()
	closed    bool
}

// New creates an installer. Nothing is armed until Install.
func New(h Host, cfg *config.Configuration, payload Payload, logger *logrus.Logger) *Installer {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Installer{
		host:    h,
		cfg:     cfg,
		payload: payload,
		logger:  logger,
		timers:  make(map[host.Handle]armed),
	}
}

// Install arms a timer for every target thread and, when new-thread tracking
// is on, for every thread started afterwards.
func (i *Installer) Install() error {
	for _, thread := range i.cfg.TargetThreads() {
		if err := i.arm(thread); err != nil {
			return err
		}
	}

	if i.cfg.TrackNewThreads() {
		cancel := i.host.OnThreadStart(func(thread host.Handle) {
			if err := i.arm(thread); err != nil {
				i.logger.WithError(err).WithField("thread", thread).Warn("Failed to arm timer for new thread")
			}
		})
		i.mu.Lock()
		i.unobserve = cancel
		i.mu.Unlock()
	}

	i.logger.WithFields(logrus.Fields{
		"threads":   i.Armed(),
		"interval":  i.cfg.Interval(),
		"time_mode": i.cfg.TimeMode(),
	}).Debug("Installed profiling timers")
	return nil
}

func (i *Installer) arm(thread host.Handle) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil
	}
	if _, ok := i.timers[thread]; ok {
		return nil
	}

	id := i.payload.Register(thread)
	t, err := i.host.ArmTimer(thread, host.TimerSpec{
		Period:  i.cfg.Interval(),
		CPUTime: i.cfg.TimeMode() == config.CPUTime,
		Signal:  Signal(i.cfg.TimeMode()),
		Value:   id,
	})
	if err != nil {
		i.payload.Release(id)
		return fmt.Errorf("failed to arm timer for thread %d: %w", thread, err)
	}
	i.timers[thread] = armed{timer: t, payload: id}
	return nil
}

// Uninstall stops observing new threads and disarms every timer. It is safe
// to call more than once.
func (i *Installer) Uninstall() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	unobserve := i.unobserve
	timers := i.timers
	i.timers = make(map[host.Handle]armed)
	i.mu.Unlock()

	if unobserve != nil {
		unobserve()
	}
	for _, a := range timers {
		a.timer.Disarm()
		i.payload.Release(a.payload)
	}
	i.logger.WithField("timers", len(timers)).Debug("Uninstalled profiling timers")
}

// Armed returns the number of armed timers.
func (i *Installer) Armed() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.timers)
}
