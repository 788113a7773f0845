// Package backtrace wraps a native stack unwinder behind an opaque capability:
// given a starting point, produce a sequence of native program counters.
package backtrace

import (
	"errors"
	"runtime"

	"github.com/sirupsen/logrus"
)

// MaxDepth bounds the number of program counters produced per walk.
const MaxDepth = 1000

// ErrNoFrames is reported when the unwinder could not read any frame.
var ErrNoFrames = errors.New("backtrace: no frames")

// Unwinder writes the program counters of the calling context into pcs,
// skipping skip frames, and returns how many it wrote. It never writes past
// len(pcs).
type Unwinder interface {
	Simple(skip int, pcs []uintptr) (int, error)
}

// ErrorFunc receives unwinder failures.
type ErrorFunc func(err error)

// State is the per-recorder unwinder state. It is created once and reused by
// every capture.
type State struct {
	unwinder Unwinder
	onError  ErrorFunc
}

// NewState creates unwinder state. A nil unwinder selects RuntimeUnwinder.
func NewState(u Unwinder, logger *logrus.Logger) *State {
	if u == nil {
		u = NewRuntimeUnwinder()
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &State{
		unwinder: u,
		onError: func(err error) {
			logger.WithError(err).Debug("Native backtrace failed")
		},
	}
}

// Fill unwinds from the caller's frame into pcs and returns the number of
// program counters written. At most MaxDepth are written. Fill does not
// allocate unless the unwinder fails.
func (s *State) Fill(pcs []uintptr) int {
	if len(pcs) > MaxDepth {
		pcs = pcs[:MaxDepth]
	}
	n, err := s.unwinder.Simple(1, pcs)
	if err != nil {
		s.onError(err)
		return 0
	}
	if n < 0 {
		return 0
	}
	if n > len(pcs) {
		n = len(pcs)
	}
	return n
}

// RuntimeUnwinder unwinds the current goroutine with runtime.Callers. It is
// stateless and safe for concurrent use.
type RuntimeUnwinder struct{}

// NewRuntimeUnwinder returns an unwinder backed by the Go runtime.
func NewRuntimeUnwinder() *RuntimeUnwinder {
	return &RuntimeUnwinder{}
}

// Simple implements Unwinder.
func (u *RuntimeUnwinder) Simple(skip int, pcs []uintptr) (int, error) {
	// +2 skips runtime.Callers and Simple itself.
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return 0, ErrNoFrames
	}
	return n, nil
}
