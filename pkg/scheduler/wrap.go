package scheduler

import (
	"errors"

	"github.com/danpilch/sigprof/pkg/config"
	"github.com/danpilch/sigprof/pkg/host"
	"github.com/danpilch/sigprof/pkg/profile"
)

// Wrapper profiles a unit of work, such as one request, in its own session.
// Every Run starts a fresh session with Args and hands the serialized output
// to Callback once the work returns.
type Wrapper struct {
	Host     host.Host
	Options  Options
	Args     config.Args
	Callback func(data []byte, p *profile.Profile) error
}

// Run profiles fn. When the host can root native objects the session is
// wrapped so the collector keeps its samples alive, and released once Run
// returns; otherwise the session is freed directly.
//
// fn's error is returned alongside any error from stopping the session or
// from Callback. Callback is not called when the session could not stop.
func (w *Wrapper) Run(fn func() error) error {
	s := New(w.Host, w.Options)
	if r, ok := w.Host.(host.Rooter); ok {
		h := r.Wrap("sigprof.session", s)
		defer r.Release(h)
	} else {
		defer s.Free()
	}

	if err := s.Initialize(w.Args); err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return err
	}

	runErr := fn()
	data, err := s.Stop()
	if err != nil {
		s.Free()
		return errors.Join(runErr, err)
	}
	if w.Callback != nil {
		if err := w.Callback(data, s.Profile()); err != nil {
			return errors.Join(runErr, err)
		}
	}
	return runErr
}
