package scheduler

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/danpilch/sigprof/pkg/config"
	"github.com/danpilch/sigprof/pkg/host"
	"github.com/danpilch/sigprof/pkg/recorder"
	"github.com/danpilch/sigprof/pkg/ringbuffer"
	"github.com/danpilch/sigprof/pkg/timer"
)

// installedHandlers records which signal tables carry handleSignal. The
// handler is process-wide: it is installed once per host and never removed by
// the profiler, and it resolves every payload through the handlers registry.
// The host may still drop it, so every install re-checks the table and
// reinstalls what is missing.
var installedHandlers = struct {
	sync.Mutex
	done map[host.SignalAPI]bool
}{done: make(map[host.SignalAPI]bool)}

func installSignalHandler(api host.SignalAPI, logger *logrus.Logger) error {
	installedHandlers.Lock()
	defer installedHandlers.Unlock()

	for _, mode := range []config.TimeMode{config.CPUTime, config.WallTime} {
		sig := timer.Signal(mode)
		if installedHandlers.done[api] && api.HasHandler(sig) {
			continue
		}
		if installedHandlers.done[api] {
			logger.WithField("signal", sig).Info("Signal handler was removed, reinstalling")
		}
		if err := api.InstallHandler(sig, handleSignal); err != nil {
			return fmt.Errorf("failed to install handler for signal %d: %w", sig, err)
		}
	}
	installedHandlers.done[api] = true
	return nil
}

// handleSignal runs synchronously on behalf of the interrupted thread. It
// never waits: if the world is paused for a collection or the recorder is
// busy, the sample is dropped.
func handleSignal(info *host.SignalInfo) {
	args := handlers.lookup(info.Value)
	if args == nil {
		return
	}

	if !args.world.TryPin() {
		args.recorder.NoteCollecting()
		args.logger.Trace("Garbage collection in progress. Dropping sample.")
		return
	}
	defer args.world.Unpin()

	err := args.recorder.TryRecord(args.thread)
	switch {
	case err == nil:
	case errors.Is(err, recorder.ErrContended):
		args.logger.Trace("Failed to acquire profile lock. Dropping sample.")
	case errors.Is(err, ringbuffer.ErrFull):
		args.logger.Debug("Temporary sample buffer full. Dropping sample.")
	default:
		args.logger.WithError(err).Debug("Dropping sample")
	}
}
