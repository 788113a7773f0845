package vm

import (
	"fmt"
	"sync"
	"time"

	"github.com/danpilch/sigprof/pkg/host"
)

const minCPUPoll = time.Millisecond

type intervalTimer struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Disarm implements host.Timer.
func (it *intervalTimer) Disarm() {
	it.stopOnce.Do(func() { close(it.stop) })
	<-it.done
}

// ArmTimer implements host.TimerAPI. The timer fires every spec.Period of
// wall-clock time, or of CPU time consumed by the thread when spec.CPUTime
// is set. It stops on Disarm, when the thread exits, or when no handler is
// installed for spec.Signal.
func (v *VM) ArmTimer(thread host.Handle, spec host.TimerSpec) (host.Timer, error) {
	if spec.Period <= 0 {
		return nil, fmt.Errorf("vm: invalid timer period %v", spec.Period)
	}
	t, ok := v.Thread(thread)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchThread, thread)
	}

	it := &intervalTimer{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go v.runTimer(t, spec, it)
	return it, nil
}

func (v *VM) runTimer(t *Thread, spec host.TimerSpec, it *intervalTimer) {
	defer close(it.done)

	tick := spec.Period
	if spec.CPUTime {
		tick = spec.Period / 4
		if tick < minCPUPoll {
			tick = minCPUPoll
		}
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	info := &host.SignalInfo{Signo: spec.Signal, Value: spec.Value, Thread: t.handle}
	lastCPU := t.CPUTime()

	for {
		select {
		case <-it.stop:
			return
		case <-t.done:
			return
		case <-ticker.C:
		}

		if spec.CPUTime {
			now := t.CPUTime()
			if now-lastCPU < spec.Period {
				continue
			}
			// Expirations that piled up coalesce into one signal.
			lastCPU = now
		}

		if !v.raise(info) {
			return
		}
	}
}
