package vm

import (
	"fmt"

	"github.com/danpilch/sigprof/pkg/host"
)

// InstallHandler implements host.SignalAPI. A later call for the same signal
// replaces the handler.
func (v *VM) InstallHandler(sig int, handler func(*host.SignalInfo)) error {
	if sig <= 0 {
		return fmt.Errorf("vm: invalid signal %d", sig)
	}
	if handler == nil {
		return fmt.Errorf("vm: nil handler for signal %d", sig)
	}
	v.sigMu.Lock()
	v.handlers[sig] = handler
	v.sigMu.Unlock()
	return nil
}

// HasHandler implements host.SignalAPI.
func (v *VM) HasHandler(sig int) bool {
	v.sigMu.RLock()
	defer v.sigMu.RUnlock()
	return v.handlers[sig] != nil
}

// ResetSignal removes the handler for sig. Timers delivering sig stop at
// their next expiry.
func (v *VM) ResetSignal(sig int) {
	v.sigMu.Lock()
	delete(v.handlers, sig)
	v.sigMu.Unlock()
}

// raise runs the handler for info.Signo synchronously on the caller, on
// behalf of info.Thread. It reports false when no handler is installed.
func (v *VM) raise(info *host.SignalInfo) bool {
	v.sigMu.RLock()
	h := v.handlers[info.Signo]
	v.sigMu.RUnlock()
	if h == nil {
		return false
	}
	h(info)
	return true
}
