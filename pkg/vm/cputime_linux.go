//go:build linux

package vm

import (
	"time"

	"golang.org/x/sys/unix"
)

func currentTID() int {
	return unix.Gettid()
}

// threadCPUClock returns the clock id of a thread's scheduler CPU clock, the
// same id pthread_getcpuclockid hands out.
func threadCPUClock(tid int) int32 {
	return int32((^tid)<<3 | 6)
}

func threadCPUTime(tid int) (time.Duration, error) {
	if tid == 0 {
		return processCPUTime()
	}
	var ts unix.Timespec
	if err := unix.ClockGettime(threadCPUClock(tid), &ts); err != nil {
		return 0, err
	}
	return time.Duration(ts.Nano()), nil
}
