//go:build darwin

package vm

import "time"

// Darwin has no clock for another thread's CPU time, so every thread is
// charged the whole process's CPU time.
func currentTID() int {
	return 0
}

func threadCPUTime(int) (time.Duration, error) {
	return processCPUTime()
}
