package output

import "github.com/danpilch/sigprof/pkg/recorder"

// CaptureScore is the percentage of timer expirations whose sample reached
// the recorder. A session with no expirations scores 100.
func CaptureScore(st recorder.Stats) int {
	attempts := st.Recorded + st.DroppedContended + st.DroppedFull + st.DroppedCollecting
	if attempts == 0 {
		return 100
	}
	return int(st.Recorded * 100 / attempts)
}

// ScoreLabel returns a human-readable label for a capture score.
func ScoreLabel(score int) string {
	if score >= 95 {
		return "Healthy"
	}
	if score >= 75 {
		return "Degraded"
	}
	return "Lossy"
}
