package recorder

import (
	"sync"
	"time"
)

// SilenceTracker decides when a run of quiet analysis ticks is long enough
// to end a recording.
type SilenceTracker struct {
	Threshold float64
	Duration  time.Duration

	mu       sync.Mutex
	lastLoud time.Time
}

// NewSilenceTracker starts the silence window at start, so a recording
// that never gets loud still stops after duration.
func NewSilenceTracker(threshold float64, duration time.Duration, start time.Time) *SilenceTracker {
	return &SilenceTracker{Threshold: threshold, Duration: duration, lastLoud: start}
}

// Observe records one magnitude sample taken at now and reports whether
// the recording should stop.
func (t *SilenceTracker) Observe(now time.Time, magnitude float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if magnitude >= t.Threshold {
		t.lastLoud = now
		return false
	}
	return now.Sub(t.lastLoud) >= t.Duration
}

// LastLoud is the time of the most recent sample at or above threshold, or
// the start time when there was none.
func (t *SilenceTracker) LastLoud() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastLoud
}
