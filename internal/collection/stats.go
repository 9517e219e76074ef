package collection

import (
	"sync"
	"time"
)

// Stats are process-wide running counters. They reset only on restart.
type Stats struct {
	TotalAttempts   int64     `json:"totalAttempts"`
	SuccessfulReads int64     `json:"successfulReads"`
	FailedReads     int64     `json:"failedReads"`
	LastError       string    `json:"lastError,omitempty"`
	LastCollection  time.Time `json:"lastCollection"`
}

// SuccessRate is successes over attempts, or 0 before the first attempt.
func (s Stats) SuccessRate() float64 {
	if s.TotalAttempts == 0 {
		return 0
	}
	return float64(s.SuccessfulReads) / float64(s.TotalAttempts)
}

// HealthStatus is the operator view of the scheduler.
type HealthStatus struct {
	IsCollecting    bool          `json:"isCollecting"`
	Interval        time.Duration `json:"-"`
	IntervalMillis  int64         `json:"intervalMs"`
	LastCollection  time.Time     `json:"lastCollection"`
	TotalAttempts   int64         `json:"totalAttempts"`
	SuccessfulReads int64         `json:"successfulReads"`
	FailedReads     int64         `json:"failedReads"`
	SuccessRate     float64       `json:"successRate"`
	LastError       string        `json:"lastError,omitempty"`
	SkippedTicks    int64         `json:"skippedTicks"`
}

// statsTracker guards Stats. It is written once per tick, never from the
// per-meter goroutines.
type statsTracker struct {
	mu      sync.RWMutex
	stats   Stats
	skipped int64
}

func (t *statsTracker) record(o tickOutcome, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.TotalAttempts += int64(o.attempts)
	t.stats.SuccessfulReads += int64(o.succeeded)
	t.stats.FailedReads += int64(o.failed)
	t.stats.LastCollection = at
	if o.lastFailure != "" {
		t.stats.LastError = o.lastFailure
	}
}

func (t *statsTracker) recordError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.LastError = err.Error()
}

func (t *statsTracker) recordSkip() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.skipped++
}

func (t *statsTracker) snapshot() (Stats, int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats, t.skipped
}
