// Package traffic keeps sliding windows of request outcomes. Health reporting derives
// overload (denials), degraded (upstream error rate) and idle (low volume) from it.
package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a finished analysis request.
type Outcome int

const (
	// Success is an analysis served, including from stale cache.
	Success Outcome = iota
	// Failure is an upstream or timeout failure. Client errors (bad input, no data) are not failures.
	Failure
	// Denied is a rate-limit rejection.
	Denied
)

// retention bounds how far back any window may look.
const retention = 30 * time.Minute

var defaultTracker Tracker

// Record records an outcome on the process-wide tracker.
func Record(o Outcome) {
	defaultTracker.Record(o)
}

// RecordSuccess records a served analysis.
func RecordSuccess() { Record(Success) }

// RecordError records an upstream failure.
func RecordError() { Record(Failure) }

// RecordDenied records a rate-limit denial (429).
func RecordDenied() { Record(Denied) }

// RequestCount returns the number of outcomes (success + error + denied) within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.RequestCount(window)
}

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int {
	return defaultTracker.DenialCount(window)
}

// ErrorRate returns (errorCount, totalCount) within the window. totalCount = successes + errors.
func ErrorRate(window time.Duration) (errors, total int) {
	return defaultTracker.ErrorRate(window)
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Tracker maintains one timestamp window per Outcome.
type Tracker struct {
	mu      sync.Mutex
	windows [3][]time.Time
	now     func() time.Time // nil means time.Now
}

func (t *Tracker) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// Record appends an outcome at the current time and prunes entries past retention.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	t.windows[o] = append(t.windows[o], now)
	t.pruneLocked(now)
}

// RequestCount returns the total number of outcomes within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	n := 0
	for _, w := range t.windows {
		n += countSince(w, cutoff)
	}
	return n
}

// DenialCount returns the number of rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.windows[Denied], t.clock().Add(-window))
}

// ErrorRate returns (errorCount, totalCount) within the window. Denials are
// excluded from both numbers.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	errors = countSince(t.windows[Failure], cutoff)
	return errors, errors + countSince(t.windows[Success], cutoff)
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.windows {
		t.windows[i] = nil
	}
}

// countSince counts timestamps not before cutoff. Windows are append-only in time order.
func countSince(times []time.Time, cutoff time.Time) int {
	i := len(times)
	for i > 0 && !times[i-1].Before(cutoff) {
		i--
	}
	return len(times) - i
}

// pruneLocked drops timestamps older than retention. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	for o, times := range t.windows {
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			t.windows[o] = append(times[:0], times[i:]...)
		}
	}
}
