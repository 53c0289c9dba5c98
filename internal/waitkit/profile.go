// internal/waitkit/profile.go

// Package waitkit provides an adaptive wait engine for browser automation.
// Instead of fixed sleeps, every wait primitive polls a probe and records how
// long each target historically takes to appear, then derives future timeouts
// from that history. Each engine instance owns its own timing memory so two
// scrapers never pollute each other's profiles.
package waitkit

import (
	"sync"
	"time"
)

// smoothing weights for the exponential moving average: a new observation
// moves the average by 30%, keeping the profile stable against one-off
// network hiccups while still converging within a handful of measurements.
const (
	ewmaNewWeight = 0.3
	ewmaOldWeight = 0.7
)

// targetProfile accumulates the timing history for one wait target.
type targetProfile struct {
	avg         time.Duration
	min         time.Duration
	max         time.Duration
	samples     int
	lastSuccess time.Time
	lastElapsed time.Duration
}

// timingStore maps target keys to their accumulated profiles. A single mutex
// covers the whole map; waits are measured in hundreds of milliseconds, so
// contention on the lock is irrelevant.
type timingStore struct {
	mu       sync.Mutex
	profiles map[string]*targetProfile
}

func newTimingStore() *timingStore {
	return &timingStore{profiles: make(map[string]*targetProfile)}
}

// record folds a successful wait duration into the target's profile.
func (ts *timingStore) record(key string, elapsed time.Duration) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	p, ok := ts.profiles[key]
	if !ok {
		ts.profiles[key] = &targetProfile{
			avg:         elapsed,
			min:         elapsed,
			max:         elapsed,
			samples:     1,
			lastSuccess: time.Now(),
			lastElapsed: elapsed,
		}
		return
	}

	p.avg = time.Duration(ewmaOldWeight*float64(p.avg) + ewmaNewWeight*float64(elapsed))
	if elapsed < p.min {
		p.min = elapsed
	}
	if elapsed > p.max {
		p.max = elapsed
	}
	p.samples++
	p.lastSuccess = time.Now()
	p.lastElapsed = elapsed
}

// recordTimeout folds an exhausted budget into the target's profile so a
// target that keeps timing out grows its future budgets toward the ceiling
// instead of retrying the same losing window. Success bookkeeping (fast path,
// fastest observed) is left untouched.
func (ts *timingStore) recordTimeout(key string, budget time.Duration) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	p, ok := ts.profiles[key]
	if !ok {
		ts.profiles[key] = &targetProfile{
			avg:     budget,
			max:     budget,
			samples: 1,
		}
		return
	}

	p.avg = time.Duration(ewmaOldWeight*float64(p.avg) + ewmaNewWeight*float64(budget))
	if budget > p.max {
		p.max = budget
	}
	p.samples++
}

// snapshot returns a copy of the target's profile and whether one exists.
func (ts *timingStore) snapshot(key string) (targetProfile, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	p, ok := ts.profiles[key]
	if !ok {
		return targetProfile{}, false
	}
	return *p, true
}

// adaptiveTimeout derives the wait budget for a target from its history:
// 1.5x the moving average, clamped between the configured floor and ceiling.
// Unknown targets get the full ceiling.
func (ts *timingStore) adaptiveTimeout(key string, minTimeout, maxTimeout time.Duration) time.Duration {
	p, ok := ts.snapshot(key)
	if !ok || p.samples == 0 {
		return maxTimeout
	}
	budget := time.Duration(1.5 * float64(p.avg))
	if budget < minTimeout {
		budget = minTimeout
	}
	if budget > maxTimeout {
		budget = maxTimeout
	}
	return budget
}

// fastPathEligible reports whether the target resolved quickly and recently
// enough to justify the tighter polling interval.
func (ts *timingStore) fastPathEligible(key string, window time.Duration, now time.Time) bool {
	p, ok := ts.snapshot(key)
	if !ok {
		return false
	}
	return p.lastElapsed < time.Second && now.Sub(p.lastSuccess) < window
}
