// Package freshness implements time-based decay of fragment freshness:
// the pure decay math, display helpers and the engine that persists
// recomputed scores.
package freshness

import (
	"math"
	"time"
)

// Calculate returns score decayed linearly by ratePerHour over the time
// elapsed since lastCheck, clamped to [0,1]. A zero lastCheck, a now before
// lastCheck or a negative rate mean no decay. A score at or below zero stays
// at zero; freshness only comes back through an explicit refresh.
func Calculate(lastCheck, now time.Time, ratePerHour, score float64) float64 {
	if math.IsNaN(score) || score <= 0 {
		return 0
	}
	var hours float64
	if !lastCheck.IsZero() && now.After(lastCheck) {
		hours = now.Sub(lastCheck).Hours()
	}
	if ratePerHour < 0 || math.IsNaN(ratePerHour) {
		ratePerHour = 0
	}
	return clamp(score - hours*ratePerHour)
}

// HoursUntil returns how long a fragment at score takes to reach target.
// A non-positive rate never gets there (+Inf).
func HoursUntil(score, ratePerHour, target float64) float64 {
	if ratePerHour <= 0 {
		return math.Inf(1)
	}
	remaining := score - target
	if remaining <= 0 {
		return 0
	}
	return remaining / ratePerHour
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
