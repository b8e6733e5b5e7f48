package config

import "time"

// RefreshIntervals are the polling intervals offered to the user.
var RefreshIntervals = []time.Duration{
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

// SnapInterval maps d onto the nearest allowed interval; ties go to the
// shorter one. Non-positive values become the default of 10s.
func SnapInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	best := RefreshIntervals[0]
	for _, candidate := range RefreshIntervals[1:] {
		if absDuration(candidate-d) < absDuration(best-d) {
			best = candidate
		}
	}
	return best
}

// NextInterval cycles through RefreshIntervals.
func NextInterval(d time.Duration) time.Duration {
	current := SnapInterval(d)
	for i, candidate := range RefreshIntervals {
		if candidate == current {
			return RefreshIntervals[(i+1)%len(RefreshIntervals)]
		}
	}
	return RefreshIntervals[0]
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
