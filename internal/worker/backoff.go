package worker

import "time"

// DefaultBackoff is the delay before retry 1, 2 and 3; later retries reuse
// the last value.
var DefaultBackoff = []time.Duration{5 * time.Second, 30 * time.Second, 120 * time.Second}

// Backoff returns the delay before the attempt that follows retry number
// retryCount (1-based).
func Backoff(schedule []time.Duration, retryCount int) time.Duration {
	if len(schedule) == 0 {
		schedule = DefaultBackoff
	}
	if retryCount < 1 {
		retryCount = 1
	}
	index := retryCount - 1
	if index >= len(schedule) {
		index = len(schedule) - 1
	}
	return schedule[index]
}
