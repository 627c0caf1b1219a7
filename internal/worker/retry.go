package worker

import "time"

// RetryPolicy is the exponential backoff applied to failed email deliveries.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.MaxRetries <= 0 {
		r.MaxRetries = 5
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = 2 * time.Second
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = 5 * time.Minute
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}
	return r
}

// Exhausted reports whether the given 1-based attempt is the last one allowed.
func (r RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= r.MaxRetries
}

// NextDelay returns how long to wait after the given 1-based attempt failed.
// The delay grows by BackoffFactor per attempt and is capped at MaxDelay.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	base := r.InitialDelay
	if base <= 0 {
		base = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	delay := float64(base)
	for i := 1; i < attempt; i++ {
		delay *= factor
		if r.MaxDelay > 0 && delay >= float64(r.MaxDelay) {
			return r.MaxDelay
		}
	}
	if r.MaxDelay > 0 && time.Duration(delay) > r.MaxDelay {
		return r.MaxDelay
	}
	return time.Duration(delay)
}

// NextAttemptAt is the UTC time a task failed at attempt becomes due again.
func (r RetryPolicy) NextAttemptAt(now time.Time, attempt int) time.Time {
	return now.UTC().Add(r.NextDelay(attempt))
}
