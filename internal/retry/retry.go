// Package retry computes exponential backoff with jitter for task retries.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Policy holds the exponential-backoff parameters (initial delay,
// multiplier, max delay, max attempts) used to schedule a task's next retry.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
}

// Default returns the package defaults: initial=1s, multiplier=2.0, max=60s,
// maxAttempts=3.
func Default() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		Multiplier:      2.0,
		MaxInterval:     60 * time.Second,
	}
}

// NextDelay computes the delay before the given attempt (1-indexed):
// min(maxInterval, initialInterval * multiplier^attempt * jitter), jitter
// uniform in [1.0, 1.25). Pure aside from the jitter draw.
func (p Policy) NextDelay(attempt int) time.Duration {
	exp := math.Pow(p.Multiplier, float64(attempt))
	jitter := 1.0 + rand.Float64()*0.25
	delay := time.Duration(float64(p.InitialInterval) * exp * jitter)
	if delay > p.MaxInterval {
		return p.MaxInterval
	}
	return delay
}

// NextRetryAt returns now plus NextDelay(attempt).
func (p Policy) NextRetryAt(now time.Time, attempt int) time.Time {
	return now.Add(p.NextDelay(attempt))
}

// ShouldRetry reports whether another attempt is allowed given how many
// attempts have already been consumed.
func (p Policy) ShouldRetry(attemptsSoFar int) bool {
	return attemptsSoFar < p.MaxAttempts
}
