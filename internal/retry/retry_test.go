package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefault(t *testing.T) {
	p := Default()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, time.Second, p.InitialInterval)
	assert.Equal(t, 2.0, p.Multiplier)
	assert.Equal(t, 60*time.Second, p.MaxInterval)
}

func TestNextDelay_GrowsExponentiallyWithinJitterBand(t *testing.T) {
	p := Default()

	for attempt := 1; attempt <= 5; attempt++ {
		base := float64(p.InitialInterval) * pow(p.Multiplier, attempt)
		lo := time.Duration(base * 1.0)
		hi := time.Duration(base * 1.25)

		d := p.NextDelay(attempt)
		if d < p.MaxInterval {
			assert.GreaterOrEqual(t, d, lo)
			assert.LessOrEqual(t, d, hi)
		}
	}
}

func TestNextDelay_CappedAtMaxInterval(t *testing.T) {
	p := Policy{MaxAttempts: 10, InitialInterval: time.Second, Multiplier: 2.0, MaxInterval: 5 * time.Second}
	assert.Equal(t, 5*time.Second, p.NextDelay(20))
}

func TestNextRetryAt(t *testing.T) {
	p := Default()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next := p.NextRetryAt(now, 1)
	assert.True(t, next.After(now))
}

func TestShouldRetry(t *testing.T) {
	p := Policy{MaxAttempts: 3}
	assert.True(t, p.ShouldRetry(0))
	assert.True(t, p.ShouldRetry(2))
	assert.False(t, p.ShouldRetry(3))
	assert.False(t, p.ShouldRetry(4))
}

func pow(base float64, n int) float64 {
	r := 1.0
	for i := 0; i < n; i++ {
		r *= base
	}
	return r
}
