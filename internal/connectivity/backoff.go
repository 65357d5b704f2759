package connectivity

import (
	"math/rand/v2"
	"time"
)

// Backoff produces jittered, exponentially growing delays. It is not safe
// for concurrent use; the Monitor guards it with its mutex.
type Backoff struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	multiplier float64
	current    time.Duration
	attempts   int
}

// NewBackoff creates a Backoff starting at min and capped at max.
func NewBackoff(min, max time.Duration, mult float64) *Backoff {
	return &Backoff{
		minDelay:   min,
		maxDelay:   max,
		multiplier: mult,
		current:    min,
	}
}

// Next returns the next delay (±20% jitter, never below min).
func (b *Backoff) Next() time.Duration {
	b.attempts++

	jitterFactor := rand.Float64()*0.4 - 0.2
	jitter := time.Duration(jitterFactor * float64(b.current))
	wait := max(b.current+jitter, b.minDelay)

	b.current = min(time.Duration(float64(b.current)*b.multiplier), b.maxDelay)
	return wait
}

// Reset starts over from min.
func (b *Backoff) Reset() {
	b.current = b.minDelay
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}
