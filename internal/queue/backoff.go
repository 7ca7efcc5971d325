package queue

import "time"

// Default retry schedule: 1s, 2s, 4s, ... capped at 60s.
const (
	DefaultBaseBackoff = time.Second
	DefaultMaxBackoff  = 60 * time.Second
)

// Backoff is a capped exponential retry schedule.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBaseBackoff
	}
	maxDelay := b.Max
	if maxDelay <= 0 {
		maxDelay = DefaultMaxBackoff
	}
	if attempt <= 1 {
		return min(base, maxDelay)
	}
	// base * 2^(attempt-1), capped before it can overflow.
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}
