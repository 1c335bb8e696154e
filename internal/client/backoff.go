package client

import "time"

// Backoff configures reconnect delays: base * 2^attempt capped at max.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff is 1s, 2s, 4s, 8s, 16s and then give up.
var DefaultBackoff = Backoff{
	Base:        time.Second,
	Max:         30 * time.Second,
	MaxAttempts: 5,
}

// Delay returns the wait before reconnect attempt number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := b.Base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= b.Max {
			return b.Max
		}
	}
	if delay > b.Max {
		return b.Max
	}
	return delay
}
