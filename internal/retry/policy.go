// Package retry implements the deterministic exponential-backoff policy
// used to decide whether a failed dispatch should be retried and how long
// to wait before the next attempt.
package retry

import "time"

// Policy is a pure value: a delay function and a retry-count ceiling. It
// carries no state of its own, keeping retry decisions free of the
// message data they're applied to.
type Policy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// Default returns the policy fixed by §4.C of the specification:
// BASE_DELAY=1s, MAX_DELAY=16s, MAX_RETRIES=5 (attempts 0..5 inclusive,
// six delivery attempts total).
func Default() Policy {
	return Policy{
		BaseDelay:  1 * time.Second,
		MaxDelay:   16 * time.Second,
		MaxRetries: 5,
	}
}

// Delay returns the backoff delay before retrying attempt.
// delay(attempt) = min(BaseDelay * 2^attempt, MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// CanRetry reports whether attempt is still within the retry budget.
func (p Policy) CanRetry(attempt int) bool {
	return attempt < p.MaxRetries
}
