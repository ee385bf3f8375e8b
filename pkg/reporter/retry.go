package reporter

import (
	"errors"
	"math"
	"time"
)

// RetryPolicy controls how the reporter reconnects with exponential backoff.
type RetryPolicy struct {
	// MaxAttempts bounds consecutive failed reconnect dials. Zero opts in to
	// retrying forever.
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy returns a RetryPolicy with sensible defaults:
// 5 attempts, 500ms initial delay, 2x multiplier, 30s max delay.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
	}
}

// ShouldRetry returns true if the error is retryable and the attempt count
// has not exceeded MaxAttempts.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		return false
	}
	return isRetryable(err)
}

// NextDelay returns the backoff delay for the given attempt number (1-indexed).
// The delay is InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// isRetryable classifies dial errors. A rejected (401) or forbidden (403)
// handshake is permanent; everything else is treated as transient.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrUnauthorized) && !errors.Is(err, ErrForbidden)
}
