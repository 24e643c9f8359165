package bus

import (
	"context"
	"time"
)

// RetryConfig governs in-process handler retries before a record is
// dead-lettered.
type RetryConfig struct {
	// MaxRetries is the total number of handler invocations, first attempt
	// included.
	MaxRetries int

	// InitialDelay is the pause before the second attempt.
	InitialDelay time.Duration

	// BackoffMultiplier is applied to the delay after each failed attempt.
	BackoffMultiplier float64

	// MaxDelay caps the pause between attempts.
	MaxDelay time.Duration

	// RetryableTokens are matched against error names and messages. Empty
	// means DefaultRetryableTokens.
	RetryableTokens []string
}

// DefaultRetryConfig returns the handler retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          30 * time.Second,
	}
}

// Tokens returns the configured retryable tokens or the defaults.
func (c RetryConfig) Tokens() []string {
	if len(c.RetryableTokens) > 0 {
		return c.RetryableTokens
	}
	return DefaultRetryableTokens
}

// Delay returns the pause after the nth failed attempt (1-based):
// InitialDelay scaled by BackoffMultiplier^(n-1), capped at MaxDelay.
func (c RetryConfig) Delay(attempt int) time.Duration {
	delay := c.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.BackoffMultiplier)
		if delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// sleep pauses for d unless the context ends first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
