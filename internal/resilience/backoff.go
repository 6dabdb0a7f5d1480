// Package resilience provides fault tolerance patterns
package resilience

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Backoff configuration constants
const (
	DefaultBaseDelay    = 3 * time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultJitterFactor = 0.2 // 20% jitter
	DefaultMaxRetries   = 3
)

// Backoff computes capped exponential delays with jitter.
type Backoff struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// DefaultBackoff returns the reconnect-loop settings.
func DefaultBackoff() Backoff {
	return Backoff{
		BaseDelay:    DefaultBaseDelay,
		MaxDelay:     DefaultMaxDelay,
		JitterFactor: DefaultJitterFactor,
	}
}

// Delay returns the wait before the given retry attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.withDefaults()
	delay := b.BaseDelay << min(attempt, 6) // Cap shift to prevent overflow
	if delay > b.MaxDelay {
		delay = b.MaxDelay
	}
	jitter := float64(delay) * b.JitterFactor * (rand.Float64() - 0.5)
	return time.Duration(float64(delay) + jitter)
}

// Wait sleeps for the attempt's delay, returning early with the context
// error if cancelled. This is what makes a pending reconnect timer
// cancellable.
func (b Backoff) Wait(ctx context.Context, attempt int) error {
	delay := b.Delay(attempt)
	slog.Debug("backing off", "attempt", attempt, "delay", delay)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func (b Backoff) withDefaults() Backoff {
	if b.BaseDelay <= 0 {
		b.BaseDelay = DefaultBaseDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = DefaultMaxDelay
	}
	if b.JitterFactor <= 0 {
		b.JitterFactor = DefaultJitterFactor
	}
	return b
}

// Retry executes fn with backoff between attempts. Only errors accepted
// by retryable are retried; the last error is returned when attempts run
// out. A nil retryable retries everything.
func Retry(ctx context.Context, maxRetries int, b Backoff, retryable func(error) bool, fn func() error) error {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}

		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt == maxRetries {
			return lastErr
		}

		if err := b.Wait(ctx, attempt); err != nil {
			return err
		}
	}
	return lastErr
}
