// Package retry implements bounded exponential backoff for calls to external
// services and stores.
package retry

import (
	"context"
	"errors"
	"time"
)

// Config configures exponential backoff retry behavior
type Config struct {
	MaxAttempts int           // Total attempts including the first
	BaseDelay   time.Duration // Delay before the second attempt
	MaxDelay    time.Duration // Upper bound for any single delay
	Multiplier  float64       // Growth factor between delays
}

// Default returns the backoff used for provider calls.
func Default() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Multiplier:  2.0,
	}
}

// permanentError marks an error that must not be retried.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, the attempts are
// exhausted, or ctx is done. Permanent wrappers are stripped from the result.
func Do[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := cfg.BaseDelay

	for attempt := 0; attempt < attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		if attempt < attempts-1 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
			backoff = time.Duration(float64(backoff) * cfg.Multiplier)
			if cfg.MaxDelay > 0 && backoff > cfg.MaxDelay {
				backoff = cfg.MaxDelay
			}
		}
	}

	return zero, lastErr
}
