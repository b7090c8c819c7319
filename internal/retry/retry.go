package retry

import (
	"context"
	"time"
)

// Config configures exponential backoff retry behavior.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// Default matches the BackendUnavailable policy: retry the single call up
// to three times with exponential backoff before surfacing the failure.
func Default() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
	}
}

// Do runs fn, retrying on error with exponential backoff up to
// cfg.MaxAttempts total attempts. Retry is skipped on context cancellation.
func Do[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var lastErr error
	var zero T
	backoff := cfg.BaseDelay

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		if attempt < cfg.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
				backoff = time.Duration(float64(backoff) * cfg.Multiplier)
				if backoff > cfg.MaxDelay {
					backoff = cfg.MaxDelay
				}
			}
		}
	}

	return zero, lastErr
}
