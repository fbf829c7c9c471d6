package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/ilumeobrasil/desk-research/pkg/flowerr"
)

// Strategy decides delays between attempts and whether an error warrants
// another one.
type Strategy interface {
	NextDelay(attempt int) time.Duration
	ShouldRetry(attempt int, err error) bool
}

// Config defines retry behavior for Execute.
type Config struct {
	MaxAttempts int
	Strategy    Strategy
	Jitter      float64
	OnRetry     func(attempt int, err error)
}

// ExponentialBackoff doubles (by Multiplier) the delay each attempt, capped
// at MaxDelay. Non-retryable coded errors stop the loop early.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.InitialDelay) * math.Pow(e.Multiplier, float64(attempt))
	if delay > float64(e.MaxDelay) {
		return e.MaxDelay
	}
	return time.Duration(delay)
}

func (e *ExponentialBackoff) ShouldRetry(attempt int, err error) bool {
	return flowerr.IsRetryable(err)
}

// LinearBackoff waits a constant delay between attempts.
type LinearBackoff struct {
	Delay time.Duration
}

func (l *LinearBackoff) NextDelay(attempt int) time.Duration {
	return l.Delay
}

func (l *LinearBackoff) ShouldRetry(attempt int, err error) bool {
	return flowerr.IsRetryable(err)
}

// Execute runs the operation until it succeeds, the strategy refuses, the
// attempt budget is spent, or the context is cancelled.
func Execute[T any](ctx context.Context, operation func() (T, error), cfg Config) (T, error) {
	var zero T
	var lastErr error

	// A non-positive budget still runs the operation once; returning the
	// zero value with a nil error would read as success.
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := operation()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == attempts-1 || !cfg.Strategy.ShouldRetry(attempt, err) {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		delay := cfg.Strategy.NextDelay(attempt)
		if cfg.Jitter > 0 {
			delay = applyJitter(delay, cfg.Jitter)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
		}
	}
	return zero, lastErr
}

// Standard is the configuration used around synthesis re-entry.
func Standard() Config {
	return Config{
		MaxAttempts: 3,
		Strategy: &ExponentialBackoff{
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2,
		},
		Jitter: 0.2,
	}
}

func applyJitter(delay time.Duration, factor float64) time.Duration {
	jitter := float64(delay) * factor
	adjusted := float64(delay) + (rand.Float64()-0.5)*2*jitter
	if adjusted < 0 {
		return 0
	}
	return time.Duration(adjusted)
}
