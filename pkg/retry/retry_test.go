package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilumeobrasil/desk-research/pkg/flowerr"
)

func fastConfig() Config {
	return Config{
		MaxAttempts: 3,
		Strategy:    &LinearBackoff{Delay: time.Millisecond},
	}
}

func TestExecuteSucceedsFirstTry(t *testing.T) {
	calls := 0
	got, err := Execute(context.Background(), func() (string, error) {
		calls++
		return "ok", nil
	}, fastConfig())
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, calls)
}

func TestExecuteRetriesTransientErrors(t *testing.T) {
	calls := 0
	got, err := Execute(context.Background(), func() (int, error) {
		calls++
		if calls < 3 {
			return 0, flowerr.New(flowerr.CodeTimeout, "slow source")
		}
		return 42, nil
	}, fastConfig())
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestExecuteStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	_, err := Execute(context.Background(), func() (int, error) {
		calls++
		return 0, flowerr.New(flowerr.CodeStateConflict, "retry requires a failed run")
	}, fastConfig())
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, flowerr.CodeStateConflict, flowerr.Code(err))
}

func TestExecuteExhaustsAttemptBudget(t *testing.T) {
	calls := 0
	_, err := Execute(context.Background(), func() (int, error) {
		calls++
		return 0, errors.New("flaky")
	}, fastConfig())
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.EqualError(t, err, "flaky")
}

func TestExecuteNonPositiveBudgetStillRunsOnce(t *testing.T) {
	for _, budget := range []int{0, -1} {
		calls := 0
		_, err := Execute(context.Background(), func() (int, error) {
			calls++
			return 0, errors.New("flaky")
		}, Config{MaxAttempts: budget, Strategy: &LinearBackoff{Delay: time.Millisecond}})
		require.Error(t, err, "budget %d", budget)
		assert.EqualError(t, err, "flaky")
		assert.Equal(t, 1, calls)
	}

	got, err := Execute(context.Background(), func() (string, error) {
		return "ok", nil
	}, Config{MaxAttempts: 0})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestExecuteHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{
		MaxAttempts: 5,
		Strategy:    &LinearBackoff{Delay: time.Minute},
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := Execute(ctx, func() (int, error) {
		return 0, errors.New("always failing")
	}, cfg)
	require.ErrorIs(t, err, context.Canceled)
}

func TestExecuteReportsRetries(t *testing.T) {
	var notified []int
	cfg := fastConfig()
	cfg.OnRetry = func(attempt int, err error) {
		notified = append(notified, attempt)
	}
	calls := 0
	_, err := Execute(context.Background(), func() (int, error) {
		calls++
		return 0, errors.New("flaky")
	}, cfg)
	require.Error(t, err)
	assert.Equal(t, []int{0, 1}, notified)
}

func TestExponentialBackoffDelays(t *testing.T) {
	b := &ExponentialBackoff{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
	}
	assert.Equal(t, 100*time.Millisecond, b.NextDelay(0))
	assert.Equal(t, 200*time.Millisecond, b.NextDelay(1))
	assert.Equal(t, 400*time.Millisecond, b.NextDelay(2))
	assert.Equal(t, time.Second, b.NextDelay(10), "delay is capped")
}

func TestApplyJitterStaysNonNegative(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := applyJitter(10*time.Millisecond, 0.5)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 20*time.Millisecond)
	}
}

func TestStandardConfigShape(t *testing.T) {
	cfg := Standard()
	assert.Equal(t, 3, cfg.MaxAttempts)
	require.IsType(t, &ExponentialBackoff{}, cfg.Strategy)
}
