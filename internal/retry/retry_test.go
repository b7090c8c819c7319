package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsWithoutRetryOnFirstAttempt(t *testing.T) {
	calls := 0
	cfg := Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}

	result, err := Do(context.Background(), cfg, func() (int, error) {
		calls++
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesUpToMaxAttempts(t *testing.T) {
	calls := 0
	cfg := Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}

	_, err := Do(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, errors.New("boom")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_SucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	cfg := Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}

	result, err := Do(context.Background(), cfg, func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 7, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 7, result)
	assert.Equal(t, 2, calls)
}

func TestDo_StopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	cfg := Config{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}

	_, err := Do(ctx, cfg, func() (int, error) {
		calls++
		return 0, errors.New("boom")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
