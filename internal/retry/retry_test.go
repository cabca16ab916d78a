package retry

import (
	"context"
	"testing"
	"time"

	"github.com/houston-cloud/houston/internal/fault"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	policy := Policy{Attempts: 10, Delay: time.Millisecond}

	err := policy.Do(context.Background(), "noop", func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestDoBoundedAttempts(t *testing.T) {
	calls := 0
	policy := Policy{
		Attempts:  10,
		Delay:     time.Millisecond,
		Retryable: fault.IsTransient,
	}

	// the operation never recovers; exactly 10 attempts, then a
	// terminal failure
	err := policy.Do(context.Background(), "ensure-remote", func(context.Context) error {
		calls++
		return fault.NewTransient("ensure-remote", errors.New("connection refused"))
	})
	require.Error(t, err)
	require.Equal(t, 10, calls)
	require.True(t, fault.IsTransient(err))
}

func TestDoNonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	policy := Policy{
		Attempts:  10,
		Delay:     time.Millisecond,
		Retryable: fault.IsTransient,
	}

	err := policy.Do(context.Background(), "detect", func(context.Context) error {
		calls++
		return fault.NewValidation("unknown model")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)

	_, ok := fault.IsValidation(err)
	require.True(t, ok)
}

func TestDoRecoversMidway(t *testing.T) {
	calls := 0
	policy := Policy{
		Attempts:  5,
		Delay:     time.Millisecond,
		Retryable: fault.IsTransient,
	}

	err := policy.Do(context.Background(), "push", func(context.Context) error {
		calls++
		if calls < 3 {
			return fault.NewTransient("push", errors.New("remote hung up"))
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := Policy{Attempts: 10, Delay: time.Hour, Retryable: fault.IsTransient}

	err := policy.Do(ctx, "slow", func(context.Context) error {
		return fault.NewTransient("slow", errors.New("unreachable"))
	})
	require.ErrorIs(t, err, context.Canceled)
}
