package common

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Veraticus/the-pots-must-flow/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) service.RetryOptions {
	return service.RetryOptions{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestWithRetry(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			if calls < 3 {
				return &RetryableError{Err: errors.New("503"), Retryable: true}
			}
			return nil
		}, fastRetry(5))

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry definitive errors", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			return fmt.Errorf("deposit: %w", ErrInsufficientFunds)
		}, fastRetry(5))

		require.ErrorIs(t, err, ErrInsufficientFunds)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			return &RetryableError{Err: ErrRateLimit, Retryable: true, RetryAfter: time.Millisecond}
		}, fastRetry(3))

		require.ErrorIs(t, err, ErrMaxRetries)
		assert.ErrorIs(t, err, ErrRateLimit)
		assert.Equal(t, 3, calls)
	})

	t.Run("honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := WithRetry(ctx, func() error {
			return &RetryableError{Err: errors.New("timeout"), Retryable: true}
		}, fastRetry(3))

		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestConfigErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("rule 7: %w", NewConfigError("sources[0].percentage", "must be within [0, 1], got %v", 1.5))

	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "sources[0].percentage")
	assert.False(t, IsRetryable(err))
}

func TestMatchDescription(t *testing.T) {
	tests := []struct {
		pattern     string
		description string
		want        bool
	}{
		{"", "anything", true},
		{"salary", "ACME LTD SALARY", true},
		{"SALARY", "acme ltd salary", true},
		{"bonus", "ACME LTD SALARY", false},
		{"re:^acme.*salary$", "ACME LTD SALARY", true},
		{"re:^salary", "ACME LTD SALARY", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.description, func(t *testing.T) {
			got, err := MatchDescription(tt.pattern, tt.description)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
