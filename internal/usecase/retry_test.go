package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lambda-agent/internal/domain"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:  maxRetries,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
		MaxJitter:   time.Millisecond,
	}
}

func TestRetryWithBackoff_SucceedsAfterTransientErrors(t *testing.T) {
	attempts := 0
	got, err := RetryWithBackoff(context.Background(), fastRetry(3), "op", domain.IsRetryableError,
		func(context.Context) (string, error) {
			attempts++
			if attempts < 3 {
				return "", domain.ErrRateLimit
			}
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoff_NonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	_, err := RetryWithBackoff(context.Background(), fastRetry(3), "op", domain.IsRetryableError,
		func(context.Context) (int, error) {
			attempts++
			return 0, domain.ErrAuthInvalid
		})
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithBackoff_Exhausted(t *testing.T) {
	attempts := 0
	_, err := RetryWithBackoff(context.Background(), fastRetry(2), "llm.chat", domain.IsRetryableError,
		func(context.Context) (int, error) {
			attempts++
			return 0, domain.ErrProviderError
		})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProviderError)
	assert.Contains(t, err.Error(), "llm.chat failed after 2 retries")
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxRetries: 5, BaseBackoff: time.Hour, MaxBackoff: time.Hour}

	attempts := 0
	_, err := RetryWithBackoff(ctx, cfg, "op", func(error) bool { return true },
		func(context.Context) (int, error) {
			attempts++
			cancel()
			return 0, errors.New("transient")
		})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetryConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultRetryConfig().Validate())
	assert.Error(t, RetryConfig{MaxRetries: -1}.Validate())
	assert.Error(t, RetryConfig{BaseBackoff: -1}.Validate())
	assert.Error(t, RetryConfig{MaxBackoff: -1}.Validate())
	assert.Error(t, RetryConfig{MaxJitter: -1}.Validate())
}

func TestBackoffDelay(t *testing.T) {
	cfg := RetryConfig{BaseBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}
	assert.Equal(t, 100*time.Millisecond, backoffDelay(cfg, 0))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(cfg, 2))
	assert.Equal(t, time.Second, backoffDelay(cfg, 10))
	assert.Equal(t, time.Second, backoffDelay(cfg, 62), "overflow is capped")

	cfg.MaxJitter = 50 * time.Millisecond
	d := backoffDelay(cfg, 0)
	assert.GreaterOrEqual(t, d, 100*time.Millisecond)
	assert.Less(t, d, 150*time.Millisecond)
}
