package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lambda-agent/internal/domain"
	"lambda-agent/internal/infra/config"
)

type mockProvider struct {
	name     string
	calls    atomic.Int32
	chatFunc func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error)
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.calls.Add(1)
	if m.chatFunc != nil {
		return m.chatFunc(ctx, req)
	}
	return &domain.ChatResponse{}, nil
}

func (m *mockProvider) Name() string { return m.name }

func failing(err error) func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
	return func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) { return nil, err }
}

func TestCircuitBreakerPassesThrough(t *testing.T) {
	inner := &mockProvider{
		name: "bedrock",
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			return &domain.ChatResponse{Message: domain.Message{Content: "ok"}}, nil
		},
	}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerSettings{}, newTestLogger())

	resp, err := cb.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message.Content)
	assert.Equal(t, "bedrock", cb.Name())
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	inner := &mockProvider{name: "flaky", chatFunc: failing(errors.New("provider down"))}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerSettings{
		MaxFailures: 3,
		Timeout:     5 * time.Second,
		Interval:    time.Minute,
	}, newTestLogger())

	for range 3 {
		_, err := cb.Chat(context.Background(), domain.ChatRequest{})
		require.ErrorContains(t, err, "provider down")
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
	assert.ErrorIs(t, err, domain.ErrProviderError)
	assert.Equal(t, int32(3), inner.calls.Load(), "provider should not be called when circuit is open")
}

func TestCircuitBreakerClosesAfterSuccess(t *testing.T) {
	var shouldFail atomic.Bool
	shouldFail.Store(true)
	inner := &mockProvider{
		name: "recovering",
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			if shouldFail.Load() {
				return nil, errors.New("down")
			}
			return &domain.ChatResponse{Message: domain.Message{Content: "recovered"}}, nil
		},
	}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerSettings{
		MaxFailures: 2,
		Timeout:     50 * time.Millisecond,
		Interval:    time.Minute,
	}, newTestLogger())

	for range 2 {
		_, _ = cb.Chat(context.Background(), domain.ChatRequest{})
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, cb.State())

	shouldFail.Store(false)
	resp, err := cb.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Message.Content)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerIgnoresRequestErrors(t *testing.T) {
	overflow := &mockProvider{name: "x", chatFunc: failing(domain.ErrContextOverflow)}
	cb := NewCircuitBreakerProvider(overflow, config.CircuitBreakerSettings{MaxFailures: 1}, newTestLogger())

	for range 3 {
		_, err := cb.Chat(context.Background(), domain.ChatRequest{})
		assert.ErrorIs(t, err, domain.ErrContextOverflow)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Equal(t, uint32(0), cb.Counts().ConsecutiveFailures)
}

func TestCircuitBreakerPropagatesInnerErrors(t *testing.T) {
	sentinel := errors.New("specific error")
	cb := NewCircuitBreakerProvider(&mockProvider{name: "err", chatFunc: failing(sentinel)},
		config.CircuitBreakerSettings{MaxFailures: 10}, newTestLogger())

	_, err := cb.Chat(context.Background(), domain.ChatRequest{})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, uint32(1), cb.Counts().ConsecutiveFailures)
}
