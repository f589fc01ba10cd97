package llm

import (
	"bytes"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"lambda-agent/internal/domain"
)

func TestNewPooledTransport(t *testing.T) {
	tr := NewPooledTransport(0, 0)
	assert.Equal(t, defaultRespTimeout, tr.ResponseHeaderTimeout)
	assert.Equal(t, defaultIdleTimeout, tr.IdleConnTimeout)
	assert.True(t, tr.ForceAttemptHTTP2)

	custom := NewPooledTransport(time.Second, 5*time.Second)
	assert.Equal(t, 5*time.Second, custom.ResponseHeaderTimeout)
}

func TestNewHTTPClient(t *testing.T) {
	c := NewHTTPClient(time.Second, 2*time.Minute)
	tr, ok := c.Transport.(*http.Transport)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Minute, tr.ResponseHeaderTimeout)
}

func TestLogChatCompleted(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logChatCompleted(logger, "bedrock", &domain.ChatResponse{
		Model:      "us.amazon.nova-pro-v1:0",
		StopReason: "end_turn",
		Usage:      domain.Usage{TotalTokens: 42},
	})

	out := buf.String()
	assert.Contains(t, out, "llm chat completed")
	assert.Contains(t, out, "provider=bedrock")
	assert.Contains(t, out, "tokens=42")
	assert.Contains(t, out, "stop_reason=end_turn")
}
