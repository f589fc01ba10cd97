package usecase

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"lambda-agent/internal/domain"
)

func newTestAgent(t *testing.T, llm *mockLLM, spec domain.AgentSpec) *Agent {
	t.Helper()
	a, err := NewAgent(AgentConfig{LLM: llm, Logger: newTestLogger(), MaxIterations: 5, MaxTokens: 1024}, spec)
	require.NoError(t, err)
	return a
}

func TestAgent_DirectAnswer(t *testing.T) {
	llm := &mockLLM{responses: []domain.ChatResponse{textMsg("100")}}
	a := newTestAgent(t, llm, domain.AgentSpec{
		SystemPrompt: "be helpful",
		Overrides:    map[string]any{"model": "test-model"},
	})

	var out strings.Builder
	got, err := a.Invoke(context.Background(), "25 * 4", &out)
	require.NoError(t, err)
	assert.Equal(t, "100", got)
	assert.Empty(t, out.String())

	req := llm.lastRequest()
	assert.Equal(t, "test-model", req.Model)
	assert.Equal(t, 1024, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, domain.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "be helpful", req.Messages[0].Content)
	assert.Equal(t, domain.RoleUser, req.Messages[1].Role)
	assert.Equal(t, "25 * 4", req.Messages[1].Content)
}

func TestAgent_ToolLoop(t *testing.T) {
	llm := &mockLLM{responses: []domain.ChatResponse{
		toolCallMsg("Let me calculate.",
			domain.ToolCall{ID: "c1", Name: "calculator", Arguments: json.RawMessage(`{"expression":"25*4"}`)},
			domain.ToolCall{ID: "c2", Name: "current_time", Arguments: json.RawMessage(`{}`)},
		),
		textMsg("25 * 4 = 100"),
	}}
	a := newTestAgent(t, llm, domain.AgentSpec{Tools: []domain.Tool{
		&staticTool{name: "calculator", result: "100"},
		&staticTool{name: "current_time", result: "2025-01-01T00:00:00+00:00"},
	}})

	var out strings.Builder
	got, err := a.Invoke(context.Background(), "what is 25*4 and what time is it", &out)
	require.NoError(t, err)
	assert.Equal(t, "25 * 4 = 100", got)
	assert.Equal(t, "Let me calculate.\n\nTool #1: calculator\n\nTool #2: current_time\n", out.String())

	req := llm.lastRequest()
	require.Len(t, req.Tools, 2)
	assert.Equal(t, "calculator", req.Tools[0].Name)

	// user, assistant(tool calls), tool, tool
	require.Len(t, req.Messages, 4)
	assert.Equal(t, domain.RoleTool, req.Messages[2].Role)
	assert.Equal(t, "100", req.Messages[2].Content)
	assert.Equal(t, "c1", req.Messages[2].ToolCalls[0].ID)
	assert.Equal(t, "c2", req.Messages[3].ToolCalls[0].ID, "tool results keep call order")
	assert.False(t, req.Messages[2].ToolError)
}

func TestAgent_ToolFailuresAreReportedToModel(t *testing.T) {
	llm := &mockLLM{responses: []domain.ChatResponse{
		toolCallMsg("",
			domain.ToolCall{ID: "a", Name: "broken"},
			domain.ToolCall{ID: "b", Name: "missing"},
			domain.ToolCall{ID: "c", Name: "soft_fail"},
		),
		textMsg("sorry"),
	}}
	a := newTestAgent(t, llm, domain.AgentSpec{Tools: []domain.Tool{
		&errorTool{name: "broken"},
		&staticTool{name: "soft_fail", result: "bad input", isErr: true},
	}})

	got, err := a.Invoke(context.Background(), "go", nil)
	require.NoError(t, err)
	assert.Equal(t, "sorry", got)

	msgs := llm.lastRequest().Messages
	require.Len(t, msgs, 5)
	assert.True(t, msgs[2].ToolError)
	assert.Contains(t, msgs[2].Content, "tool exploded")
	assert.True(t, msgs[3].ToolError)
	assert.Contains(t, msgs[3].Content, "tool not found")
	assert.True(t, msgs[4].ToolError)
	assert.Equal(t, "bad input", msgs[4].Content)
}

func TestAgent_ToolPanicIsReportedToModel(t *testing.T) {
	llm := &mockLLM{responses: []domain.ChatResponse{
		toolCallMsg("",
			domain.ToolCall{ID: "p", Name: "boom"},
			domain.ToolCall{ID: "c", Name: "calculator"},
		),
		textMsg("the boom tool is broken, 25 * 4 = 100"),
	}}
	a := newTestAgent(t, llm, domain.AgentSpec{Tools: []domain.Tool{
		&panicTool{name: "boom"},
		&staticTool{name: "calculator", result: "100"},
	}})

	got, err := a.Invoke(context.Background(), "go", nil)
	require.NoError(t, err)
	assert.Equal(t, "the boom tool is broken, 25 * 4 = 100", got)

	msgs := llm.lastRequest().Messages
	require.Len(t, msgs, 4)
	assert.True(t, msgs[2].ToolError)
	assert.Equal(t, "p", msgs[2].ToolCalls[0].ID)
	assert.Contains(t, msgs[2].Content, "tool blew up")
	assert.False(t, msgs[3].ToolError, "sibling calls are unaffected")
	assert.Equal(t, "100", msgs[3].Content)
}

func TestAgent_ToolSpansFlagErrors(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	llm := &mockLLM{responses: []domain.ChatResponse{
		toolCallMsg("",
			domain.ToolCall{ID: "p", Name: "boom"},
			domain.ToolCall{ID: "c", Name: "calculator"},
		),
		textMsg("done"),
	}}
	a := newTestAgent(t, llm, domain.AgentSpec{Tools: []domain.Tool{
		&panicTool{name: "boom"},
		&staticTool{name: "calculator", result: "100"},
	}})
	_, err := a.Invoke(context.Background(), "go", nil)
	require.NoError(t, err)

	flagged := map[string]bool{}
	for _, s := range rec.Ended() {
		if s.Name() != "agent.execute_tool" {
			continue
		}
		var name string
		var isErr, found bool
		for _, kv := range s.Attributes() {
			switch kv.Key {
			case attribute.Key("tool.name"):
				name = kv.Value.AsString()
			case attribute.Key("tool.error"):
				isErr, found = kv.Value.AsBool(), true
			}
		}
		require.True(t, found, "span for %s lacks tool.error", name)
		flagged[name] = isErr
	}
	assert.Equal(t, map[string]bool{"boom": true, "calculator": false}, flagged)
}

func TestAgent_MaxIterations(t *testing.T) {
	loop := toolCallMsg("", domain.ToolCall{ID: "x", Name: "calculator"})
	llm := &mockLLM{responses: []domain.ChatResponse{loop, loop, loop, loop, loop, loop}}
	a := newTestAgent(t, llm, domain.AgentSpec{Tools: []domain.Tool{&staticTool{name: "calculator", result: "1"}}})

	_, err := a.Invoke(context.Background(), "loop forever", nil)
	assert.ErrorIs(t, err, domain.ErrMaxIterations)
	assert.Equal(t, 5, llm.calls())
}

func TestAgent_LLMErrorWithoutRetry(t *testing.T) {
	llm := &mockLLM{errs: map[int]error{0: domain.ErrRateLimit}}
	a := newTestAgent(t, llm, domain.AgentSpec{})

	_, err := a.Invoke(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, domain.ErrRateLimit)
	assert.Equal(t, 1, llm.calls())
}

func TestAgent_LLMRetry(t *testing.T) {
	llm := &mockLLM{
		errs:      map[int]error{0: domain.ErrProviderError},
		responses: []domain.ChatResponse{{}, textMsg("recovered")},
	}
	retry := RetryConfig{MaxRetries: 2, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	a, err := NewAgent(AgentConfig{LLM: llm, Logger: newTestLogger(), Retry: &retry}, domain.AgentSpec{})
	require.NoError(t, err)

	got, err := a.Invoke(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", got)
	assert.Equal(t, 2, llm.calls())
}

func TestAgent_Overrides(t *testing.T) {
	llm := &mockLLM{responses: []domain.ChatResponse{textMsg("ok")}}
	a := newTestAgent(t, llm, domain.AgentSpec{Overrides: map[string]any{
		"model":          "X",
		"temperature":    0.2,
		"top_p":          0.9,
		"max_tokens":     float64(256),
		"stop_sequences": []any{"END"},
	}})

	_, err := a.Invoke(context.Background(), "hi", nil)
	require.NoError(t, err)

	req := llm.lastRequest()
	assert.Equal(t, "X", req.Model)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.2, *req.Temperature, 1e-9)
	require.NotNil(t, req.TopP)
	assert.InDelta(t, 0.9, *req.TopP, 1e-9)
	assert.Equal(t, 256, req.MaxTokens)
	assert.Equal(t, []string{"END"}, req.StopSequences)
}

func TestNewAgent_RejectsBadOverrides(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
	}{
		{"unknown key", map[string]any{"model": "X", "streaming": true}},
		{"wrong type", map[string]any{"temperature": "hot"}},
		{"non-positive max tokens", map[string]any{"max_tokens": float64(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAgent(AgentConfig{LLM: &mockLLM{}}, domain.AgentSpec{Overrides: tt.overrides})
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestNewAgent_Validation(t *testing.T) {
	_, err := NewAgent(AgentConfig{}, domain.AgentSpec{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	dup := &staticTool{name: "calculator"}
	_, err = NewAgent(AgentConfig{LLM: &mockLLM{}}, domain.AgentSpec{Tools: []domain.Tool{dup, dup}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAgent_ActiveModelID(t *testing.T) {
	llm := &mockLLM{responses: []domain.ChatResponse{{
		Model:   "served-model",
		Message: domain.Message{Role: domain.RoleAssistant, Content: "ok"},
	}}}
	a := newTestAgent(t, llm, domain.AgentSpec{Overrides: map[string]any{"model": "requested"}})

	var reporter domain.ModelReporter = a
	assert.Equal(t, "requested", reporter.ActiveModelID())

	_, err := a.Invoke(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "served-model", reporter.ActiveModelID())
}

func TestAgent_ReleasedWriterIsNotFatal(t *testing.T) {
	llm := &mockLLM{responses: []domain.ChatResponse{
		toolCallMsg("thinking", domain.ToolCall{ID: "1", Name: "calculator"}),
		textMsg("done"),
	}}
	a := newTestAgent(t, llm, domain.AgentSpec{Tools: []domain.Tool{&staticTool{name: "calculator", result: "1"}}})

	c := NewCapture()
	c.Release()
	got, err := a.Invoke(context.Background(), "hi", c)
	require.NoError(t, err)
	assert.Equal(t, "done", got)
}

func TestNewAgentFactory(t *testing.T) {
	llm := &mockLLM{responses: []domain.ChatResponse{textMsg("hello")}}
	factory := NewAgentFactory(AgentConfig{LLM: llm, Logger: newTestLogger()})

	agent, err := factory(domain.AgentSpec{})
	require.NoError(t, err)
	got, err := agent.Invoke(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	_, err = factory(domain.AgentSpec{Overrides: map[string]any{"bogus": 1}})
	assert.Error(t, err)
}
