package tracer

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// GenAI holds counters for model token usage, tool calls and pipeline outcomes.
// A counter that fails to initialize is replaced by a no-op.
type GenAI struct {
	promptTokens     metric.Int64Counter
	completionTokens metric.Int64Counter
	toolCalls        metric.Int64Counter
	invocations      metric.Int64Counter
}

// NewGenAI creates the counters on the global meter provider.
func NewGenAI() *GenAI {
	meter := otel.Meter(tracerName, metric.WithInstrumentationVersion("1.0.0"))
	return &GenAI{
		promptTokens:     counter(meter, "genai.token.prompt", "The number of prompt tokens used", "{tokens}"),
		completionTokens: counter(meter, "genai.token.completion", "The number of completion tokens used", "{tokens}"),
		toolCalls:        counter(meter, "genai.tool.calls", "The number of tool calls made during execution", "{calls}"),
		invocations:      counter(meter, "lambda.invocations", "Pipeline invocations by status code", "{invocations}"),
	}
}

func counter(meter metric.Meter, name, desc, unit string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		slog.Warn("failed to create counter, metric disabled", "counter", name, "error", err)
		return noop.Int64Counter{}
	}
	return c
}

// RecordTokens records prompt and completion token usage for model.
func (m *GenAI) RecordTokens(ctx context.Context, model string, prompt, completion int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.promptTokens.Add(ctx, prompt, attrs)
	m.completionTokens.Add(ctx, completion, attrs)
}

// RecordToolCall records one tool invocation.
func (m *GenAI) RecordToolCall(ctx context.Context, model, tool string) {
	if m == nil {
		return
	}
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("tool", tool),
	))
}

// RecordInvocation records one pipeline outcome.
func (m *GenAI) RecordInvocation(ctx context.Context, status int) {
	if m == nil {
		return
	}
	m.invocations.Add(ctx, 1, metric.WithAttributes(attribute.Int("status_code", status)))
}
