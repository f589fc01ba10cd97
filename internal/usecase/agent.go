package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"lambda-agent/internal/domain"
	"lambda-agent/internal/infra/logger"
	"lambda-agent/internal/infra/tracer"
)

const defaultMaxIterations = 10

// AgentConfig holds the process-lifetime dependencies shared by every agent
// the factory builds.
type AgentConfig struct {
	LLM           domain.LLMProvider
	Logger        *slog.Logger
	Metrics       *tracer.GenAI // optional
	MaxIterations int
	MaxTokens     int
	Retry         *RetryConfig // optional, nil = single attempt per LLM call
}

// NewAgentFactory returns a domain.AgentFactory producing tool-calling agents
// backed by cfg.LLM.
func NewAgentFactory(cfg AgentConfig) domain.AgentFactory {
	return func(spec domain.AgentSpec) (domain.Agent, error) {
		return NewAgent(cfg, spec)
	}
}

// modelOptions are the invocation overrides an agent understands.
type modelOptions struct {
	Model         string   `json:"model"`
	Temperature   *float64 `json:"temperature"`
	TopP          *float64 `json:"top_p"`
	MaxTokens     *int     `json:"max_tokens"`
	StopSequences []string `json:"stop_sequences"`
}

// decodeOverrides maps model_config onto modelOptions. Unknown keys and
// mistyped values are rejected.
func decodeOverrides(overrides map[string]any) (modelOptions, error) {
	var opts modelOptions
	if len(overrides) == 0 {
		return opts, nil
	}
	data, err := json.Marshal(overrides)
	if err != nil {
		return opts, domain.NewDomainError("Agent.overrides", domain.ErrInvalidInput, err.Error())
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&opts); err != nil {
		return opts, domain.NewDomainError("Agent.overrides", domain.ErrInvalidInput, err.Error())
	}
	if opts.MaxTokens != nil && *opts.MaxTokens <= 0 {
		return opts, domain.NewDomainError("Agent.overrides", domain.ErrInvalidInput, "max_tokens must be positive")
	}
	return opts, nil
}

// Agent runs the receive-think-act loop for a single prompt: call the model,
// execute requested tools, feed results back, until the model answers
// without tool calls.
type Agent struct {
	cfg     AgentConfig
	system  string
	tools   map[string]domain.Tool
	schemas []domain.ToolSchema
	opts    modelOptions

	mu        sync.Mutex
	lastModel string
	toolCount int
}

// NewAgent creates an agent for spec.
func NewAgent(cfg AgentConfig, spec domain.AgentSpec) (*Agent, error) {
	if cfg.LLM == nil {
		return nil, domain.NewDomainError("NewAgent", domain.ErrInvalidInput, "no LLM provider")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}

	opts, err := decodeOverrides(spec.Overrides)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		cfg:     cfg,
		system:  spec.SystemPrompt,
		tools:   make(map[string]domain.Tool, len(spec.Tools)),
		schemas: make([]domain.ToolSchema, 0, len(spec.Tools)),
		opts:    opts,
	}
	for _, t := range spec.Tools {
		if _, dup := a.tools[t.Name()]; dup {
			return nil, domain.NewDomainError("NewAgent", domain.ErrInvalidInput, "duplicate tool "+t.Name())
		}
		a.tools[t.Name()] = t
		a.schemas = append(a.schemas, t.Schema())
	}
	return a, nil
}

// ActiveModelID implements domain.ModelReporter: the model that served the
// last response, or the requested model before any call was made.
func (a *Agent) ActiveModelID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastModel != "" {
		return a.lastModel
	}
	return a.opts.Model
}

// Invoke implements domain.Agent. Interim assistant text and one
// "Tool #N: name" line per tool call are written to w.
func (a *Agent) Invoke(ctx context.Context, prompt string, w io.Writer) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "agent.invoke",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", a.cfg.LLM.Name()),
			tracer.IntAttr("agent.tools", len(a.schemas)),
		),
	)
	defer span.End()
	log := logger.ForRequest(ctx, a.cfg.Logger)

	messages := make([]domain.Message, 0, 8)
	if a.system != "" {
		messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: a.system, Timestamp: time.Now()})
	}
	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: prompt, Timestamp: time.Now()})

	for i := 0; i < a.cfg.MaxIterations; i++ {
		span.AddEvent("agent.iteration", trace.WithAttributes(tracer.IntAttr("iteration", i)))

		resp, err := a.chat(ctx, a.buildRequest(messages))
		if err != nil {
			tracer.RecordError(span, err)
			return "", err
		}
		a.recordModel(ctx, resp)
		messages = append(messages, resp.Message)

		log.Debug("llm response",
			"iteration", i,
			"tool_calls", len(resp.Message.ToolCalls),
			"tokens", resp.Usage.TotalTokens,
		)

		// No tool calls = final response.
		if len(resp.Message.ToolCalls) == 0 {
			tracer.SetOK(span)
			return resp.Message.Content, nil
		}

		if resp.Message.Content != "" {
			a.emit(w, log, "%s\n", resp.Message.Content)
		}
		for _, call := range resp.Message.ToolCalls {
			a.toolCount++
			a.emit(w, log, "\nTool #%d: %s\n", a.toolCount, call.Name)
		}

		// Execute tool calls in parallel.
		// Results are collected in an indexed array to preserve original call order.
		toolMsgs := make([]domain.Message, len(resp.Message.ToolCalls))
		var wg sync.WaitGroup
		for idx, call := range resp.Message.ToolCalls {
			wg.Add(1)
			go func() {
				defer wg.Done()
				toolMsgs[idx] = a.executeTool(ctx, call)
			}()
		}
		wg.Wait()
		messages = append(messages, toolMsgs...)
	}

	tracer.RecordError(span, domain.ErrMaxIterations)
	return "", domain.NewDomainError("Agent.Invoke", domain.ErrMaxIterations,
		fmt.Sprintf("no final answer after %d iterations", a.cfg.MaxIterations))
}

func (a *Agent) buildRequest(messages []domain.Message) domain.ChatRequest {
	req := domain.ChatRequest{
		Model:         a.opts.Model,
		Messages:      messages,
		Tools:         a.schemas,
		MaxTokens:     a.cfg.MaxTokens,
		Temperature:   a.opts.Temperature,
		TopP:          a.opts.TopP,
		StopSequences: a.opts.StopSequences,
	}
	if a.opts.MaxTokens != nil {
		req.MaxTokens = *a.opts.MaxTokens
	}
	return req
}

// chat performs one LLM call, retrying transient failures when configured.
func (a *Agent) chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	call := func(ctx context.Context) (*domain.ChatResponse, error) {
		llmCtx, llmSpan := tracer.StartSpan(ctx, "agent.llm_call")
		defer llmSpan.End()
		return a.cfg.LLM.Chat(llmCtx, req)
	}
	if a.cfg.Retry == nil || a.cfg.Retry.MaxRetries <= 0 {
		return call(ctx)
	}
	return RetryWithBackoff(ctx, *a.cfg.Retry, "llm.chat", domain.IsRetryableError, call)
}

func (a *Agent) recordModel(ctx context.Context, resp *domain.ChatResponse) {
	model := resp.Model
	if model == "" {
		model = a.opts.Model
	}
	a.mu.Lock()
	if model != "" {
		a.lastModel = model
	}
	a.mu.Unlock()
	a.cfg.Metrics.RecordTokens(ctx, model, int64(resp.Usage.PromptTokens), int64(resp.Usage.CompletionTokens))
}

// emit writes a diagnostic line. A writer that rejects the text (for example
// a released capture) is logged, not fatal.
func (a *Agent) emit(w io.Writer, log *slog.Logger, format string, args ...any) {
	if w == nil {
		return
	}
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		log.Debug("diagnostic output dropped", "error", err)
	}
}

// executeTool runs a single tool call and returns the result as a Message.
// It runs on its own goroutine, so a panicking tool is recovered here and
// reported to the model as a failed call.
func (a *Agent) executeTool(ctx context.Context, call domain.ToolCall) (msg domain.Message) {
	ctx, span := tracer.StartSpan(ctx, "agent.execute_tool",
		trace.WithAttributes(tracer.StringAttr("tool.name", call.Name)),
	)
	defer span.End()

	a.cfg.Metrics.RecordToolCall(ctx, a.ActiveModelID(), call.Name)

	msg = domain.Message{
		Role:      domain.RoleTool,
		Name:      call.Name,
		ToolCalls: []domain.ToolCall{{ID: call.ID, Name: call.Name}},
	}
	defer func() { span.SetAttributes(tracer.BoolAttr("tool.error", msg.ToolError)) }()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("tool %s panicked: %v", call.Name, r)
			tracer.RecordError(span, err)
			logger.ForRequest(ctx, a.cfg.Logger).Error("tool panic recovered", "tool", call.Name, "panic", r)
			msg.Content, msg.ToolError = err.Error(), true
			msg.Timestamp = time.Now()
		}
	}()

	t, ok := a.tools[call.Name]
	if !ok {
		err := domain.NewDomainError("Agent.executeTool", domain.ErrToolNotFound, call.Name)
		tracer.RecordError(span, err)
		msg.Content, msg.ToolError = err.Error(), true
		msg.Timestamp = time.Now()
		return msg
	}

	result, err := t.Execute(ctx, call.Arguments)
	switch {
	case err != nil:
		tracer.RecordError(span, err)
		msg.Content, msg.ToolError = err.Error(), true
	case result == nil:
		msg.Content, msg.ToolError = "tool returned no result", true
	default:
		if result.IsError {
			span.AddEvent("tool.error_result")
		} else {
			tracer.SetOK(span)
		}
		msg.Content, msg.ToolError = result.Content, result.IsError
	}
	msg.Timestamp = time.Now()
	return msg
}
