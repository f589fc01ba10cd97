package usecase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"

	"lambda-agent/internal/domain"
	"lambda-agent/internal/infra/config"
	"lambda-agent/internal/infra/logger"
	"lambda-agent/internal/infra/tracer"
	"lambda-agent/internal/security"
)

// ToolAssembler builds the ordered tool set for one invocation from cfg.
type ToolAssembler func(cfg *config.Config) []domain.Tool

// PanicError is a recovered panic surfaced as an internal error.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// PipelineDeps holds injected dependencies for the pipeline.
type PipelineDeps struct {
	Config   *config.Config
	Assemble ToolAssembler
	Factory  domain.AgentFactory
	Logger   *slog.Logger
	Metrics  *tracer.GenAI // optional
}

// Pipeline turns one raw Lambda event into one response envelope.
type Pipeline struct {
	deps PipelineDeps
}

// NewPipeline creates a pipeline. A nil Config falls back to config.Defaults().
func NewPipeline(deps PipelineDeps) *Pipeline {
	if deps.Config == nil {
		deps.Config = config.Defaults()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Pipeline{deps: deps}
}

// Handle processes one invocation. It never returns an error and never
// panics: every failure is rendered as a 4xx or 5xx envelope.
func (p *Pipeline) Handle(ctx context.Context, raw json.RawMessage) (env domain.Envelope) {
	ctx, span := tracer.StartSpan(ctx, "pipeline.handle")
	defer span.End()
	log := logger.ForRequest(ctx, p.deps.Logger)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err := &PanicError{Value: r}
			log.Error("pipeline panic recovered", "panic", r)
			env = p.failure(span, log, err)
		}
		span.SetAttributes(tracer.IntAttr("http.status_code", env.StatusCode))
		p.deps.Metrics.RecordInvocation(ctx, env.StatusCode)
		log.Info("invocation completed", "status", env.StatusCode, "duration", time.Since(start))
	}()

	data, err := p.handle(ctx, raw, log)
	if err != nil {
		return p.failure(span, log, err)
	}
	tracer.SetOK(span)
	return FormatResponse(true, data, "", http.StatusOK)
}

func (p *Pipeline) handle(ctx context.Context, raw json.RawMessage, log *slog.Logger) (map[string]any, error) {
	cfg := p.deps.Config

	// 1. Parse.
	req, err := parseEvent(raw)
	if err != nil {
		return nil, err
	}

	// 2. Validate.
	if err := ValidatePrompt(req.Prompt, cfg.MaxPromptLength, cfg.EnableRequestValidation); err != nil {
		return nil, err
	}
	prompt := req.Prompt.(string)
	log.Info("processing prompt", "prompt", truncateRunes(prompt, 100), "length", utf8.RuneCountInString(prompt))

	// 3. Configure model.
	overrides := maps.Clone(req.ModelConfig)
	if overrides == nil {
		overrides = make(map[string]any)
	}
	if _, ok := overrides["model"]; !ok && cfg.DefaultModelID != "" {
		overrides["model"] = cfg.DefaultModelID
	}

	// 4. Assemble tools.
	var tools []domain.Tool
	if p.deps.Assemble != nil {
		tools = p.deps.Assemble(cfg)
	}
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	log.Debug("tools assembled", "tools", names)

	// 5. Invoke collaborator inside a scoped capture.
	if p.deps.Factory == nil {
		return nil, domain.NewDomainError("Pipeline.handle", domain.ErrInvalidInput, "no agent factory")
	}
	agent, err := p.deps.Factory(domain.AgentSpec{
		SystemPrompt: cfg.SystemPrompt,
		Tools:        tools,
		Overrides:    overrides,
	})
	if err != nil {
		return nil, domain.WrapOp("create agent", err)
	}

	final, captured, err := WithCapture(func(c *Capture) (string, error) {
		return agent.Invoke(ctx, prompt, c)
	})
	if err != nil {
		return nil, domain.WrapOp("invoke agent", err)
	}
	if captured != "" {
		log.Info("agent output captured", "output", captured)
	}

	// 6. Merge output.
	response := mergeOutput(captured, final)

	// 7. Determine model used.
	model := p.modelUsed(agent, overrides, log)

	data := map[string]any{
		"response": response,
		"prompt":   prompt,
	}
	if model != "" {
		data["model_used"] = model
	}
	return data, nil
}

// failure renders err as a 400 or 500 envelope according to its kind.
func (p *Pipeline) failure(span trace.Span, log *slog.Logger, err error) domain.Envelope {
	tracer.RecordError(span, err)
	kind := domain.KindOf(err)
	switch kind {
	case domain.KindInvalidRequestFormat:
		log.Warn("invalid request format", "error", err)
		return FormatResponse(false, map[string]any{
			"message": security.SanitizeError(err, false),
			"type":    string(kind),
		}, string(kind), http.StatusBadRequest)
	case domain.KindValidation:
		log.Warn("prompt validation failed", "error", err)
		return FormatResponse(false, map[string]any{
			"type": string(kind),
		}, err.Error(), http.StatusBadRequest)
	default:
		log.Error("invocation failed", "error", err, "type", domain.KindName(err))
		return FormatResponse(false, map[string]any{
			"message": security.SanitizeError(err, true),
			"type":    domain.KindName(err),
		}, string(domain.KindInternal), http.StatusInternalServerError)
	}
}

// modelUsed resolves the reported model: the agent's own report, then the
// "model" override, then the configured default. It never fails.
func (p *Pipeline) modelUsed(agent domain.Agent, overrides map[string]any, log *slog.Logger) (model string) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("model introspection failed", "panic", r)
			model = p.deps.Config.DefaultModelID
		}
	}()
	if r, ok := agent.(domain.ModelReporter); ok {
		if id := r.ActiveModelID(); id != "" {
			return id
		}
	}
	if m, ok := overrides["model"].(string); ok && m != "" {
		return m
	}
	return p.deps.Config.DefaultModelID
}

// parseEvent extracts the request from a raw event. A string body is decoded
// (base64 first when flagged) and parsed as JSON; an absent body is treated
// as an empty object. The body's prompt wins over the event's.
func parseEvent(raw json.RawMessage) (domain.InboundRequest, error) {
	var req domain.InboundRequest

	var ev domain.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return req, formatError("event", err)
	}

	body, err := eventBody(ev)
	if err != nil {
		return req, err
	}

	if v, ok := body["prompt"]; ok {
		req.Prompt = v
	} else {
		req.Prompt = ev.Prompt
	}

	switch mc := body["model_config"].(type) {
	case nil:
	case map[string]any:
		req.ModelConfig = mc
	default:
		return req, domain.NewDomainError("parse model_config", domain.ErrInvalidRequestFormat,
			fmt.Sprintf("model_config must be an object, got %T", mc))
	}
	return req, nil
}

func eventBody(ev domain.Event) (map[string]any, error) {
	raw := ev.Body
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, formatError("body", err)
		}
		if ev.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, formatError("base64 body", err)
			}
			s = string(decoded)
		}
		raw = json.RawMessage(s)
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, formatError("body", err)
	}
	if body == nil {
		body = map[string]any{}
	}
	return body, nil
}

func formatError(what string, err error) error {
	return domain.NewDomainError("parse "+what, domain.ErrInvalidRequestFormat, err.Error())
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
