package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"lambda-agent/internal/adapter/channel"
	"lambda-agent/internal/adapter/llm"
	"lambda-agent/internal/adapter/tool"
	"lambda-agent/internal/domain"
	"lambda-agent/internal/infra/config"
	"lambda-agent/internal/infra/logger"
	"lambda-agent/internal/infra/tracer"
	"lambda-agent/internal/usecase"
)

// app holds the process-lifetime components built once per cold start.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	pipeline *usecase.Pipeline
	closers  []func(context.Context) error
}

func newApp(ctx context.Context) (*app, error) {
	bootstrap := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	// 1. Config
	rt, err := config.LoadRuntime(ctx)
	if err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	cfg := config.LoadOrDefaults(bootstrap)

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger())
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a := &app{cfg: cfg, logger: log}
	a.closers = append(a.closers, func(context.Context) error { return logCloser() })

	tracerShutdown, err := tracer.Setup(ctx, rt.Tracer)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("tracer: %w", err)
	}
	a.closers = append(a.closers, tracerShutdown)

	// 3. AWS & LLM
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(rt.Region),
		awsconfig.WithHTTPClient(llm.NewHTTPClient(10*time.Second, time.Duration(cfg.LambdaTimeout)*time.Minute)),
	)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("aws config: %w", err)
	}

	var provider domain.LLMProvider = llm.NewBedrockProvider(awsCfg, cfg.DefaultModelID, log)
	if rt.CircuitBreaker.Enabled {
		provider = llm.NewCircuitBreakerProvider(provider, rt.CircuitBreaker, log)
	}

	// 4. Tools
	var mcp *tool.MCPBridge
	if cfg.EnableMCPServer {
		mcp = tool.ConnectMCP(ctx, cfg.MCPServerURLs, log)
		a.closers = append(a.closers, func(context.Context) error { mcp.Close(); return nil })
	}
	deps := tool.Deps{
		Logger:  log,
		Limiter: tool.NewRequestLimiter(cfg.HTTPRequestsPerMinute),
		AWS:     awsCfg,
		MCP:     mcp,
		Schemas: tool.NewSchemaCache(),
	}

	// 5. Agent & pipeline
	metrics := tracer.NewGenAI()
	agentCfg := usecase.AgentConfig{
		LLM:           provider,
		Logger:        log,
		Metrics:       metrics,
		MaxIterations: cfg.AgentMaxIterations,
		MaxTokens:     cfg.AgentMaxTokens,
	}
	if cfg.LLMMaxRetries > 0 {
		retry := usecase.DefaultRetryConfig()
		retry.MaxRetries = cfg.LLMMaxRetries
		agentCfg.Retry = &retry
	}

	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Config: cfg,
		Assemble: func(c *config.Config) []domain.Tool {
			return tool.Assemble(c, deps).List()
		},
		Factory: usecase.NewAgentFactory(agentCfg),
		Logger:  log,
		Metrics: metrics,
	})

	log.Info("agent initialized",
		"region", rt.Region,
		"model", cfg.DefaultModelID,
		"in_lambda", rt.InLambda(),
		"circuit_breaker", rt.CircuitBreaker.Enabled,
		"retries", cfg.LLMMaxRetries,
	)
	log.Debug("configuration", "settings", cfg.String())
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && a.logger != nil {
			a.logger.Warn("shutdown error", "error", err)
		}
	}
	a.closers = nil
}

// lambdaHandler adapts an invoker to the Lambda runtime, tagging the
// context with the platform's request ID.
func lambdaHandler(inv channel.Invoker) func(context.Context, json.RawMessage) (domain.Envelope, error) {
	return func(ctx context.Context, raw json.RawMessage) (domain.Envelope, error) {
		if lc, ok := lambdacontext.FromContext(ctx); ok {
			ctx = withInvocationID(ctx, lc.AwsRequestID)
		}
		return inv.Handle(ctx, raw), nil
	}
}

func withInvocationID(ctx context.Context, id string) context.Context {
	return domain.ContextWithRequestID(ctx, id)
}

// localEvent builds a Function URL style event carrying prompt as its body.
func localEvent(prompt string) (json.RawMessage, error) {
	body, err := json.Marshal(domain.InboundRequest{Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	raw, err := json.Marshal(map[string]string{"body": string(body)})
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return raw, nil
}
