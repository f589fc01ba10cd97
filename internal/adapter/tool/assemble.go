package tool

import (
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"golang.org/x/time/rate"

	"lambda-agent/internal/domain"
	"lambda-agent/internal/infra/config"
)

// Deps are the process-lifetime collaborators tools are built from.
type Deps struct {
	Logger  *slog.Logger
	Limiter *rate.Limiter // shared http_request throttle
	AWS     aws.Config
	MCP     *MCPBridge   // nil when MCP is disabled or nothing connected
	Schemas *SchemaCache // compiled tool schemas, shared across invocations
}

// Assemble builds the active tool set for one invocation. The set and its
// order depend only on cfg: baseline tools first, then the custom tools,
// the AWS tools and finally any MCP-bridged tools.
func Assemble(cfg *config.Config, deps Deps) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout()

	tools := []domain.Tool{
		NewHTTPRequestTool(timeout, int64(cfg.MaxResponseSize), deps.Limiter, logger),
		NewCalculatorTool(logger),
		NewClockTool(logger),
	}
	if cfg.EnableCustomTools {
		if cfg.EnableHashGenerator {
			tools = append(tools, NewHashTool(cfg.AllowedHashAlgorithms, cfg.SecureHashAlgorithms, logger))
		}
		if cfg.EnableJSONFormatter {
			tools = append(tools, NewJSONFormatterTool(logger))
		}
		if cfg.EnableTextAnalyzer {
			tools = append(tools, NewTextAnalyzerTool(logger))
		}
	}
	if cfg.EnableAWSAPITool {
		tools = append(tools, NewAWSAPITool(deps.AWS, timeout, logger))
	}
	if cfg.EnableAWSTools {
		tools = append(tools, NewUseAWSTool(deps.AWS, timeout, logger))
	}
	if cfg.EnableMCPServer {
		tools = append(tools, deps.MCP.Tools()...)
	}

	reg := NewCachedRegistry(logger, deps.Schemas)
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			logger.Warn("skipping tool", "tool", t.Name(), "error", err)
		}
	}
	return reg
}
