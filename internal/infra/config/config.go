package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultSystemPrompt is the assistant persona used when ASSISTANT_SYSTEM_PROMPT is unset.
const DefaultSystemPrompt = `You are a helpful AI assistant with access to a variety of tools.
Besides making HTTP requests, evaluating math expressions and reporting the current date and time,
you can generate hashes, format JSON, analyze text and call AWS services.
Always be courteous and use the available tools to give accurate information.`

// Config is the immutable per-process configuration snapshot.
type Config struct {
	DefaultTimeout  int    // seconds
	MaxPromptLength int    // characters
	MaxResponseSize int    // bytes
	DefaultModelID  string
	SystemPrompt    string

	EnableRequestValidation bool
	AllowedHashAlgorithms   []string
	SecureHashAlgorithms    []string

	EnableCustomTools   bool
	EnableHashGenerator bool
	EnableJSONFormatter bool
	EnableTextAnalyzer  bool
	EnableAWSAPITool    bool
	// EnableAWSTools gates use_aws, which can mutate resources. Off by
	// default, a deliberate change from the previous deployment's default of on.
	EnableAWSTools      bool
	EnableMCPServer     bool
	MCPServerURLs       []string

	AgentMaxIterations    int
	AgentMaxTokens        int
	LLMMaxRetries         int
	HTTPRequestsPerMinute int

	LogLevel  string
	LogFormat string

	LambdaMemory  int // MB
	LambdaTimeout int // minutes
}

// Defaults returns a Config with the hard-coded defaults.
func Defaults() *Config {
	return &Config{
		DefaultTimeout:  30,
		MaxPromptLength: 10000,
		MaxResponseSize: 1 << 20,
		DefaultModelID:  "us.amazon.nova-pro-v1:0",
		SystemPrompt:    DefaultSystemPrompt,

		EnableRequestValidation: true,
		AllowedHashAlgorithms:   []string{"sha256", "sha512", "sha3_256", "sha3_512"},
		SecureHashAlgorithms:    []string{"sha256", "sha512", "sha3_256", "sha3_512"},

		EnableCustomTools:   true,
		EnableHashGenerator: true,
		EnableJSONFormatter: true,
		EnableTextAnalyzer:  true,
		EnableAWSAPITool:    true,
		EnableAWSTools:      false,
		EnableMCPServer:     false,

		AgentMaxIterations:    10,
		AgentMaxTokens:        4096,
		LLMMaxRetries:         0,
		HTTPRequestsPerMinute: 60,

		LogLevel:  "INFO",
		LogFormat: "json",

		LambdaMemory:  1024,
		LambdaTimeout: 10,
	}
}

// LoggerConfig is the subset of Config the logger needs.
type LoggerConfig struct {
	Level  string
	Format string
	Output string // "stdout", "stderr" or a file path
}

// Logger returns the logger settings. Lambda ships stdout to CloudWatch.
func (c *Config) Logger() LoggerConfig {
	return LoggerConfig{Level: c.LogLevel, Format: c.LogFormat, Output: "stdout"}
}

// Timeout returns DefaultTimeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.DefaultTimeout) * time.Second
}

// binder reads and writes one Config field.
type binder interface {
	set(cfg *Config, raw string) error
	get(cfg *Config) any
}

type field[T any] struct {
	ptr   func(*Config) *T
	parse func(string) (T, error)
}

func (f field[T]) set(cfg *Config, raw string) error {
	v, err := f.parse(raw)
	if err != nil {
		return err
	}
	*f.ptr(cfg) = v
	return nil
}

func (f field[T]) get(cfg *Config) any { return *f.ptr(cfg) }

func boolField(ptr func(*Config) *bool) binder {
	return field[bool]{ptr: ptr, parse: parseBool}
}

func intField(ptr func(*Config) *int) binder {
	return field[int]{ptr: ptr, parse: strconv.Atoi}
}

func listField(ptr func(*Config) *[]string) binder {
	return field[[]string]{ptr: ptr, parse: parseList}
}

func stringField(ptr func(*Config) *string) binder {
	return field[string]{ptr: ptr, parse: func(s string) (string, error) { return s, nil }}
}

// setting maps one environment key onto a Config field.
type setting struct {
	key  string
	kind string
	bind binder
}

// schema lists every recognised setting in a stable order.
var schema = []setting{
	{"DEFAULT_TIMEOUT", "int", intField(func(c *Config) *int { return &c.DefaultTimeout })},
	{"MAX_PROMPT_LENGTH", "int", intField(func(c *Config) *int { return &c.MaxPromptLength })},
	{"MAX_RESPONSE_SIZE", "int", intField(func(c *Config) *int { return &c.MaxResponseSize })},
	{"DEFAULT_MODEL_ID", "string", stringField(func(c *Config) *string { return &c.DefaultModelID })},
	{"ASSISTANT_SYSTEM_PROMPT", "string", stringField(func(c *Config) *string { return &c.SystemPrompt })},
	{"ENABLE_REQUEST_VALIDATION", "bool", boolField(func(c *Config) *bool { return &c.EnableRequestValidation })},
	{"ALLOWED_HASH_ALGORITHMS", "list", listField(func(c *Config) *[]string { return &c.AllowedHashAlgorithms })},
	{"SECURE_HASH_ALGORITHMS", "list", listField(func(c *Config) *[]string { return &c.SecureHashAlgorithms })},
	{"ENABLE_CUSTOM_TOOLS", "bool", boolField(func(c *Config) *bool { return &c.EnableCustomTools })},
	{"ENABLE_HASH_GENERATOR", "bool", boolField(func(c *Config) *bool { return &c.EnableHashGenerator })},
	{"ENABLE_JSON_FORMATTER", "bool", boolField(func(c *Config) *bool { return &c.EnableJSONFormatter })},
	{"ENABLE_TEXT_ANALYZER", "bool", boolField(func(c *Config) *bool { return &c.EnableTextAnalyzer })},
	{"ENABLE_AWS_API_TOOL", "bool", boolField(func(c *Config) *bool { return &c.EnableAWSAPITool })},
	{"ENABLE_AWS_TOOLS", "bool", boolField(func(c *Config) *bool { return &c.EnableAWSTools })},
	{"ENABLE_MCP_SERVER", "bool", boolField(func(c *Config) *bool { return &c.EnableMCPServer })},
	{"MCP_SERVER_URLS", "list", listField(func(c *Config) *[]string { return &c.MCPServerURLs })},
	{"AGENT_MAX_ITERATIONS", "int", intField(func(c *Config) *int { return &c.AgentMaxIterations })},
	{"AGENT_MAX_TOKENS", "int", intField(func(c *Config) *int { return &c.AgentMaxTokens })},
	{"LLM_MAX_RETRIES", "int", intField(func(c *Config) *int { return &c.LLMMaxRetries })},
	{"HTTP_REQUESTS_PER_MINUTE", "int", intField(func(c *Config) *int { return &c.HTTPRequestsPerMinute })},
	{"LOG_LEVEL", "string", stringField(func(c *Config) *string { return &c.LogLevel })},
	{"LOG_FORMAT", "string", stringField(func(c *Config) *string { return &c.LogFormat })},
	{"LAMBDA_MEMORY", "int", intField(func(c *Config) *int { return &c.LambdaMemory })},
	{"LAMBDA_TIMEOUT", "int", intField(func(c *Config) *int { return &c.LambdaTimeout })},
}

// Load layers environment overrides onto Defaults and validates the result.
// A malformed value keeps that one setting at its default and is logged at WARN.
func Load(logger *slog.Logger) (*Config, error) {
	return load(os.LookupEnv, logger)
}

func load(lookup func(string) (string, bool), logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := Defaults()
	for _, s := range schema {
		raw, ok := lookup(s.key)
		if !ok {
			continue
		}
		if err := s.bind.set(cfg, raw); err != nil {
			logger.Warn("ignoring malformed setting",
				"key", s.key, "kind", s.kind, "error", err)
		}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefaults is Load that never fails: on a validation error it logs and
// returns pure defaults.
func LoadOrDefaults(logger *slog.Logger) *Config {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := Load(logger)
	if err != nil {
		logger.Error("configuration invalid, using defaults", "error", err)
		return Defaults()
	}
	return cfg
}

// String renders one KEY=value line per setting in schema order with
// sensitive keys masked. String values are quoted so multi-line prompts stay
// on one line.
func (c *Config) String() string {
	var b strings.Builder
	for i, s := range schema {
		if i > 0 {
			b.WriteByte('\n')
		}
		var v any = s.bind.get(c)
		if isSensitive(s.key) {
			v = "***MASKED***"
		}
		if str, ok := v.(string); ok {
			fmt.Fprintf(&b, "%s=%q", s.key, str)
			continue
		}
		fmt.Fprintf(&b, "%s=%v", s.key, v)
	}
	return b.String()
}

func isSensitive(key string) bool {
	return strings.Contains(key, "KEY") || strings.Contains(key, "SECRET") || strings.Contains(key, "PASSWORD")
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true, nil
	default:
		return false, nil
	}
}

// parseList splits a comma-separated value, trimming items and dropping empty ones.
func parseList(s string) ([]string, error) {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}
