package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for range errors. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLimits(cfg, ve)
	validateLambda(cfg, ve)
	validateAgent(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateLimits(cfg *Config, ve *ValidationError) {
	if cfg.MaxPromptLength <= 0 {
		ve.Add("MAX_PROMPT_LENGTH must be positive")
	}
	if cfg.DefaultTimeout <= 0 {
		ve.Add("DEFAULT_TIMEOUT must be positive")
	}
	if cfg.MaxResponseSize <= 0 {
		ve.Add("MAX_RESPONSE_SIZE must be positive")
	}
	if cfg.HTTPRequestsPerMinute <= 0 {
		ve.Add("HTTP_REQUESTS_PER_MINUTE must be positive")
	}
}

func validateLambda(cfg *Config, ve *ValidationError) {
	if cfg.LambdaMemory < 128 || cfg.LambdaMemory > 10240 {
		ve.Add("LAMBDA_MEMORY must be between 128 and 10240")
	}
	if cfg.LambdaTimeout < 1 || cfg.LambdaTimeout > 15 {
		ve.Add("LAMBDA_TIMEOUT must be between 1 and 15 minutes")
	}
}

func validateAgent(cfg *Config, ve *ValidationError) {
	if cfg.DefaultModelID == "" {
		ve.Add("DEFAULT_MODEL_ID cannot be empty")
	}
	if cfg.AgentMaxIterations <= 0 {
		ve.Add("AGENT_MAX_ITERATIONS must be positive")
	}
	if cfg.AgentMaxTokens <= 0 {
		ve.Add("AGENT_MAX_TOKENS must be positive")
	}
	if cfg.LLMMaxRetries < 0 {
		ve.Add("LLM_MAX_RETRIES must not be negative")
	}
}
