package config

import (
	"strings"
	"testing"
)

func TestValidateDefaultsPass(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Defaults should pass validation: %v", err)
	}
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"prompt length zero", func(c *Config) { c.MaxPromptLength = 0 }, "MAX_PROMPT_LENGTH must be positive"},
		{"timeout negative", func(c *Config) { c.DefaultTimeout = -1 }, "DEFAULT_TIMEOUT must be positive"},
		{"memory low", func(c *Config) { c.LambdaMemory = 127 }, "LAMBDA_MEMORY must be between 128 and 10240"},
		{"memory high", func(c *Config) { c.LambdaMemory = 10241 }, "LAMBDA_MEMORY must be between 128 and 10240"},
		{"minutes low", func(c *Config) { c.LambdaTimeout = 0 }, "LAMBDA_TIMEOUT must be between 1 and 15 minutes"},
		{"minutes high", func(c *Config) { c.LambdaTimeout = 16 }, "LAMBDA_TIMEOUT must be between 1 and 15 minutes"},
		{"empty model", func(c *Config) { c.DefaultModelID = "" }, "DEFAULT_MODEL_ID cannot be empty"},
		{"iterations", func(c *Config) { c.AgentMaxIterations = 0 }, "AGENT_MAX_ITERATIONS must be positive"},
		{"retries", func(c *Config) { c.LLMMaxRetries = -2 }, "LLM_MAX_RETRIES must not be negative"},
		{"rate", func(c *Config) { c.HTTPRequestsPerMinute = 0 }, "HTTP_REQUESTS_PER_MINUTE must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			assertContains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateBoundariesPass(t *testing.T) {
	cfg := Defaults()
	cfg.LambdaMemory = 128
	cfg.LambdaTimeout = 15
	if err := Validate(cfg); err != nil {
		t.Fatalf("boundary values should pass: %v", err)
	}
	cfg.LambdaMemory = 10240
	cfg.LambdaTimeout = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("boundary values should pass: %v", err)
	}
}

func TestValidationErrorAccumulates(t *testing.T) {
	cfg := Defaults()
	cfg.MaxPromptLength = 0
	cfg.DefaultModelID = ""
	err := Validate(cfg)
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(ve.Errors) != 2 {
		t.Errorf("Errors = %v, want 2 entries", ve.Errors)
	}
	assertContains(t, err.Error(), "config validation failed")
}

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}
