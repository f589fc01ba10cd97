package domain

import (
	"context"
	"io"
)

// AgentSpec is everything needed to construct an agent for one invocation.
type AgentSpec struct {
	SystemPrompt string
	Tools        []Tool
	// Overrides are forwarded verbatim from the request's model_config after
	// the default model has been injected.
	Overrides map[string]any
}

// Agent answers a single prompt. Diagnostic text produced while working is
// written to w; the returned string is the final answer.
type Agent interface {
	Invoke(ctx context.Context, prompt string, w io.Writer) (string, error)
}

// AgentFactory builds an Agent from a spec.
type AgentFactory func(spec AgentSpec) (Agent, error)

// ModelReporter is implemented by agents that can say which model actually
// served the request. An empty string means unknown.
type ModelReporter interface {
	ActiveModelID() string
}
