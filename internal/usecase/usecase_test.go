package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"lambda-agent/internal/domain"
)

// --- Mocks ---

// mockLLM replays scripted responses; errs[i], when set, is returned for call i.
type mockLLM struct {
	mu        sync.Mutex
	responses []domain.ChatResponse
	errs      map[int]error
	requests  []domain.ChatRequest
	callIdx   int
}

func (m *mockLLM) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.callIdx
	m.callIdx++
	m.requests = append(m.requests, req)
	if err := m.errs[idx]; err != nil {
		return nil, err
	}
	if idx >= len(m.responses) {
		return &domain.ChatResponse{
			Message: domain.Message{Role: domain.RoleAssistant, Content: "fallback"},
		}, nil
	}
	resp := m.responses[idx]
	return &resp, nil
}

func (m *mockLLM) Name() string { return "mock" }

func (m *mockLLM) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callIdx
}

func (m *mockLLM) lastRequest() domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1]
}

type staticTool struct {
	name   string
	result string
	isErr  bool
}

func (t *staticTool) Name() string        { return t.name }
func (t *staticTool) Description() string { return "static test tool" }
func (t *staticTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name, Description: t.Description(), Parameters: json.RawMessage(`{"type":"object"}`)}
}
func (t *staticTool) Execute(_ context.Context, _ json.RawMessage) (*domain.ToolResult, error) {
	return &domain.ToolResult{Content: t.result, IsError: t.isErr}, nil
}

type errorTool struct {
	name string
}

func (t *errorTool) Name() string        { return t.name }
func (t *errorTool) Description() string { return "error test tool" }
func (t *errorTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name}
}
func (t *errorTool) Execute(_ context.Context, _ json.RawMessage) (*domain.ToolResult, error) {
	return nil, errors.New("tool exploded")
}

type panicTool struct {
	name string
}

func (t *panicTool) Name() string              { return t.name }
func (t *panicTool) Description() string       { return "panicking test tool" }
func (t *panicTool) Schema() domain.ToolSchema { return domain.ToolSchema{Name: t.name} }
func (t *panicTool) Execute(_ context.Context, _ json.RawMessage) (*domain.ToolResult, error) {
	panic("tool blew up")
}

// fakeAgent is a scripted collaborator for pipeline tests.
type fakeAgent struct {
	output   string // written to w before returning
	result   string
	err      error
	panicVal any
	model    string // reported via ActiveModelID when non-empty

	gotPrompt string
	gotWriter io.Writer
}

func (a *fakeAgent) Invoke(_ context.Context, prompt string, w io.Writer) (string, error) {
	a.gotPrompt = prompt
	a.gotWriter = w
	if a.output != "" {
		io.WriteString(w, a.output)
	}
	if a.panicVal != nil {
		panic(a.panicVal)
	}
	return a.result, a.err
}

// reportingAgent adds domain.ModelReporter to fakeAgent.
type reportingAgent struct {
	*fakeAgent
	reportPanic bool
}

func (a *reportingAgent) ActiveModelID() string {
	if a.reportPanic {
		panic("model object missing")
	}
	return a.model
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func toolCallMsg(content string, calls ...domain.ToolCall) domain.ChatResponse {
	return domain.ChatResponse{Message: domain.Message{
		Role:      domain.RoleAssistant,
		Content:   content,
		ToolCalls: calls,
	}}
}

func textMsg(content string) domain.ChatResponse {
	return domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, Content: content}}
}
