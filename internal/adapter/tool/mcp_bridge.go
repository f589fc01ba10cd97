package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"lambda-agent/internal/domain"
)

// mcpCallTimeout is the default per-call timeout for MCP tool execution.
const mcpCallTimeout = 30 * time.Second

// MCPBridge holds connections to remote MCP servers and exposes their tools
// as domain.Tool instances. It is built once per warm instance.
type MCPBridge struct {
	servers []mcpServerConn
	tools   []domain.Tool
	logger  *slog.Logger
	mu      sync.RWMutex
}

type mcpServerConn struct {
	name   string
	client mcpClient
}

// mcpClient abstracts the MCP client interface for testability.
type mcpClient interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// mcpDialer opens a client for one server URL.
type mcpDialer func(ctx context.Context, rawURL string) (mcpClient, error)

// ConnectMCP connects to every URL over streamable HTTP and discovers tools.
// Servers that fail to connect or list tools are logged and skipped; the
// returned bridge may therefore expose no tools.
func ConnectMCP(ctx context.Context, urls []string, logger *slog.Logger) *MCPBridge {
	return connectMCP(ctx, urls, dialStreamableHTTP, logger)
}

func connectMCP(ctx context.Context, urls []string, dial mcpDialer, logger *slog.Logger) *MCPBridge {
	b := &MCPBridge{logger: logger}
	names := serverNames(urls)
	conns := make([]*mcpServerConn, len(urls))

	var g errgroup.Group
	for i, u := range urls {
		g.Go(func() error {
			c, err := dial(ctx, u)
			if err != nil {
				logger.Warn("mcp server unavailable, skipping", "server", names[i], "url", u, "error", err)
				return nil
			}
			logger.Info("mcp server connected", "server", names[i], "url", u)
			conns[i] = &mcpServerConn{name: names[i], client: c}
			return nil
		})
	}
	_ = g.Wait()

	for _, c := range conns {
		if c != nil {
			b.servers = append(b.servers, *c)
		}
	}
	b.discoverTools(ctx)
	return b
}

// newMCPBridgeWithClients creates an MCPBridge with pre-built clients (for testing).
func newMCPBridgeWithClients(ctx context.Context, servers []mcpServerConn, logger *slog.Logger) *MCPBridge {
	b := &MCPBridge{servers: servers, logger: logger}
	b.discoverTools(ctx)
	return b
}

func dialStreamableHTTP(ctx context.Context, rawURL string) (mcpClient, error) {
	t, err := transport.NewStreamableHTTP(rawURL)
	if err != nil {
		return nil, fmt.Errorf("create http transport: %w", err)
	}
	c := mcpclient.NewClient(t)
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("start http client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "lambda-agent",
		Version: "1.0.0",
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, domain.WrapOp("initialize", err)
	}
	return c, nil
}

func (b *MCPBridge) discoverTools(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, srv := range b.servers {
		result, err := srv.client.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			b.logger.Warn("mcp server discovery failed, skipping",
				"server", srv.name,
				"error", err,
			)
			continue
		}

		for _, t := range result.Tools {
			adapter := newMCPToolAdapter(srv.name, srv.client, t, b.logger)
			b.tools = append(b.tools, adapter)
			b.logger.Debug("mcp tool discovered",
				"server", srv.name,
				"tool", t.Name,
				"full_name", adapter.Name())
		}
		b.logger.Info("mcp tools discovered", "server", srv.name, "count", len(result.Tools))
	}
}

// Tools returns the discovered tools in server-then-discovery order.
// A nil bridge has no tools.
func (b *MCPBridge) Tools() []domain.Tool {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]domain.Tool(nil), b.tools...)
}

// Close shuts down all MCP server connections.
func (b *MCPBridge) Close() {
	if b == nil {
		return
	}
	for _, srv := range b.servers {
		if err := srv.client.Close(); err != nil {
			b.logger.Warn("mcp server close error", "server", srv.name, "error", err)
		}
	}
}

// serverNames derives a short name per URL from its host, suffixing
// duplicates with their position.
func serverNames(urls []string) []string {
	names := make([]string, len(urls))
	seen := make(map[string]int)
	for i, raw := range urls {
		name := "server"
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			name = strings.ToLower(u.Hostname())
			name, _, _ = strings.Cut(name, ".")
		}
		name = sanitizeName(name)
		seen[name]++
		if seen[name] > 1 {
			name = fmt.Sprintf("%s%d", name, seen[name])
		}
		names[i] = name
	}
	return names
}

// mcpToolAdapter wraps a single MCP tool as a domain.Tool.
type mcpToolAdapter struct {
	serverName string
	client     mcpClient
	mcpTool    mcp.Tool
	fullName   string
	logger     *slog.Logger
}

func newMCPToolAdapter(serverName string, client mcpClient, t mcp.Tool, logger *slog.Logger) *mcpToolAdapter {
	return &mcpToolAdapter{
		serverName: serverName,
		client:     client,
		mcpTool:    t,
		fullName:   fmt.Sprintf("mcp_%s_%s", sanitizeName(serverName), sanitizeName(t.Name)),
		logger:     logger,
	}
}

func (a *mcpToolAdapter) Name() string { return a.fullName }

func (a *mcpToolAdapter) Description() string {
	if a.mcpTool.Description != "" {
		return a.mcpTool.Description
	}
	return fmt.Sprintf("MCP tool %q from server %q", a.mcpTool.Name, a.serverName)
}

func (a *mcpToolAdapter) Schema() domain.ToolSchema {
	params := json.RawMessage(`{"type": "object"}`)
	if a.mcpTool.InputSchema.Properties != nil || a.mcpTool.InputSchema.Required != nil {
		if data, err := json.Marshal(a.mcpTool.InputSchema); err == nil {
			params = data
		}
	}
	return domain.ToolSchema{
		Name:        a.fullName,
		Description: a.Description(),
		Parameters:  params,
	}
}

func (a *mcpToolAdapter) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	args, bad := ParseParams[map[string]any](params)
	if bad != nil {
		return bad, nil
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = a.mcpTool.Name
	callReq.Params.Arguments = args

	a.logger.Debug("mcp tool call", "server", a.serverName, "tool", a.mcpTool.Name)

	callCtx, cancel := context.WithTimeout(ctx, mcpCallTimeout)
	defer cancel()

	result, err := a.client.CallTool(callCtx, callReq)
	if err != nil {
		return &domain.ToolResult{
			Content:     fmt.Sprintf("MCP tool error: %v", err),
			IsError:     true,
			IsRetryable: true,
		}, nil
	}
	return &domain.ToolResult{
		Content: extractMCPContent(result),
		IsError: result.IsError,
	}, nil
}

// extractMCPContent joins text parts; other content kinds are rendered as JSON.
func extractMCPContent(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// sanitizeName replaces characters that aren't valid in tool names.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
