package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"lambda-agent/internal/domain"
	"lambda-agent/internal/infra/tracer"
	"lambda-agent/internal/security"
)

const maxRedirects = 5

// HTTPRequestTool performs outbound HTTP requests with SSRF protection,
// a response size cap and a process-wide request rate limit.
type HTTPRequestTool struct {
	client         *http.Client
	limiter        *rate.Limiter
	defaultTimeout time.Duration
	maxBodySize    int64
	logger         *slog.Logger
}

// NewHTTPRequestTool creates the http_request tool. limiter may be nil to disable throttling.
func NewHTTPRequestTool(defaultTimeout time.Duration, maxBodySize int64, limiter *rate.Limiter, logger *slog.Logger) *HTTPRequestTool {
	return &HTTPRequestTool{
		client: &http.Client{
			Transport: security.NewSSRFSafeTransport(defaultTimeout),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects")
				}
				return security.ValidateURL(req.Context(), req.URL.String())
			},
		},
		limiter:        limiter,
		defaultTimeout: defaultTimeout,
		maxBodySize:    maxBodySize,
		logger:         logger,
	}
}

// NewRequestLimiter returns a limiter allowing perMinute requests per minute
// with a burst of the same size.
func NewRequestLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

func (t *HTTPRequestTool) Name() string { return "http_request" }
func (t *HTTPRequestTool) Description() string {
	return "Send an HTTP request to an external API and return the status code, headers and body. " +
		"Object bodies are sent as JSON. Requests to private or internal addresses are blocked."
}

func (t *HTTPRequestTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url": {"type": "string", "description": "The URL to send the request to"},
				"method": {"type": "string", "enum": ["GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"], "description": "HTTP method (default: GET)"},
				"headers": {"type": "object", "additionalProperties": {"type": "string"}, "description": "Additional HTTP headers"},
				"body": {"type": ["string", "object"], "description": "Request body; objects are encoded as JSON"},
				"timeout": {"type": "integer", "minimum": 1, "maximum": 300, "description": "Timeout in seconds"}
			},
			"required": ["url"]
		}`),
	}
}

type httpRequestParams struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
	Timeout int               `json:"timeout,omitempty"`
}

type httpRequestResult struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       any               `json:"body"`
	Truncated  bool              `json:"truncated,omitempty"`
	Error      string            `json:"error,omitempty"`
}

func (t *HTTPRequestTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.http_request", t.logger, params,
		func(ctx context.Context, span trace.Span, p httpRequestParams) (any, error) {
			method := strings.ToUpper(p.Method)
			if method == "" {
				method = http.MethodGet
			}
			if err := ValidateAll(
				RequireField("url", p.URL),
				ValidateEnum("method", method, "GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"),
			); err != nil {
				return ErrResult("%v", err)
			}
			if err := security.ValidateURL(ctx, p.URL); err != nil {
				return nil, err
			}

			timeout := t.defaultTimeout
			if p.Timeout > 0 {
				timeout = time.Duration(p.Timeout) * time.Second
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			body, contentType, err := encodeBody(p.Body)
			if err != nil {
				return ErrResult("%v", err)
			}

			req, err := http.NewRequestWithContext(ctx, method, p.URL, body)
			if err != nil {
				return nil, fmt.Errorf("create request: %v", err)
			}
			for k, v := range p.Headers {
				if containsCRLF(k) || containsCRLF(v) {
					return ErrResult("invalid header: CRLF characters not allowed")
				}
				req.Header.Set(k, v)
			}
			if contentType != "" && req.Header.Get("Content-Type") == "" {
				req.Header.Set("Content-Type", contentType)
			}

			if t.limiter != nil {
				if err := t.limiter.Wait(ctx); err != nil {
					return nil, domain.NewDomainError("HTTPRequest.Execute", domain.ErrRateLimit, err.Error())
				}
			}

			resp, err := t.client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("request failed: %w", err)
			}
			defer resp.Body.Close()

			raw, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodySize+1))
			if err != nil {
				return nil, fmt.Errorf("read body: %w", err)
			}
			result := httpRequestResult{
				StatusCode: resp.StatusCode,
				Headers:    flattenHeaders(resp.Header),
			}
			if int64(len(raw)) > t.maxBodySize {
				raw = raw[:t.maxBodySize]
				result.Truncated = true
			}
			result.Body = decodeBody(raw)
			if resp.StatusCode >= 400 {
				result.Error = fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
			}

			span.SetAttributes(
				tracer.StringAttr("http.method", method),
				tracer.IntAttr("http.status_code", resp.StatusCode),
			)
			t.logger.Debug("http request completed",
				"method", method, "url", p.URL, "status", resp.StatusCode, "size", len(raw))
			return result, nil
		},
	)
}

// encodeBody turns a string or object body into a reader. Objects are sent as JSON.
func encodeBody(raw json.RawMessage) (io.Reader, string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, "", nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, "", fmt.Errorf("invalid body: %v", err)
		}
		return strings.NewReader(s), "", nil
	case '{', '[':
		return bytes.NewReader(trimmed), "application/json", nil
	default:
		return nil, "", fmt.Errorf("invalid body: must be a string or an object")
	}
}

// decodeBody returns the JSON value when the body parses as JSON, otherwise the text.
func decodeBody(raw []byte) any {
	var v any
	if len(raw) > 0 && json.Unmarshal(raw, &v) == nil {
		return v
	}
	return string(raw)
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[k] = strings.Join(vs, ", ")
	}
	return out
}

// containsCRLF checks if a string contains CRLF characters that could be used for header injection.
func containsCRLF(s string) bool {
	return strings.ContainsAny(s, "\r\n")
}
