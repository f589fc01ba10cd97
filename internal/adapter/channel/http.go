package channel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"

	"lambda-agent/internal/domain"
	"lambda-agent/internal/infra/middleware"
)

const maxRequestBody = 1 << 20

// Invoker handles one raw Lambda event.
type Invoker interface {
	Handle(ctx context.Context, raw json.RawMessage) domain.Envelope
}

// HTTPOptions tune the emulator.
type HTTPOptions struct {
	RequestsPerMin int // per client IP, 0 = 60
	Burst          int // 0 = 10
	CORS           *middleware.CORSConfig
	NewID          func() string // request IDs
}

// HTTPChannel emulates a Lambda Function URL locally: each POST is turned
// into a Function URL event, handed to the invoker, and the returned
// envelope is written back as the HTTP response.
type HTTPChannel struct {
	addr    string
	invoker Invoker
	logger  *slog.Logger
	opts    HTTPOptions

	server    *http.Server
	boundAddr string
	cancel    context.CancelFunc
}

// NewHTTPChannel creates the emulator listening on addr.
func NewHTTPChannel(addr string, invoker Invoker, logger *slog.Logger, opts HTTPOptions) *HTTPChannel {
	if opts.RequestsPerMin <= 0 {
		opts.RequestsPerMin = 60
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	if opts.CORS == nil {
		cors := middleware.DefaultCORS()
		opts.CORS = &cors
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return fmt.Sprintf("local-%d", time.Now().UnixNano()) }
	}
	return &HTTPChannel{addr: addr, invoker: invoker, logger: logger, opts: opts}
}

// Handler returns the emulator's handler wrapped in security headers, CORS
// and per-IP rate limiting. ctx bounds the rate limiter's sweeper.
func (h *HTTPChannel) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/", h.handleInvoke)

	return middleware.SecurityHeaders(
		middleware.CORS(*h.opts.CORS)(
			middleware.RateLimit(ctx, middleware.RateLimitConfig{
				RequestsPerMin: h.opts.RequestsPerMin,
				BurstSize:      h.opts.Burst,
			})(mux),
		),
	)
}

// Start begins serving. Non-blocking (starts in goroutine).
func (h *HTTPChannel) Start(ctx context.Context) error {
	ctx, h.cancel = context.WithCancel(ctx)

	h.server = &http.Server{
		Addr:              h.addr,
		Handler:           h.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Agent invocations can run for minutes, like the real function.
		WriteTimeout: 15 * time.Minute,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		h.cancel()
		return fmt.Errorf("listen %s: %w", h.addr, err)
	}
	h.boundAddr = ln.Addr().String()

	go func() {
		h.logger.Info("function url emulator started", "addr", h.boundAddr)
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("http server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (h *HTTPChannel) Addr() string { return h.boundAddr }

// Stop gracefully shuts down the server.
func (h *HTTPChannel) Stop(ctx context.Context) error {
	if h.cancel != nil {
		h.cancel()
	}
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

func (h *HTTPChannel) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large (max 1MB)")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	requestID := h.opts.NewID()
	raw, err := json.Marshal(toFunctionURLEvent(r, payload, requestID))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "encode event: "+err.Error())
		return
	}

	ctx := domain.ContextWithRequestID(r.Context(), requestID)
	env := h.invoker.Handle(ctx, raw)

	for k, v := range env.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("X-Amzn-RequestId", requestID)
	w.WriteHeader(env.StatusCode)
	io.WriteString(w, env.Body)
}

func (h *HTTPChannel) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// toFunctionURLEvent builds the payload a Function URL would deliver for r.
// Non-UTF-8 bodies are base64 encoded as the real service does.
func toFunctionURLEvent(r *http.Request, body []byte, requestID string) events.LambdaFunctionURLRequest {
	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		headers[strings.ToLower(k)] = strings.Join(v, ",")
	}
	sourceIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(sourceIP); err == nil {
		sourceIP = host
	}
	now := time.Now()

	ev := events.LambdaFunctionURLRequest{
		Version:        "2.0",
		RawPath:        r.URL.Path,
		RawQueryString: r.URL.RawQuery,
		Headers:        headers,
		RequestContext: events.LambdaFunctionURLRequestContext{
			RequestID: requestID,
			Time:      now.UTC().Format("02/Jan/2006:15:04:05 -0700"),
			TimeEpoch: now.UnixMilli(),
			HTTP: events.LambdaFunctionURLRequestContextHTTPDescription{
				Method:    r.Method,
				Path:      r.URL.Path,
				Protocol:  r.Proto,
				SourceIP:  sourceIP,
				UserAgent: r.UserAgent(),
			},
		},
	}
	if utf8.Valid(body) {
		ev.Body = string(body)
	} else {
		ev.Body = base64.StdEncoding.EncodeToString(body)
		ev.IsBase64Encoded = true
	}
	return ev
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}
