package tool

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"hash"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/sha3"

	"lambda-agent/internal/domain"
	"lambda-agent/internal/infra/tracer"
)

var hashFactories = map[string]func() hash.Hash{
	"md5":      md5.New,
	"sha1":     sha1.New,
	"sha256":   sha256.New,
	"sha512":   sha512.New,
	"sha3_256": sha3.New256,
	"sha3_512": sha3.New512,
}

// HashTool computes hex digests of text with a configurable algorithm allow-list.
type HashTool struct {
	allowed []string
	secure  []string
	logger  *slog.Logger
}

// NewHashTool creates the generate_hash tool. Names in allowed that the tool
// does not implement are ignored.
func NewHashTool(allowed, secure []string, logger *slog.Logger) *HashTool {
	usable := []string{}
	for _, a := range allowed {
		a = strings.ToLower(a)
		if _, ok := hashFactories[a]; ok && !slices.Contains(usable, a) {
			usable = append(usable, a)
		}
	}
	return &HashTool{allowed: usable, secure: secure, logger: logger}
}

func (t *HashTool) Name() string { return "generate_hash" }
func (t *HashTool) Description() string {
	return "Generate a hex hash digest of text. Supported algorithms: " + strings.Join(t.allowed, ", ") + "."
}

func (t *HashTool) Schema() domain.ToolSchema {
	enum, _ := json.Marshal(t.allowed)
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"text": {"type": "string", "description": "The text to hash"},
				"algorithm": {"type": "string", "enum": ` + string(enum) + `, "description": "Hash algorithm (default: sha256)"}
			},
			"required": ["text"]
		}`),
	}
}

type hashParams struct {
	Text      *string `json:"text"`
	Algorithm string  `json:"algorithm,omitempty"`
}

type hashResult struct {
	Algorithm      string `json:"algorithm"`
	Hash           string `json:"hash"`
	OriginalLength int    `json:"original_length"`
	Secure         bool   `json:"secure"`
}

func (t *HashTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.generate_hash", t.logger, params,
		func(_ context.Context, span trace.Span, p hashParams) (any, error) {
			if p.Text == nil {
				return ErrResult("'text' is required")
			}
			algo := strings.ToLower(p.Algorithm)
			if algo == "" {
				algo = "sha256"
			}
			if !slices.Contains(t.allowed, algo) {
				return ErrResult("unsupported algorithm %q (allowed: %s)", p.Algorithm, strings.Join(t.allowed, ", "))
			}
			span.SetAttributes(tracer.StringAttr("hash.algorithm", algo))

			h := hashFactories[algo]()
			h.Write([]byte(*p.Text))
			return hashResult{
				Algorithm:      algo,
				Hash:           hex.EncodeToString(h.Sum(nil)),
				OriginalLength: utf8.RuneCountInString(*p.Text),
				Secure:         slices.Contains(t.secure, algo),
			}, nil
		},
	)
}
