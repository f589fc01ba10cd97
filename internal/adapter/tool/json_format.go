package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"lambda-agent/internal/domain"
)

// JSONFormatterTool pretty-prints JSON documents with sorted keys, or converts them to YAML.
type JSONFormatterTool struct {
	logger *slog.Logger
}

// NewJSONFormatterTool creates the json_formatter tool.
func NewJSONFormatterTool(logger *slog.Logger) *JSONFormatterTool {
	return &JSONFormatterTool{logger: logger}
}

func (t *JSONFormatterTool) Name() string { return "json_formatter" }
func (t *JSONFormatterTool) Description() string {
	return "Pretty-print a JSON string with sorted keys, or convert it to YAML."
}

func (t *JSONFormatterTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"json_string": {"type": "string", "description": "The JSON text to format"},
				"indent": {"type": "integer", "minimum": 0, "maximum": 8, "description": "Spaces per indent level (default: 2)"},
				"format": {"type": "string", "enum": ["json", "yaml"], "description": "Output format (default: json)"}
			},
			"required": ["json_string"]
		}`),
	}
}

type jsonFormatterParams struct {
	JSONString string `json:"json_string"`
	Indent     *int   `json:"indent,omitempty"`
	Format     string `json:"format,omitempty"`
}

func (t *JSONFormatterTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.json_formatter", t.logger, params,
		func(_ context.Context, _ trace.Span, p jsonFormatterParams) (any, error) {
			indent := 2
			if p.Indent != nil {
				indent = *p.Indent
			}
			if err := ValidateAll(
				RequireField("json_string", p.JSONString),
				ValidateRange("indent", indent, 0, 8),
				ValidateEnum("format", p.Format, "json", "yaml"),
			); err != nil {
				return ErrResult("%v", err)
			}

			data, err := decodeJSONDocument(p.JSONString)
			if err != nil {
				return ErrResult("JSON parse error: %v", err)
			}
			var out string
			if p.Format == "yaml" {
				out, err = formatYAML(data, indent)
			} else {
				out, err = formatJSON(data, indent)
			}
			if err != nil {
				return nil, err
			}
			return TextResult(out), nil
		},
	)
}

// decodeJSONDocument parses exactly one JSON value, keeping numbers verbatim.
func decodeJSONDocument(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return v, nil
}

// formatJSON re-encodes v. Map keys come out sorted; non-ASCII and HTML
// characters are written as-is.
func formatJSON(v any, indent int) (string, error) {
	var compact bytes.Buffer
	enc := json.NewEncoder(&compact)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	// json.Indent breaks lines even for a zero-width indent; Encoder.SetIndent does not.
	var out bytes.Buffer
	if err := json.Indent(&out, bytes.TrimRight(compact.Bytes(), "\n"), "", strings.Repeat(" ", indent)); err != nil {
		return "", fmt.Errorf("indent json: %w", err)
	}
	return out.String(), nil
}

func formatYAML(v any, indent int) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(max(indent, 2))
	if err := enc.Encode(yamlValue(v)); err != nil {
		return "", fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode yaml: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// yamlValue replaces json.Number with int64 or float64 so YAML emits plain scalars.
func yamlValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = yamlValue(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = yamlValue(e)
		}
		return x
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	default:
		return v
	}
}
