package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"

	"lambda-agent/internal/domain"
)

// TextAnalyzerTool reports basic statistics about a piece of text,
// including Japanese script counts.
type TextAnalyzerTool struct {
	logger *slog.Logger
}

// NewTextAnalyzerTool creates the text_analyzer tool.
func NewTextAnalyzerTool(logger *slog.Logger) *TextAnalyzerTool {
	return &TextAnalyzerTool{logger: logger}
}

func (t *TextAnalyzerTool) Name() string { return "text_analyzer" }
func (t *TextAnalyzerTool) Description() string {
	return "Analyze text: character, word and line counts, counts per character class " +
		"(uppercase, lowercase, digits, whitespace, hiragana, katakana, kanji) and average word length."
}

func (t *TextAnalyzerTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"text": {"type": "string", "description": "The text to analyze"}
			},
			"required": ["text"]
		}`),
	}
}

type textAnalyzerParams struct {
	Text string `json:"text"`
}

// TextStats is the text_analyzer result.
type TextStats struct {
	CharCount         int             `json:"char_count"`
	WordCount         int             `json:"word_count"`
	LineCount         int             `json:"line_count"`
	CharTypes         CharClassCounts `json:"char_types"`
	AverageWordLength float64         `json:"average_word_length"`
}

type CharClassCounts struct {
	Uppercase  int `json:"uppercase"`
	Lowercase  int `json:"lowercase"`
	Digits     int `json:"digits"`
	Whitespace int `json:"whitespace"`
	Hiragana   int `json:"hiragana"`
	Katakana   int `json:"katakana"`
	Kanji      int `json:"kanji"`
}

func (t *TextAnalyzerTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.text_analyzer", t.logger, params,
		func(_ context.Context, _ trace.Span, p textAnalyzerParams) (any, error) {
			return AnalyzeText(p.Text), nil
		},
	)
}

// AnalyzeText computes TextStats. Counts are in runes.
func AnalyzeText(text string) TextStats {
	s := TextStats{
		CharCount: utf8.RuneCountInString(text),
		WordCount: len(strings.Fields(text)),
	}
	if text != "" {
		s.LineCount = strings.Count(text, "\n") + 1
	}
	for _, r := range text {
		switch {
		case unicode.IsUpper(r):
			s.CharTypes.Uppercase++
		case unicode.IsLower(r):
			s.CharTypes.Lowercase++
		case unicode.IsDigit(r):
			s.CharTypes.Digits++
		case unicode.IsSpace(r):
			s.CharTypes.Whitespace++
		}
		switch {
		case r >= 0x3040 && r <= 0x309F:
			s.CharTypes.Hiragana++
		case r >= 0x30A0 && r <= 0x30FF:
			s.CharTypes.Katakana++
		case r >= 0x4E00 && r <= 0x9FFF:
			s.CharTypes.Kanji++
		}
	}
	if s.WordCount > 0 {
		s.AverageWordLength = math.Round(float64(s.CharCount)/float64(s.WordCount)*100) / 100
	}
	return s
}
