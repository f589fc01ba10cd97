package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
	_ "time/tzdata" // Lambda's provided.al2023 image ships without a zoneinfo database

	"go.opentelemetry.io/otel/trace"

	"lambda-agent/internal/domain"
	"lambda-agent/internal/infra/tracer"
)

// ClockTool reports the current time, optionally in a named IANA zone.
type ClockTool struct {
	now    func() time.Time
	logger *slog.Logger
}

// NewClockTool creates the current_time tool.
func NewClockTool(logger *slog.Logger) *ClockTool {
	return &ClockTool{now: time.Now, logger: logger}
}

func (t *ClockTool) Name() string { return "current_time" }
func (t *ClockTool) Description() string {
	return "Get the current date and time in ISO 8601 format. " +
		"Optionally pass an IANA timezone such as 'Asia/Tokyo' or 'US/Eastern'; defaults to UTC."
}

func (t *ClockTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"timezone": {"type": "string", "description": "IANA timezone name (default: UTC)"}
			}
		}`),
	}
}

type clockParams struct {
	Timezone string `json:"timezone,omitempty"`
}

func (t *ClockTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.current_time", t.logger, params,
		func(_ context.Context, span trace.Span, p clockParams) (any, error) {
			now := t.now()
			if p.Timezone == "" {
				return formatISO(now.UTC()), nil
			}
			span.SetAttributes(tracer.StringAttr("clock.timezone", p.Timezone))

			loc, err := time.LoadLocation(p.Timezone)
			if err != nil {
				t.logger.Debug("unknown timezone, falling back to UTC", "timezone", p.Timezone, "error", err)
				return fmt.Sprintf("Invalid timezone '%s'. Returning UTC time: %s", p.Timezone, formatISO(now.UTC())), nil
			}
			return formatISO(now.In(loc)), nil
		},
	)
}

// formatISO renders t with microsecond precision and a numeric offset,
// e.g. 2024-01-20T15:30:00.123456+00:00.
func formatISO(t time.Time) string {
	if t.Nanosecond()/1000 == 0 {
		return t.Format("2006-01-02T15:04:05-07:00")
	}
	return t.Format("2006-01-02T15:04:05.000000-07:00")
}
