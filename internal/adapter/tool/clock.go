package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"agentkit/internal/domain"
)

// ClockTool reports the current time, optionally in a named timezone.
type ClockTool struct {
	logger *slog.Logger
	now    func() time.Time // injectable for tests
}

func NewClockTool(logger *slog.Logger) *ClockTool {
	return &ClockTool{logger: logger, now: time.Now}
}

func (t *ClockTool) Name() string        { return "clock" }
func (t *ClockTool) Description() string { return "Get the current date and time" }

func (t *ClockTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"timezone": {"type": "string", "description": "IANA timezone name (default: UTC)"},
				"format": {"type": "string", "description": "Go time layout (default: RFC3339)"}
			}
		}`),
	}
}

type clockParams struct {
	Timezone string `json:"timezone,omitempty"`
	Format   string `json:"format,omitempty"`
}

func (t *ClockTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.clock", t.logger, params,
		func(_ context.Context, _ trace.Span, p clockParams) (any, error) {
			loc := time.UTC
			if p.Timezone != "" {
				var err error
				loc, err = time.LoadLocation(p.Timezone)
				if err != nil {
					return nil, fmt.Errorf("unknown timezone %q", p.Timezone)
				}
			}

			layout := p.Format
			if layout == "" {
				layout = time.RFC3339
			}

			return t.now().In(loc).Format(layout), nil
		},
	)
}
