package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"agentkit/internal/domain"
	"agentkit/internal/infra/tracer"
)

// Execute is the shared execution pipeline for the built-in tools: parse
// params, open a span, run the handler, shape the outcome into a ToolResult.
//
// Handler return values are interpreted by type:
//   - *domain.ToolResult is passed through untouched
//   - string becomes a plain-text success result
//   - anything else is JSON-marshaled into the result content
//   - a non-nil error becomes an error result, flagged retryable when the
//     failure looks transient
func Execute[P any](
	ctx context.Context,
	spanName string,
	logger *slog.Logger,
	rawParams json.RawMessage,
	handler func(ctx context.Context, span trace.Span, params P) (any, error),
) (*domain.ToolResult, error) {
	ctx, span := tracer.StartSpan(ctx, spanName,
		trace.WithAttributes(tracer.StringAttr("tool.name", spanName)),
	)
	defer span.End()

	var p P
	if err := json.Unmarshal(rawParams, &p); err != nil {
		tracer.RecordError(span, err)
		return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("invalid params: %v", err)}, nil
	}

	value, err := handler(ctx, span, p)
	if err != nil {
		tracer.RecordError(span, err)
		logger.Warn(spanName+" failed", "error", err)
		return errorResult(err), nil
	}
	return successResult(span, value)
}

// errorResult shapes a handler error so the model knows whether retrying
// the same call could help.
func errorResult(err error) *domain.ToolResult {
	retryable := classifyToolError(err)
	content := err.Error()
	if retryable {
		content += " (transient error, may succeed on retry)"
	}
	return &domain.ToolResult{IsError: true, IsRetryable: retryable, Content: content}
}

func successResult(span trace.Span, value any) (*domain.ToolResult, error) {
	switch v := value.(type) {
	case *domain.ToolResult:
		if v.IsError {
			tracer.RecordError(span, fmt.Errorf("%s", v.Content))
		} else {
			tracer.SetOK(span)
		}
		return v, nil

	case string:
		tracer.SetOK(span)
		return &domain.ToolResult{Content: v}, nil

	default:
		data, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			tracer.RecordError(span, err)
			return &domain.ToolResult{
				IsError: true,
				Content: fmt.Sprintf("failed to format response: %v", err),
			}, nil
		}
		tracer.SetOK(span)
		return &domain.ToolResult{Content: string(data)}, nil
	}
}

// BadAction builds the error a tool returns for an unrecognized action,
// naming the accepted ones so the model can self-correct.
func BadAction(got string, valid ...string) error {
	return fmt.Errorf("unknown action %q (want: %s)", got, strings.Join(valid, ", "))
}
