package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"go.opentelemetry.io/otel/trace"

	"agentkit/internal/domain"
)

// CalculatorTool performs basic arithmetic. It exists mostly as the canonical
// deterministic tool for agent loops: the model can verify its own math.
type CalculatorTool struct {
	logger *slog.Logger
}

func NewCalculatorTool(logger *slog.Logger) *CalculatorTool {
	return &CalculatorTool{logger: logger}
}

func (t *CalculatorTool) Name() string        { return "calculator" }
func (t *CalculatorTool) Description() string { return "Perform basic arithmetic on two numbers" }

func (t *CalculatorTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"operation": {"type": "string", "enum": ["add", "subtract", "multiply", "divide"], "description": "The arithmetic operation"},
				"a": {"type": "number", "description": "First operand"},
				"b": {"type": "number", "description": "Second operand"}
			},
			"required": ["operation", "a", "b"]
		}`),
	}
}

type calculatorParams struct {
	Operation string  `json:"operation"`
	A         float64 `json:"a"`
	B         float64 `json:"b"`
}

func (t *CalculatorTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.calculator", t.logger, params,
		func(_ context.Context, _ trace.Span, p calculatorParams) (any, error) {
			var result float64
			switch p.Operation {
			case "add":
				result = p.A + p.B
			case "subtract":
				result = p.A - p.B
			case "multiply":
				result = p.A * p.B
			case "divide":
				if p.B == 0 {
					return nil, fmt.Errorf("division by zero")
				}
				result = p.A / p.B
			default:
				return nil, BadAction(p.Operation, "add", "subtract", "multiply", "divide")
			}

			if math.IsInf(result, 0) || math.IsNaN(result) {
				return nil, fmt.Errorf("result out of range")
			}

			// Integers render without a decimal point: add(2,2) -> "4".
			return formatNumber(result), nil
		},
	)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
