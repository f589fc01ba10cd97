package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.opentelemetry.io/otel/trace"

	"lambda-agent/internal/domain"
)

const maxExpressionLength = 1000

// CalculatorTool evaluates arithmetic expressions in a sandbox with a fixed
// set of math functions and constants. No other identifiers are visible.
type CalculatorTool struct {
	logger *slog.Logger
}

// NewCalculatorTool creates the calculator tool.
func NewCalculatorTool(logger *slog.Logger) *CalculatorTool {
	return &CalculatorTool{logger: logger}
}

func (t *CalculatorTool) Name() string { return "calculator" }
func (t *CalculatorTool) Description() string {
	return "Safely evaluate a math expression. Supports + - * / % ** and parentheses, " +
		"functions abs, round, min, max, sum, pow, sqrt, sin, cos, tan, asin, acos, atan, log, log10, exp " +
		"and constants pi and e."
}

func (t *CalculatorTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"expression": {"type": "string", "description": "The expression to evaluate, e.g. \"sqrt(16) + 3**2\""}
			},
			"required": ["expression"]
		}`),
	}
}

type calculatorParams struct {
	Expression string `json:"expression"`
}

func (t *CalculatorTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.calculator", t.logger, params,
		func(_ context.Context, _ trace.Span, p calculatorParams) (any, error) {
			if err := RequireField("expression", p.Expression); err != nil {
				return ErrResult("%v", err)
			}
			if len(p.Expression) > maxExpressionLength {
				return ErrResult("expression exceeds maximum length of %d", maxExpressionLength)
			}
			v, err := Evaluate(p.Expression)
			if err != nil {
				return nil, err
			}
			return v, nil
		},
	)
}

var calcEnv = map[string]any{
	"pi": math.Pi,
	"e":  math.E,
}

var calcOptions = []expr.Option{
	expr.Env(calcEnv),
	expr.DisableAllBuiltins(),
	unary("sqrt", math.Sqrt),
	unary("sin", math.Sin),
	unary("cos", math.Cos),
	unary("tan", math.Tan),
	unary("asin", math.Asin),
	unary("acos", math.Acos),
	unary("atan", math.Atan),
	unary("log10", math.Log10),
	unary("exp", math.Exp),
	unary("abs", math.Abs),
	expr.Function("log", calcLog),
	expr.Function("pow", calcPow),
	expr.Function("round", calcRound),
	expr.Function("min", reduceFn("min", math.Min)),
	expr.Function("max", reduceFn("max", math.Max)),
	expr.Function("sum", reduceFn("sum", func(a, b float64) float64 { return a + b })),
}

// Evaluate compiles and runs expression. Integral float results are
// returned as int64; non-finite results are errors.
func Evaluate(expression string) (any, error) {
	program, err := expr.Compile(expression, calcOptions...)
	if err != nil {
		return nil, fmt.Errorf("invalid expression: %w", err)
	}
	out, err := vm.Run(program, calcEnv)
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}
	return normalizeNumber(out)
}

func normalizeNumber(v any) (any, error) {
	f, ok := v.(float64)
	if !ok {
		return v, nil
	}
	switch {
	case math.IsInf(f, 0):
		return nil, fmt.Errorf("division by zero or overflow")
	case math.IsNaN(f):
		return nil, fmt.Errorf("result is undefined")
	case f == math.Trunc(f) && math.Abs(f) < 1<<53:
		return int64(f), nil
	default:
		return f, nil
	}
}

func unary(name string, fn func(float64) float64) expr.Option {
	return expr.Function(name, func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%s expects 1 argument, got %d", name, len(args))
		}
		x, err := toFloat(args[0])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return fn(x), nil
	})
}

func calcLog(args ...any) (any, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("log expects 1 or 2 arguments, got %d", len(args))
	}
	nums, err := toFloats(args)
	if err != nil {
		return nil, fmt.Errorf("log: %w", err)
	}
	if len(nums) == 2 {
		return math.Log(nums[0]) / math.Log(nums[1]), nil
	}
	return math.Log(nums[0]), nil
}

func calcPow(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("pow expects 2 arguments, got %d", len(args))
	}
	nums, err := toFloats(args)
	if err != nil {
		return nil, fmt.Errorf("pow: %w", err)
	}
	return math.Pow(nums[0], nums[1]), nil
}

func calcRound(args ...any) (any, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("round expects 1 or 2 arguments, got %d", len(args))
	}
	nums, err := toFloats(args)
	if err != nil {
		return nil, fmt.Errorf("round: %w", err)
	}
	if len(nums) == 1 {
		return math.RoundToEven(nums[0]), nil
	}
	scale := math.Pow(10, math.Trunc(nums[1]))
	return math.RoundToEven(nums[0]*scale) / scale, nil
}

// reduceFn folds its arguments, accepting either varargs or a single array.
func reduceFn(name string, op func(a, b float64) float64) func(args ...any) (any, error) {
	return func(args ...any) (any, error) {
		if len(args) == 1 {
			if arr, ok := args[0].([]any); ok {
				args = arr
			}
		}
		nums, err := toFloats(args)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if len(nums) == 0 {
			if name == "sum" {
				return 0.0, nil
			}
			return nil, fmt.Errorf("%s expects at least 1 argument", name)
		}
		acc := nums[0]
		for _, n := range nums[1:] {
			acc = op(acc, n)
		}
		return acc, nil
	}
}

func toFloats(args []any) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		f, err := toFloat(a)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}
