// Package builtin provides the tools every hub registers by default.
package builtin

import (
	"fmt"
	"go/ast"
	"go/constant"
	"go/parser"
	"go/token"
	"strings"

	"github.com/hupe1980/agenthub/tool"
)

const calculatorAllowed = "0123456789+-*/()., "

// NewCalculator returns the calculator tool. It evaluates arithmetic over
// numbers, + - * / and parentheses with exact constant arithmetic. Failures
// are reported in the result map, not as errors, so the model can read them.
func NewCalculator() *tool.FunctionTool {
	return tool.NewFunctionTool(tool.Metadata{
		Name:        "calculator",
		Description: "Perform mathematical calculations. Supports basic arithmetic operations.",
		Parameters: []tool.Parameter{{
			Name:        "expression",
			Type:        "string",
			Description: "Mathematical expression to evaluate (e.g., '2 + 2', '10 * 5 - 3')",
			Required:    true,
		}},
		Category: "general",
	}, func(_ *tool.CallContext, args map[string]any) (any, error) {
		expr, _ := args["expression"].(string)
		return calculate(expr), nil
	})
}

func calculate(expr string) map[string]any {
	for _, r := range expr {
		if !strings.ContainsRune(calculatorAllowed, r) {
			return map[string]any{"error": "Invalid characters in expression. Only numbers and +, -, *, /, (, ) are allowed."}
		}
	}

	result, err := Evaluate(expr)
	if err != nil {
		return map[string]any{
			"error":      fmt.Sprintf("Failed to evaluate expression: %v", err),
			"expression": expr,
		}
	}
	return map[string]any{
		"expression": expr,
		"result":     result,
	}
}

// Evaluate computes an arithmetic expression. Integral results are returned
// as int64, everything else as float64.
func Evaluate(expr string) (any, error) {
	node, err := parser.ParseExpr(expr)
	if err != nil {
		return nil, err
	}

	v, err := eval(node)
	if err != nil {
		return nil, err
	}

	if iv := constant.ToInt(v); iv.Kind() == constant.Int {
		if i, exact := constant.Int64Val(iv); exact {
			return i, nil
		}
	}
	f, _ := constant.Float64Val(constant.ToFloat(v))
	return f, nil
}

func eval(node ast.Expr) (constant.Value, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		if n.Kind != token.INT && n.Kind != token.FLOAT {
			return nil, fmt.Errorf("unsupported literal %s", n.Value)
		}
		v := constant.MakeFromLiteral(n.Value, n.Kind, 0)
		if v.Kind() == constant.Unknown {
			return nil, fmt.Errorf("malformed number %s", n.Value)
		}
		return v, nil
	case *ast.ParenExpr:
		return eval(n.X)
	case *ast.UnaryExpr:
		x, err := eval(n.X)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case token.ADD, token.SUB:
			return constant.UnaryOp(n.Op, x, 0), nil
		}
		return nil, fmt.Errorf("unsupported operator %s", n.Op)
	case *ast.BinaryExpr:
		x, err := eval(n.X)
		if err != nil {
			return nil, err
		}
		y, err := eval(n.Y)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case token.ADD, token.SUB, token.MUL:
			return constant.BinaryOp(x, n.Op, y), nil
		case token.QUO:
			if constant.Sign(y) == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			// Promote to float so 7/2 is 3.5 rather than integer division.
			return constant.BinaryOp(constant.ToFloat(x), token.QUO, constant.ToFloat(y)), nil
		}
		return nil, fmt.Errorf("unsupported operator %s", n.Op)
	}
	return nil, fmt.Errorf("unsupported expression %T", node)
}
