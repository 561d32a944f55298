package builtin

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenthub/core"
	"github.com/hupe1980/agenthub/tool"
)

func call(t *testing.T, tl tool.Tool, args map[string]any) map[string]any {
	t.Helper()
	out, err := tl.Call(tool.NewCallContext(context.Background(), "fc", "s", "u", nil), args)
	require.NoError(t, err)
	m, ok := out.(map[string]any)
	require.True(t, ok)
	return m
}

func TestEvaluate(t *testing.T) {
	cases := []struct {
		expr string
		want any
	}{
		{"123 * 456", int64(56088)},
		{"2 + 2", int64(4)},
		{"10 * 5 - 3", int64(47)},
		{"7 / 2", 3.5},
		{"8 / 2", int64(4)},
		{"-(3 + 4) * 2", int64(-14)},
		{"1.5 * 2", int64(3)},
		{"0.1 + 0.2", 0.3},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := Evaluate(tc.expr)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluate_Errors(t *testing.T) {
	for _, expr := range []string{"1 / 0", "1 +", "(1, 2)", "1 % 2", "x + 1"} {
		_, err := Evaluate(expr)
		assert.Error(t, err, expr)
	}
}

func TestCalculator(t *testing.T) {
	calc := NewCalculator()

	out := call(t, calc, map[string]any{"expression": "123 * 456"})
	assert.Equal(t, int64(56088), out["result"])
	assert.Equal(t, "123 * 456", out["expression"])

	out = call(t, calc, map[string]any{"expression": "import os"})
	assert.Contains(t, out["error"], "Invalid characters")
	assert.NotContains(t, out, "result")

	out = call(t, calc, map[string]any{"expression": "5 / 0"})
	assert.Contains(t, out["error"], "division by zero")
	assert.Equal(t, "5 / 0", out["expression"])
}

func TestCalculator_RequiresExpression(t *testing.T) {
	_, err := NewCalculator().Call(tool.NewCallContext(context.Background(), "fc", "s", "u", nil), map[string]any{})

	var toolErr *tool.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, tool.CodeValidation, toolErr.Code)
}

func TestWeather(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	w := NewWeather(func(o *WeatherOptions) {
		o.Rand = rand.New(rand.NewPCG(1, 2))
		o.Now = func() time.Time { return fixed }
	})

	assert.Equal(t, "web", w.Metadata().Category)

	out := call(t, w, map[string]any{"location": "Berlin"})
	assert.Equal(t, "Berlin", out["location"])
	assert.Equal(t, "°C", out["units"])
	assert.Equal(t, "2024-05-01T12:00:00Z", out["timestamp"])
	temp, ok := out["temperature"].(int)
	require.True(t, ok)
	assert.GreaterOrEqual(t, temp, 15)
	assert.LessOrEqual(t, temp, 30)
	assert.Contains(t, weatherConditions, out["condition"])

	out = call(t, w, map[string]any{"location": "Boston", "units": "fahrenheit"})
	assert.Equal(t, "°F", out["units"])
	assert.IsType(t, float64(0), out["temperature"])

	_, err := w.Call(tool.NewCallContext(context.Background(), "fc", "s", "u", nil), map[string]any{"location": "Rome", "units": "kelvin"})
	assert.Error(t, err)
}

func TestRegisterDefaults(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, RegisterDefaults(reg))

	_, ok := reg.Get("calculator")
	assert.True(t, ok)
	_, ok = reg.Get("weather")
	assert.True(t, ok)

	assert.ErrorIs(t, RegisterDefaults(reg), core.ErrDuplicateTool)
}
