package model

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenthub/core"
)

var (
	_ Model          = (*MockModel)(nil)
	_ SupportsVision = (*MockVisionModel)(nil)
)

func userRequest(text string) Request {
	return Request{Contents: []core.Content{core.NewTextContent(core.RoleUser, text)}}
}

func TestInvoke_CannedResponse(t *testing.T) {
	m := NewMockModel("mock", "test")
	m.AddResponse("hello", "world")

	resp, err := Invoke(context.Background(), m, userRequest("hello"), nil)
	require.NoError(t, err)
	assert.Equal(t, "world", resp.Content.Text())
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 1, m.Calls())
}

func TestInvoke_ForwardsPartials(t *testing.T) {
	m := NewMockModel("mock", "test")
	m.AddResponse("hi", "abc")

	req := userRequest("hi")
	req.Stream = true

	var partials []string
	resp, err := Invoke(context.Background(), m, req, func(r Response) {
		partials = append(partials, r.Content.Text())
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, partials)
	assert.Equal(t, "abc", resp.Content.Text())
}

func TestInvoke_PropagatesError(t *testing.T) {
	m := NewMockModel("mock", "test")
	boom := errors.New("boom")
	m.SetHandler(func(context.Context, Request) (core.Content, error) { return core.Content{}, boom })

	_, err := Invoke(context.Background(), m, userRequest("x"), nil)
	assert.ErrorIs(t, err, boom)
}

func TestInvoke_ToolCallFinishReason(t *testing.T) {
	m := NewMockModel("mock", "test")
	m.SetHandler(func(context.Context, Request) (core.Content, error) {
		return core.Content{Parts: []core.Part{core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "1", Name: "calculator"}}}}, nil
	})

	resp, err := Invoke(context.Background(), m, userRequest("x"), nil)
	require.NoError(t, err)
	assert.Equal(t, "tool_calls", resp.FinishReason)
	assert.Equal(t, core.RoleAssistant, resp.Content.Role)
}

func TestStreamText(t *testing.T) {
	m := NewMockModel("mock", "test")
	m.AddResponse("q", "fragments")

	var b strings.Builder
	text, err := StreamText(context.Background(), m, userRequest("q"), func(s string) { b.WriteString(s) })
	require.NoError(t, err)
	assert.Equal(t, "fragments", text)
	assert.Equal(t, "fragments", b.String())
}

func TestAsVision(t *testing.T) {
	_, ok := AsVision(NewMockModel("text-only", "test"))
	assert.False(t, ok)

	v, ok := AsVision(NewMockVisionModel("vision", "test"))
	require.True(t, ok)
	assert.True(t, v.Info().SupportsVision)

	resp, err := v.GenerateWithImage(context.Background(), "describe", "https://example.com/cat.png")
	require.NoError(t, err)
	assert.Contains(t, resp.Content.Text(), "cat.png")
}
