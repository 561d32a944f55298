package testutil

import (
	"encoding/json"

	"github.com/hupe1980/agenthub/core"
)

// ContentBuilder provides a fluent helper for constructing conversation
// content in tests.
// Example:
//
//	c := NewContentBuilder().Assistant().Call("fc1", "calculator", map[string]any{"expression": "1+1"}).Build()
type ContentBuilder struct {
	role  string
	parts []core.Part
}

// NewContentBuilder creates a builder with role assistant.
func NewContentBuilder() *ContentBuilder { return &ContentBuilder{role: core.RoleAssistant} }

// User switches the role to user (chainable).
func (b *ContentBuilder) User() *ContentBuilder { b.role = core.RoleUser; return b }

// Assistant switches the role to assistant (chainable).
func (b *ContentBuilder) Assistant() *ContentBuilder { b.role = core.RoleAssistant; return b }

// Text appends a text part (chainable).
func (b *ContentBuilder) Text(t string) *ContentBuilder {
	b.parts = append(b.parts, core.TextPart{Text: t})
	return b
}

// Image appends an image part (chainable).
func (b *ContentBuilder) Image(url string) *ContentBuilder {
	b.parts = append(b.parts, core.ImagePart{URL: url})
	return b
}

// Call appends a function call whose arguments are JSON encoded (chainable).
func (b *ContentBuilder) Call(id, name string, args map[string]any) *ContentBuilder {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	b.parts = append(b.parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
		ID:        id,
		Name:      name,
		Arguments: string(raw),
	}})
	return b
}

// Build returns the assembled content.
func (b *ContentBuilder) Build() core.Content {
	return core.Content{Role: b.role, Parts: append([]core.Part(nil), b.parts...)}
}
