package model

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hupe1980/agenthub/core"
)

// ToolCall represents a function call request surfaced by a model provider.
// Unified across vendors so downstream logic does not need per-provider branching.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"` // "function"
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction describes the concrete function target of a tool call.
type ToolCallFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"` // JSON string of arguments
}

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Request captures the normalized model input produced by the runtime.
type Request struct {
	Instructions string           `json:"instructions"` // System prompt
	Contents     []core.Content   `json:"contents"`     // Conversation converted to provider messages
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"` // Indicates if this is a partial response
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name           string `json:"name"`
	Provider       string `json:"provider"` // "openai", "anthropic", "google", etc.
	SupportsTools  bool   `json:"supports_tools"`
	SupportsVision bool   `json:"supports_vision"`
}

// Model is the minimal interface required by the runtime to drive generation.
//
// Generate emits zero or more partial responses (only when req.Stream is set)
// followed by exactly one final response, or reports a failure on the error
// channel. Both channels are closed when generation ends.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// ErrNoResponse is returned by Invoke when a model closes its stream without
// producing a final response.
var ErrNoResponse = errors.New("model produced no final response")

// Invoke runs m to completion and returns the final response. Partial
// responses are forwarded to onPartial when it is non-nil.
func Invoke(ctx context.Context, m Model, req Request, onPartial func(Response)) (Response, error) {
	respCh, errCh := m.Generate(ctx, req)

	var (
		final Response
		found bool
	)
	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if resp.Partial {
				if onPartial != nil {
					onPartial(resp)
				}
				continue
			}
			final, found = resp, true
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, err
			}
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
	if !found {
		return Response{}, ErrNoResponse
	}
	return final, nil
}

// StreamText runs m in streaming mode and yields each text fragment to fn.
// It returns the concatenated final text.
func StreamText(ctx context.Context, m Model, req Request, fn func(fragment string)) (string, error) {
	req.Stream = true
	final, err := Invoke(ctx, m, req, func(r Response) {
		if t := r.Content.Text(); t != "" && fn != nil {
			fn(t)
		}
	})
	if err != nil {
		return "", err
	}
	return final.Content.Text(), nil
}
