// Package anthropic provides a model wrapper for the Anthropic Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/agenthub/core"
	"github.com/hupe1980/agenthub/model"
)

// Options configures the Anthropic model adapter (temperature, model id,
// max tokens, API key).
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	BaseURL     string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

var (
	_ model.Model          = (*Model)(nil)
	_ model.SupportsVision = (*Model)(nil)
)

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaudeSonnet4_5,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// NewModel creates a new Anthropic model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements unified streaming / non-streaming generation.
// It adapts Anthropic Messages API (with function/tool calling) into model.Response events.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := anthropic.MessageNewParams{
			Model:       m.opts.Model,
			Messages:    buildMessages(req.Contents),
			MaxTokens:   m.opts.MaxTokens,
			Temperature: anthropic.Float(m.opts.Temperature),
		}
		if systemBlocks := extractSystemMessage(req); len(systemBlocks) > 0 {
			params.System = systemBlocks
		}
		if len(req.Tools) > 0 {
			params.Tools = buildTools(req.Tools)
		}

		var (
			final model.Response
			err   error
		)
		if req.Stream {
			final, err = m.stream(ctx, params, out)
		} else {
			final, err = m.complete(ctx, params)
		}
		if err != nil {
			errCh <- err
			return
		}
		select {
		case out <- final:
		case <-ctx.Done():
			errCh <- ctx.Err()
		}
	}()

	return out, errCh
}

func (m *Model) complete(ctx context.Context, params anthropic.MessageNewParams) (model.Response, error) {
	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return model.Response{}, fmt.Errorf("anthropic api error: %w", err)
	}
	return toResponse(resp), nil
}

// stream forwards text deltas as partial responses and accumulates the
// complete message for the final response.
func (m *Model) stream(ctx context.Context, params anthropic.MessageNewParams, out chan<- model.Response) (model.Response, error) {
	stream := m.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	msg := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return model.Response{}, fmt.Errorf("anthropic stream accumulate: %w", err)
		}
		ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
		if !ok || delta.Text == "" {
			continue
		}
		select {
		case out <- model.Response{Partial: true, Content: core.NewTextContent(core.RoleAssistant, delta.Text)}:
		case <-ctx.Done():
			return model.Response{}, ctx.Err()
		}
	}
	if err := stream.Err(); err != nil {
		return model.Response{}, fmt.Errorf("anthropic streaming error: %w", err)
	}
	return toResponse(&msg), nil
}

// GenerateWithImage sends a single user turn holding prompt and an image URL.
func (m *Model) GenerateWithImage(ctx context.Context, prompt, imageURL string) (model.Response, error) {
	req := model.Request{Contents: []core.Content{{
		Role:  core.RoleUser,
		Parts: []core.Part{core.ImagePart{URL: imageURL}, core.TextPart{Text: prompt}},
	}}}
	return model.Invoke(ctx, m, req, nil)
}

func toResponse(resp *anthropic.Message) model.Response {
	var parts []core.Part
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if t := block.AsText().Text; t != "" {
				parts = append(parts, core.TextPart{Text: t})
			}
		case "tool_use":
			toolBlock := block.AsToolUse()
			args := "{}"
			if len(toolBlock.Input) > 0 {
				args = string(toolBlock.Input)
			}
			parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
				ID:        toolBlock.ID,
				Name:      toolBlock.Name,
				Arguments: args,
			}})
		}
	}

	finishReason := "stop"
	if resp.StopReason != "" {
		finishReason = string(resp.StopReason)
	}

	return model.Response{
		ID:           resp.ID,
		Content:      core.Content{Role: core.RoleAssistant, Parts: parts},
		FinishReason: finishReason,
		Usage: &model.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
}

// buildMessages converts contents to Anthropic message format. Tool results
// are sent back in a user turn directly following the assistant tool_use turn.
func buildMessages(contents []core.Content) []anthropic.MessageParam {
	toolResponses := make(map[string]core.FunctionResponse)
	for _, c := range contents {
		if c.Role != core.RoleTool {
			continue
		}
		for _, fr := range c.FunctionResponses() {
			if fr.ID != "" {
				toolResponses[fr.ID] = fr
			}
		}
	}

	var messages []anthropic.MessageParam
	for _, c := range contents {
		switch c.Role {
		case core.RoleSystem, core.RoleTool:
			continue
		case core.RoleAssistant:
			content, results := buildAssistantContent(c.Parts, toolResponses)
			if len(content) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(content...))
			}
			if len(results) > 0 {
				messages = append(messages, anthropic.NewUserMessage(results...))
			}
		default:
			if content := buildUserContent(c.Parts); len(content) > 0 {
				messages = append(messages, anthropic.NewUserMessage(content...))
			}
		}
	}

	return messages
}

// extractSystemMessage collects instructions plus any system role contents.
func extractSystemMessage(req model.Request) []anthropic.TextBlockParam {
	var systemBlocks []anthropic.TextBlockParam
	if req.Instructions != "" {
		systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: req.Instructions})
	}
	for _, c := range req.Contents {
		if c.Role != core.RoleSystem {
			continue
		}
		if t := c.Text(); t != "" {
			systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: t})
		}
	}
	return systemBlocks
}

func buildUserContent(parts []core.Part) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion
	for _, p := range parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Text != "" {
				content = append(content, anthropic.NewTextBlock(part.Text))
			}
		case core.ImagePart:
			content = append(content, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: part.URL}))
		}
	}
	return content
}

func buildAssistantContent(
	parts []core.Part,
	toolResponses map[string]core.FunctionResponse,
) (content, results []anthropic.ContentBlockParamUnion) {
	for _, p := range parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Text != "" {
				content = append(content, anthropic.NewTextBlock(part.Text))
			}
		case core.FunctionCallPart:
			var input any = map[string]any{}
			if part.FunctionCall.Arguments != "" {
				if err := json.Unmarshal([]byte(part.FunctionCall.Arguments), &input); err != nil {
					input = part.FunctionCall.Arguments
				}
			}
			content = append(content, anthropic.NewToolUseBlock(part.FunctionCall.ID, input, part.FunctionCall.Name))

			if fr, ok := toolResponses[part.FunctionCall.ID]; ok {
				results = append(results, anthropic.NewToolResultBlock(fr.ID, resultText(fr), fr.Error != ""))
			}
		}
	}
	return content, results
}

func resultText(fr core.FunctionResponse) string {
	if fr.Error != "" {
		return fr.Error
	}
	if s, ok := fr.Response.(string); ok {
		return s
	}
	if b, err := json.Marshal(fr.Response); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", fr.Response)
}

// buildTools converts tool definitions to Anthropic tool format
func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	anthropicTools := make([]anthropic.ToolUnionParam, len(tools))

	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{}
		if params := tool.Function.Parameters; params != nil {
			if properties, exists := params["properties"]; exists {
				inputSchema.Properties = properties
			}
			inputSchema.Required = toStrings(params["required"])
		}

		u := anthropic.ToolUnionParamOfTool(inputSchema, tool.Function.Name)
		if tool.Function.Description != "" && u.OfTool != nil {
			u.OfTool.Description = anthropic.String(tool.Function.Description)
		}
		anthropicTools[i] = u
	}

	return anthropicTools
}

func toStrings(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:           string(m.opts.Model),
		Provider:       "anthropic",
		SupportsTools:  true,
		SupportsVision: true,
	}
}
