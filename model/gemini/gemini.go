// Package gemini provides a model.Model implementation backed by the Google
// Gemini API through google.golang.org/genai.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"path"
	"strings"

	"google.golang.org/genai"

	"github.com/hupe1980/agenthub/core"
	"github.com/hupe1980/agenthub/model"
)

// Options configure the Gemini model adapter.
type Options struct {
	APIKey          string
	BaseURL         string
	Model           string
	Temperature     float32
	MaxOutputTokens int32
}

// Model wraps genai.Models behind the generic model.Model interface.
type Model struct {
	client *genai.Client
	opts   Options
}

var (
	_ model.Model          = (*Model)(nil)
	_ model.SupportsVision = (*Model)(nil)
)

func defaultOptions() Options {
	return Options{
		Model:           "gemini-1.5-flash",
		Temperature:     0.7,
		MaxOutputTokens: 4096,
	}
}

// NewModel creates a Gemini API client and wraps it.
func NewModel(ctx context.Context, optFns ...func(o *Options)) (*Model, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	cc := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Model{client: client, opts: opts}, nil
}

// NewModelFromClient wraps an existing genai client.
func NewModelFromClient(client *genai.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements unified streaming / non-streaming generation.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		contents := buildContents(req.Contents)
		cfg := m.buildConfig(req)

		if !req.Stream {
			resp, err := m.client.Models.GenerateContent(ctx, m.opts.Model, contents, cfg)
			if err != nil {
				errCh <- fmt.Errorf("gemini api error: %w", err)
				return
			}
			acc := &accumulator{}
			acc.add(resp)
			select {
			case out <- acc.response():
			case <-ctx.Done():
				errCh <- ctx.Err()
			}
			return
		}

		acc := &accumulator{}
		for resp, err := range m.client.Models.GenerateContentStream(ctx, m.opts.Model, contents, cfg) {
			if err != nil {
				errCh <- fmt.Errorf("gemini streaming error: %w", err)
				return
			}
			if delta := acc.add(resp); delta != "" {
				select {
				case out <- model.Response{Partial: true, Content: core.NewTextContent(core.RoleAssistant, delta)}:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}
		}
		select {
		case out <- acc.response():
		case <-ctx.Done():
			errCh <- ctx.Err()
		}
	}()

	return out, errCh
}

// GenerateWithImage sends a single user turn holding prompt and an image URI.
func (m *Model) GenerateWithImage(ctx context.Context, prompt, imageURL string) (model.Response, error) {
	req := model.Request{Contents: []core.Content{{
		Role:  core.RoleUser,
		Parts: []core.Part{core.TextPart{Text: prompt}, core.ImagePart{URL: imageURL}},
	}}}
	return model.Invoke(ctx, m, req, nil)
}

func (m *Model) buildConfig(req model.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(m.opts.Temperature),
		MaxOutputTokens: m.opts.MaxOutputTokens,
	}
	if req.Instructions != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.Instructions, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Function.Name,
				Description:          t.Function.Description,
				ParametersJsonSchema: t.Function.Parameters,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

// buildContents maps roles onto Gemini's user/model pair. Tool results are
// sent as user turns holding function responses.
func buildContents(contents []core.Content) []*genai.Content {
	out := make([]*genai.Content, 0, len(contents))
	for _, c := range contents {
		var role genai.Role = genai.RoleUser
		switch c.Role {
		case core.RoleSystem:
			continue
		case core.RoleAssistant:
			role = genai.RoleModel
		}
		var parts []*genai.Part
		for _, p := range c.Parts {
			switch v := p.(type) {
			case core.TextPart:
				if v.Text != "" {
					parts = append(parts, genai.NewPartFromText(v.Text))
				}
			case core.ImagePart:
				parts = append(parts, genai.NewPartFromURI(v.URL, imageMIMEType(v.URL)))
			case core.FunctionCallPart:
				args := map[string]any{}
				if v.FunctionCall.Arguments != "" {
					_ = json.Unmarshal([]byte(v.FunctionCall.Arguments), &args)
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   v.FunctionCall.ID,
					Name: v.FunctionCall.Name,
					Args: args,
				}})
			case core.FunctionResponsePart:
				fr := v.FunctionResponse
				resp := map[string]any{"output": fr.Response}
				if fr.Error != "" {
					resp = map[string]any{"error": fr.Error}
				}
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       fr.ID,
					Name:     fr.Name,
					Response: resp,
				}})
			}
		}
		if len(parts) > 0 {
			out = append(out, genai.NewContentFromParts(parts, role))
		}
	}
	return out
}

func imageMIMEType(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(u))); t != "" {
		return t
	}
	return "image/jpeg"
}

// accumulator folds streamed (or single) responses into one final response.
type accumulator struct {
	text   strings.Builder
	calls  []core.FunctionCall
	finish string
	usage  *model.TokenUsage
	id     string
}

// add folds resp in and returns the newly seen text.
func (a *accumulator) add(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	if resp.ResponseID != "" {
		a.id = resp.ResponseID
	}
	if u := resp.UsageMetadata; u != nil {
		a.usage = &model.TokenUsage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	cand := resp.Candidates[0]
	if cand.FinishReason != "" {
		a.finish = strings.ToLower(string(cand.FinishReason))
	}
	var delta strings.Builder
	for _, p := range cand.Content.Parts {
		if p == nil {
			continue
		}
		if p.Text != "" && !p.Thought {
			delta.WriteString(p.Text)
		}
		if fc := p.FunctionCall; fc != nil {
			args, _ := json.Marshal(fc.Args)
			id := fc.ID
			if id == "" {
				id = core.NewID()
			}
			a.calls = append(a.calls, core.FunctionCall{ID: id, Name: fc.Name, Arguments: string(args)})
		}
	}
	a.text.WriteString(delta.String())
	return delta.String()
}

func (a *accumulator) response() model.Response {
	var parts []core.Part
	if a.text.Len() > 0 {
		parts = append(parts, core.TextPart{Text: a.text.String()})
	}
	for _, c := range a.calls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: c})
	}
	finish := a.finish
	if len(a.calls) > 0 {
		finish = "tool_calls"
	}
	if finish == "" {
		finish = "stop"
	}
	return model.Response{
		ID:           a.id,
		Content:      core.Content{Role: core.RoleAssistant, Parts: parts},
		FinishReason: finish,
		Usage:        a.usage,
	}
}

// Info returns metadata describing this Gemini model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:           m.opts.Model,
		Provider:       "google",
		SupportsTools:  true,
		SupportsVision: true,
	}
}
