package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agenthub/core"
)

// Handler computes the assistant content for a request. It lets tests script
// multi-turn exchanges such as tool calls followed by a final answer.
type Handler func(ctx context.Context, req Request) (core.Content, error)

// MockModel is a lightweight in-memory Model useful for tests & examples.
type MockModel struct {
	info      Info
	mu        sync.Mutex
	responses map[string]string
	handler   Handler
	requests  []Request
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// SetHandler replaces canned responses with a scripted handler.
func (m *MockModel) SetHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Requests returns a copy of every request received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Calls returns the number of Generate invocations.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *MockModel) respond(ctx context.Context, req Request) (core.Content, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	handler := m.handler
	m.mu.Unlock()

	if handler != nil {
		return handler(ctx, req)
	}
	if len(req.Contents) == 0 {
		return core.Content{}, fmt.Errorf("no contents provided")
	}
	inputText := req.Contents[len(req.Contents)-1].Text()

	m.mu.Lock()
	full := m.responses[inputText]
	m.mu.Unlock()
	if full == "" {
		full = fmt.Sprintf("Mock response to: %s", inputText)
	}
	return core.NewTextContent(core.RoleAssistant, full), nil
}

// Generate implements Model; emits optional streaming char chunks then final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		content, err := m.respond(ctx, req)
		if err != nil {
			errCh <- err
			return
		}
		content.Role = core.RoleAssistant

		if req.Stream {
			for _, r := range content.Text() {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{
					Partial: true,
					Content: core.NewTextContent(core.RoleAssistant, string(r)),
				}:
				}
			}
		}

		finish := "stop"
		if len(content.FunctionCalls()) > 0 {
			finish = "tool_calls"
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{Content: content, FinishReason: finish}:
		}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }

// MockVisionModel is a MockModel that also satisfies SupportsVision.
type MockVisionModel struct {
	*MockModel
}

// NewMockVisionModel constructs a vision capable mock.
func NewMockVisionModel(name, provider string) *MockVisionModel {
	mm := NewMockModel(name, provider)
	mm.info.SupportsVision = true
	return &MockVisionModel{MockModel: mm}
}

// GenerateWithImage answers with the prompt and the image URL it saw.
func (m *MockVisionModel) GenerateWithImage(ctx context.Context, prompt, imageURL string) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	req := Request{Contents: []core.Content{{
		Role:  core.RoleUser,
		Parts: []core.Part{core.TextPart{Text: prompt}, core.ImagePart{URL: imageURL}},
	}}}
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return Response{
		Content:      core.NewTextContent(core.RoleAssistant, fmt.Sprintf("Mock vision response to: %s [%s]", prompt, imageURL)),
		FinishReason: "stop",
	}, nil
}
