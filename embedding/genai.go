package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// DefaultGenAIModel is the Gemini embedding model used when none is configured.
const DefaultGenAIModel = "gemini-embedding-001"

// GenAIOptions configures the Gemini embedder.
type GenAIOptions struct {
	APIKey   string
	Model    string
	TaskType string // e.g. RETRIEVAL_DOCUMENT; empty lets the API decide
}

// GenAI embeds text with the Gemini API.
type GenAI struct {
	client *genai.Client
	opts   GenAIOptions
}

var _ Embedder = (*GenAI)(nil)

// NewGenAI creates a Gemini embedder.
func NewGenAI(ctx context.Context, optFns ...func(o *GenAIOptions)) (*GenAI, error) {
	opts := GenAIOptions{Model: DefaultGenAIModel}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("genai embedder: API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAI{client: client, opts: opts}, nil
}

// Embed implements Embedder.
func (e *GenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, e, text)
}

// EmbedBatch implements Embedder.
func (e *GenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, e.opts.Model, contents, &genai.EmbedContentConfig{
		TaskType: e.opts.TaskType,
	})
	if err != nil {
		return nil, fmt.Errorf("genai batch embed failed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("genai embed: got %d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

// Dimensions implements Embedder. gemini-embedding-001 produces 3072 values
// by default; other models are not known upfront.
func (e *GenAI) Dimensions() int {
	if e.opts.Model == DefaultGenAIModel {
		return 3072
	}
	return 0
}

// Name implements Embedder.
func (e *GenAI) Name() string { return "genai:" + e.opts.Model }
