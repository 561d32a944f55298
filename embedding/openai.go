package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is the embedding model used when none is configured.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIOptions configures the OpenAI embedder.
type OpenAIOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int // optional output size; 0 keeps the model default
}

// OpenAI embeds text with the OpenAI embeddings endpoint.
type OpenAI struct {
	client *openai.Client
	opts   OpenAIOptions
}

var _ Embedder = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI embedder.
func NewOpenAI(optFns ...func(o *OpenAIOptions)) *OpenAI {
	opts := OpenAIOptions{Model: DefaultOpenAIModel}
	for _, fn := range optFns {
		fn(&opts)
	}

	var reqOpts []option.RequestOption
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := openai.NewClient(reqOpts...)
	return &OpenAI{client: &client, opts: opts}
}

// Embed implements Embedder.
func (e *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, e, text)
}

// EmbedBatch implements Embedder.
func (e *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(e.opts.Model),
	}
	if e.opts.Dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.opts.Dimensions))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embed failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embed: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai embed: index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		out[d.Index] = vec
	}
	return out, nil
}

// Dimensions implements Embedder.
func (e *OpenAI) Dimensions() int {
	if e.opts.Dimensions > 0 {
		return e.opts.Dimensions
	}
	switch e.opts.Model {
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	}
	return 0
}

// Name implements Embedder.
func (e *OpenAI) Name() string { return "openai:" + e.opts.Model }
