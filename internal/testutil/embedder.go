package testutil

import (
	"context"
	"strings"
)

// AxisEmbedder maps each keyword to its own vector axis. A text gets 1 on
// every axis whose keyword it contains (case-insensitive), so cosine scores
// are easy to reason about: "go" vs "go rust" scores 1/sqrt(2).
type AxisEmbedder struct {
	Keywords []string
}

// NewAxisEmbedder creates an AxisEmbedder over keywords.
func NewAxisEmbedder(keywords ...string) *AxisEmbedder {
	return &AxisEmbedder{Keywords: keywords}
}

// Embed returns the axis vector for text.
func (e *AxisEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lower := strings.ToLower(text)
	vec := make([]float32, len(e.Keywords))
	for i, kw := range e.Keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			vec[i] = 1
		}
	}
	return vec, nil
}

// EmbedBatch embeds every text.
func (e *AxisEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the number of keywords.
func (e *AxisEmbedder) Dimensions() int { return len(e.Keywords) }

// Name returns "axis".
func (e *AxisEmbedder) Name() string { return "axis" }
