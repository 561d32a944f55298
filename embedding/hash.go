package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// DefaultHashDimensions is the vector size of NewHash when unset.
const DefaultHashDimensions = 256

// Hash is a deterministic bag-of-words embedder based on feature hashing.
// Texts sharing words get a positive cosine similarity, which is enough for
// offline demos and tests. It performs no network I/O.
type Hash struct {
	dims int
}

var _ Embedder = (*Hash)(nil)

// NewHash creates a Hash embedder with dims dimensions (DefaultHashDimensions if <= 0).
func NewHash(dims int) *Hash {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &Hash{dims: dims}
}

// Embed implements Embedder.
func (h *Hash) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, h.dims)
	for _, tok := range tokenize(text) {
		f := fnv.New64a()
		_, _ = f.Write([]byte(tok))
		sum := f.Sum64()

		sign := float32(1)
		if sum&(1<<63) != 0 {
			sign = -1
		}
		vec[sum%uint64(h.dims)] += sign
	}
	return Normalize(vec), nil
}

// EmbedBatch implements Embedder.
func (h *Hash) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions implements Embedder.
func (h *Hash) Dimensions() int { return h.dims }

// Name implements Embedder.
func (h *Hash) Name() string { return "hash" }

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
