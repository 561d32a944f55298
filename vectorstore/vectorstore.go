// Package vectorstore defines the namespace-keyed nearest-neighbour index
// consumed by the retrieval pipeline, plus helpers shared by its
// implementations (vectorstore/memory and vectorstore/sqlite).
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// ErrNamespaceNotFound is returned when searching or counting a namespace
// that was never created.
var ErrNamespaceNotFound = errors.New("namespace not found")

// Document is a unit of text stored in a namespace.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Hit is a search result with its cosine similarity to the query.
type Hit struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score"`
}

// SearchOptions narrows a search.
type SearchOptions struct {
	// Filter keeps only documents whose metadata equals every entry.
	Filter map[string]any

	// ScoreThreshold drops hits scoring below it when > 0.
	ScoreThreshold float64
}

// Index is a namespace-keyed vector index. Implementations embed text
// themselves and must be safe for concurrent use. A failing Search for one
// namespace must not affect others.
type Index interface {
	// CreateOrGetNamespace ensures the namespace exists.
	CreateOrGetNamespace(ctx context.Context, namespace string) error

	// Add embeds and stores docs, creating the namespace if needed. metadata
	// is merged into every document (document keys win). Documents without
	// an ID get a generated one. Returns the stored IDs in input order.
	Add(ctx context.Context, namespace string, docs []Document, metadata map[string]any) ([]string, error)

	// Search returns up to k hits ordered by descending score.
	Search(ctx context.Context, namespace, query string, k int, optFns ...func(o *SearchOptions)) ([]Hit, error)

	// DeleteNamespace drops a namespace and all of its documents.
	DeleteNamespace(ctx context.Context, namespace string) error

	// DeleteDocuments removes documents by ID. Unknown IDs are ignored.
	DeleteDocuments(ctx context.Context, namespace string, ids []string) error

	// ListNamespaces returns all namespaces in sorted order.
	ListNamespaces(ctx context.Context) ([]string, error)

	// Count returns the number of documents in a namespace.
	Count(ctx context.Context, namespace string) (int, error)
}

// NamespaceNotFound wraps ErrNamespaceNotFound with the namespace name.
func NamespaceNotFound(namespace string) error {
	return fmt.Errorf("%w: %q", ErrNamespaceNotFound, namespace)
}

// MergeMetadata returns base overlaid with doc. Neither input is modified.
func MergeMetadata(base, doc map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(doc))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// MatchFilter reports whether metadata satisfies every filter entry.
func MatchFilter(metadata, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok || !equalValue(got, want) {
			return false
		}
	}
	return true
}

// equalValue compares JSON-ish values so that int 1 matches float64 1 after
// a metadata round trip.
func equalValue(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// TopK sorts hits by descending score, keeping input order for equal scores,
// drops hits below threshold (when > 0) and truncates to k (when > 0).
func TopK(hits []Hit, k int, threshold float64) []Hit {
	out := hits[:0:0]
	for _, h := range hits {
		if threshold > 0 && h.Score < threshold {
			continue
		}
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}
