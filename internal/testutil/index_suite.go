package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenthub/embedding"
	"github.com/hupe1980/agenthub/vectorstore"
)

// SuiteKeywords are the axes of the embedder handed to RunIndexSuite factories.
var SuiteKeywords = []string{"go", "rust", "python", "database"}

// RunIndexSuite exercises the vectorstore.Index contract. newIndex must return
// an empty index that embeds with the given embedder.
func RunIndexSuite(t *testing.T, newIndex func(t *testing.T, e embedding.Embedder) vectorstore.Index) {
	t.Helper()
	ctx := context.Background()
	fresh := func(t *testing.T) vectorstore.Index {
		return newIndex(t, NewAxisEmbedder(SuiteKeywords...))
	}

	t.Run("AddAndSearchOrdersByScore", func(t *testing.T) {
		idx := fresh(t)
		ids, err := idx.Add(ctx, "kb_1", []vectorstore.Document{
			{ID: "rust", Content: "rust ownership"},
			{ID: "go-db", Content: "go database drivers"},
			{ID: "go", Content: "go channels"},
			{ID: "py", Content: "python typing"},
		}, map[string]any{"kb": "1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"rust", "go-db", "go", "py"}, ids)

		hits, err := idx.Search(ctx, "kb_1", "go", 3)
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, "go", hits[0].ID)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
		assert.Equal(t, "go-db", hits[1].ID)
		assert.InDelta(t, 0.7071, hits[1].Score, 1e-3)
		assert.Equal(t, 0.0, hits[2].Score)
		assert.Equal(t, "1", hits[0].Metadata["kb"])
	})

	t.Run("ScoreThresholdAndFilter", func(t *testing.T) {
		idx := fresh(t)
		_, err := idx.Add(ctx, "ns", []vectorstore.Document{
			{ID: "a", Content: "go", Metadata: map[string]any{"lang": "en"}},
			{ID: "b", Content: "go database", Metadata: map[string]any{"lang": "de"}},
			{ID: "c", Content: "rust"},
		}, nil)
		require.NoError(t, err)

		hits, err := idx.Search(ctx, "ns", "go", 10, func(o *vectorstore.SearchOptions) {
			o.ScoreThreshold = 0.8
		})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "a", hits[0].ID)

		hits, err = idx.Search(ctx, "ns", "go", 10, func(o *vectorstore.SearchOptions) {
			o.Filter = map[string]any{"lang": "de"}
		})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "b", hits[0].ID)
	})

	t.Run("DocumentMetadataWins", func(t *testing.T) {
		idx := fresh(t)
		_, err := idx.Add(ctx, "ns", []vectorstore.Document{
			{ID: "a", Content: "go", Metadata: map[string]any{"source": "doc"}},
		}, map[string]any{"source": "call", "extra": "x"})
		require.NoError(t, err)

		hits, err := idx.Search(ctx, "ns", "go", 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "doc", hits[0].Metadata["source"])
		assert.Equal(t, "x", hits[0].Metadata["extra"])
	})

	t.Run("GeneratedIDsAndReplace", func(t *testing.T) {
		idx := fresh(t)
		ids, err := idx.Add(ctx, "ns", []vectorstore.Document{{Content: "go"}, {Content: "rust"}}, nil)
		require.NoError(t, err)
		require.Len(t, ids, 2)
		assert.NotEmpty(t, ids[0])
		assert.NotEqual(t, ids[0], ids[1])

		_, err = idx.Add(ctx, "ns", []vectorstore.Document{{ID: ids[0], Content: "python"}}, nil)
		require.NoError(t, err)

		n, err := idx.Count(ctx, "ns")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		hits, err := idx.Search(ctx, "ns", "python", 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, ids[0], hits[0].ID)
	})

	t.Run("NamespaceLifecycle", func(t *testing.T) {
		idx := fresh(t)
		_, err := idx.Search(ctx, "missing", "go", 1)
		assert.ErrorIs(t, err, vectorstore.ErrNamespaceNotFound)
		_, err = idx.Count(ctx, "missing")
		assert.ErrorIs(t, err, vectorstore.ErrNamespaceNotFound)

		require.NoError(t, idx.CreateOrGetNamespace(ctx, "kb_b"))
		require.NoError(t, idx.CreateOrGetNamespace(ctx, "kb_b"))
		_, err = idx.Add(ctx, "kb_a", []vectorstore.Document{{ID: "1", Content: "go"}, {ID: "2", Content: "rust"}}, nil)
		require.NoError(t, err)

		names, err := idx.ListNamespaces(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"kb_a", "kb_b"}, names)

		hits, err := idx.Search(ctx, "kb_b", "go", 5)
		require.NoError(t, err)
		assert.Empty(t, hits)

		require.NoError(t, idx.DeleteDocuments(ctx, "kb_a", []string{"1", "unknown"}))
		n, err := idx.Count(ctx, "kb_a")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		require.NoError(t, idx.DeleteNamespace(ctx, "kb_a"))
		names, err = idx.ListNamespaces(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"kb_b"}, names)
	})
}
