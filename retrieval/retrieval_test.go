package retrieval

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenthub/core"
	"github.com/hupe1980/agenthub/internal/testutil"
	"github.com/hupe1980/agenthub/vectorstore"
	"github.com/hupe1980/agenthub/vectorstore/memory"
)

func newPipeline(t *testing.T, index vectorstore.Index, optFns ...func(o *Options)) *Pipeline {
	t.Helper()
	p, err := New(append([]func(o *Options){func(o *Options) { o.Index = index }}, optFns...)...)
	require.NoError(t, err)
	return p
}

func hit(id string, score float64) vectorstore.Hit {
	return vectorstore.Hit{ID: id, Content: id, Score: score, Metadata: map[string]any{"source": id + ".md"}}
}

func contents(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Content
	}
	return out
}

func TestNew_RequiresIndex(t *testing.T) {
	_, err := New()
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestPipeline_Namespace(t *testing.T) {
	p := newPipeline(t, testutil.NewScriptedIndex())
	assert.Equal(t, "kb_42", p.Namespace("42"))
	assert.Equal(t, []string{"kb_a", "kb_b"}, p.Namespaces([]string{"a", "b"}))

	p = newPipeline(t, testutil.NewScriptedIndex(), func(o *Options) { o.NamespacePrefix = "docs/" })
	assert.Equal(t, "docs/42", p.Namespace("42"))
}

func TestRetrieve_MergesAcrossNamespaces(t *testing.T) {
	idx := testutil.NewScriptedIndex().
		WithHits("A", hit("a1", 0.9), hit("a2", 0.5)).
		WithHits("B", hit("b1", 0.8))
	p := newPipeline(t, idx)

	results, err := p.Retrieve(context.Background(), "q", []string{"A", "B"}, 2, 0.1)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, []string{"a1", "b1"}, contents(results))
	assert.Equal(t, "A", results[0].Namespace)
	assert.Equal(t, "B", results[1].Namespace)
	assert.InDelta(t, 0.9, results[0].Score, 1e-9)
	assert.InDelta(t, 0.8, results[1].Score, 1e-9)
}

func TestRetrieve_FailingNamespaceIsSkipped(t *testing.T) {
	idx := testutil.NewScriptedIndex().
		WithFailure("broken", errors.New("index unavailable")).
		WithHits("healthy", hit("h1", 0.95), hit("h2", 0.75))
	p := newPipeline(t, idx)

	results, err := p.Retrieve(context.Background(), "q", []string{"broken", "healthy"}, 5, 0.7)
	require.NoError(t, err)
	assert.Equal(t, []string{"h1", "h2"}, contents(results))
	assert.ElementsMatch(t, []string{"broken", "healthy"}, idx.Searches())
}

func TestRetrieve_AllNamespacesFail(t *testing.T) {
	idx := testutil.NewScriptedIndex().WithFailure("x", errors.New("down"))
	p := newPipeline(t, idx)

	results, err := p.Retrieve(context.Background(), "q", []string{"x"}, 5, 0.7)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// unfilteredIndex ignores search options, so threshold filtering has to
// happen in the pipeline.
type unfilteredIndex struct{ *testutil.ScriptedIndex }

func (u unfilteredIndex) Search(ctx context.Context, ns, q string, k int, _ ...func(o *vectorstore.SearchOptions)) ([]vectorstore.Hit, error) {
	return u.ScriptedIndex.Search(ctx, ns, q, k)
}

func TestRetrieve_ScoreThreshold(t *testing.T) {
	scripted := testutil.NewScriptedIndex().WithHits("A", hit("keep", 0.71), hit("drop", 0.6))

	for name, idx := range map[string]vectorstore.Index{
		"filtering index":   scripted,
		"unfiltering index": unfilteredIndex{scripted},
	} {
		t.Run(name, func(t *testing.T) {
			p := newPipeline(t, idx)
			results, err := p.Retrieve(context.Background(), "q", []string{"A"}, 5, 0.7)
			require.NoError(t, err)
			assert.Equal(t, []string{"keep"}, contents(results))
		})
	}
}

func TestRetrieve_NegativeThresholdDisablesFiltering(t *testing.T) {
	scripted := testutil.NewScriptedIndex().WithHits("A", hit("high", 0.9), hit("low", 0.1), hit("zero", 0))

	for name, idx := range map[string]vectorstore.Index{
		"filtering index":   scripted,
		"unfiltering index": unfilteredIndex{scripted},
	} {
		t.Run(name, func(t *testing.T) {
			p := newPipeline(t, idx)

			results, err := p.Retrieve(context.Background(), "q", []string{"A"}, 5, -1)
			require.NoError(t, err)
			assert.Equal(t, []string{"high", "low", "zero"}, contents(results))

			results, err = p.Retrieve(context.Background(), "q", []string{"A"}, 5, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"high"}, contents(results), "zero selects the default threshold")
		})
	}
}

func TestRetrieve_EqualScoresKeepNamespaceOrder(t *testing.T) {
	idx := testutil.NewScriptedIndex().
		WithHits("first", hit("f1", 0.8), hit("f2", 0.8)).
		WithHits("second", hit("s1", 0.8))
	p := newPipeline(t, idx)

	for i := 0; i < 20; i++ {
		results, err := p.Retrieve(context.Background(), "q", []string{"first", "second"}, 3, 0.5)
		require.NoError(t, err)
		assert.Equal(t, []string{"f1", "f2", "s1"}, contents(results))
	}
}

func TestRetrieve_Defaults(t *testing.T) {
	idx := testutil.NewScriptedIndex().WithHits("A",
		hit("1", 0.99), hit("2", 0.98), hit("3", 0.97), hit("4", 0.96),
		hit("5", 0.95), hit("6", 0.94), hit("low", 0.69))
	p := newPipeline(t, idx)

	results, err := p.Retrieve(context.Background(), "q", []string{"A"}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, contents(results))
}

func TestRetrieve_SourceFallsBackToNamespace(t *testing.T) {
	idx := testutil.NewScriptedIndex().WithHits("kb_1", vectorstore.Hit{ID: "x", Content: "x", Score: 0.9})
	p := newPipeline(t, idx)

	results, err := p.Retrieve(context.Background(), "q", []string{"kb_1"}, 1, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "kb_1", results[0].Source)
}

func TestRetrieve_CancelledContext(t *testing.T) {
	idx := testutil.NewScriptedIndex().WithHits("A", hit("a", 0.9))
	p := newPipeline(t, idx)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Retrieve(ctx, "q", []string{"A"}, 1, 0.5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIngest_AttachesMetadataAndIsIdempotent(t *testing.T) {
	text := strings.Repeat("Goroutines are lightweight threads managed by the Go runtime. ", 20)

	ingest := func() (*IngestResult, *testutil.ScriptedIndex) {
		idx := testutil.NewScriptedIndex()
		p := newPipeline(t, idx, func(o *Options) {
			o.ChunkSize = 200
			o.ChunkOverlap = 40
		})
		res, err := p.IngestText(context.Background(), text, "notes.txt", "kb_1", map[string]any{"owner": "alice"})
		require.NoError(t, err)
		return res, idx
	}

	first, idx := ingest()
	second, _ := ingest()

	require.Greater(t, len(first.Chunks), 1)
	assert.Equal(t, first.ChunkIDs, second.ChunkIDs)
	assert.Equal(t, first.Chunks, second.Chunks)

	stored := idx.Added("kb_1")
	require.Len(t, stored, len(first.Chunks))
	for i, d := range stored {
		assert.Equal(t, first.ChunkIDs[i], d.ID)
		assert.Equal(t, "alice", d.Metadata["owner"])
		assert.Equal(t, "notes.txt", d.Metadata["source"])
		assert.Equal(t, "kb_1", d.Metadata["namespace"])
		assert.Equal(t, i, d.Metadata["chunk_index"])
		assert.LessOrEqual(t, len([]rune(d.Content)), 200)
	}
}

func TestIngest_ChunkIDsDifferByNamespace(t *testing.T) {
	p := newPipeline(t, testutil.NewScriptedIndex())
	a, err := p.IngestText(context.Background(), "same text", "s", "kb_a", nil)
	require.NoError(t, err)
	b, err := p.IngestText(context.Background(), "same text", "s", "kb_b", nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.ChunkIDs, b.ChunkIDs)
}

func TestIngest_EmptyDocument(t *testing.T) {
	idx := testutil.NewScriptedIndex()
	p := newPipeline(t, idx)

	res, err := p.IngestText(context.Background(), "", "empty.txt", "kb_1", nil)
	require.NoError(t, err)
	assert.Empty(t, res.Chunks)
	assert.Empty(t, res.ChunkIDs)

	n, err := idx.Count(context.Background(), "kb_1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIngestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guide.md")
	require.NoError(t, os.WriteFile(path, []byte("# Guide\n\nUse channels."), 0o600))

	idx := testutil.NewScriptedIndex()
	p := newPipeline(t, idx)

	res, err := p.IngestFile(context.Background(), path, "kb_docs", map[string]any{"kb": "docs"})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, path, res.Chunks[0].Metadata["source"])
	assert.Equal(t, "md", res.Chunks[0].Metadata["file_type"])
	assert.Equal(t, "docs", res.Chunks[0].Metadata["kb"])

	_, err = p.IngestFile(context.Background(), filepath.Join(dir, "slides.pptx"), "kb_docs", nil)
	assert.ErrorIs(t, err, core.ErrUnsupportedFileType)
}

func TestDeleteNamespace(t *testing.T) {
	idx := testutil.NewScriptedIndex()
	p := newPipeline(t, idx)
	require.NoError(t, p.DeleteNamespace(context.Background(), "kb_1"))
	assert.Equal(t, []string{"kb_1"}, idx.Deleted())
}

func TestPipeline_EndToEndWithMemoryStore(t *testing.T) {
	store := memory.New(testutil.NewAxisEmbedder(testutil.SuiteKeywords...))
	p := newPipeline(t, store)
	ctx := context.Background()

	_, err := p.IngestText(ctx, "go has goroutines", "go.txt", "kb_lang", nil)
	require.NoError(t, err)
	_, err = p.IngestText(ctx, "rust has ownership", "rust.txt", "kb_lang", nil)
	require.NoError(t, err)
	_, err = p.IngestText(ctx, "python has generators", "py.txt", "kb_other", nil)
	require.NoError(t, err)

	results, err := p.Retrieve(ctx, "go", []string{"kb_lang", "kb_other", "kb_missing"}, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "go has goroutines", results[0].Content)
	assert.Equal(t, "go.txt", results[0].Source)
	assert.Equal(t, "kb_lang", results[0].Namespace)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestBuildContext(t *testing.T) {
	assert.Equal(t, "", BuildContext(nil))

	got := BuildContext([]Result{
		{Content: "Channels connect goroutines.", Source: "go.md", Score: 0.9},
		{Content: "Ownership prevents data races.", Source: "rust.md", Score: 0.75},
	})
	want := "Here is relevant information from the knowledge base:\n" +
		"\n\n[Source 1]\nContent: Channels connect goroutines.\nSource: go.md\nRelevance: 0.90\n" +
		"\n\n[Source 2]\nContent: Ownership prevents data races.\nSource: rust.md\nRelevance: 0.75\n"
	assert.Equal(t, want, got)
}
