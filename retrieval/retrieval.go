// Package retrieval ingests documents into namespaced vector indexes and
// answers multi-namespace similarity queries.
//
// Ingestion splits each document with a deterministic recursive splitter and
// stores the chunks under stable content-derived IDs, so re-ingesting the same
// text is idempotent. Retrieval fans out over namespaces concurrently; a
// namespace that fails is logged and skipped, and the surviving hits are
// merged into a single ranking truncated to the global top-k.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agenthub/core"
	"github.com/hupe1980/agenthub/logging"
	"github.com/hupe1980/agenthub/retrieval/parser"
	"github.com/hupe1980/agenthub/vectorstore"
)

// Retrieval defaults.
const (
	DefaultTopK            = 5
	DefaultScoreThreshold  = 0.7
	DefaultNamespacePrefix = "kb_"
	DefaultConcurrency     = 8
)

// Chunk is a stored piece of a document.
type Chunk struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// IngestResult lists the chunks written by one ingestion, in order.
type IngestResult struct {
	Chunks   []Chunk
	ChunkIDs []string
}

// Result is a single retrieval hit.
type Result struct {
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Score     float64        `json:"similarity_score"`
	Source    string         `json:"source"`
	Namespace string         `json:"namespace"`
}

// Options configures a Pipeline.
type Options struct {
	Index    vectorstore.Index
	Parsers  *parser.Registry
	Splitter Splitter

	ChunkSize      int
	ChunkOverlap   int
	TopK           int
	ScoreThreshold float64

	// NamespacePrefix is prepended to knowledge base IDs by Namespace.
	NamespacePrefix string

	// Concurrency bounds parallel namespace searches.
	Concurrency int

	Logger logging.Logger
	Tracer trace.Tracer
}

// Pipeline implements document ingestion and retrieval over an Index.
type Pipeline struct {
	index    vectorstore.Index
	parsers  *parser.Registry
	splitter Splitter
	opts     Options
	logger   logging.Logger
	tracer   trace.Tracer
}

// New creates a pipeline. Options.Index is required.
func New(optFns ...func(o *Options)) (*Pipeline, error) {
	opts := Options{
		ChunkSize:       DefaultChunkSize,
		ChunkOverlap:    DefaultChunkOverlap,
		TopK:            DefaultTopK,
		ScoreThreshold:  DefaultScoreThreshold,
		NamespacePrefix: DefaultNamespacePrefix,
		Concurrency:     DefaultConcurrency,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Index == nil {
		return nil, fmt.Errorf("retrieval: %w: index is required", core.ErrConfiguration)
	}
	if opts.Parsers == nil {
		opts.Parsers = parser.NewRegistry()
	}
	if opts.Splitter == nil {
		opts.Splitter = NewRecursiveSplitter(opts.ChunkSize, opts.ChunkOverlap)
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.ScoreThreshold <= 0 {
		opts.ScoreThreshold = DefaultScoreThreshold
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/hupe1980/agenthub/retrieval")
	}

	return &Pipeline{
		index:    opts.Index,
		parsers:  opts.Parsers,
		splitter: opts.Splitter,
		opts:     opts,
		logger:   logging.OrNoOp(opts.Logger),
		tracer:   opts.Tracer,
	}, nil
}

// Index returns the underlying vector index.
func (p *Pipeline) Index() vectorstore.Index { return p.index }

// Parsers returns the parser registry used by IngestFile.
func (p *Pipeline) Parsers() *parser.Registry { return p.parsers }

// Namespace maps a knowledge base ID to its index namespace.
func (p *Pipeline) Namespace(knowledgeBaseID string) string {
	return p.opts.NamespacePrefix + knowledgeBaseID
}

// Namespaces maps knowledge base IDs to namespaces, preserving order.
func (p *Pipeline) Namespaces(knowledgeBaseIDs []string) []string {
	out := make([]string, len(knowledgeBaseIDs))
	for i, id := range knowledgeBaseIDs {
		out[i] = p.Namespace(id)
	}
	return out
}

// Ingest splits docs into chunks and stores them in namespace. metadata is
// attached to every chunk and wins over parser metadata. Each chunk also gets
// chunk_index and namespace keys.
func (p *Pipeline) Ingest(ctx context.Context, docs []parser.Document, namespace string, metadata map[string]any) (*IngestResult, error) {
	if err := p.index.CreateOrGetNamespace(ctx, namespace); err != nil {
		return nil, fmt.Errorf("create namespace %q: %w", namespace, err)
	}

	var chunks []Chunk
	for _, doc := range docs {
		source, _ := doc.Metadata["source"].(string)
		for i, text := range p.splitter.Split(doc.Content) {
			md := vectorstore.MergeMetadata(doc.Metadata, metadata)
			md["chunk_index"] = i
			md["namespace"] = namespace
			chunks = append(chunks, Chunk{
				ID:       chunkID(namespace, source, i, text),
				Content:  text,
				Metadata: md,
			})
		}
	}

	result := &IngestResult{Chunks: chunks}
	if len(chunks) == 0 {
		return result, nil
	}

	stored := make([]vectorstore.Document, len(chunks))
	for i, c := range chunks {
		stored[i] = vectorstore.Document{ID: c.ID, Content: c.Content, Metadata: c.Metadata}
	}
	ids, err := p.index.Add(ctx, namespace, stored, nil)
	if err != nil {
		return nil, fmt.Errorf("add chunks to %q: %w", namespace, err)
	}
	result.ChunkIDs = ids

	p.logger.Info("retrieval.ingest", logging.KeyNamespace, namespace, "documents", len(docs), "chunks", len(chunks))
	return result, nil
}

// IngestText stores a single text under source.
func (p *Pipeline) IngestText(ctx context.Context, text, source, namespace string, metadata map[string]any) (*IngestResult, error) {
	doc := parser.Document{Content: text, Metadata: map[string]any{"source": source}}
	return p.Ingest(ctx, []parser.Document{doc}, namespace, metadata)
}

// IngestFile parses path with the registered parser for its extension and
// ingests the result. An unknown extension yields
// *core.UnsupportedFileTypeError.
func (p *Pipeline) IngestFile(ctx context.Context, path, namespace string, metadata map[string]any) (*IngestResult, error) {
	docs, err := p.parsers.Parse(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	return p.Ingest(ctx, docs, namespace, metadata)
}

// DeleteNamespace drops all chunks of a namespace.
func (p *Pipeline) DeleteNamespace(ctx context.Context, namespace string) error {
	return p.index.DeleteNamespace(ctx, namespace)
}

// Retrieve searches every namespace for up to k hits scoring at least
// threshold, merges them and returns the global top-k by descending score.
// Equal scores keep namespace order, then index order. Non-positive k and a
// zero threshold select the pipeline defaults; a negative threshold disables
// score filtering. Failing namespaces are skipped; the only error returned is
// the context's.
func (p *Pipeline) Retrieve(ctx context.Context, query string, namespaces []string, k int, threshold float64) ([]Result, error) {
	if k <= 0 {
		k = p.opts.TopK
	}
	switch {
	case threshold == 0:
		threshold = p.opts.ScoreThreshold
	case threshold < 0:
		threshold = math.Inf(-1)
	}

	ctx, span := p.tracer.Start(ctx, "retrieval.retrieve", trace.WithAttributes(
		attribute.Int("retrieval.k", k),
		attribute.Float64("retrieval.threshold", threshold),
		attribute.StringSlice("retrieval.namespaces", namespaces),
	))
	defer span.End()

	start := time.Now()
	perNamespace := make([][]Result, len(namespaces))

	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for i, ns := range namespaces {
		g.Go(func() error {
			hits, err := p.index.Search(ctx, ns, query, k, func(o *vectorstore.SearchOptions) {
				o.ScoreThreshold = threshold
			})
			if err != nil {
				nsErr := &core.NamespaceError{Namespace: ns, Err: err}
				span.RecordError(nsErr)
				logging.LogRetrieval(p.logger, ns, 0, nsErr)
				return nil
			}
			logging.LogRetrieval(p.logger, ns, len(hits), nil)
			perNamespace[i] = toResults(ns, hits, threshold)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var merged []Result
	for _, rs := range perNamespace {
		merged = append(merged, rs...)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > k {
		merged = merged[:k]
	}

	span.SetAttributes(attribute.Int("retrieval.results", len(merged)))
	p.logger.Debug("retrieval.retrieve", "namespaces", len(namespaces), "results", len(merged), logging.KeyDurationMS, time.Since(start).Milliseconds())
	return merged, nil
}

func toResults(namespace string, hits []vectorstore.Hit, threshold float64) []Result {
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		// Indexes are asked to filter, but not trusted to.
		if h.Score < threshold {
			continue
		}
		source, _ := h.Metadata["source"].(string)
		if source == "" {
			source = namespace
		}
		out = append(out, Result{
			Content:   h.Content,
			Metadata:  h.Metadata,
			Score:     h.Score,
			Source:    source,
			Namespace: namespace,
		})
	}
	return out
}

// BuildContext formats results as a numbered list of sources for inclusion in
// a prompt. Empty input yields "".
func BuildContext(results []Result) string {
	if len(results) == 0 {
		return ""
	}
	parts := make([]string, 0, 1+4*len(results))
	parts = append(parts, "Here is relevant information from the knowledge base:\n")
	for i, r := range results {
		parts = append(parts,
			fmt.Sprintf("\n[Source %d]", i+1),
			"Content: "+r.Content,
			"Source: "+r.Source,
			fmt.Sprintf("Relevance: %.2f\n", r.Score),
		)
	}
	return strings.Join(parts, "\n")
}

func chunkID(namespace, source string, index int, content string) string {
	h := sha256.New()
	for _, s := range []string{namespace, source, strconv.Itoa(index), content} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
