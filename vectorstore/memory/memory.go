// Package memory provides a process-local vectorstore.Index. Vectors are
// held in maps guarded by a RWMutex and searched with a linear cosine scan,
// which is adequate for tests, demos and small knowledge bases.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/agenthub/core"
	"github.com/hupe1980/agenthub/embedding"
	"github.com/hupe1980/agenthub/vectorstore"
)

type storedDocument struct {
	doc    vectorstore.Document
	vector []float32
	seq    uint64
}

type namespace struct {
	docs map[string]*storedDocument
}

// Store is an in-memory vectorstore.Index.
type Store struct {
	embedder embedding.Embedder

	mu         sync.RWMutex
	namespaces map[string]*namespace
	seq        uint64
}

var _ vectorstore.Index = (*Store)(nil)

// New creates an empty Store that embeds with e.
func New(e embedding.Embedder) *Store {
	return &Store{
		embedder:   e,
		namespaces: make(map[string]*namespace),
	}
}

// CreateOrGetNamespace implements vectorstore.Index.
func (s *Store) CreateOrGetNamespace(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.namespaceLocked(name)
	return nil
}

func (s *Store) namespaceLocked(name string) *namespace {
	ns, ok := s.namespaces[name]
	if !ok {
		ns = &namespace{docs: make(map[string]*storedDocument)}
		s.namespaces[name] = ns
	}
	return ns
}

// Add implements vectorstore.Index. Re-adding an existing ID replaces it.
func (s *Store) Add(ctx context.Context, name string, docs []vectorstore.Document, metadata map[string]any) ([]string, error) {
	if len(docs) == 0 {
		return nil, s.CreateOrGetNamespace(ctx, name)
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("embed documents: got %d vectors for %d documents", len(vectors), len(docs))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespaceLocked(name)
	ids := make([]string, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			d.ID = core.NewID()
		}
		d.Metadata = vectorstore.MergeMetadata(metadata, d.Metadata)

		s.seq++
		ns.docs[d.ID] = &storedDocument{doc: d, vector: vectors[i], seq: s.seq}
		ids[i] = d.ID
	}
	return ids, nil
}

// Search implements vectorstore.Index. Equal scores keep insertion order.
func (s *Store) Search(ctx context.Context, name, query string, k int, optFns ...func(o *vectorstore.SearchOptions)) ([]vectorstore.Hit, error) {
	opts := vectorstore.SearchOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	s.mu.RLock()
	_, ok := s.namespaces[name]
	s.mu.RUnlock()
	if !ok {
		return nil, vectorstore.NamespaceNotFound(name)
	}

	qv, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	s.mu.RLock()
	ns, ok := s.namespaces[name]
	if !ok {
		s.mu.RUnlock()
		return nil, vectorstore.NamespaceNotFound(name)
	}
	candidates := make([]*storedDocument, 0, len(ns.docs))
	for _, sd := range ns.docs {
		if vectorstore.MatchFilter(sd.doc.Metadata, opts.Filter) {
			candidates = append(candidates, sd)
		}
	}
	s.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].seq < candidates[j].seq })

	hits := make([]vectorstore.Hit, 0, len(candidates))
	for _, sd := range candidates {
		score, err := embedding.CosineSimilarity(qv, sd.vector)
		if err != nil {
			return nil, err
		}
		hits = append(hits, vectorstore.Hit{
			ID:       sd.doc.ID,
			Content:  sd.doc.Content,
			Metadata: copyMap(sd.doc.Metadata),
			Score:    score,
		})
	}
	return vectorstore.TopK(hits, k, opts.ScoreThreshold), nil
}

// DeleteNamespace implements vectorstore.Index.
func (s *Store) DeleteNamespace(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.namespaces, name)
	return nil
}

// DeleteDocuments implements vectorstore.Index.
func (s *Store) DeleteDocuments(_ context.Context, name string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.namespaces[name]
	if !ok {
		return vectorstore.NamespaceNotFound(name)
	}
	for _, id := range ids {
		delete(ns.docs, id)
	}
	return nil
}

// ListNamespaces implements vectorstore.Index.
func (s *Store) ListNamespaces(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.namespaces))
	for name := range s.namespaces {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Count implements vectorstore.Index.
func (s *Store) Count(_ context.Context, name string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns, ok := s.namespaces[name]
	if !ok {
		return 0, vectorstore.NamespaceNotFound(name)
	}
	return len(ns.docs), nil
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
