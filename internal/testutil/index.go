package testutil

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/hupe1980/agenthub/vectorstore"
)

// ScriptedIndex is a vectorstore.Index whose search results are scripted per
// namespace. Added documents are recorded but never searched.
type ScriptedIndex struct {
	mu       sync.Mutex
	hits     map[string][]vectorstore.Hit
	failures map[string]error
	added    map[string][]vectorstore.Document
	searches []string
	deleted  []string
}

var _ vectorstore.Index = (*ScriptedIndex)(nil)

// NewScriptedIndex creates an empty ScriptedIndex.
func NewScriptedIndex() *ScriptedIndex {
	return &ScriptedIndex{
		hits:     map[string][]vectorstore.Hit{},
		failures: map[string]error{},
		added:    map[string][]vectorstore.Document{},
	}
}

// WithHits scripts the hits for a namespace, in index order (chainable).
func (s *ScriptedIndex) WithHits(namespace string, hits ...vectorstore.Hit) *ScriptedIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[namespace] = hits
	return s
}

// WithFailure makes searches of namespace fail with err (chainable).
func (s *ScriptedIndex) WithFailure(namespace string, err error) *ScriptedIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[namespace] = err
	return s
}

// Added returns the documents added to namespace.
func (s *ScriptedIndex) Added(namespace string) []vectorstore.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]vectorstore.Document(nil), s.added[namespace]...)
}

// Searches returns the searched namespaces in call order.
func (s *ScriptedIndex) Searches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.searches...)
}

// Deleted returns the namespaces passed to DeleteNamespace.
func (s *ScriptedIndex) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

// CreateOrGetNamespace implements vectorstore.Index.
func (s *ScriptedIndex) CreateOrGetNamespace(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.added[namespace]; !ok {
		s.added[namespace] = nil
	}
	return nil
}

// Add implements vectorstore.Index. IDs default to "<namespace>-<n>".
func (s *ScriptedIndex) Add(_ context.Context, namespace string, docs []vectorstore.Document, metadata map[string]any) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			d.ID = namespace + "-" + strconv.Itoa(len(s.added[namespace]))
		}
		d.Metadata = vectorstore.MergeMetadata(metadata, d.Metadata)
		s.added[namespace] = append(s.added[namespace], d)
		ids[i] = d.ID
	}
	return ids, nil
}

// Search implements vectorstore.Index. Scripted hits are filtered by the
// threshold and truncated to k, preserving their scripted order.
func (s *ScriptedIndex) Search(ctx context.Context, namespace, _ string, k int, optFns ...func(o *vectorstore.SearchOptions)) ([]vectorstore.Hit, error) {
	opts := vectorstore.SearchOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	s.mu.Lock()
	s.searches = append(s.searches, namespace)
	err := s.failures[namespace]
	scripted := append([]vectorstore.Hit(nil), s.hits[namespace]...)
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]vectorstore.Hit, 0, len(scripted))
	for _, h := range scripted {
		if opts.ScoreThreshold > 0 && h.Score < opts.ScoreThreshold {
			continue
		}
		if !vectorstore.MatchFilter(h.Metadata, opts.Filter) {
			continue
		}
		out = append(out, h)
	}
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// DeleteNamespace implements vectorstore.Index.
func (s *ScriptedIndex) DeleteNamespace(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.added, namespace)
	delete(s.hits, namespace)
	s.deleted = append(s.deleted, namespace)
	return nil
}

// DeleteDocuments implements vectorstore.Index.
func (s *ScriptedIndex) DeleteDocuments(_ context.Context, namespace string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := s.added[namespace][:0]
	for _, d := range s.added[namespace] {
		if !drop[d.ID] {
			kept = append(kept, d)
		}
	}
	s.added[namespace] = kept
	return nil
}

// ListNamespaces implements vectorstore.Index.
func (s *ScriptedIndex) ListNamespaces(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]bool{}
	for ns := range s.added {
		seen[ns] = true
	}
	for ns := range s.hits {
		seen[ns] = true
	}
	out := make([]string, 0, len(seen))
	for ns := range seen {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out, nil
}

// Count implements vectorstore.Index.
func (s *ScriptedIndex) Count(_ context.Context, namespace string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.added[namespace]
	if !ok {
		return 0, vectorstore.NamespaceNotFound(namespace)
	}
	return len(docs), nil
}
