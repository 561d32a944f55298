package session

import (
	"hash/fnv"
	"sync"

	"github.com/hupe1980/agenthub/core"
)

const defaultShards = 32

type entry struct {
	token *core.CancellationToken
	refs  int
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// Registry maps session IDs to cancellation tokens. It is safe for
// concurrent use.
type Registry struct {
	shards []*shard
}

// Options configures a Registry.
type Options struct {
	// Shards is the number of independently locked partitions.
	Shards int
}

// NewRegistry creates an empty registry.
func NewRegistry(optFns ...func(o *Options)) *Registry {
	opts := Options{Shards: defaultShards}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Shards <= 0 {
		opts.Shards = defaultShards
	}

	r := &Registry{shards: make([]*shard, opts.Shards)}
	for i := range r.shards {
		r.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return r
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Register returns the token for id. A live token is shared with the caller
// and gains a reference; a missing or already cancelled one is replaced by a
// fresh token. Every Register should be paired with a Release.
func (r *Registry) Register(id string) *core.CancellationToken {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[id]; ok && !e.token.IsCancelled() {
		e.refs++
		return e.token
	}
	e := &entry{token: core.NewCancellationToken(), refs: 1}
	s.entries[id] = e
	return e.token
}

// Get returns the token registered for id.
func (r *Registry) Get(id string) (*core.CancellationToken, bool) {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return e.token, true
}

// Cancel sets the token of id. It reports whether a registered session was
// found; unknown or cleaned-up sessions are a no-op.
func (r *Registry) Cancel(id string) bool {
	tok, ok := r.Get(id)
	if !ok {
		return false
	}
	tok.Cancel()
	return true
}

// Release drops one reference to tok. The session is forgotten once no run
// holds it. Releasing a token that was replaced or cleaned up is a no-op.
func (r *Registry) Release(id string, tok *core.CancellationToken) {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.token != tok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(s.entries, id)
	}
}

// Cleanup forgets id regardless of outstanding references. Tokens already
// handed out keep their state.
func (r *Registry) Cleanup(id string) {
	s := r.shardFor(id)
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}
