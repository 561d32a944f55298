package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Lifecycle(t *testing.T) {
	r := NewRegistry()

	tok := r.Register("s1")
	require.NotNil(t, tok)
	assert.False(t, tok.IsCancelled())
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Cancel("s1"))
	assert.True(t, tok.IsCancelled())

	r.Cleanup("s1")
	assert.Zero(t, r.Len())
	_, ok := r.Get("s1")
	assert.False(t, ok)

	// The token handed out earlier keeps its state.
	assert.True(t, tok.IsCancelled())
}

func TestRegistry_CancelUnknownIsNoOp(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Cancel("missing"))

	r.Register("s1")
	r.Cleanup("s1")
	assert.False(t, r.Cancel("s1"))

	r.Cleanup("s1")
	assert.Zero(t, r.Len())
}

func TestRegistry_RegisterReusesLiveToken(t *testing.T) {
	r := NewRegistry()
	a := r.Register("s1")
	b := r.Register("s1")
	assert.Same(t, a, b)

	a.Cancel()
	c := r.Register("s1")
	assert.NotSame(t, a, c)
	assert.False(t, c.IsCancelled())
}

func TestRegistry_SingleShard(t *testing.T) {
	r := NewRegistry(func(o *Options) { o.Shards = 1 })
	r.Register("a")
	r.Register("b")
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		id := fmt.Sprintf("session-%d", i%8)
		wg.Add(3)
		go func() {
			defer wg.Done()
			r.Register(id)
		}()
		go func() {
			defer wg.Done()
			r.Cancel(id)
		}()
		go func() {
			defer wg.Done()
			r.Cleanup(id)
		}()
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		r.Cleanup(fmt.Sprintf("session-%d", i))
	}
	assert.Zero(t, r.Len())
}

func TestRegistry_ReleaseKeepsSharedSession(t *testing.T) {
	r := NewRegistry()
	a := r.Register("s1")
	b := r.Register("s1")
	require.Same(t, a, b)

	// The first run finishing must not strand the second one.
	r.Release("s1", a)
	assert.Equal(t, 1, r.Len())
	assert.True(t, r.Cancel("s1"))
	assert.True(t, b.IsCancelled())

	r.Release("s1", b)
	assert.Zero(t, r.Len())
}

func TestRegistry_ReleaseStaleToken(t *testing.T) {
	r := NewRegistry()
	old := r.Register("s1")
	old.Cancel()
	fresh := r.Register("s1")
	require.NotSame(t, old, fresh)

	r.Release("s1", old)
	got, ok := r.Get("s1")
	require.True(t, ok)
	assert.Same(t, fresh, got)

	r.Release("s1", fresh)
	assert.Zero(t, r.Len())
	r.Release("s1", fresh)
}
