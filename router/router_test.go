package router

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenthub/core"
	"github.com/hupe1980/agenthub/model"
)

type factoryRecorder struct {
	calls atomic.Int64
	specs sync.Map // model name -> ModelSpec
}

func (f *factoryRecorder) factory(_ context.Context, cfg ProviderConfig, spec ModelSpec) (model.Model, error) {
	f.calls.Add(1)
	f.specs.Store(spec.Name, spec)
	return model.NewMockModel(spec.Name, cfg.Name), nil
}

func newTestRouter(t *testing.T, providers []ProviderConfig, tables Tables) (*Router, *factoryRecorder) {
	t.Helper()
	rec := &factoryRecorder{}
	factories := map[string]Factory{}
	for _, p := range providers {
		factories[p.Name] = rec.factory
	}
	r := New(func(o *Options) {
		o.Providers = providers
		o.Tables = tables
		o.Factories = factories
	})
	return r, rec
}

func abcProviders() []ProviderConfig {
	return []ProviderConfig{
		{Name: "p1", APIKey: "k", Models: []string{"b", "c"}, DefaultModel: "c"},
		{Name: "p2", APIKey: "k", Models: []string{"a"}},
	}
}

func TestSelect_CostPicksCheapest(t *testing.T) {
	r, _ := newTestRouter(t, abcProviders(), Tables{Cost: map[string]float64{"a": 1, "b": 5, "c": 3}})

	p, m, err := r.Select(PolicyCost, "")
	require.NoError(t, err)
	assert.Equal(t, "p2", p)
	assert.Equal(t, "a", m)
}

func TestSelect_QualityPicksBest(t *testing.T) {
	r, _ := newTestRouter(t, abcProviders(), Tables{Quality: map[string]int{"a": 2, "b": 9, "c": 5}})

	p, m, err := r.Select(PolicyQuality, "")
	require.NoError(t, err)
	assert.Equal(t, "p1", p)
	assert.Equal(t, "b", m)
}

func TestSelect_SpeedPicksFastest(t *testing.T) {
	r, _ := newTestRouter(t, abcProviders(), Tables{Speed: map[string]int{"a": 4, "b": 7, "c": 2}})

	_, m, err := r.Select(PolicySpeed, "")
	require.NoError(t, err)
	assert.Equal(t, "c", m)
}

func TestSelect_FallbackUsesFirstDefault(t *testing.T) {
	r, _ := newTestRouter(t, abcProviders(), Tables{})

	p, m, err := r.Select(PolicyFallback, "")
	require.NoError(t, err)
	assert.Equal(t, "p1", p)
	assert.Equal(t, "c", m)

	// Without a configured default the first listed model is used.
	p, m, err = r.Select(PolicyFallback, "p2")
	require.NoError(t, err)
	assert.Equal(t, "p2", p)
	assert.Equal(t, "a", m)
}

func TestSelect_UnrankedNeverBeatsRanked(t *testing.T) {
	providers := []ProviderConfig{
		{Name: "p1", APIKey: "k", Models: []string{"unknown-1", "ranked"}},
		{Name: "p2", APIKey: "k", Models: []string{"unknown-2"}},
	}
	tables := Tables{
		Cost:    map[string]float64{"ranked": 1000},
		Speed:   map[string]int{"ranked": 1000},
		Quality: map[string]int{"ranked": 0},
	}
	r, _ := newTestRouter(t, providers, tables)

	for _, policy := range []Policy{PolicyCost, PolicySpeed, PolicyQuality} {
		_, m, err := r.Select(policy, "")
		require.NoError(t, err)
		assert.Equal(t, "ranked", m, string(policy))
	}
}

func TestSelect_AllUnrankedPicksFirst(t *testing.T) {
	providers := []ProviderConfig{
		{Name: "p1", APIKey: "k", Models: []string{"x", "y"}},
		{Name: "p2", APIKey: "k", Models: []string{"z"}},
	}
	r, _ := newTestRouter(t, providers, Tables{})

	p, m, err := r.Select(PolicyCost, "")
	require.NoError(t, err)
	assert.Equal(t, "p1", p)
	assert.Equal(t, "x", m)
}

func TestSelect_TieGoesToFirstEncountered(t *testing.T) {
	r, _ := newTestRouter(t, abcProviders(), Tables{Cost: map[string]float64{"a": 1, "b": 1, "c": 1}})

	p, m, err := r.Select(PolicyCost, "")
	require.NoError(t, err)
	assert.Equal(t, "p1", p)
	assert.Equal(t, "b", m)
}

func TestSelect_PreferredProvider(t *testing.T) {
	providers := append(abcProviders(), ProviderConfig{Name: "p3", Models: []string{"z"}})
	r, _ := newTestRouter(t, providers, Tables{Cost: map[string]float64{"a": 1, "b": 5, "c": 3}})

	_, m, err := r.Select(PolicyCost, "p1")
	require.NoError(t, err)
	assert.Equal(t, "c", m)

	// Unavailable preference is ignored.
	p, m, err := r.Select(PolicyCost, "p3")
	require.NoError(t, err)
	assert.Equal(t, "p2", p)
	assert.Equal(t, "a", m)
}

func TestSelect_NoProviderAvailable(t *testing.T) {
	r, _ := newTestRouter(t, []ProviderConfig{{Name: "p1", Models: []string{"a"}}}, Tables{})

	_, _, err := r.Select(PolicyCost, "")
	assert.ErrorIs(t, err, core.ErrNoProviderAvailable)

	_, err = r.GetModel(context.Background(), Request{})
	assert.ErrorIs(t, err, core.ErrNoProviderAvailable)
}

func TestSelect_UnknownPolicy(t *testing.T) {
	r, _ := newTestRouter(t, abcProviders(), Tables{})
	_, _, err := r.Select(Policy("random"), "")
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestGetModel_UnsupportedProvider(t *testing.T) {
	r, _ := newTestRouter(t, abcProviders(), Tables{})

	_, err := r.GetModel(context.Background(), Request{Provider: "nope", Model: "x"})

	var unsupported *core.UnsupportedProviderError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "nope", unsupported.Provider)
	assert.ErrorIs(t, err, core.ErrUnsupportedProvider)
}

func TestGetModel_ExplicitBypassesPolicy(t *testing.T) {
	r, rec := newTestRouter(t, abcProviders(), Tables{Cost: map[string]float64{"a": 1, "b": 5}})

	m, err := r.GetModel(context.Background(), Request{Provider: "p1", Model: "b", Temperature: 0.2, MaxTokens: 128})
	require.NoError(t, err)
	assert.Equal(t, "b", m.Info().Name)

	v, ok := rec.specs.Load("b")
	require.True(t, ok)
	spec := v.(ModelSpec)
	assert.Equal(t, 0.2, spec.Temperature)
	assert.Equal(t, 128, spec.MaxTokens)
}

func TestGetModel_DefaultMaxTokens(t *testing.T) {
	r, rec := newTestRouter(t, abcProviders(), Tables{})

	_, err := r.GetModel(context.Background(), Request{Provider: "p2", Model: "a"})
	require.NoError(t, err)

	v, _ := rec.specs.Load("a")
	assert.Equal(t, DefaultMaxTokens, v.(ModelSpec).MaxTokens)
}

func TestGetModel_CacheReuse(t *testing.T) {
	r, rec := newTestRouter(t, abcProviders(), Tables{})
	ctx := context.Background()

	first, err := r.GetModel(ctx, Request{Provider: "p1", Model: "b"})
	require.NoError(t, err)
	second, err := r.GetModel(ctx, Request{Provider: "p1", Model: "b"})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.EqualValues(t, 1, rec.calls.Load())

	third, err := r.GetModel(ctx, Request{Provider: "p1", Model: "c"})
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.EqualValues(t, 2, rec.calls.Load())
	assert.EqualValues(t, 2, r.Constructed())

	r.Purge()
	_, err = r.GetModel(ctx, Request{Provider: "p1", Model: "b"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, rec.calls.Load())
}

func TestGetModel_ConcurrentFirstUseBuildsOnce(t *testing.T) {
	var calls atomic.Int64
	release := make(chan struct{})
	slow := func(_ context.Context, cfg ProviderConfig, spec ModelSpec) (model.Model, error) {
		calls.Add(1)
		<-release
		return model.NewMockModel(spec.Name, cfg.Name), nil
	}
	r := New(func(o *Options) {
		o.Providers = abcProviders()
		o.Tables = Tables{}
		o.Factories = map[string]Factory{"p1": slow, "p2": slow}
	})

	const n = 20
	results := make([]model.Model, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := r.GetModel(context.Background(), Request{Provider: "p1", Model: "b"})
			assert.NoError(t, err)
			results[i] = m
		}(i)
	}
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, m := range results {
		assert.Same(t, results[0], m)
	}
}

func TestGetModel_ConfigurationErrorPropagates(t *testing.T) {
	providers := []ProviderConfig{
		{Name: "p1", APIKey: "k", Models: []string{"a"}},
		{Name: "p2", Models: []string{"b"}},
	}
	boom := errors.New("bad key format")
	r := New(func(o *Options) {
		o.Providers = providers
		o.Tables = Tables{}
		o.Factories = map[string]Factory{
			"p1": func(context.Context, ProviderConfig, ModelSpec) (model.Model, error) {
				return nil, &core.ProviderConfigurationError{Provider: "p1", Reason: boom.Error()}
			},
		}
	})

	_, err := r.GetModel(context.Background(), Request{Provider: "p1", Model: "a"})
	assert.ErrorIs(t, err, core.ErrConfiguration)

	// Known provider without credentials.
	_, err = r.GetModel(context.Background(), Request{Provider: "p2", Model: "b"})
	var cfgErr *core.ProviderConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "p2", cfgErr.Provider)

	// Failures are not cached.
	assert.EqualValues(t, 0, r.Constructed())
}

func TestGetModel_PolicySelection(t *testing.T) {
	r, _ := newTestRouter(t, abcProviders(), Tables{Cost: map[string]float64{"a": 1, "b": 5, "c": 3}})

	m, err := r.GetModel(context.Background(), Request{Policy: PolicyCost})
	require.NoError(t, err)
	assert.Equal(t, "a", m.Info().Name)
	assert.Equal(t, "p2", m.Info().Provider)
}

func TestListAvailableModelsAndInfo(t *testing.T) {
	providers := DefaultProviders()
	providers[1].APIKey = "ds"
	providers[4].APIKey = "g"
	r := New(func(o *Options) { o.Providers = providers })

	assert.Equal(t, []string{ProviderDeepSeek, ProviderGoogle}, r.Available())
	assert.Equal(t, map[string][]string{
		ProviderDeepSeek: {"deepseek-chat", "deepseek-coder"},
		ProviderGoogle:   {"gemini-1.5-flash", "gemini-1.5-pro"},
	}, r.ListAvailableModels())

	info := r.ModelInfo(ProviderDeepSeek, "deepseek-chat")
	require.NotNil(t, info.Cost)
	assert.Equal(t, 0.14, *info.Cost)
	assert.Equal(t, 3, *info.Speed)
	assert.Equal(t, 5, *info.Quality)
	assert.False(t, info.Vision)

	unknown := r.ModelInfo("x", "mystery")
	assert.Nil(t, unknown.Cost)
	assert.Nil(t, unknown.Speed)
	assert.Nil(t, unknown.Quality)
}

func TestDefaultTables_Selection(t *testing.T) {
	providers := DefaultProviders()
	for i := range providers {
		providers[i].APIKey = "key"
	}
	r, _ := newTestRouter(t, providers, DefaultTables())

	_, m, err := r.Select(PolicyCost, "")
	require.NoError(t, err)
	assert.Equal(t, "deepseek-chat", m)

	_, m, err = r.Select(PolicySpeed, "")
	require.NoError(t, err)
	assert.Equal(t, "gpt-3.5-turbo", m)

	p, m, err := r.Select(PolicyQuality, "")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, p)
	assert.Equal(t, "gpt-4", m)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyCost, p)

	p, err = ParsePolicy(" QUALITY ")
	require.NoError(t, err)
	assert.Equal(t, PolicyQuality, p)

	_, err = ParsePolicy("cheapest")
	assert.ErrorIs(t, err, core.ErrConfiguration)
}
