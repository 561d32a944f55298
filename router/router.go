// Package router maps a (provider, model, policy) request to a cached,
// ready-to-use model client.
//
// When both provider and model are given the request is honoured directly.
// Otherwise the router scans every model of every provider that has
// credentials and applies a Policy:
//
//	COST      lowest listed cost
//	SPEED     lowest speed rank
//	QUALITY   highest quality rank
//	FALLBACK  default model of the first candidate provider
//
// Models missing from a ranking table lose against every ranked model; ties
// go to the first model in provider iteration order. Clients are cached under
// "provider:model" and built at most once per key, even under concurrent
// first use.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/agenthub/core"
	"github.com/hupe1980/agenthub/logging"
	"github.com/hupe1980/agenthub/model"
)

// Policy selects a model when the request is not fully explicit.
type Policy string

const (
	PolicyCost     Policy = "cost"
	PolicySpeed    Policy = "speed"
	PolicyQuality  Policy = "quality"
	PolicyFallback Policy = "fallback"
)

// ParsePolicy parses a policy name case-insensitively. The empty string maps
// to PolicyCost.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyCost, nil
	case PolicyCost, PolicySpeed, PolicyQuality, PolicyFallback:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown routing policy %q", core.ErrConfiguration, s)
	}
}

// DefaultMaxTokens is applied when a request leaves MaxTokens unset.
const DefaultMaxTokens = 2000

// Request describes the model a caller wants.
type Request struct {
	Provider    string
	Model       string
	Policy      Policy
	Temperature float64
	MaxTokens   int
}

// Options configures a Router.
type Options struct {
	// Providers in iteration order. Defaults to DefaultProviders (no credentials).
	Providers []ProviderConfig

	// Tables drive policy selection. Defaults to DefaultTables.
	Tables Tables

	// Factories build clients per provider name. Defaults to DefaultFactories.
	Factories map[string]Factory

	Logger logging.Logger
}

// Router selects and caches model clients. It is safe for concurrent use.
type Router struct {
	providers map[string]ProviderConfig
	order     []string
	tables    Tables
	factories map[string]Factory
	logger    logging.Logger

	cache  sync.Map // "provider:model" -> model.Model
	group  singleflight.Group
	builds atomic.Int64
}

// New creates a Router.
func New(optFns ...func(o *Options)) *Router {
	opts := Options{
		Providers: DefaultProviders(),
		Tables:    DefaultTables(),
		Factories: DefaultFactories(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	r := &Router{
		providers: make(map[string]ProviderConfig, len(opts.Providers)),
		order:     make([]string, 0, len(opts.Providers)),
		tables:    opts.Tables,
		factories: opts.Factories,
		logger:    logging.OrNoOp(opts.Logger),
	}
	for _, p := range opts.Providers {
		if _, dup := r.providers[p.Name]; !dup {
			r.order = append(r.order, p.Name)
		}
		r.providers[p.Name] = p
	}
	return r
}

// GetModel returns a client for req, constructing and caching it on first use.
//
// It fails with *core.UnsupportedProviderError for an unknown provider,
// core.ErrNoProviderAvailable when no provider has credentials and
// *core.ProviderConfigurationError when the chosen provider cannot build a client.
func (r *Router) GetModel(ctx context.Context, req Request) (model.Model, error) {
	if req.Provider != "" {
		if _, ok := r.providers[req.Provider]; !ok {
			return nil, &core.UnsupportedProviderError{Provider: req.Provider}
		}
	}

	provider, name := req.Provider, req.Model
	if provider == "" || name == "" {
		var err error
		provider, name, err = r.Select(req.Policy, req.Provider)
		if err != nil {
			return nil, err
		}
		r.logger.Info("router.model.selected", logging.KeyProvider, provider, logging.KeyModel, name, "policy", string(req.Policy))
	}

	return r.build(ctx, provider, name, req)
}

// Select applies policy to the available providers and returns the chosen
// provider and model without constructing a client. A preferred provider
// narrows the candidates when it is available and is ignored otherwise.
func (r *Router) Select(policy Policy, preferred string) (string, string, error) {
	candidates := r.Available()
	if len(candidates) == 0 {
		return "", "", fmt.Errorf("%w: set an API key for at least one provider", core.ErrNoProviderAvailable)
	}

	if preferred != "" {
		if r.providers[preferred].Available() {
			candidates = []string{preferred}
		} else {
			r.logger.Warn("router.preferred.unavailable", logging.KeyProvider, preferred)
		}
	}

	if policy == "" {
		policy = PolicyCost
	}

	var (
		provider, name string
		err            error
	)
	switch policy {
	case PolicyCost:
		provider, name = r.scan(candidates, func(m string) (float64, bool) {
			c, ok := r.tables.Cost[m]
			return c, ok
		})
	case PolicySpeed:
		provider, name = r.scan(candidates, func(m string) (float64, bool) {
			s, ok := r.tables.Speed[m]
			return float64(s), ok
		})
	case PolicyQuality:
		provider, name = r.scan(candidates, func(m string) (float64, bool) {
			q, ok := r.tables.Quality[m]
			return -float64(q), ok
		})
	case PolicyFallback:
		provider = candidates[0]
		name = r.providers[provider].defaultModel()
	default:
		err = fmt.Errorf("%w: unknown routing policy %q", core.ErrConfiguration, policy)
	}
	if err != nil {
		return "", "", err
	}
	if name == "" {
		return "", "", fmt.Errorf("%w: no models configured for %v", core.ErrNoProviderAvailable, candidates)
	}
	return provider, name, nil
}

// scan returns the model with the lowest score. Ranked models always beat
// unranked ones; on ties the first model encountered wins.
func (r *Router) scan(providers []string, score func(model string) (float64, bool)) (string, string) {
	var (
		bestProvider, bestModel string
		bestScore               float64
		bestRanked, found       bool
	)
	for _, p := range providers {
		for _, m := range r.providers[p].Models {
			s, ranked := score(m)
			better := !found ||
				(ranked && !bestRanked) ||
				(ranked && bestRanked && s < bestScore)
			if better {
				bestProvider, bestModel, bestScore, bestRanked, found = p, m, s, ranked, true
			}
		}
	}
	return bestProvider, bestModel
}

func (r *Router) build(ctx context.Context, provider, name string, req Request) (model.Model, error) {
	key := provider + ":" + name
	if m, ok := r.cache.Load(key); ok {
		return m.(model.Model), nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		if m, ok := r.cache.Load(key); ok {
			return m, nil
		}

		cfg := r.providers[provider]
		if !cfg.Available() {
			return nil, &core.ProviderConfigurationError{Provider: provider, Reason: "missing API key"}
		}
		factory, ok := r.factories[provider]
		if !ok {
			return nil, &core.UnsupportedProviderError{Provider: provider}
		}

		maxTokens := req.MaxTokens
		if maxTokens <= 0 {
			maxTokens = DefaultMaxTokens
		}
		m, err := factory(ctx, cfg, ModelSpec{
			Name:        name,
			Temperature: req.Temperature,
			MaxTokens:   maxTokens,
			Vision:      r.tables.Vision[name],
		})
		if err != nil {
			return nil, err
		}

		r.builds.Add(1)
		r.cache.Store(key, m)
		r.logger.Debug("router.model.constructed", logging.KeyProvider, provider, logging.KeyModel, name)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(model.Model), nil
}

// Available returns the providers with credentials in iteration order.
func (r *Router) Available() []string {
	out := make([]string, 0, len(r.order))
	for _, name := range r.order {
		if r.providers[name].Available() {
			out = append(out, name)
		}
	}
	return out
}

// ListAvailableModels maps every available provider to its models.
func (r *Router) ListAvailableModels() map[string][]string {
	out := make(map[string][]string)
	for _, name := range r.Available() {
		out[name] = append([]string(nil), r.providers[name].Models...)
	}
	return out
}

// ModelInfo returns the routing data known for a model.
func (r *Router) ModelInfo(provider, name string) ModelInfo {
	return r.tables.info(provider, name)
}

// Constructed reports how many clients have been built so far.
func (r *Router) Constructed() int64 { return r.builds.Load() }

// Purge drops every cached client.
func (r *Router) Purge() {
	r.cache.Range(func(k, _ any) bool {
		r.cache.Delete(k)
		return true
	})
}
