package router

import (
	"context"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/agenthub/core"
	"github.com/hupe1980/agenthub/model"
	"github.com/hupe1980/agenthub/model/anthropic"
	"github.com/hupe1980/agenthub/model/gemini"
	"github.com/hupe1980/agenthub/model/openai"
)

// Built-in provider names in default iteration order.
const (
	ProviderOpenAI    = "openai"
	ProviderDeepSeek  = "deepseek"
	ProviderQwen      = "qwen"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// ProviderConfig describes one provider: its credentials, endpoint and the
// models the router may select from it.
type ProviderConfig struct {
	Name         string   `yaml:"name"`
	APIKey       string   `yaml:"api_key"`
	BaseURL      string   `yaml:"base_url"`
	Models       []string `yaml:"models"`
	DefaultModel string   `yaml:"default_model"`
}

// Available reports whether the provider has credentials.
func (p ProviderConfig) Available() bool { return p.APIKey != "" }

func (p ProviderConfig) defaultModel() string {
	if p.DefaultModel != "" {
		return p.DefaultModel
	}
	if len(p.Models) > 0 {
		return p.Models[0]
	}
	return ""
}

// DefaultProviders returns the built-in provider catalogue without credentials.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			Name:         ProviderOpenAI,
			Models:       []string{"gpt-4", "gpt-4-turbo", "gpt-3.5-turbo"},
			DefaultModel: "gpt-3.5-turbo",
		},
		{
			Name:         ProviderDeepSeek,
			BaseURL:      "https://api.deepseek.com",
			Models:       []string{"deepseek-chat", "deepseek-coder"},
			DefaultModel: "deepseek-chat",
		},
		{
			Name:         ProviderQwen,
			BaseURL:      "https://dashscope.aliyuncs.com/compatible-mode/v1",
			Models:       []string{"qwen-turbo", "qwen-plus", "qwen-max"},
			DefaultModel: "qwen-turbo",
		},
		{
			Name:         ProviderAnthropic,
			Models:       []string{"claude-3-opus-20240229", "claude-3-sonnet-20240229", "claude-3-haiku-20240307"},
			DefaultModel: "claude-3-sonnet-20240229",
		},
		{
			Name:         ProviderGoogle,
			Models:       []string{"gemini-1.5-flash", "gemini-1.5-pro"},
			DefaultModel: "gemini-1.5-flash",
		},
	}
}

// ModelSpec carries the per-request generation settings handed to a Factory.
type ModelSpec struct {
	Name        string
	Temperature float64
	MaxTokens   int
	Vision      bool
}

// Factory constructs a model client for a provider.
type Factory func(ctx context.Context, cfg ProviderConfig, spec ModelSpec) (model.Model, error)

// DefaultFactories returns factories for the built-in providers. DeepSeek and
// Qwen use the OpenAI-compatible endpoint of the respective vendor.
func DefaultFactories() map[string]Factory {
	return map[string]Factory{
		ProviderOpenAI:    openAICompatible,
		ProviderDeepSeek:  openAICompatible,
		ProviderQwen:      openAICompatible,
		ProviderAnthropic: newAnthropic,
		ProviderGoogle:    newGemini,
	}
}

func openAICompatible(_ context.Context, cfg ProviderConfig, spec ModelSpec) (model.Model, error) {
	return openai.NewModel(func(o *openai.Options) {
		o.Provider = cfg.Name
		o.APIKey = cfg.APIKey
		o.BaseURL = cfg.BaseURL
		o.Model = spec.Name
		o.Temperature = spec.Temperature
		o.MaxCompletionTokens = int64(spec.MaxTokens)
		o.Vision = spec.Vision
	}), nil
}

func newAnthropic(_ context.Context, cfg ProviderConfig, spec ModelSpec) (model.Model, error) {
	return anthropic.NewModel(func(o *anthropic.Options) {
		o.APIKey = cfg.APIKey
		o.BaseURL = cfg.BaseURL
		o.Model = anthropicsdk.Model(spec.Name)
		o.Temperature = spec.Temperature
		o.MaxTokens = int64(spec.MaxTokens)
	}), nil
}

func newGemini(ctx context.Context, cfg ProviderConfig, spec ModelSpec) (model.Model, error) {
	m, err := gemini.NewModel(ctx, func(o *gemini.Options) {
		o.APIKey = cfg.APIKey
		o.BaseURL = cfg.BaseURL
		o.Model = spec.Name
		o.Temperature = float32(spec.Temperature)
		o.MaxOutputTokens = int32(spec.MaxTokens)
	})
	if err != nil {
		return nil, &core.ProviderConfigurationError{Provider: cfg.Name, Reason: err.Error()}
	}
	return m, nil
}
