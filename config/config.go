// Package config loads hub settings from YAML, an optional .env file and the
// process environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agenthub/router"
)

// Defaults.
const (
	DefaultChunkSize           = 1000
	DefaultChunkOverlap        = 200
	DefaultTopK                = 5
	DefaultScoreThreshold      = 0.7
	DefaultMaxIterations       = 10
	DefaultTimeout             = 300 * time.Second
	DefaultMaxConcurrentAgents = 10
	DefaultEmbeddingModel      = "text-embedding-3-small"
	DefaultVectorStorePath     = "data/vectors.db"
	DefaultNamespacePrefix     = "kb_"
)

// Vector store kinds.
const (
	VectorStoreSQLite = "sqlite"
	VectorStoreMemory = "memory"
)

// Embedder kinds. The empty string picks the first provider with a key and
// falls back to the local hash embedder.
const (
	EmbedderAuto   = ""
	EmbedderOpenAI = "openai"
	EmbedderGoogle = "google"
	EmbedderHash   = "hash"
)

// Config is the complete hub configuration.
type Config struct {
	Providers ProvidersConfig `yaml:"providers"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Log       LogConfig       `yaml:"log"`
}

// ProviderSettings overrides one entry of the built-in provider catalogue.
// Empty fields keep the catalogue values.
type ProviderSettings struct {
	APIKey       string   `yaml:"api_key"`
	BaseURL      string   `yaml:"base_url"`
	Models       []string `yaml:"models"`
	DefaultModel string   `yaml:"default_model"`
}

// ProvidersConfig holds the settings of every supported provider.
type ProvidersConfig struct {
	OpenAI    ProviderSettings `yaml:"openai"`
	DeepSeek  ProviderSettings `yaml:"deepseek"`
	Qwen      ProviderSettings `yaml:"qwen"`
	Anthropic ProviderSettings `yaml:"anthropic"`
	Google    ProviderSettings `yaml:"google"`
}

// RetrievalConfig configures chunking, search and storage.
type RetrievalConfig struct {
	ChunkSize       int     `yaml:"chunk_size"`
	ChunkOverlap    int     `yaml:"chunk_overlap"`
	TopK            int     `yaml:"top_k"`
	ScoreThreshold  float64 `yaml:"score_threshold"`
	NamespacePrefix string  `yaml:"namespace_prefix"`

	Embedder            string `yaml:"embedder"`
	EmbeddingModel      string `yaml:"embedding_model"`
	EmbeddingDimensions int    `yaml:"embedding_dimensions"`

	VectorStore     string `yaml:"vector_store"`
	VectorStorePath string `yaml:"vector_store_path"`
}

// RuntimeConfig configures agent execution.
type RuntimeConfig struct {
	MaxIterations       int           `yaml:"max_iterations"`
	Timeout             time.Duration `yaml:"timeout"`
	MaxConcurrentAgents int           `yaml:"max_concurrent_agents"`
	MaxParallelTools    int           `yaml:"max_parallel_tools"`
	SystemPrompt        string        `yaml:"system_prompt"`
}

// LogConfig configures the hub logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Retrieval: RetrievalConfig{
			ChunkSize:       DefaultChunkSize,
			ChunkOverlap:    DefaultChunkOverlap,
			TopK:            DefaultTopK,
			ScoreThreshold:  DefaultScoreThreshold,
			NamespacePrefix: DefaultNamespacePrefix,
			EmbeddingModel:  DefaultEmbeddingModel,
			VectorStore:     VectorStoreSQLite,
			VectorStorePath: DefaultVectorStorePath,
		},
		Runtime: RuntimeConfig{
			MaxIterations:       DefaultMaxIterations,
			Timeout:             DefaultTimeout,
			MaxConcurrentAgents: DefaultMaxConcurrentAgents,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// LoadOptions controls Load.
type LoadOptions struct {
	// Path of a YAML file. Empty skips the file.
	Path string

	// EnvFiles are dotenv files loaded into the process environment. Missing
	// files are ignored. Defaults to ".env".
	EnvFiles []string

	// Lookup reads environment variables. Defaults to os.LookupEnv.
	Lookup func(key string) (string, bool)
}

// Load builds a Config from defaults, the YAML file, dotenv files and the
// environment.
func Load(optFns ...func(o *LoadOptions)) (*Config, error) {
	opts := LoadOptions{
		EnvFiles: []string{".env"},
		Lookup:   os.LookupEnv,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	cfg := Default()
	if opts.Path != "" {
		data, err := os.ReadFile(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", opts.Path, err)
		}
	}

	for _, f := range opts.EnvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	if err := cfg.applyEnv(opts.Lookup); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	str("OPENAI_BASE_URL", &c.Providers.OpenAI.BaseURL)
	str("DEEPSEEK_API_KEY", &c.Providers.DeepSeek.APIKey)
	str("DEEPSEEK_BASE_URL", &c.Providers.DeepSeek.BaseURL)
	str("QWEN_API_KEY", &c.Providers.Qwen.APIKey)
	str("QWEN_BASE_URL", &c.Providers.Qwen.BaseURL)
	str("ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	str("GOOGLE_API_KEY", &c.Providers.Google.APIKey)
	str("EMBEDDING_MODEL", &c.Retrieval.EmbeddingModel)
	str("EMBEDDER", &c.Retrieval.Embedder)
	str("VECTOR_STORE", &c.Retrieval.VectorStore)
	str("VECTOR_STORE_PATH", &c.Retrieval.VectorStorePath)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	for key, dst := range map[string]*int{
		"CHUNK_SIZE":            &c.Retrieval.ChunkSize,
		"CHUNK_OVERLAP":         &c.Retrieval.ChunkOverlap,
		"TOP_K":                 &c.Retrieval.TopK,
		"MAX_ITERATIONS":        &c.Runtime.MaxIterations,
		"MAX_CONCURRENT_AGENTS": &c.Runtime.MaxConcurrentAgents,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup("SIMILARITY_THRESHOLD"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SIMILARITY_THRESHOLD: %w", err)
		}
		c.Retrieval.ScoreThreshold = f
	}

	// AGENT_TIMEOUT accepts a duration ("90s") or plain seconds ("90").
	if v, ok := lookup("AGENT_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			secs, serr := strconv.Atoi(v)
			if serr != nil {
				return fmt.Errorf("AGENT_TIMEOUT: %w", err)
			}
			d = time.Duration(secs) * time.Second
		}
		c.Runtime.Timeout = d
	}
	return nil
}

// Validate rejects settings no component can work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Retrieval.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.chunk_size must be positive, got %d", c.Retrieval.ChunkSize))
	}
	if c.Retrieval.ChunkOverlap < 0 || c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize {
		errs = append(errs, fmt.Errorf("retrieval.chunk_overlap must be in [0, chunk_size), got %d", c.Retrieval.ChunkOverlap))
	}
	if c.Retrieval.ScoreThreshold < 0 || c.Retrieval.ScoreThreshold > 1 {
		errs = append(errs, fmt.Errorf("retrieval.score_threshold must be in [0, 1], got %v", c.Retrieval.ScoreThreshold))
	}
	switch c.Retrieval.VectorStore {
	case VectorStoreSQLite, VectorStoreMemory:
	default:
		errs = append(errs, fmt.Errorf("retrieval.vector_store: unknown kind %q", c.Retrieval.VectorStore))
	}
	switch c.Retrieval.Embedder {
	case EmbedderAuto, EmbedderOpenAI, EmbedderGoogle, EmbedderHash:
	default:
		errs = append(errs, fmt.Errorf("retrieval.embedder: unknown kind %q", c.Retrieval.Embedder))
	}
	if c.Runtime.Timeout < 0 {
		errs = append(errs, fmt.Errorf("runtime.timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// ProviderConfigs merges the configured settings into the built-in catalogue and
// returns it in router iteration order.
func (c *Config) ProviderConfigs() []router.ProviderConfig {
	settings := map[string]ProviderSettings{
		router.ProviderOpenAI:    c.Providers.OpenAI,
		router.ProviderDeepSeek:  c.Providers.DeepSeek,
		router.ProviderQwen:      c.Providers.Qwen,
		router.ProviderAnthropic: c.Providers.Anthropic,
		router.ProviderGoogle:    c.Providers.Google,
	}

	out := router.DefaultProviders()
	for i, p := range out {
		s := settings[p.Name]
		p.APIKey = s.APIKey
		if s.BaseURL != "" {
			p.BaseURL = s.BaseURL
		}
		if len(s.Models) > 0 {
			p.Models = append([]string(nil), s.Models...)
		}
		if s.DefaultModel != "" {
			p.DefaultModel = s.DefaultModel
		}
		out[i] = p
	}
	return out
}
