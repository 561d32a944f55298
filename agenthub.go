// Package agenthub wires the model router, tool registry, retrieval pipeline,
// session registry and agent runtime into a single Hub built from a
// config.Config. Most applications:
//  1. Load a config with config.Load
//  2. Create a Hub with New and ingest documents into knowledge bases
//  3. Run agents synchronously (Run) or as an event stream (Stream)
//
// Each component stays reachable through accessors for callers that need
// finer control.
package agenthub

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hupe1980/agenthub/config"
	"github.com/hupe1980/agenthub/core"
	"github.com/hupe1980/agenthub/embedding"
	"github.com/hupe1980/agenthub/logging"
	"github.com/hupe1980/agenthub/retrieval"
	"github.com/hupe1980/agenthub/router"
	"github.com/hupe1980/agenthub/runtime"
	"github.com/hupe1980/agenthub/session"
	"github.com/hupe1980/agenthub/tool"
	"github.com/hupe1980/agenthub/tool/builtin"
	"github.com/hupe1980/agenthub/vectorstore"
	"github.com/hupe1980/agenthub/vectorstore/memory"
	"github.com/hupe1980/agenthub/vectorstore/sqlite"
)

// Options configures a Hub. Unset components are built from Config.
type Options struct {
	// Config defaults to config.Default().
	Config *config.Config

	// Factories override the router's client constructors per provider.
	Factories map[string]router.Factory

	// Embedder overrides the configured embedder.
	Embedder embedding.Embedder

	// Index overrides the configured vector store.
	Index vectorstore.Index

	// Tools overrides the registry. The built-in tools are registered only
	// when it is nil.
	Tools *tool.Registry

	// Logger defaults to a slog logger built from Config.Log.
	Logger logging.Logger
}

// Hub is the high-level façade. It is safe for concurrent use.
type Hub struct {
	cfg      *config.Config
	router   *router.Router
	tools    *tool.Registry
	pipeline *retrieval.Pipeline
	sessions *session.Registry
	runtime  *runtime.Runtime
	logger   logging.Logger
	closers  []func() error
}

// New builds a Hub. Close releases the vector store.
func New(ctx context.Context, optFns ...func(o *Options)) (*Hub, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	logger := opts.Logger
	if logger == nil {
		level, err := logging.ParseLevel(cfg.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrConfiguration, err)
		}
		logger = logging.New(&logging.Config{Level: level, Format: cfg.Log.Format, Component: "agenthub"})
	}

	h := &Hub{cfg: cfg, logger: logger}

	h.router = router.New(func(o *router.Options) {
		o.Providers = cfg.ProviderConfigs()
		if opts.Factories != nil {
			o.Factories = opts.Factories
		}
		o.Logger = logger
	})

	h.tools = opts.Tools
	if h.tools == nil {
		h.tools = tool.NewRegistry(func(o *tool.RegistryOptions) { o.Logger = logger })
		if err := builtin.RegisterDefaults(h.tools); err != nil {
			return nil, err
		}
	}

	index := opts.Index
	if index == nil {
		embedder := opts.Embedder
		if embedder == nil {
			var err error
			if embedder, err = newEmbedder(ctx, cfg); err != nil {
				return nil, err
			}
		}
		var err error
		if index, err = h.openIndex(cfg, embedder); err != nil {
			return nil, err
		}
	}

	pipeline, err := retrieval.New(func(o *retrieval.Options) {
		o.Index = index
		o.ChunkSize = cfg.Retrieval.ChunkSize
		o.ChunkOverlap = cfg.Retrieval.ChunkOverlap
		o.TopK = cfg.Retrieval.TopK
		o.ScoreThreshold = cfg.Retrieval.ScoreThreshold
		o.NamespacePrefix = cfg.Retrieval.NamespacePrefix
		o.Logger = logger
	})
	if err != nil {
		return nil, errors.Join(err, h.Close())
	}
	h.pipeline = pipeline

	h.sessions = session.NewRegistry()
	rt, err := runtime.New(func(o *runtime.Options) {
		o.Models = h.router
		o.Tools = h.tools
		o.Retriever = pipeline
		o.Sessions = h.sessions
		o.MaxConcurrentRuns = cfg.Runtime.MaxConcurrentAgents
		o.Timeout = cfg.Runtime.Timeout
		o.MaxIterations = cfg.Runtime.MaxIterations
		o.MaxParallelTools = cfg.Runtime.MaxParallelTools
		o.SystemPrompt = cfg.Runtime.SystemPrompt
		o.Logger = logger
	})
	if err != nil {
		return nil, errors.Join(err, h.Close())
	}
	h.runtime = rt

	logger.Info("hub.ready",
		"providers", h.router.Available(),
		"vector_store", cfg.Retrieval.VectorStore,
		"tools", h.tools.Len(),
	)
	return h, nil
}

func newEmbedder(ctx context.Context, cfg *config.Config) (embedding.Embedder, error) {
	r := cfg.Retrieval
	kind := r.Embedder
	if kind == config.EmbedderAuto {
		switch {
		case cfg.Providers.OpenAI.APIKey != "":
			kind = config.EmbedderOpenAI
		case cfg.Providers.Google.APIKey != "":
			kind = config.EmbedderGoogle
		default:
			kind = config.EmbedderHash
		}
	}

	switch kind {
	case config.EmbedderOpenAI:
		if cfg.Providers.OpenAI.APIKey == "" {
			return nil, &core.ProviderConfigurationError{Provider: router.ProviderOpenAI, Reason: "embedder requires OPENAI_API_KEY"}
		}
		return embedding.NewOpenAI(func(o *embedding.OpenAIOptions) {
			o.APIKey = cfg.Providers.OpenAI.APIKey
			o.BaseURL = cfg.Providers.OpenAI.BaseURL
			o.Model = r.EmbeddingModel
			o.Dimensions = r.EmbeddingDimensions
		}), nil
	case config.EmbedderGoogle:
		return embedding.NewGenAI(ctx, func(o *embedding.GenAIOptions) {
			o.APIKey = cfg.Providers.Google.APIKey
			// The OpenAI default model name means nothing to Gemini.
			if r.EmbeddingModel != "" && r.EmbeddingModel != config.DefaultEmbeddingModel {
				o.Model = r.EmbeddingModel
			}
		})
	case config.EmbedderHash:
		return embedding.NewHash(r.EmbeddingDimensions), nil
	default:
		return nil, fmt.Errorf("%w: unknown embedder %q", core.ErrConfiguration, kind)
	}
}

func (h *Hub) openIndex(cfg *config.Config, e embedding.Embedder) (vectorstore.Index, error) {
	switch cfg.Retrieval.VectorStore {
	case config.VectorStoreMemory:
		return memory.New(e), nil
	case config.VectorStoreSQLite:
		path := cfg.Retrieval.VectorStorePath
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create vector store dir: %w", err)
			}
		}
		store, err := sqlite.Open(path, e)
		if err != nil {
			return nil, err
		}
		h.closers = append(h.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown vector store %q", core.ErrConfiguration, cfg.Retrieval.VectorStore)
	}
}

// Config returns the configuration the Hub was built from.
func (h *Hub) Config() *config.Config { return h.cfg }

// Router returns the model router.
func (h *Hub) Router() *router.Router { return h.router }

// Tools returns the tool registry.
func (h *Hub) Tools() *tool.Registry { return h.tools }

// Retrieval returns the retrieval pipeline.
func (h *Hub) Retrieval() *retrieval.Pipeline { return h.pipeline }

// Runtime returns the agent runtime.
func (h *Hub) Runtime() *runtime.Runtime { return h.runtime }

// Logger returns the hub logger.
func (h *Hub) Logger() logging.Logger { return h.logger }

// Run executes an agent for one message. An empty sessionID gets a fresh
// one. The session is registered for the duration of the run so that
// CancelSession can stop it. Concurrent runs on one session share its token.
func (h *Hub) Run(ctx context.Context, agent *runtime.AgentConfig, sessionID, userID, message string) runtime.Result {
	ac := h.begin(agent, sessionID, userID)
	defer h.runtime.ReleaseSession(ac.SessionID, ac.Token)
	return h.runtime.Run(ctx, ac, message)
}

// Stream is Run reporting progress as events. The session is released
// once the stream ends or is closed.
func (h *Hub) Stream(ctx context.Context, agent *runtime.AgentConfig, sessionID, userID, message string) *runtime.EventStream {
	ac := h.begin(agent, sessionID, userID)
	return h.runtime.StreamWithCleanup(ctx, ac, message, func() {
		h.runtime.ReleaseSession(ac.SessionID, ac.Token)
	})
}

// RunWithImage sends a prompt and an image to a vision-capable model.
func (h *Hub) RunWithImage(ctx context.Context, agent *runtime.AgentConfig, sessionID, userID, prompt, imageURL string) runtime.Result {
	ac := h.begin(agent, sessionID, userID)
	defer h.runtime.ReleaseSession(ac.SessionID, ac.Token)
	return h.runtime.RunWithImage(ctx, ac, prompt, imageURL)
}

// CancelSession requests cooperative cancellation of a running session.
func (h *Hub) CancelSession(sessionID string) bool {
	return h.runtime.CancelSession(sessionID)
}

func (h *Hub) begin(agent *runtime.AgentConfig, sessionID, userID string) *runtime.AgentContext {
	if sessionID == "" {
		sessionID = core.NewID()
	}
	token := h.runtime.RegisterSession(sessionID)
	return runtime.NewAgentContext(agent, sessionID, userID, token)
}

// IngestFile parses, chunks and stores a file in a knowledge base.
func (h *Hub) IngestFile(ctx context.Context, knowledgeBaseID, path string, metadata map[string]any) (*retrieval.IngestResult, error) {
	return h.pipeline.IngestFile(ctx, path, h.pipeline.Namespace(knowledgeBaseID), metadata)
}

// IngestText chunks and stores raw text in a knowledge base.
func (h *Hub) IngestText(ctx context.Context, knowledgeBaseID, text, source string, metadata map[string]any) (*retrieval.IngestResult, error) {
	return h.pipeline.IngestText(ctx, text, source, h.pipeline.Namespace(knowledgeBaseID), metadata)
}

// Search retrieves chunks from knowledge bases. k falls back to the
// configured default when <= 0, threshold when 0. A negative threshold
// returns hits regardless of score.
func (h *Hub) Search(ctx context.Context, query string, knowledgeBaseIDs []string, k int, threshold float64) ([]retrieval.Result, error) {
	return h.pipeline.Retrieve(ctx, query, h.pipeline.Namespaces(knowledgeBaseIDs), k, threshold)
}

// DeleteKnowledgeBase drops a knowledge base and its chunks.
func (h *Hub) DeleteKnowledgeBase(ctx context.Context, knowledgeBaseID string) error {
	return h.pipeline.DeleteNamespace(ctx, h.pipeline.Namespace(knowledgeBaseID))
}

// Close releases resources held by the Hub.
func (h *Hub) Close() error {
	var errs []error
	for _, c := range h.closers {
		errs = append(errs, c())
	}
	h.closers = nil
	return errors.Join(errs...)
}
