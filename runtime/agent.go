package runtime

import (
	"sync"
	"time"

	"github.com/hupe1980/agenthub/core"
	"github.com/hupe1980/agenthub/router"
)

// DefaultSystemPrompt is used when an agent has no system prompt.
const DefaultSystemPrompt = "You are a helpful AI assistant."

// AgentConfig describes an agent. It is read-only for the duration of a run.
type AgentConfig struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name,omitempty" json:"name,omitempty"`
	Provider     string `yaml:"provider,omitempty" json:"provider,omitempty"`
	Model        string `yaml:"model,omitempty" json:"model,omitempty"`
	SystemPrompt string `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`

	Temperature float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`

	// Tools lists tool names in the order they are offered to the model.
	Tools []string `yaml:"tools,omitempty" json:"tools,omitempty"`

	RAGEnabled       bool     `yaml:"rag_enabled,omitempty" json:"rag_enabled,omitempty"`
	KnowledgeBaseIDs []string `yaml:"knowledge_base_ids,omitempty" json:"knowledge_base_ids,omitempty"`

	// TopK overrides the retrieval default when > 0, ScoreThreshold when
	// non-zero. A negative ScoreThreshold disables score filtering.
	TopK           int     `yaml:"top_k,omitempty" json:"top_k,omitempty"`
	ScoreThreshold float64 `yaml:"score_threshold,omitempty" json:"score_threshold,omitempty"`

	// MaxIterations bounds model turns; 0 selects the runtime default.
	MaxIterations int `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`

	// Timeout bounds the whole run; 0 selects the runtime default.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	RoutingPolicy router.Policy `yaml:"routing_policy,omitempty" json:"routing_policy,omitempty"`
}

// AgentContext is the per-run state: the agent, the caller identity, the
// session cancellation token and a metadata bag for observability.
type AgentContext struct {
	Config    *AgentConfig
	SessionID string
	UserID    string
	Token     *core.CancellationToken
	StartedAt time.Time

	mu       sync.Mutex
	metadata map[string]any
}

// NewAgentContext creates a context for one run. A nil token gets a fresh one.
func NewAgentContext(cfg *AgentConfig, sessionID, userID string, token *core.CancellationToken) *AgentContext {
	if token == nil {
		token = core.NewCancellationToken()
	}
	return &AgentContext{
		Config:    cfg,
		SessionID: sessionID,
		UserID:    userID,
		Token:     token,
		StartedAt: time.Now(),
		metadata:  make(map[string]any),
	}
}

// Set stores a metadata value.
func (ac *AgentContext) Set(key string, value any) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.metadata[key] = value
}

// Get reads a metadata value.
func (ac *AgentContext) Get(key string) (any, bool) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	v, ok := ac.metadata[key]
	return v, ok
}

// Metadata returns a shallow copy of the metadata bag.
func (ac *AgentContext) Metadata() map[string]any {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	out := make(map[string]any, len(ac.metadata))
	for k, v := range ac.metadata {
		out[k] = v
	}
	return out
}

func (ac *AgentContext) agentID() string {
	if ac.Config == nil {
		return ""
	}
	return ac.Config.ID
}
