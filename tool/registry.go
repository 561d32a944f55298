package tool

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hupe1980/agenthub/core"
	"github.com/hupe1980/agenthub/logging"
	"github.com/hupe1980/agenthub/model"
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Logger logging.Logger
}

type registration struct {
	tool Tool
	meta Metadata
	// allowed is nil while the tool is unrestricted. Once an allow-list
	// exists it stays, even when emptied.
	allowed map[string]struct{}
}

// Registry holds named tools in registration order together with their
// allow-lists. All methods are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*registration
	order  []string
	logger logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Registry{
		tools:  make(map[string]*registration),
		logger: logging.OrNoOp(opts.Logger),
	}
}

// Register adds t. It fails with *core.DuplicateToolError if the name is taken.
func (r *Registry) Register(t Tool) error {
	meta := t.Metadata().withDefaults()
	if meta.Name == "" {
		return fmt.Errorf("%w: tool name must not be empty", core.ErrConfiguration)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[meta.Name]; exists {
		return &core.DuplicateToolError{Name: meta.Name}
	}

	reg := &registration{tool: t, meta: meta}
	if len(meta.AllowedUsers) > 0 {
		reg.allowed = make(map[string]struct{}, len(meta.AllowedUsers))
		for _, u := range meta.AllowedUsers {
			reg.allowed[u] = struct{}{}
		}
	}
	r.tools[meta.Name] = reg
	r.order = append(r.order, meta.Name)

	r.logger.Debug("tool.registered", logging.KeyTool, meta.Name, "category", meta.Category)
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Unregister removes a tool and its allow-list. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[name]; !ok {
		return
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return reg.tool, true
}

// List returns metadata in registration order. A non-empty category filters
// the result.
func (r *Registry) List(category string) []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Metadata, 0, len(r.order))
	for _, name := range r.order {
		reg := r.tools[name]
		if category != "" && reg.meta.Category != category {
			continue
		}
		meta := reg.meta
		meta.AllowedUsers = sortedKeys(reg.allowed)
		out = append(out, meta)
	}
	return out
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ToAgentTools converts the named tools into adapters, preserving the order
// of names. Unknown names are logged and skipped, so the result may be
// shorter than names.
func (r *Registry) ToAgentTools(names []string) []*Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapters := make([]*Adapter, 0, len(names))
	for _, name := range names {
		reg, ok := r.tools[name]
		if !ok {
			r.logger.Warn("tool.unknown", logging.KeyTool, name)
			continue
		}
		adapters = append(adapters, &Adapter{tool: reg.tool, meta: reg.meta})
	}
	return adapters
}

// CheckPermission reports whether userID may use the named tool. A tool
// that never had an allow-list is unrestricted; an emptied allow-list denies
// everyone. Unknown tools are never permitted.
func (r *Registry) CheckPermission(name, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.tools[name]
	if !ok {
		return false
	}
	if reg.allowed == nil {
		return true
	}
	_, ok = reg.allowed[userID]
	return ok
}

// Grant adds userID to the tool allow-list. Granting twice is a no-op.
func (r *Registry) Grant(name, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.tools[name]
	if !ok {
		return NewToolError(name, "tool not registered", CodeNotFound)
	}
	if reg.allowed == nil {
		reg.allowed = make(map[string]struct{})
	}
	reg.allowed[userID] = struct{}{}
	return nil
}

// Revoke removes userID from the tool allow-list. Revoking an absent user
// is a no-op. Revoking the last user leaves the tool usable by nobody.
func (r *Registry) Revoke(name, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.tools[name]
	if !ok {
		return NewToolError(name, "tool not registered", CodeNotFound)
	}
	delete(reg.allowed, userID)
	return nil
}

// Adapter binds a registered tool to the model-facing function calling surface.
type Adapter struct {
	tool Tool
	meta Metadata
}

// NewAdapter wraps t without a registry.
func NewAdapter(t Tool) *Adapter {
	return &Adapter{tool: t, meta: t.Metadata().withDefaults()}
}

// Name returns the tool name.
func (a *Adapter) Name() string { return a.meta.Name }

// Metadata returns the tool metadata.
func (a *Adapter) Metadata() Metadata { return a.meta }

// Definition returns the declaration sent to models.
func (a *Adapter) Definition() model.ToolDefinition {
	return model.ToolDefinition{
		Type: "function",
		Function: model.FunctionDefinition{
			Name:        a.meta.Name,
			Description: a.meta.Description,
			Parameters:  a.meta.Schema(),
		},
	}
}

// Invoke decodes raw JSON arguments and calls the tool. Malformed arguments
// yield a VALIDATION_ERROR ToolError.
func (a *Adapter) Invoke(tc *CallContext, raw json.RawMessage) (any, error) {
	args := map[string]any{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, &ToolError{
				Tool:    a.meta.Name,
				Message: fmt.Sprintf("invalid arguments: %v", err),
				Code:    CodeValidation,
			}
		}
	}
	return a.tool.Call(tc, args)
}
