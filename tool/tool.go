// Package tool implements the tool subsystem: typed tool metadata, schema
// validated function tools and a concurrency-safe registry with per-tool
// allow-lists that hands out invocable adapters to the runtime.
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/agenthub/internal/util"
	"github.com/hupe1980/agenthub/logging"
)

// Error codes carried by ToolError.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeExecution        = "EXECUTION_ERROR"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeNotFound         = "NOT_FOUND"
)

// Default metadata values applied on registration.
const (
	DefaultCategory = "general"
	DefaultVersion  = "1.0.0"
)

// Tool is the single capability interface every tool implements.
//
// Tool variants are data (Metadata) rather than subtypes: a calculator and a
// weather lookup differ only in their metadata and Call implementation.
// Implementations must be safe for concurrent use.
type Tool interface {
	// Metadata describes the tool to models and to the registry.
	Metadata() Metadata

	// Call executes the tool with decoded arguments.
	Call(tc *CallContext, args map[string]any) (any, error)
}

// Parameter is one typed argument of a tool.
type Parameter struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"` // JSON schema type
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool   `json:"required" yaml:"required"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty" yaml:"enum,omitempty"`
}

// Metadata is the registry-facing description of a tool.
type Metadata struct {
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	Parameters   []Parameter `json:"parameters"`
	Category     string      `json:"category"`
	RequiresAuth bool        `json:"requires_auth"`
	Version      string      `json:"version"`

	// AllowedUsers seeds the registry allow-list. Empty means unrestricted.
	AllowedUsers []string `json:"allowed_users,omitempty"`
}

// Schema renders the parameter list as a JSON schema object.
func (m Metadata) Schema() map[string]any {
	props := make(map[string]any, len(m.Parameters))
	required := make([]string, 0, len(m.Parameters))

	for _, p := range m.Parameters {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[p.Name] = prop

		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func (m Metadata) withDefaults() Metadata {
	if m.Category == "" {
		m.Category = DefaultCategory
	}
	if m.Version == "" {
		m.Version = DefaultVersion
	}
	return m
}

// CallContext carries per-invocation identity and cancellation into a tool.
type CallContext struct {
	ctx            context.Context
	functionCallID string
	sessionID      string
	userID         string
	logger         logging.Logger
}

// NewCallContext creates a CallContext. A nil logger falls back to a no-op logger.
func NewCallContext(ctx context.Context, functionCallID, sessionID, userID string, logger logging.Logger) *CallContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &CallContext{
		ctx:            ctx,
		functionCallID: functionCallID,
		sessionID:      sessionID,
		userID:         userID,
		logger:         logging.OrNoOp(logger),
	}
}

// Context returns the invocation context.
func (tc *CallContext) Context() context.Context { return tc.ctx }

// FunctionCallID returns the model-assigned id of the call.
func (tc *CallContext) FunctionCallID() string { return tc.functionCallID }

// SessionID returns the session the call belongs to.
func (tc *CallContext) SessionID() string { return tc.sessionID }

// UserID returns the user on whose behalf the call runs.
func (tc *CallContext) UserID() string { return tc.userID }

// Logger returns the invocation logger.
func (tc *CallContext) Logger() logging.Logger { return tc.logger }

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
