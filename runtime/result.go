package runtime

import (
	"context"
	"errors"

	"github.com/hupe1980/agenthub/core"
)

// Metadata keys recorded for every run.
const (
	MetaAgentID    = "agent_id"
	MetaSessionID  = "session_id"
	MetaLatencyMS  = "latency_ms"
	MetaModel      = "model"
	MetaProvider   = "provider"
	MetaToolsUsed  = "tools_used"
	MetaToolErrors = "tool_errors"
	MetaRAGUsed    = "rag_used"
	MetaRAGResults = "rag_results"
	MetaIterations = "iterations"
)

// FailureReason classifies why a run did not complete.
type FailureReason string

const (
	ReasonCancelled     FailureReason = "cancelled"
	ReasonMaxIterations FailureReason = "max_iterations"
	ReasonTimeout       FailureReason = "timeout"
	ReasonModelError    FailureReason = "model_error"
	ReasonConfiguration FailureReason = "configuration"
	ReasonInternal      FailureReason = "internal"
)

// Result is the outcome of a synchronous run.
type Result struct {
	Success  bool           `json:"success"`
	Response string         `json:"response,omitempty"`
	Error    string         `json:"error,omitempty"`
	Reason   FailureReason  `json:"reason,omitempty"`
	Metadata map[string]any `json:"metadata"`

	// Err is the underlying error of a failed run.
	Err error `json:"-"`
}

// ToolFailure records a failed tool call.
type ToolFailure struct {
	Tool  string `json:"tool"`
	Error string `json:"error"`
}

// modelError marks failures reported by the model backend.
type modelError struct{ err error }

func (e *modelError) Error() string { return "model: " + e.err.Error() }
func (e *modelError) Unwrap() error { return e.err }

// Classify maps an error to its FailureReason.
func Classify(err error) FailureReason {
	var me *modelError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, core.ErrCancelled), errors.Is(err, context.Canceled):
		return ReasonCancelled
	case errors.Is(err, core.ErrMaxIterations):
		return ReasonMaxIterations
	case errors.Is(err, core.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, core.ErrConfiguration),
		errors.Is(err, core.ErrNoProviderAvailable),
		errors.Is(err, core.ErrUnsupportedProvider),
		errors.Is(err, core.ErrVisionUnsupported):
		return ReasonConfiguration
	case errors.As(err, &me):
		return ReasonModelError
	default:
		return ReasonInternal
	}
}

func failure(err error, md map[string]any) Result {
	return Result{
		Success:  false,
		Error:    err.Error(),
		Reason:   Classify(err),
		Metadata: md,
		Err:      err,
	}
}
