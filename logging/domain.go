package logging

import (
	"errors"
	"time"
)

// Canonical attribute keys.
const (
	KeyAgentID    = "agent.id"
	KeySessionID  = "session.id"
	KeyRunID      = "run.id"
	KeyModel      = "model"
	KeyProvider   = "provider"
	KeyTool       = "tool"
	KeyNamespace  = "namespace"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// LogModelCall records model call latency and outcome.
func LogModelCall(l Logger, model string, dur time.Duration, err error) {
	if err != nil {
		l.Error("model.call.failed", KeyModel, model, KeyDurationMS, dur.Milliseconds(), KeyError, err.Error())
		return
	}
	l.Debug("model.call.success", KeyModel, model, KeyDurationMS, dur.Milliseconds())
}

// LogToolCall records execution details for a tool invocation.
func LogToolCall(l Logger, tool string, dur time.Duration, err error) {
	if err != nil {
		l.Warn("tool.call.failed", KeyTool, tool, KeyDurationMS, dur.Milliseconds(), KeyError, err.Error())
		return
	}
	l.Debug("tool.call.success", KeyTool, tool, KeyDurationMS, dur.Milliseconds())
}

// LogRun records the terminal state of an agent run. Cancellation is an
// expected outcome and is logged at info level.
func LogRun(l Logger, agentID, sessionID string, dur time.Duration, err error, cancelled error) {
	args := []any{KeyAgentID, agentID, KeySessionID, sessionID, KeyDurationMS, dur.Milliseconds()}
	switch {
	case err == nil:
		l.Info("agent.run.completed", args...)
	case cancelled != nil && errors.Is(err, cancelled):
		l.Info("agent.run.cancelled", args...)
	default:
		l.Error("agent.run.failed", append(args, KeyError, err.Error())...)
	}
}

// LogRetrieval records a per-namespace retrieval outcome.
func LogRetrieval(l Logger, namespace string, hits int, err error) {
	if err != nil {
		l.Warn("retrieval.namespace.failed", KeyNamespace, namespace, KeyError, err.Error())
		return
	}
	l.Debug("retrieval.namespace.success", KeyNamespace, namespace, "hits", hits)
}
