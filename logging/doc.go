// Package logging provides a minimal logging interface and adapters for agenthub.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) taking alternating key/value args. This package includes:
//
//   - SlogAdapter wrapping Go's structured logging (the library default)
//   - ZapAdapter wrapping go.uber.org/zap (used by the CLI)
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - LogModelCall / LogToolCall / LogRun / LogRetrieval helpers
//
// Usage:
//
//	logger := logging.New(&logging.Config{Level: logging.LogLevelDebug, Format: "text"})
//	rt := runtime.New(func(o *runtime.Options) { o.Logger = logger })
package logging
