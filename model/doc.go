// Package model defines the provider-agnostic abstractions and concrete
// helpers for interacting with language models inside agenthub.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Normalize tool / function call representation (ToolDefinition, ToolCall)
//   - Expose vision as an optional capability (SupportsVision)
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (OpenAI and compatible endpoints, Anthropic, Gemini) implement the
// Model interface from this package so the router and runtime remain
// decoupled from vendor SDKs.
package model
