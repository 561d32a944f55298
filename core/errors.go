package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrConfiguration indicates missing or structurally invalid provider
	// credentials. It is fatal to that provider only.
	ErrConfiguration = errors.New("configuration error")

	// ErrNoProviderAvailable is returned when no candidate provider/model
	// survives policy filtering.
	ErrNoProviderAvailable = errors.New("no provider available")

	// ErrUnsupportedProvider is returned for an unknown provider name.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrUnsupportedFileType is returned when no parser handles an extension.
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrDuplicateTool is returned when registering a tool name twice.
	ErrDuplicateTool = errors.New("duplicate tool")

	// ErrCancelled indicates cooperative cancellation was observed.
	ErrCancelled = errors.New("cancelled")

	// ErrMaxIterations indicates the reasoning loop exhausted its iteration budget.
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrTimeout indicates the run exceeded its wall-clock budget.
	ErrTimeout = errors.New("run timed out")

	// ErrRetrievalNamespace indicates a single namespace search failed.
	ErrRetrievalNamespace = errors.New("retrieval namespace error")

	// ErrVisionUnsupported is returned when an image is sent to a text-only model.
	ErrVisionUnsupported = errors.New("model does not support vision")
)

// ProviderConfigurationError reports why a provider client cannot be built.
// Use errors.As to extract it from a wrapped error chain.
type ProviderConfigurationError struct {
	Provider string
	Reason   string
}

func (e *ProviderConfigurationError) Error() string {
	return fmt.Sprintf("provider %q misconfigured: %s", e.Provider, e.Reason)
}

// Is matches ErrConfiguration.
func (e *ProviderConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// UnsupportedProviderError names the rejected provider.
type UnsupportedProviderError struct {
	Provider string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported provider: %q", e.Provider)
}

// Is matches ErrUnsupportedProvider.
func (e *UnsupportedProviderError) Is(target error) bool { return target == ErrUnsupportedProvider }

// UnsupportedFileTypeError names the rejected file extension.
type UnsupportedFileTypeError struct {
	Extension string
}

func (e *UnsupportedFileTypeError) Error() string {
	return fmt.Sprintf("unsupported file type: %q", e.Extension)
}

// Is matches ErrUnsupportedFileType.
func (e *UnsupportedFileTypeError) Is(target error) bool { return target == ErrUnsupportedFileType }

// DuplicateToolError names the tool that is already registered.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q already registered", e.Name)
}

// Is matches ErrDuplicateTool.
func (e *DuplicateToolError) Is(target error) bool { return target == ErrDuplicateTool }

// NamespaceError wraps the failure of a single namespace search.
type NamespaceError struct {
	Namespace string
	Err       error
}

func (e *NamespaceError) Error() string {
	return fmt.Sprintf("namespace %q: %v", e.Namespace, e.Err)
}

// Unwrap returns the underlying search error.
func (e *NamespaceError) Unwrap() error { return e.Err }

// Is matches ErrRetrievalNamespace.
func (e *NamespaceError) Is(target error) bool { return target == ErrRetrievalNamespace }
