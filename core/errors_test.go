package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypedErrors_MatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"provider configuration", &ProviderConfigurationError{Provider: "openai", Reason: "missing api key"}, ErrConfiguration},
		{"unsupported provider", &UnsupportedProviderError{Provider: "nope"}, ErrUnsupportedProvider},
		{"unsupported file type", &UnsupportedFileTypeError{Extension: ".exe"}, ErrUnsupportedFileType},
		{"duplicate tool", &DuplicateToolError{Name: "calculator"}, ErrDuplicateTool},
		{"namespace", &NamespaceError{Namespace: "kb_1", Err: errors.New("boom")}, ErrRetrievalNamespace},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestNamespaceError_Unwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := fmt.Errorf("search: %w", &NamespaceError{Namespace: "kb_2", Err: inner})

	assert.ErrorIs(t, err, inner)

	var nsErr *NamespaceError
	if assert.ErrorAs(t, err, &nsErr) {
		assert.Equal(t, "kb_2", nsErr.Namespace)
	}
}
