package model

import "context"

// SupportsVision is implemented by models that accept image input in
// addition to text.
type SupportsVision interface {
	Model
	GenerateWithImage(ctx context.Context, prompt, imageURL string) (Response, error)
}

// AsVision reports whether m is vision capable and returns the capability.
func AsVision(m Model) (SupportsVision, bool) {
	v, ok := m.(SupportsVision)
	return v, ok
}
