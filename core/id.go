package core

import "github.com/google/uuid"

// NewID returns a random identifier for runs, events and tool calls.
func NewID() string { return uuid.NewString() }
