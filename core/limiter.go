package core

import (
	"fmt"
	"sync"
)

// IterationLimiter bounds the number of reasoning iterations (model turns)
// a single run may perform.
type IterationLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewIterationLimiter creates a new limiter with a max number of iterations.
// If max == 0, unlimited iterations are allowed.
func NewIterationLimiter(max int) *IterationLimiter {
	return &IterationLimiter{max: max}
}

// Increment increases the iteration counter and returns an error wrapping
// ErrMaxIterations once the limit is exceeded.
func (l *IterationLimiter) Increment() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.count++
	if l.max > 0 && l.count > l.max {
		return fmt.Errorf("%w: %d", ErrMaxIterations, l.max)
	}

	return nil
}

// Count returns the current number of iterations started.
func (l *IterationLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.count
}
