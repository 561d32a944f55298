package core

import "sync/atomic"

// CancellationToken is a one-way cancellation flag shared by every task that
// runs on behalf of a session. Once cancelled it stays cancelled.
//
// Cancellation is cooperative: holders poll IsCancelled at their own
// checkpoints instead of being interrupted.
type CancellationToken struct {
	cancelled atomic.Bool
}

// NewCancellationToken returns an active token.
func NewCancellationToken() *CancellationToken {
	return &CancellationToken{}
}

// Cancel sets the flag. It reports whether this call performed the
// transition; subsequent calls are no-ops returning false.
func (t *CancellationToken) Cancel() bool {
	return t.cancelled.CompareAndSwap(false, true)
}

// IsCancelled reports whether Cancel has been called.
func (t *CancellationToken) IsCancelled() bool {
	return t.cancelled.Load()
}
