// Package session tracks the cancellation token of every live session.
//
// A Registry is an explicitly constructed service, not a process-wide
// singleton. Its map is sharded so that work on different session IDs does
// not contend on one lock. Callers Register when a run starts, may Cancel at
// any time (including after the run ended) and must Cleanup exactly once when
// the run reaches a terminal state.
package session
