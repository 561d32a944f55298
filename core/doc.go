// Package core provides the foundational types shared by every agenthub
// component:
//
//   - Content and its closed set of parts (text, image, function call/response)
//   - CancellationToken, the one-way cooperative cancellation flag
//   - IterationLimiter, the per-run reasoning budget
//   - the error taxonomy (sentinels plus typed errors matched via errors.Is)
//
// The package has no dependencies on providers, storage or transport so it can
// be imported from anywhere in the module.
package core
