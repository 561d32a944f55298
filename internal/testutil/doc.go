// Package testutil contains helpers shared by tests across packages: a
// fluent builder for conversation content, a keyword embedder with
// predictable scores, a scripted vector index and a conformance suite every
// vectorstore.Index implementation runs. Not intended for production usage.
package testutil
