// Package parser turns files into documents for ingestion. Parsers are
// looked up by file extension; unknown extensions yield
// *core.UnsupportedFileTypeError.
package parser

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/agenthub/core"
)

// Document is the parsed text of a file plus its metadata.
type Document struct {
	Content  string
	Metadata map[string]any
}

// Parser reads one kind of file.
type Parser interface {
	// Extensions lists the lower-case extensions handled, including the dot.
	Extensions() []string

	// Parse reads path. metadata is copied onto every returned document.
	Parse(ctx context.Context, path string, metadata map[string]any) ([]Document, error)
}

// Registry maps file extensions to parsers. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewRegistry returns a registry with the text and HTML parsers registered.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	r.Register(Text{})
	r.Register(HTML{})
	return r
}

// Register adds p for all of its extensions, replacing earlier registrations.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range p.Extensions() {
		r.parsers[strings.ToLower(ext)] = p
	}
}

// Get returns the parser for ext (case-insensitive, with leading dot).
func (r *Registry) Get(ext string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[strings.ToLower(ext)]
	return p, ok
}

// Extensions lists every registered extension in sorted order.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Parse picks a parser by the extension of path and runs it.
func (r *Registry) Parse(ctx context.Context, path string, metadata map[string]any) ([]Document, error) {
	ext := filepath.Ext(path)
	p, ok := r.Get(ext)
	if !ok {
		return nil, &core.UnsupportedFileTypeError{Extension: ext}
	}
	return p.Parse(ctx, path, metadata)
}

func fileMetadata(path string, metadata map[string]any) map[string]any {
	md := make(map[string]any, len(metadata)+3)
	for k, v := range metadata {
		md[k] = v
	}
	md["source"] = path
	md["file_name"] = filepath.Base(path)
	md["file_type"] = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return md
}
