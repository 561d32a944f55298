package parser

import (
	"context"
	"fmt"
	"os"
	"unicode/utf8"
)

// Text reads plain text and Markdown files verbatim.
type Text struct{}

// Extensions implements Parser.
func (Text) Extensions() []string { return []string{".txt", ".md", ".markdown"} }

// Parse implements Parser.
func (Text) Parse(ctx context.Context, path string, metadata map[string]any) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("read %s: not valid UTF-8", path)
	}
	return []Document{{Content: string(raw), Metadata: fileMetadata(path, metadata)}}, nil
}
