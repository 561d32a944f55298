package parser

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	xhtml "golang.org/x/net/html"
)

// HTML extracts readable text from HTML files. Block elements become
// paragraph breaks; script, style and noscript content is dropped. The
// document title is stored under the "title" metadata key.
type HTML struct{}

// Extensions implements Parser.
func (HTML) Extensions() []string { return []string{".html", ".htm"} }

// Parse implements Parser.
func (HTML) Parse(ctx context.Context, path string, metadata map[string]any) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	root, err := xhtml.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	md := fileMetadata(path, metadata)
	text, title := ExtractText(root)
	if title != "" {
		md["title"] = title
	}
	return []Document{{Content: text, Metadata: md}}, nil
}

// ExtractText renders the text content of an HTML tree and returns it with
// the document title.
func ExtractText(root *xhtml.Node) (string, string) {
	b := &textBuilder{}
	b.walk(root)
	return strings.TrimSpace(b.String()), b.title
}

type textBuilder struct {
	strings.Builder
	title string
	space bool
}

func (b *textBuilder) walk(n *xhtml.Node) {
	switch n.Type {
	case xhtml.TextNode:
		b.writeText(n.Data)
		return
	case xhtml.ElementNode:
		name := strings.ToLower(n.Data)
		switch name {
		case "script", "style", "noscript", "template":
			return
		case "title":
			if n.FirstChild != nil && b.title == "" {
				b.title = collapseSpaces(n.FirstChild.Data)
			}
			return
		case "br":
			b.WriteString("\n")
			b.space = false
			return
		}
		if isBlock(name) {
			b.paragraph()
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			b.walk(c)
		}
		if isBlock(name) {
			b.paragraph()
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.walk(c)
	}
}

func (b *textBuilder) writeText(text string) {
	cleaned := collapseSpaces(text)
	if cleaned == "" {
		if text != "" {
			b.space = true
		}
		return
	}
	first, _ := utf8.DecodeRuneInString(text)
	last, _ := utf8.DecodeLastRuneInString(text)
	if (b.space || unicode.IsSpace(first)) && b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
		b.WriteString(" ")
	}
	b.WriteString(cleaned)
	b.space = unicode.IsSpace(last)
}

func (b *textBuilder) paragraph() {
	b.space = false
	s := b.String()
	if s == "" || strings.HasSuffix(s, "\n\n") {
		return
	}
	if strings.HasSuffix(s, "\n") {
		b.WriteString("\n")
		return
	}
	b.WriteString("\n\n")
}

func isBlock(name string) bool {
	switch name {
	case "p", "div", "section", "article", "header", "footer", "main", "aside", "nav",
		"h1", "h2", "h3", "h4", "h5", "h6", "li", "ul", "ol", "table", "tr",
		"blockquote", "pre", "dl", "dt", "dd", "figure", "figcaption":
		return true
	}
	return false
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
