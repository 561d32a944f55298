package retrieval

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecursiveSplitter_Defaults(t *testing.T) {
	s := NewRecursiveSplitter(0, -1)
	assert.Equal(t, DefaultChunkSize, s.ChunkSize)
	assert.Equal(t, DefaultChunkOverlap, s.ChunkOverlap)

	s = NewRecursiveSplitter(10, 20)
	assert.Equal(t, 2, s.ChunkOverlap)
}

func TestRecursiveSplitter_Split(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		text    string
		want    []string
	}{
		{
			name: "short text is one chunk",
			size: 100,
			text: "hello world",
			want: []string{"hello world"},
		},
		{
			name: "empty text",
			size: 100,
			text: "   ",
			want: nil,
		},
		{
			name: "paragraphs then words",
			size: 10,
			text: "aaaa bbbb\n\ncccc dddd",
			want: []string{"aaaa bbbb", "cccc dddd"},
		},
		{
			name:    "word overlap",
			size:    10,
			overlap: 5,
			text:    "one two three four five",
			want:    []string{"one two", "two three", "four five"},
		},
		{
			name: "falls back to runes",
			size: 3,
			text: "abcdefg",
			want: []string{"abc", "def", "g"},
		},
		{
			name: "counts runes not bytes",
			size: 2,
			text: "äöüß",
			want: []string{"äö", "üß"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewRecursiveSplitter(tt.size, tt.overlap)
			assert.Equal(t, tt.want, s.Split(tt.text))
		})
	}
}

func TestRecursiveSplitter_RespectsChunkSize(t *testing.T) {
	words := []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta", "eta", "theta"}
	var b strings.Builder
	for i := 0; i < 400; i++ {
		b.WriteString(words[i%len(words)])
		switch {
		case i%37 == 36:
			b.WriteString("\n\n")
		case i%11 == 10:
			b.WriteString("\n")
		default:
			b.WriteString(" ")
		}
	}

	s := NewRecursiveSplitter(120, 30)
	chunks := s.Split(b.String())
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 120)
		assert.Equal(t, strings.TrimSpace(c), c)
	}
}

func TestRecursiveSplitter_Deterministic(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog.\n", 50)
	s := NewRecursiveSplitter(200, 40)

	first := s.Split(text)
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, NewRecursiveSplitter(200, 40).Split(text))
	}
}
