package liquid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		expected []Token
	}{
		{
			name:     "plain text",
			source:   "hello",
			expected: []Token{{Kind: TokenText, Value: "hello"}},
		},
		{
			name:   "tag with markup",
			source: "a{% section 'hero' with product %}b",
			expected: []Token{
				{Kind: TokenText, Value: "a"},
				{Kind: TokenTag, Name: "section", Value: "'hero' with product"},
				{Kind: TokenText, Value: "b"},
			},
		},
		{
			name:   "variable",
			source: "{{ product.title }}",
			expected: []Token{
				{Kind: TokenVariable, Value: "product.title"},
			},
		},
		{
			name:   "tag without markup",
			source: "{%endform%}",
			expected: []Token{
				{Kind: TokenTag, Name: "endform"},
			},
		},
		{
			name:   "whitespace control",
			source: "a  \n{%- schema -%}\n  b",
			expected: []Token{
				{Kind: TokenText, Value: "a"},
				{Kind: TokenTag, Name: "schema"},
				{Kind: TokenText, Value: "b"},
			},
		},
		{
			name:   "multiline tag",
			source: "{%\n  include\n  icon %}",
			expected: []Token{
				{Kind: TokenTag, Name: "include", Value: "icon"},
			},
		},
		{
			name:   "unterminated delimiter is text",
			source: "{% oops",
			expected: []Token{
				{Kind: TokenText, Value: "{% oops"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Tokenize(tt.source))
		})
	}
}

func TestTokenStream(t *testing.T) {
	stream := NewTokenStream(Tokenize("a{{ b }}"))

	tok, ok := stream.Next()
	assert.True(t, ok)
	assert.Equal(t, TokenText, tok.Kind)

	tok, ok = stream.Next()
	assert.True(t, ok)
	assert.Equal(t, "variable", tok.Kind.String())

	_, ok = stream.Next()
	assert.False(t, ok)
}
