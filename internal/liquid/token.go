// Package liquid implements the block template language sections are
// written in: a tokenizer for {% tag %} and {{ variable }} markup, a scope
// stack for variable lookup, and a Builder that turns tokens into a
// renderable Document.
//
// Only the mechanics needed to host tags are provided. Control flow and
// filters are not part of the language; tags are registered on the Builder
// and receive their collaborators explicitly.
package liquid

import (
	"regexp"
	"strings"
)

// TokenKind identifies what a token holds.
type TokenKind int

const (
	TokenText TokenKind = iota
	TokenTag
	TokenVariable
)

// String returns the string representation of the TokenKind
func (k TokenKind) String() string {
	switch k {
	case TokenText:
		return "text"
	case TokenTag:
		return "tag"
	case TokenVariable:
		return "variable"
	default:
		return "unknown"
	}
}

// Token is one lexical unit of a template. For tags Name is the tag name
// and Value the remaining markup; for variables Value is the expression;
// for text Value is the literal text.
type Token struct {
	Kind  TokenKind `cbor:"k"`
	Name  string    `cbor:"n,omitempty"`
	Value string    `cbor:"v,omitempty"`
}

var tokenPattern = regexp.MustCompile(`(?s)\{%(-?)(.*?)(-?)%\}|\{\{(-?)(.*?)(-?)\}\}`)

// Tokenize splits source into text, tag and variable tokens. A dash on the
// inside of a delimiter ({%- or -}}) trims whitespace from the neighbouring
// text.
func Tokenize(source string) []Token {
	matches := tokenPattern.FindAllStringSubmatchIndex(source, -1)
	tokens := make([]Token, 0, len(matches)*2+1)

	last := 0
	trimNext := false
	for _, m := range matches {
		text := source[last:m[0]]
		if trimNext {
			text = strings.TrimLeft(text, " \t\r\n")
		}

		var tok Token
		var trimPrev bool
		if m[2] >= 0 {
			trimPrev = m[3] > m[2]
			trimNext = m[7] > m[6]
			inner := strings.TrimSpace(source[m[4]:m[5]])
			name, markup, _ := strings.Cut(inner, " ")
			if i := strings.IndexAny(name, "\t\r\n"); i >= 0 {
				name, markup = name[:i], name[i+1:]+" "+markup
			}
			tok = Token{Kind: TokenTag, Name: name, Value: strings.TrimSpace(markup)}
		} else {
			trimPrev = m[9] > m[8]
			trimNext = m[13] > m[12]
			tok = Token{Kind: TokenVariable, Value: strings.TrimSpace(source[m[10]:m[11]])}
		}

		if trimPrev {
			text = strings.TrimRight(text, " \t\r\n")
		}
		if text != "" {
			tokens = append(tokens, Token{Kind: TokenText, Value: text})
		}
		tokens = append(tokens, tok)
		last = m[1]
	}

	tail := source[last:]
	if trimNext {
		tail = strings.TrimLeft(tail, " \t\r\n")
	}
	if tail != "" {
		tokens = append(tokens, Token{Kind: TokenText, Value: tail})
	}

	return tokens
}

// TokenStream is a cursor over tokens that block tags consume from.
type TokenStream struct {
	tokens []Token
	pos    int
}

// NewTokenStream wraps tokens in a stream.
func NewTokenStream(tokens []Token) *TokenStream {
	return &TokenStream{tokens: tokens}
}

// Next returns the next token, or false when the stream is exhausted.
func (s *TokenStream) Next() (Token, bool) {
	if s.pos >= len(s.tokens) {
		return Token{}, false
	}
	tok := s.tokens[s.pos]
	s.pos++
	return tok, true
}
