package liquid

import (
	"strings"
)

// Node is one renderable piece of a document.
type Node interface {
	Render(ctx *Context) (string, error)
}

// Includer is implemented by nodes that pull in other template files and
// can tell whether a previously built result is still usable.
type Includer interface {
	HasIncludes() bool
}

// Document is a built template: the nodes to render and the tokens they
// were built from.
type Document struct {
	nodes  []Node
	tokens []Token
}

// NewDocument assembles a document from already built nodes.
func NewDocument(nodes []Node, tokens []Token) *Document {
	return &Document{nodes: nodes, tokens: tokens}
}

// Nodes returns the top-level nodes.
func (d *Document) Nodes() []Node {
	return d.nodes
}

// Tokens returns the token stream the document was built from.
func (d *Document) Tokens() []Token {
	return d.tokens
}

// Render renders every node in order and concatenates the output.
func (d *Document) Render(ctx *Context) (string, error) {
	var sb strings.Builder
	for _, n := range d.nodes {
		out, err := n.Render(ctx)
		if err != nil {
			return "", err
		}
		sb.WriteString(out)
	}
	return sb.String(), nil
}

// HasIncludes reports whether any node still depends on nested template
// files that need resolving again.
func (d *Document) HasIncludes() bool {
	for _, n := range d.nodes {
		if inc, ok := n.(Includer); ok && inc.HasIncludes() {
			return true
		}
	}
	return false
}

// References reports whether the document's tokens contain any of the
// named tags, nested blocks included.
func (d *Document) References(tags ...string) bool {
	for _, tok := range d.tokens {
		if tok.Kind != TokenTag {
			continue
		}
		for _, name := range tags {
			if tok.Name == name {
				return true
			}
		}
	}
	return false
}

type textNode string

func (t textNode) Render(*Context) (string, error) {
	return string(t), nil
}

// variableNode prints an expression. Filters after a pipe are ignored.
type variableNode struct {
	expr string
}

func (v variableNode) Render(ctx *Context) (string, error) {
	return ToString(ctx.Get(v.expr)), nil
}

// stripFilters returns the part of a variable expression before the first
// unquoted pipe.
func stripFilters(expr string) string {
	var quote byte
	for i := 0; i < len(expr); i++ {
		ch := expr[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == '|':
			return strings.TrimSpace(expr[:i])
		}
	}
	return expr
}
