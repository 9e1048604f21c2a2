package liquid

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/conneroisu/sectional/internal/errors"
)

// DefaultMaxIncludeDepth bounds how deeply templates may include each other.
const DefaultMaxIncludeDepth = 16

// Tag is a template tag. Parse runs once while the document is being built;
// Render may run many times against different contexts.
type Tag interface {
	Parse(env *Env) error
	Render(ctx *Context) (string, error)
}

// Block is a tag with a body terminated by an end tag, such as
// {% form %}...{% endform %}. The builder hands the body tokens to
// ParseBody before calling Parse.
type Block interface {
	Tag
	ParseBody(body []Token, env *Env) error
}

// TagFactory constructs a tag from the markup that follows its name.
type TagFactory func(markup string) (Tag, error)

// DocumentBuilder turns template source into a renderable document.
type DocumentBuilder interface {
	Build(source string, env *Env) (*Document, error)
}

// Env is the build environment threaded through tag parsing: the context
// parse-time lookups read from, the builder for nested content, and the
// chain of templates currently being included.
type Env struct {
	Context *Context
	Builder *Builder

	chain []string
}

// Enter returns the environment for building the template identified by
// key one level deeper. It fails when key is already being built further up
// the chain or when the chain would exceed the builder's depth limit.
func (e *Env) Enter(key string) (*Env, error) {
	if slices.Contains(e.chain, key) {
		return nil, errors.NewRecursionLimitError(errors.ErrCodeIncludeCycle,
			fmt.Sprintf("%s includes itself: %s -> %s", key, strings.Join(e.chain, " -> "), key)).
			WithComponent(key).
			WithContext("chain", e.Chain())
	}

	limit := e.Builder.MaxDepth()
	if len(e.chain) >= limit {
		return nil, errors.NewRecursionLimitError(errors.ErrCodeIncludeDepth,
			fmt.Sprintf("include depth limit %d exceeded at %s", limit, key)).
			WithComponent(key).
			WithContext("chain", e.Chain())
	}

	chain := make([]string, len(e.chain), len(e.chain)+1)
	copy(chain, e.chain)
	return &Env{Context: e.Context, Builder: e.Builder, chain: append(chain, key)}, nil
}

// Depth returns how many templates are on the include chain.
func (e *Env) Depth() int {
	return len(e.chain)
}

// Chain returns a copy of the include chain, outermost first.
func (e *Env) Chain() []string {
	return slices.Clone(e.chain)
}

// Builder builds documents and owns the tag registry. Registration is safe
// to interleave with building.
type Builder struct {
	mu       sync.RWMutex
	tags     map[string]TagFactory
	ends     map[string]string
	maxDepth int
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithMaxIncludeDepth sets the include depth limit. Values below one are
// ignored.
func WithMaxIncludeDepth(depth int) BuilderOption {
	return func(b *Builder) {
		if depth > 0 {
			b.maxDepth = depth
		}
	}
}

// NewBuilder returns a builder with the schema, comment and form tags
// registered.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		tags:     make(map[string]TagFactory),
		ends:     make(map[string]string),
		maxDepth: DefaultMaxIncludeDepth,
	}
	for _, opt := range opts {
		opt(b)
	}

	b.RegisterBlock("schema", "endschema", newRawBlock)
	b.RegisterBlock("comment", "endcomment", newRawBlock)
	b.RegisterBlock("form", "endform", NewFormTag)

	return b
}

var _ DocumentBuilder = (*Builder)(nil)

// MaxDepth returns the include depth limit.
func (b *Builder) MaxDepth() int {
	return b.maxDepth
}

// Register adds a tag without a body.
func (b *Builder) Register(name string, factory TagFactory) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tags[name] = factory
	delete(b.ends, name)
}

// RegisterBlock adds a tag whose body runs until end. The factory must
// return a Block.
func (b *Builder) RegisterBlock(name, end string, factory TagFactory) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tags[name] = factory
	b.ends[name] = end
}

// Tags lists the registered tag names in sorted order.
func (b *Builder) Tags() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.tags))
	for name := range b.tags {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (b *Builder) lookup(name string) (TagFactory, string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	f, ok := b.tags[name]
	return f, b.ends[name], ok
}

// NewEnv returns a top-level environment for building with ctx. A nil ctx
// gets an empty context.
func (b *Builder) NewEnv(ctx *Context) *Env {
	if ctx == nil {
		ctx = NewContext(nil)
	}
	return &Env{Context: ctx, Builder: b}
}

// Build tokenizes source and builds it.
func (b *Builder) Build(source string, env *Env) (*Document, error) {
	return b.BuildTokens(Tokenize(source), env)
}

// BuildTokens builds a document from an existing token stream. A nil env
// means a top-level build with an empty context.
func (b *Builder) BuildTokens(tokens []Token, env *Env) (*Document, error) {
	if env == nil {
		env = b.NewEnv(nil)
	}
	if env.Builder == nil {
		env.Builder = b
	}

	stream := NewTokenStream(tokens)
	nodes := make([]Node, 0, len(tokens))
	for {
		tok, ok := stream.Next()
		if !ok {
			break
		}

		switch tok.Kind {
		case TokenText:
			nodes = append(nodes, textNode(tok.Value))
		case TokenVariable:
			nodes = append(nodes, variableNode{expr: stripFilters(tok.Value)})
		case TokenTag:
			tag, err := b.buildTag(tok, stream, env)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, tag)
		}
	}

	return NewDocument(nodes, tokens), nil
}

func (b *Builder) buildTag(tok Token, stream *TokenStream, env *Env) (Tag, error) {
	factory, end, ok := b.lookup(tok.Name)
	if !ok {
		return nil, errors.NewParseError(errors.ErrCodeUnknownTag,
			fmt.Sprintf("unknown tag %q", tok.Name)).WithComponent(tok.Name)
	}

	tag, err := factory(tok.Value)
	if err != nil {
		return nil, err
	}

	if end != "" {
		block, ok := tag.(Block)
		if !ok {
			return nil, errors.NewInternalError(errors.ErrCodeTagSyntax,
				fmt.Sprintf("tag %q registered as a block but has no body parser", tok.Name), nil)
		}
		body, err := collectBody(stream, tok.Name, end)
		if err != nil {
			return nil, err
		}
		if err := block.ParseBody(body, env); err != nil {
			return nil, err
		}
	}

	if err := tag.Parse(env); err != nil {
		return nil, err
	}

	return tag, nil
}

// collectBody consumes tokens up to the end tag matching the opening tag,
// allowing same-named blocks to nest.
func collectBody(stream *TokenStream, name, end string) ([]Token, error) {
	var body []Token
	depth := 1
	for {
		tok, ok := stream.Next()
		if !ok {
			return nil, errors.NewParseError(errors.ErrCodeUnclosedBlock,
				fmt.Sprintf("%q tag was never closed with %q", name, end)).WithComponent(name)
		}
		if tok.Kind == TokenTag {
			switch tok.Name {
			case name:
				depth++
			case end:
				depth--
				if depth == 0 {
					return body, nil
				}
			}
		}
		body = append(body, tok)
	}
}

// rawBlock swallows its body and renders nothing.
type rawBlock struct {
	body []Token
}

func newRawBlock(string) (Tag, error) {
	return &rawBlock{}, nil
}

func (r *rawBlock) ParseBody(body []Token, _ *Env) error {
	r.body = body
	return nil
}

func (r *rawBlock) Parse(*Env) error { return nil }

func (r *rawBlock) Render(*Context) (string, error) { return "", nil }
