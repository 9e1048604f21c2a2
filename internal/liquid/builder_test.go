package liquid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sectional/internal/errors"
)

// echoTag renders its markup evaluated against the context.
type echoTag struct {
	expr     string
	includes bool
	parsed   int
}

func (e *echoTag) Parse(*Env) error {
	e.parsed++
	return nil
}

func (e *echoTag) Render(ctx *Context) (string, error) {
	return ToString(ctx.Get(e.expr)), nil
}

func (e *echoTag) HasIncludes() bool { return e.includes }

func TestBuildAndRender(t *testing.T) {
	b := NewBuilder()
	b.Register("echo", func(markup string) (Tag, error) {
		return &echoTag{expr: markup}, nil
	})

	doc, err := b.Build("Hi {{ name }}, {% echo greeting %}!{% comment %}{{ hidden }}{% endcomment %}", nil)
	require.NoError(t, err)

	out, err := doc.Render(NewContext(map[string]any{"name": "Ada", "greeting": "welcome", "hidden": "x"}))
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada, welcome!", out)
}

func TestBuildIgnoresFilters(t *testing.T) {
	doc, err := NewBuilder().Build(`{{ title | upcase }}{{ "a|b" | size }}`, nil)
	require.NoError(t, err)

	out, err := doc.Render(NewContext(map[string]any{"title": "shirt"}))
	require.NoError(t, err)
	assert.Equal(t, "shirta|b", out)
}

func TestBuildErrors(t *testing.T) {
	b := NewBuilder()

	t.Run("unknown tag", func(t *testing.T) {
		_, err := b.Build("{% if x %}y{% endif %}", nil)
		require.Error(t, err)
		assert.True(t, errors.IsParse(err))
		assert.Contains(t, err.Error(), `"if"`)
	})

	t.Run("stray end tag", func(t *testing.T) {
		_, err := b.Build("{% endform %}", nil)
		assert.True(t, errors.IsParse(err))
	})

	t.Run("unclosed block", func(t *testing.T) {
		_, err := b.Build("{% schema %}{}", nil)
		require.Error(t, err)
		var te *errors.TemplateError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, errors.ErrCodeUnclosedBlock, te.Code)
	})
}

func TestSchemaRendersNothing(t *testing.T) {
	doc, err := NewBuilder().Build(`<h1>x</h1>{% schema %}{"class": "hero"}{% endschema %}`, nil)
	require.NoError(t, err)

	out, err := doc.Render(NewContext(nil))
	require.NoError(t, err)
	assert.Equal(t, "<h1>x</h1>", out)
}

func TestDocumentHasIncludes(t *testing.T) {
	b := NewBuilder()
	includes := false
	b.Register("probe", func(string) (Tag, error) {
		return &echoTag{includes: includes}, nil
	})

	doc, err := b.Build("a{% probe %}", nil)
	require.NoError(t, err)
	assert.False(t, doc.HasIncludes())

	includes = true
	doc, err = b.Build("a{% probe %}", nil)
	require.NoError(t, err)
	assert.True(t, doc.HasIncludes())

	// Blocks delegate to their bodies.
	doc, err = b.Build("{% form 'product' %}{% probe %}{% endform %}", nil)
	require.NoError(t, err)
	assert.True(t, doc.HasIncludes())
}

func TestDocumentReferences(t *testing.T) {
	b := NewBuilder()
	b.Register("section", func(string) (Tag, error) { return &echoTag{}, nil })

	doc, err := b.Build("{% form 'x' %}{% section 'hero' %}{% endform %}", nil)
	require.NoError(t, err)
	assert.True(t, doc.References("include", "section"))
	assert.False(t, doc.References("include"))
	assert.Len(t, doc.Tokens(), 3)
	assert.Len(t, doc.Nodes(), 1)
}

func TestEnvEnter(t *testing.T) {
	b := NewBuilder(WithMaxIncludeDepth(3))
	env := b.NewEnv(nil)
	assert.Equal(t, 0, env.Depth())

	a, err := env.Enter("section:a")
	require.NoError(t, err)
	ab, err := a.Enter("section:b")
	require.NoError(t, err)
	assert.Equal(t, []string{"section:a", "section:b"}, ab.Chain())
	assert.Equal(t, 0, env.Depth(), "entering must not mutate the parent")

	t.Run("cycle", func(t *testing.T) {
		_, err := ab.Enter("section:a")
		require.Error(t, err)
		assert.True(t, errors.IsRecursionLimit(err))
		assert.Contains(t, err.Error(), "section:a -> section:b -> section:a")
	})

	t.Run("same name different kind", func(t *testing.T) {
		_, err := ab.Enter("include:a")
		require.NoError(t, err)
	})

	t.Run("depth", func(t *testing.T) {
		abc, err := ab.Enter("section:c")
		require.NoError(t, err)
		_, err = abc.Enter("section:d")
		require.Error(t, err)
		var te *errors.TemplateError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, errors.ErrCodeIncludeDepth, te.Code)
	})
}

func TestBuilderTags(t *testing.T) {
	b := NewBuilder()
	b.Register("echo", func(string) (Tag, error) { return &echoTag{}, nil })
	assert.Equal(t, []string{"comment", "echo", "form", "schema"}, b.Tags())
	assert.Equal(t, DefaultMaxIncludeDepth, b.MaxDepth())
	assert.Equal(t, DefaultMaxIncludeDepth, NewBuilder(WithMaxIncludeDepth(0)).MaxDepth())
}

func TestTagParsedOncePerBuild(t *testing.T) {
	b := NewBuilder()
	var tag *echoTag
	b.Register("echo", func(markup string) (Tag, error) {
		tag = &echoTag{expr: markup}
		return tag, nil
	})

	doc, err := b.Build("{% echo x %}", nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		out, err := doc.Render(NewContext(map[string]any{"x": strings.Repeat("y", i)}))
		require.NoError(t, err)
		assert.Equal(t, strings.Repeat("y", i), out)
	}
	assert.Equal(t, 1, tag.parsed)
}
