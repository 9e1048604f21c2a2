package liquid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sectional/internal/errors"
)

func TestContextGet(t *testing.T) {
	ctx := NewContext(map[string]any{
		"title": "Hello",
		"products": []any{
			map[string]any{"title": "Shirt"},
			map[string]any{"title": "Hat"},
		},
		"settings": map[string]any{
			"sections": map[string]any{
				"hero": map[string]any{"settings": map[string]any{"heading": "Welcome"}},
			},
		},
		"counts": map[string]int{"a": 1},
		"tags":   []string{"x", "y", "z"},
		"key":    "hero",
	})

	tests := []struct {
		expr     string
		expected any
	}{
		{"title", "Hello"},
		{"'quoted'", "quoted"},
		{`"double"`, "double"},
		{"42", 42},
		{"-3", -3},
		{"1.5", 1.5},
		{"true", true},
		{"false", false},
		{"nil", nil},
		{"missing", nil},
		{"missing.deeper", nil},
		{"products[0].title", "Shirt"},
		{"products[-1].title", "Hat"},
		{"products.first.title", "Shirt"},
		{"products.last.title", "Hat"},
		{"products.size", 2},
		{"products[5]", nil},
		{"settings.sections.hero.settings.heading", "Welcome"},
		{`settings.sections["hero"].settings.heading`, "Welcome"},
		{"settings.sections[key].settings.heading", "Welcome"},
		{"counts.a", 1},
		{"tags[1]", "y"},
		{"tags.size", 3},
		{"title.size", 5},
		{"title with spaces", nil},
		{"products[0", nil},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.expected, ctx.Get(tt.expr))
		})
	}
}

func TestContextScopes(t *testing.T) {
	ctx := NewContext(map[string]any{"a": 1})
	assert.Equal(t, 1, ctx.Depth())

	ctx.Push()
	ctx.Set("a", 2)
	ctx.Set("b", 3)
	assert.Equal(t, 2, ctx.Get("a"))
	assert.Equal(t, 3, ctx.Get("b"))
	assert.Equal(t, map[string]any{"a": 2, "b": 3}, ctx.Snapshot())

	require.NoError(t, ctx.Pop())
	assert.Equal(t, 1, ctx.Get("a"))
	assert.Nil(t, ctx.Get("b"))

	err := ctx.Pop()
	require.Error(t, err)
	var te *errors.TemplateError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, errors.ErrCodeScopeUnderflow, te.Code)
}

func TestNewContextCopiesAssigns(t *testing.T) {
	assigns := map[string]any{"a": 1}
	ctx := NewContext(assigns)
	ctx.Set("a", 2)
	assert.Equal(t, 1, assigns["a"])
}

func TestIterate(t *testing.T) {
	assert.Nil(t, Iterate(nil))
	assert.Equal(t, []any{1, 2}, Iterate([]any{1, 2}))
	assert.Equal(t, []any{"x", "y"}, Iterate([]string{"x", "y"}))
	assert.Equal(t, []any{"first", "second"}, Iterate(map[string]string{"b": "second", "a": "first"}))
	assert.Equal(t, []any{"solo"}, Iterate("solo"))
}

func TestToString(t *testing.T) {
	assert.Equal(t, "", ToString(nil))
	assert.Equal(t, "x", ToString("x"))
	assert.Equal(t, "3", ToString(3))
	assert.Equal(t, "2.5", ToString(2.5))
	assert.Equal(t, "true", ToString(true))
	assert.Equal(t, "ab", ToString([]any{"a", "b"}))
}

func TestQuoting(t *testing.T) {
	assert.True(t, IsQuoted("'a'"))
	assert.True(t, IsQuoted(`"a"`))
	assert.False(t, IsQuoted(`'a"`))
	assert.False(t, IsQuoted("'"))
	assert.Equal(t, "a", Unquote("'a'"))
	assert.Equal(t, "a", Unquote("a"))
}

func TestIsScalar(t *testing.T) {
	assert.True(t, IsScalar("x"))
	assert.True(t, IsScalar(1))
	assert.True(t, IsScalar(1.5))
	assert.False(t, IsScalar(nil))
	assert.False(t, IsScalar([]any{}))
	assert.False(t, IsScalar(map[string]any{}))
}
