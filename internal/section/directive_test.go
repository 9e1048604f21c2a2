package section

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sectional/internal/errors"
	"github.com/conneroisu/sectional/internal/liquid"
)

func TestParseDirective(t *testing.T) {
	tests := []struct {
		name    string
		markup  string
		want    Directive
		wantErr bool
	}{
		{
			name:   "bare quoted name",
			markup: "'hero'",
			want:   Directive{TemplateName: "hero"},
		},
		{
			name:   "double quoted name",
			markup: ` "hero" `,
			want:   Directive{TemplateName: "hero"},
		},
		{
			name:   "unquoted name",
			markup: "hero",
			want:   Directive{TemplateName: "hero"},
		},
		{
			name:   "nested path",
			markup: "'blocks/hero'",
			want:   Directive{TemplateName: "blocks/hero"},
		},
		{
			name:   "with variable",
			markup: "'card' with product",
			want:   Directive{TemplateName: "card", Mode: BindSingular, Expr: "product"},
		},
		{
			name:   "as quoted collection",
			markup: "'card' as 'products'",
			want:   Directive{TemplateName: "card", Mode: BindCollection, Expr: "'products'"},
		},
		{
			name:   "with dotted path",
			markup: "'card' with collection.products[0]",
			want:   Directive{TemplateName: "card", Mode: BindSingular, Expr: "collection.products[0]"},
		},
		{
			name:   "attributes only",
			markup: "'badge' label:'Sale' count:3",
			want: Directive{TemplateName: "badge", Attributes: []Attribute{
				{Key: "label", Expr: "'Sale'"},
				{Key: "count", Expr: "3"},
			}},
		},
		{
			name:   "binding and comma separated attributes",
			markup: "'badge' with promo, label: 'Big sale', tone:accent",
			want: Directive{TemplateName: "badge", Mode: BindSingular, Expr: "promo", Attributes: []Attribute{
				{Key: "label", Expr: "'Big sale'"},
				{Key: "tone", Expr: "accent"},
			}},
		},
		{name: "empty", markup: "", wantErr: true},
		{name: "blank", markup: "   ", wantErr: true},
		{name: "empty quotes", markup: "''", wantErr: true},
		{name: "dangling with", markup: "'hero' with", wantErr: true},
		{name: "unknown binding", markup: "'hero' for product", wantErr: true},
		{name: "unterminated quote", markup: "'hero", wantErr: true},
		{name: "bad attribute", markup: "'hero' label:", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDirective("section", tt.markup)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsParse(err))
				var te *errors.TemplateError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, errors.ErrCodeTagSyntax, te.Code)
				assert.Contains(t, te.Message, "valid syntax: section")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDirectiveBoundAndID(t *testing.T) {
	ctx := liquid.NewContext(map[string]any{
		"product":  map[string]any{"title": "Shirt"},
		"products": []any{1, 2},
		"handle":   "summer",
		"count":    7,
	})

	tests := []struct {
		name   string
		expr   string
		bound  any
		wantID string
	}{
		{name: "no expression", expr: "", bound: nil, wantID: "card"},
		{name: "map variable", expr: "product", bound: map[string]any{"title": "Shirt"}, wantID: "card"},
		{name: "quoted variable", expr: "'products'", bound: []any{1, 2}, wantID: "card"},
		{name: "quoted literal", expr: "'spring'", bound: "spring", wantID: "spring"},
		{name: "string variable", expr: "handle", bound: "summer", wantID: "summer"},
		{name: "number variable", expr: "count", bound: 7, wantID: "7"},
		{name: "missing variable", expr: "nothing", bound: nil, wantID: "card"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Directive{TemplateName: "card", Expr: tt.expr}
			bound := d.Bound(ctx)
			assert.Equal(t, tt.bound, bound)
			assert.Equal(t, tt.wantID, d.ID(bound))
		})
	}
}

func TestDirectiveString(t *testing.T) {
	d, err := ParseDirective("section", `"card"   as products ,  size:'lg'`)
	require.NoError(t, err)
	assert.Equal(t, "'card' as products size:'lg'", d.String())

	again, err := ParseDirective("section", d.String())
	require.NoError(t, err)
	assert.Equal(t, d, again)
}

func FuzzParseDirective(f *testing.F) {
	for _, seed := range []string{
		"'hero'",
		"'card' as products",
		"'card' with product label:'x' n:1",
		"",
		"'",
		"with with with",
	} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, markup string) {
		d, err := ParseDirective("section", markup)
		if err != nil {
			if !errors.IsParse(err) {
				t.Fatalf("non-parse error for %q: %v", markup, err)
			}
			return
		}
		if d.TemplateName == "" {
			t.Fatalf("empty template name accepted from %q", markup)
		}
		if (d.Mode == BindNone) != (d.Expr == "") {
			t.Fatalf("binding %v with expression %q from %q", d.Mode, d.Expr, markup)
		}
	})
}
