// Package section implements the section and include tags: sandboxed,
// cached inclusion of sub-templates with their own scope.
//
//	{% section 'hero' %}
//	{% section 'card' as products %}
//	{% section 'banner' with promo heading:'Sale' %}
//	{% include 'icon' with 'cart' %}
//
// A section renders inside a wrapper element whose id derives from the bound
// value or the template name and whose classes come from the section's
// schema block. An include renders inline.
package section

import (
	"context"
	"regexp"
	"strings"

	"github.com/conneroisu/sectional/internal/errors"
	"github.com/conneroisu/sectional/internal/liquid"
	"github.com/conneroisu/sectional/internal/resolver"
)

// includeMarker finds the nested include whose expression settings may
// override.
var includeMarker = regexp.MustCompile(`(?s)\{% include (.*?) %\}`)

// Tag is a parsed {% section %} tag.
type Tag struct {
	Directive

	loader      *loader
	markerClass string

	doc  *liquid.Document
	hash string
}

var (
	_ liquid.Tag      = (*Tag)(nil)
	_ liquid.Includer = (*Tag)(nil)
)

func newTag(markup string, l *loader, markerClass string) (*Tag, error) {
	d, err := ParseDirective("section", markup)
	if err != nil {
		return nil, err
	}
	return &Tag{Directive: d, loader: l, markerClass: markerClass}, nil
}

// Document returns the document the tag renders.
func (t *Tag) Document() *liquid.Document {
	return t.doc
}

// Hash returns the content hash the document is cached under, or "" when
// there is no cache.
func (t *Tag) Hash() string {
	return t.hash
}

// Parse reads the section source, applies settings overrides and obtains a
// document for it.
func (t *Tag) Parse(env *liquid.Env) error {
	if t.loader.missingFileSystem() {
		return errors.NewMissingCollaboratorError(errors.ErrCodeNoFileSystem, "no file system").
			WithComponent(t.TemplateName)
	}

	child, err := env.Enter("section:" + t.TemplateName)
	if err != nil {
		return err
	}

	source, err := t.loader.read(t.TemplateName, resolver.KindSection)
	if err != nil {
		return err
	}
	source = t.override(source, env.Context)

	doc, hash, err := t.loader.document(source, child)
	if err != nil {
		return err
	}

	t.doc, t.hash = doc, hash
	return nil
}

// overridable returns the expression of the first nested include, which
// settings may replace, or "" when there is none.
func overridable(source string) string {
	m := includeMarker.FindStringSubmatch(source)
	if m == nil {
		return ""
	}
	return m[1]
}

// override substitutes the first nested include's expression with the
// value configured at
// settings.sections.<id>.settings.<expression without "section.">.
func (t *Tag) override(source string, ctx *liquid.Context) string {
	if ctx == nil {
		return source
	}
	expr := overridable(source)
	if expr == "" {
		return source
	}

	key := "settings.sections." + t.ID(t.Bound(ctx)) + ".settings." + strings.ReplaceAll(expr, "section.", "")
	value := ctx.Get(key)
	if value == nil {
		return source
	}

	return strings.ReplaceAll(source, expr, liquid.ToString(value))
}

// HasIncludes reports whether the document must be rebuilt: it has
// includes of its own, its source carries an include that the next
// render's settings may override, or the cache no longer holds the source
// as it reads now.
func (t *Tag) HasIncludes() bool {
	if t.doc == nil || t.doc.HasIncludes() {
		return true
	}

	source, err := t.loader.read(t.TemplateName, resolver.KindSection)
	if err != nil || overridable(source) != "" {
		return true
	}

	return !t.loader.current(t.hash, source)
}

// Render renders the section in its own scope and wraps the output.
func (t *Tag) Render(ctx *liquid.Context) (string, error) {
	bound := t.Bound(ctx)

	body, err := t.renderBody(ctx, bound)
	if err != nil {
		return "", err
	}

	var schema Schema
	if source, err := t.loader.read(t.TemplateName, resolver.KindSection); err != nil {
		t.loader.logger.Warn(context.Background(), err, "Failed to re-read section for schema",
			"section", t.TemplateName)
	} else if schema, err = ExtractSchema(source); err != nil {
		t.loader.logger.Debug(context.Background(), "Ignoring malformed section schema",
			"section", t.TemplateName, "error", err)
	}

	id := t.ID(bound)
	if Slug(id) == "" {
		id = t.TemplateName
	}
	return renderWrapper(schema.Tag, id, t.markerClass, schema.Class, body)
}

// renderBody pushes a scope for the section, binds section settings,
// attributes and the bound value, renders, and pops the scope on every
// path.
func (t *Tag) renderBody(ctx *liquid.Context, bound any) (out string, err error) {
	attrs := make(map[string]any, len(t.Attributes))
	for _, a := range t.Attributes {
		attrs[a.Key] = ctx.Get(a.Expr)
	}
	sections := ctx.Get("settings.sections")

	ctx.Push()
	defer func() {
		if perr := ctx.Pop(); perr != nil && err == nil {
			err = perr
		}
	}()

	if sections != nil {
		if bound != nil && liquid.IsScalar(bound) {
			entry, _ := liquid.Index(sections, liquid.ToString(bound))
			settings, _ := liquid.Index(entry, "settings")
			ctx.Set("section", settings)
		} else if entry, ok := liquid.Index(sections, t.TemplateName); ok {
			settings, _ := liquid.Index(entry, "settings")
			ctx.Set("section", settings)
		}
	}

	for k, v := range attrs {
		ctx.Set(k, v)
	}

	return renderDocument(t.doc, ctx, t.Directive, bound)
}

// renderDocument renders doc once, or once per item for collection
// bindings, with the template name bound to the value or item.
func renderDocument(doc *liquid.Document, ctx *liquid.Context, d Directive, bound any) (string, error) {
	if doc == nil {
		return "", errors.NewInternalError(errors.ErrCodeTagSyntax, "tag rendered before it was parsed", nil).
			WithComponent(d.TemplateName)
	}

	if d.Mode == BindCollection {
		var sb strings.Builder
		for _, item := range liquid.Iterate(bound) {
			ctx.Set(d.TemplateName, item)
			out, err := doc.Render(ctx)
			if err != nil {
				return "", err
			}
			sb.WriteString(out)
		}
		return sb.String(), nil
	}

	if d.Expr != "" {
		ctx.Set(d.TemplateName, bound)
	}
	return doc.Render(ctx)
}
