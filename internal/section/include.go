package section

import (
	"github.com/conneroisu/sectional/internal/errors"
	"github.com/conneroisu/sectional/internal/liquid"
	"github.com/conneroisu/sectional/internal/resolver"
)

// Include is a parsed {% include %} tag. It resolves against the include
// root and renders inline in a pushed scope, without a wrapper or section
// settings.
type Include struct {
	Directive

	loader *loader
	doc    *liquid.Document
	hash   string
}

var (
	_ liquid.Tag      = (*Include)(nil)
	_ liquid.Includer = (*Include)(nil)
)

func newInclude(markup string, l *loader) (*Include, error) {
	d, err := ParseDirective("include", markup)
	if err != nil {
		return nil, err
	}
	return &Include{Directive: d, loader: l}, nil
}

func (i *Include) Parse(env *liquid.Env) error {
	if i.loader.missingFileSystem() {
		return errors.NewMissingCollaboratorError(errors.ErrCodeNoFileSystem, "no file system").
			WithComponent(i.TemplateName)
	}

	child, err := env.Enter("include:" + i.TemplateName)
	if err != nil {
		return err
	}

	source, err := i.loader.read(i.TemplateName, resolver.KindInclude)
	if err != nil {
		return err
	}

	i.doc, i.hash, err = i.loader.document(source, child)
	return err
}

func (i *Include) HasIncludes() bool {
	if i.doc == nil || i.doc.HasIncludes() {
		return true
	}
	source, err := i.loader.read(i.TemplateName, resolver.KindInclude)
	if err != nil {
		return true
	}
	return !i.loader.current(i.hash, source)
}

func (i *Include) Render(ctx *liquid.Context) (out string, err error) {
	bound := i.Bound(ctx)
	attrs := make(map[string]any, len(i.Attributes))
	for _, a := range i.Attributes {
		attrs[a.Key] = ctx.Get(a.Expr)
	}

	ctx.Push()
	defer func() {
		if perr := ctx.Pop(); perr != nil && err == nil {
			err = perr
		}
	}()

	for k, v := range attrs {
		ctx.Set(k, v)
	}
	return renderDocument(i.doc, ctx, i.Directive, bound)
}
