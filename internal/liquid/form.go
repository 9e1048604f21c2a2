package liquid

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/a-h/templ"

	"github.com/conneroisu/sectional/internal/errors"
)

var (
	formMarkupPattern = regexp.MustCompile(`\w+`)
	attrNamePattern   = regexp.MustCompile(`^[A-Za-z_:][-A-Za-z0-9_:.]*$`)
)

// formActions maps the form type argument to the endpoint it posts to.
var formActions = map[string]string{
	"product":  "/cart/add",
	"customer": "/account",
}

type formAttr struct {
	name  string
	value string
}

// FormTag renders its body inside a multipart POST form:
//
//	{% form 'product', id:product-form, class:"form wide" %}...{% endform %}
//
// The first argument selects the action; remaining key:value pairs become
// attributes.
type FormTag struct {
	action string
	attrs  []formAttr
	body   *Document
}

// NewFormTag parses the form markup.
func NewFormTag(markup string) (Tag, error) {
	if !formMarkupPattern.MatchString(markup) {
		return nil, errors.NewParseError(errors.ErrCodeTagSyntax, "syntax error in 'form'").WithComponent("form")
	}

	parts := strings.Split(markup, ",")
	tag := &FormTag{action: formActions[Unquote(strings.TrimSpace(parts[0]))]}

	for _, part := range parts[1:] {
		name, value, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if !attrNamePattern.MatchString(name) {
			return nil, errors.NewParseError(errors.ErrCodeTagSyntax,
				fmt.Sprintf("invalid form attribute name %q", name)).WithComponent("form")
		}
		tag.attrs = append(tag.attrs, formAttr{name: name, value: Unquote(strings.TrimSpace(value))})
	}

	return tag, nil
}

func (f *FormTag) ParseBody(body []Token, env *Env) error {
	doc, err := env.Builder.BuildTokens(body, env)
	if err != nil {
		return err
	}
	f.body = doc
	return nil
}

func (f *FormTag) Parse(*Env) error { return nil }

// HasIncludes delegates to the body.
func (f *FormTag) HasIncludes() bool {
	return f.body != nil && f.body.HasIncludes()
}

func (f *FormTag) Render(ctx *Context) (string, error) {
	inner := ""
	if f.body != nil {
		var err error
		if inner, err = f.body.Render(ctx); err != nil {
			return "", err
		}
	}

	var sb strings.Builder
	err := f.component(inner).Render(context.Background(), &sb)
	return sb.String(), err
}

func (f *FormTag) component(inner string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var sb strings.Builder
		sb.WriteString(`<form enctype="multipart/form-data" action="`)
		sb.WriteString(templ.EscapeString(f.action))
		sb.WriteString(`" method="post"`)
		for _, a := range f.attrs {
			fmt.Fprintf(&sb, ` %s="%s"`, a.name, templ.EscapeString(a.value))
		}
		sb.WriteString(">")
		sb.WriteString(inner)
		sb.WriteString("</form>")
		_, err := io.WriteString(w, sb.String())
		return err
	})
}
