package section

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/conneroisu/sectional/internal/errors"
	"github.com/conneroisu/sectional/internal/liquid"
)

// Binding is how a directive hands a value to the included template.
type Binding int

const (
	// BindNone passes nothing beyond the ambient context.
	BindNone Binding = iota
	// BindSingular binds one value: section 'card' with product.
	BindSingular
	// BindCollection renders once per item: section 'card' as products.
	BindCollection
)

// String returns the string representation of the Binding
func (b Binding) String() string {
	switch b {
	case BindSingular:
		return "with"
	case BindCollection:
		return "as"
	default:
		return "none"
	}
}

// Attribute is a key:value pair from the tag markup. Expr is evaluated in
// the caller's context at render time.
type Attribute struct {
	Key  string
	Expr string
}

// Directive is the parsed markup of a section or include tag.
type Directive struct {
	TemplateName string
	Mode         Binding
	Expr         string
	Attributes   []Attribute
}

const fragment = `(?:"[^"]*"|'[^']*'|[^\s,'"]+)`

var (
	directivePattern = regexp.MustCompile(
		`^\s*("[^"]+"|'[^']+'|[^'"\s:,]+)` +
			`(?:\s+(with|as)\s+(` + fragment + `))?` +
			`((?:\s*,?\s*[A-Za-z_][\w-]*\s*:\s*` + fragment + `)*)` +
			`\s*,?\s*$`)
	attributePattern = regexp.MustCompile(`([A-Za-z_][\w-]*)\s*:\s*(` + fragment + `)`)
)

// ParseDirective parses "<name> [(with|as) <expr>] [key:value ...]" where
// name may be single- or double-quoted.
func ParseDirective(tag, markup string) (Directive, error) {
	m := directivePattern.FindStringSubmatch(markup)
	if m == nil {
		return Directive{}, errors.NewParseError(errors.ErrCodeTagSyntax,
			fmt.Sprintf("error in tag '%s' - valid syntax: %s '[template]' (with|as) [object|collection] [key:value ...]", tag, tag)).
			WithContext("markup", markup)
	}

	d := Directive{TemplateName: liquid.Unquote(m[1]), Expr: m[3]}
	switch m[2] {
	case "with":
		d.Mode = BindSingular
	case "as":
		d.Mode = BindCollection
	}

	for _, a := range attributePattern.FindAllStringSubmatch(m[4], -1) {
		d.Attributes = append(d.Attributes, Attribute{Key: a[1], Expr: a[2]})
	}

	return d, nil
}

// Bound evaluates the bound expression. A quoted expression names a
// variable; when no such variable exists the literal text is used.
func (d Directive) Bound(ctx *liquid.Context) any {
	if d.Expr == "" {
		return nil
	}
	if liquid.IsQuoted(d.Expr) {
		name := liquid.Unquote(d.Expr)
		if v := ctx.Get(name); v != nil {
			return v
		}
		return name
	}
	return ctx.Get(d.Expr)
}

// ID is the identifier the directive's output is keyed by: the bound value
// when it is a scalar, otherwise the template name.
func (d Directive) ID(bound any) string {
	if bound != nil && liquid.IsScalar(bound) {
		return liquid.ToString(bound)
	}
	return d.TemplateName
}

// String reassembles the markup in canonical form.
func (d Directive) String() string {
	var sb strings.Builder
	sb.WriteString("'" + d.TemplateName + "'")
	if d.Mode != BindNone {
		sb.WriteString(" " + d.Mode.String() + " " + d.Expr)
	}
	for _, a := range d.Attributes {
		sb.WriteString(" " + a.Key + ":" + a.Expr)
	}
	return sb.String()
}
