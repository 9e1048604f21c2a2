package liquid

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/conneroisu/sectional/internal/errors"
)

// Context is the scope stack a document renders against. The bottom scope
// holds the render's assigns; tags push a scope before rendering nested
// content and pop it afterwards.
//
// A Context belongs to a single render pass and is not safe for concurrent
// use.
type Context struct {
	scopes []map[string]any
}

// NewContext creates a context whose base scope is a copy of assigns.
func NewContext(assigns map[string]any) *Context {
	base := make(map[string]any, len(assigns))
	for k, v := range assigns {
		base[k] = v
	}
	return &Context{scopes: []map[string]any{base}}
}

// Push opens a new innermost scope.
func (c *Context) Push() {
	c.scopes = append(c.scopes, make(map[string]any))
}

// Pop discards the innermost scope. The base scope cannot be popped.
func (c *Context) Pop() error {
	if len(c.scopes) <= 1 {
		return errors.NewInternalError(errors.ErrCodeScopeUnderflow, "cannot pop the base scope", nil)
	}
	c.scopes[len(c.scopes)-1] = nil
	c.scopes = c.scopes[:len(c.scopes)-1]
	return nil
}

// Depth returns the number of scopes on the stack, base included.
func (c *Context) Depth() int {
	return len(c.scopes)
}

// Set binds name in the innermost scope.
func (c *Context) Set(name string, value any) {
	c.scopes[len(c.scopes)-1][name] = value
}

// Snapshot flattens the visible bindings, inner scopes shadowing outer ones.
func (c *Context) Snapshot() map[string]any {
	out := make(map[string]any)
	for _, scope := range c.scopes {
		for k, v := range scope {
			out[k] = v
		}
	}
	return out
}

// Lookup finds a top-level binding, searching from the innermost scope out.
func (c *Context) Lookup(name string) (any, bool) {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if v, ok := c.scopes[i][name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Get evaluates expr. Literals (quoted strings, numbers, true, false, nil)
// evaluate to themselves; anything else is a variable path such as
// settings.sections["hero"].settings or products[0].title. Missing
// variables and failed lookups evaluate to nil.
func (c *Context) Get(expr string) any {
	expr = strings.TrimSpace(expr)
	if v, ok := literal(expr); ok {
		return v
	}

	segments, ok := splitPath(expr)
	if !ok || len(segments) == 0 {
		return nil
	}

	value, found := c.Lookup(segments[0])
	if !found {
		return nil
	}
	for _, seg := range segments[1:] {
		var key any = seg
		if strings.HasPrefix(seg, "[") {
			key = c.Get(seg[1 : len(seg)-1])
		}
		value, found = index(value, key)
		if !found {
			return nil
		}
	}

	return value
}

func literal(expr string) (any, bool) {
	switch expr {
	case "", "nil", "null":
		return nil, true
	case "true":
		return true, true
	case "false":
		return false, true
	}

	if n := len(expr); n >= 2 {
		if (expr[0] == '\'' || expr[0] == '"') && expr[n-1] == expr[0] {
			return expr[1 : n-1], true
		}
	}

	if i, err := strconv.Atoi(expr); err == nil {
		return i, true
	}
	if c := expr[0]; c == '-' || (c >= '0' && c <= '9') {
		if f, err := strconv.ParseFloat(expr, 64); err == nil {
			return f, true
		}
	}

	return nil, false
}

// IsQuoted reports whether expr is a single- or double-quoted string literal.
func IsQuoted(expr string) bool {
	n := len(expr)
	return n >= 2 && (expr[0] == '\'' || expr[0] == '"') && expr[n-1] == expr[0]
}

// Unquote strips matching surrounding quotes from expr.
func Unquote(expr string) string {
	if IsQuoted(expr) {
		return expr[1 : len(expr)-1]
	}
	return expr
}

// splitPath breaks a.b[0]["c d"] into "a", "b", "[0]", `["c d"]`. Bracket
// segments keep their brackets so Get can evaluate the inner expression.
func splitPath(expr string) ([]string, bool) {
	var segments []string
	start := 0
	for i := 0; i < len(expr); i++ {
		switch expr[i] {
		case '.':
			if i > start {
				segments = append(segments, expr[start:i])
			}
			start = i + 1
		case '[':
			if i > start {
				segments = append(segments, expr[start:i])
			}
			end := closingBracket(expr, i)
			if end < 0 {
				return nil, false
			}
			segments = append(segments, expr[i:end+1])
			i = end
			start = end + 1
		case ' ', '\t', '\n', '|', ',', ':':
			return nil, false
		}
	}
	if start < len(expr) {
		segments = append(segments, expr[start:])
	}

	return segments, true
}

func closingBracket(expr string, open int) int {
	depth := 0
	var quote byte
	for i := open; i < len(expr); i++ {
		ch := expr[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == '[':
			depth++
		case ch == ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Index looks key up in value the way a path segment would.
func Index(value any, key any) (any, bool) {
	return index(value, key)
}

// index looks key up in value. Maps are indexed by string key, slices and
// arrays by integer position (negative counts from the end). The special
// keys size, first and last work on collections.
func index(value any, key any) (any, bool) {
	if value == nil {
		return nil, false
	}

	if m, ok := value.(map[string]any); ok {
		if name, ok := key.(string); ok {
			if v, ok := m[name]; ok {
				return v, true
			}
			if name == "size" {
				return len(m), true
			}
		}
		return nil, false
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		name, ok := key.(string)
		if !ok {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if v.IsValid() {
			return v.Interface(), true
		}
		if name == "size" {
			return rv.Len(), true
		}
	case reflect.Slice, reflect.Array:
		n := rv.Len()
		switch k := key.(type) {
		case int:
			if k < 0 {
				k += n
			}
			if k >= 0 && k < n {
				return rv.Index(k).Interface(), true
			}
		case string:
			switch k {
			case "size":
				return n, true
			case "first":
				if n > 0 {
					return rv.Index(0).Interface(), true
				}
			case "last":
				if n > 0 {
					return rv.Index(n - 1).Interface(), true
				}
			}
		}
	case reflect.String:
		if key == "size" {
			return len(rv.String()), true
		}
	}

	return nil, false
}

// Iterate returns the elements of a collection value. Slices and arrays
// yield their elements in order; maps yield their values in key order; nil
// yields nothing; any other value is a one-element collection.
func Iterate(value any) []any {
	if value == nil {
		return nil
	}
	if items, ok := value.([]any); ok {
		return items
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return items
	case reflect.Map:
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		items := make([]any, len(keys))
		for i, k := range keys {
			items[i] = rv.MapIndex(k).Interface()
		}
		return items
	default:
		return []any{value}
	}
}

// IsScalar reports whether v is a string, boolean or number.
func IsScalar(v any) bool {
	switch v.(type) {
	case string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	default:
		return false
	}
}

// ToString renders a value the way it appears in template output.
// Collections are concatenated element by element.
func ToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case fmt.Stringer:
		return t.String()
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		var sb strings.Builder
		for i := 0; i < rv.Len(); i++ {
			sb.WriteString(ToString(rv.Index(i).Interface()))
		}
		return sb.String()
	}

	return fmt.Sprint(v)
}
