package section

import (
	"context"
	"io"
	"strings"
	"unicode"

	"github.com/a-h/templ"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultMarkerClass marks every wrapper element.
const DefaultMarkerClass = "section-marker"

// Slug turns an identifier into something safe for an HTML id: lower case,
// accents removed, and every run of other characters collapsed to a dash.
func Slug(s string) string {
	// Casers and transform chains hold state, so each call builds its own.
	lowered := cases.Lower(language.Und).String(s)
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripMarks, lowered)
	if err != nil {
		folded = lowered
	}

	var sb strings.Builder
	dash := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			sb.WriteRune(r)
			dash = false
			continue
		}
		if !dash && sb.Len() > 0 {
			sb.WriteByte('-')
			dash = true
		}
	}

	return strings.TrimRight(sb.String(), "-")
}

// wrapper renders body inside the section container element.
func wrapper(tag, id, markerClass, schemaClass, body string) templ.Component {
	if tag == "" {
		tag = "div"
	}

	classes := strings.TrimSpace(markerClass)
	if schemaClass = strings.TrimSpace(schemaClass); schemaClass != "" {
		classes = strings.TrimSpace(classes + " " + schemaClass)
	}

	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var sb strings.Builder
		sb.WriteString("<" + tag + ` id="section-`)
		sb.WriteString(templ.EscapeString(Slug(id)))
		sb.WriteString(`"`)
		if classes != "" {
			sb.WriteString(` class="`)
			sb.WriteString(templ.EscapeString(classes))
			sb.WriteString(`"`)
		}
		sb.WriteString(">")
		sb.WriteString(body)
		sb.WriteString("</" + tag + ">")
		_, err := io.WriteString(w, sb.String())
		return err
	})
}

func renderWrapper(tag, id, markerClass, schemaClass, body string) (string, error) {
	var sb strings.Builder
	if err := wrapper(tag, id, markerClass, schemaClass, body).Render(context.Background(), &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}
