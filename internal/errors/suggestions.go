package errors

import (
	"fmt"
	"strings"
)

// ErrorSuggestion represents a suggestion for fixing an error
type ErrorSuggestion struct {
	Title       string
	Description string
	Command     string
	Example     string
}

// Suggest returns fixes worth trying for err, keyed on its code. Errors
// that are not TemplateErrors get none.
func Suggest(err error) []ErrorSuggestion {
	var te *TemplateError
	if !As(err, &te) {
		return nil
	}

	name := te.Component
	switch te.Code {
	case ErrCodeTemplateNotFound:
		suggestions := []ErrorSuggestion{
			{
				Title:       "Check the file name",
				Description: "Names gain the configured prefix and suffix, so 'hero' is read from _hero.liquid",
			},
		}
		if name != "" {
			kind, _ := te.Context["kind"].(string)
			suggestions = append(suggestions, ErrorSuggestion{
				Title:   "See where the name resolves",
				Command: resolveCommand(name, kind),
			})
		}
		return suggestions

	case ErrCodeRootNotFound:
		return []ErrorSuggestion{
			{
				Title:       "Check the template roots",
				Description: "Every configured root must be an existing directory",
				Command:     "sectional config show",
				Example:     "templates:\n  root: ./theme\n  section_root: ./theme/sections",
			},
		}

	case ErrCodePathEscape:
		return []ErrorSuggestion{
			{
				Title:       "Keep templates inside the root",
				Description: "Symlinked files must point inside templates.root",
			},
		}

	case ErrCodeEmptyName, ErrCodeIllegalName:
		return []ErrorSuggestion{
			{
				Title:       "Use a plain template name",
				Description: "Names may contain letters, digits, '_', '-' and '/', and must not contain '..'",
				Example:     "{% section 'hero' %}  {% include 'icons/star' %}",
			},
		}

	case ErrCodeTagSyntax:
		return []ErrorSuggestion{
			{
				Title:       "Check the tag markup",
				Description: "The name comes first as a quoted string, then an optional 'with' or 'as' binding",
				Example:     "{% section 'hero' %}  {% section 'card' as products %}  {% include 'icon' with 'star' %}",
			},
		}

	case ErrCodeUnknownTag, ErrCodeUnclosedBlock:
		return []ErrorSuggestion{
			{
				Title:       "Close every block tag",
				Description: "Block tags such as form, schema and comment need a matching end tag",
				Example:     "{% form 'customer' %}...{% endform %}",
			},
		}

	case ErrCodeIncludeDepth, ErrCodeIncludeCycle:
		return []ErrorSuggestion{
			{
				Title:       "Look for templates that include themselves",
				Description: "A section or snippet reached again through its own includes never finishes",
			},
			{
				Title:   "Raise the depth limit for deliberately deep chains",
				Example: "render:\n  max_include_depth: 32",
			},
		}

	case ErrCodeDataInvalid:
		return []ErrorSuggestion{
			{
				Title:       "Check the data file",
				Description: "Render data must be a YAML or JSON mapping at the top level",
				Example:     "settings:\n  sections:\n    hero:\n      settings:\n        heading: Welcome",
			},
		}

	case ErrCodeConfigInvalid, ErrCodeCacheBackend:
		return []ErrorSuggestion{
			{
				Title:   "Validate the configuration",
				Command: "sectional config validate",
			},
		}

	case ErrCodeListenFailed:
		return []ErrorSuggestion{
			{
				Title:       "Use a different port",
				Description: "Another process may already be listening on this address",
				Command:     "sectional serve --port 3000",
			},
		}
	}

	return nil
}

func resolveCommand(name, kind string) string {
	if kind == "" {
		return "sectional resolve " + name
	}
	return fmt.Sprintf("sectional resolve %s --kind %s", name, kind)
}

// FormatSuggestions formats suggestions into a user-friendly string
func FormatSuggestions(title string, suggestions []ErrorSuggestion) string {
	if len(suggestions) == 0 {
		return title
	}

	var output strings.Builder
	output.WriteString(title + "\n\n")
	output.WriteString("Suggestions:\n")

	for i, suggestion := range suggestions {
		output.WriteString(fmt.Sprintf("  %d. %s\n", i+1, suggestion.Title))
		if suggestion.Description != "" {
			output.WriteString(fmt.Sprintf("     %s\n", suggestion.Description))
		}
		if suggestion.Command != "" {
			output.WriteString(fmt.Sprintf("     Run: %s\n", suggestion.Command))
		}
		if suggestion.Example != "" {
			output.WriteString(fmt.Sprintf("     Example: %s\n", strings.ReplaceAll(suggestion.Example, "\n", "\n       ")))
		}
	}

	return output.String()
}
