package section

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/tidwall/jsonc"
)

var schemaPattern = regexp.MustCompile(`(?s)\{%-?\s*schema\s*-?%\}(.*?)\{%-?\s*endschema\s*-?%\}`)

// wrapperTags are the elements a schema may choose for the wrapper.
var wrapperTags = map[string]bool{
	"div":     true,
	"section": true,
	"article": true,
	"aside":   true,
	"header":  true,
	"footer":  true,
	"nav":     true,
	"main":    true,
}

// Schema is the metadata block a section carries between
// {% schema %} and {% endschema %}. Comments and trailing commas are
// tolerated.
type Schema struct {
	Name  string `json:"name"`
	Class string `json:"class"`
	Tag   string `json:"tag"`
}

// ExtractSchema reads the first schema block in source. A source without a
// schema yields the zero Schema; malformed JSON is an error the caller is
// free to ignore.
func ExtractSchema(source string) (Schema, error) {
	var schema Schema

	m := schemaPattern.FindStringSubmatch(source)
	if m == nil {
		return schema, nil
	}

	if err := json.Unmarshal(jsonc.ToJSON([]byte(m[1])), &schema); err != nil {
		return Schema{}, fmt.Errorf("parsing section schema: %w", err)
	}
	if !wrapperTags[schema.Tag] {
		schema.Tag = ""
	}

	return schema, nil
}
