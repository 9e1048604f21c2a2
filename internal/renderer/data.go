package renderer

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/conneroisu/sectional/internal/errors"
)

// LoadData reads the render data file at path. YAML and JSON are both
// accepted; the top level must be a mapping. An empty path yields empty
// data.
func LoadData(path string) (map[string]any, error) {
	if path == "" {
		return map[string]any{}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeReadFailed, "reading data file", err).WithPath(path)
	}

	data, err := DecodeData(bytes.NewReader(content))
	if err != nil {
		var te *errors.TemplateError
		if errors.As(err, &te) {
			return nil, te.WithPath(path)
		}
		return nil, err
	}
	return data, nil
}

// DecodeData decodes a YAML or JSON mapping from r.
func DecodeData(r io.Reader) (map[string]any, error) {
	var data map[string]any
	if err := yaml.NewDecoder(r).Decode(&data); err != nil {
		if err == io.EOF {
			return map[string]any{}, nil
		}
		return nil, errors.NewParseError(errors.ErrCodeDataInvalid,
			fmt.Sprintf("decoding render data: %v", err)).WithCause(err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}
