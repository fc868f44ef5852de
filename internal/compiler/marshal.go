package compiler

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"

	"github.com/rendis/shipyard/pkg/schema"
)

// Format selects the document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat maps a user-supplied format name, defaulting to JSON.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", schema.NewErrorf(schema.ErrCodeValidation, "unknown output format %q", s)
}

// Marshal renders the document. JSON output is indented with two spaces.
func Marshal(doc *schema.Document, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return json.MarshalIndent(doc, "", "  ")
	}
}
