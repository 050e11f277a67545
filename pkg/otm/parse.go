package otm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ParseTree decodes a JSON or YAML document into a generic tree of
// map[string]any, []any, string, float64, bool and nil.
func ParseTree(data []byte) (any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("otm: empty document")
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		var v any
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return nil, fmt.Errorf("otm: decode json: %w", err)
		}
		return v, nil
	}
	var v any
	if err := yaml.Unmarshal(trimmed, &v); err != nil {
		return nil, fmt.Errorf("otm: decode yaml: %w", err)
	}
	return normalize(v), nil
}

// normalize converts YAML decoded values into the types encoding/json produces.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[fmt.Sprint(k)] = normalize(e)
		}
		return m
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return v
	}
}

// Tree converts a typed document into its generic tree.
func Tree(doc *Document) (any, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("otm: encode: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("otm: decode: %w", err)
	}
	return v, nil
}

// FromTree converts a generic tree into a typed document. Call it after
// validation; fields of the wrong shape fail decoding.
func FromTree(tree any) (*Document, error) {
	b, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("otm: encode: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("otm: decode: %w", err)
	}
	return &doc, nil
}

// Marshal returns the indented JSON form of doc.
func Marshal(doc *Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// ReadFile parses the document at path and validates it.
func ReadFile(path string) (any, []Issue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	tree, err := ParseTree(data)
	if err != nil {
		return nil, nil, err
	}
	return tree, ValidateTree(tree), nil
}

// WriteFile validates doc and writes it to path. Invalid documents are not written.
func WriteFile(path string, doc *Document) ([]Issue, error) {
	if issues := Validate(doc); len(issues) > 0 {
		return issues, fmt.Errorf("otm: document has %d validation issues", len(issues))
	}
	b, err := Marshal(doc)
	if err != nil {
		return nil, err
	}
	return nil, os.WriteFile(path, append(b, '\n'), 0o644)
}
