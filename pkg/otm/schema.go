package otm

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaValidator checks documents against a published OTM JSON schema in
// addition to the built-in rules. Findings use RuleSchema.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// CompileSchema compiles a JSON schema document.
func CompileSchema(data []byte) (*SchemaValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("otm: parse schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("mem://otm_schema.json", doc); err != nil {
		return nil, fmt.Errorf("otm: add schema: %w", err)
	}
	sch, err := c.Compile("mem://otm_schema.json")
	if err != nil {
		return nil, fmt.Errorf("otm: compile schema: %w", err)
	}
	return &SchemaValidator{schema: sch}, nil
}

// LoadSchemaFile compiles the schema stored at path.
func LoadSchemaFile(path string) (*SchemaValidator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return CompileSchema(data)
}

// Validate returns one issue per failing leaf of the schema evaluation.
func (s *SchemaValidator) Validate(tree any) []Issue {
	if s == nil {
		return nil
	}
	err := s.schema.Validate(tree)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []Issue{{Rule: RuleSchema, Message: err.Error()}}
	}
	var issues []Issue
	collectLeaves(ve.BasicOutput(), &issues)
	if len(issues) == 0 {
		issues = append(issues, Issue{Rule: RuleSchema, Message: "document does not match schema"})
	}
	return issues
}

func collectLeaves(u *jsonschema.OutputUnit, out *[]Issue) {
	if u == nil {
		return
	}
	if len(u.Errors) == 0 && u.Error != nil {
		*out = append(*out, Issue{Path: u.InstanceLocation, Rule: RuleSchema, Message: u.Error.String()})
		return
	}
	for i := range u.Errors {
		collectLeaves(&u.Errors[i], out)
	}
}

// ValidateWith runs the built-in rules and, when s is non-nil, the schema.
func ValidateWith(tree any, s *SchemaValidator) []Issue {
	issues := ValidateTree(tree)
	return append(issues, s.Validate(tree)...)
}
