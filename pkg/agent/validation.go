package agent

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidateFunc validates data against a JSON schema (bytes) and returns error on failure.
type ValidateFunc func(schema []byte, data any) error

// JSONSchemaValidator is a ValidateFunc using jsonschema/v6. It compiles the
// schema on every call.
func JSONSchemaValidator(schema []byte, data any) error {
	if len(schema) == 0 {
		return nil
	}
	sch, err := compile(schema)
	if err != nil {
		return err
	}
	return validateWith(sch, data)
}

// NewCachedValidator returns a ValidateFunc that compiles each distinct
// schema once, keyed by its xxhash.
func NewCachedValidator() ValidateFunc {
	var (
		mu    sync.Mutex
		cache = map[uint64]*jsonschema.Schema{}
	)
	return func(schema []byte, data any) error {
		if len(schema) == 0 {
			return nil
		}
		key := xxhash.Sum64(schema)
		mu.Lock()
		sch, ok := cache[key]
		mu.Unlock()
		if !ok {
			var err error
			if sch, err = compile(schema); err != nil {
				return err
			}
			mu.Lock()
			cache[key] = sch
			mu.Unlock()
		}
		return validateWith(sch, data)
	}
}

// CompileJSONSchema compiles the provided JSON schema and returns error only if the schema is invalid.
// It does not validate any instance data.
func CompileJSONSchema(schema []byte) error {
	if len(schema) == 0 {
		return nil
	}
	_, err := compile(schema)
	return err
}

func compile(schema []byte) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	// anonymous in-memory schema from parsed JSON
	var doc any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, err
	}
	url := "mem://" + strconv.FormatUint(xxhash.Sum64(schema), 16) + ".json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

func validateWith(sch *jsonschema.Schema, data any) error {
	// Marshal/unmarshal to generic for validation
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return sch.Validate(v)
}
