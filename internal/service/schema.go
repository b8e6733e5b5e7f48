package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// statusSchema describes the fields of a status snapshot the client relies on.
// Unknown fields are allowed.
const statusSchema = `{
  "type": "object",
  "properties": {
    "progress_percentage": {"type": ["number", "null"], "minimum": 0, "maximum": 100},
    "current_stage": {"type": ["string", "null"]},
    "completed_stages": {"type": ["array", "null"], "items": {"type": "string"}},
    "failed_stages": {"type": ["array", "null"], "items": {"type": "string"}},
    "started_at": {"type": ["string", "null"]},
    "errors": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "stage": {"type": ["string", "null"]},
          "error": {"type": ["string", "null"]}
        }
      }
    }
  }
}`

var compileStatusSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("status.json", strings.NewReader(statusSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("status.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
})

// ValidateStatusPayload checks a raw status body before it is decoded.
func ValidateStatusPayload(data []byte) error {
	schema, err := compileStatusSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("status does not match schema: %w", err)
	}
	return nil
}
