package tooling

import (
	"encoding/json"
	"errors"
	"fmt"

	invopopSchema "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidInput marks tool arguments that failed schema validation. The
// wrapped message names the missing or invalid field.
var ErrInvalidInput = errors.New("tool input validation failed")

// marshalFunc is the JSON marshaler used by GenerateSchema. Package-level so
// tests can inject a failing marshaler to cover the error return path.
var marshalFunc = func(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// unmarshalFunc is the JSON unmarshaler used by the tools' Call methods.
// Package-level so tests can inject a failing unmarshaler to cover the
// defense-in-depth error path.
var unmarshalFunc = json.Unmarshal

// GenerateSchema generates a JSON Schema string from a Go struct using
// invopop/jsonschema reflection.
func GenerateSchema(input interface{}) string {
	reflector := invopopSchema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(input)

	schemaBytes, err := marshalFunc(schema)
	if err != nil {
		return ""
	}
	return string(schemaBytes)
}

// ValidateAgainstSchema validates JSON input against a JSON Schema string.
// Validation failures wrap ErrInvalidInput so callers can distinguish bad
// arguments from tool execution faults.
func ValidateAgainstSchema(input json.RawMessage, schemaStr string) error {
	schema, err := jsonschema.CompileString("", schemaStr)
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}

	var inputData interface{}
	if err := json.Unmarshal(input, &inputData); err != nil {
		return fmt.Errorf("%w: invalid JSON input: %v", ErrInvalidInput, err)
	}

	if err := schema.Validate(inputData); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	return nil
}
