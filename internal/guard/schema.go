package guard

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	dErrors "apiguard/pkg/domain-errors"
)

// Schema is a compiled JSON schema bound to a route at registration time.
// Compilation happens once at startup; Validate is pure and concurrent-safe.
type Schema struct {
	compiled *jsonschema.Schema
}

// CompileSchema compiles a raw JSON schema document. The name scopes the
// schema URL so routes can carry independent schemas.
func CompileSchema(name, raw string) (*Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://apiguard.schemas.local/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("schema %s: load: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema %s: compile: %w", name, err)
	}
	return &Schema{compiled: compiled}, nil
}

// MustCompileSchema compiles or panics. For startup route tables where a bad
// schema is a programming error.
func MustCompileSchema(name, raw string) *Schema {
	s, err := CompileSchema(name, raw)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks a decoded JSON value against the schema. Failures come
// back as a validation error whose details list every offending field, not
// one opaque message.
func (s *Schema) Validate(v any) error {
	err := s.compiled.Validate(v)
	if err == nil {
		return nil
	}

	var ve *jsonschema.ValidationError
	fields := []dErrors.FieldError{}
	if ok := asValidationError(err, &ve); ok {
		fields = collectLeaves(ve, fields)
	}
	return dErrors.New(dErrors.CodeValidation, "Request body failed validation.").
		WithDetails(fields)
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	ve, ok := err.(*jsonschema.ValidationError)
	if ok {
		*target = ve
	}
	return ok
}

// collectLeaves walks the validation error tree and keeps only leaf causes;
// interior nodes repeat their children with less precise locations.
func collectLeaves(ve *jsonschema.ValidationError, fields []dErrors.FieldError) []dErrors.FieldError {
	if len(ve.Causes) == 0 {
		path := ve.InstanceLocation
		if path == "" {
			path = "/"
		}
		return append(fields, dErrors.FieldError{Path: path, Message: ve.Message})
	}
	for _, cause := range ve.Causes {
		fields = collectLeaves(cause, fields)
	}
	return fields
}
