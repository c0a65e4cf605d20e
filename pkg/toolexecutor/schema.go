package toolexecutor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// buildSchemaDocument renders parameters as a closed JSON object schema.
func buildSchemaDocument(params []ToolParameter) map[string]interface{} {
	properties := make(map[string]interface{}, len(params))
	required := []string{}

	for _, param := range params {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if len(param.Enum) > 0 {
			enum := make([]interface{}, len(param.Enum))
			for i, v := range param.Enum {
				enum[i] = v
			}
			paramSchema["enum"] = enum
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}

		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	doc := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

// decodeObject parses raw model input. Empty input is treated as {}.
func decodeObject(raw json.RawMessage) (map[string]interface{}, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return map[string]interface{}{}, nil
	}

	var value interface{}
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return nil, fmt.Errorf("input is not valid JSON: %v", err)
	}
	obj, ok := value.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("input must be a JSON object")
	}
	return obj, nil
}

// applyDefaults fills omitted optional fields that declare a default.
func applyDefaults(params []ToolParameter, args map[string]interface{}) {
	for _, param := range params {
		if param.Default == nil {
			continue
		}
		if _, ok := args[param.Name]; !ok {
			args[param.Name] = param.Default
		}
	}
}

// validateArgs checks args against schema and returns one line per problem.
func validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) ([]string, error) {
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return nil, err
	}
	if result.Valid() {
		return nil, nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return problems, nil
}

// ValidationError describes why tool input was rejected.
type ValidationError struct {
	Tool     string
	Problems []string
}

func (e *ValidationError) Error() string {
	if e.Tool == "" {
		return "invalid tool input: " + strings.Join(e.Problems, "; ")
	}
	return fmt.Sprintf("invalid input for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}

// ValidatedInput is schema-checked input with defaults applied.
type ValidatedInput struct {
	Tool ToolName
	Args map[string]interface{}
	// Raw is Args re-encoded as JSON.
	Raw json.RawMessage
}

// Decode unmarshals the validated input into dst.
func (v ValidatedInput) Decode(dst interface{}) error {
	if err := json.Unmarshal(v.Raw, dst); err != nil {
		return fmt.Errorf("failed to decode %s input: %w", v.Tool, err)
	}
	return nil
}

// String returns a string argument, or "" if absent.
func (v ValidatedInput) String(name string) string {
	s, _ := v.Args[name].(string)
	return s
}
