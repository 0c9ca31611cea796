package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ValidateArgs parses raw JSON arguments against a schema. Unknown fields
// are rejected and required fields enforced so a hallucinated argument
// surfaces as a Validation result the model can correct, not a silent
// misbehavior downstream.
func ValidateArgs(schema *Schema, raw json.RawMessage) (map[string]any, *ToolError) {
	args := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, NewValidationError("arguments are not a JSON object: %v", err)
		}
	}
	if schema == nil {
		return args, nil
	}

	var unknown []string
	for name := range args {
		if _, ok := schema.Properties[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, NewValidationError("unknown field(s): %s", strings.Join(unknown, ", "))
	}

	for _, req := range schema.Required {
		v, ok := args[req]
		if !ok || v == nil {
			return nil, NewValidationError("missing required field: %s", req)
		}
		if s, isStr := v.(string); isStr && s == "" {
			return nil, NewValidationError("required field is empty: %s", req)
		}
	}

	for name, v := range args {
		p := schema.Properties[name]
		if err := checkType(name, p, v); err != nil {
			return nil, err
		}
	}

	return args, nil
}

func checkType(name string, p Property, v any) *ToolError {
	if v == nil {
		return nil
	}
	ok := true
	switch p.Type {
	case "string":
		var s string
		s, ok = v.(string)
		if ok && len(p.Enum) > 0 {
			found := false
			for _, e := range p.Enum {
				if e == s {
					found = true
					break
				}
			}
			if !found {
				return NewValidationError("field %s must be one of [%s], got %q",
					name, strings.Join(p.Enum, ", "), s)
			}
		}
	case "integer":
		// encoding/json decodes numbers as float64.
		f, isNum := v.(float64)
		ok = isNum && f == float64(int64(f))
	case "number":
		_, ok = v.(float64)
	case "boolean":
		_, ok = v.(bool)
	case "array":
		_, ok = v.([]any)
	case "object":
		_, ok = v.(map[string]any)
	}
	if !ok {
		return NewValidationError("field %s must be a %s, got %T", name, p.Type, v)
	}
	return nil
}

// StringArg returns a string field, or "" when absent.
func StringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

// IntArg returns an integer field, or def when absent.
func IntArg(args map[string]any, name string, def int) int {
	if f, ok := args[name].(float64); ok {
		return int(f)
	}
	return def
}

// BoolArg returns a boolean field, or def when absent.
func BoolArg(args map[string]any, name string, def bool) bool {
	if b, ok := args[name].(bool); ok {
		return b
	}
	return def
}

// HashableArgs renders args deterministically for audit hashing.
func HashableArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(b)
}
