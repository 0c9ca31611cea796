package tools

// Category classifies a tool for the safety chain and the driver's
// concurrency rules.
type Category string

const (
	// CategoryRead tools never mutate external state and are always allowed.
	CategoryRead Category = "read"
	// CategoryWrite tools mutate external systems, subject to the safety chain.
	CategoryWrite Category = "write"
	// CategoryDestructive tools change cluster workloads; allowed only under
	// approved auto-remediation rules.
	CategoryDestructive Category = "destructive"
)

// Descriptor declares one tool: its schema, classification and target.
// Descriptors are static values registered once at startup and consumed by
// the LLM driver (tool list) and the safety chain (classification).
type Descriptor struct {
	Name         string
	Description  string
	Category     Category
	TargetSystem string
	InputSchema  *Schema
}

// Schema is the declared JSON input contract for a tool.
// Unknown fields are rejected; required fields are enforced.
type Schema struct {
	Properties map[string]Property
	Required   []string
}

// Property describes one input field.
type Property struct {
	// Type is a JSON type: string, integer, number, boolean, array, object.
	Type        string
	Description string
	Enum        []string
}

// JSONSchema renders the schema in JSON-Schema form for the LLM provider.
func (s *Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			enum := make([]any, len(p.Enum))
			for i, v := range p.Enum {
				enum[i] = v
			}
			prop["enum"] = enum
		}
		props[name] = prop
	}
	schema := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(s.Required) > 0 {
		req := make([]any, len(s.Required))
		for i, r := range s.Required {
			req[i] = r
		}
		schema["required"] = req
	}
	return schema
}
