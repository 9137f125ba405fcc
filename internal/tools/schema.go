package tools

// Schema builders for tool input contracts. The result is the
// JSON-Schema object sent to the model verbatim.

// Object returns an object schema with the given properties.
func Object(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// StringProp describes a string field.
func StringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

// IntProp describes an integer field.
func IntProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

// BoolProp describes a boolean field.
func BoolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

// EnumProp describes a string field restricted to values.
func EnumProp(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}

// ObjectProp describes a free-form object field.
func ObjectProp(desc string) map[string]any {
	return map[string]any{"type": "object", "description": desc}
}

// ArrayProp describes an array whose items match items.
func ArrayProp(desc string, items map[string]any) map[string]any {
	return map[string]any{"type": "array", "description": desc, "items": items}
}
