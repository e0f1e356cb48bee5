package schema

import (
	"encoding/json"
	"sort"
)

// Example builds a representative value satisfying the schema's shape.
// The construction is deterministic: defaults, const and the first enum
// entry win over type placeholders, and object properties are emitted
// in sorted key order.
func (c *Compiled) Example() json.RawMessage {
	v := exampleValue(c.doc, 0)
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

const maxExampleDepth = 16

func exampleValue(node map[string]any, depth int) any {
	if node == nil || depth > maxExampleDepth {
		return map[string]any{}
	}
	if v, ok := node["const"]; ok {
		return v
	}
	if v, ok := node["default"]; ok {
		return v
	}
	if ex, ok := node["examples"].([]any); ok && len(ex) > 0 {
		return ex[0]
	}
	if en, ok := node["enum"].([]any); ok && len(en) > 0 {
		return en[0]
	}
	for _, key := range []string{"oneOf", "anyOf", "allOf"} {
		if alts, ok := node[key].([]any); ok && len(alts) > 0 {
			if alt, ok := alts[0].(map[string]any); ok {
				return exampleValue(alt, depth+1)
			}
		}
	}

	switch typeName(node) {
	case "object":
		obj := make(map[string]any)
		props, _ := node["properties"].(map[string]any)
		for _, key := range sortedKeys(props) {
			child, _ := props[key].(map[string]any)
			obj[key] = exampleValue(child, depth+1)
		}
		return obj
	case "array":
		if items, ok := node["items"].(map[string]any); ok {
			return []any{exampleValue(items, depth+1)}
		}
		return []any{}
	case "string":
		if format, ok := node["format"].(string); ok {
			if sample, ok := formatSamples[format]; ok {
				return sample
			}
		}
		return "string"
	case "integer":
		return 42
	case "number":
		return 3.14
	case "boolean":
		return true
	case "null":
		return nil
	default:
		// No recognizable type. Fall back to an object when properties
		// are present, otherwise a neutral placeholder.
		if _, ok := node["properties"]; ok {
			withType := make(map[string]any, len(node)+1)
			for k, v := range node {
				withType[k] = v
			}
			withType["type"] = "object"
			return exampleValue(withType, depth)
		}
		return "string"
	}
}

var formatSamples = map[string]any{
	"date-time": "2024-01-02T15:04:05Z",
	"date":      "2024-01-02",
	"time":      "15:04:05",
	"email":     "user@example.com",
	"uri":       "https://example.com",
	"uuid":      "00000000-0000-0000-0000-000000000000",
}

func typeName(node map[string]any) string {
	switch t := node["type"].(type) {
	case string:
		return t
	case []any:
		if len(t) > 0 {
			if s, ok := t[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
