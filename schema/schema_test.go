package schema

import (
	"encoding/json"
	"reflect"
	"testing"
)

const personSchema = `{
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"age": {"type": "integer"}
	},
	"required": ["name", "age"],
	"additionalProperties": false
}`

func TestValidateConforming(t *testing.T) {
	c, err := Compile(json.RawMessage(personSchema))
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	violations, err := c.Validate(json.RawMessage(`{"name":"Bob","age":30}`))
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	if len(violations) != 0 {
		t.Fatalf("expected no violations, got %v", violations)
	}
}

func TestValidateTypeMismatch(t *testing.T) {
	c, err := Compile(json.RawMessage(personSchema))
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	violations, err := c.Validate(json.RawMessage(`{"name":"Bob","age":"30"}`))
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	if len(violations) == 0 {
		t.Fatal("expected a violation for age type mismatch")
	}
	found := false
	for _, v := range violations {
		if v.Path == "/age" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a violation at /age, got %v", violations)
	}
}

func TestValidateMissingRequired(t *testing.T) {
	c, err := Compile(json.RawMessage(personSchema))
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	violations, err := c.Validate(json.RawMessage(`{"name":"Bob"}`))
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	if len(violations) == 0 {
		t.Fatal("expected a violation for missing age")
	}
}

func TestValidateExtraProperty(t *testing.T) {
	c, err := Compile(json.RawMessage(personSchema))
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	violations, err := c.Validate(json.RawMessage(`{"name":"Bob","age":30,"extra":true}`))
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	if len(violations) == 0 {
		t.Fatal("expected a violation for an extra property")
	}
}

func TestValidateIdempotent(t *testing.T) {
	c, err := Compile(json.RawMessage(personSchema))
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	candidate := json.RawMessage(`{"name":7,"age":"x","bogus":1}`)
	first, err := c.Validate(candidate)
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	second, err := c.Validate(candidate)
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("validation is not idempotent:\nfirst:  %v\nsecond: %v", first, second)
	}
}

func TestValidateInvalidJSON(t *testing.T) {
	c, err := Compile(json.RawMessage(personSchema))
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	if _, err := c.Validate(json.RawMessage(`{not json`)); err == nil {
		t.Fatal("expected an error for malformed candidate JSON")
	}
}

func TestExampleFromTypes(t *testing.T) {
	c, err := Compile(json.RawMessage(personSchema))
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(c.Example(), &got); err != nil {
		t.Fatalf("example is not valid JSON: %v", err)
	}
	if _, ok := got["name"].(string); !ok {
		t.Fatalf("expected string placeholder for name, got %v", got["name"])
	}
	if _, ok := got["age"].(float64); !ok {
		t.Fatalf("expected numeric placeholder for age, got %v", got["age"])
	}
}

func TestExampleSatisfiesSchema(t *testing.T) {
	c, err := Compile(json.RawMessage(personSchema))
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	violations, err := c.Validate(c.Example())
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	if len(violations) != 0 {
		t.Fatalf("example does not satisfy its own schema: %v", violations)
	}
}

func TestExamplePrefersEnumAndDefault(t *testing.T) {
	c, err := Compile(json.RawMessage(`{
		"type": "object",
		"properties": {
			"status": {"type": "string", "enum": ["open", "closed"]},
			"limit": {"type": "integer", "default": 10}
		}
	}`))
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(c.Example(), &got); err != nil {
		t.Fatalf("example is not valid JSON: %v", err)
	}
	if got["status"] != "open" {
		t.Fatalf("expected first enum entry, got %v", got["status"])
	}
}
