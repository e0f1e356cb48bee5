package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Compiled wraps a compiled JSON Schema ready for repeated validation.
type Compiled struct {
	raw    json.RawMessage
	schema *jsonschema.Schema
	doc    map[string]any
}

// Compile parses and compiles a JSON Schema document.
func Compile(raw json.RawMessage) (*Compiled, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("schema: parse: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("request.json", doc); err != nil {
		return nil, fmt.Errorf("schema: add resource: %w", err)
	}
	sch, err := c.Compile("request.json")
	if err != nil {
		return nil, fmt.Errorf("schema: compile: %w", err)
	}
	var m map[string]any
	if obj, ok := doc.(map[string]any); ok {
		m = obj
	}
	return &Compiled{raw: raw, schema: sch, doc: m}, nil
}

// Raw returns the original schema document.
func (c *Compiled) Raw() json.RawMessage {
	if c == nil {
		return nil
	}
	return c.raw
}

// Violation is one field-level schema violation.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

var printer = message.NewPrinter(language.English)

// Validate checks a candidate value against the schema and returns the
// full, deterministically ordered list of violations. An empty list
// means the candidate conforms. Validation never coerces types.
func (c *Compiled) Validate(candidate json.RawMessage) ([]Violation, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(candidate))
	if err != nil {
		return nil, fmt.Errorf("schema: candidate is not valid JSON: %w", err)
	}
	return c.ValidateValue(inst), nil
}

// ValidateValue is Validate for an already-decoded instance.
func (c *Compiled) ValidateValue(inst any) []Violation {
	err := c.schema.Validate(inst)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []Violation{{Path: "/", Message: err.Error()}}
	}
	var out []Violation
	flatten(ve, &out)
	// Leaf order depends on instance map iteration, so sort for a
	// stable result across calls with identical input.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Message < out[j].Message
	})
	return out
}

func flatten(ve *jsonschema.ValidationError, out *[]Violation) {
	if len(ve.Causes) == 0 {
		*out = append(*out, Violation{
			Path:    instancePath(ve.InstanceLocation),
			Message: ve.ErrorKind.LocalizedString(printer),
		})
		return
	}
	for _, cause := range ve.Causes {
		flatten(cause, out)
	}
}

func instancePath(segments []string) string {
	if len(segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(segments, "/")
}

// Messages renders violations as human-readable strings, one per
// violation, preserving order.
func Messages(violations []Violation) []string {
	if len(violations) == 0 {
		return nil
	}
	msgs := make([]string, len(violations))
	for i, v := range violations {
		msgs[i] = v.String()
	}
	return msgs
}
