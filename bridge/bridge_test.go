package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/voocel/conform/containment"
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

func newTestBridge(t *testing.T, opts ...containment.PolicyOption) *Bridge {
	t.Helper()
	b, err := New(json.RawMessage(personSchema), containment.NewPolicy(opts...), nil)
	if err != nil {
		t.Fatalf("bridge error: %v", err)
	}
	return b
}

func TestListingHasThreeTools(t *testing.T) {
	b := newTestBridge(t)
	listing := b.Listing()
	if len(listing) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(listing))
	}
	want := []string{ToolExample, ToolValidate, ToolSubmit}
	for i, def := range listing {
		if def.Name != want[i] {
			t.Fatalf("tool %d: expected %s, got %s", i, want[i], def.Name)
		}
		if def.Description == "" {
			t.Fatalf("tool %s has no description", def.Name)
		}
		if !json.Valid(def.Parameters) {
			t.Fatalf("tool %s has invalid parameter schema", def.Name)
		}
	}
}

func TestDispatchExample(t *testing.T) {
	b := newTestBridge(t)
	result, err := b.Dispatch(context.Background(), ToolExample, nil)
	if err != nil {
		t.Fatalf("dispatch error: %v", err)
	}
	obj, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("expected object example, got %T", result)
	}
	if _, ok := obj["name"]; !ok {
		t.Fatal("example missing name property")
	}
}

func TestDispatchValidate(t *testing.T) {
	b := newTestBridge(t)

	result, err := b.Dispatch(context.Background(), ToolValidate, map[string]any{
		"candidate": map[string]any{"name": "Bob", "age": float64(30)},
	})
	if err != nil {
		t.Fatalf("dispatch error: %v", err)
	}
	if result != "valid" {
		t.Fatalf("expected valid, got %v", result)
	}

	result, err = b.Dispatch(context.Background(), ToolValidate, map[string]any{
		"candidate": map[string]any{"name": "Bob", "age": "30"},
	})
	if err != nil {
		t.Fatalf("dispatch error: %v", err)
	}
	msgs, ok := result.([]string)
	if !ok || len(msgs) == 0 {
		t.Fatalf("expected violation list, got %v", result)
	}
}

func TestValidateRepeatable(t *testing.T) {
	b := newTestBridge(t)
	args := map[string]any{"candidate": map[string]any{"name": 1, "age": "x"}}
	first, err := b.Dispatch(context.Background(), ToolValidate, args)
	if err != nil {
		t.Fatalf("dispatch error: %v", err)
	}
	second, err := b.Dispatch(context.Background(), ToolValidate, args)
	if err != nil {
		t.Fatalf("dispatch error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("validate not idempotent: %v vs %v", first, second)
	}
}

func TestSubmitHandoff(t *testing.T) {
	b := newTestBridge(t)
	result, err := b.Dispatch(context.Background(), ToolSubmit, map[string]any{
		"value": map[string]any{"name": "Bob", "age": float64(30)},
	})
	if err != nil {
		t.Fatalf("dispatch error: %v", err)
	}
	if result != "acknowledged" {
		t.Fatalf("expected acknowledged, got %v", result)
	}

	sub, ok := b.TakeSubmission()
	if !ok {
		t.Fatal("expected a pending submission")
	}
	var got map[string]any
	if err := json.Unmarshal(sub, &got); err != nil {
		t.Fatalf("submission not valid JSON: %v", err)
	}
	if got["name"] != "Bob" {
		t.Fatalf("unexpected submission: %v", got)
	}

	if _, ok := b.TakeSubmission(); ok {
		t.Fatal("submission should be single-use")
	}
}

func TestRepeatSubmitLastWriteWins(t *testing.T) {
	b := newTestBridge(t)
	for _, name := range []string{"first", "second"} {
		if _, err := b.Dispatch(context.Background(), ToolSubmit, map[string]any{
			"value": map[string]any{"name": name, "age": float64(1)},
		}); err != nil {
			t.Fatalf("dispatch error: %v", err)
		}
	}
	sub, ok := b.TakeSubmission()
	if !ok {
		t.Fatal("expected a pending submission")
	}
	var got map[string]any
	if err := json.Unmarshal(sub, &got); err != nil {
		t.Fatalf("submission not valid JSON: %v", err)
	}
	if got["name"] != "second" {
		t.Fatalf("expected last submission to win, got %v", got)
	}
}

func TestDisallowedToolRejected(t *testing.T) {
	b := newTestBridge(t)
	_, err := b.Dispatch(context.Background(), "shell_exec", map[string]any{"cmd": "rm -rf /"})
	if !errors.Is(err, ErrToolNotPermitted) {
		t.Fatalf("expected ErrToolNotPermitted, got %v", err)
	}
}

func TestNarrowedAllowlist(t *testing.T) {
	b := newTestBridge(t, containment.WithAllowedTools(ToolSubmit))
	if _, err := b.Dispatch(context.Background(), ToolExample, nil); !errors.Is(err, ErrToolNotPermitted) {
		t.Fatalf("expected ErrToolNotPermitted for example, got %v", err)
	}
	if _, err := b.Dispatch(context.Background(), ToolSubmit, map[string]any{"value": true}); err != nil {
		t.Fatalf("submit should remain allowed: %v", err)
	}
}

func TestUnknownAllowedToolNotFound(t *testing.T) {
	b := newTestBridge(t, containment.WithAllowedTools("example", "validate", "submit", "extra"))
	_, err := b.Dispatch(context.Background(), "extra", nil)
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestResetClearsSubmission(t *testing.T) {
	b := newTestBridge(t)
	if _, err := b.Dispatch(context.Background(), ToolSubmit, map[string]any{"value": 1}); err != nil {
		t.Fatalf("dispatch error: %v", err)
	}
	b.Reset()
	if _, ok := b.TakeSubmission(); ok {
		t.Fatal("reset should clear the pending submission")
	}
}

func TestServeAndClose(t *testing.T) {
	b := newTestBridge(t)
	endpoint, err := b.Serve()
	if err != nil {
		t.Fatalf("serve error: %v", err)
	}
	if endpoint == "" {
		t.Fatal("expected a non-empty endpoint")
	}
	if again, _ := b.Serve(); again != endpoint {
		t.Fatal("serve should be idempotent")
	}
	if err := b.Close(context.Background()); err != nil {
		t.Fatalf("close error: %v", err)
	}
}
