package tools

import (
	"strings"
	"testing"
)

func echoParams() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string"},
		},
		"required": []any{"message"},
	}
}

func TestValidator_ValidArguments(t *testing.T) {
	v := NewValidator()
	tool := &stubTool{name: "echo", params: echoParams()}

	ok, msg := v.Validate(tool, map[string]any{"message": "hi"})
	if !ok {
		t.Fatalf("Validate() = false, message %q", msg)
	}
	if msg != "" {
		t.Errorf("message = %q, want empty", msg)
	}
}

func TestValidator_MissingRequired(t *testing.T) {
	v := NewValidator()
	tool := &stubTool{name: "echo", params: echoParams()}

	ok, msg := v.Validate(tool, map[string]any{})
	if ok {
		t.Fatal("Validate() = true, want false for missing required field")
	}
	if !strings.Contains(msg, "message") {
		t.Errorf("message = %q, want it to name the missing field", msg)
	}
}

func TestValidator_WrongType(t *testing.T) {
	v := NewValidator()
	tool := &stubTool{
		name: "pager",
		params: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"count": map[string]any{"type": "integer"},
			},
		},
	}

	ok, msg := v.Validate(tool, map[string]any{"count": "three"})
	if ok {
		t.Fatal("Validate() = true, want false for type mismatch")
	}
	if !strings.Contains(msg, "count") {
		t.Errorf("message = %q, want it to name the offending field", msg)
	}
}

func TestValidator_RejectsUnknownProperties(t *testing.T) {
	v := NewValidator()
	tool := &stubTool{name: "echo", params: echoParams()}

	ok, msg := v.Validate(tool, map[string]any{"message": "hi", "bogus": 1})
	if ok {
		t.Fatal("Validate() = true, want false: schema is closed by default")
	}
	if msg == "" {
		t.Error("message is empty, want a description")
	}
}

func TestValidator_AllowsOptInAdditionalProperties(t *testing.T) {
	v := NewValidator()
	tool := &stubTool{
		name: "run_diagnostic",
		params: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{"type": "string"},
			},
			"required":             []any{"action"},
			"additionalProperties": true,
		},
	}

	ok, msg := v.Validate(tool, map[string]any{"action": "ping", "count": 2})
	if !ok {
		t.Fatalf("Validate() = false, message %q", msg)
	}
}

func TestValidator_NilArguments(t *testing.T) {
	v := NewValidator()

	open := &stubTool{name: "noargs"}
	if ok, msg := v.Validate(open, nil); !ok {
		t.Errorf("Validate(nil) on argless tool = false, message %q", msg)
	}

	strict := &stubTool{name: "echo", params: echoParams()}
	if ok, _ := v.Validate(strict, nil); ok {
		t.Error("Validate(nil) = true, want false when fields are required")
	}
}

func TestValidator_CachesCompiledSchemas(t *testing.T) {
	v := NewValidator()
	tool := &stubTool{name: "echo", params: echoParams()}

	for i := 0; i < 3; i++ {
		if ok, msg := v.Validate(tool, map[string]any{"message": "hi"}); !ok {
			t.Fatalf("Validate() = false, message %q", msg)
		}
	}

	entries := 0
	v.cache.Range(func(_, _ any) bool {
		entries++
		return true
	})
	if entries != 1 {
		t.Errorf("cache holds %d schemas, want 1", entries)
	}
}
