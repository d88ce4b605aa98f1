package llm

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/opsbench/pkg/models"
)

func TestCountText(t *testing.T) {
	c := NewTokenCounter("")

	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"short counts as one", "ab", 1},
		{"four chars", "abcd", 1},
		{"eight chars", "abcdefgh", 2},
		{"twelve chars", "abcdefghijkl", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.CountText(tt.text); got != tt.want {
				t.Errorf("CountText(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestCountMessages(t *testing.T) {
	c := NewTokenCounter("gpt-4o")

	messages := []models.Message{
		{Role: models.RoleUser, Content: "hello world!"}, // 4 + 3
		{
			Role:    models.RoleAssistant,
			Content: "",
			ToolCalls: []models.ToolCall{
				{ID: "call_1", Name: "echo", Arguments: map[string]any{"message": "hi"}},
			},
		}, // 4 + name(1) + args
		{Role: models.RoleTool, Content: "hi", ToolCallID: "call_1"}, // 4 + 1 + id(1)
	}

	argsJSON, err := json.Marshal(map[string]any{"message": "hi"})
	if err != nil {
		t.Fatal(err)
	}
	want := (4 + 3) +
		(4 + 1 + c.CountText(string(argsJSON))) +
		(4 + 1 + 1)

	if got := c.CountMessages(messages, nil); got != want {
		t.Errorf("CountMessages = %d, want %d", got, want)
	}
}

func TestCountMessages_ToolSchemas(t *testing.T) {
	c := NewTokenCounter("")

	tools := []models.ToolDefinition{{
		Type: "function",
		Function: models.FunctionDefinition{
			Name:        "echo",
			Description: "Echo back the provided message",
			Parameters: map[string]any{
				"type":                 "object",
				"properties":           map[string]any{"message": map[string]any{"type": "string"}},
				"additionalProperties": false,
			},
		},
	}}

	base := c.CountMessages(nil, nil)
	if base != 0 {
		t.Fatalf("CountMessages(nil, nil) = %d, want 0", base)
	}

	schemaJSON, err := json.Marshal(tools)
	if err != nil {
		t.Fatal(err)
	}
	want := c.CountText(string(schemaJSON))

	if got := c.CountMessages(nil, tools); got != want {
		t.Errorf("CountMessages(nil, tools) = %d, want %d", got, want)
	}
}
