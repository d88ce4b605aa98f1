package llm

import (
	"encoding/json"

	"github.com/haasonsaas/opsbench/pkg/models"
)

// perMessageOverhead covers role markers, separators and priming tokens.
const perMessageOverhead = 4

// TokenCounter estimates token counts for text and message lists using a
// deterministic character heuristic (~4 characters per token). Deterministic
// counts keep context packing reproducible across hosts and providers.
type TokenCounter struct {
	model string
}

// NewTokenCounter returns a counter tuned for the given model name. The name
// is kept for reporting only; the heuristic is model-independent.
func NewTokenCounter(model string) *TokenCounter {
	return &TokenCounter{model: model}
}

// Model returns the model name this counter was built for.
func (c *TokenCounter) Model() string { return c.model }

// CountText returns the estimated token count for a plain string. Empty
// input counts as zero; any non-empty input counts as at least one token.
func (c *TokenCounter) CountText(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// CountMessage estimates the token cost of a single message: a constant
// overhead plus its content, any embedded tool calls, and its tool_call_id
// when set.
func (c *TokenCounter) CountMessage(msg models.Message) int {
	total := perMessageOverhead + c.CountText(msg.Content)

	for _, tc := range msg.ToolCalls {
		total += c.CountText(tc.Name)
		total += c.CountText(canonicalJSON(tc.Arguments))
	}

	if msg.ToolCallID != "" {
		total += c.CountText(msg.ToolCallID)
	}

	return total
}

// CountMessages estimates the total token count for a conversation. When
// tools are provided their canonical JSON form is counted too, since the
// model sees the schemas in the prompt.
func (c *TokenCounter) CountMessages(messages []models.Message, tools []models.ToolDefinition) int {
	total := 0
	for _, msg := range messages {
		total += c.CountMessage(msg)
	}

	if len(tools) > 0 {
		total += c.CountText(canonicalJSON(tools))
	}

	return total
}

// canonicalJSON renders v compactly with object keys sorted, so identical
// values always count identically.
func canonicalJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
