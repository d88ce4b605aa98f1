package models

// RawToolDelta is one provider-agnostic fragment of a streamed tool call.
// CallIndex groups fragments belonging to the same call; ID arrives at most
// once; NameDelta and ArgsDelta are appended in arrival order until Done.
type RawToolDelta struct {
	CallIndex int    `json:"call_index"`
	ID        string `json:"id,omitempty"`
	NameDelta string `json:"name_delta,omitempty"`
	ArgsDelta string `json:"args_delta,omitempty"`
	Done      bool   `json:"done"`
}

// StreamChunk is the normalized unit every provider emits while streaming.
// Err carries transport failures in-band on provider channels and is never
// serialized.
type StreamChunk struct {
	Delta      string         `json:"delta"`
	ToolDeltas []RawToolDelta `json:"tool_deltas,omitempty"`
	Done       bool           `json:"done"`
	Err        error          `json:"-"`
}

// AssembledAssistant is the final assistant turn after a stream completes:
// accumulated text plus any tool calls reassembled from deltas.
type AssembledAssistant struct {
	Content   string         `json:"content"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
	Model     string         `json:"model,omitempty"`
	Provider  string         `json:"provider,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
