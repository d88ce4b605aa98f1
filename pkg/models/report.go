package models

// ContextPackReport records how a context window was packed for one
// completion request: the budget inputs and what survived the cut.
type ContextPackReport struct {
	MaxContextTokens   int `json:"max_context_tokens"`
	MaxOutputTokens    int `json:"max_output_tokens"`
	ReserveTokens      int `json:"reserve_tokens"`
	ToolSchemaTokens   int `json:"tool_schema_tokens"`
	SystemPromptTokens int `json:"system_prompt_tokens"`
	MessageTokens      int `json:"message_tokens"`
	KeptMessages       int `json:"kept_messages"`
	DroppedMessages    int `json:"dropped_messages"`
}
