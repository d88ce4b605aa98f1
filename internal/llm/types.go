// Package llm routes chat requests to named providers and reassembles
// streamed tool calls into complete, executable requests.
package llm

import (
	"context"

	"github.com/haasonsaas/opsbench/pkg/models"
)

// ChatRequest contains all parameters for one streaming completion.
type ChatRequest struct {
	// Messages is the packed conversation history in chronological order.
	Messages []models.Message `json:"messages"`

	// Tools lists the function schemas the model may call. Empty disables
	// tool calling for this request.
	Tools []models.ToolDefinition `json:"tools,omitempty"`

	// Model overrides the provider's default model when non-empty.
	Model string `json:"model,omitempty"`

	// MaxTokens caps the generated response length. Zero uses the
	// provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// Provider encapsulates access to a single LLM endpoint.
//
// Implementations must be safe for concurrent use; multiple goroutines may
// call Chat simultaneously for different requests.
type Provider interface {
	// Name returns the provider identifier used for routing.
	Name() string

	// Model returns the model identifier used when a request does not
	// override it.
	Model() string

	// Chat starts a streaming completion. The returned channel delivers
	// normalized chunks and is closed after the final chunk (Done=true)
	// or after a chunk carrying Err.
	Chat(ctx context.Context, req *ChatRequest) (<-chan *models.StreamChunk, error)

	// CountTokens estimates the prompt size for the given conversation.
	CountTokens(messages []models.Message, tools []models.ToolDefinition) int

	// MaxContextTokens is the model's input window.
	MaxContextTokens() int

	// MaxOutputTokens is the generation cap used when sizing the context.
	MaxOutputTokens() int
}
