package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/opsbench/internal/llm"
	"github.com/haasonsaas/opsbench/pkg/models"
)

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	// APIKey is the bearer token. Empty is allowed for unauthenticated
	// local endpoints (vLLM, LM Studio, LocalAI).
	APIKey string

	// BaseURL overrides the API endpoint for OpenAI-compatible servers,
	// e.g. "http://localhost:8080/v1".
	BaseURL string

	// Model is the default model identifier. Defaults to "gpt-4o".
	Model string

	// MaxContext is the context window in tokens. Defaults to 128000.
	MaxContext int

	// MaxOutput is the output cap in tokens. Defaults to 4096.
	MaxOutput int

	// MaxRetries bounds retry attempts for transient failures. Defaults to 3.
	MaxRetries int

	// RetryDelay is the base delay between attempts (linear backoff).
	// Defaults to one second.
	RetryDelay time.Duration
}

// OpenAIProvider streams completions from any endpoint speaking the OpenAI
// chat-completions wire protocol. Tool calls arrive incrementally (id, name
// and argument fragments in separate chunks) and are forwarded as
// RawToolDeltas; reassembly happens downstream in the router's assembler.
//
// Safe for concurrent use; each Chat call creates an independent stream and
// goroutine.
type OpenAIProvider struct {
	client     *openai.Client
	model      string
	maxContext int
	maxOutput  int
	maxRetries int
	retryDelay time.Duration
	counter    *llm.TokenCounter
}

// NewOpenAIProvider creates a provider from cfg, applying defaults for any
// zero field.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.MaxContext <= 0 {
		cfg.MaxContext = 128000
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = 4096
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		maxContext: cfg.MaxContext,
		maxOutput:  cfg.MaxOutput,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		counter:    llm.NewTokenCounter(cfg.Model),
	}
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Model() string { return p.model }

// MaxContextTokens returns the configured context window.
func (p *OpenAIProvider) MaxContextTokens() int { return p.maxContext }

// MaxOutputTokens returns the configured output cap.
func (p *OpenAIProvider) MaxOutputTokens() int { return p.maxOutput }

// CountTokens estimates the prompt size with the shared heuristic counter.
func (p *OpenAIProvider) CountTokens(messages []models.Message, tools []models.ToolDefinition) int {
	return p.counter.CountMessages(messages, tools)
}

// Chat starts a streaming completion. Transient failures (429, 5xx,
// timeouts) are retried with linear backoff before the stream opens.
func (p *OpenAIProvider) Chat(ctx context.Context, req *llm.ChatRequest) (<-chan *models.StreamChunk, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: p.convertMessages(req.Messages),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = p.convertTools(req.Tools)
		chatReq.ToolChoice = "auto"
	}

	var stream *openai.ChatCompletionStream
	var lastErr error

	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}

		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !ClassifyError(lastErr).IsRetryable() {
			return nil, wrapError(p.Name(), model, lastErr)
		}
	}
	if lastErr != nil {
		return nil, wrapError(p.Name(), model, lastErr)
	}

	chunks := make(chan *models.StreamChunk)
	go p.processStream(ctx, stream, model, chunks)
	return chunks, nil
}

// processStream converts the SDK stream into normalized chunks. Text deltas
// are forwarded immediately. Tool-call fragments pass through as
// RawToolDeltas; when a finish reason arrives in a chunk that carries
// fragments, those fragments are marked done. Buffers that never see a done
// marker are finalized by the assembler's flush at stream end.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, model string, chunks chan<- *models.StreamChunk) {
	defer close(chunks)
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			chunks <- &models.StreamChunk{Err: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				chunks <- &models.StreamChunk{Done: true}
				return
			}
			chunks <- &models.StreamChunk{Err: wrapError(p.Name(), model, err), Done: true}
			return
		}

		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		chunk := &models.StreamChunk{Delta: choice.Delta.Content}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			chunk.ToolDeltas = append(chunk.ToolDeltas, models.RawToolDelta{
				CallIndex: index,
				ID:        tc.ID,
				NameDelta: tc.Function.Name,
				ArgsDelta: tc.Function.Arguments,
			})
		}

		if choice.FinishReason != "" {
			chunk.Done = true
			for i := range chunk.ToolDeltas {
				chunk.ToolDeltas[i].Done = true
			}
		}

		if chunk.Delta == "" && len(chunk.ToolDeltas) == 0 && !chunk.Done {
			continue
		}

		select {
		case <-ctx.Done():
			chunks <- &models.StreamChunk{Err: ctx.Err(), Done: true}
			return
		case chunks <- chunk:
		}
	}
}

// convertMessages maps neutral messages onto the OpenAI wire format. The
// system prompt travels inline as a leading system-role message.
func (p *OpenAIProvider) convertMessages(messages []models.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))

	for _, msg := range messages {
		m := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}

		if len(msg.ToolCalls) > 0 {
			m.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				m.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: marshalArguments(tc.Arguments),
					},
				}
			}
		}

		if msg.ToolCallID != "" {
			m.ToolCallID = msg.ToolCallID
		}

		result = append(result, m)
	}

	return result
}

func (p *OpenAIProvider) convertTools(tools []models.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  tool.Function.Parameters,
			},
		}
	}
	return result
}

// marshalArguments renders parsed tool arguments back to the JSON string the
// wire format expects.
func marshalArguments(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}
