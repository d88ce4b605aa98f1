package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/opsbench/internal/llm"
	"github.com/haasonsaas/opsbench/pkg/models"
)

// maxEmptyStreamEvents bounds consecutive events that produce no output
// before the stream is treated as malformed.
const maxEmptyStreamEvents = 300

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	// APIKey authenticates against the Anthropic API. Required.
	APIKey string

	// BaseURL overrides the API endpoint, e.g. for proxies.
	BaseURL string

	// Model is the default model. Defaults to "claude-sonnet-4-20250514".
	Model string

	// MaxContext is the context window in tokens. Defaults to 200000.
	MaxContext int

	// MaxOutput is the output cap in tokens. Defaults to 4096.
	MaxOutput int

	// MaxRetries bounds retry attempts. Defaults to 3.
	MaxRetries int

	// RetryDelay is the base backoff delay, doubled per attempt.
	// Defaults to one second.
	RetryDelay time.Duration
}

// AnthropicProvider streams completions from the Anthropic Messages API.
//
// Tool calls arrive as content blocks: a content_block_start carries the id
// and name, input_json_delta events stream argument fragments, and
// content_block_stop finalizes the call. Each of those maps onto one
// RawToolDelta keyed by the block index.
type AnthropicProvider struct {
	client     anthropic.Client
	model      string
	maxContext int
	maxOutput  int
	maxRetries int
	retryDelay time.Duration
	counter    *llm.TokenCounter
}

// NewAnthropicProvider creates a provider from cfg. The API key is required;
// every other field has a default.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.MaxContext <= 0 {
		cfg.MaxContext = 200000
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

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:     anthropic.NewClient(options...),
		model:      cfg.Model,
		maxContext: cfg.MaxContext,
		maxOutput:  cfg.MaxOutput,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		counter:    llm.NewTokenCounter(cfg.Model),
	}, nil
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Model() string { return p.model }

// MaxContextTokens returns the configured context window.
func (p *AnthropicProvider) MaxContextTokens() int { return p.maxContext }

// MaxOutputTokens returns the configured output cap.
func (p *AnthropicProvider) MaxOutputTokens() int { return p.maxOutput }

// CountTokens estimates the prompt size with the shared heuristic counter.
func (p *AnthropicProvider) CountTokens(messages []models.Message, tools []models.ToolDefinition) int {
	return p.counter.CountMessages(messages, tools)
}

// Chat starts a streaming completion. Opening failures are retried with
// exponential backoff as long as nothing has been emitted yet; once any
// chunk reached the caller a retry would duplicate output, so the error is
// surfaced instead.
func (p *AnthropicProvider) Chat(ctx context.Context, req *llm.ChatRequest) (<-chan *models.StreamChunk, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	params, err := p.buildParams(req, model)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *models.StreamChunk)
	go func() {
		defer close(chunks)

		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream := p.client.Messages.NewStreaming(ctx, params)
			emitted, streamErr := p.processStream(ctx, stream, chunks)
			if streamErr == nil {
				return
			}

			wrapped := wrapError(p.Name(), model, streamErr)
			if emitted || !wrapped.Reason.IsRetryable() || attempt == p.maxRetries {
				chunks <- &models.StreamChunk{Err: wrapped, Done: true}
				return
			}

			backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				chunks <- &models.StreamChunk{Err: ctx.Err(), Done: true}
				return
			case <-time.After(backoff):
			}
		}
	}()

	return chunks, nil
}

// processStream walks the SSE event stream, emitting normalized chunks.
// It reports whether anything was delivered and the terminal error, if any.
func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *models.StreamChunk) (bool, error) {
	emitted := false
	emptyEvents := 0
	openToolBlocks := make(map[int64]bool)

	send := func(chunk *models.StreamChunk) bool {
		select {
		case <-ctx.Done():
			return false
		case chunks <- chunk:
			emitted = true
			return true
		}
	}

	for stream.Next() {
		event := stream.Current()
		productive := false

		switch event.Type {
		case "content_block_start":
			start := event.AsContentBlockStart()
			if start.ContentBlock.Type == "tool_use" {
				toolUse := start.ContentBlock.AsToolUse()
				openToolBlocks[start.Index] = true
				if !send(&models.StreamChunk{ToolDeltas: []models.RawToolDelta{{
					CallIndex: int(start.Index),
					ID:        toolUse.ID,
					NameDelta: toolUse.Name,
				}}}) {
					return emitted, ctx.Err()
				}
				productive = true
			}

		case "content_block_delta":
			blockDelta := event.AsContentBlockDelta()
			switch blockDelta.Delta.Type {
			case "text_delta":
				if blockDelta.Delta.Text != "" {
					if !send(&models.StreamChunk{Delta: blockDelta.Delta.Text}) {
						return emitted, ctx.Err()
					}
					productive = true
				}
			case "input_json_delta":
				if blockDelta.Delta.PartialJSON != "" {
					if !send(&models.StreamChunk{ToolDeltas: []models.RawToolDelta{{
						CallIndex: int(blockDelta.Index),
						ArgsDelta: blockDelta.Delta.PartialJSON,
					}}}) {
						return emitted, ctx.Err()
					}
					productive = true
				}
			}

		case "content_block_stop":
			stop := event.AsContentBlockStop()
			if openToolBlocks[stop.Index] {
				delete(openToolBlocks, stop.Index)
				if !send(&models.StreamChunk{ToolDeltas: []models.RawToolDelta{{
					CallIndex: int(stop.Index),
					Done:      true,
				}}}) {
					return emitted, ctx.Err()
				}
				productive = true
			}

		case "message_stop":
			send(&models.StreamChunk{Done: true})
			return emitted, nil
		}

		if productive {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				return emitted, fmt.Errorf("stream malformed: %d consecutive empty events", emptyEvents)
			}
		}
	}

	if err := stream.Err(); err != nil {
		return emitted, err
	}

	// Stream ended without message_stop.
	send(&models.StreamChunk{Done: true})
	return emitted, nil
}

func (p *AnthropicProvider) buildParams(req *llm.ChatRequest, model string) (anthropic.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxOutput
	}

	system, rest := splitSystemPrompt(req.Messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  convertAnthropicMessages(rest),
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}

	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}

	return params, nil
}

// splitSystemPrompt pulls system-role messages out of the conversation; the
// Anthropic API takes them as a separate parameter.
func splitSystemPrompt(messages []models.Message) (string, []models.Message) {
	var system []string
	rest := make([]models.Message, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			if msg.Content != "" {
				system = append(system, msg.Content)
			}
			continue
		}
		rest = append(rest, msg)
	}

	return strings.Join(system, "\n\n"), rest
}

func convertAnthropicMessages(messages []models.Message) []anthropic.MessageParam {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion

		switch msg.Role {
		case models.RoleTool:
			// Tool results ride in user messages as tool_result blocks.
			content = append(content, anthropic.NewToolResultBlock(
				msg.ToolCallID, msg.Content, false))
			result = append(result, anthropic.NewUserMessage(content...))

		case models.RoleAssistant:
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Arguments
				if input == nil {
					input = map[string]any{}
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(content) == 0 {
				content = append(content, anthropic.NewTextBlock(""))
			}
			result = append(result, anthropic.NewAssistantMessage(content...))

		default:
			content = append(content, anthropic.NewTextBlock(msg.Content))
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result
}

func convertAnthropicTools(tools []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, tool := range tools {
		raw, err := json.Marshal(tool.Function.Parameters)
		if err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Function.Name, err)
		}

		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Function.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Function.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Function.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Function.Description)

		result = append(result, toolParam)
	}

	return result, nil
}
