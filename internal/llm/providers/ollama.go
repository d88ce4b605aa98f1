package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/opsbench/internal/llm"
	"github.com/haasonsaas/opsbench/pkg/models"
)

// OllamaConfig configures an OllamaProvider.
type OllamaConfig struct {
	// BaseURL of the Ollama HTTP API. Defaults to "http://localhost:11434".
	BaseURL string

	// Model is the default model tag, e.g. "llama3". Required unless every
	// request carries its own model.
	Model string

	// Timeout bounds each HTTP request. Defaults to two minutes.
	Timeout time.Duration

	// MaxContext is the context window in tokens. Ollama context sizes
	// vary by model; defaults to 8192.
	MaxContext int

	// MaxOutput is the output cap in tokens. Defaults to 4096.
	MaxOutput int
}

// OllamaProvider streams responses from a local Ollama instance via its
// /api/chat endpoint, which emits newline-delimited JSON objects. Ollama
// returns tool calls whole rather than as fragments, so each one becomes a
// single already-done RawToolDelta.
type OllamaProvider struct {
	client     *http.Client
	baseURL    string
	model      string
	maxContext int
	maxOutput  int
	counter    *llm.TokenCounter
}

// NewOllamaProvider creates a provider from cfg, applying defaults for any
// zero field.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if cfg.MaxContext <= 0 {
		cfg.MaxContext = 8192
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = 4096
	}

	return &OllamaProvider{
		client:     &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		model:      strings.TrimSpace(cfg.Model),
		maxContext: cfg.MaxContext,
		maxOutput:  cfg.MaxOutput,
		counter:    llm.NewTokenCounter(cfg.Model),
	}
}

// Name returns "ollama".
func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) Model() string { return p.model }

// MaxContextTokens returns the configured context window.
func (p *OllamaProvider) MaxContextTokens() int { return p.maxContext }

// MaxOutputTokens returns the configured output cap.
func (p *OllamaProvider) MaxOutputTokens() int { return p.maxOutput }

// CountTokens estimates the prompt size with the shared heuristic counter.
func (p *OllamaProvider) CountTokens(messages []models.Message, tools []models.ToolDefinition) int {
	return p.counter.CountMessages(messages, tools)
}

// Chat sends a streaming chat request to Ollama.
func (p *OllamaProvider) Chat(ctx context.Context, req *llm.ChatRequest) (<-chan *models.StreamChunk, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.model
	}
	if model == "" {
		return nil, wrapError(p.Name(), "", errors.New("model is required"))
	}

	payload := ollamaChatRequest{
		Model:    model,
		Stream:   true,
		Messages: buildOllamaMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		payload.Tools = req.Tools
	}
	if req.MaxTokens > 0 {
		payload.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, wrapError(p.Name(), model, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, wrapError(p.Name(), model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, wrapError(p.Name(), model, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		perr := wrapError(p.Name(), model,
			fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody))))
		perr.Status = resp.StatusCode
		perr.Reason = classifyStatus(resp.StatusCode)
		return nil, perr
	}

	chunks := make(chan *models.StreamChunk)
	go p.streamResponse(ctx, resp.Body, model, chunks)
	return chunks, nil
}

func (p *OllamaProvider) streamResponse(ctx context.Context, body io.ReadCloser, model string, out chan<- *models.StreamChunk) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	// Running index so calls from separate lines never collide in the
	// assembler.
	nextCallIndex := 0

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			out <- &models.StreamChunk{Err: ctx.Err(), Done: true}
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var resp ollamaChatResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			out <- &models.StreamChunk{Err: wrapError(p.Name(), model, fmt.Errorf("decode response: %w", err)), Done: true}
			return
		}
		if resp.Error != "" {
			out <- &models.StreamChunk{Err: wrapError(p.Name(), model, errors.New(resp.Error)), Done: true}
			return
		}

		chunk := &models.StreamChunk{Done: resp.Done}

		if resp.Message != nil {
			chunk.Delta = resp.Message.Content

			for _, tc := range resp.Message.ToolCalls {
				args := tc.Function.Arguments
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				idx := nextCallIndex
				nextCallIndex++
				chunk.ToolDeltas = append(chunk.ToolDeltas, models.RawToolDelta{
					CallIndex: idx,
					ID:        fmt.Sprintf("ollama_call_%d", idx),
					NameDelta: strings.TrimSpace(tc.Function.Name),
					ArgsDelta: string(args),
					Done:      true,
				})
			}
		}

		if chunk.Delta != "" || len(chunk.ToolDeltas) > 0 || chunk.Done {
			out <- chunk
		}
		if resp.Done {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		out <- &models.StreamChunk{Err: wrapError(p.Name(), model, err), Done: true}
		return
	}

	// Stream ended without a done line.
	out <- &models.StreamChunk{Done: true}
}

type ollamaChatRequest struct {
	Model    string                  `json:"model"`
	Messages []ollamaChatMessage     `json:"messages"`
	Tools    []models.ToolDefinition `json:"tools,omitempty"`
	Stream   bool                    `json:"stream"`
	Options  map[string]any          `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaChatResponse struct {
	Message *ollamaChatMessage `json:"message"`
	Done    bool               `json:"done"`
	Error   string             `json:"error"`
}

type ollamaToolCall struct {
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name string `json:"name"`
	// Ollama sends and receives arguments as a JSON object, not a string.
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func buildOllamaMessages(messages []models.Message) []ollamaChatMessage {
	wire := make([]ollamaChatMessage, 0, len(messages))

	for _, msg := range messages {
		m := ollamaChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}

		if len(msg.ToolCalls) > 0 {
			m.ToolCalls = make([]ollamaToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				args := json.RawMessage(`{}`)
				if len(tc.Arguments) > 0 {
					if data, err := json.Marshal(tc.Arguments); err == nil {
						args = data
					}
				}
				m.ToolCalls[i] = ollamaToolCall{
					Function: ollamaToolFunction{
						Name:      tc.Name,
						Arguments: args,
					},
				}
			}
		}

		wire = append(wire, m)
	}

	return wire
}
