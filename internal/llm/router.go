package llm

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/haasonsaas/opsbench/pkg/models"
)

// Router is the primary entry point when the rest of the workbench needs an
// LLM response. It maintains a set of named providers, streams chunks from
// the active one, and drives a ToolCallAssembler so callers receive complete
// tool calls instead of raw deltas.
//
// If the assembler records any errors (malformed JSON from the model), the
// final AssembledAssistant carries an empty ToolCalls list and the errors
// surface in Metadata["assembler_errors"].
type Router struct {
	mu       sync.RWMutex
	provider map[string]Provider
	names    []string
	active   string

	logger *slog.Logger
}

// NewRouter returns a router with no providers registered.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		provider: make(map[string]Provider),
		logger:   logger,
	}
}

// RegisterProvider registers p under name, overwriting any existing entry.
// The first registered provider becomes active.
func (r *Router) RegisterProvider(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.provider[name]; !exists {
		r.names = append(r.names, name)
	}
	r.provider[name] = p
	if r.active == "" {
		r.active = name
	}
}

// SetActive switches the active provider. Unknown names are rejected.
func (r *Router) SetActive(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.provider[name]; !ok {
		return &UnknownProviderError{Name: name, Registered: append([]string(nil), r.names...)}
	}
	r.active = name
	return nil
}

// ActiveName returns the name of the currently active provider, or "".
func (r *Router) ActiveName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Active returns the active provider instance.
func (r *Router) Active() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.provider[r.active]
	if r.active == "" || !ok {
		return nil, ErrNoActiveProvider
	}
	return p, nil
}

// ProviderNames returns registered provider names in registration order.
func (r *Router) ProviderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.names...)
}

// Chat streams chunks from the active provider without assembling them.
// Tool-call deltas pass through as-is so a UI can render them incrementally.
func (r *Router) Chat(ctx context.Context, req *ChatRequest) (<-chan *models.StreamChunk, error) {
	p, err := r.Active()
	if err != nil {
		return nil, err
	}
	return p.Chat(ctx, req)
}

// ChatComplete consumes the full stream and returns an AssembledAssistant.
// This is the method most callers should use; it drives the assembler and
// handles error bookkeeping.
func (r *Router) ChatComplete(ctx context.Context, req *ChatRequest) (*models.AssembledAssistant, error) {
	r.mu.RLock()
	activeName := r.active
	p, ok := r.provider[activeName]
	r.mu.RUnlock()
	if activeName == "" || !ok {
		return nil, ErrNoActiveProvider
	}

	model := req.Model
	if model == "" {
		model = p.Model()
	}

	chunks, err := p.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	assembler := NewToolCallAssembler()
	var content strings.Builder
	var calls []models.ToolCall

	for chunk := range chunks {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		if chunk.Delta != "" {
			content.WriteString(chunk.Delta)
		}
		for _, td := range chunk.ToolDeltas {
			calls = append(calls, assembler.Feed(td)...)
		}
	}

	// Finalize buffers that never saw a done delta.
	calls = append(calls, assembler.Flush()...)

	metadata := map[string]any{"provider": activeName}

	if errs := assembler.Errors(); len(errs) > 0 {
		r.logger.Warn("tool-call assembly errors", "provider", activeName, "errors", errs)
		metadata["assembler_errors"] = append([]string(nil), errs...)
		calls = nil
	}

	return &models.AssembledAssistant{
		Content:   content.String(),
		ToolCalls: calls,
		Model:     model,
		Provider:  activeName,
		Metadata:  metadata,
	}, nil
}

// CountTokens delegates token counting to the active provider.
func (r *Router) CountTokens(messages []models.Message, tools []models.ToolDefinition) (int, error) {
	p, err := r.Active()
	if err != nil {
		return 0, err
	}
	return p.CountTokens(messages, tools), nil
}
