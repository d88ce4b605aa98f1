// Package orchestrator drives the main loop for one user input: pack the
// context window, stream the model, execute each assembled tool call through
// its lifecycle, append events, and repeat until the model answers in plain
// text or the turn cap is hit.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/haasonsaas/opsbench/internal/llm"
	"github.com/haasonsaas/opsbench/internal/observability"
	"github.com/haasonsaas/opsbench/internal/policy"
	"github.com/haasonsaas/opsbench/internal/sessions"
	"github.com/haasonsaas/opsbench/internal/tools"
	"github.com/haasonsaas/opsbench/pkg/models"
)

// streamBufferSize is the buffer for the output chunk channel.
const streamBufferSize = 10

// toolSummaryLimit caps how much of a tool result is echoed into the stream.
const toolSummaryLimit = 200

// protocolErrorApology is streamed when assembly fails and the model gave no
// usable text alongside the broken tool calls.
const protocolErrorApology = "I encountered a protocol error processing tool calls. Please try rephrasing your request."

// ConfirmFunc asks the user to approve one tool call. Returning an error is
// treated as a declined confirmation.
type ConfirmFunc func(ctx context.Context, toolName string, call models.ToolCall) (bool, error)

// Config holds the orchestrator's tunables.
type Config struct {
	// SystemPrompt is prepended to every packed context window when
	// non-empty.
	SystemPrompt string

	// ToolTimeout bounds a single tool execution. Zero means 30 seconds.
	ToolTimeout time.Duration

	// MaxTurns caps the number of tool-call rounds per user input before
	// the loop forces a text response. Zero means 20.
	MaxTurns int

	// ReserveTokens is the packing safety margin. Zero means the session
	// default.
	ReserveTokens int
}

func sanitizeConfig(config Config) Config {
	if config.ToolTimeout <= 0 {
		config.ToolTimeout = 30 * time.Second
	}
	if config.MaxTurns <= 0 {
		config.MaxTurns = 20
	}
	if config.ReserveTokens <= 0 {
		config.ReserveTokens = sessions.DefaultReserveTokens
	}
	return config
}

// Orchestrator ties the session, registry, router and policy engine into the
// per-input loop. One Orchestrator serves one session; Run is invoked once
// per user input and must finish (or be cancelled) before the next Run.
type Orchestrator struct {
	session   *sessions.Session
	registry  *tools.Registry
	validator *tools.Validator
	router    *llm.Router
	policy    *policy.Engine
	config    Config

	confirm ConfirmFunc
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// New creates an orchestrator. Logger, metrics, tracer and the confirmation
// callback are attached with the Set methods; without a callback every
// confirmation is treated as declined.
func New(session *sessions.Session, registry *tools.Registry, router *llm.Router, engine *policy.Engine, config Config) *Orchestrator {
	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	tracer, _ := observability.NewTracer(observability.TraceConfig{})

	return &Orchestrator{
		session:   session,
		registry:  registry,
		validator: tools.NewValidator(),
		router:    router,
		policy:    engine,
		config:    sanitizeConfig(config),
		logger:    logger,
		tracer:    tracer,
	}
}

// SetConfirmFunc installs the confirmation callback.
func (o *Orchestrator) SetConfirmFunc(fn ConfirmFunc) {
	o.confirm = fn
}

// SetLogger replaces the discard logger.
func (o *Orchestrator) SetLogger(logger *observability.Logger) {
	if logger != nil {
		o.logger = logger
	}
}

// SetMetrics attaches a metrics sink. Nil leaves metrics disabled.
func (o *Orchestrator) SetMetrics(metrics *observability.Metrics) {
	o.metrics = metrics
}

// SetTracer replaces the no-op tracer.
func (o *Orchestrator) SetTracer(tracer *observability.Tracer) {
	if tracer != nil {
		o.tracer = tracer
	}
}

// Run processes one user input through the full loop and streams output
// chunks for UI rendering. The channel closes when the run is over; a chunk
// with Err set is always the last one. Fatal failures are event store
// appends, provider errors, and cancellation; everything that goes wrong
// inside a tool call becomes a well-typed ToolResult instead.
func (o *Orchestrator) Run(ctx context.Context, userInput string) (<-chan *models.StreamChunk, error) {
	if o.session == nil {
		return nil, errors.New("session is nil")
	}
	if o.registry == nil {
		return nil, errors.New("registry is nil")
	}
	if o.router == nil {
		return nil, errors.New("router is nil")
	}
	if o.policy == nil {
		return nil, errors.New("policy engine is nil")
	}
	if o.session.ID() == "" {
		return nil, ErrNoSession
	}

	chunks := make(chan *models.StreamChunk, streamBufferSize)

	go func() {
		defer close(chunks)
		o.run(ctx, userInput, chunks)
	}()

	return chunks, nil
}

func (o *Orchestrator) run(ctx context.Context, userInput string, chunks chan<- *models.StreamChunk) {
	turnID := o.session.NewTurn()
	ctx = observability.AddSessionID(ctx, o.session.ID())
	ctx = observability.AddTurnID(ctx, turnID)

	ctx, turnSpan := o.tracer.TraceTurn(ctx, o.session.ID(), turnID)
	defer turnSpan.End()

	if err := o.appendEvent(ctx, sessions.NewUserMessageEvent(turnID, userInput)); err != nil {
		o.fail(ctx, chunks, PhaseInit, 0, "append user message", err)
		return
	}

	// Schemas are snapshotted once per run; tools registered mid-run join
	// the next one.
	toolSchemas := o.registry.Definitions(0)

	for turn := 0; turn < o.config.MaxTurns; turn++ {
		select {
		case <-ctx.Done():
			o.fail(ctx, chunks, PhasePack, turn, "run cancelled", ctx.Err())
			return
		default:
		}

		provider, err := o.router.Active()
		if err != nil {
			o.fail(ctx, chunks, PhasePack, turn, "no active provider", err)
			return
		}
		ctx := observability.AddProvider(ctx, provider.Name())

		messages, report, err := o.session.ContextWindow(
			ctx,
			toolSchemas,
			o.config.SystemPrompt,
			provider.MaxContextTokens(),
			provider.MaxOutputTokens(),
			o.config.ReserveTokens,
		)
		if err != nil {
			o.fail(ctx, chunks, PhasePack, turn, "pack context window", err)
			return
		}
		if report.DroppedMessages > 0 {
			o.logger.Debug(ctx, "Context window trimmed",
				"dropped", report.DroppedMessages,
				"kept", report.KeptMessages,
				"message_tokens", report.MessageTokens,
			)
		}

		if o.config.SystemPrompt != "" {
			messages = append([]models.Message{{
				Role:    models.RoleSystem,
				Content: o.config.SystemPrompt,
			}}, messages...)
		}

		assembled, err := o.chatComplete(ctx, provider.Name(), &llm.ChatRequest{
			Messages: messages,
			Tools:    toolSchemas,
		}, report)
		if err != nil {
			o.fail(ctx, chunks, PhaseStream, turn, "stream completion", err)
			return
		}

		// Assembly failures poison every tool call in the response; record
		// the protocol error and end the run with whatever text survived.
		if errsVal, ok := assembled.Metadata["assembler_errors"]; ok {
			o.logger.Warn(ctx, "Tool call assembly failed", "errors", errsVal)
			errorEvent := sessions.NewProtocolErrorEvent(turnID, "Tool call assembly failed", map[string]any{
				"errors": errsVal,
			})
			if err := o.appendEvent(ctx, errorEvent); err != nil {
				o.fail(ctx, chunks, PhaseStream, turn, "append protocol error", err)
				return
			}

			reply := assembled.Content
			model := assembled.Model
			if reply == "" {
				reply = protocolErrorApology
				model = ""
			}
			if err := o.appendEvent(ctx, sessions.NewAssistantMessageEvent(turnID, reply, model)); err != nil {
				o.fail(ctx, chunks, PhaseStream, turn, "append assistant message", err)
				return
			}
			o.emit(ctx, chunks, &models.StreamChunk{Delta: reply, Done: true})
			o.recordTurn("protocol_error")
			return
		}

		// No tool calls means the model is done.
		if len(assembled.ToolCalls) == 0 {
			if assembled.Content != "" {
				if err := o.appendEvent(ctx, sessions.NewAssistantMessageEvent(turnID, assembled.Content, assembled.Model)); err != nil {
					o.fail(ctx, chunks, PhaseStream, turn, "append assistant message", err)
					return
				}
				o.emit(ctx, chunks, &models.StreamChunk{Delta: assembled.Content, Done: true})
			}
			o.recordTurn("completed")
			return
		}

		// Record any text that preceded the tool calls.
		if assembled.Content != "" {
			if err := o.appendEvent(ctx, sessions.NewAssistantMessageEvent(turnID, assembled.Content, assembled.Model)); err != nil {
				o.fail(ctx, chunks, PhaseStream, turn, "append assistant message", err)
				return
			}
			o.emit(ctx, chunks, &models.StreamChunk{Delta: assembled.Content})
		}

		for _, call := range assembled.ToolCalls {
			result, err := o.executeToolCall(ctx, turnID, call)
			if err != nil {
				o.fail(ctx, chunks, PhaseExecute, turn, fmt.Sprintf("record %s result", call.Name), err)
				return
			}

			summary := result.Content
			if !result.Success && result.Error != "" {
				summary = fmt.Sprintf("[Error: %s] %s", result.ErrorCode, result.Error)
			}
			o.emit(ctx, chunks, &models.StreamChunk{
				Delta: fmt.Sprintf("\n[Tool: %s] %s\n", call.Name, clipRunes(summary, toolSummaryLimit)),
			})
		}
	}

	maxTurnsMsg := fmt.Sprintf("Reached maximum of %d tool call rounds. Please provide more specific guidance.", o.config.MaxTurns)
	if err := o.appendEvent(ctx, sessions.NewAssistantMessageEvent(turnID, maxTurnsMsg, "")); err != nil {
		o.fail(ctx, chunks, PhaseComplete, o.config.MaxTurns, "append terminal message", err)
		return
	}
	o.emit(ctx, chunks, &models.StreamChunk{Delta: maxTurnsMsg, Done: true})
	o.recordTurn("max_turns")
}

// chatComplete wraps the router call with its span and request metrics.
func (o *Orchestrator) chatComplete(ctx context.Context, providerName string, req *llm.ChatRequest, report models.ContextPackReport) (*models.AssembledAssistant, error) {
	promptTokens := report.MessageTokens + report.ToolSchemaTokens + report.SystemPromptTokens

	start := time.Now()
	llmCtx, span := o.tracer.TraceLLMRequest(ctx, providerName, req.Model)
	assembled, err := o.router.ChatComplete(llmCtx, req)
	elapsed := time.Since(start)

	if err != nil {
		o.tracer.RecordError(span, err)
		span.End()
		if o.metrics != nil {
			o.metrics.RecordLLMRequest(providerName, req.Model, "error", elapsed.Seconds(), 0, 0)
			o.metrics.RecordError("llm", "stream_failed")
		}
		return nil, err
	}
	o.tracer.SetAttributes(span,
		"llm.model", assembled.Model,
		"llm.tool_calls", len(assembled.ToolCalls),
		"llm.content_bytes", len(assembled.Content),
	)
	span.End()

	if o.metrics != nil {
		completionTokens := len(assembled.Content) / 4
		o.metrics.RecordLLMRequest(assembled.Provider, assembled.Model, "success", elapsed.Seconds(), promptTokens, completionTokens)
	}
	return assembled, nil
}

// appendEvent writes one event through the session with its span and store
// latency metrics. An error here is fatal to the run.
func (o *Orchestrator) appendEvent(ctx context.Context, event *sessions.SessionEvent) error {
	appendCtx, span := o.tracer.TraceEventAppend(ctx, event.EventType)
	defer span.End()

	start := time.Now()
	err := o.session.AppendEvent(appendCtx, event)
	if o.metrics != nil {
		o.metrics.ObserveStoreOperation("append", time.Since(start).Seconds())
	}
	if err != nil {
		o.tracer.RecordError(span, err)
		return err
	}
	if o.metrics != nil {
		o.metrics.RecordEventAppend(event.EventType)
	}
	return nil
}

// emit delivers one chunk unless the run context is already gone.
func (o *Orchestrator) emit(ctx context.Context, chunks chan<- *models.StreamChunk, chunk *models.StreamChunk) {
	select {
	case chunks <- chunk:
	case <-ctx.Done():
	}
}

// fail logs a fatal loop failure and delivers it as the final chunk.
func (o *Orchestrator) fail(ctx context.Context, chunks chan<- *models.StreamChunk, phase LoopPhase, turn int, message string, cause error) {
	loopErr := &LoopError{
		Phase:   phase,
		Turn:    turn,
		Message: message,
		Cause:   cause,
	}
	o.logger.Error(ctx, "Run failed", "phase", string(phase), "turn", turn, "error", cause)
	if o.metrics != nil {
		o.metrics.RecordError("orchestrator", string(phase))
	}
	o.recordTurn("error")

	// Deliver even when ctx is cancelled; the buffered channel keeps this
	// from blocking a departed consumer.
	select {
	case chunks <- &models.StreamChunk{Err: loopErr}:
	default:
	}
}

func (o *Orchestrator) recordTurn(outcome string) {
	if o.metrics != nil {
		o.metrics.RecordTurn(outcome)
	}
}

// clipRunes bounds s to max runes without splitting a character.
func clipRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
