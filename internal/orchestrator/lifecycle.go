package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/haasonsaas/opsbench/internal/policy"
	"github.com/haasonsaas/opsbench/internal/sessions"
	"github.com/haasonsaas/opsbench/internal/tools"
	"github.com/haasonsaas/opsbench/pkg/models"
)

// executeToolCall runs one assembled tool call through the full lifecycle:
//
//  1. Record request event
//  2. Registry lookup
//  3. Validate args
//  4. Policy check
//  5. Confirmation (if needed)
//  6. Execute with timeout
//  7. Store artifacts
//  8. Audit log
//  9. Record result event
//
// Every failure mode inside the lifecycle becomes a well-typed ToolResult
// the model can read on the next turn. The returned error is non-nil only
// when the event store rejects an append, which aborts the whole run.
func (o *Orchestrator) executeToolCall(ctx context.Context, turnID string, call models.ToolCall) (*models.ToolResult, error) {
	ctx, span := o.tracer.TraceToolExecution(ctx, call.Name)
	defer span.End()

	// 1. Record the request. From here on the call must end with a matching
	// result event, whatever happens in between, so the remaining event
	// writes are detached from cancellation: a cancelled run still leaves a
	// paired log behind.
	requestEvent := sessions.NewToolCallRequestEvent(turnID, call)
	if err := o.appendEvent(ctx, requestEvent); err != nil {
		return nil, err
	}
	bookCtx := context.WithoutCancel(ctx)

	// 2. Registry lookup
	tool, ok := o.registry.Get(call.Name)
	if !ok {
		o.logger.Warn(ctx, "Unknown tool requested", "tool", call.Name)
		msg := fmt.Sprintf("Unknown tool: %s", call.Name)
		return o.finishToolCall(bookCtx, turnID, call, &models.ToolResult{
			Success:   false,
			Content:   msg,
			Error:     msg,
			ErrorCode: models.ErrUnknownTool,
		}, 0)
	}

	// 3. Validate args
	if valid, errMsg := o.validator.Validate(tool, call.Arguments); !valid {
		o.logger.Info(ctx, "Tool arguments rejected", "tool", call.Name, "error", errMsg)
		return o.finishToolCall(bookCtx, turnID, call, &models.ToolResult{
			Success:   false,
			Content:   fmt.Sprintf("Validation error: %s", errMsg),
			Error:     errMsg,
			ErrorCode: models.ErrValidation,
		}, 0)
	}

	// 4. Policy check
	decision := o.policy.Check(tool, call.Arguments)
	if o.metrics != nil {
		o.metrics.RecordPolicyDecision(call.Name, policyVerdict(decision))
	}
	if !decision.Allowed {
		o.logger.Warn(ctx, "Policy blocked tool call", "tool", call.Name, "reason", decision.Reason)
		return o.finishToolCall(bookCtx, turnID, call, &models.ToolResult{
			Success:   false,
			Content:   fmt.Sprintf("Policy blocked: %s", decision.Reason),
			Error:     decision.Reason,
			ErrorCode: models.ErrPolicyBlock,
		}, 0)
	}

	// 5. Confirmation
	if decision.RequiresConfirmation {
		confirmed := false
		if o.confirm != nil {
			var err error
			confirmed, err = o.confirm(ctx, call.Name, call)
			if err != nil {
				o.logger.Warn(ctx, "Confirmation callback failed, treating as declined",
					"tool", call.Name, "error", err)
				confirmed = false
			}
		}
		if err := o.appendEvent(bookCtx, sessions.NewConfirmationEvent(turnID, call.ID, call.Name, confirmed)); err != nil {
			return nil, err
		}
		if !confirmed {
			o.logger.Info(ctx, "Tool call declined", "tool", call.Name)
			return o.finishToolCall(bookCtx, turnID, call, &models.ToolResult{
				Success:   false,
				Content:   "Tool call cancelled by user",
				Error:     "User declined confirmation",
				ErrorCode: models.ErrCancelled,
			}, 0)
		}
	}

	// 6. Execute with timeout
	start := time.Now()
	result := o.executeWithTimeout(ctx, tool, call)
	duration := time.Since(start)

	// 7. Store artifact payloads from a successful execution
	if result.Success && len(result.ArtifactPayloads) > 0 {
		o.storeArtifacts(ctx, result)
	}

	// 8. Audit with the measured duration; timeouts and exceptions are
	// audited like any executed call.
	o.audit(ctx, requestEvent.EventID, call, tool, result, duration)

	// 9. Record result event
	return o.finishToolCall(bookCtx, turnID, call, result, duration)
}

// finishToolCall appends the result event and records execution metrics. It
// is the single exit point for the lifecycle after the request was recorded.
func (o *Orchestrator) finishToolCall(ctx context.Context, turnID string, call models.ToolCall, result *models.ToolResult, duration time.Duration) (*models.ToolResult, error) {
	if err := o.appendEvent(ctx, sessions.NewToolCallResultEvent(turnID, call.ID, call.Name, result)); err != nil {
		return nil, err
	}

	outcome := "success"
	if !result.Success {
		outcome = string(result.ErrorCode)
		if outcome == "" {
			outcome = "error"
		}
	}
	if o.metrics != nil {
		o.metrics.RecordToolExecution(call.Name, outcome, duration.Seconds())
	}
	o.logger.Info(ctx, "Tool call finished",
		"tool", call.Name,
		"tool_call_id", call.ID,
		"outcome", outcome,
		"duration_ms", duration.Milliseconds(),
	)
	return result, nil
}

// executeWithTimeout runs the tool under the configured deadline and turns
// timeouts, cancellation, panics and returned errors into ToolResults. The
// request always gets a result, so a stuck tool can't leave the event log
// with an unmatched request.
func (o *Orchestrator) executeWithTimeout(ctx context.Context, tool tools.Tool, call models.ToolCall) *models.ToolResult {
	execCtx, cancel := context.WithTimeout(ctx, o.config.ToolTimeout)
	defer cancel()

	type execResult struct {
		result *models.ToolResult
		err    error
	}
	resultCh := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				resultCh <- execResult{err: fmt.Errorf("panic: %v\n%s", r, stack)}
			}
		}()

		result, err := tool.Execute(execCtx, call.Arguments)
		resultCh <- execResult{result: result, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return &models.ToolResult{
				Success:   false,
				Content:   fmt.Sprintf("Tool exception: %v", res.err),
				Error:     res.err.Error(),
				ErrorCode: models.ErrToolException,
			}
		}
		if res.result == nil {
			// A nil result with a nil error is a tool bug.
			return &models.ToolResult{
				Success:   false,
				Content:   "Tool exception: tool returned no result",
				Error:     "tool returned no result",
				ErrorCode: models.ErrToolException,
			}
		}
		return res.result
	case <-execCtx.Done():
		if ctx.Err() != nil {
			// Parent cancelled mid-execution; the tool goroutine sees
			// execCtx close and unwinds on its own.
			return &models.ToolResult{
				Success:   false,
				Content:   "Tool call cancelled",
				Error:     "Run cancelled during execution",
				ErrorCode: models.ErrCancelled,
			}
		}
		seconds := o.config.ToolTimeout.Seconds()
		return &models.ToolResult{
			Success:   false,
			Content:   fmt.Sprintf("Tool timed out after %gs", seconds),
			Error:     fmt.Sprintf("Timeout after %gs", seconds),
			ErrorCode: models.ErrTimeout,
		}
	}
}

// storeArtifacts persists each payload and replaces it with a reference on
// the result. Store failures drop the payload with a log line; they never
// fail the call.
func (o *Orchestrator) storeArtifacts(ctx context.Context, result *models.ToolResult) {
	store := o.session.Artifacts()
	if store == nil {
		o.logger.Warn(ctx, "No artifact store configured, dropping payloads",
			"payloads", len(result.ArtifactPayloads))
		result.ArtifactPayloads = nil
		return
	}

	for _, payload := range result.ArtifactPayloads {
		ref, err := store.Store(ctx, payload)
		if err != nil {
			o.logger.Error(ctx, "Artifact store failed",
				"name", payload.OriginalName, "error", err)
			if o.metrics != nil {
				o.metrics.RecordArtifactOperation("store", "error")
			}
			continue
		}
		result.Artifacts = append(result.Artifacts, ref)
		if o.metrics != nil {
			o.metrics.RecordArtifactOperation("store", "success")
		}
	}
	result.ArtifactPayloads = nil
}

// audit records the executed call. Audit failures are logged, never
// propagated.
func (o *Orchestrator) audit(ctx context.Context, eventID string, call models.ToolCall, tool tools.Tool, result *models.ToolResult, duration time.Duration) {
	err := o.policy.AuditLog(policy.AuditEntry{
		SessionID:  o.session.ID(),
		EventID:    eventID,
		ToolCallID: call.ID,
		Tool:       tool,
		Args:       call.Arguments,
		Result:     result,
		Duration:   duration,
	})
	if err != nil {
		o.logger.Error(ctx, "Audit log failed", "tool", call.Name, "error", err)
		if o.metrics != nil {
			o.metrics.RecordError("policy", "audit_failed")
		}
	}
}

func policyVerdict(decision models.PolicyDecision) string {
	switch {
	case !decision.Allowed:
		return "blocked"
	case decision.RequiresConfirmation:
		return "confirmation_required"
	default:
		return "allowed"
	}
}
