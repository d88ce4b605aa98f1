package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsIsolatedRegistries(t *testing.T) {
	// Two instances must not collide: each owns a private registry.
	m1 := NewMetrics()
	m2 := NewMetrics()

	if m1.Registry() == m2.Registry() {
		t.Fatal("expected distinct registries per Metrics instance")
	}

	m1.RecordTurn("completed")
	if got := testutil.ToFloat64(m2.TurnCounter.WithLabelValues("completed")); got != 0 {
		t.Errorf("m2 counter affected by m1: got %v", got)
	}
}

func TestRecordTurn(t *testing.T) {
	m := NewMetrics()

	m.RecordTurn("completed")
	m.RecordTurn("completed")
	m.RecordTurn("max_turns")

	if got := testutil.ToFloat64(m.TurnCounter.WithLabelValues("completed")); got != 2 {
		t.Errorf("completed turns = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TurnCounter.WithLabelValues("max_turns")); got != 1 {
		t.Errorf("max_turns turns = %v, want 1", got)
	}
}

func TestRecordLLMRequest(t *testing.T) {
	m := NewMetrics()

	m.RecordLLMRequest("openai", "gpt-4o", "success", 1.25, 1200, 300)
	m.RecordLLMRequest("openai", "gpt-4o", "error", 0.1, 0, 0)

	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("openai", "gpt-4o", "success")); got != 1 {
		t.Errorf("success requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("openai", "gpt-4o", "error")); got != 1 {
		t.Errorf("error requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("openai", "gpt-4o", "prompt")); got != 1200 {
		t.Errorf("prompt tokens = %v, want 1200", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("openai", "gpt-4o", "completion")); got != 300 {
		t.Errorf("completion tokens = %v, want 300", got)
	}

	// Zero token counts must not create series.
	if count := testutil.CollectAndCount(m.LLMTokensUsed); count != 2 {
		t.Errorf("token series = %d, want 2", count)
	}
}

func TestRecordToolExecution(t *testing.T) {
	m := NewMetrics()

	m.RecordToolExecution("run_diagnostic", "success", 0.5)
	m.RecordToolExecution("run_diagnostic", "success", 0.7)
	m.RecordToolExecution("run_diagnostic", "timeout", 30.0)
	m.RecordToolExecution("echo", "validation_error", 0.001)

	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("run_diagnostic", "success")); got != 2 {
		t.Errorf("run_diagnostic successes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("run_diagnostic", "timeout")); got != 1 {
		t.Errorf("run_diagnostic timeouts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("echo", "validation_error")); got != 1 {
		t.Errorf("echo validation errors = %v, want 1", got)
	}
}

func TestRecordPolicyDecision(t *testing.T) {
	m := NewMetrics()

	m.RecordPolicyDecision("write_file", "confirmation_required")
	m.RecordPolicyDecision("write_file", "allowed")
	m.RecordPolicyDecision("run_shell", "blocked")

	if got := testutil.ToFloat64(m.PolicyDecisionCounter.WithLabelValues("write_file", "confirmation_required")); got != 1 {
		t.Errorf("confirmation_required = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PolicyDecisionCounter.WithLabelValues("run_shell", "blocked")); got != 1 {
		t.Errorf("blocked = %v, want 1", got)
	}
}

func TestRecordEventAppend(t *testing.T) {
	m := NewMetrics()

	m.RecordEventAppend("user_message")
	m.RecordEventAppend("tool_call_request")
	m.RecordEventAppend("tool_call_request")

	if got := testutil.ToFloat64(m.EventAppendCounter.WithLabelValues("tool_call_request")); got != 2 {
		t.Errorf("tool_call_request appends = %v, want 2", got)
	}
}

func TestRecordArtifactOperation(t *testing.T) {
	m := NewMetrics()

	m.RecordArtifactOperation("store", "success")
	m.RecordArtifactOperation("store", "error")

	if got := testutil.ToFloat64(m.ArtifactOperationCounter.WithLabelValues("store", "success")); got != 1 {
		t.Errorf("store successes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ArtifactOperationCounter.WithLabelValues("store", "error")); got != 1 {
		t.Errorf("store errors = %v, want 1", got)
	}
}

func TestRecordError(t *testing.T) {
	m := NewMetrics()

	m.RecordError("llm", "stream_failed")
	m.RecordError("llm", "stream_failed")

	if got := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("llm", "stream_failed")); got != 2 {
		t.Errorf("llm stream_failed = %v, want 2", got)
	}
}

func TestObserveStoreOperation(t *testing.T) {
	m := NewMetrics()

	m.ObserveStoreOperation("append", 0.002)
	m.ObserveStoreOperation("append", 0.004)
	m.ObserveStoreOperation("read", 0.010)

	if count := testutil.CollectAndCount(m.StoreOperationDuration); count != 2 {
		t.Errorf("store operation series = %d, want 2", count)
	}
}

func TestMetricsGatherable(t *testing.T) {
	m := NewMetrics()
	m.RecordTurn("completed")
	m.RecordToolExecution("echo", "success", 0.01)

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"opsbench_turns_total", "opsbench_tool_executions_total", "opsbench_tool_execution_duration_seconds"} {
		if !names[want] {
			t.Errorf("metric %s missing from gather output", want)
		}
	}
}
