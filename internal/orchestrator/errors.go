package orchestrator

import (
	"errors"
	"fmt"
)

// ErrNoSession indicates Run was called before the session was started or
// resumed.
var ErrNoSession = errors.New("no active session")

// LoopPhase represents a distinct phase in the orchestrator loop lifecycle.
type LoopPhase string

const (
	// PhaseInit covers turn setup: recording the user message and
	// collecting tool schemas.
	PhaseInit LoopPhase = "init"

	// PhasePack covers deriving and packing the context window.
	PhasePack LoopPhase = "pack"

	// PhaseStream covers the LLM streaming request and assembly.
	PhaseStream LoopPhase = "stream"

	// PhaseExecute covers the per-call tool lifecycle.
	PhaseExecute LoopPhase = "execute"

	// PhaseComplete covers terminal bookkeeping after the loop ends.
	PhaseComplete LoopPhase = "complete"
)

// LoopError is a failure inside the orchestrator loop with context about
// which phase and turn it occurred in. It is delivered on the stream as the
// final chunk's Err; the run is over once one appears.
type LoopError struct {
	// Phase is the loop phase where the error occurred
	Phase LoopPhase

	// Turn is the tool-call round where the error occurred
	Turn int

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *LoopError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("orchestrator error at %s (turn %d): %s", e.Phase, e.Turn, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("orchestrator error at %s (turn %d): %v", e.Phase, e.Turn, e.Cause)
	}
	return fmt.Sprintf("orchestrator error at %s (turn %d)", e.Phase, e.Turn)
}

// Unwrap returns the underlying error.
func (e *LoopError) Unwrap() error {
	return e.Cause
}
