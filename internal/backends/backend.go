// Package backends provides the execution layer that bridge tools run
// against: target resolution, diagnostics, and optional structured shell
// execution. Concrete adapters implement ExecutionBackend; the Router
// multiplexes a set of them by target name.
package backends

import (
	"context"
	"time"
)

// BackendError is a structured failure from a backend operation. Code is a
// stable machine-readable tag alongside the human-readable message.
type BackendError struct {
	Message string
	Code    string
}

func (e *BackendError) Error() string { return e.Message }

// DiagnosticInfo describes one diagnostic action available for a target.
type DiagnosticInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	TargetType  string         `json:"target_type"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ShellOptions tunes RunShell. Zero values select the defaults.
type ShellOptions struct {
	// Timeout bounds the command. Zero means 30 seconds.
	Timeout time.Duration
	// Dir is the working directory. Empty means the process default.
	Dir string
}

// ExecutionBackend is the interface bridge tools call.
type ExecutionBackend interface {
	// ResolveTarget resolves a target identifier to structured info.
	ResolveTarget(ctx context.Context, target string) (map[string]any, error)

	// ListDiagnostics lists the diagnostic actions available for a target.
	ListDiagnostics(ctx context.Context, target string) ([]DiagnosticInfo, error)

	// RunDiagnostic runs one diagnostic action against a target. Extra
	// arguments are action-specific.
	RunDiagnostic(ctx context.Context, action, target string, args map[string]any) (map[string]any, error)

	// RunShell executes a structured shell command and returns exit_code,
	// stdout, stderr, duration_ms, and optional timed_out and truncated
	// fields. Backends without shell support return a BackendError with code
	// "not_supported"; embedding UnsupportedShell provides that.
	RunShell(ctx context.Context, command, target string, opts ShellOptions) (map[string]any, error)
}

// UnsupportedShell is the default RunShell for backends without structured
// shell execution.
type UnsupportedShell struct{}

func (UnsupportedShell) RunShell(ctx context.Context, command, target string, opts ShellOptions) (map[string]any, error) {
	return nil, &BackendError{
		Message: "Shell execution not supported by this backend",
		Code:    "not_supported",
	}
}

var localAliases = map[string]struct{}{
	"localhost": {},
	"local":     {},
	"127.0.0.1": {},
}

// IsLocalAlias reports whether target names the machine the assistant runs on.
func IsLocalAlias(target string) bool {
	_, ok := localAliases[target]
	return ok
}

// clipRunes bounds s to max runes without splitting a character.
func clipRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
