package backends

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/opsbench/internal/artifacts"
	"github.com/haasonsaas/opsbench/internal/tools"
	"github.com/haasonsaas/opsbench/pkg/models"
)

// Bridge tools expose the execution backend and the artifact store to the
// model through the tool registry. The target is always an explicit argument,
// never ambient state.

// RegisterBridgeTools adds the backend and artifact tools to a registry.
func RegisterBridgeTools(r *tools.Registry, backend ExecutionBackend, store artifacts.Store) error {
	for _, tool := range []tools.Tool{
		NewResolveTargetTool(backend),
		NewListDiagnosticsTool(backend),
		NewRunDiagnosticTool(backend),
		NewRunShellTool(backend),
		NewSummarizeArtifactTool(store),
	} {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// backendFailure converts a structured BackendError into a failed result the
// model can read. Anything else propagates as a tool exception.
func backendFailure(err error) (*models.ToolResult, error) {
	var berr *BackendError
	if errors.As(err, &berr) {
		return &models.ToolResult{
			Success:   false,
			Content:   berr.Message,
			Error:     berr.Message,
			ErrorCode: models.ErrBackend,
			Metadata:  map[string]any{"backend_code": berr.Code},
		}, nil
	}
	return nil, err
}

func indentJSON(v any) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(out)
}

// ResolveTargetTool resolves a target identifier to structured information.
type ResolveTargetTool struct {
	tools.ToolBase
	backend ExecutionBackend
}

func NewResolveTargetTool(backend ExecutionBackend) *ResolveTargetTool {
	return &ResolveTargetTool{backend: backend}
}

func (t *ResolveTargetTool) Name() string { return "resolve_target" }

func (t *ResolveTargetTool) Description() string {
	return "Resolve a target identifier (hostname, service name, etc.) to structured information about it."
}

func (t *ResolveTargetTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"target": map[string]any{
				"type":        "string",
				"description": "The target identifier to resolve.",
			},
		},
		"required": []any{"target"},
	}
}

func (t *ResolveTargetTool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	target, _ := args["target"].(string)
	info, err := t.backend.ResolveTarget(ctx, target)
	if err != nil {
		return backendFailure(err)
	}
	return &models.ToolResult{Success: true, Content: indentJSON(info), Data: info}, nil
}

// ListDiagnosticsTool lists the diagnostic actions available for a target.
type ListDiagnosticsTool struct {
	tools.ToolBase
	backend ExecutionBackend
}

func NewListDiagnosticsTool(backend ExecutionBackend) *ListDiagnosticsTool {
	return &ListDiagnosticsTool{backend: backend}
}

func (t *ListDiagnosticsTool) Name() string { return "list_diagnostics" }

func (t *ListDiagnosticsTool) Description() string {
	return "List all available diagnostic actions for a given target."
}

func (t *ListDiagnosticsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"target": map[string]any{
				"type":        "string",
				"description": "The target to list diagnostics for.",
			},
		},
		"required": []any{"target"},
	}
}

func (t *ListDiagnosticsTool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	target, _ := args["target"].(string)
	diags, err := t.backend.ListDiagnostics(ctx, target)
	if err != nil {
		return backendFailure(err)
	}

	if len(diags) == 0 {
		return &models.ToolResult{Success: true, Content: "No diagnostics available.", Data: diags}, nil
	}
	lines := make([]string, 0, len(diags))
	for _, d := range diags {
		lines = append(lines, fmt.Sprintf("- %s: %s", d.Name, d.Description))
	}
	return &models.ToolResult{Success: true, Content: strings.Join(lines, "\n"), Data: diags}, nil
}

// RunDiagnosticTool runs one diagnostic action against a target. It carries
// write-level risk because diagnostics may perturb the target.
type RunDiagnosticTool struct {
	tools.ToolBase
	backend ExecutionBackend
}

func NewRunDiagnosticTool(backend ExecutionBackend) *RunDiagnosticTool {
	return &RunDiagnosticTool{backend: backend}
}

func (t *RunDiagnosticTool) Name() string { return "run_diagnostic" }

func (t *RunDiagnosticTool) Description() string {
	return "Run a specific diagnostic action against a target. Target is always required."
}

func (t *RunDiagnosticTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"description": "The diagnostic action to run (e.g. ping, traceroute).",
			},
			"target": map[string]any{
				"type":        "string",
				"description": "The target to run the diagnostic against.",
			},
		},
		"required":             []any{"action", "target"},
		"additionalProperties": true,
	}
}

func (t *RunDiagnosticTool) RiskLevel() models.RiskLevel { return models.RiskWrite }

func (t *RunDiagnosticTool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	action, _ := args["action"].(string)
	target, _ := args["target"].(string)

	extra := make(map[string]any, len(args))
	for k, v := range args {
		if k == "action" || k == "target" {
			continue
		}
		extra[k] = v
	}

	result, err := t.backend.RunDiagnostic(ctx, action, target, extra)
	if err != nil {
		return backendFailure(err)
	}
	return &models.ToolResult{Success: true, Content: indentJSON(result), Data: result}, nil
}

// RunShellTool executes a raw shell command against a target. It carries
// shell risk, so default policy blocks it until max_risk is raised.
type RunShellTool struct {
	tools.ToolBase
	backend ExecutionBackend
}

func NewRunShellTool(backend ExecutionBackend) *RunShellTool {
	return &RunShellTool{backend: backend}
}

func (t *RunShellTool) Name() string { return "run_shell" }

func (t *RunShellTool) Description() string {
	return "Execute a shell command on a target host and return its output. Target is always required."
}

func (t *RunShellTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute.",
			},
			"target": map[string]any{
				"type":        "string",
				"description": "The target to execute the command on.",
			},
			"timeout": map[string]any{
				"type":        "number",
				"description": "Timeout in seconds. Defaults to 30.",
			},
			"cwd": map[string]any{
				"type":        "string",
				"description": "Working directory for the command.",
			},
		},
		"required": []any{"command", "target"},
	}
}

func (t *RunShellTool) RiskLevel() models.RiskLevel { return models.RiskShell }

func (t *RunShellTool) PrivacyScope() models.PrivacyLevel { return models.PrivacySensitive }

func (t *RunShellTool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	command, _ := args["command"].(string)
	target, _ := args["target"].(string)

	result, err := t.backend.RunShell(ctx, command, target, shellOptionsFromArgs(args))
	if err != nil {
		return backendFailure(err)
	}

	exitCode, _ := result["exit_code"].(int)
	stdout, _ := result["stdout"].(string)
	stderr, _ := result["stderr"].(string)
	timedOut, _ := result["timed_out"].(bool)

	var b strings.Builder
	if stdout != "" {
		b.WriteString(stdout)
		if !strings.HasSuffix(stdout, "\n") {
			b.WriteString("\n")
		}
	}
	if stderr != "" {
		b.WriteString("[stderr]\n")
		b.WriteString(stderr)
		if !strings.HasSuffix(stderr, "\n") {
			b.WriteString("\n")
		}
	}
	fmt.Fprintf(&b, "exit code: %d", exitCode)

	if timedOut {
		return &models.ToolResult{
			Success:   false,
			Content:   b.String(),
			Error:     stderr,
			ErrorCode: models.ErrTimeout,
			Data:      result,
		}, nil
	}
	return &models.ToolResult{Success: true, Content: b.String(), Data: result}, nil
}

// SummarizeArtifactTool retrieves a stored artifact by hash and returns a
// text preview of its contents.
type SummarizeArtifactTool struct {
	tools.ToolBase
	store artifacts.Store
}

func NewSummarizeArtifactTool(store artifacts.Store) *SummarizeArtifactTool {
	return &SummarizeArtifactTool{store: store}
}

func (t *SummarizeArtifactTool) Name() string { return "summarize_artifact" }

func (t *SummarizeArtifactTool) Description() string {
	return "Retrieve a stored artifact by its SHA-256 hash and return a text summary of its contents."
}

func (t *SummarizeArtifactTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"sha256": map[string]any{
				"type":        "string",
				"description": "SHA-256 hash of the artifact to summarize.",
			},
		},
		"required": []any{"sha256"},
	}
}

func (t *SummarizeArtifactTool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	sha, _ := args["sha256"].(string)

	exists, err := t.store.Exists(ctx, sha)
	if err != nil || !exists {
		msg := fmt.Sprintf("Artifact not found: %s", sha)
		return &models.ToolResult{
			Success:   false,
			Content:   msg,
			Error:     msg,
			ErrorCode: models.ErrBackend,
		}, nil
	}

	data, err := t.store.GetByHash(ctx, sha)
	if err != nil {
		msg := fmt.Sprintf("Error reading artifact: %v", err)
		return &models.ToolResult{
			Success:   false,
			Content:   msg,
			Error:     err.Error(),
			ErrorCode: models.ErrBackend,
		}, nil
	}

	text := clipRunes(strings.ToValidUTF8(string(data), "�"), 4000)
	prefix := sha
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	return &models.ToolResult{
		Success: true,
		Content: fmt.Sprintf("Artifact %s... (%d bytes):\n%s", prefix, len(data), text),
		Data: map[string]any{
			"sha256":     sha,
			"size_bytes": len(data),
			"preview":    clipRunes(text, 500),
		},
	}, nil
}
