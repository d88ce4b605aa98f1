package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/haasonsaas/opsbench/internal/artifacts"
	"github.com/haasonsaas/opsbench/internal/tools"
	"github.com/haasonsaas/opsbench/pkg/models"
)

// scriptedBackend returns canned responses and records what it was asked.
type scriptedBackend struct {
	UnsupportedShell
	resolveInfo map[string]any
	resolveErr  error
	diags       []DiagnosticInfo
	runResult   map[string]any
	runErr      error

	gotAction string
	gotTarget string
	gotArgs   map[string]any
}

func (s *scriptedBackend) ResolveTarget(ctx context.Context, target string) (map[string]any, error) {
	s.gotTarget = target
	return s.resolveInfo, s.resolveErr
}

func (s *scriptedBackend) ListDiagnostics(ctx context.Context, target string) ([]DiagnosticInfo, error) {
	s.gotTarget = target
	return s.diags, nil
}

func (s *scriptedBackend) RunDiagnostic(ctx context.Context, action, target string, args map[string]any) (map[string]any, error) {
	s.gotAction, s.gotTarget, s.gotArgs = action, target, args
	return s.runResult, s.runErr
}

func TestResolveTargetTool(t *testing.T) {
	backend := &scriptedBackend{resolveInfo: map[string]any{"type": "host", "hostname": "web-1.internal"}}
	tool := NewResolveTargetTool(backend)

	if tool.Name() != "resolve_target" {
		t.Errorf("Name() = %q", tool.Name())
	}
	if tool.RiskLevel() != models.RiskReadOnly {
		t.Errorf("RiskLevel() = %v, want read-only", tool.RiskLevel())
	}

	result, err := tool.Execute(context.Background(), map[string]any{"target": "web-1"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("Success = false: %s", result.Error)
	}
	if backend.gotTarget != "web-1" {
		t.Errorf("backend saw target %q, want web-1", backend.gotTarget)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(result.Content), &decoded); err != nil {
		t.Fatalf("Content is not JSON: %v", err)
	}
	if decoded["hostname"] != "web-1.internal" {
		t.Errorf("Content hostname = %v", decoded["hostname"])
	}
}

func TestResolveTargetTool_BackendError(t *testing.T) {
	backend := &scriptedBackend{
		resolveErr: &BackendError{Message: "Unknown target: web-9", Code: "target_not_found"},
	}
	tool := NewResolveTargetTool(backend)

	result, err := tool.Execute(context.Background(), map[string]any{"target": "web-9"})
	if err != nil {
		t.Fatalf("Execute() error = %v, want structured failure", err)
	}
	if result.Success {
		t.Fatal("Success = true, want false")
	}
	if result.ErrorCode != models.ErrBackend {
		t.Errorf("ErrorCode = %q, want %q", result.ErrorCode, models.ErrBackend)
	}
	if result.Content != "Unknown target: web-9" {
		t.Errorf("Content = %q, want the backend message", result.Content)
	}
	if result.Metadata["backend_code"] != "target_not_found" {
		t.Errorf("backend_code = %v, want target_not_found", result.Metadata["backend_code"])
	}
}

func TestListDiagnosticsTool(t *testing.T) {
	backend := &scriptedBackend{diags: []DiagnosticInfo{
		{Name: "ping", Description: "Send a reachability probe"},
		{Name: "df", Description: "Show disk usage"},
	}}
	tool := NewListDiagnosticsTool(backend)

	result, err := tool.Execute(context.Background(), map[string]any{"target": "demo-host-1"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	want := "- ping: Send a reachability probe\n- df: Show disk usage"
	if result.Content != want {
		t.Errorf("Content = %q, want %q", result.Content, want)
	}
}

func TestListDiagnosticsTool_Empty(t *testing.T) {
	tool := NewListDiagnosticsTool(&scriptedBackend{})
	result, err := tool.Execute(context.Background(), map[string]any{"target": "demo-host-1"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Content != "No diagnostics available." {
		t.Errorf("Content = %q", result.Content)
	}
}

func TestRunDiagnosticTool(t *testing.T) {
	backend := &scriptedBackend{runResult: map[string]any{"packets_sent": 4}}
	tool := NewRunDiagnosticTool(backend)

	if tool.RiskLevel() != models.RiskWrite {
		t.Errorf("RiskLevel() = %v, want write", tool.RiskLevel())
	}
	if tool.Parameters()["additionalProperties"] != true {
		t.Error("parameters should opt in to additional properties")
	}

	result, err := tool.Execute(context.Background(), map[string]any{
		"action": "ping",
		"target": "demo-host-1",
		"count":  2.0,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("Success = false: %s", result.Error)
	}
	if backend.gotAction != "ping" || backend.gotTarget != "demo-host-1" {
		t.Errorf("backend saw %q/%q", backend.gotAction, backend.gotTarget)
	}
	if backend.gotArgs["count"] != 2.0 {
		t.Errorf("extra args = %v, want count forwarded", backend.gotArgs)
	}
	if _, ok := backend.gotArgs["action"]; ok {
		t.Error("action leaked into extra args")
	}
	if _, ok := backend.gotArgs["target"]; ok {
		t.Error("target leaked into extra args")
	}
}

// shellBackend adds scripted shell execution on top of scriptedBackend.
type shellBackend struct {
	scriptedBackend
	shellResult map[string]any
	shellErr    error

	gotCommand string
	gotOpts    ShellOptions
}

func (s *shellBackend) RunShell(ctx context.Context, command, target string, opts ShellOptions) (map[string]any, error) {
	s.gotCommand, s.gotTarget, s.gotOpts = command, target, opts
	return s.shellResult, s.shellErr
}

func TestRunShellTool(t *testing.T) {
	backend := &shellBackend{shellResult: map[string]any{
		"exit_code":   0,
		"stdout":      "total 42\n",
		"stderr":      "",
		"duration_ms": int64(12),
	}}
	tool := NewRunShellTool(backend)

	if tool.Name() != "run_shell" {
		t.Errorf("Name() = %q", tool.Name())
	}
	if tool.RiskLevel() != models.RiskShell {
		t.Errorf("RiskLevel() = %v, want shell", tool.RiskLevel())
	}
	if tool.PrivacyScope() != models.PrivacySensitive {
		t.Errorf("PrivacyScope() = %v, want sensitive", tool.PrivacyScope())
	}

	result, err := tool.Execute(context.Background(), map[string]any{
		"command": "ls -la /var/log",
		"target":  "localhost",
		"timeout": 5.0,
		"cwd":     "/tmp",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("Success = false: %s", result.Error)
	}
	if result.Content != "total 42\nexit code: 0" {
		t.Errorf("Content = %q", result.Content)
	}
	if backend.gotCommand != "ls -la /var/log" || backend.gotTarget != "localhost" {
		t.Errorf("backend saw %q/%q", backend.gotCommand, backend.gotTarget)
	}
	if backend.gotOpts.Timeout.Seconds() != 5 || backend.gotOpts.Dir != "/tmp" {
		t.Errorf("opts = %+v, want timeout and cwd forwarded", backend.gotOpts)
	}
}

func TestRunShellTool_NonZeroExit(t *testing.T) {
	backend := &shellBackend{shellResult: map[string]any{
		"exit_code": 2,
		"stdout":    "",
		"stderr":    "ls: cannot access 'nope': No such file or directory\n",
	}}
	tool := NewRunShellTool(backend)

	result, err := tool.Execute(context.Background(), map[string]any{
		"command": "ls nope", "target": "localhost",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Success {
		t.Fatal("a non-zero exit is an observation, not a tool failure")
	}
	if !strings.Contains(result.Content, "[stderr]") {
		t.Errorf("Content = %q, want stderr section", result.Content)
	}
	if !strings.HasSuffix(result.Content, "exit code: 2") {
		t.Errorf("Content = %q, want exit code trailer", result.Content)
	}
}

func TestRunShellTool_TimedOut(t *testing.T) {
	backend := &shellBackend{shellResult: map[string]any{
		"exit_code": -1,
		"stdout":    "",
		"stderr":    "Command timed out after 5s",
		"timed_out": true,
	}}
	tool := NewRunShellTool(backend)

	result, err := tool.Execute(context.Background(), map[string]any{
		"command": "sleep 60", "target": "localhost",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Success {
		t.Fatal("Success = true, want false for a timed-out command")
	}
	if result.ErrorCode != models.ErrTimeout {
		t.Errorf("ErrorCode = %q, want %q", result.ErrorCode, models.ErrTimeout)
	}
	if result.Error != "Command timed out after 5s" {
		t.Errorf("Error = %q", result.Error)
	}
}

func TestRunShellTool_Unsupported(t *testing.T) {
	tool := NewRunShellTool(&scriptedBackend{})

	result, err := tool.Execute(context.Background(), map[string]any{
		"command": "uptime", "target": "demo-host-1",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Success {
		t.Fatal("Success = true, want false")
	}
	if result.ErrorCode != models.ErrBackend {
		t.Errorf("ErrorCode = %q, want %q", result.ErrorCode, models.ErrBackend)
	}
	if result.Metadata["backend_code"] != "not_supported" {
		t.Errorf("backend_code = %v, want not_supported", result.Metadata["backend_code"])
	}
}

func TestSummarizeArtifactTool(t *testing.T) {
	store, err := artifacts.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()

	ref, err := store.Store(ctx, models.ArtifactPayload{Content: []byte("line1\nline2")})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	tool := NewSummarizeArtifactTool(store)
	result, err := tool.Execute(ctx, map[string]any{"sha256": ref.SHA256})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("Success = false: %s", result.Error)
	}

	wantPrefix := fmt.Sprintf("Artifact %s... (11 bytes):\n", ref.SHA256[:12])
	if !strings.HasPrefix(result.Content, wantPrefix) {
		t.Errorf("Content = %q, want prefix %q", result.Content, wantPrefix)
	}
	if !strings.HasSuffix(result.Content, "line1\nline2") {
		t.Errorf("Content = %q, want artifact text", result.Content)
	}

	data, ok := result.Data.(map[string]any)
	if !ok {
		t.Fatalf("Data = %T, want map", result.Data)
	}
	if data["size_bytes"] != 11 {
		t.Errorf("size_bytes = %v, want 11", data["size_bytes"])
	}
	if data["preview"] != "line1\nline2" {
		t.Errorf("preview = %v", data["preview"])
	}
}

func TestSummarizeArtifactTool_NotFound(t *testing.T) {
	store, err := artifacts.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	tool := NewSummarizeArtifactTool(store)
	missing := strings.Repeat("0", 64)
	result, err := tool.Execute(context.Background(), map[string]any{"sha256": missing})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Success {
		t.Fatal("Success = true, want false")
	}
	if result.ErrorCode != models.ErrBackend {
		t.Errorf("ErrorCode = %q, want %q", result.ErrorCode, models.ErrBackend)
	}
	if want := "Artifact not found: " + missing; result.Content != want {
		t.Errorf("Content = %q, want %q", result.Content, want)
	}
}

func TestRegisterBridgeTools(t *testing.T) {
	store, err := artifacts.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	registry := tools.NewRegistry()

	if err := RegisterBridgeTools(registry, NewDemoBackend(), store); err != nil {
		t.Fatalf("RegisterBridgeTools() error = %v", err)
	}

	for _, name := range []string{"resolve_target", "list_diagnostics", "run_diagnostic", "run_shell", "summarize_artifact"} {
		if _, ok := registry.Get(name); !ok {
			t.Errorf("tool %q not registered", name)
		}
	}
}
