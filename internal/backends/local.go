package backends

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// maxOutputBytes caps each captured stream from a shell command.
const maxOutputBytes = 100 * 1024

const defaultShellTimeout = 30 * time.Second

// LocalBackend runs diagnostics and shell commands on the machine the
// assistant itself runs on. It only accepts the local target aliases.
type LocalBackend struct{}

// NewLocalBackend returns a backend for the local machine.
func NewLocalBackend() *LocalBackend { return &LocalBackend{} }

func (b *LocalBackend) checkTarget(target string) error {
	if !IsLocalAlias(target) {
		return &BackendError{
			Message: fmt.Sprintf("LocalBackend only supports localhost, got: %s", target),
			Code:    "invalid_target",
		}
	}
	return nil
}

func (b *LocalBackend) ResolveTarget(ctx context.Context, target string) (map[string]any, error) {
	if err := b.checkTarget(target); err != nil {
		return nil, err
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return map[string]any{
		"type":         "host",
		"hostname":     hostname,
		"platform":     runtime.GOOS,
		"architecture": runtime.GOARCH,
		"runtime":      runtime.Version(),
	}, nil
}

func (b *LocalBackend) ListDiagnostics(ctx context.Context, target string) ([]DiagnosticInfo, error) {
	if err := b.checkTarget(target); err != nil {
		return nil, err
	}
	return []DiagnosticInfo{
		{Name: "shell", Description: "Execute an arbitrary shell command", TargetType: "host"},
		{Name: "ps", Description: "List running processes", TargetType: "host"},
		{Name: "df", Description: "Show disk usage", TargetType: "host"},
		{Name: "uptime", Description: "Show system uptime and load", TargetType: "host"},
		{Name: "free", Description: "Show memory usage", TargetType: "host"},
		{Name: "uname", Description: "Show system information", TargetType: "host"},
		{Name: "who", Description: "Show logged-in users", TargetType: "host"},
	}, nil
}

var localDiagnosticCommands = map[string]string{
	"ps":     "ps aux --sort=-%mem | head -20",
	"df":     "df -h",
	"uptime": "uptime",
	"free":   "free -h",
	"uname":  "uname -a",
	"who":    "who",
}

func (b *LocalBackend) RunDiagnostic(ctx context.Context, action, target string, args map[string]any) (map[string]any, error) {
	command, ok := localDiagnosticCommands[action]
	if !ok {
		return nil, &BackendError{
			Message: fmt.Sprintf("Unknown diagnostic action: %s", action),
			Code:    "unknown_diagnostic",
		}
	}
	return b.RunShell(ctx, command, target, shellOptionsFromArgs(args))
}

// shellOptionsFromArgs lifts the conventional timeout and cwd arguments out
// of a diagnostic call's extra args. Timeouts arrive as JSON numbers of
// seconds.
func shellOptionsFromArgs(args map[string]any) ShellOptions {
	var opts ShellOptions
	switch v := args["timeout"].(type) {
	case float64:
		opts.Timeout = time.Duration(v * float64(time.Second))
	case int:
		opts.Timeout = time.Duration(v) * time.Second
	}
	if dir, ok := args["cwd"].(string); ok {
		opts.Dir = dir
	}
	return opts
}

func (b *LocalBackend) RunShell(ctx context.Context, command, target string, opts ShellOptions) (map[string]any, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultShellTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	durationMS := time.Since(start).Milliseconds()

	if runCtx.Err() == context.DeadlineExceeded {
		return map[string]any{
			"exit_code":   -1,
			"stdout":      "",
			"stderr":      fmt.Sprintf("Command timed out after %gs", timeout.Seconds()),
			"duration_ms": durationMS,
			"timed_out":   true,
		}, nil
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, &BackendError{
				Message: fmt.Sprintf("start shell command: %v", runErr),
				Code:    "spawn_failed",
			}
		}
		exitCode = exitErr.ExitCode()
	}

	outRaw := stdout.Bytes()
	errRaw := stderr.Bytes()

	result := map[string]any{
		"exit_code":   exitCode,
		"stdout":      capStream(outRaw),
		"stderr":      capStream(errRaw),
		"duration_ms": durationMS,
	}
	truncated := map[string]any{}
	if len(outRaw) > maxOutputBytes {
		truncated["stdout"] = true
	}
	if len(errRaw) > maxOutputBytes {
		truncated["stderr"] = true
	}
	if len(truncated) > 0 {
		result["truncated"] = truncated
	}
	return result, nil
}

// capStream bounds one output stream and repairs any rune the byte cap cut.
func capStream(raw []byte) string {
	if len(raw) > maxOutputBytes {
		raw = raw[:maxOutputBytes]
	}
	return strings.ToValidUTF8(string(raw), "�")
}
