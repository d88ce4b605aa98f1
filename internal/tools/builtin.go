package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/opsbench/pkg/models"
)

// maxFileContent caps how much of a file read_file returns inline. Larger
// files are truncated in the content and attached whole as an artifact.
const maxFileContent = 100 * 1024

// RegisterBuiltins adds the baseline tool set every deployment gets.
func RegisterBuiltins(r *Registry) error {
	for _, tool := range []Tool{&EchoTool{}, &ReadFileTool{}, &WriteFileTool{}} {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// EchoTool returns its argument unchanged. It exists for smoke tests and for
// exercising the full call path without side effects.
type EchoTool struct {
	ToolBase
}

func (t *EchoTool) Name() string        { return "echo" }
func (t *EchoTool) Description() string { return "Echo a message back unchanged." }

func (t *EchoTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "The message to echo back.",
			},
		},
		"required": []any{"message"},
	}
}

func (t *EchoTool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	message, _ := args["message"].(string)
	return &models.ToolResult{Success: true, Content: message}, nil
}

// ReadFileTool reads a file from the host the assistant runs on.
type ReadFileTool struct {
	ToolBase
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Read a file from the local filesystem and return its contents."
}

func (t *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Absolute or working-directory-relative path to read.",
			},
		},
		"required": []any{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	path, _ := args["path"].(string)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	content := strings.ToValidUTF8(string(data), "�")
	result := &models.ToolResult{Success: true, Content: content}
	if len(content) > maxFileContent {
		result.Content = strings.ToValidUTF8(content[:maxFileContent], "�")
		result.Metadata = map[string]any{"truncated": true, "size_bytes": len(data)}
		result.ArtifactPayloads = []models.ArtifactPayload{{
			Content:      data,
			OriginalName: filepath.Base(path),
			MediaType:    "text/plain",
			Description:  fmt.Sprintf("Full contents of %s", path),
		}}
	}
	return result, nil
}

// WriteFileTool writes a file on the host the assistant runs on. It carries
// write-level risk so policy can gate or require confirmation.
type WriteFileTool struct {
	ToolBase
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Write content to a file on the local filesystem, replacing what is there."
}

func (t *WriteFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path of the file to write.",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Content to write.",
			},
		},
		"required": []any{"path", "content"},
	}
}

func (t *WriteFileTool) RiskLevel() models.RiskLevel { return models.RiskWrite }

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	return &models.ToolResult{
		Success: true,
		Content: fmt.Sprintf("Wrote %d bytes to %s", len(content), path),
	}, nil
}
