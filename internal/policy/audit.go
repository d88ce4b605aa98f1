package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/haasonsaas/opsbench/pkg/models"
)

const (
	defaultAuditMaxBytes  = 10 << 20
	defaultAuditKeepFiles = 5

	publicOutputLimit    = 2000
	sensitiveOutputLimit = 500
)

// AuditEntry carries everything one audit record needs.
type AuditEntry struct {
	SessionID  string
	EventID    string
	ToolCallID string
	Tool       Tool
	Args       map[string]any
	Result     *models.ToolResult
	Duration   time.Duration
}

// AuditLog appends one record for an executed tool call. How much of the
// arguments and output survives depends on the tool's privacy scope; secret
// tools leave only the call's shape behind.
func (e *Engine) AuditLog(entry AuditEntry) error {
	metadata := entry.Result.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	record := map[string]any{
		"ts":           time.Now().UTC().Format(time.RFC3339Nano),
		"session_id":   entry.SessionID,
		"event_id":     entry.EventID,
		"tool_call_id": entry.ToolCallID,
		"tool_name":    entry.Tool.Name(),
		"risk":         entry.Tool.RiskLevel().String(),
		"privacy":      string(entry.Tool.PrivacyScope()),
		"duration_ms":  entry.Duration.Milliseconds(),
		"success":      entry.Result.Success,
		"error_code":   nil,
		"metadata":     metadata,
	}
	if entry.Result.ErrorCode != "" {
		record["error_code"] = string(entry.Result.ErrorCode)
	}

	switch entry.Tool.PrivacyScope() {
	case models.PrivacyPublic:
		record["args"] = e.RedactArgsForAudit(entry.Tool, entry.Args)
		record["output"] = e.RedactOutputForAudit(truncateRunes(entry.Result.Content, publicOutputLimit))
	case models.PrivacySensitive:
		record["args"] = redactedPlaceholder
		record["output"] = e.RedactOutputForAudit(truncateRunes(entry.Result.Content, sensitiveOutputLimit))
	default:
		// Secret, and anything unrecognized, gets the strictest treatment.
		record["args"] = redactedPlaceholder
		record["output"] = redactedPlaceholder
	}

	return e.audit.Write(record)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// AuditWriter appends JSON records to a log file, one object per line,
// rotating by size. Writes are serialized; rotation never drops the record
// being written.
type AuditWriter struct {
	path      string
	maxBytes  int64
	keepFiles int

	mu sync.Mutex
}

// NewAuditWriter creates the log's parent directory if needed. Zero values
// for maxBytes and keepFiles select the defaults.
func NewAuditWriter(path string, maxBytes int64, keepFiles int) (*AuditWriter, error) {
	if path == "" {
		return nil, errors.New("audit log path is required")
	}
	if maxBytes <= 0 {
		maxBytes = defaultAuditMaxBytes
	}
	if keepFiles <= 0 {
		keepFiles = defaultAuditKeepFiles
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit log directory: %w", err)
		}
	}
	return &AuditWriter{path: path, maxBytes: maxBytes, keepFiles: keepFiles}, nil
}

// Write serializes record as one JSON line and appends it, rotating first when
// the active file has reached the size limit.
func (w *AuditWriter) Write(record map[string]any) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return err
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}

// rotateIfNeeded shifts audit.log.N to audit.log.N+1 for N descending from
// keepFiles-1, then renames the active file to audit.log.1. The oldest file
// beyond keepFiles falls off the end.
func (w *AuditWriter) rotateIfNeeded() error {
	fi, err := os.Stat(w.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat audit log: %w", err)
	}
	if fi.Size() < w.maxBytes {
		return nil
	}

	for i := w.keepFiles - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", w.path, i)
		dst := fmt.Sprintf("%s.%d", w.path, i+1)
		if _, err := os.Stat(src); err == nil {
			if err := os.Rename(src, dst); err != nil {
				return fmt.Errorf("rotate audit log: %w", err)
			}
		}
	}
	if err := os.Rename(w.path, w.path+".1"); err != nil {
		return fmt.Errorf("rotate audit log: %w", err)
	}
	return nil
}
