package policy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/opsbench/pkg/models"
)

func readAuditRecords(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("unmarshal audit line %q: %v", line, err)
		}
		records = append(records, rec)
	}
	return records
}

func TestEngine_AuditLogRecordShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	engine := newTestEngine(t, Config{AuditLogPath: path})
	tool := fakeTool{name: "disk_usage", risk: models.RiskReadOnly, privacy: models.PrivacyPublic}

	err := engine.AuditLog(AuditEntry{
		SessionID:  "session-1",
		EventID:    "event-9",
		ToolCallID: "call_1",
		Tool:       tool,
		Args:       map[string]any{"target": "web-1"},
		Result:     &models.ToolResult{Success: true, Content: "disk ok"},
		Duration:   1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("AuditLog() error = %v", err)
	}

	records := readAuditRecords(t, path)
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]

	if rec["session_id"] != "session-1" || rec["event_id"] != "event-9" || rec["tool_call_id"] != "call_1" {
		t.Errorf("identity fields = %v/%v/%v", rec["session_id"], rec["event_id"], rec["tool_call_id"])
	}
	if rec["tool_name"] != "disk_usage" {
		t.Errorf("tool_name = %v, want disk_usage", rec["tool_name"])
	}
	if rec["risk"] != "READ_ONLY" {
		t.Errorf("risk = %v, want READ_ONLY", rec["risk"])
	}
	if rec["privacy"] != "public" {
		t.Errorf("privacy = %v, want public", rec["privacy"])
	}
	if rec["duration_ms"] != float64(1500) {
		t.Errorf("duration_ms = %v, want 1500", rec["duration_ms"])
	}
	if rec["success"] != true {
		t.Errorf("success = %v, want true", rec["success"])
	}
	if code, ok := rec["error_code"]; !ok || code != nil {
		t.Errorf("error_code = %v (present %v), want explicit null", code, ok)
	}
	if meta, ok := rec["metadata"].(map[string]any); !ok || len(meta) != 0 {
		t.Errorf("metadata = %v, want empty object", rec["metadata"])
	}
	if _, err := time.Parse(time.RFC3339Nano, rec["ts"].(string)); err != nil {
		t.Errorf("ts = %v, not RFC 3339: %v", rec["ts"], err)
	}
	if rec["output"] != "disk ok" {
		t.Errorf("output = %v, want disk ok", rec["output"])
	}
}

func TestEngine_AuditLogPrivacyScopes(t *testing.T) {
	longOutput := strings.Repeat("x", 3000) + " token sk-deadbeef"

	tests := []struct {
		name          string
		privacy       models.PrivacyLevel
		wantArgsKind  string // "map" or "redacted"
		wantOutputLen int    // 0 means fully redacted
	}{
		{
			name:          "public keeps redacted args and long output",
			privacy:       models.PrivacyPublic,
			wantArgsKind:  "map",
			wantOutputLen: 2000,
		},
		{
			name:          "sensitive drops args and shortens output",
			privacy:       models.PrivacySensitive,
			wantArgsKind:  "redacted",
			wantOutputLen: 500,
		},
		{
			name:         "secret drops everything",
			privacy:      models.PrivacySecret,
			wantArgsKind: "redacted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "audit.log")
			engine := newTestEngine(t, Config{
				AuditLogPath:      path,
				RedactionPatterns: []string{`sk-[a-z0-9]+`},
			})
			tool := fakeTool{
				name:    "fetch_creds",
				risk:    models.RiskReadOnly,
				privacy: tt.privacy,
				secrets: []string{"api_key"},
			}

			err := engine.AuditLog(AuditEntry{
				SessionID:  "session-1",
				EventID:    "event-1",
				ToolCallID: "call_1",
				Tool:       tool,
				Args:       map[string]any{"api_key": "hunter2", "host": "web-1"},
				Result:     &models.ToolResult{Success: true, Content: longOutput},
			})
			if err != nil {
				t.Fatalf("AuditLog() error = %v", err)
			}

			rec := readAuditRecords(t, path)[0]

			switch tt.wantArgsKind {
			case "map":
				args, ok := rec["args"].(map[string]any)
				if !ok {
					t.Fatalf("args = %T, want object", rec["args"])
				}
				if args["api_key"] != "***REDACTED***" {
					t.Errorf("args.api_key = %v, want redacted", args["api_key"])
				}
				if args["host"] != "web-1" {
					t.Errorf("args.host = %v, want web-1", args["host"])
				}
			case "redacted":
				if rec["args"] != "***REDACTED***" {
					t.Errorf("args = %v, want redacted placeholder", rec["args"])
				}
			}

			output, ok := rec["output"].(string)
			if !ok {
				t.Fatalf("output = %T, want string", rec["output"])
			}
			if tt.wantOutputLen == 0 {
				if output != "***REDACTED***" {
					t.Errorf("output = %q, want redacted placeholder", output)
				}
				return
			}
			if len(output) != tt.wantOutputLen {
				t.Errorf("len(output) = %d, want %d", len(output), tt.wantOutputLen)
			}
			// Truncation happens before redaction, so the trailing token never
			// survives into the record at these limits.
			if strings.Contains(output, "sk-deadbeef") {
				t.Error("output leaked a token that should have been truncated")
			}
		})
	}
}

func TestEngine_AuditLogErrorCode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	engine := newTestEngine(t, Config{AuditLogPath: path})
	tool := fakeTool{name: "run_diagnostic", risk: models.RiskReadOnly, privacy: models.PrivacyPublic}

	err := engine.AuditLog(AuditEntry{
		SessionID: "session-1",
		EventID:   "event-1",
		Tool:      tool,
		Result: &models.ToolResult{
			Success:   false,
			Error:     "command timed out",
			ErrorCode: models.ErrTimeout,
			Metadata:  map[string]any{"timed_out": true},
		},
	})
	if err != nil {
		t.Fatalf("AuditLog() error = %v", err)
	}

	rec := readAuditRecords(t, path)[0]
	if rec["success"] != false {
		t.Errorf("success = %v, want false", rec["success"])
	}
	if rec["error_code"] != "timeout" {
		t.Errorf("error_code = %v, want timeout", rec["error_code"])
	}
	meta, _ := rec["metadata"].(map[string]any)
	if meta["timed_out"] != true {
		t.Errorf("metadata.timed_out = %v, want true", meta["timed_out"])
	}
}

func TestAuditWriter_AppendsOneLinePerRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	writer, err := NewAuditWriter(path, 0, 0)
	if err != nil {
		t.Fatalf("NewAuditWriter() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := writer.Write(map[string]any{"seq": i}); err != nil {
			t.Fatalf("Write(%d) error = %v", i, err)
		}
	}

	records := readAuditRecords(t, path)
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	for i, rec := range records {
		if rec["seq"] != float64(i) {
			t.Errorf("records[%d].seq = %v, want %d", i, rec["seq"], i)
		}
	}
}

func TestAuditWriter_RotationKeepsBoundedChain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	// One byte forces a rotation before every write after the first.
	writer, err := NewAuditWriter(path, 1, 2)
	if err != nil {
		t.Fatalf("NewAuditWriter() error = %v", err)
	}

	for i := 1; i <= 5; i++ {
		if err := writer.Write(map[string]any{"seq": i}); err != nil {
			t.Fatalf("Write(%d) error = %v", i, err)
		}
	}

	wantSeq := map[string]float64{
		path:        5,
		path + ".1": 4,
		path + ".2": 3,
	}
	for file, seq := range wantSeq {
		records := readAuditRecords(t, file)
		if len(records) != 1 {
			t.Fatalf("%s: got %d records, want 1", filepath.Base(file), len(records))
		}
		if records[0]["seq"] != seq {
			t.Errorf("%s: seq = %v, want %v", filepath.Base(file), records[0]["seq"], seq)
		}
	}

	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Error("rotation chain grew past keepFiles")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 3 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("got %d files %v, want active log plus 2 rotations", len(entries), names)
	}
}

func TestAuditWriter_RotationIsTriggeredBySize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	writer, err := NewAuditWriter(path, 1<<20, 5)
	if err != nil {
		t.Fatalf("NewAuditWriter() error = %v", err)
	}

	for i := 0; i < 10; i++ {
		if err := writer.Write(map[string]any{"seq": i}); err != nil {
			t.Fatalf("Write(%d) error = %v", i, err)
		}
	}

	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("log rotated below the size limit")
	}
	if got := len(readAuditRecords(t, path)); got != 10 {
		t.Errorf("got %d records, want 10", got)
	}
}

func TestNewAuditWriter_RequiresPath(t *testing.T) {
	if _, err := NewAuditWriter("", 0, 0); err == nil {
		t.Fatal("NewAuditWriter(\"\") error = nil, want error")
	}
}

func TestNewAuditWriter_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "logs", "audit.log")
	writer, err := NewAuditWriter(path, 0, 0)
	if err != nil {
		t.Fatalf("NewAuditWriter() error = %v", err)
	}
	if err := writer.Write(map[string]any{"seq": 1}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("audit log missing: %v", err)
	}
}

func TestNewAuditWriter_Defaults(t *testing.T) {
	writer, err := NewAuditWriter(filepath.Join(t.TempDir(), "audit.log"), 0, 0)
	if err != nil {
		t.Fatalf("NewAuditWriter() error = %v", err)
	}
	if writer.maxBytes != defaultAuditMaxBytes {
		t.Errorf("maxBytes = %d, want %d", writer.maxBytes, defaultAuditMaxBytes)
	}
	if writer.keepFiles != defaultAuditKeepFiles {
		t.Errorf("keepFiles = %d, want %d", writer.keepFiles, defaultAuditKeepFiles)
	}
}
