package models

import (
	"encoding/json"
	"testing"
)

func TestRiskLevel_Ordering(t *testing.T) {
	if !(RiskReadOnly < RiskWrite && RiskWrite < RiskDestructive && RiskDestructive < RiskShell) {
		t.Errorf("risk levels not strictly ordered: %d %d %d %d",
			RiskReadOnly, RiskWrite, RiskDestructive, RiskShell)
	}
}

func TestRiskLevel_String(t *testing.T) {
	tests := []struct {
		level    RiskLevel
		expected string
	}{
		{RiskReadOnly, "READ_ONLY"},
		{RiskWrite, "WRITE"},
		{RiskDestructive, "DESTRUCTIVE"},
		{RiskShell, "SHELL"},
		{RiskLevel(99), "RISK_99"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.level.String(); got != tt.expected {
				t.Errorf("String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestParseRiskLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    RiskLevel
		wantErr bool
	}{
		{"READ_ONLY", RiskReadOnly, false},
		{"write", RiskWrite, false},
		{" Destructive ", RiskDestructive, false},
		{"SHELL", RiskShell, false},
		{"root", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseRiskLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRiskLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseRiskLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestRiskLevel_JSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(RiskDestructive)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `"DESTRUCTIVE"` {
		t.Errorf("Marshal = %s, want %q", data, `"DESTRUCTIVE"`)
	}

	var r RiskLevel
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if r != RiskDestructive {
		t.Errorf("round trip = %v, want %v", r, RiskDestructive)
	}

	// Numeric form is accepted for hand-written config.
	if err := json.Unmarshal([]byte("40"), &r); err != nil {
		t.Fatalf("Unmarshal numeric: %v", err)
	}
	if r != RiskShell {
		t.Errorf("numeric unmarshal = %v, want %v", r, RiskShell)
	}

	if err := json.Unmarshal([]byte(`"sudo"`), &r); err == nil {
		t.Error("expected error for unknown level name")
	}
}

func TestParsePrivacyLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    PrivacyLevel
		wantErr bool
	}{
		{"public", PrivacyPublic, false},
		{"SENSITIVE", PrivacySensitive, false},
		{" secret ", PrivacySecret, false},
		{"hidden", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePrivacyLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePrivacyLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParsePrivacyLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
