package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RiskLevel orders tools by how much damage they can do. Higher values
// require stricter policy limits and confirmation rules.
type RiskLevel int

const (
	RiskReadOnly    RiskLevel = 10
	RiskWrite       RiskLevel = 20
	RiskDestructive RiskLevel = 30
	RiskShell       RiskLevel = 40
)

func (r RiskLevel) String() string {
	switch r {
	case RiskReadOnly:
		return "READ_ONLY"
	case RiskWrite:
		return "WRITE"
	case RiskDestructive:
		return "DESTRUCTIVE"
	case RiskShell:
		return "SHELL"
	default:
		return fmt.Sprintf("RISK_%d", int(r))
	}
}

// ParseRiskLevel converts a level name as it appears in config files.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "READ_ONLY":
		return RiskReadOnly, nil
	case "WRITE":
		return RiskWrite, nil
	case "DESTRUCTIVE":
		return RiskDestructive, nil
	case "SHELL":
		return RiskShell, nil
	default:
		return 0, fmt.Errorf("unknown risk level: %q", s)
	}
}

func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		level, perr := ParseRiskLevel(s)
		if perr != nil {
			return perr
		}
		*r = level
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("risk level must be a name or integer: %s", data)
	}
	*r = RiskLevel(n)
	return nil
}

// PrivacyLevel controls how much of a tool's arguments and output may be
// written to the audit log.
type PrivacyLevel string

const (
	PrivacyPublic    PrivacyLevel = "public"
	PrivacySensitive PrivacyLevel = "sensitive"
	PrivacySecret    PrivacyLevel = "secret"
)

// ParsePrivacyLevel converts a privacy name as it appears in config files.
func ParsePrivacyLevel(s string) (PrivacyLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "public":
		return PrivacyPublic, nil
	case "sensitive":
		return PrivacySensitive, nil
	case "secret":
		return PrivacySecret, nil
	default:
		return "", fmt.Errorf("unknown privacy level: %q", s)
	}
}

// ToolDefinition is the provider-facing schema export for a registered tool,
// shaped like the OpenAI function-calling format all supported providers accept.
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition holds the callable portion of a ToolDefinition.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
