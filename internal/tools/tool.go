// Package tools defines the callable tool surface exposed to the model: the
// Tool interface, a name-keyed registry, and JSON Schema validation of call
// arguments.
package tools

import (
	"context"

	"github.com/haasonsaas/opsbench/pkg/models"
)

// Tool is a named, schema-described, risk-tagged action the model may invoke.
//
// Execute returns a ToolResult for outcomes the tool itself understands,
// including structured failures. A non-nil error means the tool gave up in a
// way it could not describe; the orchestrator records it as a tool exception.
type Tool interface {
	Name() string
	Description() string

	// Parameters is the tool's JSON Schema for call arguments, before
	// normalization.
	Parameters() map[string]any

	RiskLevel() models.RiskLevel
	PrivacyScope() models.PrivacyLevel

	// SecretFields names arguments whose values must never reach the audit
	// log in the clear.
	SecretFields() []string

	Execute(ctx context.Context, args map[string]any) (*models.ToolResult, error)
}

// ToolBase supplies the defaults most tools share: read-only, public, no
// secret arguments. Embed it and override what differs.
type ToolBase struct{}

func (ToolBase) RiskLevel() models.RiskLevel       { return models.RiskReadOnly }
func (ToolBase) PrivacyScope() models.PrivacyLevel { return models.PrivacyPublic }
func (ToolBase) SecretFields() []string            { return nil }

// NormalizeSchema fills in the conventional defaults for a parameter schema:
// type "object", closed to unknown properties unless the schema opts in. The
// input map is not modified.
func NormalizeSchema(schema map[string]any) map[string]any {
	normalized := make(map[string]any, len(schema)+2)
	for k, v := range schema {
		normalized[k] = v
	}
	if _, ok := normalized["type"]; !ok {
		normalized["type"] = "object"
	}
	if _, ok := normalized["additionalProperties"]; !ok {
		normalized["additionalProperties"] = false
	}
	return normalized
}

// Definition renders a tool in the wire format providers expect.
func Definition(tool Tool) models.ToolDefinition {
	return models.ToolDefinition{
		Type: "function",
		Function: models.FunctionDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  NormalizeSchema(tool.Parameters()),
		},
	}
}
