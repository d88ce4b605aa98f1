// Package policy enforces risk limits, argument blocking and confirmation
// rules for tool calls, and writes the audit trail.
package policy

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	"github.com/haasonsaas/opsbench/pkg/models"
)

const redactedPlaceholder = "***REDACTED***"

// Tool is the slice of a registered tool the engine evaluates. The tools
// package's Tool satisfies it.
type Tool interface {
	Name() string
	RiskLevel() models.RiskLevel
	PrivacyScope() models.PrivacyLevel
	SecretFields() []string
}

// Config holds the construction parameters for an Engine.
type Config struct {
	// MaxRisk is the highest risk level the engine will allow. Zero means
	// read-only.
	MaxRisk models.RiskLevel

	ConfirmDestructive bool
	ConfirmShell       bool
	ConfirmWrite       bool

	// BlockedPatterns are regular expressions matched against the canonical
	// JSON serialization of a call's arguments. Any match denies the call.
	BlockedPatterns []string

	// RedactionPatterns are regular expressions whose matches are replaced
	// with a placeholder in audited arguments and output.
	RedactionPatterns []string

	// AuditLogPath is where audit records are appended, one JSON object per
	// line. Required.
	AuditLogPath string

	// AuditMaxSizeBytes triggers rotation once the active log reaches it.
	// Zero means 10 MiB.
	AuditMaxSizeBytes int64

	// AuditKeepFiles is how many rotated files to retain. Zero means 5.
	AuditKeepFiles int
}

// DefaultConfig returns the conservative defaults: read-only tools only, with
// confirmation required for anything destructive or shell-level if the limit
// is ever raised.
func DefaultConfig(auditLogPath string) Config {
	return Config{
		MaxRisk:            models.RiskReadOnly,
		ConfirmDestructive: true,
		ConfirmShell:       true,
		ConfirmWrite:       false,
		AuditLogPath:       auditLogPath,
	}
}

// Engine makes allow/deny/confirm decisions for tool calls and records every
// executed call in the audit log. Pattern sets can be swapped at runtime, so
// reads go through the mutex.
type Engine struct {
	maxRisk            models.RiskLevel
	confirmDestructive bool
	confirmShell       bool
	confirmWrite       bool
	audit              *AuditWriter

	mu        sync.RWMutex
	blocked   []*regexp.Regexp
	redaction []*regexp.Regexp
}

// NewEngine compiles the configured patterns and prepares the audit writer.
func NewEngine(config Config) (*Engine, error) {
	if config.MaxRisk == 0 {
		config.MaxRisk = models.RiskReadOnly
	}

	blocked, err := compilePatterns(config.BlockedPatterns)
	if err != nil {
		return nil, fmt.Errorf("compile blocked pattern: %w", err)
	}
	redaction, err := compilePatterns(config.RedactionPatterns)
	if err != nil {
		return nil, fmt.Errorf("compile redaction pattern: %w", err)
	}

	audit, err := NewAuditWriter(config.AuditLogPath, config.AuditMaxSizeBytes, config.AuditKeepFiles)
	if err != nil {
		return nil, err
	}

	return &Engine{
		maxRisk:            config.MaxRisk,
		confirmDestructive: config.ConfirmDestructive,
		confirmShell:       config.ConfirmShell,
		confirmWrite:       config.ConfirmWrite,
		blocked:            blocked,
		redaction:          redaction,
		audit:              audit,
	}, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		rx, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		compiled = append(compiled, rx)
	}
	return compiled, nil
}

// UpdatePatterns replaces the blocked and redaction pattern sets, for config
// hot reload. Both sets compile before either applies, so a bad pattern
// leaves the engine unchanged.
func (e *Engine) UpdatePatterns(blocked, redaction []string) error {
	compiledBlocked, err := compilePatterns(blocked)
	if err != nil {
		return fmt.Errorf("compile blocked pattern: %w", err)
	}
	compiledRedaction, err := compilePatterns(redaction)
	if err != nil {
		return fmt.Errorf("compile redaction pattern: %w", err)
	}

	e.mu.Lock()
	e.blocked = compiledBlocked
	e.redaction = compiledRedaction
	e.mu.Unlock()
	return nil
}

// Check decides whether a tool call may proceed. The risk gate is checked
// first, then blocked patterns, then confirmation rules; a blocked pattern
// denies the call even when it would only have needed confirmation.
func (e *Engine) Check(tool Tool, args map[string]any) models.PolicyDecision {
	risk := tool.RiskLevel()
	if risk > e.maxRisk {
		return models.PolicyDecision{
			Allowed: false,
			Reason:  fmt.Sprintf("risk_too_high:%s>%s", risk, e.maxRisk),
		}
	}

	e.mu.RLock()
	blocked := e.blocked
	e.mu.RUnlock()
	if len(blocked) > 0 {
		blob := canonicalArgs(args)
		for _, rx := range blocked {
			if rx.MatchString(blob) {
				return models.PolicyDecision{Allowed: false, Reason: "blocked_pattern"}
			}
		}
	}

	// A tool trips the first enabled rule at or below its risk level, so a
	// shell tool still needs confirmation when only the destructive rule is
	// enabled.
	needsConfirm := false
	switch {
	case risk >= models.RiskShell && e.confirmShell:
		needsConfirm = true
	case risk >= models.RiskDestructive && e.confirmDestructive:
		needsConfirm = true
	case risk >= models.RiskWrite && e.confirmWrite:
		needsConfirm = true
	}
	if needsConfirm {
		return models.PolicyDecision{
			Allowed:              true,
			Reason:               "requires_confirmation",
			RequiresConfirmation: true,
		}
	}

	return models.PolicyDecision{Allowed: true, Reason: "ok"}
}

// canonicalArgs serializes args deterministically so blocked patterns see
// nested values regardless of map iteration order.
func canonicalArgs(args map[string]any) string {
	blob, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(blob)
}

// RedactArgsForAudit returns a copy of args with the tool's secret fields
// replaced and redaction patterns applied to the remaining string values.
// The input map is not modified.
func (e *Engine) RedactArgsForAudit(tool Tool, args map[string]any) map[string]any {
	redacted := make(map[string]any, len(args))
	for k, v := range args {
		redacted[k] = v
	}
	for _, field := range tool.SecretFields() {
		if _, ok := redacted[field]; ok {
			redacted[field] = redactedPlaceholder
		}
	}
	for k, v := range redacted {
		if s, ok := v.(string); ok {
			redacted[k] = e.applyRedaction(s)
		}
	}
	return redacted
}

// RedactOutputForAudit applies the redaction patterns to tool output.
func (e *Engine) RedactOutputForAudit(text string) string {
	return e.applyRedaction(text)
}

func (e *Engine) applyRedaction(s string) string {
	e.mu.RLock()
	redaction := e.redaction
	e.mu.RUnlock()
	for _, rx := range redaction {
		s = rx.ReplaceAllString(s, redactedPlaceholder)
	}
	return s
}
