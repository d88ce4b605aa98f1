// Package config defines the opsbench configuration model and its
// precedence-based loader. Sources layer lowest to highest:
//
//	defaults < config file < env vars (OPSBENCH_*) < CLI flags < per-session overrides
//
// Files are YAML by default; .json and .json5 are accepted. A file may pull
// in others with $include, and ${VAR} references expand from the
// environment before parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/opsbench/pkg/models"
)

// Config is the root configuration document.
type Config struct {
	LLM           LLMConfig                 `yaml:"llm"`
	Policy        PolicyConfig              `yaml:"policy"`
	Tools         ToolsConfig               `yaml:"tools"`
	Session       SessionConfig             `yaml:"session"`
	Artifacts     ArtifactsConfig           `yaml:"artifacts"`
	Backends      BackendsConfig            `yaml:"backends"`
	Observability ObservabilityConfig       `yaml:"observability"`
	Profiles      map[string]map[string]any `yaml:"profiles"`

	// raw is the merged document the typed sections were decoded from,
	// kept so per-session overrides can rebuild without rereading files.
	raw       map[string]any
	overrides map[string]any
}

// LLMConfig describes the default provider. Name doubles as the router
// registration key.
type LLMConfig struct {
	Name             string         `yaml:"name"`
	Model            string         `yaml:"model"`
	APIBase          string         `yaml:"api_base"`
	APIKeyEnv        string         `yaml:"api_key_env"`
	MaxContextTokens int            `yaml:"max_context_tokens"`
	MaxOutputTokens  int            `yaml:"max_output_tokens"`
	Temperature      float64        `yaml:"temperature"`
	TimeoutSeconds   int            `yaml:"timeout_seconds"`
	Extra            map[string]any `yaml:"extra,omitempty"`
}

// PolicyConfig feeds the policy engine. MaxRisk is a risk level name
// (READ_ONLY, WRITE, DESTRUCTIVE, SHELL).
type PolicyConfig struct {
	MaxRisk            string   `yaml:"max_risk"`
	ConfirmDestructive bool     `yaml:"confirm_destructive"`
	ConfirmShell       bool     `yaml:"confirm_shell"`
	ConfirmWrite       bool     `yaml:"confirm_write"`
	BlockedPatterns    []string `yaml:"blocked_patterns,omitempty"`
	RedactionPatterns  []string `yaml:"redaction_patterns,omitempty"`
	AuditLogPath       string   `yaml:"audit_log_path"`
	AuditMaxSizeMB     int      `yaml:"audit_max_size_mb"`
	AuditKeepFiles     int      `yaml:"audit_keep_files"`
}

// ToolsConfig selects which built-in tools register. An empty Builtin list
// means all of them; Disabled wins over Builtin.
type ToolsConfig struct {
	Builtin  []string `yaml:"builtin,omitempty"`
	Disabled []string `yaml:"disabled,omitempty"`
}

// SessionConfig covers the event store and retention.
type SessionConfig struct {
	Backend            string `yaml:"backend"`
	HistoryDB          string `yaml:"history_db"`
	PostgresDSN        string `yaml:"postgres_dsn,omitempty"`
	MaxTurns           int    `yaml:"max_turns"`
	IdleTimeoutSeconds int    `yaml:"idle_timeout_seconds"`
	RetentionSchedule  string `yaml:"retention_schedule"`
}

// ArtifactsConfig selects the artifact store. Dir defaults to an artifacts/
// directory next to the audit log when empty.
type ArtifactsConfig struct {
	Backend string   `yaml:"backend"`
	Dir     string   `yaml:"dir,omitempty"`
	S3      S3Config `yaml:"s3,omitempty"`
}

// S3Config configures the S3-backed artifact store.
type S3Config struct {
	Bucket       string `yaml:"bucket,omitempty"`
	Prefix       string `yaml:"prefix,omitempty"`
	Region       string `yaml:"region,omitempty"`
	Endpoint     string `yaml:"endpoint,omitempty"`
	UsePathStyle bool   `yaml:"use_path_style,omitempty"`
}

// BackendsConfig lists remote execution targets.
type BackendsConfig struct {
	SSHHosts []SSHHostConfig `yaml:"ssh_hosts,omitempty"`
}

// SSHHostConfig registers one SSH backend under Name (and its Host alias).
// Passwords are never stored inline; PasswordEnv names the variable to read.
type SSHHostConfig struct {
	Name           string `yaml:"name"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port,omitempty"`
	Username       string `yaml:"username,omitempty"`
	KeyPath        string `yaml:"key_path,omitempty"`
	PasswordEnv    string `yaml:"password_env,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
}

// ObservabilityConfig covers logging and tracing. Metrics need no
// configuration; collectors live on a private registry the embedding
// program exposes if it wants to.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

type LoggingConfig struct {
	Level          string   `yaml:"level"`
	Format         string   `yaml:"format"`
	AddSource      bool     `yaml:"add_source,omitempty"`
	RedactPatterns []string `yaml:"redact_patterns,omitempty"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint,omitempty"`
	ServiceName  string  `yaml:"service_name"`
	Environment  string  `yaml:"environment,omitempty"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure,omitempty"`
}

// Default returns the built-in configuration, the lowest precedence layer.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Name:             "openai",
			Model:            "gpt-4o",
			APIKeyEnv:        "OPENAI_API_KEY",
			MaxContextTokens: 128000,
			MaxOutputTokens:  4096,
			Temperature:      0,
			TimeoutSeconds:   120,
		},
		Policy: PolicyConfig{
			MaxRisk:            "READ_ONLY",
			ConfirmDestructive: true,
			ConfirmShell:       true,
			ConfirmWrite:       false,
			AuditLogPath:       "~/.opsbench/audit.jsonl",
			AuditMaxSizeMB:     10,
			AuditKeepFiles:     5,
		},
		Session: SessionConfig{
			Backend:            "sqlite",
			HistoryDB:          "~/.opsbench/history.db",
			MaxTurns:           200,
			IdleTimeoutSeconds: 3600,
			RetentionSchedule:  "@hourly",
		},
		Artifacts: ArtifactsConfig{
			Backend: "local",
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{Level: "info", Format: "text"},
			Tracing: TracingConfig{ServiceName: "opsbench", SamplingRate: 1.0},
		},
	}
}

// SetOverride applies a per-session override by dot path (e.g. "llm.model").
// Overrides sit above every other source and survive nothing beyond this
// Config value. Invalid overrides are rejected and leave the config as it
// was.
func (c *Config) SetOverride(dotpath string, value any) error {
	merged := make(map[string]any, len(c.overrides)+1)
	for k, v := range c.overrides {
		merged[k] = v
	}
	merged[dotpath] = value

	rebuilt, err := buildConfig(c.raw, merged)
	if err != nil {
		return fmt.Errorf("apply override %s: %w", dotpath, err)
	}
	*c = *rebuilt
	return nil
}

// Override reports the value recorded for a dot path, if any.
func (c *Config) Override(dotpath string) (any, bool) {
	v, ok := c.overrides[dotpath]
	return v, ok
}

// Validate rejects values the rest of the stack cannot act on.
func (c *Config) Validate() error {
	if _, err := models.ParseRiskLevel(c.Policy.MaxRisk); err != nil {
		return fmt.Errorf("policy.max_risk: %w", err)
	}
	switch c.Session.Backend {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("session.backend must be sqlite or postgres, got %q", c.Session.Backend)
	}
	if c.Session.Backend == "postgres" && strings.TrimSpace(c.Session.PostgresDSN) == "" {
		return fmt.Errorf("session.postgres_dsn is required when session.backend is postgres")
	}
	switch c.Artifacts.Backend {
	case "local", "s3":
	default:
		return fmt.Errorf("artifacts.backend must be local or s3, got %q", c.Artifacts.Backend)
	}
	if c.Artifacts.Backend == "s3" && strings.TrimSpace(c.Artifacts.S3.Bucket) == "" {
		return fmt.Errorf("artifacts.s3.bucket is required when artifacts.backend is s3")
	}
	switch c.Observability.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("observability.logging.level must be debug, info, warn or error, got %q", c.Observability.Logging.Level)
	}
	switch c.Observability.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("observability.logging.format must be text or json, got %q", c.Observability.Logging.Format)
	}
	if rate := c.Observability.Tracing.SamplingRate; rate < 0 || rate > 1 {
		return fmt.Errorf("observability.tracing.sampling_rate must be within [0, 1], got %g", rate)
	}
	if c.LLM.MaxContextTokens <= 0 {
		return fmt.Errorf("llm.max_context_tokens must be positive, got %d", c.LLM.MaxContextTokens)
	}
	if c.LLM.MaxOutputTokens <= 0 {
		return fmt.Errorf("llm.max_output_tokens must be positive, got %d", c.LLM.MaxOutputTokens)
	}
	if c.Session.MaxTurns <= 0 {
		return fmt.Errorf("session.max_turns must be positive, got %d", c.Session.MaxTurns)
	}
	return nil
}

// ArtifactDir resolves the artifact directory: the configured one, or
// artifacts/ next to the audit log.
func (c *Config) ArtifactDir() string {
	if c.Artifacts.Dir != "" {
		return ExpandPath(c.Artifacts.Dir)
	}
	return filepath.Join(filepath.Dir(ExpandPath(c.Policy.AuditLogPath)), "artifacts")
}

// ExpandPath resolves a leading ~ against the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
