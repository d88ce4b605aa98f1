package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

const includeKey = "$include"

// Only the braced ${VAR} form expands, so directives like $include pass
// through to the parser untouched.
var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadOptions selects a profile overlay and carries CLI --set overrides
// (dot path to value).
type LoadOptions struct {
	Profile   string
	Overrides map[string]any
}

// Load assembles a Config from every source in precedence order: defaults,
// the file at path (if any), the named profile overlay, OPSBENCH_* env
// vars, then CLI overrides. An empty path skips the file layer.
func Load(path string, opts LoadOptions) (*Config, error) {
	raw := map[string]any{}
	if strings.TrimSpace(path) != "" {
		fileRaw, err := LoadRaw(path)
		if err != nil {
			return nil, err
		}
		raw = fileRaw
	}

	if opts.Profile != "" {
		overlay, err := profileOverlay(raw, opts.Profile)
		if err != nil {
			return nil, err
		}
		raw = mergeMaps(raw, overlay)
	}

	for _, binding := range envBindings {
		value, ok := os.LookupEnv(binding.name)
		if !ok {
			continue
		}
		coerced, err := coerceEnv(value, binding.kind)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", binding.name, err)
		}
		applyDotPath(raw, binding.path, coerced)
	}

	for dotpath, value := range opts.Overrides {
		applyDotPath(raw, dotpath, value)
	}

	return buildConfig(raw, nil)
}

// DefaultConfigPath returns the first config file found among the standard
// locations, or "" when none exists. OPSBENCH_CONFIG wins outright.
func DefaultConfigPath() string {
	if env := os.Getenv("OPSBENCH_CONFIG"); env != "" {
		return env
	}
	candidates := []string{"opsbench.yaml", "opsbench.yml"}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		candidates = append(candidates,
			filepath.Join(home, ".config", "opsbench", "config.yaml"),
			filepath.Join(home, ".opsbench", "config.yaml"),
		)
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// LoadRaw reads a configuration file into a merged raw map, resolving
// $include directives.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	seen := map[string]bool{}
	return loadRawRecursive(path, seen)
}

// loadRawRecursive loads a config file, resolving $include directives with
// cycle detection.
func loadRawRecursive(path string, seen map[string]bool) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[absPath] {
		return nil, fmt.Errorf("config include cycle detected at %s", absPath)
	}
	seen[absPath] = true
	defer delete(seen, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	expanded := expandEnvRefs(string(data))
	raw, err := parseRawBytes([]byte(expanded), absPath)
	if err != nil {
		return nil, err
	}

	includes, err := extractIncludes(raw)
	if err != nil {
		return nil, err
	}

	merged := map[string]any{}
	if len(includes) > 0 {
		baseDir := filepath.Dir(absPath)
		for _, inc := range includes {
			if strings.TrimSpace(inc) == "" {
				continue
			}
			incPath := inc
			if !filepath.IsAbs(incPath) {
				incPath = filepath.Join(baseDir, incPath)
			}
			incRaw, err := loadRawRecursive(incPath, seen)
			if err != nil {
				return nil, err
			}
			merged = mergeMaps(merged, incRaw)
		}
	}

	merged = mergeMaps(merged, raw)
	return merged, nil
}

func expandEnvRefs(data string) string {
	return envRefPattern.ReplaceAllStringFunc(data, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

func parseRawBytes(data []byte, pathHint string) (map[string]any, error) {
	format := strings.ToLower(filepath.Ext(pathHint))
	if format == ".json" || format == ".json5" {
		var raw map[string]any
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		if raw == nil {
			raw = map[string]any{}
		}
		return raw, nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func extractIncludes(raw map[string]any) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	var includeVal any
	if val, ok := raw[includeKey]; ok {
		includeVal = val
		delete(raw, includeKey)
	} else if val, ok := raw["include"]; ok {
		includeVal = val
		delete(raw, "include")
	}
	if includeVal == nil {
		return nil, nil
	}

	switch typed := includeVal.(type) {
	case string:
		return []string{typed}, nil
	case []string:
		return typed, nil
	case []any:
		paths := make([]string, 0, len(typed))
		for _, entry := range typed {
			value, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("include entries must be strings")
			}
			paths = append(paths, value)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("include must be a string or list of strings")
	}
}

func profileOverlay(raw map[string]any, name string) (map[string]any, error) {
	profiles, ok := raw["profiles"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("profile %q not found: no profiles defined", name)
	}
	overlay, ok := profiles[name].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("profile %q not found", name)
	}
	return deepCopyMap(overlay), nil
}

func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		if valueMap, ok := value.(map[string]any); ok {
			if existing, ok := dst[key].(map[string]any); ok {
				dst[key] = mergeMaps(existing, valueMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}

// buildConfig decodes a raw map over the defaults, applies overrides, and
// validates. The inputs are retained so SetOverride can rebuild later.
func buildConfig(raw map[string]any, overrides map[string]any) (*Config, error) {
	if raw == nil {
		raw = map[string]any{}
	}
	work := deepCopyMap(raw)
	for dotpath, value := range overrides {
		applyDotPath(work, dotpath, value)
	}
	cfg, err := decodeRawConfig(work)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.raw = raw
	cfg.overrides = overrides
	return cfg, nil
}

// decodeRawConfig unmarshals over a Default() value so fields absent from
// the document keep their defaults while explicit values, including false
// and zero, stick.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}
	return cfg, nil
}

// applyDotPath sets a value at a dot-separated path, creating intermediate
// maps as needed.
func applyDotPath(raw map[string]any, dotpath string, value any) {
	parts := strings.Split(dotpath, ".")
	node := raw
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[part] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value
}

func deepCopyMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for key, value := range src {
		switch typed := value.(type) {
		case map[string]any:
			dst[key] = deepCopyMap(typed)
		case []any:
			items := make([]any, len(typed))
			for i, item := range typed {
				if nested, ok := item.(map[string]any); ok {
					items[i] = deepCopyMap(nested)
				} else {
					items[i] = item
				}
			}
			dst[key] = items
		default:
			dst[key] = value
		}
	}
	return dst
}

type envKind int

const (
	envString envKind = iota
	envInt
	envFloat
	envBool
	envList
)

type envBinding struct {
	name string
	path string
	kind envKind
}

var envBindings = []envBinding{
	{"OPSBENCH_LLM_NAME", "llm.name", envString},
	{"OPSBENCH_LLM_MODEL", "llm.model", envString},
	{"OPSBENCH_LLM_API_BASE", "llm.api_base", envString},
	{"OPSBENCH_LLM_API_KEY_ENV", "llm.api_key_env", envString},
	{"OPSBENCH_LLM_MAX_CONTEXT", "llm.max_context_tokens", envInt},
	{"OPSBENCH_LLM_MAX_OUTPUT", "llm.max_output_tokens", envInt},
	{"OPSBENCH_LLM_TEMPERATURE", "llm.temperature", envFloat},
	{"OPSBENCH_LLM_TIMEOUT", "llm.timeout_seconds", envInt},
	{"OPSBENCH_POLICY_MAX_RISK", "policy.max_risk", envString},
	{"OPSBENCH_POLICY_CONFIRM_DESTRUCTIVE", "policy.confirm_destructive", envBool},
	{"OPSBENCH_POLICY_CONFIRM_SHELL", "policy.confirm_shell", envBool},
	{"OPSBENCH_POLICY_CONFIRM_WRITE", "policy.confirm_write", envBool},
	{"OPSBENCH_POLICY_BLOCKED", "policy.blocked_patterns", envList},
	{"OPSBENCH_POLICY_REDACTION", "policy.redaction_patterns", envList},
	{"OPSBENCH_POLICY_AUDIT_PATH", "policy.audit_log_path", envString},
	{"OPSBENCH_POLICY_AUDIT_SIZE_MB", "policy.audit_max_size_mb", envInt},
	{"OPSBENCH_POLICY_AUDIT_KEEP", "policy.audit_keep_files", envInt},
	{"OPSBENCH_SESSION_BACKEND", "session.backend", envString},
	{"OPSBENCH_SESSION_HISTORY_DB", "session.history_db", envString},
	{"OPSBENCH_SESSION_POSTGRES_DSN", "session.postgres_dsn", envString},
	{"OPSBENCH_SESSION_MAX_TURNS", "session.max_turns", envInt},
	{"OPSBENCH_SESSION_IDLE_TIMEOUT", "session.idle_timeout_seconds", envInt},
	{"OPSBENCH_ARTIFACTS_BACKEND", "artifacts.backend", envString},
	{"OPSBENCH_ARTIFACTS_DIR", "artifacts.dir", envString},
	{"OPSBENCH_LOG_LEVEL", "observability.logging.level", envString},
	{"OPSBENCH_LOG_FORMAT", "observability.logging.format", envString},
	{"OPSBENCH_TRACE_ENDPOINT", "observability.tracing.endpoint", envString},
}

func coerceEnv(value string, kind envKind) (any, error) {
	switch kind {
	case envInt:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("expected integer, got %q", value)
		}
		return n, nil
	case envFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("expected number, got %q", value)
		}
		return f, nil
	case envBool:
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "on":
			return true, nil
		default:
			return false, nil
		}
	case envList:
		parts := strings.Split(value, ",")
		items := make([]any, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				items = append(items, trimmed)
			}
		}
		return items, nil
	default:
		return value, nil
	}
}
