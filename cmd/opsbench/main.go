// Package main provides the CLI entry point for the opsbench support and
// diagnostics assistant.
//
// Opsbench connects an LLM provider to a policy-governed tool registry so an
// operator can investigate incidents conversationally: the model proposes
// diagnostics and policy decides what may run. Every call lands in the
// session history and the audit log.
//
// # Basic Usage
//
// Start an interactive session:
//
//	opsbench run
//
// Resume a previous session:
//
//	opsbench run --session <id>
//
// Inspect stored sessions:
//
//	opsbench sessions list
//	opsbench sessions show <id>
//
// # Environment Variables
//
//   - OPSBENCH_CONFIG: Path to the configuration file
//   - OPSBENCH_PROFILE: Configuration profile to overlay
//   - OPENAI_API_KEY / ANTHROPIC_API_KEY: provider credentials (the key
//     variable is configurable via llm.api_key_env)
//
// Any configuration value can also be overridden through the OPSBENCH_*
// variable map or a repeatable --set dot-path flag; see internal/config.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/opsbench/internal/artifacts"
	"github.com/haasonsaas/opsbench/internal/config"
	"github.com/haasonsaas/opsbench/internal/sessions"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp

	profileName string
	setFlags    []string
)

func main() {
	// Structured logging on stderr keeps log records out of the streamed
	// assistant output on stdout.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "opsbench",
		Short: "Opsbench - policy-governed support and diagnostics assistant",
		Long: `Opsbench pairs an LLM with a registry of diagnostic tools behind a policy
engine. Tool calls stream back through the conversation, risky calls require
confirmation, and everything is recorded in a replayable session history.

Supported LLM providers: OpenAI-compatible endpoints, Anthropic, Ollama
Execution backends: local host, SSH hosts from config, simulated demo fleet`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "Config profile to overlay (or set OPSBENCH_PROFILE)")
	rootCmd.PersistentFlags().StringArrayVar(&setFlags, "set", nil, "Override a config value by dot path (repeatable, e.g. --set llm.model=gpt-4o)")

	rootCmd.AddCommand(
		buildRunCmd(),
		buildSessionsCmd(),
		buildToolsCmd(),
		buildTargetsCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "opsbench %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// resolveConfigPath picks the effective config file: an explicit flag wins,
// otherwise the standard search order (OPSBENCH_CONFIG, working directory,
// user config dirs). Empty means no file, which loads pure defaults.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	return config.DefaultConfigPath()
}

func activeProfile() string {
	if strings.TrimSpace(profileName) != "" {
		return strings.TrimSpace(profileName)
	}
	return strings.TrimSpace(os.Getenv("OPSBENCH_PROFILE"))
}

// loadConfig loads the config file at path with the active profile overlay
// and any --set overrides applied.
func loadConfig(path string) (*config.Config, error) {
	overrides, err := parseSetFlags(setFlags)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path, config.LoadOptions{Profile: activeProfile(), Overrides: overrides})
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// parseSetFlags turns repeated --set key.path=value flags into a dot-path
// override map. Values parse as JSON when possible, so numbers and booleans
// keep their types; anything else stays a string.
func parseSetFlags(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	overrides := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q, want key.path=value", pair)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		overrides[key] = value
	}
	return overrides, nil
}

// openStore opens the session store selected by config.
func openStore(cfg *config.Config) (sessions.Store, error) {
	switch cfg.Session.Backend {
	case "postgres":
		return sessions.NewPostgresStoreFromDSN(cfg.Session.PostgresDSN, nil)
	default:
		return sessions.NewSQLiteStore(config.ExpandPath(cfg.Session.HistoryDB))
	}
}

// openArtifactStore opens the artifact store selected by config.
func openArtifactStore(ctx context.Context, cfg *config.Config) (artifacts.Store, error) {
	switch cfg.Artifacts.Backend {
	case "s3":
		return artifacts.NewS3Store(ctx, &artifacts.S3StoreConfig{
			Bucket:       cfg.Artifacts.S3.Bucket,
			Region:       cfg.Artifacts.S3.Region,
			Endpoint:     cfg.Artifacts.S3.Endpoint,
			Prefix:       cfg.Artifacts.S3.Prefix,
			UsePathStyle: cfg.Artifacts.S3.UsePathStyle,
		})
	default:
		return artifacts.NewLocalStore(cfg.ArtifactDir())
	}
}
