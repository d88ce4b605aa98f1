package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/opsbench/internal/config"
)

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(
		buildConfigShowCmd(),
		buildConfigValidateCmd(),
		buildConfigSchemaCmd(),
	)
	return cmd
}

func buildConfigShowCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Show the effective configuration after applying the config file, the
selected profile, OPSBENCH_* environment variables, and --set overrides.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd, resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and summarize key settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for the configuration document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}
}

func runConfigShow(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	fmt.Fprintln(out, "Config is valid.")
	if configPath != "" {
		fmt.Fprintf(out, "  Loaded from: %s\n", configPath)
	} else {
		fmt.Fprintln(out, "  No config file found, using defaults.")
	}
	fmt.Fprintf(out, "  LLM provider: %s (%s)\n", cfg.LLM.Name, cfg.LLM.Model)
	fmt.Fprintf(out, "  Policy max risk: %s\n", cfg.Policy.MaxRisk)
	fmt.Fprintf(out, "  Session backend: %s\n", cfg.Session.Backend)
	return nil
}

func runConfigSchema(cmd *cobra.Command) error {
	data, err := config.JSONSchema()
	if err != nil {
		return fmt.Errorf("build schema: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
