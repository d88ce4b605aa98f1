package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/opsbench/internal/artifacts"
	"github.com/haasonsaas/opsbench/internal/backends"
	"github.com/haasonsaas/opsbench/internal/config"
	"github.com/haasonsaas/opsbench/internal/tools"
	"github.com/haasonsaas/opsbench/pkg/models"
)

// buildToolsCmd creates the "tools" command group.
func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tool registry",
	}
	cmd.AddCommand(buildToolsListCmd(), buildToolsInfoCmd())
	return cmd
}

func buildToolsListCmd() *cobra.Command {
	var (
		configPath string
		maxRisk    string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered tools with risk and privacy levels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsList(cmd, resolveConfigPath(configPath), maxRisk)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVar(&maxRisk, "max-risk", "", "Only show tools at or below this risk level")
	return cmd
}

func buildToolsInfoCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "info <tool-name>",
		Short: "Show a tool's details and parameter schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsInfo(cmd, resolveConfigPath(configPath), args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	return cmd
}

// buildTargetsCmd creates the "targets" command.
func buildTargetsCmd() *cobra.Command {
	var (
		configPath string
		demo       bool
	)
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List execution targets and their status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTargets(cmd, resolveConfigPath(configPath), demo)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().BoolVar(&demo, "demo", false, "Include the simulated demo fleet")
	return cmd
}

// listingRegistry builds the same tool set a session would get, backed by the
// demo backend and a throwaway artifact directory. cleanup removes the
// scratch directory.
func listingRegistry(cfg *config.Config) (registry *tools.Registry, cleanup func(), err error) {
	scratch, err := os.MkdirTemp("", "opsbench-tools-")
	if err != nil {
		return nil, nil, err
	}
	cleanup = func() { os.RemoveAll(scratch) }

	store, err := artifacts.NewLocalStore(scratch)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	router := backends.NewRouter()
	router.SetDefault(backends.NewDemoBackend())

	registry = tools.NewRegistry()
	if err := registerConfiguredTools(registry, cfg, router, store); err != nil {
		cleanup()
		return nil, nil, err
	}
	return registry, cleanup, nil
}

func runToolsList(cmd *cobra.Command, configPath, maxRisk string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	registry, cleanup, err := listingRegistry(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	var filter models.RiskLevel
	if maxRisk != "" {
		filter, err = models.ParseRiskLevel(maxRisk)
		if err != nil {
			return err
		}
	}

	printToolTable(cmd.OutOrStdout(), registry.List(filter))
	return nil
}

func runToolsInfo(cmd *cobra.Command, configPath, toolName string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	registry, cleanup, err := listingRegistry(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	tool, ok := registry.Get(toolName)
	if !ok {
		return fmt.Errorf("tool not found: %s", toolName)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Tool: %s\n", tool.Name())
	fmt.Fprintf(out, "  Risk:          %s\n", tool.RiskLevel())
	fmt.Fprintf(out, "  Privacy:       %s\n", tool.PrivacyScope())
	secrets := "none"
	if fields := tool.SecretFields(); len(fields) > 0 {
		secrets = strings.Join(fields, ", ")
	}
	fmt.Fprintf(out, "  Secret fields: %s\n", secrets)
	fmt.Fprintf(out, "\n%s\n", tool.Description())

	schema, err := json.MarshalIndent(tool.Parameters(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	fmt.Fprintf(out, "\n%s\n", schema)
	return nil
}

func runTargets(cmd *cobra.Command, configPath string, demo bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tBACKEND\tSTATUS")

	local := backends.NewLocalBackend()
	status := "online"
	if _, err := local.ResolveTarget(cmd.Context(), "local"); err != nil {
		status = err.Error()
	}
	fmt.Fprintf(w, "local\tlocal\t%s\n", status)

	for _, host := range cfg.Backends.SSHHosts {
		port := host.Port
		if port == 0 {
			port = 22
		}
		ssh := backends.NewSSHBackend(backends.SSHConfig{
			Host:     host.Host,
			Port:     host.Port,
			Username: host.Username,
			KeyPath:  config.ExpandPath(host.KeyPath),
		})
		status := "online"
		if err := ssh.Connect(cmd.Context()); err != nil {
			status = fmt.Sprintf("unreachable (%v)", err)
		}
		fmt.Fprintf(w, "%s\tssh %s:%d\t%s\n", host.Name, host.Host, port, status)
	}

	if demo {
		backend := backends.NewDemoBackend()
		for _, name := range backend.Targets() {
			info, err := backend.ResolveTarget(cmd.Context(), name)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "%s\tdemo\t%v\n", name, info["status"])
		}
	}

	return w.Flush()
}

// printToolTable writes the tool inventory as an aligned table.
func printToolTable(out io.Writer, toolset []tools.Tool) {
	if len(toolset) == 0 {
		fmt.Fprintln(out, "No tools registered.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tRISK\tPRIVACY\tDESCRIPTION")
	for _, t := range toolset {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name(), t.RiskLevel(), t.PrivacyScope(), t.Description())
	}
	w.Flush()
}
