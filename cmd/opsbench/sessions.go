package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/opsbench/internal/sessions"
)

// buildSessionsCmd creates the "sessions" command group.
func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored sessions",
	}
	cmd.AddCommand(
		buildSessionsListCmd(),
		buildSessionsShowCmd(),
		buildSessionsDeleteCmd(),
		buildSessionsExportCmd(),
	)
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd, resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	return cmd
}

func buildSessionsShowCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session's event history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsShow(cmd, resolveConfigPath(configPath), args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	return cmd
}

func buildSessionsDeleteCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsDelete(cmd, resolveConfigPath(configPath), args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	return cmd
}

func buildSessionsExportCmd() *cobra.Command {
	var (
		configPath string
		format     string
	)
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export a session as a runbook, markdown log, or JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsExport(cmd, resolveConfigPath(configPath), args[0], format)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "Export format: runbook, markdown, json")
	return cmd
}

func runSessionsList(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	infos, err := store.ListSessions(cmd.Context())
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(infos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tUPDATED\tMETADATA")
	for _, info := range infos {
		metadata := "-"
		if len(info.Metadata) > 0 {
			if data, err := json.Marshal(info.Metadata); err == nil {
				metadata = string(data)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			info.ID,
			info.CreatedAt.Format(time.RFC3339),
			info.UpdatedAt.Format(time.RFC3339),
			metadata,
		)
	}
	return w.Flush()
}

func runSessionsShow(cmd *cobra.Command, configPath, sessionID string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	info, err := store.GetSession(cmd.Context(), sessionID)
	if err != nil {
		return err
	}
	events, err := store.GetEvents(cmd.Context(), sessionID, "")
	if err != nil {
		return fmt.Errorf("get events: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session %s (created %s)\n", info.ID, info.CreatedAt.Format(time.RFC3339))
	formatEvents(out, events)
	return nil
}

func runSessionsDelete(cmd *cobra.Command, configPath, sessionID string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteSession(cmd.Context(), sessionID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session: %s\n", sessionID)
	return nil
}

func runSessionsExport(cmd *cobra.Command, configPath, sessionID, format string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if _, err := store.GetSession(cmd.Context(), sessionID); err != nil {
		return err
	}
	events, err := store.GetEvents(cmd.Context(), sessionID, "")
	if err != nil {
		return fmt.Errorf("get events: %w", err)
	}

	output, err := exportSession(events, format)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), output)
	return nil
}

// formatEvents prints one line per event: local time, type, and a short
// summary of the payload.
func formatEvents(w io.Writer, events []*sessions.SessionEvent) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No events.")
		return
	}
	for _, ev := range events {
		fmt.Fprintf(w, "  %s %20s  %s\n",
			ev.Timestamp.Local().Format("15:04:05"), ev.EventType, summarizeEvent(ev))
	}
}

func summarizeEvent(ev *sessions.SessionEvent) string {
	payload := ev.Payload
	switch ev.EventType {
	case sessions.EventUserMessage, sessions.EventAssistantMessage:
		return clip(stringField(payload, "content"), 100)
	case sessions.EventToolCallRequest:
		args, _ := json.Marshal(payload["arguments"])
		return fmt.Sprintf("%s(%s)", stringField(payload, "tool_name"), clip(string(args), 80))
	case sessions.EventToolCallResult:
		status := "FAIL"
		if ok, _ := payload["success"].(bool); ok {
			status = "OK"
		}
		return fmt.Sprintf("%s -> %s", stringField(payload, "tool_name"), status)
	case sessions.EventConfirmation:
		verdict := "denied"
		if ok, _ := payload["confirmed"].(bool); ok {
			verdict = "confirmed"
		}
		return fmt.Sprintf("%s: %s", stringField(payload, "tool_name"), verdict)
	case sessions.EventModelSwitch:
		return fmt.Sprintf("%s -> %s", stringField(payload, "from_model"), stringField(payload, "to_model"))
	case sessions.EventProtocolError:
		return clip(stringField(payload, "message"), 100)
	default:
		return ""
	}
}

// exportSession renders a session's events in the requested format. runbook
// turns the history into numbered investigation steps; markdown is a
// chronological log; json is the raw events.
func exportSession(events []*sessions.SessionEvent, format string) (string, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal events: %w", err)
		}
		return string(data), nil
	case "runbook":
		return exportRunbook(events), nil
	case "markdown":
		return exportMarkdown(events), nil
	default:
		return "", fmt.Errorf("unknown export format: %s (want runbook, markdown, or json)", format)
	}
}

func exportRunbook(events []*sessions.SessionEvent) string {
	var lines []string
	lines = append(lines, "# Session Runbook\n")
	step := 0
	for _, ev := range events {
		payload := ev.Payload
		switch ev.EventType {
		case sessions.EventUserMessage:
			step++
			lines = append(lines, fmt.Sprintf("## Step %d: User Request\n", step))
			lines = append(lines, stringField(payload, "content")+"\n")
		case sessions.EventToolCallRequest:
			lines = append(lines, fmt.Sprintf("### Action: %s\n", stringField(payload, "tool_name")))
			args, _ := json.MarshalIndent(payload["arguments"], "", "  ")
			lines = append(lines, fmt.Sprintf("```json\n%s\n```\n", args))
		case sessions.EventToolCallResult:
			outcome := "Failed"
			if ok, _ := payload["success"].(bool); ok {
				outcome = "Success"
			}
			lines = append(lines, fmt.Sprintf("**Result:** %s\n", outcome))
			if content := stringField(payload, "content"); content != "" {
				lines = append(lines, fmt.Sprintf("```\n%s\n```\n", clip(content, 500)))
			}
		case sessions.EventAssistantMessage:
			lines = append(lines, "### Assistant Response\n")
			lines = append(lines, stringField(payload, "content")+"\n")
		}
	}
	return strings.Join(lines, "\n")
}

func exportMarkdown(events []*sessions.SessionEvent) string {
	var lines []string
	lines = append(lines, "# Session Log\n")
	for _, ev := range events {
		payload := ev.Payload
		lines = append(lines, fmt.Sprintf("**%s** - `%s`\n", ev.Timestamp.Format(time.RFC3339), ev.EventType))
		switch ev.EventType {
		case sessions.EventUserMessage:
			lines = append(lines, "> "+stringField(payload, "content")+"\n")
		case sessions.EventAssistantMessage:
			lines = append(lines, stringField(payload, "content")+"\n")
		case sessions.EventToolCallRequest, sessions.EventToolCallResult:
			data, _ := json.MarshalIndent(payload, "", "  ")
			lines = append(lines, fmt.Sprintf("```json\n%s\n```\n", data))
		}
	}
	return strings.Join(lines, "\n")
}

func stringField(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
