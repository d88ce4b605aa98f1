package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/opsbench/internal/artifacts"
	"github.com/haasonsaas/opsbench/internal/backends"
	"github.com/haasonsaas/opsbench/internal/config"
	"github.com/haasonsaas/opsbench/internal/llm"
	"github.com/haasonsaas/opsbench/internal/llm/providers"
	"github.com/haasonsaas/opsbench/internal/observability"
	"github.com/haasonsaas/opsbench/internal/orchestrator"
	"github.com/haasonsaas/opsbench/internal/policy"
	"github.com/haasonsaas/opsbench/internal/sessions"
	"github.com/haasonsaas/opsbench/internal/tools"
	"github.com/haasonsaas/opsbench/pkg/models"
)

// buildRunCmd creates the "run" command that starts an interactive session.
func buildRunCmd() *cobra.Command {
	var (
		configPath string
		provider   string
		sessionID  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an interactive assistant session",
		Long: `Start an interactive assistant session.

The session will:
1. Load configuration and the selected profile
2. Open the session history and artifact stores
3. Register builtin and backend bridge tools behind the policy engine
4. Connect the configured LLM provider
5. Read input until /quit, streaming assistant output as it arrives

Tool calls above the policy's confirmation line prompt before running;
without a terminal on stdin they are denied.`,
		Example: `  # Start with defaults
  opsbench run

  # Resume a session with a different provider
  opsbench run --session 4f7c1db2 --provider anthropic

  # Raise the risk ceiling for this session only
  opsbench run --set policy.max_risk=WRITE`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, resolveConfigPath(configPath), provider, sessionID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: standard search order)")
	cmd.Flags().StringVar(&provider, "provider", "", "LLM provider to activate for this session")
	cmd.Flags().StringVar(&sessionID, "session", "", "Resume an existing session by ID")
	return cmd
}

// runChat implements the run command: wire the stack, watch the config file
// for policy pattern changes, and hand control to the interactive loop.
func runChat(cmd *cobra.Command, configPath, providerName, sessionID string) error {
	overrides, err := parseSetFlags(setFlags)
	if err != nil {
		return err
	}
	loadOpts := config.LoadOptions{Profile: activeProfile(), Overrides: overrides}
	cfg, err := config.Load(configPath, loadOpts)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	out := cmd.OutOrStdout()
	stack, err := buildStack(ctx, cfg, providerName, sessionID, out)
	if err != nil {
		return err
	}
	defer stack.Close()

	loop := &chatLoop{
		stack:       stack,
		in:          bufio.NewReader(cmd.InOrStdin()),
		out:         out,
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
	}
	stack.orch.SetConfirmFunc(loop.confirmTool)

	// Policy patterns follow the config file while the session runs.
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, loadOpts, stack.reloadPolicyPatterns,
			config.WithWatchLogger(stack.logger.Slog()))
		if err != nil {
			stack.logger.Warn(ctx, "config watcher unavailable", "error", err)
		} else if err := watcher.Start(ctx); err != nil {
			stack.logger.Warn(ctx, "config watcher unavailable", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	return loop.run(ctx)
}

// chatStack is everything a live session needs, wired in dependency order.
type chatStack struct {
	cfg     *config.Config
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	store    sessions.Store
	session  *sessions.Session
	registry *tools.Registry
	engine   *policy.Engine
	router   *llm.Router
	orch     *orchestrator.Orchestrator
	sweeper  *sessions.Sweeper

	stopTracing func(context.Context) error
}

// buildStack assembles the session stack from config: stores, session,
// backends, tools, policy, provider, orchestrator, retention. Provider setup
// failures are warnings, not errors; every other failure tears down what was
// built so far.
func buildStack(ctx context.Context, cfg *config.Config, providerName, sessionID string, out io.Writer) (*chatStack, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:          cfg.Observability.Logging.Level,
		Format:         cfg.Observability.Logging.Format,
		AddSource:      cfg.Observability.Logging.AddSource,
		RedactPatterns: cfg.Observability.Logging.RedactPatterns,
	})
	metrics := observability.NewMetrics()
	tracer, stopTracing := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Observability.Tracing.Environment,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		EnableInsecure: cfg.Observability.Tracing.Insecure,
	})

	store, err := openStore(cfg)
	if err != nil {
		_ = stopTracing(ctx)
		return nil, fmt.Errorf("open session store: %w", err)
	}

	stack := &chatStack{
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		tracer:      tracer,
		store:       store,
		stopTracing: stopTracing,
	}

	artifactStore, err := openArtifactStore(ctx, cfg)
	if err != nil {
		stack.Close()
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	counter := llm.NewTokenCounter(cfg.LLM.Model)
	session := sessions.NewSession(store, artifactStore, counter)
	if sessionID != "" {
		if err := session.Resume(ctx, sessionID); err != nil {
			stack.Close()
			return nil, fmt.Errorf("resume session %s: %w", sessionID, err)
		}
	} else {
		profile := activeProfile()
		if profile == "" {
			profile = "default"
		}
		if _, err := session.Start(ctx, map[string]any{"profile": profile}); err != nil {
			stack.Close()
			return nil, fmt.Errorf("start session: %w", err)
		}
	}
	stack.session = session

	backendRouter := buildBackendRouter(ctx, cfg, logger)

	registry := tools.NewRegistry()
	if err := registerConfiguredTools(registry, cfg, backendRouter, artifactStore); err != nil {
		stack.Close()
		return nil, fmt.Errorf("register tools: %w", err)
	}
	stack.registry = registry

	maxRisk, err := models.ParseRiskLevel(cfg.Policy.MaxRisk)
	if err != nil {
		stack.Close()
		return nil, err
	}
	engine, err := policy.NewEngine(policy.Config{
		MaxRisk:            maxRisk,
		ConfirmDestructive: cfg.Policy.ConfirmDestructive,
		ConfirmShell:       cfg.Policy.ConfirmShell,
		ConfirmWrite:       cfg.Policy.ConfirmWrite,
		BlockedPatterns:    cfg.Policy.BlockedPatterns,
		RedactionPatterns:  cfg.Policy.RedactionPatterns,
		AuditLogPath:       config.ExpandPath(cfg.Policy.AuditLogPath),
		AuditMaxSizeBytes:  int64(cfg.Policy.AuditMaxSizeMB) * 1024 * 1024,
		AuditKeepFiles:     cfg.Policy.AuditKeepFiles,
	})
	if err != nil {
		stack.Close()
		return nil, fmt.Errorf("policy engine: %w", err)
	}
	stack.engine = engine

	router := llm.NewRouter(logger.Slog())
	if provider, err := buildProvider(cfg); err != nil {
		fmt.Fprintf(out, "Warning: could not set up LLM provider: %v\n", err)
		fmt.Fprintln(out, "Chat will not work without a configured LLM provider.")
	} else {
		router.RegisterProvider(cfg.LLM.Name, provider)
	}
	stack.router = router

	if providerName != "" && providerName != cfg.LLM.Name {
		if err := router.SetActive(providerName); err != nil {
			fmt.Fprintf(out, "Warning: provider %q not found, using default.\n", providerName)
		} else {
			ev := sessions.NewModelSwitchEvent(session.TurnID(), cfg.LLM.Name, providerName)
			if err := session.AppendEvent(ctx, ev); err != nil {
				logger.Warn(ctx, "failed to record model switch", "error", err)
			}
		}
	}

	systemPrompt := buildSystemPrompt(registry.List(0), "", nil)

	orch := orchestrator.New(session, registry, router, engine, orchestrator.Config{
		SystemPrompt: systemPrompt,
		ToolTimeout:  time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		MaxTurns:     cfg.Session.MaxTurns,
	})
	orch.SetLogger(logger)
	orch.SetMetrics(metrics)
	orch.SetTracer(tracer)
	stack.orch = orch

	if cfg.Session.IdleTimeoutSeconds > 0 {
		sweeper, err := sessions.NewSweeper(store,
			time.Duration(cfg.Session.IdleTimeoutSeconds)*time.Second,
			cfg.Session.RetentionSchedule,
			sessions.WithSweeperLogger(logger.Slog()))
		if err != nil {
			logger.Warn(ctx, "retention sweeper disabled", "error", err)
		} else {
			sweeper.Start(ctx)
			stack.sweeper = sweeper
		}
	}

	return stack, nil
}

// Close shuts the stack down in reverse order. Safe on a partially built
// stack.
func (s *chatStack) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.sweeper != nil {
		if err := s.sweeper.Stop(ctx); err != nil {
			s.logger.Warn(ctx, "retention sweeper stop failed", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn(ctx, "session store close failed", "error", err)
		}
	}
	if s.stopTracing != nil {
		_ = s.stopTracing(ctx)
	}
}

// reloadPolicyPatterns applies a reloaded config's pattern sets to the live
// policy engine. Only patterns hot-reload; the risk ceiling and confirmation
// flags stay fixed for the life of the session.
func (s *chatStack) reloadPolicyPatterns(next *config.Config) {
	ctx := context.Background()
	if err := s.engine.UpdatePatterns(next.Policy.BlockedPatterns, next.Policy.RedactionPatterns); err != nil {
		s.logger.Warn(ctx, "policy pattern reload failed", "error", err)
		return
	}
	s.logger.Info(ctx, "policy patterns reloaded",
		"blocked", len(next.Policy.BlockedPatterns),
		"redaction", len(next.Policy.RedactionPatterns))
}

// buildBackendRouter wires the execution backends: the local host is the
// default, and each configured SSH host registers under both its name and
// its address. Hosts that fail to connect are logged and skipped.
func buildBackendRouter(ctx context.Context, cfg *config.Config, logger *observability.Logger) *backends.Router {
	router := backends.NewRouter()
	router.SetDefault(backends.NewLocalBackend())

	for _, host := range cfg.Backends.SSHHosts {
		password := ""
		if host.PasswordEnv != "" {
			password = os.Getenv(host.PasswordEnv)
		}
		ssh := backends.NewSSHBackend(backends.SSHConfig{
			Host:     host.Host,
			Port:     host.Port,
			Username: host.Username,
			KeyPath:  config.ExpandPath(host.KeyPath),
			Password: password,
			Timeout:  time.Duration(host.TimeoutSeconds) * time.Second,
		})
		if err := ssh.Connect(ctx); err != nil {
			logger.Warn(ctx, "SSH connect failed", "name", host.Name, "host", host.Host, "error", err)
			continue
		}
		router.Register(host.Name, ssh)
		router.Register(host.Host, ssh)
		logger.Info(ctx, "SSH connected", "name", host.Name, "host", host.Host)
	}

	return router
}

// registerConfiguredTools fills the registry with the builtin set and the
// backend bridge tools. tools.builtin is an allowlist over the builtins
// (empty means all); tools.disabled removes any tool by name and wins.
func registerConfiguredTools(registry *tools.Registry, cfg *config.Config, router *backends.Router, store artifacts.Store) error {
	allowed := nameSet(cfg.Tools.Builtin)
	disabled := nameSet(cfg.Tools.Disabled)

	builtin := tools.NewRegistry()
	if err := tools.RegisterBuiltins(builtin); err != nil {
		return err
	}
	for _, tool := range builtin.List(0) {
		name := tool.Name()
		if disabled[name] || (len(allowed) > 0 && !allowed[name]) {
			continue
		}
		if err := registry.Register(tool); err != nil {
			return err
		}
	}

	bridge := tools.NewRegistry()
	if err := backends.RegisterBridgeTools(bridge, router, store); err != nil {
		return err
	}
	for _, tool := range bridge.List(0) {
		if disabled[tool.Name()] {
			continue
		}
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func nameSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

// buildProvider constructs the provider named by config. Unknown names fall
// back to the OpenAI-compatible client, which covers vLLM, LM Studio and
// other local endpoints; those accept any API key, hence the placeholder.
func buildProvider(cfg *config.Config) (llm.Provider, error) {
	apiKey := ""
	if cfg.LLM.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.LLM.APIKeyEnv)
	}

	switch cfg.LLM.Name {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:     apiKey,
			BaseURL:    cfg.LLM.APIBase,
			Model:      cfg.LLM.Model,
			MaxContext: cfg.LLM.MaxContextTokens,
			MaxOutput:  cfg.LLM.MaxOutputTokens,
		})
	case "ollama":
		return providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:    cfg.LLM.APIBase,
			Model:      cfg.LLM.Model,
			Timeout:    time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
			MaxContext: cfg.LLM.MaxContextTokens,
			MaxOutput:  cfg.LLM.MaxOutputTokens,
		}), nil
	default:
		if apiKey == "" {
			apiKey = "not-needed"
		}
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:     apiKey,
			BaseURL:    cfg.LLM.APIBase,
			Model:      cfg.LLM.Model,
			MaxContext: cfg.LLM.MaxContextTokens,
			MaxOutput:  cfg.LLM.MaxOutputTokens,
		}), nil
	}
}

const chatHelp = `  Commands:
  /quit     - Exit the chat
  /history  - Show session events
  /tools    - List available tools
  /switch   - Switch LLM provider
  /help     - Show this help
`

// chatLoop drives the interactive session: reads input, dispatches inline
// commands, and streams orchestrator output.
type chatLoop struct {
	stack       *chatStack
	in          *bufio.Reader
	out         io.Writer
	interactive bool
	done        bool
}

func (l *chatLoop) run(ctx context.Context) error {
	fmt.Fprintf(l.out, "Opsbench - Support & Diagnostics Assistant (session %s)\n", l.stack.session.ID())
	fmt.Fprintln(l.out, "Type /help for commands, /quit to exit.")
	fmt.Fprintln(l.out)

	for !l.done {
		fmt.Fprint(l.out, "you> ")
		line, readErr := l.in.ReadString('\n')

		if input := strings.TrimSpace(line); input != "" {
			if strings.HasPrefix(input, "/") && l.handleCommand(ctx, input) {
				continue
			}
			fmt.Fprint(l.out, "assistant> ")
			l.handleInput(ctx, input)
		}

		if readErr != nil || ctx.Err() != nil {
			if !l.done {
				fmt.Fprintln(l.out, "\nGoodbye.")
			}
			return nil
		}
	}
	return nil
}

// handleCommand runs one inline command and reports whether it was handled.
// Unhandled slash-prefixed input still goes to the model.
func (l *chatLoop) handleCommand(ctx context.Context, command string) bool {
	name, arg, _ := strings.Cut(command, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/quit":
		l.done = true
		fmt.Fprintln(l.out, "Goodbye.")
	case "/history":
		events, err := l.stack.session.Events(ctx, "")
		if err != nil {
			fmt.Fprintf(l.out, "  Error: %v\n", err)
			return true
		}
		formatEvents(l.out, events)
	case "/tools":
		printToolTable(l.out, l.stack.registry.List(0))
	case "/switch":
		l.switchProvider(ctx, arg)
	case "/help":
		fmt.Fprint(l.out, chatHelp)
	default:
		return false
	}
	return true
}

// switchProvider changes the router's active provider and records the switch
// in the session history.
func (l *chatLoop) switchProvider(ctx context.Context, name string) {
	router := l.stack.router
	if name == "" {
		fmt.Fprintf(l.out, "  Available providers: %s\n", strings.Join(router.ProviderNames(), ", "))
		fmt.Fprintf(l.out, "  Active: %s\n", router.ActiveName())
		return
	}

	from := router.ActiveName()
	if err := router.SetActive(name); err != nil {
		fmt.Fprintf(l.out, "  Error: %v\n", err)
		return
	}
	if from != name {
		ev := sessions.NewModelSwitchEvent(l.stack.session.TurnID(), from, name)
		if err := l.stack.session.AppendEvent(ctx, ev); err != nil {
			l.stack.logger.Warn(ctx, "failed to record model switch", "error", err)
		}
	}
	fmt.Fprintf(l.out, "  Switched to provider: %s\n", name)
}

// handleInput runs one user input through the orchestrator and streams the
// response as it arrives.
func (l *chatLoop) handleInput(ctx context.Context, input string) {
	chunks, err := l.stack.orch.Run(ctx, input)
	if err != nil {
		fmt.Fprintf(l.out, "\nError: %v\n", err)
		return
	}

	for chunk := range chunks {
		if chunk.Err != nil {
			if errors.Is(chunk.Err, context.Canceled) {
				fmt.Fprintln(l.out, "\nInterrupted.")
			} else {
				fmt.Fprintf(l.out, "\nError: %v\n", chunk.Err)
			}
			return
		}
		fmt.Fprint(l.out, chunk.Delta)
	}
	fmt.Fprintln(l.out)
}

// confirmTool renders the pending call and asks for approval. Without a
// terminal on stdin the call is denied; approval has to come from a person.
func (l *chatLoop) confirmTool(ctx context.Context, toolName string, call models.ToolCall) (bool, error) {
	risk := "UNKNOWN"
	if tool, ok := l.stack.registry.Get(toolName); ok {
		risk = tool.RiskLevel().String()
	}

	fmt.Fprintln(l.out)
	fmt.Fprintln(l.out, "Tool call requires confirmation")
	fmt.Fprintf(l.out, "  Tool:   %s\n", toolName)
	fmt.Fprintf(l.out, "  Risk:   %s\n", risk)
	if target, ok := call.Arguments["target"].(string); ok && target != "" {
		fmt.Fprintf(l.out, "  Target: %s\n", target)
	}
	if args, err := json.MarshalIndent(call.Arguments, "  ", "  "); err == nil {
		fmt.Fprintf(l.out, "  Args:   %s\n", args)
	}

	if !l.interactive {
		fmt.Fprintln(l.out, "  No terminal attached, denying.")
		return false, nil
	}

	fmt.Fprint(l.out, "\n  Proceed? [y/N]: ")
	line, err := l.in.ReadString('\n')
	if err != nil {
		return false, nil
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
