package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fathomline/agentcore/internal/domain/entity"
	"github.com/fathomline/agentcore/internal/domain/service"
	"github.com/fathomline/agentcore/internal/infrastructure/config"
	"github.com/fathomline/agentcore/internal/infrastructure/logger"
	"github.com/fathomline/agentcore/internal/infrastructure/prompt"
	"github.com/fathomline/agentcore/internal/infrastructure/sessionlog"
	"github.com/fathomline/agentcore/internal/interfaces/cli"
)

const (
	cliVersion = "0.2.0"
	cliName    = "agentcore"
)

// Classified exit codes.
const (
	exitOK            = 0
	exitInvalidUsage  = 2
	exitConfigError   = 3
	exitProviderError = 4
	exitInternalError = 5
)

func main() {
	var (
		flagProvider string
		flagModel    string
		flagConfig   string
		flagDebug    bool
		flagNoTools  bool
		flagResume   string
		flagContinue bool
	)

	rootCmd := &cobra.Command{
		Use:   cliName + " [message]",
		Short: "agentcore — an interactive terminal coding agent",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd, args, flagProvider, flagModel, flagConfig, flagDebug, flagNoTools, flagResume, flagContinue)
		},
	}

	rootCmd.PersistentFlags().StringVar(&flagProvider, "provider", "", "LLM provider id (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&flagModel, "model", "m", "", "model id (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a config file (overrides discovery)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVar(&flagNoTools, "no-tools", false, "disable all tool dispatch")
	rootCmd.PersistentFlags().StringVar(&flagResume, "resume", "", "resume a specific prior session by id")
	rootCmd.PersistentFlags().Lookup("resume").NoOptDefVal = "-" // `--resume` with no value means "the latest"
	rootCmd.PersistentFlags().BoolVar(&flagContinue, "continue", false, "continue the most recent session")

	askCmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "one-shot, non-interactive query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, strings.Join(args, " "), flagProvider, flagModel, flagConfig, flagDebug, flagNoTools, flagResume, flagContinue)
		},
	}
	rootCmd.AddCommand(askCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "environment diagnostics",
		RunE:  runDoctor,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", cliName, cliVersion)
		},
	})

	// Every other failure path (config load, provider wiring) calls os.Exit
	// directly with a classified code before returning, so an error surfacing
	// here is always a cobra usage problem (bad flags/args).
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitInvalidUsage)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return logger.NewLogger(logger.Config{Level: "debug", Format: "console", OutputPath: "stdout"})
	}
	return logger.NewLogger(logger.Config{Level: "error", Format: "console", OutputPath: "/dev/null"})
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

// resolveHistory implements --resume/--continue: load a prior session's
// turns as LLMMessage history and hand back a Session handle the caller
// appends new turns to. A nil Session means no resume was requested.
func resolveHistory(workspace, resume string, cont bool) (*sessionlog.Session, []service.LLMMessage, error) {
	switch {
	case cont, resume == "-":
		sess, err := sessionlog.Latest(workspace)
		if err != nil {
			return nil, nil, err
		}
		history, err := sess.History()
		return sess, history, err
	case resume != "":
		sess, err := sessionlog.Open(workspace, resume)
		if err != nil {
			return nil, nil, err
		}
		history, err := sess.History()
		return sess, history, err
	default:
		return nil, nil, nil
	}
}

func runInteractive(cmd *cobra.Command, args []string, provider, model, configPath string, debug, noTools bool, resume string, cont bool) error {
	log, err := newLogger(debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(exitInternalError)
	}
	defer log.Sync()

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(exitConfigError)
	}

	workspace, _ := os.Getwd()

	var history []service.LLMMessage
	var sess *sessionlog.Session
	if resume != "" || cont {
		sess, history, err = resolveHistory(workspace, resume, cont)
		if err != nil {
			fmt.Fprintf(os.Stderr, "resume error: %v\n", err)
			os.Exit(exitInvalidUsage)
		}
	}
	if sess == nil {
		sess, err = sessionlog.New(workspace)
		if err != nil {
			log.Warn("could not open session log, history will not persist", zap.Error(err))
		}
	}

	rt, err := buildRuntime(cfg, runtimeOpts{
		provider:  provider,
		model:     model,
		workspace: workspace,
		noTools:   noTools,
	}, cli.NewInteractivePrompter(), log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "provider/runtime error: %v\n", err)
		os.Exit(exitProviderError)
	}
	defer rt.Close()

	// Progress notes from a prior session, if the workspace keeps them.
	// Read-only: whether the agent also appends to this file is a config
	// choice, never a default.
	if notes, err := os.ReadFile(filepath.Join(workspace, ".progress.md")); err == nil && len(notes) > 0 {
		fmt.Printf("\n\033[2m── .progress.md ──\n%s\n──────────────────\033[0m\n", strings.TrimSpace(string(notes)))
	}

	initPrompt := ""
	if len(args) > 0 {
		initPrompt = strings.Join(args, " ")
	}

	replCfg := cli.REPLConfig{
		Model:      rt.cfg.Agent.DefaultModel,
		Workspace:  workspace,
		ToolCount:  rt.toolCount,
		InitPrompt: initPrompt,
		History:    history,
	}
	if sess != nil {
		replCfg.OnTurn = func(userMessage, assistantContent string) {
			_ = sess.Append(sessionlog.Turn{Role: "user", Content: userMessage})
			_ = sess.Append(sessionlog.Turn{Role: "assistant", Content: assistantContent})
			_ = sess.Touch(workspace)
		}
	}

	if err := cli.RunREPL(rt.agentLoop, rt.promptEngine, replCfg); err != nil {
		fmt.Fprintf(os.Stderr, "repl error: %v\n", err)
		os.Exit(exitInternalError)
	}
	return nil
}

func runAsk(cmd *cobra.Command, query, provider, model, configPath string, debug, noTools bool, resume string, cont bool) error {
	log, err := newLogger(debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(exitInternalError)
	}
	defer log.Sync()

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(exitConfigError)
	}

	workspace, _ := os.Getwd()

	var history []service.LLMMessage
	var sess *sessionlog.Session
	if resume != "" || cont {
		sess, history, err = resolveHistory(workspace, resume, cont)
		if err != nil {
			fmt.Fprintf(os.Stderr, "resume error: %v\n", err)
			os.Exit(exitInvalidUsage)
		}
	}

	rt, err := buildRuntime(cfg, runtimeOpts{
		provider:  provider,
		model:     model,
		workspace: workspace,
		noTools:   noTools,
	}, nil, log) // ask is non-interactive: a nil prompter makes the broker deny
	if err != nil {
		fmt.Fprintf(os.Stderr, "provider/runtime error: %v\n", err)
		os.Exit(exitProviderError)
	}
	defer rt.Close()

	systemPrompt := ""
	if rt.promptEngine != nil {
		systemPrompt = rt.promptEngine.Assemble(prompt.PromptContext{
			Channel:     "cli",
			ModelName:   rt.cfg.Agent.DefaultModel,
			UserMessage: query,
			Workspace:   workspace,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	result, eventCh := rt.agentLoop.Run(ctx, systemPrompt, query, history, "")
	for event := range eventCh {
		if event.Type == entity.EventError {
			fmt.Fprintln(os.Stderr, event.Error)
			os.Exit(exitInternalError)
		}
	}

	fmt.Println(result.FinalContent)

	if sess == nil {
		sess, _ = sessionlog.New(workspace)
	}
	if sess != nil {
		_ = sess.Append(sessionlog.Turn{Role: "user", Content: query})
		_ = sess.Append(sessionlog.Turn{Role: "assistant", Content: result.FinalContent})
		_ = sess.Touch(workspace)
	}

	return nil
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("agentcore doctor v%s\n\n", cliVersion)

	checks := []struct {
		name  string
		check func() (string, bool)
	}{
		{"config file", checkConfig},
		{"go toolchain", checkGo},
	}

	allOK := true
	for _, c := range checks {
		val, ok := c.check()
		icon := "\033[92m✓\033[0m"
		if !ok {
			icon = "\033[91m✗\033[0m"
			allOK = false
		}
		fmt.Printf("  %s %s: %s\n", icon, c.name, val)
	}

	fmt.Println()
	if allOK {
		fmt.Println("all checks passed")
	} else {
		fmt.Println("one or more checks failed, see above")
	}
	return nil
}

func checkConfig() (string, bool) {
	path := os.Getenv("HOME") + "/.agentcore/config.yaml"
	if _, err := os.Stat(path); err == nil {
		return path, true
	}
	return "no ~/.agentcore/config.yaml (defaults will be used)", true
}

func checkGo() (string, bool) {
	for _, p := range []string{"/usr/local/go/bin/go", "/usr/bin/go", "/usr/lib/go/bin/go"} {
		if _, err := os.Stat(p); err == nil {
			return "found", true
		}
	}
	return "not found on PATH", false
}
