package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathomline/agentcore/internal/domain/approval"
	ctxmgr "github.com/fathomline/agentcore/internal/domain/context"
	domainledger "github.com/fathomline/agentcore/internal/domain/ledger"
	"github.com/fathomline/agentcore/internal/domain/policy"
	"github.com/fathomline/agentcore/internal/domain/service"
	domaintool "github.com/fathomline/agentcore/internal/domain/tool"
	"github.com/fathomline/agentcore/internal/infrastructure/config"
	"github.com/fathomline/agentcore/internal/infrastructure/eventbus"
	"github.com/fathomline/agentcore/internal/infrastructure/llm"
	"github.com/fathomline/agentcore/internal/infrastructure/prompt"
	"github.com/fathomline/agentcore/internal/infrastructure/pty"
	"github.com/fathomline/agentcore/internal/infrastructure/sandbox"
	infratool "github.com/fathomline/agentcore/internal/infrastructure/tool"

	// Provider factories self-register via init(); importing for side effects.
	_ "github.com/fathomline/agentcore/internal/infrastructure/llm/anthropic"
	_ "github.com/fathomline/agentcore/internal/infrastructure/llm/openai"
)

// runtimeOpts carries the CLI-flag overrides that shape a runtime.
type runtimeOpts struct {
	provider  string
	model     string
	workspace string
	noTools   bool
	noApprove bool
}

// runtime bundles everything a CLI command needs to run a turn.
type runtime struct {
	cfg          *config.Config
	agentLoop    *service.AgentLoop
	promptEngine *prompt.PromptEngine
	registry     domaintool.Registry
	toolCount    int
	pty          *pty.Manager                 // nil if --no-tools or pty.enabled=false
	trajectory   *eventbus.TrajectoryRecorder // nil if telemetry.trajectory_enabled=false
}

// Close force-closes every owned PTY session and flushes the trajectory
// sink — call on Run Loop shutdown.
func (r *runtime) Close() {
	if r.pty != nil {
		r.pty.CloseAll()
	}
	if r.trajectory != nil {
		_ = r.trajectory.Close()
	}
}

// buildRuntime wires everything a turn needs: tool registry, sandbox,
// policy gate, approval broker, decision ledger, trajectory sink, LLM
// router/providers, and the agent loop itself. Interactive and one-shot
// ("ask") modes share this — only the outer input loop differs.
func buildRuntime(cfg *config.Config, opts runtimeOpts, prompter approval.Prompter, logger *zap.Logger) (*runtime, error) {
	workspace := opts.workspace
	if workspace == "" {
		workspace, _ = os.Getwd()
	}

	sandboxCfg := sandbox.DefaultConfig()
	sandboxCfg.WorkDir = workspace
	sb, err := sandbox.NewProcessSandbox(sandboxCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("sandbox init: %w", err)
	}

	registry := domaintool.NewInMemoryRegistry()
	toolCount := 0
	var ptyMgr *pty.Manager
	if !opts.noTools {
		ptyCfg := pty.DefaultConfig()
		ptyCfg.DefaultRows = cfg.PTY.DefaultRows
		ptyCfg.DefaultCols = cfg.PTY.DefaultCols
		ptyCfg.MaxSessions = cfg.PTY.MaxSessions
		if cfg.PTY.CommandTimeoutSeconds > 0 {
			ptyCfg.CommandTimeout = time.Duration(cfg.PTY.CommandTimeoutSeconds) * time.Second
		}
		if cfg.PTY.Enabled {
			ptyMgr = pty.NewManager(ptyCfg, logger)
		}
		toolCount = infratool.RegisterAllTools(infratool.ToolLayerDeps{
			Registry:  registry,
			Logger:    logger,
			Sandbox:   sb,
			PTY:       ptyMgr,
			Workspace: workspace,
		})
	}

	policyTable := cfg.Tools.ToPolicyTable()
	if opts.noApprove {
		// YOLO mode: every tool the policy would otherwise prompt for is
		// allowed outright instead of being routed to a (possibly headless)
		// broker that would just deny it.
		policyTable.DefaultPolicy = "allow"
	}
	gate := policy.NewGate(workspace, policyTable, logger)

	if opts.noApprove {
		prompter = nil // headless allow is handled by the table above, not the broker
	}
	broker := approval.NewBroker(prompter, gate, 5*time.Minute, logger)

	var recorder *eventbus.TrajectoryRecorder
	if cfg.Telemetry.TrajectoryEnabled {
		trajDir := filepath.Join(workspace, ".agentcore", "trajectory")
		rec, err := eventbus.NewTrajectoryRecorder(trajDir, uuid.New().String(), logger)
		if err != nil {
			logger.Warn("trajectory sink unavailable, running without it", zap.Error(err))
		} else {
			recorder = rec
			broker.SetObserver(func(stage string, req approval.Request, d approval.Decision) {
				switch stage {
				case "requested":
					recorder.Emit(eventbus.TrajApprovalRequested, map[string]any{
						"tool":   req.ToolName,
						"reason": req.Reason,
					})
				case "decided":
					recorder.Emit(eventbus.TrajApprovalDecision, map[string]any{
						"tool":    req.ToolName,
						"outcome": d.Outcome.String(),
					})
				}
			})
		}
	}

	// Fold old ledger entries deterministically — no LLM round-trip just
	// to shrink bookkeeping.
	summarizer := ctxmgr.NewSimpleSummarizer()
	ledger := domainledger.New(500, func(entries []domainledger.Entry) string {
		msgs := make([]ctxmgr.Message, 0, len(entries))
		for _, e := range entries {
			msgs = append(msgs, ctxmgr.Message{
				Role:    string(e.Kind),
				Content: e.Subject + ": " + e.Rationale,
			})
		}
		folded, _ := summarizer.Summarize(context.Background(), msgs)
		return folded
	})

	router := llm.NewRouter(logger)
	if err := wireProviders(router, cfg, opts.provider, logger); err != nil {
		return nil, err
	}

	loopCfg := service.DefaultAgentLoopConfig()
	loopCfg.Model = cfg.Agent.DefaultModel
	if opts.model != "" {
		loopCfg.Model = opts.model
	}
	loopCfg.Temperature = cfg.Agent.Temperature
	loopCfg.ContextMaxTokens = cfg.Context.MaxContextTokens
	loopCfg.ContextWarnRatio = cfg.Context.WarnRatio
	loopCfg.ContextHardRatio = cfg.Context.HardRatio
	loopCfg.ContextCriticalRatio = cfg.Context.CriticalRatio
	loopCfg.LoopDetectThreshold = cfg.Tools.MaxRepeatedToolCalls
	loopCfg.MaxToolLoops = cfg.Tools.MaxToolLoops

	agentLoop := service.NewAgentLoop(router, infratool.NewRegistryExecutor(registry, logger), loopCfg, logger)
	agentLoop.SetLedger(ledger)

	hooks := service.NewHookChain(
		service.NewSecurityHook(gate, broker, registry, logger),
		&service.LoggingHook{},
		&service.MetricsHook{},
	)
	if recorder != nil {
		hooks.Add(service.NewTrajectoryHook(func(kind string, payload map[string]any) {
			recorder.Emit(eventbus.TrajectoryKind(kind), payload)
		}))
	}
	agentLoop.SetHooks(hooks)

	promptEngine := prompt.NewPromptEngine(workspace, logger)
	if err := promptEngine.Discover(); err != nil {
		logger.Warn("prompt component discovery failed, using built-in soul only", zap.Error(err))
	}

	return &runtime{
		cfg:          cfg,
		agentLoop:    agentLoop,
		promptEngine: promptEngine,
		registry:     registry,
		toolCount:    toolCount,
		pty:          ptyMgr,
		trajectory:   recorder,
	}, nil
}

// wireProviders registers every configured provider with router, preferring
// preferredID first if supplied. API keys follow the `<PROVIDER>_API_KEY`
// environment convention; this CLI never reads or writes secrets to disk.
func wireProviders(router *llm.Router, cfg *config.Config, preferredID string, logger *zap.Logger) error {
	ids := make([]string, 0, len(cfg.Providers)+1)
	if preferredID != "" {
		ids = append(ids, preferredID)
	} else if cfg.Agent.Provider != "" {
		ids = append(ids, cfg.Agent.Provider)
	}
	for id := range cfg.Providers {
		if id != preferredID && id != cfg.Agent.Provider {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		ids = []string{"anthropic", "openai"}
	}

	registered := 0
	for _, id := range ids {
		pc := cfg.Providers[id]
		apiKey := os.Getenv(strings.ToUpper(id) + "_API_KEY")
		if apiKey == "" && pc.APIKey != "" {
			apiKey = pc.APIKey
		}
		provider, err := llm.CreateProvider(llm.ProviderConfig{
			Name:    id,
			Type:    id,
			BaseURL: pc.BaseURL,
			APIKey:  apiKey,
		}, logger)
		if err != nil {
			logger.Debug("skipping unknown provider type", zap.String("provider", id), zap.Error(err))
			continue
		}
		router.AddProvider(provider)
		registered++
	}
	if registered == 0 {
		return fmt.Errorf("no LLM provider could be wired (checked: %s)", strings.Join(ids, ", "))
	}
	return nil
}
