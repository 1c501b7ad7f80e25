package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/fathomline/agentcore/internal/domain/policy"
)

// Config is the root declarative configuration document. Sections mirror
// the agent/context/tools/pty/providers/telemetry groups the run loop
// recognizes; unknown keys are ignored: they cause no error, and no
// warning is reported for them.
type Config struct {
	Agent     AgentConfig               `mapstructure:"agent"`
	Context   ContextConfig             `mapstructure:"context"`
	Tools     ToolsConfig               `mapstructure:"tools"`
	PTY       PTYConfig                 `mapstructure:"pty"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Telemetry TelemetryConfig           `mapstructure:"telemetry"`
	Log       LogConfig                 `mapstructure:"log"`
}

// AgentConfig holds the top-level model/session parameters.
type AgentConfig struct {
	Provider             string  `mapstructure:"provider"`
	DefaultModel         string  `mapstructure:"default_model"`
	MaxTokens            int     `mapstructure:"max_tokens"`
	MaxConversationTurns int     `mapstructure:"max_conversation_turns"`
	Temperature          float64 `mapstructure:"temperature"`
	ReasoningEffort      string  `mapstructure:"reasoning_effort"`
	Workspace            string  `mapstructure:"workspace"`
}

// ContextConfig configures the Context Manager's budget and curation.
type ContextConfig struct {
	MaxContextTokens    int     `mapstructure:"max_context_tokens"`
	TrimToPercent       float64 `mapstructure:"trim_to_percent"`
	PreserveRecentTurns int     `mapstructure:"preserve_recent_turns"`
	WarnRatio           float64 `mapstructure:"warn_ratio"`     // default 0.75
	HardRatio           float64 `mapstructure:"hard_ratio"`     // "high" tier, default 0.85
	CriticalRatio       float64 `mapstructure:"critical_ratio"` // default 0.90
}

// ToolsConfig configures the Policy Gate's per-tool table and loop bounds.
type ToolsConfig struct {
	DefaultPolicy        string            `mapstructure:"default_policy"` // allow | prompt | deny
	Policies             map[string]string `mapstructure:"policies"`
	AllowCommands        []string          `mapstructure:"allow_commands"`
	DenyCommands         []string          `mapstructure:"deny_commands"`
	NoPromptAllowlist    []string          `mapstructure:"no_prompt_allowlist"` // headless automation
	MaxToolLoops         int               `mapstructure:"max_tool_loops"`
	MaxRepeatedToolCalls int               `mapstructure:"max_repeated_tool_calls"`
}

// ToPolicyTable converts the declarative tools config into the Policy
// Gate's evaluation table. Kept as a conversion rather than reusing
// ToolsConfig directly in the policy package, so policy stays free of a
// dependency on the config/viper stack.
func (t ToolsConfig) ToPolicyTable() policy.Table {
	return policy.Table{
		DefaultPolicy:        t.DefaultPolicy,
		Policies:             t.Policies,
		AllowCommands:        t.AllowCommands,
		DenyCommands:         t.DenyCommands,
		NoPromptAllowlist:    t.NoPromptAllowlist,
		MaxRepeatedToolCalls: t.MaxRepeatedToolCalls,
	}
}

// PTYConfig configures the PTY Manager.
type PTYConfig struct {
	Enabled               bool `mapstructure:"enabled"`
	DefaultRows           int  `mapstructure:"default_rows"`
	DefaultCols           int  `mapstructure:"default_cols"`
	MaxSessions           int  `mapstructure:"max_sessions"`
	CommandTimeoutSeconds int  `mapstructure:"command_timeout_seconds"`
}

// ProviderConfig configures one LLM provider entry under `providers.<id>`.
type ProviderConfig struct {
	BaseURL string      `mapstructure:"base_url"`
	APIKey  string      `mapstructure:"api_key"`
	Cache   CacheConfig `mapstructure:"cache"`
}

// CacheConfig controls provider-side prompt caching hints.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// TelemetryConfig toggles the Trajectory Log sink.
type TelemetryConfig struct {
	TrajectoryEnabled bool `mapstructure:"trajectory_enabled"`
}

// LogConfig sets ambient logging options; every run needs a level/format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads the declarative configuration document, layering (low to high
// priority): built-in defaults, a global `~/.agentcore/config.yaml`, a
// project-local `./config.yaml` or `./.agentcore.yaml`, then environment
// variables prefixed `AGENTCORE_`. Unknown keys are accepted (viper ignores
// fields absent from the Config struct); this module does not validate the
// configuration schema beyond what Unmarshal requires.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	globalDir := filepath.Join(os.Getenv("HOME"), ".agentcore")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	for _, candidate := range []string{"./.agentcore.yaml", "./config.yaml"} {
		if _, err := os.Stat(candidate); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(candidate)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break
		}
	}

	v.SetEnvPrefix("AGENTCORE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// LoadFrom reads the declarative configuration document from an explicit
// path (the CLI's --config flag), skipping the global/project discovery
// Load performs. Environment variables still layer on top.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	v.SetEnvPrefix("AGENTCORE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("agent.provider", "anthropic")
	v.SetDefault("agent.max_tokens", 8192)
	v.SetDefault("agent.max_conversation_turns", 200)
	v.SetDefault("agent.temperature", 0.2)

	v.SetDefault("context.max_context_tokens", 128000)
	v.SetDefault("context.trim_to_percent", 0.7)
	v.SetDefault("context.preserve_recent_turns", 5)
	v.SetDefault("context.warn_ratio", 0.75)
	v.SetDefault("context.hard_ratio", 0.85)
	v.SetDefault("context.critical_ratio", 0.90)

	v.SetDefault("tools.default_policy", "prompt")
	v.SetDefault("tools.deny_commands", []string{"rm -rf /", "mkfs", "dd if=/dev/zero"})
	v.SetDefault("tools.no_prompt_allowlist", []string{"read_file", "list_dir", "search_code", "git_status"})
	v.SetDefault("tools.max_tool_loops", 50)
	v.SetDefault("tools.max_repeated_tool_calls", 3)

	v.SetDefault("pty.enabled", true)
	v.SetDefault("pty.default_rows", 24)
	v.SetDefault("pty.default_cols", 80)
	v.SetDefault("pty.max_sessions", 8)
	v.SetDefault("pty.command_timeout_seconds", 30)

	v.SetDefault("telemetry.trajectory_enabled", true)
}
