package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir()) // no global config present

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with no files should succeed on defaults: %v", err)
	}

	if cfg.Tools.DefaultPolicy != "prompt" {
		t.Errorf("default policy = %q, want prompt", cfg.Tools.DefaultPolicy)
	}
	if cfg.Tools.MaxToolLoops != 50 {
		t.Errorf("max_tool_loops = %d, want 50", cfg.Tools.MaxToolLoops)
	}
	if cfg.Context.MaxContextTokens != 128000 {
		t.Errorf("max_context_tokens = %d, want 128000", cfg.Context.MaxContextTokens)
	}
	if cfg.Context.WarnRatio != 0.75 || cfg.Context.HardRatio != 0.85 || cfg.Context.CriticalRatio != 0.90 {
		t.Errorf("threshold ratios = %v/%v/%v, want 0.75/0.85/0.90",
			cfg.Context.WarnRatio, cfg.Context.HardRatio, cfg.Context.CriticalRatio)
	}
	if !cfg.PTY.Enabled {
		t.Error("pty should default to enabled")
	}
	if !cfg.Telemetry.TrajectoryEnabled {
		t.Error("trajectory should default to enabled")
	}
}

func TestLoadFrom(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := `
agent:
  provider: openai
  default_model: gpt-4o
  temperature: 0.5
tools:
  default_policy: allow
  policies:
    run_shell: prompt
  max_repeated_tool_calls: 5
pty:
  max_sessions: 2
some_unknown_section:
  whatever: true
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Agent.Provider != "openai" || cfg.Agent.DefaultModel != "gpt-4o" {
		t.Errorf("agent section not applied: %+v", cfg.Agent)
	}
	if cfg.Tools.DefaultPolicy != "allow" {
		t.Errorf("tools.default_policy = %q, want allow", cfg.Tools.DefaultPolicy)
	}
	if cfg.Tools.Policies["run_shell"] != "prompt" {
		t.Errorf("per-tool policy not applied: %v", cfg.Tools.Policies)
	}
	if cfg.Tools.MaxRepeatedToolCalls != 5 {
		t.Errorf("max_repeated_tool_calls = %d, want 5", cfg.Tools.MaxRepeatedToolCalls)
	}
	if cfg.PTY.MaxSessions != 2 {
		t.Errorf("pty.max_sessions = %d, want 2", cfg.PTY.MaxSessions)
	}
	// Unknown keys must not fail the load.
}

func TestLoadFromMissingFile(t *testing.T) {
	if _, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("explicit --config path that does not exist must error")
	}
}

func TestToPolicyTable(t *testing.T) {
	tc := ToolsConfig{
		DefaultPolicy:        "prompt",
		Policies:             map[string]string{"write_file": "prompt"},
		DenyCommands:         []string{"rm"},
		AllowCommands:        []string{"ls"},
		NoPromptAllowlist:    []string{"read_file"},
		MaxRepeatedToolCalls: 3,
	}
	table := tc.ToPolicyTable()
	if table.DefaultPolicy != "prompt" {
		t.Errorf("table default = %q", table.DefaultPolicy)
	}
	if table.Policies["write_file"] != "prompt" {
		t.Error("per-tool policy lost in conversion")
	}
	if len(table.DenyCommands) != 1 || table.DenyCommands[0] != "rm" {
		t.Error("deny list lost in conversion")
	}
}
