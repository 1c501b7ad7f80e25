package tool

import (
	"context"

	domaintool "github.com/fathomline/agentcore/internal/domain/tool"
	"github.com/fathomline/agentcore/internal/infrastructure/pty"
	"go.uber.org/zap"
)

// RunShellTool is the one-shot shell mode: spawn a
// shell with a single command through the PTY Manager, collect streamed
// output, return on exit or timeout. Unlike BashTool (which shells out
// directly through the sandbox), this goes through pty.Manager so timeout
// escalation (SIGTERM then SIGKILL) and truncation markers match §4.7/§5
// exactly.
type RunShellTool struct {
	mgr            *pty.Manager
	workDir        string
	maxOutputBytes int
	logger         *zap.Logger
}

func NewRunShellTool(mgr *pty.Manager, workDir string, maxOutputBytes int, logger *zap.Logger) *RunShellTool {
	return &RunShellTool{mgr: mgr, workDir: workDir, maxOutputBytes: maxOutputBytes, logger: logger}
}

func (t *RunShellTool) Name() string          { return "run_shell" }
func (t *RunShellTool) Kind() domaintool.Kind { return domaintool.KindExecute }
func (t *RunShellTool) Description() string {
	return "Run a one-shot shell command to completion (or until it times out) and return its stdout, " +
		"stderr, and exit code. For long-running interactive programs use pty_open instead."
}

func (t *RunShellTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command":  map[string]interface{}{"type": "string", "description": "The shell command to run"},
			"work_dir": map[string]interface{}{"type": "string", "description": "Optional working directory"},
		},
		"required": []string{"command"},
	}
}

func (t *RunShellTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return &Result{Success: false, Error: "command is required"},
			domaintool.NewToolError(domaintool.ErrInvalidArgument, "command is required")
	}
	workDir := t.workDir
	if wd, ok := args["work_dir"].(string); ok && wd != "" {
		workDir = wd
	}

	res, err := t.mgr.RunOneShot(ctx, workDir, command, t.maxOutputBytes)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, err
	}

	output := res.Stdout
	if res.Stderr != "" {
		output += "\n--- stderr ---\n" + res.Stderr
	}
	meta := map[string]interface{}{
		"exit_code": res.ExitCode,
		"killed":    res.Killed,
		"truncated": res.Truncated,
	}
	if res.Hint != "" {
		meta["hint"] = res.Hint
	}
	return &Result{
		Success:  res.ExitCode == 0 && !res.Killed,
		Output:   output,
		Metadata: meta,
	}, nil
}
