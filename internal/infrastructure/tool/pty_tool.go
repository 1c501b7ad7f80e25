package tool

import (
	"context"
	"fmt"

	domaintool "github.com/fathomline/agentcore/internal/domain/tool"
	"github.com/fathomline/agentcore/internal/infrastructure/pty"
	"go.uber.org/zap"
)

// PTYOpenTool starts a long-lived interactive session addressable by
// session_id.
type PTYOpenTool struct {
	mgr     *pty.Manager
	workDir string
	logger  *zap.Logger
}

func NewPTYOpenTool(mgr *pty.Manager, workDir string, logger *zap.Logger) *PTYOpenTool {
	return &PTYOpenTool{mgr: mgr, workDir: workDir, logger: logger}
}

func (t *PTYOpenTool) Name() string          { return "pty_open" }
func (t *PTYOpenTool) Kind() domaintool.Kind { return domaintool.KindExecute }
func (t *PTYOpenTool) Description() string {
	return "Open a long-lived interactive shell session backed by a real pseudo-terminal. " +
		"Returns a session_id for subsequent pty_write/pty_read/pty_close calls. " +
		"Use for interactive programs (repls, ssh sessions) that run_shell cannot handle."
}

func (t *PTYOpenTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Optional command to launch instead of a login shell",
			},
			"rows": map[string]interface{}{"type": "integer", "description": "Terminal rows (default 24)"},
			"cols": map[string]interface{}{"type": "integer", "description": "Terminal columns (default 80)"},
		},
	}
}

func (t *PTYOpenTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	cmdLine, _ := args["command"].(string)
	rows := ptyIntArg(args, "rows")
	cols := ptyIntArg(args, "cols")

	sess, err := t.mgr.Open(ctx, t.workDir, cmdLine, rows, cols)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, err
	}
	return &Result{
		Success:  true,
		Output:   sess.ID,
		Display:  fmt.Sprintf("opened pty session %s", sess.ID),
		Metadata: map[string]interface{}{"session_id": sess.ID},
	}, nil
}

// PTYWriteTool serializes a write to a session's stdin.
type PTYWriteTool struct {
	mgr    *pty.Manager
	logger *zap.Logger
}

func NewPTYWriteTool(mgr *pty.Manager, logger *zap.Logger) *PTYWriteTool {
	return &PTYWriteTool{mgr: mgr, logger: logger}
}

func (t *PTYWriteTool) Name() string          { return "pty_write" }
func (t *PTYWriteTool) Kind() domaintool.Kind { return domaintool.KindExecute }
func (t *PTYWriteTool) Description() string {
	return "Write bytes (usually a newline-terminated command) to an open interactive PTY session's stdin."
}

func (t *PTYWriteTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{"type": "string"},
			"input":      map[string]interface{}{"type": "string", "description": "Bytes to write, e.g. a command followed by \\n"},
		},
		"required": []string{"session_id", "input"},
	}
}

func (t *PTYWriteTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	sessionID, _ := args["session_id"].(string)
	input, _ := args["input"].(string)
	if sessionID == "" {
		return &Result{Success: false, Error: "session_id is required"}, domaintool.NewToolError(domaintool.ErrInvalidArgument, "session_id is required")
	}
	if err := t.mgr.Write(sessionID, []byte(input)); err != nil {
		return &Result{Success: false, Error: err.Error()}, err
	}
	return &Result{Success: true, Display: "written"}, nil
}

// PTYReadTool returns the tail-since-last-read from a session's scrollback.
type PTYReadTool struct {
	mgr    *pty.Manager
	logger *zap.Logger
}

func NewPTYReadTool(mgr *pty.Manager, logger *zap.Logger) *PTYReadTool {
	return &PTYReadTool{mgr: mgr, logger: logger}
}

func (t *PTYReadTool) Name() string          { return "pty_read" }
func (t *PTYReadTool) Kind() domaintool.Kind { return domaintool.KindRead }
func (t *PTYReadTool) Description() string {
	return "Read output produced by an interactive PTY session since the last pty_read call on that session."
}

func (t *PTYReadTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{"type": "string"},
		},
		"required": []string{"session_id"},
	}
}

func (t *PTYReadTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	sessionID, _ := args["session_id"].(string)
	if sessionID == "" {
		return &Result{Success: false, Error: "session_id is required"}, domaintool.NewToolError(domaintool.ErrInvalidArgument, "session_id is required")
	}
	out, state, err := t.mgr.Read(sessionID)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, err
	}
	return &Result{
		Success:  true,
		Output:   string(out),
		Metadata: map[string]interface{}{"state": state.String()},
	}, nil
}

// PTYCloseTool force-closes an interactive session.
type PTYCloseTool struct {
	mgr    *pty.Manager
	logger *zap.Logger
}

func NewPTYCloseTool(mgr *pty.Manager, logger *zap.Logger) *PTYCloseTool {
	return &PTYCloseTool{mgr: mgr, logger: logger}
}

func (t *PTYCloseTool) Name() string          { return "pty_close" }
func (t *PTYCloseTool) Kind() domaintool.Kind { return domaintool.KindExecute }
func (t *PTYCloseTool) Description() string {
	return "Close an interactive PTY session, terminating its process group."
}

func (t *PTYCloseTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{"type": "string"},
		},
		"required": []string{"session_id"},
	}
}

func (t *PTYCloseTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	sessionID, _ := args["session_id"].(string)
	if sessionID == "" {
		return &Result{Success: false, Error: "session_id is required"}, domaintool.NewToolError(domaintool.ErrInvalidArgument, "session_id is required")
	}
	if err := t.mgr.Close(sessionID); err != nil {
		return &Result{Success: false, Error: err.Error()}, err
	}
	return &Result{Success: true, Display: "closed"}, nil
}

func ptyIntArg(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
