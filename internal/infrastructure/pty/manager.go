// Package pty manages the lifecycle of interactive and one-shot shell
// sessions. Command allowlisting stays the policy gate's job — this package
// never checks a command against any list; it only executes what it is
// told. Interactive mode allocates a real pseudo-terminal via
// github.com/creack/pty, draining it with a safego-wrapped reader goroutine
// into a bounded scrollback ring and serializing writes through a
// per-session channel.
package pty

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fathomline/agentcore/pkg/safego"
)

// ExitState is a session's terminal status.
type ExitState int

const (
	StateRunning ExitState = iota
	StateExited
	StateKilled
	StateTimedOut
)

func (s ExitState) String() string {
	switch s {
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "running"
	}
}

// Config bounds the manager's resource use. Defaults are loaded from
// config.PTYConfig by the composition root.
type Config struct {
	DefaultRows     int
	DefaultCols     int
	MaxSessions     int
	IdleTimeout     time.Duration // interactive session eviction
	CommandTimeout  time.Duration // one-shot soft timeout
	HardKillGrace   time.Duration // one-shot hard timeout after soft
	ScrollbackBytes int
}

// DefaultConfig: idle eviction 10min, one-shot soft/hard 30s/5s grace.
func DefaultConfig() Config {
	return Config{
		DefaultRows:     24,
		DefaultCols:     80,
		MaxSessions:     8,
		IdleTimeout:     10 * time.Minute,
		CommandTimeout:  30 * time.Second,
		HardKillGrace:   5 * time.Second,
		ScrollbackBytes: 256 * 1024,
	}
}

// OneShotResult is the structured result of a one-shot command. A nonzero
// exit code is not an error — it is reported here alongside the output.
type OneShotResult struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Truncated bool
	Killed    bool
	Hint      string // e.g. "command not found" for exit 127
}

// Session is one interactive PTY session: session_id, child process handle,
// reader goroutine, writer channel, scrollback ring, activity timestamp,
// and exit state.
type Session struct {
	ID        string
	cmd       *exec.Cmd
	ptmx      *os.File
	ring      *ringBuffer
	writeCh   chan writeRequest
	closeCh   chan struct{}
	closeOnce sync.Once

	mu           sync.Mutex
	lastActivity time.Time
	state        ExitState
	exitCode     int
}

type writeRequest struct {
	data []byte
	err  chan error
}

// Manager owns every live Session, keyed by session_id. session_ids are
// monotonically assigned — no two sessions ever share an id. It is safe for
// concurrent use from different turns, provided each session_id is only
// ever read by the caller that opened it; the reader goroutine itself is
// the sole drainer.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	nextID   int64
}

// NewManager constructs a PTY Manager bounded by cfg.MaxSessions.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	return &Manager{cfg: cfg, logger: logger, sessions: make(map[string]*Session)}
}

// RunOneShot spawns cmdLine in a login shell, collects output, and returns
// on exit, soft timeout (SIGTERM), or hard timeout (SIGKILL).
func (m *Manager) RunOneShot(ctx context.Context, workDir, cmdLine string, maxOutputBytes int) (*OneShotResult, error) {
	softCtx, cancel := context.WithTimeout(ctx, m.cfg.CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(softCtx, "bash", "-lc", cmdLine)
	cmd.Dir = workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr growBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("pty one-shot spawn failed: %w", err)
	}

	done := make(chan error, 1)
	safego.Go(m.logger, "pty-oneshot-wait", func() {
		done <- cmd.Wait()
	})

	var killed bool
	select {
	case err := <-done:
		killed = softCtx.Err() == context.DeadlineExceeded
		if killed {
			m.escalateKill(cmd)
		}
		return m.buildOneShotResult(&stdout, &stderr, cmd, err, killed, maxOutputBytes), nil
	case <-softCtx.Done():
		killed = true
		m.escalateKill(cmd)
		select {
		case err := <-done:
			return m.buildOneShotResult(&stdout, &stderr, cmd, err, true, maxOutputBytes), nil
		case <-time.After(m.cfg.HardKillGrace):
			if cmd.Process != nil {
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
			<-done
			return &OneShotResult{
				Stdout: stdout.String(), Stderr: stderr.String(),
				ExitCode: -1, Killed: true,
			}, nil
		}
	}
}

func (m *Manager) escalateKill(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}

func (m *Manager) buildOneShotResult(stdout, stderr *growBuffer, cmd *exec.Cmd, waitErr error, killed bool, maxOutputBytes int) *OneShotResult {
	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else if killed {
			exitCode = -1
		}
	}
	res := &OneShotResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Killed:   killed,
	}
	if maxOutputBytes > 0 && (len(res.Stdout)+len(res.Stderr)) > maxOutputBytes {
		res.Truncated = true
		res.Stdout = tailBytes(res.Stdout, maxOutputBytes)
	}
	if exitCode == 127 {
		res.Hint = "command not found"
	}
	return res
}

func tailBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
