package pty

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	creackpty "github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/fathomline/agentcore/pkg/safego"
)

// growBuffer is an unbounded io.Writer used to collect one-shot output;
// separate from the interactive ring buffer, which is size-bounded.
type growBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (g *growBuffer) Write(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buf.Write(p)
}

func (g *growBuffer) String() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buf.String()
}

// ringBuffer is a bounded scrollback buffer: writes past capacity discard
// the oldest bytes. Readers call drainSince to get everything appended
// since their last read: read(session_id) returns the tail since the
// previous read.
type ringBuffer struct {
	mu       sync.Mutex
	data     []byte
	cap      int
	start    int64 // absolute offset of data[0]
	readerAt int64 // absolute offset already delivered to the one reader
}

func newRingBuffer(capBytes int) *ringBuffer {
	return &ringBuffer{cap: capBytes}
}

func (r *ringBuffer) Append(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append(r.data, p...)
	if over := len(r.data) - r.cap; over > 0 {
		r.data = r.data[over:]
		r.start += int64(over)
	}
}

// DrainSince returns every byte appended since the session's last read and
// advances the read cursor.
func (r *ringBuffer) DrainSince() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	offset := r.readerAt - r.start
	if offset < 0 {
		offset = 0 // reader fell behind eviction; it missed the oldest bytes
	}
	if offset >= int64(len(r.data)) {
		r.readerAt = r.start + int64(len(r.data))
		return nil
	}
	out := make([]byte, len(r.data)-int(offset))
	copy(out, r.data[offset:])
	r.readerAt = r.start + int64(len(r.data))
	return out
}

// Open allocates a new interactive PTY session running a login shell, or
// cmdLine if non-empty, and returns its session_id. Session ids are
// monotonically assigned.
func (m *Manager) Open(ctx context.Context, workDir, cmdLine string, rows, cols int) (*Session, error) {
	m.mu.Lock()
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, fmt.Errorf("pty: max_sessions (%d) reached", m.cfg.MaxSessions)
	}
	m.nextID++
	id := strconv.FormatInt(m.nextID, 10)
	m.mu.Unlock()

	shellCmd := cmdLine
	if shellCmd == "" {
		shellCmd = "bash -l"
	}
	cmd := exec.Command("bash", "-lc", shellCmd)
	cmd.Dir = workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if rows <= 0 {
		rows = m.cfg.DefaultRows
	}
	if cols <= 0 {
		cols = m.cfg.DefaultCols
	}

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return nil, fmt.Errorf("pty: spawn failed: %w", err)
	}

	sess := &Session{
		ID:           id,
		cmd:          cmd,
		ptmx:         ptmx,
		ring:         newRingBuffer(m.cfg.ScrollbackBytes),
		writeCh:      make(chan writeRequest, 16),
		closeCh:      make(chan struct{}),
		lastActivity: timeNow(),
		state:        StateRunning,
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	safego.Go(m.logger, "pty-reader-"+id, func() { m.readLoop(sess) })
	safego.Go(m.logger, "pty-writer-"+id, func() { m.writeLoop(sess) })
	safego.Go(m.logger, "pty-waiter-"+id, func() { m.waitLoop(sess) })

	m.logger.Info("pty session opened", zap.String("session_id", id), zap.Int("rows", rows), zap.Int("cols", cols))
	return sess, nil
}

// readLoop is the session's sole drainer: each session owns one
// independent reader goroutine that drains the PTY into its ring buffer.
func (m *Manager) readLoop(sess *Session) {
	buf := make([]byte, 4096)
	for {
		n, err := sess.ptmx.Read(buf)
		if n > 0 {
			sess.ring.Append(buf[:n])
			sess.touch()
		}
		if err != nil {
			return
		}
	}
}

// writeLoop serializes writes to the pty: one writer channel per session.
func (m *Manager) writeLoop(sess *Session) {
	for {
		select {
		case req := <-sess.writeCh:
			_, err := sess.ptmx.Write(req.data)
			if err == nil {
				sess.touch()
			}
			req.err <- err
		case <-sess.closeCh:
			return
		}
	}
}

func (m *Manager) waitLoop(sess *Session) {
	err := sess.cmd.Wait()
	sess.mu.Lock()
	if sess.state == StateRunning {
		sess.state = StateExited
		if exitErr, ok := err.(*exec.ExitError); ok {
			sess.exitCode = exitErr.ExitCode()
		}
	}
	sess.mu.Unlock()
}

// Write sends bytes to the session's stdin, blocking until the writer
// goroutine has dispatched them.
func (m *Manager) Write(sessionID string, data []byte) error {
	sess, ok := m.get(sessionID)
	if !ok {
		return fmt.Errorf("pty: unknown session %q", sessionID)
	}
	req := writeRequest{data: data, err: make(chan error, 1)}
	select {
	case sess.writeCh <- req:
	case <-sess.closeCh:
		return fmt.Errorf("pty: session %q is closed", sessionID)
	}
	return <-req.err
}

// Read returns everything appended to the session's scrollback since the
// caller's last Read call.
func (m *Manager) Read(sessionID string) ([]byte, ExitState, error) {
	sess, ok := m.get(sessionID)
	if !ok {
		return nil, StateRunning, fmt.Errorf("pty: unknown session %q", sessionID)
	}
	return sess.ring.DrainSince(), sess.snapshotState(), nil
}

// Close kills the session's process group and removes it from the
// manager: SIGTERM first, SIGKILL after a grace period.
func (m *Manager) Close(sessionID string) error {
	sess, ok := m.get(sessionID)
	if !ok {
		return fmt.Errorf("pty: unknown session %q", sessionID)
	}
	m.closeSession(sess, StateKilled)
	return nil
}

func (m *Manager) closeSession(sess *Session, finalState ExitState) {
	sess.closeOnce.Do(func() {
		close(sess.closeCh)
		if sess.cmd.Process != nil {
			_ = syscall.Kill(-sess.cmd.Process.Pid, syscall.SIGTERM)
			go func() {
				time.Sleep(m.cfg.HardKillGrace)
				if sess.cmd.Process != nil {
					_ = syscall.Kill(-sess.cmd.Process.Pid, syscall.SIGKILL)
				}
			}()
		}
		_ = sess.ptmx.Close()
		sess.mu.Lock()
		if sess.state == StateRunning {
			sess.state = finalState
		}
		sess.mu.Unlock()
	})
	m.mu.Lock()
	delete(m.sessions, sess.ID)
	m.mu.Unlock()
}

func (m *Manager) get(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	return sess, ok
}

// CloseAll force-closes every owned session — called on run loop shutdown
// so no child process outlives the agent.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		m.closeSession(s, StateKilled)
	}
}

// EvictIdle closes every interactive session whose last activity predates
// cfg.IdleTimeout. Intended to be called periodically by the Run Loop.
func (m *Manager) EvictIdle() {
	cutoff := timeNow().Add(-m.cfg.IdleTimeout)
	m.mu.Lock()
	var stale []*Session
	for _, s := range m.sessions {
		if s.lastActivityAfter(cutoff) {
			continue
		}
		stale = append(stale, s)
	}
	m.mu.Unlock()
	for _, s := range stale {
		m.logger.Info("pty session evicted (idle timeout)", zap.String("session_id", s.ID))
		m.closeSession(s, StateTimedOut)
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = timeNow()
	s.mu.Unlock()
}

func (s *Session) lastActivityAfter(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity.After(cutoff)
}

func (s *Session) snapshotState() ExitState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// timeNow is the one place this package calls time.Now. It is a plain
// function, so the clock cannot be swapped out at run time.
func timeNow() time.Time { return time.Now() }
