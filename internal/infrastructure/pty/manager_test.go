package pty

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestManager() *Manager {
	cfg := DefaultConfig()
	cfg.CommandTimeout = 10 * time.Second
	return NewManager(cfg, zap.NewNop())
}

func TestRunOneShot_Success(t *testing.T) {
	m := newTestManager()

	res, err := m.RunOneShot(context.Background(), t.TempDir(), "echo hello", 0)
	if err != nil {
		t.Fatalf("RunOneShot: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
	if !strings.Contains(res.Stdout, "hello") {
		t.Errorf("stdout = %q, want it to contain hello", res.Stdout)
	}
}

func TestRunOneShot_NonzeroExitIsNotAnError(t *testing.T) {
	m := newTestManager()

	res, err := m.RunOneShot(context.Background(), t.TempDir(), "exit 3", 0)
	if err != nil {
		t.Fatalf("nonzero exit must not surface as error, got: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestRunOneShot_CommandNotFoundHint(t *testing.T) {
	m := newTestManager()

	res, err := m.RunOneShot(context.Background(), t.TempDir(), "definitely_not_a_command_xyz", 0)
	if err != nil {
		t.Fatalf("RunOneShot: %v", err)
	}
	if res.ExitCode != 127 {
		t.Fatalf("exit code = %d, want 127", res.ExitCode)
	}
	if res.Hint != "command not found" {
		t.Errorf("hint = %q, want command-not-found annotation", res.Hint)
	}
}

func TestRunOneShot_TruncatesToTail(t *testing.T) {
	m := newTestManager()

	res, err := m.RunOneShot(context.Background(), t.TempDir(), "seq 1 5000", 512)
	if err != nil {
		t.Fatalf("RunOneShot: %v", err)
	}
	if !res.Truncated {
		t.Fatal("expected truncated result")
	}
	if len(res.Stdout) > 512 {
		t.Errorf("stdout length = %d, want <= 512", len(res.Stdout))
	}
	// The tail, not the head, survives.
	if !strings.Contains(res.Stdout, "5000") {
		t.Errorf("stdout tail should contain the last line, got %q", res.Stdout[:min(64, len(res.Stdout))])
	}
}

func TestInteractiveSession_RoundTrip(t *testing.T) {
	m := newTestManager()

	sess, err := m.Open(context.Background(), t.TempDir(), "cat", 24, 80)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = m.Close(sess.ID) }()

	if err := m.Write(sess.ID, []byte("ping\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Poll: the reader goroutine drains the PTY asynchronously.
	deadline := time.Now().Add(5 * time.Second)
	var got []byte
	for time.Now().Before(deadline) {
		chunk, state, err := m.Read(sess.ID)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		got = append(got, chunk...)
		if strings.Contains(string(got), "ping") {
			break
		}
		if state != StateRunning {
			t.Fatalf("session state = %v before echo arrived", state)
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !strings.Contains(string(got), "ping") {
		t.Errorf("PTY echo not observed, got %q", string(got))
	}
}

func TestSessionIDsAreUnique(t *testing.T) {
	m := newTestManager()

	a, err := m.Open(context.Background(), t.TempDir(), "cat", 0, 0)
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	b, err := m.Open(context.Background(), t.TempDir(), "cat", 0, 0)
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}
	defer m.CloseAll()

	if a.ID == b.ID {
		t.Errorf("two sessions share id %q", a.ID)
	}
}

func TestCloseAll(t *testing.T) {
	m := newTestManager()

	sess, err := m.Open(context.Background(), t.TempDir(), "cat", 0, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	m.CloseAll()

	if _, _, err := m.Read(sess.ID); err == nil {
		t.Error("Read after CloseAll should fail: session is gone")
	}
}

func TestRingBuffer(t *testing.T) {
	r := newRingBuffer(8)
	r.Append([]byte("abcdefgh"))
	r.Append([]byte("ij")) // overflows, oldest bytes drop

	got := string(r.DrainSince())
	if len(got) > 8 {
		t.Errorf("ring exceeded capacity: %d bytes", len(got))
	}
	if !strings.HasSuffix(got, "ij") {
		t.Errorf("ring should retain the newest bytes, got %q", got)
	}

	// A second drain with no new data returns nothing.
	if again := r.DrainSince(); len(again) != 0 {
		t.Errorf("second drain returned %d bytes, want 0", len(again))
	}
}
