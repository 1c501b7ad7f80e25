package sessionlog

import (
	"os"
	"testing"
)

func appendRaw(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

func TestAppendAndHistory(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	workspace := t.TempDir()

	sess, err := New(workspace)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	turns := []Turn{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi, what can I do for you?"},
		{Role: "user", Content: "read the README"},
	}
	for _, turn := range turns {
		if err := sess.Append(turn); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	history, err := sess.History()
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != len(turns) {
		t.Fatalf("history length = %d, want %d", len(history), len(turns))
	}
	for i, msg := range history {
		if msg.Role != turns[i].Role || msg.Content != turns[i].Content {
			t.Errorf("turn %d: got (%s, %q), want (%s, %q)", i, msg.Role, msg.Content, turns[i].Role, turns[i].Content)
		}
	}
}

func TestLatestFollowsTouch(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	workspace := t.TempDir()

	first, err := New(workspace)
	if err != nil {
		t.Fatalf("New first: %v", err)
	}
	second, err := New(workspace)
	if err != nil {
		t.Fatalf("New second: %v", err)
	}

	latest, err := Latest(workspace)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.ID != second.ID {
		t.Errorf("Latest = %s, want the newest session %s", latest.ID, second.ID)
	}

	// Touch promotes an older session back to latest (--continue after --resume).
	if err := first.Touch(workspace); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	latest, err = Latest(workspace)
	if err != nil {
		t.Fatalf("Latest after touch: %v", err)
	}
	if latest.ID != first.ID {
		t.Errorf("Latest after touch = %s, want %s", latest.ID, first.ID)
	}
}

func TestOpenByPrefix(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	workspace := t.TempDir()

	sess, err := New(workspace)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = sess.Append(Turn{Role: "user", Content: "x"})

	reopened, err := Open(workspace, sess.ID[:8])
	if err != nil {
		t.Fatalf("Open by prefix: %v", err)
	}
	if reopened.ID != sess.ID {
		t.Errorf("Open resolved %s, want %s", reopened.ID, sess.ID)
	}
}

func TestLatestWithoutSessions(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if _, err := Latest(t.TempDir()); err == nil {
		t.Error("Latest on a fresh workspace should fail")
	}
}

func TestHistoryToleratesCorruptLine(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	workspace := t.TempDir()

	sess, err := New(workspace)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = sess.Append(Turn{Role: "user", Content: "fine"})

	// Simulate a crash mid-write: a truncated trailing line.
	if err := appendRaw(sess.path, "{\"role\":\"assis"); err != nil {
		t.Fatalf("appendRaw: %v", err)
	}

	history, err := sess.History()
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("history length = %d, want 1 (corrupt line skipped)", len(history))
	}
}
