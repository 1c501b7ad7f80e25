package eventbus

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"

	"go.uber.org/zap"
)

func readTrajectory(t *testing.T, path string) []trajectoryEntry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open trajectory: %v", err)
	}
	defer f.Close()

	var entries []trajectoryEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e trajectoryEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("corrupt trajectory line: %v", err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestTrajectoryRecorder_SequenceAndTurns(t *testing.T) {
	rec, err := NewTrajectoryRecorder(t.TempDir(), "sess-1", zap.NewNop())
	if err != nil {
		t.Fatalf("create recorder: %v", err)
	}

	rec.Emit(TrajTurnStarted, map[string]any{"model": "m1"})
	rec.Emit(TrajLLMRequest, map[string]any{"step": 1})
	rec.Emit(TrajLLMResponse, map[string]any{"step": 1})
	rec.Emit(TrajTurnStarted, map[string]any{"model": "m1"})
	rec.Emit(TrajToolCall, map[string]any{"tool": "read_file"})
	rec.Emit(TrajToolResult, map[string]any{"tool": "read_file", "success": true})
	if err := rec.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries := readTrajectory(t, rec.Path())
	if len(entries) != 6 {
		t.Fatalf("expected 6 entries, got %d", len(entries))
	}

	// Sequence numbers are strictly increasing from 1.
	for i, e := range entries {
		if e.Seq != uint64(i+1) {
			t.Errorf("entry %d: seq = %d, want %d", i, e.Seq, i+1)
		}
	}

	// Turn index increments on each TurnStarted and sticks for the turn's events.
	wantTurns := []int{1, 1, 1, 2, 2, 2}
	for i, e := range entries {
		if e.Turn != wantTurns[i] {
			t.Errorf("entry %d (%s): turn = %d, want %d", i, e.Kind, e.Turn, wantTurns[i])
		}
	}
}

func TestTrajectoryRecorder_AppendOnly(t *testing.T) {
	dir := t.TempDir()

	rec1, err := NewTrajectoryRecorder(dir, "sess-2", zap.NewNop())
	if err != nil {
		t.Fatalf("create recorder: %v", err)
	}
	rec1.Emit(TrajTurnStarted, nil)
	rec1.Emit(TrajError, map[string]any{"error": "boom"})
	_ = rec1.Close()

	// Reopening the same session file appends, never truncates.
	rec2, err := NewTrajectoryRecorder(dir, "sess-2", zap.NewNop())
	if err != nil {
		t.Fatalf("reopen recorder: %v", err)
	}
	rec2.Emit(TrajTurnStarted, nil)
	_ = rec2.Close()

	entries := readTrajectory(t, rec2.Path())
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries after reopen, got %d", len(entries))
	}
	if entries[0].Kind != TrajTurnStarted || entries[1].Kind != TrajError {
		t.Errorf("first session's entries were not preserved: %v, %v", entries[0].Kind, entries[1].Kind)
	}
}
