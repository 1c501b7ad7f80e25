package ledger

import "testing"

func TestLedger_AppendAssignsMonotonicIndex(t *testing.T) {
	l := New(100, nil)
	a := l.Append(KindTool, "read_file", "autoallowed read", 1.0, "ok")
	b := l.Append(KindDenial, "run_shell", "shell deny-list", 1.0, "denied")
	if b.Index != a.Index+1 {
		t.Fatalf("expected monotonic index, got %d then %d", a.Index, b.Index)
	}
}

func TestLedger_FoldsOldestHalfWhenOverBudget(t *testing.T) {
	l := New(4, nil)
	for i := 0; i < 5; i++ {
		l.Append(KindTool, "read_file", "ok", 1.0, "ok")
	}
	entries := l.Entries()
	if entries[0].Kind != KindSummary {
		t.Fatalf("expected oldest-half fold to produce a summary entry, got %v", entries[0].Kind)
	}
	if l.Len() > 4 {
		t.Fatalf("expected ledger to stay within budget after fold, got %d entries", l.Len())
	}
}

func TestLedger_CustomFolder(t *testing.T) {
	called := false
	fold := func(entries []Entry) string {
		called = true
		return "custom summary"
	}
	l := New(2, fold)
	l.Append(KindTool, "a", "x", 1.0, "ok")
	l.Append(KindTool, "b", "x", 1.0, "ok")
	l.Append(KindTool, "c", "x", 1.0, "ok")
	if !called {
		t.Fatal("expected custom folder to be invoked")
	}
	entries := l.Entries()
	if entries[0].Rationale != "custom summary" {
		t.Fatalf("expected custom fold rationale, got %q", entries[0].Rationale)
	}
}
