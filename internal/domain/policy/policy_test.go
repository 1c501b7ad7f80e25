package policy

import (
	"testing"

	"go.uber.org/zap"

	"github.com/fathomline/agentcore/internal/domain/tool"
)

func TestGate_ExplicitDenyWinsOverEverything(t *testing.T) {
	table := Table{
		DefaultPolicy: "allow",
		Policies:      map[string]string{"write_file": "deny"},
	}
	g := NewGate("/ws", table, zap.NewNop())
	d := g.Decide("write_file", tool.KindEdit, map[string]interface{}{"path": "a.go"})
	if d.Outcome != Deny {
		t.Fatalf("expected Deny, got %v (%s)", d.Outcome, d.Reason)
	}
}

func TestGate_ShellDenyListBeatsAllowList(t *testing.T) {
	table := Table{
		DefaultPolicy: "prompt",
		AllowCommands: []string{"rm"},
		DenyCommands:  []string{"rm -rf /"},
	}
	g := NewGate("/ws", table, zap.NewNop())
	d := g.Decide("run_shell", tool.KindExecute, map[string]interface{}{"command": "rm -rf /"})
	if d.Outcome != Deny {
		t.Fatalf("expected Deny, got %v", d.Outcome)
	}
}

func TestGate_ShellAllowList(t *testing.T) {
	table := Table{
		DefaultPolicy: "prompt",
		AllowCommands: []string{"git"},
	}
	g := NewGate("/ws", table, zap.NewNop())
	d := g.Decide("run_shell", tool.KindExecute, map[string]interface{}{"command": "git status"})
	if d.Outcome != Allow {
		t.Fatalf("expected Allow, got %v (%s)", d.Outcome, d.Reason)
	}
}

func TestGate_InvalidPolicyFailsSafeToDeny(t *testing.T) {
	table := Table{
		DefaultPolicy: "prompt",
		Policies:      map[string]string{"read_file": "bogus"},
	}
	g := NewGate("/ws", table, zap.NewNop())
	d := g.Decide("read_file", tool.KindRead, map[string]interface{}{"path": "a.go"})
	if d.Outcome != Deny || d.Reason != "invalid-policy" {
		t.Fatalf("expected fail-safe Deny, got %v (%s)", d.Outcome, d.Reason)
	}
}

func TestGate_NoMatchingRulePromptsUser(t *testing.T) {
	g := NewGate("/ws", Table{DefaultPolicy: "prompt"}, zap.NewNop())
	d := g.Decide("write_file", tool.KindEdit, map[string]interface{}{"path": "a.go"})
	if d.Outcome != PromptUser {
		t.Fatalf("expected PromptUser, got %v", d.Outcome)
	}
}

func TestGate_SessionApprovalCacheHonored(t *testing.T) {
	g := NewGate("/ws", Table{DefaultPolicy: "prompt"}, zap.NewNop())
	args := map[string]interface{}{"path": "a.go"}
	first := g.Decide("write_file", tool.KindEdit, args)
	if first.Outcome != PromptUser {
		t.Fatalf("expected first call to prompt, got %v", first.Outcome)
	}
	g.RememberApproval(first.Fingerprint)

	second := g.Decide("write_file", tool.KindEdit, args)
	if second.Outcome != Allow || second.Reason != "session-approved" {
		t.Fatalf("expected session-approved Allow, got %v (%s)", second.Outcome, second.Reason)
	}
}

func TestGate_NoPromptAllowlistOnlyAppliesToSafeKinds(t *testing.T) {
	table := Table{
		DefaultPolicy:     "prompt",
		NoPromptAllowlist: []string{"read_file"},
	}
	g := NewGate("/ws", table, zap.NewNop())
	d := g.Decide("read_file", tool.KindRead, map[string]interface{}{"path": "a.go"})
	if d.Outcome != Allow {
		t.Fatalf("expected Allow via no-prompt allowlist, got %v", d.Outcome)
	}

	table.NoPromptAllowlist = []string{"write_file"}
	g = NewGate("/ws", table, zap.NewNop())
	d = g.Decide("write_file", tool.KindEdit, map[string]interface{}{"path": "a.go"})
	if d.Outcome != PromptUser {
		t.Fatalf("expected an allowlisted mutating tool to still prompt, got %v", d.Outcome)
	}
}

func TestFingerprint_PathAndWhitespaceNormalization(t *testing.T) {
	a := Fingerprint("/ws", "read_file", map[string]interface{}{"path": "/ws/foo.go"})
	b := Fingerprint("/ws", "read_file", map[string]interface{}{"path": "foo.go"})
	if a != b {
		t.Fatalf("expected workspace-relative normalization to unify fingerprints: %s != %s", a, b)
	}

	c := Fingerprint("/ws", "run_shell", map[string]interface{}{"command": "git   status"})
	d := Fingerprint("/ws", "run_shell", map[string]interface{}{"command": "git status"})
	if c != d {
		t.Fatalf("expected whitespace collapse to unify fingerprints: %s != %s", c, d)
	}
}

func TestFingerprint_ArgKeyOrderIndependent(t *testing.T) {
	a := Fingerprint("/ws", "edit_file", map[string]interface{}{"path": "a.go", "content": "x"})
	b := Fingerprint("/ws", "edit_file", map[string]interface{}{"content": "x", "path": "a.go"})
	if a != b {
		t.Fatalf("expected map key order independence: %s != %s", a, b)
	}
}
