package approval

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fathomline/agentcore/internal/domain/policy"
)

func TestBroker_NoPrompterDeniesHeadless(t *testing.T) {
	gate := policy.NewGate("/ws", policy.Table{DefaultPolicy: "prompt"}, zap.NewNop())
	b := NewBroker(nil, gate, time.Second, zap.NewNop())
	d := b.Resolve(context.Background(), Request{ToolName: "write_file"})
	if d.Outcome != Denied {
		t.Fatalf("expected Denied, got %v", d.Outcome)
	}
}

func TestBroker_ApproveForSessionUpdatesGateCache(t *testing.T) {
	gate := policy.NewGate("/ws", policy.Table{DefaultPolicy: "prompt"}, zap.NewNop())
	args := map[string]interface{}{"path": "a.go"}
	gd := gate.Decide("write_file", "edit", args)

	prompter := func(ctx context.Context, req Request) (Decision, error) {
		return Decision{Outcome: ApprovedForSession}, nil
	}
	b := NewBroker(prompter, gate, time.Second, zap.NewNop())
	d := b.Resolve(context.Background(), Request{ToolName: "write_file", Args: args, Fingerprint: gd.Fingerprint})
	if d.Outcome != ApprovedForSession {
		t.Fatalf("expected ApprovedForSession, got %v", d.Outcome)
	}

	second := gate.Decide("write_file", "edit", args)
	if second.Outcome != policy.Allow {
		t.Fatalf("expected session cache to clear the gate, got %v", second.Outcome)
	}
}

func TestBroker_TimeoutDenies(t *testing.T) {
	gate := policy.NewGate("/ws", policy.Table{}, zap.NewNop())
	blocked := func(ctx context.Context, req Request) (Decision, error) {
		<-ctx.Done()
		return Decision{}, ctx.Err()
	}
	b := NewBroker(blocked, gate, 10*time.Millisecond, zap.NewNop())
	d := b.Resolve(context.Background(), Request{ToolName: "run_shell"})
	if d.Outcome != Denied {
		t.Fatalf("expected Denied on timeout, got %v", d.Outcome)
	}
}
