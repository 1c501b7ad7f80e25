package context

import (
	"testing"

	"github.com/fathomline/agentcore/internal/domain/tool"
)

func TestDetectPhase(t *testing.T) {
	tests := []struct {
		name    string
		signals []PhaseSignal
		want    Phase
	}{
		{
			name:    "empty window",
			signals: nil,
			want:    PhaseUnknown,
		},
		{
			name: "user asks where something is",
			signals: []PhaseSignal{
				{Role: "user", Content: "where is the retry logic configured?"},
			},
			want: PhaseExploration,
		},
		{
			name: "edits dominate",
			signals: []PhaseSignal{
				{Tool: "read_file", Kind: tool.KindRead},
				{Tool: "edit_file", Kind: tool.KindEdit},
				{Tool: "write_file", Kind: tool.KindEdit},
			},
			want: PhaseImplementation,
		},
		{
			name: "user asks to run tests",
			signals: []PhaseSignal{
				{Role: "user", Content: "please run the test suite and check it passes"},
				{Tool: "run_shell", Kind: tool.KindExecute},
			},
			want: PhaseValidation,
		},
		{
			name: "error chasing",
			signals: []PhaseSignal{
				{Role: "user", Content: "the build fails with a nil pointer panic, fix it"},
				{Role: "user", Content: "still broken, same error"},
			},
			want: PhaseDebugging,
		},
		{
			name: "old signals outside the window are ignored",
			signals: append(
				// 10 stale edit signals pushed out of the 8-wide window...
				repeatSignal(PhaseSignal{Tool: "edit_file", Kind: tool.KindEdit}, 10),
				// ...by 8 fresh exploration signals
				repeatSignal(PhaseSignal{Tool: "grep_search", Kind: tool.KindSearch}, 8)...,
			),
			want: PhaseExploration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectPhase(tt.signals); got != tt.want {
				t.Errorf("DetectPhase() = %v, want %v", got, tt.want)
			}
		})
	}
}

func repeatSignal(s PhaseSignal, n int) []PhaseSignal {
	out := make([]PhaseSignal, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func TestPhaseExposesKind(t *testing.T) {
	if !PhaseUnknown.ExposesKind(tool.KindExecute) {
		t.Error("unknown phase must expose every kind")
	}
	if !PhaseImplementation.ExposesKind(tool.KindEdit) {
		t.Error("implementation must expose edit tools")
	}
	if PhaseExploration.ExposesKind(tool.KindEdit) {
		t.Error("exploration must not expose edit tools")
	}
	if !PhaseExploration.ExposesKind(tool.KindRead) {
		t.Error("read tools stay available in every phase")
	}
	if !PhaseValidation.ExposesKind(tool.KindExecute) {
		t.Error("validation must expose command runners")
	}
}
