package accountant

import (
	"testing"
)

func TestThresholdsClassify(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		ratio float64
		want  ThresholdState
	}{
		{0.0, StateNormal},
		{0.74, StateNormal},
		{0.75, StateWarn},
		{0.84, StateWarn},
		{0.85, StateHigh},
		{0.89, StateHigh},
		{0.90, StateCritical},
		{1.5, StateCritical},
	}
	for _, tt := range tests {
		if got := th.Classify(tt.ratio); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.ratio, got, tt.want)
		}
	}
}

func TestCountDeterministic(t *testing.T) {
	a := New("gpt-4", 8000, Thresholds{})

	text := "The quick brown fox jumps over the lazy dog."
	first, _ := a.Count(text)
	second, _ := a.Count(text)

	if first <= 0 {
		t.Fatalf("Count() = %d, want > 0", first)
	}
	if first != second {
		t.Errorf("counting the same content twice: %d then %d", first, second)
	}

	if n, _ := a.Count(""); n != 0 {
		t.Errorf("Count(\"\") = %d, want 0", n)
	}
}

func TestCountMessageCategories(t *testing.T) {
	a := New("gpt-4", 10000, Thresholds{})

	a.CountMessage(Message{Role: "system", Content: "You are a coding agent."}, CategorySystem)
	a.CountMessage(Message{Role: "user", Content: "read the README please"}, CategoryMessages)
	a.CountMessage(Message{
		Role: "assistant",
		ToolCalls: []ToolCallPayload{
			{Name: "read_file", Arguments: `{"path":"README.md"}`},
		},
	}, CategoryMessages)

	report := a.Report()
	if report.ByCategory[CategorySystem] <= 0 {
		t.Error("system category not counted")
	}
	if report.ByCategory[CategoryMessages] <= 0 {
		t.Error("messages category not counted")
	}

	sum := 0
	for _, v := range report.ByCategory {
		sum += v
	}
	if report.Used != sum {
		t.Errorf("Used = %d, want sum of categories %d", report.Used, sum)
	}
}

func TestRemainingAndReset(t *testing.T) {
	a := New("gpt-4", 100, Thresholds{})

	a.AddRaw(CategoryMessages, 80)
	if got := a.Remaining(); got != 20 {
		t.Errorf("Remaining() = %d, want 20", got)
	}

	a.AddRaw(CategoryMessages, 50) // over budget
	if got := a.Remaining(); got != 0 {
		t.Errorf("Remaining() over budget = %d, want 0", got)
	}

	a.Reset()
	if got := a.Remaining(); got != 100 {
		t.Errorf("Remaining() after reset = %d, want 100", got)
	}
}

func TestThresholdStateFromUsage(t *testing.T) {
	a := New("gpt-4", 1000, Thresholds{})

	a.AddRaw(CategoryMessages, 900)
	if state := a.Report().ThresholdState; state != StateCritical {
		t.Errorf("at 90%% usage: state = %v, want %v", state, StateCritical)
	}
}

func TestHeuristicCount(t *testing.T) {
	if heuristicCount("") != 0 {
		t.Error("empty text should count 0")
	}
	if heuristicCount("ab") != 1 {
		t.Error("tiny text rounds up to 1")
	}
	// ~3.5 chars per token
	n := heuristicCount("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa") // 35 chars
	if n != 10 {
		t.Errorf("heuristicCount(35 chars) = %d, want 10", n)
	}
}
