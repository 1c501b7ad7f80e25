package service

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fathomline/agentcore/internal/domain/accountant"
	"github.com/fathomline/agentcore/internal/domain/tool"
)

// Guardrail sentinel errors
var (
	ErrTokenBudgetExceeded = fmt.Errorf("token budget exceeded")
	ErrTimeBudgetExceeded  = fmt.Errorf("run time budget exceeded")
	ErrContextOverflow     = fmt.Errorf("context window overflow")
)

// CostGuard prevents token/time budget overruns.
// Thread-safe — can be safely read from multiple goroutines.
type CostGuard struct {
	maxTokens     int64
	currentTokens atomic.Int64
	maxDuration   time.Duration
	startTime     time.Time
	logger        *zap.Logger
}

// NewCostGuard creates a cost guard for the current run.
func NewCostGuard(maxTokens int64, maxDuration time.Duration, logger *zap.Logger) *CostGuard {
	return &CostGuard{
		maxTokens:   maxTokens,
		maxDuration: maxDuration,
		startTime:   time.Now(),
		logger:      logger,
	}
}

// AddTokens accumulates token usage; returns error if budget exceeded.
func (g *CostGuard) AddTokens(n int64) error {
	current := g.currentTokens.Add(n)
	if g.maxTokens > 0 && current > g.maxTokens {
		g.logger.Warn("Token budget exceeded",
			zap.Int64("current", current),
			zap.Int64("max", g.maxTokens),
		)
		return ErrTokenBudgetExceeded
	}
	return nil
}

// CheckBudget returns error if time budget exceeded.
func (g *CostGuard) CheckBudget() error {
	if g.maxDuration > 0 && time.Since(g.startTime) > g.maxDuration {
		return ErrTimeBudgetExceeded
	}
	return nil
}

// GetUsage returns current token count and elapsed time.
func (g *CostGuard) GetUsage() (tokens int64, elapsed time.Duration) {
	return g.currentTokens.Load(), time.Since(g.startTime)
}

// ContextGuard monitors context window usage and triggers compaction. It
// wraps a token Accountant rather than estimating tokens itself, so the
// four-tier threshold state (normal/warn/high/critical) is always derived
// from the same counts the rest of the run loop reports to the user.
type ContextGuard struct {
	acct      *accountant.Accountant
	maxTokens int
	logger    *zap.Logger
}

// NewContextGuard creates a context window guard backed by a Token
// Accountant for model, with the three configured threshold ratios.
func NewContextGuard(model string, maxTokens int, warnRatio, highRatio, criticalRatio float64, logger *zap.Logger) *ContextGuard {
	thresholds := accountant.Thresholds{Warn: warnRatio, High: highRatio, Critical: criticalRatio}
	return &ContextGuard{
		acct:      accountant.New(model, maxTokens, thresholds),
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// ContextCheckResult holds the result of a context window check.
type ContextCheckResult struct {
	EstimatedTokens int
	MaxTokens       int
	Ratio           float64
	ThresholdState  accountant.ThresholdState
	NeedCompaction  bool // high or critical threshold exceeded — must compact
	Warning         bool // warn threshold exceeded — approaching limit
	Approximate     bool // at least one count used the heuristic fallback
}

// Check estimates token usage for LLMMessages and returns compaction
// signals. It recomputes the Accountant's message-category usage from
// scratch each call — the message slice is the caller's full current
// context, not a delta.
func (g *ContextGuard) Check(messages []LLMMessage) ContextCheckResult {
	g.acct.Reset()
	approximate := false
	for _, msg := range messages {
		content := msg.Content
		for _, p := range msg.Parts {
			if p.Type == "text" {
				content += "\n" + p.Text
			} else {
				g.acct.AddRaw(accountant.CategoryMessages, 85) // fixed per-image/media descriptor overhead
			}
		}
		am := accountant.Message{Role: msg.Role, Content: content}
		for _, tc := range msg.ToolCalls {
			argJSON, _ := json.Marshal(tc.Arguments)
			am.ToolCalls = append(am.ToolCalls, accountant.ToolCallPayload{Name: tc.Name, Arguments: string(argJSON)})
		}
		_, approx := g.acct.CountMessage(am, accountant.CategoryMessages)
		approximate = approximate || approx
	}

	report := g.acct.Report()
	ratio := 0.0
	if g.maxTokens > 0 {
		ratio = float64(report.Used) / float64(g.maxTokens)
	}

	result := ContextCheckResult{
		EstimatedTokens: report.Used,
		MaxTokens:       g.maxTokens,
		Ratio:           ratio,
		ThresholdState:  report.ThresholdState,
		Approximate:     approximate || report.Approximate,
	}

	switch report.ThresholdState {
	case accountant.StateHigh, accountant.StateCritical:
		result.NeedCompaction = true
		g.logger.Warn("Context window exceeds compaction threshold",
			zap.Int("tokens", report.Used),
			zap.Int("max", g.maxTokens),
			zap.Float64("ratio", ratio),
			zap.String("state", string(report.ThresholdState)),
		)
	case accountant.StateWarn:
		result.Warning = true
		g.logger.Info("Context window approaching limit",
			zap.Int("tokens", report.Used),
			zap.Int("max", g.maxTokens),
			zap.Float64("ratio", ratio),
		)
	}

	return result
}

// loopCall is one entry in the Loop Detector's sliding window.
type loopCall struct {
	fingerprint string
	kind        tool.Kind
	denied      bool
	errored     bool
}

// LoopSignal is what the Loop Detector returns once it decides the turn
// must halt. A LoopSignal is never fed back to the model — the run loop
// halts the turn on the spot and records a denial ledger entry instead.
type LoopSignal struct {
	Detected bool
	Reason   string
}

// LoopDetector finds two patterns in a K-sized sliding window of recent
// tool calls: R identical consecutive calls (exact fingerprint match), and
// a short oscillating cycle (A,B,A,B,...) repeated R times. Idempotent
// read/search calls and calls that were denied or errored are excluded
// from both counts — rereading the same file, or retrying after a denial,
// is not evidence of a stuck loop.
//
// Detecting either pattern is a hard halt signal: the caller must stop the
// turn and must not issue another LLM request this turn.
type LoopDetector struct {
	window []loopCall
	k      int // window size
	r      int // repeat/cycle threshold
	logger *zap.Logger
}

// NewLoopDetector creates a detector with window size k and repeat
// threshold r (defaults: k=10, r=3).
func NewLoopDetector(k, r int, logger *zap.Logger) *LoopDetector {
	if k <= 0 {
		k = 10
	}
	if r <= 0 {
		r = 3
	}
	return &LoopDetector{
		window: make([]loopCall, 0, k),
		k:      k,
		r:      r,
		logger: logger,
	}
}

// Record adds one completed tool call to the window and evaluates both
// loop patterns. fingerprint should come from policy.Fingerprint so the
// same normalization (path/whitespace/key-order) applies here too.
func (d *LoopDetector) Record(toolName string, kind tool.Kind, fingerprint string, denied, errored bool) LoopSignal {
	d.window = append(d.window, loopCall{fingerprint: fingerprint, kind: kind, denied: denied, errored: errored})
	if len(d.window) > d.k {
		d.window = d.window[1:]
	}

	counted := d.countedCalls()

	if sig := d.detectRepeat(counted, toolName); sig.Detected {
		return sig
	}
	return d.detectOscillation(counted, toolName)
}

// countedCalls filters out idempotent reads/searches and denied/errored
// calls, which don't count toward either pattern.
func (d *LoopDetector) countedCalls() []loopCall {
	out := make([]loopCall, 0, len(d.window))
	for _, c := range d.window {
		if tool.SafeKinds[c.kind] || c.denied || c.errored {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (d *LoopDetector) detectRepeat(counted []loopCall, toolName string) LoopSignal {
	if len(counted) < d.r {
		return LoopSignal{}
	}
	tail := counted[len(counted)-d.r:]
	for _, c := range tail {
		if c.fingerprint != tail[0].fingerprint {
			return LoopSignal{}
		}
	}
	d.logger.Warn("loop detector: identical call repeated, halting turn",
		zap.String("tool", toolName), zap.Int("repeats", d.r))
	return LoopSignal{
		Detected: true,
		Reason:   fmt.Sprintf("tool %q was called with identical arguments %d times in a row", toolName, d.r),
	}
}

// detectOscillation looks for a length-2 A,B,A,B,... cycle spanning 2*r
// counted calls — a tighter loop than straight repetition, e.g.
// alternating between two commands that undo each other.
func (d *LoopDetector) detectOscillation(counted []loopCall, toolName string) LoopSignal {
	need := 2 * d.r
	if len(counted) < need {
		return LoopSignal{}
	}
	tail := counted[len(counted)-need:]
	a, b := tail[0].fingerprint, tail[1].fingerprint
	if a == b {
		return LoopSignal{} // not a 2-cycle, detectRepeat already covers pure repetition
	}
	for i, c := range tail {
		want := a
		if i%2 == 1 {
			want = b
		}
		if c.fingerprint != want {
			return LoopSignal{}
		}
	}
	d.logger.Warn("loop detector: oscillating call pattern, halting turn",
		zap.String("tool", toolName), zap.Int("cycles", d.r))
	return LoopSignal{
		Detected: true,
		Reason:   fmt.Sprintf("tool calls are oscillating between two identical invocations (%d cycles)", d.r),
	}
}

// Reset clears all tracking state (call at the start of each turn).
func (d *LoopDetector) Reset() {
	d.window = d.window[:0]
}
