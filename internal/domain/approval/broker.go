// Package approval implements the Approval Broker: the component that
// resolves a Policy Gate PromptUser verdict into a concrete decision, either
// by asking a human through whatever UI is attached or, headlessly, by
// denying — approval is opt-in, never implicit.
package approval

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fathomline/agentcore/internal/domain/policy"
)

// Outcome is the result a prompter (human or automation) returns for one
// approval request.
type Outcome int

const (
	// Denied is also the fail-safe zero value: a broker with no prompter
	// attached, or one whose prompter errors or times out, denies.
	Denied Outcome = iota
	DeniedWithFeedback
	Approved
	ApprovedForSession
)

func (o Outcome) String() string {
	switch o {
	case Approved:
		return "approved"
	case ApprovedForSession:
		return "approved_for_session"
	case DeniedWithFeedback:
		return "denied_with_feedback"
	default:
		return "denied"
	}
}

// Request describes one tool call awaiting a human decision.
type Request struct {
	ToolName    string
	Args        map[string]interface{}
	Fingerprint string
	Reason      string // why the Policy Gate handed this to the broker
}

// Decision is what a prompter returns for a Request.
type Decision struct {
	Outcome  Outcome
	Feedback string // populated for DeniedWithFeedback: fed back to the model as the tool result
}

// Prompter surfaces a Request to a human (or an automation policy) and
// blocks until they respond or ctx is cancelled. The CLI's REPL renderer
// implements this by printing the pending call and reading a keypress.
type Prompter func(ctx context.Context, req Request) (Decision, error)

// Observer is notified when a request is surfaced and again when it is
// decided. stage is "requested" or "decided"; for "requested" the
// Decision is the zero value. Observers must be fast and must not block.
type Observer func(stage string, req Request, decision Decision)

// Broker resolves Policy Gate PromptUser verdicts. Exactly one of Approve,
// ApproveForSession, Deny, or DenyWithFeedback happens per call to Resolve.
type Broker struct {
	prompter Prompter
	gate     *policy.Gate
	timeout  time.Duration
	observer Observer
	logger   *zap.Logger
}

// SetObserver attaches an observer for approval lifecycle events (the
// Trajectory Log uses this). A nil observer disables notification.
func (b *Broker) SetObserver(fn Observer) {
	b.observer = fn
}

// NewBroker creates a Broker. prompter may be nil for headless runs, in
// which case every Resolve call denies without blocking.
func NewBroker(prompter Prompter, gate *policy.Gate, timeout time.Duration, logger *zap.Logger) *Broker {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Broker{
		prompter: prompter,
		gate:     gate,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "approval-broker")),
	}
}

// Resolve asks the attached prompter to decide on req, enforcing the
// approval-wait timeout. A timed-out or errored prompt denies; it never
// blocks the turn indefinitely and it never panics.
func (b *Broker) Resolve(ctx context.Context, req Request) Decision {
	if b.observer != nil {
		b.observer("requested", req, Decision{})
	}
	if b.prompter == nil {
		b.logger.Warn("no prompter attached, denying by default",
			zap.String("tool", req.ToolName))
		return b.decided(req, Decision{Outcome: Denied})
	}

	wctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	decision, err := b.prompter(wctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			b.logger.Info("approval wait timed out, denying",
				zap.String("tool", req.ToolName), zap.Duration("timeout", b.timeout))
		} else {
			b.logger.Error("prompter failed, denying", zap.Error(err))
		}
		return b.decided(req, Decision{Outcome: Denied})
	}

	if decision.Outcome == ApprovedForSession {
		b.gate.RememberApproval(req.Fingerprint)
	}
	return b.decided(req, decision)
}

func (b *Broker) decided(req Request, d Decision) Decision {
	if b.observer != nil {
		b.observer("decided", req, d)
	}
	return d
}
