package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/fathomline/agentcore/internal/domain/approval"
	"github.com/fathomline/agentcore/internal/domain/policy"
	"github.com/fathomline/agentcore/internal/domain/tool"
)

// SecurityHook wires the Policy Gate and Approval Broker into the agent
// loop's hook chain. It is the single AgentHook.BeforeToolCall veto point:
// every tool dispatch passes through Decide before Execute runs.
type SecurityHook struct {
	NoOpHook
	gate     *policy.Gate
	broker   *approval.Broker
	registry tool.Registry
	logger   *zap.Logger
}

// NewSecurityHook wires a Policy Gate, an Approval Broker, and the tool
// registry (needed to resolve a call's Kind) into one hook.
func NewSecurityHook(gate *policy.Gate, broker *approval.Broker, registry tool.Registry, logger *zap.Logger) *SecurityHook {
	return &SecurityHook{
		gate:     gate,
		broker:   broker,
		registry: registry,
		logger:   logger.With(zap.String("component", "security-hook")),
	}
}

// BeforeToolCall implements AgentHook. It never panics: an unknown tool name
// or a malformed policy both resolve to a deny rather than a crash.
func (h *SecurityHook) BeforeToolCall(ctx context.Context, toolName string, args map[string]interface{}) bool {
	t, ok := h.registry.Get(toolName)
	if !ok {
		h.logger.Warn("denying call to unregistered tool", zap.String("tool", toolName))
		return false
	}

	decision := h.gate.Decide(toolName, t.Kind(), args)
	switch decision.Outcome {
	case policy.Allow:
		return true
	case policy.Deny:
		h.logger.Info("policy gate denied tool call",
			zap.String("tool", toolName), zap.String("reason", decision.Reason))
		return false
	case policy.PromptUser:
		d := h.broker.Resolve(ctx, approval.Request{
			ToolName:    toolName,
			Args:        args,
			Fingerprint: decision.Fingerprint,
			Reason:      decision.Reason,
		})
		approved := d.Outcome == approval.Approved || d.Outcome == approval.ApprovedForSession
		if !approved {
			h.logger.Info("tool call denied by approval broker", zap.String("tool", toolName))
		}
		return approved
	default:
		return false
	}
}
