package tool

import (
	"context"
	"fmt"

	"github.com/fathomline/agentcore/internal/domain/service"
	domaintool "github.com/fathomline/agentcore/internal/domain/tool"
	"go.uber.org/zap"
)

// RegistryExecutor adapts a domaintool.Registry into the Turn Orchestrator's
// service.ToolExecutor. It does not itself enforce policy — the Policy
// Gate/Approval Broker run as a SecurityHook ahead of dispatch, via
// AgentHook.BeforeToolCall — this type only resolves and invokes tools.
type RegistryExecutor struct {
	registry domaintool.Registry
	logger   *zap.Logger
}

var _ service.ToolExecutor = (*RegistryExecutor)(nil)

// NewRegistryExecutor creates a service.ToolExecutor backed by registry.
func NewRegistryExecutor(registry domaintool.Registry, logger *zap.Logger) *RegistryExecutor {
	return &RegistryExecutor{registry: registry, logger: logger}
}

// Execute resolves name against the registry and dispatches args to it.
func (e *RegistryExecutor) Execute(ctx context.Context, name string, args map[string]interface{}) (*domaintool.Result, error) {
	t, ok := e.registry.Get(name)
	if !ok {
		return nil, domaintool.NewToolError(domaintool.ErrNotFound, fmt.Sprintf("tool %q is not registered", name))
	}
	return t.Execute(ctx, args)
}

// GetDefinitions returns the JSON-schema definitions of every registered tool.
func (e *RegistryExecutor) GetDefinitions() []domaintool.Definition {
	return e.registry.List()
}

// GetToolKind returns the registered tool's Kind, defaulting to KindExecute
// (the most conservative classification) when the tool is unknown.
func (e *RegistryExecutor) GetToolKind(name string) domaintool.Kind {
	t, ok := e.registry.Get(name)
	if !ok {
		e.logger.Debug("GetToolKind: unknown tool, defaulting to execute", zap.String("tool", name))
		return domaintool.KindExecute
	}
	return t.Kind()
}
