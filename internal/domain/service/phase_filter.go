package service

import (
	ctxmgr "github.com/fathomline/agentcore/internal/domain/context"
	domaintool "github.com/fathomline/agentcore/internal/domain/tool"
)

// phaseSignals flattens the trailing conversation into the observations
// the phase detector scores: user/assistant text plus tool uses with
// their kinds.
func phaseSignals(messages []LLMMessage, kindOf func(string) domaintool.Kind) []ctxmgr.PhaseSignal {
	signals := make([]ctxmgr.PhaseSignal, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "user", "assistant":
			if text := msg.TextContent(); text != "" {
				signals = append(signals, ctxmgr.PhaseSignal{Role: msg.Role, Content: text})
			}
			for _, tc := range msg.ToolCalls {
				signals = append(signals, ctxmgr.PhaseSignal{Tool: tc.Name, Kind: kindOf(tc.Name)})
			}
		case "tool":
			if msg.Name != "" {
				signals = append(signals, ctxmgr.PhaseSignal{Tool: msg.Name, Kind: kindOf(msg.Name)})
			}
		}
	}
	return signals
}

// filterToolsByPhase narrows the exposed tool definitions to those whose
// kind the detected phase surfaces. If filtering would leave nothing
// (e.g. a registry of only executors during exploration), the full set
// is returned — a request with zero tools tells the model less than one
// with too many.
func filterToolsByPhase(defs []domaintool.Definition, phase ctxmgr.Phase, kindOf func(string) domaintool.Kind) []domaintool.Definition {
	filtered := make([]domaintool.Definition, 0, len(defs))
	for _, def := range defs {
		if phase.ExposesKind(kindOf(def.Name)) {
			filtered = append(filtered, def)
		}
	}
	if len(filtered) == 0 {
		return defs
	}
	return filtered
}
