package context

import (
	"strings"

	"github.com/fathomline/agentcore/internal/domain/tool"
)

// Phase classifies what the conversation is currently doing. The Context
// Manager uses it to decide which tool descriptors each LLM request
// exposes — a validation turn surfaces command runners, an exploration
// turn surfaces readers and searchers.
type Phase string

const (
	PhaseExploration    Phase = "exploration"    // reading, searching, mapping the codebase
	PhaseImplementation Phase = "implementation" // writing and editing files
	PhaseValidation     Phase = "validation"     // running tests / builds / checks
	PhaseDebugging      Phase = "debugging"      // chasing an error or failure
	PhaseUnknown        Phase = "unknown"        // not enough evidence — expose everything
)

// PhaseSignal is one observation the detector scores: a recent message
// (role + content) or a recent tool use (Tool set, Content empty).
type PhaseSignal struct {
	Role    string
	Content string
	Tool    string
	Kind    tool.Kind
}

// phaseWindow is how many trailing signals the detector considers.
const phaseWindow = 8

var phaseKeywords = map[Phase][]string{
	PhaseExploration:    {"where is", "find", "show me", "explain", "how does", "look at", "什么是", "在哪", "看一下"},
	PhaseImplementation: {"implement", "add ", "create", "write", "refactor", "rename", "实现", "添加", "创建", "重构", "修改"},
	PhaseValidation:     {"test", "verify", "check", "run the", "build", "lint", "测试", "验证", "构建"},
	PhaseDebugging:      {"error", "fail", "broken", "bug", "fix", "panic", "crash", "报错", "失败", "修复"},
}

// DetectPhase scores the trailing window of signals with simple keyword
// and tool-kind heuristics and returns the winning phase. Evidence ties
// and empty windows resolve to PhaseUnknown — never guess a restriction.
func DetectPhase(signals []PhaseSignal) Phase {
	if len(signals) > phaseWindow {
		signals = signals[len(signals)-phaseWindow:]
	}

	scores := map[Phase]int{}
	for _, s := range signals {
		if s.Tool != "" {
			switch s.Kind {
			case tool.KindRead, tool.KindSearch:
				scores[PhaseExploration]++
			case tool.KindEdit, tool.KindDelete:
				scores[PhaseImplementation] += 2
			case tool.KindExecute:
				scores[PhaseValidation]++
			}
			continue
		}

		text := strings.ToLower(s.Content)
		for phase, words := range phaseKeywords {
			for _, w := range words {
				if strings.Contains(text, w) {
					weight := 1
					if s.Role == "user" {
						// the user's own words outvote tool echoes
						weight = 2
					}
					scores[phase] += weight
					break
				}
			}
		}
	}

	best, bestScore, tied := PhaseUnknown, 0, false
	for phase, score := range scores {
		switch {
		case score > bestScore:
			best, bestScore, tied = phase, score, false
		case score == bestScore && score > 0:
			tied = true
		}
	}
	if bestScore == 0 || tied {
		return PhaseUnknown
	}
	return best
}

// phaseKinds maps each phase to the tool kinds it exposes. A nil set
// means no filtering (everything is exposed). Read and search stay
// available in every phase — hiding them only forces the model to guess.
var phaseKinds = map[Phase]map[tool.Kind]bool{
	PhaseExploration: {
		tool.KindRead: true, tool.KindSearch: true, tool.KindFetch: true,
		tool.KindThink: true, tool.KindCommunicate: true,
	},
	PhaseValidation: {
		tool.KindRead: true, tool.KindSearch: true, tool.KindExecute: true,
		tool.KindThink: true, tool.KindCommunicate: true,
	},
	// Implementation and Debugging need the full surface: edits, runs,
	// reads, and searches all interleave.
	PhaseImplementation: nil,
	PhaseDebugging:      nil,
	PhaseUnknown:        nil,
}

// ExposesKind reports whether tools of kind k should be offered to the
// model while the conversation is in phase p.
func (p Phase) ExposesKind(k tool.Kind) bool {
	allowed := phaseKinds[p]
	if allowed == nil {
		return true
	}
	return allowed[k]
}
