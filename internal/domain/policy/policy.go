// Package policy implements the Policy Gate: the single authority the Turn
// Orchestrator consults before any tool dispatch. It never panics — a
// malformed or contradictory policy table fails safe to Deny rather than
// crashing the turn.
package policy

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fathomline/agentcore/internal/domain/tool"
)

// Outcome is the three-way verdict the Gate returns for a tool call.
type Outcome int

const (
	Allow Outcome = iota
	PromptUser
	Deny
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case PromptUser:
		return "prompt"
	case Deny:
		return "deny"
	default:
		return "unknown"
	}
}

// Decision is the Gate's verdict plus the bookkeeping the caller needs to
// log it to the Decision Ledger and, for PromptUser, hand off to the
// Approval Broker.
type Decision struct {
	Outcome     Outcome
	Reason      string
	Fingerprint string
}

// Table is the declarative per-tool policy the Gate evaluates against. It
// mirrors config.ToolsConfig but lives in this package so the Gate does not
// import the config package directly (config may be hot-reloaded by a
// watcher that only needs to know this shape).
type Table struct {
	DefaultPolicy        string // allow | prompt | deny
	Policies             map[string]string
	AllowCommands        []string
	DenyCommands         []string
	NoPromptAllowlist    []string
	MaxRepeatedToolCalls int
}

// Gate is the Policy Gate. Safe for concurrent use; the table can be swapped
// wholesale (e.g. by a config watcher) via SetTable.
type Gate struct {
	mu        sync.RWMutex
	table     Table
	workspace string
	approved  map[string]struct{} // fingerprint -> approved for this session
	logger    *zap.Logger
}

// NewGate creates a Policy Gate rooted at workspace (used for fingerprint
// path normalization) with the given initial table.
func NewGate(workspace string, table Table, logger *zap.Logger) *Gate {
	return &Gate{
		table:     table,
		workspace: workspace,
		approved:  make(map[string]struct{}),
		logger:    logger.With(zap.String("component", "policy-gate")),
	}
}

// SetTable atomically replaces the policy table, e.g. on config hot-reload.
// The session approval cache is preserved across a reload.
func (g *Gate) SetTable(t Table) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.table = t
}

// Decide evaluates a prospective tool call in priority order:
//  1. an explicit "deny" policy entry for this tool name
//  2. for Execute-kind tools, the shell command deny-list
//  3. for Execute-kind tools, the shell command allow-list
//  4. an explicit "allow" policy entry for this tool name
//  5. a session-approval-cache hit for this exact fingerprint
//  6. otherwise PromptUser
//
// Any unrecognized policy value fails safe to Deny rather than falling
// through — a typo in the config must never silently grant access.
func (g *Gate) Decide(toolName string, kind tool.Kind, args map[string]interface{}) Decision {
	g.mu.RLock()
	table := g.table
	_, cached := g.approved[Fingerprint(g.workspace, toolName, args)]
	g.mu.RUnlock()

	fp := Fingerprint(g.workspace, toolName, args)

	explicitAllow := false
	if pol, ok := table.Policies[toolName]; ok {
		switch pol {
		case "deny":
			return Decision{Outcome: Deny, Reason: "tool policy deny", Fingerprint: fp}
		case "allow":
			// rule 4: applied after the shell deny/allow-lists below
			explicitAllow = true
		case "prompt":
			// fall through to shell-list/cache evaluation below; an
			// explicit "prompt" entry does not short-circuit rule 2/3.
		default:
			return Decision{Outcome: Deny, Reason: "invalid-policy", Fingerprint: fp}
		}
	}

	if kind == tool.KindExecute {
		if raw, ok := args["command"].(string); ok {
			raw = strings.TrimSpace(raw)
			if matchesCommandLine(raw, table.DenyCommands) {
				return Decision{Outcome: Deny, Reason: "shell command deny-list", Fingerprint: fp}
			}
			if bin, ok := commandOf(args); ok && matchesAny(bin, table.AllowCommands) {
				return Decision{Outcome: Allow, Reason: "shell command allow-list", Fingerprint: fp}
			}
		}
	}

	if explicitAllow {
		return Decision{Outcome: Allow, Reason: "tool policy allow", Fingerprint: fp}
	}

	switch table.DefaultPolicy {
	case "allow":
		return Decision{Outcome: Allow, Reason: "default policy allow", Fingerprint: fp}
	case "deny":
		return Decision{Outcome: Deny, Reason: "default policy deny", Fingerprint: fp}
	case "prompt", "":
		// fall through
	default:
		return Decision{Outcome: Deny, Reason: "invalid-policy", Fingerprint: fp}
	}

	if cached {
		return Decision{Outcome: Allow, Reason: "session-approved", Fingerprint: fp}
	}

	if tool.SafeKinds[kind] && containsString(table.NoPromptAllowlist, toolName) {
		return Decision{Outcome: Allow, Reason: "no-prompt allowlist", Fingerprint: fp}
	}

	return Decision{Outcome: PromptUser, Reason: "no matching rule", Fingerprint: fp}
}

// RememberApproval records that a call with this fingerprint was approved
// "for the session", so future identical calls clear the gate via rule 5
// without prompting again. Called by the Approval Broker after an
// ApproveForSession outcome.
func (g *Gate) RememberApproval(fingerprint string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.approved[fingerprint] = struct{}{}
}

// Forget drops a remembered session approval, e.g. after an explicit
// UntrustTool-style operator action.
func (g *Gate) Forget(fingerprint string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.approved, fingerprint)
}

// commandOf extracts the first whitespace-delimited token of a shell
// command argument, stripped of any path prefix, so "/usr/bin/ls -la"
// and "ls -la" match the same allow/deny-list entry.
func commandOf(args map[string]interface{}) (string, bool) {
	raw, ok := args["command"].(string)
	if !ok {
		return "", false
	}
	cmd := strings.TrimSpace(raw)
	if idx := strings.IndexAny(cmd, " \t|;&"); idx >= 0 {
		cmd = cmd[:idx]
	}
	if idx := strings.LastIndex(cmd, "/"); idx >= 0 {
		cmd = cmd[idx+1:]
	}
	return cmd, cmd != ""
}

// matchesAny matches an allow-list entry against a bare binary name.
func matchesAny(cmd string, list []string) bool {
	for _, c := range list {
		if c == cmd {
			return true
		}
	}
	return false
}

// matchesCommandLine matches a deny-list entry against the full command
// line, since deny entries are typically dangerous invocations ("rm -rf /")
// rather than bare binary names.
func matchesCommandLine(raw string, list []string) bool {
	for _, c := range list {
		if raw == c || strings.HasPrefix(raw, c) {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
