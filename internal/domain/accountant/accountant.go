// Package accountant counts tokens
// for strings and structured messages against a model-specific tokenizer,
// caches counts by content hash, and produces BudgetReports with a
// four-tier threshold state. Pure functions except for the internal
// cache — it does no I/O.
package accountant

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

func init() {
	// Load BPE ranks from the embedded offline loader instead of tiktoken-go's
	// default behavior of fetching them over HTTP on first use — the agent
	// must count tokens even in a sandboxed, network-denied workspace.
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// ThresholdState is the budget report's four-tier state:
// normal, warn, high, critical.
type ThresholdState string

const (
	StateNormal   ThresholdState = "normal"
	StateWarn     ThresholdState = "warn"
	StateHigh     ThresholdState = "high"
	StateCritical ThresholdState = "critical"
)

// Thresholds holds the three ratio cutoffs for the tiered states.
type Thresholds struct {
	Warn     float64 // default 0.75
	High     float64 // default 0.85
	Critical float64 // default 0.90
}

// DefaultThresholds returns the standard 0.75/0.85/0.90 cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{Warn: 0.75, High: 0.85, Critical: 0.90}
}

// Classify maps a used/limit ratio to a ThresholdState.
func (t Thresholds) Classify(ratio float64) ThresholdState {
	switch {
	case ratio >= t.Critical:
		return StateCritical
	case ratio >= t.High:
		return StateHigh
	case ratio >= t.Warn:
		return StateWarn
	default:
		return StateNormal
	}
}

// Category buckets a count belongs to, for BudgetReport.ByCategory.
type Category string

const (
	CategorySystem   Category = "system"
	CategoryMessages Category = "messages"
	CategoryTools    Category = "tools"
	CategoryLedger   Category = "ledger"
)

// Message is the minimal shape the accountant counts: a role, text content,
// and any tool-call argument payloads that contribute overhead. Callers
// adapt their own message type (service.LLMMessage) into this at the call
// site rather than the accountant depending on it, keeping this package
// free of a dependency on the service package.
type Message struct {
	Role      string
	Content   string
	ToolCalls []ToolCallPayload
}

// ToolCallPayload is one tool invocation's name + serialized arguments,
// counted as overhead on top of the message's text content.
type ToolCallPayload struct {
	Name      string
	Arguments string
}

// BudgetReport summarizes current token usage against the limit.
type BudgetReport struct {
	Model          string
	Limit          int
	Used           int
	ByCategory     map[Category]int
	ThresholdState ThresholdState
	Approximate    bool // true if any counted content fell back to the heuristic
}

// cacheEntry holds a memoized count plus whether it was computed by the
// approximate heuristic (so Report() can surface Approximate correctly).
type cacheEntry struct {
	tokens      int
	approximate bool
}

// Accountant is the Token Accountant. One instance is created per run loop
// and fed every message as it enters the session state; Report() can be
// called at any point to get a current BudgetReport.
type Accountant struct {
	model      string
	limit      int
	thresholds Thresholds

	mu    sync.Mutex
	cache map[string]cacheEntry
	used  map[Category]int
}

// New creates a Token Accountant for model, bounded by limit tokens, using
// the given thresholds (DefaultThresholds() if zero-valued).
func New(model string, limit int, thresholds Thresholds) *Accountant {
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}
	return &Accountant{
		model:      model,
		limit:      limit,
		thresholds: thresholds,
		cache:      make(map[string]cacheEntry),
		used:       make(map[Category]int),
	}
}

// Count returns the token count for text against the configured model,
// caching by content hash so repeated text (e.g. an unchanged system
// prompt) is only tokenized once.
func (a *Accountant) Count(text string) (tokens int, approximate bool) {
	if text == "" {
		return 0, false
	}
	key := contentHash(text)

	a.mu.Lock()
	if entry, ok := a.cache[key]; ok {
		a.mu.Unlock()
		return entry.tokens, entry.approximate
	}
	a.mu.Unlock()

	tokens, approximate = a.countUncached(text)

	a.mu.Lock()
	a.cache[key] = cacheEntry{tokens: tokens, approximate: approximate}
	a.mu.Unlock()
	return tokens, approximate
}

func (a *Accountant) countUncached(text string) (int, bool) {
	enc, err := encodingFor(a.model)
	if err != nil {
		return heuristicCount(text), true
	}
	return len(enc.Encode(text, nil, nil)), false
}

// CountMessage counts a structured message: role + content + tool-call
// argument overhead, and records it against category for Report().
func (a *Accountant) CountMessage(msg Message, category Category) (tokens int, approximate bool) {
	contentTokens, approx := a.Count(msg.Content)
	tokens = contentTokens + 4 // per-message role/formatting overhead

	for _, tc := range msg.ToolCalls {
		argTokens, argApprox := a.Count(tc.Arguments)
		tokens += argTokens + len(tc.Name) + 8
		approx = approx || argApprox
	}

	a.mu.Lock()
	a.used[category] += tokens
	a.mu.Unlock()
	return tokens, approx
}

// AddRaw records a fixed token count directly against category, bypassing
// tokenization — used for content the tokenizer can't see, like an image
// descriptor's fixed per-image overhead.
func (a *Accountant) AddRaw(category Category, tokens int) {
	a.mu.Lock()
	a.used[category] += tokens
	a.mu.Unlock()
}

// Remaining returns how many tokens are left in the budget (never negative).
func (a *Accountant) Remaining() int {
	used := a.totalUsed()
	remaining := a.limit - used
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (a *Accountant) totalUsed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, v := range a.used {
		total += v
	}
	return total
}

// Reset clears all category usage (but keeps the content-hash cache) —
// called at the start of a fresh context-window accounting pass, e.g.
// immediately after compaction.
func (a *Accountant) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.used = make(map[Category]int)
}

// Report produces the current BudgetReport.
func (a *Accountant) Report() BudgetReport {
	a.mu.Lock()
	byCategory := make(map[Category]int, len(a.used))
	approximate := false
	total := 0
	for k, v := range a.used {
		byCategory[k] = v
		total += v
	}
	for _, entry := range a.cache {
		if entry.approximate {
			approximate = true
			break
		}
	}
	a.mu.Unlock()

	ratio := 0.0
	if a.limit > 0 {
		ratio = float64(total) / float64(a.limit)
	}

	return BudgetReport{
		Model:          a.model,
		Limit:          a.limit,
		Used:           total,
		ByCategory:     byCategory,
		ThresholdState: a.thresholds.Classify(ratio),
		Approximate:    approximate,
	}
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// heuristicCount is the no-tokenizer fallback: ~3.5 characters per
// token, deterministic, no I/O.
func heuristicCount(text string) int {
	n := float64(len([]rune(text))) / 3.5
	if n < 1 && text != "" {
		n = 1
	}
	return int(n + 0.5)
}

var (
	encodingCacheMu sync.RWMutex
	encodingCache   = make(map[string]*tiktoken.Tiktoken)
)

// encodingFor resolves (and caches) the tiktoken encoding for a model name,
// falling back to cl100k_base for unrecognized model families.
func encodingFor(model string) (*tiktoken.Tiktoken, error) {
	encodingCacheMu.RLock()
	if enc, ok := encodingCache[model]; ok {
		encodingCacheMu.RUnlock()
		return enc, nil
	}
	encodingCacheMu.RUnlock()

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}

	encodingCacheMu.Lock()
	encodingCache[model] = enc
	encodingCacheMu.Unlock()
	return enc, nil
}
