package context

import (
	"strings"
	"unicode/utf8"
)

// Message 上下文管理视角下的一条消息 — 压缩/修剪只需要这些字段
type Message struct {
	Role       string
	Content    string
	ToolCallID string
	Importance float64 // 重要性评分 (0-1)，0 表示未评分
	Tokens     int     // 预估 token 数，0 表示未计算
}

// Tokenizer token 计数接口
type Tokenizer interface {
	Count(text string) int
}

// SimpleTokenizer 简单 token 计数器 (基于字符估算)。
// 中文约 2 字符一个 token，英文约 4 字符一个 token。
type SimpleTokenizer struct {
	charsPerToken float64
}

// NewSimpleTokenizer 创建简单计数器
func NewSimpleTokenizer() *SimpleTokenizer {
	return &SimpleTokenizer{charsPerToken: 4.0}
}

// Count 估算 token 数
func (t *SimpleTokenizer) Count(text string) int {
	chineseCount := 0
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FFF {
			chineseCount++
		}
	}

	totalChars := utf8.RuneCountInString(text)
	englishChars := totalChars - chineseCount

	tokens := float64(chineseCount)/2.0 + float64(englishChars)/t.charsPerToken
	return int(tokens) + 1
}

// PruneConfig controls which middle-of-conversation messages survive a
// compaction pass.
type PruneConfig struct {
	PreserveRecent      int     // 始终保留最近的 N 条消息
	ImportanceThreshold float64 // 重要性低于此值的中间消息进入摘要
}

// DefaultPruneConfig matches the Context Manager's curation defaults.
func DefaultPruneConfig() *PruneConfig {
	return &PruneConfig{
		PreserveRecent:      5,
		ImportanceThreshold: 0.6,
	}
}

// Pruner scores middle-of-conversation messages by importance and
// decides which ones a compaction keeps verbatim versus folds into the
// summary. It never touches the system prompt or the trailing
// PreserveRecent messages — the caller carves those out first.
type Pruner struct {
	config    *PruneConfig
	tokenizer Tokenizer
}

// NewPruner 创建修剪器
func NewPruner(config *PruneConfig, tokenizer Tokenizer) *Pruner {
	if config == nil {
		config = DefaultPruneConfig()
	}
	if tokenizer == nil {
		tokenizer = NewSimpleTokenizer()
	}
	return &Pruner{config: config, tokenizer: tokenizer}
}

// Partition splits middle messages into (keep, fold): keep survives the
// compaction verbatim, fold goes to the summarizer. A call/result pair
// stays together when the caller marks both sides as tool-related (a
// ToolCallID on the call message as well as on the result): both then get
// the same tool boost, which alone reaches the default threshold.
func (p *Pruner) Partition(middle []Message) (keep, fold []Message) {
	for _, msg := range middle {
		if p.ShouldKeep(msg) {
			keep = append(keep, msg)
		} else {
			fold = append(fold, msg)
		}
	}
	return keep, fold
}

// ShouldKeep reports whether one middle message survives compaction
// verbatim.
func (p *Pruner) ShouldKeep(msg Message) bool {
	return p.evaluateImportance(msg) >= p.config.ImportanceThreshold
}

// EstimateTokens 估算消息列表的 token 数
func (p *Pruner) EstimateTokens(messages []Message) int {
	total := 0
	for i := range messages {
		if messages[i].Tokens == 0 {
			messages[i].Tokens = p.tokenizer.Count(messages[i].Content)
		}
		total += messages[i].Tokens
	}
	return total
}

// evaluateImportance 评估消息重要性
func (p *Pruner) evaluateImportance(msg Message) float64 {
	if msg.Importance > 0 {
		return msg.Importance
	}

	importance := 0.5 // 基础分

	// 工具相关消息更重要
	if msg.Role == "tool" || msg.ToolCallID != "" {
		importance += 0.2
	}

	// 包含代码的消息更重要
	if strings.Contains(msg.Content, "```") {
		importance += 0.15
	}

	// 包含错误信息的更重要
	lowerContent := strings.ToLower(msg.Content)
	if strings.Contains(lowerContent, "error") ||
		strings.Contains(lowerContent, "failed") ||
		strings.Contains(lowerContent, "exception") {
		importance += 0.1
	}

	// 较长的消息通常包含更多信息
	if len(msg.Content) > 500 {
		importance += 0.05
	}

	if importance > 1.0 {
		importance = 1.0
	}
	return importance
}
