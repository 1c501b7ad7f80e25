package context

import (
	"context"
	"fmt"
	"strings"
)

// Summarizer 消息摘要生成器接口。LLM 支持的实现放在编排层 (它持有模型
// 客户端)；这里提供不依赖模型的确定性实现，供压缩回退和 Decision Ledger
// 折叠使用。
type Summarizer interface {
	// Summarize 生成对话摘要
	Summarize(ctx context.Context, messages []Message) (string, error)
}

// SimpleSummarizer 简单摘要器 — 确定性、不依赖 LLM。同样的输入永远产生
// 同样的摘要。
type SimpleSummarizer struct{}

// NewSimpleSummarizer 创建简单摘要器
func NewSimpleSummarizer() *SimpleSummarizer {
	return &SimpleSummarizer{}
}

// Summarize 简单提取关键信息：保留含错误/完成/创建/修改等关键词的消息要点
func (s *SimpleSummarizer) Summarize(_ context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	var points []string
	for _, msg := range messages {
		content := strings.ToLower(msg.Content)
		if strings.Contains(content, "error") ||
			strings.Contains(content, "完成") ||
			strings.Contains(content, "created") ||
			strings.Contains(content, "修改") {
			summary := msg.Content
			if len(summary) > 100 {
				summary = summary[:100] + "..."
			}
			points = append(points, fmt.Sprintf("- [%s] %s", msg.Role, summary))
		}
	}

	if len(points) == 0 {
		return fmt.Sprintf("共 %d 条历史消息", len(messages)), nil
	}

	// 限制最多 10 条
	if len(points) > 10 {
		points = points[len(points)-10:]
	}

	return strings.Join(points, "\n"), nil
}
