// Package usage 记录与统计对话请求的用量事件。
// 事件先落库再异步入队处理，记录失败绝不影响对话主链路。
package usage

import (
	"time"
)

// Kind 是用量事件的类别。
type Kind string

const (
	KindChatCompleted Kind = "chat_completed"
	KindChatFailed    Kind = "chat_failed"
	KindVote          Kind = "vote"
)

// Status 表示事件的处理状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
)

// Event 是一条用量事件。
type Event struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	ChatID       string    `json:"chatId,omitempty"`
	UserID       string    `json:"userId,omitempty"`
	ModelID      string    `json:"modelId,omitempty"`
	QueryType    string    `json:"queryType,omitempty"`
	AgentIDs     []string  `json:"agentIds,omitempty"`
	FailedAgents []string  `json:"failedAgents,omitempty"`
	LatencyMs    int64     `json:"latencyMs,omitempty"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	ProcessedAt  time.Time `json:"processedAt,omitempty"`
}
