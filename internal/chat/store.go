package chat

import "context"

// Store 定义会话持久化的统一接口，由内存实现与 MySQL 实现共同满足。
type Store interface {
	// SaveChat 保存新会话。
	SaveChat(ctx context.Context, c *Chat) error
	// GetChat 按 ID 返回会话，未找到时返回 NOT_FOUND。
	GetChat(ctx context.Context, id string) (*Chat, error)
	// DeleteChat 删除会话及其消息与投票。
	DeleteChat(ctx context.Context, id string) error
	// ListChatsByUser 按创建时间倒序返回用户的会话。
	ListChatsByUser(ctx context.Context, userID string, limit int) ([]*Chat, error)
	// ChatExists 判断会话是否存在。
	ChatExists(ctx context.Context, id string) (bool, error)

	// SaveMessages 批量保存消息。
	SaveMessages(ctx context.Context, msgs []*Message) error
	// ListMessages 按时间顺序返回会话内的全部消息。
	ListMessages(ctx context.Context, chatID string) ([]*Message, error)

	// SetVote 写入或覆盖一条投票。
	SetVote(ctx context.Context, v *Vote) error
	// ListVotes 返回会话内的全部投票。
	ListVotes(ctx context.Context, chatID string) ([]*Vote, error)
}
