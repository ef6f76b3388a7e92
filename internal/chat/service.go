package chat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "defiseek/internal/errors"
)

// 会话标题截断长度。
const maxTitleLen = 80

// Service 封装会话的读写流程，供 API 层调用。
type Service struct {
	store Store
}

// NewService 创建会话服务。
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Store 暴露底层存储，供只读查询使用。
func (s *Service) Store() Store {
	return s.store
}

// EnsureChat 返回指定会话；不存在时用首条消息生成标题并创建。
// 返回值第二项表示会话是否为本次新建。
func (s *Service) EnsureChat(ctx context.Context, id, userID, firstMessage string, visibility Visibility) (*Chat, bool, error) {
	if id == "" {
		id = uuid.NewString()
	}
	existing, err := s.store.GetChat(ctx, id)
	if err == nil {
		if existing.UserID != userID {
			return nil, false, xerrors.New(xerrors.CodeAuthRequired, "无权访问该会话")
		}
		return existing, false, nil
	}
	if !xerrors.IsCode(err, xerrors.CodeNotFound) {
		return nil, false, err
	}

	if visibility == "" {
		visibility = VisibilityPrivate
	}
	c := &Chat{
		ID:         id,
		UserID:     userID,
		Title:      titleFrom(firstMessage),
		Visibility: visibility,
		CreatedAt:  time.Now(),
	}
	if err := s.store.SaveChat(ctx, c); err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// AppendMessage 持久化一条消息并返回其 ID。
func (s *Service) AppendMessage(ctx context.Context, chatID string, role Role, content string) (*Message, error) {
	m := &Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := s.store.SaveMessages(ctx, []*Message{m}); err != nil {
		return nil, err
	}
	return m, nil
}

// History 返回用户的会话列表。存储失败时返回空列表而不是错误，
// 历史页面的可用性优先于完整性。
func (s *Service) History(ctx context.Context, userID string, limit int) []*Chat {
	chats, err := s.store.ListChatsByUser(ctx, userID, limit)
	if err != nil {
		return []*Chat{}
	}
	if chats == nil {
		chats = []*Chat{}
	}
	return chats
}

// Delete 删除会话，要求调用者是会话属主。
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	c, err := s.store.GetChat(ctx, id)
	if err != nil {
		return err
	}
	if c.UserID != userID {
		return xerrors.New(xerrors.CodeAuthRequired, "无权删除该会话")
	}
	return s.store.DeleteChat(ctx, id)
}

// Exists 判断会话是否存在。
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	return s.store.ChatExists(ctx, id)
}

// Votes 返回会话内的投票。
func (s *Service) Votes(ctx context.Context, chatID string) ([]*Vote, error) {
	return s.store.ListVotes(ctx, chatID)
}

// SetVote 写入一条投票，要求消息所在会话存在。
func (s *Service) SetVote(ctx context.Context, v *Vote) error {
	exists, err := s.store.ChatExists(ctx, v.ChatID)
	if err != nil {
		return err
	}
	if !exists {
		return xerrors.New(xerrors.CodeNotFound, "会话不存在")
	}
	return s.store.SetVote(ctx, v)
}

// titleFrom 用首条消息生成会话标题。
func titleFrom(message string) string {
	title := strings.TrimSpace(message)
	if title == "" {
		return "新会话"
	}
	runes := []rune(title)
	if len(runes) > maxTitleLen {
		return string(runes[:maxTitleLen])
	}
	return title
}
