package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	xerrors "defiseek/internal/errors"
)

// MemoryStore 是 Store 的内存实现，用于测试与无数据库的本地运行。
// 指定数据目录后会把每次变更追加写入 JSON 行日志，重启时恢复。
type MemoryStore struct {
	mu       sync.RWMutex
	journal  string
	chats    map[string]*Chat
	messages map[string][]*Message
	votes    map[string]map[string]*Vote
}

// NewMemoryStore 创建空的内存存储，仅驻留内存。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:    make(map[string]*Chat),
		messages: make(map[string][]*Message),
		votes:    make(map[string]map[string]*Vote),
	}
}

// NewFileBackedMemoryStore 创建带本地日志文件的内存存储，
// 用本地 JSON 行文件模拟数据库的效果，方便迭代开发。
func NewFileBackedMemoryStore(dataDir string) (*MemoryStore, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	s := NewMemoryStore()
	s.journal = filepath.Join(dataDir, "chats.log")
	if err := s.loadFromDisk(); err != nil {
		return nil, err
	}
	return s, nil
}

// journalEntry 是日志文件中的一行。kind 区分记录类型。
type journalEntry struct {
	Kind    string   `json:"kind"`
	Chat    *Chat    `json:"chat,omitempty"`
	Message *Message `json:"message,omitempty"`
	Vote    *Vote    `json:"vote,omitempty"`
	ChatID  string   `json:"chat_id,omitempty"`
}

// appendJournal 以追加写记录一次变更。调用方需持有写锁。
func (s *MemoryStore) appendJournal(entries ...journalEntry) error {
	if s.journal == "" {
		return nil
	}
	file, err := os.OpenFile(s.journal, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开会话日志失败: %w", err)
	}
	defer file.Close()
	for _, e := range entries {
		encoded, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("序列化会话记录失败: %w", err)
		}
		if _, err := file.Write(append(encoded, '\n')); err != nil {
			return fmt.Errorf("写入会话日志失败: %w", err)
		}
	}
	return nil
}

func (s *MemoryStore) loadFromDisk() error {
	file, err := os.OpenFile(s.journal, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取会话日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry journalEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		s.replay(entry)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析会话日志失败: %w", err)
	}
	return nil
}

func (s *MemoryStore) replay(entry journalEntry) {
	switch entry.Kind {
	case "chat":
		if entry.Chat != nil && entry.Chat.ID != "" {
			s.chats[entry.Chat.ID] = entry.Chat
		}
	case "message":
		if entry.Message != nil && entry.Message.ID != "" {
			s.messages[entry.Message.ChatID] = append(s.messages[entry.Message.ChatID], entry.Message)
		}
	case "vote":
		if entry.Vote != nil && entry.Vote.ChatID != "" {
			if s.votes[entry.Vote.ChatID] == nil {
				s.votes[entry.Vote.ChatID] = make(map[string]*Vote)
			}
			s.votes[entry.Vote.ChatID][entry.Vote.MessageID] = entry.Vote
		}
	case "delete_chat":
		delete(s.chats, entry.ChatID)
		delete(s.messages, entry.ChatID)
		delete(s.votes, entry.ChatID)
	}
}

func (s *MemoryStore) SaveChat(ctx context.Context, c *Chat) error {
	if c == nil || c.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cloned := *c
	if err := s.appendJournal(journalEntry{Kind: "chat", Chat: &cloned}); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录会话失败")
	}
	s.chats[c.ID] = &cloned
	return nil
}

func (s *MemoryStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "会话不存在")
	}
	cloned := *c
	return &cloned, nil
}

func (s *MemoryStore) DeleteChat(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[id]; !ok {
		return xerrors.New(xerrors.CodeNotFound, "会话不存在")
	}
	if err := s.appendJournal(journalEntry{Kind: "delete_chat", ChatID: id}); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录会话删除失败")
	}
	delete(s.chats, id)
	delete(s.messages, id)
	delete(s.votes, id)
	return nil
}

func (s *MemoryStore) ListChatsByUser(ctx context.Context, userID string, limit int) ([]*Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chats := make([]*Chat, 0)
	for _, c := range s.chats {
		if c.UserID == userID {
			cloned := *c
			chats = append(chats, &cloned)
		}
	}
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].CreatedAt.After(chats[j].CreatedAt)
	})
	if limit > 0 && len(chats) > limit {
		chats = chats[:limit]
	}
	return chats, nil
}

func (s *MemoryStore) ChatExists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.chats[id]
	return ok, nil
}

func (s *MemoryStore) SaveMessages(ctx context.Context, msgs []*Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]journalEntry, 0, len(msgs))
	cloned := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil || m.ID == "" || m.ChatID == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "消息缺少 ID 或会话 ID")
		}
		copied := *m
		cloned = append(cloned, &copied)
		entries = append(entries, journalEntry{Kind: "message", Message: &copied})
	}
	if err := s.appendJournal(entries...); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录消息失败")
	}
	for _, m := range cloned {
		s.messages[m.ChatID] = append(s.messages[m.ChatID], m)
	}
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, chatID string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[chatID]
	out := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		cloned := *m
		out = append(out, &cloned)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) SetVote(ctx context.Context, v *Vote) error {
	if v == nil || v.ChatID == "" || v.MessageID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "投票缺少会话或消息 ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.votes[v.ChatID] == nil {
		s.votes[v.ChatID] = make(map[string]*Vote)
	}
	cloned := *v
	if err := s.appendJournal(journalEntry{Kind: "vote", Vote: &cloned}); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录投票失败")
	}
	s.votes[v.ChatID][v.MessageID] = &cloned
	return nil
}

func (s *MemoryStore) ListVotes(ctx context.Context, chatID string) ([]*Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	votes := make([]*Vote, 0, len(s.votes[chatID]))
	for _, v := range s.votes[chatID] {
		cloned := *v
		votes = append(votes, &cloned)
	}
	sort.Slice(votes, func(i, j int) bool {
		return votes[i].MessageID < votes[j].MessageID
	})
	return votes, nil
}

var _ Store = (*MemoryStore)(nil)
