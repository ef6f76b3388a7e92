package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"defiseek/internal/chat"
	xerrors "defiseek/internal/errors"
)

// SQLChatStore 使用 MySQL 持久化会话、消息与投票。
type SQLChatStore struct {
	db *sql.DB
}

// NewSQLChatStore 建立连接池并执行迁移。
func NewSQLChatStore(ctx context.Context, cfg Config) (*SQLChatStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLChatStore{db: db}, nil
}

// NewSQLChatStoreWithDB 复用既有连接池，调用方负责迁移与关闭。
func NewSQLChatStoreWithDB(db *sql.DB) *SQLChatStore {
	return &SQLChatStore{db: db}
}

// Close 释放底层连接池。
func (s *SQLChatStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLChatStore) SaveChat(ctx context.Context, c *chat.Chat) error {
	if c == nil || c.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	const query = `INSERT INTO chats (id, user_id, title, visibility, created_at)
VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE title = VALUES(title), visibility = VALUES(visibility)`
	_, err := s.db.ExecContext(ctx, query, c.ID, c.UserID, c.Title, string(c.Visibility), c.CreatedAt.UnixMilli())
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存会话失败")
	}
	return nil
}

func (s *SQLChatStore) GetChat(ctx context.Context, id string) (*chat.Chat, error) {
	const query = `SELECT id, user_id, title, visibility, created_at FROM chats WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)

	var c chat.Chat
	var visibility string
	var createdAt int64
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &visibility, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, xerrors.New(xerrors.CodeNotFound, "会话不存在")
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话失败")
	}
	c.Visibility = chat.Visibility(visibility)
	c.CreatedAt = time.UnixMilli(createdAt)
	return &c, nil
}

func (s *SQLChatStore) DeleteChat(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除会话失败")
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return xerrors.New(xerrors.CodeNotFound, "会话不存在")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE chat_id = ?`, id); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除会话消息失败")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_votes WHERE chat_id = ?`, id); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除会话投票失败")
	}
	return nil
}

func (s *SQLChatStore) ListChatsByUser(ctx context.Context, userID string, limit int) ([]*chat.Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, user_id, title, visibility, created_at FROM chats
WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话列表失败")
	}
	defer rows.Close()

	var chats []*chat.Chat
	for rows.Next() {
		var c chat.Chat
		var visibility string
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &visibility, &createdAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话失败")
		}
		c.Visibility = chat.Visibility(visibility)
		c.CreatedAt = time.UnixMilli(createdAt)
		chats = append(chats, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历会话失败")
	}
	return chats, nil
}

func (s *SQLChatStore) ChatExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM chats WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话失败")
	}
	return true, nil
}

func (s *SQLChatStore) SaveMessages(ctx context.Context, msgs []*chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	const query = `INSERT INTO chat_messages (id, chat_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`
	for _, msg := range msgs {
		if msg == nil || msg.ID == "" {
			tx.Rollback()
			return xerrors.New(xerrors.CodeInvalidArgument, "消息 ID 不能为空")
		}
		if _, err := tx.ExecContext(ctx, query, msg.ID, msg.ChatID, string(msg.Role), msg.Content, msg.CreatedAt.UnixMilli()); err != nil {
			tx.Rollback()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存消息失败")
		}
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交消息事务失败")
	}
	return nil
}

func (s *SQLChatStore) ListMessages(ctx context.Context, chatID string) ([]*chat.Message, error) {
	const query = `SELECT id, chat_id, role, content, created_at FROM chat_messages
WHERE chat_id = ? ORDER BY created_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询消息失败")
	}
	defer rows.Close()

	var msgs []*chat.Message
	for rows.Next() {
		var msg chat.Message
		var role string
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.ChatID, &role, &msg.Content, &createdAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析消息失败")
		}
		msg.Role = chat.Role(role)
		msg.CreatedAt = time.UnixMilli(createdAt)
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历消息失败")
	}
	return msgs, nil
}

func (s *SQLChatStore) SetVote(ctx context.Context, v *chat.Vote) error {
	if v == nil || v.ChatID == "" || v.MessageID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "投票缺少会话或消息 ID")
	}
	upvoted := 0
	if v.IsUpvoted {
		upvoted = 1
	}
	const query = `INSERT INTO chat_votes (chat_id, message_id, is_upvoted) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE is_upvoted = VALUES(is_upvoted)`
	if _, err := s.db.ExecContext(ctx, query, v.ChatID, v.MessageID, upvoted); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存投票失败")
	}
	return nil
}

func (s *SQLChatStore) ListVotes(ctx context.Context, chatID string) ([]*chat.Vote, error) {
	const query = `SELECT chat_id, message_id, is_upvoted FROM chat_votes WHERE chat_id = ?`
	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询投票失败")
	}
	defer rows.Close()

	var votes []*chat.Vote
	for rows.Next() {
		var v chat.Vote
		var upvoted int
		if err := rows.Scan(&v.ChatID, &v.MessageID, &upvoted); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析投票失败")
		}
		v.IsUpvoted = upvoted == 1
		votes = append(votes, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历投票失败")
	}
	return votes, nil
}
