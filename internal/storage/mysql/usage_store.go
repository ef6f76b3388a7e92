package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	xerrors "defiseek/internal/errors"
	"defiseek/internal/usage"
)

// SQLUsageStore 使用 MySQL 持久化用量事件。
type SQLUsageStore struct {
	db *sql.DB
}

// NewSQLUsageStore 建立连接池并执行迁移。
func NewSQLUsageStore(ctx context.Context, cfg Config) (*SQLUsageStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLUsageStore{db: db}, nil
}

// NewSQLUsageStoreWithDB 复用既有连接池，调用方负责迁移与关闭。
func NewSQLUsageStoreWithDB(db *sql.DB) *SQLUsageStore {
	return &SQLUsageStore{db: db}
}

// Close 释放底层连接池。
func (s *SQLUsageStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLUsageStore) SaveEvent(ctx context.Context, e *usage.Event) error {
	if e == nil || e.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "事件 ID 不能为空")
	}
	agentIDs, err := json.Marshal(e.AgentIDs)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化智能体列表失败")
	}
	failed, err := json.Marshal(e.FailedAgents)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化失败列表失败")
	}

	const query = `INSERT INTO usage_events
(id, kind, chat_id, user_id, model_id, query_type, agent_ids, failed_agents, latency_ms, status, created_at, processed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		e.ID, string(e.Kind), e.ChatID, e.UserID, e.ModelID, e.QueryType,
		string(agentIDs), string(failed), e.LatencyMs, string(e.Status),
		e.CreatedAt.UnixMilli(), processedAtMilli(e.ProcessedAt))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存用量事件失败")
	}
	return nil
}

func (s *SQLUsageStore) GetEvent(ctx context.Context, id string) (*usage.Event, error) {
	const query = `SELECT id, kind, chat_id, user_id, model_id, query_type, agent_ids, failed_agents, latency_ms, status, created_at, processed_at
FROM usage_events WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)

	var e usage.Event
	var kind, status, agentIDs, failed string
	var createdAt, processedAt int64
	err := row.Scan(&e.ID, &kind, &e.ChatID, &e.UserID, &e.ModelID, &e.QueryType,
		&agentIDs, &failed, &e.LatencyMs, &status, &createdAt, &processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, xerrors.New(xerrors.CodeNotFound, "用量事件不存在")
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询用量事件失败")
	}

	e.Kind = usage.Kind(kind)
	e.Status = usage.Status(status)
	e.CreatedAt = time.UnixMilli(createdAt)
	if processedAt > 0 {
		e.ProcessedAt = time.UnixMilli(processedAt)
	}
	_ = json.Unmarshal([]byte(agentIDs), &e.AgentIDs)
	_ = json.Unmarshal([]byte(failed), &e.FailedAgents)
	return &e, nil
}

func (s *SQLUsageStore) MarkProcessed(ctx context.Context, id string) error {
	const query = `UPDATE usage_events SET status = ?, processed_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, string(usage.StatusProcessed), time.Now().UnixMilli(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新用量事件失败")
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return xerrors.New(xerrors.CodeNotFound, "用量事件不存在")
	}
	return nil
}

func (s *SQLUsageStore) Stats(ctx context.Context) (*usage.Stats, error) {
	stats := &usage.Stats{
		ByKind:      make(map[usage.Kind]int64),
		ByQueryType: make(map[string]int64),
	}

	const totals = `SELECT status, COUNT(*) FROM usage_events GROUP BY status`
	rows, err := s.db.QueryContext(ctx, totals)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计用量事件失败")
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析统计失败")
		}
		stats.Total += count
		switch usage.Status(status) {
		case usage.StatusPending:
			stats.Pending = count
		case usage.StatusProcessed:
			stats.Processed = count
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历统计失败")
	}
	rows.Close()

	if err := s.countInto(ctx, `SELECT kind, COUNT(*) FROM usage_events GROUP BY kind`, func(key string, count int64) {
		stats.ByKind[usage.Kind(key)] = count
	}); err != nil {
		return nil, err
	}
	if err := s.countInto(ctx, `SELECT query_type, COUNT(*) FROM usage_events WHERE query_type <> '' GROUP BY query_type`, func(key string, count int64) {
		stats.ByQueryType[key] = count
	}); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *SQLUsageStore) countInto(ctx context.Context, query string, assign func(string, int64)) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计用量事件失败")
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析统计失败")
		}
		assign(key, count)
	}
	if err := rows.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历统计失败")
	}
	return nil
}

func processedAtMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
