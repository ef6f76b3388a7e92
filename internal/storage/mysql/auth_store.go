package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"defiseek/internal/auth"
)

// SQLAuthStore persists users, roles and permissions in MySQL.
type SQLAuthStore struct {
	db *sql.DB
}

// NewSQLAuthStore creates the store using the provided connection settings.
func NewSQLAuthStore(ctx context.Context, cfg Config) (*SQLAuthStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLAuthStore{db: db}, nil
}

// NewSQLAuthStoreWithDB reuses an existing pool; the caller owns migrations
// and the pool lifecycle.
func NewSQLAuthStoreWithDB(db *sql.DB) *SQLAuthStore {
	return &SQLAuthStore{db: db}
}

// Close releases the underlying database connection pool.
func (s *SQLAuthStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// FindUserByUsername implements auth.Store.
func (s *SQLAuthStore) FindUserByUsername(ctx context.Context, username string) (*auth.User, error) {
	const query = `SELECT id, username, password_hash, disabled FROM auth_users WHERE username = ?`
	row := s.db.QueryRowContext(ctx, query, strings.TrimSpace(username))
	var user auth.User
	var disabled int
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &disabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	user.Disabled = disabled == 1
	return &user, nil
}

// LoadSubject loads the subject details including roles and permissions.
func (s *SQLAuthStore) LoadSubject(ctx context.Context, userID string) (*auth.Subject, error) {
	const userQuery = `SELECT id, username, disabled FROM auth_users WHERE id = ?`
	row := s.db.QueryRowContext(ctx, userQuery, userID)
	var subject auth.Subject
	var disabled int
	if err := row.Scan(&subject.ID, &subject.Username, &disabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("查询用户信息失败: %w", err)
	}
	subject.Disabled = disabled == 1

	roles, err := s.collectStrings(ctx, `SELECT role FROM auth_user_roles WHERE user_id = ?`, subject.ID)
	if err != nil {
		return nil, err
	}
	subject.Roles = roles

	perms, err := s.collectStrings(ctx, `SELECT permission FROM auth_user_permissions WHERE user_id = ?`, subject.ID)
	if err != nil {
		return nil, err
	}
	subject.Permissions = perms
	return &subject, nil
}

func (s *SQLAuthStore) collectStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询列表失败: %w", err)
	}
	defer rows.Close()
	var result []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("解析列表失败: %w", err)
		}
		result = append(result, strings.ToLower(strings.TrimSpace(value)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历列表失败: %w", err)
	}
	sort.Strings(result)
	return result, nil
}

// ApplySeed upserts a default account with its roles and permissions.
func (s *SQLAuthStore) ApplySeed(ctx context.Context, seed auth.Seed) error {
	username := strings.TrimSpace(seed.Username)
	if username == "" {
		return errors.New("seed username must not be empty")
	}
	hash, err := auth.HashPassword(seed.Password)
	if err != nil {
		return fmt.Errorf("hash seed password: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}

	userID := uuid.NewString()
	var existingID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM auth_users WHERE username = ?`, username).Scan(&existingID)
	switch {
	case err == nil:
		userID = existingID
	case errors.Is(err, sql.ErrNoRows):
	default:
		tx.Rollback()
		return fmt.Errorf("查询用户失败: %w", err)
	}

	disabled := 0
	if seed.Disabled {
		disabled = 1
	}
	const upsert = `INSERT INTO auth_users (id, username, password_hash, disabled)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE password_hash = VALUES(password_hash), disabled = VALUES(disabled)`
	if _, err := tx.ExecContext(ctx, upsert, userID, username, hash, disabled); err != nil {
		tx.Rollback()
		return fmt.Errorf("写入用户失败: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM auth_user_roles WHERE user_id = ?`, userID); err != nil {
		tx.Rollback()
		return fmt.Errorf("清理角色失败: %w", err)
	}
	for _, role := range seed.Roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO auth_user_roles (user_id, role) VALUES (?, ?)`, userID, role); err != nil {
			tx.Rollback()
			return fmt.Errorf("写入角色失败: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM auth_user_permissions WHERE user_id = ?`, userID); err != nil {
		tx.Rollback()
		return fmt.Errorf("清理权限失败: %w", err)
	}
	for _, perm := range seed.Permissions {
		perm = strings.ToLower(strings.TrimSpace(perm))
		if perm == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO auth_user_permissions (user_id, permission) VALUES (?, ?)`, userID, perm); err != nil {
			tx.Rollback()
			return fmt.Errorf("写入权限失败: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}
