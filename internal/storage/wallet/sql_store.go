package wallet

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	xerrors "ArcadeAgent/internal/errors"
)

// Config 描述钱包存储。
type Config struct {
	Driver                 string `json:"driver" yaml:"driver" env:"WALLET_DRIVER"`
	DSN                    string `json:"dsn" yaml:"dsn" env:"WALLET_DSN"`
	MaxOpenConns           int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds"`
}

// SQLStore 将钱包记录保存在关系型数据库中。
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// NewSQLStore 打开数据库连接并执行嵌入的迁移。
func NewSQLStore(ctx context.Context, cfg Config) (*SQLStore, error) {
	d, err := lookupDialect(cfg.Driver)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "")
	}
	db, err := openDatabase(ctx, d, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接钱包数据库失败")
	}
	if err := runMigrations(ctx, db, d); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "钱包数据库迁移失败")
	}
	return &SQLStore{db: db, dialect: d, now: time.Now}, nil
}

func openDatabase(ctx context.Context, d dialect, cfg Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("%s DSN 不能为空", d.name)
	}

	db, err := sql.Open(d.driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 %s 失败: %w", d.name, err)
	}

	switch {
	case d.name == "sqlite":
		// SQLite 只允许单写者。
		db.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	default:
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetimeSeconds > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("无法连接到 %s: %w", d.name, err)
	}
	return db, nil
}

const selectColumns = `user_id, public_key, private_key, in_progress, in_game, lease_token, lease_expires_at, created_at, updated_at`

// Get 查询用户钱包。
func (s *SQLStore) Get(ctx context.Context, userID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+selectColumns+` FROM wallets WHERE user_id = ?`), userID)

	var (
		record                         Record
		leaseExpires, created, updated int64
	)
	err := row.Scan(&record.UserID, &record.PublicKey, &record.PrivateKey, &record.InProgress, &record.InGame,
		&record.LeaseToken, &leaseExpires, &created, &updated)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询钱包失败", xerrors.WithMetadata("user_id", userID))
	}
	if leaseExpires > 0 {
		record.LeaseExpiresAt = time.UnixMilli(leaseExpires).UTC()
	}
	record.CreatedAt = time.UnixMilli(created).UTC()
	record.UpdatedAt = time.UnixMilli(updated).UTC()
	return &record, nil
}

// Create 插入新钱包。
func (s *SQLStore) Create(ctx context.Context, record Record) error {
	if strings.TrimSpace(record.UserID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "user id is required")
	}
	now := s.now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	const stmt = `INSERT INTO wallets
        (user_id, public_key, private_key, in_progress, in_game, lease_token, lease_expires_at, created_at, updated_at)
        VALUES (?, ?, ?, FALSE, FALSE, '', 0, ?, ?)`
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(stmt),
		record.UserID, record.PublicKey, record.PrivateKey, record.CreatedAt.UnixMilli(), record.UpdatedAt.UnixMilli())
	if err != nil {
		if s.dialect.isDuplicate(err) {
			return ErrWalletConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入钱包失败", xerrors.WithMetadata("user_id", record.UserID))
	}
	return nil
}

// SetInGame 更新 in_game 标记。
func (s *SQLStore) SetInGame(ctx context.Context, userID string, inGame bool) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`UPDATE wallets SET in_game = ?, updated_at = ? WHERE user_id = ?`),
		inGame, s.now().UnixMilli(), userID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新 in_game 失败", xerrors.WithMetadata("user_id", userID))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// Acquire 以条件更新的方式获取回合租约：仅当未被占用或租约已过期时写入。
func (s *SQLStore) Acquire(ctx context.Context, userID, token string, ttl time.Duration) (bool, error) {
	now := s.now()
	const stmt = `UPDATE wallets
        SET in_progress = TRUE, lease_token = ?, lease_expires_at = ?, updated_at = ?
        WHERE user_id = ? AND (in_progress = FALSE OR lease_expires_at < ?)`
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(stmt),
		token, now.Add(ttl).UnixMilli(), now.UnixMilli(), userID, now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("写入回合租约失败: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("读取影响行数失败: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, userID); err != nil {
		return false, err
	}
	return false, nil
}

// Release 清除 token 匹配的租约。
func (s *SQLStore) Release(ctx context.Context, userID, token string) error {
	const stmt = `UPDATE wallets
        SET in_progress = FALSE, lease_token = '', lease_expires_at = 0, updated_at = ?
        WHERE user_id = ? AND lease_token = ?`
	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(stmt), s.now().UnixMilli(), userID, token); err != nil {
		return fmt.Errorf("释放回合租约失败: %w", err)
	}
	return nil
}

// Ping 检查数据库连通性。
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close 关闭数据库连接。
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
