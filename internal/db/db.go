package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Store 持久化存储（日志行 + bot 记录）
type Store struct {
	db *sql.DB
}

// Open 打开（必要时创建）数据库文件并初始化表结构
func Open(dbPath string) (*Store, error) {
	// 确保目录存在
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", dbPath)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite 单连接，写入天然串行
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	s := &Store{db: conn}
	if err := s.initTables(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to init tables: %w", err)
	}
	return s, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping 检查数据库是否可用
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// initTables 初始化表结构
func (s *Store) initTables(ctx context.Context) error {
	schemas := []string{
		// 日志表：id 自增即为同一 bot 内的发出顺序
		`CREATE TABLE IF NOT EXISTS bot_log (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			bot_id    TEXT NOT NULL,
			ts        INTEGER NOT NULL,
			severity  TEXT NOT NULL DEFAULT 'SYSTEM',
			message   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bot_log_bot_id ON bot_log(bot_id, id)`,

		// bot 表：最近一次部署来源 + 过期信息
		`CREATE TABLE IF NOT EXISTS bot (
			id          TEXT PRIMARY KEY,
			source_kind TEXT DEFAULT '',
			source_url  TEXT DEFAULT '',
			expires_at  INTEGER DEFAULT 0,
			expired     INTEGER DEFAULT 0,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bot_expires_at ON bot(expires_at)`,
	}

	for _, schema := range schemas {
		if _, err := s.db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("failed to exec schema: %s, error: %w", schema, err)
		}
	}
	return nil
}
