package db

import (
	"context"
	"database/sql"
	"time"

	"botcloud/internal/models"
)

// Bot bot 记录（不保存进程状态，进程状态由 keeper 推导）
type Bot struct {
	ID         string            `json:"botId"`
	SourceKind models.SourceKind `json:"sourceKind,omitempty"`
	SourceURL  string            `json:"sourceUrl,omitempty"`
	ExpiresAt  *time.Time        `json:"expiresAt,omitempty"`
	Expired    bool              `json:"expired"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// SaveSource 记录最近一次部署来源（UPSERT）
func (s *Store) SaveSource(ctx context.Context, botID string, kind models.SourceKind, url string) error {
	now := time.Now().UnixNano()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot (id, source_kind, source_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET source_kind = excluded.source_kind,
		 	source_url = excluded.source_url, updated_at = excluded.updated_at`,
		botID, string(kind), url, now, now,
	)
	return err
}

// SetExpiry 设置过期时间，同时清除已过期标记（续期）
func (s *Store) SetExpiry(ctx context.Context, botID string, expiresAt time.Time) error {
	now := time.Now().UnixNano()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot (id, expires_at, expired, created_at, updated_at)
		 VALUES (?, ?, 0, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET expires_at = excluded.expires_at,
		 	expired = 0, updated_at = excluded.updated_at`,
		botID, expiresAt.UnixNano(), now, now,
	)
	return err
}

// GetBot 根据 ID 获取 bot，不存在返回 nil, nil
func (s *Store) GetBot(ctx context.Context, botID string) (*Bot, error) {
	var (
		b                              Bot
		kind                           string
		expiresAt, createdAt, updateAt int64
		expired                        int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, source_kind, source_url, expires_at, expired, created_at, updated_at
		 FROM bot WHERE id = ?`, botID,
	).Scan(&b.ID, &kind, &b.SourceURL, &expiresAt, &expired, &createdAt, &updateAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	b.SourceKind = models.SourceKind(kind)
	b.Expired = expired != 0
	if expiresAt > 0 {
		t := time.Unix(0, expiresAt).UTC()
		b.ExpiresAt = &t
	}
	b.CreatedAt = time.Unix(0, createdAt).UTC()
	b.UpdatedAt = time.Unix(0, updateAt).UTC()
	return &b, nil
}

// ListDue 列出已到期但尚未标记过期的 bot
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM bot WHERE expires_at > 0 AND expires_at <= ? AND expired = 0 ORDER BY expires_at`,
		now.UnixNano(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkExpired 标记 bot 已过期
func (s *Store) MarkExpired(ctx context.Context, botID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE bot SET expired = 1, updated_at = ? WHERE id = ?`,
		time.Now().UnixNano(), botID,
	)
	return err
}

// DeleteBot 删除 bot 记录及其日志
func (s *Store) DeleteBot(ctx context.Context, botID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bot_log WHERE bot_id = ?`, botID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM bot WHERE id = ?`, botID); err != nil {
		return err
	}
	return tx.Commit()
}
