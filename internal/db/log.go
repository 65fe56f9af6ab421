package db

import (
	"context"
	"time"

	"botcloud/internal/models"
)

// AppendLog 追加一条日志，并回填自增 ID
func (s *Store) AppendLog(ctx context.Context, line *models.LogLine) error {
	if line.Timestamp.IsZero() {
		line.Timestamp = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_log (bot_id, ts, severity, message) VALUES (?, ?, ?, ?)`,
		line.BotID, line.Timestamp.UnixNano(), string(line.Severity), line.Message,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	line.ID = id
	return nil
}

// RecentLogs 获取某个 bot 最近 limit 条日志（按发出顺序升序返回）
func (s *Store) RecentLogs(ctx context.Context, botID string, limit int) ([]models.LogLine, error) {
	if limit <= 0 {
		return []models.LogLine{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, bot_id, ts, severity, message FROM (
			SELECT id, bot_id, ts, severity, message FROM bot_log
			WHERE bot_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		botID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := []models.LogLine{}
	for rows.Next() {
		var (
			line     models.LogLine
			ts       int64
			severity string
		)
		if err := rows.Scan(&line.ID, &line.BotID, &ts, &severity, &line.Message); err != nil {
			return nil, err
		}
		line.Timestamp = time.Unix(0, ts).UTC()
		line.Severity = models.ParseSeverity(severity)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
