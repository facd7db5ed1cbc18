package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/iamwavecut/tool"

	"github.com/clashwatch/cwbot/internal/db"
)

func (s *sqliteClient) UpsertBlock(ctx context.Context, block *db.UserBlock) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO user_blocks (user_id, chat_id, blocked_at, blocked_until, reason, violations_count, blocked_by)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, chat_id) DO UPDATE SET
		blocked_at = excluded.blocked_at,
		blocked_until = excluded.blocked_until,
		reason = excluded.reason,
		violations_count = excluded.violations_count,
		blocked_by = excluded.blocked_by
	`
	return tool.Err(s.db.ExecContext(ctx, query,
		block.UserID,
		block.ChatID,
		block.BlockedAt,
		block.BlockedUntil,
		block.Reason,
		block.ViolationsCount,
		block.BlockedBy,
	))
}

func (s *sqliteClient) GetBlock(ctx context.Context, chatID, userID int64) (*db.UserBlock, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var block db.UserBlock
	err := s.db.GetContext(ctx, &block, `
		SELECT * FROM user_blocks
		WHERE chat_id = ? AND user_id = ?
	`, chatID, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &block, nil
}

func (s *sqliteClient) DeleteBlock(ctx context.Context, chatID, userID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return tool.Err(s.db.ExecContext(ctx, `DELETE FROM user_blocks WHERE chat_id = ? AND user_id = ?`, chatID, userID))
}

func (s *sqliteClient) ListBlocks(ctx context.Context, chatID int64, activeAt time.Time) ([]*db.UserBlock, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var blocks []*db.UserBlock
	err := s.db.SelectContext(ctx, &blocks, `
		SELECT * FROM user_blocks
		WHERE chat_id = ? AND blocked_until > ?
		ORDER BY blocked_until ASC
	`, chatID, activeAt)
	return blocks, err
}

func (s *sqliteClient) AddViolation(ctx context.Context, violation *db.Violation) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO violations (user_id, chat_id, command, violated_at, command_count, block_duration)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		violation.UserID,
		violation.ChatID,
		violation.Command,
		violation.ViolatedAt,
		violation.CommandCount,
		violation.BlockDuration,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	violation.ID = id
	return nil
}

func (s *sqliteClient) CountViolations(ctx context.Context, chatID, userID int64, since time.Time) (int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM violations
		WHERE chat_id = ? AND user_id = ? AND violated_at >= ?
	`, chatID, userID, since)
	return count, err
}

func (s *sqliteClient) ListViolations(ctx context.Context, chatID, userID int64, since time.Time) ([]*db.Violation, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var violations []*db.Violation
	err := s.db.SelectContext(ctx, &violations, `
		SELECT * FROM violations
		WHERE chat_id = ? AND user_id = ? AND violated_at >= ?
		ORDER BY violated_at DESC
	`, chatID, userID, since)
	return violations, err
}
