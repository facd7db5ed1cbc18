package sqlite

import (
	"context"
	"database/sql"

	"github.com/iamwavecut/tool"

	"github.com/clashwatch/cwbot/internal/db"
)

func (s *sqliteClient) UpsertWarNotice(ctx context.Context, notice *db.WarNotice) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO war_notices (clan_tag, war_id, chat_id, start_time, end_time, state,
			ticker_message_id, reminder_message_id, reminder_sent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(clan_tag, war_id) DO UPDATE SET
		chat_id = excluded.chat_id,
		start_time = excluded.start_time,
		end_time = excluded.end_time,
		state = excluded.state,
		ticker_message_id = excluded.ticker_message_id,
		reminder_message_id = excluded.reminder_message_id,
		reminder_sent = excluded.reminder_sent
	`
	return tool.Err(s.db.ExecContext(ctx, query,
		notice.ClanTag,
		notice.WarID,
		notice.ChatID,
		notice.StartTime,
		notice.EndTime,
		notice.State,
		notice.TickerMessageID,
		notice.ReminderMsgID,
		notice.ReminderSent,
	))
}

func (s *sqliteClient) GetWarNotice(ctx context.Context, clanTag, warID string) (*db.WarNotice, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var notice db.WarNotice
	err := s.db.GetContext(ctx, &notice, `
		SELECT * FROM war_notices
		WHERE clan_tag = ? AND war_id = ?
	`, clanTag, warID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &notice, nil
}

func (s *sqliteClient) ListActiveWarNotices(ctx context.Context) ([]*db.WarNotice, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var notices []*db.WarNotice
	err := s.db.SelectContext(ctx, &notices, `
		SELECT * FROM war_notices
		WHERE state = ?
		ORDER BY end_time ASC
	`, db.WarStateActive)
	return notices, err
}
