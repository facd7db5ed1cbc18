package sqlite

import (
	"context"
	"database/sql"

	"github.com/iamwavecut/tool"

	"github.com/clashwatch/cwbot/internal/db"
)

func (s *sqliteClient) UpsertClan(ctx context.Context, clan *db.Clan) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO clans (tag, chat_id, name, registered_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tag) DO UPDATE SET
		chat_id = excluded.chat_id,
		name = excluded.name
	`
	return tool.Err(s.db.ExecContext(ctx, query, clan.Tag, clan.ChatID, clan.Name, clan.RegisteredAt))
}

func (s *sqliteClient) GetClan(ctx context.Context, chatID int64) (*db.Clan, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var clan db.Clan
	err := s.db.GetContext(ctx, &clan, `SELECT * FROM clans WHERE chat_id = ? LIMIT 1`, chatID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &clan, nil
}

func (s *sqliteClient) ListClans(ctx context.Context) ([]*db.Clan, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var clans []*db.Clan
	err := s.db.SelectContext(ctx, &clans, `SELECT * FROM clans ORDER BY registered_at ASC`)
	return clans, err
}

func (s *sqliteClient) GetNotifyPreference(ctx context.Context, chatID, userID int64) (*db.NotifyPreference, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var pref db.NotifyPreference
	err := s.db.GetContext(ctx, &pref, `
		SELECT * FROM notify_preferences
		WHERE chat_id = ? AND user_id = ?
	`, chatID, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &pref, nil
}

func (s *sqliteClient) SetNotifyPreference(ctx context.Context, pref *db.NotifyPreference) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO notify_preferences (user_id, chat_id, allow_mentions, allow_dm)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, chat_id) DO UPDATE SET
		allow_mentions = excluded.allow_mentions,
		allow_dm = excluded.allow_dm
	`
	return tool.Err(s.db.ExecContext(ctx, query, pref.UserID, pref.ChatID, pref.AllowMentions, pref.AllowDM))
}

func (s *sqliteClient) ListNotifyPreferences(ctx context.Context, chatID int64) ([]*db.NotifyPreference, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var prefs []*db.NotifyPreference
	err := s.db.SelectContext(ctx, &prefs, `
		SELECT * FROM notify_preferences
		WHERE chat_id = ?
		ORDER BY user_id ASC
	`, chatID)
	return prefs, err
}
