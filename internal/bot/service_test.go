package bot

import (
	"context"
	"errors"
	"testing"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/clashwatch/cwbot/internal/config"
	"github.com/clashwatch/cwbot/internal/db"
)

type fakeDB struct {
	db.Client
	settings map[int64]*db.Settings
	getErr   error
}

func (f *fakeDB) GetSettings(_ context.Context, chatID int64) (*db.Settings, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.settings[chatID], nil
}

func TestGetLanguage(t *testing.T) {
	t.Parallel()

	cfg := config.Config{DefaultLanguage: "en"}
	stored := &fakeDB{settings: map[int64]*db.Settings{
		100: {ChatID: 100, Language: "ru"},
	}}

	for _, tt := range []struct {
		name     string
		db       *fakeDB
		chatID   int64
		user     *api.User
		expected string
	}{
		{name: "chat setting wins", db: stored, chatID: 100, user: &api.User{LanguageCode: "de"}, expected: "ru"},
		{name: "user language fallback", db: stored, chatID: 200, user: &api.User{LanguageCode: "de"}, expected: "de"},
		{name: "default fallback", db: stored, chatID: 200, user: &api.User{}, expected: "en"},
		{name: "nil user", db: stored, chatID: 200, user: nil, expected: "en"},
		{name: "store error falls through", db: &fakeDB{getErr: errors.New("boom")}, chatID: 100, user: &api.User{LanguageCode: "de"}, expected: "de"},
	} {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewService(nil, tt.db, cfg)
			if got := s.GetLanguage(context.Background(), tt.chatID, tt.user); got != tt.expected {
				t.Errorf("GetLanguage() = %q, want %q", got, tt.expected)
			}
		})
	}
}
