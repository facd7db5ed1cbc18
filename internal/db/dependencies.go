package db

import (
	"context"
	"time"
)

// Client defines the database interface
type Client interface {
	Close() error

	// Block registry
	UpsertBlock(ctx context.Context, block *UserBlock) error
	GetBlock(ctx context.Context, chatID, userID int64) (*UserBlock, error)
	DeleteBlock(ctx context.Context, chatID, userID int64) error
	ListBlocks(ctx context.Context, chatID int64, activeAt time.Time) ([]*UserBlock, error)
	AddViolation(ctx context.Context, violation *Violation) error
	CountViolations(ctx context.Context, chatID, userID int64, since time.Time) (int, error)
	ListViolations(ctx context.Context, chatID, userID int64, since time.Time) ([]*Violation, error)

	// War notices
	UpsertWarNotice(ctx context.Context, notice *WarNotice) error
	GetWarNotice(ctx context.Context, clanTag, warID string) (*WarNotice, error)
	ListActiveWarNotices(ctx context.Context) ([]*WarNotice, error)

	// Clans and preferences
	UpsertClan(ctx context.Context, clan *Clan) error
	GetClan(ctx context.Context, chatID int64) (*Clan, error)
	ListClans(ctx context.Context) ([]*Clan, error)
	GetNotifyPreference(ctx context.Context, chatID, userID int64) (*NotifyPreference, error)
	SetNotifyPreference(ctx context.Context, pref *NotifyPreference) error
	ListNotifyPreferences(ctx context.Context, chatID int64) ([]*NotifyPreference, error)

	// Chat settings
	GetSettings(ctx context.Context, chatID int64) (*Settings, error)
	SetSettings(ctx context.Context, settings *Settings) error
}
