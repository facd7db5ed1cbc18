package db

import (
	"time"
)

const (
	BlockReasonSpam     = "spam_commands"
	BlockReasonRepeated = "repeated_violations"
	BlockReasonManual   = "manual_admin"

	WarStateActive    = "active"
	WarStateCompleted = "completed"
)

type (
	// UserBlock is the single active block for a (chat, user) pair. A row
	// whose BlockedUntil is in the past is logically absent.
	UserBlock struct {
		UserID          int64     `db:"user_id"`
		ChatID          int64     `db:"chat_id"`
		BlockedAt       time.Time `db:"blocked_at"`
		BlockedUntil    time.Time `db:"blocked_until"`
		Reason          string    `db:"reason"`
		ViolationsCount int       `db:"violations_count"`
		BlockedBy       *int64    `db:"blocked_by"`
	}

	// Violation is an append-only record of a spam-triggered block, counted
	// over a trailing window to pick the next block's duration.
	Violation struct {
		ID            int64     `db:"id"`
		UserID        int64     `db:"user_id"`
		ChatID        int64     `db:"chat_id"`
		Command       string    `db:"command"`
		ViolatedAt    time.Time `db:"violated_at"`
		CommandCount  int       `db:"command_count"`
		BlockDuration int64     `db:"block_duration"`
	}

	// WarNotice tracks the message lifecycle for one clan war. WarID is
	// deterministic across restarts, so the same war is never double-tracked.
	WarNotice struct {
		ClanTag         string    `db:"clan_tag"`
		WarID           string    `db:"war_id"`
		ChatID          int64     `db:"chat_id"`
		StartTime       time.Time `db:"start_time"`
		EndTime         time.Time `db:"end_time"`
		State           string    `db:"state"`
		TickerMessageID int       `db:"ticker_message_id"`
		ReminderMsgID   int       `db:"reminder_message_id"`
		ReminderSent    bool      `db:"reminder_sent"`
	}

	NotifyPreference struct {
		UserID        int64 `db:"user_id"`
		ChatID        int64 `db:"chat_id"`
		AllowMentions bool  `db:"allow_mentions"`
		AllowDM       bool  `db:"allow_dm"`
	}

	Clan struct {
		Tag          string    `db:"tag"`
		ChatID       int64     `db:"chat_id"`
		Name         string    `db:"name"`
		RegisteredAt time.Time `db:"registered_at"`
	}

	Settings struct {
		ChatID   int64  `db:"chat_id"`
		Language string `db:"language"`
	}
)

func (b *UserBlock) ExpiredAt(now time.Time) bool {
	return b == nil || !b.BlockedUntil.After(now)
}
