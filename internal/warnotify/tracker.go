package warnotify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/clashwatch/cwbot/internal/clash"
	"github.com/clashwatch/cwbot/internal/db"
	"github.com/clashwatch/cwbot/internal/observability"

	log "github.com/sirupsen/logrus"
)

// Messenger is the messaging collaborator. Edit and delete failures on an
// already-gone message are treated as non-fatal by the tracker.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int, error)
	EditMessage(ctx context.Context, chatID int64, messageID int, text string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

type Clock interface {
	Now() time.Time
}

type warStore interface {
	UpsertWarNotice(ctx context.Context, notice *db.WarNotice) error
	GetWarNotice(ctx context.Context, clanTag, warID string) (*db.WarNotice, error)
	ListActiveWarNotices(ctx context.Context) ([]*db.WarNotice, error)
	ListNotifyPreferences(ctx context.Context, chatID int64) ([]*db.NotifyPreference, error)
}

type noticeKey struct {
	clanTag string
	warID   string
}

type lockRef struct {
	mu   sync.Mutex
	refs int
}

// Tracker drives the per-war notification state machine: first inWar
// observation creates a live ticker message, later polls edit it in place, a
// single reminder goes out when the war enters its closing window, and
// warEnded tears both messages down. A completed war is terminal.
type Tracker struct {
	store       warStore
	messenger   Messenger
	clock       Clock
	reminderMin time.Duration
	reminderMax time.Duration
	lang        string

	locksMu sync.Mutex
	locks   map[noticeKey]*lockRef
}

func NewTracker(store warStore, messenger Messenger, clock Clock, reminderMin, reminderMax time.Duration, lang string) *Tracker {
	if reminderMin <= 0 {
		reminderMin = 5*time.Hour + 30*time.Minute
	}
	if reminderMax <= reminderMin {
		reminderMax = reminderMin + time.Hour
	}
	return &Tracker{
		store:       store,
		messenger:   messenger,
		clock:       clock,
		reminderMin: reminderMin,
		reminderMax: reminderMax,
		lang:        lang,
		locks:       make(map[noticeKey]*lockRef),
	}
}

// WarID derives a stable identifier for a war, so the same war is never
// double-tracked across restarts or repeated polls.
func WarID(clanTag, opponentTag string, start time.Time) string {
	return fmt.Sprintf("%s|%s|%d", clanTag, opponentTag, start.UTC().Unix())
}

// OnWarSnapshot feeds one poll observation into the state machine. Feeding
// the same snapshot twice is safe: no duplicate messages, no second
// reminder, no error on a repeated warEnded.
func (t *Tracker) OnWarSnapshot(ctx context.Context, chatID int64, clanTag string, snapshot *clash.WarSnapshot) error {
	if snapshot == nil {
		return nil
	}

	switch snapshot.State {
	case clash.WarStateInWar:
		return t.onInWar(ctx, chatID, clanTag, snapshot)
	case clash.WarStateEnded:
		return t.onWarEnded(ctx, chatID, clanTag, snapshot)
	case clash.WarStateNotInWar, clash.WarStatePreparation:
		return nil
	default:
		return fmt.Errorf("unknown war state %q for clan %s", snapshot.State, clanTag)
	}
}

func (t *Tracker) onInWar(ctx context.Context, chatID int64, clanTag string, snapshot *clash.WarSnapshot) error {
	if snapshot.EndTime.IsZero() || snapshot.Opponent.Tag == "" {
		return fmt.Errorf("malformed war snapshot for clan %s", clanTag)
	}

	warID := WarID(clanTag, snapshot.Opponent.Tag, snapshot.StartTime.Time)
	unlock := t.lockKey(noticeKey{clanTag: clanTag, warID: warID})
	defer unlock()

	entry := t.getLogEntry().WithField("clan_tag", clanTag).WithField("war_id", warID)
	now := t.clock.Now()

	notice, err := t.store.GetWarNotice(ctx, clanTag, warID)
	if err != nil {
		return fmt.Errorf("get war notice: %w", err)
	}
	if notice != nil && notice.State == db.WarStateCompleted {
		return nil
	}

	if notice == nil {
		notice = &db.WarNotice{
			ClanTag:   clanTag,
			WarID:     warID,
			ChatID:    chatID,
			StartTime: snapshot.StartTime.Time,
			EndTime:   snapshot.EndTime.Time,
			State:     db.WarStateActive,
		}
		// Persist before the first send, so a crash between the two cannot
		// spawn a second tracked war for the same snapshot.
		if err := t.store.UpsertWarNotice(ctx, notice); err != nil {
			return fmt.Errorf("persist war notice: %w", err)
		}
		entry.Info("tracking new war")
	}

	if notice.ChatID != chatID {
		// The clan was re-registered to another chat mid-war. The old chat's
		// messages cannot be edited from here; drop them and resend.
		if notice.TickerMessageID != 0 {
			if err := t.messenger.DeleteMessage(ctx, notice.ChatID, notice.TickerMessageID); err != nil {
				entry.WithField("error", err.Error()).Warn("failed to delete stale ticker message")
			}
		}
		if notice.ReminderMsgID != 0 {
			if err := t.messenger.DeleteMessage(ctx, notice.ChatID, notice.ReminderMsgID); err != nil {
				entry.WithField("error", err.Error()).Warn("failed to delete stale reminder message")
			}
		}
		notice.ChatID = chatID
		notice.TickerMessageID = 0
		notice.ReminderMsgID = 0
	}

	text := renderTicker(snapshot, notice.EndTime.Sub(now), t.lang)
	if notice.TickerMessageID == 0 {
		messageID, err := t.messenger.SendMessage(ctx, notice.ChatID, text)
		if err != nil {
			// Ticker id stays zero, the next poll retries the send.
			entry.WithField("error", err.Error()).Error("failed to send ticker message")
		} else {
			notice.TickerMessageID = messageID
		}
	} else {
		if err := t.messenger.EditMessage(ctx, notice.ChatID, notice.TickerMessageID, text); err != nil {
			entry.WithField("error", err.Error()).Warn("failed to edit ticker message")
		}
	}

	t.maybeSendReminder(ctx, entry, notice, snapshot, now)

	notice.EndTime = snapshot.EndTime.Time
	if err := t.store.UpsertWarNotice(ctx, notice); err != nil {
		return fmt.Errorf("update war notice: %w", err)
	}
	return nil
}

// maybeSendReminder sends the closing-window reminder at most once per war.
// The sent flag is persisted immediately after a successful send; a crash in
// between loses the reminder rather than duplicating it.
func (t *Tracker) maybeSendReminder(ctx context.Context, entry *log.Entry, notice *db.WarNotice, snapshot *clash.WarSnapshot, now time.Time) {
	if notice.ReminderSent {
		return
	}
	remaining := snapshot.EndTime.Sub(now)
	if remaining < t.reminderMin || remaining > t.reminderMax {
		return
	}

	text := renderReminder(snapshot, t.lang)
	messageID, err := t.messenger.SendMessage(ctx, notice.ChatID, text)
	if err != nil {
		entry.WithField("error", err.Error()).Error("failed to send war reminder")
		return
	}
	notice.ReminderSent = true
	notice.ReminderMsgID = messageID
	if err := t.store.UpsertWarNotice(ctx, notice); err != nil {
		entry.WithField("error", err.Error()).Error("failed to persist reminder state")
	}
	observability.RecordWarReminder()
	entry.Info("war reminder sent")

	t.fanOutReminderDMs(ctx, entry, notice.ChatID, text)
}

// fanOutReminderDMs copies the reminder to chat members who opted into
// direct messages. Best-effort: a closed DM never fails the poll.
func (t *Tracker) fanOutReminderDMs(ctx context.Context, entry *log.Entry, chatID int64, text string) {
	prefs, err := t.store.ListNotifyPreferences(ctx, chatID)
	if err != nil {
		entry.WithField("error", err.Error()).Error("failed to list notify preferences")
		return
	}
	for _, pref := range prefs {
		if !pref.AllowDM {
			continue
		}
		if _, err := t.messenger.SendMessage(ctx, pref.UserID, text); err != nil {
			entry.WithField("user_id", pref.UserID).WithField("error", err.Error()).Debug("failed to DM reminder")
		}
	}
}

func (t *Tracker) onWarEnded(ctx context.Context, chatID int64, clanTag string, snapshot *clash.WarSnapshot) error {
	warID := WarID(clanTag, snapshot.Opponent.Tag, snapshot.StartTime.Time)
	unlock := t.lockKey(noticeKey{clanTag: clanTag, warID: warID})
	defer unlock()

	entry := t.getLogEntry().WithField("clan_tag", clanTag).WithField("war_id", warID)

	notice, err := t.store.GetWarNotice(ctx, clanTag, warID)
	if err != nil {
		return fmt.Errorf("get war notice: %w", err)
	}
	if notice == nil || notice.State == db.WarStateCompleted {
		return nil
	}

	if notice.TickerMessageID != 0 {
		if err := t.messenger.DeleteMessage(ctx, notice.ChatID, notice.TickerMessageID); err != nil {
			entry.WithField("error", err.Error()).Warn("failed to delete ticker message")
		}
	}
	if notice.ReminderMsgID != 0 {
		if err := t.messenger.DeleteMessage(ctx, notice.ChatID, notice.ReminderMsgID); err != nil {
			entry.WithField("error", err.Error()).Warn("failed to delete reminder message")
		}
	}

	notice.State = db.WarStateCompleted
	if err := t.store.UpsertWarNotice(ctx, notice); err != nil {
		return fmt.Errorf("complete war notice: %w", err)
	}
	entry.Info("war completed")
	return nil
}

// lockKey serializes observations of the same war. Reference counted, an
// entry is dropped when its last holder releases, so finished wars leave
// nothing behind.
func (t *Tracker) lockKey(key noticeKey) func() {
	t.locksMu.Lock()
	ref, ok := t.locks[key]
	if !ok {
		ref = &lockRef{}
		t.locks[key] = ref
	}
	ref.refs++
	t.locksMu.Unlock()

	ref.mu.Lock()
	return func() {
		ref.mu.Unlock()
		t.locksMu.Lock()
		ref.refs--
		if ref.refs == 0 {
			delete(t.locks, key)
		}
		t.locksMu.Unlock()
	}
}

func (t *Tracker) getLogEntry() *log.Entry {
	return log.WithField("object", "WarTracker")
}
