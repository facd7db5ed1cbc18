package warnotify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clashwatch/cwbot/internal/clash"
	"github.com/clashwatch/cwbot/internal/db"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

type sentMessage struct {
	chatID int64
	text   string
}

type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int
	sends   []sentMessage
	edits   []int
	deletes []int
	sendErr error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{nextID: 1001}
}

func (m *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return 0, m.sendErr
	}
	id := m.nextID
	m.nextID++
	m.sends = append(m.sends, sentMessage{chatID: chatID, text: text})
	return id, nil
}

func (m *fakeMessenger) EditMessage(_ context.Context, _ int64, messageID int, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, messageID)
	return nil
}

func (m *fakeMessenger) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, messageID)
	return nil
}

type fakeWarStore struct {
	mu      sync.Mutex
	notices map[string]*db.WarNotice
	prefs   []*db.NotifyPreference
}

func newFakeWarStore() *fakeWarStore {
	return &fakeWarStore{notices: make(map[string]*db.WarNotice)}
}

func (s *fakeWarStore) UpsertWarNotice(_ context.Context, notice *db.WarNotice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *notice
	s.notices[notice.ClanTag+"|"+notice.WarID] = &copied
	return nil
}

func (s *fakeWarStore) GetWarNotice(_ context.Context, clanTag, warID string) (*db.WarNotice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	notice, ok := s.notices[clanTag+"|"+warID]
	if !ok {
		return nil, nil
	}
	copied := *notice
	return &copied, nil
}

func (s *fakeWarStore) ListActiveWarNotices(_ context.Context) ([]*db.WarNotice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []*db.WarNotice
	for _, notice := range s.notices {
		if notice.State == db.WarStateActive {
			copied := *notice
			active = append(active, &copied)
		}
	}
	return active, nil
}

func (s *fakeWarStore) ListNotifyPreferences(_ context.Context, chatID int64) ([]*db.NotifyPreference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*db.NotifyPreference
	for _, pref := range s.prefs {
		if pref.ChatID == chatID {
			copied := *pref
			matched = append(matched, &copied)
		}
	}
	return matched, nil
}

func warSnapshot(state string, start, end time.Time) *clash.WarSnapshot {
	return &clash.WarSnapshot{
		State:      state,
		TeamSize:   2,
		StartTime:  clash.Time{Time: start},
		EndTime:    clash.Time{Time: end},
		AttacksPer: 2,
		Clan: clash.WarClan{
			Tag:   "#CLAN",
			Name:  "Night Owls",
			Stars: 12,
			Members: []clash.WarMember{
				{Tag: "#M1", Name: "Alpha", Attacks: []clash.WarAttack{{Stars: 3}, {Stars: 2}}},
				{Tag: "#M2", Name: "Bravo"},
			},
		},
		Opponent: clash.WarClan{
			Tag:   "#ENEMY",
			Name:  "Goblins",
			Stars: 9,
		},
	}
}

func TestTrackerFirstObservationSendsTicker(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	store := newFakeWarStore()
	messenger := newFakeMessenger()
	clock := newFakeClock(start.Add(time.Hour))
	tracker := NewTracker(store, messenger, clock, 0, 0, "en")
	ctx := context.Background()

	if err := tracker.OnWarSnapshot(ctx, 100, "#CLAN", warSnapshot(clash.WarStateInWar, start, end)); err != nil {
		t.Fatalf("on snapshot: %v", err)
	}

	if len(messenger.sends) != 1 {
		t.Fatalf("expected one ticker send, got %d", len(messenger.sends))
	}
	if messenger.sends[0].chatID != 100 {
		t.Fatalf("ticker sent to wrong chat %d", messenger.sends[0].chatID)
	}
	if !strings.Contains(messenger.sends[0].text, "Goblins") {
		t.Fatalf("ticker must name the opponent, got %q", messenger.sends[0].text)
	}

	notice, err := store.GetWarNotice(ctx, "#CLAN", WarID("#CLAN", "#ENEMY", start))
	if err != nil || notice == nil {
		t.Fatalf("expected persisted notice, got %v, %v", notice, err)
	}
	if notice.TickerMessageID != 1001 {
		t.Fatalf("expected ticker message id 1001, got %d", notice.TickerMessageID)
	}
	if notice.State != db.WarStateActive {
		t.Fatalf("expected active notice, got %q", notice.State)
	}
}

func TestTrackerRepeatedPollsEditInPlace(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	store := newFakeWarStore()
	messenger := newFakeMessenger()
	clock := newFakeClock(start.Add(time.Hour))
	tracker := NewTracker(store, messenger, clock, 0, 0, "en")
	ctx := context.Background()

	snapshot := warSnapshot(clash.WarStateInWar, start, end)
	for i := 0; i < 3; i++ {
		if err := tracker.OnWarSnapshot(ctx, 100, "#CLAN", snapshot); err != nil {
			t.Fatalf("poll %d: %v", i+1, err)
		}
		clock.Set(clock.Now().Add(5 * time.Minute))
	}

	if len(messenger.sends) != 1 {
		t.Fatalf("repeated polls must not resend, got %d sends", len(messenger.sends))
	}
	if len(messenger.edits) != 2 {
		t.Fatalf("expected 2 edits, got %d", len(messenger.edits))
	}
	for _, messageID := range messenger.edits {
		if messageID != 1001 {
			t.Fatalf("edits must target the ticker message, got %d", messageID)
		}
	}
}

func TestTrackerTickerSendFailureRetries(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	store := newFakeWarStore()
	messenger := newFakeMessenger()
	messenger.sendErr = errors.New("telegram down")
	clock := newFakeClock(start.Add(time.Hour))
	tracker := NewTracker(store, messenger, clock, 0, 0, "en")
	ctx := context.Background()

	snapshot := warSnapshot(clash.WarStateInWar, start, end)
	if err := tracker.OnWarSnapshot(ctx, 100, "#CLAN", snapshot); err != nil {
		t.Fatalf("first poll: %v", err)
	}

	notice, _ := store.GetWarNotice(ctx, "#CLAN", WarID("#CLAN", "#ENEMY", start))
	if notice == nil {
		t.Fatal("notice must be persisted even when the send fails")
	}
	if notice.TickerMessageID != 0 {
		t.Fatalf("failed send must leave ticker id unset, got %d", notice.TickerMessageID)
	}

	messenger.sendErr = nil
	if err := tracker.OnWarSnapshot(ctx, 100, "#CLAN", snapshot); err != nil {
		t.Fatalf("second poll: %v", err)
	}
	notice, _ = store.GetWarNotice(ctx, "#CLAN", WarID("#CLAN", "#ENEMY", start))
	if notice.TickerMessageID == 0 {
		t.Fatal("next poll must retry the ticker send")
	}
	if len(messenger.sends) != 1 {
		t.Fatalf("expected exactly one successful send, got %d", len(messenger.sends))
	}
}

func TestTrackerReminderSentOnceInsideWindow(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	store := newFakeWarStore()
	messenger := newFakeMessenger()
	clock := newFakeClock(start.Add(time.Hour))
	tracker := NewTracker(store, messenger, clock, 5*time.Hour+30*time.Minute, 6*time.Hour+30*time.Minute, "en")
	ctx := context.Background()

	snapshot := warSnapshot(clash.WarStateInWar, start, end)

	// Early poll: far outside the closing window, no reminder.
	if err := tracker.OnWarSnapshot(ctx, 100, "#CLAN", snapshot); err != nil {
		t.Fatalf("early poll: %v", err)
	}
	if len(messenger.sends) != 1 {
		t.Fatalf("expected only the ticker so far, got %d sends", len(messenger.sends))
	}

	// 6 hours remaining: reminder fires exactly once.
	clock.Set(end.Add(-6 * time.Hour))
	for i := 0; i < 3; i++ {
		if err := tracker.OnWarSnapshot(ctx, 100, "#CLAN", snapshot); err != nil {
			t.Fatalf("window poll %d: %v", i+1, err)
		}
		clock.Set(clock.Now().Add(5 * time.Minute))
	}

	if len(messenger.sends) != 2 {
		t.Fatalf("expected ticker plus one reminder, got %d sends", len(messenger.sends))
	}
	reminder := messenger.sends[1]
	if !strings.Contains(reminder.text, "Bravo") {
		t.Fatalf("reminder must list members with attacks left, got %q", reminder.text)
	}
	if strings.Contains(reminder.text, "Alpha") {
		t.Fatalf("members who used all attacks must not be listed, got %q", reminder.text)
	}

	notice, _ := store.GetWarNotice(ctx, "#CLAN", WarID("#CLAN", "#ENEMY", start))
	if !notice.ReminderSent {
		t.Fatal("reminder flag must be persisted")
	}
	if notice.ReminderMsgID != 1002 {
		t.Fatalf("expected reminder message id 1002, got %d", notice.ReminderMsgID)
	}
}

func TestTrackerReminderSkippedWhenWindowMissed(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	store := newFakeWarStore()
	messenger := newFakeMessenger()
	clock := newFakeClock(start.Add(time.Hour))
	tracker := NewTracker(store, messenger, clock, 5*time.Hour+30*time.Minute, 6*time.Hour+30*time.Minute, "en")
	ctx := context.Background()

	snapshot := warSnapshot(clash.WarStateInWar, start, end)
	if err := tracker.OnWarSnapshot(ctx, 100, "#CLAN", snapshot); err != nil {
		t.Fatalf("early poll: %v", err)
	}

	// The first poll after the window already closed: no late reminder.
	clock.Set(end.Add(-4 * time.Hour))
	if err := tracker.OnWarSnapshot(ctx, 100, "#CLAN", snapshot); err != nil {
		t.Fatalf("late poll: %v", err)
	}
	if len(messenger.sends) != 1 {
		t.Fatalf("missed window must not produce a late reminder, got %d sends", len(messenger.sends))
	}
}

func TestTrackerReminderFansOutDMs(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	store := newFakeWarStore()
	store.prefs = []*db.NotifyPreference{
		{UserID: 555, ChatID: 100, AllowDM: true},
		{UserID: 777, ChatID: 100, AllowDM: false},
		{UserID: 888, ChatID: 200, AllowDM: true},
	}
	messenger := newFakeMessenger()
	clock := newFakeClock(end.Add(-6 * time.Hour))
	tracker := NewTracker(store, messenger, clock, 5*time.Hour+30*time.Minute, 6*time.Hour+30*time.Minute, "en")
	ctx := context.Background()

	if err := tracker.OnWarSnapshot(ctx, 100, "#CLAN", warSnapshot(clash.WarStateInWar, start, end)); err != nil {
		t.Fatalf("on snapshot: %v", err)
	}

	// Ticker, reminder, and one DM for the single opted-in member.
	if len(messenger.sends) != 3 {
		t.Fatalf("expected 3 sends, got %d", len(messenger.sends))
	}
	if messenger.sends[2].chatID != 555 {
		t.Fatalf("DM must go to the opted-in user, got %d", messenger.sends[2].chatID)
	}
}

func TestTrackerWarEndedCleansUp(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	store := newFakeWarStore()
	messenger := newFakeMessenger()
	clock := newFakeClock(end.Add(-6 * time.Hour))
	tracker := NewTracker(store, messenger, clock, 5*time.Hour+30*time.Minute, 6*time.Hour+30*time.Minute, "en")
	ctx := context.Background()

	inWar := warSnapshot(clash.WarStateInWar, start, end)
	if err := tracker.OnWarSnapshot(ctx, 100, "#CLAN", inWar); err != nil {
		t.Fatalf("in war: %v", err)
	}

	clock.Set(end.Add(time.Minute))
	ended := warSnapshot(clash.WarStateEnded, start, end)
	if err := tracker.OnWarSnapshot(ctx, 100, "#CLAN", ended); err != nil {
		t.Fatalf("war ended: %v", err)
	}

	if len(messenger.deletes) != 2 {
		t.Fatalf("expected ticker and reminder deleted, got %d", len(messenger.deletes))
	}
	notice, _ := store.GetWarNotice(ctx, "#CLAN", WarID("#CLAN", "#ENEMY", start))
	if notice.State != db.WarStateCompleted {
		t.Fatalf("expected completed state, got %q", notice.State)
	}

	// Repeated warEnded and a stale inWar are both no-ops on a completed war.
	if err := tracker.OnWarSnapshot(ctx, 100, "#CLAN", ended); err != nil {
		t.Fatalf("second war ended: %v", err)
	}
	if err := tracker.OnWarSnapshot(ctx, 100, "#CLAN", inWar); err != nil {
		t.Fatalf("stale in war: %v", err)
	}
	if len(messenger.deletes) != 2 {
		t.Fatalf("completed war must not delete again, got %d", len(messenger.deletes))
	}
	if len(messenger.sends) != 2 {
		t.Fatalf("completed war must not send again, got %d", len(messenger.sends))
	}
}

func TestTrackerFollowsClanToNewChat(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	store := newFakeWarStore()
	messenger := newFakeMessenger()
	clock := newFakeClock(start.Add(time.Hour))
	tracker := NewTracker(store, messenger, clock, 0, 0, "en")
	ctx := context.Background()

	snapshot := warSnapshot(clash.WarStateInWar, start, end)
	if err := tracker.OnWarSnapshot(ctx, 100, "#CLAN", snapshot); err != nil {
		t.Fatalf("first chat: %v", err)
	}

	// Re-registered to another chat mid-war: old ticker dropped, fresh one
	// sent where the clan now lives.
	if err := tracker.OnWarSnapshot(ctx, 200, "#CLAN", snapshot); err != nil {
		t.Fatalf("new chat: %v", err)
	}

	if len(messenger.deletes) != 1 || messenger.deletes[0] != 1001 {
		t.Fatalf("stale ticker must be deleted, got deletes %v", messenger.deletes)
	}
	if len(messenger.sends) != 2 {
		t.Fatalf("expected a fresh ticker in the new chat, got %d sends", len(messenger.sends))
	}
	if messenger.sends[1].chatID != 200 {
		t.Fatalf("fresh ticker went to chat %d", messenger.sends[1].chatID)
	}

	notice, _ := store.GetWarNotice(ctx, "#CLAN", WarID("#CLAN", "#ENEMY", start))
	if notice.ChatID != 200 {
		t.Fatalf("notice must follow the clan, got chat %d", notice.ChatID)
	}
	if notice.TickerMessageID != 1002 {
		t.Fatalf("expected new ticker id 1002, got %d", notice.TickerMessageID)
	}
}

func TestTrackerReleasesWarLocks(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	store := newFakeWarStore()
	messenger := newFakeMessenger()
	tracker := NewTracker(store, messenger, newFakeClock(start.Add(time.Hour)), 0, 0, "en")
	ctx := context.Background()

	inWar := warSnapshot(clash.WarStateInWar, start, end)
	for i := 0; i < 3; i++ {
		if err := tracker.OnWarSnapshot(ctx, 100, "#CLAN", inWar); err != nil {
			t.Fatalf("poll %d: %v", i+1, err)
		}
	}
	if err := tracker.OnWarSnapshot(ctx, 100, "#CLAN", warSnapshot(clash.WarStateEnded, start, end)); err != nil {
		t.Fatalf("war ended: %v", err)
	}

	tracker.locksMu.Lock()
	defer tracker.locksMu.Unlock()
	if len(tracker.locks) != 0 {
		t.Fatalf("lock entries must be released after use, %d left", len(tracker.locks))
	}
}

func TestTrackerWarEndedWithoutNoticeIsNoOp(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	store := newFakeWarStore()
	messenger := newFakeMessenger()
	tracker := NewTracker(store, messenger, newFakeClock(end), 0, 0, "en")

	if err := tracker.OnWarSnapshot(context.Background(), 100, "#CLAN", warSnapshot(clash.WarStateEnded, start, end)); err != nil {
		t.Fatalf("untracked war ended: %v", err)
	}
	if len(messenger.deletes) != 0 {
		t.Fatal("nothing to delete for an untracked war")
	}
}

func TestTrackerRejectsMalformedSnapshots(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	tracker := NewTracker(newFakeWarStore(), newFakeMessenger(), newFakeClock(start), 0, 0, "en")
	ctx := context.Background()

	noEnd := warSnapshot(clash.WarStateInWar, start, end)
	noEnd.EndTime = clash.Time{}
	if err := tracker.OnWarSnapshot(ctx, 100, "#CLAN", noEnd); err == nil {
		t.Fatal("missing end time must be rejected")
	}

	noOpponent := warSnapshot(clash.WarStateInWar, start, end)
	noOpponent.Opponent.Tag = ""
	if err := tracker.OnWarSnapshot(ctx, 100, "#CLAN", noOpponent); err == nil {
		t.Fatal("missing opponent tag must be rejected")
	}

	weird := warSnapshot("somethingElse", start, end)
	if err := tracker.OnWarSnapshot(ctx, 100, "#CLAN", weird); err == nil {
		t.Fatal("unknown state must be rejected")
	}

	if err := tracker.OnWarSnapshot(ctx, 100, "#CLAN", warSnapshot(clash.WarStatePreparation, start, end)); err != nil {
		t.Fatalf("preparation is quietly ignored: %v", err)
	}
}

func TestWarIDDeterministic(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := WarID("#CLAN", "#ENEMY", start)
	second := WarID("#CLAN", "#ENEMY", start.In(time.FixedZone("MSK", 3*3600)))
	if first != second {
		t.Fatalf("war id must be timezone independent: %q vs %q", first, second)
	}
	if first == WarID("#CLAN", "#OTHER", start) {
		t.Fatal("different opponents must produce different war ids")
	}
}
