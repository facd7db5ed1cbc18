package warnotify

import (
	"context"
	"sync"
	"time"

	"github.com/clashwatch/cwbot/internal/clash"
	"github.com/clashwatch/cwbot/internal/config"
	"github.com/clashwatch/cwbot/internal/db"
	"github.com/clashwatch/cwbot/internal/observability"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const pollConcurrency = 4

type clanSource interface {
	ListClans(ctx context.Context) ([]*db.Clan, error)
}

type warSource interface {
	CurrentWar(ctx context.Context, clanTag string) (*clash.WarSnapshot, error)
}

// Scheduler polls the war state of every registered clan on a fixed
// interval and feeds snapshots to the tracker. One clan's failure never
// aborts the tick for the others.
type Scheduler struct {
	clans        clanSource
	wars         warSource
	tracker      *Tracker
	interval     time.Duration
	fetchTimeout time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler(cfg config.WarNotify, clans clanSource, wars warSource, tracker *Tracker) *Scheduler {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}
	return &Scheduler{
		clans:        clans,
		wars:         wars,
		tracker:      tracker,
		interval:     interval,
		fetchTimeout: fetchTimeout,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	// The reminder window must be wide enough for at least one poll to land
	// inside it.
	windowWidth := s.tracker.reminderMax - s.tracker.reminderMin
	if s.interval >= windowWidth {
		s.getLogEntry().WithFields(log.Fields{
			"poll_interval":   s.interval.String(),
			"reminder_window": windowWidth.String(),
		}).Warn("poll interval does not fit inside the reminder window, reminders may be missed")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.tick(runCtx)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.tick(runCtx)
			}
		}
	}()

	s.started = true
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	entry := s.getLogEntry().WithField("method", "tick")
	defer observability.StartWarPollTick()()

	clans, err := s.clans.ListClans(ctx)
	if err != nil {
		entry.WithField("error", err.Error()).Error("failed to list clans")
		return
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(pollConcurrency)
	for _, clan := range clans {
		g.Go(func() error {
			s.pollClan(groupCtx, clan)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) pollClan(ctx context.Context, clan *db.Clan) {
	entry := s.getLogEntry().WithField("clan_tag", clan.Tag)

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	snapshot, err := s.wars.CurrentWar(fetchCtx, clan.Tag)
	if err != nil {
		entry.WithField("error", err.Error()).Error("failed to fetch current war, skipping clan")
		observability.RecordWarPoll("fetch_error")
		return
	}
	if snapshot == nil {
		observability.RecordWarPoll("no_war")
		return
	}

	if err := s.tracker.OnWarSnapshot(ctx, clan.ChatID, clan.Tag, snapshot); err != nil {
		entry.WithField("error", err.Error()).Error("failed to process war snapshot, skipping clan")
		observability.RecordWarPoll("process_error")
		return
	}
	observability.RecordWarPoll("ok")
}

func (s *Scheduler) getLogEntry() *log.Entry {
	return log.WithField("object", "WarPollScheduler")
}
