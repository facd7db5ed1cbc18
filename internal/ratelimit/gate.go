package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/clashwatch/cwbot/internal/config"
	"github.com/clashwatch/cwbot/internal/db"
	"github.com/clashwatch/cwbot/internal/i18n"
	"github.com/clashwatch/cwbot/internal/observability"

	log "github.com/sirupsen/logrus"
)

// Decision is the gate's verdict for one command invocation. Message is a
// ready-to-send, localized reply and is empty when the command is allowed.
type Decision struct {
	Allowed bool
	Message string
}

// Gate is the single decision point in front of command dispatch. The whole
// check-then-escalate sequence runs under a per-(user,chat) lock, so two
// near-simultaneous spam triggers for the same user cannot double-create a
// block; unrelated users never contend.
type lockRef struct {
	mu   sync.Mutex
	refs int
}

type Gate struct {
	tracker  *WindowTracker
	registry *Registry
	clock    Clock
	ignored  map[string]struct{}

	locksMu sync.Mutex
	locks   map[blockKey]*lockRef
}

func NewGate(cfg config.RateLimit, registry *Registry, clock Clock) *Gate {
	ignored := make(map[string]struct{}, len(cfg.IgnoreCommands))
	for _, command := range cfg.IgnoreCommands {
		ignored[strings.TrimPrefix(command, "/")] = struct{}{}
	}
	return &Gate{
		tracker:  NewWindowTracker(cfg.SpamWindow, cfg.SpamThreshold),
		registry: registry,
		clock:    clock,
		ignored:  ignored,
		locks:    make(map[blockKey]*lockRef),
	}
}

func (g *Gate) Registry() *Registry {
	return g.registry
}

func (g *Gate) Ignored(command string) bool {
	_, ok := g.ignored[strings.TrimPrefix(command, "/")]
	return ok
}

// Check decides whether the command may proceed. A nil gate allows
// everything; a store failure denies with a generic message.
func (g *Gate) Check(ctx context.Context, userID, chatID int64, command, lang string) Decision {
	if g == nil {
		return Decision{Allowed: true}
	}
	if g.Ignored(command) {
		return Decision{Allowed: true}
	}

	unlock := g.lockKey(blockKey{chatID: chatID, userID: userID})
	defer unlock()

	now := g.clock.Now()
	block, err := g.registry.IsBlocked(ctx, chatID, userID)
	if err != nil {
		g.getLogEntry().WithField("error", err.Error()).Error("block lookup failed, denying")
		observability.RecordRateLimitDecision("error")
		return Decision{Message: i18n.Get("Too many requests, please try again later", lang)}
	}
	if block != nil {
		observability.RecordRateLimitDecision("denied_blocked")
		return Decision{Message: blockMessage(block, now, lang)}
	}

	if g.tracker.RecordAndCheck(userID, chatID, command, now) {
		created, err := g.registry.CreateBlock(ctx, chatID, userID, command, g.tracker.threshold)
		if err != nil {
			g.getLogEntry().WithField("error", err.Error()).Error("failed to create block, denying")
			observability.RecordRateLimitDecision("error")
			return Decision{Message: i18n.Get("Too many requests, please try again later", lang)}
		}
		g.tracker.Forget(userID)
		observability.RecordRateLimitDecision("denied_spam")
		return Decision{Message: blockMessage(created, now, lang)}
	}

	observability.RecordRateLimitDecision("allowed")
	return Decision{Allowed: true}
}

func blockMessage(block *db.UserBlock, now time.Time, lang string) string {
	remaining := HumanizeDuration(block.BlockedUntil.Sub(now), lang)

	template := "You are blocked for spamming commands. Time left: %s"
	switch block.Reason {
	case db.BlockReasonRepeated:
		template = "You are blocked for repeated violations. Time left: %s"
	case db.BlockReasonManual:
		template = "You are blocked by an administrator. Time left: %s"
	}
	return fmt.Sprintf(i18n.Get(template, lang), remaining)
}

// HumanizeDuration renders the largest whole unit of the duration, e.g.
// "5 minutes" / "5 минут".
func HumanizeDuration(d time.Duration, lang string) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%d %s", int(d.Hours())/24, i18n.Get("days", lang))
	case d >= time.Hour:
		return fmt.Sprintf("%d %s", int(d.Hours()), i18n.Get("hours", lang))
	case d >= time.Minute:
		return fmt.Sprintf("%d %s", int(d.Minutes()), i18n.Get("minutes", lang))
	default:
		return fmt.Sprintf("%d %s", int(d.Seconds()), i18n.Get("seconds", lang))
	}
}

// lockKey serializes callers on the same (user,chat) pair. Entries are
// reference counted and removed once the last holder releases, so the map
// stays bounded by concurrent callers rather than by lifetime traffic.
func (g *Gate) lockKey(key blockKey) func() {
	g.locksMu.Lock()
	ref, ok := g.locks[key]
	if !ok {
		ref = &lockRef{}
		g.locks[key] = ref
	}
	ref.refs++
	g.locksMu.Unlock()

	ref.mu.Lock()
	return func() {
		ref.mu.Unlock()
		g.locksMu.Lock()
		ref.refs--
		if ref.refs == 0 {
			delete(g.locks, key)
		}
		g.locksMu.Unlock()
	}
}

func (g *Gate) getLogEntry() *log.Entry {
	return log.WithField("object", "RateLimitGate")
}
