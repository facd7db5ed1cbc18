package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/clashwatch/cwbot/internal/db"
	"github.com/clashwatch/cwbot/internal/observability"

	log "github.com/sirupsen/logrus"
)

type blockKey struct {
	chatID int64
	userID int64
}

type blockStore interface {
	UpsertBlock(ctx context.Context, block *db.UserBlock) error
	GetBlock(ctx context.Context, chatID, userID int64) (*db.UserBlock, error)
	DeleteBlock(ctx context.Context, chatID, userID int64) error
	ListBlocks(ctx context.Context, chatID int64, activeAt time.Time) ([]*db.UserBlock, error)
	AddViolation(ctx context.Context, violation *db.Violation) error
	CountViolations(ctx context.Context, chatID, userID int64, since time.Time) (int, error)
	ListViolations(ctx context.Context, chatID, userID int64, since time.Time) ([]*db.Violation, error)
}

// Registry is the authoritative view of active blocks: a process-local cache
// in front of the durable store. The store is the source of truth on
// restart; the cache is advisory. Expired rows are treated as absent and
// purged lazily, so no background sweep is needed for correctness.
type Registry struct {
	store        blockStore
	clock        Clock
	violationTTL time.Duration

	cacheMu sync.RWMutex
	cache   map[blockKey]*db.UserBlock
}

func NewRegistry(store blockStore, clock Clock, violationTTL time.Duration) *Registry {
	if violationTTL <= 0 {
		violationTTL = 30 * 24 * time.Hour
	}
	return &Registry{
		store:        store,
		clock:        clock,
		violationTTL: violationTTL,
		cache:        make(map[blockKey]*db.UserBlock),
	}
}

// IsBlocked returns the active block for the pair, or nil when there is
// none. A row whose blocked_until has passed is purged and reported absent.
func (r *Registry) IsBlocked(ctx context.Context, chatID, userID int64) (*db.UserBlock, error) {
	now := r.clock.Now()
	key := blockKey{chatID: chatID, userID: userID}

	r.cacheMu.RLock()
	cached, ok := r.cache[key]
	r.cacheMu.RUnlock()
	if ok {
		if !cached.ExpiredAt(now) {
			return cached, nil
		}
		r.purge(ctx, key)
		return nil, nil
	}

	block, err := r.store.GetBlock(ctx, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("get block: %w", err)
	}
	if block == nil {
		return nil, nil
	}
	if block.ExpiredAt(now) {
		r.purge(ctx, key)
		return nil, nil
	}

	r.cachePut(key, block)
	return block, nil
}

// CreateBlock records a spam violation and installs the escalated block.
// This is the only path that grows the violation history.
func (r *Registry) CreateBlock(ctx context.Context, chatID, userID int64, command string, observedCount int) (*db.UserBlock, error) {
	now := r.clock.Now()
	priorViolations, err := r.store.CountViolations(ctx, chatID, userID, now.Add(-r.violationTTL))
	if err != nil {
		return nil, fmt.Errorf("count violations: %w", err)
	}

	duration := BlockDuration(priorViolations)
	reason := db.BlockReasonSpam
	if priorViolations > 0 {
		reason = db.BlockReasonRepeated
	}

	block := &db.UserBlock{
		UserID:          userID,
		ChatID:          chatID,
		BlockedAt:       now,
		BlockedUntil:    now.Add(duration),
		Reason:          reason,
		ViolationsCount: priorViolations,
	}
	if err := r.store.UpsertBlock(ctx, block); err != nil {
		return nil, fmt.Errorf("upsert block: %w", err)
	}

	if err := r.store.AddViolation(ctx, &db.Violation{
		UserID:        userID,
		ChatID:        chatID,
		Command:       command,
		ViolatedAt:    now,
		CommandCount:  observedCount,
		BlockDuration: int64(duration.Seconds()),
	}); err != nil {
		log.WithField("error", err.Error()).Error("failed to append violation record")
	}

	r.cachePut(blockKey{chatID: chatID, userID: userID}, block)
	observability.RecordBlockCreated(reason)
	return block, nil
}

// ManualBlock installs an admin-issued block. It neither reads nor grows the
// escalation history.
func (r *Registry) ManualBlock(ctx context.Context, chatID, userID int64, duration time.Duration, adminID int64) (*db.UserBlock, error) {
	now := r.clock.Now()
	block := &db.UserBlock{
		UserID:       userID,
		ChatID:       chatID,
		BlockedAt:    now,
		BlockedUntil: now.Add(duration),
		Reason:       db.BlockReasonManual,
		BlockedBy:    &adminID,
	}
	if err := r.store.UpsertBlock(ctx, block); err != nil {
		return nil, fmt.Errorf("upsert manual block: %w", err)
	}
	r.cachePut(blockKey{chatID: chatID, userID: userID}, block)
	observability.RecordBlockCreated(db.BlockReasonManual)
	return block, nil
}

// Unblock removes any block for the pair. Removing a non-existent block is a
// successful no-op; the returned flag only tells whether a live block was
// actually removed, so callers can word their reply.
func (r *Registry) Unblock(ctx context.Context, chatID, userID int64) (bool, error) {
	now := r.clock.Now()
	block, err := r.store.GetBlock(ctx, chatID, userID)
	if err != nil {
		return false, fmt.Errorf("get block: %w", err)
	}
	removed := block != nil && !block.ExpiredAt(now)

	if err := r.store.DeleteBlock(ctx, chatID, userID); err != nil {
		return false, fmt.Errorf("delete block: %w", err)
	}
	r.cacheDelete(blockKey{chatID: chatID, userID: userID})
	return removed, nil
}

func (r *Registry) ListBlocked(ctx context.Context, chatID int64) ([]*db.UserBlock, error) {
	return r.store.ListBlocks(ctx, chatID, r.clock.Now())
}

func (r *Registry) UserStats(ctx context.Context, chatID, userID int64) ([]*db.Violation, error) {
	return r.store.ListViolations(ctx, chatID, userID, r.clock.Now().Add(-r.violationTTL))
}

func (r *Registry) cachePut(key blockKey, block *db.UserBlock) {
	r.cacheMu.Lock()
	r.cache[key] = block
	r.cacheMu.Unlock()
}

func (r *Registry) cacheDelete(key blockKey) {
	r.cacheMu.Lock()
	delete(r.cache, key)
	r.cacheMu.Unlock()
}

func (r *Registry) purge(ctx context.Context, key blockKey) {
	r.cacheDelete(key)
	if err := r.store.DeleteBlock(ctx, key.chatID, key.userID); err != nil {
		log.WithField("error", err.Error()).Error("failed to purge expired block")
	}
}
