package ratelimit

import (
	"sync"
	"time"
)

type invocation struct {
	chatID  int64
	command string
	at      time.Time
}

// WindowTracker keeps a sliding log of recent command invocations per user.
// It is purely in-memory; a restart only delays detection, it never blocks
// anyone retroactively.
type WindowTracker struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	byUser    map[int64][]invocation
}

func NewWindowTracker(window time.Duration, threshold int) *WindowTracker {
	if window <= 0 {
		window = 10 * time.Second
	}
	if threshold < 2 {
		threshold = 2
	}
	return &WindowTracker{
		window:    window,
		threshold: threshold,
		byUser:    make(map[int64][]invocation),
	}
}

// RecordAndCheck appends the invocation and reports whether it tips the user
// over the spam threshold for the same chat and command within the window.
func (t *WindowTracker) RecordAndCheck(userID, chatID int64, command string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-t.window)
	entries := t.byUser[userID]
	kept := entries[:0]
	for _, entry := range entries {
		if entry.at.After(cutoff) {
			kept = append(kept, entry)
		}
	}

	matching := 0
	for _, entry := range kept {
		if entry.chatID == chatID && entry.command == command {
			matching++
		}
	}

	kept = append(kept, invocation{chatID: chatID, command: command, at: now})
	t.byUser[userID] = kept

	return matching >= t.threshold-1
}

// Forget drops the user's window, e.g. after a block has been created.
func (t *WindowTracker) Forget(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byUser, userID)
}
