package auth

import (
	"sync"
	"time"
)

type lockoutEntry struct {
	failures    int
	lockedUntil time.Time
}

// LockoutTracker counts failed logins per username and locks accounts
// that cross the threshold. State is in memory and lost on restart.
type LockoutTracker struct {
	mu        sync.Mutex
	entries   map[string]*lockoutEntry
	threshold int
	duration  time.Duration
	now       func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewLockoutTracker creates a tracker. A threshold <= 0 disables lockout.
func NewLockoutTracker(threshold int, duration time.Duration) *LockoutTracker {
	t := &LockoutTracker{
		entries:   make(map[string]*lockoutEntry),
		threshold: threshold,
		duration:  duration,
		now:       time.Now,
		stop:      make(chan struct{}),
	}
	go t.cleanupLoop()
	return t
}

// RecordFailure records a failed attempt and reports whether key is now locked.
func (t *LockoutTracker) RecordFailure(key string) bool {
	if t.threshold <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	e, ok := t.entries[key]
	if !ok {
		e = &lockoutEntry{}
		t.entries[key] = e
	}
	if now.Before(e.lockedUntil) {
		return true
	}
	if !e.lockedUntil.IsZero() {
		// Previous lock expired; start a fresh count.
		*e = lockoutEntry{}
	}

	e.failures++
	if e.failures >= t.threshold {
		e.lockedUntil = now.Add(t.duration)
		return true
	}
	return false
}

// Remaining returns how long key stays locked, or zero.
func (t *LockoutTracker) Remaining(key string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return 0
	}
	if d := e.lockedUntil.Sub(t.now()); d > 0 {
		return d
	}
	return 0
}

// IsLocked returns true if key is currently locked.
func (t *LockoutTracker) IsLocked(key string) bool {
	return t.Remaining(key) > 0
}

// ClearFailures forgets key after a successful login.
func (t *LockoutTracker) ClearFailures(key string) {
	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()
}

// Close stops the cleanup goroutine.
func (t *LockoutTracker) Close() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *LockoutTracker) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.cleanup()
		}
	}
}

// cleanup removes expired locks and stale counters.
func (t *LockoutTracker) cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for key, e := range t.entries {
		if !e.lockedUntil.IsZero() && now.After(e.lockedUntil) {
			delete(t.entries, key)
		}
	}
}
