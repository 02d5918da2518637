// Package ratelimit provides in-process request throttling: a sliding-window
// counter for API endpoints and a lockout guard against login brute force.
// State lives in process memory behind small interfaces so a shared external
// counter store can replace it for multi-instance deployments.
package ratelimit

import (
	"sync"
	"time"
)

// Counter is the capability the HTTP middleware consumes: record one hit for
// key and report whether it stays within limit over the window.
type Counter interface {
	Allow(key string, limit int) bool
}

// LockoutGuard is the capability the login handler consumes.
type LockoutGuard interface {
	Locked(key string) bool
	Fail(key string) bool
	Reset(key string)
}

// Limiter is a sliding-window Counter. The window is fixed per limiter; the
// quota is per call so callers can vary it by entitlement.
type Limiter struct {
	mu     sync.Mutex
	window time.Duration
	hits   map[string][]time.Time
	now    func() time.Time
}

// NewLimiter returns a Limiter over the given window.
func NewLimiter(window time.Duration) *Limiter {
	return &Limiter{
		window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records one hit for key and reports whether the hit count within the
// window stays at or below limit. A rejected request is not recorded, so
// hammering a closed window does not extend it.
func (l *Limiter) Allow(key string, limit int) bool {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.hits[key][:0]
	for _, t := range l.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		l.hits[key] = kept
		return false
	}
	l.hits[key] = append(kept, now)
	return true
}

// Guard tracks consecutive failed logins per key (caller address + submitted
// identifier) and locks the key once maxFails failures land inside window.
type Guard struct {
	mu       sync.Mutex
	maxFails int
	window   time.Duration
	lockFor  time.Duration
	entries  map[string]*guardEntry
	now      func() time.Time
}

type guardEntry struct {
	fails       int
	firstFail   time.Time
	lockedUntil time.Time
}

// NewGuard returns a Guard locking a key for lockFor after maxFails failures
// within window.
func NewGuard(maxFails int, window, lockFor time.Duration) *Guard {
	return &Guard{
		maxFails: maxFails,
		window:   window,
		lockFor:  lockFor,
		entries:  make(map[string]*guardEntry),
		now:      time.Now,
	}
}

// Locked reports whether key is currently locked out. While locked every
// attempt is rejected regardless of credential correctness.
func (g *Guard) Locked(key string) bool {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.entries[key]
	return e != nil && e.lockedUntil.After(now)
}

// Fail records one failed attempt and reports whether the key is now locked.
// The counter restarts at 1 when a previous lock has expired or the rolling
// window has elapsed since the first recorded failure.
func (g *Guard) Fail(key string) bool {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.entries[key]
	if e == nil {
		e = &guardEntry{}
		g.entries[key] = e
	}
	lockExpired := !e.lockedUntil.IsZero() && !e.lockedUntil.After(now)
	windowGone := e.fails > 0 && now.Sub(e.firstFail) > g.window
	if lockExpired || windowGone {
		e.fails = 0
		e.lockedUntil = time.Time{}
	}
	if e.fails == 0 {
		e.firstFail = now
	}
	e.fails++
	if e.fails >= g.maxFails {
		e.lockedUntil = now.Add(g.lockFor)
	}
	return e.lockedUntil.After(now)
}

// Reset clears the failure state for key. Called after a successful login.
func (g *Guard) Reset(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, key)
}
