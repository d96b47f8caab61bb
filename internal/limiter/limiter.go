// Package limiter throttles device login attempts per (login, client address).
package limiter

import (
	"context"
	"crypto/sha256"
	"time"
)

// Limiter controls login attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether login is currently allowed and the remaining lock time.
	Allow(ctx context.Context, login string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful login.
	Success(ctx context.Context, login string, ipHash []byte) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, login string, ipHash []byte) (bool, time.Duration, error)
}

// Policy holds the throttling parameters shared by every attempt store.
type Policy struct {
	Window      time.Duration // failures older than this no longer count
	MaxFailures int           // failures within Window that trigger a lock
	LockFor     time.Duration
}

// DefaultPolicy locks a device for 15 minutes after 5 failures in 15 minutes.
var DefaultPolicy = Policy{Window: 15 * time.Minute, MaxFailures: 5, LockFor: 15 * time.Minute}

// Attempts is the stored throttling state of one (login, address) pair.
type Attempts struct {
	Failures     int
	LastFailure  time.Time
	BlockedUntil time.Time
}

// Blocked reports whether a is locked at now and for how long.
func (p Policy) Blocked(a Attempts, now time.Time) (bool, time.Duration) {
	if a.BlockedUntil.After(now) {
		return true, a.BlockedUntil.Sub(now)
	}
	return false, 0
}

// Fail returns the state after one more failure at now.
func (p Policy) Fail(a Attempts, now time.Time) Attempts {
	if a.LastFailure.IsZero() || now.Sub(a.LastFailure) > p.Window {
		a.Failures = 0
	}
	a.Failures++
	a.LastFailure = now
	if p.ShouldLock(a.Failures) {
		a.BlockedUntil = now.Add(p.LockFor)
	}
	return a
}

// ShouldLock reports whether the failure count reaches the lock threshold.
func (p Policy) ShouldLock(failures int) bool {
	return p.MaxFailures > 0 && failures >= p.MaxFailures
}

// HashIP returns a stable hash for an IP string to avoid storing raw addresses.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}
