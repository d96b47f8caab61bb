package limiter

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process limiter for single node deployments and tests.
type Memory struct {
	policy Policy
	now    func() time.Time

	mu       sync.Mutex
	attempts map[string]Attempts
}

// NewMemory constructs an in-memory limiter.
func NewMemory(p Policy) *Memory {
	return &Memory{policy: p, now: time.Now, attempts: make(map[string]Attempts)}
}

func memKey(login string, ipHash []byte) string { return login + "\x00" + string(ipHash) }

// Allow reports whether login is currently allowed and the remaining lock time.
func (m *Memory) Allow(_ context.Context, login string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blocked, wait := m.policy.Blocked(m.attempts[memKey(login, ipHash)], m.now())
	return !blocked, wait, nil
}

// Success forgets the pair's failures.
func (m *Memory) Success(_ context.Context, login string, ipHash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attempts, memKey(login, ipHash))
	return nil
}

// Failure records a failed attempt.
func (m *Memory) Failure(_ context.Context, login string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey(login, ipHash)
	now := m.now()
	a := m.policy.Fail(m.attempts[k], now)
	m.attempts[k] = a
	blocked, wait := m.policy.Blocked(a, now)
	return blocked, wait, nil
}
