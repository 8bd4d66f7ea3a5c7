package ratelimit

import (
	"context"
	"sync"
	"time"

	"authority.dev/internal/obs"
)

// Memory is a per-process sliding window log. It is not shared between
// server instances.
type Memory struct {
	policy Policy
	now    func() time.Time

	mu        sync.Mutex
	windows   map[string][]time.Time
	lastSweep time.Time
}

// MemoryOption configures Memory.
type MemoryOption func(*Memory)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) MemoryOption {
	return func(m *Memory) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewMemory constructs an in-process limiter.
func NewMemory(policy Policy, opts ...MemoryOption) *Memory {
	m := &Memory{
		policy:  policy.normalized(),
		now:     time.Now,
		windows: make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lastSweep = m.now()
	return m
}

// Check records an attempt and reports whether it is within the policy.
func (m *Memory) Check(_ context.Context, clientIP, tokenHash string) (Decision, error) {
	now := m.now()
	k := key(clientIP, tokenHash)

	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastSweep) >= m.policy.Window {
		m.sweepLocked(now)
	}

	attempts := prune(m.windows[k], now.Add(-m.policy.Window))
	if len(attempts) >= m.policy.Limit {
		m.windows[k] = attempts
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: attempts[0].Add(m.policy.Window).Sub(now),
		}, nil
	}
	attempts = append(attempts, now)
	m.windows[k] = attempts
	obs.RateLimitEntries.Set(float64(len(m.windows)))
	return Decision{Allowed: true, Remaining: m.policy.Limit - len(attempts)}, nil
}

// Sweep drops windows with no attempts left inside the policy window.
func (m *Memory) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(m.now())
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

func (m *Memory) sweepLocked(now time.Time) {
	cutoff := now.Add(-m.policy.Window)
	for k, attempts := range m.windows {
		attempts = prune(attempts, cutoff)
		if len(attempts) == 0 {
			delete(m.windows, k)
			continue
		}
		m.windows[k] = attempts
	}
	m.lastSweep = now
	obs.RateLimitEntries.Set(float64(len(m.windows)))
}

// prune drops attempts at or before cutoff; attempts are in ascending order.
func prune(attempts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(attempts) && !attempts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return attempts
	}
	return append(attempts[:0:0], attempts[i:]...)
}
