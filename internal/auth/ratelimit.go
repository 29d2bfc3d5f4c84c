package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// UnlockLimiter throttles password attempts per user id so a local brute
// force has to go through argon2 at a bounded rate anyway, but also gets
// cut off outright after a burst.
type UnlockLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	entries map[string]*limBucket
}

type limBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewUnlockLimiter allows n attempts per window with burst n, forgetting
// idle users after ttl.
func NewUnlockLimiter(n int, window, ttl time.Duration) *UnlockLimiter {
	return &UnlockLimiter{
		limit:   rate.Limit(float64(n) / window.Seconds()),
		burst:   n,
		ttl:     ttl,
		entries: make(map[string]*limBucket),
	}
}

func (m *UnlockLimiter) Allow(userID string) bool {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.entries[userID]
	if b == nil {
		b = &limBucket{lim: rate.NewLimiter(m.limit, m.burst), lastSeen: now}
		m.entries[userID] = b
	}
	b.lastSeen = now

	for k, v := range m.entries {
		if now.Sub(v.lastSeen) > m.ttl {
			delete(m.entries, k)
		}
	}
	return b.lim.Allow()
}

// Reset clears the bucket for a user, called after a successful unlock.
func (m *UnlockLimiter) Reset(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, userID)
}
